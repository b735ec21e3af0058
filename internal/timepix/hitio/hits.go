package hitio

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/banshee-data/timepix.report/internal/timepix"
)

// RecordSize is the encoded size of one hit.
const RecordSize = 16

// HitsFile is the decoded hit stream of a run directory.
const HitsFile = "hits.bin"

// ErrNullHit is returned when an all-zero record appears in a hit stream,
// where it would be mistaken for an event terminator.
var ErrNullHit = errors.New("null hit record")

const bufferSize = 1 << 20

func putHit(b []byte, h timepix.Hit) {
	binary.LittleEndian.PutUint16(b[0:2], h.X)
	binary.LittleEndian.PutUint16(b[2:4], h.Y)
	binary.LittleEndian.PutUint64(b[4:12], h.ToA)
	binary.LittleEndian.PutUint32(b[12:16], h.ToT)
}

func getHit(b []byte) timepix.Hit {
	return timepix.Hit{
		X:   binary.LittleEndian.Uint16(b[0:2]),
		Y:   binary.LittleEndian.Uint16(b[2:4]),
		ToA: binary.LittleEndian.Uint64(b[4:12]),
		ToT: binary.LittleEndian.Uint32(b[12:16]),
	}
}

// readRecord reads one record. A clean end of input is io.EOF; a partial
// record is io.ErrUnexpectedEOF.
func readRecord(r io.Reader, buf []byte) (timepix.Hit, error) {
	if _, err := io.ReadFull(r, buf[:RecordSize]); err != nil {
		return timepix.Hit{}, err
	}
	return getHit(buf), nil
}

// HitReader decodes a hits.bin stream. It implements timepix.HitSource.
type HitReader struct {
	r      *bufio.Reader
	closer io.Closer
	buf    [RecordSize]byte
	n      uint64
}

// NewHitReader reads records from r.
func NewHitReader(r io.Reader) *HitReader {
	hr := &HitReader{r: bufio.NewReaderSize(r, bufferSize)}
	if c, ok := r.(io.Closer); ok {
		hr.closer = c
	}
	return hr
}

// OpenHits opens a hits.bin file.
func OpenHits(path string) (*HitReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening hits: %w", err)
	}
	return NewHitReader(f), nil
}

// Next implements timepix.HitSource.
func (hr *HitReader) Next() (timepix.Hit, error) {
	h, err := readRecord(hr.r, hr.buf[:])
	if err == io.EOF {
		return h, io.EOF
	}
	if err != nil {
		return h, fmt.Errorf("hit record %d: truncated: %w", hr.n, err)
	}
	if h.IsZero() {
		return h, fmt.Errorf("hit record %d: %w", hr.n, ErrNullHit)
	}
	hr.n++
	return h, nil
}

// Count returns the number of hits read so far.
func (hr *HitReader) Count() uint64 { return hr.n }

// Close closes the underlying file, if any.
func (hr *HitReader) Close() error {
	if hr.closer == nil {
		return nil
	}
	return hr.closer.Close()
}

// HitWriter encodes a hits.bin stream.
type HitWriter struct {
	w   *bufio.Writer
	buf [RecordSize]byte
	n   uint64
}

// NewHitWriter writes records to w. Callers must Flush.
func NewHitWriter(w io.Writer) *HitWriter {
	return &HitWriter{w: bufio.NewWriterSize(w, bufferSize)}
}

// Write appends one hit. The all-zero hit cannot be stored.
func (hw *HitWriter) Write(h timepix.Hit) error {
	if h.IsZero() {
		return fmt.Errorf("hit %d: %w", hw.n, ErrNullHit)
	}
	putHit(hw.buf[:], h)
	if _, err := hw.w.Write(hw.buf[:]); err != nil {
		return err
	}
	hw.n++
	return nil
}

// Count returns the number of hits written.
func (hw *HitWriter) Count() uint64 { return hw.n }

// Flush writes buffered records.
func (hw *HitWriter) Flush() error { return hw.w.Flush() }

// WriteHitsFile writes hits to path, replacing any existing file.
func WriteHitsFile(path string, hits []timepix.Hit) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	hw := NewHitWriter(f)
	for _, h := range hits {
		if err := hw.Write(h); err != nil {
			return err
		}
	}
	return hw.Flush()
}
