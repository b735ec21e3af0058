package hitio

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"go.uber.org/multierr"
)

// Output is the <name>.bin / <name>.csv / <name>.toml triple a tool writes
// into a run directory.
type Output struct {
	*EventWriter

	BinPath      string
	MetadataPath string
	SettingsPath string

	bin  *os.File
	meta *os.File
}

// OutputPaths returns the three file paths of output name in dir.
func OutputPaths(dir, name string) (bin, meta, settings string) {
	base := filepath.Join(dir, name)
	return base + ".bin", base + ".csv", base + ".toml"
}

// CreateOutput creates the output files of name in dir, replacing existing
// ones, and writes settings to the .toml sidecar.
func CreateOutput(dir, name string, settings any, relative bool) (_ *Output, err error) {
	o := &Output{}
	o.BinPath, o.MetadataPath, o.SettingsPath = OutputPaths(dir, name)

	defer func() {
		if err != nil {
			err = multierr.Append(err, o.closeFiles())
		}
	}()

	if err := WriteSettings(o.SettingsPath, settings); err != nil {
		return nil, err
	}
	if o.bin, err = os.Create(o.BinPath); err != nil {
		return nil, fmt.Errorf("creating event file: %w", err)
	}
	if o.meta, err = os.Create(o.MetadataPath); err != nil {
		return nil, fmt.Errorf("creating metadata file: %w", err)
	}
	if o.EventWriter, err = NewEventWriter(o.bin, o.meta, relative); err != nil {
		return nil, err
	}
	return o, nil
}

// Close flushes and closes both data files. Every step runs; the errors
// are combined.
func (o *Output) Close() error {
	var err error
	if o.EventWriter != nil {
		err = o.EventWriter.Flush()
	}
	return multierr.Append(err, o.closeFiles())
}

func (o *Output) closeFiles() error {
	var err error
	if o.bin != nil {
		err = multierr.Append(err, o.bin.Close())
		o.bin = nil
	}
	if o.meta != nil {
		err = multierr.Append(err, o.meta.Close())
		o.meta = nil
	}
	return err
}

// WriteSettings encodes v as TOML at path.
func WriteSettings(path string, v any) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating settings file: %w", err)
	}
	defer func() { err = multierr.Append(err, f.Close()) }()

	if err := toml.NewEncoder(f).Encode(v); err != nil {
		return fmt.Errorf("encoding settings: %w", err)
	}
	return nil
}

// ReadSettings decodes the TOML settings file at path into v.
func ReadSettings(path string, v any) error {
	if _, err := toml.DecodeFile(path, v); err != nil {
		return fmt.Errorf("reading settings: %w", err)
	}
	return nil
}
