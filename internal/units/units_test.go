package units

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTicksFromNanos(t *testing.T) {
	tests := []struct {
		name string
		ns   uint64
		want uint64
	}{
		{"zero", 0, 0},
		{"one tick", 2, 1},
		{"5us", 5000, 3200},
		{"truncates", 3, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TicksFromNanos(tt.ns))
		})
	}
}

func TestTicksFromMicros(t *testing.T) {
	assert.Equal(t, uint64(3200), TicksFromMicros(5))
	assert.Equal(t, uint64(640), TicksFromMicros(1))
	assert.Equal(t, uint64(0), TicksFromMicros(-1))
}

func TestNanosFromTicks(t *testing.T) {
	assert.InDelta(t, 5000.0, NanosFromTicks(3200), 1e-9)
	assert.Equal(t, uint64(250), ToTNanos(10))
}

func TestParseCount(t *testing.T) {
	tests := []struct {
		in   string
		want uint64
	}{
		{"", 0},
		{"2500", 2500},
		{"10k", 10000},
		{"10K", 10000},
		{"1.5M", 1500000},
		{"3m", 3000000},
		{"2B", 2000000000},
		{" 7 ", 7},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseCount(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	for _, bad := range []string{"ten", "5x", "-3"} {
		_, err := ParseCount(bad)
		assert.Error(t, err, bad)
	}
}

func TestFormatCount(t *testing.T) {
	assert.Equal(t, "0", FormatCount(0))
	assert.Equal(t, "1,234,567", FormatCount(1234567))
}
