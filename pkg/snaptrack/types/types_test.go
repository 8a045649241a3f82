package types

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSize(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    int64
		wantErr error
	}{
		{name: "plain bytes", input: "1024", want: 1024},
		{name: "zero bytes", input: "0", want: 0},
		{name: "bytes with B suffix", input: "512B", want: 512},
		{name: "kilobytes", input: "100K", want: 100 * KiB},
		{name: "kilobytes with iB", input: "100KiB", want: 100 * KiB},
		{name: "elevated default", input: "350M", want: 350 * MiB},
		{name: "critical default", input: "450MB", want: 450 * MiB},
		{name: "lowercase", input: "50m", want: 50 * MiB},
		{name: "gigabytes", input: "2GiB", want: 2 * GiB},
		{name: "terabytes", input: "1T", want: TiB},
		{name: "whitespace", input: "  100M  ", want: 100 * MiB},
		{name: "decimal truncated", input: "1.5G", want: 1610612736},

		{name: "empty string", input: "", wantErr: ErrInvalidSize},
		{name: "only whitespace", input: "   ", wantErr: ErrInvalidSize},
		{name: "invalid suffix", input: "100X", wantErr: ErrInvalidSize},
		{name: "negative value", input: "-100M", wantErr: ErrNegativeSize},
		{name: "letters only", input: "abc", wantErr: ErrInvalidSize},
		{name: "suffix only", input: "M", wantErr: ErrInvalidSize},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSize(tt.input)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormatSize(t *testing.T) {
	assert.Equal(t, "0 B", FormatSize(0))
	assert.Equal(t, "1.0 KiB", FormatSize(1024))
	assert.Equal(t, "350 MiB", FormatSize(350*MiB))
	assert.Equal(t, "-1.0 KiB", FormatSize(-1024))
}

func TestFormatMB(t *testing.T) {
	assert.Equal(t, "0.00 MB", FormatMB(0))
	assert.Equal(t, "1.50 MB", FormatMB(MiB+MiB/2))
}

func TestParseAge(t *testing.T) {
	tests := []struct {
		input   string
		want    time.Duration
		wantErr bool
	}{
		{input: "5d", want: 5 * Day},
		{input: "1.5d", want: 36 * time.Hour},
		{input: "24h", want: 24 * time.Hour},
		{input: "90m", want: 90 * time.Minute},
		{input: " 2d ", want: 2 * Day},
		{input: "", wantErr: true},
		{input: "0d", wantErr: true},
		{input: "-1h", wantErr: true},
		{input: "five days", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseAge(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidAge)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormatAge(t *testing.T) {
	assert.Equal(t, "5d", FormatAge(5*Day))
	assert.Equal(t, "1h0m0s", FormatAge(time.Hour))
	assert.Equal(t, "36h0m0s", FormatAge(36*time.Hour))
}

func TestFileEntryHelpers(t *testing.T) {
	entries := []FileEntry{{Path: "a.txt", Size: 10}, {Path: "b/c.txt", Size: 2038}}
	assert.Equal(t, int64(2048), TotalSize(entries))
	assert.Equal(t, "2.0 KiB", FileEntry{Size: 2048}.HumanSize())
}
