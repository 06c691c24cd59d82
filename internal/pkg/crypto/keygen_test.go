package crypto

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyGenerator_Format(t *testing.T) {
	g := NewKeyGenerator(nil)
	seen := make(map[string]struct{})
	for i := 0; i < 200; i++ {
		key, err := g.Generate()
		require.NoError(t, err)
		require.Len(t, key, LicenseKeyLength)
		require.True(t, ValidLicenseKey(key), "invalid key %q", key)
		seen[key] = struct{}{}
	}
	assert.Len(t, seen, 200, "expected distinct keys")
}

func TestKeyGenerator_RejectsBiasedBytes(t *testing.T) {
	// 255 is above the unbiased range and must be skipped; 0 maps to 'A', 35 to '9'.
	src := bytes.NewReader(append(bytes.Repeat([]byte{255, 0}, 8), bytes.Repeat([]byte{35}, 16)...))
	g := NewKeyGenerator(src)

	key, err := g.Generate()
	require.NoError(t, err)
	assert.Equal(t, "AAAA-AAAA-9999-9999", key)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("entropy exhausted") }

func TestKeyGenerator_ReaderFailure(t *testing.T) {
	_, err := NewKeyGenerator(failingReader{}).Generate()
	require.Error(t, err)
}

func TestValidLicenseKey(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"ABCD-EFGH-IJKL-MN12", true},
		{"abcd-EFGH-IJKL-MN12", false},
		{"ABCD-EFGH-IJKL", false},
		{"ABCDEEFGHIIJKLMMN12", false},
		{"ABCD_EFGH_IJKL_MN12", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ValidLicenseKey(tt.in), tt.in)
	}
}
