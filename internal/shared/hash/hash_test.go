package hash

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// SHA-256 of "hello world", a fixed reference value.
const helloWorldSum = "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"

func TestSum(t *testing.T) {
	h := Default()

	assert.Equal(t, helloWorldSum, h.Sum([]byte("hello world")))
}

func TestSumReader(t *testing.T) {
	h := Default()

	sum, err := h.SumReader(strings.NewReader("hello world"))
	require.NoError(t, err)
	assert.Equal(t, helloWorldSum, sum)
}

func TestSumFile(t *testing.T) {
	h := Default()
	path := filepath.Join(t.TempDir(), "data.bin")
	require.NoError(t, os.WriteFile(path, []byte("hello world"), 0o600))

	sum, err := h.SumFile(path)
	require.NoError(t, err)
	assert.Equal(t, helloWorldSum, sum)
}

func TestSumFileMissing(t *testing.T) {
	h := Default()

	_, err := h.SumFile(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}
