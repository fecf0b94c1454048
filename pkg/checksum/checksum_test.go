package checksum

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileSHA256(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.bin")
	require.NoError(t, os.WriteFile(path, []byte("hello world"), 0o644))

	sum, err := FileSHA256(path)
	require.NoError(t, err)
	// Well-known digest of "hello world".
	assert.Equal(t, "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9", sum)
}

func TestFileSHA256MissingFile(t *testing.T) {
	_, err := FileSHA256(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}

func TestSHA256MatchesFileSHA256(t *testing.T) {
	data := []byte("same bytes either way")
	path := filepath.Join(t.TempDir(), "data.bin")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	fromFile, err := FileSHA256(path)
	require.NoError(t, err)
	assert.Equal(t, SHA256(data), fromFile)
}

func TestMD5(t *testing.T) {
	assert.Equal(t, "5eb63bbbe01eeed093cb22bb8f5acdc3", MD5([]byte("hello world")))
}

func TestUploadID(t *testing.T) {
	sum := SHA256([]byte("artifact"))
	id := UploadID(sum)

	assert.Len(t, id, 32)
	assert.Equal(t, sum[:32], id)

	// Identical content always derives the same id.
	assert.Equal(t, id, UploadID(SHA256([]byte("artifact"))))

	// Short inputs pass through untouched.
	assert.Equal(t, "abc", UploadID("abc"))
}
