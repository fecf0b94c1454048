package archive

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
}

func TestExcluded(t *testing.T) {
	patterns := []string{"node_modules", "*.log", "dist/**"}

	assert.True(t, Excluded("node_modules", patterns))
	assert.True(t, Excluded("node_modules/react/index.js", patterns))
	assert.True(t, Excluded("server.log", patterns))
	assert.True(t, Excluded("dist/bundle.js", patterns))

	assert.False(t, Excluded("src/main.go", patterns))
	assert.False(t, Excluded("logs.txt", patterns))
	// Dotfiles are only excluded by explicit patterns.
	assert.False(t, Excluded(".env", patterns))
}

func TestCreateAndExtractRoundTrip(t *testing.T) {
	src := t.TempDir()
	writeTree(t, src, map[string]string{
		"index.html":        "<html></html>",
		"assets/app.js":     "console.log(1)",
		"node_modules/x.js": "skip me",
		"debug.log":         "skip me too",
	})

	zipPath := filepath.Join(t.TempDir(), "out.zip")
	var archived []string
	err := Create(zipPath, src, []string{"node_modules", "*.log"}, func(rel string) {
		archived = append(archived, rel)
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"index.html", "assets/app.js"}, archived)

	dest := t.TempDir()
	require.NoError(t, Extract(zipPath, dest))

	data, err := os.ReadFile(filepath.Join(dest, "index.html"))
	require.NoError(t, err)
	assert.Equal(t, "<html></html>", string(data))

	data, err = os.ReadFile(filepath.Join(dest, "assets", "app.js"))
	require.NoError(t, err)
	assert.Equal(t, "console.log(1)", string(data))

	_, err = os.Stat(filepath.Join(dest, "node_modules"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dest, "debug.log"))
	assert.True(t, os.IsNotExist(err))
}

func TestCountEntries(t *testing.T) {
	src := t.TempDir()
	writeTree(t, src, map[string]string{
		"a.txt":       "a",
		"sub/b.txt":   "b",
		"skip/c.txt":  "c",
		"skipped.log": "d",
	})

	n, err := CountEntries(src, []string{"skip", "*.log"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestExtractRejectsEscapingEntries(t *testing.T) {
	zipPath := filepath.Join(t.TempDir(), "evil.zip")
	out, err := os.Create(zipPath)
	require.NoError(t, err)
	zw := zip.NewWriter(out)
	w, err := zw.Create("../escape.txt")
	require.NoError(t, err)
	_, err = w.Write([]byte("pwned"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, out.Close())

	dest := filepath.Join(t.TempDir(), "dest")
	err = Extract(zipPath, dest)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "escapes target directory")

	_, statErr := os.Stat(filepath.Join(filepath.Dir(dest), "escape.txt"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestWithTempArchiveCleansUp(t *testing.T) {
	src := t.TempDir()
	writeTree(t, src, map[string]string{"f.txt": "content"})

	var seen string
	err := WithTempArchive(src, "prod", nil, nil, func(zipPath string) error {
		seen = zipPath
		_, statErr := os.Stat(zipPath)
		return statErr
	})
	require.NoError(t, err)
	require.NotEmpty(t, seen)

	_, err = os.Stat(seen)
	assert.True(t, os.IsNotExist(err), "temp archive should be removed after consume")
}
