package client

import (
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/fde-io/fde/pkg/checksum"
	"github.com/fde-io/fde/pkg/chunks"
	"github.com/fde-io/fde/pkg/config"
	"github.com/fde-io/fde/pkg/deploy"
	"github.com/fde-io/fde/pkg/paths"
	"github.com/fde-io/fde/pkg/server"
	"github.com/fde-io/fde/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testToken = "secret-token"

// startServer brings up a real fde server over temp directories and
// returns a client environment pointed at it.
func startServer(t *testing.T, deployCommand string) (*types.Environment, *chunks.Store, string) {
	t.Helper()

	uploadPath := t.TempDir()
	env := &types.Environment{
		Name:          "production",
		Token:         testToken,
		UploadPath:    uploadPath,
		DeployCommand: deployCommand,
	}
	cfg := &config.Config{
		Environments: map[string]*types.Environment{"production": env},
		Paths:        &paths.Context{ConfigDir: t.TempDir()},
	}

	store, err := chunks.NewStore(t.TempDir())
	require.NoError(t, err)

	srv := server.New(cfg, store, deploy.NewManager(nil))
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	clientEnv := &types.Environment{
		Name:      "production",
		ServerURL: ts.URL,
		Token:     testToken,
	}
	return clientEnv, store, uploadPath
}

func TestPendingChunks(t *testing.T) {
	assert.Equal(t, []int{0, 1, 2}, pendingChunks(3, nil))
	assert.Equal(t, []int{1}, pendingChunks(3, []int{0, 2}))
	assert.Empty(t, pendingChunks(2, []int{0, 1}))
}

func TestNewRequiresServerURL(t *testing.T) {
	_, err := New(&types.Environment{Name: "production", Token: testToken})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "serverUrl")
}

func TestUploadFileEndToEnd(t *testing.T) {
	env, _, uploadPath := startServer(t, "true")

	c, err := New(env)
	require.NoError(t, err)
	// Tiny chunks force the multi-chunk path.
	c.ChunkSize = 8

	path := filepath.Join(t.TempDir(), "artifact.bin")
	content := []byte("this payload spans several eight byte chunks")
	require.NoError(t, os.WriteFile(path, content, 0o644))

	resp, err := c.UploadFile(path, "artifact.bin", false)
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.True(t, resp.ChecksumVerified)
	assert.False(t, resp.Extracted)
	assert.Equal(t, int64(len(content)), resp.FileSize)

	saved, err := os.ReadFile(filepath.Join(uploadPath, "artifact.bin"))
	require.NoError(t, err)
	assert.Equal(t, content, saved)
}

func TestUploadFileResumesExistingTask(t *testing.T) {
	env, store, uploadPath := startServer(t, "true")

	path := filepath.Join(t.TempDir(), "artifact.bin")
	content := []byte("0123456789abcdef")
	require.NoError(t, os.WriteFile(path, content, 0o644))

	sum := checksum.SHA256(content)
	uploadID := checksum.UploadID(sum)

	// Seed the server with the first chunk, as if a previous push died.
	_, err := store.Init(uploadID, 2, "artifact.bin", "production", false)
	require.NoError(t, err)
	require.NoError(t, store.WriteChunk(uploadID, 0, content[:8], ""))

	c, err := New(env)
	require.NoError(t, err)
	c.ChunkSize = 8

	resp, err := c.UploadFile(path, "artifact.bin", false)
	require.NoError(t, err)
	assert.True(t, resp.Success)

	saved, err := os.ReadFile(filepath.Join(uploadPath, "artifact.bin"))
	require.NoError(t, err)
	assert.Equal(t, content, saved)
}

func TestPushDirectoryExtractsOnServer(t *testing.T) {
	env, _, uploadPath := startServer(t, "true")

	local := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(local, "index.html"), []byte("<html>v3</html>"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(local, "node_modules"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(local, "node_modules", "x.js"), []byte("skip"), 0o644))

	env.LocalPath = local
	env.Exclude = []string{"node_modules"}

	c, err := New(env)
	require.NoError(t, err)

	resp, err := c.Push()
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.True(t, resp.Extracted)

	saved, err := os.ReadFile(filepath.Join(uploadPath, "index.html"))
	require.NoError(t, err)
	assert.Equal(t, "<html>v3</html>", string(saved))

	_, err = os.Stat(filepath.Join(uploadPath, "node_modules"))
	assert.True(t, os.IsNotExist(err), "excluded paths never reach the server")
}

func TestPushSingleFile(t *testing.T) {
	env, _, uploadPath := startServer(t, "true")

	path := filepath.Join(t.TempDir(), "app.tar.gz")
	require.NoError(t, os.WriteFile(path, []byte("binary blob"), 0o644))
	env.LocalPath = path

	c, err := New(env)
	require.NoError(t, err)

	resp, err := c.Push()
	require.NoError(t, err)
	assert.False(t, resp.Extracted, "single files are stored as-is")

	saved, err := os.ReadFile(filepath.Join(uploadPath, "app.tar.gz"))
	require.NoError(t, err)
	assert.Equal(t, "binary blob", string(saved))
}

func TestVerifyAndStatusRoundTrip(t *testing.T) {
	env, _, _ := startServer(t, "true")

	c, err := New(env)
	require.NoError(t, err)

	require.NoError(t, c.Ping())

	v, err := c.Verify()
	require.NoError(t, err)
	assert.True(t, v.Success)

	h, err := c.Health()
	require.NoError(t, err)
	assert.Equal(t, "ok", h.Status)

	s, err := c.DeployStatus()
	require.NoError(t, err)
	assert.False(t, s.Running)
}

func TestVerifyRejectsBadToken(t *testing.T) {
	env, _, _ := startServer(t, "true")
	env.Token = "wrong"

	c, err := New(env)
	require.NoError(t, err)

	_, err = c.Verify()
	require.Error(t, err)
	apiErr, ok := err.(*APIError)
	require.True(t, ok)
	assert.Equal(t, 403, apiErr.StatusCode)
	assert.Equal(t, "invalid token", apiErr.Body.Error)
}
