package client

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/fde-io/fde/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeployStreamSuccess(t *testing.T) {
	env, _, _ := startServer(t, "echo test deployed")

	c, err := New(env)
	require.NoError(t, err)

	var mu sync.Mutex
	var lines []string
	outcome, err := c.DeployStream(func(stream, line string) {
		mu.Lock()
		lines = append(lines, stream+":"+line)
		mu.Unlock()
	})
	require.NoError(t, err)
	assert.True(t, outcome.Success)
	assert.Zero(t, outcome.ExitCode)
	assert.Equal(t, []string{"stdout:test deployed\n"}, lines)
}

func TestDeployStreamFailureCarriesOutput(t *testing.T) {
	env, _, _ := startServer(t, "echo building; echo broken >&2; exit 1")

	c, err := New(env)
	require.NoError(t, err)

	outcome, err := c.DeployStream(nil)
	require.NoError(t, err)
	assert.False(t, outcome.Success)
	assert.Equal(t, 1, outcome.ExitCode)
	assert.Equal(t, "building\n", outcome.Stdout)
	assert.Equal(t, "broken\n", outcome.Stderr)
}

func TestDeploySyncSuccess(t *testing.T) {
	env, _, _ := startServer(t, "echo test deployed")

	c, err := New(env)
	require.NoError(t, err)

	resp, err := c.DeploySync()
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, "test deployed\n", resp.Stdout)
}

func TestDeploySyncFailure(t *testing.T) {
	env, _, _ := startServer(t, "exit 2")

	c, err := New(env)
	require.NoError(t, err)

	_, err = c.DeploySync()
	require.Error(t, err)
	apiErr, ok := err.(*APIError)
	require.True(t, ok)
	assert.Equal(t, 500, apiErr.StatusCode)
	assert.Equal(t, "deploy command failed", apiErr.Body.Error)
	assert.Equal(t, 2, apiErr.Body.ExitCode)
}

func TestDeployStreamReconnectBeforeFirstEvent(t *testing.T) {
	// The first stream attempt dies before any event arrives; the retry
	// must still resume (Last-Event-ID: 0) instead of triggering a fresh
	// deploy, which would 409 or re-run the command.
	var mu sync.Mutex
	calls := 0
	var resumeHeader string
	var resumeHeaderSet bool

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		n := calls
		if n > 1 {
			resumeHeader = r.Header.Get("Last-Event-ID")
			resumeHeaderSet = true
		}
		mu.Unlock()

		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		if n == 1 {
			// Accepted, then gone with zero events delivered.
			return
		}
		fmt.Fprint(w, "id: 1\nevent: done\ndata: {\"success\":true,\"exitCode\":0}\n\n")
	}))
	defer srv.Close()

	c, err := New(&types.Environment{Name: "production", ServerURL: srv.URL, Token: testToken})
	require.NoError(t, err)

	outcome, err := c.DeployStream(nil)
	require.NoError(t, err)
	assert.True(t, outcome.Success)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, calls)
	require.True(t, resumeHeaderSet)
	assert.Equal(t, "0", resumeHeader, "retry attaches to the running deploy from event 0")
}

func TestDispatchTerminalEvents(t *testing.T) {
	c := &Client{}

	out := c.dispatch(types.EventDone, `{"success":true,"exitCode":0}`, nil)
	require.NotNil(t, out)
	assert.True(t, out.Success)

	out = c.dispatch(types.EventError, `{"exitCode":3,"stdout":"o","stderr":"e"}`, nil)
	require.NotNil(t, out)
	assert.False(t, out.Success)
	assert.Equal(t, 3, out.ExitCode)
	assert.Equal(t, "o", out.Stdout)
	assert.Equal(t, "e", out.Stderr)

	// Output events are not terminal.
	var got string
	out = c.dispatch(types.EventOutput, `{"type":"stdout","data":"line\n"}`, func(stream, line string) {
		got = stream + ":" + line
	})
	assert.Nil(t, out)
	assert.Equal(t, "stdout:line\n", got)
}
