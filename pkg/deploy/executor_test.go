package deploy

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/fde-io/fde/pkg/paths"
	"github.com/fde-io/fde/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func shell(script string) paths.Command {
	return paths.Command{Name: "/bin/sh", Args: []string{"-c", script}}
}

// collector is an Emit that records every event.
type collector struct {
	mu     sync.Mutex
	events []types.Event
}

func (c *collector) emit(ev types.Event) {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
}

func (c *collector) all() []types.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]types.Event, len(c.events))
	copy(out, c.events)
	return out
}

func TestRunSyncSuccess(t *testing.T) {
	stdout, stderr, code, err := RunSync(shell("echo test deployed"))
	require.NoError(t, err)
	assert.Equal(t, "test deployed\n", stdout)
	assert.Empty(t, stderr)
	assert.Zero(t, code)
}

func TestRunSyncFailure(t *testing.T) {
	stdout, stderr, code, err := RunSync(shell("echo out; echo err >&2; exit 3"))
	require.NoError(t, err, "a non-zero exit is a result, not an error")
	assert.Equal(t, "out\n", stdout)
	assert.Equal(t, "err\n", stderr)
	assert.Equal(t, 3, code)
}

func TestRunSyncSpawnFailure(t *testing.T) {
	_, _, code, err := RunSync(paths.Command{Name: "/no/such/binary"})
	assert.Error(t, err)
	assert.Equal(t, -1, code)
}

func TestRunStreamedSuccess(t *testing.T) {
	m := NewManager(nil)
	require.NoError(t, m.Begin("production", time.Now()))

	var c collector
	result := m.RunStreamed("production", shell("echo test deployed"), c.emit)

	require.NotNil(t, result)
	assert.True(t, result.Success)
	assert.Zero(t, result.ExitCode)
	assert.False(t, m.Running("production"))

	events := c.all()
	require.Len(t, events, 2)

	assert.Equal(t, uint64(1), events[0].ID)
	assert.Equal(t, types.EventOutput, events[0].Event)
	var out types.OutputData
	require.NoError(t, json.Unmarshal(events[0].Data, &out))
	assert.Equal(t, types.StreamStdout, out.Type)
	assert.Equal(t, "test deployed\n", out.Data)

	assert.Equal(t, uint64(2), events[1].ID)
	assert.Equal(t, types.EventDone, events[1].Event)
	var done types.DoneData
	require.NoError(t, json.Unmarshal(events[1].Data, &done))
	assert.True(t, done.Success)
	assert.Zero(t, done.ExitCode)
}

func TestRunStreamedFailureCarriesOutput(t *testing.T) {
	m := NewManager(nil)
	require.NoError(t, m.Begin("production", time.Now()))

	var c collector
	result := m.RunStreamed("production", shell("echo building; echo broken >&2; exit 1"), c.emit)

	assert.False(t, result.Success)
	assert.Equal(t, 1, result.ExitCode)

	events := c.all()
	require.NotEmpty(t, events)
	terminal := events[len(events)-1]
	assert.Equal(t, types.EventError, terminal.Event)

	var fail types.ErrorData
	require.NoError(t, json.Unmarshal(terminal.Data, &fail))
	assert.Equal(t, 1, fail.ExitCode)
	assert.Equal(t, "building\n", fail.Stdout)
	assert.Equal(t, "broken\n", fail.Stderr)
}

func TestRunStreamedSpawnFailure(t *testing.T) {
	m := NewManager(nil)
	require.NoError(t, m.Begin("production", time.Now()))

	var c collector
	result := m.RunStreamed("production", paths.Command{Name: "/no/such/binary"}, c.emit)

	assert.False(t, result.Success)
	assert.Equal(t, -1, result.ExitCode)
	assert.False(t, m.Running("production"))

	events := c.all()
	require.Len(t, events, 1)
	assert.Equal(t, types.EventError, events[0].Event)

	var fail types.ErrorData
	require.NoError(t, json.Unmarshal(events[0].Data, &fail))
	assert.NotEmpty(t, fail.Error)
	assert.Equal(t, -1, fail.ExitCode)
}

func TestRunStreamedInterleavedStreams(t *testing.T) {
	m := NewManager(nil)
	require.NoError(t, m.Begin("production", time.Now()))

	var c collector
	result := m.RunStreamed("production", shell("echo a; echo b >&2; echo c"), c.emit)
	require.True(t, result.Success)

	// Event ids are strictly increasing regardless of stream interleaving.
	events := c.all()
	for i := 1; i < len(events); i++ {
		assert.Equal(t, events[i-1].ID+1, events[i].ID)
	}

	stdout, stderr := "", ""
	for _, ev := range events {
		if ev.Event != types.EventOutput {
			continue
		}
		var out types.OutputData
		require.NoError(t, json.Unmarshal(ev.Data, &out))
		switch out.Type {
		case types.StreamStdout:
			stdout += out.Data
		case types.StreamStderr:
			stderr += out.Data
		}
	}
	assert.Equal(t, "a\nc\n", stdout)
	assert.Equal(t, "b\n", stderr)
}
