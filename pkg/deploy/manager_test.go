package deploy

import (
	"testing"
	"time"

	"github.com/fde-io/fde/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore is an in-memory ResultStore for tests.
type memStore struct {
	results map[string]*types.DeployResult
}

func newMemStore() *memStore {
	return &memStore{results: make(map[string]*types.DeployResult)}
}

func (m *memStore) PutDeployResult(env string, result *types.DeployResult) error {
	m.results[env] = result
	return nil
}

func (m *memStore) GetDeployResult(env string) (*types.DeployResult, error) {
	return m.results[env], nil
}

func (m *memStore) Close() error { return nil }

func TestBeginRejectsConcurrentDeploy(t *testing.T) {
	m := NewManager(nil)
	now := time.Now()

	require.NoError(t, m.Begin("production", now))
	assert.ErrorIs(t, m.Begin("production", now), ErrRunning)

	// A different environment is independent.
	assert.NoError(t, m.Begin("staging", now))
}

func TestBeginCooldown(t *testing.T) {
	m := NewManager(nil)
	start := time.Now()

	require.NoError(t, m.Begin("production", start))
	end := start.Add(2 * time.Second)
	m.Finish("production", &types.DeployResult{Success: true, StartTime: start, EndTime: end})

	// Inside the window: refused.
	err := m.Begin("production", end.Add(Cooldown-time.Millisecond))
	assert.ErrorIs(t, err, ErrCooldown)

	// At and past the boundary: allowed.
	assert.NoError(t, m.Begin("production", end.Add(Cooldown+time.Millisecond)))
}

func TestEventIDsRestartPerDeploy(t *testing.T) {
	m := NewManager(nil)
	now := time.Now()

	require.NoError(t, m.Begin("production", now))
	ev1, err := m.Append("production", types.EventOutput, types.OutputData{Type: "stdout", Data: "a\n"})
	require.NoError(t, err)
	ev2, err := m.Append("production", types.EventOutput, types.OutputData{Type: "stdout", Data: "b\n"})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), ev1.ID)
	assert.Equal(t, uint64(2), ev2.ID)

	m.Finish("production", &types.DeployResult{Success: true, StartTime: now, EndTime: now})

	require.NoError(t, m.Begin("production", now.Add(Cooldown+time.Second)))
	ev, err := m.Append("production", types.EventOutput, types.OutputData{Type: "stdout", Data: "c\n"})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), ev.ID, "ids restart at 1 for a new deploy")
}

func TestEventsAfter(t *testing.T) {
	m := NewManager(nil)
	require.NoError(t, m.Begin("production", time.Now()))

	for i := 0; i < 5; i++ {
		_, err := m.Append("production", types.EventOutput, types.OutputData{Type: "stdout", Data: "line\n"})
		require.NoError(t, err)
	}

	evs := m.EventsAfter("production", 3)
	require.Len(t, evs, 2)
	assert.Equal(t, uint64(4), evs[0].ID)
	assert.Equal(t, uint64(5), evs[1].ID)

	assert.Empty(t, m.EventsAfter("production", 5))
}

func TestFinishClearsBufferAndRecordsResult(t *testing.T) {
	m := NewManager(nil)
	start := time.Now()
	require.NoError(t, m.Begin("production", start))
	_, err := m.Append("production", types.EventOutput, types.OutputData{Type: "stdout", Data: "x\n"})
	require.NoError(t, err)

	result := &types.DeployResult{Success: false, ExitCode: 2, StartTime: start, EndTime: start.Add(time.Second)}
	m.Finish("production", result)

	assert.False(t, m.Running("production"))
	assert.Empty(t, m.EventsAfter("production", 0), "buffer cleared at finish")

	last := m.LastResult("production")
	require.NotNil(t, last)
	assert.Equal(t, 2, last.ExitCode)

	snap := m.Snapshot("production")
	assert.False(t, snap.Running)
	assert.Zero(t, snap.BufferedCount)
	require.NotNil(t, snap.LastResult)
	assert.False(t, snap.LastResult.Success)
}

func TestLastResultPersistedAndReloaded(t *testing.T) {
	store := newMemStore()
	start := time.Now()

	m := NewManager(store)
	require.NoError(t, m.Begin("production", start))
	m.Finish("production", &types.DeployResult{Success: true, StartTime: start, EndTime: start.Add(time.Second)})

	// A fresh manager over the same store sees the result, so the
	// cooldown gate survives a restart.
	m2 := NewManager(store)
	last := m2.LastResult("production")
	require.NotNil(t, last)
	assert.True(t, last.Success)

	err := m2.Begin("production", start.Add(time.Second+time.Millisecond))
	assert.ErrorIs(t, err, ErrCooldown)
}

func TestWaitWakesOnAppend(t *testing.T) {
	m := NewManager(nil)
	require.NoError(t, m.Begin("production", time.Now()))

	ch := m.Wait("production")
	done := make(chan struct{})
	go func() {
		<-ch
		close(done)
	}()

	_, err := m.Append("production", types.EventOutput, types.OutputData{Type: "stdout", Data: "x\n"})
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("waiter was not woken by append")
	}
}
