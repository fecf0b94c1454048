package deploy

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/fde-io/fde/pkg/log"
	"github.com/fde-io/fde/pkg/storage"
	"github.com/fde-io/fde/pkg/types"
	"github.com/rs/zerolog"
)

// Cooldown is the quiet period after a deploy finishes during which new
// deploys for the same environment are refused. It absorbs duplicate
// triggers from reverse proxies and retry loops.
const Cooldown = 5 * time.Second

// Gate errors returned by Begin.
var (
	ErrRunning  = errors.New("deployment already in progress")
	ErrCooldown = errors.New("deployment cooldown active")
)

// state is the deploy state of one environment. The mutex protects every
// field and is held only around small, non-blocking operations.
type state struct {
	mu         sync.Mutex
	running    bool
	startTime  time.Time
	buffer     []types.Event
	nextID     uint64
	lastResult *types.DeployResult

	// notify is closed and replaced whenever the buffer or the running
	// flag changes; resumed readers wait on it instead of polling.
	notify chan struct{}

	loaded bool // lastResult fetched from the result store
}

// Manager holds the per-environment deploy states. Environments are
// independent: each has its own lock, buffer and cooldown clock.
type Manager struct {
	mu     sync.Mutex
	states map[string]*state

	store  storage.ResultStore // optional
	logger zerolog.Logger
}

// NewManager creates a deploy manager. store may be nil; when present,
// last results are loaded from and persisted to it.
func NewManager(store storage.ResultStore) *Manager {
	return &Manager{
		states: make(map[string]*state),
		store:  store,
		logger: log.WithComponent("deploy"),
	}
}

func (m *Manager) state(env string) *state {
	m.mu.Lock()
	st, ok := m.states[env]
	if !ok {
		st = &state{notify: make(chan struct{})}
		m.states[env] = st
	}
	m.mu.Unlock()

	st.mu.Lock()
	if !st.loaded {
		st.loaded = true
		if m.store != nil {
			if r, err := m.store.GetDeployResult(env); err == nil && r != nil {
				st.lastResult = r
			}
		}
	}
	st.mu.Unlock()
	return st
}

// wake closes the notify channel. Caller holds st.mu.
func (st *state) wake() {
	close(st.notify)
	st.notify = make(chan struct{})
}

// Begin atomically checks the concurrency and cooldown gate and, on
// success, transitions the environment into a fresh running deploy:
// buffer cleared, event ids restarting at 1, last result cleared.
func (m *Manager) Begin(env string, now time.Time) error {
	st := m.state(env)
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.running {
		return ErrRunning
	}
	if st.lastResult != nil && now.Sub(st.lastResult.EndTime) < Cooldown {
		return ErrCooldown
	}

	st.running = true
	st.startTime = now
	st.buffer = nil
	st.nextID = 1
	st.lastResult = nil
	st.wake()
	return nil
}

// Append records an event on the environment's buffer, assigning the
// next id, and wakes waiting readers. The marshalled event is returned
// for immediate emission.
func (m *Manager) Append(env, eventName string, data any) (types.Event, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return types.Event{}, err
	}

	st := m.state(env)
	st.mu.Lock()
	defer st.mu.Unlock()

	ev := types.Event{ID: st.nextID, Event: eventName, Data: payload}
	st.nextID++
	st.buffer = append(st.buffer, ev)
	st.wake()
	return ev, nil
}

// Finish ends the running deploy: running drops to false, the terminal
// result is stored (and persisted), and the transient buffer is cleared.
// The terminal event must already have been appended and emitted.
func (m *Manager) Finish(env string, result *types.DeployResult) {
	st := m.state(env)
	st.mu.Lock()
	st.running = false
	st.lastResult = result
	st.buffer = nil
	st.wake()
	st.mu.Unlock()

	if m.store != nil {
		if err := m.store.PutDeployResult(env, result); err != nil {
			m.logger.Error().Err(err).Str("env", env).Msg("failed to persist deploy result")
		}
	}
}

// Snapshot returns the current status of an environment.
func (m *Manager) Snapshot(env string) types.DeployStatusResponse {
	st := m.state(env)
	st.mu.Lock()
	defer st.mu.Unlock()

	resp := types.DeployStatusResponse{
		Env:           env,
		Running:       st.running,
		BufferedCount: len(st.buffer),
	}
	if st.running {
		t := st.startTime
		resp.StartTime = &t
	}
	if st.lastResult != nil {
		r := *st.lastResult
		resp.LastResult = &r
	}
	return resp
}

// Running reports whether a deploy is in flight for env.
func (m *Manager) Running(env string) bool {
	st := m.state(env)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.running
}

// LastResult returns a copy of the stored terminal result, or nil.
func (m *Manager) LastResult(env string) *types.DeployResult {
	st := m.state(env)
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.lastResult == nil {
		return nil
	}
	r := *st.lastResult
	return &r
}

// EventsAfter returns a copy of the buffered events with id > after, in
// id order.
func (m *Manager) EventsAfter(env string, after uint64) []types.Event {
	st := m.state(env)
	st.mu.Lock()
	defer st.mu.Unlock()

	var out []types.Event
	for _, ev := range st.buffer {
		if ev.ID > after {
			out = append(out, ev)
		}
	}
	return out
}

// Wait returns a channel that is closed the next time the environment's
// deploy state changes. Readers re-check the buffer after each wake.
func (m *Manager) Wait(env string) <-chan struct{} {
	st := m.state(env)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.notify
}
