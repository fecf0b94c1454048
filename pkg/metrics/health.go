package metrics

import (
	"sync"
	"time"

	"github.com/fde-io/fde/pkg/types"
)

var health = struct {
	mu        sync.RWMutex
	startTime time.Time
	version   string
}{
	startTime: time.Now(),
}

// SetVersion sets the version string reported by /health.
func SetVersion(version string) {
	health.mu.Lock()
	defer health.mu.Unlock()
	health.version = version
}

// GetHealth returns the current health snapshot.
func GetHealth() types.HealthResponse {
	health.mu.RLock()
	defer health.mu.RUnlock()

	return types.HealthResponse{
		Status:    "ok",
		Uptime:    time.Since(health.startTime).String(),
		Version:   health.version,
		Timestamp: time.Now(),
	}
}
