package chunks

import (
	"os"
	"path/filepath"
	"time"

	"github.com/fde-io/fde/pkg/metrics"
)

// sweepInterval is how often stale tasks are scanned for.
const sweepInterval = time.Hour

// StartSweeper launches the background task that removes upload tasks
// untouched for longer than the TTL. Stop with StopSweeper.
func (s *Store) StartSweeper() {
	go func() {
		defer close(s.sweepDone)
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.Sweep(time.Now())
			case <-s.stopSweep:
				return
			}
		}
	}()
}

// StopSweeper stops the background sweeper and waits for it to exit.
func (s *Store) StopSweeper() {
	close(s.stopSweep)
	<-s.sweepDone
}

// Sweep removes every task whose updatedAt is older than the TTL at the
// given reference time. Task directories without metadata fall back to
// directory mtime. The age is re-checked under the task lock so a task
// being written concurrently is skipped.
func (s *Store) Sweep(now time.Time) int {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		s.logger.Error().Err(err).Msg("sweep: failed to read chunk root")
		return 0
	}

	removed := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		uploadID := e.Name()
		if s.sweepTask(uploadID, now) {
			removed++
		}
	}
	if removed > 0 {
		s.logger.Info().Int("removed", removed).Msg("swept stale upload tasks")
	}
	return removed
}

func (s *Store) sweepTask(uploadID string, now time.Time) bool {
	l := s.taskLock(uploadID)
	l.Lock()
	defer l.Unlock()

	var updatedAt time.Time
	meta, err := s.loadMeta(uploadID)
	if err == nil {
		updatedAt = meta.UpdatedAt
	} else {
		info, statErr := os.Stat(filepath.Join(s.root, uploadID))
		if statErr != nil {
			return false
		}
		updatedAt = info.ModTime()
	}

	if now.Sub(updatedAt) < taskTTL {
		return false
	}

	s.removeTaskLocked(uploadID)
	metrics.UploadTasksSwept.Inc()
	s.logger.Info().Str("upload_id", uploadID).Time("updated_at", updatedAt).
		Msg("removed expired upload task")
	return true
}
