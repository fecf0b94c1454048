package chunks

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fde-io/fde/pkg/checksum"
	"github.com/fde-io/fde/pkg/log"
	"github.com/fde-io/fde/pkg/metrics"
	"github.com/fde-io/fde/pkg/types"
	"github.com/rs/zerolog"
)

const (
	// DefaultRootName is the subfolder under the OS temp directory that
	// holds all staged upload tasks.
	DefaultRootName = "fde-chunks"

	metadataFile = "metadata.json"

	// maxUploadIDLen bounds the opaque upload id accepted from clients.
	maxUploadIDLen = 64

	// taskTTL is how long an untouched task survives before the sweeper
	// removes it.
	taskTTL = 24 * time.Hour
)

// Sentinel errors mapped to HTTP statuses by the handlers.
var (
	ErrNotFound         = errors.New("upload task not found")
	ErrBadUploadID      = errors.New("invalid upload id")
	ErrBadChunkIndex    = errors.New("chunk index out of range")
	ErrIncomplete       = errors.New("incomplete upload")
	ErrMD5Mismatch      = errors.New("chunk MD5 mismatch")
	ErrChecksumMismatch = errors.New("file checksum mismatch")
)

// ChecksumError carries the expected/actual digests for the 400 body.
type ChecksumError struct {
	Expected string
	Actual   string
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("file checksum mismatch: expected %s, got %s", e.Expected, e.Actual)
}

func (e *ChecksumError) Unwrap() error { return ErrChecksumMismatch }

// Store owns the chunk staging root. All task state lives on disk;
// metadata.json is canonical and chunk files are recounted if it is
// missing. The store is safe for concurrent use: a per-task mutex
// serialises writers of one upload, independent uploads do not contend.
type Store struct {
	root   string
	logger zerolog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	stopSweep chan struct{}
	sweepDone chan struct{}
}

// NewStore creates a chunk store rooted at root (empty means the default
// under the OS temp directory).
func NewStore(root string) (*Store, error) {
	if root == "" {
		root = filepath.Join(os.TempDir(), DefaultRootName)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create chunk root: %w", err)
	}
	return &Store{
		root:      root,
		logger:    log.WithComponent("chunks"),
		locks:     make(map[string]*sync.Mutex),
		stopSweep: make(chan struct{}),
		sweepDone: make(chan struct{}),
	}, nil
}

// Root returns the staging root directory.
func (s *Store) Root() string { return s.root }

// taskLock returns the mutex for one upload id, creating it on first use.
func (s *Store) taskLock(uploadID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[uploadID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[uploadID] = l
	}
	return l
}

func (s *Store) dropLock(uploadID string) {
	s.mu.Lock()
	delete(s.locks, uploadID)
	s.mu.Unlock()
}

// ValidateUploadID rejects ids that are empty, too long, or not
// path-safe. Upload ids name directories under the chunk root.
func ValidateUploadID(id string) error {
	if id == "" || len(id) > maxUploadIDLen {
		return ErrBadUploadID
	}
	if strings.ContainsAny(id, "/\\") || strings.Contains(id, "..") {
		return ErrBadUploadID
	}
	for _, r := range id {
		if r < 0x21 || r > 0x7e {
			return ErrBadUploadID
		}
	}
	return nil
}

func (s *Store) taskDir(uploadID string) string {
	return filepath.Join(s.root, uploadID)
}

func chunkName(index int) string {
	return fmt.Sprintf("chunk_%06d", index)
}

// Init creates the task if absent, else loads it. Idempotent for the
// same (uploadId, totalChunks).
func (s *Store) Init(uploadID string, totalChunks int, fileName, env string, shouldExtract bool) (*types.InitResponse, error) {
	if err := ValidateUploadID(uploadID); err != nil {
		return nil, err
	}
	if totalChunks < 1 {
		return nil, fmt.Errorf("%w: totalChunks must be >= 1", ErrBadChunkIndex)
	}

	l := s.taskLock(uploadID)
	l.Lock()
	defer l.Unlock()

	dir := s.taskDir(uploadID)
	meta, err := s.loadMeta(uploadID)
	if err == nil {
		// A task recovered from bare chunk files has no recorded shape;
		// adopt the one from this init.
		if meta.TotalChunks == 0 {
			meta.TotalChunks = totalChunks
			meta.FileName = filepath.Base(fileName)
			meta.Env = env
			meta.ShouldExtract = shouldExtract
		}
		// Resuming counts as activity; otherwise a task resumed near the
		// TTL could be swept before its first chunk write.
		meta.UpdatedAt = time.Now().UTC()
		if err := s.writeMeta(meta); err != nil {
			return nil, err
		}
		s.logger.Info().Str("upload_id", uploadID).
			Ints("uploaded", meta.UploadedChunks).
			Msg("resuming upload task")
		return &types.InitResponse{
			UploadedChunks: meta.UploadedChunks,
			TotalChunks:    meta.TotalChunks,
			IsResume:       true,
		}, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create task directory: %w", err)
	}
	now := time.Now().UTC()
	meta = &types.UploadMeta{
		UploadID:       uploadID,
		TotalChunks:    totalChunks,
		FileName:       filepath.Base(fileName),
		Env:            env,
		ShouldExtract:  shouldExtract,
		UploadedChunks: []int{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.writeMeta(meta); err != nil {
		return nil, err
	}

	metrics.UploadTasksActive.Inc()
	s.logger.Info().Str("upload_id", uploadID).Int("total_chunks", totalChunks).
		Str("file", meta.FileName).Str("env", env).Msg("upload task created")

	return &types.InitResponse{
		UploadedChunks: []int{},
		TotalChunks:    totalChunks,
		IsResume:       false,
	}, nil
}

// WriteChunk verifies the optional MD5, writes chunk_NNNNNN, and records
// the index in the metadata. Re-writing a present index overwrites the
// chunk file and leaves the index set unchanged.
func (s *Store) WriteChunk(uploadID string, index int, body []byte, md5Hex string) error {
	if err := ValidateUploadID(uploadID); err != nil {
		return err
	}

	if md5Hex != "" {
		actual := checksum.MD5(body)
		if !strings.EqualFold(actual, md5Hex) {
			metrics.ChunkMD5Failures.Inc()
			return fmt.Errorf("%w: expected %s, got %s", ErrMD5Mismatch, md5Hex, actual)
		}
	}

	l := s.taskLock(uploadID)
	l.Lock()
	defer l.Unlock()

	meta, err := s.loadMeta(uploadID)
	if err != nil {
		return err
	}
	if index < 0 || index >= meta.TotalChunks {
		return fmt.Errorf("%w: %d not in [0,%d)", ErrBadChunkIndex, index, meta.TotalChunks)
	}

	path := filepath.Join(s.taskDir(uploadID), chunkName(index))
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return fmt.Errorf("failed to write chunk: %w", err)
	}

	if !containsInt(meta.UploadedChunks, index) {
		meta.UploadedChunks = append(meta.UploadedChunks, index)
		sort.Ints(meta.UploadedChunks)
	}
	meta.UpdatedAt = time.Now().UTC()
	if err := s.writeMeta(meta); err != nil {
		return err
	}

	metrics.ChunksReceivedTotal.Inc()
	metrics.ChunkBytesTotal.Add(float64(len(body)))
	s.logger.Debug().Str("upload_id", uploadID).Int("chunk", index).
		Int("size", len(body)).Msg("chunk written")
	return nil
}

// Status reports whether the task exists and which chunks it holds.
func (s *Store) Status(uploadID string) (*types.UploadStatusResponse, error) {
	if err := ValidateUploadID(uploadID); err != nil {
		return nil, err
	}

	l := s.taskLock(uploadID)
	l.Lock()
	defer l.Unlock()

	meta, err := s.loadMeta(uploadID)
	if errors.Is(err, ErrNotFound) {
		return &types.UploadStatusResponse{Exists: false, UploadedChunks: []int{}}, nil
	}
	if err != nil {
		return nil, err
	}
	return &types.UploadStatusResponse{
		Exists:         true,
		UploadedChunks: meta.UploadedChunks,
		TotalChunks:    meta.TotalChunks,
	}, nil
}

// MergeResult is handed to the save/extract stage by Complete.
type MergeResult struct {
	Meta             *types.UploadMeta
	MergedPath       string
	FileSize         int64
	ChecksumVerified bool
}

// Complete merges the chunks in ascending index order, verifies the
// optional SHA-256, and invokes finalize with the merged file. On
// success the task directory is removed. A checksum mismatch destroys
// the task so a corrupted upload cannot be completed twice.
func (s *Store) Complete(uploadID, sha256Hex string, finalize func(res *MergeResult) error) (*MergeResult, error) {
	if err := ValidateUploadID(uploadID); err != nil {
		return nil, err
	}

	l := s.taskLock(uploadID)
	l.Lock()
	defer l.Unlock()

	meta, err := s.loadMeta(uploadID)
	if err != nil {
		return nil, err
	}

	if len(meta.UploadedChunks) != meta.TotalChunks {
		return nil, fmt.Errorf("%w: have %d of %d chunks",
			ErrIncomplete, len(meta.UploadedChunks), meta.TotalChunks)
	}

	dir := s.taskDir(uploadID)
	mergedPath := filepath.Join(dir, "merged")
	size, err := s.merge(dir, meta.TotalChunks, mergedPath)
	if err != nil {
		return nil, err
	}

	res := &MergeResult{Meta: meta, MergedPath: mergedPath, FileSize: size}

	if sha256Hex != "" {
		actual, err := checksum.FileSHA256(mergedPath)
		if err != nil {
			return nil, err
		}
		if !strings.EqualFold(actual, sha256Hex) {
			// Destroy the task; the client has to start over.
			s.removeTaskLocked(uploadID)
			return nil, &ChecksumError{Expected: sha256Hex, Actual: actual}
		}
		res.ChecksumVerified = true
	}

	if finalize != nil {
		if err := finalize(res); err != nil {
			return nil, err
		}
	}

	s.removeTaskLocked(uploadID)
	metrics.UploadsCompletedTotal.Inc()
	s.logger.Info().Str("upload_id", uploadID).Int64("size", size).
		Bool("verified", res.ChecksumVerified).Msg("upload completed")
	return res, nil
}

// merge concatenates chunk files 0..totalChunks-1 into dest.
func (s *Store) merge(dir string, totalChunks int, dest string) (int64, error) {
	out, err := os.Create(dest)
	if err != nil {
		return 0, fmt.Errorf("failed to create merge target: %w", err)
	}
	defer out.Close()

	var total int64
	for i := 0; i < totalChunks; i++ {
		f, err := os.Open(filepath.Join(dir, chunkName(i)))
		if err != nil {
			if os.IsNotExist(err) {
				return 0, fmt.Errorf("%w: chunk %d missing", ErrIncomplete, i)
			}
			return 0, err
		}
		n, err := io.Copy(out, f)
		f.Close()
		if err != nil {
			return 0, fmt.Errorf("failed to merge chunk %d: %w", i, err)
		}
		total += n
	}
	if err := out.Close(); err != nil {
		return 0, err
	}
	return total, nil
}

// Cancel removes the task and its directory.
func (s *Store) Cancel(uploadID string) error {
	if err := ValidateUploadID(uploadID); err != nil {
		return err
	}
	l := s.taskLock(uploadID)
	l.Lock()
	defer l.Unlock()

	if _, err := os.Stat(s.taskDir(uploadID)); os.IsNotExist(err) {
		return ErrNotFound
	}
	s.removeTaskLocked(uploadID)
	s.logger.Info().Str("upload_id", uploadID).Msg("upload task cancelled")
	return nil
}

// removeTaskLocked deletes the task directory. Caller holds the task lock.
func (s *Store) removeTaskLocked(uploadID string) {
	if err := os.RemoveAll(s.taskDir(uploadID)); err != nil {
		s.logger.Error().Err(err).Str("upload_id", uploadID).Msg("failed to remove task directory")
		return
	}
	metrics.UploadTasksActive.Dec()
	s.dropLock(uploadID)
}

// loadMeta reads metadata.json; if the task directory exists without
// metadata, the chunk set is recomputed from the chunk files present.
func (s *Store) loadMeta(uploadID string) (*types.UploadMeta, error) {
	dir := s.taskDir(uploadID)
	data, err := os.ReadFile(filepath.Join(dir, metadataFile))
	if err == nil {
		var meta types.UploadMeta
		if err := json.Unmarshal(data, &meta); err != nil {
			return nil, fmt.Errorf("corrupt metadata for %s: %w", uploadID, err)
		}
		if meta.UploadedChunks == nil {
			meta.UploadedChunks = []int{}
		}
		return &meta, nil
	}
	if !os.IsNotExist(err) {
		return nil, err
	}

	info, statErr := os.Stat(dir)
	if statErr != nil || !info.IsDir() {
		return nil, ErrNotFound
	}

	// Metadata lost but chunks survive: recount them.
	uploaded, err := scanChunks(dir)
	if err != nil {
		return nil, err
	}
	return &types.UploadMeta{
		UploadID:       uploadID,
		UploadedChunks: uploaded,
		CreatedAt:      info.ModTime().UTC(),
		UpdatedAt:      info.ModTime().UTC(),
	}, nil
}

// writeMeta persists metadata atomically: write-to-temp + rename within
// the task directory.
func (s *Store) writeMeta(meta *types.UploadMeta) error {
	dir := s.taskDir(meta.UploadID)
	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	tmp := filepath.Join(dir, metadataFile+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(dir, metadataFile)); err != nil {
		return fmt.Errorf("failed to commit metadata: %w", err)
	}
	return nil
}

func scanChunks(dir string) ([]int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	uploaded := []int{}
	for _, e := range entries {
		var idx int
		if _, err := fmt.Sscanf(e.Name(), "chunk_%06d", &idx); err == nil {
			uploaded = append(uploaded, idx)
		}
	}
	sort.Ints(uploaded)
	return uploaded, nil
}

func containsInt(s []int, v int) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}
