package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fde-io/fde/pkg/archive"
	"github.com/fde-io/fde/pkg/checksum"
	"github.com/fde-io/fde/pkg/chunks"
	"github.com/fde-io/fde/pkg/deploy"
	"github.com/fde-io/fde/pkg/metrics"
	"github.com/fde-io/fde/pkg/paths"
	"github.com/fde-io/fde/pkg/types"
)

// maxChunkBytes bounds a single chunk body; the client default is 1 MiB.
const maxChunkBytes = 64 << 20

// maxUploadBytes bounds the single-shot multipart upload. Larger files
// go through the chunked flow.
const maxUploadBytes = 64 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, resp types.ErrorResponse) {
	writeJSON(w, status, resp)
}

// authenticate runs the shared validator and writes the error response
// on failure. Returns the resolved environment, or nil.
func (s *Server) authenticate(w http.ResponseWriter, r *http.Request, envName string) *types.Environment {
	v := Validate(envName, r.Header.Get("Authorization"), s.cfg)
	if !v.Valid {
		writeError(w, StatusFor(v.Err), types.ErrorResponse{Error: v.Err})
		return nil
	}
	return v.Env
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("pong"))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, metrics.GetHealth())
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req types.VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, types.ErrorResponse{Error: "invalid JSON body"})
		return
	}
	env := s.authenticate(w, r, req.Env)
	if env == nil {
		return
	}
	writeJSON(w, http.StatusOK, types.VerifyResponse{Success: true, Env: env.Name})
}

// handleUpload is the small-file path: the whole file in one multipart
// request, no chunk staging.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	// Cap the body before parsing: multipart parsing stages the payload
	// to memory or disk, and the env that selects the token is itself a
	// form field, so the size limit is the only guard that runs pre-auth.
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(16 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
			writeError(w, http.StatusRequestEntityTooLarge, types.ErrorResponse{Error: "upload too large"})
			return
		}
		writeError(w, http.StatusBadRequest, types.ErrorResponse{Error: "invalid multipart body"})
		return
	}
	env := s.authenticate(w, r, r.FormValue("env"))
	if env == nil {
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, types.ErrorResponse{Error: "missing file field"})
		return
	}
	defer file.Close()

	tmp, err := os.CreateTemp("", "fde-upload-*")
	if err != nil {
		writeError(w, http.StatusInternalServerError, types.ErrorResponse{Error: "failed to stage upload"})
		return
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	size, err := io.Copy(tmp, file)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, types.ErrorResponse{Error: "failed to stage upload"})
		return
	}

	verified := false
	if expected := r.FormValue("checksum"); expected != "" {
		actual, err := checksum.FileSHA256(tmpPath)
		if err != nil {
			writeError(w, http.StatusInternalServerError, types.ErrorResponse{Error: "failed to hash upload"})
			return
		}
		if actual != expected {
			writeError(w, http.StatusBadRequest, types.ErrorResponse{
				Error:    "file checksum mismatch",
				Expected: expected,
				Actual:   actual,
			})
			return
		}
		verified = true
	}

	shouldExtract, _ := strconv.ParseBool(r.FormValue("shouldExtract"))
	fileName := filepath.Base(header.Filename)
	extracted, err := placeArtifact(tmpPath, fileName, env.UploadPath, shouldExtract)
	if err != nil {
		writeError(w, http.StatusInternalServerError, types.ErrorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, types.CompleteResponse{
		Success:          true,
		FileName:         fileName,
		FileSize:         size,
		ChecksumVerified: verified,
		Extracted:        extracted,
		UploadPath:       env.UploadPath,
	})
}

func (s *Server) handleUploadInit(w http.ResponseWriter, r *http.Request) {
	var req types.InitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, types.ErrorResponse{Error: "invalid JSON body"})
		return
	}
	if s.authenticate(w, r, req.Env) == nil {
		return
	}

	resp, err := s.chunks.Init(req.UploadID, req.TotalChunks, req.FileName, req.Env, req.ShouldExtract)
	if err != nil {
		s.writeChunkError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleUploadChunk(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if s.authenticate(w, r, q.Get("env")) == nil {
		return
	}

	uploadID := q.Get("uploadId")
	indexStr := q.Get("chunkIndex")
	if uploadID == "" || indexStr == "" {
		writeError(w, http.StatusBadRequest, types.ErrorResponse{Error: "missing uploadId or chunkIndex"})
		return
	}
	index, err := strconv.Atoi(indexStr)
	if err != nil {
		writeError(w, http.StatusBadRequest, types.ErrorResponse{Error: "invalid chunkIndex"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxChunkBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, types.ErrorResponse{Error: "failed to read chunk body"})
		return
	}
	if len(body) > maxChunkBytes {
		writeError(w, http.StatusBadRequest, types.ErrorResponse{Error: "chunk too large"})
		return
	}

	if err := s.chunks.WriteChunk(uploadID, index, body, r.Header.Get("X-Chunk-MD5")); err != nil {
		s.writeChunkError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.ChunkResponse{ChunkIndex: index})
}

func (s *Server) handleUploadStatus(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if s.authenticate(w, r, q.Get("env")) == nil {
		return
	}
	uploadID := q.Get("uploadId")
	if uploadID == "" {
		writeError(w, http.StatusBadRequest, types.ErrorResponse{Error: "missing uploadId"})
		return
	}

	resp, err := s.chunks.Status(uploadID)
	if err != nil {
		s.writeChunkError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleUploadComplete(w http.ResponseWriter, r *http.Request) {
	var req types.CompleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, types.ErrorResponse{Error: "invalid JSON body"})
		return
	}
	env := s.authenticate(w, r, req.Env)
	if env == nil {
		return
	}

	fileName := req.FileName
	extracted := false
	res, err := s.chunks.Complete(req.UploadID, req.Checksum, func(res *chunks.MergeResult) error {
		if fileName == "" {
			fileName = res.Meta.FileName
		}
		fileName = filepath.Base(fileName)
		var err error
		extracted, err = placeArtifact(res.MergedPath, fileName, env.UploadPath, req.ShouldExtract)
		return err
	})
	if err != nil {
		s.writeChunkError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, types.CompleteResponse{
		Success:          true,
		FileName:         fileName,
		FileSize:         res.FileSize,
		ChecksumVerified: res.ChecksumVerified,
		Extracted:        extracted,
		UploadPath:       env.UploadPath,
	})
}

func (s *Server) handleUploadCancel(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if s.authenticate(w, r, q.Get("env")) == nil {
		return
	}
	uploadID := q.Get("uploadId")
	if uploadID == "" {
		writeError(w, http.StatusBadRequest, types.ErrorResponse{Error: "missing uploadId"})
		return
	}
	if err := s.chunks.Cancel(uploadID); err != nil {
		s.writeChunkError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.CancelResponse{Success: true})
}

// writeChunkError maps chunk store errors onto the HTTP surface.
func (s *Server) writeChunkError(w http.ResponseWriter, err error) {
	var csErr *chunks.ChecksumError
	switch {
	case errors.As(err, &csErr):
		writeError(w, http.StatusBadRequest, types.ErrorResponse{
			Error:    "file checksum mismatch",
			Expected: csErr.Expected,
			Actual:   csErr.Actual,
		})
	case errors.Is(err, chunks.ErrNotFound):
		writeError(w, http.StatusNotFound, types.ErrorResponse{Error: err.Error()})
	case errors.Is(err, chunks.ErrBadUploadID),
		errors.Is(err, chunks.ErrBadChunkIndex),
		errors.Is(err, chunks.ErrIncomplete),
		errors.Is(err, chunks.ErrMD5Mismatch):
		writeError(w, http.StatusBadRequest, types.ErrorResponse{Error: err.Error()})
	default:
		writeError(w, http.StatusInternalServerError, types.ErrorResponse{Error: err.Error()})
	}
}

// placeArtifact moves a merged or uploaded file into the environment's
// upload path, extracting archives in place when requested.
func placeArtifact(srcPath, fileName, uploadPath string, shouldExtract bool) (bool, error) {
	if err := os.MkdirAll(uploadPath, 0o755); err != nil {
		return false, fmt.Errorf("failed to create upload path: %w", err)
	}
	if shouldExtract {
		if err := archive.Extract(srcPath, uploadPath); err != nil {
			return false, err
		}
		return true, nil
	}

	dest := filepath.Join(uploadPath, fileName)
	if err := os.Rename(srcPath, dest); err == nil {
		return false, nil
	}
	// Rename across filesystems fails; fall back to a copy.
	src, err := os.Open(srcPath)
	if err != nil {
		return false, err
	}
	defer src.Close()
	dst, err := os.Create(dest)
	if err != nil {
		return false, err
	}
	_, err = io.Copy(dst, src)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return false, fmt.Errorf("failed to save %s: %w", fileName, err)
	}
	return false, nil
}

func (s *Server) handleDeploy(w http.ResponseWriter, r *http.Request) {
	var req types.DeployRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, types.ErrorResponse{Error: "invalid JSON body"})
		return
	}
	env := s.authenticate(w, r, req.Env)
	if env == nil {
		return
	}

	cmd := s.cfg.Paths.PrepareDeployCommand(env.DeployCommand, env.UploadPath)

	if !req.Stream {
		s.runSyncDeploy(w, env, cmd)
		return
	}

	lastEventID, hasLastEventID := parseLastEventID(r.Header.Get("Last-Event-ID"))
	if hasLastEventID {
		s.resumeDeployStream(w, r, env.Name, lastEventID)
		return
	}
	s.startDeployStream(w, env.Name, cmd)
}

func (s *Server) runSyncDeploy(w http.ResponseWriter, env *types.Environment, cmd paths.Command) {
	stdout, stderr, exitCode, err := deploy.RunSync(cmd)
	if err != nil {
		writeError(w, http.StatusInternalServerError, types.ErrorResponse{
			Error:  err.Error(),
			Stdout: stdout,
			Stderr: stderr,
		})
		return
	}
	if exitCode != 0 {
		writeError(w, http.StatusInternalServerError, types.ErrorResponse{
			Error:    "deploy command failed",
			Stdout:   stdout,
			Stderr:   stderr,
			ExitCode: exitCode,
		})
		return
	}
	writeJSON(w, http.StatusOK, types.SyncDeployResponse{Success: true, Stdout: stdout, Stderr: stderr})
}

// startDeployStream handles a fresh streamed deploy: gate, transition,
// then run the command in this goroutine, emitting frames as they come.
// The response writer's failures never interrupt the subprocess.
func (s *Server) startDeployStream(w http.ResponseWriter, envName string, cmd paths.Command) {
	if err := s.deploys.Begin(envName, time.Now()); err != nil {
		metrics.DeploysRejected.WithLabelValues(envName).Inc()
		reason := "deployment already in progress"
		if errors.Is(err, deploy.ErrCooldown) {
			reason = fmt.Sprintf("deployment cooldown active: wait %s after the previous deploy", deploy.Cooldown)
		}
		writeError(w, http.StatusConflict, types.ErrorResponse{Error: reason})
		return
	}

	sse := newSSEWriter(w)
	if sse == nil {
		// Streaming is impossible on this connection; the deploy still
		// runs and the client can follow up via /deploy/status.
		s.deploys.RunStreamed(envName, cmd, nil)
		writeError(w, http.StatusInternalServerError, types.ErrorResponse{Error: "streaming unsupported"})
		return
	}
	s.deploys.RunStreamed(envName, cmd, sse.Emit)
}

// resumeDeployStream replays buffered events with id > lastEventID and
// follows the live buffer until the deploy ends. It never mutates the
// deploy state.
func (s *Server) resumeDeployStream(w http.ResponseWriter, r *http.Request, envName string, lastEventID uint64) {
	sse := newSSEWriter(w)
	if sse == nil {
		writeError(w, http.StatusInternalServerError, types.ErrorResponse{Error: "streaming unsupported"})
		return
	}

	if !s.deploys.Running(envName) {
		s.emitSynthesizedTerminal(sse, envName, lastEventID)
		return
	}

	last := lastEventID
	sawTerminal := false
	for {
		for _, ev := range s.deploys.EventsAfter(envName, last) {
			sse.Emit(ev)
			last = ev.ID
			if ev.Event == types.EventDone || ev.Event == types.EventError {
				sawTerminal = true
			}
		}
		if !s.deploys.Running(envName) {
			break
		}
		wake := s.deploys.Wait(envName)
		select {
		case <-wake:
		case <-time.After(100 * time.Millisecond):
		case <-r.Context().Done():
			return
		}
	}

	// Drain whatever arrived between the last read and the finish.
	for _, ev := range s.deploys.EventsAfter(envName, last) {
		sse.Emit(ev)
		last = ev.ID
		if ev.Event == types.EventDone || ev.Event == types.EventError {
			sawTerminal = true
		}
	}

	// Finish clears the buffer, so a reader that raced it reconstructs
	// the terminal event from the stored result.
	if !sawTerminal {
		s.emitSynthesizedTerminal(sse, envName, last)
	}
}

func (s *Server) emitSynthesizedTerminal(sse *sseWriter, envName string, after uint64) {
	result := s.deploys.LastResult(envName)
	if result == nil {
		data, _ := json.Marshal(types.ErrorData{Error: "No deployment in progress"})
		sse.Emit(types.Event{ID: after + 1, Event: types.EventError, Data: data})
		return
	}
	if result.Success {
		data, _ := json.Marshal(types.DoneData{Success: true, ExitCode: result.ExitCode})
		sse.Emit(types.Event{ID: after + 1, Event: types.EventDone, Data: data})
		return
	}
	data, _ := json.Marshal(types.ErrorData{ExitCode: result.ExitCode})
	sse.Emit(types.Event{ID: after + 1, Event: types.EventError, Data: data})
}

func (s *Server) handleDeployStatus(w http.ResponseWriter, r *http.Request) {
	envName := r.URL.Query().Get("env")
	if s.authenticate(w, r, envName) == nil {
		return
	}
	writeJSON(w, http.StatusOK, s.deploys.Snapshot(envName))
}

// parseLastEventID parses the Last-Event-ID header; absent or malformed
// values mean "no resume".
func parseLastEventID(h string) (uint64, bool) {
	if h == "" {
		return 0, false
	}
	id, err := strconv.ParseUint(h, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}
