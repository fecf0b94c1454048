package types

import (
	"encoding/json"
	"time"
)

// Environment is a fully resolved deployment target. After config loading
// every path field is absolute and Token/ServerURL fallbacks are applied.
type Environment struct {
	Name          string
	ServerURL     string
	Token         string
	LocalPath     string // client side, absolute
	UploadPath    string // server side, absolute
	DeployCommand string
	BuildCommand  string // client side, optional
	Exclude       []string
}

// UploadMeta is the canonical on-disk state of a chunked upload task,
// stored as metadata.json inside the task directory.
type UploadMeta struct {
	UploadID       string    `json:"uploadId"`
	TotalChunks    int       `json:"totalChunks"`
	FileName       string    `json:"fileName"`
	Env            string    `json:"env"`
	ShouldExtract  bool      `json:"shouldExtract"`
	UploadedChunks []int     `json:"uploadedChunks"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// InitRequest starts (or resumes) a chunked upload task.
type InitRequest struct {
	UploadID      string `json:"uploadId"`
	TotalChunks   int    `json:"totalChunks"`
	FileName      string `json:"fileName"`
	Checksum      string `json:"checksum,omitempty"`
	ShouldExtract bool   `json:"shouldExtract"`
	Env           string `json:"env"`
}

// InitResponse reports which chunks the server already holds.
type InitResponse struct {
	UploadedChunks []int `json:"uploadedChunks"`
	TotalChunks    int   `json:"totalChunks"`
	IsResume       bool  `json:"isResume"`
}

// ChunkResponse acknowledges a single chunk write.
type ChunkResponse struct {
	ChunkIndex int `json:"chunkIndex"`
}

// UploadStatusResponse describes a task's progress.
type UploadStatusResponse struct {
	Exists         bool  `json:"exists"`
	UploadedChunks []int `json:"uploadedChunks"`
	TotalChunks    int   `json:"totalChunks,omitempty"`
}

// CompleteRequest finalizes a chunked upload.
type CompleteRequest struct {
	UploadID      string `json:"uploadId"`
	FileName      string `json:"fileName"`
	Checksum      string `json:"checksum,omitempty"`
	ShouldExtract bool   `json:"shouldExtract"`
	Env           string `json:"env"`
}

// CompleteResponse describes the merged, saved (or extracted) artifact.
type CompleteResponse struct {
	Success          bool   `json:"success"`
	FileName         string `json:"fileName"`
	FileSize         int64  `json:"fileSize"`
	ChecksumVerified bool   `json:"checksumVerified"`
	Extracted        bool   `json:"extracted"`
	UploadPath       string `json:"uploadPath"`
}

// CancelResponse acknowledges task removal.
type CancelResponse struct {
	Success bool `json:"success"`
}

// DeployRequest triggers a deploy for an environment.
type DeployRequest struct {
	Env    string `json:"env"`
	Stream bool   `json:"stream,omitempty"`
}

// DeployResult is the terminal outcome of a deploy run. It survives the
// run as "last result" and feeds the cooldown gate.
type DeployResult struct {
	Success   bool      `json:"success"`
	StartTime time.Time `json:"startTime"`
	EndTime   time.Time `json:"endTime"`
	ExitCode  int       `json:"exitCode"`
}

// DeployStatusResponse is returned by GET /deploy/status.
type DeployStatusResponse struct {
	Env           string        `json:"env"`
	Running       bool          `json:"running"`
	StartTime     *time.Time    `json:"startTime,omitempty"`
	BufferedCount int           `json:"bufferedCount"`
	LastResult    *DeployResult `json:"lastResult,omitempty"`
}

// SyncDeployResponse is the body of a non-streamed deploy on exit 0.
type SyncDeployResponse struct {
	Success bool   `json:"success"`
	Stdout  string `json:"stdout"`
	Stderr  string `json:"stderr"`
}

// Event names used on the deploy event stream.
const (
	EventOutput = "output"
	EventDone   = "done"
	EventError  = "error"
)

// Event is a single record on a deploy's output stream. IDs are 1-based
// and strictly increasing within one deploy.
type Event struct {
	ID    uint64          `json:"id"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Output stream kinds carried in OutputData.Type.
const (
	StreamStdout = "stdout"
	StreamStderr = "stderr"
)

// OutputData is the payload of an "output" event.
type OutputData struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

// DoneData is the payload of a "done" event.
type DoneData struct {
	Success  bool `json:"success"`
	ExitCode int  `json:"exitCode"`
}

// ErrorData is the payload of an "error" event. For a failed subprocess
// ExitCode/Stdout/Stderr are set; for machine-level failures Error is set.
type ErrorData struct {
	Error    string `json:"error,omitempty"`
	ExitCode int    `json:"exitCode,omitempty"`
	Stdout   string `json:"stdout,omitempty"`
	Stderr   string `json:"stderr,omitempty"`
}

// VerifyRequest checks env + token validity.
type VerifyRequest struct {
	Env string `json:"env"`
}

// VerifyResponse confirms a valid env/token pair.
type VerifyResponse struct {
	Success bool   `json:"success"`
	Env     string `json:"env"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status    string    `json:"status"`
	Uptime    string    `json:"uptime"`
	Version   string    `json:"version"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorResponse is the uniform JSON error body.
type ErrorResponse struct {
	Error    string `json:"error"`
	Details  string `json:"details,omitempty"`
	Expected string `json:"expected,omitempty"`
	Actual   string `json:"actual,omitempty"`
	Stdout   string `json:"stdout,omitempty"`
	Stderr   string `json:"stderr,omitempty"`
	ExitCode int    `json:"exitCode,omitempty"`
}
