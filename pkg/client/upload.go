package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/fde-io/fde/pkg/archive"
	"github.com/fde-io/fde/pkg/checksum"
	"github.com/fde-io/fde/pkg/types"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

const (
	// DefaultChunkSize is the slice size on the wire.
	DefaultChunkSize int64 = 1 << 20

	// DefaultWorkers is the chunk upload pool size.
	DefaultWorkers = 3

	// chunkRetries is how many times one chunk is retried before the
	// whole upload aborts.
	chunkRetries = 3
)

// newChunkBackoff builds the per-chunk retry policy: exponential from
// 1s, capped at 10s, with jitter.
func newChunkBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.Multiplier = 2
	b.MaxInterval = 10 * time.Second
	b.RandomizationFactor = 0.3
	b.MaxElapsedTime = 0
	return backoff.WithMaxRetries(b, chunkRetries)
}

// UploadFile pushes a file through the chunked upload flow and
// completes it. The upload id derives from the file's SHA-256, so
// re-running with identical bytes resumes whatever the server already
// holds. On chunk failure the server-side task is left in place for the
// next attempt.
func (c *Client) UploadFile(path, fileName string, shouldExtract bool) (*types.CompleteResponse, error) {
	sum, err := checksum.FileSHA256(path)
	if err != nil {
		return nil, err
	}
	uploadID := checksum.UploadID(sum)

	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	size := info.Size()

	chunkSize := c.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	totalChunks := int((size + chunkSize - 1) / chunkSize)
	if totalChunks < 1 {
		totalChunks = 1
	}

	var initResp types.InitResponse
	initReq := types.InitRequest{
		UploadID:      uploadID,
		TotalChunks:   totalChunks,
		FileName:      fileName,
		Checksum:      sum,
		ShouldExtract: shouldExtract,
		Env:           c.env.Name,
	}
	if err := c.doJSON(http.MethodPost, "/upload/init", initReq, &initResp, shortTimeout); err != nil {
		return nil, err
	}
	if initResp.IsResume {
		c.logger.Info().Str("upload_id", uploadID).
			Int("already_uploaded", len(initResp.UploadedChunks)).
			Msg("resuming interrupted upload")
	}

	pending := pendingChunks(totalChunks, initResp.UploadedChunks)
	if len(pending) > 0 {
		if err := c.uploadChunks(path, uploadID, chunkSize, size, pending); err != nil {
			// Deliberately no cancel: the task stays for resumption.
			return nil, err
		}
	}

	var completeResp types.CompleteResponse
	completeReq := types.CompleteRequest{
		UploadID:      uploadID,
		FileName:      fileName,
		Checksum:      sum,
		ShouldExtract: shouldExtract,
		Env:           c.env.Name,
	}
	if err := c.doJSON(http.MethodPost, "/upload/complete", completeReq, &completeResp, time.Minute); err != nil {
		return nil, err
	}
	return &completeResp, nil
}

// pendingChunks computes [0..total) minus the uploaded set.
func pendingChunks(total int, uploaded []int) []int {
	have := make(map[int]bool, len(uploaded))
	for _, i := range uploaded {
		have[i] = true
	}
	var pending []int
	for i := 0; i < total; i++ {
		if !have[i] {
			pending = append(pending, i)
		}
	}
	return pending
}

// uploadChunks drains the pending chunk queue with a fixed worker pool.
// The first chunk to exhaust its retries aborts the pool.
func (c *Client) uploadChunks(path, uploadID string, chunkSize, fileSize int64, pending []int) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	workers := c.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}

	var bar *mpb.Bar
	var progress *mpb.Progress
	if c.Progress {
		progress = mpb.New(mpb.WithWidth(64))
		bar = progress.AddBar(int64(len(pending)),
			mpb.PrependDecorators(
				decor.Name("Uploading:", decor.WC{W: 11}),
				decor.CountersNoUnit("%d / %d"),
			),
			mpb.AppendDecorators(decor.Percentage()),
		)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	jobs := make(chan int)
	errCh := make(chan error, workers)
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				if err := c.uploadChunk(ctx, f, uploadID, idx, chunkSize, fileSize); err != nil {
					errCh <- fmt.Errorf("chunk %d failed: %w", idx, err)
					cancel()
					return
				}
				if bar != nil {
					bar.Increment()
				}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, idx := range pending {
			select {
			case jobs <- idx:
			case <-ctx.Done():
				return
			}
		}
	}()

	wg.Wait()
	if progress != nil {
		if bar != nil {
			bar.Abort(false)
		}
		progress.Wait()
	}

	select {
	case err := <-errCh:
		return err
	default:
		return nil
	}
}

// uploadChunk reads the chunk's slice of the file, computes its MD5 and
// posts it, retrying with exponential backoff.
func (c *Client) uploadChunk(ctx context.Context, f *os.File, uploadID string, index int, chunkSize, fileSize int64) error {
	offset := int64(index) * chunkSize
	length := chunkSize
	if offset+length > fileSize {
		length = fileSize - offset
	}
	buf := make([]byte, length)
	if _, err := f.ReadAt(buf, offset); err != nil && err != io.EOF {
		return fmt.Errorf("failed to read chunk: %w", err)
	}
	md5Hex := checksum.MD5(buf)

	op := func() error {
		url := fmt.Sprintf("%s/upload/chunk?uploadId=%s&chunkIndex=%d&env=%s",
			c.url(""), uploadID, index, c.env.Name)
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/octet-stream")
		req.Header.Set("Authorization", c.env.Token)
		req.Header.Set("X-Chunk-MD5", md5Hex)

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusForbidden {
			return backoff.Permanent(responseError(resp))
		}
		if resp.StatusCode != http.StatusOK {
			return responseError(resp)
		}
		return nil
	}
	return backoff.Retry(op, backoff.WithContext(newChunkBackoff(), ctx))
}

// Push sends the environment's local artifact to the server: a
// directory is zipped (honouring excludes) and extracted server-side, a
// single file is uploaded as-is.
func (c *Client) Push() (*types.CompleteResponse, error) {
	info, err := os.Stat(c.env.LocalPath)
	if err != nil {
		return nil, fmt.Errorf("localPath not accessible: %w", err)
	}

	if !info.IsDir() {
		return c.UploadFile(c.env.LocalPath, filepath.Base(c.env.LocalPath), false)
	}

	var resp *types.CompleteResponse
	var onEntry func(string)
	var progress *mpb.Progress
	if c.Progress {
		total, err := archive.CountEntries(c.env.LocalPath, c.env.Exclude)
		if err == nil && total > 0 {
			progress = mpb.New(mpb.WithWidth(64))
			bar := progress.AddBar(int64(total),
				mpb.PrependDecorators(
					decor.Name("Compressing:", decor.WC{W: 13}),
					decor.CountersNoUnit("%d / %d"),
				),
				mpb.AppendDecorators(decor.Percentage()),
			)
			onEntry = func(string) { bar.Increment() }
		}
	}

	err = archive.WithTempArchive(c.env.LocalPath, c.env.Name, c.env.Exclude, onEntry, func(zipPath string) error {
		if progress != nil {
			progress.Wait()
		}
		var upErr error
		resp, upErr = c.UploadFile(zipPath, filepath.Base(zipPath), true)
		return upErr
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}
