package client

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/fde-io/fde/pkg/types"
)

// streamReconnects bounds how many times a dropped deploy stream is
// re-attached before falling back to polling /deploy/status.
const streamReconnects = 5

// DeployOutcome is the terminal state of a streamed deploy as seen by
// the client.
type DeployOutcome struct {
	Success  bool
	ExitCode int
	// Err carries a machine-level failure message (spawn error, stream
	// lost with no recorded result). Empty for a clean subprocess exit.
	Err string
	// Stdout and Stderr are only populated on failure, from the error
	// event payload.
	Stdout string
	Stderr string
}

// DeploySync triggers a non-streamed deploy and returns its captured
// output. A non-zero exit surfaces as an *APIError whose body carries
// stdout, stderr and the exit code.
func (c *Client) DeploySync() (*types.SyncDeployResponse, error) {
	var out types.SyncDeployResponse
	req := types.DeployRequest{Env: c.env.Name}
	if err := c.doJSON(http.MethodPost, "/deploy", req, &out, 0); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeployStream triggers a streamed deploy and forwards each output line
// to onOutput until the terminal event arrives. A dropped connection is
// re-attached with Last-Event-ID so no lines are lost; if reconnection
// is exhausted the outcome is recovered from /deploy/status.
func (c *Client) DeployStream(onOutput func(stream, line string)) (*DeployOutcome, error) {
	var lastID uint64
	connected := false

	outcome, err := c.consumeStream(false, &lastID, &connected, onOutput)
	if err == nil {
		return outcome, nil
	}
	c.logger.Warn().Err(err).Msg("deploy stream interrupted, reconnecting")

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = time.Second
	policy.Multiplier = 2
	policy.MaxInterval = 10 * time.Second
	policy.MaxElapsedTime = 0
	retry := backoff.WithMaxRetries(policy, streamReconnects)

	for {
		wait := retry.NextBackOff()
		if wait == backoff.Stop {
			break
		}
		time.Sleep(wait)

		// Once a stream has been established the deploy is running
		// server-side, so every retry is a resume, even at id 0 before
		// the first event arrived. A bare retry would trip the fresh-
		// deploy gate, or worse, start the command a second time.
		outcome, err = c.consumeStream(connected, &lastID, &connected, onOutput)
		if err == nil {
			return outcome, nil
		}
		c.logger.Warn().Err(err).Uint64("last_event_id", lastID).
			Msg("deploy stream reconnect failed")
	}

	return c.recoverOutcome()
}

// consumeStream opens (or re-opens) the deploy stream and reads frames
// until a terminal event. With resume set it attaches to the running
// deploy via Last-Event-ID instead of starting a new one; connected is
// set once the server has accepted a stream.
func (c *Client) consumeStream(resume bool, lastID *uint64, connected *bool, onOutput func(stream, line string)) (*DeployOutcome, error) {
	body, err := json.Marshal(types.DeployRequest{Env: c.env.Name, Stream: true})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequest(http.MethodPost, c.url("/deploy"), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Authorization", c.env.Token)
	if resume {
		req.Header.Set("Last-Event-ID", strconv.FormatUint(*lastID, 10))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, responseError(resp)
	}
	*connected = true

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var evName, evData string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if evName != "" {
				if outcome := c.dispatch(evName, evData, onOutput); outcome != nil {
					return outcome, nil
				}
			}
			evName, evData = "", ""
		case len(line) > 4 && line[:4] == "id: ":
			if id, err := strconv.ParseUint(line[4:], 10, 64); err == nil {
				*lastID = id
			}
		case len(line) > 7 && line[:7] == "event: ":
			evName = line[7:]
		case len(line) > 6 && line[:6] == "data: ":
			evData = line[6:]
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("stream read failed: %w", err)
	}
	return nil, fmt.Errorf("stream closed before terminal event")
}

// dispatch handles one complete frame. Terminal events return a
// non-nil outcome.
func (c *Client) dispatch(evName, evData string, onOutput func(stream, line string)) *DeployOutcome {
	switch evName {
	case types.EventOutput:
		var out types.OutputData
		if err := json.Unmarshal([]byte(evData), &out); err == nil && onOutput != nil {
			onOutput(out.Type, out.Data)
		}
		return nil
	case types.EventDone:
		var done types.DoneData
		if err := json.Unmarshal([]byte(evData), &done); err != nil {
			return &DeployOutcome{Err: "unreadable done event"}
		}
		return &DeployOutcome{Success: done.Success, ExitCode: done.ExitCode}
	case types.EventError:
		var fail types.ErrorData
		if err := json.Unmarshal([]byte(evData), &fail); err != nil {
			return &DeployOutcome{Err: "unreadable error event"}
		}
		return &DeployOutcome{
			Success:  false,
			ExitCode: fail.ExitCode,
			Err:      fail.Error,
			Stdout:   fail.Stdout,
			Stderr:   fail.Stderr,
		}
	default:
		return nil
	}
}

// recoverOutcome consults /deploy/status after the stream could not be
// re-attached.
func (c *Client) recoverOutcome() (*DeployOutcome, error) {
	status, err := c.DeployStatus()
	if err != nil {
		return nil, fmt.Errorf("deploy stream lost and status unavailable: %w", err)
	}
	if status.Running {
		return nil, fmt.Errorf("deploy still running on server; stream could not be re-attached")
	}
	if status.LastResult == nil {
		return nil, fmt.Errorf("deploy stream lost and no result recorded")
	}
	return &DeployOutcome{
		Success:  status.LastResult.Success,
		ExitCode: status.LastResult.ExitCode,
	}, nil
}
