package deploy

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/fde-io/fde/pkg/metrics"
	"github.com/fde-io/fde/pkg/paths"
	"github.com/fde-io/fde/pkg/types"
)

// scanBufSize bounds a single output line; longer lines are split into
// multiple output events.
const scanBufSize = 256 * 1024

// Emit is called for every event as it is produced. Implementations that
// write to a network peer must swallow their own errors: a dropped
// client never stops the deploy.
type Emit func(ev types.Event)

// RunSync executes a prepared command to completion and returns its
// captured output and exit code. No deploy state machine is engaged.
func RunSync(cmd paths.Command) (stdout, stderr string, exitCode int, err error) {
	c := exec.Command(cmd.Name, cmd.Args...)
	c.Dir = cmd.Dir

	var outBuf, errBuf bytes.Buffer
	c.Stdout = &outBuf
	c.Stderr = &errBuf

	runErr := c.Run()
	stdout = outBuf.String()
	stderr = errBuf.String()

	if runErr == nil {
		return stdout, stderr, 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		return stdout, stderr, exitErr.ExitCode(), nil
	}
	return stdout, stderr, -1, runErr
}

// RunStreamed executes a prepared command for env, pumping stdout and
// stderr line-by-line into the environment's event buffer and to emit.
// The caller must have passed the Begin gate; RunStreamed always ends
// the deploy via Finish and returns the terminal result.
func (m *Manager) RunStreamed(env string, cmd paths.Command, emit Emit) *types.DeployResult {
	start := time.Now()
	metrics.DeploysRunning.Inc()
	defer metrics.DeploysRunning.Dec()

	logger := m.logger.With().Str("env", env).Logger()
	logger.Info().Str("command", cmd.Name).Strs("args", cmd.Args).
		Str("cwd", cmd.Dir).Msg("deploy started")

	c := exec.Command(cmd.Name, cmd.Args...)
	c.Dir = cmd.Dir

	var sinkMu sync.Mutex
	var outAcc, errAcc bytes.Buffer

	record := func(streamType string, acc *bytes.Buffer, line string) {
		// Serialise buffer appends and emission across the two pumps.
		sinkMu.Lock()
		defer sinkMu.Unlock()
		acc.WriteString(line)
		ev, err := m.Append(env, types.EventOutput, types.OutputData{Type: streamType, Data: line})
		if err != nil {
			logger.Error().Err(err).Msg("failed to record output event")
			return
		}
		if emit != nil {
			emit(ev)
		}
	}

	stdoutPipe, err := c.StdoutPipe()
	if err != nil {
		return m.failStart(env, start, emit, err)
	}
	stderrPipe, err := c.StderrPipe()
	if err != nil {
		return m.failStart(env, start, emit, err)
	}

	if err := c.Start(); err != nil {
		return m.failStart(env, start, emit, err)
	}

	var pumps sync.WaitGroup
	pump := func(r io.Reader, streamType string, acc *bytes.Buffer) {
		defer pumps.Done()
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 64*1024), scanBufSize)
		for scanner.Scan() {
			record(streamType, acc, scanner.Text()+"\n")
		}
	}
	pumps.Add(2)
	go pump(stdoutPipe, types.StreamStdout, &outAcc)
	go pump(stderrPipe, types.StreamStderr, &errAcc)

	pumps.Wait()
	waitErr := c.Wait()

	exitCode := 0
	if waitErr != nil {
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}

	end := time.Now()
	result := &types.DeployResult{
		Success:   exitCode == 0,
		StartTime: start,
		EndTime:   end,
		ExitCode:  exitCode,
	}

	var terminal types.Event
	var appendErr error
	if exitCode == 0 {
		terminal, appendErr = m.Append(env, types.EventDone, types.DoneData{Success: true, ExitCode: 0})
	} else {
		terminal, appendErr = m.Append(env, types.EventError, types.ErrorData{
			ExitCode: exitCode,
			Stdout:   outAcc.String(),
			Stderr:   errAcc.String(),
		})
	}
	if appendErr == nil && emit != nil {
		emit(terminal)
	}

	m.Finish(env, result)
	m.observe(env, result, end.Sub(start))
	logger.Info().Int("exit_code", exitCode).Dur("duration", end.Sub(start)).
		Msg("deploy finished")
	return result
}

// failStart ends a deploy whose subprocess never started.
func (m *Manager) failStart(env string, start time.Time, emit Emit, err error) *types.DeployResult {
	m.logger.Error().Err(err).Str("env", env).Msg("failed to start deploy command")

	terminal, appendErr := m.Append(env, types.EventError, types.ErrorData{
		Error:    err.Error(),
		ExitCode: -1,
	})
	if appendErr == nil && emit != nil {
		emit(terminal)
	}

	end := time.Now()
	result := &types.DeployResult{
		Success:   false,
		StartTime: start,
		EndTime:   end,
		ExitCode:  -1,
	}
	m.Finish(env, result)
	m.observe(env, result, end.Sub(start))
	return result
}

func (m *Manager) observe(env string, result *types.DeployResult, d time.Duration) {
	label := "failure"
	if result.Success {
		label = "success"
	}
	metrics.DeploysTotal.WithLabelValues(env, label).Inc()
	metrics.DeployDuration.WithLabelValues(env).Observe(d.Seconds())
}
