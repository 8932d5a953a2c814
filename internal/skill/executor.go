package skill

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/stagehand-dev/stagehand/internal/app"
)

const (
	defaultTransientThreshold = 10 * time.Second
	defaultTransientBackoff   = 2 * time.Second
	stdoutSnippetLimit        = 2000
)

// ExecutionError carries classified diagnostics for a failed invocation
type ExecutionError struct {
	Diagnostics string
	Duration    time.Duration
	TimedOut    bool
}

func (e *ExecutionError) Error() string {
	if e.TimedOut {
		return fmt.Sprintf("skill timed out after %s", e.Duration.Round(time.Millisecond))
	}
	return fmt.Sprintf("skill execution failed: %s", e.Diagnostics)
}

// Executor spawns one external skill process per stage invocation.
// Every spawn is an isolated process group with a hard deadline, and the
// group is forcibly terminated on every exit path: the executor never
// returns control while a child is still running.
type Executor struct {
	Bin                string
	TransientThreshold time.Duration // Failures faster than this with empty diagnostics retry once
	TransientBackoff   time.Duration
	Log                app.Logger
}

// NewExecutor creates an executor for the given skill binary
func NewExecutor(bin string, log app.Logger) *Executor {
	if log == nil {
		log = app.NopLogger{}
	}
	return &Executor{
		Bin:                bin,
		TransientThreshold: defaultTransientThreshold,
		TransientBackoff:   defaultTransientBackoff,
		Log:                log,
	}
}

// Run invokes the skill for one stage request under the given deadline and
// returns the raw stdout. A fast failure with empty diagnostics gets exactly
// one automatic retry after a fixed backoff; this covers near-instant
// crashes that are not content-related. Everything else surfaces as an
// *ExecutionError.
func (e *Executor) Run(ctx context.Context, req *Request, timeout time.Duration) (string, error) {
	out, execErr := e.runOnce(ctx, req, timeout)
	if execErr == nil {
		return out, nil
	}

	if e.isTransient(execErr) && ctx.Err() == nil {
		e.Log.Warn("skill failed in %s with no diagnostics, retrying once after %s",
			execErr.Duration.Round(time.Millisecond), e.transientBackoff())

		select {
		case <-time.After(e.transientBackoff()):
		case <-ctx.Done():
			return "", execErr
		}

		out, retryErr := e.runOnce(ctx, req, timeout)
		if retryErr == nil {
			return out, nil
		}
		return "", retryErr
	}

	return "", execErr
}

func (e *Executor) isTransient(execErr *ExecutionError) bool {
	if execErr.TimedOut {
		return false
	}
	return execErr.Duration < e.transientThreshold() && execErr.Diagnostics == noDiagnostics
}

func (e *Executor) transientThreshold() time.Duration {
	if e.TransientThreshold > 0 {
		return e.TransientThreshold
	}
	return defaultTransientThreshold
}

func (e *Executor) transientBackoff() time.Duration {
	if e.TransientBackoff > 0 {
		return e.TransientBackoff
	}
	return defaultTransientBackoff
}

const noDiagnostics = "no diagnostics captured"

func (e *Executor) runOnce(ctx context.Context, req *Request, timeout time.Duration) (string, *ExecutionError) {
	input, err := req.Encode()
	if err != nil {
		return "", &ExecutionError{Diagnostics: err.Error()}
	}

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.Command(e.Bin, "--stage", req.Stage, "--item", req.ItemID)
	configureCommandProcess(cmd)
	cmd.Stdin = bytes.NewReader(input)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return "", &ExecutionError{
			Diagnostics: fmt.Sprintf("failed to start skill %s: %v", e.Bin, err),
		}
	}

	// Guaranteed cleanup: whatever path returns below, the process group is
	// dead before Run gives control back to the caller.
	defer terminateCommandProcess(cmd)

	waitDone := make(chan error, 1)
	go func() { waitDone <- cmd.Wait() }()

	var waitErr error
	timedOut := false
	select {
	case waitErr = <-waitDone:
	case <-cctx.Done():
		timedOut = cctx.Err() == context.DeadlineExceeded
		terminateCommandProcess(cmd)
		<-waitDone // reap, never leave a zombie
		waitErr = cctx.Err()
	}
	elapsed := time.Since(start)

	if waitErr != nil {
		return "", &ExecutionError{
			Diagnostics: diagnose(stderr.String(), stdout.String()),
			Duration:    elapsed,
			TimedOut:    timedOut,
		}
	}

	e.Log.Debug("skill %s stage %s completed in %s", e.Bin, req.Stage, elapsed.Round(time.Millisecond))
	return stdout.String(), nil
}

// diagnose builds the diagnostics string with the documented fallback
// chain: error-stream text, then a truncated stdout snippet, then a fixed
// "no diagnostics" marker.
func diagnose(stderrText, stdoutText string) string {
	if s := strings.TrimSpace(stderrText); s != "" {
		return s
	}
	if s := strings.TrimSpace(stdoutText); s != "" {
		if len(s) > stdoutSnippetLimit {
			s = s[:stdoutSnippetLimit] + "... (truncated)"
		}
		return s
	}
	return noDiagnostics
}
