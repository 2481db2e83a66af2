package bridge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"
)

const (
	// DefaultTimeout bounds a single worker run.
	DefaultTimeout = 60 * time.Second

	// DefaultTerminationGrace is the wait between SIGTERM and SIGKILL.
	DefaultTerminationGrace = 5 * time.Second
)

// Config locates the worker and bounds its runtime.
type Config struct {
	// WorkerPath is the jsoon executable.
	WorkerPath string
	// WorkDir is the worker's working directory (PROJECT_ROOT).
	WorkDir string
	// Timeout bounds each run. Zero disables the deadline.
	Timeout time.Duration
	// TerminationGrace is the wait between SIGTERM and SIGKILL.
	TerminationGrace time.Duration
}

// RunRequest describes one worker process launch.
type RunRequest struct {
	Args []string
	// Stdin is written to the worker when PipeStdin is set. Without
	// PipeStdin the worker's stdin is /dev/null.
	Stdin     string
	PipeStdin bool
}

// RunOutput is what a finished worker left behind.
type RunOutput struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Invoker launches the worker executable and normalizes how it ended.
type Invoker struct {
	path    string
	workDir string
	timeout time.Duration
	grace   time.Duration
}

// NewInvoker creates an Invoker. A zero TerminationGrace falls back to
// DefaultTerminationGrace; a zero Timeout means no deadline.
func NewInvoker(cfg Config) *Invoker {
	grace := cfg.TerminationGrace
	if grace <= 0 {
		grace = DefaultTerminationGrace
	}
	timeout := cfg.Timeout
	if timeout < 0 {
		timeout = 0
	}
	return &Invoker{
		path:    cfg.WorkerPath,
		workDir: cfg.WorkDir,
		timeout: timeout,
		grace:   grace,
	}
}

// Path returns the configured worker executable path.
func (iv *Invoker) Path() string {
	return iv.path
}

// Check fails with KindWorkerNotFound when the worker executable is missing.
func (iv *Invoker) Check() error {
	if strings.TrimSpace(iv.path) == "" {
		return newError(KindWorkerNotFound, nil, "worker binary path is not configured")
	}
	info, err := os.Stat(iv.path)
	if err != nil {
		return newError(KindWorkerNotFound, err, "worker binary not found at %s", iv.path)
	}
	if info.IsDir() {
		return newError(KindWorkerNotFound, nil, "worker binary not found at %s (is a directory)", iv.path)
	}
	return nil
}

// BuildArgs renders the worker command line:
//
//	-f stdout -u <days> -l <limit> [-t <template>] -c <configPath>
func BuildArgs(opts ResolvedOptions, configPath string) []string {
	args := []string{
		"-f", "stdout",
		"-u", strconv.Itoa(opts.UpcomingDays),
		"-l", strconv.Itoa(opts.Limit),
	}
	if opts.Template != "" {
		args = append(args, "-t", opts.Template)
	}
	return append(args, "-c", configPath)
}

// Run starts the worker, feeds stdin if requested and waits for it to exit,
// the deadline to pass, or ctx to be cancelled. The returned RunOutput is
// non-nil whenever the process was started, including on failure.
func (iv *Invoker) Run(ctx context.Context, req RunRequest, logger *slog.Logger) (*RunOutput, error) {
	if err := iv.Check(); err != nil {
		return nil, err
	}

	// Not CommandContext: termination follows SIGTERM -> grace -> SIGKILL.
	cmd := exec.Command(iv.path, req.Args...)
	cmd.Dir = iv.workDir
	cmd.WaitDelay = iv.grace

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	var stdin io.WriteCloser
	if req.PipeStdin {
		pipe, err := cmd.StdinPipe()
		if err != nil {
			return nil, newError(KindSpawn, err, "create worker stdin pipe: %v", err)
		}
		stdin = pipe
	}

	logger.Debug("spawning worker", "path", iv.path, "args", req.Args, "stdin", req.PipeStdin, "timeout", iv.timeout)

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, newError(KindSpawn, err, "start worker: %v", err)
	}

	writeErr := make(chan error, 1)
	if stdin != nil {
		go func() {
			defer stdin.Close()
			_, err := io.WriteString(stdin, req.Stdin)
			writeErr <- err
		}()
	} else {
		writeErr <- nil
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
	}()

	var deadline <-chan time.Time
	if iv.timeout > 0 {
		timer := time.NewTimer(iv.timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	collect := func() *RunOutput {
		out := &RunOutput{
			Stdout:   stdout.String(),
			Stderr:   stderr.String(),
			Duration: time.Since(start),
		}
		if cmd.ProcessState != nil {
			out.ExitCode = cmd.ProcessState.ExitCode()
		}
		return out
	}

	select {
	case <-deadline:
		logger.Warn("worker timed out, sending SIGTERM", "timeout", iv.timeout)
		iv.terminate(cmd, waitErr, logger)
		return collect(), newError(KindTimeout, context.DeadlineExceeded, "worker timed out after %v", iv.timeout)

	case <-ctx.Done():
		logger.Warn("invocation cancelled, sending SIGTERM", "error", ctx.Err())
		iv.terminate(cmd, waitErr, logger)
		return collect(), newError(KindCanceled, ctx.Err(), "worker invocation cancelled: %v", ctx.Err())

	case err := <-waitErr:
		out := collect()
		if err != nil && errors.Is(err, exec.ErrWaitDelay) && cmd.ProcessState != nil && cmd.ProcessState.Success() {
			// Exited 0 but a descendant kept stdout/stderr open past the grace period.
			logger.Warn("worker output pipes still open after exit", "wait_delay", iv.grace)
			err = nil
		}
		if err != nil {
			var exitErr *exec.ExitError
			if !errors.As(err, &exitErr) {
				return out, newError(KindSpawn, err, "wait for worker: %v", err)
			}
			out.ExitCode = exitErr.ExitCode()
			logger.Warn("worker exited with non-zero status", "exit_code", out.ExitCode)

			msg := strings.TrimSpace(out.Stderr)
			if msg == "" {
				msg = fmt.Sprintf("worker exited with code %d", out.ExitCode)
			}
			return out, &Error{Kind: KindExitNonZero, Message: msg, ExitCode: out.ExitCode, Err: err}
		}

		// A zero exit stands even if the worker stopped reading stdin early.
		if werr := <-writeErr; werr != nil {
			logger.Warn("worker exited before consuming stdin", "error", werr, "stdin_bytes", len(req.Stdin))
		}
		return out, nil
	}
}

// terminate sends SIGTERM, waits up to the grace period and then kills.
// It returns once the process has been reaped.
func (iv *Invoker) terminate(cmd *exec.Cmd, waitErr <-chan error, logger *slog.Logger) {
	if cmd.Process != nil {
		if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
			logger.Error("failed to send SIGTERM", "error", err)
		}
	}

	grace := time.NewTimer(iv.grace)
	defer grace.Stop()

	select {
	case <-waitErr:
		logger.Info("worker exited after SIGTERM")
	case <-grace.C:
		logger.Warn("worker did not exit after SIGTERM, sending SIGKILL")
		if cmd.Process != nil {
			if err := cmd.Process.Kill(); err != nil {
				logger.Error("failed to send SIGKILL", "error", err)
			}
		}
		<-waitErr
	}
}
