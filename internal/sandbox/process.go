package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
	"time"
)

const (
	maxOutputBytes = 1 << 20

	defaultTimeout    = 30 * time.Second
	defaultCPUSeconds = 60
	defaultMemoryMB   = 512
)

// ErrTimeout is returned when a command outlives its timeout.
var ErrTimeout = errors.New("execution timed out")

// ProcessConfig configures the process sandbox.
type ProcessConfig struct {
	DefaultTimeout time.Duration
	DefaultLimits  ResourceLimits
}

// ProcessSandbox executes commands as OS processes in their own process
// group. The whole group is killed on timeout or cancellation, the
// environment is rebuilt from scratch, and output is capped.
type ProcessSandbox struct {
	timeout time.Duration
	limits  ResourceLimits
	logger  *slog.Logger
}

var _ Sandbox = (*ProcessSandbox)(nil)

func NewProcessSandbox(cfg ProcessConfig, logger *slog.Logger) *ProcessSandbox {
	s := &ProcessSandbox{
		timeout: cfg.DefaultTimeout,
		limits:  cfg.DefaultLimits,
		logger:  logger,
	}
	if s.timeout <= 0 {
		s.timeout = defaultTimeout
	}
	if s.limits.MaxCPUSeconds <= 0 {
		s.limits.MaxCPUSeconds = defaultCPUSeconds
	}
	if s.limits.MaxMemoryMB <= 0 {
		s.limits.MaxMemoryMB = defaultMemoryMB
	}
	return s
}

func (s *ProcessSandbox) Execute(ctx context.Context, req ExecutionRequest) (*ExecutionResult, error) {
	if len(req.Command) == 0 {
		return nil, fmt.Errorf("empty command")
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = s.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	tmpDir, err := os.MkdirTemp("", "ideaflow-bash-*")
	if err != nil {
		return nil, fmt.Errorf("creating sandbox temp dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(tmpDir); err != nil {
			s.logger.Warn("removing sandbox temp dir",
				slog.String("dir", tmpDir),
				slog.String("error", err.Error()),
			)
		}
	}()

	limits := s.limitsFor(req.Limits)

	// The command is passed as positional arguments to exec "$@" so it is
	// never interpolated into the limiting shell script.
	script := fmt.Sprintf("ulimit -v %d 2>/dev/null; ulimit -t %d 2>/dev/null; exec \"$@\"",
		limits.MaxMemoryMB*1024, limits.MaxCPUSeconds)
	args := append([]string{"-c", script, "_"}, req.Command...)

	cmd := exec.CommandContext(ctx, "/bin/sh", args...)
	cmd.Dir = tmpDir
	if req.WorkingDir != "" {
		cmd.Dir = req.WorkingDir
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.Env = baseEnv(tmpDir, req.Env)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &cappedWriter{w: &stdout, remaining: maxOutputBytes}
	cmd.Stderr = &cappedWriter{w: &stderr, remaining: maxOutputBytes}

	s.logger.DebugContext(ctx, "sandbox executing",
		slog.Any("command", req.Command),
		slog.String("dir", cmd.Dir),
		slog.Duration("timeout", timeout),
	)

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)

	exitCode := 0
	if runErr != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w after %s", ErrTimeout, timeout)
		}
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			return nil, fmt.Errorf("execution failed: %w", runErr)
		}
		exitCode = exitErr.ExitCode()
	}

	s.logger.DebugContext(ctx, "sandbox execution completed",
		slog.Int("exit_code", exitCode),
		slog.Duration("duration", elapsed),
	)

	return &ExecutionResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: exitCode,
		Duration: elapsed,
	}, nil
}

func (s *ProcessSandbox) limitsFor(req ResourceLimits) ResourceLimits {
	l := s.limits
	if req.MaxCPUSeconds > 0 {
		l.MaxCPUSeconds = req.MaxCPUSeconds
	}
	if req.MaxMemoryMB > 0 {
		l.MaxMemoryMB = req.MaxMemoryMB
	}
	return l
}

// baseEnv never inherits from the host so provider keys cannot leak.
func baseEnv(tmpDir string, extra map[string]string) []string {
	env := []string{
		"PATH=/usr/local/bin:/usr/bin:/bin",
		"HOME=" + tmpDir,
		"TMPDIR=" + tmpDir,
		"LANG=C.UTF-8",
		"TERM=dumb",
	}
	for k, v := range extra {
		env = append(env, k+"="+v)
	}
	return env
}

// cappedWriter drops everything past its byte budget without failing the write.
type cappedWriter struct {
	w         io.Writer
	remaining int
}

func (c *cappedWriter) Write(p []byte) (int, error) {
	n := len(p)
	if c.remaining <= 0 {
		return n, nil
	}
	if len(p) > c.remaining {
		p = p[:c.remaining]
	}
	written, err := c.w.Write(p)
	c.remaining -= written
	if err != nil {
		return written, err
	}
	return n, nil
}
