// Package sandbox runs the commands of the bash tool as isolated, resource
// limited processes that never inherit the server's environment.
package sandbox

import (
	"context"
	"time"
)

// Sandbox executes commands in an isolated environment.
type Sandbox interface {
	Execute(ctx context.Context, req ExecutionRequest) (*ExecutionResult, error)
}

// ExecutionRequest defines what to run and under what constraints.
type ExecutionRequest struct {
	Command    []string          // Program and arguments.
	WorkingDir string            // Empty runs in a fresh temp dir.
	Env        map[string]string // Added on top of the minimal base environment.
	Timeout    time.Duration     // Zero uses the sandbox default.
	Limits     ResourceLimits    // Zero fields use the sandbox defaults.
}

// ResourceLimits constrains the sandboxed process.
type ResourceLimits struct {
	MaxCPUSeconds int // ulimit -t
	MaxMemoryMB   int // ulimit -v
}

// ExecutionResult captures the outcome of a command. A non-zero exit code is
// a result, not an error.
type ExecutionResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}
