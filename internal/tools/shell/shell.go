// Package shell implements the bash builtin. Every command runs through a
// sandbox, never directly on the host.
package shell

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/jkaninda/ideaflow/internal/sandbox"
	"github.com/jkaninda/ideaflow/internal/tools"
)

const maxTimeout = 5 * time.Minute

// Config restricts where commands may run.
type Config struct {
	// Workspace is the root directory a "workdir" parameter is resolved
	// against. Empty disables the parameter; commands run in a temp dir.
	Workspace string
}

// Tool executes shell commands inside a sandbox.
type Tool struct {
	config  Config
	sandbox sandbox.Sandbox
	logger  *slog.Logger
}

var _ tools.Tool = (*Tool)(nil)

func NewTool(cfg Config, sbx sandbox.Sandbox, logger *slog.Logger) *Tool {
	return &Tool{config: cfg, sandbox: sbx, logger: logger}
}

func (t *Tool) Name() string        { return "bash" }
func (t *Tool) Description() string { return "Run a bash command in a sandbox and return its output" }
func (t *Tool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command": map[string]any{"type": "string", "description": "The command to run"},
			"timeout": map[string]any{"type": "string", "description": "Duration such as '10s' or '1m'; overrides the default timeout"},
			"workdir": map[string]any{"type": "string", "description": "Directory relative to the workspace"},
		},
		"required": []any{"command"},
	}
}

// Execute runs the command through the sandbox.
//
// A non-zero exit status is returned as an unsuccessful result, not an error.
func (t *Tool) Execute(ctx context.Context, params map[string]any) (*tools.Result, error) {
	command, err := tools.StringParam(params, "command")
	if err != nil {
		return nil, err
	}

	req := sandbox.ExecutionRequest{
		Command: []string{"bash", "-c", command},
	}
	if raw, ok := params["timeout"].(string); ok && raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid timeout %q: %w", raw, err)
		}
		if d <= 0 || d > maxTimeout {
			return nil, fmt.Errorf("timeout must be between 0 and %s", maxTimeout)
		}
		req.Timeout = d
	}
	if dir, ok := params["workdir"].(string); ok && dir != "" {
		if req.WorkingDir, err = t.workdir(dir); err != nil {
			return nil, err
		}
	}

	t.logger.InfoContext(ctx, "bash executing", slog.String("command", command))

	res, err := t.sandbox.Execute(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("sandbox execution: %w", err)
	}

	output := res.Stdout
	if res.Stderr != "" {
		if output != "" {
			output += "\n"
		}
		output += res.Stderr
	}

	return &tools.Result{
		Output:  tools.TruncateOutput(output, tools.MaxOutputBytes),
		Success: res.ExitCode == 0,
		Metadata: map[string]any{
			"exit_code": res.ExitCode,
			"duration":  res.Duration.String(),
		},
	}, nil
}

// workdir resolves dir inside the workspace and rejects escapes.
func (t *Tool) workdir(dir string) (string, error) {
	if t.config.Workspace == "" {
		return "", fmt.Errorf("workdir is not available: no workspace configured")
	}
	if filepath.IsAbs(dir) {
		return "", fmt.Errorf("workdir must be relative to the workspace")
	}
	root := filepath.Clean(t.config.Workspace)
	full := filepath.Join(root, dir)
	if full != root && !strings.HasPrefix(full, root+string(filepath.Separator)) {
		return "", fmt.Errorf("workdir %q escapes the workspace", dir)
	}
	return full, nil
}
