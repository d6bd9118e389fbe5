package shell

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jkaninda/ideaflow/internal/sandbox"
)

type fakeSandbox struct {
	got    sandbox.ExecutionRequest
	result *sandbox.ExecutionResult
	err    error
}

func (f *fakeSandbox) Execute(_ context.Context, req sandbox.ExecutionRequest) (*sandbox.ExecutionResult, error) {
	f.got = req
	return f.result, f.err
}

func newTool(sbx sandbox.Sandbox) *Tool {
	return NewTool(Config{Workspace: "/srv/ideas"}, sbx, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestExecute(t *testing.T) {
	sbx := &fakeSandbox{result: &sandbox.ExecutionResult{Stdout: "a.md\n", Stderr: "warn", ExitCode: 0, Duration: time.Second}}
	res, err := newTool(sbx).Execute(context.Background(), map[string]any{
		"command": "ls",
		"timeout": "20s",
		"workdir": "notes",
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "a.md\n\nwarn", res.Output)
	assert.Equal(t, []string{"bash", "-c", "ls"}, sbx.got.Command)
	assert.Equal(t, 20*time.Second, sbx.got.Timeout)
	assert.Equal(t, "/srv/ideas/notes", sbx.got.WorkingDir)
}

func TestExecuteNonZeroExit(t *testing.T) {
	sbx := &fakeSandbox{result: &sandbox.ExecutionResult{Stderr: "boom", ExitCode: 2}}
	res, err := newTool(sbx).Execute(context.Background(), map[string]any{"command": "false"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, 2, res.Metadata["exit_code"])
}

func TestExecuteRejects(t *testing.T) {
	tests := map[string]map[string]any{
		"no command":   {},
		"bad timeout":  {"command": "ls", "timeout": "soon"},
		"long timeout": {"command": "ls", "timeout": "1h"},
		"absolute dir": {"command": "ls", "workdir": "/etc"},
		"escaping dir": {"command": "ls", "workdir": "../../etc"},
	}
	for name, params := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := newTool(&fakeSandbox{}).Execute(context.Background(), params)
			assert.Error(t, err)
		})
	}
}

func TestExecuteSandboxError(t *testing.T) {
	sbx := &fakeSandbox{err: sandbox.ErrTimeout}
	_, err := newTool(sbx).Execute(context.Background(), map[string]any{"command": "sleep 100"})
	assert.True(t, errors.Is(err, sandbox.ErrTimeout))
}
