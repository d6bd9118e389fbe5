package sandbox

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSandbox(t *testing.T) *ProcessSandbox {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("process sandbox needs /bin/sh")
	}
	return NewProcessSandbox(ProcessConfig{DefaultTimeout: 5 * time.Second}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestProcessSandbox_Output(t *testing.T) {
	res, err := newSandbox(t).Execute(context.Background(), ExecutionRequest{
		Command: []string{"sh", "-c", "echo out; echo err >&2; exit 3"},
	})
	require.NoError(t, err)
	assert.Equal(t, "out", strings.TrimSpace(res.Stdout))
	assert.Equal(t, "err", strings.TrimSpace(res.Stderr))
	assert.Equal(t, 3, res.ExitCode)
}

func TestProcessSandbox_EnvNotInherited(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-secret")
	res, err := newSandbox(t).Execute(context.Background(), ExecutionRequest{
		Command: []string{"sh", "-c", "echo \"key=$ANTHROPIC_API_KEY extra=$EXTRA\""},
		Env:     map[string]string{"EXTRA": "yes"},
	})
	require.NoError(t, err)
	assert.Equal(t, "key= extra=yes", strings.TrimSpace(res.Stdout))
}

func TestProcessSandbox_Timeout(t *testing.T) {
	_, err := newSandbox(t).Execute(context.Background(), ExecutionRequest{
		Command: []string{"sleep", "5"},
		Timeout: 100 * time.Millisecond,
	})
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestProcessSandbox_EmptyCommand(t *testing.T) {
	_, err := newSandbox(t).Execute(context.Background(), ExecutionRequest{})
	assert.Error(t, err)
}

func TestCappedWriter(t *testing.T) {
	var buf bytes.Buffer
	w := &cappedWriter{w: &buf, remaining: 4}
	n, err := w.Write([]byte("abcdef"))
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	n, err = w.Write([]byte("gh"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, "abcd", buf.String())
}
