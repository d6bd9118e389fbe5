package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSessionStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to SessionStatus
		want     bool
	}{
		{SessionActive, SessionPaused, true},
		{SessionPaused, SessionActive, true},
		{SessionActive, SessionCompleted, true},
		{SessionPaused, SessionArchived, true},
		{SessionCompleted, SessionArchived, true},
		{SessionCompleted, SessionActive, false},
		{SessionArchived, SessionActive, false},
		{SessionArchived, SessionCompleted, false},
		{SessionCompleted, SessionPaused, false},
		{SessionActive, SessionActive, false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s->%s", tt.from, tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransition(tt.to))
		})
	}
}

func TestValidToolName(t *testing.T) {
	assert.True(t, ValidToolName("create_plan"))
	assert.True(t, ValidToolName("mcp__github__list-issues"))
	assert.False(t, ValidToolName(""))
	assert.False(t, ValidToolName("rm -rf"))
	assert.False(t, ValidToolName("tool.name"))
}

func TestErrorTaxonomy(t *testing.T) {
	err := fmt.Errorf("create handle: %w", NotFound("agent type", "brainstorm"))
	assert.True(t, errors.Is(err, ErrNotFound))
	var nf *NotFoundError
	assert.True(t, errors.As(err, &nf))
	assert.Equal(t, "brainstorm", nf.Key)

	denied := &PermissionDeniedError{Tool: "bash", Reason: "value denied"}
	assert.ErrorIs(t, denied, ErrPermissionDenied)

	assert.ErrorIs(t, Protocolf("unknown event %q", "x"), ErrProtocol)

	cause := errors.New("connection refused")
	infra := Infrastructure("append message", cause)
	assert.ErrorIs(t, infra, ErrInfrastructure)
	assert.ErrorIs(t, infra, cause)
	assert.Same(t, infra, Infrastructure("outer", infra))
	assert.NoError(t, Infrastructure("noop", nil))

	assert.ErrorIs(t, Invalidf("bad schema"), ErrInvalid)
}

func TestConstraintViolation(t *testing.T) {
	c := ParameterConstraints{Denied: map[string][]string{
		"command": {"rm -rf"},
		"sudo":    nil,
		"port":    {"22"},
		"hosts":   {"prod"},
	}}

	tests := []struct {
		name   string
		params map[string]any
		key    string
		denied bool
	}{
		{"value substring", map[string]any{"command": "rm -rf /"}, "command", true},
		{"value case", map[string]any{"command": "RM -RF /tmp"}, "command", true},
		{"harmless value", map[string]any{"command": "ls"}, "", false},
		{"key level", map[string]any{"sudo": false}, "sudo", true},
		{"number", map[string]any{"port": float64(22)}, "port", true},
		{"other number", map[string]any{"port": 2222}, "", false},
		{"array element", map[string]any{"hosts": []any{"dev", "prod-db"}}, "hosts", true},
		{"no params", nil, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, reason, denied := c.Violation(tt.params)
			assert.Equal(t, tt.denied, denied)
			assert.Equal(t, tt.key, key)
			if denied {
				assert.Contains(t, reason, tt.key)
			}
		})
	}
}
