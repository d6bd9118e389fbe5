package plan

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jkaninda/ideaflow/internal/toolschema"
)

func newTool() *Tool {
	return NewTool(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestCreatePlan(t *testing.T) {
	res, err := newTool().Execute(context.Background(), map[string]any{
		"title":   "Launch the beta",
		"steps":   []any{"Recruit 20 testers", "  ", "Ship build 0.9"},
		"horizon": "month",
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "## Launch the beta\n_Horizon: month_\n\n1. Recruit 20 testers\n2. Ship build 0.9\n", res.Output)
	assert.Equal(t, 2, res.Metadata["steps"])
}

func TestCreatePlanRejectsBadSteps(t *testing.T) {
	tests := map[string]map[string]any{
		"missing title": {"steps": []any{"a"}},
		"missing steps": {"title": "x"},
		"not an array":  {"title": "x", "steps": "a, b"},
		"blank steps":   {"title": "x", "steps": []any{" "}},
		"non string":    {"title": "x", "steps": []any{1}},
	}
	for name, params := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := newTool().Execute(context.Background(), params)
			assert.Error(t, err)
		})
	}
}

func TestSchemaCompiles(t *testing.T) {
	s, err := toolschema.Compile(newTool().InputSchema())
	require.NoError(t, err)
	assert.NoError(t, s.Validate(map[string]any{"title": "x", "steps": []any{"a"}}))
	assert.Error(t, s.Validate(map[string]any{"title": "x", "steps": []any{"a"}, "horizon": "decade"}))
}
