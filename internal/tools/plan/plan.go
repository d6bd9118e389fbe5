// Package plan implements create_plan, which turns a goal and a list of steps
// into a numbered markdown plan the assistant can show and refine.
package plan

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jkaninda/ideaflow/internal/tools"
)

const maxSteps = 50

// Tool formats plans. It has no side effects.
type Tool struct {
	logger *slog.Logger
}

var _ tools.Tool = (*Tool)(nil)

func NewTool(logger *slog.Logger) *Tool {
	return &Tool{logger: logger}
}

func (t *Tool) Name() string { return "create_plan" }
func (t *Tool) Description() string {
	return "Draft a step-by-step plan for a goal; returns a numbered markdown plan"
}

func (t *Tool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"title": map[string]any{"type": "string", "description": "Goal or name of the plan"},
			"steps": map[string]any{
				"type":        "array",
				"description": "Ordered steps; each is a short imperative sentence",
				"items":       map[string]any{"type": "string"},
				"minItems":    1,
				"maxItems":    maxSteps,
			},
			"horizon": map[string]any{
				"type":        "string",
				"description": "Time frame the plan covers",
				"enum":        []any{"day", "week", "month", "quarter"},
			},
		},
		"required": []any{"title", "steps"},
	}
}

func (t *Tool) Execute(ctx context.Context, params map[string]any) (*tools.Result, error) {
	title, err := tools.StringParam(params, "title")
	if err != nil {
		return nil, err
	}
	steps, err := stepList(params["steps"])
	if err != nil {
		return nil, err
	}
	horizon, _ := params["horizon"].(string)

	var sb strings.Builder
	fmt.Fprintf(&sb, "## %s\n", title)
	if horizon != "" {
		fmt.Fprintf(&sb, "_Horizon: %s_\n", horizon)
	}
	sb.WriteString("\n")
	for i, s := range steps {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, s)
	}

	t.logger.DebugContext(ctx, "plan drafted",
		slog.String("title", title),
		slog.Int("steps", len(steps)),
	)

	return &tools.Result{
		Output:  sb.String(),
		Success: true,
		Metadata: map[string]any{
			"steps":   len(steps),
			"horizon": horizon,
		},
	}, nil
}

func stepList(v any) ([]string, error) {
	var raw []any
	switch s := v.(type) {
	case []any:
		raw = s
	case []string:
		for _, e := range s {
			raw = append(raw, e)
		}
	case nil:
		return nil, fmt.Errorf("missing required parameter: steps")
	default:
		return nil, fmt.Errorf("parameter steps must be an array, got %T", v)
	}

	out := make([]string, 0, len(raw))
	for i, e := range raw {
		s, ok := e.(string)
		if !ok {
			return nil, fmt.Errorf("step %d must be a string, got %T", i+1, e)
		}
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("parameter steps must contain at least one step")
	}
	if len(out) > maxSteps {
		return nil, fmt.Errorf("a plan holds at most %d steps, got %d", maxSteps, len(out))
	}
	return out, nil
}
