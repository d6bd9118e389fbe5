package catalog

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jkaninda/ideaflow/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func seeded(t *testing.T) (*Service, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	svc := NewService(store, testLogger())
	f, err := LoadSeedFile("testdata/seed.yaml")
	require.NoError(t, err)
	res, err := svc.Seed(context.Background(), f)
	require.NoError(t, err)
	assert.Equal(t, SeedResult{Tools: 3, AgentTypes: 2, Assignments: 3}, res)
	return svc, store
}

func TestSeedLoadsCatalog(t *testing.T) {
	_, store := seeded(t)
	ctx := context.Background()

	def, err := store.DefaultAgentType(ctx)
	require.NoError(t, err)
	assert.Equal(t, "brainstorm", def.Name)
	assert.True(t, def.Streaming)

	analyst, err := store.AgentTypeByName(ctx, "analyst")
	require.NoError(t, err)
	b, err := store.Binding(ctx, analyst.ID, "bash")
	require.NoError(t, err)
	assert.Equal(t, []string{"rm -rf"}, b.Assignment.Constraints.Denied["command"])
	assert.Contains(t, b.Assignment.Constraints.Denied, "workdir")
	assert.Equal(t, domain.UnlimitedUsage, b.Assignment.UsageLimit)
	assert.True(t, b.Tool.Dangerous)
}

func TestSingleDefaultAgentType(t *testing.T) {
	svc, store := seeded(t)
	ctx := context.Background()

	require.NoError(t, svc.SaveAgentType(ctx, &domain.AgentType{
		Name: "critic", Model: "claude-haiku-4-5", Enabled: true, IsDefault: true,
	}))

	types, err := store.ListAgentTypes(ctx)
	require.NoError(t, err)
	defaults := 0
	for _, a := range types {
		if a.IsDefault {
			defaults++
			assert.Equal(t, "critic", a.Name)
		}
	}
	assert.Equal(t, 1, defaults)
}

func TestAssignmentIsUniquePerPair(t *testing.T) {
	svc, store := seeded(t)
	ctx := context.Background()

	_, err := svc.Assign(ctx, "brainstorm", "create_plan", domain.ToolAssignment{
		EnabledForAgent: true, AllowUse: true, Order: 7, UsageLimit: 3,
	})
	require.NoError(t, err)

	at, _ := store.AgentTypeByName(ctx, "brainstorm")
	bindings, err := store.Bindings(ctx, at.ID)
	require.NoError(t, err)
	count := 0
	for _, b := range bindings {
		if b.Tool.Name == "create_plan" {
			count++
			assert.Equal(t, 7, b.Assignment.Order)
			assert.Equal(t, 3, b.Assignment.UsageLimit)
		}
	}
	assert.Equal(t, 1, count)
}

func TestDeleteToolRules(t *testing.T) {
	svc, store := seeded(t)
	ctx := context.Background()

	err := svc.DeleteTool(ctx, "bash")
	assert.ErrorIs(t, err, domain.ErrConflict)

	_, err = svc.Assign(ctx, "analyst", "bash", domain.ToolAssignment{EnabledForAgent: false, UsageLimit: domain.UnlimitedUsage})
	require.NoError(t, err)
	require.NoError(t, svc.DeleteTool(ctx, "bash"))

	analyst, _ := store.AgentTypeByName(ctx, "analyst")
	bindings, err := store.Bindings(ctx, analyst.ID)
	require.NoError(t, err)
	assert.Empty(t, bindings)

	assert.ErrorIs(t, svc.DeleteTool(ctx, "bash"), domain.ErrNotFound)
}

func TestDeleteAgentTypeCascades(t *testing.T) {
	svc, store := seeded(t)
	ctx := context.Background()

	at, _ := store.AgentTypeByName(ctx, "brainstorm")
	require.NoError(t, svc.DeleteAgentType(ctx, "brainstorm"))

	bindings, err := store.Bindings(ctx, at.ID)
	require.NoError(t, err)
	assert.Empty(t, bindings)

	_, err = store.DefaultAgentType(ctx)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestReadsAreCopies(t *testing.T) {
	_, store := seeded(t)
	ctx := context.Background()

	tool, err := store.ToolByName(ctx, "web_search")
	require.NoError(t, err)
	delete(tool.Parameters["properties"].(map[string]any), "query")

	again, err := store.ToolByName(ctx, "web_search")
	require.NoError(t, err)
	assert.Contains(t, again.Parameters["properties"], "query")
}

func TestValidateAssignment(t *testing.T) {
	svc, _ := seeded(t)
	ctx := context.Background()

	tests := []struct {
		name string
		tool string
		c    domain.ParameterConstraints
	}{
		{"unknown allowed key", "bash", domain.ParameterConstraints{Allowed: []string{"shell"}}},
		{"unknown denied key", "bash", domain.ParameterConstraints{Denied: map[string][]string{"env": nil}}},
		{"allowed and denied", "bash", domain.ParameterConstraints{Allowed: []string{"command"}, Denied: map[string][]string{"command": {}}}},
		{"default wrong type", "web_search", domain.ParameterConstraints{Defaults: map[string]any{"max_results": "five"}}},
		{"default out of range", "web_search", domain.ParameterConstraints{Defaults: map[string]any{"max_results": 50}}},
		{"default denied", "bash", domain.ParameterConstraints{Defaults: map[string]any{"command": "rm -rf /"}, Denied: map[string][]string{"command": {"rm -rf"}}}},
		{"default outside whitelist", "web_search", domain.ParameterConstraints{Allowed: []string{"query"}, Defaults: map[string]any{"max_results": 3}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Assign(ctx, "analyst", tt.tool, domain.ToolAssignment{
				EnabledForAgent: true, AllowUse: true, UsageLimit: domain.UnlimitedUsage, Constraints: tt.c,
			})
			assert.ErrorIs(t, err, domain.ErrInvalid)
		})
	}

	_, err := svc.Assign(ctx, "analyst", "bash", domain.ToolAssignment{UsageLimit: -2})
	assert.ErrorIs(t, err, domain.ErrInvalid)

	_, err = svc.Assign(ctx, "ghost", "bash", domain.ToolAssignment{})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestValidateToolAndAgentType(t *testing.T) {
	assert.ErrorIs(t, ValidateTool(&domain.Tool{Name: "bad name"}), domain.ErrInvalid)
	assert.ErrorIs(t, ValidateTool(&domain.Tool{Name: "hook", Source: domain.SourceCustom}), domain.ErrInvalid)
	assert.ErrorIs(t, ValidateTool(&domain.Tool{Name: "x", Source: "plugin"}), domain.ErrInvalid)
	assert.ErrorIs(t, ValidateTool(&domain.Tool{Name: "x", Parameters: map[string]any{"type": "array"}}), domain.ErrInvalid)

	ok := &domain.Tool{Name: "noop"}
	require.NoError(t, ValidateTool(ok))
	assert.Equal(t, domain.SourceBuiltin, ok.Source)
	assert.NotNil(t, ok.Parameters)

	assert.ErrorIs(t, ValidateAgentType(&domain.AgentType{Name: "a"}), domain.ErrInvalid)
	assert.ErrorIs(t, ValidateAgentType(&domain.AgentType{Name: "a", Model: "m", Temperature: 3}), domain.ErrInvalid)
	assert.ErrorIs(t, ValidateAgentType(&domain.AgentType{Name: "a", Model: "m", IsDefault: true}), domain.ErrInvalid)
	assert.NoError(t, ValidateAgentType(&domain.AgentType{Name: "a", Model: "m", Enabled: true, IsDefault: true}))
}
