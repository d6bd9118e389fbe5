package sqlite

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jkaninda/ideaflow/internal/audit"
	"github.com/jkaninda/ideaflow/internal/block"
	"github.com/jkaninda/ideaflow/internal/conversation"
	"github.com/jkaninda/ideaflow/internal/domain"
	"github.com/jkaninda/ideaflow/internal/storage"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := Open(Config{Path: filepath.Join(t.TempDir(), "data", "ideaflow.db")}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	require.NoError(t, s.Ping(context.Background()))
	return s
}

func TestDriver(t *testing.T) {
	s := openTest(t)
	assert.Equal(t, storage.DriverSQLite, s.Driver())
	assert.Equal(t, "ideaflow.db", filepath.Base(s.Path()))
}

func TestCatalogPersistence(t *testing.T) {
	ctx := context.Background()
	cat := openTest(t).Catalog()

	search := &domain.Tool{
		Name:        "web_search",
		Description: "Search the web",
		Category:    "research",
		Source:      domain.SourceBuiltin,
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{"query": map[string]any{"type": "string"}},
			"required":   []any{"query"},
		},
		Enabled: true,
		Tags:    []string{"web"},
	}
	require.NoError(t, cat.SaveTool(ctx, search))
	firstID := search.ID

	search.Description = "Search the public web"
	require.NoError(t, cat.SaveTool(ctx, search))
	assert.Equal(t, firstID, search.ID, "save by name keeps the id")

	got, err := cat.ToolByName(ctx, "web_search")
	require.NoError(t, err)
	assert.Equal(t, "Search the public web", got.Description)
	assert.Equal(t, search.Parameters, got.Parameters)
	assert.Equal(t, []string{"web"}, got.Tags)

	brainstorm := &domain.AgentType{Name: "brainstorm", Model: "claude-sonnet-4-5", Streaming: true, Enabled: true, IsDefault: true}
	require.NoError(t, cat.SaveAgentType(ctx, brainstorm))
	critic := &domain.AgentType{Name: "critic", Model: "claude-haiku-4-5", Enabled: true, IsDefault: true}
	require.NoError(t, cat.SaveAgentType(ctx, critic))

	def, err := cat.DefaultAgentType(ctx)
	require.NoError(t, err)
	assert.Equal(t, "critic", def.Name)
	reloaded, err := cat.AgentTypeByID(ctx, brainstorm.ID)
	require.NoError(t, err)
	assert.False(t, reloaded.IsDefault)

	approval := true
	asg := &domain.ToolAssignment{
		AgentTypeID:      brainstorm.ID,
		ToolID:           search.ID,
		EnabledForAgent:  true,
		AllowUse:         true,
		RequiresApproval: &approval,
		UsageLimit:       3,
		Constraints: domain.ParameterConstraints{
			Allowed:  []string{"query", "max_results"},
			Denied:   map[string][]string{"query": {"password"}},
			Defaults: map[string]any{"max_results": float64(5)},
		},
	}
	require.NoError(t, cat.SaveAssignment(ctx, asg))
	asgID := asg.ID

	asg.UsageLimit = 4
	require.NoError(t, cat.SaveAssignment(ctx, asg))
	assert.Equal(t, asgID, asg.ID, "one assignment per pair")

	bindings, err := cat.Bindings(ctx, brainstorm.ID)
	require.NoError(t, err)
	require.Len(t, bindings, 1)
	assert.Equal(t, "web_search", bindings[0].Tool.Name)
	assert.Equal(t, 4, bindings[0].Assignment.UsageLimit)
	require.NotNil(t, bindings[0].Assignment.RequiresApproval)
	assert.True(t, *bindings[0].Assignment.RequiresApproval)
	assert.Equal(t, asg.Constraints, bindings[0].Assignment.Constraints)

	b, err := cat.Binding(ctx, brainstorm.ID, "web_search")
	require.NoError(t, err)
	assert.Equal(t, asgID, b.Assignment.ID)
	_, err = cat.Binding(ctx, critic.ID, "web_search")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	err = cat.SaveAssignment(ctx, &domain.ToolAssignment{AgentTypeID: uuid.New(), ToolID: search.ID})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	err = cat.DeleteTool(ctx, "web_search")
	assert.ErrorIs(t, err, domain.ErrConflict)

	require.NoError(t, cat.DeleteAgentType(ctx, "brainstorm"))
	bindings, err = cat.Bindings(ctx, brainstorm.ID)
	require.NoError(t, err)
	assert.Empty(t, bindings)
	require.NoError(t, cat.DeleteTool(ctx, "web_search"))

	tools, err := cat.ListTools(ctx)
	require.NoError(t, err)
	assert.Empty(t, tools)
	types, err := cat.ListAgentTypes(ctx)
	require.NoError(t, err)
	require.Len(t, types, 1)
	assert.Equal(t, "critic", types[0].Name)
}

func TestDeleteToolRemovesDisabledAssignments(t *testing.T) {
	ctx := context.Background()
	cat := openTest(t).Catalog()

	tool := &domain.Tool{Name: "bash", Source: domain.SourceBuiltin, Enabled: true, Dangerous: true}
	require.NoError(t, cat.SaveTool(ctx, tool))
	at := &domain.AgentType{Name: "analyst", Model: "claude-sonnet-4-5", Enabled: true}
	require.NoError(t, cat.SaveAgentType(ctx, at))
	require.NoError(t, cat.SaveAssignment(ctx, &domain.ToolAssignment{
		AgentTypeID: at.ID, ToolID: tool.ID, UsageLimit: domain.UnlimitedUsage,
	}))

	require.NoError(t, cat.DeleteTool(ctx, "bash"))
	_, err := cat.Binding(ctx, at.ID, "bash")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, cat.DeleteAssignment(ctx, at.ID, tool.ID), domain.ErrNotFound)
}

func TestConversationPersistence(t *testing.T) {
	ctx := context.Background()
	conv := openTest(t).Conversations()

	sess := &domain.Session{AgentTypeID: uuid.New(), AgentTypeName: "brainstorm", Title: "Launch plan"}
	require.NoError(t, conv.CreateSession(ctx, sess))
	assert.Equal(t, domain.SessionActive, sess.Status)

	question := &block.ButtonGroup{
		ID:      "bg1",
		Label:   "Which market first?",
		Buttons: []block.Button{{ID: "eu", Label: "Europe"}, {ID: "us", Label: "United States"}},
	}
	msgs := []*domain.Message{
		{SessionID: sess.ID, Role: domain.RoleUser, Blocks: block.List{&block.Text{ID: "t1", Text: "Plan a launch"}}},
		{SessionID: sess.ID, Role: domain.RoleAssistant, Blocks: block.List{&block.Text{ID: "t2", Text: "Let's pick a market."}, question}},
		{SessionID: sess.ID, Role: domain.RoleUser, Blocks: block.List{&block.InteractionResponse{ID: "r1", Ref: "bg1", Values: []string{"eu"}}}},
	}
	for i, m := range msgs {
		require.NoError(t, conv.AppendMessage(ctx, m))
		assert.Equal(t, i+1, m.Seq)
	}

	last, err := conv.ListMessages(ctx, sess.ID, 2)
	require.NoError(t, err)
	require.Len(t, last, 2)
	assert.Equal(t, 2, last[0].Seq)
	assert.Equal(t, 3, last[1].Seq)
	assert.Equal(t, msgs[1].ID, last[0].ID)
	assert.Equal(t, msgs[1].Blocks, last[0].Blocks)
	assert.Equal(t, msgs[2].Blocks, last[1].Blocks)

	all, err := conv.ListMessages(ctx, sess.ID, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	stored, err := conv.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "Launch plan", stored.Title)
	assert.False(t, stored.UpdatedAt.Before(sess.CreatedAt))

	_, err = conv.ListMessages(ctx, uuid.New(), 0)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	err = conv.AppendMessage(ctx, &domain.Message{SessionID: uuid.New(), Role: domain.RoleUser})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSessionLifecycle(t *testing.T) {
	ctx := context.Background()
	conv := openTest(t).Conversations()

	agentType := uuid.New()
	a := &domain.Session{AgentTypeID: agentType, AgentTypeName: "brainstorm"}
	b := &domain.Session{AgentTypeID: uuid.New(), AgentTypeName: "critic"}
	require.NoError(t, conv.CreateSession(ctx, a))
	require.NoError(t, conv.CreateSession(ctx, b))

	updated, err := conv.UpdateStatus(ctx, a.ID, domain.SessionCompleted)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionCompleted, updated.Status)

	_, err = conv.UpdateStatus(ctx, a.ID, domain.SessionActive)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	_, err = conv.UpdateStatus(ctx, uuid.New(), domain.SessionPaused)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	completed, err := conv.ListSessions(ctx, conversation.Filter{Status: domain.SessionCompleted})
	require.NoError(t, err)
	require.Len(t, completed, 1)
	assert.Equal(t, a.ID, completed[0].ID)

	byType, err := conv.ListSessions(ctx, conversation.Filter{AgentTypeID: agentType})
	require.NoError(t, err)
	require.Len(t, byType, 1)

	stale, err := conv.ListSessions(ctx, conversation.Filter{UpdatedBefore: time.Now().Add(time.Hour)})
	require.NoError(t, err)
	assert.Len(t, stale, 2)
	fresh, err := conv.ListSessions(ctx, conversation.Filter{UpdatedBefore: time.Now().Add(-time.Hour)})
	require.NoError(t, err)
	assert.Empty(t, fresh)
}

func TestAuditAppendAndQuery(t *testing.T) {
	ctx := context.Background()
	store := openTest(t).Audit()

	session := uuid.New()
	base := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	records := []domain.UsageAuditRecord{
		{SessionID: session, ToolName: "web_search", Status: domain.UsageSuccess, Executed: true, Parameters: map[string]any{"query": "go"}, Result: "3 hits", LatencyMs: 120},
		{SessionID: session, ToolName: "web_search", Status: domain.UsageBlocked, Parameters: map[string]any{"query": "rust"}, Result: "Blocked"},
		{SessionID: session, ToolName: "bash", Status: domain.UsageDenied, Parameters: map[string]any{"command": "rm -rf /"}},
		{SessionID: uuid.New(), ToolName: "web_search", Status: domain.UsageSuccess},
	}
	for i := range records {
		records[i].CreatedAt = base.Add(time.Duration(i) * time.Second)
		require.NoError(t, store.Append(ctx, &records[i]))
		assert.NotEqual(t, uuid.Nil, records[i].ID)
	}

	list, err := store.List(ctx, audit.Query{SessionID: session})
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "bash", list[0].ToolName, "newest first")
	assert.Equal(t, map[string]any{"command": "rm -rf /"}, list[0].Parameters)
	assert.Equal(t, int64(120), list[2].LatencyMs)

	n, err := store.Count(ctx, audit.Query{SessionID: session, ToolName: "web_search"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = store.Count(ctx, audit.Query{Statuses: []domain.UsageStatus{domain.UsageDenied, domain.UsageBlocked}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = store.Count(ctx, audit.Query{SessionID: session, ExecutedOnly: true})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.True(t, list[2].Executed)

	limited, err := store.List(ctx, audit.Query{Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, records[3].ID, limited[0].ID)
}
