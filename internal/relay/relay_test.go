package relay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jkaninda/ideaflow/internal/agent"
	"github.com/jkaninda/ideaflow/internal/audit"
	"github.com/jkaninda/ideaflow/internal/block"
	"github.com/jkaninda/ideaflow/internal/catalog"
	"github.com/jkaninda/ideaflow/internal/conversation"
	"github.com/jkaninda/ideaflow/internal/domain"
	"github.com/jkaninda/ideaflow/internal/llm"
	"github.com/jkaninda/ideaflow/internal/protocol"
	"github.com/jkaninda/ideaflow/internal/resolver"
	"github.com/jkaninda/ideaflow/internal/tools"
)

const directionsReply = "Here are three directions.\n" +
	"```block\n" +
	`{"type":"button_group","label":"Which direction?","buttons":[{"id":"a","label":"Alpha"},{"id":"b","label":"Beta"}]}` + "\n" +
	"```\n"

// scriptedProvider plays back one scripted round per StreamMessage call.
// Without a script it answers "ok".
type scriptedProvider struct {
	mu       sync.Mutex
	rounds   [][]llm.StreamEvent
	requests []*llm.Request
	block    bool // wait for cancellation after the scripted events
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) SendMessage(context.Context, *llm.Request) (*llm.Response, error) {
	return nil, errors.New("not implemented")
}

func (p *scriptedProvider) StreamMessage(ctx context.Context, req *llm.Request, events chan<- llm.StreamEvent) error {
	defer close(events)
	p.mu.Lock()
	p.requests = append(p.requests, req)
	evs := textRound("ok")
	if len(p.rounds) > 0 {
		evs, p.rounds = p.rounds[0], p.rounds[1:]
	}
	wait := p.block
	p.mu.Unlock()

	for _, ev := range evs {
		if !llm.Send(ctx, events, ev) {
			return ctx.Err()
		}
		if ev.Type == llm.EventError {
			return ev.Error
		}
	}
	if wait {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func (p *scriptedProvider) lastRequest() *llm.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requests[len(p.requests)-1]
}

func textRound(chunks ...string) []llm.StreamEvent {
	var evs []llm.StreamEvent
	for _, c := range chunks {
		evs = append(evs, llm.StreamEvent{Type: llm.EventText, Content: c})
	}
	return append(evs, llm.StreamEvent{Type: llm.EventDone, StopReason: llm.StopEndTurn})
}

func toolRound(id, name string, input map[string]any) []llm.StreamEvent {
	return []llm.StreamEvent{
		{Type: llm.EventToolUse, ToolUse: &llm.ContentBlock{Type: "tool_use", ID: id, Name: name, Input: input}},
		{Type: llm.EventDone, StopReason: llm.StopToolUse},
	}
}

// recordingTool remembers the parameters of every call.
type recordingTool struct {
	name      string
	mu        sync.Mutex
	calls     []map[string]any
	onExecute func(ctx context.Context)
}

func (t *recordingTool) Name() string        { return t.name }
func (t *recordingTool) Description() string { return "test tool " + t.name }
func (t *recordingTool) InputSchema() map[string]any {
	return map[string]any{"type": "object"}
}

func (t *recordingTool) Execute(ctx context.Context, params map[string]any) (*tools.Result, error) {
	if t.onExecute != nil {
		t.onExecute(ctx)
	}
	t.mu.Lock()
	t.calls = append(t.calls, params)
	t.mu.Unlock()
	return &tools.Result{Output: t.name + " done", Success: true}, nil
}

func (t *recordingTool) callCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}

type countingMetrics struct {
	mu       sync.Mutex
	turns    map[string]int
	blocks   map[string]int
	clientEr map[string]int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{turns: map[string]int{}, blocks: map[string]int{}, clientEr: map[string]int{}}
}

func (m *countingMetrics) RecordTurn(agentType, outcome string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns[agentType+"/"+outcome]++
}

func (m *countingMetrics) RecordBlock(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blocks[kind]++
}

func (m *countingMetrics) RecordClientError(code string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clientEr[code]++
}

type fixture struct {
	relay         *Relay
	agents        *catalog.Service
	provider      *scriptedProvider
	conversations *conversation.MemoryStore
	audits        *audit.MemoryStore
	metrics       *countingMetrics
	tools         map[string]*recordingTool
	session       *domain.Session
	out           chan *protocol.Envelope
}

func newFixture(t *testing.T, rounds ...[]llm.StreamEvent) *fixture {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store := catalog.NewMemoryStore()
	svc := catalog.NewService(store, logger)
	require.NoError(t, svc.SaveTool(ctx, &domain.Tool{Name: "web_search", Enabled: true, Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query":       map[string]any{"type": "string"},
			"max_results": map[string]any{"type": "integer", "maximum": 10},
		},
		"required": []any{"query"},
	}}))
	require.NoError(t, svc.SaveTool(ctx, &domain.Tool{Name: "bash", Enabled: true, Dangerous: true, Parameters: map[string]any{
		"type":       "object",
		"properties": map[string]any{"command": map[string]any{"type": "string"}},
		"required":   []any{"command"},
	}}))
	require.NoError(t, svc.SaveTool(ctx, &domain.Tool{Name: "publish_roadmap", Enabled: true, RequiresApproval: true, Parameters: map[string]any{
		"type":       "object",
		"properties": map[string]any{"title": map[string]any{"type": "string"}},
	}}))
	require.NoError(t, svc.SaveAgentType(ctx, &domain.AgentType{
		Name: "brainstorm", Model: "claude-sonnet-4-5", SystemPrompt: "Explore ideas.",
		Temperature: 0.7, Streaming: true, ContextLimit: 20, Enabled: true, IsDefault: true,
	}))
	_, err := svc.Assign(ctx, "brainstorm", "web_search", domain.ToolAssignment{
		EnabledForAgent: true, AllowUse: true, Order: 1, UsageLimit: 1,
		Constraints: domain.ParameterConstraints{Defaults: map[string]any{"max_results": 3}},
	})
	require.NoError(t, err)
	_, err = svc.Assign(ctx, "brainstorm", "bash", domain.ToolAssignment{
		EnabledForAgent: true, AllowUse: true, Order: 2, UsageLimit: domain.UnlimitedUsage,
		Constraints: domain.ParameterConstraints{Denied: map[string][]string{"command": {"rm -rf"}}},
	})
	require.NoError(t, err)
	_, err = svc.Assign(ctx, "brainstorm", "publish_roadmap", domain.ToolAssignment{
		EnabledForAgent: true, AllowUse: true, Order: 3, UsageLimit: domain.UnlimitedUsage,
	})
	require.NoError(t, err)

	registry := tools.NewRegistry(logger)
	recorded := map[string]*recordingTool{}
	for _, name := range []string{"web_search", "bash", "publish_roadmap"} {
		recorded[name] = &recordingTool{name: name}
		registry.Register(recorded[name])
	}

	conversations := conversation.NewMemoryStore()
	sess, err := conversation.NewService(conversations, store, logger).Start(ctx, "brainstorm", "")
	require.NoError(t, err)

	res := resolver.New(store, logger)
	audits := audit.NewMemoryStore()
	provider := &scriptedProvider{rounds: rounds}
	metrics := newCountingMetrics()
	r := New(provider, agent.NewFactory(store, res, logger), conversations, res, logger).
		WithExecutors(registry).
		WithAuditor(audit.New(audits, logger)).
		WithMetrics(metrics)

	return &fixture{
		relay:         r,
		agents:        svc,
		provider:      provider,
		conversations: conversations,
		audits:        audits,
		metrics:       metrics,
		tools:         recorded,
		session:       sess,
		out:           make(chan *protocol.Envelope, 256),
	}
}

func (f *fixture) attach(t *testing.T) *Session {
	t.Helper()
	s, err := f.relay.Attach(context.Background(), f.session.ID, f.out)
	require.NoError(t, err)
	return s
}

func (f *fixture) drain() []*protocol.Envelope {
	var envs []*protocol.Envelope
	for {
		select {
		case env := <-f.out:
			envs = append(envs, env)
		default:
			return envs
		}
	}
}

func (f *fixture) messages(t *testing.T) []domain.Message {
	t.Helper()
	msgs, err := f.conversations.ListMessages(context.Background(), f.session.ID, 0)
	require.NoError(t, err)
	return msgs
}

func (f *fixture) auditRecords(t *testing.T) []domain.UsageAuditRecord {
	t.Helper()
	recs, err := f.audits.List(context.Background(), audit.Query{SessionID: f.session.ID})
	require.NoError(t, err)
	return recs
}

func frame(t *testing.T, typ protocol.EventType, payload any) []byte {
	t.Helper()
	env, err := protocol.NewEnvelope(typ, payload)
	require.NoError(t, err)
	data, err := json.Marshal(env)
	require.NoError(t, err)
	return data
}

func userMessage(t *testing.T, content string) []byte {
	return frame(t, protocol.EventUserMessage, protocol.UserMessagePayload{Content: content})
}

func eventTypes(envs []*protocol.Envelope) []protocol.EventType {
	out := make([]protocol.EventType, len(envs))
	for i, e := range envs {
		out[i] = e.Type
	}
	return out
}

func ofType(envs []*protocol.Envelope, typ protocol.EventType) []*protocol.Envelope {
	var out []*protocol.Envelope
	for _, e := range envs {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

func decode[T any](t *testing.T, env *protocol.Envelope) T {
	t.Helper()
	var v T
	require.NoError(t, env.Decode(&v))
	return v
}

func TestUserMessageStreamsBlocks(t *testing.T) {
	f := newFixture(t, textRound(directionsReply[:20], directionsReply[20:70], directionsReply[70:]))
	s := f.attach(t)

	require.NoError(t, s.HandleFrame(context.Background(), userMessage(t, "Give me ideas for onboarding")))

	envs := f.drain()
	require.Equal(t, []protocol.EventType{
		protocol.EventUserMessageSaved,
		protocol.EventStreamChunk,
		protocol.EventStreamChunk,
		protocol.EventStreamComplete,
	}, eventTypes(envs))

	saved, err := protocol.DecodeUserMessageSaved(envs[0])
	require.NoError(t, err)
	assert.Equal(t, "user", saved.Role)
	assert.Equal(t, 1, saved.Seq)

	msgID, first, err := protocol.DecodeStreamChunk(envs[1])
	require.NoError(t, err)
	assert.Equal(t, "Here are three directions.", first.(*block.Text).Text)
	_, second, err := protocol.DecodeStreamChunk(envs[2])
	require.NoError(t, err)
	bg, ok := second.(*block.ButtonGroup)
	require.True(t, ok)

	complete := decode[protocol.StreamCompletePayload](t, envs[3])
	assert.Equal(t, msgID, complete.MessageID)
	assert.True(t, complete.AwaitingInteraction)
	assert.Equal(t, bg.ID, complete.PendingBlockID)

	assert.Equal(t, StateAwaitingInteraction, s.State())
	assert.Equal(t, bg.ID, s.PendingBlockID())
	assert.False(t, s.AwaitingSince().IsZero())

	msgs := f.messages(t)
	require.Len(t, msgs, 2)
	assert.Equal(t, domain.RoleAssistant, msgs[1].Role)
	assert.Equal(t, msgID, msgs[1].ID)
	assert.Equal(t, streamedBlocks(t, envs, msgID), msgs[1].Blocks)

	req := f.provider.lastRequest()
	assert.Equal(t, "claude-sonnet-4-5", req.Model)
	assert.True(t, strings.HasPrefix(req.SystemPrompt, "Explore ideas."))
	assert.Contains(t, req.SystemPrompt, block.FenceTag)
	require.NotNil(t, req.Temperature)
	assert.InDelta(t, 0.7, *req.Temperature, 1e-9)
	require.Len(t, req.Tools, 3)
	assert.Equal(t, "web_search", req.Tools[0].Name)
	assert.Equal(t, []any{"query"}, req.Tools[0].InputSchema["required"])

	assert.Equal(t, 1, f.metrics.turns["brainstorm/complete"])
	assert.Equal(t, 1, f.metrics.blocks["button_group"])
}

// streamedBlocks decodes the stream_chunk blocks of one message in arrival
// order.
func streamedBlocks(t *testing.T, envs []*protocol.Envelope, msgID string) block.List {
	t.Helper()
	var out block.List
	for _, env := range ofType(envs, protocol.EventStreamChunk) {
		id, b, err := protocol.DecodeStreamChunk(env)
		require.NoError(t, err)
		require.Equal(t, msgID, id)
		out = append(out, b)
	}
	return out
}

func TestNonStreamingAgentSendsBlocksAtCompletion(t *testing.T) {
	f := newFixture(t, textRound("Intro paragraph.\n\n", directionsReply))
	at, err := f.agents.Store().AgentTypeByName(context.Background(), "brainstorm")
	require.NoError(t, err)
	at.Streaming = false
	require.NoError(t, f.agents.SaveAgentType(context.Background(), at))
	f.relay.WithConfig(Config{FlushSize: 1})
	s := f.attach(t)

	require.NoError(t, s.HandleFrame(context.Background(), userMessage(t, "ideas?")))

	envs := f.drain()
	require.Equal(t, protocol.EventUserMessageSaved, envs[0].Type)
	require.Equal(t, protocol.EventStreamComplete, envs[len(envs)-1].Type)
	complete := decode[protocol.StreamCompletePayload](t, envs[len(envs)-1])

	msgs := f.messages(t)
	require.Len(t, msgs, 2)
	assert.Equal(t, complete.MessageID, msgs[1].ID)
	streamed := streamedBlocks(t, envs, complete.MessageID)
	require.Len(t, streamed, 3)
	assert.Equal(t, streamed, msgs[1].Blocks)
	assert.Equal(t, streamed.Last().BlockID(), complete.PendingBlockID)
}

func TestInteractionResumesTurn(t *testing.T) {
	f := newFixture(t, textRound(directionsReply), textRound("Beta it is.\n"))
	s := f.attach(t)
	ctx := context.Background()

	require.NoError(t, s.HandleFrame(ctx, userMessage(t, "ideas?")))
	pending := s.PendingBlockID()
	require.NotEmpty(t, pending)
	f.drain()

	require.NoError(t, s.HandleFrame(ctx, frame(t, protocol.EventInteraction, protocol.InteractionPayload{
		BlockID: pending,
		Value:   protocol.Single("b"),
	})))

	envs := f.drain()
	require.Equal(t, []protocol.EventType{
		protocol.EventUserMessageSaved,
		protocol.EventStreamChunk,
		protocol.EventStreamComplete,
	}, eventTypes(envs))

	saved, err := protocol.DecodeUserMessageSaved(envs[0])
	require.NoError(t, err)
	require.Len(t, saved.Blocks, 1)
	resp, ok := saved.Blocks[0].(*block.InteractionResponse)
	require.True(t, ok)
	assert.Equal(t, pending, resp.Ref)
	assert.Equal(t, []string{"b"}, resp.Values)

	complete := decode[protocol.StreamCompletePayload](t, envs[2])
	assert.False(t, complete.AwaitingInteraction)
	assert.Equal(t, StateIdle, s.State())
	assert.Empty(t, s.PendingBlockID())

	req := f.provider.lastRequest()
	last := req.Messages[len(req.Messages)-1]
	assert.Equal(t, llm.RoleUser, last.Role)
	assert.Equal(t, `For "Which direction?" I chose: Beta`, last.Content)

	assert.Len(t, f.messages(t), 4)
}

func TestInteractionRejected(t *testing.T) {
	f := newFixture(t, textRound(directionsReply))
	s := f.attach(t)
	ctx := context.Background()

	err := s.HandleFrame(ctx, frame(t, protocol.EventInteraction, protocol.InteractionPayload{BlockID: "x", Value: protocol.Single("a")}))
	require.ErrorIs(t, err, domain.ErrProtocol)

	require.NoError(t, s.HandleFrame(ctx, userMessage(t, "ideas?")))
	pending := s.PendingBlockID()
	f.drain()

	tests := []struct {
		name    string
		payload protocol.InteractionPayload
	}{
		{"wrong block", protocol.InteractionPayload{BlockID: "other", Value: protocol.Single("a")}},
		{"list for buttons", protocol.InteractionPayload{BlockID: pending, Value: protocol.List("a")}},
		{"unknown button", protocol.InteractionPayload{BlockID: pending, Value: protocol.Single("z")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.HandleFrame(ctx, frame(t, protocol.EventInteraction, tt.payload))
			require.ErrorIs(t, err, domain.ErrProtocol)

			envs := f.drain()
			require.Len(t, envs, 1)
			p := decode[protocol.ErrorPayload](t, envs[0])
			assert.Equal(t, protocol.CodeProtocol, p.Code)
			assert.Equal(t, pending, s.PendingBlockID())
		})
	}
	assert.Len(t, f.messages(t), 2)
}

func TestCheckArityMultiSelect(t *testing.T) {
	ms := &block.MultiSelect{
		ID: "ms", Prompt: "Which segments?", MinSelections: 1, MaxSelections: 2,
		Options: []block.Option{{ID: "smb", Label: "SMB"}, {ID: "ent", Label: "Enterprise"}, {ID: "edu", Label: "Education"}},
	}
	tests := []struct {
		name  string
		value protocol.InteractionValue
		ok    bool
	}{
		{"one", protocol.List("smb"), true},
		{"two", protocol.List("smb", "edu"), true},
		{"none", protocol.List(), false},
		{"too many", protocol.List("smb", "ent", "edu"), false},
		{"duplicate", protocol.List("smb", "smb"), false},
		{"unknown", protocol.List("gov"), false},
		{"single string", protocol.Single("smb"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkArity(ms, tt.value)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, domain.ErrProtocol)
			}
		})
	}
}

func TestUserMessageSkipsPendingInteraction(t *testing.T) {
	f := newFixture(t, textRound(directionsReply))
	s := f.attach(t)
	ctx := context.Background()

	require.NoError(t, s.HandleFrame(ctx, userMessage(t, "ideas?")))
	require.Equal(t, StateAwaitingInteraction, s.State())
	f.drain()

	require.NoError(t, s.HandleFrame(ctx, userMessage(t, "Actually, something else")))
	assert.Equal(t, StateIdle, s.State())
	assert.Empty(t, s.PendingBlockID())
	assert.Len(t, f.messages(t), 4)
}

func TestMalformedFramesKeepSession(t *testing.T) {
	f := newFixture(t)
	s := f.attach(t)
	ctx := context.Background()

	tests := []struct {
		name string
		data []byte
		code string
	}{
		{"not json", []byte("hello"), protocol.CodeInvalidFrame},
		{"no type", []byte(`{"payload":{}}`), protocol.CodeInvalidFrame},
		{"unknown type", frame(t, "dance", nil), protocol.CodeProtocol},
		{"empty content", userMessage(t, "   "), protocol.CodeProtocol},
		{"missing payload", frame(t, protocol.EventUserMessage, nil), protocol.CodeProtocol},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Error(t, s.HandleFrame(ctx, tt.data))
			envs := f.drain()
			require.Len(t, envs, 1)
			assert.Equal(t, protocol.EventError, envs[0].Type)
			assert.Equal(t, tt.code, decode[protocol.ErrorPayload](t, envs[0]).Code)
		})
	}

	assert.Equal(t, StateIdle, s.State())
	assert.Empty(t, f.messages(t))

	require.NoError(t, s.HandleFrame(ctx, frame(t, protocol.EventPong, nil)))
	require.NoError(t, s.HandleFrame(ctx, userMessage(t, "still there?")))
	assert.Len(t, f.messages(t), 2)
}

func TestDeniedToolCallIsAudited(t *testing.T) {
	f := newFixture(t,
		toolRound("call_1", "bash", map[string]any{"command": "rm -rf /tmp/ideas"}),
		textRound("I can't run that.\n"),
	)
	s := f.attach(t)

	require.NoError(t, s.HandleFrame(context.Background(), userMessage(t, "clean up")))

	envs := f.drain()
	execs := ofType(envs, protocol.EventToolExecuting)
	require.Len(t, execs, 1)
	p := decode[protocol.ToolExecutingPayload](t, execs[0])
	assert.Equal(t, "bash", p.ToolName)
	assert.Equal(t, protocol.ToolDenied, p.Status)
	assert.Contains(t, p.Message, `"command"`)

	assert.Zero(t, f.tools["bash"].callCount())

	recs := f.auditRecords(t)
	require.Len(t, recs, 1)
	assert.Equal(t, domain.UsageDenied, recs[0].Status)
	assert.Equal(t, "bash", recs[0].ToolName)
	assert.Equal(t, "rm -rf /tmp/ideas", recs[0].Parameters["command"])

	req := f.provider.lastRequest()
	results := req.Messages[len(req.Messages)-1].ContentBlocks
	require.Len(t, results, 1)
	assert.True(t, results[0].IsError)
	assert.Equal(t, "call_1", results[0].ToolUseID)
	assert.Contains(t, results[0].Text, "Permission denied")

	assert.Len(t, ofType(envs, protocol.EventStreamComplete), 1)
	assert.Equal(t, StateIdle, s.State())
}

func TestToolCallMergesDefaults(t *testing.T) {
	f := newFixture(t,
		toolRound("call_1", "web_search", map[string]any{"query": "onboarding trends"}),
		textRound("Found a few.\n"),
	)
	s := f.attach(t)

	require.NoError(t, s.HandleFrame(context.Background(), userMessage(t, "research")))

	execs := ofType(f.drain(), protocol.EventToolExecuting)
	require.Len(t, execs, 2)
	assert.Equal(t, protocol.ToolRunning, decode[protocol.ToolExecutingPayload](t, execs[0]).Status)
	assert.Equal(t, protocol.ToolSuccess, decode[protocol.ToolExecutingPayload](t, execs[1]).Status)

	tool := f.tools["web_search"]
	require.Equal(t, 1, tool.callCount())
	assert.Equal(t, map[string]any{"query": "onboarding trends", "max_results": 3}, tool.calls[0])

	recs := f.auditRecords(t)
	require.Len(t, recs, 1)
	assert.Equal(t, domain.UsageSuccess, recs[0].Status)
	assert.Equal(t, "web_search done", recs[0].Result)

	// The tool exchange is kept for the live transcript but not stored.
	msgs := f.messages(t)
	require.Len(t, msgs, 2)
	assert.Equal(t, "Found a few.", msgs[1].Blocks[0].(*block.Text).Text)
}

func TestToolPolicyOutcomes(t *testing.T) {
	tests := []struct {
		name   string
		rounds [][]llm.StreamEvent
		want   []domain.UsageStatus // newest first
	}{
		{
			name: "usage limit",
			rounds: [][]llm.StreamEvent{
				toolRound("c1", "web_search", map[string]any{"query": "a"}),
				toolRound("c2", "web_search", map[string]any{"query": "b"}),
				textRound("done\n"),
			},
			want: []domain.UsageStatus{domain.UsageBlocked, domain.UsageSuccess},
		},
		{
			name: "approval required",
			rounds: [][]llm.StreamEvent{
				toolRound("c1", "publish_roadmap", map[string]any{"title": "Q3"}),
				textRound("needs approval\n"),
			},
			want: []domain.UsageStatus{domain.UsageBlocked},
		},
		{
			name: "invalid parameters",
			rounds: [][]llm.StreamEvent{
				toolRound("c1", "web_search", map[string]any{"max_results": 50}),
				textRound("retry later\n"),
			},
			want: []domain.UsageStatus{domain.UsageFailed},
		},
		{
			name: "rejected parameters leave the usage limit untouched",
			rounds: [][]llm.StreamEvent{
				toolRound("c1", "web_search", map[string]any{"max_results": 50}),
				toolRound("c2", "web_search", map[string]any{"query": "b"}),
				textRound("done\n"),
			},
			want: []domain.UsageStatus{domain.UsageSuccess, domain.UsageFailed},
		},
		{
			name: "unassigned tool",
			rounds: [][]llm.StreamEvent{
				toolRound("c1", "send_email", map[string]any{}),
				textRound("cannot\n"),
			},
			want: []domain.UsageStatus{domain.UsageDenied},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.rounds...)
			s := f.attach(t)
			require.NoError(t, s.HandleFrame(context.Background(), userMessage(t, "go")))

			recs := f.auditRecords(t)
			got := make([]domain.UsageStatus, len(recs))
			for i, r := range recs {
				got[i] = r.Status
			}
			assert.Equal(t, tt.want, got)
			assert.LessOrEqual(t, f.tools["web_search"].callCount(), 1)
			assert.Zero(t, f.tools["publish_roadmap"].callCount())
		})
	}
}

func TestToolRoundLimit(t *testing.T) {
	var rounds [][]llm.StreamEvent
	for range 3 {
		rounds = append(rounds, toolRound("c", "bash", map[string]any{"command": "ls"}))
	}
	f := newFixture(t, rounds...)
	f.relay.WithConfig(Config{MaxToolRounds: 2})
	s := f.attach(t)

	require.NoError(t, s.HandleFrame(context.Background(), userMessage(t, "loop")))

	assert.Equal(t, 1, f.tools["bash"].callCount())
	assert.Len(t, ofType(f.drain(), protocol.EventStreamComplete), 1)
	last := s.history[len(s.history)-1]
	require.Len(t, last.ContentBlocks, 1)
	assert.Contains(t, last.ContentBlocks[0].Text, "round limit")
}

func TestModelErrorPersistsNothing(t *testing.T) {
	f := newFixture(t, []llm.StreamEvent{
		{Type: llm.EventText, Content: "Half an ans"},
		{Type: llm.EventError, Error: errors.New("upstream 529")},
	})
	s := f.attach(t)

	require.NoError(t, s.HandleFrame(context.Background(), userMessage(t, "ideas?")))

	envs := f.drain()
	require.Equal(t, []protocol.EventType{protocol.EventUserMessageSaved, protocol.EventError}, eventTypes(envs))
	p := decode[protocol.ErrorPayload](t, envs[1])
	assert.Equal(t, protocol.CodeModel, p.Code)
	assert.NotContains(t, p.Message, "529")

	assert.Len(t, f.messages(t), 1)
	assert.Equal(t, StateIdle, s.State())
	assert.Equal(t, 1, f.metrics.turns["brainstorm/model_error"])
}

func TestDisconnectMidStream(t *testing.T) {
	f := newFixture(t, textRound("First paragraph.\n\n"))
	f.provider.block = true
	f.relay.WithConfig(Config{FlushSize: 1})
	s := f.attach(t)

	ctx, cancel := context.WithCancel(context.Background())
	data := userMessage(t, "ideas?")
	done := make(chan error, 1)
	go func() { done <- s.HandleFrame(ctx, data) }()

	var sawChunk bool
	for !sawChunk {
		select {
		case env := <-f.out:
			sawChunk = env.Type == protocol.EventStreamChunk
		case <-time.After(5 * time.Second):
			t.Fatal("no stream_chunk before timeout")
		}
	}
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("turn did not stop after disconnect")
	}
	s.Close()

	assert.Empty(t, ofType(f.drain(), protocol.EventStreamComplete))
	msgs := f.messages(t)
	require.Len(t, msgs, 1)
	assert.Equal(t, domain.RoleUser, msgs[0].Role)
	assert.Equal(t, StateIdle, s.State())
	assert.Empty(t, s.history[len(s.history)-1].ContentBlocks)
	assert.Equal(t, 1, f.metrics.turns["brainstorm/cancelled"])
}

func TestDisconnectWhileSendingFinalBlock(t *testing.T) {
	f := newFixture(t, textRound("A closing thought without a trailing newline"))
	f.out = make(chan *protocol.Envelope)
	s := f.attach(t)

	ctx, cancel := context.WithCancel(context.Background())
	data := userMessage(t, "ideas?")
	done := make(chan error, 1)
	go func() { done <- s.HandleFrame(ctx, data) }()

	select {
	case env := <-f.out:
		require.Equal(t, protocol.EventUserMessageSaved, env.Type)
	case <-time.After(5 * time.Second):
		t.Fatal("no user_message_saved before timeout")
	}
	// The flushed block is counted just before its send, which blocks until
	// the context ends because nobody reads the channel.
	require.Eventually(t, func() bool {
		f.metrics.mu.Lock()
		defer f.metrics.mu.Unlock()
		return f.metrics.blocks["text"] == 1
	}, 5*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("turn did not stop after disconnect")
	}

	msgs := f.messages(t)
	require.Len(t, msgs, 1)
	assert.Equal(t, domain.RoleUser, msgs[0].Role)
	assert.Equal(t, StateIdle, s.State())
	assert.Equal(t, 1, f.metrics.turns["brainstorm/cancelled"])
	assert.Zero(t, f.metrics.turns["brainstorm/complete"])
}

func TestDisconnectDuringToolKeepsAudit(t *testing.T) {
	f := newFixture(t, toolRound("c1", "bash", map[string]any{"command": "ls"}))
	ctx, cancel := context.WithCancel(context.Background())
	var toolCtxErr error
	f.tools["bash"].onExecute = func(toolCtx context.Context) {
		cancel()
		toolCtxErr = toolCtx.Err()
	}
	s := f.attach(t)

	require.NoError(t, s.HandleFrame(ctx, userMessage(t, "list files")))

	assert.NoError(t, toolCtxErr)
	recs := f.auditRecords(t)
	require.Len(t, recs, 1)
	assert.Equal(t, domain.UsageSuccess, recs[0].Status)
	assert.Len(t, f.messages(t), 1)
	assert.Equal(t, StateIdle, s.State())
}

func TestAttachReplaysHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bg := &block.ButtonGroup{ID: "bg1", Label: "Pick one", Buttons: []block.Button{{ID: "x", Label: "Extend"}, {ID: "y", Label: "Yield"}}}
	stored := []*domain.Message{
		{SessionID: f.session.ID, Role: domain.RoleUser, Blocks: block.List{&block.Text{ID: "t1", Text: "ideas?"}}},
		{SessionID: f.session.ID, Role: domain.RoleAssistant, Blocks: block.List{&block.Text{ID: "t2", Text: "Two options."}, bg}},
	}
	for _, m := range stored {
		require.NoError(t, f.conversations.AppendMessage(ctx, m))
	}

	s := f.attach(t)
	assert.Equal(t, StateAwaitingInteraction, s.State())
	assert.Equal(t, "bg1", s.PendingBlockID())
	require.Len(t, s.history, 2)
	assert.Equal(t, llm.RoleAssistant, s.history[1].Role)
	assert.Contains(t, s.history[1].Content, "Two options.\n\n"+block.FenceTag)

	require.NoError(t, s.HandleFrame(ctx, frame(t, protocol.EventInteraction, protocol.InteractionPayload{
		BlockID: "bg1", Value: protocol.Single("y"),
	})))
	req := f.provider.lastRequest()
	require.Len(t, req.Messages, 3)
	assert.Equal(t, `For "Pick one" I chose: Yield`, req.Messages[2].Content)
}

func TestReplay(t *testing.T) {
	ms := &block.MultiSelect{ID: "ms", Prompt: "Segments?", MinSelections: 0, MaxSelections: 2,
		Options: []block.Option{{ID: "smb", Label: "SMB"}, {ID: "ent", Label: "Enterprise"}}}
	msgs := []domain.Message{
		{Role: domain.RoleAssistant, Blocks: block.List{&block.Text{Text: "orphaned greeting"}}},
		{Role: domain.RoleUser, Blocks: block.List{&block.Text{Text: "first"}}},
		{Role: domain.RoleUser, Blocks: block.List{&block.Text{Text: "second"}}},
		{Role: domain.RoleAssistant, Blocks: block.List{ms}},
		{Role: domain.RoleUser, Blocks: block.List{&block.InteractionResponse{Ref: "ms", Values: []string{"ent", "smb"}}}},
		{Role: domain.RoleAssistant, Blocks: block.List{&block.Text{Text: "   "}}},
	}

	out := replay(msgs)
	require.Len(t, out, 3)
	assert.Equal(t, llm.Message{Role: llm.RoleUser, Content: "first\n\nsecond"}, out[0])
	assert.True(t, strings.HasPrefix(out[1].Content, block.FenceTag+"\n{"))
	assert.Equal(t, `For "Segments?" I selected: Enterprise, SMB`, out[2].Content)
	assert.Nil(t, pendingInteraction(msgs))
}

func TestAttachLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.relay.Attach(ctx, domain.Session{}.ID, f.out)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.conversations.UpdateStatus(ctx, f.session.ID, domain.SessionPaused)
	require.NoError(t, err)
	f.attach(t)
	sess, err := f.conversations.GetSession(ctx, f.session.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionActive, sess.Status)

	_, err = f.conversations.UpdateStatus(ctx, f.session.ID, domain.SessionCompleted)
	require.NoError(t, err)
	_, err = f.relay.Attach(ctx, f.session.ID, f.out)
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestAttachKeepsBoundAgentType(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.agents.DeleteAgentType(ctx, "brainstorm"))
	require.NoError(t, f.agents.SaveAgentType(ctx, &domain.AgentType{
		Name: "brainstorm", Model: "gpt-4o", SystemPrompt: "Impostor.", Enabled: true, IsDefault: true,
	}))

	_, err := f.relay.Attach(ctx, f.session.ID, f.out)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
