// Package relay drives one live conversation per connection: it streams model
// output to the client as typed blocks, dispatches tool calls through the
// permission gate and accepts interaction events between turns.
package relay

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/ideaflow/internal/agent"
	"github.com/jkaninda/ideaflow/internal/audit"
	"github.com/jkaninda/ideaflow/internal/conversation"
	"github.com/jkaninda/ideaflow/internal/domain"
	"github.com/jkaninda/ideaflow/internal/llm"
	"github.com/jkaninda/ideaflow/internal/protocol"
	"github.com/jkaninda/ideaflow/internal/resolver"
	"github.com/jkaninda/ideaflow/internal/tools"
)

const (
	DefaultMaxToolRounds = 8
	DefaultToolTimeout   = 60 * time.Second
	DefaultFlushSize     = 400
	DefaultMaxTokens     = 4096
)

// ErrSessionClosed is returned by Attach for completed or archived sessions.
var ErrSessionClosed = errors.New("session is closed")

// Config tunes turn execution.
type Config struct {
	MaxToolRounds int
	ToolTimeout   time.Duration
	FlushSize     int // Text size after which a blank line ends a text block.
}

func (c Config) withDefaults() Config {
	if c.MaxToolRounds <= 0 {
		c.MaxToolRounds = DefaultMaxToolRounds
	}
	if c.ToolTimeout <= 0 {
		c.ToolTimeout = DefaultToolTimeout
	}
	if c.FlushSize < 0 {
		c.FlushSize = 0
	}
	return c
}

// HandleFactory builds agent handles for the agent type a session is bound to.
type HandleFactory interface {
	HandleByID(ctx context.Context, agentTypeID uuid.UUID) (*agent.Handle, error)
}

// Gate decides whether a tool call may run.
type Gate interface {
	Check(ctx context.Context, agentTypeID uuid.UUID, toolName string, params map[string]any) error
}

// Executors maps a resolved tool to the code that runs it.
type Executors interface {
	Lookup(t resolver.ResolvedTool) (tools.Tool, error)
}

// Auditor records tool invocation attempts.
type Auditor interface {
	Record(ctx context.Context, e audit.Entry) error
	Invocations(ctx context.Context, sessionID uuid.UUID, tool string) (int64, error)
}

// Metrics receives relay counters. Implementations must be safe for
// concurrent use.
type Metrics interface {
	RecordTurn(agentType, outcome string, d time.Duration)
	RecordBlock(kind string)
	RecordClientError(code string)
}

var (
	_ HandleFactory = (*agent.Factory)(nil)
	_ Gate          = (*resolver.Resolver)(nil)
	_ Executors     = (*tools.Registry)(nil)
	_ Auditor       = (*audit.Auditor)(nil)
)

// Relay holds the dependencies shared by every live session.
type Relay struct {
	provider      llm.StreamingProvider
	handles       HandleFactory
	conversations conversation.Store
	gate          Gate
	executors     Executors
	auditor       Auditor
	metrics       Metrics
	tracer        trace.Tracer
	config        Config
	logger        *slog.Logger
}

// New creates a Relay. Tools and auditing are attached with WithExecutors and
// WithAuditor; without executors every permitted call fails.
func New(provider llm.StreamingProvider, handles HandleFactory, conversations conversation.Store, gate Gate, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		provider:      provider,
		handles:       handles,
		conversations: conversations,
		gate:          gate,
		tracer:        otel.Tracer("github.com/jkaninda/ideaflow/internal/relay"),
		config:        Config{}.withDefaults(),
		logger:        logger,
	}
}

// WithExecutors sets where tool implementations are looked up.
func (r *Relay) WithExecutors(e Executors) *Relay {
	r.executors = e
	return r
}

// WithAuditor sets the usage auditor.
func (r *Relay) WithAuditor(a Auditor) *Relay {
	r.auditor = a
	return r
}

// WithMetrics enables relay metrics.
func (r *Relay) WithMetrics(m Metrics) *Relay {
	r.metrics = m
	return r
}

// WithTracer replaces the global tracer.
func (r *Relay) WithTracer(t trace.Tracer) *Relay {
	if t != nil {
		r.tracer = t
	}
	return r
}

// WithConfig sets turn limits. Zero fields keep their defaults.
func (r *Relay) WithConfig(c Config) *Relay {
	r.config = c.withDefaults()
	return r
}

// Attach opens a live Session on a stored conversation. Events for the
// client are pushed into out, which the caller drains until the session's
// context ends. A paused session becomes active again.
func (r *Relay) Attach(ctx context.Context, sessionID uuid.UUID, out chan<- *protocol.Envelope) (*Session, error) {
	sess, err := r.conversations.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		return nil, domain.Infrastructure("loading session", err)
	}
	if !sess.Status.Live() {
		return nil, ErrSessionClosed
	}
	if sess.Status == domain.SessionPaused {
		if sess, err = r.conversations.UpdateStatus(ctx, sessionID, domain.SessionActive); err != nil {
			return nil, domain.Infrastructure("resuming session", err)
		}
	}

	handle, err := r.handles.HandleByID(ctx, sess.AgentTypeID)
	if err != nil {
		return nil, err
	}

	stored, err := r.conversations.ListMessages(ctx, sessionID, handle.ContextLimit())
	if err != nil {
		return nil, domain.Infrastructure("loading history", err)
	}

	s := &Session{
		relay:   r,
		session: sess,
		handle:  handle,
		out:     out,
		history: replay(stored),
		state:   StateIdle,
		logger: r.logger.With(
			slog.String("session_id", sess.ID.String()),
			slog.String("agent_type", handle.AgentTypeName()),
		),
	}
	if pending := pendingInteraction(stored); pending != nil {
		s.pending = pending
		s.state = StateAwaitingInteraction
		s.awaitingSince = time.Now()
	}

	s.logger.InfoContext(ctx, "session attached",
		slog.Int("history_messages", len(stored)),
		slog.String("state", s.state.String()),
	)
	return s, nil
}
