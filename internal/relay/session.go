package relay

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/jkaninda/ideaflow/internal/agent"
	"github.com/jkaninda/ideaflow/internal/block"
	"github.com/jkaninda/ideaflow/internal/domain"
	"github.com/jkaninda/ideaflow/internal/llm"
	"github.com/jkaninda/ideaflow/internal/protocol"
)

// State is the position of a Session in its turn cycle.
type State int

const (
	StateIdle State = iota
	StateStreaming
	StateAwaitingInteraction
	StateComplete
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStreaming:
		return "streaming"
	case StateAwaitingInteraction:
		return "awaiting_interaction"
	case StateComplete:
		return "complete"
	}
	return "unknown"
}

// Session is the live side of one conversation on one connection. Frames
// must be handled one at a time; State and AwaitingSince may be read from
// other goroutines.
type Session struct {
	relay   *Relay
	session *domain.Session
	handle  *agent.Handle
	out     chan<- *protocol.Envelope
	logger  *slog.Logger

	// history is the model-facing transcript. It only grows when a turn
	// completes, so a failed or cancelled turn leaves no trace.
	history []llm.Message

	mu            sync.Mutex
	state         State
	pending       block.Block
	awaitingSince time.Time
}

// ID returns the stored session id.
func (s *Session) ID() string { return s.session.ID.String() }

// AgentHandle returns the agent handle the session runs with.
func (s *Session) AgentHandle() *agent.Handle { return s.handle }

// State returns the current turn state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// AwaitingSince returns when the pending interaction was emitted, or the
// zero time when none is pending.
func (s *Session) AwaitingSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return time.Time{}
	}
	return s.awaitingSince
}

// PendingBlockID returns the id of the interactive block awaiting an answer.
func (s *Session) PendingBlockID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return ""
	}
	return s.pending.BlockID()
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Close resets the session. Any in-flight turn must already have been
// cancelled through its context.
func (s *Session) Close() {
	s.mu.Lock()
	s.state = StateIdle
	s.pending = nil
	s.awaitingSince = time.Time{}
	s.mu.Unlock()
	s.logger.Info("session detached")
}

// HandleFrame processes one raw client frame. Client mistakes are reported
// to the client as error events and also returned; the connection stays
// usable either way.
func (s *Session) HandleFrame(ctx context.Context, data []byte) error {
	env, err := protocol.ParseEnvelope(data)
	if err != nil {
		msg := err.Error()
		var protoErr *domain.ProtocolError
		if errors.As(err, &protoErr) {
			msg = protoErr.Reason
		}
		s.report(ctx, protocol.CodeInvalidFrame, msg, err)
		return err
	}
	if err := s.Handle(ctx, env); err != nil {
		s.fail(ctx, err)
		return err
	}
	return nil
}

// Handle processes a decoded client event. Errors are not reported to the
// client; HandleFrame does that.
func (s *Session) Handle(ctx context.Context, env *protocol.Envelope) error {
	switch env.Type {
	case protocol.EventUserMessage:
		var p protocol.UserMessagePayload
		if err := env.Decode(&p); err != nil {
			return domain.Protocolf("user_message: %v", err)
		}
		return s.userMessage(ctx, p)
	case protocol.EventInteraction:
		var p protocol.InteractionPayload
		if err := env.Decode(&p); err != nil {
			return domain.Protocolf("interaction: %v", err)
		}
		return s.interaction(ctx, p)
	case protocol.EventPong:
		return nil
	default:
		return domain.Protocolf("unsupported event type %q", env.Type)
	}
}

func (s *Session) userMessage(ctx context.Context, p protocol.UserMessagePayload) error {
	content := strings.TrimSpace(p.Content)
	if content == "" {
		return domain.Protocolf("user_message content is empty")
	}
	if s.State() == StateStreaming {
		return domain.Protocolf("a response is still streaming")
	}

	if skipped := s.clearPending(); skipped != "" {
		s.logger.InfoContext(ctx, "pending interaction skipped by new message",
			slog.String("block_id", skipped),
		)
	}

	text := &block.Text{ID: block.NewID(), Text: content}
	s.saveUserMessage(ctx, block.List{text})
	s.history = append(s.history, llm.Message{Role: llm.RoleUser, Content: content})
	s.runTurn(ctx)
	return nil
}

func (s *Session) interaction(ctx context.Context, p protocol.InteractionPayload) error {
	s.mu.Lock()
	pending := s.pending
	s.mu.Unlock()

	if pending == nil {
		return domain.Protocolf("no interaction is pending")
	}
	if p.BlockID != pending.BlockID() {
		return domain.Protocolf("interaction references block %q, pending block is %q", p.BlockID, pending.BlockID())
	}
	if err := checkArity(pending, p.Value); err != nil {
		return err
	}

	resp := &block.InteractionResponse{
		ID:     block.NewID(),
		Ref:    pending.BlockID(),
		Values: slices.Clone(p.Value.Values),
	}
	s.clearPending()
	s.saveUserMessage(ctx, block.List{resp})

	r := renderer{blocks: map[string]block.Block{pending.BlockID(): pending}}
	s.history = append(s.history, llm.Message{Role: llm.RoleUser, Content: block.Visit[string](resp, r)})
	s.runTurn(ctx)
	return nil
}

// checkArity validates an answer against the pending block: one known
// button id for a button group, a list of distinct known option ids within
// bounds for a multi select.
func checkArity(pending block.Block, v protocol.InteractionValue) error {
	switch b := pending.(type) {
	case *block.ButtonGroup:
		if v.IsList || len(v.Values) != 1 {
			return domain.Protocolf("button_group %s expects a single button id", b.ID)
		}
		if !b.HasButton(v.Values[0]) {
			return domain.Protocolf("button_group %s has no button %q", b.ID, v.Values[0])
		}
	case *block.MultiSelect:
		if !v.IsList {
			return domain.Protocolf("multi_select %s expects a list of option ids", b.ID)
		}
		n := len(v.Values)
		if n < b.MinSelections || n > b.MaxSelections {
			return domain.Protocolf("multi_select %s expects %d to %d selections, got %d",
				b.ID, b.MinSelections, b.MaxSelections, n)
		}
		seen := make(map[string]bool, n)
		for _, id := range v.Values {
			if !b.HasOption(id) {
				return domain.Protocolf("multi_select %s has no option %q", b.ID, id)
			}
			if seen[id] {
				return domain.Protocolf("multi_select %s: option %q selected twice", b.ID, id)
			}
			seen[id] = true
		}
	default:
		return domain.Protocolf("block %s does not accept interactions", pending.BlockID())
	}
	return nil
}

// clearPending drops the pending interaction and returns its block id.
func (s *Session) clearPending() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return ""
	}
	id := s.pending.BlockID()
	s.pending = nil
	s.awaitingSince = time.Time{}
	if s.state == StateAwaitingInteraction {
		s.state = StateIdle
	}
	return id
}

// saveUserMessage persists and echoes a user message. A storage failure is
// reported but does not stop the conversation.
func (s *Session) saveUserMessage(ctx context.Context, blocks block.List) {
	msg := &domain.Message{
		ID:        block.NewID(),
		SessionID: s.session.ID,
		Role:      domain.RoleUser,
		Blocks:    blocks,
	}
	if err := s.relay.conversations.AppendMessage(ctx, msg); err != nil {
		s.fail(ctx, domain.Infrastructure("saving user message", err))
		return
	}
	s.send(ctx, protocol.EventUserMessageSaved, protocol.UserMessageSavedPayload{Message: protocol.ViewOf(msg)})
}

// send pushes an event to the client, giving up when ctx ends.
func (s *Session) send(ctx context.Context, t protocol.EventType, payload any) bool {
	env, err := protocol.NewEnvelope(t, payload)
	if err != nil {
		s.logger.Error("failed to encode event", slog.String("type", string(t)), slog.String("error", err.Error()))
		return false
	}
	env.SessionID = s.ID()
	select {
	case s.out <- env:
		return true
	case <-ctx.Done():
		return false
	}
}

// fail reports err to the client as an error event. Infrastructure details
// stay in the logs.
func (s *Session) fail(ctx context.Context, err error) {
	code, msg := classify(err)
	s.report(ctx, code, msg, err)
}

func (s *Session) report(ctx context.Context, code, msg string, err error) {
	if code == protocol.CodeInternal {
		s.logger.ErrorContext(ctx, "session error", slog.String("error", err.Error()))
	} else {
		s.logger.WarnContext(ctx, "client error",
			slog.String("code", code),
			slog.String("error", err.Error()),
		)
	}
	if m := s.relay.metrics; m != nil {
		m.RecordClientError(code)
	}
	s.send(ctx, protocol.EventError, protocol.ErrorPayload{Message: msg, Code: code})
}

func classify(err error) (code, msg string) {
	var protoErr *domain.ProtocolError
	switch {
	case errors.As(err, &protoErr):
		return protocol.CodeProtocol, protoErr.Reason
	case errors.Is(err, domain.ErrNotFound):
		return protocol.CodeNotFound, err.Error()
	case errors.Is(err, ErrSessionClosed):
		return protocol.CodeSessionClosed, err.Error()
	case errors.Is(err, errModel):
		return protocol.CodeModel, "The model could not complete this response. Please try again."
	default:
		return protocol.CodeInternal, "Something went wrong on our side. Please try again."
	}
}
