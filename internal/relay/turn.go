package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/ideaflow/internal/block"
	"github.com/jkaninda/ideaflow/internal/domain"
	"github.com/jkaninda/ideaflow/internal/llm"
	"github.com/jkaninda/ideaflow/internal/protocol"
)

var errModel = errors.New("model error")

// blockGuide is appended to every system prompt so the model knows how to
// ask the user for a choice.
const blockGuide = `

When you want the user to choose, write the choice as a fenced block whose info string is "block" and whose body is one JSON object, then stop and wait for the answer:

` + "```block" + `
{"type":"button_group","label":"Which direction?","buttons":[{"id":"a","label":"Option A","style":"primary"},{"id":"b","label":"Option B"}]}
` + "```" + `

Use "multi_select" with "prompt", "options" ([{"id","label"}]), "min_selections" and "max_selections" for several answers. Everything else is markdown.`

// turn is the state of one model response, possibly spanning several tool
// rounds. Nothing in it is visible to the session until it completes.
type turn struct {
	id       string
	splitter *block.Splitter
	blocks   block.List
	live     bool // stream blocks as they complete instead of at the end
	span     trace.Span
}

// round is one provider call.
type round struct {
	text  strings.Builder
	calls []llm.ContentBlock
}

func (r *round) message() llm.Message {
	var content []llm.ContentBlock
	if text := r.text.String(); text != "" {
		content = append(content, llm.TextBlock(text))
	}
	content = append(content, r.calls...)
	return llm.Message{Role: llm.RoleAssistant, ContentBlocks: content}
}

// runTurn streams one model response to the client, running requested tools
// between rounds, then stores the response as a single assistant message.
func (s *Session) runTurn(ctx context.Context) {
	start := time.Now()
	ctx, span := s.relay.tracer.Start(ctx, "relay.turn",
		trace.WithAttributes(
			attribute.String("session_id", s.ID()),
			attribute.String("agent_type", s.handle.AgentTypeName()),
		))
	defer span.End()

	s.setState(StateStreaming)
	t := &turn{
		id:       block.NewID(),
		splitter: block.NewSplitter(s.relay.config.FlushSize),
		live:     s.handle.Streaming(),
		span:     span,
	}
	history := slices.Clone(s.history)
	maxRounds := s.relay.config.MaxToolRounds

	for n := 1; ; n++ {
		r, err := s.streamRound(ctx, t, history)
		if err != nil {
			s.abortTurn(ctx, t, err, start)
			return
		}
		history = append(history, r.message())
		if len(r.calls) == 0 {
			break
		}

		results := make([]llm.ContentBlock, 0, len(r.calls))
		if n >= maxRounds {
			s.logger.WarnContext(ctx, "tool round limit reached",
				slog.Int("max_tool_rounds", maxRounds),
				slog.String("message_id", t.id),
			)
			for _, call := range r.calls {
				results = append(results, llm.ToolResultBlock(call.ID, "Not executed: tool round limit reached.", true))
			}
			history = append(history, llm.Message{Role: llm.RoleUser, ContentBlocks: results})
			break
		}

		s.logger.InfoContext(ctx, "executing tool calls",
			slog.Int("round", n),
			slog.Int("tool_calls", len(r.calls)),
		)
		for _, call := range r.calls {
			results = append(results, s.dispatch(ctx, call))
		}
		history = append(history, llm.Message{Role: llm.RoleUser, ContentBlocks: results})

		if ctx.Err() != nil {
			s.abortTurn(ctx, t, ctx.Err(), start)
			return
		}
	}

	s.completeTurn(ctx, t, history, start)
}

// streamRound runs one provider call and feeds its text through the
// splitter. Tool calls are collected, not executed.
func (s *Session) streamRound(ctx context.Context, t *turn, history []llm.Message) (*round, error) {
	events := make(chan llm.StreamEvent, 32)
	done := make(chan error, 1)
	req := s.request(history)
	go func() {
		done <- s.relay.provider.StreamMessage(ctx, req, events)
	}()

	r := &round{}
	var streamErr error
	for ev := range events {
		switch ev.Type {
		case llm.EventText:
			r.text.WriteString(ev.Content)
			blocks, err := t.splitter.Write(ev.Content)
			s.emit(ctx, t, blocks, err)
		case llm.EventToolUse:
			if ev.ToolUse != nil {
				r.calls = append(r.calls, *ev.ToolUse)
			}
		case llm.EventError:
			streamErr = ev.Error
		}
	}
	if err := <-done; err != nil && streamErr == nil {
		streamErr = err
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if streamErr != nil {
		return nil, fmt.Errorf("%w: %w", errModel, streamErr)
	}
	blocks, err := t.splitter.Flush()
	s.emit(ctx, t, blocks, err)
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return r, nil
}

func (s *Session) request(history []llm.Message) *llm.Request {
	temperature := s.handle.Temperature()
	maxTokens := s.handle.MaxTokens()
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	specs := s.handle.ToolSpecs()
	var defs []llm.ToolDefinition
	for _, spec := range specs {
		defs = append(defs, llm.ToolDefinition{
			Name:        spec.Name,
			Description: spec.Description,
			InputSchema: spec.Parameters,
		})
	}
	return &llm.Request{
		Model:        s.handle.Model(),
		SystemPrompt: s.handle.SystemPrompt() + blockGuide,
		Messages:     history,
		MaxTokens:    maxTokens,
		Temperature:  &temperature,
		Tools:        defs,
	}
}

// emit appends completed blocks to the turn buffer and, for streaming agent
// types, sends them right away. A malformed fenced block has already been
// turned into text by the splitter; the client is told about it.
func (s *Session) emit(ctx context.Context, t *turn, blocks []block.Block, splitErr error) {
	if splitErr != nil {
		s.report(ctx, protocol.CodeModel, "The response contained a malformed interactive block; it is shown as text.", splitErr)
	}
	for _, b := range blocks {
		t.blocks = append(t.blocks, b)
		if m := s.relay.metrics; m != nil {
			m.RecordBlock(string(b.Kind()))
		}
		if t.live {
			s.send(ctx, protocol.EventStreamChunk, protocol.StreamChunkPayload{MessageID: t.id, Block: b})
		}
	}
}

func (s *Session) completeTurn(ctx context.Context, t *turn, history []llm.Message, start time.Time) {
	if !t.live {
		for _, b := range t.blocks {
			s.send(ctx, protocol.EventStreamChunk, protocol.StreamChunkPayload{MessageID: t.id, Block: b})
		}
	}
	// A client that left before seeing every block gets no stored message.
	if ctx.Err() != nil {
		s.abortTurn(ctx, t, ctx.Err(), start)
		return
	}

	if len(t.blocks) > 0 {
		msg := &domain.Message{
			ID:        t.id,
			SessionID: s.session.ID,
			Role:      domain.RoleAssistant,
			Blocks:    t.blocks,
		}
		if err := s.relay.conversations.AppendMessage(ctx, msg); err != nil {
			s.fail(ctx, domain.Infrastructure("saving assistant message", err))
		}
	}
	s.history = history

	var pending block.Block
	if last := t.blocks.Last(); last != nil && block.Interactive(last) {
		pending = last
	}

	s.mu.Lock()
	s.state = StateComplete
	s.mu.Unlock()

	complete := protocol.StreamCompletePayload{MessageID: t.id}
	if pending != nil {
		complete.AwaitingInteraction = true
		complete.PendingBlockID = pending.BlockID()
	}
	s.send(ctx, protocol.EventStreamComplete, complete)

	s.mu.Lock()
	if pending != nil {
		s.pending = pending
		s.awaitingSince = time.Now()
		s.state = StateAwaitingInteraction
	} else {
		s.state = StateIdle
	}
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "turn complete",
		slog.String("message_id", t.id),
		slog.Int("blocks", len(t.blocks)),
		slog.Bool("awaiting_interaction", pending != nil),
		slog.Duration("duration", time.Since(start)),
	)
	s.recordTurn("complete", start)
}

// abortTurn discards everything the turn produced. A cancelled context means
// the client went away; anything else is a model failure the client hears
// about.
func (s *Session) abortTurn(ctx context.Context, t *turn, err error, start time.Time) {
	t.splitter.Reset()
	t.blocks = nil
	s.setState(StateIdle)

	if ctx.Err() != nil {
		s.logger.Info("turn cancelled", slog.String("message_id", t.id))
		s.recordTurn("cancelled", start)
		return
	}

	t.span.RecordError(err)
	t.span.SetStatus(codes.Error, err.Error())
	s.fail(ctx, err)
	s.recordTurn("model_error", start)
}

func (s *Session) recordTurn(outcome string, start time.Time) {
	if m := s.relay.metrics; m != nil {
		m.RecordTurn(s.handle.AgentTypeName(), outcome, time.Since(start))
	}
}
