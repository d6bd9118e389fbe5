package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	name  string
	err   error
	calls int
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) SendMessage(_ context.Context, _ *Request) (*Response, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &Response{Content: s.name, ContentBlocks: []ContentBlock{TextBlock(s.name)}, StopReason: StopEndTurn}, nil
}

func drain(events <-chan StreamEvent) []StreamEvent {
	var out []StreamEvent
	for ev := range events {
		out = append(out, ev)
	}
	return out
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	inner := &stubProvider{name: "flaky", err: errors.New("upstream 500")}
	bp := NewBreakerProvider(AsStreaming(inner), BreakerSettings{MaxFailures: 2, Timeout: time.Minute}, nil)

	for range 2 {
		events := make(chan StreamEvent, 4)
		require.Error(t, bp.StreamMessage(context.Background(), &Request{}, events))
		drain(events)
	}
	assert.Equal(t, gobreaker.StateOpen, bp.State())

	events := make(chan StreamEvent, 4)
	err := bp.StreamMessage(context.Background(), &Request{}, events)
	require.ErrorIs(t, err, ErrCircuitOpen)
	got := drain(events)
	require.Len(t, got, 1)
	assert.Equal(t, EventError, got[0].Type)
	assert.Equal(t, 2, inner.calls)
}

func TestBreakerIgnoresCancellation(t *testing.T) {
	inner := &stubProvider{name: "slow", err: context.Canceled}
	bp := NewBreakerProvider(AsStreaming(inner), BreakerSettings{MaxFailures: 1}, nil)

	for range 3 {
		_, err := bp.SendMessage(context.Background(), &Request{})
		require.ErrorIs(t, err, context.Canceled)
	}
	assert.Equal(t, gobreaker.StateClosed, bp.State())
}

func TestRouterByModelPrefix(t *testing.T) {
	claude := &stubProvider{name: "anthropic"}
	gpt := &stubProvider{name: "openai"}
	r := NewRouter(AsStreaming(claude), nil).Route("gpt-", AsStreaming(gpt))

	p, err := r.For("GPT-4o")
	require.NoError(t, err)
	assert.Equal(t, "openai", p.Name())

	events := make(chan StreamEvent, 4)
	require.NoError(t, r.StreamMessage(context.Background(), &Request{Model: "claude-sonnet"}, events))
	got := drain(events)
	require.NotEmpty(t, got)
	assert.Equal(t, "anthropic", got[0].Content)
}

func TestRouterWithoutFallback(t *testing.T) {
	r := NewRouter(nil, nil)
	events := make(chan StreamEvent, 1)
	require.Error(t, r.StreamMessage(context.Background(), &Request{Model: "mystery"}, events))
	got := drain(events)
	require.Len(t, got, 1)
	assert.Equal(t, EventError, got[0].Type)
}

func TestSendStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, Send(ctx, make(chan StreamEvent), StreamEvent{Type: EventText}))
}
