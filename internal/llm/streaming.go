package llm

import "context"

// Stream event types.
const (
	EventText    = "text"     // Content holds a text delta.
	EventToolUse = "tool_use" // ToolUse holds a complete tool call, input included.
	EventDone    = "done"     // StopReason and Usage are set.
	EventError   = "error"    // Error is set; no further events follow.
)

// StreamEvent represents a single event in a streaming model response.
type StreamEvent struct {
	Type       string
	Content    string
	ToolUse    *ContentBlock
	StopReason string
	Usage      Usage
	Error      error
}

// StreamingProvider extends Provider with streaming support.
// Providers that don't support streaming can be wrapped with
// NonStreamingAdapter to provide buffered streaming.
type StreamingProvider interface {
	Provider
	// StreamMessage sends a request and pushes events to the channel. The
	// provider closes the channel when the response is complete, fails, or
	// ctx is cancelled. Sends never block past cancellation.
	StreamMessage(ctx context.Context, req *Request, events chan<- StreamEvent) error
}

// Send delivers ev unless ctx is cancelled first.
func Send(ctx context.Context, events chan<- StreamEvent, ev StreamEvent) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// NonStreamingAdapter wraps a regular Provider to implement StreamingProvider
// by buffering the full response and sending it as a few events.
type NonStreamingAdapter struct {
	Provider
}

var _ StreamingProvider = (*NonStreamingAdapter)(nil)

// AsStreaming returns p itself when it streams, otherwise p wrapped in a
// NonStreamingAdapter.
func AsStreaming(p Provider) StreamingProvider {
	if sp, ok := p.(StreamingProvider); ok {
		return sp
	}
	return &NonStreamingAdapter{Provider: p}
}

// StreamMessage calls SendMessage and sends the result as buffered events.
func (a *NonStreamingAdapter) StreamMessage(ctx context.Context, req *Request, events chan<- StreamEvent) error {
	defer close(events)

	resp, err := a.SendMessage(ctx, req)
	if err != nil {
		Send(ctx, events, StreamEvent{Type: EventError, Error: err})
		return err
	}

	for _, b := range resp.ContentBlocks {
		var ev StreamEvent
		switch b.Type {
		case "text":
			ev = StreamEvent{Type: EventText, Content: b.Text}
		case "tool_use":
			ev = StreamEvent{Type: EventToolUse, ToolUse: &b}
		default:
			continue
		}
		if !Send(ctx, events, ev) {
			return ctx.Err()
		}
	}
	if len(resp.ContentBlocks) == 0 && resp.Content != "" {
		if !Send(ctx, events, StreamEvent{Type: EventText, Content: resp.Content}) {
			return ctx.Err()
		}
	}

	Send(ctx, events, StreamEvent{Type: EventDone, StopReason: resp.StopReason, Usage: resp.Usage})
	return nil
}
