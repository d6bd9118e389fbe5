package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Router picks a provider per request from the model name prefix, falling
// back to a default provider.
type Router struct {
	routes   []route
	fallback StreamingProvider
	logger   *slog.Logger
}

type route struct {
	prefix   string
	provider StreamingProvider
}

var _ StreamingProvider = (*Router)(nil)

// NewRouter creates a Router. fallback may be nil when every model is routed.
func NewRouter(fallback StreamingProvider, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{fallback: fallback, logger: logger}
}

// Route sends models starting with prefix to p. Earlier routes win.
func (r *Router) Route(prefix string, p StreamingProvider) *Router {
	r.routes = append(r.routes, route{prefix: strings.ToLower(prefix), provider: p})
	return r
}

// For returns the provider serving model.
func (r *Router) For(model string) (StreamingProvider, error) {
	m := strings.ToLower(model)
	for _, rt := range r.routes {
		if strings.HasPrefix(m, rt.prefix) {
			return rt.provider, nil
		}
	}
	if r.fallback == nil {
		return nil, fmt.Errorf("no provider configured for model %q", model)
	}
	return r.fallback, nil
}

func (r *Router) Name() string { return "router" }

func (r *Router) SendMessage(ctx context.Context, req *Request) (*Response, error) {
	p, err := r.For(req.Model)
	if err != nil {
		return nil, err
	}
	return p.SendMessage(ctx, req)
}

func (r *Router) StreamMessage(ctx context.Context, req *Request, events chan<- StreamEvent) error {
	p, err := r.For(req.Model)
	if err != nil {
		Send(ctx, events, StreamEvent{Type: EventError, Error: err})
		close(events)
		return err
	}
	r.logger.DebugContext(ctx, "routing model request",
		slog.String("model", req.Model),
		slog.String("provider", p.Name()),
	)
	return p.StreamMessage(ctx, req, events)
}
