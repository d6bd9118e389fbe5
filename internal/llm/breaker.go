package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"
)

// Default circuit breaker settings.
const (
	defaultBreakerFailures uint32 = 5
	defaultBreakerTimeout         = 30 * time.Second
	defaultBreakerInterval        = 60 * time.Second
)

// ErrCircuitOpen is wrapped when the breaker rejects a call without trying it.
var ErrCircuitOpen = errors.New("provider circuit open")

// BreakerSettings configures BreakerProvider.
type BreakerSettings struct {
	MaxFailures uint32        // Consecutive failures before the circuit opens.
	Timeout     time.Duration // Open duration before a half-open probe.
	Interval    time.Duration // Closed-state period after which counts reset.
}

// BreakerProvider fails fast once the wrapped provider keeps failing.
// Cancelled requests do not count as failures.
type BreakerProvider struct {
	inner   StreamingProvider
	breaker *gobreaker.CircuitBreaker[struct{}]
	logger  *slog.Logger
}

var _ StreamingProvider = (*BreakerProvider)(nil)

// NewBreakerProvider wraps inner with a circuit breaker. Zero settings use defaults.
func NewBreakerProvider(inner StreamingProvider, cfg BreakerSettings, logger *slog.Logger) *BreakerProvider {
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = defaultBreakerFailures
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultBreakerTimeout
	}
	if cfg.Interval == 0 {
		cfg.Interval = defaultBreakerInterval
	}
	if logger == nil {
		logger = slog.Default()
	}

	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "llm:" + inner.Name(),
		MaxRequests: 1,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
	return &BreakerProvider{inner: inner, breaker: cb, logger: logger}
}

func (p *BreakerProvider) Name() string { return p.inner.Name() }

// State returns the current breaker state for monitoring.
func (p *BreakerProvider) State() gobreaker.State { return p.breaker.State() }

func (p *BreakerProvider) SendMessage(ctx context.Context, req *Request) (*Response, error) {
	var resp *Response
	_, err := p.breaker.Execute(func() (struct{}, error) {
		var err error
		resp, err = p.inner.SendMessage(ctx, req)
		return struct{}{}, err
	})
	if err != nil {
		return nil, p.wrap(err)
	}
	return resp, nil
}

// StreamMessage runs the whole stream inside the breaker. When the breaker
// rejects the call the channel is closed here after an error event.
func (p *BreakerProvider) StreamMessage(ctx context.Context, req *Request, events chan<- StreamEvent) error {
	called := false
	_, err := p.breaker.Execute(func() (struct{}, error) {
		called = true
		return struct{}{}, p.inner.StreamMessage(ctx, req, events)
	})
	if !called {
		err = p.wrap(err)
		Send(ctx, events, StreamEvent{Type: EventError, Error: err})
		close(events)
		return err
	}
	return err
}

func (p *BreakerProvider) wrap(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("provider %q: %w: %w", p.inner.Name(), ErrCircuitOpen, err)
	}
	return err
}
