package observability

import (
	"context"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/ideaflow/internal/llm"
	"github.com/jkaninda/ideaflow/internal/sandbox"
)

var (
	_ llm.StreamingProvider = (*InstrumentedProvider)(nil)
	_ sandbox.Sandbox       = (*InstrumentedSandbox)(nil)
)

// InstrumentedProvider records request counts, latency and token usage for a
// streaming provider, and feeds the anomaly detector.
type InstrumentedProvider struct {
	inner   llm.StreamingProvider
	metrics *MetricsCollector
	tracer  trace.Tracer
	anomaly *AnomalyDetector
}

// NewInstrumentedProvider wraps inner. Any of metrics, ts and anomaly may be nil.
func NewInstrumentedProvider(inner llm.StreamingProvider, metrics *MetricsCollector, ts *TracerSetup, anomaly *AnomalyDetector) *InstrumentedProvider {
	return &InstrumentedProvider{
		inner:   inner,
		metrics: metrics,
		tracer:  ts.Tracer(),
		anomaly: anomaly,
	}
}

func (p *InstrumentedProvider) Name() string { return p.inner.Name() }

func (p *InstrumentedProvider) SendMessage(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	ctx, span := p.tracer.Start(ctx, "llm.send_message", trace.WithAttributes(
		attribute.String("llm.provider", p.inner.Name()),
		attribute.String("llm.model", req.Model),
	))
	defer span.End()

	start := time.Now()
	resp, err := p.inner.SendMessage(ctx, req)
	var usage llm.Usage
	if resp != nil {
		usage = resp.Usage
	}
	p.observe(span, req.Model, time.Since(start), usage, err)
	return resp, err
}

// StreamMessage forwards events from the inner provider unchanged and records
// the request once the stream ends.
func (p *InstrumentedProvider) StreamMessage(ctx context.Context, req *llm.Request, events chan<- llm.StreamEvent) error {
	defer close(events)

	ctx, span := p.tracer.Start(ctx, "llm.stream_message", trace.WithAttributes(
		attribute.String("llm.provider", p.inner.Name()),
		attribute.String("llm.model", req.Model),
	))
	defer span.End()

	start := time.Now()
	inner := make(chan llm.StreamEvent, cap(events))
	errc := make(chan error, 1)
	go func() { errc <- p.inner.StreamMessage(ctx, req, inner) }()

	var usage llm.Usage
	for ev := range inner {
		if ev.Type == llm.EventDone {
			usage = ev.Usage
		}
		if !llm.Send(ctx, events, ev) {
			for range inner {
			}
			break
		}
	}
	err := <-errc
	p.observe(span, req.Model, time.Since(start), usage, err)
	return err
}

func (p *InstrumentedProvider) observe(span trace.Span, model string, d time.Duration, usage llm.Usage, err error) {
	provider := p.inner.Name()
	status := "success"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(
		attribute.Int("llm.input_tokens", usage.InputTokens),
		attribute.Int("llm.output_tokens", usage.OutputTokens),
	)

	if p.metrics != nil {
		p.metrics.LLMRequestsTotal.WithLabelValues(provider, model, status).Inc()
		p.metrics.LLMRequestDuration.WithLabelValues(provider, model).Observe(d.Seconds())
		p.metrics.LLMTokensUsed.WithLabelValues(provider, model, "input").Add(float64(usage.InputTokens))
		p.metrics.LLMTokensUsed.WithLabelValues(provider, model, "output").Add(float64(usage.OutputTokens))
	}

	op := "llm_" + provider
	if err != nil {
		p.anomaly.RecordError(op)
	} else {
		p.anomaly.RecordSuccess(op)
	}
}

// InstrumentedSandbox records executions of the bash tool's sandbox.
type InstrumentedSandbox struct {
	inner   sandbox.Sandbox
	metrics *MetricsCollector
	tracer  trace.Tracer
	anomaly *AnomalyDetector
}

func NewInstrumentedSandbox(inner sandbox.Sandbox, metrics *MetricsCollector, ts *TracerSetup, anomaly *AnomalyDetector) *InstrumentedSandbox {
	return &InstrumentedSandbox{
		inner:   inner,
		metrics: metrics,
		tracer:  ts.Tracer(),
		anomaly: anomaly,
	}
}

func (s *InstrumentedSandbox) Execute(ctx context.Context, req sandbox.ExecutionRequest) (*sandbox.ExecutionResult, error) {
	ctx, span := s.tracer.Start(ctx, "sandbox.execute")
	defer span.End()

	start := time.Now()
	result, err := s.inner.Execute(ctx, req)
	duration := time.Since(start)

	status := "success"
	switch {
	case err != nil:
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	case result != nil && result.ExitCode != 0:
		status = "nonzero_exit"
		span.SetAttributes(attribute.Int("sandbox.exit_code", result.ExitCode))
	}

	if s.metrics != nil {
		s.metrics.SandboxExecutionsTotal.WithLabelValues(status).Inc()
		s.metrics.SandboxExecutionDuration.WithLabelValues().Observe(duration.Seconds())
	}
	if err != nil {
		s.anomaly.RecordError("sandbox")
	} else {
		s.anomaly.RecordSuccess("sandbox")
	}
	return result, err
}

func statusCode(code int) string {
	return strconv.Itoa(code)
}
