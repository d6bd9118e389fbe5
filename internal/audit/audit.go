// Package audit records every tool invocation attempt as append-only history.
package audit

import (
	"context"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/jkaninda/ideaflow/internal/domain"
)

// MaxResultBytes caps the stored result text of one invocation.
const MaxResultBytes = 16 * 1024

// Store is append-only: it has no update or delete.
type Store interface {
	Append(ctx context.Context, rec *domain.UsageAuditRecord) error
	// List returns matching records, newest first.
	List(ctx context.Context, q Query) ([]domain.UsageAuditRecord, error)
	// Count returns the number of matching records.
	Count(ctx context.Context, q Query) (int64, error)
}

// Query filters audit records. Zero fields match anything.
type Query struct {
	SessionID uuid.UUID
	ToolName  string
	Statuses  []domain.UsageStatus
	// ExecutedOnly skips calls stopped before the tool ran.
	ExecutedOnly bool
	Limit        int
}

// Sink mirrors records somewhere besides the store, such as a JSONL file.
type Sink interface {
	Write(ctx context.Context, rec *domain.UsageAuditRecord) error
}

// Metrics receives one observation per recorded invocation.
type Metrics interface {
	RecordToolInvocation(tool string, status domain.UsageStatus, latency time.Duration)
	RecordAuditFailure(tool string)
}

// Entry is the input of Record.
type Entry struct {
	SessionID   uuid.UUID
	AgentTypeID uuid.UUID
	ToolName    string
	Parameters  map[string]any
	Result      string
	Status      domain.UsageStatus
	Executed    bool
	Latency     time.Duration
}

// Auditor writes entries to the store, then to the optional sink.
type Auditor struct {
	store   Store
	sink    Sink
	metrics Metrics
	logger  *slog.Logger
}

// New creates an Auditor.
func New(store Store, logger *slog.Logger) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{store: store, logger: logger}
}

// WithSink mirrors every stored record to s.
func (a *Auditor) WithSink(s Sink) *Auditor {
	a.sink = s
	return a
}

// WithMetrics reports invocations to m.
func (a *Auditor) WithMetrics(m Metrics) *Auditor {
	a.metrics = m
	return a
}

// Record appends one invocation record. Content never causes an error; only
// an unavailable store does, reported as an InfrastructureError.
func (a *Auditor) Record(ctx context.Context, e Entry) error {
	rec := &domain.UsageAuditRecord{
		ID:          uuid.New(),
		SessionID:   e.SessionID,
		AgentTypeID: e.AgentTypeID,
		ToolName:    e.ToolName,
		Parameters:  e.Parameters,
		Result:      truncate(e.Result, MaxResultBytes),
		Status:      e.Status,
		Executed:    e.Executed,
		LatencyMs:   e.Latency.Milliseconds(),
		CreatedAt:   time.Now().UTC(),
	}
	if rec.Parameters == nil {
		rec.Parameters = map[string]any{}
	}

	if a.metrics != nil {
		a.metrics.RecordToolInvocation(e.ToolName, e.Status, e.Latency)
	}

	if err := a.store.Append(ctx, rec); err != nil {
		a.logger.ErrorContext(ctx, "failed to record tool usage",
			slog.String("tool", e.ToolName),
			slog.String("session_id", e.SessionID.String()),
			slog.String("status", string(e.Status)),
			slog.String("error", err.Error()),
		)
		if a.metrics != nil {
			a.metrics.RecordAuditFailure(e.ToolName)
		}
		return domain.Infrastructure("appending usage audit", err)
	}

	if a.sink != nil {
		if err := a.sink.Write(ctx, rec); err != nil {
			a.logger.WarnContext(ctx, "audit sink write failed",
				slog.String("tool", e.ToolName),
				slog.String("error", err.Error()),
			)
		}
	}

	a.logger.InfoContext(ctx, "tool usage recorded",
		slog.String("tool", e.ToolName),
		slog.String("session_id", e.SessionID.String()),
		slog.String("status", string(e.Status)),
		slog.Int64("latency_ms", rec.LatencyMs),
	)
	return nil
}

// History returns a session's records, newest first.
func (a *Auditor) History(ctx context.Context, sessionID uuid.UUID, limit int) ([]domain.UsageAuditRecord, error) {
	recs, err := a.store.List(ctx, Query{SessionID: sessionID, Limit: limit})
	if err != nil {
		return nil, domain.Infrastructure("listing usage audit", err)
	}
	return recs, nil
}

// Invocations counts the calls of a tool in a session that actually ran.
// Calls denied, blocked or rejected before execution are not counted.
func (a *Auditor) Invocations(ctx context.Context, sessionID uuid.UUID, tool string) (int64, error) {
	n, err := a.store.Count(ctx, Query{
		SessionID:    sessionID,
		ToolName:     tool,
		ExecutedOnly: true,
	})
	if err != nil {
		return 0, domain.Infrastructure("counting usage audit", err)
	}
	return n, nil
}

// truncate cuts s to at most limit bytes without splitting a rune.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit] + "\n... [truncated]"
}
