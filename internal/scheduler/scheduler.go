// Package scheduler runs the session maintenance job on a cron schedule:
// active sessions nobody has touched for a while are paused, and completed
// sessions past the retention age are archived.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/jkaninda/ideaflow/internal/config"
	"github.com/jkaninda/ideaflow/internal/conversation"
	"github.com/jkaninda/ideaflow/internal/domain"
)

// batchSize caps how many sessions one run moves per rule.
const batchSize = 500

// SessionStore is the subset of conversation.Store the job needs.
type SessionStore interface {
	ListSessions(ctx context.Context, f conversation.Filter) ([]domain.Session, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status domain.SessionStatus) (*domain.Session, error)
}

// LiveChecker reports whether a session currently has a connection attached.
type LiveChecker interface {
	IsLive(id uuid.UUID) bool
}

// Result counts what one run changed.
type Result struct {
	Paused   int
	Archived int
	Skipped  int
}

// Maintainer owns the cron runner for the maintenance job.
type Maintainer struct {
	store        SessionStore
	live         LiveChecker
	metrics      *Metrics
	logger       *slog.Logger
	schedule     string
	idleAfter    time.Duration
	archiveAfter time.Duration
	now          func() time.Time
}

// New creates a Maintainer. The schedule is validated here so a bad config
// fails at startup rather than silently never running.
func New(store SessionStore, cfg *config.MaintenanceConfig, logger *slog.Logger) (*Maintainer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	schedule := cfg.CronSchedule()
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid maintenance schedule %q: %w", schedule, err)
	}
	return &Maintainer{
		store:        store,
		logger:       logger.With(slog.String("component", "maintenance")),
		schedule:     schedule,
		idleAfter:    cfg.IdleAfter(),
		archiveAfter: cfg.ArchiveAfter(),
		now:          time.Now,
	}, nil
}

// WithLiveChecker keeps sessions with an attached connection from being paused.
func (m *Maintainer) WithLiveChecker(l LiveChecker) *Maintainer {
	m.live = l
	return m
}

// WithMetrics enables job metrics.
func (m *Maintainer) WithMetrics(metrics *Metrics) *Maintainer {
	m.metrics = metrics
	return m
}

// Start schedules the job and returns a stop function that waits for a
// running pass to finish. Overlapping runs are skipped.
func (m *Maintainer) Start(ctx context.Context) (func(), error) {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(m.schedule, func() { m.tick(ctx) }); err != nil {
		return nil, fmt.Errorf("scheduling maintenance: %w", err)
	}
	c.Start()
	m.logger.InfoContext(ctx, "session maintenance started",
		slog.String("schedule", m.schedule),
		slog.Duration("idle_after", m.idleAfter),
		slog.Duration("archive_after", m.archiveAfter),
	)
	return func() {
		<-c.Stop().Done()
		m.logger.Info("session maintenance stopped")
	}, nil
}

func (m *Maintainer) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	start := time.Now()
	res, err := m.RunOnce(ctx)
	if m.metrics != nil {
		m.metrics.Runs.Inc()
		m.metrics.TickDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			m.metrics.Failures.Inc()
		}
	}
	if err != nil {
		m.logger.ErrorContext(ctx, "session maintenance failed", slog.String("error", err.Error()))
		return
	}
	if res.Paused > 0 || res.Archived > 0 {
		m.logger.InfoContext(ctx, "session maintenance done",
			slog.Int("paused", res.Paused),
			slog.Int("archived", res.Archived),
			slog.Int("skipped", res.Skipped),
		)
	}
}

// RunOnce applies both rules once. Sessions that changed status since they
// were listed are skipped, not treated as failures.
func (m *Maintainer) RunOnce(ctx context.Context) (Result, error) {
	var res Result
	now := m.now().UTC()

	idle, err := m.store.ListSessions(ctx, conversation.Filter{
		Status:        domain.SessionActive,
		UpdatedBefore: now.Add(-m.idleAfter),
		Limit:         batchSize,
	})
	if err != nil {
		return res, fmt.Errorf("listing idle sessions: %w", err)
	}
	for _, s := range idle {
		if m.live != nil && m.live.IsLive(s.ID) {
			res.Skipped++
			continue
		}
		moved, err := m.move(ctx, s.ID, domain.SessionPaused)
		if err != nil {
			return res, err
		}
		if moved {
			res.Paused++
		} else {
			res.Skipped++
		}
	}

	done, err := m.store.ListSessions(ctx, conversation.Filter{
		Status:        domain.SessionCompleted,
		UpdatedBefore: now.Add(-m.archiveAfter),
		Limit:         batchSize,
	})
	if err != nil {
		return res, fmt.Errorf("listing completed sessions: %w", err)
	}
	for _, s := range done {
		moved, err := m.move(ctx, s.ID, domain.SessionArchived)
		if err != nil {
			return res, err
		}
		if moved {
			res.Archived++
		} else {
			res.Skipped++
		}
	}

	if m.metrics != nil {
		m.metrics.SessionsPaused.Add(float64(res.Paused))
		m.metrics.SessionsArchived.Add(float64(res.Archived))
	}
	return res, nil
}

func (m *Maintainer) move(ctx context.Context, id uuid.UUID, to domain.SessionStatus) (bool, error) {
	_, err := m.store.UpdateStatus(ctx, id, to)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrNotFound):
		m.logger.DebugContext(ctx, "session changed before maintenance",
			slog.String("session_id", id.String()),
			slog.String("target", string(to)),
		)
		return false, nil
	default:
		return false, fmt.Errorf("moving session %s to %s: %w", id, to, err)
	}
}
