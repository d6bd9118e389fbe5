package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const readinessTimeout = 3 * time.Second

// Health status values.
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
	StatusFail     = "fail"
)

// HealthChecker runs named dependency checks for the readiness endpoint.
type HealthChecker struct {
	mu     sync.RWMutex
	checks map[string]func(ctx context.Context) error
	logger *slog.Logger
}

// HealthStatus is the body of the health and readiness endpoints.
type HealthStatus struct {
	Status string                 `json:"status"`
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult is the outcome of one check.
type CheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

func NewHealthChecker(logger *slog.Logger) *HealthChecker {
	return &HealthChecker{checks: make(map[string]func(ctx context.Context) error), logger: logger}
}

// AddCheck registers check under name, replacing any previous one.
func (h *HealthChecker) AddCheck(name string, check func(ctx context.Context) error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check
}

// CheckHealth reports liveness; it is ok whenever the process can answer.
func (h *HealthChecker) CheckHealth() HealthStatus {
	return HealthStatus{Status: StatusOK}
}

// CheckReady runs every check concurrently under a shared timeout. The
// aggregate is degraded when any check fails.
func (h *HealthChecker) CheckReady(ctx context.Context) HealthStatus {
	h.mu.RLock()
	checks := make(map[string]func(ctx context.Context) error, len(h.checks))
	for name, c := range h.checks {
		checks[name] = c
	}
	h.mu.RUnlock()

	status := HealthStatus{Status: StatusOK}
	if len(checks) == 0 {
		return status
	}

	ctx, cancel := context.WithTimeout(ctx, readinessTimeout)
	defer cancel()

	var mu sync.Mutex
	status.Checks = make(map[string]CheckResult, len(checks))
	g, gctx := errgroup.WithContext(ctx)
	for name, check := range checks {
		g.Go(func() error {
			res := CheckResult{Status: StatusOK}
			if err := check(gctx); err != nil {
				res = CheckResult{Status: StatusFail, Message: err.Error()}
				if h.logger != nil {
					h.logger.Warn("readiness check failed",
						slog.String("check", name),
						slog.String("error", err.Error()),
					)
				}
			}
			mu.Lock()
			status.Checks[name] = res
			if res.Status == StatusFail {
				status.Status = StatusDegraded
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return status
}
