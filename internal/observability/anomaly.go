package observability

import (
	"log/slog"
	"sync"
	"time"

	"github.com/jkaninda/ideaflow/internal/config"
)

const (
	defaultAnomalyWindow = 5 * time.Minute
	minAnomalySamples    = 5
)

// AnomalyDetector warns when the failure rate of an operation, such as a
// provider or a tool, crosses a threshold within a sliding window. It logs
// once per crossing and again only after the rate has recovered.
type AnomalyDetector struct {
	mu        sync.Mutex
	window    time.Duration
	threshold float64
	ops       map[string]*outcomeWindow
	logger    *slog.Logger
	now       func() time.Time
}

type outcomeWindow struct {
	samples  []outcome
	alerting bool
}

type outcome struct {
	at     time.Time
	failed bool
}

// NewAnomalyDetector creates a detector from cfg.
func NewAnomalyDetector(cfg *config.AnomalyConfig, logger *slog.Logger) *AnomalyDetector {
	d := &AnomalyDetector{
		window: defaultAnomalyWindow,
		ops:    make(map[string]*outcomeWindow),
		logger: logger,
		now:    time.Now,
	}
	if cfg != nil {
		if cfg.WindowSeconds > 0 {
			d.window = time.Duration(cfg.WindowSeconds) * time.Second
		}
		d.threshold = cfg.ErrorRateThreshold
	}
	return d
}

// RecordSuccess records a successful call of operation.
func (a *AnomalyDetector) RecordSuccess(operation string) { a.record(operation, false) }

// RecordError records a failed call of operation.
func (a *AnomalyDetector) RecordError(operation string) { a.record(operation, true) }

// ErrorRate returns the failure ratio of operation within the window and the
// number of samples it is based on.
func (a *AnomalyDetector) ErrorRate(operation string) (float64, int) {
	if a == nil {
		return 0, 0
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	w, ok := a.ops[operation]
	if !ok {
		return 0, 0
	}
	w.prune(a.now().Add(-a.window))
	return w.rate(), len(w.samples)
}

func (a *AnomalyDetector) record(operation string, failed bool) {
	if a == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	w, ok := a.ops[operation]
	if !ok {
		w = &outcomeWindow{}
		a.ops[operation] = w
	}
	w.samples = append(w.samples, outcome{at: now, failed: failed})
	w.prune(now.Add(-a.window))

	if a.threshold <= 0 || len(w.samples) < minAnomalySamples {
		return
	}
	rate := w.rate()
	switch {
	case rate > a.threshold && !w.alerting:
		w.alerting = true
		if a.logger != nil {
			a.logger.Warn("anomaly detected: high error rate",
				slog.String("operation", operation),
				slog.Float64("error_rate", rate),
				slog.Float64("threshold", a.threshold),
				slog.Int("samples", len(w.samples)),
			)
		}
	case rate <= a.threshold && w.alerting:
		w.alerting = false
		if a.logger != nil {
			a.logger.Info("error rate recovered",
				slog.String("operation", operation),
				slog.Float64("error_rate", rate),
			)
		}
	}
}

func (w *outcomeWindow) prune(cutoff time.Time) {
	i := 0
	for i < len(w.samples) && w.samples[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		w.samples = w.samples[i:]
	}
}

func (w *outcomeWindow) rate() float64 {
	if len(w.samples) == 0 {
		return 0
	}
	failed := 0
	for _, s := range w.samples {
		if s.failed {
			failed++
		}
	}
	return float64(failed) / float64(len(w.samples))
}
