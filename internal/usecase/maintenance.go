package usecase

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/arklim/taskhub-auth/internal/infra/telemetry"
)

const defaultMaintenanceInterval = time.Hour

// SweepFunc removes state that became irrelevant before now and returns how much it removed.
type SweepFunc func(ctx context.Context, now time.Time) (int, error)

// MaintenanceTask names a sweep for logs and metrics.
type MaintenanceTask struct {
	Name  string
	Sweep SweepFunc
}

// MaintenanceRunner invokes every task on a fixed interval.
type MaintenanceRunner struct {
	tasks    []MaintenanceTask
	interval time.Duration
	metrics  *telemetry.AuthMetrics
	logger   *zap.Logger
	now      func() time.Time
}

// NewMaintenanceRunner constructs a runner. metrics may be nil.
func NewMaintenanceRunner(interval time.Duration, metrics *telemetry.AuthMetrics, logger *zap.Logger, tasks ...MaintenanceTask) *MaintenanceRunner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = defaultMaintenanceInterval
	}
	return &MaintenanceRunner{
		tasks:    tasks,
		interval: interval,
		metrics:  metrics,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the runner clock for deterministic tests.
func (r *MaintenanceRunner) WithClock(clock func() time.Time) {
	if clock != nil {
		r.now = clock
	}
}

// RunOnce executes every task once. A failing task does not stop the others.
func (r *MaintenanceRunner) RunOnce(ctx context.Context) map[string]int {
	now := r.now()
	removed := make(map[string]int, len(r.tasks))
	for _, task := range r.tasks {
		n, err := task.Sweep(ctx, now)
		if err != nil {
			r.logger.Error("maintenance sweep failed", zap.String("task", task.Name), zap.Error(err))
			continue
		}
		removed[task.Name] = n
		r.metrics.ObserveSweep(task.Name, n)
		if n > 0 {
			r.logger.Info("maintenance sweep completed", zap.String("task", task.Name), zap.Int("removed", n))
		}
	}
	return removed
}

// Run sweeps once per interval until ctx is cancelled.
func (r *MaintenanceRunner) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}
