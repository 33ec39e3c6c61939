// Package maintenance runs periodic janitorial sweeps across the cache,
// memory, and token-optimizer stores. Grounded on the teacher's
// scheduler.Scheduler tick loop (internal/scheduler/engine.go) and its
// robfig/cron/v3 ParseStandard usage (internal/scheduler/store.go),
// repurposed from user-task catch-up scheduling to C4/C5/C6 sweeps.
package maintenance

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/mentat-sh/mentat/internal/cache"
	"github.com/mentat-sh/mentat/internal/config"
	"github.com/mentat-sh/mentat/internal/memory"
	"github.com/mentat-sh/mentat/internal/tokenopt"
)

// Runner periodically sweeps the stores, either on a fixed tick or on a
// cron schedule when one is configured.
type Runner struct {
	cache     *cache.Cache
	memory    *memory.Store
	optimizer *tokenopt.Optimizer

	interval time.Duration
	schedule cron.Schedule

	cancel context.CancelFunc
	done   chan struct{}
}

// New builds a Runner from cfg. If cfg.MaintenanceCron is set it takes
// precedence over cfg.MaintenanceInterval (parsed with cron.ParseStandard,
// the same parser the teacher uses for its scheduler's catch-up windows).
func New(cfg config.DaemonConfig, c *cache.Cache, m *memory.Store, o *tokenopt.Optimizer) (*Runner, error) {
	interval, err := config.DurationOrDefault(cfg.MaintenanceInterval, config.DefaultDaemonMaintenanceInterval)
	if err != nil {
		return nil, err
	}

	r := &Runner{cache: c, memory: m, optimizer: o, interval: interval}

	if cfg.MaintenanceCron != "" {
		schedule, err := cron.ParseStandard(cfg.MaintenanceCron)
		if err != nil {
			return nil, err
		}
		r.schedule = schedule
	}

	return r, nil
}

// Start runs the sweep loop until ctx is cancelled or Stop is called.
func (r *Runner) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})

	go func() {
		defer close(r.done)
		for {
			wait := r.nextDelay()
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
				r.sweep(ctx)
			}
		}
	}()
}

func (r *Runner) nextDelay() time.Duration {
	if r.schedule == nil {
		return r.interval
	}
	now := time.Now()
	return r.schedule.Next(now).Sub(now)
}

func (r *Runner) sweep(ctx context.Context) {
	if evicted, err := r.cache.Maintenance(); err != nil {
		slog.Warn("maintenance: cache sweep failed", "error", err)
	} else if evicted > 0 {
		slog.Info("maintenance: cache sweep evicted entries", "count", evicted)
	}

	if err := r.memory.Maintenance(); err != nil {
		slog.Warn("maintenance: memory sweep failed", "error", err)
	}

	r.optimizer.Maintenance()
}

// Stop satisfies registry.Service, blocking until the sweep loop exits.
func (r *Runner) Stop(ctx context.Context) error {
	if r.cancel == nil {
		return nil
	}
	r.cancel()
	select {
	case <-r.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}
