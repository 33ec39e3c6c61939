package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/mentat-sh/mentat/internal/contract"
	mentaterrors "github.com/mentat-sh/mentat/internal/errors"
	"github.com/mentat-sh/mentat/internal/health"
	"github.com/mentat-sh/mentat/internal/logger"
	"github.com/mentat-sh/mentat/internal/queue"
)

// Dispatcher implements C2: given a request, try registered providers in
// ranked order until one succeeds or every round is exhausted.
type Dispatcher struct {
	mu          sync.RWMutex
	descriptors []*ProviderDescriptor
	ranked      []*ProviderDescriptor

	maxRetries          int
	maxTimeout          time.Duration
	healthCheckInterval time.Duration

	monitor *health.Monitor
	queues  *queue.Manager // optional: when set, attempts route through C3 per-provider queues

	stopHealthCheck chan struct{}
}

type Option func(*Dispatcher)

func WithMaxRetries(n int) Option { return func(d *Dispatcher) { d.maxRetries = n } }
func WithMaxTimeout(t time.Duration) Option {
	return func(d *Dispatcher) { d.maxTimeout = t }
}
func WithHealthCheckInterval(t time.Duration) Option {
	return func(d *Dispatcher) { d.healthCheckInterval = t }
}

// WithQueueManager routes every attempt through the per-provider Request
// Queue (C3) rather than calling the provider client directly.
func WithQueueManager(m *queue.Manager) Option {
	return func(d *Dispatcher) { d.queues = m }
}

func New(monitor *health.Monitor, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		maxRetries:          3,
		maxTimeout:          30 * time.Second,
		healthCheckInterval: time.Minute,
		monitor:             monitor,
		stopHealthCheck:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Register adds a provider to the pool and re-sorts the rank order (spec
// §4.2: ranking is recomputed at registration).
func (d *Dispatcher) Register(desc *ProviderDescriptor) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.descriptors = append(d.descriptors, desc)
	d.rankLocked()
}

// Rerank recomputes ranking on demand (spec §4.2: "on explicit re-sort
// requests").
func (d *Dispatcher) Rerank() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rankLocked()
}

// rankLocked sorts descending by priority, then success rate, then
// weight (spec §4.2 ranking rules 1-3). Must hold d.mu.
func (d *Dispatcher) rankLocked() {
	ranked := make([]*ProviderDescriptor, len(d.descriptors))
	copy(ranked, d.descriptors)
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		ar, br := a.Stats().SuccessRate, b.Stats().SuccessRate
		if ar != br {
			return ar > br
		}
		return a.Weight > b.Weight
	})
	d.ranked = ranked
}

func (d *Dispatcher) snapshotRanked() []*ProviderDescriptor {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*ProviderDescriptor, len(d.ranked))
	copy(out, d.ranked)
	return out
}

// Query runs the dispatch algorithm from spec.md §4.2: for each retry
// round, try every provider in rank order, racing against
// min(maxTimeout, remainingDeadline); sleep 2^retry seconds and re-rank
// between rounds; raise ErrAllProvidersFailed if every round fails.
func (d *Dispatcher) Query(ctx context.Context, req contract.LLMRequest) (*contract.LLMResponse, error) {
	var lastErr error

	for retry := 0; retry < d.maxRetries; retry++ {
		providers := d.snapshotRanked()
		if len(providers) == 0 {
			return nil, mentaterrors.Internal("no providers registered")
		}

		for _, desc := range providers {
			resp, err := d.attempt(ctx, desc, req)
			if err == nil {
				return resp, nil
			}
			lastErr = err

			if mentaterrors.IsAuthoritative(err) {
				// non-retryable: skip to next provider, don't count as a
				// failed retry round for this one.
				continue
			}
			if !mentaterrors.IsRetryable(err) {
				continue
			}
		}

		if retry < d.maxRetries-1 {
			backoff := time.Duration(math.Pow(2, float64(retry))) * time.Second
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("dispatch cancelled: %w", ctx.Err())
			case <-time.After(backoff):
			}
			d.Rerank()
		}
	}

	if d.monitor != nil {
		d.monitor.PublishAllProvidersFailed(lastErr)
	}
	if lastErr == nil {
		lastErr = mentaterrors.AllProvidersFailed("no providers available")
	}
	return nil, fmt.Errorf("%w: %v", mentaterrors.ErrAllProvidersFailed, lastErr)
}

func (d *Dispatcher) attempt(ctx context.Context, desc *ProviderDescriptor, req contract.LLMRequest) (*contract.LLMResponse, error) {
	timeout := d.maxTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	var resp *contract.LLMResponse
	var err error
	if d.queues != nil {
		var value interface{}
		value, err = d.queues.For(desc.Client.Name()).Submit(callCtx, desc.Priority, func(ctx context.Context) (interface{}, error) {
			return desc.Client.Query(ctx, req)
		})
		if err == nil {
			resp = value.(*contract.LLMResponse)
		}
	} else {
		resp, err = desc.Client.Query(callCtx, req)
	}
	latency := time.Since(start).Milliseconds()

	if err != nil {
		desc.recordFailure()
		if d.monitor != nil {
			d.monitor.PublishQueryError(desc.Client.Name(), desc.Client.InstanceID(), err)
		}
		slog.Warn("provider query failed", "provider", desc.Client.Name(), "trace_id", logger.GetTraceID(ctx), "error", err)
		return nil, err
	}

	desc.recordSuccess(latency)
	return resp, nil
}

// StartHealthChecks launches the background probe task (spec §4.2:
// "a background task every healthCheckInterval issues a minimal probe").
func (d *Dispatcher) StartHealthChecks(ctx context.Context) {
	ticker := time.NewTicker(d.healthCheckInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-d.stopHealthCheck:
				return
			case <-ticker.C:
				d.probeAll(ctx)
			}
		}
	}()
}

func (d *Dispatcher) Stop() {
	close(d.stopHealthCheck)
}

func (d *Dispatcher) probeAll(ctx context.Context) {
	for _, desc := range d.snapshotRanked() {
		probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := desc.Client.Health(probeCtx)
		cancel()

		status := health.StatusUp
		if err != nil {
			status = health.StatusDown
			if mentaterrors.IsRetryable(err) {
				status = health.StatusDegraded
			}
		}
		desc.setStatus(string(status))
		if d.monitor != nil {
			d.monitor.SetStatus(desc.Client.Name(), status)
		}
	}
}

// Snapshot exposes per-provider stats for the status/stats CLI.
func (d *Dispatcher) Snapshot() map[string]ProviderStats {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]ProviderStats, len(d.descriptors))
	for _, desc := range d.descriptors {
		out[desc.Client.Name()] = desc.Stats()
	}
	return out
}
