// Package queue implements the Request Queue (C3): one single-goroutine
// actor per provider, each draining a FIFO inbox with bounded concurrency,
// inter-dispatch spacing, per-item deadlines, and retry-with-backoff.
// Generalized from the teacher's single-workspace store.Worker actor
// (internal/store/worker.go) to N per-provider actors.
package queue

import (
	"container/list"
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	mentaterrors "github.com/mentat-sh/mentat/internal/errors"
)

// Job is one unit of work submitted to a provider's queue.
type Job struct {
	id       uint64
	priority int
	deadline time.Time
	submit   func(ctx context.Context) (interface{}, error)
	result   chan jobResult
}

type jobResult struct {
	value interface{}
	err   error
}

// Options tunes a single provider Queue.
type Options struct {
	MaxConcurrent  int
	RateLimitDelay time.Duration
	RequestTimeout time.Duration
	MaxRetries     int
	JanitorPeriod  time.Duration
}

func (o *Options) applyDefaults() {
	if o.MaxConcurrent <= 0 {
		o.MaxConcurrent = 3
	}
	if o.RateLimitDelay <= 0 {
		o.RateLimitDelay = 100 * time.Millisecond
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 30 * time.Second
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.JanitorPeriod <= 0 {
		o.JanitorPeriod = 5 * time.Second
	}
}

// Queue is a single-provider FIFO actor: one loop goroutine owns the
// pending list and hands work out to up to MaxConcurrent in-flight
// dispatch goroutines, spaced by RateLimitDelay.
type Queue struct {
	provider string
	opts     Options

	inbox chan *Job
	quit  chan struct{}
	wg    sync.WaitGroup

	mu      sync.Mutex
	pending *list.List // FIFO of *Job, ordered by submission for equal priority
	nextID  uint64

	sem chan struct{} // bounds concurrent in-flight dispatches
}

// New starts a provider's queue actor. Call Stop to drain and shut down.
func New(providerName string, opts Options) *Queue {
	opts.applyDefaults()
	q := &Queue{
		provider: providerName,
		opts:     opts,
		inbox:    make(chan *Job, 256),
		quit:     make(chan struct{}),
		pending:  list.New(),
		sem:      make(chan struct{}, opts.MaxConcurrent),
	}
	q.wg.Add(2)
	go q.loop()
	go q.janitor()
	return q
}

// Submit enqueues submit and blocks until it completes, its deadline
// elapses while still queued, or ctx is cancelled. FIFO ordering is
// preserved for items accepted at different times regardless of when
// their dispatch goroutine actually completes (spec §4.3: "completion
// order is not guaranteed").
func (q *Queue) Submit(ctx context.Context, priority int, submit func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	job := &Job{
		priority: priority,
		deadline: time.Now().Add(q.opts.RequestTimeout),
		submit:   submit,
		result:   make(chan jobResult, 1),
	}

	select {
	case q.inbox <- job:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-q.quit:
		return nil, mentaterrors.Internal("queue stopped")
	}

	select {
	case res := <-job.result:
		return res.value, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *Queue) loop() {
	defer q.wg.Done()
	ticker := time.NewTicker(q.opts.RateLimitDelay)
	defer ticker.Stop()

	for {
		select {
		case job := <-q.inbox:
			q.mu.Lock()
			q.nextID++
			job.id = q.nextID
			q.pending.PushBack(job)
			q.mu.Unlock()

		case <-ticker.C:
			q.dispatchNext()

		case <-q.quit:
			return
		}
	}
}

// dispatchNext pops the oldest pending job, rejecting any whose deadline
// has already elapsed, and runs it in a bounded worker goroutine.
func (q *Queue) dispatchNext() {
	q.mu.Lock()
	var job *Job
	for {
		front := q.pending.Front()
		if front == nil {
			q.mu.Unlock()
			return
		}
		candidate := front.Value.(*Job)
		q.pending.Remove(front)
		if time.Now().After(candidate.deadline) {
			candidate.result <- jobResult{err: mentaterrors.Timeout("deadline elapsed while queued")}
			continue
		}
		job = candidate
		break
	}
	q.mu.Unlock()

	select {
	case q.sem <- struct{}{}:
	default:
		// at concurrency cap; put it back at the front and try again next tick
		q.mu.Lock()
		q.pending.PushFront(job)
		q.mu.Unlock()
		return
	}

	q.wg.Add(1)
	go q.run(job)
}

func (q *Queue) run(job *Job) {
	defer q.wg.Done()
	defer func() { <-q.sem }()

	ctx, cancel := context.WithDeadline(context.Background(), job.deadline)
	defer cancel()

	value, err := q.withRetry(ctx, job)
	job.result <- jobResult{value: value, err: err}
}

// withRetry retries a transient failure up to MaxRetries times with
// exponential backoff, independent of the dispatcher's own round-based
// retry loop (spec §4.3: "exponential-backoff retry up to maxRetries").
func (q *Queue) withRetry(ctx context.Context, job *Job) (interface{}, error) {
	var lastErr error
	for attempt := 0; attempt <= q.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * time.Second
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		value, err := job.submit(ctx)
		if err == nil {
			return value, nil
		}
		lastErr = err
		if !mentaterrors.IsRetryable(err) {
			return nil, err
		}
		slog.Warn("queue job retrying", "provider", q.provider, "attempt", attempt, "error", err)
	}
	return nil, lastErr
}

// janitor periodically rejects items whose deadline elapsed while still
// queued (spec §4.3), independent of dispatch ticks.
func (q *Queue) janitor() {
	defer q.wg.Done()
	ticker := time.NewTicker(q.opts.JanitorPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			q.rejectExpired()
		case <-q.quit:
			return
		}
	}
}

func (q *Queue) rejectExpired() {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	var next *list.Element
	for e := q.pending.Front(); e != nil; e = next {
		next = e.Next()
		job := e.Value.(*Job)
		if now.After(job.deadline) {
			q.pending.Remove(e)
			job.result <- jobResult{err: mentaterrors.Timeout("deadline elapsed while queued")}
		}
	}
}

// Len returns the current number of pending (not yet dispatched) items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending.Len()
}

// Stop signals the loop and janitor goroutines to exit and waits for any
// in-flight dispatches to finish.
func (q *Queue) Stop() {
	close(q.quit)
	q.wg.Wait()
}
