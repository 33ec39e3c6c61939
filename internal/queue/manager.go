package queue

import (
	"sync"

	"github.com/mentat-sh/mentat/internal/config"
)

// Manager owns one Queue per provider name, lazily created on first use.
type Manager struct {
	mu      sync.Mutex
	queues  map[string]*Queue
	options Options
}

// NewManager builds a Manager whose queues inherit opts from cfg.
func NewManager(cfg config.QueueConfig) (*Manager, error) {
	rateLimitDelay, err := config.DurationOrDefault(cfg.RateLimitDelay, config.DefaultQueueRateLimitDelay)
	if err != nil {
		return nil, err
	}
	requestTimeout, err := config.DurationOrDefault(cfg.RequestTimeout, config.DefaultQueueRequestTimeout)
	if err != nil {
		return nil, err
	}
	janitorPeriod, err := config.DurationOrDefault(cfg.JanitorPeriod, config.DefaultQueueJanitorPeriod)
	if err != nil {
		return nil, err
	}

	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = config.DefaultQueueMaxConcurrent
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = config.DefaultQueueMaxRetries
	}

	return &Manager{
		queues: make(map[string]*Queue),
		options: Options{
			MaxConcurrent:  maxConcurrent,
			RateLimitDelay: rateLimitDelay,
			RequestTimeout: requestTimeout,
			MaxRetries:     maxRetries,
			JanitorPeriod:  janitorPeriod,
		},
	}, nil
}

// For returns (lazily creating) the named provider's queue actor.
func (m *Manager) For(providerName string) *Queue {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.queues[providerName]
	if !ok {
		q = New(providerName, m.options)
		m.queues[providerName] = q
	}
	return q
}

// StopAll shuts down every provider queue, used during reverse-order
// registry shutdown (C10).
func (m *Manager) StopAll() {
	m.mu.Lock()
	queues := make([]*Queue, 0, len(m.queues))
	for _, q := range m.queues {
		queues = append(queues, q)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, q := range queues {
		wg.Add(1)
		go func(q *Queue) {
			defer wg.Done()
			q.Stop()
		}(q)
	}
	wg.Wait()
}
