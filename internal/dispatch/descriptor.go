// Package dispatch implements the Fallback Dispatcher (C2): given a
// request, try registered providers in ranked order until one succeeds.
package dispatch

import (
	"sync"
	"time"

	"github.com/mentat-sh/mentat/internal/provider"
)

// ProviderDescriptor wraps a registered provider.Client with the ranking
// inputs and rolling stats the Dispatcher maintains for it.
type ProviderDescriptor struct {
	Client   provider.Client
	Priority int
	Weight   int

	mu             sync.RWMutex
	successes      int64
	failures       int64
	totalLatencyMs int64
	lastSuccessTs  time.Time
	status         string // "up" | "degraded" | "down"
}

// NewProviderDescriptor wraps client with its static ranking inputs.
func NewProviderDescriptor(client provider.Client, priority, weight int) *ProviderDescriptor {
	return &ProviderDescriptor{Client: client, Priority: priority, Weight: weight, status: "up"}
}

// ProviderStats is a snapshot of a descriptor's rolling counters.
type ProviderStats struct {
	Successes     int64
	Failures      int64
	SuccessRate   float64
	AvgLatencyMs  float64
	LastSuccessTs time.Time
	Status        string
}

func (d *ProviderDescriptor) Stats() ProviderStats {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return ProviderStats{
		Successes:     d.successes,
		Failures:      d.failures,
		SuccessRate:   d.successRateLocked(),
		AvgLatencyMs:  d.avgLatencyLocked(),
		LastSuccessTs: d.lastSuccessTs,
		Status:        d.status,
	}
}

// successRate = successes / (successes + failures), undefined (no calls
// yet) treated as 1 per spec.md §4.2 ranking rule 2.
func (d *ProviderDescriptor) successRateLocked() float64 {
	total := d.successes + d.failures
	if total == 0 {
		return 1
	}
	return float64(d.successes) / float64(total)
}

func (d *ProviderDescriptor) avgLatencyLocked() float64 {
	if d.successes == 0 {
		return 0
	}
	return float64(d.totalLatencyMs) / float64(d.successes)
}

func (d *ProviderDescriptor) recordSuccess(latencyMs int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.successes++
	d.totalLatencyMs += latencyMs
	d.lastSuccessTs = time.Now()
	d.status = "up"
}

func (d *ProviderDescriptor) recordFailure() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures++
}

func (d *ProviderDescriptor) setStatus(status string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.status = status
}

func (d *ProviderDescriptor) getStatus() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.status
}
