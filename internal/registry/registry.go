// Package registry implements the Service Registry (C10): a
// single-construction-time graph of named singletons, owning shutdown
// order. Grounded on the teacher's internal/daemon.Daemon
// (AddComponent/shutdownOrder/gracefulShutdown), decoupled from the
// daemon lifecycle itself into a standalone package that cmd/mentatd
// constructs and drives directly.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	mentaterrors "github.com/mentat-sh/mentat/internal/errors"
)

// Service is anything the registry can own and shut down.
type Service interface {
	Stop(ctx context.Context) error
}

// Registry is a construction-time graph of named Services, keyed by
// registration name. Registration order determines shutdown order
// (reverse), per spec.md §4.10.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]Service
	order  []string
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{byName: make(map[string]Service)}
}

// Register adds a named Service. A duplicate name replaces the existing
// entry with a warning (spec.md §4.10: "duplicate registration
// replaces, with a warning") and keeps its original position in the
// shutdown order rather than appending a second entry.
func (r *Registry) Register(name string, svc Service) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[name]; exists {
		slog.Warn("registry: duplicate service registration replaces existing entry", "name", name)
	} else {
		r.order = append(r.order, name)
	}
	r.byName[name] = svc
}

// Get looks up a registered Service by name.
func (r *Registry) Get(name string) (Service, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	svc, ok := r.byName[name]
	return svc, ok
}

// MustGet looks up a registered Service by name, raising a fatal
// ServiceMissing error if it isn't registered (spec.md §4.10: "missing
// lookups raise a fatal ServiceMissing at startup").
func (r *Registry) MustGet(name string) Service {
	svc, ok := r.Get(name)
	if !ok {
		err := mentaterrors.ServiceMissing(fmt.Sprintf("service %q not registered", name))
		slog.Error("registry: fatal service lookup failure", "name", name, "error", err)
		panic(err)
	}
	return svc
}

// Shutdown stops every registered Service in reverse registration order,
// collecting (not short-circuiting on) individual failures.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.RLock()
	order := make([]string, len(r.order))
	copy(order, r.order)
	r.mu.RUnlock()

	var firstErr error
	for i := len(order) - 1; i >= 0; i-- {
		name := order[i]
		svc, ok := r.Get(name)
		if !ok {
			continue
		}
		slog.Info("registry: stopping service", "name", name)
		if err := svc.Stop(ctx); err != nil {
			slog.Error("registry: service stop failed", "name", name, "error", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("stop %s: %w", name, err)
			}
			continue
		}
		slog.Info("registry: service stopped", "name", name)
	}
	return firstErr
}

// Names returns registered service names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}
