package core

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/JonMunkholm/ledgersync/internal/metrics"
)

// ConnectionGuard allows at most one in-flight job per connection in this
// process. The store enforces the same rule across processes; the guard
// rejects the second caller before it touches the store.
type ConnectionGuard struct {
	mu     sync.Mutex
	active map[string]time.Time
}

// NewConnectionGuard creates an empty guard.
func NewConnectionGuard() *ConnectionGuard {
	return &ConnectionGuard{active: make(map[string]time.Time)}
}

// TryAcquire claims connID without blocking.
// Returns false if another job already holds it.
func (g *ConnectionGuard) TryAcquire(connID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, busy := g.active[connID]; busy {
		return false
	}
	g.active[connID] = time.Now()
	metrics.ActiveJobs.Inc()
	return true
}

// Release frees connID. Must be called exactly once per successful TryAcquire.
func (g *ConnectionGuard) Release(connID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.active[connID]; ok {
		delete(g.active, connID)
		metrics.ActiveJobs.Dec()
	}
}

// IsActive reports whether connID is currently held.
func (g *ConnectionGuard) IsActive(connID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.active[connID]
	return ok
}

// ActiveCount returns the number of connections currently held.
func (g *ConnectionGuard) ActiveCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.active)
}

// WaitForDrain blocks until no connection is held or ctx is cancelled.
// Used for graceful shutdown so running jobs reach a terminal state.
func (g *ConnectionGuard) WaitForDrain(ctx context.Context) error {
	if g.ActiveCount() == 0 {
		return nil
	}

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if g.ActiveCount() == 0 {
				return nil
			}
		}
	}
}

// GuardStatus is a snapshot of the guard for monitoring.
type GuardStatus struct {
	Active      int      `json:"active"`
	Connections []string `json:"connections"`
}

// Status returns the current guard state.
func (g *ConnectionGuard) Status() GuardStatus {
	g.mu.Lock()
	defer g.mu.Unlock()

	ids := make([]string, 0, len(g.active))
	for id := range g.active {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return GuardStatus{Active: len(ids), Connections: ids}
}
