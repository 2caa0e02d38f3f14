// Package coordinator elects one window process as the Primary for the
// shared port range and keeps the others usable as Secondaries: registered
// with the Primary, reachable for fan-out, and ready to take over when the
// Primary dies.
package coordinator

import (
	"fmt"
	"sync"
	"time"

	"github.com/parvum/devlink/internal/protocol"
	"github.com/parvum/devlink/internal/server"
)

// Registration is one Secondary known to the Primary.
type Registration struct {
	WindowID      string
	ListeningPort int
	Client        *server.Client
	RegisteredAt  time.Time
}

// Registry is the Primary's table of registered Secondaries. Registration
// is idempotent per window id: a re-register replaces the previous entry,
// so a restarted Secondary never leaves a stale slot behind.
type Registry struct {
	mu          sync.RWMutex
	max         int
	secondaries map[string]*Registration
}

// NewRegistry creates a registry capped at max entries.
func NewRegistry(max int) *Registry {
	return &Registry{
		max:         max,
		secondaries: make(map[string]*Registration),
	}
}

// Register adds or replaces the entry for a window id. A new window beyond
// the cap is rejected.
func (r *Registry) Register(windowID string, port int, c *server.Client) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.secondaries[windowID]; !exists && len(r.secondaries) >= r.max {
		return protocol.NewError(protocol.KindCommandExecutionError,
			fmt.Sprintf("secondary limit reached (%d)", r.max))
	}
	r.secondaries[windowID] = &Registration{
		WindowID:      windowID,
		ListeningPort: port,
		Client:        c,
		RegisteredAt:  time.Now(),
	}
	return nil
}

// Unregister removes the entry for a window id, reporting whether it existed.
func (r *Registry) Unregister(windowID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.secondaries[windowID]
	delete(r.secondaries, windowID)
	return ok
}

// UnregisterConn removes the entry for a window id only while it still
// belongs to the given connection. An entry replaced by a newer socket is
// left alone, so a stale socket's close never wipes a fresh registration.
func (r *Registry) UnregisterConn(windowID string, c *server.Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.secondaries[windowID]
	if !ok || reg.Client != c {
		return false
	}
	delete(r.secondaries, windowID)
	return true
}

// Snapshot returns the current registrations.
func (r *Registry) Snapshot() []*Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Registration, 0, len(r.secondaries))
	for _, reg := range r.secondaries {
		out = append(out, reg)
	}
	return out
}

// WindowIDs returns the registered window ids.
func (r *Registry) WindowIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.secondaries))
	for id := range r.secondaries {
		out = append(out, id)
	}
	return out
}

// Len reports the number of registered Secondaries.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.secondaries)
}
