// Package pending is the thread-safe accounting of in-flight requests. It is
// the single source of truth for "is there outstanding work": the lifecycle
// coordinator admits or refuses work, this registry only counts it.
package pending

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Handle identifies one admitted request from Begin until End.
type Handle struct {
	id uuid.UUID
}

// ID returns the request identifier, primarily for log correlation.
func (h Handle) ID() string {
	return h.id.String()
}

// Registry counts in-flight requests. All operations are O(1) under a single
// short-held mutex.
type Registry struct {
	mu       sync.Mutex
	inflight map[uuid.UUID]time.Time
	idleFn   func()
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{inflight: make(map[uuid.UUID]time.Time)}
}

// SetIdleFunc installs the callback invoked whenever the in-flight count
// transitions to zero. The callback runs outside the registry lock.
func (r *Registry) SetIdleFunc(fn func()) {
	r.mu.Lock()
	r.idleFn = fn
	r.mu.Unlock()
}

// Begin records a newly admitted request and returns its handle.
func (r *Registry) Begin(now time.Time) Handle {
	h := Handle{id: uuid.New()}
	r.mu.Lock()
	r.inflight[h.id] = now
	r.mu.Unlock()
	return h
}

// End removes a request from the registry. It reports whether the handle was
// present; calling End twice for the same handle is a caller bug, but the
// second call leaves the count untouched.
func (r *Registry) End(h Handle) bool {
	r.mu.Lock()
	_, ok := r.inflight[h.id]
	if ok {
		delete(r.inflight, h.id)
	}
	idle := ok && len(r.inflight) == 0
	fn := r.idleFn
	r.mu.Unlock()
	if idle && fn != nil {
		fn()
	}
	return ok
}

// Count returns the number of in-flight requests.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.inflight)
}

// OldestAge reports how long the longest-running in-flight request has been
// executing, relative to now. It returns zero when the registry is empty.
func (r *Registry) OldestAge(now time.Time) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	var oldest time.Duration
	for _, began := range r.inflight {
		if age := now.Sub(began); age > oldest {
			oldest = age
		}
	}
	return oldest
}
