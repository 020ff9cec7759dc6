package session

import (
	"sync"
	"time"
)

// Registry is the process-wide session-id → State map with timer-driven
// idle eviction (spec §4.5). Concurrent Get/Destroy and the sweep never
// observe a torn state: callers that obtain a *State via Get hold a
// reference that the sweep's eviction cannot retract out from under them
// mid-use, since State itself is never mutated by the registry, only its
// membership in the map.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*State

	idleTTL time.Duration

	sweepInterval time.Duration
	stopOnce      sync.Once
	stop          chan struct{}

	newSession func() *State
	onEvict    func(*State)
}

// NewRegistry builds a Registry. newSession constructs a fresh State (so the
// registry doesn't need to know buffer/differ configuration); onEvict, if
// non-nil, is invoked for every session the sweep or Destroy removes.
func NewRegistry(idleTTL, sweepInterval time.Duration, newSession func() *State, onEvict func(*State)) *Registry {
	r := &Registry{
		sessions:      make(map[string]*State),
		idleTTL:       idleTTL,
		sweepInterval: sweepInterval,
		stop:          make(chan struct{}),
		newSession:    newSession,
		onEvict:       onEvict,
	}
	go r.sweepLoop()
	return r
}

// Create mints a new session, registers it, and returns it.
func (r *Registry) Create() *State {
	s := r.newSession()
	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()
	return s
}

// Get returns the session for id, or nil if unknown (spec §7 kind 5:
// session_not_found is the caller's concern when this returns nil).
func (r *Registry) Get(id string) *State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[id]
}

// Destroy removes and returns the session for id, or nil if it was already
// gone. Idempotent.
func (r *Registry) Destroy(id string) *State {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	if ok && r.onEvict != nil {
		r.onEvict(s)
	}
	return s
}

// Sweep removes every session whose LastActivity is older than idleTTL.
// Idempotent; safe to call concurrently with Get/Destroy/Create.
func (r *Registry) Sweep() {
	now := time.Now()

	r.mu.Lock()
	var stale []*State
	for id, s := range r.sessions {
		if now.Sub(s.LastActivity()) > r.idleTTL {
			stale = append(stale, s)
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()

	if r.onEvict != nil {
		for _, s := range stale {
			r.onEvict(s)
		}
	}
}

// Len returns the number of live sessions, mainly for metrics.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Registry) sweepLoop() {
	ticker := time.NewTicker(r.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.Sweep()
		case <-r.stop:
			return
		}
	}
}

// Close stops the background sweep timer. It does not destroy live
// sessions; callers drain those explicitly on shutdown.
func (r *Registry) Close() {
	r.stopOnce.Do(func() { close(r.stop) })
}
