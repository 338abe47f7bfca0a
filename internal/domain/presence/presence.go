// Package presence holds the in-memory registry of connected users.
//
// The registry is process-wide state with a lifecycle tied to process
// uptime: created empty at startup, never persisted, lost on restart. The
// identity store's online flag is the fallback of record after a crash.
package presence

import (
	"sync"
	"time"
)

// Entry is the live state tracked for one connected user.
type Entry struct {
	UserID       string
	IsOnline     bool
	IsEvaluating bool
	LastActivity time.Time
}

// Patch merges partial fields into an entry. Nil fields are left untouched.
type Patch struct {
	IsOnline     *bool
	IsEvaluating *bool
	LastActivity *time.Time
}

// Registry is the single source of truth, for the lifetime of one server
// process, for who is connected right now and what they are doing.
//
// Mutation is funneled through the dispatcher, but the sweep ticker and
// connection teardown paths read and remove from their own goroutines, so
// the mutex is required.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// Option applies a configuration option to the Registry.
type Option func(*Registry)

// WithInitialCapacity pre-sizes the entry map.
func WithInitialCapacity(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.entries = make(map[string]Entry, n)
		}
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{entries: make(map[string]Entry)}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Upsert merges patch into the entry for userID, creating it if absent.
func (r *Registry) Upsert(userID string, patch Patch) {
	if userID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[userID]
	if !ok {
		e = Entry{UserID: userID}
	}
	if patch.IsOnline != nil {
		e.IsOnline = *patch.IsOnline
	}
	if patch.IsEvaluating != nil {
		e.IsEvaluating = *patch.IsEvaluating
	}
	if patch.LastActivity != nil {
		e.LastActivity = *patch.LastActivity
	}
	r.entries[userID] = e
}

// Touch refreshes LastActivity only when an entry already exists, which is
// the heartbeat rule: a heartbeat for an unknown user is ignored.
func (r *Registry) Touch(userID string, at time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[userID]
	if !ok {
		return false
	}
	e.LastActivity = at
	r.entries[userID] = e
	return true
}

// Remove drops the entry for userID. Removing an absent key is a no-op.
func (r *Registry) Remove(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, userID)
}

// Get returns the entry for userID, if present.
func (r *Registry) Get(userID string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[userID]
	return e, ok
}

// Entries returns a snapshot of all entries. Used by the staleness sweep.
func (r *Registry) Entries() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	return out
}

// Len returns the current number of tracked users.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Counts returns how many tracked users are online and evaluating.
func (r *Registry) Counts() (online, evaluating int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.entries {
		if e.IsOnline {
			online++
		}
		if e.IsEvaluating {
			evaluating++
		}
	}
	return online, evaluating
}

// Bool returns a pointer to b, for building patches.
func Bool(b bool) *bool { return &b }

// Time returns a pointer to t, for building patches.
func Time(t time.Time) *time.Time { return &t }
