// Package registry holds the per-process state the sync tasks share across
// scheduler ticks: per-site try-locks, the set of sites whose published
// repository is known to exist, and the remotes already applied per site.
//
// A Registry is constructed once per service process and injected into the
// tasks that need it. Nothing here survives a restart; reconciliation is
// idempotent from the on-disk repository state.
package registry

import (
	"sync"
)

// Locks is a set of non-blocking per-key locks.
type Locks struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewLocks returns an empty lock set.
func NewLocks() *Locks {
	return &Locks{held: make(map[string]struct{})}
}

// TryLock acquires the lock for key without blocking. It reports false if
// another holder currently owns it.
func (l *Locks) TryLock(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[key]; ok {
		return false
	}
	l.held[key] = struct{}{}
	return true
}

// Unlock releases the lock for key. It must be called exactly once, by the
// holder that acquired it; unlocking a key nobody holds is a no-op.
func (l *Locks) Unlock(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, key)
}

// Registry is the shared state of the published repository sync task.
type Registry struct {
	*Locks

	mu        sync.RWMutex
	confirmed map[string]struct{}
	remotes   map[string]map[string]string
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		Locks:     NewLocks(),
		confirmed: make(map[string]struct{}),
		remotes:   make(map[string]map[string]string),
	}
}

// IsConfirmed reports whether the site's published repository has already
// been verified or created by this process.
func (r *Registry) IsConfirmed(siteID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.confirmed[siteID]
	return ok
}

// Confirm marks the site's published repository as present.
func (r *Registry) Confirm(siteID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.confirmed[siteID] = struct{}{}
}

// Forget removes the site from the confirmed set.
func (r *Registry) Forget(siteID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.confirmed, siteID)
}

// RemoteURL returns the URL last applied for the site's remote.
func (r *Registry) RemoteURL(siteID, remoteName string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	url, ok := r.remotes[siteID][remoteName]
	return url, ok
}

// RecordRemote stores url as the last applied URL for the site's remote.
func (r *Registry) RecordRemote(siteID, remoteName, url string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.remotes[siteID]
	if !ok {
		m = make(map[string]string)
		r.remotes[siteID] = m
	}
	m[remoteName] = url
}

// DropRemotes discards every cached remote for the site.
func (r *Registry) DropRemotes(siteID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.remotes, siteID)
}
