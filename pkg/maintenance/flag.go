// Package maintenance coordinates destructive storage operations with the
// rest of the process.
//
// A single process-wide Flag is raised for force-delete, backup restore,
// and case-duplicate cleanup. While raised, listing and search endpoints
// short-circuit, the watcher is stopped, and enrichment workers drain.
// Workers observe the flag between tasks; they are never interrupted
// mid-transaction.
package maintenance

import (
	"sync"
	"time"
)

// Flag is the process-wide maintenance flag. Single writer (the Manager),
// many readers.
type Flag struct {
	mu       sync.Mutex
	active   bool
	inactive chan struct{} // closed while inactive
}

// NewFlag returns a lowered flag.
func NewFlag() *Flag {
	ch := make(chan struct{})
	close(ch)
	return &Flag{inactive: ch}
}

// IsActive reports whether maintenance is in progress.
func (f *Flag) IsActive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

// Raise marks maintenance active. Returns false if it already was, so two
// maintenance operations cannot interleave.
func (f *Flag) Raise() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.active {
		return false
	}
	f.active = true
	f.inactive = make(chan struct{})
	return true
}

// Lower marks maintenance finished and wakes all waiters.
func (f *Flag) Lower() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.active {
		return
	}
	f.active = false
	close(f.inactive)
}

// WaitInactive blocks until the flag is lowered or the timeout elapses.
// Returns true when the flag is inactive.
func (f *Flag) WaitInactive(timeout time.Duration) bool {
	f.mu.Lock()
	ch := f.inactive
	f.mu.Unlock()

	select {
	case <-ch:
		return true
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ch:
		return true
	case <-timer.C:
		return false
	}
}
