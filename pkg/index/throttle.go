package index

import (
	"sync"
	"time"
)

// scanThrottle suppresses redundant background scans of recently scanned
// directories for a grace window.
type scanThrottle struct {
	mu     sync.Mutex
	recent map[string]time.Time
	grace  time.Duration
}

func newScanThrottle(grace time.Duration) *scanThrottle {
	if grace <= 0 {
		grace = 30 * time.Second
	}
	return &scanThrottle{recent: make(map[string]time.Time), grace: grace}
}

// MarkScanned records a completed scan of dir.
func (t *scanThrottle) MarkScanned(dir string) {
	t.mu.Lock()
	t.recent[dir] = time.Now()
	t.cleanupLocked()
	t.mu.Unlock()
}

// ShouldSkip reports whether dir was scanned within the grace window.
func (t *scanThrottle) ShouldSkip(dir string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	at, ok := t.recent[dir]
	return ok && time.Since(at) < t.grace
}

func (t *scanThrottle) cleanupLocked() {
	if len(t.recent) < 256 {
		return
	}
	for dir, at := range t.recent {
		if time.Since(at) >= t.grace {
			delete(t.recent, dir)
		}
	}
}
