package index

import (
	"sync/atomic"
	"time"
)

// PauseToken is a shared deadline that keeps background enrichment yielding
// while interactive UI work is in flight. Listings touch it; workers read
// it between tasks.
type PauseToken struct {
	deadline atomic.Int64 // unix nanos
	window   time.Duration
}

// NewPauseToken creates a token with the given pause window (default 1.5s).
func NewPauseToken(window time.Duration) *PauseToken {
	if window <= 0 {
		window = 1500 * time.Millisecond
	}
	return &PauseToken{window: window}
}

// Touch extends the pause deadline to now + window.
func (p *PauseToken) Touch() {
	p.deadline.Store(time.Now().Add(p.window).UnixNano())
}

// Remaining returns how long a worker should still yield, or zero.
func (p *PauseToken) Remaining() time.Duration {
	d := p.deadline.Load()
	if d == 0 {
		return 0
	}
	rem := time.Until(time.Unix(0, d))
	if rem < 0 {
		return 0
	}
	return rem
}
