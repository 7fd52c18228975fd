package maintenance

import (
	"sync"
	"time"
)

// Status values emitted while a maintenance operation runs.
const (
	StatusStarted         = "started"
	StatusStoppingWorkers = "stopping_workers"
	StatusResettingDB     = "resetting_db"
	StatusReplacingFiles  = "replacing_files"
	StatusRecreateDB      = "recreate_db"
	StatusRestartingScan  = "restarting_scan"
	StatusDone            = "done"
	StatusFailed          = "failed"
)

// Event is one status update for a maintenance operation.
type Event struct {
	Op     string    `json:"op"`
	Status string    `json:"status"`
	Detail string    `json:"detail,omitempty"`
	Time   time.Time `json:"time"`
}

// Broadcaster fans maintenance events out to connected client streams.
// Slow subscribers lose events rather than blocking the operation: each
// subscriber channel is buffered and full channels are skipped.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}
	last []Event
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[chan Event]struct{})}
}

// Subscribe registers a stream. The returned cancel must be called when
// the client disconnects.
func (b *Broadcaster) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 32)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if _, ok := b.subs[ch]; ok {
			delete(b.subs, ch)
			close(ch)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// Publish sends an event to all subscribers and records it in the recent
// history.
func (b *Broadcaster) Publish(op, status, detail string) {
	ev := Event{Op: op, Status: status, Detail: detail, Time: time.Now().UTC()}
	b.mu.Lock()
	b.last = append(b.last, ev)
	if len(b.last) > 64 {
		b.last = b.last[len(b.last)-64:]
	}
	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	b.mu.Unlock()
}

// Recent returns the retained event history, newest last.
func (b *Broadcaster) Recent() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Event, len(b.last))
	copy(out, b.last)
	return out
}
