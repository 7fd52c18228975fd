package security

import (
	"math"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
)

// Rule is one endpoint's rate budget.
type Rule struct {
	Max    int
	Window time.Duration
}

// RateLimiterConfig tunes the limiter.
type RateLimiterConfig struct {
	// MaxClients caps the per-client LRU. Clients beyond the cap share
	// one overflow bucket so spoofed IP floods cannot grow memory.
	MaxClients int // default 1024

	// Default applies to endpoints without an explicit rule.
	Default Rule // default 120/min

	// Rules maps endpoint keys to budgets.
	Rules map[string]Rule
}

func (c *RateLimiterConfig) applyDefaults() {
	if c.MaxClients <= 0 {
		c.MaxClients = 1024
	}
	if c.Default.Max <= 0 {
		c.Default = Rule{Max: 120, Window: time.Minute}
	}
	if c.Default.Window <= 0 {
		c.Default.Window = time.Minute
	}
}

// clientState holds sliding windows per endpoint for one client.
type clientState struct {
	windows map[string][]time.Time
}

// RateLimiter tracks request timestamps per (client, endpoint).
type RateLimiter struct {
	mu       sync.Mutex
	cfg      RateLimiterConfig
	clients  *lru.Cache
	overflow *clientState
	now      func() time.Time
}

// NewRateLimiter builds a limiter.
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	cfg.applyDefaults()
	cache, _ := lru.New(cfg.MaxClients)
	return &RateLimiter{
		cfg:      cfg,
		clients:  cache,
		overflow: &clientState{windows: make(map[string][]time.Time)},
		now:      time.Now,
	}
}

func (l *RateLimiter) rule(endpoint string) Rule {
	if r, ok := l.cfg.Rules[endpoint]; ok && r.Max > 0 && r.Window > 0 {
		return r
	}
	return l.cfg.Default
}

// Allow records one request and reports whether it fits the budget. When
// denied, retryAfter is the whole-second wait until the oldest counted
// request leaves the window.
func (l *RateLimiter) Allow(clientID, endpoint string) (allowed bool, retryAfter int) {
	rule := l.rule(endpoint)
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	state := l.stateFor(clientID)
	win := state.windows[endpoint]

	cutoff := now.Add(-rule.Window)
	live := win[:0]
	for _, t := range win {
		if t.After(cutoff) {
			live = append(live, t)
		}
	}

	if len(live) >= rule.Max {
		state.windows[endpoint] = live
		wait := int(math.Ceil(live[0].Add(rule.Window).Sub(now).Seconds()))
		if wait < 1 {
			wait = 1
		}
		return false, wait
	}

	state.windows[endpoint] = append(live, now)
	return true, 0
}

func (l *RateLimiter) stateFor(clientID string) *clientState {
	if v, ok := l.clients.Get(clientID); ok {
		return v.(*clientState)
	}
	if l.clients.Len() >= l.cfg.MaxClients {
		return l.overflow
	}
	state := &clientState{windows: make(map[string][]time.Time)}
	l.clients.Add(clientID, state)
	return state
}
