package limiter

import (
	"sync"
	"time"

	"github.com/juju/clock"
)

// Default gate parameters.
const (
	DefaultMaxFails = 5
	DefaultWindow   = 30 * time.Second
	DefaultBlockFor = 10 * time.Second
)

type state struct {
	fails        int
	firstFail    time.Time
	blockedUntil time.Time
}

// Gate is an in-memory sliding-window limiter with lockout.
type Gate struct {
	clock    clock.Clock
	window   time.Duration
	maxFails int
	blockFor time.Duration

	mu    sync.Mutex
	state map[string]*state
}

var _ Limiter = (*Gate)(nil)

// NewGate constructs a gate. Non-positive parameters fall back to defaults.
func NewGate(clk clock.Clock, window time.Duration, maxFails int, blockFor time.Duration) *Gate {
	if clk == nil {
		clk = clock.WallClock
	}
	if window <= 0 {
		window = DefaultWindow
	}
	if maxFails <= 0 {
		maxFails = DefaultMaxFails
	}
	if blockFor <= 0 {
		blockFor = DefaultBlockFor
	}
	return &Gate{clock: clk, window: window, maxFails: maxFails, blockFor: blockFor, state: map[string]*state{}}
}

// Allow implements Limiter.
func (g *Gate) Allow(key string) (bool, time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	st, ok := g.state[key]
	if !ok {
		return true, 0
	}
	now := g.clock.Now()
	if st.blockedUntil.After(now) {
		return false, st.blockedUntil.Sub(now)
	}
	return true, 0
}

// Success implements Limiter.
func (g *Gate) Success(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.state, key)
}

// Failure implements Limiter.
func (g *Gate) Failure(key string) (bool, time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.clock.Now()
	st, ok := g.state[key]
	if !ok || now.Sub(st.firstFail) > g.window {
		st = &state{firstFail: now}
		g.state[key] = st
	}
	st.fails++
	if st.fails >= g.maxFails {
		st.blockedUntil = now.Add(g.blockFor)
		st.fails = 0
		st.firstFail = now
		return true, g.blockFor
	}
	return false, 0
}
