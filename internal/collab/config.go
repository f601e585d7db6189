package collab

import (
	"time"

	"github.com/juju/clock"
	"go.uber.org/zap"

	"github.com/and161185/cafe-collab/internal/feed"
	"github.com/and161185/cafe-collab/internal/limiter"
	"github.com/and161185/cafe-collab/internal/metrics"
	"github.com/and161185/cafe-collab/internal/model"
)

// Config holds client timings.
type Config struct {
	Debounce       time.Duration // quiet period before an update is written
	GeneralPoll    time.Duration // file drift
	ActivePoll     time.Duration // cursors, only while collaborating
	PresencePoll   time.Duration // join/leave
	CallTimeout    time.Duration // bound on every remote call
	SaveAttempts   int           // in-place attempts for explicit saves
	SaveRetryDelay time.Duration
	DisplayName    string // announced with the caller's presence
}

// DefaultConfig returns production timings.
func DefaultConfig() Config {
	return Config{
		Debounce:       300 * time.Millisecond,
		GeneralPoll:    3 * time.Second,
		ActivePoll:     1500 * time.Millisecond,
		PresencePoll:   5 * time.Second,
		CallTimeout:    5 * time.Second,
		SaveAttempts:   3,
		SaveRetryDelay: 200 * time.Millisecond,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Debounce <= 0 {
		c.Debounce = d.Debounce
	}
	if c.GeneralPoll <= 0 {
		c.GeneralPoll = d.GeneralPoll
	}
	if c.ActivePoll <= 0 {
		c.ActivePoll = d.ActivePoll
	}
	if c.PresencePoll <= 0 {
		c.PresencePoll = d.PresencePoll
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = d.CallTimeout
	}
	if c.SaveAttempts <= 0 {
		c.SaveAttempts = d.SaveAttempts
	}
	if c.SaveRetryDelay <= 0 {
		c.SaveRetryDelay = d.SaveRetryDelay
	}
	return c
}

// Journal persists queued changes across process crashes.
type Journal interface {
	Put(ch model.PendingChange) error
	Delete(ws model.WorkspaceID, id model.FileID) error
	Load(ws model.WorkspaceID) ([]model.PendingChange, error)
	Purge(ws model.WorkspaceID) error
}

// Option customizes a Client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// WithClock sets the clock driving debounce and poll timers.
func WithClock(clk clock.Clock) Option {
	return func(c *Client) {
		if clk != nil {
			c.clock = clk
		}
	}
}

// WithJournal enables crash persistence of queued changes.
func WithJournal(j Journal) Option { return func(c *Client) { c.journal = j } }

// WithLimiter sets the outage gate consulted before every write.
func WithLimiter(l limiter.Limiter) Option { return func(c *Client) { c.gate = l } }

// WithMetrics sets the metrics recorder.
func WithMetrics(m *metrics.Recorder) Option { return func(c *Client) { c.metrics = m } }

// WithFeed adds a push subscription next to polling. If src also implements
// feed.Publisher, local cursor moves are published through it.
func WithFeed(src feed.Source) Option { return func(c *Client) { c.feed = src } }
