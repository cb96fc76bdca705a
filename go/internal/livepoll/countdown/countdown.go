// Package countdown drives the per-poll timer. Remaining time is always recomputed
// from the poll's stored creation time, never decremented, so clients that joined at
// different moments agree on the deadline.
package countdown

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/pollsync/go/internal/models"
)

// TickFunc receives the whole seconds remaining for a poll.
type TickFunc func(pollID string, remaining int)

// ExpireFunc is called once when a poll's remaining time reaches zero.
type ExpireFunc func(pollID string)

// Config holds countdown settings.
type Config struct {
	TickInterval time.Duration
}

// DefaultConfig returns a one second tick.
func DefaultConfig() Config {
	return Config{TickInterval: time.Second}
}

// Controller runs at most one countdown at a time.
type Controller struct {
	clock    clockwork.Clock
	interval time.Duration
	onTick   TickFunc
	onExpire ExpireFunc

	mu      sync.Mutex
	current *run
}

type run struct {
	poll   *models.Poll
	ticker clockwork.Ticker
	stop   chan struct{}
	fired  bool
}

// New creates a Controller using clock for all time reads.
func New(clock clockwork.Clock, cfg Config, onTick TickFunc, onExpire ExpireFunc) *Controller {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	return &Controller{
		clock:    clock,
		interval: cfg.TickInterval,
		onTick:   onTick,
		onExpire: onExpire,
	}
}

// Start begins counting down poll. Starting the poll that is already running is a
// no-op unless its expiry has already fired, in which case the run starts over and
// expiry is reported again. Starting a different poll cancels the previous countdown
// first. The first tick is reported synchronously. A poll that is already past its
// deadline expires immediately.
func (c *Controller) Start(poll *models.Poll) {
	if poll == nil {
		return
	}

	c.mu.Lock()
	if c.current != nil && c.current.poll.ID == poll.ID && !c.current.fired {
		c.mu.Unlock()
		return
	}
	c.stopLocked()

	r := &run{poll: poll.Clone(), stop: make(chan struct{})}
	c.current = r
	remaining := r.poll.RemainingAt(c.clock.Now())
	if remaining > 0 {
		r.ticker = c.clock.NewTicker(c.interval)
		go c.loop(r)
	}
	c.mu.Unlock()

	log.Debug().
		Str("poll_id", poll.ID).
		Int("remaining", remaining).
		Msg("Countdown started")

	c.report(r, remaining)
}

// Cancel stops the running countdown, if any. No further ticks or expiry are
// reported for it.
func (c *Controller) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
}

// Running returns the id of the poll being counted down, or "".
func (c *Controller) Running() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return ""
	}
	return c.current.poll.ID
}

func (c *Controller) stopLocked() {
	if c.current == nil {
		return
	}
	if c.current.ticker != nil {
		c.current.ticker.Stop()
	}
	close(c.current.stop)
	log.Debug().Str("poll_id", c.current.poll.ID).Msg("Countdown cancelled")
	c.current = nil
}

func (c *Controller) loop(r *run) {
	for {
		select {
		case <-r.stop:
			return
		case <-r.ticker.Chan():
			remaining := r.poll.RemainingAt(c.clock.Now())
			if !c.report(r, remaining) || remaining == 0 {
				return
			}
		}
	}
}

// report delivers a tick for r and fires expiry at zero. It returns false when r is
// no longer the current run.
func (c *Controller) report(r *run, remaining int) bool {
	c.mu.Lock()
	if c.current != r {
		c.mu.Unlock()
		return false
	}
	expire := remaining == 0 && !r.fired
	if expire {
		r.fired = true
		if r.ticker != nil {
			r.ticker.Stop()
		}
	}
	c.mu.Unlock()

	if c.onTick != nil {
		c.onTick(r.poll.ID, remaining)
	}
	if expire {
		log.Info().Str("poll_id", r.poll.ID).Msg("Poll time limit reached")
		if c.onExpire != nil {
			c.onExpire(r.poll.ID)
		}
	}
	return true
}
