// Package engine contains the simulation loop and the orchestrator that
// wires the core subsystems together.
//
// ARCHITECTURAL RULE: the Clock does not know about entities or costs.
// It only drives time forward; subsystems react to the tick.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/emberforge/idlecore/internal/platform/logger"
)

// UpdateFunc receives the wall-time elapsed since the previous tick.
type UpdateFunc func(delta time.Duration)

// Clock drives periodic ticks with elapsed-time semantics. It is the only
// source of "now" for the simulation. Callback panics are isolated per
// callback and never abort the clock.
type Clock struct {
	mu sync.Mutex

	logger   *logger.Logger
	interval time.Duration

	updates     []UpdateFunc
	completions []func()
	// condition gates whether a tick's work executes. When it returns
	// false the timer still fires on schedule but the tick is skipped,
	// so paused time never accumulates into the next delta.
	condition func() bool

	// totalDuration is the completion threshold; elapsed working time
	// reaching it fires the completion callbacks and resets. Zero means
	// the clock runs open-ended.
	totalDuration time.Duration
	elapsed       time.Duration

	lastTick time.Time
	running  bool
	paused   bool
	stopChan chan struct{}
}

// NewClock creates a clock with the given tick interval.
func NewClock(interval time.Duration, log *logger.Logger) *Clock {
	if interval <= 0 {
		interval = time.Second
	}
	return &Clock{
		logger:   log,
		interval: interval,
	}
}

// OnUpdate appends an update callback invoked each working tick.
func (c *Clock) OnUpdate(f UpdateFunc) {
	c.mu.Lock()
	c.updates = append(c.updates, f)
	c.mu.Unlock()
}

// OnComplete appends a completion callback fired when the configured
// total duration elapses. The elapsed counter then resets.
func (c *Clock) OnComplete(f func()) {
	c.mu.Lock()
	c.completions = append(c.completions, f)
	c.mu.Unlock()
}

// SetCondition installs the continuation predicate gating tick work.
func (c *Clock) SetCondition(f func() bool) {
	c.mu.Lock()
	c.condition = f
	c.mu.Unlock()
}

// SetTotalDuration configures the completion threshold.
func (c *Clock) SetTotalDuration(d time.Duration) {
	c.mu.Lock()
	c.totalDuration = d
	c.mu.Unlock()
}

// Start begins the tick loop. Call in a goroutine; returns when the
// context is canceled or Stop is called.
func (c *Clock) Start(ctx context.Context) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	c.stopChan = make(chan struct{})
	c.lastTick = time.Now()
	stop := c.stopChan
	c.mu.Unlock()

	c.logger.Info("simulation clock started (interval %s)", c.interval)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("simulation clock stopped by context")
			c.setStopped()
			return
		case <-stop:
			c.logger.Info("simulation clock stopped")
			return
		case now := <-ticker.C:
			c.Step(now)
		}
	}
}

// Stop halts the tick loop.
func (c *Clock) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return
	}
	c.running = false
	close(c.stopChan)
}

func (c *Clock) setStopped() {
	c.mu.Lock()
	c.running = false
	c.mu.Unlock()
}

// Pause suspends tick work without stopping the timer.
func (c *Clock) Pause() {
	c.mu.Lock()
	c.paused = true
	c.mu.Unlock()
}

// Resume re-enables tick work.
func (c *Clock) Resume() {
	c.mu.Lock()
	c.paused = false
	c.mu.Unlock()
}

// IsRunning reports whether the loop is active.
func (c *Clock) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Step processes one tick at the given time. The loop calls this on every
// timer fire; tests call it directly to advance deterministically.
func (c *Clock) Step(now time.Time) {
	c.mu.Lock()
	if c.lastTick.IsZero() {
		c.lastTick = now
	}
	delta := now.Sub(c.lastTick)
	c.lastTick = now

	// The timer fired but work is gated off: skip, with lastTick already
	// advanced so the skipped span never leaks into the next delta.
	skip := c.paused || (c.condition != nil && !c.condition())

	updates := make([]UpdateFunc, len(c.updates))
	copy(updates, c.updates)
	c.mu.Unlock()

	if skip || delta < 0 {
		return
	}

	for _, f := range updates {
		c.safeUpdate(f, delta)
	}

	c.advanceCompletion(delta)
}

func (c *Clock) safeUpdate(f UpdateFunc, delta time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("clock update callback panic: %v", r)
		}
	}()
	f(delta)
}

func (c *Clock) advanceCompletion(delta time.Duration) {
	c.mu.Lock()
	if c.totalDuration <= 0 {
		c.mu.Unlock()
		return
	}
	c.elapsed += delta
	fire := c.elapsed >= c.totalDuration
	if fire {
		c.elapsed = 0
	}
	completions := make([]func(), len(c.completions))
	copy(completions, c.completions)
	c.mu.Unlock()

	if !fire {
		return
	}
	for _, f := range completions {
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.logger.Error("clock completion callback panic: %v", r)
				}
			}()
			f()
		}()
	}
}
