// Package unlock owns the registry of pending unlock conditions and drives
// the unlock transition. Each tick the coordinator evaluates every pending
// registration; a met condition flips the entity's monotonic unlock flag,
// runs its hook and publishes the result on the event bus.
package unlock

import (
	"fmt"
	"sync"

	"github.com/emberforge/idlecore/internal/condition"
	"github.com/emberforge/idlecore/internal/events"
	"github.com/emberforge/idlecore/internal/platform/logger"
	"github.com/emberforge/idlecore/internal/platform/metrics"
)

// Target is the coordinator's view of an unlockable entity.
type Target interface {
	ID() string
	Name() string
	IsUnlocked() bool
	Unlock() bool
}

// Resolver locates a registered entity by id, for forced unlocks of
// entities that never had a pending condition.
type Resolver func(id string) (Target, bool)

// Listener is notified after each unlock transition.
type Listener func(t Target)

// registration is one pending unlock condition.
type registration struct {
	target    Target
	predicate func() bool // legacy callable form
	complex   *condition.Complex
	checks    int
	lastError string // sticky diagnostic so error storms stay quiet
}

// Stats summarizes the coordinator's activity.
type Stats struct {
	Pending  int `json:"pending"`
	Unlocked int `json:"unlocked"`
	Checks   int `json:"checks"`
	Errors   int `json:"errors"`
}

// Coordinator tracks pending unlock conditions per entity.
type Coordinator struct {
	mu        sync.Mutex
	logger    *logger.Logger
	bus       *events.Bus
	evaluator *condition.Evaluator
	metrics   *metrics.Collector
	resolve   Resolver

	pending   map[string]*registration
	order     []string
	listeners []Listener
	paused    bool
	unlocked  int
	checks    int
	errors    int
}

// NewCoordinator creates an unlock coordinator.
func NewCoordinator(bus *events.Bus, ev *condition.Evaluator, resolve Resolver, log *logger.Logger, collector *metrics.Collector) *Coordinator {
	return &Coordinator{
		logger:    log,
		bus:       bus,
		evaluator: ev,
		metrics:   collector,
		resolve:   resolve,
		pending:   make(map[string]*registration),
	}
}

// RegisterCondition registers a legacy callable predicate for an entity.
// Rejected if the entity is already unlocked.
func (c *Coordinator) RegisterCondition(t Target, predicate func() bool) error {
	if predicate == nil {
		return fmt.Errorf("nil unlock predicate for %q", t.ID())
	}
	return c.register(t, &registration{target: t, predicate: predicate})
}

// RegisterComplexCondition registers a declarative condition tree for an
// entity. The tree is validated synchronously; malformed trees are
// rejected here, never discovered mid-tick.
func (c *Coordinator) RegisterComplexCondition(t Target, cond *condition.Complex) error {
	if err := condition.ValidateComplex(cond); err != nil {
		return fmt.Errorf("invalid unlock condition for %q: %w", t.ID(), err)
	}
	return c.register(t, &registration{target: t, complex: cond})
}

func (c *Coordinator) register(t Target, reg *registration) error {
	if t.IsUnlocked() {
		return fmt.Errorf("entity %q is already unlocked", t.ID())
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.pending[t.ID()]; exists {
		return fmt.Errorf("entity %q already has a pending unlock condition", t.ID())
	}
	c.pending[t.ID()] = reg
	c.order = append(c.order, t.ID())
	return nil
}

// OnUnlock registers a listener notified on every unlock transition. Each
// listener runs inside its own error boundary.
func (c *Coordinator) OnUnlock(l Listener) {
	c.mu.Lock()
	c.listeners = append(c.listeners, l)
	c.mu.Unlock()
}

// Pause stops CheckAll from doing work. Pending registrations are kept.
func (c *Coordinator) Pause() {
	c.mu.Lock()
	c.paused = true
	c.mu.Unlock()
}

// Resume re-enables CheckAll.
func (c *Coordinator) Resume() {
	c.mu.Lock()
	c.paused = false
	c.mu.Unlock()
}

// CheckAll evaluates every pending registration once. Met conditions
// unlock their entity; evaluation errors mark the registration checked
// with a diagnostic and move on.
func (c *Coordinator) CheckAll() {
	c.mu.Lock()
	if c.paused {
		c.mu.Unlock()
		return
	}
	c.checks++
	ids := make([]string, len(c.order))
	copy(ids, c.order)
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.RecordUnlockCheck()
	}

	for _, id := range ids {
		c.mu.Lock()
		reg, ok := c.pending[id]
		c.mu.Unlock()
		if !ok {
			continue
		}

		met, reason := c.evaluateOne(id, reg)

		c.mu.Lock()
		reg.checks++
		if !met && reason != "" && reason != reg.lastError {
			reg.lastError = reason
			c.errors++
			c.mu.Unlock()
			c.logger.Warn("unlock condition for %q not met: %s", id, reason)
			continue
		}
		c.mu.Unlock()

		if met {
			c.performUnlock(reg.target, false)
		}
	}
}

// evaluateOne never lets a condition error escape.
func (c *Coordinator) evaluateOne(id string, reg *registration) (met bool, errReason string) {
	defer func() {
		if r := recover(); r != nil {
			met = false
			errReason = fmt.Sprintf("predicate panic: %v", r)
		}
	}()

	if reg.predicate != nil {
		return reg.predicate(), ""
	}
	result := c.evaluator.EvaluateComplex(id, reg.complex)
	if result.Met {
		return true, ""
	}
	// A diagnostic reason that names an error keeps the registration
	// checked without storming the log on every tick.
	if result.Reason != "" && isErrorReason(result.Reason) {
		return false, result.Reason
	}
	return false, ""
}

func isErrorReason(reason string) bool {
	return len(reason) >= 16 && reason[:16] == "evaluation error"
}

// UnlockEntity performs a forced unlock bypassing condition evaluation
// (administrative path). The hook/emit sequence is identical to a
// condition-driven unlock.
func (c *Coordinator) UnlockEntity(id string) bool {
	c.mu.Lock()
	reg, pending := c.pending[id]
	c.mu.Unlock()

	var target Target
	if pending {
		target = reg.target
	} else if c.resolve != nil {
		t, ok := c.resolve(id)
		if !ok {
			return false
		}
		target = t
	} else {
		return false
	}

	return c.performUnlock(target, true)
}

// performUnlock runs the shared transition: flip the flag (which runs the
// entity hook), emit, drop the pending entry, notify listeners.
func (c *Coordinator) performUnlock(t Target, forced bool) bool {
	if !t.Unlock() {
		// Already unlocked; monotonic flag stays put, but a stale pending
		// entry is still cleaned up.
		c.removePending(t.ID())
		return false
	}

	c.removePending(t.ID())

	c.mu.Lock()
	c.unlocked++
	listeners := make([]Listener, len(c.listeners))
	copy(listeners, c.listeners)
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.RecordUnlock()
	}
	c.logger.Event("UNLOCKED", t.ID(), t.Name())

	data := map[string]interface{}{
		"entityId": t.ID(),
		"name":     t.Name(),
		"forced":   forced,
	}
	c.bus.Emit(events.EventTypeUnlocked, data, events.EmitOptions{Target: t.ID()})
	c.bus.Emit(events.EventTypeEntityUnlocked, data, events.EmitOptions{Target: t.ID()})

	for _, l := range listeners {
		c.notify(l, t)
	}
	return true
}

// notify runs one unlock listener inside its own error boundary.
func (c *Coordinator) notify(l Listener, t Target) {
	defer func() {
		if r := recover(); r != nil {
			c.mu.Lock()
			c.errors++
			c.mu.Unlock()
			c.logger.Error("unlock listener panic for %q: %v", t.ID(), r)
		}
	}()
	l(t)
}

func (c *Coordinator) removePending(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.pending[id]; !ok {
		return
	}
	delete(c.pending, id)
	for i, oid := range c.order {
		if oid == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// GetStats returns a snapshot of the coordinator's counters.
func (c *Coordinator) GetStats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Pending:  len(c.pending),
		Unlocked: c.unlocked,
		Checks:   c.checks,
		Errors:   c.errors,
	}
}
