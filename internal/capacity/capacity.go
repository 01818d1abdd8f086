// Package capacity computes and caches total storage capacity per
// resource. The cache is invalidated by storage-lifecycle events and by a
// periodic full sweep, trading a little recomputation for correctness
// against missed invalidation triggers.
package capacity

import (
	"math"
	"sync"
	"time"

	"github.com/emberforge/idlecore/internal/platform/logger"
	"github.com/emberforge/idlecore/internal/platform/metrics"
)

// Unlimited is the sentinel total for a resource with zero contributing
// storages. It deliberately reuses 0: "no storage lists this resource"
// means no cap at all, not "nothing fits". A genuinely-zero cap requires
// at least one built storage explicitly configured with capacity 0 for
// the resource; see TotalCapacityFor.
const Unlimited = 0.0

// Storage is the cache's view of a storage entity. Only storages that are
// both unlocked and built contribute capacity.
type Storage interface {
	IsUnlocked() bool
	IsBuilt() bool
	CapacityFor(resourceID string) float64
	Lists(resourceID string) bool
}

// Provider supplies the current storage population.
type Provider func() []Storage

// entry is one cached total.
type entry struct {
	total     float64
	unlimited bool
}

// Cache caches total capacity per resource id until invalidated.
type Cache struct {
	mu       sync.Mutex
	logger   *logger.Logger
	metrics  *metrics.Collector
	provider Provider

	entries map[string]entry

	sweepEvery time.Duration
	lastSweep  time.Time
}

// NewCache creates a capacity cache over the storage provider.
func NewCache(provider Provider, log *logger.Logger, collector *metrics.Collector) *Cache {
	return &Cache{
		logger:     log,
		metrics:    collector,
		provider:   provider,
		entries:    make(map[string]entry),
		sweepEvery: 10 * time.Second,
	}
}

// SetSweepInterval overrides the periodic full-invalidation interval.
// Zero disables the sweep.
func (c *Cache) SetSweepInterval(d time.Duration) {
	c.mu.Lock()
	c.sweepEvery = d
	c.mu.Unlock()
}

// TotalCapacityFor returns the summed capacity of all built, unlocked
// storages for the resource. A resource no built storage lists is
// unlimited (sentinel 0). A storage listing the resource with capacity 0
// contributes a real zero cap.
func (c *Cache) TotalCapacityFor(resourceID string) float64 {
	total, _ := c.lookup(resourceID)
	return total
}

// IsUnlimited reports whether the resource currently has no contributing
// storage at all.
func (c *Cache) IsUnlimited(resourceID string) bool {
	_, unlimited := c.lookup(resourceID)
	return unlimited
}

func (c *Cache) lookup(resourceID string) (float64, bool) {
	c.mu.Lock()
	if e, ok := c.entries[resourceID]; ok {
		c.mu.Unlock()
		if c.metrics != nil {
			c.metrics.RecordCapacityLookup(true)
		}
		return e.total, e.unlimited
	}
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.RecordCapacityLookup(false)
	}

	e := c.compute(resourceID)
	c.mu.Lock()
	c.entries[resourceID] = e
	c.mu.Unlock()
	return e.total, e.unlimited
}

// compute sums contributions outside the lock; the provider may call back
// into other subsystems.
func (c *Cache) compute(resourceID string) entry {
	var total float64
	contributing := 0
	for _, s := range c.provider() {
		if !s.IsUnlocked() || !s.IsBuilt() {
			continue
		}
		if !s.Lists(resourceID) {
			continue
		}
		contributing++
		total += s.CapacityFor(resourceID)
	}
	if contributing == 0 {
		return entry{total: Unlimited, unlimited: true}
	}
	return entry{total: total}
}

// HasCapacity reports whether amount more units of the resource fit, given
// the caller-supplied current amount. Unlimited resources always fit.
func (c *Cache) HasCapacity(resourceID string, current, amount float64) bool {
	total, unlimited := c.lookup(resourceID)
	if unlimited {
		return true
	}
	return current+amount <= total
}

// RemainingCapacity returns how many more units fit. Unlimited resources
// report the maximum representable value, never zero.
func (c *Cache) RemainingCapacity(resourceID string, current float64) float64 {
	total, unlimited := c.lookup(resourceID)
	if unlimited {
		return math.MaxFloat64
	}
	remaining := total - current
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Invalidate clears cached totals: one resource when an id is given,
// everything otherwise. Storage build-completion, storage add/remove and
// explicit capacityChanged events route here.
func (c *Cache) Invalidate(resourceID ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(resourceID) == 0 || resourceID[0] == "" {
		c.entries = make(map[string]entry)
		return
	}
	for _, id := range resourceID {
		delete(c.entries, id)
	}
}

// Sweep performs the periodic full invalidation when due. The engine
// calls this once per tick with the current time.
func (c *Cache) Sweep(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sweepEvery <= 0 {
		return
	}
	if c.lastSweep.IsZero() {
		c.lastSweep = now
		return
	}
	if now.Sub(c.lastSweep) >= c.sweepEvery {
		c.entries = make(map[string]entry)
		c.lastSweep = now
	}
}
