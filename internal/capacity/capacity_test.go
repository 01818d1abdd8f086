package capacity

import (
	"io"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/emberforge/idlecore/internal/platform/logger"
)

// fakeStorage is a minimal Storage for cache tests.
type fakeStorage struct {
	unlocked   bool
	built      bool
	capacities map[string]float64
}

func (f *fakeStorage) IsUnlocked() bool { return f.unlocked }
func (f *fakeStorage) IsBuilt() bool    { return f.built }

func (f *fakeStorage) CapacityFor(resourceID string) float64 { return f.capacities[resourceID] }

func (f *fakeStorage) Lists(resourceID string) bool {
	_, ok := f.capacities[resourceID]
	return ok
}

func newTestCache(storages *[]Storage) *Cache {
	provider := func() []Storage { return *storages }
	return NewCache(provider, logger.NewLoggerTo(io.Discard, io.Discard), nil)
}

func TestTotalSumsBuiltUnlockedStorages(t *testing.T) {
	storages := []Storage{
		&fakeStorage{unlocked: true, built: true, capacities: map[string]float64{"gold": 100}},
		&fakeStorage{unlocked: true, built: true, capacities: map[string]float64{"gold": 50}},
		&fakeStorage{unlocked: true, built: true, capacities: map[string]float64{"wood": 30}},
	}
	cache := newTestCache(&storages)

	assert.Equal(t, 150.0, cache.TotalCapacityFor("gold"))
	assert.Equal(t, 30.0, cache.TotalCapacityFor("wood"))
	assert.False(t, cache.IsUnlimited("gold"))
}

func TestLockedAndUnbuiltStoragesDoNotContribute(t *testing.T) {
	storages := []Storage{
		&fakeStorage{unlocked: true, built: true, capacities: map[string]float64{"gold": 100}},
		&fakeStorage{unlocked: false, built: true, capacities: map[string]float64{"gold": 500}},
		&fakeStorage{unlocked: true, built: false, capacities: map[string]float64{"gold": 500}},
	}
	cache := newTestCache(&storages)

	assert.Equal(t, 100.0, cache.TotalCapacityFor("gold"))
}

func TestNoContributingStorageMeansUnlimited(t *testing.T) {
	storages := []Storage{
		&fakeStorage{unlocked: true, built: true, capacities: map[string]float64{"gold": 100}},
	}
	cache := newTestCache(&storages)

	assert.True(t, cache.IsUnlimited("crystal"))
	assert.Equal(t, Unlimited, cache.TotalCapacityFor("crystal"))
	assert.True(t, cache.HasCapacity("crystal", 1e12, 1e12))
	assert.Equal(t, math.MaxFloat64, cache.RemainingCapacity("crystal", 1e12))
}

func TestExplicitZeroCapacityIsNotUnlimited(t *testing.T) {
	storages := []Storage{
		&fakeStorage{unlocked: true, built: true, capacities: map[string]float64{"antimatter": 0}},
	}
	cache := newTestCache(&storages)

	assert.False(t, cache.IsUnlimited("antimatter"))
	assert.Equal(t, 0.0, cache.TotalCapacityFor("antimatter"))
	assert.False(t, cache.HasCapacity("antimatter", 0, 1))
	assert.Equal(t, 0.0, cache.RemainingCapacity("antimatter", 0))
}

func TestHasCapacityBoundary(t *testing.T) {
	storages := []Storage{
		&fakeStorage{unlocked: true, built: true, capacities: map[string]float64{"gold": 100}},
	}
	cache := newTestCache(&storages)

	assert.True(t, cache.HasCapacity("gold", 90, 10), "exactly full fits")
	assert.False(t, cache.HasCapacity("gold", 90, 11))
}

func TestRemainingCapacityClampsAtZero(t *testing.T) {
	storages := []Storage{
		&fakeStorage{unlocked: true, built: true, capacities: map[string]float64{"gold": 100}},
	}
	cache := newTestCache(&storages)

	assert.Equal(t, 40.0, cache.RemainingCapacity("gold", 60))
	assert.Equal(t, 0.0, cache.RemainingCapacity("gold", 150), "overfilled never reports negative")
}

func TestInvalidateSingleResource(t *testing.T) {
	warehouse := &fakeStorage{unlocked: true, built: true, capacities: map[string]float64{"gold": 100, "wood": 50}}
	storages := []Storage{warehouse}
	cache := newTestCache(&storages)

	assert.Equal(t, 100.0, cache.TotalCapacityFor("gold"))
	assert.Equal(t, 50.0, cache.TotalCapacityFor("wood"))

	warehouse.capacities["gold"] = 200
	warehouse.capacities["wood"] = 999

	cache.Invalidate("gold")
	assert.Equal(t, 200.0, cache.TotalCapacityFor("gold"), "invalidated entry recomputes")
	assert.Equal(t, 50.0, cache.TotalCapacityFor("wood"), "untouched entry stays cached")
}

func TestInvalidateAll(t *testing.T) {
	warehouse := &fakeStorage{unlocked: true, built: true, capacities: map[string]float64{"gold": 100}}
	storages := []Storage{warehouse}
	cache := newTestCache(&storages)

	cache.TotalCapacityFor("gold")
	warehouse.capacities["gold"] = 300

	cache.Invalidate()
	assert.Equal(t, 300.0, cache.TotalCapacityFor("gold"))
}

func TestSweepInvalidatesWhenDue(t *testing.T) {
	warehouse := &fakeStorage{unlocked: true, built: true, capacities: map[string]float64{"gold": 100}}
	storages := []Storage{warehouse}
	cache := newTestCache(&storages)
	cache.SetSweepInterval(10 * time.Second)

	start := time.Unix(1000, 0)
	cache.Sweep(start) // first call only primes the timer

	cache.TotalCapacityFor("gold")
	warehouse.capacities["gold"] = 300

	cache.Sweep(start.Add(5 * time.Second))
	assert.Equal(t, 100.0, cache.TotalCapacityFor("gold"), "not due yet")

	cache.Sweep(start.Add(11 * time.Second))
	assert.Equal(t, 300.0, cache.TotalCapacityFor("gold"))
}

func TestSweepDisabled(t *testing.T) {
	warehouse := &fakeStorage{unlocked: true, built: true, capacities: map[string]float64{"gold": 100}}
	storages := []Storage{warehouse}
	cache := newTestCache(&storages)
	cache.SetSweepInterval(0)

	cache.TotalCapacityFor("gold")
	warehouse.capacities["gold"] = 300

	cache.Sweep(time.Unix(1000, 0))
	cache.Sweep(time.Unix(9999, 0))
	assert.Equal(t, 100.0, cache.TotalCapacityFor("gold"))
}
