package engine

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emberforge/idlecore/internal/condition"
	"github.com/emberforge/idlecore/internal/cost"
	"github.com/emberforge/idlecore/internal/entity"
	"github.com/emberforge/idlecore/internal/events"
	"github.com/emberforge/idlecore/internal/platform/config"
	"github.com/emberforge/idlecore/internal/platform/logger"
	"github.com/emberforge/idlecore/internal/unlock"
)

func newTestEngine() *Engine {
	cfg := config.Default()
	cfg.ConditionCacheTTL = 0 // tests mutate state between evaluations
	cfg.SweepInterval = 0
	return NewEngine(cfg, logger.NewLoggerTo(io.Discard, io.Discard))
}

// step advances the engine's clock deterministically.
func step(e *Engine, at time.Time) { e.Clock().Step(at) }

func TestTickUpdatesResources(t *testing.T) {
	e := newTestEngine()
	gold := entity.NewResource(entity.Config{ID: "gold", Unlocked: true}, 0, 5)
	require.NoError(t, e.Register(gold))

	start := time.Unix(1000, 0)
	step(e, start)
	step(e, start.Add(2*time.Second))

	assert.InDelta(t, 10.0, gold.Amount, 1e-9)

	ticks := e.GetHistory(events.HistoryFilter{Type: events.EventTypeTick})
	assert.Len(t, ticks, 2)
}

func TestUnlockThroughTickPipeline(t *testing.T) {
	e := newTestEngine()
	gold := entity.NewResource(entity.Config{ID: "gold", Unlocked: true}, 0, 50)
	mine := entity.NewGenerator(entity.Config{ID: "mine", Name: "Gold Mine"},
		nil, map[string]float64{"gold": 1}, time.Second)
	require.NoError(t, e.Register(gold))
	require.NoError(t, e.Register(mine))

	require.NoError(t, e.RegisterComplexCondition("mine", &condition.Complex{
		Condition: &condition.Node{
			Type:      condition.TypeResourceAmount,
			Target:    "gold",
			Operation: condition.OpGreaterOrEqual,
			Value:     100.0,
		},
	}))

	var unlockedIDs []string
	e.OnUnlock(func(tg unlock.Target) {
		unlockedIDs = append(unlockedIDs, tg.ID())
	})

	start := time.Unix(1000, 0)
	step(e, start)
	step(e, start.Add(time.Second)) // gold: 50, condition unmet
	assert.False(t, mine.IsUnlocked())

	step(e, start.Add(2*time.Second)) // gold: 100, condition met
	assert.True(t, mine.IsUnlocked())
	assert.Equal(t, []string{"mine"}, unlockedIDs)
	assert.True(t, mine.IsProducing(), "unlocked feasible producer starts on the same pass")
}

func TestForcedUnlock(t *testing.T) {
	e := newTestEngine()
	lab := entity.NewGenerator(entity.Config{ID: "lab", Name: "Lab"}, nil, nil, time.Second)
	require.NoError(t, e.Register(lab))

	assert.True(t, e.UnlockEntity("lab"))
	assert.True(t, lab.IsUnlocked())
	assert.False(t, e.UnlockEntity("lab"))
	assert.False(t, e.UnlockEntity("ghost"))
}

func TestSpendResourcesEndToEnd(t *testing.T) {
	e := newTestEngine()
	gold := entity.NewResource(entity.Config{ID: "gold", Unlocked: true}, 500, 0)
	require.NoError(t, e.Register(gold))

	result := e.SpendResources([]cost.Definition{{ResourceID: "gold", Amount: 100, ScalingFactor: 1.5}}, cost.Options{Level: 3})

	require.True(t, result.Success)
	assert.Equal(t, 225, result.Spent["gold"])
	assert.InDelta(t, 275.0, gold.Amount, 1e-9)
}

func TestValidateCostReportsShortfall(t *testing.T) {
	e := newTestEngine()
	require.NoError(t, e.Register(entity.NewResource(entity.Config{ID: "gold", Unlocked: true}, 500, 0)))

	result := e.ValidateCost([]cost.Definition{{ResourceID: "gold", Amount: 1000}}, cost.Options{})

	assert.False(t, result.CanAfford)
	require.Len(t, result.Missing, 1)
	assert.InDelta(t, 50.0, result.Missing[0].PercentageMissing, 1e-9)
}

func TestCapacityAcrossStores(t *testing.T) {
	e := newTestEngine()
	require.NoError(t, e.Register(entity.NewResource(entity.Config{ID: "gold", Unlocked: true}, 0, 0)))
	require.NoError(t, e.Register(entity.NewStore(entity.Config{ID: "vault", Unlocked: true}, map[string]float64{"gold": 100})))
	require.NoError(t, e.Register(entity.NewStore(entity.Config{ID: "chest", Unlocked: true}, map[string]float64{"gold": 50})))
	require.NoError(t, e.Register(entity.NewStore(entity.Config{ID: "barn", Unlocked: true}, map[string]float64{"hay": 30})))

	assert.Equal(t, 150.0, e.TotalCapacityFor("gold"))
	assert.Equal(t, 150.0, e.RemainingCapacity("gold"))
	assert.True(t, e.HasCapacity("gold", 150))
	assert.False(t, e.HasCapacity("gold", 151))

	// Nothing stores iron: unlimited, not zero.
	assert.True(t, e.HasCapacity("iron", 1e9))
}

func TestStorageBuiltInvalidatesCapacity(t *testing.T) {
	e := newTestEngine()
	require.NoError(t, e.Register(entity.NewResource(entity.Config{ID: "gold", Unlocked: true}, 0, 0)))

	silo := entity.NewStore(entity.Config{ID: "silo", Unlocked: true}, map[string]float64{"gold": 200})
	silo.BeginConstruction(5 * time.Second)
	require.NoError(t, e.Register(silo))

	assert.True(t, e.HasCapacity("gold", 1e9), "under construction contributes nothing, so gold is uncapped")

	start := time.Unix(1000, 0)
	step(e, start)
	step(e, start.Add(5*time.Second))

	assert.True(t, silo.IsBuilt())
	assert.Equal(t, 200.0, e.TotalCapacityFor("gold"))
}

func TestProducerStopsOnShortage(t *testing.T) {
	e := newTestEngine()
	ore := entity.NewResource(entity.Config{ID: "ore", Unlocked: true}, 2, 0)
	smelter := entity.NewGenerator(entity.Config{ID: "smelter", Unlocked: true},
		map[string]float64{"ore": 3}, map[string]float64{"iron": 1}, time.Second)
	smelter.StartProduction()
	require.NoError(t, e.Register(ore))
	require.NoError(t, e.Register(smelter))

	report := e.Optimize()

	assert.False(t, smelter.IsProducing())
	require.Len(t, report.Bottlenecks, 1)
	assert.Equal(t, "Insufficient ore", report.Bottlenecks[0].Reason)
	assert.Equal(t, report.Bottlenecks, e.GetBottlenecks())
}

func TestOnceSubscription(t *testing.T) {
	e := newTestEngine()

	calls := 0
	e.Once(events.EventTypeUnlocked, func(events.SystemEvent) { calls++ })

	e.Emit(events.EventTypeUnlocked, nil)
	e.Emit(events.EventTypeUnlocked, nil)
	assert.Equal(t, 1, calls)
}

func TestPauseStopsSimulationWork(t *testing.T) {
	e := newTestEngine()
	gold := entity.NewResource(entity.Config{ID: "gold", Unlocked: true}, 0, 10)
	require.NoError(t, e.Register(gold))

	start := time.Unix(1000, 0)
	step(e, start)

	e.Pause()
	step(e, start.Add(10*time.Second))
	assert.Zero(t, gold.Amount)

	e.Resume()
	step(e, start.Add(11*time.Second))
	assert.InDelta(t, 10.0, gold.Amount, 1e-9, "paused span does not leak into the delta")
}

func TestConditionStateView(t *testing.T) {
	e := newTestEngine()
	require.NoError(t, e.Register(entity.NewResource(entity.Config{ID: "gold", Name: "Gold", Unlocked: true}, 42, 3)))
	require.NoError(t, e.Register(entity.NewStore(entity.Config{ID: "vault", Name: "Vault", Tags: []string{"building"}, Unlocked: true}, map[string]float64{"gold": 100})))
	require.NoError(t, e.Register(entity.NewGenerator(entity.Config{ID: "mine", Name: "Mine", Tags: []string{"building"}}, nil, nil, time.Second)))

	amount, ok := e.ResourceAmount("gold")
	require.True(t, ok)
	assert.Equal(t, 42.0, amount)

	rate, _ := e.ResourceRate("gold")
	assert.Equal(t, 3.0, rate)

	assert.Equal(t, 1, e.BuildingCount("vault"), "locked buildings do not count")
	assert.Equal(t, 0, e.BuildingCount("mine"))

	level, ok := e.BuildingLevel("Vault")
	require.True(t, ok)
	assert.Equal(t, 1, level)

	assert.Equal(t, 2, e.UnlockedCount())
	assert.Equal(t, 100.0, e.StorageCapacity("gold"))
	assert.True(t, e.IsUnlocked("gold"))
	assert.False(t, e.IsUnlocked("mine"))
	assert.False(t, e.IsUnlocked("nobody"))

	assert.Equal(t, 2, e.CountEntities(condition.TargetSpec{Tag: "building"}))
	unlocked := true
	assert.Equal(t, 1, e.CountEntities(condition.TargetSpec{Tag: "building", Unlocked: &unlocked}))

	assert.Equal(t, 2.0, e.SumEntities(condition.TargetSpec{Tag: "building"}, "level"))
}

func TestUpgradeAppliedLookup(t *testing.T) {
	e := newTestEngine()
	boost := entity.NewUpgrade(entity.Config{ID: "boost", Unlocked: true})
	require.NoError(t, e.Register(boost))

	assert.False(t, e.UpgradeApplied("boost"))
	boost.Apply()
	assert.True(t, e.UpgradeApplied("boost"))
	assert.False(t, e.UpgradeApplied("missing"))
}

func TestSnapshotRoundTrip(t *testing.T) {
	build := func() *Engine {
		e := newTestEngine()
		require.NoError(t, e.Register(entity.NewResource(entity.Config{ID: "gold", Unlocked: true}, 0, 0)))
		mine := entity.NewGenerator(entity.Config{ID: "mine"}, nil, map[string]float64{"gold": 1}, 10*time.Second)
		require.NoError(t, e.Register(mine))
		silo := entity.NewStore(entity.Config{ID: "silo", Unlocked: true}, map[string]float64{"gold": 100})
		silo.BeginConstruction(10 * time.Second)
		require.NoError(t, e.Register(silo))
		return e
	}

	src := build()
	gold, _ := src.GetByID("gold")
	gold.(*entity.Resource).Amount = 77
	src.UnlockEntity("mine")
	mine, _ := src.GetByID("mine")
	mine.(*entity.Generator).SetCycleProgress(0.3)
	silo, _ := src.GetByID("silo")
	silo.(*entity.Store).SetConstructionProgress(0.5)

	state := src.CaptureState()
	require.NotNil(t, state)

	dst := build()
	dst.RestoreState(state)

	restGold, _ := dst.GetByID("gold")
	assert.Equal(t, 77.0, restGold.(*entity.Resource).Amount)

	restMine, _ := dst.GetByID("mine")
	assert.True(t, restMine.IsUnlocked())
	assert.InDelta(t, 0.3, restMine.(*entity.Generator).CycleProgress(), 1e-9)

	restSilo, _ := dst.GetByID("silo")
	assert.InDelta(t, 0.5, restSilo.(*entity.Store).BuildProgress(), 1e-9)
}

func TestRestoreSkipsUnknownIDs(t *testing.T) {
	e := newTestEngine()
	require.NoError(t, e.Register(entity.NewResource(entity.Config{ID: "gold", Unlocked: true}, 5, 0)))

	e.RestoreState(&SavedState{
		SavedAt:   time.Now(),
		Unlocked:  map[string]bool{"retired": true},
		Resources: map[string]float64{"retired": 99, "gold": 10},
	})

	gold, _ := e.GetByID("gold")
	assert.Equal(t, 10.0, gold.(*entity.Resource).Amount)
}
