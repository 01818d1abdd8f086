package engine

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/emberforge/idlecore/internal/capacity"
	"github.com/emberforge/idlecore/internal/condition"
	"github.com/emberforge/idlecore/internal/cost"
	"github.com/emberforge/idlecore/internal/entity"
	"github.com/emberforge/idlecore/internal/events"
	"github.com/emberforge/idlecore/internal/platform/config"
	"github.com/emberforge/idlecore/internal/platform/logger"
	"github.com/emberforge/idlecore/internal/platform/metrics"
	"github.com/emberforge/idlecore/internal/production"
	"github.com/emberforge/idlecore/internal/unlock"
)

// Engine is the central orchestrator: it owns the entity registry, the
// event bus, the clock and the coordinating subsystems, and exposes the
// library's API surface. All mutation is synchronous within a tick or a
// directly-invoked call; the engine is a cooperative single-threaded
// simulation.
type Engine struct {
	logger  *logger.Logger
	metrics *metrics.Collector
	cfg     *config.Config

	bus        *events.Bus
	registry   *entity.Registry
	clock      *Clock
	costs      *cost.Engine
	evaluator  *condition.Evaluator
	unlocks    *unlock.Coordinator
	capacities *capacity.Cache
	producers  *production.Coordinator

	startedAt time.Time
}

// NewEngine wires up the core subsystems.
func NewEngine(cfg *config.Config, log *logger.Logger) *Engine {
	if cfg == nil {
		cfg = config.Default()
	}

	e := &Engine{
		logger:    log,
		metrics:   metrics.NewCollector(),
		cfg:       cfg,
		startedAt: time.Now(),
	}

	e.bus = events.NewBus(log,
		events.WithHistoryCap(cfg.HistoryCap),
		events.WithBatching(cfg.BatchWindow, cfg.BatchSize),
		events.WithMetrics(e.metrics),
		events.WithTagResolver(func(id string) []string {
			if e.registry == nil {
				return nil
			}
			return e.registry.TagsOf(id)
		}),
	)

	e.registry = entity.NewRegistry(e.bus, log)

	e.evaluator = condition.NewEvaluator(e, log)
	e.evaluator.SetCacheTTL(cfg.ConditionCacheTTL)

	e.costs = cost.NewEngine(resourceAccessor{e}, e.bus, log, e.metrics)

	e.unlocks = unlock.NewCoordinator(e.bus, e.evaluator, func(id string) (unlock.Target, bool) {
		t, ok := e.registry.GetByID(id)
		if !ok {
			return nil, false
		}
		return t, true
	}, log, e.metrics)

	e.capacities = capacity.NewCache(e.storages, log, e.metrics)
	e.capacities.SetSweepInterval(cfg.SweepInterval)

	e.producers = production.NewCoordinator(
		e.producerList,
		e.ResourceAmount,
		e.HasCapacity,
		e.TotalCapacityFor,
		e.bus, log,
	)

	e.clock = NewClock(cfg.TickInterval, log)
	e.clock.OnUpdate(e.tick)

	e.wireInvalidation()
	return e
}

// wireInvalidation subscribes the capacity cache to storage-lifecycle
// events, and re-optimizes production whenever capacity may have changed.
func (e *Engine) wireInvalidation() {
	invalidateAll := func(events.SystemEvent) {
		e.capacities.Invalidate()
		e.producers.Optimize()
	}
	e.bus.Subscribe(events.EventTypeStorageBuilt, invalidateAll)
	e.bus.Subscribe(events.EventTypeStorageAdded, invalidateAll)
	e.bus.Subscribe(events.EventTypeStorageRemoved, invalidateAll)
	e.bus.Subscribe(events.EventTypeCapacityChanged, func(evt events.SystemEvent) {
		if id, ok := evt.Data["resourceId"].(string); ok && id != "" {
			e.capacities.Invalidate(id)
		} else {
			e.capacities.Invalidate()
		}
		e.producers.Optimize()
	})
}

// tick is the per-tick pipeline: deferred event work, entity updates,
// unlock checks, production reconciliation, capacity sweep.
func (e *Engine) tick(delta time.Duration) {
	start := time.Now()

	e.bus.Pump(start)
	e.registry.UpdateAll(delta)
	e.unlocks.CheckAll()
	e.producers.Optimize()
	e.capacities.Sweep(start)

	e.bus.Emit(events.EventTypeTick, map[string]interface{}{
		"delta_seconds": delta.Seconds(),
	}, events.EmitOptions{Source: "clock"})

	e.metrics.RecordTick(time.Since(start))
}

// Start spawns the clock loop.
func (e *Engine) Start(ctx context.Context) {
	e.logger.Info("starting simulation engine")
	go e.clock.Start(ctx)
}

// Stop halts the clock loop.
func (e *Engine) Stop() { e.clock.Stop() }

// Pause suspends tick work and unlock checks without losing state.
func (e *Engine) Pause() {
	e.clock.Pause()
	e.unlocks.Pause()
}

// Resume re-enables tick work and unlock checks.
func (e *Engine) Resume() {
	e.clock.Resume()
	e.unlocks.Resume()
}

// Clock exposes the simulation clock.
func (e *Engine) Clock() *Clock { return e.clock }

// Bus exposes the event bus.
func (e *Engine) Bus() *events.Bus { return e.bus }

// Metrics exposes the metrics collector.
func (e *Engine) Metrics() *metrics.Collector { return e.metrics }

// Evaluator exposes the condition evaluator (tests clear its cache after
// out-of-band state mutation).
func (e *Engine) Evaluator() *condition.Evaluator { return e.evaluator }

// ---- Entity registration contract ----

// Register adds an entity to the engine.
func (e *Engine) Register(ent entity.Entity) error { return e.registry.Register(ent) }

// Unregister removes an entity.
func (e *Engine) Unregister(id string) bool { return e.registry.Unregister(id) }

// GetByID looks up an entity by id.
func (e *Engine) GetByID(id string) (entity.Entity, bool) { return e.registry.GetByID(id) }

// GetByNamePattern returns entities whose name matches the pattern.
func (e *Engine) GetByNamePattern(pattern string) ([]entity.Entity, error) {
	return e.registry.GetByNamePattern(pattern)
}

// GetByTag returns entities carrying the tag.
func (e *Engine) GetByTag(tag string) []entity.Entity { return e.registry.GetByTag(tag) }

// ---- Event API surface ----

// On subscribes a global listener.
func (e *Engine) On(event events.EventType, h events.Handler, opts ...events.SubscribeOptions) int {
	return e.bus.Subscribe(event, h, opts...)
}

// Once subscribes a listener that fires at most once.
func (e *Engine) Once(event events.EventType, h events.Handler, opts ...events.SubscribeOptions) int {
	var o events.SubscribeOptions
	if len(opts) > 0 {
		o = opts[0]
	}
	o.Once = true
	return e.bus.Subscribe(event, h, o)
}

// Off cancels a subscription.
func (e *Engine) Off(id int) { e.bus.Unsubscribe(id) }

// OnEntity subscribes a listener scoped to one entity.
func (e *Engine) OnEntity(entityID string, event events.EventType, h events.Handler, opts ...events.SubscribeOptions) int {
	return e.bus.SubscribeEntity(entityID, event, h, opts...)
}

// OffEntity cancels an entity-scoped subscription.
func (e *Engine) OffEntity(id int) { e.bus.Unsubscribe(id) }

// Emit dispatches an event on the bus.
func (e *Engine) Emit(event events.EventType, data map[string]interface{}, opts ...events.EmitOptions) {
	e.bus.Emit(event, data, opts...)
}

// GetHistory returns retained events.
func (e *Engine) GetHistory(filter ...events.HistoryFilter) []events.SystemEvent {
	return e.bus.GetHistory(filter...)
}

// GetEventStats returns the bus counters.
func (e *Engine) GetEventStats() events.Stats { return e.bus.GetStats() }

// ---- Cost API surface ----

// CalculateCost resolves a cost list.
func (e *Engine) CalculateCost(costs []cost.Definition, opts cost.Options) map[string]int {
	return e.costs.Calculate(costs, opts)
}

// ValidateCost checks affordability against live resource state.
func (e *Engine) ValidateCost(costs []cost.Definition, opts cost.Options) cost.ValidationResult {
	return e.costs.Validate(costs, opts)
}

// SpendResources performs a transactional spend.
func (e *Engine) SpendResources(costs []cost.Definition, opts cost.Options) cost.SpendResult {
	return e.costs.Spend(costs, opts)
}

// CostStats returns the cost engine statistics.
func (e *Engine) CostStats() cost.StatsSnapshot { return e.costs.GetStats() }

// ---- Unlock API surface ----

// RegisterCondition registers a callable unlock predicate for an entity.
func (e *Engine) RegisterCondition(entityID string, predicate func() bool) error {
	t, ok := e.registry.GetByID(entityID)
	if !ok {
		return fmt.Errorf("unknown entity %q", entityID)
	}
	return e.unlocks.RegisterCondition(t, predicate)
}

// RegisterComplexCondition registers a declarative unlock condition tree.
func (e *Engine) RegisterComplexCondition(entityID string, c *condition.Complex) error {
	t, ok := e.registry.GetByID(entityID)
	if !ok {
		return fmt.Errorf("unknown entity %q", entityID)
	}
	return e.unlocks.RegisterComplexCondition(t, c)
}

// UnlockEntity performs a forced unlock.
func (e *Engine) UnlockEntity(id string) bool { return e.unlocks.UnlockEntity(id) }

// CheckUnlocks evaluates all pending unlock conditions once.
func (e *Engine) CheckUnlocks() { e.unlocks.CheckAll() }

// OnUnlock registers an unlock listener.
func (e *Engine) OnUnlock(l unlock.Listener) { e.unlocks.OnUnlock(l) }

// UnlockStats returns the unlock coordinator counters.
func (e *Engine) UnlockStats() unlock.Stats { return e.unlocks.GetStats() }

// ---- Capacity API surface ----

// TotalCapacityFor returns the cached total capacity for a resource.
func (e *Engine) TotalCapacityFor(resourceID string) float64 {
	return e.capacities.TotalCapacityFor(resourceID)
}

// HasCapacity reports whether amount more units of the resource fit,
// using the live resource amount as the current fill.
func (e *Engine) HasCapacity(resourceID string, amount float64) bool {
	current, _ := e.ResourceAmount(resourceID)
	return e.capacities.HasCapacity(resourceID, current, amount)
}

// RemainingCapacity reports how many more units of the resource fit.
func (e *Engine) RemainingCapacity(resourceID string) float64 {
	current, _ := e.ResourceAmount(resourceID)
	return e.capacities.RemainingCapacity(resourceID, current)
}

// InvalidateCapacity clears cached capacity totals.
func (e *Engine) InvalidateCapacity(resourceID ...string) {
	e.capacities.Invalidate(resourceID...)
}

// ---- Production API surface ----

// Optimize reconciles producer run state.
func (e *Engine) Optimize() production.Report { return e.producers.Optimize() }

// StartAll starts every feasible idle producer.
func (e *Engine) StartAll() int { return e.producers.StartAll() }

// StopAll stops every running producer.
func (e *Engine) StopAll() int { return e.producers.StopAll() }

// GetBottlenecks returns the latest production bottlenecks.
func (e *Engine) GetBottlenecks() []production.Bottleneck { return e.producers.GetBottlenecks() }

// ---- wiring helpers ----

func (e *Engine) storages() []capacity.Storage {
	var out []capacity.Storage
	for _, ent := range e.registry.All() {
		if s, ok := ent.(capacity.Storage); ok {
			out = append(out, s)
		}
	}
	return out
}

func (e *Engine) producerList() []production.Producer {
	var out []production.Producer
	for _, ent := range e.registry.All() {
		if p, ok := ent.(production.Producer); ok {
			out = append(out, p)
		}
	}
	return out
}

// resourceAccessor adapts the registry to the cost engine's contract.
type resourceAccessor struct{ e *Engine }

func (a resourceAccessor) Amount(resourceID string) (float64, bool) {
	return a.e.ResourceAmount(resourceID)
}

func (a resourceAccessor) Add(resourceID string, delta float64) error {
	r, ok := a.e.registry.Resource(resourceID)
	if !ok {
		return fmt.Errorf("unknown resource %q", resourceID)
	}
	next := r.Amount + delta
	if next < 0 {
		return fmt.Errorf("resource %q would go negative", resourceID)
	}
	r.Amount = next
	return nil
}

// ---- condition.State implementation ----

// ResourceAmount reports the live amount of a resource.
func (e *Engine) ResourceAmount(id string) (float64, bool) {
	r, ok := e.registry.Resource(id)
	if !ok {
		return 0, false
	}
	return r.Amount, true
}

// ResourceRate reports the passive generation rate of a resource.
func (e *Engine) ResourceRate(id string) (float64, bool) {
	r, ok := e.registry.Resource(id)
	if !ok {
		return 0, false
	}
	return r.Rate, true
}

// BuildingCount counts unlocked building entities (storages and
// producers) whose id or name matches.
func (e *Engine) BuildingCount(nameOrID string) int {
	count := 0
	for _, ent := range e.registry.All() {
		if !isBuilding(ent) || !ent.IsUnlocked() {
			continue
		}
		if ent.ID() == nameOrID || ent.Name() == nameOrID {
			count++
		}
	}
	return count
}

// BuildingLevel reports the level of the first matching building.
func (e *Engine) BuildingLevel(nameOrID string) (int, bool) {
	for _, ent := range e.registry.All() {
		if ent.ID() != nameOrID && ent.Name() != nameOrID {
			continue
		}
		switch b := ent.(type) {
		case *entity.Store:
			return b.Level, true
		case *entity.Generator:
			return b.Level, true
		}
	}
	return 0, false
}

// UpgradeApplied reports whether the upgrade entity has been applied.
func (e *Engine) UpgradeApplied(id string) bool {
	ent, ok := e.registry.GetByID(id)
	if !ok {
		return false
	}
	u, ok := ent.(*entity.Upgrade)
	return ok && u.Applied
}

// ElapsedTime reports wall time since the engine was created.
func (e *Engine) ElapsedTime() time.Duration { return time.Since(e.startedAt) }

// UnlockedCount counts unlocked entities.
func (e *Engine) UnlockedCount() int {
	count := 0
	for _, ent := range e.registry.All() {
		if ent.IsUnlocked() {
			count++
		}
	}
	return count
}

// StorageCapacity reports the cached total capacity for a resource.
func (e *Engine) StorageCapacity(resourceID string) float64 {
	return e.capacities.TotalCapacityFor(resourceID)
}

// EntityProperty resolves a dotted property path on an entity.
func (e *Engine) EntityProperty(entityID, path string) (interface{}, bool) {
	ent, ok := e.registry.GetByID(entityID)
	if !ok {
		return nil, false
	}
	return ent.Property(path)
}

// IsUnlocked reports an entity's unlock flag; unknown ids are locked.
func (e *Engine) IsUnlocked(entityID string) bool {
	ent, ok := e.registry.GetByID(entityID)
	return ok && ent.IsUnlocked()
}

// CountEntities counts entities matching the target spec.
func (e *Engine) CountEntities(spec condition.TargetSpec) int {
	count := 0
	for _, ent := range e.registry.All() {
		if matchesSpec(ent, spec) {
			count++
		}
	}
	return count
}

// SumEntities sums a numeric property over entities matching the spec.
func (e *Engine) SumEntities(spec condition.TargetSpec, property string) float64 {
	var sum float64
	for _, ent := range e.registry.All() {
		if !matchesSpec(ent, spec) {
			continue
		}
		if v, ok := ent.Property(property); ok {
			if f, ok := asFloat(v); ok {
				sum += f
			}
		}
	}
	return sum
}

func matchesSpec(ent entity.Entity, spec condition.TargetSpec) bool {
	if spec.Tag != "" && !ent.HasTag(spec.Tag) {
		return false
	}
	if spec.Unlocked != nil && ent.IsUnlocked() != *spec.Unlocked {
		return false
	}
	if spec.NamePattern != "" {
		matched, err := regexpMatch(spec.NamePattern, ent.Name())
		if err != nil || !matched {
			return false
		}
	}
	return true
}

func isBuilding(ent entity.Entity) bool {
	switch ent.(type) {
	case *entity.Store, *entity.Generator:
		return true
	}
	return false
}

func regexpMatch(pattern, s string) (bool, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false, err
	}
	return re.MatchString(s), nil
}

func asFloat(v interface{}) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}
