// Package cost implements the resource cost engine: scaled cost
// calculation, affordability validation against live resource state, and
// transactional spend-or-rollback.
package cost

import (
	"fmt"
	"math"
	"sort"

	"github.com/emberforge/idlecore/internal/events"
	"github.com/emberforge/idlecore/internal/platform/logger"
	"github.com/emberforge/idlecore/internal/platform/metrics"
)

// Definition is one immutable cost line item.
type Definition struct {
	ResourceID    string  `json:"resourceId"`
	Amount        float64 `json:"amount"`
	ScalingFactor float64 `json:"scalingFactor,omitempty"` // 0 means no scaling
	Multiplier    float64 `json:"multiplier,omitempty"`    // 0 means 1
}

// ScalingFunc overrides the default exponential scaling for one cost line.
type ScalingFunc func(def Definition, level int) float64

// Options tune one calculation. The zero value means level 1, no global
// multiplier, scaling enabled. SkipScaling disables the level scaling step
// (the zero value keeps scaling on, so a forgotten options bag behaves
// like the common case).
type Options struct {
	Level       int
	Multiplier  float64
	SkipScaling bool
	ScalingFunc ScalingFunc
}

// BreakdownEntry describes affordability of one required resource.
type BreakdownEntry struct {
	ResourceID string  `json:"resourceId"`
	Required   int     `json:"required"`
	Available  float64 `json:"available"`
	CanAfford  bool    `json:"canAfford"`
	Shortage   float64 `json:"shortage,omitempty"`
}

// MissingResource describes one resource blocking a purchase.
type MissingResource struct {
	ResourceID        string  `json:"resourceId"`
	Available         float64 `json:"amount"`
	Shortage          float64 `json:"shortage"`
	PercentageMissing float64 `json:"percentageMissing"`
}

// ValidationResult is the outcome of an affordability check.
type ValidationResult struct {
	CanAfford bool              `json:"canAfford"`
	Costs     map[string]int    `json:"costs"`
	Breakdown []BreakdownEntry  `json:"breakdown"`
	Missing   []MissingResource `json:"missingResources,omitempty"`
}

// SpendResult is the structured outcome of a spend attempt. Failures are
// reported, never thrown; the caller decides retry policy.
type SpendResult struct {
	Success bool              `json:"success"`
	Spent   map[string]int    `json:"spent,omitempty"`
	Error   string            `json:"error,omitempty"`
	Failed  *ValidationResult `json:"failed,omitempty"`
}

// Accessor is the engine's live view of resource state. Add with a
// negative delta spends; an error from Add triggers rollback.
type Accessor interface {
	Amount(resourceID string) (float64, bool)
	Add(resourceID string, delta float64) error
}

// Emitter is the slice of the event bus the cost engine needs.
type Emitter interface {
	Emit(event events.EventType, data map[string]interface{}, opts ...events.EmitOptions)
}

// Engine performs cost calculation, validation and transactional spending.
type Engine struct {
	logger    *logger.Logger
	resources Accessor
	emitter   Emitter
	metrics   *metrics.Collector
	stats     Stats
}

// NewEngine creates a cost engine over the given resource accessor.
// emitter and collector may be nil in tests.
func NewEngine(res Accessor, emitter Emitter, log *logger.Logger, collector *metrics.Collector) *Engine {
	return &Engine{
		logger:    log,
		resources: res,
		emitter:   emitter,
		metrics:   collector,
		stats:     newStats(),
	}
}

// Calculate resolves a cost list into a per-resource total map. Each
// line resolves through: custom scaling function, else exponential
// base*factor^(level-1) when level > 1, then the per-line multiplier,
// then the global multiplier, floored to a non-negative integer.
// Duplicate resource ids sum.
func (e *Engine) Calculate(costs []Definition, opts Options) map[string]int {
	resolved := make(map[string]int, len(costs))
	for _, def := range costs {
		resolved[def.ResourceID] += e.resolve(def, opts)
	}

	e.stats.recordCalculation(resolved)
	e.emit(events.EventTypeCostCalculated, map[string]interface{}{
		"costs": resolved,
		"level": opts.Level,
	})
	return resolved
}

func (e *Engine) resolve(def Definition, opts Options) int {
	amount := def.Amount

	level := opts.Level
	if level < 1 {
		level = 1
	}

	if !opts.SkipScaling {
		switch {
		case opts.ScalingFunc != nil:
			amount = opts.ScalingFunc(def, level)
		case level > 1 && def.ScalingFactor > 0:
			amount = def.Amount * math.Pow(def.ScalingFactor, float64(level-1))
		}
	}

	if def.Multiplier > 0 {
		amount *= def.Multiplier
	}
	if opts.Multiplier > 0 {
		amount *= opts.Multiplier
	}

	floored := int(math.Floor(amount))
	if floored < 0 {
		floored = 0
	}
	return floored
}

// Validate resolves the costs and compares each required resource against
// live resource state. A missing resource counts as zero available.
func (e *Engine) Validate(costs []Definition, opts Options) ValidationResult {
	resolved := e.Calculate(costs, opts)

	result := ValidationResult{
		CanAfford: true,
		Costs:     resolved,
		Breakdown: make([]BreakdownEntry, 0, len(resolved)),
	}

	for _, id := range sortedKeys(resolved) {
		required := resolved[id]
		available, _ := e.resources.Amount(id) // lookup miss = zero, fail soft

		entry := BreakdownEntry{
			ResourceID: id,
			Required:   required,
			Available:  available,
			CanAfford:  available >= float64(required),
		}
		if !entry.CanAfford {
			entry.Shortage = float64(required) - available
			result.CanAfford = false

			missing := MissingResource{
				ResourceID: id,
				Available:  available,
				Shortage:   entry.Shortage,
			}
			if required > 0 {
				missing.PercentageMissing = entry.Shortage / float64(required) * 100
			}
			result.Missing = append(result.Missing, missing)
		}
		result.Breakdown = append(result.Breakdown, entry)
	}

	e.stats.recordValidation()
	if e.metrics != nil {
		e.metrics.RecordValidation()
	}
	e.emit(events.EventTypeCostValidated, map[string]interface{}{
		"canAfford": result.CanAfford,
		"costs":     resolved,
	})
	return result
}

// Spend revalidates and, if affordable, decrements each resource by its
// resolved amount. All-or-nothing: if any decrement fails, every resource
// already spent in this call is restored before the failure is reported.
// The path is synchronous end to end; there is no suspension point between
// validation and apply, which is what the rollback contract relies on.
func (e *Engine) Spend(costs []Definition, opts Options) SpendResult {
	validation := e.Validate(costs, opts)
	if !validation.CanAfford {
		e.recordSpendFailure("insufficient resources")
		return SpendResult{
			Success: false,
			Error:   "insufficient resources",
			Failed:  &validation,
		}
	}

	spent := make(map[string]int, len(validation.Costs))
	for _, id := range sortedKeys(validation.Costs) {
		amount := validation.Costs[id]
		if amount == 0 {
			continue
		}
		if err := e.resources.Add(id, -float64(amount)); err != nil {
			e.rollback(spent)
			e.recordSpendFailure(fmt.Sprintf("spend %s: %v", id, err))
			return SpendResult{
				Success: false,
				Error:   fmt.Sprintf("failed to spend %s: %v (rolled back)", id, err),
				Failed:  &validation,
			}
		}
		spent[id] = amount
	}

	e.stats.recordSpend()
	if e.metrics != nil {
		e.metrics.RecordSpend(true)
	}
	e.emit(events.EventTypeResourcesSpent, map[string]interface{}{"spent": spent})
	return SpendResult{Success: true, Spent: spent}
}

// rollback restores already-applied decrements, newest first. A failing
// restore is logged; there is nothing further to unwind into.
func (e *Engine) rollback(spent map[string]int) {
	ids := sortedKeys(spent)
	for i := len(ids) - 1; i >= 0; i-- {
		if err := e.resources.Add(ids[i], float64(spent[ids[i]])); err != nil {
			e.logger.Error("rollback of %s failed: %v", ids[i], err)
		}
	}
}

func (e *Engine) recordSpendFailure(reason string) {
	e.stats.recordSpendFailure()
	if e.metrics != nil {
		e.metrics.RecordSpend(false)
	}
	e.emit(events.EventTypeSpendingFailed, map[string]interface{}{"reason": reason})
}

// GetStats returns a snapshot of the engine's running statistics.
func (e *Engine) GetStats() StatsSnapshot {
	return e.stats.snapshot()
}

func (e *Engine) emit(event events.EventType, data map[string]interface{}) {
	if e.emitter != nil {
		e.emitter.Emit(event, data)
	}
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
