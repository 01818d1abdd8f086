package condition

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emberforge/idlecore/internal/platform/logger"
)

// fakeState is a scriptable State for evaluator tests.
type fakeState struct {
	resources  map[string]float64
	rates      map[string]float64
	buildings  map[string]int
	levels     map[string]int
	upgrades   map[string]bool
	elapsed    time.Duration
	unlocked   map[string]bool
	capacities map[string]float64
	properties map[string]interface{}
	tagCounts  map[string]int
	tagSums    map[string]float64
	panicOn    string
}

func (f *fakeState) ResourceAmount(id string) (float64, bool) {
	if id == f.panicOn {
		panic("state lookup exploded")
	}
	v, ok := f.resources[id]
	return v, ok
}

func (f *fakeState) ResourceRate(id string) (float64, bool) {
	v, ok := f.rates[id]
	return v, ok
}

func (f *fakeState) BuildingCount(nameOrID string) int { return f.buildings[nameOrID] }

func (f *fakeState) BuildingLevel(nameOrID string) (int, bool) {
	v, ok := f.levels[nameOrID]
	return v, ok
}

func (f *fakeState) UpgradeApplied(id string) bool { return f.upgrades[id] }
func (f *fakeState) ElapsedTime() time.Duration    { return f.elapsed }

func (f *fakeState) UnlockedCount() int {
	n := 0
	for _, u := range f.unlocked {
		if u {
			n++
		}
	}
	return n
}

func (f *fakeState) StorageCapacity(resourceID string) float64 { return f.capacities[resourceID] }

func (f *fakeState) EntityProperty(entityID, path string) (interface{}, bool) {
	v, ok := f.properties[entityID+"."+path]
	return v, ok
}

func (f *fakeState) IsUnlocked(entityID string) bool { return f.unlocked[entityID] }

func (f *fakeState) CountEntities(spec TargetSpec) int { return f.tagCounts[spec.Tag] }

func (f *fakeState) SumEntities(spec TargetSpec, property string) float64 {
	return f.tagSums[spec.Tag]
}

func newTestEvaluator(state *fakeState) *Evaluator {
	ev := NewEvaluator(state, logger.NewLoggerTo(io.Discard, io.Discard))
	ev.SetCacheTTL(0) // most tests mutate state between evaluations
	return ev
}

func TestEvaluateResourceAmountOrdering(t *testing.T) {
	state := &fakeState{resources: map[string]float64{"gold": 75}}
	ev := newTestEvaluator(state)

	met := ev.Evaluate(&Node{Type: TypeResourceAmount, Target: "gold", Operation: OpGreaterOrEqual, Value: 50.0})
	assert.True(t, met.Met)
	assert.Equal(t, 1.0, met.Progress)

	partial := ev.Evaluate(&Node{Type: TypeResourceAmount, Target: "gold", Operation: OpGreaterOrEqual, Value: 100.0})
	assert.False(t, partial.Met)
	assert.InDelta(t, 0.75, partial.Progress, 1e-9)
}

func TestEvaluateLessThanProgress(t *testing.T) {
	state := &fakeState{resources: map[string]float64{"pollution": 80}}
	ev := newTestEvaluator(state)

	r := ev.Evaluate(&Node{Type: TypeResourceAmount, Target: "pollution", Operation: OpLess, Value: 40.0})
	assert.False(t, r.Met)
	assert.InDelta(t, 0.5, r.Progress, 1e-9)
}

func TestEvaluateEqualsCoercesNumbers(t *testing.T) {
	state := &fakeState{levels: map[string]int{"mine": 3}}
	ev := newTestEvaluator(state)

	// JSON decodes numbers as float64; int vs float64 must still compare.
	r := ev.Evaluate(&Node{Type: TypeBuildingLevel, Target: "mine", Operation: OpEquals, Value: 3.0})
	assert.True(t, r.Met)

	r = ev.Evaluate(&Node{Type: TypeBuildingLevel, Target: "mine", Operation: OpNotEquals, Value: 5})
	assert.True(t, r.Met)
}

func TestEvaluateExists(t *testing.T) {
	state := &fakeState{resources: map[string]float64{"gold": 0}}
	ev := newTestEvaluator(state)

	assert.True(t, ev.Evaluate(&Node{Type: TypeResourceAmount, Target: "gold", Operation: OpExists}).Met)
	assert.True(t, ev.Evaluate(&Node{Type: TypeResourceAmount, Target: "crystal", Operation: OpNotExists}).Met)
	assert.False(t, ev.Evaluate(&Node{Type: TypeResourceAmount, Target: "crystal", Operation: OpExists}).Met)
}

func TestEvaluateBetween(t *testing.T) {
	state := &fakeState{resources: map[string]float64{"gold": 50}}
	ev := newTestEvaluator(state)

	n := &Node{Type: TypeResourceAmount, Target: "gold", Operation: OpBetween, Value: []interface{}{10.0, 50.0}}
	assert.True(t, ev.Evaluate(n).Met, "bounds are inclusive")

	n.Value = []interface{}{60.0, 100.0}
	assert.False(t, ev.Evaluate(n).Met)

	n.Value = []interface{}{60.0}
	r := ev.Evaluate(n)
	assert.False(t, r.Met)
	assert.Contains(t, r.Reason, "two")
}

func TestEvaluateInList(t *testing.T) {
	state := &fakeState{levels: map[string]int{"mine": 3}}
	ev := newTestEvaluator(state)

	n := &Node{Type: TypeBuildingLevel, Target: "mine", Operation: OpInList, Value: []interface{}{1.0, 3.0, 5.0}}
	assert.True(t, ev.Evaluate(n).Met)

	n.Value = []interface{}{2.0, 4.0}
	assert.False(t, ev.Evaluate(n).Met)
}

func TestEvaluateMatchesPattern(t *testing.T) {
	state := &fakeState{properties: map[string]interface{}{"mine.name": "Deep Gold Mine"}}
	ev := newTestEvaluator(state)

	n := &Node{Type: TypeProperty, Target: "mine", Property: "name", Operation: OpMatchesPattern, Value: "(?i)gold"}
	assert.True(t, ev.Evaluate(n).Met)

	n.Value = "["
	r := ev.Evaluate(n)
	assert.False(t, r.Met)
	assert.Contains(t, r.Reason, "invalid pattern")
}

func TestEvaluateContains(t *testing.T) {
	state := &fakeState{properties: map[string]interface{}{"mine.tags": []string{"building", "producer"}}}
	ev := newTestEvaluator(state)

	n := &Node{Type: TypeProperty, Target: "mine", Property: "tags", Operation: OpContains, Value: "producer"}
	assert.True(t, ev.Evaluate(n).Met)

	n.Operation = OpNotContains
	n.Value = "decoration"
	assert.True(t, ev.Evaluate(n).Met)
}

func TestEvaluateTimeElapsed(t *testing.T) {
	state := &fakeState{elapsed: 90 * time.Second}
	ev := newTestEvaluator(state)

	r := ev.Evaluate(&Node{Type: TypeTimeElapsed, Operation: OpGreaterOrEqual, Value: 60.0})
	assert.True(t, r.Met)
}

func TestEvaluateRejectsUnknownTypeAndOp(t *testing.T) {
	ev := newTestEvaluator(&fakeState{})

	r := ev.Evaluate(&Node{Type: "mystery", Target: "x", Operation: OpEquals, Value: 1})
	assert.False(t, r.Met)
	assert.Contains(t, r.Reason, "unknown condition type")

	r = ev.Evaluate(&Node{Type: TypeResourceAmount, Target: "gold", Operation: "sorta_equals", Value: 1})
	assert.False(t, r.Met)
	assert.Contains(t, r.Reason, "unknown operation")
}

func TestEvaluatePanicDegradesToNotMet(t *testing.T) {
	state := &fakeState{panicOn: "gold"}
	ev := newTestEvaluator(state)

	r := ev.Evaluate(&Node{Type: TypeResourceAmount, Target: "gold", Operation: OpGreater, Value: 1.0})
	assert.False(t, r.Met)
	assert.Contains(t, r.Reason, "evaluation error")
}

func TestEvaluateCaching(t *testing.T) {
	state := &fakeState{resources: map[string]float64{"gold": 10}}
	ev := NewEvaluator(state, logger.NewLoggerTo(io.Discard, io.Discard))
	ev.SetCacheTTL(time.Hour)

	n := &Node{Type: TypeResourceAmount, Target: "gold", Operation: OpGreaterOrEqual, Value: 100.0}
	assert.False(t, ev.Evaluate(n).Met)

	// State changed but the cached result still answers inside the window.
	state.resources["gold"] = 500
	assert.False(t, ev.Evaluate(n).Met)

	ev.ClearCache()
	assert.True(t, ev.Evaluate(n).Met)
}

func TestEvaluateCachingKeysOnTargetSpec(t *testing.T) {
	state := &fakeState{tagCounts: map[string]int{"building": 5, "upgrade": 0}}
	ev := NewEvaluator(state, logger.NewLoggerTo(io.Discard, io.Discard))
	ev.SetCacheTTL(time.Hour)

	buildings := ev.Evaluate(&Node{
		Type:      TypeCount,
		Spec:      &TargetSpec{Tag: "building"},
		Operation: OpGreaterOrEqual,
		Value:     1.0,
	})
	require.True(t, buildings.Met)

	// Same op and value, different spec: must not reuse the cached result.
	upgrades := ev.Evaluate(&Node{
		Type:      TypeCount,
		Spec:      &TargetSpec{Tag: "upgrade"},
		Operation: OpGreaterOrEqual,
		Value:     1.0,
	})
	assert.False(t, upgrades.Met)
	assert.Equal(t, 0.0, upgrades.Progress)

	// Specs differing only in the unlocked filter cache separately too.
	unlocked := true
	state.tagCounts["building"] = 0
	filtered := ev.Evaluate(&Node{
		Type:      TypeCount,
		Spec:      &TargetSpec{Tag: "building", Unlocked: &unlocked},
		Operation: OpGreaterOrEqual,
		Value:     1.0,
	})
	assert.False(t, filtered.Met)
	assert.True(t, ev.Evaluate(&Node{
		Type:      TypeCount,
		Spec:      &TargetSpec{Tag: "building"},
		Operation: OpGreaterOrEqual,
		Value:     1.0,
	}).Met, "unfiltered count stays cached")
}

func TestEvaluateComplexPrerequisitesGate(t *testing.T) {
	state := &fakeState{
		resources: map[string]float64{"gold": 1000},
		unlocked:  map[string]bool{"sawmill": false},
	}
	ev := newTestEvaluator(state)

	c := &Complex{
		Condition:     &Node{Type: TypeResourceAmount, Target: "gold", Operation: OpGreater, Value: 10.0},
		Prerequisites: []string{"sawmill"},
	}
	require.NoError(t, ValidateComplex(c))

	r := ev.EvaluateComplex("factory", c)
	assert.False(t, r.Met)
	assert.Contains(t, r.Reason, "sawmill")

	state.unlocked["sawmill"] = true
	assert.True(t, ev.EvaluateComplex("factory", c).Met)
}

func TestEvaluateComplexTimeDelay(t *testing.T) {
	state := &fakeState{unlocked: map[string]bool{"hut": true}}
	ev := newTestEvaluator(state)

	current := time.Unix(1000, 0)
	ev.now = func() time.Time { return current }

	c := &Complex{
		Prerequisites: []string{"hut"},
		TimeDelay:     10 * time.Second,
	}

	r := ev.EvaluateComplex("village", c)
	assert.False(t, r.Met)
	assert.Equal(t, "time delay pending", r.Reason)

	current = current.Add(5 * time.Second)
	r = ev.EvaluateComplex("village", c)
	assert.False(t, r.Met)
	assert.InDelta(t, 0.5, r.Progress, 1e-9)

	current = current.Add(5 * time.Second)
	assert.True(t, ev.EvaluateComplex("village", c).Met)
}

func TestEvaluateComplexDelayResetsWhenPrereqRegresses(t *testing.T) {
	state := &fakeState{unlocked: map[string]bool{"hut": true}}
	ev := newTestEvaluator(state)

	current := time.Unix(1000, 0)
	ev.now = func() time.Time { return current }

	c := &Complex{Prerequisites: []string{"hut"}, TimeDelay: 10 * time.Second}

	ev.EvaluateComplex("village", c)
	current = current.Add(8 * time.Second)

	// Prerequisite regresses: the delay clock restarts from scratch.
	state.unlocked["hut"] = false
	ev.EvaluateComplex("village", c)
	state.unlocked["hut"] = true

	current = current.Add(5 * time.Second)
	r := ev.EvaluateComplex("village", c)
	assert.False(t, r.Met)
	assert.InDelta(t, 0.5, r.Progress, 1e-9)
}

func TestEvaluateComplexOrAndNot(t *testing.T) {
	state := &fakeState{
		resources: map[string]float64{"gold": 10, "wood": 100, "stone": 5},
	}
	ev := newTestEvaluator(state)

	c := &Complex{
		Condition:    &Node{Type: TypeResourceAmount, Target: "gold", Operation: OpGreater, Value: 50.0},
		OrConditions: []*Node{{Type: TypeResourceAmount, Target: "wood", Operation: OpGreater, Value: 50.0}},
		AndConditions: []*Node{
			{Type: TypeResourceAmount, Target: "stone", Operation: OpGreater, Value: 1.0},
		},
		NotConditions: []*Node{
			{Type: TypeResourceAmount, Target: "stone", Operation: OpGreater, Value: 100.0},
		},
	}
	require.NoError(t, ValidateComplex(c))

	// primary fails, or-condition saves it; and holds; not does not hold
	assert.True(t, ev.EvaluateComplex("k", c).Met)

	// and-condition fails
	state.resources["stone"] = 0
	r := ev.EvaluateComplex("k", c)
	assert.False(t, r.Met)
	assert.Contains(t, r.Reason, "and-condition")

	// not-condition fires
	state.resources["stone"] = 500
	r = ev.EvaluateComplex("k", c)
	assert.False(t, r.Met)
	assert.Contains(t, r.Reason, "not-condition")
}

func TestEvaluateComplexValidator(t *testing.T) {
	ev := newTestEvaluator(&fakeState{})

	pass := false
	c := &Complex{Validator: func() bool { return pass }}

	assert.False(t, ev.EvaluateComplex("k", c).Met)
	pass = true
	assert.True(t, ev.EvaluateComplex("k", c).Met)
}

func TestValidateNode(t *testing.T) {
	assert.Error(t, ValidateNode(nil))
	assert.Error(t, ValidateNode(&Node{Type: TypeResourceAmount, Operation: OpGreater, Value: 1}), "missing target")
	assert.Error(t, ValidateNode(&Node{Type: TypeSum, Spec: &TargetSpec{Tag: "building"}, Operation: OpGreater, Value: 1}), "sum needs a property")
	assert.Error(t, ValidateNode(&Node{Type: TypeCount, Operation: OpGreater, Value: 1}), "count needs a spec")

	assert.NoError(t, ValidateNode(&Node{Type: TypeTimeElapsed, Operation: OpGreater, Value: 60.0}))
	assert.NoError(t, ValidateNode(&Node{
		Type:      TypeSum,
		Spec:      &TargetSpec{Tag: "building"},
		Property:  "level",
		Operation: OpGreaterOrEqual,
		Value:     10.0,
	}))
}

func TestValidateComplexRejectsEmpty(t *testing.T) {
	assert.Error(t, ValidateComplex(nil))
	assert.Error(t, ValidateComplex(&Complex{}))
	assert.Error(t, ValidateComplex(&Complex{
		AndConditions: []*Node{{Type: "bogus", Operation: OpEquals, Value: 1}},
	}))
}
