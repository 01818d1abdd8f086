package condition

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/emberforge/idlecore/internal/platform/logger"
)

// State is the evaluator's read-only view of the game. Lookup misses are
// fail-soft: resolvers report found=false instead of erroring, and the
// comparison then sees a zero value.
type State interface {
	ResourceAmount(id string) (float64, bool)
	ResourceRate(id string) (float64, bool)
	BuildingCount(nameOrID string) int
	BuildingLevel(nameOrID string) (int, bool)
	UpgradeApplied(id string) bool
	ElapsedTime() time.Duration
	UnlockedCount() int
	StorageCapacity(resourceID string) float64
	EntityProperty(entityID, path string) (interface{}, bool)
	IsUnlocked(entityID string) bool
	CountEntities(spec TargetSpec) int
	SumEntities(spec TargetSpec, property string) float64
}

// cacheEntry is one memoized evaluation result.
type cacheEntry struct {
	result Result
	bucket int64
}

// Evaluator interprets condition nodes against a State. Results are
// memoized for a short window (default one second) keyed by the node's
// identity and the time bucket, so a burst of checks inside one tick
// does not recompute identical lookups.
type Evaluator struct {
	mu     sync.Mutex
	state  State
	logger *logger.Logger

	ttl   time.Duration
	cache map[string]cacheEntry

	// prereqMetAt records when a keyed complex condition first had all
	// prerequisites satisfied, for time-delay gating.
	prereqMetAt map[string]time.Time

	now func() time.Time
}

// NewEvaluator creates an evaluator over the given state view.
func NewEvaluator(state State, log *logger.Logger) *Evaluator {
	return &Evaluator{
		state:       state,
		logger:      log,
		ttl:         time.Second,
		cache:       make(map[string]cacheEntry),
		prereqMetAt: make(map[string]time.Time),
		now:         time.Now,
	}
}

// SetCacheTTL overrides the memoization window. Zero disables caching.
func (ev *Evaluator) SetCacheTTL(ttl time.Duration) {
	ev.mu.Lock()
	ev.ttl = ttl
	ev.mu.Unlock()
}

// ClearCache drops all memoized results. Callers that mutate game state
// out of band (tests especially) must call this before re-evaluating.
func (ev *Evaluator) ClearCache() {
	ev.mu.Lock()
	ev.cache = make(map[string]cacheEntry)
	ev.mu.Unlock()
}

// Evaluate resolves and compares one condition node. Errors never
// propagate: any failure is reported as not-met with a diagnostic reason.
func (ev *Evaluator) Evaluate(n *Node) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			ev.logger.Warn("condition evaluation panicked: %v", r)
			result = Result{Met: false, Reason: fmt.Sprintf("evaluation error: %v", r)}
		}
	}()

	if err := ValidateNode(n); err != nil {
		return Result{Met: false, Reason: err.Error()}
	}

	key, bucket, cached, ok := ev.lookupCache(n)
	if ok {
		return cached
	}

	value, found := ev.resolve(n)
	result = ev.compare(n, value, found)

	ev.storeCache(key, bucket, result)
	return result
}

func (ev *Evaluator) lookupCache(n *Node) (key string, bucket int64, r Result, ok bool) {
	ev.mu.Lock()
	defer ev.mu.Unlock()

	if ev.ttl <= 0 {
		return "", 0, Result{}, false
	}
	bucket = ev.now().UnixNano() / int64(ev.ttl)
	key = fmt.Sprintf("%s|%s|%s|%s|%s|%v", n.Type, n.Target, n.Property, specKey(n.Spec), n.Operation, n.Value)
	if entry, exists := ev.cache[key]; exists && entry.bucket == bucket {
		return key, bucket, entry.result, true
	}
	return key, bucket, Result{}, false
}

// specKey renders a TargetSpec canonically so count/sum conditions that
// differ only in their spec never share a cache slot.
func specKey(s *TargetSpec) string {
	if s == nil {
		return ""
	}
	unlocked := "any"
	if s.Unlocked != nil {
		unlocked = fmt.Sprintf("%t", *s.Unlocked)
	}
	return fmt.Sprintf("tag=%s,name=%s,unlocked=%s", s.Tag, s.NamePattern, unlocked)
}

func (ev *Evaluator) storeCache(key string, bucket int64, r Result) {
	if key == "" {
		return
	}
	ev.mu.Lock()
	ev.cache[key] = cacheEntry{result: r, bucket: bucket}
	ev.mu.Unlock()
}

// resolve maps the node's target through its lookup type.
func (ev *Evaluator) resolve(n *Node) (interface{}, bool) {
	switch n.Type {
	case TypeResourceAmount:
		v, ok := ev.state.ResourceAmount(n.Target)
		return v, ok
	case TypeResourceRate:
		v, ok := ev.state.ResourceRate(n.Target)
		return v, ok
	case TypeBuildingCount:
		return float64(ev.state.BuildingCount(n.Target)), true
	case TypeBuildingLevel:
		v, ok := ev.state.BuildingLevel(n.Target)
		return float64(v), ok
	case TypeUpgradeApplied:
		return ev.state.UpgradeApplied(n.Target), true
	case TypeTimeElapsed:
		return ev.state.ElapsedTime().Seconds(), true
	case TypeUnlockedCount:
		return float64(ev.state.UnlockedCount()), true
	case TypeStorageCapacity:
		return ev.state.StorageCapacity(n.Target), true
	case TypeProperty:
		entityID, path := splitPropertyTarget(n.Target, n.Property)
		return ev.state.EntityProperty(entityID, path)
	case TypeCount:
		return float64(ev.state.CountEntities(*n.Spec)), true
	case TypeSum:
		return ev.state.SumEntities(*n.Spec, n.Property), true
	}
	return nil, false
}

// splitPropertyTarget accepts either target "entityId" + property "a.b"
// or a combined dotted target "entityId.a.b".
func splitPropertyTarget(target, property string) (string, string) {
	if property != "" {
		return target, property
	}
	if i := strings.Index(target, "."); i >= 0 {
		return target[:i], target[i+1:]
	}
	return target, ""
}

// compare applies the node's operation. found=false degrades to a zero
// value for every operation except exists/not_exists, which test it
// directly.
func (ev *Evaluator) compare(n *Node, value interface{}, found bool) Result {
	switch n.Operation {
	case OpExists:
		return Result{Met: found, Progress: boolProgress(found)}
	case OpNotExists:
		return Result{Met: !found, Progress: boolProgress(!found)}
	}

	switch n.Operation {
	case OpEquals:
		met := looseEquals(value, n.Value)
		return Result{Met: met, Progress: boolProgress(met)}
	case OpNotEquals:
		met := !looseEquals(value, n.Value)
		return Result{Met: met, Progress: boolProgress(met)}
	case OpGreater, OpGreaterOrEqual, OpLess, OpLessOrEqual:
		return ev.compareOrdered(n.Operation, value, n.Value)
	case OpContains, OpNotContains:
		met := containsValue(value, n.Value)
		if n.Operation == OpNotContains {
			met = !met
		}
		return Result{Met: met, Progress: boolProgress(met)}
	case OpBetween:
		return compareBetween(value, n.Value)
	case OpInList:
		met := inList(value, n.Value)
		return Result{Met: met, Progress: boolProgress(met)}
	case OpMatchesPattern:
		return matchPattern(value, n.Value)
	}
	return Result{Met: false, Reason: fmt.Sprintf("unknown operation %q", n.Operation)}
}

// compareOrdered handles the four ordering operations with a progress
// ratio for UI progress bars.
func (ev *Evaluator) compareOrdered(op Op, value, want interface{}) Result {
	current, ok1 := toFloat(value)
	target, ok2 := toFloat(want)
	if !ok1 || !ok2 {
		return Result{Met: false, Reason: "non-numeric operands for ordered comparison"}
	}

	var met bool
	switch op {
	case OpGreater:
		met = current > target
	case OpGreaterOrEqual:
		met = current >= target
	case OpLess:
		met = current < target
	case OpLessOrEqual:
		met = current <= target
	}

	return Result{Met: met, Progress: orderedProgress(op, current, target, met)}
}

// orderedProgress computes the 0..1 completion ratio.
func orderedProgress(op Op, current, target float64, met bool) float64 {
	if met {
		return 1
	}
	switch op {
	case OpGreater, OpGreaterOrEqual:
		if target <= 0 {
			return 0
		}
		return clamp01(current / target)
	case OpLess, OpLessOrEqual:
		if current <= 0 {
			return 0
		}
		return clamp01(target / current)
	}
	return 0
}

// EvaluateComplex evaluates a composed condition. The key identifies the
// registration (typically the entity id) so the time-delay clock survives
// across ticks. All errors degrade to not-met with a reason.
func (ev *Evaluator) EvaluateComplex(key string, c *Complex) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			ev.logger.Warn("complex condition %q panicked: %v", key, r)
			result = Result{Met: false, Reason: fmt.Sprintf("evaluation error: %v", r)}
		}
	}()

	// Prerequisites gate everything.
	for _, id := range c.Prerequisites {
		if !ev.state.IsUnlocked(id) {
			ev.mu.Lock()
			delete(ev.prereqMetAt, key)
			ev.mu.Unlock()
			return Result{Met: false, Reason: fmt.Sprintf("prerequisite %q not unlocked", id)}
		}
	}

	// Optional delay after prerequisites are first met.
	if c.TimeDelay > 0 {
		ev.mu.Lock()
		met, seen := ev.prereqMetAt[key]
		if !seen {
			met = ev.now()
			ev.prereqMetAt[key] = met
		}
		now := ev.now()
		ev.mu.Unlock()

		if elapsed := now.Sub(met); elapsed < c.TimeDelay {
			return Result{
				Met:      false,
				Progress: clamp01(float64(elapsed) / float64(c.TimeDelay)),
				Reason:   "time delay pending",
			}
		}
	}

	// Primary OR any or-condition.
	primary := Result{Met: true, Progress: 1}
	if c.Condition != nil || len(c.OrConditions) > 0 {
		primary = Result{Met: false}
		if c.Condition != nil {
			primary = ev.Evaluate(c.Condition)
		}
		if !primary.Met {
			for _, n := range c.OrConditions {
				if r := ev.Evaluate(n); r.Met {
					primary = r
					break
				} else if r.Progress > primary.Progress {
					primary.Progress = r.Progress
					primary.Reason = r.Reason
				}
			}
		}
		if !primary.Met {
			if primary.Reason == "" {
				primary.Reason = "primary condition not met"
			}
			return primary
		}
	}

	// All and-conditions must hold.
	for _, n := range c.AndConditions {
		if r := ev.Evaluate(n); !r.Met {
			r.Reason = fmt.Sprintf("and-condition not met: %s", nonEmpty(r.Reason, "unmet"))
			return r
		}
	}

	// No not-condition may hold.
	for _, n := range c.NotConditions {
		if r := ev.Evaluate(n); r.Met {
			return Result{Met: false, Reason: "not-condition is met"}
		}
	}

	if c.Validator != nil && !c.Validator() {
		return Result{Met: false, Reason: "custom validator returned false"}
	}

	return Result{Met: true, Progress: 1}
}

func nonEmpty(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func boolProgress(met bool) float64 {
	if met {
		return 1
	}
	return 0
}

// toFloat coerces numeric and boolean values for comparison.
func toFloat(v interface{}) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint:
		return float64(x), true
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	case time.Duration:
		return x.Seconds(), true
	}
	return 0, false
}

// looseEquals compares numerically when both sides coerce, otherwise by
// string form. Declarative trees arrive from JSON, where ints and floats
// blur.
func looseEquals(a, b interface{}) bool {
	fa, oka := toFloat(a)
	fb, okb := toFloat(b)
	if oka && okb {
		return fa == fb
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

// containsValue handles string containment and slice membership.
func containsValue(haystack, needle interface{}) bool {
	switch h := haystack.(type) {
	case string:
		return strings.Contains(h, fmt.Sprintf("%v", needle))
	case []string:
		for _, item := range h {
			if looseEquals(item, needle) {
				return true
			}
		}
	case []interface{}:
		for _, item := range h {
			if looseEquals(item, needle) {
				return true
			}
		}
	}
	return false
}

// compareBetween checks inclusive range membership. Value must be a
// two-element list.
func compareBetween(value, bounds interface{}) Result {
	current, ok := toFloat(value)
	if !ok {
		return Result{Met: false, Reason: "non-numeric value for between"}
	}

	var lo, hi float64
	switch b := bounds.(type) {
	case []interface{}:
		if len(b) != 2 {
			return Result{Met: false, Reason: "between requires exactly two bounds"}
		}
		var ok1, ok2 bool
		lo, ok1 = toFloat(b[0])
		hi, ok2 = toFloat(b[1])
		if !ok1 || !ok2 {
			return Result{Met: false, Reason: "non-numeric bounds for between"}
		}
	case []float64:
		if len(b) != 2 {
			return Result{Met: false, Reason: "between requires exactly two bounds"}
		}
		lo, hi = b[0], b[1]
	default:
		return Result{Met: false, Reason: "between requires a two-element list"}
	}

	met := current >= lo && current <= hi
	return Result{Met: met, Progress: boolProgress(met)}
}

// inList checks membership of the resolved value in the wanted list.
func inList(value, list interface{}) bool {
	switch l := list.(type) {
	case []interface{}:
		for _, item := range l {
			if looseEquals(value, item) {
				return true
			}
		}
	case []string:
		for _, item := range l {
			if looseEquals(value, item) {
				return true
			}
		}
	}
	return false
}

// matchPattern applies a regular expression to the value's string form.
func matchPattern(value, pattern interface{}) Result {
	p, ok := pattern.(string)
	if !ok {
		return Result{Met: false, Reason: "matches_pattern requires a string pattern"}
	}
	re, err := regexp.Compile(p)
	if err != nil {
		return Result{Met: false, Reason: fmt.Sprintf("invalid pattern: %v", err)}
	}
	met := re.MatchString(fmt.Sprintf("%v", value))
	return Result{Met: met, Progress: boolProgress(met)}
}
