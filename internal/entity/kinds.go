package entity

import (
	"time"
)

// Resource is an entity with a numeric amount and a passive generation
// rate applied each tick.
type Resource struct {
	*Base
	Amount float64
	Rate   float64 // units per second
}

// NewResource creates a resource entity.
func NewResource(cfg Config, amount, rate float64) *Resource {
	r := &Resource{Base: NewBase(cfg), Amount: amount, Rate: rate}
	return r
}

// Update applies passive generation for the elapsed delta.
func (r *Resource) Update(delta time.Duration) {
	if r.IsUnlocked() && r.Rate != 0 {
		r.Amount += r.Rate * delta.Seconds()
		if r.Amount < 0 {
			r.Amount = 0
		}
	}
	r.Base.Update(delta)
}

// Property extends the base vocabulary with resource fields.
func (r *Resource) Property(path string) (interface{}, bool) {
	switch path {
	case "amount":
		return r.Amount, true
	case "rate":
		return r.Rate, true
	}
	return r.Base.Property(path)
}

// Store is a storage building: per-resource capacities plus a build state.
// It satisfies the StorageCapacity capability.
type Store struct {
	*Base
	Level              int
	UnderConstruction  bool
	ConstructionNeeded time.Duration
	constructionDone   time.Duration
	capacities         map[string]float64
	afterBuild         func()
}

// NewStore creates a storage entity with the given per-resource capacities.
func NewStore(cfg Config, capacities map[string]float64) *Store {
	if capacities == nil {
		capacities = make(map[string]float64)
	}
	return &Store{Base: NewBase(cfg), Level: 1, capacities: capacities}
}

// IsBuilt reports whether the storage contributes capacity: unlocked, not
// under construction, and construction complete.
func (s *Store) IsBuilt() bool {
	return s.IsUnlocked() && !s.UnderConstruction && s.constructionDone >= s.ConstructionNeeded
}

// CapacityFor returns the configured capacity for a resource. Unset
// resources report zero (no contribution).
func (s *Store) CapacityFor(resourceID string) float64 {
	return s.capacities[resourceID]
}

// SetCapacityFor sets the capacity for a resource.
func (s *Store) SetCapacityFor(resourceID string, capacity float64) {
	s.capacities[resourceID] = capacity
}

// Lists reports whether the store has any configured capacity entry for
// the resource, distinguishing "unset" from a configured capacity of 0.
func (s *Store) Lists(resourceID string) bool {
	_, ok := s.capacities[resourceID]
	return ok
}

// BeginConstruction puts the store under construction for the duration.
func (s *Store) BeginConstruction(needed time.Duration) {
	s.UnderConstruction = true
	s.ConstructionNeeded = needed
	s.constructionDone = 0
}

// BuildProgress reports construction completion as a 0..1 ratio.
func (s *Store) BuildProgress() float64 {
	if s.ConstructionNeeded <= 0 {
		return 1
	}
	p := float64(s.constructionDone) / float64(s.ConstructionNeeded)
	if p > 1 {
		p = 1
	}
	return p
}

// OnBuilt registers a hook run once when construction completes.
func (s *Store) OnBuilt(f func()) { s.afterBuild = f }

// SetConstructionProgress restores in-flight construction, used by
// snapshot restore.
func (s *Store) SetConstructionProgress(ratio float64) {
	if ratio < 0 {
		ratio = 0
	}
	if ratio >= 1 {
		s.UnderConstruction = false
		s.constructionDone = s.ConstructionNeeded
		return
	}
	s.constructionDone = time.Duration(ratio * float64(s.ConstructionNeeded))
}

// Update advances construction.
func (s *Store) Update(delta time.Duration) {
	if s.UnderConstruction && s.IsUnlocked() {
		s.constructionDone += delta
		if s.constructionDone >= s.ConstructionNeeded {
			s.UnderConstruction = false
			if s.afterBuild != nil {
				s.afterBuild()
			}
			s.Emit("storageBuilt", map[string]interface{}{"storageId": s.ID()})
		}
	}
	s.Base.Update(delta)
}

// Property extends the base vocabulary with storage fields.
func (s *Store) Property(path string) (interface{}, bool) {
	switch path {
	case "level":
		return s.Level, true
	case "built", "isBuilt":
		return s.IsBuilt(), true
	case "buildProgress":
		return s.BuildProgress(), true
	}
	return s.Base.Property(path)
}

// Generator is a producer building: it consumes input resources and emits
// output resources on a cycle. It satisfies the Producer capability.
type Generator struct {
	*Base
	Level     int
	CycleTime time.Duration
	inputs    map[string]float64
	outputs   map[string]float64
	producing bool
	progress  time.Duration
	onCycle   func(inputs, outputs map[string]float64)
}

// NewGenerator creates a producer entity.
func NewGenerator(cfg Config, inputs, outputs map[string]float64, cycle time.Duration) *Generator {
	if inputs == nil {
		inputs = make(map[string]float64)
	}
	if outputs == nil {
		outputs = make(map[string]float64)
	}
	if cycle <= 0 {
		cycle = time.Second
	}
	return &Generator{Base: NewBase(cfg), Level: 1, CycleTime: cycle, inputs: inputs, outputs: outputs}
}

// Inputs returns the per-cycle input requirements.
func (g *Generator) Inputs() map[string]float64 { return g.inputs }

// Outputs returns the per-cycle outputs.
func (g *Generator) Outputs() map[string]float64 { return g.outputs }

// IsProducing reports whether the generator is currently running.
func (g *Generator) IsProducing() bool { return g.producing }

// StartProduction begins (or resumes) the production cycle. The
// production coordinator emits the start event; the entity only flips
// its run state.
func (g *Generator) StartProduction() { g.producing = true }

// StopProduction halts the production cycle, keeping partial progress.
func (g *Generator) StopProduction() { g.producing = false }

// OnCycle registers the hook run at each completed cycle; the production
// coordinator's owner applies the actual resource transfer there.
func (g *Generator) OnCycle(f func(inputs, outputs map[string]float64)) { g.onCycle = f }

// CycleProgress reports progress through the current cycle as 0..1.
func (g *Generator) CycleProgress() float64 {
	if g.CycleTime <= 0 {
		return 0
	}
	return float64(g.progress) / float64(g.CycleTime)
}

// SetCycleProgress restores cycle progress, used by snapshot restore.
func (g *Generator) SetCycleProgress(ratio float64) {
	if ratio < 0 {
		ratio = 0
	}
	if ratio > 1 {
		ratio = 1
	}
	g.progress = time.Duration(ratio * float64(g.CycleTime))
}

// Update advances the production cycle while running.
func (g *Generator) Update(delta time.Duration) {
	if g.producing && g.IsUnlocked() {
		g.progress += delta
		for g.progress >= g.CycleTime {
			g.progress -= g.CycleTime
			if g.onCycle != nil {
				g.onCycle(g.inputs, g.outputs)
			}
		}
	}
	g.Base.Update(delta)
}

// Property extends the base vocabulary with producer fields.
func (g *Generator) Property(path string) (interface{}, bool) {
	switch path {
	case "level":
		return g.Level, true
	case "producing", "isProducing":
		return g.producing, true
	case "cycleProgress":
		return g.CycleProgress(), true
	}
	return g.Base.Property(path)
}

// Upgrade is a one-shot entity that, once purchased, stays applied.
type Upgrade struct {
	*Base
	Applied bool
	Level   int
}

// NewUpgrade creates an upgrade entity.
func NewUpgrade(cfg Config) *Upgrade {
	return &Upgrade{Base: NewBase(cfg), Level: 1}
}

// Apply marks the upgrade as applied. Monotonic, like unlocking.
func (u *Upgrade) Apply() bool {
	if u.Applied {
		return false
	}
	u.Applied = true
	u.Emit("upgradeApplied", map[string]interface{}{"upgradeId": u.ID()})
	return true
}

// Property extends the base vocabulary with upgrade fields.
func (u *Upgrade) Property(path string) (interface{}, bool) {
	switch path {
	case "applied", "isApplied":
		return u.Applied, true
	case "level":
		return u.Level, true
	}
	return u.Base.Property(path)
}
