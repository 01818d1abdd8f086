package engine

import (
	"time"

	"github.com/emberforge/idlecore/internal/entity"
)

// SavedState is the persisted slice of engine state. It round-trips the
// minimum the core guarantees: entity unlock flags, resource amounts, and
// in-flight production/construction progress. The storage layer owns how
// it is serialized and stored.
type SavedState struct {
	SavedAt      time.Time          `json:"savedAt"`
	Unlocked     map[string]bool    `json:"unlocked"`
	Resources    map[string]float64 `json:"resources"`
	Production   map[string]float64 `json:"production"`
	Construction map[string]float64 `json:"construction"`
}

// CaptureState snapshots the persistable state of every registered entity.
func (e *Engine) CaptureState() *SavedState {
	s := &SavedState{
		SavedAt:      time.Now(),
		Unlocked:     make(map[string]bool),
		Resources:    make(map[string]float64),
		Production:   make(map[string]float64),
		Construction: make(map[string]float64),
	}

	for _, ent := range e.registry.All() {
		s.Unlocked[ent.ID()] = ent.IsUnlocked()
		switch t := ent.(type) {
		case *entity.Resource:
			s.Resources[t.ID()] = t.Amount
		case *entity.Generator:
			s.Production[t.ID()] = t.CycleProgress()
		case *entity.Store:
			s.Construction[t.ID()] = t.BuildProgress()
		}
	}
	return s
}

// RestoreState applies a saved state onto the registered entities. Ids
// present in the snapshot but no longer registered are skipped silently:
// content packs may have changed between save and load. The condition
// cache is cleared since state moved out of band.
func (e *Engine) RestoreState(s *SavedState) {
	if s == nil {
		return
	}

	for id, unlocked := range s.Unlocked {
		if !unlocked {
			continue
		}
		if ent, ok := e.registry.GetByID(id); ok && !ent.IsUnlocked() {
			// Route through the coordinator so hooks and events fire the
			// same way as a live unlock.
			e.unlocks.UnlockEntity(id)
		}
	}

	for id, amount := range s.Resources {
		if r, ok := e.registry.Resource(id); ok {
			r.Amount = amount
		}
	}

	for id, progress := range s.Production {
		if ent, ok := e.registry.GetByID(id); ok {
			if g, ok := ent.(*entity.Generator); ok {
				g.SetCycleProgress(progress)
			}
		}
	}

	for id, progress := range s.Construction {
		if ent, ok := e.registry.GetByID(id); ok {
			if st, ok := ent.(*entity.Store); ok {
				st.SetConstructionProgress(progress)
			}
		}
	}

	e.capacities.Invalidate()
	e.evaluator.ClearCache()
	e.logger.Info("state restored from snapshot taken %s", s.SavedAt.Format(time.RFC3339))
}
