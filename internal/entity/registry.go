package entity

import (
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/emberforge/idlecore/internal/events"
	"github.com/emberforge/idlecore/internal/platform/logger"
)

// Registry is the sole owner of entity lifetime. Registration wires event
// routing (bus listener table + dispatcher back-reference); removal
// reverses both. Register rejects a duplicate id with an error; Unregister
// is idempotent.
type Registry struct {
	mu       sync.RWMutex
	logger   *logger.Logger
	bus      *events.Bus
	entities map[string]Entity
	order    []string // stable registration order for deterministic iteration
}

// NewRegistry creates an entity registry bound to the engine's bus.
func NewRegistry(bus *events.Bus, log *logger.Logger) *Registry {
	return &Registry{
		logger:   log,
		bus:      bus,
		entities: make(map[string]Entity),
	}
}

// busDispatcher adapts the bus to the entity Dispatcher contract.
type busDispatcher struct{ bus *events.Bus }

func (d busDispatcher) EmitEntity(entityID string, event events.EventType, data map[string]interface{}) {
	d.bus.Emit(event, data, events.EmitOptions{Source: entityID, Target: entityID})
}

// Register adds an entity to the registry, assigns its event routing and
// announces it on the bus. Registering an already-registered id fails.
func (r *Registry) Register(e Entity) error {
	if e == nil {
		return fmt.Errorf("cannot register nil entity")
	}
	if e.ID() == "" {
		return fmt.Errorf("cannot register entity with empty id")
	}

	r.mu.Lock()
	if _, exists := r.entities[e.ID()]; exists {
		r.mu.Unlock()
		return fmt.Errorf("entity %q already registered", e.ID())
	}
	r.entities[e.ID()] = e
	r.order = append(r.order, e.ID())
	r.mu.Unlock()

	r.bus.RegisterEntity(e.ID())
	e.Bind(busDispatcher{bus: r.bus})

	r.bus.Emit(events.EventTypeEntityRegistered, map[string]interface{}{
		"entityId": e.ID(),
		"name":     e.Name(),
	}, events.EmitOptions{Target: e.ID()})

	r.logger.Info("entity registered: %s", e.ID())
	return nil
}

// Unregister removes an entity: listener cleanup, bus deregistration, and
// a removal event. Returns false when the id is unknown.
func (r *Registry) Unregister(id string) bool {
	r.mu.Lock()
	e, ok := r.entities[id]
	if !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.entities, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.mu.Unlock()

	e.ClearListeners()
	r.bus.UnregisterEntity(id)
	r.bus.Emit(events.EventTypeEntityRemoved, map[string]interface{}{"entityId": id})

	r.logger.Info("entity removed: %s", id)
	return true
}

// GetByID looks up an entity.
func (r *Registry) GetByID(id string) (Entity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entities[id]
	return e, ok
}

// GetByNamePattern returns entities whose name matches the regular
// expression. An invalid pattern returns an error.
func (r *Registry) GetByNamePattern(pattern string) ([]Entity, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid name pattern: %w", err)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Entity
	for _, id := range r.order {
		e := r.entities[id]
		if re.MatchString(e.Name()) {
			out = append(out, e)
		}
	}
	return out, nil
}

// GetByTag returns entities carrying the tag, in registration order.
func (r *Registry) GetByTag(tag string) []Entity {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Entity
	for _, id := range r.order {
		if e := r.entities[id]; e.HasTag(tag) {
			out = append(out, e)
		}
	}
	return out
}

// All returns every entity in registration order.
func (r *Registry) All() []Entity {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Entity, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.entities[id])
	}
	return out
}

// Len reports the number of registered entities.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entities)
}

// Resource looks up a resource entity by id. A registered entity of
// another kind reports false, matching the fail-soft lookup policy.
func (r *Registry) Resource(id string) (*Resource, bool) {
	e, ok := r.GetByID(id)
	if !ok {
		return nil, false
	}
	res, ok := e.(*Resource)
	return res, ok
}

// TagsOf reports the tags of a registered entity; the bus uses this for
// tag-filtered subscriptions.
func (r *Registry) TagsOf(id string) []string {
	e, ok := r.GetByID(id)
	if !ok {
		return nil
	}
	return e.Tags()
}

// UpdateAll runs every entity's update hook with the tick delta, in
// registration order. Iterates over a snapshot so hooks may register or
// remove entities without invalidating the pass.
func (r *Registry) UpdateAll(delta time.Duration) {
	for _, e := range r.All() {
		e.Update(delta)
	}
}
