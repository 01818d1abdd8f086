// Package entity defines the simulation's entity model: the base entity
// with identity, tags and a monotonic unlock flag, the concrete resource
// type, and the capability contracts (producer, storage) that concrete
// game content implements explicitly instead of being probed at runtime.
package entity

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/emberforge/idlecore/internal/events"
)

// Dispatcher is the non-owning back-reference into the engine's event bus.
// Entity-local emits always also dispatch through it (dual dispatch), so
// the global bus sees every entity event without any method rebinding.
type Dispatcher interface {
	EmitEntity(entityID string, event events.EventType, data map[string]interface{})
}

// Entity is anything identifiable, nameable and lockable that participates
// in the simulation. The registry is the sole owner of entity lifetime.
type Entity interface {
	ID() string
	Name() string
	Description() string
	Tags() []string
	HasTag(tag string) bool

	IsUnlocked() bool
	// Unlock flips the unlock flag and runs the unlock hook. Monotonic:
	// the first call returns true, every later call is a no-op returning
	// false. The flag never reverts.
	Unlock() bool

	// Update is the entity's own per-tick mutation hook.
	Update(delta time.Duration)

	// On registers an entity-local listener.
	On(event events.EventType, h events.Handler)
	// Emit notifies local listeners and the engine dispatcher.
	Emit(event events.EventType, data map[string]interface{})
	// Bind attaches the engine dispatcher. Called by the registry.
	Bind(d Dispatcher)
	// ClearListeners drops the local listener table. Called on removal.
	ClearListeners()

	// Property resolves a dotted property path for condition evaluation.
	Property(path string) (interface{}, bool)
}

// Config describes a new entity.
type Config struct {
	ID          string
	Name        string
	Description string
	Tags        []string
	Unlocked    bool
	OnUpdate    func(delta time.Duration)
	OnUnlock    func()
}

// Base is the reference Entity implementation; concrete types embed it.
type Base struct {
	id          string
	name        string
	description string
	tags        map[string]struct{}
	unlocked    bool

	onUpdate func(delta time.Duration)
	onUnlock func()

	listeners  map[events.EventType][]events.Handler
	dispatcher Dispatcher
}

// NewBase creates a base entity. A missing id is derived from the name;
// a missing name falls back to a random uuid.
func NewBase(cfg Config) *Base {
	id := cfg.ID
	if id == "" {
		if cfg.Name != "" {
			id = Slug(cfg.Name)
		} else {
			id = uuid.NewString()
		}
	}

	tags := make(map[string]struct{}, len(cfg.Tags))
	for _, t := range cfg.Tags {
		tags[t] = struct{}{}
	}

	return &Base{
		id:          id,
		name:        cfg.Name,
		description: cfg.Description,
		tags:        tags,
		unlocked:    cfg.Unlocked,
		onUpdate:    cfg.OnUpdate,
		onUnlock:    cfg.OnUnlock,
		listeners:   make(map[events.EventType][]events.Handler),
	}
}

// Slug derives a stable identifier from a display name.
func Slug(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case r == ' ', r == '-', r == '_':
			return '_'
		default:
			return -1
		}
	}, s)
	return s
}

// ID returns the entity's unique identifier.
func (b *Base) ID() string { return b.id }

// Name returns the display name.
func (b *Base) Name() string { return b.name }

// Description returns the optional description.
func (b *Base) Description() string { return b.description }

// Tags returns the entity's tags. Order is not significant.
func (b *Base) Tags() []string {
	out := make([]string, 0, len(b.tags))
	for t := range b.tags {
		out = append(out, t)
	}
	return out
}

// HasTag reports whether the entity carries the tag.
func (b *Base) HasTag(tag string) bool {
	_, ok := b.tags[tag]
	return ok
}

// AddTag adds a tag. Adding an existing tag is a no-op.
func (b *Base) AddTag(tag string) { b.tags[tag] = struct{}{} }

// IsUnlocked reports the unlock flag.
func (b *Base) IsUnlocked() bool { return b.unlocked }

// Unlock performs the monotonic false→true transition and runs the hook.
func (b *Base) Unlock() bool {
	if b.unlocked {
		return false
	}
	b.unlocked = true
	if b.onUnlock != nil {
		b.onUnlock()
	}
	return true
}

// Update runs the entity's update hook, if any.
func (b *Base) Update(delta time.Duration) {
	if b.onUpdate != nil {
		b.onUpdate(delta)
	}
}

// On registers a local listener for an event type.
func (b *Base) On(event events.EventType, h events.Handler) {
	b.listeners[event] = append(b.listeners[event], h)
}

// Emit delivers the event to local listeners first, then to the engine
// dispatcher when bound.
func (b *Base) Emit(event events.EventType, data map[string]interface{}) {
	evt := events.SystemEvent{
		Type:      event,
		Data:      data,
		Timestamp: time.Now(),
		Source:    b.id,
		Target:    b.id,
	}
	for _, h := range b.listeners[event] {
		h(evt)
	}
	if b.dispatcher != nil {
		b.dispatcher.EmitEntity(b.id, event, data)
	}
}

// Bind attaches the engine dispatcher.
func (b *Base) Bind(d Dispatcher) { b.dispatcher = d }

// ClearListeners drops all local listeners and the dispatcher binding.
func (b *Base) ClearListeners() {
	b.listeners = make(map[events.EventType][]events.Handler)
	b.dispatcher = nil
}

// Property resolves the base property vocabulary.
func (b *Base) Property(path string) (interface{}, bool) {
	switch path {
	case "id":
		return b.id, true
	case "name":
		return b.name, true
	case "description":
		return b.description, true
	case "unlocked", "isUnlocked":
		return b.unlocked, true
	case "tags":
		return b.Tags(), true
	}
	return nil, false
}
