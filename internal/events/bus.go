package events

import (
	"fmt"
	"sync"
	"time"

	"github.com/emberforge/idlecore/internal/platform/logger"
	"github.com/emberforge/idlecore/internal/platform/metrics"
)

// TagResolver reports the tags of a registered entity so tag-filtered
// subscriptions can match. The entity registry provides this.
type TagResolver func(entityID string) []string

// subscription is one registered listener.
type subscription struct {
	id      int
	event   EventType
	entity  string // non-empty for entity-scoped subscriptions
	handler Handler
	opts    SubscribeOptions
	removed bool
}

// pendingDebounce holds the trailing event of a debounced subscription.
type pendingDebounce struct {
	sub *subscription
	evt SystemEvent
	due time.Time
}

// batchBuffer accumulates events of one type until flushed.
type batchBuffer struct {
	events []SystemEvent
	due    time.Time
}

// Bus is the central event router. All dispatch is synchronous; the only
// deferral points are debounce and batch flush, both pumped by the clock
// through Pump. Listener and middleware failures are isolated per callback
// and never abort an emission.
type Bus struct {
	mu sync.Mutex

	logger  *logger.Logger
	metrics *metrics.Collector

	nextID     int
	global     map[EventType][]*subscription
	entities   map[string]map[EventType][]*subscription
	middleware []Middleware

	history    []SystemEvent
	historyCap int

	debounced map[int]*pendingDebounce
	batches   map[EventType]*batchBuffer
	batchSize int
	batchWin  time.Duration

	resolveTags   TagResolver
	errorHandlers []ErrorHandler
	errorCount    int
	emitCount     int
	dropCount     int
}

// Option configures a Bus at construction time.
type Option func(*Bus)

// WithHistoryCap overrides the bounded history size.
func WithHistoryCap(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.historyCap = n
		}
	}
}

// WithBatching overrides the batch flush window and size threshold.
func WithBatching(window time.Duration, size int) Option {
	return func(b *Bus) {
		if window > 0 {
			b.batchWin = window
		}
		if size > 0 {
			b.batchSize = size
		}
	}
}

// WithTagResolver wires the entity tag lookup used by tag-filtered
// subscriptions.
func WithTagResolver(r TagResolver) Option {
	return func(b *Bus) { b.resolveTags = r }
}

// WithMetrics wires a metrics collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(b *Bus) { b.metrics = c }
}

// NewBus creates an event bus.
func NewBus(log *logger.Logger, opts ...Option) *Bus {
	b := &Bus{
		logger:     log,
		global:     make(map[EventType][]*subscription),
		entities:   make(map[string]map[EventType][]*subscription),
		history:    make([]SystemEvent, 0),
		historyCap: 1000,
		debounced:  make(map[int]*pendingDebounce),
		batches:    make(map[EventType]*batchBuffer),
		batchSize:  50,
		batchWin:   100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Use appends a middleware to the chain. Middleware run in registration
// order, before any listener.
func (b *Bus) Use(mw Middleware) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.middleware = append(b.middleware, mw)
}

// OnError registers a handler for listener/middleware failures.
func (b *Bus) OnError(h ErrorHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.errorHandlers = append(b.errorHandlers, h)
}

// Subscribe registers a global listener for an event type. The returned id
// cancels the subscription via Unsubscribe.
func (b *Bus) Subscribe(event EventType, h Handler, opts ...SubscribeOptions) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := b.newSubscription(event, "", h, opts)
	b.global[event] = append(b.global[event], sub)
	return sub.id
}

// SubscribeEntity registers a listener scoped to one entity. If the entity
// was never registered, an empty listener table is created with a warning;
// the subscription still takes effect.
func (b *Bus) SubscribeEntity(entityID string, event EventType, h Handler, opts ...SubscribeOptions) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.entities[entityID]; !ok {
		b.logger.Warn("SubscribeEntity: entity %q not registered, auto-registering listener table", entityID)
		b.entities[entityID] = make(map[EventType][]*subscription)
	}

	sub := b.newSubscription(event, entityID, h, opts)
	b.entities[entityID][event] = append(b.entities[entityID][event], sub)
	return sub.id
}

func (b *Bus) newSubscription(event EventType, entityID string, h Handler, opts []SubscribeOptions) *subscription {
	b.nextID++
	sub := &subscription{id: b.nextID, event: event, entity: entityID, handler: h}
	if len(opts) > 0 {
		sub.opts = opts[0]
	}
	return sub
}

// Unsubscribe cancels a subscription by id. Unknown ids are a no-op.
func (b *Bus) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeByID(id)
}

func (b *Bus) removeByID(id int) {
	for event, subs := range b.global {
		b.global[event] = dropSub(subs, id)
	}
	for _, table := range b.entities {
		for event, subs := range table {
			table[event] = dropSub(subs, id)
		}
	}
	delete(b.debounced, id)
}

func dropSub(subs []*subscription, id int) []*subscription {
	for i, s := range subs {
		if s.id == id {
			s.removed = true
			return append(subs[:i:i], subs[i+1:]...)
		}
	}
	return subs
}

// ClearForType removes all global and entity-scoped listeners for one type.
func (b *Bus) ClearForType(event EventType) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, s := range b.global[event] {
		s.removed = true
		delete(b.debounced, s.id)
	}
	delete(b.global, event)
	for _, table := range b.entities {
		for _, s := range table[event] {
			s.removed = true
			delete(b.debounced, s.id)
		}
		delete(table, event)
	}
}

// ClearAll removes every listener and pending deferred delivery.
func (b *Bus) ClearAll() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.global = make(map[EventType][]*subscription)
	b.entities = make(map[string]map[EventType][]*subscription)
	b.debounced = make(map[int]*pendingDebounce)
	b.batches = make(map[EventType]*batchBuffer)
}

// RegisterEntity creates the entity's listener table. Idempotent.
func (b *Bus) RegisterEntity(entityID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.entities[entityID]; !ok {
		b.entities[entityID] = make(map[EventType][]*subscription)
	}
}

// UnregisterEntity removes the entity's listener table and all of its
// subscriptions. Idempotent.
func (b *Bus) UnregisterEntity(entityID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	table, ok := b.entities[entityID]
	if !ok {
		return
	}
	for _, subs := range table {
		for _, s := range subs {
			s.removed = true
			delete(b.debounced, s.id)
		}
	}
	delete(b.entities, entityID)
}

// Emit dispatches an event synchronously: build the immutable record,
// append to history, run the middleware chain, then fan out to global and
// entity-scoped listeners in FIFO order.
func (b *Bus) Emit(event EventType, data map[string]interface{}, opts ...EmitOptions) {
	var eo EmitOptions
	if len(opts) > 0 {
		eo = opts[0]
	}

	if data == nil {
		data = make(map[string]interface{})
	}
	for k, v := range eo.Meta {
		if _, exists := data[k]; !exists {
			data[k] = v
		}
	}

	evt := SystemEvent{
		Type:      event,
		Data:      data,
		Timestamp: time.Now(),
		Source:    eo.Source,
		Target:    eo.Target,
	}

	if eo.Batch {
		b.enqueueBatch(evt)
		return
	}
	b.dispatch(evt)
}

func (b *Bus) dispatch(evt SystemEvent) {
	b.mu.Lock()
	b.emitCount++
	b.appendHistory(evt)
	chain := make([]Middleware, len(b.middleware))
	copy(chain, b.middleware)
	b.mu.Unlock()

	if b.metrics != nil {
		b.metrics.RecordEmit()
	}

	// Middleware chain: each link must call next() to proceed.
	proceeded := b.runMiddleware(&evt, chain)
	if !proceeded {
		b.mu.Lock()
		b.dropCount++
		b.mu.Unlock()
		if b.metrics != nil {
			b.metrics.RecordDrop()
		}
		return
	}

	b.fanOut(evt)
}

// runMiddleware threads the event through the chain in registration order.
// Returns false if any middleware declined to call its continuation.
func (b *Bus) runMiddleware(evt *SystemEvent, chain []Middleware) bool {
	index := 0
	completed := false

	var next func()
	next = func() {
		if index >= len(chain) {
			completed = true
			return
		}
		mw := chain[index]
		index++
		b.safeMiddleware(mw, evt, next)
	}
	next()
	return completed
}

func (b *Bus) safeMiddleware(mw Middleware, evt *SystemEvent, next func()) {
	defer func() {
		if r := recover(); r != nil {
			b.reportFailure(fmt.Errorf("middleware panic: %v", r), *evt)
		}
	}()
	mw(evt, next)
}

// fanOut delivers the event to matching global then entity-scoped
// listeners. Listener order within each list is subscription order.
func (b *Bus) fanOut(evt SystemEvent) {
	b.mu.Lock()
	targets := make([]*subscription, 0, 8)
	targets = append(targets, b.global[evt.Type]...)
	if evt.Target != "" {
		if table, ok := b.entities[evt.Target]; ok {
			targets = append(targets, table[evt.Type]...)
		}
	}
	b.mu.Unlock()

	for _, sub := range targets {
		if sub.removed || !b.matches(sub, evt) {
			continue
		}

		if sub.opts.Debounce > 0 {
			b.deferDebounced(sub, evt)
			continue
		}

		b.deliver(sub, evt)
	}
}

// matches applies the subscription's filters.
func (b *Bus) matches(sub *subscription, evt SystemEvent) bool {
	if sub.opts.EntityID != "" && evt.Target != sub.opts.EntityID {
		return false
	}
	if len(sub.opts.Tags) > 0 {
		if b.resolveTags == nil || evt.Target == "" {
			return false
		}
		if !anyTagMatch(sub.opts.Tags, b.resolveTags(evt.Target)) {
			return false
		}
	}
	if sub.opts.Filter != nil && !sub.opts.Filter(evt) {
		return false
	}
	return true
}

func anyTagMatch(want, have []string) bool {
	for _, w := range want {
		for _, h := range have {
			if w == h {
				return true
			}
		}
	}
	return false
}

// deliver invokes one listener inside its own error boundary, honoring Once.
func (b *Bus) deliver(sub *subscription, evt SystemEvent) {
	defer func() {
		if r := recover(); r != nil {
			b.reportFailure(fmt.Errorf("listener panic: %v", r), evt)
		}
	}()

	if sub.opts.Once {
		b.mu.Lock()
		b.removeByID(sub.id)
		b.mu.Unlock()
	}

	sub.handler(evt)
}

// deferDebounced records the trailing event for a debounced subscription,
// replacing any pending entry for the same subscription.
func (b *Bus) deferDebounced(sub *subscription, evt SystemEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, pending := b.debounced[sub.id]; pending {
		if b.metrics != nil {
			b.metrics.RecordDebounce()
		}
	}
	b.debounced[sub.id] = &pendingDebounce{
		sub: sub,
		evt: evt,
		due: evt.Timestamp.Add(sub.opts.Debounce),
	}
}

// enqueueBatch buffers an event; a full buffer flushes immediately.
func (b *Bus) enqueueBatch(evt SystemEvent) {
	b.mu.Lock()
	buf, ok := b.batches[evt.Type]
	if !ok {
		buf = &batchBuffer{due: evt.Timestamp.Add(b.batchWin)}
		b.batches[evt.Type] = buf
	}
	buf.events = append(buf.events, evt)
	full := len(buf.events) >= b.batchSize
	b.mu.Unlock()

	if full {
		b.flushBatch(evt.Type)
	}
}

// flushBatch emits the aggregate event for one type and clears its buffer.
func (b *Bus) flushBatch(event EventType) {
	b.mu.Lock()
	buf, ok := b.batches[event]
	if !ok || len(buf.events) == 0 {
		delete(b.batches, event)
		b.mu.Unlock()
		return
	}
	batched := buf.events
	delete(b.batches, event)
	b.mu.Unlock()

	payloads := make([]map[string]interface{}, len(batched))
	for i, e := range batched {
		payloads[i] = e.Data
	}
	b.dispatch(SystemEvent{
		Type: event,
		Data: map[string]interface{}{
			"batched": true,
			"count":   len(batched),
			"events":  payloads,
		},
		Timestamp: time.Now(),
		Source:    batched[len(batched)-1].Source,
		Target:    batched[len(batched)-1].Target,
	})
}

// Pump advances the bus's deferred work to the given time: due debounced
// deliveries fire with their trailing payload, and expired batch windows
// flush. The clock calls this once per tick; there are no hidden timer
// goroutines.
func (b *Bus) Pump(now time.Time) {
	b.mu.Lock()
	var due []*pendingDebounce
	for id, p := range b.debounced {
		if !p.due.After(now) {
			due = append(due, p)
			delete(b.debounced, id)
		}
	}
	var expired []EventType
	for event, buf := range b.batches {
		if !buf.due.After(now) {
			expired = append(expired, event)
		}
	}
	b.mu.Unlock()

	for _, p := range due {
		if p.sub.removed {
			continue
		}
		b.deliver(p.sub, p.evt)
	}
	for _, event := range expired {
		b.flushBatch(event)
	}
}

// appendHistory stores the event, dropping the oldest once at capacity.
// Caller holds b.mu.
func (b *Bus) appendHistory(evt SystemEvent) {
	if len(b.history) >= b.historyCap {
		b.history = b.history[1:]
	}
	b.history = append(b.history, evt)
}

// GetHistory returns a copy of the retained events, optionally filtered.
func (b *Bus) GetHistory(filter ...HistoryFilter) []SystemEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	var f HistoryFilter
	if len(filter) > 0 {
		f = filter[0]
	}
	out := make([]SystemEvent, 0, len(b.history))
	for _, evt := range b.history {
		if f.Matches(evt) {
			out = append(out, evt)
		}
	}
	return out
}

// Stats describes the bus's counters.
type Stats struct {
	Emitted       int `json:"emitted"`
	Dropped       int `json:"dropped"`
	ListenerError int `json:"listener_errors"`
	Subscriptions int `json:"subscriptions"`
	HistoryLen    int `json:"history_len"`
}

// GetStats returns a snapshot of the counters.
func (b *Bus) GetStats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := 0
	for _, s := range b.global {
		subs += len(s)
	}
	for _, table := range b.entities {
		for _, s := range table {
			subs += len(s)
		}
	}
	return Stats{
		Emitted:       b.emitCount,
		Dropped:       b.dropCount,
		ListenerError: b.errorCount,
		Subscriptions: subs,
		HistoryLen:    len(b.history),
	}
}

// reportFailure counts a callback failure and forwards it to the error
// handlers. A failing error handler is logged, not propagated.
func (b *Bus) reportFailure(err error, evt SystemEvent) {
	b.mu.Lock()
	b.errorCount++
	handlers := make([]ErrorHandler, len(b.errorHandlers))
	copy(handlers, b.errorHandlers)
	b.mu.Unlock()

	if b.metrics != nil {
		b.metrics.RecordListenerError()
	}
	b.logger.Error("event %q listener failure: %v", evt.Type, err)

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("error handler panic: %v", r)
				}
			}()
			h(err, evt)
		}()
	}
}
