// Package metrics provides observability for the simulation core.
// Counters are cheap atomics so the hot emit/tick paths stay unburdened.
package metrics

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// Collector gathers performance metrics for one engine instance.
type Collector struct {
	// Tick metrics
	TickCount      int64
	TickLatencySum int64 // nanoseconds
	TickLatencyMax int64
	LastTickTime   time.Time

	// Event bus metrics
	EventsEmitted   int64
	EventsDropped   int64 // dropped by middleware or filters
	EventsDebounced int64
	ListenerErrors  int64

	// Cost engine metrics
	CostValidations int64
	SpendSuccesses  int64
	SpendFailures   int64

	// Unlock metrics
	UnlockChecks     int64
	EntitiesUnlocked int64

	// Capacity metrics
	CapacityHits   int64
	CapacityMisses int64

	StartTime time.Time
	mu        sync.RWMutex
}

// NewCollector creates a collector bound to an engine instance.
func NewCollector() *Collector {
	return &Collector{StartTime: time.Now()}
}

// RecordTick records a tick cycle completion.
func (c *Collector) RecordTick(latency time.Duration) {
	atomic.AddInt64(&c.TickCount, 1)
	atomic.AddInt64(&c.TickLatencySum, int64(latency))

	// Update max (non-atomic but acceptable for metrics)
	if int64(latency) > atomic.LoadInt64(&c.TickLatencyMax) {
		atomic.StoreInt64(&c.TickLatencyMax, int64(latency))
	}

	c.mu.Lock()
	c.LastTickTime = time.Now()
	c.mu.Unlock()
}

// RecordEmit records an event dispatched through the bus.
func (c *Collector) RecordEmit() { atomic.AddInt64(&c.EventsEmitted, 1) }

// RecordDrop records an event dropped before reaching listeners.
func (c *Collector) RecordDrop() { atomic.AddInt64(&c.EventsDropped, 1) }

// RecordDebounce records a collapsed debounced delivery.
func (c *Collector) RecordDebounce() { atomic.AddInt64(&c.EventsDebounced, 1) }

// RecordListenerError records a listener that panicked or errored.
func (c *Collector) RecordListenerError() { atomic.AddInt64(&c.ListenerErrors, 1) }

// RecordValidation records a cost validation pass.
func (c *Collector) RecordValidation() { atomic.AddInt64(&c.CostValidations, 1) }

// RecordSpend records a spend attempt outcome.
func (c *Collector) RecordSpend(ok bool) {
	if ok {
		atomic.AddInt64(&c.SpendSuccesses, 1)
	} else {
		atomic.AddInt64(&c.SpendFailures, 1)
	}
}

// RecordUnlockCheck records one pass over the pending unlock registrations.
func (c *Collector) RecordUnlockCheck() { atomic.AddInt64(&c.UnlockChecks, 1) }

// RecordUnlock records an entity transitioning to unlocked.
func (c *Collector) RecordUnlock() { atomic.AddInt64(&c.EntitiesUnlocked, 1) }

// RecordCapacityLookup records a capacity cache hit or miss.
func (c *Collector) RecordCapacityLookup(hit bool) {
	if hit {
		atomic.AddInt64(&c.CapacityHits, 1)
	} else {
		atomic.AddInt64(&c.CapacityMisses, 1)
	}
}

// Snapshot returns current metrics as a map.
func (c *Collector) Snapshot() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	tickCount := atomic.LoadInt64(&c.TickCount)

	var tickAvg float64
	if tickCount > 0 {
		tickAvg = float64(atomic.LoadInt64(&c.TickLatencySum)) / float64(tickCount) / 1e6 // ms
	}

	return map[string]interface{}{
		"uptime_seconds": time.Since(c.StartTime).Seconds(),

		"tick": map[string]interface{}{
			"count":          tickCount,
			"avg_latency_ms": tickAvg,
			"max_latency_ms": float64(atomic.LoadInt64(&c.TickLatencyMax)) / 1e6,
			"last_tick":      c.LastTickTime.Format(time.RFC3339),
		},

		"events": map[string]interface{}{
			"emitted":         atomic.LoadInt64(&c.EventsEmitted),
			"dropped":         atomic.LoadInt64(&c.EventsDropped),
			"debounced":       atomic.LoadInt64(&c.EventsDebounced),
			"listener_errors": atomic.LoadInt64(&c.ListenerErrors),
		},

		"cost": map[string]interface{}{
			"validations":    atomic.LoadInt64(&c.CostValidations),
			"spend_success":  atomic.LoadInt64(&c.SpendSuccesses),
			"spend_failures": atomic.LoadInt64(&c.SpendFailures),
		},

		"unlock": map[string]interface{}{
			"checks":   atomic.LoadInt64(&c.UnlockChecks),
			"unlocked": atomic.LoadInt64(&c.EntitiesUnlocked),
		},

		"capacity": map[string]interface{}{
			"hits":   atomic.LoadInt64(&c.CapacityHits),
			"misses": atomic.LoadInt64(&c.CapacityMisses),
		},
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func (c *Collector) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-cache")
		json.NewEncoder(w).Encode(c.Snapshot())
	}
}

// PrometheusHandler returns metrics in Prometheus text format.
func (c *Collector) PrometheusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")

		fmt.Fprintf(w, "# HELP idlecore_tick_count Total tick cycles\n")
		fmt.Fprintf(w, "# TYPE idlecore_tick_count counter\n")
		fmt.Fprintf(w, "idlecore_tick_count %d\n\n", atomic.LoadInt64(&c.TickCount))

		fmt.Fprintf(w, "# HELP idlecore_tick_latency_max_ms Maximum tick latency\n")
		fmt.Fprintf(w, "# TYPE idlecore_tick_latency_max_ms gauge\n")
		fmt.Fprintf(w, "idlecore_tick_latency_max_ms %.2f\n\n", float64(atomic.LoadInt64(&c.TickLatencyMax))/1e6)

		fmt.Fprintf(w, "# HELP idlecore_events_emitted Total events dispatched\n")
		fmt.Fprintf(w, "# TYPE idlecore_events_emitted counter\n")
		fmt.Fprintf(w, "idlecore_events_emitted %d\n\n", atomic.LoadInt64(&c.EventsEmitted))

		fmt.Fprintf(w, "# HELP idlecore_listener_errors Total listener failures\n")
		fmt.Fprintf(w, "# TYPE idlecore_listener_errors counter\n")
		fmt.Fprintf(w, "idlecore_listener_errors %d\n\n", atomic.LoadInt64(&c.ListenerErrors))

		fmt.Fprintf(w, "# HELP idlecore_spend_total Total spend attempts by outcome\n")
		fmt.Fprintf(w, "# TYPE idlecore_spend_total counter\n")
		fmt.Fprintf(w, "idlecore_spend_total{outcome=\"success\"} %d\n", atomic.LoadInt64(&c.SpendSuccesses))
		fmt.Fprintf(w, "idlecore_spend_total{outcome=\"failure\"} %d\n\n", atomic.LoadInt64(&c.SpendFailures))

		fmt.Fprintf(w, "# HELP idlecore_entities_unlocked Total entities unlocked\n")
		fmt.Fprintf(w, "# TYPE idlecore_entities_unlocked counter\n")
		fmt.Fprintf(w, "idlecore_entities_unlocked %d\n", atomic.LoadInt64(&c.EntitiesUnlocked))
	}
}
