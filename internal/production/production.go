// Package production decides which producer entities should run. Each
// tick (or on demand) the coordinator reconciles every unlocked producer
// against input availability and output capacity, starting and stopping
// as needed and recording why stalled producers cannot run.
package production

import (
	"fmt"
	"sync"

	"github.com/emberforge/idlecore/internal/events"
	"github.com/emberforge/idlecore/internal/platform/logger"
)

// Producer is the coordinator's view of a producing entity. This is an
// explicit capability contract: entities opt in by implementing it, there
// is no runtime property probing.
type Producer interface {
	ID() string
	IsUnlocked() bool
	Inputs() map[string]float64
	Outputs() map[string]float64
	IsProducing() bool
	StartProduction()
	StopProduction()
}

// Provider supplies the current producer population.
type Provider func() []Producer

// ResourceLookup reports the live amount of a resource. Missing resources
// report found=false and are treated as zero.
type ResourceLookup func(resourceID string) (float64, bool)

// CapacityCheck reports whether amount more units of a resource fit in
// storage.
type CapacityCheck func(resourceID string, amount float64) bool

// CapacityTotal reports the total capacity for a resource, for bottleneck
// diagnostics.
type CapacityTotal func(resourceID string) float64

// BottleneckKind classifies why a producer cannot run.
type BottleneckKind string

const (
	BottleneckInput    BottleneckKind = "input_shortage"
	BottleneckCapacity BottleneckKind = "capacity_limit"
)

// Bottleneck is a diagnosed reason a producer is not running.
type Bottleneck struct {
	ProducerID string         `json:"producerId"`
	Kind       BottleneckKind `json:"kind"`
	ResourceID string         `json:"resourceId"`
	Required   float64        `json:"required,omitempty"`
	Available  float64        `json:"available,omitempty"`
	Attempted  float64        `json:"attempted,omitempty"`
	Capacity   float64        `json:"capacity,omitempty"`
	Reason     string         `json:"reason"`
}

// Report summarizes one optimization pass.
type Report struct {
	Started     int          `json:"started"`
	Stopped     int          `json:"stopped"`
	Bottlenecks []Bottleneck `json:"bottlenecks"`
}

// Coordinator reconciles producer run state against feasibility.
type Coordinator struct {
	mu     sync.Mutex
	logger *logger.Logger
	bus    *events.Bus

	producers   Provider
	resource    ResourceLookup
	hasCapacity CapacityCheck
	capacityFor CapacityTotal

	lastBottlenecks []Bottleneck
}

// NewCoordinator creates a production coordinator.
func NewCoordinator(producers Provider, resource ResourceLookup, hasCapacity CapacityCheck, capacityFor CapacityTotal, bus *events.Bus, log *logger.Logger) *Coordinator {
	return &Coordinator{
		logger:      log,
		bus:         bus,
		producers:   producers,
		resource:    resource,
		hasCapacity: hasCapacity,
		capacityFor: capacityFor,
	}
}

// Optimize reconciles every unlocked producer: feasible and idle starts,
// infeasible and running stops with a recorded bottleneck. Calling it
// again on an already-optimal population is a no-op (zero started, zero
// stopped), so event-triggered and tick-triggered calls can overlap
// freely.
func (c *Coordinator) Optimize() Report {
	report := Report{}

	for _, p := range c.producers() {
		if !p.IsUnlocked() {
			continue
		}

		feasible, bottleneck := c.canProduce(p)
		switch {
		case feasible && !p.IsProducing():
			p.StartProduction()
			report.Started++
			c.emit(events.EventTypeProductionStart, p.ID())
		case !feasible && p.IsProducing():
			p.StopProduction()
			report.Stopped++
			report.Bottlenecks = append(report.Bottlenecks, bottleneck)
			c.emit(events.EventTypeProductionStop, p.ID())
			c.logger.Event("BOTTLENECK", p.ID(), bottleneck.Reason)
		case !feasible:
			// Already stopped; still report why it stays down.
			report.Bottlenecks = append(report.Bottlenecks, bottleneck)
		}
	}

	c.mu.Lock()
	c.lastBottlenecks = report.Bottlenecks
	c.mu.Unlock()
	return report
}

// canProduce checks input availability and output capacity. The first
// blocking resource is reported; remaining checks are skipped.
func (c *Coordinator) canProduce(p Producer) (bool, Bottleneck) {
	for id, required := range p.Inputs() {
		available, _ := c.resource(id) // missing resource counts as zero
		if available < required {
			return false, Bottleneck{
				ProducerID: p.ID(),
				Kind:       BottleneckInput,
				ResourceID: id,
				Required:   required,
				Available:  available,
				Reason:     fmt.Sprintf("Insufficient %s", id),
			}
		}
	}

	for id, amount := range p.Outputs() {
		if !c.hasCapacity(id, amount) {
			return false, Bottleneck{
				ProducerID: p.ID(),
				Kind:       BottleneckCapacity,
				ResourceID: id,
				Attempted:  amount,
				Capacity:   c.capacityFor(id),
				Reason:     fmt.Sprintf("No storage capacity for %s", id),
			}
		}
	}

	return true, Bottleneck{}
}

// StartAll starts every unlocked producer that can currently produce.
func (c *Coordinator) StartAll() int {
	started := 0
	for _, p := range c.producers() {
		if !p.IsUnlocked() || p.IsProducing() {
			continue
		}
		if ok, _ := c.canProduce(p); ok {
			p.StartProduction()
			started++
			c.emit(events.EventTypeProductionStart, p.ID())
		}
	}
	return started
}

// StopAll stops every running producer.
func (c *Coordinator) StopAll() int {
	stopped := 0
	for _, p := range c.producers() {
		if p.IsProducing() {
			p.StopProduction()
			stopped++
			c.emit(events.EventTypeProductionStop, p.ID())
		}
	}
	return stopped
}

// GetBottlenecks returns the bottlenecks from the most recent Optimize.
func (c *Coordinator) GetBottlenecks() []Bottleneck {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Bottleneck, len(c.lastBottlenecks))
	copy(out, c.lastBottlenecks)
	return out
}

func (c *Coordinator) emit(event events.EventType, producerID string) {
	if c.bus == nil {
		return
	}
	c.bus.Emit(event, map[string]interface{}{"producerId": producerID},
		events.EmitOptions{Source: "production", Target: producerID})
}
