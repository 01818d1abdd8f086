package cost

import (
	"sort"
	"sync"
)

// topResourceCap bounds the most-common-resources list.
const topResourceCap = 10

// ResourceFrequency pairs a resource id with how often it appeared in
// calculated costs.
type ResourceFrequency struct {
	ResourceID string `json:"resourceId"`
	Count      int    `json:"count"`
}

// StatsSnapshot is a point-in-time copy of the engine's statistics.
type StatsSnapshot struct {
	Calculations      int                 `json:"calculations"`
	Validations       int                 `json:"validations"`
	SpendSuccesses    int                 `json:"spendSuccesses"`
	SpendFailures     int                 `json:"spendFailures"`
	MostExpensiveID   string              `json:"mostExpensiveResource,omitempty"`
	MostExpensiveSeen int                 `json:"mostExpensiveAmount"`
	TopResources      []ResourceFrequency `json:"topResources"`
}

// Stats tracks running counters for the cost engine.
type Stats struct {
	mu                sync.Mutex
	calculations      int
	validations       int
	spendSuccesses    int
	spendFailures     int
	mostExpensiveID   string
	mostExpensiveSeen int
	frequency         map[string]int
}

func newStats() Stats {
	return Stats{frequency: make(map[string]int)}
}

func (s *Stats) recordCalculation(resolved map[string]int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calculations++
	for id, amount := range resolved {
		s.frequency[id]++
		if amount > s.mostExpensiveSeen {
			s.mostExpensiveSeen = amount
			s.mostExpensiveID = id
		}
	}
}

func (s *Stats) recordValidation() {
	s.mu.Lock()
	s.validations++
	s.mu.Unlock()
}

func (s *Stats) recordSpend() {
	s.mu.Lock()
	s.spendSuccesses++
	s.mu.Unlock()
}

func (s *Stats) recordSpendFailure() {
	s.mu.Lock()
	s.spendFailures++
	s.mu.Unlock()
}

// snapshot copies the counters and ranks resource frequency, capped at
// the top 10.
func (s *Stats) snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	top := make([]ResourceFrequency, 0, len(s.frequency))
	for id, n := range s.frequency {
		top = append(top, ResourceFrequency{ResourceID: id, Count: n})
	}
	sort.Slice(top, func(i, j int) bool {
		if top[i].Count != top[j].Count {
			return top[i].Count > top[j].Count
		}
		return top[i].ResourceID < top[j].ResourceID
	})
	if len(top) > topResourceCap {
		top = top[:topResourceCap]
	}

	return StatsSnapshot{
		Calculations:      s.calculations,
		Validations:       s.validations,
		SpendSuccesses:    s.spendSuccesses,
		SpendFailures:     s.spendFailures,
		MostExpensiveID:   s.mostExpensiveID,
		MostExpensiveSeen: s.mostExpensiveSeen,
		TopResources:      top,
	}
}
