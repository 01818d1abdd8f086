// Package condition interprets declarative unlock-condition trees against
// live game state. Condition types and comparison operations are closed
// tagged variants; unknown values are rejected when a tree is validated,
// not discovered mid-evaluation.
package condition

import (
	"fmt"
	"time"
)

// Type identifies what a condition's target resolves to.
type Type string

// The fixed lookup vocabulary.
const (
	TypeResourceAmount  Type = "resourceAmount"
	TypeResourceRate    Type = "resourceRate"
	TypeBuildingCount   Type = "buildingCount"
	TypeBuildingLevel   Type = "buildingLevel"
	TypeUpgradeApplied  Type = "upgradeApplied"
	TypeTimeElapsed     Type = "timeElapsed"
	TypeUnlockedCount   Type = "unlockedCount"
	TypeStorageCapacity Type = "storageCapacity"
	TypeProperty        Type = "property"
	TypeCount           Type = "count"
	TypeSum             Type = "sum"
)

// Op is a comparison operation.
type Op string

// The closed operation set.
const (
	OpEquals         Op = "equals"
	OpNotEquals      Op = "not_equals"
	OpGreater        Op = "greater"
	OpGreaterOrEqual Op = "greater_or_equal"
	OpLess           Op = "less"
	OpLessOrEqual    Op = "less_or_equal"
	OpContains       Op = "contains"
	OpNotContains    Op = "not_contains"
	OpExists         Op = "exists"
	OpNotExists      Op = "not_exists"
	OpBetween        Op = "between"
	OpInList         Op = "in_list"
	OpMatchesPattern Op = "matches_pattern"
)

// TargetSpec narrows the entity population for count/sum aggregations.
type TargetSpec struct {
	Tag         string `json:"tag,omitempty"`
	NamePattern string `json:"namePattern,omitempty"`
	Unlocked    *bool  `json:"unlocked,omitempty"`
}

// Node is one condition leaf: resolve Target through the Type's lookup and
// compare the resolved value against Value with Operation.
type Node struct {
	Type      Type        `json:"type"`
	Target    string      `json:"target"`
	Property  string      `json:"property,omitempty"` // for property/sum lookups
	Spec      *TargetSpec `json:"spec,omitempty"`     // for count/sum lookups
	Operation Op          `json:"operation"`
	Value     interface{} `json:"value"`
}

// Complex composes a primary condition with prerequisite, time-delay,
// OR/AND/NOT lists and an optional custom validator. Evaluation order:
// prerequisites gate everything; the time delay starts once prerequisites
// are met; then (primary OR any or-condition) AND all and-conditions AND
// none of the not-conditions AND the validator.
type Complex struct {
	Condition     *Node         `json:"condition,omitempty"`
	OrConditions  []*Node       `json:"orConditions,omitempty"`
	AndConditions []*Node       `json:"andConditions,omitempty"`
	NotConditions []*Node       `json:"notConditions,omitempty"`
	Prerequisites []string      `json:"prerequisites,omitempty"`
	TimeDelay     time.Duration `json:"timeDelay,omitempty"`
	Validator     func() bool   `json:"-"`
}

// Result is the outcome of one evaluation. Progress is a best-effort 0..1
// ratio for ordering comparisons (for UI progress bars) and 0 otherwise.
type Result struct {
	Met      bool    `json:"met"`
	Progress float64 `json:"progress"`
	Reason   string  `json:"reason,omitempty"`
}

// ValidateNode rejects malformed condition leaves synchronously, before
// they are ever registered against an entity.
func ValidateNode(n *Node) error {
	if n == nil {
		return fmt.Errorf("nil condition node")
	}
	switch n.Type {
	case TypeResourceAmount, TypeResourceRate, TypeBuildingCount,
		TypeBuildingLevel, TypeUpgradeApplied, TypeStorageCapacity,
		TypeProperty:
		if n.Target == "" {
			return fmt.Errorf("condition type %q requires a target", n.Type)
		}
	case TypeTimeElapsed, TypeUnlockedCount:
		// No target needed.
	case TypeCount, TypeSum:
		if n.Spec == nil {
			return fmt.Errorf("condition type %q requires a target spec", n.Type)
		}
		if n.Type == TypeSum && n.Property == "" {
			return fmt.Errorf("sum condition requires a property")
		}
	default:
		return fmt.Errorf("unknown condition type %q", n.Type)
	}

	switch n.Operation {
	case OpEquals, OpNotEquals, OpGreater, OpGreaterOrEqual, OpLess,
		OpLessOrEqual, OpContains, OpNotContains, OpExists, OpNotExists,
		OpBetween, OpInList, OpMatchesPattern:
		return nil
	default:
		return fmt.Errorf("unknown operation %q", n.Operation)
	}
}

// ValidateComplex validates every node of a composed condition.
func ValidateComplex(c *Complex) error {
	if c == nil {
		return fmt.Errorf("nil complex condition")
	}
	if c.Condition == nil && len(c.OrConditions) == 0 && len(c.AndConditions) == 0 &&
		len(c.Prerequisites) == 0 && c.TimeDelay == 0 && c.Validator == nil {
		return fmt.Errorf("complex condition has no clauses")
	}
	if c.Condition != nil {
		if err := ValidateNode(c.Condition); err != nil {
			return err
		}
	}
	for _, group := range [][]*Node{c.OrConditions, c.AndConditions, c.NotConditions} {
		for _, n := range group {
			if err := ValidateNode(n); err != nil {
				return err
			}
		}
	}
	return nil
}
