// Package content loads game content packs: JSON definitions of
// resources, storages, producers and upgrades, validated against an
// embedded JSON Schema before any entity is constructed.
package content

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/emberforge/idlecore/internal/condition"
	"github.com/emberforge/idlecore/internal/cost"
	"github.com/emberforge/idlecore/internal/engine"
	"github.com/emberforge/idlecore/internal/entity"
	"github.com/emberforge/idlecore/internal/platform/logger"
)

// baseDef carries the fields shared by every entity definition.
type baseDef struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Tags        []string          `json:"tags"`
	Unlocked    bool              `json:"unlocked"`
	Costs       []cost.Definition `json:"costs"`
	Unlock      *complexDef       `json:"unlock"`
}

// ResourceDef defines a resource entity.
type ResourceDef struct {
	baseDef
	Amount float64 `json:"amount"`
	Rate   float64 `json:"rate"`
}

// StorageDef defines a storage entity.
type StorageDef struct {
	baseDef
	Capacities          map[string]float64 `json:"capacities"`
	ConstructionSeconds float64            `json:"constructionSeconds"`
}

// ProducerDef defines a producer entity.
type ProducerDef struct {
	baseDef
	Inputs       map[string]float64 `json:"inputs"`
	Outputs      map[string]float64 `json:"outputs"`
	CycleSeconds float64            `json:"cycleSeconds"`
}

// UpgradeDef defines an upgrade entity.
type UpgradeDef struct {
	baseDef
}

// complexDef is the JSON form of a composed unlock condition.
type complexDef struct {
	Condition        *condition.Node   `json:"condition"`
	OrConditions     []*condition.Node `json:"orConditions"`
	AndConditions    []*condition.Node `json:"andConditions"`
	NotConditions    []*condition.Node `json:"notConditions"`
	Prerequisites    []string          `json:"prerequisites"`
	TimeDelaySeconds float64           `json:"timeDelaySeconds"`
}

func (d *complexDef) toCondition() *condition.Complex {
	return &condition.Complex{
		Condition:     d.Condition,
		OrConditions:  d.OrConditions,
		AndConditions: d.AndConditions,
		NotConditions: d.NotConditions,
		Prerequisites: d.Prerequisites,
		TimeDelay:     time.Duration(d.TimeDelaySeconds * float64(time.Second)),
	}
}

// Pack is a parsed, schema-valid content pack.
type Pack struct {
	Resources []ResourceDef `json:"resources"`
	Storages  []StorageDef  `json:"storages"`
	Producers []ProducerDef `json:"producers"`
	Upgrades  []UpgradeDef  `json:"upgrades"`
}

// Load reads and validates a content pack file.
func Load(path string) (*Pack, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read content pack: %w", err)
	}
	return Parse(data)
}

// Parse validates raw pack bytes against the schema and decodes them.
func Parse(data []byte) (*Pack, error) {
	schema, err := jsonschema.CompileString("pack.schema.json", packSchema)
	if err != nil {
		return nil, fmt.Errorf("failed to compile pack schema: %w", err)
	}

	var doc interface{}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("content pack is not valid JSON: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("content pack failed validation: %w", err)
	}

	var pack Pack
	if err := json.Unmarshal(data, &pack); err != nil {
		return nil, fmt.Errorf("failed to decode content pack: %w", err)
	}
	return &pack, nil
}

// Apply constructs and registers every entity in the pack, then registers
// unlock conditions for entities that declare one.
func Apply(pack *Pack, eng *engine.Engine, log *logger.Logger) error {
	type pendingUnlock struct {
		entityID string
		cond     *condition.Complex
	}
	var pending []pendingUnlock

	register := func(ent entity.Entity, unlockDef *complexDef) error {
		if err := eng.Register(ent); err != nil {
			return err
		}
		if unlockDef != nil {
			pending = append(pending, pendingUnlock{entityID: ent.ID(), cond: unlockDef.toCondition()})
		}
		return nil
	}

	for _, def := range pack.Resources {
		r := entity.NewResource(def.config(), def.Amount, def.Rate)
		if err := register(r, def.Unlock); err != nil {
			return fmt.Errorf("resource %q: %w", def.Name, err)
		}
	}

	for _, def := range pack.Storages {
		s := entity.NewStore(def.config(), def.Capacities)
		if def.ConstructionSeconds > 0 {
			s.BeginConstruction(time.Duration(def.ConstructionSeconds * float64(time.Second)))
		}
		if err := register(s, def.Unlock); err != nil {
			return fmt.Errorf("storage %q: %w", def.Name, err)
		}
	}

	for _, def := range pack.Producers {
		cycle := time.Duration(def.CycleSeconds * float64(time.Second))
		g := entity.NewGenerator(def.config(), def.Inputs, def.Outputs, cycle)
		if err := register(g, def.Unlock); err != nil {
			return fmt.Errorf("producer %q: %w", def.Name, err)
		}
	}

	for _, def := range pack.Upgrades {
		u := entity.NewUpgrade(def.config())
		if err := register(u, def.Unlock); err != nil {
			return fmt.Errorf("upgrade %q: %w", def.Name, err)
		}
	}

	// Conditions are registered after all entities exist so prerequisite
	// ids resolve regardless of definition order.
	for _, p := range pending {
		if err := eng.RegisterComplexCondition(p.entityID, p.cond); err != nil {
			return fmt.Errorf("unlock condition for %q: %w", p.entityID, err)
		}
	}

	log.Info("content pack applied: %d resources, %d storages, %d producers, %d upgrades",
		len(pack.Resources), len(pack.Storages), len(pack.Producers), len(pack.Upgrades))
	return nil
}

// CostsFor returns the cost list declared for an entity, matched by id
// (explicit or derived from the name). Entities without costs return nil.
func (p *Pack) CostsFor(entityID string) []cost.Definition {
	collect := func(d baseDef) bool {
		id := d.ID
		if id == "" {
			id = entity.Slug(d.Name)
		}
		return id == entityID
	}
	for _, d := range p.Resources {
		if collect(d.baseDef) {
			return d.Costs
		}
	}
	for _, d := range p.Storages {
		if collect(d.baseDef) {
			return d.Costs
		}
	}
	for _, d := range p.Producers {
		if collect(d.baseDef) {
			return d.Costs
		}
	}
	for _, d := range p.Upgrades {
		if collect(d.baseDef) {
			return d.Costs
		}
	}
	return nil
}

func (d baseDef) config() entity.Config {
	return entity.Config{
		ID:          d.ID,
		Name:        d.Name,
		Description: d.Description,
		Tags:        d.Tags,
		Unlocked:    d.Unlocked,
	}
}
