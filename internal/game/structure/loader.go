package structure

import (
	_ "embed"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/cory-johannsen/townworks/internal/content"
	"github.com/cory-johannsen/townworks/internal/game/resource"
	"github.com/cory-johannsen/townworks/internal/game/world"
)

//go:embed definition.schema.json
var definitionSchemaSource string

var definitionSchema = content.MustCompileSchema("definition.schema.json", definitionSchemaSource)

type sizeRecord struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}

type yieldRecord struct {
	Amount     int    `json:"amount"`
	Type       string `json:"type"`
	ToolType   string `json:"tool_type"`
	Durability int    `json:"durability"`
}

type upgradeRecord struct {
	Target string `json:"target"`
	Cost   int    `json:"cost"`
}

type definitionRecord struct {
	Name             string         `json:"name"`
	Description      string         `json:"description"`
	Type             string         `json:"type"`
	Size             *sizeRecord    `json:"size"`
	Plots            int            `json:"plots"`
	Composition      map[string]int `json:"composition"`
	Income           *yieldRecord   `json:"income"`
	Upkeep           *yieldRecord   `json:"upkeep"`
	PlacementCost    int            `json:"placement_cost"`
	Permission       string         `json:"permission"`
	MaxPerSettlement int            `json:"max_per_settlement"`
	RequiredLevel    int            `json:"required_level"`
	BonusCapacity    int            `json:"bonus_capacity"`
	Upgrade          *upgradeRecord `json:"upgrade"`
	ToolType         string         `json:"tool_type"`
	DisplayHint      string         `json:"display_hint"`
	Warehouse        bool           `json:"warehouse"`
}

// LoadDefinitions reads every content file in dir into a DefinitionStore.
//
// A record failing the schema is rejected whole. Invalid composition entries and
// unparseable income rules are logged as *InvalidDefinitionError and skipped,
// leaving the definition partially loaded. A composition key naming an unknown
// group is kept as an unsatisfiable requirement, and an upkeep rule that cannot
// be resolved is kept as an unresolvable Yield so it never pays.
//
// Precondition: logger must not be nil.
// Postcondition: returns a store (possibly empty) or an error if dir cannot be read.
func LoadDefinitions(dir string, groups resource.Groups, logger *zap.Logger) (*DefinitionStore, error) {
	files, err := content.Files(dir)
	if err != nil {
		return nil, fmt.Errorf("structure: loading definitions: %w", err)
	}
	store := NewDefinitionStore()
	for _, path := range files {
		doc, err := content.DecodeFile(path)
		if err != nil {
			logger.Warn("skipping definition file", zap.String("file", path), zap.Error(err))
			continue
		}
		records, err := content.Records(doc, "structures")
		if err != nil {
			logger.Warn("skipping definition file", zap.String("file", path), zap.Error(err))
			continue
		}
		for i, raw := range records {
			def, err := decodeDefinition(path, raw, groups, logger)
			if err != nil {
				logger.Warn("skipping definition", zap.Int("record", i), zap.Error(err))
				continue
			}
			if err := store.Register(def); err != nil {
				logger.Warn("skipping definition", zap.String("file", path), zap.Error(err))
			}
		}
	}
	logger.Info("structure definitions loaded", zap.Int("count", store.Len()), zap.String("dir", dir))
	return store, nil
}

func decodeDefinition(path string, raw any, groups resource.Groups, logger *zap.Logger) (*Definition, error) {
	if err := definitionSchema.Validate(raw); err != nil {
		return nil, &InvalidDefinitionError{File: path, Definition: recordName(raw), Err: err}
	}
	var rec definitionRecord
	if err := content.Bind(raw, &rec); err != nil {
		return nil, &InvalidDefinitionError{File: path, Definition: recordName(raw), Err: err}
	}
	def := &Definition{
		Name:             rec.Name,
		Description:      rec.Description,
		Type:             rec.Type,
		Plots:            rec.Plots,
		PlacementCost:    rec.PlacementCost,
		Permission:       rec.Permission,
		MaxPerSettlement: rec.MaxPerSettlement,
		RequiredLevel:    rec.RequiredLevel,
		BonusCapacity:    rec.BonusCapacity,
		ToolType:         rec.ToolType,
		DisplayHint:      rec.DisplayHint,
		Warehouse:        rec.Warehouse,
	}
	if rec.Size != nil {
		def.Size = world.Vec3{X: rec.Size.X, Y: rec.Size.Y, Z: rec.Size.Z}
	}
	if rec.Upgrade != nil {
		def.UpgradeTarget = rec.Upgrade.Target
		def.UpgradeCost = rec.Upgrade.Cost
	}
	warn := func(field string, err error) {
		logger.Warn("skipping definition field",
			zap.Error(&InvalidDefinitionError{File: path, Definition: rec.Name, Field: field, Err: err}))
	}

	keys := make([]string, 0, len(rec.Composition))
	for k := range rec.Composition {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		req, err := resolveRequirement(key, rec.Composition[key], groups)
		if err != nil {
			warn("composition."+key, err)
			continue
		}
		if req.Unsatisfiable {
			logger.Warn("composition references unknown group",
				zap.String("definition", rec.Name), zap.String("key", key))
		}
		def.Composition = append(def.Composition, req)
	}
	if rec.Income != nil {
		y, err := resolveYield(*rec.Income, rec.ToolType, groups)
		if err != nil {
			warn("income", err)
		} else {
			def.Income = y
		}
	}
	if rec.Upkeep != nil {
		y, err := resolveYield(*rec.Upkeep, rec.ToolType, groups)
		if err != nil {
			warn("upkeep", err)
			y = Yield{Unresolvable: true}
		}
		def.Upkeep = y
	}
	return def, nil
}

func recordName(raw any) string {
	if m, ok := raw.(map[string]any); ok {
		if n, ok := m["name"].(string); ok {
			return n
		}
	}
	return ""
}

func resolveRequirement(key string, count int, groups resource.Groups) (Requirement, error) {
	if count < 1 {
		return Requirement{}, fmt.Errorf("count %d must be >= 1", count)
	}
	m, err := groups.Matcher(key)
	if err != nil {
		var unknown *resource.UnknownGroupError
		if errors.As(err, &unknown) {
			return Requirement{Key: key, Count: count, Unsatisfiable: true}, nil
		}
		return Requirement{}, err
	}
	return Requirement{Key: key, Materials: m, Count: count}, nil
}

// resolveYield converts an income or upkeep record. defaultTool is the
// definition-level tool_type used by TOOL rules that name none.
func resolveYield(rec yieldRecord, defaultTool string, groups resource.Groups) (Yield, error) {
	typ := rec.Type
	if typ == "" && rec.ToolType != "" {
		typ = "TOOL"
	}
	ref, err := resource.ParseRef(typ)
	if err != nil {
		return Yield{}, err
	}
	y := Yield{Ref: ref, Amount: rec.Amount}
	switch ref.Kind {
	case resource.KindTemplate:
		return y, nil
	case resource.KindTool:
		if rec.Durability > 0 {
			y.Amount = rec.Durability
		}
		toolKey := rec.ToolType
		if toolKey == "" {
			toolKey = defaultTool
		}
		if toolKey == "" {
			return Yield{}, fmt.Errorf("tool rule requires a tool_type")
		}
		m, err := groups.Matcher(toolKey)
		if err != nil {
			return Yield{}, err
		}
		y.Tool = m
	}
	if y.Amount <= 0 {
		return Yield{}, fmt.Errorf("amount %d must be > 0", y.Amount)
	}
	return y, nil
}
