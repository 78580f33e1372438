package upkeep

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/cory-johannsen/townworks/internal/game/mutator"
	"github.com/cory-johannsen/townworks/internal/game/resource"
	"github.com/cory-johannsen/townworks/internal/game/structure"
	"github.com/cory-johannsen/townworks/internal/game/warehouse"
	"github.com/cory-johannsen/townworks/internal/game/world"
)

// Request is one non-money upkeep demand: Amount units of an item, or Amount
// durability from a tool accepted by Tool.
type Request struct {
	Instance   structure.Instance
	Definition *structure.Definition
	Ref        resource.Ref
	Amount     int
	Tool       resource.Matcher
}

// Resource names the demanded resource for logs and errors.
func (r Request) Resource() string {
	if r.Ref.Kind == resource.KindTool {
		return "TOOL " + r.Tool.Key
	}
	return r.Ref.String()
}

func (r Request) String() string {
	return fmt.Sprintf("%d %s", r.Amount, r.Resource())
}

// Source is one tier of the upkeep fallback chain.
type Source interface {
	// Name identifies the tier in logs.
	Name() string
	// CanSupply reports whether TryConsume would succeed, changing nothing.
	CanSupply(tok mutator.Token, req Request) bool
	// TryConsume takes the whole request or nothing and reports success.
	TryConsume(tok mutator.Token, req Request) bool
}

func available(tok mutator.Token, eng *warehouse.Engine, t warehouse.Target, req Request) (bool, error) {
	switch req.Ref.Kind {
	case resource.KindItem:
		n, err := eng.CountItems(tok, t, req.Ref.Item)
		return n >= req.Amount, err
	case resource.KindTool:
		return eng.HasTool(tok, t, req.Tool)
	default:
		return false, fmt.Errorf("upkeep: %s cannot be taken from containers", req.Ref.Kind)
	}
}

func consume(tok mutator.Token, eng *warehouse.Engine, t warehouse.Target, req Request) (bool, error) {
	switch req.Ref.Kind {
	case resource.KindItem:
		return eng.RemoveItems(tok, t, req.Ref.Item, req.Amount)
	case resource.KindTool:
		return eng.DrainToolDurability(tok, t, req.Tool, req.Amount)
	default:
		return false, fmt.Errorf("upkeep: %s cannot be taken from containers", req.Ref.Kind)
	}
}

// WarehouseSource tries each registered warehouse of the instance's settlement
// in registration order until one satisfies the request alone.
type WarehouseSource struct {
	Warehouses *warehouse.Registry
	Engine     *warehouse.Engine
	Logger     *zap.Logger
}

// Name implements Source.
func (s *WarehouseSource) Name() string { return "warehouse" }

// CanSupply implements Source.
func (s *WarehouseSource) CanSupply(tok mutator.Token, req Request) bool {
	for _, wh := range s.Warehouses.ForSettlement(req.Instance.Settlement) {
		ok, err := available(tok, s.Engine, wh, req)
		if err != nil {
			s.Logger.Error("warehouse upkeep check aborted",
				zap.String("instance", req.Instance.ID),
				zap.String("warehouse", wh.InstanceID()),
				zap.Error(err),
			)
			return false
		}
		if ok {
			return true
		}
	}
	return false
}

// TryConsume implements Source.
func (s *WarehouseSource) TryConsume(tok mutator.Token, req Request) bool {
	for _, wh := range s.Warehouses.ForSettlement(req.Instance.Settlement) {
		ok, err := consume(tok, s.Engine, wh, req)
		if err != nil {
			s.Logger.Error("warehouse upkeep aborted",
				zap.String("instance", req.Instance.ID),
				zap.String("warehouse", wh.InstanceID()),
				zap.Error(err),
			)
			return false
		}
		s.Logger.Debug("warehouse upkeep attempt",
			zap.String("instance", req.Instance.ID),
			zap.String("warehouse", wh.InstanceID()),
			zap.Stringer("request", req),
			zap.Bool("ok", ok),
		)
		if ok {
			return true
		}
	}
	return false
}

// LocalSource takes the request from the containers inside the instance's own volume.
type LocalSource struct {
	Atlas  *world.Atlas
	Engine *warehouse.Engine
	Logger *zap.Logger
}

// Name implements Source.
func (s *LocalSource) Name() string { return "local" }

// CanSupply implements Source.
func (s *LocalSource) CanSupply(tok mutator.Token, req Request) bool {
	w, ok := s.Atlas.Get(req.Instance.World)
	if !ok {
		return false
	}
	ok, err := available(tok, s.Engine, warehouse.NewLocal(req.Instance, req.Definition, w), req)
	if err != nil {
		s.Logger.Error("local upkeep check aborted", zap.String("instance", req.Instance.ID), zap.Error(err))
		return false
	}
	return ok
}

// TryConsume implements Source.
func (s *LocalSource) TryConsume(tok mutator.Token, req Request) bool {
	w, ok := s.Atlas.Get(req.Instance.World)
	if !ok {
		s.Logger.Debug("local upkeep skipped, world not loaded",
			zap.String("instance", req.Instance.ID),
			zap.String("world", req.Instance.World),
		)
		return false
	}
	local := warehouse.NewLocal(req.Instance, req.Definition, w)
	ok, err := consume(tok, s.Engine, local, req)
	if err != nil {
		s.Logger.Error("local upkeep aborted", zap.String("instance", req.Instance.ID), zap.Error(err))
		return false
	}
	s.Logger.Debug("local upkeep attempt",
		zap.String("instance", req.Instance.ID),
		zap.Stringer("request", req),
		zap.Bool("ok", ok),
	)
	return ok
}
