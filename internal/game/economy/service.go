package economy

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cory-johannsen/townworks/internal/game/activation"
	"github.com/cory-johannsen/townworks/internal/game/income"
	"github.com/cory-johannsen/townworks/internal/game/inventory"
	"github.com/cory-johannsen/townworks/internal/game/mutator"
	"github.com/cory-johannsen/townworks/internal/game/settlement"
	"github.com/cory-johannsen/townworks/internal/game/structure"
	"github.com/cory-johannsen/townworks/internal/game/warehouse"
	"github.com/cory-johannsen/townworks/internal/game/world"
)

// Deps are the collaborators of a Service.
type Deps struct {
	Loop        *mutator.Loop
	Definitions *structure.DefinitionStore
	Instances   *structure.Registry
	Settlements *settlement.Directory
	Warehouses  *warehouse.Registry
	Ledger      *income.Ledger
	Scanner     *activation.Scanner
	Atlas       *world.Atlas
}

// Selection is an actor's pending placement choice.
type Selection struct {
	Actor      string
	Settlement string
	Definition string
	SelectedAt time.Time
}

// Service implements the consumer operations. Every operation is marshalled
// onto the mutator loop and reports a Result; none panics or returns an error
// across the boundary.
type Service struct {
	Deps
	logger *zap.Logger
	newID  func() string
	now    func() time.Time

	mu         sync.Mutex
	selections map[string]Selection
}

// NewService creates a Service.
//
// Precondition: every Deps field must be set; logger must not be nil.
func NewService(deps Deps, logger *zap.Logger) *Service {
	return &Service{
		Deps:       deps,
		logger:     logger,
		newID:      uuid.NewString,
		now:        time.Now,
		selections: make(map[string]Selection),
	}
}

// PlacementEnabled reports whether any definition is loaded.
func (s *Service) PlacementEnabled() bool {
	return s.Definitions.Len() > 0
}

// run executes fn on the loop and converts loop failures into a rejection.
func (s *Service) run(ctx context.Context, op string, fn func(tok mutator.Token) Result) Result {
	var res Result
	err := s.Loop.Do(ctx, func(tok mutator.Token) error {
		res = fn(tok)
		return nil
	})
	if err != nil {
		s.logger.Error("operation not executed", zap.String("op", op), zap.Error(err))
		return reject("%s could not run: %v", op, err)
	}
	s.logger.Debug("operation", zap.String("op", op), zap.Bool("ok", res.OK), zap.String("reason", res.Reason))
	return res
}

// Place validates and places definition for settlementID at anchor in worldName.
//
// Checks, in order: placement enabled, definition known, settlement known,
// settlement level, world known, per-settlement cap (plus bonus capacity),
// no overlap with the settlement's other structures, placement cost paid.
func (s *Service) Place(ctx context.Context, settlementID, definition, worldName string, anchor world.Vec3) Result {
	return s.run(ctx, "place", func(tok mutator.Token) Result {
		def, reason := s.checkPlacement(settlementID, definition, worldName, anchor, "")
		if reason != "" {
			return reject("%s", reason)
		}
		if def.PlacementCost > 0 {
			acct, _ := s.Settlements.Account(settlementID)
			if !acct.Withdraw(def.PlacementCost, "placement: "+def.Name) {
				return reject("settlement cannot afford %s (%d)", def.Name, def.PlacementCost)
			}
		}
		inst := s.create(ctx, tok, settlementID, def, worldName, anchor)
		return succeed("placed %s as %s", def.Name, inst.ID)
	})
}

func (s *Service) create(ctx context.Context, tok mutator.Token, settlementID string, def *structure.Definition, worldName string, anchor world.Vec3) structure.Instance {
	inst := structure.Instance{
		ID:         s.newID(),
		Definition: def.Name,
		Settlement: settlementID,
		World:      worldName,
		Anchor:     anchor,
		PlacedAt:   s.now(),
	}
	if err := s.Instances.Upsert(ctx, inst); err != nil {
		s.logger.Warn("instance placed but not persisted", zap.String("instance", inst.ID), zap.Error(err))
	}
	if _, err := s.Scanner.Refresh(ctx, tok, inst.ID); err != nil {
		s.logger.Warn("initial activation scan", zap.String("instance", inst.ID), zap.Error(err))
	}
	if got, ok := s.Instances.Get(inst.ID); ok {
		inst = got
	}
	s.logger.Info("structure placed",
		zap.String("instance", inst.ID),
		zap.String("definition", def.Name),
		zap.String("settlement", settlementID),
		zap.Stringer("anchor", anchor),
		zap.Bool("active", inst.Active),
	)
	return inst
}

// checkPlacement returns the definition or a rejection reason. ignoreID names
// an instance excluded from the cap and overlap checks (the one being upgraded).
func (s *Service) checkPlacement(settlementID, definition, worldName string, anchor world.Vec3, ignoreID string) (*structure.Definition, string) {
	if !s.PlacementEnabled() {
		return nil, "structure placement is disabled: no definitions loaded"
	}
	def, ok := s.Definitions.Get(definition)
	if !ok {
		return nil, fmt.Sprintf("unknown structure %q", definition)
	}
	st, ok := s.Settlements.Get(settlementID)
	if !ok {
		return nil, fmt.Sprintf("unknown settlement %q", settlementID)
	}
	if st.Level < def.RequiredLevel {
		return nil, fmt.Sprintf("%s requires settlement level %d (have %d)", def.Name, def.RequiredLevel, st.Level)
	}
	if _, ok := s.Atlas.Get(worldName); !ok {
		return nil, fmt.Sprintf("unknown world %q", worldName)
	}
	if _, ok := s.Settlements.Account(settlementID); !ok && def.PlacementCost > 0 {
		return nil, fmt.Sprintf("settlement %q has no account", settlementID)
	}
	owned := s.Instances.BySettlement(settlementID)
	if def.MaxPerSettlement > 0 {
		count, bonus := 0, 0
		for _, o := range owned {
			if o.ID == ignoreID {
				continue
			}
			if o.Definition == def.Name {
				count++
			}
			if od, ok := s.Definitions.Get(o.Definition); ok && o.Active {
				bonus += od.BonusCapacity
			}
		}
		if limit := def.MaxPerSettlement + bonus; count >= limit {
			return nil, fmt.Sprintf("settlement already has %d of %d allowed %s", count, limit, def.Name)
		}
	}
	box := def.Box(anchor)
	for _, o := range owned {
		if o.ID == ignoreID || o.World != worldName {
			continue
		}
		od, ok := s.Definitions.Get(o.Definition)
		if !ok {
			continue
		}
		if box.Intersects(o.Volume(od)) {
			return nil, fmt.Sprintf("overlaps %s (%s)", o.Definition, o.ID)
		}
	}
	return def, ""
}

// SelectPlacement records actorID's intent to place definition for settlementID.
func (s *Service) SelectPlacement(actorID, settlementID, definition string) Result {
	if !s.PlacementEnabled() {
		return reject("structure placement is disabled: no definitions loaded")
	}
	if _, ok := s.Definitions.Get(definition); !ok {
		return reject("unknown structure %q", definition)
	}
	if _, ok := s.Settlements.Get(settlementID); !ok {
		return reject("unknown settlement %q", settlementID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selections[actorID] = Selection{Actor: actorID, Settlement: settlementID, Definition: definition, SelectedAt: s.now()}
	return succeed("selected %s", definition)
}

// Selected returns actorID's pending selection.
func (s *Service) Selected(actorID string) (Selection, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sel, ok := s.selections[actorID]
	return sel, ok
}

// CancelPlacement discards actorID's pending selection.
func (s *Service) CancelPlacement(actorID string) Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	sel, ok := s.selections[actorID]
	if !ok {
		return reject("no placement in progress")
	}
	delete(s.selections, actorID)
	return succeed("cancelled placement of %s", sel.Definition)
}

// PlaceSelected places actorID's pending selection at anchor and clears it on success.
func (s *Service) PlaceSelected(ctx context.Context, actorID, worldName string, anchor world.Vec3) Result {
	sel, ok := s.Selected(actorID)
	if !ok {
		return reject("no placement in progress")
	}
	res := s.Place(ctx, sel.Settlement, sel.Definition, worldName, anchor)
	if res.OK {
		s.mu.Lock()
		if cur, ok := s.selections[actorID]; ok && cur == sel {
			delete(s.selections, actorID)
		}
		s.mu.Unlock()
	}
	return res
}

// Statement returns the account of settlementID when it keeps a readable
// balance and history.
func (s *Service) Statement(settlementID string) (settlement.Statement, bool) {
	acct, ok := s.Settlements.Account(settlementID)
	if !ok {
		return nil, false
	}
	st, ok := acct.(settlement.Statement)
	return st, ok
}

// Collect releases the pending income of settlementID's instances matching filter.
func (s *Service) Collect(ctx context.Context, settlementID string, filter income.Filter, actor inventory.Actor) Result {
	if _, ok := s.Settlements.Get(settlementID); !ok {
		return reject("unknown settlement %q", settlementID)
	}
	return s.run(ctx, "collect", func(tok mutator.Token) Result {
		res, err := s.Ledger.Collect(ctx, tok, settlementID, filter, actor)
		if err != nil {
			return reject("collection failed: %v", err)
		}
		if !res.Collected {
			return reject("nothing to collect")
		}
		items := res.Stored + res.Given + res.Dropped
		return succeed("collected %d money and %d items from %d structures", res.Money, items, len(res.Instances))
	})
}

// RemoveInstance deletes instance id with its warehouse and pending income.
func (s *Service) RemoveInstance(ctx context.Context, id string) Result {
	return s.run(ctx, "remove", func(mutator.Token) Result {
		inst, err := s.remove(ctx, id)
		if errors.Is(err, structure.ErrInstanceNotFound) {
			return reject("no structure %q", id)
		}
		return succeed("removed %s", inst.Definition)
	})
}

func (s *Service) remove(ctx context.Context, id string) (structure.Instance, error) {
	inst, err := s.Instances.Remove(ctx, id)
	if errors.Is(err, structure.ErrInstanceNotFound) {
		return inst, err
	}
	if err != nil {
		s.logger.Warn("instance removed but not deleted from storage", zap.String("instance", id), zap.Error(err))
	}
	s.Warehouses.Deregister(id)
	s.Ledger.Forget(ctx, id)
	s.logger.Info("structure removed", zap.String("instance", id), zap.String("definition", inst.Definition))
	return inst, nil
}

// UpgradeInstance replaces instance id with its definition's upgrade target at
// the same anchor, charging the upgrade cost.
//
// Every check runs before the charge. The old instance is replaced only after
// the charge succeeds; if the replacement cannot be made the charge is refunded
// and the old instance kept.
func (s *Service) UpgradeInstance(ctx context.Context, id string) Result {
	return s.run(ctx, "upgrade", func(tok mutator.Token) Result {
		old, ok := s.Instances.Get(id)
		if !ok {
			return reject("no structure %q", id)
		}
		from, ok := s.Definitions.Get(old.Definition)
		if !ok || !from.Upgradable() {
			return reject("%s cannot be upgraded", old.Definition)
		}
		to, reason := s.checkPlacement(old.Settlement, from.UpgradeTarget, old.World, old.Anchor, old.ID)
		if reason != "" {
			return reject("cannot upgrade to %s: %s", from.UpgradeTarget, reason)
		}
		acct, hasAccount := s.Settlements.Account(old.Settlement)
		if from.UpgradeCost > 0 {
			if !hasAccount || !acct.Withdraw(from.UpgradeCost, "upgrade: "+from.Name+" -> "+to.Name) {
				return reject("settlement cannot afford upgrade to %s (%d)", to.Name, from.UpgradeCost)
			}
		}
		if _, err := s.remove(ctx, old.ID); err != nil {
			if from.UpgradeCost > 0 {
				acct.Deposit(from.UpgradeCost, "refund: upgrade of "+from.Name)
			}
			s.logger.Warn("upgrade refunded", zap.String("instance", old.ID), zap.Error(err))
			return reject("upgrade of %s failed: %v", old.ID, err)
		}
		inst := s.create(ctx, tok, old.Settlement, to, old.World, old.Anchor)
		return succeed("upgraded %s to %s as %s", from.Name, to.Name, inst.ID)
	})
}
