package warehouse

import (
	"go.uber.org/zap"

	"github.com/cory-johannsen/townworks/internal/game/inventory"
	"github.com/cory-johannsen/townworks/internal/game/mutator"
	"github.com/cory-johannsen/townworks/internal/game/resource"
	"github.com/cory-johannsen/townworks/internal/game/world"
)

// AddResult accounts for every unit handed to AddItems.
//
// Invariant: Stored + Given + Dropped equals the quantity added.
type AddResult struct {
	Stored  int
	Given   int
	Dropped int
}

// Complete reports whether everything fit in the containers.
func (r AddResult) Complete() bool {
	return r.Given == 0 && r.Dropped == 0
}

// Total returns the number of units accounted for.
func (r AddResult) Total() int {
	return r.Stored + r.Given + r.Dropped
}

// LowDurability is emitted once when a tool drain crosses the warning fraction.
type LowDurability struct {
	Target     string
	Settlement string
	ItemID     string
	Remaining  int
	Max        int
}

// Engine performs inventory transactions against a Target. Every entry point
// requires a valid mutator.Token; calls made off the loop are rejected, logged
// at error level and change nothing.
type Engine struct {
	logger      *zap.Logger
	lowFraction float64
	onLow       func(LowDurability)
}

// NewEngine creates an Engine. lowFraction is the remaining-durability fraction
// under which a low-durability warning is raised; 0 disables warnings.
//
// Precondition: logger must not be nil.
func NewEngine(logger *zap.Logger, lowFraction float64) *Engine {
	return &Engine{logger: logger, lowFraction: lowFraction}
}

// OnLowDurability installs the low-durability hook. It must be set before the engine is used.
func (e *Engine) OnLowDurability(fn func(LowDurability)) {
	e.onLow = fn
}

func (e *Engine) guard(tok mutator.Token, op string, t Target) error {
	if err := tok.Check(); err != nil {
		e.logger.Error("concurrency violation",
			zap.String("op", op),
			zap.String("target", t.Label()),
			zap.Error(err),
		)
		return err
	}
	return nil
}

// AddItems stores stack in t. Units that do not fit go to actor, and what the
// actor cannot take is dropped at the actor; with no actor the remainder is
// dropped at t's anchor.
//
// Postcondition: result.Total() == stack.Quantity on success.
func (e *Engine) AddItems(tok mutator.Token, t Target, stack world.ItemStack, actor inventory.Actor) (AddResult, error) {
	if err := e.guard(tok, "add", t); err != nil {
		return AddResult{}, err
	}
	if stack.Empty() {
		return AddResult{}, nil
	}
	rem := t.Pool().Add(stack)
	res := AddResult{Stored: stack.Quantity - rem}
	if rem > 0 {
		over := stack
		over.Quantity = rem
		res.Given, res.Dropped = Spill(t.World(), t.Anchor(), actor, over)
		e.logger.Debug("warehouse overflow",
			zap.String("target", t.Label()),
			zap.String("item", stack.ItemID),
			zap.Int("given", res.Given),
			zap.Int("dropped", res.Dropped),
		)
	}
	return res, nil
}

// Store places as much of stack as fits and returns the number stored. It never spills.
func (e *Engine) Store(tok mutator.Token, t Target, stack world.ItemStack) (int, error) {
	if err := e.guard(tok, "store", t); err != nil {
		return 0, err
	}
	if stack.Empty() {
		return 0, nil
	}
	return stack.Quantity - t.Pool().Add(stack), nil
}

// RemoveItems removes n units of itemID from t.
//
// Postcondition: returns false and changes nothing when t holds fewer than n units.
func (e *Engine) RemoveItems(tok mutator.Token, t Target, itemID string, n int) (bool, error) {
	if err := e.guard(tok, "remove", t); err != nil {
		return false, err
	}
	return t.Pool().Remove(itemID, n), nil
}

// DrainToolDurability drains amount durability from the first tool in t accepted by match.
//
// Postcondition: returns false and changes nothing when no matching tool is held.
func (e *Engine) DrainToolDurability(tok mutator.Token, t Target, match resource.Matcher, amount int) (bool, error) {
	if err := e.guard(tok, "drain", t); err != nil {
		return false, err
	}
	res, ok := t.Pool().DrainTool(match, amount)
	if !ok {
		return false, nil
	}
	if res.Broken {
		e.logger.Debug("tool consumed",
			zap.String("target", t.Label()),
			zap.String("tool", res.ItemID),
			zap.Stringer("container", res.Container),
		)
		return true, nil
	}
	if e.crossedLow(res) {
		e.logger.Info("tool durability low",
			zap.String("target", t.Label()),
			zap.String("tool", res.ItemID),
			zap.Int("remaining", res.After),
			zap.Int("max", res.MaxDurability),
		)
		if e.onLow != nil {
			e.onLow(LowDurability{
				Target:     t.Label(),
				Settlement: t.Settlement(),
				ItemID:     res.ItemID,
				Remaining:  res.After,
				Max:        res.MaxDurability,
			})
		}
	}
	return true, nil
}

func (e *Engine) crossedLow(res DrainResult) bool {
	if e.lowFraction <= 0 || res.MaxDurability <= 0 {
		return false
	}
	threshold := e.lowFraction * float64(res.MaxDurability)
	return float64(res.Before) >= threshold && float64(res.After) < threshold
}

// HasSpace reports whether t can hold all of stack.
func (e *Engine) HasSpace(tok mutator.Token, t Target, stack world.ItemStack) (bool, error) {
	if err := e.guard(tok, "has_space", t); err != nil {
		return false, err
	}
	return t.Pool().Space(stack) >= stack.Quantity, nil
}

// CountItems returns the units of itemID held by t.
func (e *Engine) CountItems(tok mutator.Token, t Target, itemID string) (int, error) {
	if err := e.guard(tok, "count", t); err != nil {
		return 0, err
	}
	return t.Pool().Count(itemID), nil
}

// HasTool reports whether t holds a tool accepted by match.
func (e *Engine) HasTool(tok mutator.Token, t Target, match resource.Matcher) (bool, error) {
	if err := e.guard(tok, "has_tool", t); err != nil {
		return false, err
	}
	return t.Pool().HasTool(match), nil
}

// Spill hands stack to actor and drops what the actor cannot take at the
// actor's position. With no actor the whole stack is dropped at fallback.
//
// Postcondition: given + dropped == stack.Quantity.
func Spill(w world.World, fallback world.Vec3, actor inventory.Actor, stack world.ItemStack) (given, dropped int) {
	if stack.Empty() {
		return 0, 0
	}
	if actor == nil {
		w.Drop(fallback, stack)
		return 0, stack.Quantity
	}
	rem := actor.Give(stack)
	given = stack.Quantity - rem
	if rem > 0 {
		left := stack
		left.Quantity = rem
		w.Drop(actor.Position(), left)
	}
	return given, rem
}
