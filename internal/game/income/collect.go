package income

import (
	"context"

	"go.uber.org/zap"

	"github.com/cory-johannsen/townworks/internal/game/inventory"
	"github.com/cory-johannsen/townworks/internal/game/mutator"
	"github.com/cory-johannsen/townworks/internal/game/structure"
	"github.com/cory-johannsen/townworks/internal/game/warehouse"
	"github.com/cory-johannsen/townworks/internal/game/world"
)

// CollectResult summarises one collection.
type CollectResult struct {
	// Collected is true when at least one resource was transferred.
	Collected bool
	Money     int
	// Stored, Given and Dropped count item units by destination.
	Stored    int
	Given     int
	Dropped   int
	Instances []string
	// Remaining holds item units left in the ledger for lack of space or actor.
	Remaining map[string]int
}

// Collect releases the pending accruals of settlement's upkept instances
// accepted by filter. Money goes to the settlement account. Items go to the
// settlement's warehouses, then to actor, with what the actor cannot carry
// dropped at their feet. Without an actor, items that do not fit in a warehouse
// stay in the ledger.
//
// An accrual is only changed when something was transferred from it, and it
// is removed once empty. Each transferring instance gets LastCollection set.
//
// Precondition: tok must be the running mutator token; actor may be nil.
func (l *Ledger) Collect(ctx context.Context, tok mutator.Token, settlementID string, filter Filter, actor inventory.Actor) (CollectResult, error) {
	res := CollectResult{Remaining: make(map[string]int)}
	if err := tok.Check(); err != nil {
		l.logger.Error("concurrency violation", zap.String("op", "collect"), zap.String("settlement", settlementID))
		return res, err
	}
	if filter == nil {
		filter = All()
	}
	for _, inst := range l.Instances.BySettlement(settlementID) {
		if !filter(inst) || !inst.SuccessfulUpkeep {
			continue
		}
		a, ok := l.Pending(inst.ID)
		if !ok {
			continue
		}
		moved, err := l.release(tok, inst, &a, actor, &res)
		if err != nil {
			return res, err
		}
		for id, n := range a.Items {
			if n > 0 {
				res.Remaining[id] += n
			}
		}
		if !moved {
			continue
		}
		res.Collected = true
		res.Instances = append(res.Instances, inst.ID)
		if a.Empty() {
			l.drop(ctx, inst.ID)
		} else {
			l.put(ctx, a)
		}
		now := l.now()
		if _, err := l.Instances.Update(ctx, inst.ID, func(i *structure.Instance) { i.LastCollection = now }); err != nil {
			l.logger.Warn("recording collection time", zap.String("instance", inst.ID), zap.Error(err))
		}
	}
	l.logger.Debug("collection",
		zap.String("settlement", settlementID),
		zap.Bool("collected", res.Collected),
		zap.Int("money", res.Money),
		zap.Int("stored", res.Stored),
		zap.Int("given", res.Given),
		zap.Int("dropped", res.Dropped),
	)
	return res, nil
}

// release transfers what it can out of a and reports whether anything moved.
func (l *Ledger) release(tok mutator.Token, inst structure.Instance, a *Accrual, actor inventory.Actor, res *CollectResult) (bool, error) {
	moved := false
	if a.Money > 0 {
		if acct, ok := l.Settlements.Account(inst.Settlement); ok {
			acct.Deposit(a.Money, "income: "+inst.Definition)
			res.Money += a.Money
			a.Money = 0
			moved = true
		} else {
			l.logger.Warn("settlement has no account", zap.String("settlement", inst.Settlement))
		}
	}
	warehouses := l.Warehouses.ForSettlement(inst.Settlement)
	for _, id := range a.ItemIDs() {
		left := a.Items[id]
		for _, wh := range warehouses {
			if left == 0 {
				break
			}
			stored, err := l.Engine.Store(tok, wh, world.ItemStack{ItemID: id, Quantity: left})
			if err != nil {
				return moved, err
			}
			left -= stored
			res.Stored += stored
		}
		if left > 0 && actor != nil {
			w, ok := l.Atlas.Get(inst.World)
			if ok {
				given, dropped := warehouse.Spill(w, actor.Position(), actor, world.ItemStack{ItemID: id, Quantity: left})
				res.Given += given
				res.Dropped += dropped
				left = 0
			}
		}
		if left < a.Items[id] {
			moved = true
		}
		if left == 0 {
			delete(a.Items, id)
		} else {
			a.Items[id] = left
		}
	}
	return moved, nil
}
