package income

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/townworks/internal/game/dice"
	"github.com/cory-johannsen/townworks/internal/game/mutator"
	"github.com/cory-johannsen/townworks/internal/game/resource"
	"github.com/cory-johannsen/townworks/internal/game/settlement"
	"github.com/cory-johannsen/townworks/internal/game/structure"
	"github.com/cory-johannsen/townworks/internal/game/warehouse"
	"github.com/cory-johannsen/townworks/internal/game/world"
)

// Deps are the collaborators of a Ledger.
type Deps struct {
	Definitions *structure.DefinitionStore
	Templates   *resource.TemplateStore
	Instances   *structure.Registry
	Settlements *settlement.Directory
	Warehouses  *warehouse.Registry
	Engine      *warehouse.Engine
	Atlas       *world.Atlas
	Rand        dice.Source
	// Store may be nil for a memory-only ledger.
	Store LedgerStore
}

// Ledger holds one pending accrual per instance. Accruing overwrites any
// unclaimed accrual; collecting releases it once.
type Ledger struct {
	Deps
	mu      sync.Mutex
	entries map[string]Accrual
	logger  *zap.Logger
	now     func() time.Time
}

// NewLedger creates an empty Ledger.
//
// Precondition: every Deps field except Store must be set; logger must not be nil.
func NewLedger(deps Deps, logger *zap.Logger) *Ledger {
	return &Ledger{Deps: deps, entries: make(map[string]Accrual), logger: logger, now: time.Now}
}

// Load replaces the ledger contents with the persisted accruals.
func (l *Ledger) Load(ctx context.Context) error {
	if l.Store == nil {
		return nil
	}
	all, err := l.Store.LoadAccruals(ctx)
	if err != nil {
		return &structure.StorageIOError{Op: "load", ID: "accruals", Err: err}
	}
	l.Restore(all)
	l.logger.Info("accruals loaded", zap.Int("count", len(all)))
	return nil
}

// Restore replaces the ledger contents without persisting.
func (l *Ledger) Restore(all []Accrual) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = make(map[string]Accrual, len(all))
	for _, a := range all {
		l.entries[a.InstanceID] = a.clone()
	}
}

// Pending returns the unclaimed accrual of instance id.
func (l *Ledger) Pending(id string) (Accrual, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	a, ok := l.entries[id]
	if !ok {
		return Accrual{}, false
	}
	return a.clone(), true
}

// Snapshot returns every accrual ordered by instance id.
func (l *Ledger) Snapshot() []Accrual {
	l.mu.Lock()
	out := make([]Accrual, 0, len(l.entries))
	for _, a := range l.entries {
		out = append(out, a.clone())
	}
	l.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].InstanceID < out[j].InstanceID })
	return out
}

// Len returns the number of pending accruals.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *Ledger) put(ctx context.Context, a Accrual) {
	l.mu.Lock()
	l.entries[a.InstanceID] = a.clone()
	l.mu.Unlock()
	if l.Store == nil {
		return
	}
	if err := l.Store.SaveAccrual(ctx, a); err != nil {
		l.logger.Error("saving accrual", zap.String("instance", a.InstanceID), zap.Error(err))
	}
}

func (l *Ledger) drop(ctx context.Context, id string) {
	l.mu.Lock()
	_, existed := l.entries[id]
	delete(l.entries, id)
	l.mu.Unlock()
	if !existed || l.Store == nil {
		return
	}
	if err := l.Store.DeleteAccrual(ctx, id); err != nil {
		l.logger.Error("deleting accrual", zap.String("instance", id), zap.Error(err))
	}
}

// Forget discards the accrual of a removed instance.
func (l *Ledger) Forget(ctx context.Context, id string) {
	l.drop(ctx, id)
}

// AccrueInstance computes day's reward for instance id. Instances that are not
// both active and upkept, or whose income evaluates to nothing, lose any
// unclaimed accrual.
//
// Precondition: tok must be the running mutator token.
// Postcondition: reports whether an accrual was stored.
func (l *Ledger) AccrueInstance(ctx context.Context, tok mutator.Token, id string, day int64) (bool, error) {
	if err := tok.Check(); err != nil {
		l.logger.Error("concurrency violation", zap.String("op", "accrue"), zap.String("instance", id))
		return false, err
	}
	inst, ok := l.Instances.Get(id)
	if !ok {
		return false, structure.ErrInstanceNotFound
	}
	if !inst.Active || !inst.SuccessfulUpkeep {
		l.drop(ctx, id)
		return false, nil
	}
	def, ok := l.Definitions.Get(inst.Definition)
	if !ok {
		l.drop(ctx, id)
		return false, nil
	}
	a := Accrual{
		InstanceID: inst.ID,
		Settlement: inst.Settlement,
		Items:      make(map[string]int),
		Day:        day,
		AccruedAt:  l.now(),
	}
	l.evaluate(&a, def)
	if a.Empty() {
		l.drop(ctx, id)
		return false, nil
	}
	l.put(ctx, a)
	l.logger.Debug("income accrued",
		zap.String("instance", inst.ID),
		zap.Int64("day", day),
		zap.Int("money", a.Money),
		zap.Any("items", a.Items),
	)
	return true, nil
}

// Accrue runs AccrueInstance for every instance and returns the number of accruals stored.
func (l *Ledger) Accrue(ctx context.Context, tok mutator.Token, day int64) (int, error) {
	n := 0
	for _, id := range l.Instances.IDs() {
		ok, err := l.AccrueInstance(ctx, tok, id, day)
		if err != nil {
			return n, err
		}
		if ok {
			n++
		}
	}
	return n, nil
}

func (l *Ledger) evaluate(a *Accrual, def *structure.Definition) {
	in := def.Income
	switch in.Ref.Kind {
	case resource.KindMoney:
		a.Money += in.Amount
	case resource.KindItem:
		a.Items[in.Ref.Item] += in.Amount
	case resource.KindTemplate:
		tmpl, err := l.Templates.Get(in.Ref.Template)
		if err != nil {
			l.logger.Warn("income template unresolved, no income",
				zap.String("definition", def.Name),
				zap.Error(err),
			)
			return
		}
		for _, e := range tmpl.Select(l.Rand) {
			switch e.Ref.Kind {
			case resource.KindMoney:
				a.Money += e.Roll(l.Rand)
			case resource.KindItem:
				a.Items[e.Ref.Item] += e.Roll(l.Rand)
			default:
				l.logger.Debug("income entry yields nothing",
					zap.String("template", tmpl.Name),
					zap.Stringer("kind", e.Ref.Kind),
				)
			}
		}
	}
}
