// Package upkeep charges each placed structure its daily upkeep and
// deactivates structures whose upkeep cannot be paid.
package upkeep

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/townworks/internal/game/dice"
	"github.com/cory-johannsen/townworks/internal/game/mutator"
	"github.com/cory-johannsen/townworks/internal/game/resource"
	"github.com/cory-johannsen/townworks/internal/game/settlement"
	"github.com/cory-johannsen/townworks/internal/game/structure"
	"github.com/cory-johannsen/townworks/internal/game/warehouse"
)

// ErrUnresolvableUpkeep is the cause recorded for a definition whose upkeep
// rule could not be resolved at load time.
var ErrUnresolvableUpkeep = errors.New("upkeep rule could not be resolved")

// InsufficientResourceError reports an upkeep demand no source could meet.
type InsufficientResourceError struct {
	Resource string
	Needed   int
}

func (e *InsufficientResourceError) Error() string {
	return fmt.Sprintf("insufficient %s: need %d", e.Resource, e.Needed)
}

// Outcome is the result of one instance's upkeep.
type Outcome struct {
	InstanceID  string
	Success     bool
	Deactivated bool
	// Cause explains a failure: *InsufficientResourceError,
	// *resource.TemplateResolutionError, ErrUnresolvableUpkeep or a missing definition.
	Cause error
}

// Deps are the collaborators of a Processor.
type Deps struct {
	Definitions *structure.DefinitionStore
	Templates   *resource.TemplateStore
	Instances   *structure.Registry
	Settlements *settlement.Directory
	Warehouses  *warehouse.Registry
	// Sources is the ordered fallback chain for item and tool demands.
	Sources  []Source
	Notifier settlement.Notifier
	Rand     dice.Source
}

// Processor applies daily upkeep.
type Processor struct {
	Deps
	logger *zap.Logger
	now    func() time.Time
}

// NewProcessor creates a Processor.
//
// Precondition: every field of deps must be set; logger must not be nil.
func NewProcessor(deps Deps, logger *zap.Logger) *Processor {
	return &Processor{Deps: deps, logger: logger, now: time.Now}
}

// Process charges the upkeep of instance id. It runs for every instance,
// active or not, so that a paid upkeep can precede re-activation.
//
// On failure a previously active instance is deactivated immediately and the
// settlement is notified. SuccessfulUpkeep is recorded either way.
//
// Precondition: tok must be the running mutator token.
// Postcondition: returns mutator.ErrConcurrencyViolation or structure.ErrInstanceNotFound
// without side effects; otherwise the outcome of the attempt.
func (p *Processor) Process(ctx context.Context, tok mutator.Token, id string) (Outcome, error) {
	if err := tok.Check(); err != nil {
		p.logger.Error("concurrency violation", zap.String("op", "upkeep"), zap.String("instance", id))
		return Outcome{}, err
	}
	inst, ok := p.Instances.Get(id)
	if !ok {
		return Outcome{}, structure.ErrInstanceNotFound
	}
	log := p.logger.With(
		zap.String("instance", inst.ID),
		zap.String("definition", inst.Definition),
		zap.String("settlement", inst.Settlement),
	)

	var cause error
	def, ok := p.Definitions.Get(inst.Definition)
	if !ok {
		cause = fmt.Errorf("definition %q not loaded", inst.Definition)
	} else {
		log.Debug("upkeep start", zap.Stringer("upkeep", def.Upkeep), zap.Bool("active", inst.Active))
		cause = p.pay(tok, inst, def, log)
	}
	out := Outcome{InstanceID: inst.ID, Success: cause == nil, Cause: cause}
	out.Deactivated = !out.Success && inst.Active

	updated, err := p.Instances.Update(ctx, inst.ID, func(i *structure.Instance) {
		i.SuccessfulUpkeep = out.Success
		if out.Deactivated {
			i.Active = false
		}
	})
	if err != nil {
		log.Warn("recording upkeep result", zap.Error(err))
	}
	if out.Success {
		log.Debug("upkeep paid")
		return out, nil
	}
	log.Debug("upkeep failed", zap.Error(cause), zap.Bool("deactivated", out.Deactivated))
	if out.Deactivated {
		p.Warehouses.Sync(updated)
		p.Notifier.Notify(settlement.Notice{
			Settlement: inst.Settlement,
			Kind:       settlement.NoticeUpkeepFailed,
			Instance:   inst.ID,
			Definition: inst.Definition,
			Message:    fmt.Sprintf("%s has stopped working: %v", inst.Definition, cause),
			At:         p.now(),
		})
	}
	return out, nil
}

func (p *Processor) pay(tok mutator.Token, inst structure.Instance, def *structure.Definition, log *zap.Logger) error {
	up := def.Upkeep
	if up.Unresolvable {
		return ErrUnresolvableUpkeep
	}
	switch up.Ref.Kind {
	case resource.KindUnknown:
		return nil
	case resource.KindMoney:
		return p.withdraw(inst, up.Amount, log)
	case resource.KindTemplate:
		tmpl, err := p.Templates.Get(up.Ref.Template)
		if err != nil {
			log.Warn("upkeep template unresolved", zap.Error(err))
			return err
		}
		return p.payTemplate(tok, inst, def, tmpl.Select(p.Rand), log)
	default:
		return p.take(tok, Request{Instance: inst, Definition: def, Ref: up.Ref, Amount: up.Amount, Tool: up.Tool}, log)
	}
}

// payTemplate charges every selected entry or none of them. Money entries are
// summed into one withdrawal and demands for the same item are merged, so the
// check before any debit covers the whole bill.
func (p *Processor) payTemplate(tok mutator.Token, inst structure.Instance, def *structure.Definition, entries []resource.Entry, log *zap.Logger) error {
	money := 0
	var reqs []Request
	items := make(map[string]int)
	for _, e := range entries {
		amount := e.Roll(p.Rand)
		if amount <= 0 {
			continue
		}
		if e.Ref.Kind == resource.KindMoney {
			money += amount
			continue
		}
		if e.Ref.Kind == resource.KindItem {
			if i, ok := items[e.Ref.Item]; ok {
				reqs[i].Amount += amount
				continue
			}
			items[e.Ref.Item] = len(reqs)
		}
		reqs = append(reqs, Request{Instance: inst, Definition: def, Ref: e.Ref, Amount: amount, Tool: e.Tool})
	}

	for _, req := range reqs {
		if !p.canSupply(tok, req, log) {
			return &InsufficientResourceError{Resource: req.Resource(), Needed: req.Amount}
		}
	}
	if err := p.withdraw(inst, money, log); err != nil {
		return err
	}
	for _, req := range reqs {
		if err := p.take(tok, req, log); err != nil {
			p.refund(inst, money, log)
			return err
		}
	}
	return nil
}

func (p *Processor) canSupply(tok mutator.Token, req Request, log *zap.Logger) bool {
	for _, src := range p.Sources {
		if src.CanSupply(tok, req) {
			return true
		}
	}
	log.Debug("upkeep check failed", zap.Stringer("request", req))
	return false
}

func (p *Processor) refund(inst structure.Instance, amount int, log *zap.Logger) {
	if amount <= 0 {
		return
	}
	if acct, ok := p.Settlements.Account(inst.Settlement); ok {
		acct.Deposit(amount, "upkeep refund: "+inst.Definition)
		log.Warn("upkeep refunded", zap.Int("amount", amount))
	}
}

func (p *Processor) withdraw(inst structure.Instance, amount int, log *zap.Logger) error {
	if amount <= 0 {
		return nil
	}
	acct, ok := p.Settlements.Account(inst.Settlement)
	ok = ok && acct.Withdraw(amount, "upkeep: "+inst.Definition)
	log.Debug("upkeep attempt", zap.String("source", "account"), zap.Int("amount", amount), zap.Bool("ok", ok))
	if !ok {
		return &InsufficientResourceError{Resource: resource.Money().String(), Needed: amount}
	}
	return nil
}

func (p *Processor) take(tok mutator.Token, req Request, log *zap.Logger) error {
	if req.Amount <= 0 {
		return nil
	}
	for _, src := range p.Sources {
		ok := src.TryConsume(tok, req)
		log.Debug("upkeep attempt", zap.String("source", src.Name()), zap.Stringer("request", req), zap.Bool("ok", ok))
		if ok {
			return nil
		}
	}
	return &InsufficientResourceError{Resource: req.Resource(), Needed: req.Amount}
}
