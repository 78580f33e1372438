package economy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/cory-johannsen/townworks/internal/game/income"
	"github.com/cory-johannsen/townworks/internal/game/mutator"
	"github.com/cory-johannsen/townworks/internal/game/settlement"
	"github.com/cory-johannsen/townworks/internal/game/structure"
	"github.com/cory-johannsen/townworks/internal/game/upkeep"
	"github.com/cory-johannsen/townworks/internal/game/warehouse"
)

// ErrCycleInProgress is returned when a daily cycle is requested while one is running.
var ErrCycleInProgress = errors.New("economy: daily cycle already in progress")

// CycleReport summarises one daily cycle.
type CycleReport struct {
	Day         int64
	Settlements int
	Processed   int
	Upkept      int
	Failed      int
	Deactivated int
	Accrued     int
	// Skipped counts instances removed between listing and processing.
	Skipped  int
	Duration time.Duration
}

// DailyCycle runs upkeep and then income accrual for every settlement.
type DailyCycle struct {
	loop      *mutator.Loop
	instances *structure.Registry
	upkeep    *upkeep.Processor
	ledger    *income.Ledger
	notifier  settlement.Notifier
	logger    *zap.Logger
	sem       *semaphore.Weighted
	now       func() time.Time
}

// NewDailyCycle creates a DailyCycle.
//
// Precondition: all arguments must be non-nil.
func NewDailyCycle(loop *mutator.Loop, instances *structure.Registry, proc *upkeep.Processor,
	ledger *income.Ledger, notifier settlement.Notifier, logger *zap.Logger) *DailyCycle {
	return &DailyCycle{
		loop:      loop,
		instances: instances,
		upkeep:    proc,
		ledger:    ledger,
		notifier:  notifier,
		logger:    logger,
		sem:       semaphore.NewWeighted(1),
		now:       time.Now,
	}
}

// Run executes the cycle for day. Each settlement is processed in one loop job:
// upkeep for all of its instances, then accrual. A started cycle ignores
// cancellation of ctx.
//
// Postcondition: returns ErrCycleInProgress without side effects when another
// Run has not finished; ErrLoopStopped if the loop exits mid-cycle.
func (c *DailyCycle) Run(ctx context.Context, day int64) (CycleReport, error) {
	if !c.sem.TryAcquire(1) {
		c.logger.Warn("daily cycle skipped", zap.Int64("day", day), zap.Error(ErrCycleInProgress))
		return CycleReport{}, ErrCycleInProgress
	}
	defer c.sem.Release(1)
	ctx = context.WithoutCancel(ctx)

	start := c.now()
	rep := CycleReport{Day: day}
	for _, sid := range c.instances.Settlements() {
		ids := make([]string, 0)
		for _, inst := range c.instances.BySettlement(sid) {
			ids = append(ids, inst.ID)
		}
		var part CycleReport
		err := c.loop.Do(ctx, func(tok mutator.Token) error {
			part = CycleReport{}
			return c.settle(ctx, tok, day, ids, &part)
		})
		if err != nil {
			rep.Duration = c.now().Sub(start)
			c.logger.Error("daily cycle aborted", zap.Int64("day", day), zap.String("settlement", sid), zap.Error(err))
			return rep, fmt.Errorf("daily cycle day %d, settlement %s: %w", day, sid, err)
		}
		rep.Settlements++
		rep.merge(part)
		if part.Accrued > 0 {
			c.notifier.Notify(settlement.Notice{
				Settlement: sid,
				Kind:       settlement.NoticeIncomeReady,
				Message:    fmt.Sprintf("%d structures have income ready to collect", part.Accrued),
				At:         c.now(),
			})
		}
	}
	rep.Duration = c.now().Sub(start)
	c.logger.Info("daily cycle complete",
		zap.Int64("day", day),
		zap.Int("settlements", rep.Settlements),
		zap.Int("processed", rep.Processed),
		zap.Int("upkept", rep.Upkept),
		zap.Int("failed", rep.Failed),
		zap.Int("deactivated", rep.Deactivated),
		zap.Int("accrued", rep.Accrued),
		zap.Int("skipped", rep.Skipped),
		zap.Duration("duration", rep.Duration),
	)
	return rep, nil
}

func (c *DailyCycle) settle(ctx context.Context, tok mutator.Token, day int64, ids []string, rep *CycleReport) error {
	for _, id := range ids {
		out, err := c.upkeep.Process(ctx, tok, id)
		switch {
		case errors.Is(err, structure.ErrInstanceNotFound):
			rep.Skipped++
			continue
		case err != nil:
			return err
		}
		rep.Processed++
		if out.Success {
			rep.Upkept++
		} else {
			rep.Failed++
		}
		if out.Deactivated {
			rep.Deactivated++
		}
	}
	for _, id := range ids {
		ok, err := c.ledger.AccrueInstance(ctx, tok, id, day)
		switch {
		case errors.Is(err, structure.ErrInstanceNotFound):
			continue
		case err != nil:
			return err
		}
		if ok {
			rep.Accrued++
		}
	}
	return nil
}

func (r *CycleReport) merge(o CycleReport) {
	r.Processed += o.Processed
	r.Upkept += o.Upkept
	r.Failed += o.Failed
	r.Deactivated += o.Deactivated
	r.Accrued += o.Accrued
	r.Skipped += o.Skipped
}

// ToolLowNotices adapts low-durability warnings into settlement notices.
func ToolLowNotices(n settlement.Notifier) func(warehouse.LowDurability) {
	return func(ev warehouse.LowDurability) {
		n.Notify(settlement.Notice{
			Settlement: ev.Settlement,
			Kind:       settlement.NoticeToolLow,
			Instance:   ev.Target,
			Message:    fmt.Sprintf("%s is almost worn out (%d/%d)", ev.ItemID, ev.Remaining, ev.Max),
			At:         time.Now(),
		})
	}
}
