package gameserver

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

type job struct {
	every int64
	fn    func(ctx context.Context)
}

// TickManager runs named jobs on multiples of a base interval. Jobs due on the
// same tick run sequentially in name order on the manager's goroutine.
//
// Invariant: a job is invoked at most once per base tick.
type TickManager struct {
	interval time.Duration
	logger   *zap.Logger

	mu    sync.Mutex
	jobs  map[string]job
	count int64

	ctx    context.Context
	cancel context.CancelFunc
}

// NewTickManager returns a manager that ticks every interval.
//
// Precondition: interval must be > 0; logger must not be nil.
func NewTickManager(interval time.Duration, logger *zap.Logger) *TickManager {
	if interval <= 0 {
		panic("gameserver.NewTickManager: interval must be > 0")
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &TickManager{
		interval: interval,
		logger:   logger,
		jobs:     make(map[string]job),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Every registers fn under name to run every n base ticks, replacing any job
// of the same name. n below 1 is treated as 1.
func (m *TickManager) Every(name string, n int, fn func(ctx context.Context)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[name] = job{every: int64(max(n, 1)), fn: fn}
}

// EveryDuration registers fn to run roughly every d, rounded to whole base ticks.
func (m *TickManager) EveryDuration(name string, d time.Duration, fn func(ctx context.Context)) {
	m.Every(name, int(d/m.interval), fn)
}

// Unregister removes the job registered under name.
func (m *TickManager) Unregister(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.jobs, name)
}

// Step performs one base tick synchronously and returns the names of the jobs it ran.
func (m *TickManager) Step(ctx context.Context) []string {
	m.mu.Lock()
	m.count++
	n := m.count
	names := make([]string, 0, len(m.jobs))
	due := make(map[string]func(context.Context), len(m.jobs))
	for name, j := range m.jobs {
		if n%j.every == 0 {
			names = append(names, name)
			due[name] = j.fn
		}
	}
	m.mu.Unlock()

	sort.Strings(names)
	for _, name := range names {
		if ctx.Err() != nil {
			break
		}
		start := time.Now()
		due[name](ctx)
		m.logger.Debug("tick job", zap.String("job", name), zap.Int64("tick", n), zap.Duration("took", time.Since(start)))
	}
	return names
}

// Start ticks until Stop is called.
//
// Postcondition: every registered job runs once per its period.
func (m *TickManager) Start() error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.ctx.Done():
			return nil
		case <-ticker.C:
			m.Step(m.ctx)
		}
	}
}

// Stop ends Start and cancels the context passed to running jobs.
func (m *TickManager) Stop() {
	m.cancel()
}
