// Package mutator provides the single goroutine that owns all world and
// container mutation. Other goroutines marshal work onto it with Loop.Do.
package mutator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

var (
	// ErrConcurrencyViolation is returned when a mutation is attempted with a
	// token that does not belong to the job currently running on the loop.
	ErrConcurrencyViolation = errors.New("mutator: mutation attempted outside the mutator loop")
	// ErrLoopStopped is returned by Do once the loop has stopped.
	ErrLoopStopped = errors.New("mutator: loop stopped")
	// ErrAlreadyRunning is returned by Run when the loop is already running.
	ErrAlreadyRunning = errors.New("mutator: loop already running")
)

// Token proves that the holder is running on the mutator loop. A token is
// valid only for the duration of the job it was handed to.
type Token struct {
	loop *Loop
	gen  uint64
}

// Check returns ErrConcurrencyViolation unless t belongs to the running job.
func (t Token) Check() error {
	if t.loop == nil || t.gen == 0 || t.loop.current.Load() != t.gen {
		return ErrConcurrencyViolation
	}
	return nil
}

// Valid reports whether Check would succeed.
func (t Token) Valid() bool {
	return t.Check() == nil
}

type job struct {
	fn   func(Token) error
	done chan error
}

// Loop is the single mutator goroutine.
type Loop struct {
	logger  *zap.Logger
	jobs    chan job
	current atomic.Uint64
	gen     uint64

	running  atomic.Bool
	stop     chan struct{}
	stopOnce sync.Once
	stopped  chan struct{}
}

// New creates a Loop whose queue holds up to queue pending jobs.
//
// Precondition: logger must not be nil; queue >= 0.
func New(logger *zap.Logger, queue int) *Loop {
	return &Loop{
		logger:  logger,
		jobs:    make(chan job, queue),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Run executes queued jobs one at a time until ctx is done or Stop is called.
// Jobs still queued at exit fail with ErrLoopStopped.
//
// Postcondition: returns ErrAlreadyRunning if called twice.
func (l *Loop) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(l.stopped)
	defer l.drain()
	l.logger.Info("mutator loop started")
	for {
		select {
		case <-ctx.Done():
			l.logger.Info("mutator loop stopped", zap.Error(ctx.Err()))
			return nil
		case <-l.stop:
			l.logger.Info("mutator loop stopped")
			return nil
		case j := <-l.jobs:
			j.done <- l.exec(j.fn)
		}
	}
}

// Start runs the loop with a background context. It implements server.Service.
func (l *Loop) Start() error {
	return l.Run(context.Background())
}

// Stop signals the loop to exit and waits for it when it is running.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
	if l.running.Load() {
		<-l.stopped
	}
}

func (l *Loop) drain() {
	for {
		select {
		case j := <-l.jobs:
			j.done <- ErrLoopStopped
		default:
			return
		}
	}
}

func (l *Loop) exec(fn func(Token) error) (err error) {
	l.gen++
	tok := Token{loop: l, gen: l.gen}
	l.current.Store(tok.gen)
	defer func() {
		l.current.Store(0)
		if r := recover(); r != nil {
			l.logger.Error("mutator job panicked", zap.Any("panic", r))
			err = fmt.Errorf("mutator: job panicked: %v", r)
		}
	}()
	return fn(tok)
}

// Do runs fn on the loop and returns its error.
//
// Do must not be called from inside a job; the loop would wait on itself.
//
// Postcondition: returns ctx.Err() if ctx ends first (fn may still run if it
// was already queued) and ErrLoopStopped if the loop exits before running fn.
func (l *Loop) Do(ctx context.Context, fn func(Token) error) error {
	j := job{fn: fn, done: make(chan error, 1)}
	select {
	case <-l.stop:
		return ErrLoopStopped
	default:
	}
	select {
	case l.jobs <- j:
	case <-l.stopped:
		return ErrLoopStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-j.done:
		return err
	case <-l.stopped:
		select {
		case err := <-j.done:
			return err
		default:
			return ErrLoopStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Post queues fn without waiting. It reports false when the queue is full or
// the loop is stopping; errors returned by fn are logged.
func (l *Loop) Post(fn func(Token) error) bool {
	select {
	case <-l.stop:
		return false
	default:
	}
	j := job{fn: fn, done: make(chan error, 1)}
	select {
	case l.jobs <- j:
	default:
		return false
	}
	go func() {
		select {
		case err := <-j.done:
			if err != nil {
				l.logger.Warn("posted mutator job failed", zap.Error(err))
			}
		case <-l.stopped:
		}
	}()
	return true
}
