package snapshot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/townworks/internal/game/income"
	"github.com/cory-johannsen/townworks/internal/game/mutator"
	"github.com/cory-johannsen/townworks/internal/game/structure"
)

// Saver captures the registry and ledger on the mutator loop and writes them
// to a snapshot file. As a service it idles until Stop, then writes a final snapshot.
type Saver struct {
	path      string
	server    string
	loop      *mutator.Loop
	instances *structure.Registry
	ledger    *income.Ledger
	day       func() int64
	logger    *zap.Logger

	mu   sync.Mutex
	last Header

	done chan struct{}
	once sync.Once
}

// NewSaver creates a Saver writing to path. day reports the current economic
// day recorded in the header; it may be nil.
//
// Precondition: loop, instances, ledger and logger must be non-nil.
func NewSaver(path, server string, loop *mutator.Loop, instances *structure.Registry, ledger *income.Ledger,
	day func() int64, logger *zap.Logger) *Saver {
	if day == nil {
		day = func() int64 { return 0 }
	}
	return &Saver{
		path:      path,
		server:    server,
		loop:      loop,
		instances: instances,
		ledger:    ledger,
		day:       day,
		logger:    logger,
		done:      make(chan struct{}),
	}
}

// Capture returns a consistent copy of the current state. It runs on the loop
// when the loop accepts work and reads the stores directly otherwise.
func (s *Saver) Capture(ctx context.Context) Snapshot {
	snap := Snapshot{Header: Header{Server: s.server, Day: s.day()}}
	type state struct {
		instances []structure.Instance
		accruals  []income.Accrual
	}
	got := make(chan state, 1)
	err := s.loop.Do(ctx, func(mutator.Token) error {
		got <- state{instances: s.instances.Snapshot(), accruals: s.ledger.Snapshot()}
		return nil
	})
	if err != nil {
		s.logger.Debug("capturing snapshot off the loop", zap.Error(err))
		snap.Instances = s.instances.Snapshot()
		snap.Accruals = s.ledger.Snapshot()
		return snap
	}
	st := <-got
	snap.Instances = st.instances
	snap.Accruals = st.accruals
	return snap
}

// Save captures and writes a snapshot.
func (s *Saver) Save(ctx context.Context) error {
	start := time.Now()
	snap := s.Capture(ctx)
	if err := Write(s.path, snap); err != nil {
		s.logger.Error("snapshot write failed", zap.String("path", s.path), zap.Error(err))
		return fmt.Errorf("writing snapshot %s: %w", s.path, err)
	}
	s.mu.Lock()
	s.last = snap.Header
	s.last.Instances = len(snap.Instances)
	s.last.Accruals = len(snap.Accruals)
	s.mu.Unlock()
	s.logger.Info("snapshot written",
		zap.String("path", s.path),
		zap.Int("instances", len(snap.Instances)),
		zap.Int("accruals", len(snap.Accruals)),
		zap.Duration("took", time.Since(start)),
	)
	return nil
}

// Last returns the header of the most recent successful save.
func (s *Saver) Last() Header {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Restore loads the snapshot file into the registry and ledger. A missing
// file is not an error and leaves both empty.
//
// Postcondition: returns the loaded header, or a zero header when no file exists.
func (s *Saver) Restore() (Header, error) {
	snap, err := Read(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.logger.Info("no snapshot to restore", zap.String("path", s.path))
		return Header{}, nil
	}
	if err != nil {
		return Header{}, fmt.Errorf("restoring snapshot %s: %w", s.path, err)
	}
	s.instances.Restore(snap.Instances)
	s.ledger.Restore(snap.Accruals)
	s.logger.Info("snapshot restored",
		zap.String("path", s.path),
		zap.Int64("day", snap.Header.Day),
		zap.Int("instances", len(snap.Instances)),
		zap.Int("accruals", len(snap.Accruals)),
	)
	return snap.Header, nil
}

// Start blocks until Stop.
func (s *Saver) Start() error {
	<-s.done
	return nil
}

// Stop writes a final snapshot and ends Start. Only the first call saves.
func (s *Saver) Stop() {
	s.once.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Save(ctx)
		close(s.done)
	})
}
