// Package activation derives each placed structure's active flag from the
// blocks inside its volume.
package activation

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/cory-johannsen/townworks/internal/game/mutator"
	"github.com/cory-johannsen/townworks/internal/game/structure"
	"github.com/cory-johannsen/townworks/internal/game/warehouse"
	"github.com/cory-johannsen/townworks/internal/game/world"
)

// Report counts the outcome of a scan pass.
type Report struct {
	Scanned int
	Changed int
	Skipped int
}

func (r *Report) add(s status) {
	switch s {
	case statusChanged:
		r.Scanned++
		r.Changed++
	case statusUnchanged:
		r.Scanned++
	default:
		r.Skipped++
	}
}

type status int

const (
	statusSkipped status = iota
	statusUnchanged
	statusChanged
)

// Scanner recomputes activation. Scan is pure; Refresh writes the result to the
// registry when it differs from the stored flag.
type Scanner struct {
	defs         *structure.DefinitionStore
	instances    *structure.Registry
	atlas        *world.Atlas
	warehouses   *warehouse.Registry
	skipUnloaded bool
	logger       *zap.Logger

	mu       sync.Mutex
	rotation []string
	cursor   int
}

// NewScanner creates a Scanner. With skipUnloaded set, instances whose volume
// is not fully loaded keep their current flag.
//
// Precondition: all pointer arguments must be non-nil.
func NewScanner(defs *structure.DefinitionStore, instances *structure.Registry, atlas *world.Atlas,
	warehouses *warehouse.Registry, skipUnloaded bool, logger *zap.Logger) *Scanner {
	return &Scanner{
		defs:         defs,
		instances:    instances,
		atlas:        atlas,
		warehouses:   warehouses,
		skipUnloaded: skipUnloaded,
		logger:       logger,
	}
}

// Scan reports whether the volume of inst in w satisfies every composition
// requirement of def. Each cell is visited at most once and may count toward
// several requirements.
//
// Postcondition: empty composition yields true; an unsatisfiable requirement yields false.
func (s *Scanner) Scan(w world.World, inst structure.Instance, def *structure.Definition) bool {
	reqs := def.Composition
	if len(reqs) == 0 {
		return true
	}
	for _, r := range reqs {
		if r.Unsatisfiable {
			s.logger.Warn("composition requirement cannot be satisfied",
				zap.String("definition", def.Name),
				zap.String("key", r.Key),
			)
			return false
		}
	}
	found := make([]int, len(reqs))
	pending := len(reqs)
	inst.Volume(def).Each(func(p world.Vec3) bool {
		m := string(w.BlockAt(p))
		for i, r := range reqs {
			if found[i] < r.Count && r.Materials.Match(m) {
				found[i]++
				if found[i] == r.Count {
					pending--
				}
			}
		}
		return pending > 0
	})
	return pending == 0
}

// Refresh rescans instance id and stores the flag when it changed, then brings
// the warehouse registry in line.
//
// Precondition: tok must be the running mutator token.
// Postcondition: reports whether the stored flag changed.
func (s *Scanner) Refresh(ctx context.Context, tok mutator.Token, id string) (bool, error) {
	st, err := s.refresh(ctx, tok, id)
	return st == statusChanged, err
}

func (s *Scanner) refresh(ctx context.Context, tok mutator.Token, id string) (status, error) {
	if err := tok.Check(); err != nil {
		s.logger.Error("concurrency violation", zap.String("op", "scan"), zap.String("instance", id))
		return statusSkipped, err
	}
	inst, ok := s.instances.Get(id)
	if !ok {
		return statusSkipped, nil
	}
	def, ok := s.defs.Get(inst.Definition)
	if !ok {
		s.logger.Warn("scan skipped, definition not loaded",
			zap.String("instance", id),
			zap.String("definition", inst.Definition),
		)
		return statusSkipped, nil
	}
	w, ok := s.atlas.Get(inst.World)
	if !ok {
		return statusSkipped, nil
	}
	if s.skipUnloaded && !w.Loaded(inst.Volume(def)) {
		s.logger.Debug("scan skipped, volume not loaded", zap.String("instance", id))
		return statusSkipped, nil
	}
	active := s.Scan(w, inst, def)
	if active == inst.Active {
		return statusUnchanged, nil
	}
	updated, err := s.instances.Update(ctx, id, func(i *structure.Instance) { i.Active = active })
	if err != nil {
		s.logger.Warn("storing activation", zap.String("instance", id), zap.Error(err))
	}
	s.warehouses.Sync(updated)
	s.logger.Info("activation changed",
		zap.String("instance", id),
		zap.String("definition", inst.Definition),
		zap.Bool("active", active),
	)
	return statusChanged, nil
}

// ScanAll refreshes every instance.
func (s *Scanner) ScanAll(ctx context.Context, tok mutator.Token) (Report, error) {
	var rep Report
	for _, id := range s.instances.IDs() {
		st, err := s.refresh(ctx, tok, id)
		if err != nil {
			return rep, err
		}
		rep.add(st)
	}
	return rep, nil
}

// Reindex rebuilds the round-robin rotation from the registry and returns its length.
func (s *Scanner) Reindex() int {
	ids := s.instances.IDs()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rotation = ids
	if s.cursor >= len(ids) {
		s.cursor = 0
	}
	return len(ids)
}

// ScanSlice refreshes the next n instances of the rotation, wrapping around.
// Instances placed since the last Reindex are picked up by the next Reindex.
func (s *Scanner) ScanSlice(ctx context.Context, tok mutator.Token, n int) (Report, error) {
	var rep Report
	for _, id := range s.nextSlice(n) {
		st, err := s.refresh(ctx, tok, id)
		if err != nil {
			return rep, err
		}
		rep.add(st)
	}
	return rep, nil
}

func (s *Scanner) nextSlice(n int) []string {
	s.mu.Lock()
	empty := len(s.rotation) == 0
	s.mu.Unlock()
	if empty {
		s.Reindex()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.rotation) == 0 || n <= 0 {
		return nil
	}
	n = min(n, len(s.rotation))
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, s.rotation[s.cursor])
		s.cursor = (s.cursor + 1) % len(s.rotation)
	}
	return out
}
