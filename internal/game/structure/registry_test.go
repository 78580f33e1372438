package structure_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/townworks/internal/game/structure"
)

type memStore struct {
	mu      sync.Mutex
	rows    map[string]structure.Instance
	failing bool
}

func newMemStore() *memStore {
	return &memStore{rows: make(map[string]structure.Instance)}
}

func (m *memStore) LoadInstances(context.Context) ([]structure.Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing {
		return nil, errors.New("disk on fire")
	}
	out := make([]structure.Instance, 0, len(m.rows))
	for _, r := range m.rows {
		out = append(out, r)
	}
	return out, nil
}

func (m *memStore) SaveInstance(_ context.Context, inst structure.Instance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing {
		return errors.New("disk on fire")
	}
	m.rows[inst.ID] = inst
	return nil
}

func (m *memStore) DeleteInstance(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing {
		return errors.New("disk on fire")
	}
	delete(m.rows, id)
	return nil
}

func inst(id, settlement string, at int) structure.Instance {
	return structure.Instance{
		ID:         id,
		Definition: "farm",
		Settlement: settlement,
		World:      "overworld",
		PlacedAt:   time.Unix(int64(at), 0).UTC(),
	}
}

func TestRegistry_UpsertGetRemove(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	r := structure.NewRegistry(store, zap.NewNop())

	require.NoError(t, r.Upsert(ctx, inst("b", "s1", 2)))
	require.NoError(t, r.Upsert(ctx, inst("a", "s1", 1)))
	require.NoError(t, r.Upsert(ctx, inst("c", "s2", 3)))

	got, ok := r.Get("a")
	require.True(t, ok)
	assert.Equal(t, "s1", got.Settlement)
	assert.Equal(t, []string{"a", "b", "c"}, r.IDs())
	assert.Len(t, r.BySettlement("s1"), 2)
	assert.Equal(t, []string{"s1", "s2"}, r.Settlements())
	assert.Len(t, store.rows, 3)

	removed, err := r.Remove(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, "c", removed.ID)
	assert.Equal(t, []string{"s1"}, r.Settlements())
	assert.NotContains(t, store.rows, "c")

	_, err = r.Remove(ctx, "c")
	assert.ErrorIs(t, err, structure.ErrInstanceNotFound)
}

func TestRegistry_Update(t *testing.T) {
	ctx := context.Background()
	r := structure.NewRegistry(nil, zap.NewNop())
	require.NoError(t, r.Upsert(ctx, inst("a", "s1", 1)))

	got, err := r.Update(ctx, "a", func(i *structure.Instance) { i.Active = true })
	require.NoError(t, err)
	assert.True(t, got.Active)
	stored, _ := r.Get("a")
	assert.True(t, stored.Active)

	_, err = r.Update(ctx, "zzz", func(*structure.Instance) {})
	assert.ErrorIs(t, err, structure.ErrInstanceNotFound)
}

func TestRegistry_StorageFailureKeepsMemory(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	store.failing = true
	r := structure.NewRegistry(store, zap.NewNop())

	err := r.Upsert(ctx, inst("a", "s1", 1))
	var sio *structure.StorageIOError
	require.True(t, errors.As(err, &sio))
	assert.Equal(t, "save", sio.Op)
	_, ok := r.Get("a")
	assert.True(t, ok)

	assert.Error(t, r.Load(ctx))
	assert.Equal(t, 1, r.Len(), "failed load leaves registry unchanged")
}

func TestRegistry_Load(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	store.rows["x"] = inst("x", "s9", 5)
	r := structure.NewRegistry(store, zap.NewNop())
	require.NoError(t, r.Load(ctx))
	assert.Len(t, r.BySettlement("s9"), 1)
}

func TestProperty_Registry_IndexesAgree(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ctx := context.Background()
		r := structure.NewRegistry(nil, zap.NewNop())
		ops := rapid.SliceOfN(rapid.IntRange(0, 29), 1, 60).Draw(t, "ops")
		for i, op := range ops {
			id := fmt.Sprintf("i%d", op%10)
			if op >= 20 {
				_, _ = r.Remove(ctx, id)
				continue
			}
			_ = r.Upsert(ctx, inst(id, fmt.Sprintf("s%d", op%3), i))
		}
		total := 0
		for _, s := range r.Settlements() {
			for _, in := range r.BySettlement(s) {
				if in.Settlement != s {
					t.Fatalf("instance %s indexed under %s but owned by %s", in.ID, s, in.Settlement)
				}
				total++
			}
		}
		if total != r.Len() {
			t.Fatalf("settlement index holds %d instances, registry %d", total, r.Len())
		}
	})
}
