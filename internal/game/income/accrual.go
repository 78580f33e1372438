// Package income accrues daily structure rewards and releases them exactly
// once through collection.
package income

import (
	"context"
	"sort"
	"time"

	"github.com/cory-johannsen/townworks/internal/game/structure"
)

// Accrual is the unclaimed reward of one instance.
type Accrual struct {
	InstanceID string
	Settlement string
	Money      int
	Items      map[string]int
	Day        int64
	AccruedAt  time.Time
}

// Empty reports whether nothing is left to collect.
func (a Accrual) Empty() bool {
	if a.Money > 0 {
		return false
	}
	for _, n := range a.Items {
		if n > 0 {
			return false
		}
	}
	return true
}

// ItemIDs returns the item ids with a positive amount, sorted.
func (a Accrual) ItemIDs() []string {
	out := make([]string, 0, len(a.Items))
	for id, n := range a.Items {
		if n > 0 {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

func (a Accrual) clone() Accrual {
	items := make(map[string]int, len(a.Items))
	for k, v := range a.Items {
		items[k] = v
	}
	a.Items = items
	return a
}

// LedgerStore persists accruals keyed by instance id.
type LedgerStore interface {
	LoadAccruals(ctx context.Context) ([]Accrual, error)
	// SaveAccrual inserts or replaces the accrual of a.InstanceID.
	SaveAccrual(ctx context.Context, a Accrual) error
	// DeleteAccrual removes the accrual of instanceID; a missing entry is not an error.
	DeleteAccrual(ctx context.Context, instanceID string) error
}

// Filter selects the instances a collection applies to.
type Filter func(structure.Instance) bool

// All matches every instance.
func All() Filter {
	return func(structure.Instance) bool { return true }
}

// Instances matches the listed instance ids.
func Instances(ids ...string) Filter {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return func(i structure.Instance) bool { return set[i.ID] }
}

// OfDefinition matches instances of the named definition.
func OfDefinition(name string) Filter {
	return func(i structure.Instance) bool { return i.Definition == name }
}
