package settlement

import (
	"fmt"
	"sort"
	"sync"

	"github.com/cory-johannsen/townworks/internal/content"
)

// Settlement is an organisation owning structures.
type Settlement struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Level   int      `json:"level"`
	Members []string `json:"members"`
}

// HasMember reports whether member belongs to s.
func (s Settlement) HasMember(member string) bool {
	for _, m := range s.Members {
		if m == member {
			return true
		}
	}
	return false
}

type entry struct {
	settlement Settlement
	account    Account
}

// Directory resolves settlement ids to their record and account.
// All methods are safe for concurrent use.
type Directory struct {
	mu      sync.RWMutex
	entries map[string]entry
}

// NewDirectory creates an empty Directory.
func NewDirectory() *Directory {
	return &Directory{entries: make(map[string]entry)}
}

// Put registers or replaces s with its account.
//
// Precondition: s.ID must be non-empty; acct must not be nil.
func (d *Directory) Put(s Settlement, acct Account) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries[s.ID] = entry{settlement: s, account: acct}
}

// Get returns the settlement with id.
func (d *Directory) Get(id string) (Settlement, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.entries[id]
	return e.settlement, ok
}

// Account returns the account of settlement id.
func (d *Directory) Account(id string) (Account, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.entries[id]
	if !ok {
		return nil, false
	}
	return e.account, true
}

// IDs returns every settlement id sorted.
func (d *Directory) IDs() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(d.entries))
	for id := range d.entries {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

type settlementRecord struct {
	Settlement
	Balance int `json:"balance"`
}

// LoadDirectory reads settlements from the content file at path. Each record
// carries id, name, level, members and an opening balance held in a Treasury.
//
// Postcondition: returns a populated Directory or a non-nil error on the first invalid record.
func LoadDirectory(path string) (*Directory, error) {
	doc, err := content.DecodeFile(path)
	if err != nil {
		return nil, fmt.Errorf("settlement: loading directory: %w", err)
	}
	records, err := content.Records(doc, "settlements")
	if err != nil {
		return nil, fmt.Errorf("settlement: loading directory: %w", err)
	}
	d := NewDirectory()
	for i, raw := range records {
		var rec settlementRecord
		if err := content.Bind(raw, &rec); err != nil {
			return nil, fmt.Errorf("settlement: record %d: %w", i, err)
		}
		if rec.ID == "" {
			return nil, fmt.Errorf("settlement: record %d has no id", i)
		}
		if _, dup := d.Get(rec.ID); dup {
			return nil, fmt.Errorf("settlement: duplicate id %q", rec.ID)
		}
		d.Put(rec.Settlement, NewTreasury(rec.Balance))
	}
	return d, nil
}
