package resource

import (
	"fmt"
	"sort"

	"github.com/cory-johannsen/townworks/internal/game/dice"
)

// Entry is one resource line of a Template.
//
// Invariant: Ref.Kind is KindMoney, KindItem or KindTool; 0 <= Min <= Max; Weight >= 1.
// For KindTool entries Durability > 0 and Tool is non-empty.
type Entry struct {
	Ref        Ref
	Min        int
	Max        int
	Durability int
	Weight     int
	Tool       Matcher
}

// Roll returns the amount this entry yields for one evaluation.
//
// Postcondition: Min <= result <= Max; for tool entries returns Durability.
func (e Entry) Roll(src dice.Source) int {
	if e.Ref.Kind == KindTool {
		return e.Durability
	}
	return dice.Between(src, e.Min, e.Max)
}

// Validate checks the Entry invariants.
func (e Entry) Validate() error {
	switch e.Ref.Kind {
	case KindMoney, KindItem:
		if e.Min < 0 || e.Max < e.Min {
			return fmt.Errorf("amount range [%d, %d] is invalid", e.Min, e.Max)
		}
	case KindTool:
		if e.Durability <= 0 {
			return fmt.Errorf("tool entry requires durability > 0")
		}
		if e.Tool.Empty() {
			return fmt.Errorf("tool entry requires a tool_type")
		}
	case KindTemplate:
		return fmt.Errorf("template entries cannot reference another template")
	default:
		return fmt.Errorf("entry has no resource type")
	}
	if e.Weight < 1 {
		return fmt.Errorf("weight %d must be >= 1", e.Weight)
	}
	return nil
}

// Template is a named bundle of resource entries.
type Template struct {
	Name            string
	Description     string
	RandomSelection bool
	Entries         []Entry
}

// Validate checks the Template invariants.
//
// Postcondition: returns nil iff Name is non-empty and every entry is valid.
func (t *Template) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("template name must not be empty")
	}
	for i, e := range t.Entries {
		if err := e.Validate(); err != nil {
			return fmt.Errorf("template %q entry %d: %w", t.Name, i, err)
		}
	}
	return nil
}

// Select returns the entries that apply to one evaluation: every entry, or
// exactly one entry chosen by weight when RandomSelection is set.
//
// Postcondition: RandomSelection with at least one entry yields exactly one entry.
func (t *Template) Select(src dice.Source) []Entry {
	if !t.RandomSelection {
		return t.Entries
	}
	weights := make([]int, len(t.Entries))
	for i, e := range t.Entries {
		weights[i] = e.Weight
	}
	idx := dice.Weighted(src, weights)
	if idx < 0 {
		return nil
	}
	return []Entry{t.Entries[idx]}
}

// TemplateResolutionError reports a template reference with no loaded template.
type TemplateResolutionError struct {
	Name string
}

func (e *TemplateResolutionError) Error() string {
	return fmt.Sprintf("resource template %q not found", e.Name)
}

// TemplateStore holds templates keyed by name. It is populated at load time and
// read-only afterwards.
type TemplateStore struct {
	templates map[string]*Template
}

// NewTemplateStore creates an empty TemplateStore.
func NewTemplateStore() *TemplateStore {
	return &TemplateStore{templates: make(map[string]*Template)}
}

// Register adds t to the store.
//
// Precondition: t must be valid.
// Postcondition: returns an error if t is invalid or the name is already registered.
func (s *TemplateStore) Register(t *Template) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if _, ok := s.templates[t.Name]; ok {
		return fmt.Errorf("resource template %q already registered", t.Name)
	}
	s.templates[t.Name] = t
	return nil
}

// Get returns the named template or a *TemplateResolutionError.
func (s *TemplateStore) Get(name string) (*Template, error) {
	t, ok := s.templates[name]
	if !ok {
		return nil, &TemplateResolutionError{Name: name}
	}
	return t, nil
}

// All returns every template sorted by name.
func (s *TemplateStore) All() []*Template {
	out := make([]*Template, 0, len(s.templates))
	for _, t := range s.templates {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of templates.
func (s *TemplateStore) Len() int {
	return len(s.templates)
}
