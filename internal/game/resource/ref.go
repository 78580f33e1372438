// Package resource resolves the resource references used by structure income
// and upkeep rules ("MONEY", "TOOL", item ids, "template:<name>") into a typed
// variant once at load time, and holds the named resource templates.
package resource

import (
	"fmt"
	"sort"
	"strings"
)

// Kind is the resource variant tag.
type Kind int

const (
	// KindUnknown is the zero value and never produced by ParseRef.
	KindUnknown Kind = iota
	// KindMoney is settlement account currency.
	KindMoney
	// KindItem is a generic item identified by Ref.Item.
	KindItem
	// KindTool is a durability drain on a tool.
	KindTool
	// KindTemplate indirects to the named Template in Ref.Template.
	KindTemplate
)

// String returns the canonical name of k.
func (k Kind) String() string {
	switch k {
	case KindMoney:
		return "money"
	case KindItem:
		return "item"
	case KindTool:
		return "tool"
	case KindTemplate:
		return "template"
	default:
		return "unknown"
	}
}

const (
	moneyKey       = "MONEY"
	toolKey        = "TOOL"
	templatePrefix = "template:"
	vanillaPrefix  = "vanilla:"
)

// Ref is a resolved resource reference.
//
// Invariant: Item is non-empty iff Kind == KindItem; Template is non-empty iff Kind == KindTemplate.
type Ref struct {
	Kind     Kind
	Item     string
	Template string
}

// Money returns the money reference.
func Money() Ref { return Ref{Kind: KindMoney} }

// Tool returns the tool-durability reference.
func Tool() Ref { return Ref{Kind: KindTool} }

// Item returns a reference to the item id.
func Item(id string) Ref { return Ref{Kind: KindItem, Item: id} }

// TemplateRef returns a reference to the named template.
func TemplateRef(name string) Ref { return Ref{Kind: KindTemplate, Template: name} }

// ParseRef resolves a resource type string.
//
// Accepted forms: "MONEY" and "TOOL" (case-insensitive), "template:<name>",
// "vanilla:<ITEM>" (normalised to upper case) and any other bare item id.
//
// Postcondition: returns a Ref with Kind != KindUnknown, or a non-nil error.
func ParseRef(s string) (Ref, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Ref{}, fmt.Errorf("resource type must not be empty")
	}
	switch strings.ToUpper(s) {
	case moneyKey:
		return Money(), nil
	case toolKey:
		return Tool(), nil
	}
	lower := strings.ToLower(s)
	switch {
	case strings.HasPrefix(lower, templatePrefix):
		name := strings.TrimSpace(s[len(templatePrefix):])
		if name == "" {
			return Ref{}, fmt.Errorf("resource type %q names no template", s)
		}
		return TemplateRef(name), nil
	case strings.HasPrefix(lower, vanillaPrefix):
		id := strings.ToUpper(strings.TrimSpace(s[len(vanillaPrefix):]))
		if id == "" {
			return Ref{}, fmt.Errorf("resource type %q names no item", s)
		}
		return Item(id), nil
	}
	if strings.ContainsAny(s, " \t") {
		return Ref{}, fmt.Errorf("resource type %q contains whitespace", s)
	}
	return Item(s), nil
}

// String returns the canonical type string for r.
func (r Ref) String() string {
	switch r.Kind {
	case KindMoney:
		return moneyKey
	case KindTool:
		return toolKey
	case KindItem:
		return r.Item
	case KindTemplate:
		return templatePrefix + r.Template
	default:
		return "UNKNOWN"
	}
}

// GroupPrefix marks a key as a named group alias, e.g. "group:LOGS".
const GroupPrefix = "group:"

// IsGroupKey reports whether key refers to a group alias.
func IsGroupKey(key string) bool {
	return strings.HasPrefix(strings.ToLower(key), GroupPrefix)
}

// Groups maps a group name to its member ids (block materials or tool item ids).
type Groups map[string][]string

// UnknownGroupError reports a group alias with no definition.
type UnknownGroupError struct {
	Name string
}

func (e *UnknownGroupError) Error() string {
	return fmt.Sprintf("unknown group %q", e.Name)
}

// Matcher accepts an exact id or any member of a group.
type Matcher struct {
	// Key is the key as written, e.g. "IRON_AXE" or "group:AXES".
	Key string
	ids map[string]bool
}

// ExactMatcher matches only id.
func ExactMatcher(id string) Matcher {
	return Matcher{Key: id, ids: map[string]bool{id: true}}
}

// Matcher resolves key against g.
//
// Postcondition: returns a *UnknownGroupError when key is a group alias not present in g.
func (g Groups) Matcher(key string) (Matcher, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return Matcher{}, fmt.Errorf("match key must not be empty")
	}
	if !IsGroupKey(key) {
		return ExactMatcher(key), nil
	}
	name := strings.TrimSpace(key[len(GroupPrefix):])
	members, ok := g[name]
	if !ok {
		return Matcher{}, &UnknownGroupError{Name: name}
	}
	ids := make(map[string]bool, len(members))
	for _, m := range members {
		ids[m] = true
	}
	return Matcher{Key: key, ids: ids}, nil
}

// Match reports whether id is accepted.
func (m Matcher) Match(id string) bool {
	return m.ids[id]
}

// Empty reports whether the matcher accepts nothing.
func (m Matcher) Empty() bool {
	return len(m.ids) == 0
}

// IDs returns the accepted ids in sorted order.
func (m Matcher) IDs() []string {
	out := make([]string, 0, len(m.ids))
	for id := range m.ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
