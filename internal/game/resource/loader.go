package resource

import (
	_ "embed"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/cory-johannsen/townworks/internal/content"
)

//go:embed template.schema.json
var templateSchemaSource string

var templateSchema = content.MustCompileSchema("template.schema.json", templateSchemaSource)

// InvalidEntryError reports a template entry or group record rejected at load.
type InvalidEntryError struct {
	File   string
	Record string
	Index  int
	Err    error
}

func (e *InvalidEntryError) Error() string {
	return fmt.Sprintf("%s: %s entry %d: %v", e.File, e.Record, e.Index, e.Err)
}

func (e *InvalidEntryError) Unwrap() error { return e.Err }

// EntryRecord is the on-disk shape of one resource entry.
type EntryRecord struct {
	Type       string `json:"type"`
	Amount     *int   `json:"amount,omitempty"`
	Min        *int   `json:"min,omitempty"`
	Max        *int   `json:"max,omitempty"`
	Durability int    `json:"durability,omitempty"`
	Weight     *int   `json:"weight,omitempty"`
	ToolType   string `json:"tool_type,omitempty"`
}

// ResolveEntry converts rec into a validated Entry.
//
// A fixed amount sets Min and Max; a missing max defaults to min; a missing or
// zero weight defaults to 1. For TOOL entries a missing durability falls back to amount.
//
// Postcondition: returns a valid Entry or a non-nil error.
func ResolveEntry(rec EntryRecord, groups Groups) (Entry, error) {
	ref, err := ParseRef(rec.Type)
	if err != nil {
		return Entry{}, err
	}
	e := Entry{Ref: ref, Weight: 1}
	if rec.Weight != nil {
		if *rec.Weight < 0 {
			return Entry{}, fmt.Errorf("weight %d must not be negative", *rec.Weight)
		}
		if *rec.Weight > 0 {
			e.Weight = *rec.Weight
		}
	}
	switch ref.Kind {
	case KindTool:
		e.Durability = rec.Durability
		if e.Durability == 0 && rec.Amount != nil {
			e.Durability = *rec.Amount
		}
		if rec.ToolType == "" {
			return Entry{}, fmt.Errorf("tool entry requires a tool_type")
		}
		m, err := groups.Matcher(rec.ToolType)
		if err != nil {
			return Entry{}, err
		}
		e.Tool = m
	default:
		switch {
		case rec.Amount != nil:
			e.Min, e.Max = *rec.Amount, *rec.Amount
		case rec.Min != nil:
			e.Min = *rec.Min
			e.Max = e.Min
			if rec.Max != nil {
				e.Max = *rec.Max
			}
		case rec.Max != nil:
			e.Max = *rec.Max
		default:
			return Entry{}, fmt.Errorf("entry %q has no amount", rec.Type)
		}
	}
	if err := e.Validate(); err != nil {
		return Entry{}, err
	}
	return e, nil
}

type templateRecord struct {
	Name            string        `json:"name"`
	Description     string        `json:"description"`
	RandomSelection bool          `json:"random_selection"`
	Resources       []EntryRecord `json:"resources"`
}

// LoadTemplates reads every content file in dir into a TemplateStore.
//
// Records failing the schema, duplicate names and invalid entries are logged at
// warn level and skipped; a template keeps its remaining valid entries.
//
// Precondition: dir must be a readable directory; logger must not be nil.
// Postcondition: returns a store (possibly empty) or an error if dir cannot be read.
func LoadTemplates(dir string, groups Groups, logger *zap.Logger) (*TemplateStore, error) {
	files, err := content.Files(dir)
	if err != nil {
		return nil, fmt.Errorf("resource: loading templates: %w", err)
	}
	store := NewTemplateStore()
	for _, path := range files {
		loadTemplateFile(store, path, groups, logger)
	}
	logger.Info("resource templates loaded", zap.Int("count", store.Len()), zap.String("dir", dir))
	return store, nil
}

func loadTemplateFile(store *TemplateStore, path string, groups Groups, logger *zap.Logger) {
	doc, err := content.DecodeFile(path)
	if err != nil {
		logger.Warn("skipping template file", zap.String("file", path), zap.Error(err))
		return
	}
	records, err := content.Records(doc, "templates")
	if err != nil {
		logger.Warn("skipping template file", zap.String("file", path), zap.Error(err))
		return
	}
	for i, raw := range records {
		if err := templateSchema.Validate(raw); err != nil {
			logger.Warn("skipping invalid template", zap.String("file", path), zap.Int("record", i), zap.Error(err))
			continue
		}
		var rec templateRecord
		if err := content.Bind(raw, &rec); err != nil {
			logger.Warn("skipping invalid template", zap.String("file", path), zap.Int("record", i), zap.Error(err))
			continue
		}
		t := &Template{Name: rec.Name, Description: rec.Description, RandomSelection: rec.RandomSelection}
		for j, er := range rec.Resources {
			e, err := ResolveEntry(er, groups)
			if err != nil {
				logger.Warn("skipping template entry",
					zap.Error(&InvalidEntryError{File: path, Record: rec.Name, Index: j, Err: err}))
				continue
			}
			t.Entries = append(t.Entries, e)
		}
		if err := store.Register(t); err != nil {
			logger.Warn("skipping template", zap.String("file", path), zap.String("template", rec.Name), zap.Error(err))
		}
	}
}

// LoadGroups reads named groups from path. The document is either a map of
// group name to member list or such a map under the "groups" key.
// An empty path yields no groups.
//
// Postcondition: returns groups with sorted, de-duplicated members or a non-nil error.
func LoadGroups(path string) (Groups, error) {
	if path == "" {
		return Groups{}, nil
	}
	doc, err := content.DecodeFile(path)
	if err != nil {
		return nil, fmt.Errorf("resource: loading groups: %w", err)
	}
	return ParseGroups(doc)
}

// ParseGroups converts a normalised content document into Groups.
func ParseGroups(doc any) (Groups, error) {
	if doc == nil {
		return Groups{}, nil
	}
	m, ok := doc.(map[string]any)
	if !ok {
		return nil, errors.New("resource: groups document must be a map")
	}
	if inner, ok := m["groups"].(map[string]any); ok {
		m = inner
	}
	out := make(Groups, len(m))
	for name, v := range m {
		list, ok := v.([]any)
		if !ok {
			return nil, fmt.Errorf("resource: group %q must be a list", name)
		}
		seen := make(map[string]bool, len(list))
		members := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok || s == "" {
				return nil, fmt.Errorf("resource: group %q has a non-string member", name)
			}
			if !seen[s] {
				seen[s] = true
				members = append(members, s)
			}
		}
		sort.Strings(members)
		out[name] = members
	}
	return out, nil
}
