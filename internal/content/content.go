// Package content decodes structure, template and block-group content files.
// YAML (.yaml, .yml) and TOML (.toml) are accepted; every file is normalised to
// JSON-compatible values so that records can be schema-checked and bound to
// typed structs with a single set of json tags.
package content

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

// Supported reports whether path has a content file extension.
func Supported(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".toml":
		return true
	}
	return false
}

// Files returns the supported content files directly inside dir, sorted by name.
//
// Precondition: dir is a readable directory path.
// Postcondition: returns full paths, or a non-nil error if dir cannot be read.
func Files(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("content: cannot read directory %q: %w", dir, err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !Supported(e.Name()) {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	sort.Strings(out)
	return out, nil
}

// DecodeFile reads path and returns its contents as JSON-compatible values
// (map[string]any, []any, float64, string, bool, nil).
//
// Postcondition: returns the normalised document or a non-nil error.
func DecodeFile(path string) (any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("content: cannot read file %q: %w", path, err)
	}
	return Decode(filepath.Ext(path), data)
}

// Decode parses data according to ext (".yaml", ".yml" or ".toml").
func Decode(ext string, data []byte) (any, error) {
	var raw any
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("content: parsing yaml: %w", err)
		}
	case ".toml":
		var m map[string]any
		if _, err := toml.Decode(string(data), &m); err != nil {
			return nil, fmt.Errorf("content: parsing toml: %w", err)
		}
		raw = m
	default:
		return nil, fmt.Errorf("content: unsupported extension %q", ext)
	}
	return normalize(raw)
}

func normalize(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("content: document is not JSON-compatible: %w", err)
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("content: normalising document: %w", err)
	}
	return out, nil
}

// Records returns the records of doc. A document may be a list of records,
// a map holding the list under key, or a single record.
//
// Postcondition: returns a non-nil slice (possibly empty) or an error for a scalar document.
func Records(doc any, key string) ([]any, error) {
	switch d := doc.(type) {
	case nil:
		return []any{}, nil
	case []any:
		return d, nil
	case map[string]any:
		if len(d) == 0 {
			return []any{}, nil
		}
		if list, ok := d[key]; ok {
			items, ok := list.([]any)
			if !ok {
				return nil, fmt.Errorf("content: %q must be a list", key)
			}
			return items, nil
		}
		return []any{d}, nil
	default:
		return nil, fmt.Errorf("content: unexpected document of type %T", doc)
	}
}

// Bind decodes a normalised record into out using out's json tags.
// Unknown fields are rejected.
func Bind(record any, out any) error {
	b, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("content: encoding record: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("content: binding record: %w", err)
	}
	return nil
}

// Schema is a compiled JSON schema for one kind of content record.
type Schema struct {
	name   string
	schema *jsonschema.Schema
}

// CompileSchema compiles the JSON schema source src registered under name.
//
// Postcondition: returns a usable Schema or a non-nil error.
func CompileSchema(name, src string) (*Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(name, strings.NewReader(src)); err != nil {
		return nil, fmt.Errorf("content: adding schema %s: %w", name, err)
	}
	s, err := c.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("content: compiling schema %s: %w", name, err)
	}
	return &Schema{name: name, schema: s}, nil
}

// MustCompileSchema is CompileSchema for package-level schemas; it panics on error.
func MustCompileSchema(name, src string) *Schema {
	s, err := CompileSchema(name, src)
	if err != nil {
		panic(err)
	}
	return s
}

// Validate checks a normalised record against the schema.
func (s *Schema) Validate(record any) error {
	if err := s.schema.Validate(record); err != nil {
		return fmt.Errorf("content: %s: %w", s.name, err)
	}
	return nil
}
