package structure

import (
	"errors"
	"fmt"
)

// ErrInstanceNotFound is returned when an instance id is not registered.
var ErrInstanceNotFound = errors.New("structure: instance not found")

// InvalidDefinitionError reports a malformed definition record or field.
// The offending field is skipped; an empty Field means the whole record was rejected.
type InvalidDefinitionError struct {
	File       string
	Definition string
	Field      string
	Err        error
}

func (e *InvalidDefinitionError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: definition %q: %v", e.File, e.Definition, e.Err)
	}
	return fmt.Sprintf("%s: definition %q field %s: %v", e.File, e.Definition, e.Field, e.Err)
}

func (e *InvalidDefinitionError) Unwrap() error { return e.Err }

// StorageIOError reports a failed persistence operation. In-memory state stays
// authoritative until the next successful save.
type StorageIOError struct {
	Op  string
	ID  string
	Err error
}

func (e *StorageIOError) Error() string {
	return fmt.Sprintf("structure: %s %s: %v", e.Op, e.ID, e.Err)
}

func (e *StorageIOError) Unwrap() error { return e.Err }
