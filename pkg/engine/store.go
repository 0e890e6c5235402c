// Package engine implements the per-owner keyed stores behind Chronovault:
// an in-memory store with write-through JSON file persistence, a SQL store
// built on bun, and migration and backup helpers between them.
//
// Every store maps an owner key and a field name to a JSON document. Writes
// are last-writer-wins per field; there are no cross-field transactions.
package engine

import (
	"encoding/json"
	"errors"
	"regexp"
)

var (
	// ErrOwnerNotFound is returned when a requested owner has no fields.
	ErrOwnerNotFound = errors.New("owner not found")
	// ErrFieldNotFound is returned when a requested field does not exist,
	// including when the owner itself is unknown.
	ErrFieldNotFound = errors.New("field not found")
	// ErrInvalidKey is returned for owner or field names outside [A-Za-z0-9_-].
	ErrInvalidKey = errors.New("invalid key")
	// ErrInvalidValue is returned when a value is not a JSON document.
	ErrInvalidValue = errors.New("invalid json value")
)

// Store is the contract every backend satisfies. The SDK re-exports it in
// segregated form.
type Store interface {
	Get(owner, field string) (json.RawMessage, error)
	Put(owner, field string, val json.RawMessage) error
	Delete(owner, field string) error
	Owners() ([]string, error)
	Fields(owner string) ([]string, error)
	Dump(owner string) (map[string]json.RawMessage, error)
	Purge(owner string) error
}

var keyPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// ValidKey reports whether s may be used as an owner or field name. Keys end
// up in file names, so separators and dots are rejected.
func ValidKey(s string) bool {
	return keyPattern.MatchString(s)
}

func checkKeys(owner, field string) error {
	if !ValidKey(owner) || !ValidKey(field) {
		return ErrInvalidKey
	}
	return nil
}

func checkValue(val json.RawMessage) error {
	if len(val) == 0 || !json.Valid(val) {
		return ErrInvalidValue
	}
	return nil
}

func cloneRaw(val json.RawMessage) json.RawMessage {
	out := make(json.RawMessage, len(val))
	copy(out, val)
	return out
}
