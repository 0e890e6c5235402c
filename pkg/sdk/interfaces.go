package sdk

import (
	"encoding/json"

	"github.com/celerix-dev/chronovault/pkg/engine"
)

// Errors shared with the engine so callers can match either with errors.Is.
var (
	// ErrOwnerNotFound is returned when a requested owner has no fields.
	ErrOwnerNotFound = engine.ErrOwnerNotFound
	// ErrFieldNotFound is returned when a requested field does not exist.
	ErrFieldNotFound = engine.ErrFieldNotFound
	// ErrInvalidKey is returned for malformed owner or field names.
	ErrInvalidKey = engine.ErrInvalidKey
	// ErrInvalidValue is returned when a value is not a JSON document.
	ErrInvalidValue = engine.ErrInvalidValue
)

// --- Functional Interfaces (Interface Segregation) ---

// KVReader reads a single owner field.
type KVReader interface {
	Get(owner, field string) (json.RawMessage, error)
}

// KVWriter writes and deletes single owner fields.
type KVWriter interface {
	Put(owner, field string, val json.RawMessage) error
	Delete(owner, field string) error
}

// OwnerEnumeration lists owners and their fields.
type OwnerEnumeration interface {
	Owners() ([]string, error)
	Fields(owner string) ([]string, error)
}

// BatchExporter works on all fields of an owner at once.
type BatchExporter interface {
	Dump(owner string) (map[string]json.RawMessage, error)
	Purge(owner string) error
}

// --- Composite Interfaces ---

// KVStore is the read-write subset the vault components work against.
type KVStore interface {
	KVReader
	KVWriter
}

// OwnerStore is the complete storage contract. Every engine backend and the
// remote Client satisfy it.
type OwnerStore interface {
	KVReader
	KVWriter
	OwnerEnumeration
	BatchExporter
}

var (
	_ OwnerStore = (*engine.MemStore)(nil)
	_ OwnerStore = (*engine.SQLStore)(nil)
	_ OwnerStore = (*Client)(nil)
	_ OwnerStore = engine.Store(nil)
)
