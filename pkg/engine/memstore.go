package engine

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/celerix-dev/chronovault/internal/ownerlock"
)

// MemStore is a thread-safe in-memory store. When a Persistence is attached
// every write reaches disk before it becomes visible in memory, so a failed
// save leaves the store exactly as it was.
type MemStore struct {
	mu sync.RWMutex
	// Structure: [owner][field]value
	data      map[string]map[string]json.RawMessage
	persister *Persistence
	writers   *ownerlock.Locker
}

// NewMemStore initializes a store from existing data (see Persistence.LoadAll)
// and an optional persister.
func NewMemStore(initialData map[string]map[string]json.RawMessage, p *Persistence) *MemStore {
	if initialData == nil {
		initialData = make(map[string]map[string]json.RawMessage)
	}
	return &MemStore{
		data:      initialData,
		persister: p,
		writers:   ownerlock.New(),
	}
}

func (m *MemStore) Get(owner, field string) (json.RawMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	fields, ok := m.data[owner]
	if !ok {
		return nil, ErrFieldNotFound
	}
	val, ok := fields[field]
	if !ok {
		return nil, ErrFieldNotFound
	}
	return cloneRaw(val), nil
}

func (m *MemStore) Put(owner, field string, val json.RawMessage) error {
	if err := checkKeys(owner, field); err != nil {
		return err
	}
	if err := checkValue(val); err != nil {
		return err
	}
	val = cloneRaw(val)

	unlock := m.writers.Lock(owner)
	defer unlock()

	if m.persister != nil {
		m.mu.RLock()
		next := m.copyOwnerData(owner)
		m.mu.RUnlock()
		if next == nil {
			next = make(map[string]json.RawMessage)
		}
		next[field] = val
		if err := m.persister.SaveOwner(owner, next); err != nil {
			return fmt.Errorf("persist %s/%s: %w", owner, field, err)
		}
	}

	m.mu.Lock()
	if m.data[owner] == nil {
		m.data[owner] = make(map[string]json.RawMessage)
	}
	m.data[owner][field] = val
	m.mu.Unlock()
	return nil
}

func (m *MemStore) Delete(owner, field string) error {
	unlock := m.writers.Lock(owner)
	defer unlock()

	m.mu.RLock()
	next := m.copyOwnerData(owner)
	m.mu.RUnlock()
	if next == nil {
		return nil
	}
	if _, ok := next[field]; !ok {
		return nil
	}
	delete(next, field)

	if m.persister != nil {
		var err error
		if len(next) == 0 {
			err = m.persister.DeleteOwner(owner)
		} else {
			err = m.persister.SaveOwner(owner, next)
		}
		if err != nil {
			return fmt.Errorf("persist delete %s/%s: %w", owner, field, err)
		}
	}

	m.mu.Lock()
	if len(next) == 0 {
		delete(m.data, owner)
	} else {
		delete(m.data[owner], field)
	}
	m.mu.Unlock()
	return nil
}

// Purge drops every field of owner.
func (m *MemStore) Purge(owner string) error {
	unlock := m.writers.Lock(owner)
	defer unlock()

	if m.persister != nil {
		if err := m.persister.DeleteOwner(owner); err != nil {
			return fmt.Errorf("purge %s: %w", owner, err)
		}
	}
	m.mu.Lock()
	delete(m.data, owner)
	m.mu.Unlock()
	return nil
}

// copyOwnerData creates a deep copy of an owner's fields.
// It MUST be called while holding m.mu.Lock or m.mu.RLock.
func (m *MemStore) copyOwnerData(owner string) map[string]json.RawMessage {
	original, ok := m.data[owner]
	if !ok {
		return nil
	}
	out := make(map[string]json.RawMessage, len(original))
	for k, v := range original {
		out[k] = cloneRaw(v)
	}
	return out
}

func (m *MemStore) Owners() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := make([]string, 0, len(m.data))
	for id := range m.data {
		list = append(list, id)
	}
	sort.Strings(list)
	return list, nil
}

func (m *MemStore) Fields(owner string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var list []string
	for field := range m.data[owner] {
		list = append(list, field)
	}
	sort.Strings(list)
	return list, nil
}

func (m *MemStore) Dump(owner string) (map[string]json.RawMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := m.copyOwnerData(owner)
	if out == nil {
		return nil, ErrOwnerNotFound
	}
	return out, nil
}
