package mockengine

import (
	"sync"

	"github.com/wippyai/testopt/abi"
)

// table maps engine handles to entities. Handles start at 1 and are never
// reused within a run, so a stale handle can never alias a newer entity.
type table struct {
	entries []entry
	mu      sync.RWMutex
}

type entry struct {
	value *Span
	kind  abi.Entity
	valid bool
}

func newTable() *table {
	return &table{entries: make([]entry, 0, 64)}
}

// Create stores an entity and returns its handle
func (t *table) Create(kind abi.Entity, value *Span) abi.ID {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.entries = append(t.entries, entry{kind: kind, value: value, valid: true})
	return abi.ID(len(t.entries))
}

// Get returns a live entity of the given kind
func (t *table) Get(id abi.ID, kind abi.Entity) (*Span, bool) {
	e, ok := t.lookup(id)
	if !ok || e.kind != kind {
		return nil, false
	}
	return e.value, true
}

// Any returns a live entity of any kind
func (t *table) Any(id abi.ID) (*Span, bool) {
	e, ok := t.lookup(id)
	if !ok {
		return nil, false
	}
	return e.value, true
}

func (t *table) lookup(id abi.ID) (entry, bool) {
	if id == abi.Invalid {
		return entry{}, false
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	idx := uint64(id) - 1
	if idx >= uint64(len(t.entries)) {
		return entry{}, false
	}
	e := t.entries[idx]
	if !e.valid {
		return entry{}, false
	}
	return e, true
}

// Entry returns an entity whether or not it is still live
func (t *table) Entry(id abi.ID) (*Span, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	idx := uint64(id) - 1
	if id == abi.Invalid || idx >= uint64(len(t.entries)) {
		return nil, false
	}
	return t.entries[idx].value, true
}

// Drop invalidates a live entity of the given kind
func (t *table) Drop(id abi.ID, kind abi.Entity) (*Span, bool) {
	if id == abi.Invalid {
		return nil, false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	idx := uint64(id) - 1
	if idx >= uint64(len(t.entries)) {
		return nil, false
	}
	e := &t.entries[idx]
	if !e.valid || e.kind != kind {
		return nil, false
	}
	e.valid = false
	return e.value, true
}

// Live returns the number of valid entries
func (t *table) Live() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, e := range t.entries {
		if e.valid {
			n++
		}
	}
	return n
}
