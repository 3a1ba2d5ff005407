package resource

import (
	"errors"
	"sync"
)

// ErrClosed is returned when inserting into a closed table.
var ErrClosed = errors.New("resource table closed")

// Table maps handles to host values. Freed slots are reused.
type Table struct {
	entries   []entry
	freeList  []Handle
	observers []Observer
	mu        sync.RWMutex
	obsMu     sync.RWMutex
	closed    bool
}

type entry struct {
	value any
	kind  Kind
	valid bool
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{
		entries:  make([]entry, 0, 64),
		freeList: make([]Handle, 0, 16),
	}
}

// Insert stores a value and returns its handle.
func (t *Table) Insert(kind Kind, value any) (Handle, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return Invalid, ErrClosed
	}

	e := entry{kind: kind, value: value, valid: true}
	var handle Handle
	if len(t.freeList) > 0 {
		handle = t.freeList[len(t.freeList)-1]
		t.freeList = t.freeList[:len(t.freeList)-1]
		t.entries[handle-1] = e
	} else {
		t.entries = append(t.entries, e)
		handle = Handle(len(t.entries))
	}
	t.mu.Unlock()

	t.notify(Event{Type: EventCreated, Handle: handle, Kind: kind, Value: value})
	return handle, nil
}

// Get retrieves a value by handle.
func (t *Table) Get(handle Handle) (any, bool) {
	e, ok := t.lookup(handle)
	if !ok {
		return nil, false
	}
	return e.value, true
}

// GetKind retrieves a value only if it was inserted with the given kind.
func (t *Table) GetKind(handle Handle, kind Kind) (any, bool) {
	e, ok := t.lookup(handle)
	if !ok || e.kind != kind {
		return nil, false
	}
	return e.value, true
}

// KindOf returns the kind of a live handle.
func (t *Table) KindOf(handle Handle) (Kind, bool) {
	e, ok := t.lookup(handle)
	if !ok {
		return 0, false
	}
	return e.kind, true
}

func (t *Table) lookup(handle Handle) (entry, bool) {
	if !handle.Valid() {
		return entry{}, false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	idx := int(handle) - 1
	if idx >= len(t.entries) {
		return entry{}, false
	}
	e := t.entries[idx]
	if !e.valid {
		return entry{}, false
	}
	return e, true
}

// Remove invalidates a handle and returns its value. Dropper values are
// dropped before observers are notified.
func (t *Table) Remove(handle Handle) (any, bool) {
	if !handle.Valid() {
		return nil, false
	}
	t.mu.Lock()
	idx := int(handle) - 1
	if idx >= len(t.entries) || !t.entries[idx].valid {
		t.mu.Unlock()
		return nil, false
	}
	e := t.entries[idx]
	t.entries[idx] = entry{}
	t.freeList = append(t.freeList, handle)
	t.mu.Unlock()

	if d, ok := e.value.(Dropper); ok {
		d.Drop()
	}
	t.notify(Event{Type: EventDropped, Handle: handle, Kind: e.kind, Value: e.value})
	return e.value, true
}

// Subscribe adds an observer for lifecycle events.
func (t *Table) Subscribe(o Observer) {
	t.obsMu.Lock()
	defer t.obsMu.Unlock()
	t.observers = append(t.observers, o)
}

// Unsubscribe removes an observer.
func (t *Table) Unsubscribe(o Observer) {
	t.obsMu.Lock()
	defer t.obsMu.Unlock()
	for i, obs := range t.observers {
		if obs == o {
			t.observers = append(t.observers[:i], t.observers[i+1:]...)
			return
		}
	}
}

// Len returns the number of live resources.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	count := 0
	for _, e := range t.entries {
		if e.valid {
			count++
		}
	}
	return count
}

// Each iterates over live resources until fn returns false.
func (t *Table) Each(fn func(Handle, Kind, any) bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for i, e := range t.entries {
		if e.valid {
			if !fn(Handle(i+1), e.kind, e.value) {
				break
			}
		}
	}
}

// Clear removes every live resource.
func (t *Table) Clear() {
	// Collect handles first to avoid holding lock during Remove
	var handles []Handle
	t.Each(func(h Handle, _ Kind, _ any) bool {
		handles = append(handles, h)
		return true
	})
	for _, h := range handles {
		t.Remove(h)
	}
}

// Close drops all resources and stops accepting inserts.
func (t *Table) Close() error {
	t.Clear()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.entries = nil
	t.freeList = nil
	return nil
}

func (t *Table) notify(e Event) {
	t.obsMu.RLock()
	defer t.obsMu.RUnlock()
	for _, o := range t.observers {
		o.OnResourceEvent(e)
	}
}

// Lookup retrieves a value of the given kind and asserts its Go type.
func Lookup[T any](t *Table, handle Handle, kind Kind) (T, bool) {
	var zero T
	v, ok := t.GetKind(handle, kind)
	if !ok {
		return zero, false
	}
	typed, ok := v.(T)
	if !ok {
		return zero, false
	}
	return typed, true
}
