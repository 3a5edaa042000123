// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package param implements the typed ECU parameter table.
//
// The table is declared once as a slice of Entry descriptors. Values live in
// an arena owned by the Store and are only touched through Get/Set, which
// serializes writers across endpoints.
package param

import (
	"fmt"
	"math"
	"sync"

	"github.com/Thermoquad/miniecu/pkg/diag"
)

// Flags are per-entry attribute bits
type Flags uint8

const (
	// ReadOnly entries reject external writes
	ReadOnly Flags = 1 << 0
	// NoSave entries are excluded from flash persistence
	NoSave Flags = 1 << 1
)

func (f Flags) String() string {
	switch f & (ReadOnly | NoSave) {
	case ReadOnly:
		return "ro"
	case NoSave:
		return "nosave"
	case ReadOnly | NoSave:
		return "ro,nosave"
	default:
		return "-"
	}
}

// ChangeHandler is notified after a value has been stored. It returns the
// value that stays in effect, which lets it reject or normalize the update.
// Handlers may read the store but must not call Set.
type ChangeHandler interface {
	OnChange(id string, old, v Value) Value
}

// ChangeFunc adapts a function to ChangeHandler
type ChangeFunc func(id string, old, v Value) Value

// OnChange implements ChangeHandler
func (f ChangeFunc) OnChange(id string, old, v Value) Value {
	return f(id, old, v)
}

// Entry describes one parameter
type Entry struct {
	ID       string
	Type     Type
	Default  Value
	Min      Value
	Max      Value
	Flags    Flags
	OnChange ChangeHandler
}

// Int32Entry declares a bounded int32 parameter
func Int32Entry(id string, def, min, max int32, onChange ChangeHandler) Entry {
	return Entry{ID: id, Type: Int32, Default: Int32Value(def), Min: Int32Value(min), Max: Int32Value(max), OnChange: onChange}
}

// FloatEntry declares a bounded float parameter
func FloatEntry(id string, def, min, max float32, onChange ChangeHandler) Entry {
	return Entry{ID: id, Type: Float, Default: FloatValue(def), Min: FloatValue(min), Max: FloatValue(max), OnChange: onChange}
}

// BoolEntry declares a bool parameter
func BoolEntry(id string, def bool, onChange ChangeHandler) Entry {
	return Entry{ID: id, Type: Bool, Default: BoolValue(def), OnChange: onChange}
}

// StringEntry declares a string parameter
func StringEntry(id string, def string, onChange ChangeHandler) Entry {
	return Entry{ID: id, Type: String, Default: StringValue(def), OnChange: onChange}
}

// WithFlags returns a copy of the entry with flags set
func (e Entry) WithFlags(f Flags) Entry {
	e.Flags |= f
	return e
}

// Handle indexes an entry in declaration order
type Handle int

// Store holds the parameter table and its values
type Store struct {
	entries []Entry
	index   map[string]Handle
	diag    diag.Sink

	setMu sync.Mutex // serializes Set including its change handler

	mu     sync.RWMutex
	values []Value
}

// NewStore validates the table and creates a store. Values start at their
// defaults; call Init to run read-only initializers.
func NewStore(entries []Entry, sink diag.Sink) (*Store, error) {
	if sink == nil {
		sink = diag.Log
	}
	s := &Store{
		entries: make([]Entry, len(entries)),
		index:   make(map[string]Handle, len(entries)),
		values:  make([]Value, len(entries)),
		diag:    sink,
	}
	copy(s.entries, entries)

	for i, e := range s.entries {
		if e.ID == "" || len(e.ID) > IDSize {
			return nil, fmt.Errorf("entry %d: invalid id %q", i, e.ID)
		}
		if _, dup := s.index[e.ID]; dup {
			return nil, fmt.Errorf("entry %d: duplicate id %q", i, e.ID)
		}
		if e.Default.Type() != e.Type {
			return nil, fmt.Errorf("entry %s: default is %s, want %s", e.ID, e.Default.Type(), e.Type)
		}
		if e.Type == Int32 || e.Type == Float {
			if e.Min.Type() != e.Type || e.Max.Type() != e.Type {
				return nil, fmt.Errorf("entry %s: missing %s limits", e.ID, e.Type)
			}
		}
		s.index[e.ID] = Handle(i)
		s.values[i] = e.Default
	}
	return s, nil
}

// Init applies every default in table order. Read-only entries with a change
// handler then get one handler call to compute their derived value.
func (s *Store) Init() {
	s.setMu.Lock()
	defer s.setMu.Unlock()

	for i, e := range s.entries {
		s.mu.Lock()
		s.values[i] = e.Default
		s.mu.Unlock()

		if e.Flags&ReadOnly != 0 && e.OnChange != nil {
			v := e.OnChange.OnChange(e.ID, e.Default, e.Default)
			if v.Type() == e.Type {
				s.mu.Lock()
				s.values[i] = v
				s.mu.Unlock()
			}
		}
	}
}

// Count returns the number of entries
func (s *Store) Count() int {
	return len(s.entries)
}

// Entry returns the descriptor at index i
func (s *Store) Entry(i int) (Entry, error) {
	if i < 0 || i >= len(s.entries) {
		return Entry{}, ErrNotFound
	}
	return s.entries[i], nil
}

// Flags returns the flags of entry i
func (s *Store) Flags(i int) (Flags, error) {
	if i < 0 || i >= len(s.entries) {
		return 0, ErrNotFound
	}
	return s.entries[i].Flags, nil
}

// Lookup finds the handle of an identifier. Only the first IDSize bytes are
// significant and matching is case-sensitive.
func (s *Store) Lookup(id string) (Handle, bool) {
	h, ok := s.index[NormalizeID(id)]
	return h, ok
}

// Get returns the current value and index of a parameter
func (s *Store) Get(id string) (Value, int, error) {
	h, ok := s.Lookup(id)
	if !ok {
		return Value{}, 0, ErrNotFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.values[h], int(h), nil
}

// GetByIndex returns the identifier and value at index i
func (s *Store) GetByIndex(i int) (string, Value, error) {
	if i < 0 || i >= len(s.entries) {
		return "", Value{}, ErrNotFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries[i].ID, s.values[i], nil
}

// Set validates and stores a value, then runs the change handler.
func (s *Store) Set(id string, v Value) error {
	h, ok := s.Lookup(id)
	if !ok {
		return &SetError{ID: NormalizeID(id), Err: ErrNotFound}
	}
	e := &s.entries[h]

	if e.Flags&ReadOnly != 0 {
		s.diag.Printf(diag.Error, "read only: %s", e.ID)
		return &SetError{ID: e.ID, Err: ErrReadOnly}
	}

	nv, err := e.coerce(v)
	if err != nil {
		if err == ErrWrongType {
			s.diag.Printf(diag.Error, "wrong type: %s", e.ID)
		} else {
			s.diag.Printf(diag.Error, "out of range: %s", e.ID)
		}
		return &SetError{ID: e.ID, Err: err}
	}

	s.setMu.Lock()
	defer s.setMu.Unlock()

	s.mu.Lock()
	old := s.values[h]
	s.values[h] = nv
	s.mu.Unlock()

	if e.OnChange != nil {
		final := e.OnChange.OnChange(e.ID, old, nv)
		if final.Type() == e.Type && !final.Equal(nv) {
			s.mu.Lock()
			s.values[h] = final
			s.mu.Unlock()
		}
	}
	return nil
}

// Assign stores a value without the read-only check or the change handler.
// The owner of a derived read-only entry uses it to publish updates.
func (s *Store) Assign(id string, v Value) error {
	h, ok := s.Lookup(id)
	if !ok {
		return ErrNotFound
	}
	if v.Type() != s.entries[h].Type {
		return ErrWrongType
	}
	s.mu.Lock()
	s.values[h] = v
	s.mu.Unlock()
	return nil
}

// coerce checks v against the entry type and limits
func (e *Entry) coerce(v Value) (Value, error) {
	switch e.Type {
	case Bool:
		switch v.Type() {
		case Bool:
			return v, nil
		case Int32:
			return BoolValue(v.AsInt32() != 0), nil
		}
	case Int32:
		if v.Type() == Int32 {
			if v.AsInt32() < e.Min.AsInt32() || v.AsInt32() > e.Max.AsInt32() {
				return Value{}, ErrOutOfRange
			}
			return v, nil
		}
	case Float:
		if v.Type() == Float {
			f := v.AsFloat()
			if math.IsNaN(float64(f)) || f < e.Min.AsFloat() || f > e.Max.AsFloat() {
				return Value{}, ErrOutOfRange
			}
			return v, nil
		}
	case String:
		if v.Type() == String {
			return v, nil
		}
	}
	return Value{}, ErrWrongType
}

// Int32 returns an int32 parameter, or def when missing or mistyped
func (s *Store) Int32(id string, def int32) int32 {
	v, _, err := s.Get(id)
	if err != nil || v.Type() != Int32 {
		return def
	}
	return v.AsInt32()
}

// Float returns a float parameter, or def when missing or mistyped
func (s *Store) Float(id string, def float32) float32 {
	v, _, err := s.Get(id)
	if err != nil || v.Type() != Float {
		return def
	}
	return v.AsFloat()
}

// Bool returns a bool parameter, or def when missing or mistyped
func (s *Store) Bool(id string, def bool) bool {
	v, _, err := s.Get(id)
	if err != nil || v.Type() != Bool {
		return def
	}
	return v.AsBool()
}

// String returns a string parameter, or def when missing or mistyped
func (s *Store) String(id string, def string) string {
	v, _, err := s.Get(id)
	if err != nil || v.Type() != String {
		return def
	}
	return v.AsString()
}
