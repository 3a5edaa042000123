// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package param

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned for an unknown identifier or index
	ErrNotFound = errors.New("parameter not found")
	// ErrWrongType is returned when a value does not match the declared type
	ErrWrongType = errors.New("wrong parameter type")
	// ErrOutOfRange is returned when a numeric value is outside [min, max]
	ErrOutOfRange = errors.New("parameter out of range")
	// ErrReadOnly is returned for writes to read-only entries. It matches
	// ErrOutOfRange with errors.Is.
	ErrReadOnly = fmt.Errorf("read-only parameter: %w", ErrOutOfRange)
)

// SetError describes a rejected Set
type SetError struct {
	ID  string
	Err error
}

func (e *SetError) Error() string {
	return fmt.Sprintf("%s: %v", e.ID, e.Err)
}

func (e *SetError) Unwrap() error {
	return e.Err
}
