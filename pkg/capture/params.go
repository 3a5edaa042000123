// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package capture

import (
	"fmt"
	"io"

	"github.com/Thermoquad/miniecu/pkg/param"
	"github.com/fxamacker/cbor/v2"
)

// Param is one exported parameter value. Exactly one value field is set.
type Param struct {
	ID     string   `cbor:"1,keyasint"`
	Bool   *bool    `cbor:"2,keyasint,omitempty"`
	Int32  *int32   `cbor:"3,keyasint,omitempty"`
	Float  *float32 `cbor:"4,keyasint,omitempty"`
	String *string  `cbor:"5,keyasint,omitempty"`
}

// NewParam wraps a value for export
func NewParam(id string, v param.Value) Param {
	p := Param{ID: id}
	switch v.Type() {
	case param.Bool:
		b := v.AsBool()
		p.Bool = &b
	case param.Int32:
		i := v.AsInt32()
		p.Int32 = &i
	case param.Float:
		f := v.AsFloat()
		p.Float = &f
	case param.String:
		s := v.AsString()
		p.String = &s
	}
	return p
}

// Value returns the typed value
func (p Param) Value() (param.Value, error) {
	switch {
	case p.Bool != nil:
		return param.BoolValue(*p.Bool), nil
	case p.Int32 != nil:
		return param.Int32Value(*p.Int32), nil
	case p.Float != nil:
		return param.FloatValue(*p.Float), nil
	case p.String != nil:
		return param.StringValue(*p.String), nil
	}
	return param.Value{}, fmt.Errorf("param %s: no value", p.ID)
}

// WriteParams writes a parameter file
func WriteParams(w io.Writer, params []Param) error {
	if err := cbor.NewEncoder(w).Encode(params); err != nil {
		return fmt.Errorf("write params: %w", err)
	}
	return nil
}

// ReadParams reads a parameter file
func ReadParams(r io.Reader) ([]Param, error) {
	var params []Param
	if err := cbor.NewDecoder(r).Decode(&params); err != nil {
		return nil, fmt.Errorf("read params: %w", err)
	}
	for _, p := range params {
		if _, err := p.Value(); err != nil {
			return nil, err
		}
	}
	return params, nil
}
