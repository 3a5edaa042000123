// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package param

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
)

// Type is the declared type of a parameter
type Type uint8

const (
	Bool Type = iota + 1
	Int32
	Float
	String
)

const (
	// IDSize is the significant length of a parameter identifier
	IDSize = 16
	// StringSize is the capacity of a string parameter
	StringSize = 16
)

func (t Type) String() string {
	switch t {
	case Bool:
		return "bool"
	case Int32:
		return "int32"
	case Float:
		return "float"
	case String:
		return "string"
	default:
		return fmt.Sprintf("type(%d)", uint8(t))
	}
}

// Value is a typed parameter value. The zero Value has no type.
type Value struct {
	typ Type
	b   bool
	i   int32
	f   float32
	s   string
}

// BoolValue creates a bool value
func BoolValue(b bool) Value {
	return Value{typ: Bool, b: b}
}

// Int32Value creates an int32 value
func Int32Value(i int32) Value {
	return Value{typ: Int32, i: i}
}

// FloatValue creates a float value
func FloatValue(f float32) Value {
	return Value{typ: Float, f: f}
}

// StringValue creates a string value truncated to StringSize bytes.
// Everything after an embedded NUL is dropped, as in a C buffer.
func StringValue(s string) Value {
	return Value{typ: String, s: clampString(s, StringSize)}
}

func clampString(s string, n int) string {
	for i := 0; i < len(s) && i < n; i++ {
		if s[i] == 0 {
			return s[:i]
		}
	}
	if len(s) > n {
		return s[:n]
	}
	return s
}

// Type returns the value type
func (v Value) Type() Type { return v.typ }

// IsValid reports whether the value carries a type
func (v Value) IsValid() bool { return v.typ >= Bool && v.typ <= String }

// AsBool returns the bool payload
func (v Value) AsBool() bool { return v.b }

// AsInt32 returns the int32 payload
func (v Value) AsInt32() int32 { return v.i }

// AsFloat returns the float payload
func (v Value) AsFloat() float32 { return v.f }

// AsString returns the string payload
func (v Value) AsString() string { return v.s }

// Equal compares type and payload. Floats compare bitwise so NaN equals NaN.
func (v Value) Equal(o Value) bool {
	if v.typ != o.typ {
		return false
	}
	switch v.typ {
	case Bool:
		return v.b == o.b
	case Int32:
		return v.i == o.i
	case Float:
		return math.Float32bits(v.f) == math.Float32bits(o.f)
	case String:
		return v.s == o.s
	}
	return true
}

// String formats the value for display
func (v Value) String() string {
	switch v.typ {
	case Bool:
		return strconv.FormatBool(v.b)
	case Int32:
		return strconv.FormatInt(int64(v.i), 10)
	case Float:
		return strconv.FormatFloat(float64(v.f), 'g', -1, 32)
	case String:
		return strconv.Quote(v.s)
	default:
		return "<none>"
	}
}

// ParseValue parses text as a value of type t
func ParseValue(t Type, text string) (Value, error) {
	switch t {
	case Bool:
		b, err := strconv.ParseBool(text)
		if err != nil {
			return Value{}, fmt.Errorf("invalid bool %q: %w", text, err)
		}
		return BoolValue(b), nil
	case Int32:
		i, err := strconv.ParseInt(text, 0, 32)
		if err != nil {
			return Value{}, fmt.Errorf("invalid int32 %q: %w", text, err)
		}
		return Int32Value(int32(i)), nil
	case Float:
		f, err := strconv.ParseFloat(text, 32)
		if err != nil {
			return Value{}, fmt.Errorf("invalid float %q: %w", text, err)
		}
		return FloatValue(float32(f)), nil
	case String:
		return StringValue(text), nil
	default:
		return Value{}, fmt.Errorf("unknown parameter type %d", t)
	}
}

// Canonical returns the checksum representation of the value: one type byte
// followed by the little-endian payload, strings NUL padded to StringSize.
func (v Value) Canonical() []byte {
	switch v.typ {
	case Bool:
		b := byte(0)
		if v.b {
			b = 1
		}
		return []byte{byte(Bool), b}
	case Int32:
		return binary.LittleEndian.AppendUint32([]byte{byte(Int32)}, uint32(v.i))
	case Float:
		return binary.LittleEndian.AppendUint32([]byte{byte(Float)}, math.Float32bits(v.f))
	case String:
		buf := make([]byte, 1+StringSize)
		buf[0] = byte(String)
		copy(buf[1:], v.s)
		return buf
	default:
		return []byte{0}
	}
}

// PadID returns the identifier NUL padded to IDSize bytes
func PadID(id string) [IDSize]byte {
	var out [IDSize]byte
	copy(out[:], NormalizeID(id))
	return out
}

// NormalizeID truncates an identifier to its significant IDSize bytes
func NormalizeID(id string) string {
	return clampString(id, IDSize)
}
