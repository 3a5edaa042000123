// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package msgs

import (
	"errors"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

var (
	// ErrNoVariant is returned when a payload carries no known message
	ErrNoVariant = errors.New("no known message variant")
	// ErrWireType is returned when a known field uses the wrong wire type
	ErrWireType = errors.New("unexpected wire type")
	// ErrFieldTooLong is returned when a string or bytes field exceeds its capacity
	ErrFieldTooLong = errors.New("field exceeds declared size")
)

// DecodeError describes a malformed payload
type DecodeError struct {
	Message string
	Field   int
	Err     error
}

func (e *DecodeError) Error() string {
	if e.Field > 0 {
		return fmt.Sprintf("decode %s field %d: %v", e.Message, e.Field, e.Err)
	}
	return fmt.Sprintf("decode %s: %v", e.Message, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// field is the cursor handed to a decodeFields callback. A callback that
// recognises the field calls exactly one accessor; otherwise the value is
// skipped.
type field struct {
	num protowire.Number
	typ protowire.Type
	buf []byte
	n   int
	err error
}

func (f *field) fail(err error) {
	if f.err == nil {
		f.err = err
	}
	f.n = 0
}

func (f *field) varint() uint64 {
	if f.typ != protowire.VarintType {
		f.fail(ErrWireType)
		return 0
	}
	v, n := protowire.ConsumeVarint(f.buf)
	if n < 0 {
		f.fail(protowire.ParseError(n))
		return 0
	}
	f.n = n
	return v
}

func (f *field) uint32() uint32 { return uint32(f.varint()) }
func (f *field) uint64() uint64 { return f.varint() }
func (f *field) int32() int32   { return int32(f.varint()) }
func (f *field) int64() int64   { return int64(f.varint()) }
func (f *field) bool() bool     { return f.varint() != 0 }

func (f *field) float() float32 {
	if f.typ != protowire.Fixed32Type {
		f.fail(ErrWireType)
		return 0
	}
	v, n := protowire.ConsumeFixed32(f.buf)
	if n < 0 {
		f.fail(protowire.ParseError(n))
		return 0
	}
	f.n = n
	return math.Float32frombits(v)
}

// bytes consumes a length-delimited value; max < 0 means unbounded
func (f *field) bytes(max int) []byte {
	if f.typ != protowire.BytesType {
		f.fail(ErrWireType)
		return nil
	}
	v, n := protowire.ConsumeBytes(f.buf)
	if n < 0 {
		f.fail(protowire.ParseError(n))
		return nil
	}
	if max >= 0 && len(v) > max {
		f.fail(ErrFieldTooLong)
		return nil
	}
	f.n = n
	return v
}

func (f *field) string(max int) string {
	return string(f.bytes(max))
}

func (f *field) message(m interface{ decodeFields([]byte) error }) {
	b := f.bytes(-1)
	if f.err != nil {
		return
	}
	n := f.n
	if err := m.decodeFields(b); err != nil {
		f.fail(err)
		return
	}
	f.n = n
}

// walk iterates the fields of one message body
func walk(name string, b []byte, fn func(f *field)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return &DecodeError{Message: name, Err: protowire.ParseError(n)}
		}
		b = b[n:]

		f := field{num: num, typ: typ, buf: b, n: -1}
		fn(&f)
		if f.err != nil {
			return &DecodeError{Message: name, Field: int(num), Err: f.err}
		}
		if f.n < 0 {
			f.n = protowire.ConsumeFieldValue(num, typ, b)
			if f.n < 0 {
				return &DecodeError{Message: name, Field: int(num), Err: protowire.ParseError(f.n)}
			}
		}
		b = b[f.n:]
	}
	return nil
}

// Encoding helpers

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendInt32(b []byte, num protowire.Number, v int32) []byte {
	return appendVarint(b, num, uint64(int64(v)))
}

func appendInt64(b []byte, num protowire.Number, v int64) []byte {
	return appendVarint(b, num, uint64(v))
}

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	return appendVarint(b, num, protowire.EncodeBool(v))
}

func appendFloat(b []byte, num protowire.Number, v float32) []byte {
	b = protowire.AppendTag(b, num, protowire.Fixed32Type)
	return protowire.AppendFixed32(b, math.Float32bits(v))
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendString(b []byte, num protowire.Number, v string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

func appendMessage(b []byte, num protowire.Number, m interface{ appendFields([]byte) []byte }) []byte {
	return appendBytes(b, num, m.appendFields(nil))
}

// Ptr returns a pointer to v, for optional fields
func Ptr[T any](v T) *T {
	return &v
}
