// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package msgs implements the ECU message set and its tagged-field codec.
//
// A payload is a top-level message holding exactly one variant as a
// length-delimited sub-message whose field number is the variant Tag.
// Decoding picks the first recognised variant and skips unknown fields.
package msgs

import (
	"google.golang.org/protobuf/encoding/protowire"
)

// Message is one of the message variants
type Message interface {
	Tag() Tag
	appendFields(b []byte) []byte
	decodeFields(b []byte) error
}

// Encode serializes a message. The output is deterministic.
func Encode(m Message) []byte {
	return Append(nil, m)
}

// Append appends the encoded message to b
func Append(b []byte, m Message) []byte {
	return appendBytes(b, protowire.Number(m.Tag()), m.appendFields(nil))
}

// New returns an empty message of the given variant, or nil
func New(t Tag) Message {
	switch t {
	case TagStatus:
		return &Status{}
	case TagCommand:
		return &Command{}
	case TagParamRequest:
		return &ParamRequest{}
	case TagParamSet:
		return &ParamSet{}
	case TagParamValue:
		return &ParamValue{}
	case TagStatusText:
		return &StatusText{}
	case TagTimeReference:
		return &TimeReference{}
	case TagMemoryDumpRequest:
		return &MemoryDumpRequest{}
	case TagMemoryDumpPage:
		return &MemoryDumpPage{}
	}
	return nil
}

// Decode parses a payload into its message variant. The first recognised
// variant wins; the remaining input must still be well formed.
func Decode(b []byte) (Message, error) {
	var msg Message
	err := walk("Message", b, func(f *field) {
		if msg != nil || f.typ != protowire.BytesType {
			return
		}
		if f.num > protowire.Number(TagMemoryDumpPage) {
			return
		}
		m := New(Tag(f.num))
		if m == nil {
			return
		}
		f.message(m)
		if f.err == nil {
			msg = m
		}
	})
	if err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, &DecodeError{Message: "Message", Err: ErrNoVariant}
	}
	return msg, nil
}

// DecodeType identifies the variant without decoding its fields
func DecodeType(b []byte) (Tag, error) {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return TagNone, &DecodeError{Message: "Message", Err: protowire.ParseError(n)}
		}
		b = b[n:]

		if typ == protowire.BytesType && num <= protowire.Number(TagMemoryDumpPage) {
			if New(Tag(num)) != nil {
				return Tag(num), nil
			}
		}

		n = protowire.ConsumeFieldValue(num, typ, b)
		if n < 0 {
			return TagNone, &DecodeError{Message: "Message", Field: int(num), Err: protowire.ParseError(n)}
		}
		b = b[n:]
	}
	return TagNone, &DecodeError{Message: "Message", Err: ErrNoVariant}
}

// EngineID returns the engine id carried by any variant
func EngineID(m Message) uint32 {
	switch v := m.(type) {
	case *Status:
		return v.EngineID
	case *Command:
		return v.EngineID
	case *ParamRequest:
		return v.EngineID
	case *ParamSet:
		return v.EngineID
	case *ParamValue:
		return v.EngineID
	case *StatusText:
		return v.EngineID
	case *TimeReference:
		return v.EngineID
	case *MemoryDumpRequest:
		return v.EngineID
	case *MemoryDumpPage:
		return v.EngineID
	}
	return 0
}
