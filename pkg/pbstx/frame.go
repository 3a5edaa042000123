// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package pbstx

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrTimeout is returned when a byte does not arrive in time
	ErrTimeout = errors.New("pbstx: receive timeout")
	// ErrOverflow is returned for a declared length above MaxPayloadSize
	ErrOverflow = errors.New("pbstx: payload overflow")
	// ErrPayloadTooLarge is returned by Send for oversized payloads
	ErrPayloadTooLarge = errors.New("pbstx: payload too large")
)

// ChecksumError reports a frame whose CRC did not match
type ChecksumError struct {
	Seq      uint8
	Expected uint16
	Actual   uint16
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("pbstx: checksum mismatch (seq %d): expected 0x%04X, got 0x%04X",
		e.Seq, e.Expected, e.Actual)
}

// Frame is one validated wire unit
type Frame struct {
	Seq       uint8
	Payload   []byte
	Checksum  uint16
	Timestamp time.Time
}

// NewFrame creates a frame and computes its checksum
func NewFrame(seq uint8, payload []byte) *Frame {
	return &Frame{
		Seq:       seq,
		Payload:   payload,
		Checksum:  frameCRC(seq, payload),
		Timestamp: time.Now(),
	}
}

// Length returns the payload length
func (f *Frame) Length() int {
	return len(f.Payload)
}

// Encode serializes the frame for transmission
func (f *Frame) Encode() ([]byte, error) {
	if len(f.Payload) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(f.Payload))
	}
	return AppendFrame(make([]byte, 0, HeaderSize+len(f.Payload)+ChecksumSize), f.Seq, f.Payload), nil
}

// AppendFrame appends the wire form of (seq, payload) to buf. The caller
// guarantees len(payload) <= MaxPayloadSize.
func AppendFrame(buf []byte, seq uint8, payload []byte) []byte {
	buf = append(buf, StartByte, seq)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(payload)))
	buf = append(buf, payload...)
	return binary.LittleEndian.AppendUint16(buf, frameCRC(seq, payload))
}
