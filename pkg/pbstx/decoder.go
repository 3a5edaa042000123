// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package pbstx

import (
	"fmt"
	"time"
)

// Decoder implements the PBStx receive state machine. Each byte advances the
// state by one transition. The start byte is only recognised between
// frames; inside a frame bytes are consumed by count, so payloads may
// contain the start byte value.
type Decoder struct {
	state    int
	seq      uint8
	length   int
	payload  []byte
	checksum uint16
	crc      uint16
}

// NewDecoder creates a new frame decoder
func NewDecoder() *Decoder {
	return &Decoder{
		state:   stateWaitStart,
		payload: make([]byte, 0, MaxPayloadSize),
	}
}

// Reset returns the decoder to WAIT_START, dropping any partial frame
func (d *Decoder) Reset() {
	d.state = stateWaitStart
	d.seq = 0
	d.length = 0
	d.payload = d.payload[:0]
	d.checksum = 0
	d.crc = 0
}

// InFrame reports whether a frame is partially received
func (d *Decoder) InFrame() bool {
	return d.state != stateWaitStart
}

// InPayload reports whether the decoder is reading payload bytes
func (d *Decoder) InPayload() bool {
	return d.state == statePayload
}

// DecodeByte processes a single byte through the decoder state machine.
// Returns a completed frame, or nil if the frame is incomplete.
// Returns an error on checksum mismatch or payload overflow.
func (d *Decoder) DecodeByte(b byte) (*Frame, error) {
	switch d.state {
	case stateWaitStart:
		if b == StartByte {
			d.Reset()
			d.state = stateSeq
		}
		return nil, nil

	case stateSeq:
		d.seq = b
		d.crc = UpdateCRC(0, []byte{b})
		d.state = stateLenLo
		return nil, nil

	case stateLenLo:
		d.length = int(b)
		d.crc = UpdateCRC(d.crc, []byte{b})
		d.state = stateLenHi
		return nil, nil

	case stateLenHi:
		d.length |= int(b) << 8
		d.crc = UpdateCRC(d.crc, []byte{b})
		if d.length > MaxPayloadSize {
			n := d.length
			d.Reset()
			return nil, fmt.Errorf("%w: length %d (max %d)", ErrOverflow, n, MaxPayloadSize)
		}
		if d.length == 0 {
			d.state = stateCRCLo
		} else {
			d.state = statePayload
		}
		return nil, nil

	case statePayload:
		d.payload = append(d.payload, b)
		if len(d.payload) >= d.length {
			d.crc = UpdateCRC(d.crc, d.payload)
			d.state = stateCRCLo
		}
		return nil, nil

	case stateCRCLo:
		d.checksum = uint16(b)
		d.state = stateCRCHi
		return nil, nil

	case stateCRCHi:
		d.checksum |= uint16(b) << 8
		if d.checksum != d.crc {
			err := &ChecksumError{Seq: d.seq, Expected: d.crc, Actual: d.checksum}
			d.Reset()
			return nil, err
		}

		frame := &Frame{
			Seq:       d.seq,
			Payload:   append([]byte(nil), d.payload...),
			Checksum:  d.checksum,
			Timestamp: time.Now(),
		}
		d.Reset()
		return frame, nil

	default:
		d.Reset()
		return nil, fmt.Errorf("invalid state: %d", d.state)
	}
}
