// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package pbstx

import "time"

// Wire constants
const (
	StartByte      = 0xAE
	MaxPayloadSize = 256
	HeaderSize     = 4 // start, seq, len (2)
	ChecksumSize   = 2
	MaxFrameSize   = HeaderSize + MaxPayloadSize + ChecksumSize
)

// Receive timeouts
const (
	HeaderTimeout  = 100 * time.Millisecond
	PayloadTimeout = 500 * time.Millisecond
)

// Decoder states
const (
	stateWaitStart = iota
	stateSeq
	stateLenLo
	stateLenHi
	statePayload
	stateCRCLo
	stateCRCHi
)
