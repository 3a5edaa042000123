// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package pbstx

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Statistics tracks frame counters and error rates of one framer
type Statistics struct {
	mu sync.Mutex

	StartTime time.Time

	// Counters
	RxFrames       uint64
	TxFrames       uint64
	RxBytes        uint64
	TxBytes        uint64
	ChecksumErrors uint64
	Overflows      uint64
	Timeouts       uint64
	SeqGaps        uint64

	lastSeq uint8
	haveSeq bool

	// Rates (calculated)
	FrameRate float64 // frames/sec
	ErrorRate float64 // errors/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	return &Statistics{StartTime: time.Now()}
}

// Update records the outcome of one receive attempt
func (s *Statistics) Update(frame *Frame, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		var ce *ChecksumError
		switch {
		case errors.As(err, &ce):
			s.ChecksumErrors++
		case errors.Is(err, ErrOverflow):
			s.Overflows++
		case errors.Is(err, ErrTimeout):
			s.Timeouts++
		}
		return
	}
	if frame == nil {
		return
	}

	s.RxFrames++
	s.RxBytes += uint64(HeaderSize + len(frame.Payload) + ChecksumSize)

	// sequence numbers are advisory: gaps are counted, never rejected
	if s.haveSeq && frame.Seq != s.lastSeq+1 {
		s.SeqGaps++
	}
	s.lastSeq = frame.Seq
	s.haveSeq = true
}

// Sent records one transmitted frame
func (s *Statistics) Sent(payloadLen int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.TxFrames++
	s.TxBytes += uint64(HeaderSize + payloadLen + ChecksumSize)
}

// Snapshot returns a copy of the counters with rates calculated
func (s *Statistics) Snapshot() Statistics {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calculateRates()
	return Statistics{
		StartTime:      s.StartTime,
		RxFrames:       s.RxFrames,
		TxFrames:       s.TxFrames,
		RxBytes:        s.RxBytes,
		TxBytes:        s.TxBytes,
		ChecksumErrors: s.ChecksumErrors,
		Overflows:      s.Overflows,
		Timeouts:       s.Timeouts,
		SeqGaps:        s.SeqGaps,
		FrameRate:      s.FrameRate,
		ErrorRate:      s.ErrorRate,
	}
}

// Errors returns the number of rejected frames
func (s *Statistics) Errors() uint64 {
	return s.ChecksumErrors + s.Overflows
}

func (s *Statistics) calculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.FrameRate = float64(s.RxFrames) / elapsed
		s.ErrorRate = float64(s.ChecksumErrors+s.Overflows) / elapsed
	}
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	snap := s.Snapshot()
	total := snap.RxFrames + snap.Errors()

	var validPercent float64
	if total > 0 {
		validPercent = float64(snap.RxFrames) * 100.0 / float64(total)
	}

	elapsed := time.Since(snap.StartTime)

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("RX Frames:       %8d (%.1f%%)\n", snap.RxFrames, validPercent)
	result += fmt.Sprintf("TX Frames:       %8d\n", snap.TxFrames)
	result += fmt.Sprintf("RX/TX Bytes:     %8d / %d\n", snap.RxBytes, snap.TxBytes)

	if snap.ChecksumErrors > 0 {
		result += fmt.Sprintf("Checksum Errors: %8d\n", snap.ChecksumErrors)
	}
	if snap.Overflows > 0 {
		result += fmt.Sprintf("Overflows:       %8d\n", snap.Overflows)
	}
	if snap.Timeouts > 0 {
		result += fmt.Sprintf("Timeouts:        %8d\n", snap.Timeouts)
	}
	if snap.SeqGaps > 0 {
		result += fmt.Sprintf("Sequence Gaps:   %8d\n", snap.SeqGaps)
	}

	result += fmt.Sprintf("Frame Rate:      %8.1f frames/sec\n", snap.FrameRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/sec\n", snap.ErrorRate)
	result += "================================\n"

	return result
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.StartTime = time.Now()
	s.RxFrames = 0
	s.TxFrames = 0
	s.RxBytes = 0
	s.TxBytes = 0
	s.ChecksumErrors = 0
	s.Overflows = 0
	s.Timeouts = 0
	s.SeqGaps = 0
	s.haveSeq = false
	s.FrameRate = 0
	s.ErrorRate = 0
}
