// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package pbstx

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/Thermoquad/miniecu/pkg/alert"
	"github.com/golang/glog"
)

// Framer sends and receives frames over a raw duplex byte stream
type Framer struct {
	HeaderTimeout  time.Duration
	PayloadTimeout time.Duration

	rw     io.ReadWriter
	alerts alert.Reporter
	stats  *Statistics

	txMu  sync.Mutex
	txSeq uint8
	txBuf []byte

	rxMu      sync.Mutex
	decoder   *Decoder
	pending   []byte
	startOnce sync.Once
	chunks    chan []byte
	readErr   chan error
	err       error
	done      chan struct{}
	closeOnce sync.Once
}

// NewFramer wraps a byte stream. Reporter may be nil.
func NewFramer(rw io.ReadWriter, reporter alert.Reporter) *Framer {
	if reporter == nil {
		reporter = alert.Discard
	}
	return &Framer{
		HeaderTimeout:  HeaderTimeout,
		PayloadTimeout: PayloadTimeout,
		rw:             rw,
		alerts:         reporter,
		stats:          NewStatistics(),
		txBuf:          make([]byte, 0, MaxFrameSize),
		decoder:        NewDecoder(),
		chunks:         make(chan []byte),
		readErr:        make(chan error, 1),
		done:           make(chan struct{}),
	}
}

// Statistics returns the framer counters
func (f *Framer) Statistics() *Statistics {
	return f.stats
}

// Close stops the background reader. The underlying stream is left open;
// its owner closes it to unblock a pending Read.
func (f *Framer) Close() {
	f.closeOnce.Do(func() { close(f.done) })
}

// Send frames payload with the next sequence number and writes it in a
// single Write. Concurrent senders are serialized.
func (f *Framer) Send(payload []byte) error {
	if len(payload) > MaxPayloadSize {
		return fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(payload))
	}

	f.txMu.Lock()
	defer f.txMu.Unlock()

	f.txBuf = AppendFrame(f.txBuf[:0], f.txSeq, payload)
	f.txSeq++
	if _, err := f.rw.Write(f.txBuf); err != nil {
		return fmt.Errorf("pbstx: write: %w", err)
	}
	f.stats.Sent(len(payload))
	return nil
}

// Receive blocks until a valid frame arrives, a byte read times out or the
// stream fails. While no frame is in progress the whole call is bounded by
// HeaderTimeout. Inside a frame each byte must arrive within HeaderTimeout,
// or PayloadTimeout for payload bytes; a timeout drops the partial frame.
//
// Checksum and overflow failures are returned as errors so the caller can
// report them; the framer is ready for the next frame afterwards.
func (f *Framer) Receive(ctx context.Context) (*Frame, error) {
	f.rxMu.Lock()
	defer f.rxMu.Unlock()

	f.startOnce.Do(func() { go f.readLoop() })

	idle := time.NewTimer(f.HeaderTimeout)
	defer idle.Stop()

	for {
		for len(f.pending) > 0 {
			b := f.pending[0]
			f.pending = f.pending[1:]

			frame, err := f.decoder.DecodeByte(b)
			if err != nil {
				f.stats.Update(nil, err)
				f.alerts.SetComponentStatus(alert.Comm, alert.Fail)
				return nil, err
			}
			if frame != nil {
				f.stats.Update(frame, nil)
				f.alerts.SetComponentStatus(alert.Comm, alert.Normal)
				if glog.V(3) {
					glog.Infof("pbstx: rx seq=%d len=%d", frame.Seq, len(frame.Payload))
				}
				return frame, nil
			}
		}

		if f.err != nil {
			return nil, f.err
		}

		var timeout <-chan time.Time
		var byteTimer *time.Timer
		if f.decoder.InFrame() {
			d := f.HeaderTimeout
			if f.decoder.InPayload() {
				d = f.PayloadTimeout
			}
			byteTimer = time.NewTimer(d)
			timeout = byteTimer.C
		} else {
			timeout = idle.C
		}

		select {
		case chunk := <-f.chunks:
			f.pending = chunk
		case err := <-f.readErr:
			f.err = err
		case <-timeout:
			if f.decoder.InFrame() {
				f.decoder.Reset()
				f.stats.Update(nil, ErrTimeout)
				f.alerts.SetComponentStatus(alert.Comm, alert.Fail)
			}
			return nil, ErrTimeout
		case <-ctx.Done():
			if byteTimer != nil {
				byteTimer.Stop()
			}
			return nil, ctx.Err()
		}
		if byteTimer != nil {
			byteTimer.Stop()
		}
	}
}

func (f *Framer) readLoop() {
	buf := make([]byte, MaxFrameSize)
	for {
		n, err := f.rw.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			select {
			case f.chunks <- chunk:
			case <-f.done:
				return
			}
		}
		if err != nil {
			select {
			case f.readErr <- err:
			case <-f.done:
			}
			return
		}
	}
}
