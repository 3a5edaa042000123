// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package capture stores ECU traffic and parameter snapshots as CBOR.
//
// A capture file is a CBOR sequence: one Record per message, appended as it
// crosses an endpoint. A parameter file is a single CBOR array of Param.
package capture

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/Thermoquad/miniecu/pkg/msgs"
	"github.com/Thermoquad/miniecu/pkg/session"
	"github.com/fxamacker/cbor/v2"
)

// Record is one captured message
type Record struct {
	Time      int64  `cbor:"1,keyasint"` // Unix time in µs
	Direction uint8  `cbor:"2,keyasint"`
	Endpoint  string `cbor:"3,keyasint,omitempty"`
	EngineID  uint32 `cbor:"4,keyasint"`
	Tag       uint8  `cbor:"5,keyasint"`
	Payload   []byte `cbor:"6,keyasint"`
}

// NewRecord captures an endpoint event
func NewRecord(ev session.Event) Record {
	return Record{
		Time:      ev.Time.UnixMicro(),
		Direction: uint8(ev.Direction),
		Endpoint:  ev.Endpoint,
		EngineID:  msgs.EngineID(ev.Message),
		Tag:       uint8(ev.Message.Tag()),
		Payload:   append([]byte(nil), ev.Payload...),
	}
}

// Timestamp returns the capture time
func (r *Record) Timestamp() time.Time {
	return time.UnixMicro(r.Time)
}

// Message decodes the captured payload
func (r *Record) Message() (msgs.Message, error) {
	return msgs.Decode(r.Payload)
}

// Format renders the record for humans
func (r *Record) Format() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s %s %s engine=%d len=%d\n",
		r.Timestamp().Format("15:04:05.000"),
		session.Direction(r.Direction), r.Endpoint, msgs.Tag(r.Tag), r.EngineID, len(r.Payload))

	m, err := r.Message()
	if err != nil {
		fmt.Fprintf(&b, "  INVALID: %v\n", err)
		return b.String()
	}
	b.WriteString(msgs.FormatMessage(m))
	return b.String()
}

// Recorder appends records to a capture stream. It implements
// session.Observer; write errors are kept and reported by Err and Close.
type Recorder struct {
	mu    sync.Mutex
	w     *bufio.Writer
	enc   *cbor.Encoder
	c     io.Closer
	count int
	err   error
}

// NewRecorder writes to w. When w is an io.Closer, Close closes it.
func NewRecorder(w io.Writer) *Recorder {
	bw := bufio.NewWriter(w)
	r := &Recorder{w: bw, enc: cbor.NewEncoder(bw)}
	if c, ok := w.(io.Closer); ok {
		r.c = c
	}
	return r
}

// Observe implements session.Observer. Failures surface through Err.
func (r *Recorder) Observe(ev session.Event) {
	_ = r.Write(NewRecord(ev))
}

// ErrClosed is returned by Write after Close
var ErrClosed = errors.New("recorder closed")

// Write appends one record
func (r *Recorder) Write(rec Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.enc == nil {
		return ErrClosed
	}
	if r.err != nil {
		return r.err
	}
	if err := r.enc.Encode(rec); err != nil {
		r.err = fmt.Errorf("capture: %w", err)
		return r.err
	}
	r.count++
	return nil
}

// Flush writes buffered records
func (r *Recorder) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.enc == nil {
		return ErrClosed
	}
	if err := r.w.Flush(); err != nil && r.err == nil {
		r.err = fmt.Errorf("capture: %w", err)
	}
	return r.err
}

// Count returns the number of records written
func (r *Recorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Err returns the first write error
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Close flushes and closes the stream
func (r *Recorder) Close() error {
	err := r.Flush()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enc = nil
	if r.c != nil {
		if cerr := r.c.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// Reader reads records from a capture stream
type Reader struct {
	dec *cbor.Decoder
}

// NewReader reads from r
func NewReader(r io.Reader) *Reader {
	return &Reader{dec: cbor.NewDecoder(bufio.NewReader(r))}
}

// Next returns the next record, or io.EOF at the end of the stream
func (r *Reader) Next() (*Record, error) {
	var rec Record
	if err := r.dec.Decode(&rec); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("capture: record: %w", err)
	}
	return &rec, nil
}
