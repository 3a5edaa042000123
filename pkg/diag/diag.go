// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package diag carries human-readable ECU diagnostics.
//
// Diagnostics are emitted by the parameter store, the flash engine and the
// dispatcher. A Sink decides where they go: the session hub broadcasts them
// as StatusText messages, the Log sink writes them through glog.
package diag

import (
	"fmt"
	"strings"
	"sync"

	"github.com/golang/glog"
)

// Severity of a diagnostic message. Values match the StatusText wire enum.
type Severity uint8

const (
	Debug Severity = iota
	Info
	Warn
	Error
	Fail
)

// MaxTextLength is the longest diagnostic text carried on the wire
const MaxTextLength = 64

func (s Severity) String() string {
	switch s {
	case Debug:
		return "DEBUG"
	case Info:
		return "INFO"
	case Warn:
		return "WARN"
	case Error:
		return "ERROR"
	case Fail:
		return "FAIL"
	default:
		return fmt.Sprintf("SEVERITY(%d)", uint8(s))
	}
}

// ParseSeverity converts a severity name (case-insensitive) to a Severity
func ParseSeverity(name string) (Severity, error) {
	for s := Debug; s <= Fail; s++ {
		if strings.EqualFold(s.String(), name) {
			return s, nil
		}
	}
	return Debug, fmt.Errorf("unknown severity: %q", name)
}

// Sink receives diagnostics
type Sink interface {
	Printf(sev Severity, format string, args ...interface{})
}

// SinkFunc adapts a function to the Sink interface
type SinkFunc func(sev Severity, text string)

// Printf implements Sink
func (f SinkFunc) Printf(sev Severity, format string, args ...interface{}) {
	f(sev, Truncate(fmt.Sprintf(format, args...)))
}

// Truncate limits text to MaxTextLength bytes without splitting a UTF-8 rune
func Truncate(text string) string {
	if len(text) <= MaxTextLength {
		return text
	}
	cut := MaxTextLength
	for cut > 0 && !isRuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

// Log writes diagnostics through glog
var Log Sink = SinkFunc(logText)

func logText(sev Severity, text string) {
	switch sev {
	case Debug:
		glog.V(1).Infof("diag: %s", text)
	case Info:
		glog.Infof("diag: %s", text)
	case Warn:
		glog.Warningf("diag: %s", text)
	default:
		glog.Errorf("diag: %s: %s", sev, text)
	}
}

// Multi fans a diagnostic out to several sinks
func Multi(sinks ...Sink) Sink {
	return multiSink(sinks)
}

type multiSink []Sink

func (m multiSink) Printf(sev Severity, format string, args ...interface{}) {
	for _, s := range m {
		if s != nil {
			s.Printf(sev, format, args...)
		}
	}
}

// Entry is one recorded diagnostic
type Entry struct {
	Severity Severity
	Text     string
}

// Recorder keeps diagnostics in memory. Tests use it to assert on output.
type Recorder struct {
	mu      sync.Mutex
	entries []Entry
}

// Printf implements Sink
func (r *Recorder) Printf(sev Severity, format string, args ...interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, Entry{Severity: sev, Text: Truncate(fmt.Sprintf(format, args...))})
}

// Entries returns a copy of the recorded diagnostics
func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Entry(nil), r.entries...)
}

// Contains reports whether any recorded text contains substr
func (r *Recorder) Contains(substr string) bool {
	for _, e := range r.Entries() {
		if strings.Contains(e.Text, substr) {
			return true
		}
	}
	return false
}

// Relay forwards to a sink attached after construction. Components that
// are built before the session hub log through a Relay.
type Relay struct {
	mu   sync.RWMutex
	sink Sink
}

// Attach sets the destination sink
func (r *Relay) Attach(s Sink) {
	r.mu.Lock()
	r.sink = s
	r.mu.Unlock()
}

// Printf implements Sink. Without a destination it falls back to Log.
func (r *Relay) Printf(sev Severity, format string, args ...interface{}) {
	r.mu.RLock()
	s := r.sink
	r.mu.RUnlock()
	if s == nil {
		s = Log
	}
	s.Printf(sev, format, args...)
}
