// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package alert tracks per-component health of the ECU.
//
// Components report their status as a side channel: the framer on checksum
// failures, the flash worker on connect and write failures. The board keeps
// the latest status per component and derives the ERROR status flag.
package alert

import (
	"fmt"
	"strings"
	"sync"

	"github.com/golang/glog"
)

// Component identifies a reporting subsystem
type Component uint8

const (
	Comm Component = iota
	ADC
	Flash
	componentCount
)

// Status is the health state of a component
type Status uint8

const (
	Init Status = iota
	Normal
	Fail
)

func (c Component) String() string {
	switch c {
	case Comm:
		return "COMM"
	case ADC:
		return "ADC"
	case Flash:
		return "FLASH"
	default:
		return fmt.Sprintf("COMPONENT(%d)", uint8(c))
	}
}

func (s Status) String() string {
	switch s {
	case Init:
		return "INIT"
	case Normal:
		return "NORMAL"
	case Fail:
		return "FAIL"
	default:
		return fmt.Sprintf("STATUS(%d)", uint8(s))
	}
}

// Reporter receives component health updates
type Reporter interface {
	SetComponentStatus(c Component, s Status)
}

// Board holds the latest status of every component
type Board struct {
	mu       sync.RWMutex
	statuses [componentCount]Status
	changes  uint64
}

// NewBoard creates a board with every component in Init
func NewBoard() *Board {
	return &Board{}
}

// SetComponentStatus records a component status. Transitions are logged.
func (b *Board) SetComponentStatus(c Component, s Status) {
	if c >= componentCount {
		return
	}

	b.mu.Lock()
	prev := b.statuses[c]
	b.statuses[c] = s
	if prev != s {
		b.changes++
	}
	b.mu.Unlock()

	if prev != s {
		if s == Fail {
			glog.Warningf("alert: %s %s -> %s", c, prev, s)
		} else {
			glog.V(1).Infof("alert: %s %s -> %s", c, prev, s)
		}
	}
}

// ComponentStatus returns the last reported status of a component
func (b *Board) ComponentStatus(c Component) Status {
	if c >= componentCount {
		return Init
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.statuses[c]
}

// CheckError reports whether any component is failing
func (b *Board) CheckError() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.statuses {
		if s == Fail {
			return true
		}
	}
	return false
}

// String formats all component states on one line
func (b *Board) String() string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	parts := make([]string, 0, componentCount)
	for c := Component(0); c < componentCount; c++ {
		parts = append(parts, fmt.Sprintf("%s=%s", c, b.statuses[c]))
	}
	return strings.Join(parts, " ")
}

// Discard is a Reporter that drops every update
var Discard Reporter = discard{}

type discard struct{}

func (discard) SetComponentStatus(Component, Status) {}
