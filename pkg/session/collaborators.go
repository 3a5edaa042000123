// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Thermoquad/miniecu/pkg/flash"
	"github.com/Thermoquad/miniecu/pkg/msgs"
)

// Telemetry exposes the current sensor readings. The dispatcher polls it
// when building a Status message.
type Telemetry interface {
	RPM() uint32
	EngineRunning() bool
	HighRPM() bool

	// BatteryVoltage in mV
	BatteryVoltage() uint32
	BatteryRemaining() (percent uint32, ok bool)
	Undervoltage() bool

	// Temperatures in m°C
	EngineTemperature() int32
	OilTemperature() (int32, bool)
	CPUTemperature() int32
	Overheat() bool

	Fuel() (msgs.Fuel, bool)
	LowFuel() bool

	ADCRaw() msgs.ADCRaw
}

// Actuators drives the ignition and starter outputs
type Actuators interface {
	SetIgnition(on bool)
	SetStarter(on bool)
	Ignition() bool
	Starter() bool
}

// Clock provides the timestamps reported to the host
type Clock interface {
	// Known reports whether wall-clock time was set
	Known() bool
	// Timestamp returns Unix time in ms when known, uptime otherwise
	Timestamp() uint64
	// Uptime in ms
	Uptime() uint32
	// SetTimestamp sets wall-clock time and returns the applied correction
	SetTimestamp(ms uint64) int64
}

// FlashController runs flash operations on the flash worker
type FlashController interface {
	Do(ctx context.Context, op flash.Op) error
}

// ============================================================
// Default collaborators
// ============================================================

// Switches latches the actuator outputs in memory
type Switches struct {
	ignition atomic.Bool
	starter  atomic.Bool
}

func (s *Switches) SetIgnition(on bool) { s.ignition.Store(on) }
func (s *Switches) SetStarter(on bool)  { s.starter.Store(on) }
func (s *Switches) Ignition() bool      { return s.ignition.Load() }
func (s *Switches) Starter() bool       { return s.starter.Load() }

// SystemClock counts uptime from its creation and keeps a wall-clock
// offset once the host sent a time reference
type SystemClock struct {
	mu     sync.Mutex
	start  time.Time
	offset time.Duration
	known  bool
	now    func() time.Time
}

// NewSystemClock starts a clock at the current time
func NewSystemClock() *SystemClock {
	return newClock(time.Now)
}

func newClock(now func() time.Time) *SystemClock {
	return &SystemClock{start: now(), now: now}
}

func (c *SystemClock) Known() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.known
}

func (c *SystemClock) Uptime() uint32 {
	return uint32(c.now().Sub(c.start).Milliseconds())
}

func (c *SystemClock) Timestamp() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if !c.known {
		return uint64(now.Sub(c.start).Milliseconds())
	}
	return uint64(now.Add(c.offset).UnixMilli())
}

// SetTimestamp returns the difference between ms and the previous
// wall-clock time, or 0 when time was unknown
func (c *SystemClock) SetTimestamp(ms uint64) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	var diff int64
	if c.known {
		diff = int64(ms) - now.Add(c.offset).UnixMilli()
	}
	c.offset = time.UnixMilli(int64(ms)).Sub(now)
	c.known = true
	return diff
}

// NoTelemetry reports zero readings and no optional values
type NoTelemetry struct{}

func (NoTelemetry) RPM() uint32                      { return 0 }
func (NoTelemetry) EngineRunning() bool              { return false }
func (NoTelemetry) HighRPM() bool                    { return false }
func (NoTelemetry) BatteryVoltage() uint32           { return 0 }
func (NoTelemetry) BatteryRemaining() (uint32, bool) { return 0, false }
func (NoTelemetry) Undervoltage() bool               { return false }
func (NoTelemetry) EngineTemperature() int32         { return 0 }
func (NoTelemetry) OilTemperature() (int32, bool)    { return 0, false }
func (NoTelemetry) CPUTemperature() int32            { return 0 }
func (NoTelemetry) Overheat() bool                   { return false }
func (NoTelemetry) Fuel() (msgs.Fuel, bool)          { return msgs.Fuel{}, false }
func (NoTelemetry) LowFuel() bool                    { return false }
func (NoTelemetry) ADCRaw() msgs.ADCRaw              { return msgs.ADCRaw{} }
