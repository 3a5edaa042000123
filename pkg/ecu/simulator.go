// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ecu

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/Thermoquad/miniecu/pkg/msgs"
	"github.com/Thermoquad/miniecu/pkg/param"
	"github.com/Thermoquad/miniecu/pkg/session"
)

// Simulation constants
const (
	SimPeriod = 100 * time.Millisecond

	ambientTemp   = 20.0   // °C
	runningTemp   = 90.0   // °C
	cpuTemp       = 38.0   // °C
	cpuOverheat   = 90.0   // °C
	crankRPM      = 1500.0 // starter speed
	idleRPM       = 5000.0
	startRPM      = 800.0 // engine catches above this with ignition on
	highRPM       = 10000
	tankML        = 1000.0
	lowFuelPct    = 10
	starterSag    = 0.25
	rpmTau        = time.Second
	thermalTau    = 30 * time.Second
	adcFullScale  = 4095
	adcRefVoltage = 3.3
)

// nominal cell voltage per chemistry
var nominalCellVoltage = map[string]float64{
	BattNiMH:    1.22,
	BattNiCd:    1.2,
	BattLiIon:   3.7,
	BattLiPo:    3.8,
	BattLiFePo:  3.3,
	BattPb:      2.1,
	BattUnknown: 1.2,
}

// NiMH and NiCd remaining capacity is mapped linearly between these cell
// voltages
const (
	nimhMinV = 1.15
	nimhMaxV = 1.25
)

// Simulator models the engine sensors and actuators. It implements
// session.Telemetry and session.Actuators.
type Simulator struct {
	session.Switches

	mu        sync.Mutex
	store     *param.Store
	battery   string
	oilSensor bool

	running    bool
	rpm        float64
	engineTemp float64
	fuelFlow   float64 // ml/min
	fuelUsed   float64 // ml
}

// NewSimulator creates a cold, stopped engine with a NiMH battery
func NewSimulator() *Simulator {
	return &Simulator{
		battery:    BattNiMH,
		engineTemp: ambientTemp,
	}
}

// attach binds the parameters the model reads
func (s *Simulator) attach(store *param.Store) {
	s.mu.Lock()
	s.store = store
	s.mu.Unlock()
}

func (s *Simulator) setBattery(name string) {
	s.mu.Lock()
	s.battery = name
	s.mu.Unlock()
}

func (s *Simulator) setOilSensor(on bool) {
	s.mu.Lock()
	s.oilSensor = on
	s.mu.Unlock()
}

// Battery returns the active chemistry
func (s *Simulator) Battery() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.battery
}

// Run advances the model every SimPeriod until ctx is done
func (s *Simulator) Run(ctx context.Context) error {
	t := time.NewTicker(SimPeriod)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			s.Step(SimPeriod)
		}
	}
}

// approach moves v towards target with time constant tau
func approach(v, target float64, dt, tau time.Duration) float64 {
	k := float64(dt) / float64(tau)
	if k > 1 {
		k = 1
	}
	return v + (target-v)*k
}

// Step advances the model by dt
func (s *Simulator) Step(dt time.Duration) {
	ign, starter := s.Ignition(), s.Starter()

	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case !ign:
		s.running = false
	case s.rpm >= startRPM:
		s.running = true
	}

	target := 0.0
	switch {
	case s.running:
		target = idleRPM
	case starter:
		target = crankRPM
	}
	s.rpm = approach(s.rpm, target, dt, rpmTau)
	if s.rpm < 1 {
		s.rpm = 0
	}

	tempTarget := ambientTemp
	if s.running {
		tempTarget = runningTemp
	}
	s.engineTemp = approach(s.engineTemp, tempTarget, dt, thermalTau)

	s.fuelFlow = 0
	if s.running {
		s.fuelFlow = 20 + s.rpm/250
		s.fuelUsed = math.Min(tankML, s.fuelUsed+s.fuelFlow*dt.Minutes())
	}
}

func (s *Simulator) int32Param(id string, def int32) int32 {
	if s.store == nil {
		return def
	}
	return s.store.Int32(id, def)
}

func (s *Simulator) floatParam(id string, def float32) float64 {
	if s.store == nil {
		return float64(def)
	}
	return float64(s.store.Float(id, def))
}

// adcVoltage is the battery voltage behind the VD1 diode, in V
func (s *Simulator) adcVoltage() float64 {
	cells := float64(s.int32Param(ParamBattCells, 4))
	v := cells*nominalCellVoltage[s.battery] - s.floatParam(ParamBattVD1Drop, 0.45)
	if s.Starter() {
		v *= 1 - starterSag
	}
	return math.Max(v, 0)
}

func (s *Simulator) voltage() float64 {
	return s.adcVoltage() + s.floatParam(ParamBattVD1Drop, 0.45)
}

func (s *Simulator) fuelRemaining() uint32 {
	return uint32((tankML - s.fuelUsed) * 100 / tankML)
}

// ============================================================
// session.Telemetry
// ============================================================

func (s *Simulator) RPM() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return uint32(s.rpm)
}

func (s *Simulator) EngineRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Simulator) HighRPM() bool {
	return s.RPM() > highRPM
}

func (s *Simulator) BatteryVoltage() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return uint32(math.Round(s.voltage() * 1000))
}

// BatteryRemaining is only known for NiMH and NiCd packs
func (s *Simulator) BatteryRemaining() (uint32, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.battery != BattNiMH && s.battery != BattNiCd {
		return 0, false
	}

	cell := s.voltage() / float64(s.int32Param(ParamBattCells, 4))
	switch {
	case cell > nimhMaxV:
		return 100, true
	case cell < nimhMinV:
		return 0, true
	}
	return uint32(math.Round((cell - nimhMinV) * 100 / (nimhMaxV - nimhMinV))), true
}

func (s *Simulator) Undervoltage() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	min, ok := minCellVoltage[s.battery]
	if !ok {
		return false
	}
	return float64(min)*float64(s.int32Param(ParamBattCells, 4)) > s.voltage()
}

func (s *Simulator) EngineTemperature() int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int32(s.engineTemp * 1000)
}

// OilTemperature is reported in NTC10k mode only
func (s *Simulator) OilTemperature() (int32, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.oilSensor {
		return 0, false
	}
	return int32((ambientTemp + (s.engineTemp-ambientTemp)*0.9) * 1000), true
}

func (s *Simulator) CPUTemperature() int32 {
	return cpuTemp * 1000
}

func (s *Simulator) Overheat() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engineTemp > s.floatParam(ParamTempOverheat, 250) || cpuTemp > cpuOverheat
}

func (s *Simulator) Fuel() (msgs.Fuel, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return msgs.Fuel{
		FlowMl:      uint32(s.fuelFlow),
		TotalUsedMl: uint32(s.fuelUsed),
		Remaining:   msgs.Ptr(s.fuelRemaining()),
	}, true
}

func (s *Simulator) LowFuel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fuelRemaining() < lowFuelPct
}

func adcCounts(v float64) uint32 {
	c := v / adcRefVoltage * adcFullScale
	return uint32(math.Max(0, math.Min(adcFullScale, c)))
}

// ADCRaw reports converter counts as seen behind the input dividers
func (s *Simulator) ADCRaw() msgs.ADCRaw {
	s.mu.Lock()
	defer s.mu.Unlock()
	return msgs.ADCRaw{
		Temp:    adcCounts(s.engineTemp / 100 * adcRefVoltage),
		Flow:    adcCounts(s.fuelFlow / 100 * adcRefVoltage),
		BattV:   adcCounts(s.adcVoltage() / 6),
		RTCBatt: adcCounts(3.0 / 2),
	}
}
