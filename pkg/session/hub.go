// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package session dispatches ECU messages between transports and the core.
//
// Every transport runs one Endpoint. The endpoint receives frames, decodes
// them and invokes the parameter store, the flash worker or the actuators;
// it also sends the periodic Status. The Hub owns the endpoint registry and
// broadcasts ParamValue and StatusText to every endpoint.
package session

import (
	"errors"
	"io"
	"sync"
	"time"

	"github.com/Thermoquad/miniecu/pkg/alert"
	"github.com/Thermoquad/miniecu/pkg/diag"
	"github.com/Thermoquad/miniecu/pkg/msgs"
	"github.com/Thermoquad/miniecu/pkg/param"
	"github.com/golang/glog"
)

// Parameters read by the dispatcher
const (
	ParamEngineID     = "ENGINE_ID"
	ParamStatusPeriod = "STATUS_PERIOD"
	ParamDebugADCRaw  = "DEBUG_ADC_RAW"
	ParamDebugMemdump = "DEBUG_MEMDUMP"
)

const (
	// DefaultMaxEndpoints is the number of transports served at once
	DefaultMaxEndpoints = 2
	// DefaultStatusPeriod applies when STATUS_PERIOD is missing
	DefaultStatusPeriod = time.Second
	// CommandTimeout bounds the wait for a flash operation
	CommandTimeout = time.Second
)

// ErrTooManyEndpoints is returned when the registry is full
var ErrTooManyEndpoints = errors.New("too many endpoints")

// Direction of a message relative to the ECU
type Direction uint8

const (
	Rx Direction = iota
	Tx
)

func (d Direction) String() string {
	if d == Tx {
		return "TX"
	}
	return "RX"
}

// Event describes one message that crossed an endpoint
type Event struct {
	Time      time.Time
	Direction Direction
	Endpoint  string
	Message   msgs.Message
	Payload   []byte
}

// Observer is notified of every message sent or received. Observe must not
// block.
type Observer interface {
	Observe(ev Event)
}

// ObserverFunc adapts a function to Observer
type ObserverFunc func(ev Event)

func (f ObserverFunc) Observe(ev Event) { f(ev) }

// Config wires the hub to its collaborators. Store is required; the rest
// default to inert implementations.
type Config struct {
	Store     *param.Store
	Alerts    *alert.Board
	Telemetry Telemetry
	Actuators Actuators
	Clock     Clock
	Flash     FlashController
	// Memory maps a dump type to the memory it reads
	Memory       map[msgs.MemoryType]io.ReaderAt
	MaxEndpoints int
}

// Hub is the endpoint registry and broadcast point
type Hub struct {
	store     *param.Store
	alerts    *alert.Board
	telemetry Telemetry
	actuators Actuators
	clock     Clock
	flash     FlashController
	memory    map[msgs.MemoryType]io.ReaderAt
	max       int

	mu        sync.RWMutex
	endpoints []*Endpoint
	observers []Observer
}

// NewHub creates a hub
func NewHub(cfg Config) *Hub {
	h := &Hub{
		store:     cfg.Store,
		alerts:    cfg.Alerts,
		telemetry: cfg.Telemetry,
		actuators: cfg.Actuators,
		clock:     cfg.Clock,
		flash:     cfg.Flash,
		memory:    cfg.Memory,
		max:       cfg.MaxEndpoints,
	}
	if h.alerts == nil {
		h.alerts = alert.NewBoard()
	}
	if h.telemetry == nil {
		h.telemetry = NoTelemetry{}
	}
	if h.actuators == nil {
		h.actuators = &Switches{}
	}
	if h.clock == nil {
		h.clock = NewSystemClock()
	}
	if h.max <= 0 {
		h.max = DefaultMaxEndpoints
	}
	return h
}

// Alerts returns the component health board
func (h *Hub) Alerts() *alert.Board {
	return h.alerts
}

// Actuators returns the actuator outputs
func (h *Hub) Actuators() Actuators {
	return h.actuators
}

// Clock returns the time source
func (h *Hub) Clock() Clock {
	return h.clock
}

// AddObserver registers an observer for all traffic
func (h *Hub) AddObserver(o Observer) {
	h.mu.Lock()
	h.observers = append(h.observers, o)
	h.mu.Unlock()
}

// Endpoints returns the names of the registered endpoints
func (h *Hub) Endpoints() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, len(h.endpoints))
	for i, e := range h.endpoints {
		names[i] = e.name
	}
	return names
}

func (h *Hub) register(e *Endpoint) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.endpoints) >= h.max {
		return ErrTooManyEndpoints
	}
	h.endpoints = append(h.endpoints, e)
	return nil
}

func (h *Hub) unregister(e *Endpoint) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, x := range h.endpoints {
		if x == e {
			h.endpoints = append(h.endpoints[:i], h.endpoints[i+1:]...)
			return
		}
	}
}

func (h *Hub) notify(ev Event) {
	h.mu.RLock()
	observers := h.observers
	h.mu.RUnlock()
	for _, o := range observers {
		o.Observe(ev)
	}
}

// Broadcast encodes m once and sends it to every endpoint. The last send
// error is returned.
func (h *Hub) Broadcast(m msgs.Message) error {
	h.mu.RLock()
	endpoints := append([]*Endpoint(nil), h.endpoints...)
	h.mu.RUnlock()

	payload := msgs.Encode(m)
	var last error
	for _, e := range endpoints {
		if err := e.sendPayload(m, payload); err != nil {
			last = err
		}
	}
	return last
}

// EngineID returns the current ENGINE_ID parameter
func (h *Hub) EngineID() uint32 {
	return uint32(h.store.Int32(ParamEngineID, 1))
}

func (h *Hub) statusPeriod() time.Duration {
	ms := h.store.Int32(ParamStatusPeriod, 0)
	if ms <= 0 {
		return DefaultStatusPeriod
	}
	return time.Duration(ms) * time.Millisecond
}

// Printf implements diag.Sink: the text is mirrored to glog and broadcast
// as StatusText
func (h *Hub) Printf(sev diag.Severity, format string, args ...interface{}) {
	diag.SinkFunc(func(sev diag.Severity, text string) {
		diag.Log.Printf(sev, "%s", text)
		if err := h.Broadcast(&msgs.StatusText{EngineID: h.EngineID(), Severity: sev, Text: text}); err != nil {
			glog.V(1).Infof("session: status text: %v", err)
		}
	}).Printf(sev, format, args...)
}
