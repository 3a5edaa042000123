// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package ecu assembles the ECU core: the parameter table, the simulated
// sensors, the flash worker and the session hub.
package ecu

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/Thermoquad/miniecu/pkg/alert"
	"github.com/Thermoquad/miniecu/pkg/diag"
	"github.com/Thermoquad/miniecu/pkg/flash"
	"github.com/Thermoquad/miniecu/pkg/msgs"
	"github.com/Thermoquad/miniecu/pkg/param"
	"github.com/Thermoquad/miniecu/pkg/session"
	"github.com/golang/glog"
)

// Options configures an ECU
type Options struct {
	Table TableOptions
	// Device is the external flash chip; nil runs without persistence
	Device flash.BlockDevice
	// Flash timings; the engine format is always FormatVersion
	Flash        flash.WorkerConfig
	MaxEndpoints int
	Clock        session.Clock
	// Diag receives diagnostics in addition to the endpoints
	Diag diag.Sink
}

// ECU is one running engine control unit
type ECU struct {
	Store     *param.Store
	Alerts    *alert.Board
	Simulator *Simulator
	Flash     *flash.Worker
	Hub       *session.Hub
}

// New builds an ECU. Nothing runs until Run is called.
func New(opts Options) (*ECU, error) {
	relay := &diag.Relay{}
	sim := NewSimulator()

	store, err := param.NewStore(Table(opts.Table, sim, relay), relay)
	if err != nil {
		return nil, fmt.Errorf("parameter table: %w", err)
	}
	store.Init()
	sim.attach(store)

	e := &ECU{
		Store:     store,
		Alerts:    alert.NewBoard(),
		Simulator: sim,
	}

	memory := map[msgs.MemoryType]io.ReaderAt{
		msgs.MemoryRAM: &paramRAM{store: store},
	}
	cfg := session.Config{
		Store:        store,
		Alerts:       e.Alerts,
		Telemetry:    sim,
		Actuators:    sim,
		Clock:        opts.Clock,
		Memory:       memory,
		MaxEndpoints: opts.MaxEndpoints,
	}

	if opts.Device != nil {
		wc := opts.Flash
		wc.Engine = flash.Config{Version: FormatVersion, CounterID: ParamSaveCount}
		e.Flash = flash.NewWorker(opts.Device, store, wc, relay, e.Alerts)
		cfg.Flash = e.Flash
		memory[msgs.MemoryFlash] = e.Flash
	}

	e.Hub = session.NewHub(cfg)
	if opts.Diag != nil {
		relay.Attach(diag.Multi(e.Hub, opts.Diag))
	} else {
		relay.Attach(e.Hub)
	}
	return e, nil
}

// Run drives the simulator and the flash worker until ctx is done
func (e *ECU) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	run := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && ctx.Err() == nil {
				glog.Errorf("ecu: %s: %v", name, err)
			}
		}()
	}

	run("simulator", e.Simulator.Run)
	if e.Flash != nil {
		run("flash", e.Flash.Run)
	}

	glog.Infof("ecu: running, engine id %d", e.Hub.EngineID())
	wg.Wait()
	return ctx.Err()
}

// Serve runs an endpoint over rw until ctx is done or the stream fails
func (e *ECU) Serve(ctx context.Context, name string, rw io.ReadWriter) error {
	return e.Hub.NewEndpoint(name, rw).Run(ctx)
}

// paramRAM exposes the parameter values the way they are laid out in
// memory: the padded id followed by the canonical value of each entry
type paramRAM struct {
	store *param.Store
}

func (r *paramRAM) image() []byte {
	var b []byte
	for i := 0; i < r.store.Count(); i++ {
		id, v, err := r.store.GetByIndex(i)
		if err != nil {
			break
		}
		pid := param.PadID(id)
		b = append(b, pid[:]...)
		b = append(b, v.Canonical()...)
	}
	return b
}

func (r *paramRAM) ReadAt(p []byte, off int64) (int, error) {
	img := r.image()
	if off < 0 || off >= int64(len(img)) {
		return 0, io.EOF
	}
	n := copy(p, img[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}
