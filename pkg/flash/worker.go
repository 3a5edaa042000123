// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package flash

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Thermoquad/miniecu/pkg/alert"
	"github.com/Thermoquad/miniecu/pkg/diag"
	"github.com/Thermoquad/miniecu/pkg/param"
	"github.com/golang/glog"
)

// ErrTimeout is returned by Do when the worker did not answer in time. The
// operation may still complete later.
var ErrTimeout = errors.New("flash operation timed out")

// Op is a request served by the flash worker
type Op uint8

const (
	OpLoad Op = iota + 1
	OpSave
	OpEraseConfig
	OpEraseLog
)

func (o Op) String() string {
	switch o {
	case OpLoad:
		return "LOAD"
	case OpSave:
		return "SAVE"
	case OpEraseConfig:
		return "ERASE_CONFIG"
	case OpEraseLog:
		return "ERASE_LOG"
	default:
		return fmt.Sprintf("OP(%d)", uint8(o))
	}
}

// Default worker timings
const (
	DefaultRetryInterval = time.Second
	DefaultTimeout       = time.Second
)

// WorkerConfig configures a Worker
type WorkerConfig struct {
	Engine        Config
	RetryInterval time.Duration
	Timeout       time.Duration
}

type request struct {
	op   Op
	done chan error
}

// Worker owns the flash device. It connects, loads the parameters once,
// then serves requests one at a time.
type Worker struct {
	dev    BlockDevice
	store  *param.Store
	cfg    WorkerConfig
	diag   diag.Sink
	alerts alert.Reporter

	reqs      chan request
	ready     chan struct{}
	readyOnce sync.Once
	connected atomic.Bool
	engine    atomic.Pointer[Engine]
	layout    *Layout
}

// NewWorker creates a worker; Run starts it
func NewWorker(dev BlockDevice, store *param.Store, cfg WorkerConfig, sink diag.Sink, alerts alert.Reporter) *Worker {
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = DefaultRetryInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if sink == nil {
		sink = diag.Log
	}
	if alerts == nil {
		alerts = alert.Discard
	}
	return &Worker{
		dev:    dev,
		store:  store,
		cfg:    cfg,
		diag:   sink,
		alerts: alerts,
		reqs:   make(chan request),
		ready:  make(chan struct{}),
	}
}

// Ready is closed once the device is connected and the initial load ran
func (w *Worker) Ready() <-chan struct{} {
	return w.ready
}

// Connected reports whether the device is connected
func (w *Worker) Connected() bool {
	return w.connected.Load()
}

// Engine returns the config partition engine, or nil before connect
func (w *Worker) Engine() *Engine {
	return w.engine.Load()
}

// Run connects to the device, retrying every RetryInterval, then serves
// requests until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.RetryInterval)
	defer ticker.Stop()

	for !w.connect() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case req := <-w.reqs:
			req.done <- ErrNotConnected
		}
	}
	ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req := <-w.reqs:
			req.done <- w.handle(req.op)
		}
	}
}

func (w *Worker) connect() bool {
	if c, ok := w.dev.(Connector); ok {
		if err := c.Connect(); err != nil {
			w.alerts.SetComponentStatus(alert.Flash, alert.Fail)
			w.diag.Printf(diag.Fail, "FLASH connection failed")
			glog.Warningf("flash: connect: %v", err)
			return false
		}
	}

	layout, err := NewLayout(w.dev)
	if err != nil {
		w.alerts.SetComponentStatus(alert.Flash, alert.Fail)
		w.diag.Printf(diag.Fail, "FLASH partition error")
		glog.Errorf("flash: %v", err)
		return false
	}
	w.layout = layout

	engine := NewEngine(layout.Config, w.store, w.cfg.Engine, w.diag, w.alerts)
	w.engine.Store(engine)
	w.connected.Store(true)
	w.alerts.SetComponentStatus(alert.Flash, alert.Normal)
	glog.Infof("flash: connected, %d pages of %d bytes", w.dev.PageCount(), w.dev.PageSize())

	report, err := engine.Load()
	switch {
	case errors.Is(err, ErrNoImage):
		glog.Infof("flash: no parameter image, using defaults")
	case err != nil:
		glog.Warningf("flash: load: %v", err)
	default:
		glog.Infof("flash: loaded image #%d: %d restored, %d corrupted, %d rejected",
			report.Counter, report.Restored, report.Corrupted, report.Rejected)
	}

	w.readyOnce.Do(func() { close(w.ready) })
	return true
}

func (w *Worker) handle(op Op) error {
	engine := w.engine.Load()
	glog.V(1).Infof("flash: %s", op)

	switch op {
	case OpLoad:
		_, err := engine.Load()
		return err
	case OpSave:
		return engine.Save()
	case OpEraseConfig:
		return engine.Erase()
	case OpEraseLog:
		for _, p := range []*Partition{w.layout.Error, w.layout.Log} {
			if err := p.EraseAll(); err != nil {
				w.alerts.SetComponentStatus(alert.Flash, alert.Fail)
				w.diag.Printf(diag.Fail, "%s erase error", p.Name)
				return fmt.Errorf("erase %s: %w", p.Name, err)
			}
		}
		w.diag.Printf(diag.Info, "log erased")
		return nil
	}
	return fmt.Errorf("unsupported flash operation %s", op)
}

// Do submits an operation and waits for its result, at most Timeout
func (w *Worker) Do(ctx context.Context, op Op) error {
	ctx, cancel := context.WithTimeout(ctx, w.cfg.Timeout)
	defer cancel()

	req := request{op: op, done: make(chan error, 1)}
	select {
	case w.reqs <- req:
	case <-ctx.Done():
		return ErrTimeout
	}

	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		return ErrTimeout
	}
}

// ChipPageSize returns the page size of the whole device
func (w *Worker) ChipPageSize() int {
	return w.dev.PageSize()
}

// ChipPages returns the number of pages of the whole device
func (w *Worker) ChipPages() int {
	return w.dev.PageCount()
}

// ReadChipPage reads a raw page of the whole device, bypassing partitions
func (w *Worker) ReadChipPage(page int, buf []byte) error {
	if !w.connected.Load() {
		return ErrNotConnected
	}
	return w.dev.ReadPage(page, buf)
}

// ReadAt implements io.ReaderAt over the raw chip, for memory dumps
func (w *Worker) ReadAt(p []byte, off int64) (int, error) {
	ps := int64(w.dev.PageSize())
	size := ps * int64(w.dev.PageCount())
	if off < 0 || off >= size {
		return 0, io.EOF
	}

	page := make([]byte, ps)
	n := 0
	for n < len(p) && off < size {
		if err := w.ReadChipPage(int(off/ps), page); err != nil {
			return n, err
		}
		c := copy(p[n:], page[off%ps:])
		n += c
		off += int64(c)
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}
