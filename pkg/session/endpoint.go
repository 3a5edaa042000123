// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/Thermoquad/miniecu/pkg/alert"
	"github.com/Thermoquad/miniecu/pkg/msgs"
	"github.com/Thermoquad/miniecu/pkg/pbstx"
	"github.com/golang/glog"
)

// Endpoint serves one transport
type Endpoint struct {
	hub    *Hub
	name   string
	framer *pbstx.Framer
}

// NewEndpoint creates an endpoint over a duplex byte stream
func (h *Hub) NewEndpoint(name string, rw io.ReadWriter) *Endpoint {
	return &Endpoint{
		hub:    h,
		name:   name,
		framer: pbstx.NewFramer(rw, h.alerts),
	}
}

// Name identifies the endpoint in logs and capture files
func (e *Endpoint) Name() string {
	return e.name
}

// Statistics returns the framer counters of this endpoint
func (e *Endpoint) Statistics() *pbstx.Statistics {
	return e.framer.Statistics()
}

// Run registers the endpoint and serves it until ctx is done or the stream
// fails. Status is sent every STATUS_PERIOD between receives.
func (e *Endpoint) Run(ctx context.Context) error {
	if err := e.hub.register(e); err != nil {
		return err
	}
	defer e.hub.unregister(e)
	defer e.framer.Close()

	e.hub.alerts.SetComponentStatus(alert.Comm, alert.Normal)
	glog.Infof("session: %s: started", e.name)

	var sent time.Time
	for {
		if time.Since(sent) >= e.hub.statusPeriod() {
			if err := e.send(e.hub.buildStatus()); err != nil {
				glog.V(1).Infof("session: %s: status: %v", e.name, err)
			}
			sent = time.Now()
		}

		frame, err := e.framer.Receive(ctx)
		if err != nil {
			var ce *pbstx.ChecksumError
			switch {
			case errors.Is(err, pbstx.ErrTimeout):
				continue
			case errors.As(err, &ce), errors.Is(err, pbstx.ErrOverflow):
				glog.V(1).Infof("session: %s: %v", e.name, err)
				continue
			case ctx.Err() != nil:
				glog.Infof("session: %s: terminated", e.name)
				return ctx.Err()
			default:
				glog.Infof("session: %s: terminated: %v", e.name, err)
				return err
			}
		}

		e.dispatch(ctx, frame.Payload)
	}
}

func (e *Endpoint) send(m msgs.Message) error {
	return e.sendPayload(m, msgs.Encode(m))
}

func (e *Endpoint) sendPayload(m msgs.Message, payload []byte) error {
	if err := e.framer.Send(payload); err != nil {
		return fmt.Errorf("%s: send %s: %w", e.name, m.Tag(), err)
	}
	e.hub.notify(Event{Time: time.Now(), Direction: Tx, Endpoint: e.name, Message: m, Payload: payload})
	return nil
}

func (e *Endpoint) dispatch(ctx context.Context, payload []byte) {
	m, err := msgs.Decode(payload)
	if err != nil {
		if errors.Is(err, msgs.ErrNoVariant) {
			glog.V(2).Infof("session: %s: ignoring unknown message", e.name)
			return
		}
		e.hub.alerts.SetComponentStatus(alert.Comm, alert.Fail)
		glog.Warningf("session: %s: %v", e.name, err)
		return
	}

	e.hub.notify(Event{Time: time.Now(), Direction: Rx, Endpoint: e.name, Message: m, Payload: payload})
	if glog.V(2) {
		glog.Infof("session: %s: rx %s", e.name, m.Tag())
	}

	switch v := m.(type) {
	case *msgs.ParamRequest:
		e.onParamRequest(v)
	case *msgs.ParamSet:
		e.onParamSet(v)
	case *msgs.Command:
		e.onCommand(ctx, v)
	case *msgs.TimeReference:
		e.onTimeReference(v)
	case *msgs.MemoryDumpRequest:
		e.onMemoryDump(v)
	}
}
