// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package session

import (
	"context"
	"errors"
	"io"

	"github.com/Thermoquad/miniecu/pkg/diag"
	"github.com/Thermoquad/miniecu/pkg/flash"
	"github.com/Thermoquad/miniecu/pkg/msgs"
	"github.com/Thermoquad/miniecu/pkg/param"
	"github.com/golang/glog"
)

// addressed reports whether a message for id targets this engine.
// Broadcast id 0 is accepted only when allowBroadcast is set.
func (h *Hub) addressed(id uint32, allowBroadcast bool) bool {
	return id == h.EngineID() || (allowBroadcast && id == 0)
}

// ============================================================
// Parameters
// ============================================================

func (h *Hub) paramValue(index int) (*msgs.ParamValue, error) {
	id, v, err := h.store.GetByIndex(index)
	if err != nil {
		return nil, err
	}
	return &msgs.ParamValue{
		EngineID:   h.EngineID(),
		ParamID:    id,
		Value:      v,
		ParamIndex: int32(index),
		ParamCount: int32(h.store.Count()),
	}, nil
}

func (h *Hub) broadcastParam(index int) {
	pv, err := h.paramValue(index)
	if err != nil {
		return
	}
	if err := h.Broadcast(pv); err != nil {
		glog.V(1).Infof("session: param value: %v", err)
	}
}

func (e *Endpoint) onParamRequest(req *msgs.ParamRequest) {
	h := e.hub
	if !h.addressed(req.EngineID, true) {
		return
	}

	switch {
	case req.ParamID != nil:
		_, index, err := h.store.Get(*req.ParamID)
		if err != nil {
			h.Printf(diag.Warn, "unknown param: %s", param.NormalizeID(*req.ParamID))
			return
		}
		h.broadcastParam(index)

	case req.ParamIndex != nil:
		index := int(*req.ParamIndex)
		if index < 0 || index >= h.store.Count() {
			h.Printf(diag.Warn, "param index out of range: %d", index)
			return
		}
		h.broadcastParam(index)

	default:
		for i := 0; i < h.store.Count(); i++ {
			h.broadcastParam(i)
		}
	}
}

func (e *Endpoint) onParamSet(req *msgs.ParamSet) {
	h := e.hub
	if !h.addressed(req.EngineID, false) {
		return
	}

	err := h.store.Set(req.ParamID, req.Value)
	switch {
	case err == nil, errors.Is(err, param.ErrOutOfRange):
		// reply with the value in effect
	case errors.Is(err, param.ErrNotFound):
		h.Printf(diag.Error, "unknown param: %s", param.NormalizeID(req.ParamID))
		return
	default:
		return
	}

	_, index, err := h.store.Get(req.ParamID)
	if err != nil {
		return
	}
	h.broadcastParam(index)
}

// ============================================================
// Commands
// ============================================================

func flashOp(op msgs.Operation) (flash.Op, bool) {
	switch op {
	case msgs.OpSaveConfig:
		return flash.OpSave, true
	case msgs.OpLoadConfig:
		return flash.OpLoad, true
	case msgs.OpDoEraseConfig:
		return flash.OpEraseConfig, true
	case msgs.OpDoEraseLog:
		return flash.OpEraseLog, true
	}
	return 0, false
}

func (e *Endpoint) commandResponse(op msgs.Operation, r msgs.Response) {
	resp := &msgs.Command{EngineID: e.hub.EngineID(), Operation: op, Response: r}
	if err := e.send(resp); err != nil {
		glog.V(1).Infof("session: command response: %v", err)
	}
}

// request executes an operation. Flash operations are not run here: they
// report IN_PROGRESS and the caller hands them to runFlash.
func (h *Hub) request(op msgs.Operation) (msgs.Response, bool) {
	a := h.actuators
	switch op {
	case msgs.OpEmergencyStop:
		a.SetIgnition(false)
		a.SetStarter(false)
		h.Printf(diag.Warn, "emergency stop")
		return msgs.ResponseACK, false

	case msgs.OpIgnitionEnable, msgs.OpIgnitionDisable:
		a.SetIgnition(op == msgs.OpIgnitionEnable)
		return msgs.ResponseACK, false

	case msgs.OpStarterEnable, msgs.OpStarterDisable:
		a.SetStarter(op == msgs.OpStarterEnable)
		return msgs.ResponseACK, false
	}

	if _, ok := flashOp(op); ok && h.flash != nil {
		return msgs.ResponseInProgress, true
	}
	return msgs.ResponseNAK, false
}

// runFlash waits for a flash operation, at most CommandTimeout
func (h *Hub) runFlash(ctx context.Context, op msgs.Operation) msgs.Response {
	fop, _ := flashOp(op)
	ctx, cancel := context.WithTimeout(ctx, CommandTimeout)
	defer cancel()

	if err := h.flash.Do(ctx, fop); err != nil {
		glog.Warningf("session: %s: %v", op, err)
		return msgs.ResponseNAK
	}
	return msgs.ResponseACK
}

func (e *Endpoint) onCommand(ctx context.Context, cmd *msgs.Command) {
	if !e.hub.addressed(cmd.EngineID, false) || cmd.Response != msgs.ResponseNone {
		return
	}

	op := cmd.Operation
	r, async := e.hub.request(op)
	e.commandResponse(op, r)
	if async {
		go func() {
			e.commandResponse(op, e.hub.runFlash(ctx, op))
		}()
	}
}

// ============================================================
// Time
// ============================================================

func (e *Endpoint) onTimeReference(ref *msgs.TimeReference) {
	h := e.hub
	if !h.addressed(ref.EngineID, true) || ref.SystemTime != nil {
		return
	}

	diff := h.clock.SetTimestamp(ref.TimestampMs)
	resp := &msgs.TimeReference{
		EngineID:    h.EngineID(),
		TimestampMs: ref.TimestampMs,
		SystemTime:  msgs.Ptr(h.clock.Uptime()),
		TimeDiff:    msgs.Ptr(diff),
	}
	if err := e.send(resp); err != nil {
		glog.V(1).Infof("session: time reference: %v", err)
	}
}

// ============================================================
// Memory dump
// ============================================================

func (e *Endpoint) onMemoryDump(req *msgs.MemoryDumpRequest) {
	h := e.hub
	if !h.addressed(req.EngineID, false) {
		return
	}
	if !h.store.Bool(ParamDebugMemdump, false) {
		h.Printf(diag.Warn, "MemDump: disabled")
		return
	}

	mem, ok := h.memory[req.Type]
	if !ok {
		h.Printf(diag.Error, "MemDump: unknown type")
		return
	}

	address := req.Address
	remaining := req.Size
	buf := make([]byte, msgs.MemoryPageSize)
	for remaining > 0 {
		n := uint32(len(buf))
		if remaining < n {
			n = remaining
		}

		got, err := mem.ReadAt(buf[:n], int64(address))
		if got <= 0 || (err != nil && !errors.Is(err, io.EOF)) {
			h.Printf(diag.Error, "MemDump: read error")
			return
		}

		page := &msgs.MemoryDumpPage{
			EngineID: h.EngineID(),
			StreamID: req.StreamID,
			Address:  address,
			Page:     append([]byte(nil), buf[:got]...),
		}
		if err := e.send(page); err != nil {
			glog.V(1).Infof("session: memdump: %v", err)
			return
		}

		address += uint32(got)
		remaining -= uint32(got)
		if err != nil {
			// short read at the end of memory
			return
		}
	}
}

// ============================================================
// Status
// ============================================================

func (h *Hub) buildStatus() *msgs.Status {
	t := h.telemetry
	var flags uint32
	set := func(cond bool, bit uint32) {
		if cond {
			flags |= bit
		}
	}

	set(h.clock.Known(), msgs.FlagTimeKnown)
	set(h.actuators.Ignition(), msgs.FlagIgnitionEnabled)
	set(h.actuators.Starter(), msgs.FlagStarterEnabled)
	set(t.EngineRunning(), msgs.FlagEngineRunning)
	set(h.alerts.CheckError(), msgs.FlagError)
	set(t.Undervoltage(), msgs.FlagUndervoltage)
	set(t.Overheat(), msgs.FlagOverheat)
	set(t.HighRPM(), msgs.FlagHighRPM)
	set(t.LowFuel(), msgs.FlagLowFuel)

	s := &msgs.Status{
		EngineID:    h.EngineID(),
		Flags:       flags,
		TimestampMs: h.clock.Timestamp(),
		RPM:         t.RPM(),
		Battery:     msgs.Battery{Voltage: t.BatteryVoltage()},
		Temperature: msgs.Temperature{Engine: t.EngineTemperature()},
		CPU:         msgs.CPU{Temperature: msgs.Ptr(t.CPUTemperature())},
	}
	if pct, ok := t.BatteryRemaining(); ok {
		s.Battery.Remaining = msgs.Ptr(pct)
	}
	if oil, ok := t.OilTemperature(); ok {
		s.Temperature.OilP = msgs.Ptr(oil)
	}
	if fuel, ok := t.Fuel(); ok {
		s.Fuel = &fuel
	}
	if h.store.Bool(ParamDebugADCRaw, false) {
		raw := t.ADCRaw()
		s.ADCRaw = &raw
	}
	return s
}
