// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package msgs

import (
	"github.com/Thermoquad/miniecu/pkg/diag"
	"github.com/Thermoquad/miniecu/pkg/param"
)

// Field capacities
const (
	ParamIDSize     = param.IDSize
	ParamStringSize = param.StringSize
	TextSize        = diag.MaxTextLength
	MemoryPageSize  = 64
)

// Status flag bits
const (
	FlagTimeKnown       uint32 = 1 << 0
	FlagIgnitionEnabled uint32 = 1 << 1
	FlagStarterEnabled  uint32 = 1 << 2
	FlagEngineRunning   uint32 = 1 << 3
	FlagError           uint32 = 1 << 8
	FlagUndervoltage    uint32 = 1 << 9
	FlagOverheat        uint32 = 1 << 10
	FlagHighRPM         uint32 = 1 << 11
	FlagLowFuel         uint32 = 1 << 12
)

// Status is the periodic telemetry report
type Status struct {
	EngineID    uint32
	Flags       uint32
	TimestampMs uint64
	RPM         uint32
	Battery     Battery
	Temperature Temperature
	CPU         CPU
	Fuel        *Fuel
	ADCRaw      *ADCRaw
}

// Battery state. Voltage in mV, Remaining in percent.
type Battery struct {
	Voltage   uint32
	Remaining *uint32
}

// Temperature readings in m°C
type Temperature struct {
	Engine int32
	OilP   *int32
}

// CPU load in percent and internal temperature in m°C
type CPU struct {
	Load        *uint32
	Temperature *int32
}

// Fuel flow state
type Fuel struct {
	FlowMl      uint32
	TotalUsedMl uint32
	Remaining   *uint32
}

// ADCRaw holds unfiltered converter readings for calibration
type ADCRaw struct {
	Temp    uint32
	OilP    uint32
	Flow    uint32
	BattV   uint32
	RTCBatt uint32
}

// Command requests an operation or carries its response
type Command struct {
	EngineID  uint32
	Operation Operation
	Response  Response
}

// ParamRequest asks for one parameter by id or index, or the whole table
type ParamRequest struct {
	EngineID   uint32
	ParamID    *string
	ParamIndex *int32
}

// ParamSet writes one parameter
type ParamSet struct {
	EngineID uint32
	ParamID  string
	Value    param.Value
}

// ParamValue reports one parameter
type ParamValue struct {
	EngineID   uint32
	ParamID    string
	Value      param.Value
	ParamIndex int32
	ParamCount int32
}

// StatusText is a diagnostic line
type StatusText struct {
	EngineID uint32
	Severity diag.Severity
	Text     string
}

// TimeReference carries wall-clock time from the host. The reply adds the
// ECU system time and the applied correction.
type TimeReference struct {
	EngineID    uint32
	TimestampMs uint64
	SystemTime  *uint32
	TimeDiff    *int64
}

// MemoryDumpRequest asks for a memory range to be streamed back
type MemoryDumpRequest struct {
	EngineID uint32
	Type     MemoryType
	StreamID uint32
	Address  uint32
	Size     uint32
}

// MemoryDumpPage is one chunk of a memory dump stream
type MemoryDumpPage struct {
	EngineID uint32
	StreamID uint32
	Address  uint32
	Page     []byte
}

func (*Status) Tag() Tag            { return TagStatus }
func (*Command) Tag() Tag           { return TagCommand }
func (*ParamRequest) Tag() Tag      { return TagParamRequest }
func (*ParamSet) Tag() Tag          { return TagParamSet }
func (*ParamValue) Tag() Tag        { return TagParamValue }
func (*StatusText) Tag() Tag        { return TagStatusText }
func (*TimeReference) Tag() Tag     { return TagTimeReference }
func (*MemoryDumpRequest) Tag() Tag { return TagMemoryDumpRequest }
func (*MemoryDumpPage) Tag() Tag    { return TagMemoryDumpPage }

// Status

func (m *Status) appendFields(b []byte) []byte {
	b = appendVarint(b, 1, uint64(m.EngineID))
	b = appendVarint(b, 2, uint64(m.Flags))
	b = appendVarint(b, 3, m.TimestampMs)
	b = appendVarint(b, 4, uint64(m.RPM))
	b = appendMessage(b, 5, &m.Battery)
	b = appendMessage(b, 6, &m.Temperature)
	b = appendMessage(b, 7, &m.CPU)
	if m.Fuel != nil {
		b = appendMessage(b, 8, m.Fuel)
	}
	if m.ADCRaw != nil {
		b = appendMessage(b, 9, m.ADCRaw)
	}
	return b
}

func (m *Status) decodeFields(b []byte) error {
	return walk("Status", b, func(f *field) {
		switch f.num {
		case 1:
			m.EngineID = f.uint32()
		case 2:
			m.Flags = f.uint32()
		case 3:
			m.TimestampMs = f.uint64()
		case 4:
			m.RPM = f.uint32()
		case 5:
			f.message(&m.Battery)
		case 6:
			f.message(&m.Temperature)
		case 7:
			f.message(&m.CPU)
		case 8:
			m.Fuel = &Fuel{}
			f.message(m.Fuel)
		case 9:
			m.ADCRaw = &ADCRaw{}
			f.message(m.ADCRaw)
		}
	})
}

func (m *Battery) appendFields(b []byte) []byte {
	b = appendVarint(b, 1, uint64(m.Voltage))
	if m.Remaining != nil {
		b = appendVarint(b, 2, uint64(*m.Remaining))
	}
	return b
}

func (m *Battery) decodeFields(b []byte) error {
	return walk("Battery", b, func(f *field) {
		switch f.num {
		case 1:
			m.Voltage = f.uint32()
		case 2:
			m.Remaining = Ptr(f.uint32())
		}
	})
}

func (m *Temperature) appendFields(b []byte) []byte {
	b = appendInt32(b, 1, m.Engine)
	if m.OilP != nil {
		b = appendInt32(b, 2, *m.OilP)
	}
	return b
}

func (m *Temperature) decodeFields(b []byte) error {
	return walk("Temperature", b, func(f *field) {
		switch f.num {
		case 1:
			m.Engine = f.int32()
		case 2:
			m.OilP = Ptr(f.int32())
		}
	})
}

func (m *CPU) appendFields(b []byte) []byte {
	if m.Load != nil {
		b = appendVarint(b, 1, uint64(*m.Load))
	}
	if m.Temperature != nil {
		b = appendInt32(b, 2, *m.Temperature)
	}
	return b
}

func (m *CPU) decodeFields(b []byte) error {
	return walk("CPU", b, func(f *field) {
		switch f.num {
		case 1:
			m.Load = Ptr(f.uint32())
		case 2:
			m.Temperature = Ptr(f.int32())
		}
	})
}

func (m *Fuel) appendFields(b []byte) []byte {
	b = appendVarint(b, 1, uint64(m.FlowMl))
	b = appendVarint(b, 2, uint64(m.TotalUsedMl))
	if m.Remaining != nil {
		b = appendVarint(b, 3, uint64(*m.Remaining))
	}
	return b
}

func (m *Fuel) decodeFields(b []byte) error {
	return walk("Fuel", b, func(f *field) {
		switch f.num {
		case 1:
			m.FlowMl = f.uint32()
		case 2:
			m.TotalUsedMl = f.uint32()
		case 3:
			m.Remaining = Ptr(f.uint32())
		}
	})
}

func (m *ADCRaw) appendFields(b []byte) []byte {
	b = appendVarint(b, 1, uint64(m.Temp))
	b = appendVarint(b, 2, uint64(m.OilP))
	b = appendVarint(b, 3, uint64(m.Flow))
	b = appendVarint(b, 4, uint64(m.BattV))
	return appendVarint(b, 5, uint64(m.RTCBatt))
}

func (m *ADCRaw) decodeFields(b []byte) error {
	return walk("ADCRaw", b, func(f *field) {
		switch f.num {
		case 1:
			m.Temp = f.uint32()
		case 2:
			m.OilP = f.uint32()
		case 3:
			m.Flow = f.uint32()
		case 4:
			m.BattV = f.uint32()
		case 5:
			m.RTCBatt = f.uint32()
		}
	})
}

// Command

func (m *Command) appendFields(b []byte) []byte {
	b = appendVarint(b, 1, uint64(m.EngineID))
	b = appendVarint(b, 2, uint64(m.Operation))
	if m.Response != ResponseNone {
		b = appendVarint(b, 3, uint64(m.Response))
	}
	return b
}

func (m *Command) decodeFields(b []byte) error {
	return walk("Command", b, func(f *field) {
		switch f.num {
		case 1:
			m.EngineID = f.uint32()
		case 2:
			m.Operation = Operation(f.uint32())
		case 3:
			m.Response = Response(f.uint32())
		}
	})
}

// Parameters

// paramType is the wire form of a typed parameter value: exactly one of
// u_bool (1), u_int32 (2), u_float (3), u_string (4).
type paramType struct {
	v *param.Value
}

func (p paramType) appendFields(b []byte) []byte {
	switch p.v.Type() {
	case param.Bool:
		b = appendBool(b, 1, p.v.AsBool())
	case param.Int32:
		b = appendInt32(b, 2, p.v.AsInt32())
	case param.Float:
		b = appendFloat(b, 3, p.v.AsFloat())
	case param.String:
		b = appendString(b, 4, p.v.AsString())
	}
	return b
}

func (p paramType) decodeFields(b []byte) error {
	return walk("ParamType", b, func(f *field) {
		switch f.num {
		case 1:
			*p.v = param.BoolValue(f.bool())
		case 2:
			*p.v = param.Int32Value(f.int32())
		case 3:
			*p.v = param.FloatValue(f.float())
		case 4:
			*p.v = param.StringValue(f.string(ParamStringSize))
		}
	})
}

func (m *ParamRequest) appendFields(b []byte) []byte {
	b = appendVarint(b, 1, uint64(m.EngineID))
	if m.ParamID != nil {
		b = appendString(b, 2, *m.ParamID)
	}
	if m.ParamIndex != nil {
		b = appendInt32(b, 3, *m.ParamIndex)
	}
	return b
}

func (m *ParamRequest) decodeFields(b []byte) error {
	return walk("ParamRequest", b, func(f *field) {
		switch f.num {
		case 1:
			m.EngineID = f.uint32()
		case 2:
			m.ParamID = Ptr(f.string(ParamIDSize))
		case 3:
			m.ParamIndex = Ptr(f.int32())
		}
	})
}

func (m *ParamSet) appendFields(b []byte) []byte {
	b = appendVarint(b, 1, uint64(m.EngineID))
	b = appendString(b, 2, m.ParamID)
	return appendMessage(b, 3, paramType{&m.Value})
}

func (m *ParamSet) decodeFields(b []byte) error {
	return walk("ParamSet", b, func(f *field) {
		switch f.num {
		case 1:
			m.EngineID = f.uint32()
		case 2:
			m.ParamID = f.string(ParamIDSize)
		case 3:
			f.message(paramType{&m.Value})
		}
	})
}

func (m *ParamValue) appendFields(b []byte) []byte {
	b = appendVarint(b, 1, uint64(m.EngineID))
	b = appendString(b, 2, m.ParamID)
	b = appendMessage(b, 3, paramType{&m.Value})
	b = appendInt32(b, 4, m.ParamIndex)
	return appendInt32(b, 5, m.ParamCount)
}

func (m *ParamValue) decodeFields(b []byte) error {
	return walk("ParamValue", b, func(f *field) {
		switch f.num {
		case 1:
			m.EngineID = f.uint32()
		case 2:
			m.ParamID = f.string(ParamIDSize)
		case 3:
			f.message(paramType{&m.Value})
		case 4:
			m.ParamIndex = f.int32()
		case 5:
			m.ParamCount = f.int32()
		}
	})
}

// Diagnostics and time

func (m *StatusText) appendFields(b []byte) []byte {
	b = appendVarint(b, 1, uint64(m.EngineID))
	b = appendVarint(b, 2, uint64(m.Severity))
	return appendString(b, 3, m.Text)
}

func (m *StatusText) decodeFields(b []byte) error {
	return walk("StatusText", b, func(f *field) {
		switch f.num {
		case 1:
			m.EngineID = f.uint32()
		case 2:
			m.Severity = diag.Severity(f.uint32())
		case 3:
			m.Text = f.string(TextSize)
		}
	})
}

func (m *TimeReference) appendFields(b []byte) []byte {
	b = appendVarint(b, 1, uint64(m.EngineID))
	b = appendVarint(b, 2, m.TimestampMs)
	if m.SystemTime != nil {
		b = appendVarint(b, 3, uint64(*m.SystemTime))
	}
	if m.TimeDiff != nil {
		b = appendInt64(b, 4, *m.TimeDiff)
	}
	return b
}

func (m *TimeReference) decodeFields(b []byte) error {
	return walk("TimeReference", b, func(f *field) {
		switch f.num {
		case 1:
			m.EngineID = f.uint32()
		case 2:
			m.TimestampMs = f.uint64()
		case 3:
			m.SystemTime = Ptr(f.uint32())
		case 4:
			m.TimeDiff = Ptr(f.int64())
		}
	})
}

// Memory dump

func (m *MemoryDumpRequest) appendFields(b []byte) []byte {
	b = appendVarint(b, 1, uint64(m.EngineID))
	b = appendVarint(b, 2, uint64(m.Type))
	b = appendVarint(b, 3, uint64(m.StreamID))
	b = appendVarint(b, 4, uint64(m.Address))
	return appendVarint(b, 5, uint64(m.Size))
}

func (m *MemoryDumpRequest) decodeFields(b []byte) error {
	return walk("MemoryDumpRequest", b, func(f *field) {
		switch f.num {
		case 1:
			m.EngineID = f.uint32()
		case 2:
			m.Type = MemoryType(f.uint32())
		case 3:
			m.StreamID = f.uint32()
		case 4:
			m.Address = f.uint32()
		case 5:
			m.Size = f.uint32()
		}
	})
}

func (m *MemoryDumpPage) appendFields(b []byte) []byte {
	b = appendVarint(b, 1, uint64(m.EngineID))
	b = appendVarint(b, 2, uint64(m.StreamID))
	b = appendVarint(b, 3, uint64(m.Address))
	return appendBytes(b, 4, m.Page)
}

func (m *MemoryDumpPage) decodeFields(b []byte) error {
	return walk("MemoryDumpPage", b, func(f *field) {
		switch f.num {
		case 1:
			m.EngineID = f.uint32()
		case 2:
			m.StreamID = f.uint32()
		case 3:
			m.Address = f.uint32()
		case 4:
			m.Page = append([]byte(nil), f.bytes(MemoryPageSize)...)
		}
	})
}

// AppendParamValue appends the tagged-union encoding of v, the same body a
// ParamSet or ParamValue carries. It is also the value form of flash records.
func AppendParamValue(b []byte, v param.Value) []byte {
	return paramType{&v}.appendFields(b)
}

// DecodeParamValue decodes a body written by AppendParamValue
func DecodeParamValue(b []byte) (param.Value, error) {
	var v param.Value
	err := paramType{&v}.decodeFields(b)
	return v, err
}
