// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package msgs

import (
	"fmt"
	"strings"
	"time"

	"github.com/Thermoquad/miniecu/pkg/pbstx"
)

// FormatFrame formats a received frame and its decoded message into a
// human-readable string
func FormatFrame(f *pbstx.Frame) string {
	timestamp := f.Timestamp.Format("15:04:05.000")

	m, err := Decode(f.Payload)
	if err != nil {
		return fmt.Sprintf("[%s] INVALID seq=%d len=%d\n  Error: %v\n", timestamp, f.Seq, f.Length(), err)
	}

	return fmt.Sprintf("[%s] %s seq=%d len=%d\n%s", timestamp, m.Tag(), f.Seq, f.Length(), FormatMessage(m))
}

// FormatMessage formats the fields of a message, one indented block
func FormatMessage(m Message) string {
	switch v := m.(type) {
	case *Status:
		return formatStatus(v)

	case *Command:
		if v.Response == ResponseNone {
			return fmt.Sprintf("  Engine: %d, Operation: %s\n", v.EngineID, v.Operation)
		}
		return fmt.Sprintf("  Engine: %d, Operation: %s, Response: %s\n", v.EngineID, v.Operation, v.Response)

	case *ParamRequest:
		switch {
		case v.ParamID != nil:
			return fmt.Sprintf("  Engine: %d, Param: %s\n", v.EngineID, *v.ParamID)
		case v.ParamIndex != nil:
			return fmt.Sprintf("  Engine: %d, Index: %d\n", v.EngineID, *v.ParamIndex)
		}
		return fmt.Sprintf("  Engine: %d, Param: ALL\n", v.EngineID)

	case *ParamSet:
		return fmt.Sprintf("  Engine: %d, %s = %s\n", v.EngineID, v.ParamID, v.Value)

	case *ParamValue:
		return fmt.Sprintf("  Engine: %d, [%d/%d] %s = %s\n", v.EngineID, v.ParamIndex, v.ParamCount, v.ParamID, v.Value)

	case *StatusText:
		return fmt.Sprintf("  Engine: %d, %s: %s\n", v.EngineID, v.Severity, v.Text)

	case *TimeReference:
		ts := time.UnixMilli(int64(v.TimestampMs)).UTC().Format(time.RFC3339Nano)
		result := fmt.Sprintf("  Engine: %d, Time: %s", v.EngineID, ts)
		if v.SystemTime != nil {
			result += fmt.Sprintf(", System: %d ms", *v.SystemTime)
		}
		if v.TimeDiff != nil {
			result += fmt.Sprintf(", Diff: %d ms", *v.TimeDiff)
		}
		return result + "\n"

	case *MemoryDumpRequest:
		return fmt.Sprintf("  Engine: %d, Stream: %d, %s 0x%08X+%d\n", v.EngineID, v.StreamID, v.Type, v.Address, v.Size)

	case *MemoryDumpPage:
		return fmt.Sprintf("  Engine: %d, Stream: %d, 0x%08X: % X\n", v.EngineID, v.StreamID, v.Address, v.Page)
	}

	return "  (unknown message)\n"
}

func formatStatus(s *Status) string {
	var b strings.Builder

	fmt.Fprintf(&b, "  Engine: %d, Flags: %s, Time: %d ms, RPM: %d\n",
		s.EngineID, FormatFlags(s.Flags), s.TimestampMs, s.RPM)

	fmt.Fprintf(&b, "  Battery: %.2f V", float64(s.Battery.Voltage)/1000)
	if s.Battery.Remaining != nil {
		fmt.Fprintf(&b, " (%d%%)", *s.Battery.Remaining)
	}
	fmt.Fprintf(&b, ", Engine Temp: %.1f°C", float64(s.Temperature.Engine)/1000)
	if s.Temperature.OilP != nil {
		fmt.Fprintf(&b, ", Oil Temp: %.1f°C", float64(*s.Temperature.OilP)/1000)
	}
	b.WriteString("\n")

	if s.CPU.Load != nil || s.CPU.Temperature != nil {
		b.WriteString("  CPU:")
		if s.CPU.Load != nil {
			fmt.Fprintf(&b, " Load=%d%%", *s.CPU.Load)
		}
		if s.CPU.Temperature != nil {
			fmt.Fprintf(&b, " Temp=%.1f°C", float64(*s.CPU.Temperature)/1000)
		}
		b.WriteString("\n")
	}

	if s.Fuel != nil {
		fmt.Fprintf(&b, "  Fuel: Flow=%d ml/min, Used=%d ml", s.Fuel.FlowMl, s.Fuel.TotalUsedMl)
		if s.Fuel.Remaining != nil {
			fmt.Fprintf(&b, ", Remaining=%d ml", *s.Fuel.Remaining)
		}
		b.WriteString("\n")
	}

	if s.ADCRaw != nil {
		fmt.Fprintf(&b, "  ADC: Temp=%d OilP=%d Flow=%d BattV=%d RTC=%d\n",
			s.ADCRaw.Temp, s.ADCRaw.OilP, s.ADCRaw.Flow, s.ADCRaw.BattV, s.ADCRaw.RTCBatt)
	}

	return b.String()
}

var flagNames = []struct {
	bit  uint32
	name string
}{
	{FlagTimeKnown, "TIME"},
	{FlagIgnitionEnabled, "IGN"},
	{FlagStarterEnabled, "STARTER"},
	{FlagEngineRunning, "RUNNING"},
	{FlagError, "ERROR"},
	{FlagUndervoltage, "UNDERVOLTAGE"},
	{FlagOverheat, "OVERHEAT"},
	{FlagHighRPM, "HIGH_RPM"},
	{FlagLowFuel, "LOW_FUEL"},
}

// FormatFlags lists the set status flags, or "-" when none are set
func FormatFlags(flags uint32) string {
	var names []string
	for _, f := range flagNames {
		if flags&f.bit != 0 {
			names = append(names, f.name)
		}
	}
	if len(names) == 0 {
		return "-"
	}
	return strings.Join(names, "|")
}
