// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package msgs

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Thermoquad/miniecu/pkg/diag"
	"github.com/Thermoquad/miniecu/pkg/param"
	"github.com/Thermoquad/miniecu/pkg/pbstx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

// ============================================================
// Round Trip Tests
// ============================================================

func allMessages() []Message {
	return []Message{
		&Status{
			EngineID:    1,
			Flags:       FlagTimeKnown | FlagEngineRunning,
			TimestampMs: 1700000000123,
			RPM:         6200,
			Battery:     Battery{Voltage: 12400, Remaining: Ptr(uint32(87))},
			Temperature: Temperature{Engine: 85250, OilP: Ptr(int32(-4000))},
			CPU:         CPU{Load: Ptr(uint32(12)), Temperature: Ptr(int32(41000))},
			Fuel:        &Fuel{FlowMl: 35, TotalUsedMl: 1200},
			ADCRaw:      &ADCRaw{Temp: 1, OilP: 2, Flow: 3, BattV: 4, RTCBatt: 5},
		},
		&Status{EngineID: 2},
		&Command{EngineID: 1, Operation: OpSaveConfig},
		&Command{EngineID: 1, Operation: OpSaveConfig, Response: ResponseInProgress},
		&ParamRequest{EngineID: 0},
		&ParamRequest{EngineID: 1, ParamID: Ptr("BATT_CELLS")},
		&ParamRequest{EngineID: 1, ParamIndex: Ptr(int32(3))},
		&ParamSet{EngineID: 1, ParamID: "BATT_CELLS", Value: param.Int32Value(-3)},
		&ParamSet{EngineID: 1, ParamID: "BATT_TYPE", Value: param.StringValue("LiPo")},
		&ParamValue{EngineID: 1, ParamID: "BATT_VD1_VD", Value: param.FloatValue(0.45), ParamIndex: 6, ParamCount: 14},
		&ParamValue{EngineID: 1, ParamID: "DEBUG_ADC_RAW", Value: param.BoolValue(true), ParamIndex: 12, ParamCount: 14},
		&StatusText{EngineID: 1, Severity: diag.Error, Text: "unknown battery type"},
		&TimeReference{EngineID: 1, TimestampMs: 1700000000000},
		&TimeReference{EngineID: 1, TimestampMs: 1700000000000, SystemTime: Ptr(uint32(5000)), TimeDiff: Ptr(int64(-1500))},
		&MemoryDumpRequest{EngineID: 1, Type: MemoryFlash, StreamID: 7, Address: 0x1000, Size: 256},
		&MemoryDumpPage{EngineID: 1, StreamID: 7, Address: 0x1040, Page: bytes.Repeat([]byte{0xA5}, MemoryPageSize)},
	}
}

func TestRoundTrip_AllVariants(t *testing.T) {
	for _, m := range allMessages() {
		t.Run(m.Tag().String(), func(t *testing.T) {
			data := Encode(m)
			require.LessOrEqual(t, len(data), pbstx.MaxPayloadSize)

			decoded, err := Decode(data)
			require.NoError(t, err)
			assert.Equal(t, m, decoded)

			tag, err := DecodeType(data)
			require.NoError(t, err)
			assert.Equal(t, m.Tag(), tag)
		})
	}
}

func TestEncode_Deterministic(t *testing.T) {
	for _, m := range allMessages() {
		assert.Equal(t, Encode(m), Encode(m), m.Tag().String())
	}
}

func TestEncode_Layout(t *testing.T) {
	data := Encode(&Command{EngineID: 1, Operation: OpDoReboot})
	// field 2 (COMMAND), length 4, engine_id=1, operation=13
	assert.Equal(t, []byte{0x12, 0x04, 0x08, 0x01, 0x10, 0x0D}, data)
}

func TestEncode_NegativeInt32SignExtended(t *testing.T) {
	data := Encode(&ParamSet{EngineID: 1, ParamID: "X", Value: param.Int32Value(-1)})
	// int32 -1 occupies ten bytes on the wire
	assert.Contains(t, string(data), string(bytes.Repeat([]byte{0xFF}, 9)))
}

func TestEngineID(t *testing.T) {
	for _, m := range allMessages() {
		expected := uint32(1)
		if s, ok := m.(*Status); ok && s.EngineID == 2 {
			expected = 2
		}
		if r, ok := m.(*ParamRequest); ok && r.ParamID == nil && r.ParamIndex == nil {
			expected = 0
		}
		assert.Equal(t, expected, EngineID(m), m.Tag().String())
	}
}

// ============================================================
// Decode Tests
// ============================================================

func TestDecode_UnknownFieldsSkipped(t *testing.T) {
	inner := Encode(&Command{EngineID: 3, Operation: OpIgnitionEnable})

	var data []byte
	data = protowire.AppendTag(data, 30, protowire.VarintType)
	data = protowire.AppendVarint(data, 99)
	data = protowire.AppendTag(data, 31, protowire.BytesType)
	data = protowire.AppendBytes(data, []byte("future"))
	data = append(data, inner...)

	m, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, &Command{EngineID: 3, Operation: OpIgnitionEnable}, m)
}

func TestDecode_UnknownInnerFieldSkipped(t *testing.T) {
	var body []byte
	body = appendVarint(body, 1, 4)
	body = appendFloat(body, 15, 1.5)
	body = appendVarint(body, 2, uint64(OpRefuelDone))

	m, err := Decode(appendBytes(nil, protowire.Number(TagCommand), body))
	require.NoError(t, err)
	assert.Equal(t, &Command{EngineID: 4, Operation: OpRefuelDone}, m)
}

func TestDecode_FirstVariantWins(t *testing.T) {
	data := Encode(&StatusText{EngineID: 1, Severity: diag.Info, Text: "first"})
	data = append(data, Encode(&Command{EngineID: 1, Operation: OpDoReboot})...)

	m, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, TagStatusText, m.Tag())
}

func TestDecode_NoVariant(t *testing.T) {
	for _, data := range [][]byte{
		nil,
		appendVarint(nil, 1, 5),
		appendBytes(nil, 40, []byte{0x08, 0x01}),
	} {
		_, err := Decode(data)
		assert.ErrorIs(t, err, ErrNoVariant)

		_, err = DecodeType(data)
		assert.ErrorIs(t, err, ErrNoVariant)
	}
}

func TestDecode_Truncated(t *testing.T) {
	data := Encode(allMessages()[0])
	for n := 1; n < len(data); n++ {
		_, err := Decode(data[:n])
		require.Error(t, err, "prefix %d", n)

		var de *DecodeError
		assert.True(t, errors.As(err, &de), "prefix %d", n)
	}
}

func TestDecode_StringTooLong(t *testing.T) {
	long := strings.Repeat("x", TextSize+1)
	var body []byte
	body = appendVarint(body, 1, 1)
	body = appendString(body, 3, long)

	_, err := Decode(appendBytes(nil, protowire.Number(TagStatusText), body))
	assert.ErrorIs(t, err, ErrFieldTooLong)

	body = appendString(nil, 2, strings.Repeat("P", ParamIDSize+1))
	_, err = Decode(appendBytes(nil, protowire.Number(TagParamSet), body))
	assert.ErrorIs(t, err, ErrFieldTooLong)
}

func TestDecode_PageTooLong(t *testing.T) {
	body := appendBytes(nil, 4, make([]byte, MemoryPageSize+1))
	_, err := Decode(appendBytes(nil, protowire.Number(TagMemoryDumpPage), body))
	assert.ErrorIs(t, err, ErrFieldTooLong)
}

func TestDecode_WrongWireType(t *testing.T) {
	// engine_id sent as fixed32
	body := appendFloat(nil, 1, 1)
	_, err := Decode(appendBytes(nil, protowire.Number(TagCommand), body))
	assert.ErrorIs(t, err, ErrWireType)

	var de *DecodeError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, "Message", de.Message)
	assert.Equal(t, int(TagCommand), de.Field)
}

func TestDecode_ParamValueLastMemberWins(t *testing.T) {
	var value []byte
	value = appendInt32(value, 2, 7)
	value = appendString(value, 4, "LiPo")

	var body []byte
	body = appendVarint(body, 1, 1)
	body = appendString(body, 2, "BATT_TYPE")
	body = appendBytes(body, 3, value)

	m, err := Decode(appendBytes(nil, protowire.Number(TagParamSet), body))
	require.NoError(t, err)
	assert.Equal(t, param.StringValue("LiPo"), m.(*ParamSet).Value)
}

func TestDecode_ParamSetWithoutValue(t *testing.T) {
	body := appendString(appendVarint(nil, 1, 1), 2, "ENGINE_ID")
	m, err := Decode(appendBytes(nil, protowire.Number(TagParamSet), body))
	require.NoError(t, err)
	assert.False(t, m.(*ParamSet).Value.IsValid())
}

func TestDecodeType_SkipsLeadingScalar(t *testing.T) {
	data := appendVarint(nil, 1, 5)
	data = append(data, Encode(&TimeReference{EngineID: 1})...)

	tag, err := DecodeType(data)
	require.NoError(t, err)
	assert.Equal(t, TagTimeReference, tag)
}

// ============================================================
// Enum Tests
// ============================================================

func TestParseOperation(t *testing.T) {
	op, err := ParseOperation("SAVE_CONFIG")
	require.NoError(t, err)
	assert.Equal(t, OpSaveConfig, op)

	op, err = ParseOperation("DO_REBOOT")
	require.NoError(t, err)
	assert.Equal(t, OpDoReboot, op)

	_, err = ParseOperation("UNKNOWN")
	assert.Error(t, err)
	_, err = ParseOperation("save_config")
	assert.Error(t, err)
}

func TestEnumStrings(t *testing.T) {
	assert.Equal(t, "PARAM_VALUE", TagParamValue.String())
	assert.Equal(t, "UNKNOWN(42)", Tag(42).String())
	assert.Equal(t, "EMERGENCY_STOP", OpEmergencyStop.String())
	assert.Equal(t, "OPERATION(99)", Operation(99).String())
	assert.Equal(t, "IN_PROGRESS", ResponseInProgress.String())
	assert.Equal(t, "FLASH", MemoryFlash.String())
}

// ============================================================
// Formatter Tests
// ============================================================

func TestFormatFrame(t *testing.T) {
	frame := pbstx.NewFrame(4, Encode(&ParamValue{
		EngineID: 1, ParamID: "BATT_CELLS", Value: param.Int32Value(4), ParamIndex: 7, ParamCount: 14,
	}))
	frame.Timestamp = time.Date(2025, 1, 1, 12, 30, 0, 0, time.Local)

	out := FormatFrame(frame)
	assert.Contains(t, out, "[12:30:00.000] PARAM_VALUE seq=4")
	assert.Contains(t, out, "[7/14] BATT_CELLS = 4")
}

func TestFormatFrame_Invalid(t *testing.T) {
	out := FormatFrame(pbstx.NewFrame(0, []byte{0xFF}))
	assert.Contains(t, out, "INVALID")
}

func TestFormatMessage_Status(t *testing.T) {
	out := FormatMessage(allMessages()[0])
	assert.Contains(t, out, "Flags: TIME|RUNNING")
	assert.Contains(t, out, "Battery: 12.40 V (87%)")
	assert.Contains(t, out, "Fuel: Flow=35 ml/min")
	assert.Contains(t, out, "ADC: Temp=1")
}

func TestFormatFlags(t *testing.T) {
	assert.Equal(t, "-", FormatFlags(0))
	assert.Equal(t, "ERROR|OVERHEAT", FormatFlags(FlagError|FlagOverheat))
}
