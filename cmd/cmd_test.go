// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Thermoquad/miniecu/pkg/client"
	"github.com/Thermoquad/miniecu/pkg/diag"
	"github.com/Thermoquad/miniecu/pkg/ecu"
	"github.com/Thermoquad/miniecu/pkg/msgs"
	"github.com/Thermoquad/miniecu/pkg/param"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatUptime(t *testing.T) {
	tests := []struct {
		ms   uint64
		want string
	}{
		{0, "0 seconds"},
		{1000, "1 second"},
		{59000, "59 seconds"},
		{61000, "1 minute and 1 second"},
		{3600000, "1 hour"},
		{90061000, "1 day, 1 hour, 1 minute, and 1 second"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatUptime(tt.ms), "%d ms", tt.ms)
	}
}

func TestParseArguments(t *testing.T) {
	typ, err := parseMemoryType("FLASH")
	require.NoError(t, err)
	assert.Equal(t, msgs.MemoryFlash, typ)

	_, err = parseMemoryType("eeprom")
	assert.Error(t, err)

	v, err := parseUint32("address", "0x100")
	require.NoError(t, err)
	assert.Equal(t, uint32(256), v)

	_, err = parseUint32("size", "-1")
	assert.Error(t, err)
}

func newTestModel() monitorModel {
	return initialMonitorModel(&connectionManager{done: make(chan struct{})}, "test")
}

func update(t *testing.T, m monitorModel, msg tea.Msg) (monitorModel, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	mm, ok := next.(monitorModel)
	require.True(t, ok)
	return mm, cmd
}

func TestMonitor_Batch(t *testing.T) {
	m := newTestModel()

	m, _ = update(t, m, paramListMsg{values: []*msgs.ParamValue{
		{EngineID: 1, ParamID: "BATT_CELLS", Value: param.Int32Value(4), ParamIndex: 0, ParamCount: 2},
		{EngineID: 1, ParamID: "BATT_TYPE", Value: param.StringValue("NiMH"), ParamIndex: 1, ParamCount: 2},
	}})
	require.Len(t, m.params.Items(), 2)

	m, _ = update(t, m, monitorBatchMsg{messages: []msgs.Message{
		&msgs.Status{EngineID: 1, Flags: msgs.FlagIgnitionEnabled, RPM: 5000, Battery: msgs.Battery{Voltage: 4880}},
		&msgs.ParamValue{EngineID: 1, ParamID: "BATT_TYPE", Value: param.StringValue("LiPo"), ParamIndex: 1, ParamCount: 2},
		&msgs.StatusText{EngineID: 1, Severity: diag.Error, Text: "BATT: unknown battery type"},
		&msgs.Command{EngineID: 1, Operation: msgs.OpSaveConfig, Response: msgs.ResponseNAK},
	}})

	require.NotNil(t, m.lastStatus)
	assert.Equal(t, uint32(5000), m.lastStatus.RPM)

	items := m.params.Items()
	require.Len(t, items, 2)
	assert.Equal(t, "LiPo", items[1].(paramItem).value.Value.AsString())

	require.Len(t, m.log, 2)
	assert.True(t, m.log[0].isError)
	assert.Contains(t, m.log[0].message, "unknown battery type")
	assert.Contains(t, m.log[1].message, "SAVE_CONFIG: NAK")

	view := m.View()
	assert.Contains(t, view, "MINIECU - MONITOR")
	assert.Contains(t, view, "IGN")
	assert.Contains(t, view, "4.88 V")
}

func TestMonitor_NewParamAppended(t *testing.T) {
	m := newTestModel()
	m, _ = update(t, m, monitorBatchMsg{messages: []msgs.Message{
		&msgs.ParamValue{EngineID: 1, ParamID: "ENGINE_ID", Value: param.Int32Value(1)},
	}})
	require.Len(t, m.params.Items(), 1)
}

func TestMonitor_CommandWithoutConnection(t *testing.T) {
	m := newTestModel()

	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("x")})
	require.NotNil(t, cmd)

	res, ok := cmd().(requestFailedMsg)
	require.True(t, ok)
	assert.True(t, errors.Is(res.err, client.ErrClosed))

	m, _ = update(t, m, res)
	require.Len(t, m.log, 1)
	assert.True(t, m.log[0].isError)
}

func TestMonitor_EditParam(t *testing.T) {
	m := newTestModel()
	m, _ = update(t, m, paramListMsg{values: []*msgs.ParamValue{
		{EngineID: 1, ParamID: "BATT_CELLS", Value: param.Int32Value(4), ParamCount: 1},
	}})

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	assert.Equal(t, focusInput, m.focus)
	assert.Equal(t, "BATT_CELLS", m.editing)

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyEsc})
	assert.Equal(t, focusParams, m.focus)
}

func TestMonitor_ConnectionLost(t *testing.T) {
	m := newTestModel()

	m, _ = update(t, m, connectionLostMsg{})
	m, _ = update(t, m, connectionLostMsg{})
	assert.True(t, m.connectionLost)
	require.Len(t, m.log, 1)
	assert.Contains(t, m.View(), "disconnected")

	m, cmd := update(t, m, reconnectedMsg{connInfo: "Serial: /dev/null"})
	assert.False(t, m.connectionLost)
	assert.Equal(t, "Serial: /dev/null", m.connInfo)
	assert.NotNil(t, cmd)
}

func TestWebSocketEndpoint(t *testing.T) {
	e, err := ecu.New(ecu.Options{Table: ecu.TableOptions{HWVersion: "test", Serial: "SN0001"}})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)

	srv := httptest.NewServer(wsEndpoint(ctx, e))
	defer srv.Close()

	conn, err := OpenWebSocketConnection("ws"+strings.TrimPrefix(srv.URL, "http"), "", "", false)
	require.NoError(t, err)
	defer conn.Close()

	c := client.New("ws", conn, 1)
	go c.Run(ctx)

	v, err := c.GetParam(ctx, ecu.ParamECUSerial)
	require.NoError(t, err)
	assert.Equal(t, "SN0001", v.Value.AsString())

	v, err = setParamText(ctx, c, ecu.ParamBattCells, "6")
	require.NoError(t, err)
	assert.Equal(t, int32(6), v.Value.AsInt32())

	_, err = setParamText(ctx, c, ecu.ParamBattCells, "six")
	assert.Error(t, err)

	r, err := c.Command(ctx, msgs.OpIgnitionEnable)
	require.NoError(t, err)
	assert.Equal(t, msgs.ResponseACK, r)
	assert.True(t, e.Simulator.Ignition())
}

func TestWebSocketConnection_CloseHandshake(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ws := newWebSocketConnection(conn)
		ws.Write([]byte{1, 2, 3})
		ws.Close()
	}))
	defer srv.Close()

	conn, err := OpenWebSocketConnection("ws"+strings.TrimPrefix(srv.URL, "http"), "", "", false)
	require.NoError(t, err)
	defer conn.Close()

	buf := make([]byte, 2)
	n, err := conn.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2}, buf[:n])
	n, err = conn.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{3}, buf[:n])

	_, err = conn.Read(buf)
	assert.ErrorIs(t, err, ErrConnectionClosed)
	assert.True(t, isClosed(err))

	_, err = conn.Read(buf)
	assert.ErrorIs(t, err, ErrConnectionClosed)
}

func TestOpenWebSocketConnection_BadScheme(t *testing.T) {
	_, err := OpenWebSocketConnection("http://localhost/", "", "", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported URL scheme")
}
