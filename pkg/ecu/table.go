// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ecu

import (
	"fmt"
	"strings"

	"github.com/Thermoquad/miniecu/pkg/diag"
	"github.com/Thermoquad/miniecu/pkg/param"
	"github.com/Thermoquad/miniecu/pkg/session"
	"github.com/denisbrodbeck/machineid"
	"github.com/golang/glog"
)

// FormatVersion of the parameter table, stored in the flash header (1.1.0)
const FormatVersion uint32 = 0x00010100

// Parameter identifiers
const (
	ParamEngineName   = "ENGINE_NAME"
	ParamEngineSerial = "ENGINE_SERIAL"
	ParamECUSerial    = "ECU_SERIAL"
	ParamECUHWVersion = "ECU_HW_VER"
	ParamEngineID     = session.ParamEngineID
	ParamSerial1Baud  = "SERIAL1_BAUD"
	ParamStatusPeriod = session.ParamStatusPeriod
	ParamBattVD1Drop  = "BATT_VD1_VD"
	ParamBattCells    = "BATT_CELLS"
	ParamBattType     = "BATT_TYPE"
	ParamOilPMode     = "OILP_MODE"
	ParamTempOverheat = "TEMP_OVERHEAT"
	ParamDebugADCRaw  = session.ParamDebugADCRaw
	ParamDebugMemdump = session.ParamDebugMemdump
	ParamSaveCount    = "SAVE_COUNT"
)

// Battery chemistries accepted by BATT_TYPE
const (
	BattNiMH    = "NiMH"
	BattNiCd    = "NiCd"
	BattLiIon   = "LiIon"
	BattLiPo    = "LiPo"
	BattLiFePo  = "LiFePo"
	BattPb      = "Pb"
	BattUnknown = "UNK"

	defaultBattType = BattNiMH
)

// Oil temperature sensor modes accepted by OILP_MODE
const (
	OilPDisabled = "Disabled"
	OilPNTC10k   = "NTC10k"
)

// DefaultBaud of SERIAL1
const DefaultBaud = 57600

var standardBauds = []int32{9600, 19200, 38400, 57600, 115200, 230400, 460800, 921600}

// minCellVoltage per chemistry, used for the undervoltage check
var minCellVoltage = map[string]float32{
	BattNiMH:   1.0,
	BattNiCd:   1.0,
	BattLiIon:  3.0,
	BattLiPo:   3.0,
	BattLiFePo: 2.8,
	BattPb:     1.66,
}

// canonicalBattType matches name case-insensitively
func canonicalBattType(name string) (string, bool) {
	for k := range minCellVoltage {
		if strings.EqualFold(k, name) {
			return k, true
		}
	}
	return "", false
}

// TableOptions customizes the identity and hooks of the parameter table
type TableOptions struct {
	// HWVersion reported as ECU_HW_VER
	HWVersion string
	// Serial overrides the machine derived ECU_SERIAL
	Serial string
	// SetBaud applies a SERIAL1_BAUD change; nil ignores it
	SetBaud func(baud int)
}

// Table builds the ECU parameter table. Change handlers report problems to
// sink and update sim.
func Table(opts TableOptions, sim *Simulator, sink diag.Sink) []param.Entry {
	if sink == nil {
		sink = diag.Log
	}
	hw := opts.HWVersion
	if hw == "" {
		hw = "miniecu_sim"
	}

	ecuSerial := param.ChangeFunc(func(id string, old, v param.Value) param.Value {
		if opts.Serial != "" {
			return param.StringValue(opts.Serial)
		}
		return param.StringValue(MachineSerial())
	})
	hwVersion := param.ChangeFunc(func(id string, old, v param.Value) param.Value {
		return param.StringValue(hw)
	})

	serialBaud := param.ChangeFunc(func(id string, old, v param.Value) param.Value {
		for _, b := range standardBauds {
			if v.AsInt32() == b {
				sink.Printf(diag.Warn, "serial1 baud change: %d", b)
				if opts.SetBaud != nil {
					opts.SetBaud(int(b))
				}
				return v
			}
		}
		return old
	})

	battType := param.ChangeFunc(func(id string, old, v param.Value) param.Value {
		name, ok := canonicalBattType(v.AsString())
		if !ok {
			sim.setBattery(BattUnknown)
			sink.Printf(diag.Error, "BATT: unknown battery type")
			return param.StringValue(defaultBattType)
		}
		sim.setBattery(name)
		return v
	})

	oilpMode := param.ChangeFunc(func(id string, old, v param.Value) param.Value {
		switch {
		case strings.EqualFold(v.AsString(), OilPDisabled):
			sim.setOilSensor(false)
		case strings.EqualFold(v.AsString(), OilPNTC10k):
			sim.setOilSensor(true)
		default:
			sim.setOilSensor(false)
			sink.Printf(diag.Error, "OILP: unknown mode")
			return param.StringValue(OilPDisabled)
		}
		return v
	})

	return []param.Entry{
		param.StringEntry(ParamEngineName, "mfg & name", nil),
		param.StringEntry(ParamEngineSerial, "serial no", nil),
		param.StringEntry(ParamECUSerial, "TBD", ecuSerial).WithFlags(param.ReadOnly | param.NoSave),
		param.StringEntry(ParamECUHWVersion, "", hwVersion).WithFlags(param.ReadOnly | param.NoSave),
		param.Int32Entry(ParamEngineID, 1, 1, 255, nil),
		param.Int32Entry(ParamSerial1Baud, DefaultBaud, 9600, 921600, serialBaud),
		param.Int32Entry(ParamStatusPeriod, 1000, 100, 60000, nil),
		param.FloatEntry(ParamBattVD1Drop, 0.45, 0.0, 1.0, nil),
		param.Int32Entry(ParamBattCells, 4, 1, 10, nil),
		param.StringEntry(ParamBattType, defaultBattType, battType),
		param.StringEntry(ParamOilPMode, OilPDisabled, oilpMode),
		param.FloatEntry(ParamTempOverheat, 250.0, 0.0, 400.0, nil),
		param.BoolEntry(ParamDebugADCRaw, false, nil).WithFlags(param.NoSave),
		param.BoolEntry(ParamDebugMemdump, false, nil).WithFlags(param.NoSave),
		param.Int32Entry(ParamSaveCount, 0, 0, 0x7fffffff, nil).WithFlags(param.ReadOnly | param.NoSave),
	}
}

// MachineSerial derives a stable serial number from the host machine id
func MachineSerial() string {
	id, err := machineid.ProtectedID("miniecu")
	if err != nil || len(id) < 12 {
		glog.Warningf("ecu: machine id unavailable: %v", err)
		return "SN000000000000"
	}
	return fmt.Sprintf("SN%s", strings.ToUpper(id[:12]))
}
