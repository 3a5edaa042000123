// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package msgs

import "fmt"

// Tag identifies the message variant. It is the field number of the variant
// inside the top-level message.
type Tag uint8

const (
	TagNone Tag = iota
	TagStatus
	TagCommand
	TagParamRequest
	TagParamSet
	TagParamValue
	TagStatusText
	TagTimeReference
	TagMemoryDumpRequest
	TagMemoryDumpPage
)

var tagNames = map[Tag]string{
	TagStatus:            "STATUS",
	TagCommand:           "COMMAND",
	TagParamRequest:      "PARAM_REQUEST",
	TagParamSet:          "PARAM_SET",
	TagParamValue:        "PARAM_VALUE",
	TagStatusText:        "STATUS_TEXT",
	TagTimeReference:     "TIME_REFERENCE",
	TagMemoryDumpRequest: "MEMORY_DUMP_REQUEST",
	TagMemoryDumpPage:    "MEMORY_DUMP_PAGE",
}

func (t Tag) String() string {
	if name, ok := tagNames[t]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(%d)", uint8(t))
}

// Operation is a command operation code
type Operation uint32

const (
	OpUnknown Operation = iota
	OpEmergencyStop
	OpIgnitionEnable
	OpIgnitionDisable
	OpStarterEnable
	OpStarterDisable
	OpDoEngineStart
	OpStopEngineStart
	OpRefuelDone
	OpSaveConfig
	OpLoadConfig
	OpDoEraseConfig
	OpDoEraseLog
	OpDoReboot
)

var operationNames = []string{
	"UNKNOWN",
	"EMERGENCY_STOP",
	"IGNITION_ENABLE",
	"IGNITION_DISABLE",
	"STARTER_ENABLE",
	"STARTER_DISABLE",
	"DO_ENGINE_START",
	"STOP_ENGINE_START",
	"REFUEL_DONE",
	"SAVE_CONFIG",
	"LOAD_CONFIG",
	"DO_ERASE_CONFIG",
	"DO_ERASE_LOG",
	"DO_REBOOT",
}

func (o Operation) String() string {
	if int(o) < len(operationNames) {
		return operationNames[o]
	}
	return fmt.Sprintf("OPERATION(%d)", uint32(o))
}

// ParseOperation converts an operation name to its code
func ParseOperation(name string) (Operation, error) {
	for i, n := range operationNames {
		if i > 0 && n == name {
			return Operation(i), nil
		}
	}
	return OpUnknown, fmt.Errorf("unknown operation: %q", name)
}

// Response is the outcome of a command. ResponseNone marks a request.
type Response uint32

const (
	ResponseNone Response = iota
	ResponseACK
	ResponseNAK
	ResponseInProgress
)

func (r Response) String() string {
	switch r {
	case ResponseNone:
		return "NONE"
	case ResponseACK:
		return "ACK"
	case ResponseNAK:
		return "NAK"
	case ResponseInProgress:
		return "IN_PROGRESS"
	default:
		return fmt.Sprintf("RESPONSE(%d)", uint32(r))
	}
}

// MemoryType selects the memory a dump reads from
type MemoryType uint32

const (
	MemoryRAM MemoryType = iota
	MemoryFlash
)

func (t MemoryType) String() string {
	switch t {
	case MemoryRAM:
		return "RAM"
	case MemoryFlash:
		return "FLASH"
	default:
		return fmt.Sprintf("MEMORY(%d)", uint32(t))
	}
}
