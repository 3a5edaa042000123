// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package pbstx

import "github.com/sigurn/crc16"

var crcTable = crc16.MakeTable(crc16.CRC16_XMODEM)

// CalculateCRC computes CRC-16/XMODEM over data
func CalculateCRC(data []byte) uint16 {
	return crc16.Checksum(data, crcTable)
}

// UpdateCRC continues a CRC-16/XMODEM computation
func UpdateCRC(crc uint16, data []byte) uint16 {
	return crc16.Update(crc, data, crcTable)
}

// frameCRC computes the checksum over seq, little-endian length and payload
func frameCRC(seq uint8, payload []byte) uint16 {
	n := len(payload)
	crc := CalculateCRC([]byte{seq, byte(n), byte(n >> 8)})
	return UpdateCRC(crc, payload)
}
