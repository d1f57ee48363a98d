// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package wire implements the binary records exchanged between the gateway
// and BeeWarm temperature logger nodes.
//
// Every record has a fixed layout with no padding. Multi-byte integers are
// little-endian. Timestamps follow the DS3231 real-time-clock register layout
// and temperature readings are packed as four 10-bit fields in five bytes.
package wire

// Command bytes sent by a node to the gateway. The gateway answers with
// CmdOkay where the protocol requires an acknowledgement.
const (
	CmdOkay = 0x00
	CmdInit = 0x01
	CmdData = 0x02
	CmdDump = 0x03
	CmdTime = 0x04
	CmdTest = 0x05
	CmdFini = 0x06
)

// Record sizes in bytes
const (
	TimestampSize    = 8
	SampleSize       = 5
	WindowHeaderSize = TimestampSize + 4 + 4
	PlanSize         = 2*TimestampSize + 4
)

// Temperature conversion: raw 10-bit ADC values span 0..110 °C.
const (
	SampleBits     = 10
	SampleMask     = 0x3FF
	SampleMaxRaw   = SampleMask
	PhysicalRange  = 110.0
	SampleScale    = PhysicalRange / 1024.0
	SensorsPerNode = 4
)

// Protocol policy defaults of the reference deployment
const (
	DefaultByteTimeoutMs   = 8000
	DefaultMaxRounds       = 4
	DefaultGranularityMin  = 5
	DefaultGuardSeconds    = 10
	DefaultIntervalSeconds = 300
)

// DS3231 register masks
const (
	maskOnes    = 0x0F
	shiftTens   = 4
	maskSecTens = 0x70
	maskMinTens = 0x70

	// bit 5 is the 20-hour digit in 24h mode and the PM flag in 12h mode
	maskHourTens    = 0x10
	maskHourTwenty  = 0x20
	shiftHourTwenty = 5
	hour12Mode      = 0x40

	maskDateTens  = 0x30
	maskMonthTens = 0x10
	centuryBit    = 0x80
	maskYearTens  = 0xF0

	// 2-digit years are relative to this century
	centuryBase = 2000
)
