// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package wire

import "fmt"

// Sample is one readout of the four temperature sensors of a node, packed as
// four 10-bit fields starting at bit 0 of byte 0:
//
//	MSB                                                                LSB
//	dddddddd | ddcccccc | ccccbbbb | bbbbbbaa | aaaaaaaa
//	 byte 4     byte 3     byte 2     byte 1     byte 0
type Sample [SampleSize]byte

// PackSample packs four raw readings. Values above 1023 are masked to 10 bits.
func PackSample(raw [SensorsPerNode]uint16) Sample {
	var acc uint64
	for i, v := range raw {
		acc |= uint64(v&SampleMask) << (SampleBits * i)
	}

	var s Sample
	for i := range s {
		s[i] = byte(acc >> (8 * i))
	}
	return s
}

// Raw unpacks the four 10-bit readings.
func (s Sample) Raw() [SensorsPerNode]uint16 {
	var acc uint64
	for i, b := range s {
		acc |= uint64(b) << (8 * i)
	}

	var raw [SensorsPerNode]uint16
	for i := range raw {
		raw[i] = uint16(acc>>(SampleBits*i)) & SampleMask
	}
	return raw
}

// Celsius returns the four readings in degrees Celsius.
func (s Sample) Celsius() [SensorsPerNode]float64 {
	return DecodeTemperatures(s)
}

// DecodeTemperatures unpacks a sample and scales each reading by 110/1024.
func DecodeTemperatures(s Sample) [SensorsPerNode]float64 {
	var out [SensorsPerNode]float64
	for i, v := range s.Raw() {
		out[i] = float64(v) * SampleScale
	}
	return out
}

// ParseSample copies the first five bytes of data into a Sample.
func ParseSample(data []byte) (Sample, error) {
	var s Sample
	if len(data) < SampleSize {
		return s, fmt.Errorf("sample too short: %d bytes (want %d)", len(data), SampleSize)
	}
	copy(s[:], data)
	return s, nil
}
