// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package wire

import (
	"encoding/binary"
	"fmt"
	"time"
)

// WindowHeader precedes a run of samples sent by a node (DATA and DUMP).
type WindowHeader struct {
	Start           Timestamp
	IntervalSeconds uint32
	Count           uint32
}

// MarshalBinary returns the 16-byte wire form.
func (h WindowHeader) MarshalBinary() ([]byte, error) {
	b := make([]byte, WindowHeaderSize)
	start := h.Start.Bytes()
	copy(b, start[:])
	binary.LittleEndian.PutUint32(b[8:12], h.IntervalSeconds)
	binary.LittleEndian.PutUint32(b[12:16], h.Count)
	return b, nil
}

// UnmarshalBinary parses the 16-byte wire form.
func (h *WindowHeader) UnmarshalBinary(data []byte) error {
	if len(data) < WindowHeaderSize {
		return fmt.Errorf("window header too short: %d bytes (want %d)", len(data), WindowHeaderSize)
	}
	if err := h.Start.UnmarshalBinary(data[:TimestampSize]); err != nil {
		return err
	}
	h.IntervalSeconds = binary.LittleEndian.Uint32(data[8:12])
	h.Count = binary.LittleEndian.Uint32(data[12:16])
	return nil
}

// PayloadSize is the number of sample bytes that follow the header.
func (h WindowHeader) PayloadSize() int {
	return int(h.Count) * SampleSize
}

// Window is a decoded collection window: its header and the samples that
// followed it on the wire.
type Window struct {
	Header  WindowHeader
	Samples []Sample
}

// Reading is one sample placed on the host time axis.
type Reading struct {
	Time    time.Time
	Celsius [SensorsPerNode]float64
}

// Readings stamps sample i with start + i*interval.
func (w Window) Readings() []Reading {
	start := DecodeDeviceTime(w.Header.Start)
	step := time.Duration(w.Header.IntervalSeconds) * time.Second

	out := make([]Reading, len(w.Samples))
	for i, s := range w.Samples {
		out[i] = Reading{
			Time:    start.Add(time.Duration(i) * step),
			Celsius: s.Celsius(),
		}
	}
	return out
}

// ParseSamples splits a payload into samples. The payload length must be a
// multiple of SampleSize.
func ParseSamples(payload []byte) ([]Sample, error) {
	if len(payload)%SampleSize != 0 {
		return nil, fmt.Errorf("sample payload length %d is not a multiple of %d", len(payload), SampleSize)
	}
	samples := make([]Sample, len(payload)/SampleSize)
	for i := range samples {
		copy(samples[i][:], payload[i*SampleSize:])
	}
	return samples, nil
}

// MarshalBinary returns the header followed by all samples.
func (w Window) MarshalBinary() ([]byte, error) {
	h := w.Header
	h.Count = uint32(len(w.Samples))
	b, _ := h.MarshalBinary()
	for _, s := range w.Samples {
		b = append(b, s[:]...)
	}
	return b, nil
}

// Plan is the rendezvous answer sent to a node after INIT and DATA.
type Plan struct {
	CollectionStart Timestamp
	NextRendezvous  Timestamp
	IntervalSeconds uint32
}

// MarshalBinary returns the 20-byte wire form.
func (p Plan) MarshalBinary() ([]byte, error) {
	b := make([]byte, PlanSize)
	start := p.CollectionStart.Bytes()
	next := p.NextRendezvous.Bytes()
	copy(b[0:8], start[:])
	copy(b[8:16], next[:])
	binary.LittleEndian.PutUint32(b[16:20], p.IntervalSeconds)
	return b, nil
}

// UnmarshalBinary parses the 20-byte wire form.
func (p *Plan) UnmarshalBinary(data []byte) error {
	if len(data) < PlanSize {
		return fmt.Errorf("plan too short: %d bytes (want %d)", len(data), PlanSize)
	}
	if err := p.CollectionStart.UnmarshalBinary(data[0:8]); err != nil {
		return err
	}
	if err := p.NextRendezvous.UnmarshalBinary(data[8:16]); err != nil {
		return err
	}
	p.IntervalSeconds = binary.LittleEndian.Uint32(data[16:20])
	return nil
}
