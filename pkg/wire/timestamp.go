// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package wire

import (
	"fmt"
	"time"
)

// Timestamp is a device time in DS3231 register layout.
//
//	byte 0  cents (ignored by the node hardware)
//	byte 1  seconds, BCD
//	byte 2  minutes, BCD
//	byte 3  hour: bit 6 set selects 12h mode, bit 5 is PM (12h) or 20-hour digit (24h)
//	byte 4  day of week, 1..7 with Sunday = 1
//	byte 5  day of month, BCD
//	byte 6  month, BCD (bit 7 century flag, ignored)
//	byte 7  year within century, BCD
type Timestamp struct {
	Cents   uint8
	Seconds uint8
	Minutes uint8
	Hour    uint8
	Weekday uint8
	Date    uint8
	Month   uint8
	Year    uint8
}

func toBCD(v int) uint8 {
	return uint8((v/10)<<shiftTens | v%10)
}

func fromBCD(b uint8, tensMask uint8) int {
	return 10*int((b&tensMask)>>shiftTens) + int(b&maskOnes)
}

// EncodeDeviceTime converts a host time into a 24-hour device timestamp.
// The time is taken in UTC and truncated to the second.
func EncodeDeviceTime(t time.Time) Timestamp {
	u := t.UTC()
	return Timestamp{
		Seconds: toBCD(u.Second()),
		Minutes: toBCD(u.Minute()),
		Hour:    toBCD(u.Hour()),
		Weekday: uint8(u.Weekday()) + 1,
		Date:    toBCD(u.Day()),
		Month:   toBCD(int(u.Month())),
		Year:    toBCD(u.Year() - centuryBase),
	}
}

// EncodeDeviceTime12 converts a host time into a 12-hour device timestamp,
// the layout used by node clocks configured for AM/PM operation.
func EncodeDeviceTime12(t time.Time) Timestamp {
	ts := EncodeDeviceTime(t)
	h := t.UTC().Hour()
	pm := h >= 12
	h %= 12
	if h == 0 {
		h = 12
	}
	ts.Hour = hour12Mode | toBCD(h)
	if pm {
		ts.Hour |= maskHourTwenty
	}
	return ts
}

// Is12Hour reports whether the hour register is in 12-hour mode.
func (ts Timestamp) Is12Hour() bool {
	return ts.Hour&hour12Mode != 0
}

// hour24 decodes the hour register into 0..23.
func (ts Timestamp) hour24() int {
	if !ts.Is12Hour() {
		return 20*int((ts.Hour&maskHourTwenty)>>shiftHourTwenty) +
			10*int((ts.Hour&maskHourTens)>>shiftTens) +
			int(ts.Hour&maskOnes)
	}

	h := 10*int((ts.Hour&maskHourTens)>>shiftTens) + int(ts.Hour&maskOnes)
	if ts.Hour&maskHourTwenty != 0 {
		if h < 12 {
			h += 12
		}
	} else if h == 12 {
		h = 0
	}
	return h
}

// DecodeDeviceTime converts a device timestamp into a UTC host time.
// Digits outside their BCD range are taken as-is and normalized by
// time.Date, so a malformed register never makes decoding fail.
func DecodeDeviceTime(ts Timestamp) time.Time {
	return time.Date(
		centuryBase+fromBCD(ts.Year, maskYearTens),
		time.Month(fromBCD(ts.Month, maskMonthTens)),
		fromBCD(ts.Date, maskDateTens),
		ts.hour24(),
		fromBCD(ts.Minutes, maskMinTens),
		fromBCD(ts.Seconds, maskSecTens),
		0,
		time.UTC,
	)
}

// Time is shorthand for DecodeDeviceTime(ts).
func (ts Timestamp) Time() time.Time {
	return DecodeDeviceTime(ts)
}

// IsZero reports whether every register is zero. The gateway never fills in
// the next-rendezvous field of a plan, so it is sent as a zero timestamp.
func (ts Timestamp) IsZero() bool {
	return ts == Timestamp{}
}

// MarshalBinary returns the 8-byte wire form.
func (ts Timestamp) MarshalBinary() ([]byte, error) {
	b := ts.Bytes()
	return b[:], nil
}

// Bytes returns the 8-byte wire form as an array.
func (ts Timestamp) Bytes() [TimestampSize]byte {
	return [TimestampSize]byte{
		ts.Cents, ts.Seconds, ts.Minutes, ts.Hour,
		ts.Weekday, ts.Date, ts.Month, ts.Year,
	}
}

// UnmarshalBinary parses the 8-byte wire form.
func (ts *Timestamp) UnmarshalBinary(data []byte) error {
	if len(data) < TimestampSize {
		return fmt.Errorf("timestamp too short: %d bytes (want %d)", len(data), TimestampSize)
	}
	*ts = Timestamp{
		Cents:   data[0],
		Seconds: data[1],
		Minutes: data[2],
		Hour:    data[3],
		Weekday: data[4],
		Date:    data[5],
		Month:   data[6],
		Year:    data[7],
	}
	return nil
}

// ParseTimestamp is a convenience wrapper around UnmarshalBinary.
func ParseTimestamp(data []byte) (Timestamp, error) {
	var ts Timestamp
	err := ts.UnmarshalBinary(data)
	return ts, err
}
