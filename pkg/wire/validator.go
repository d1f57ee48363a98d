// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package wire

import "fmt"

// AnomalyType represents different kinds of implausible record contents
type AnomalyType int

const (
	AnomalyInvalidDigit AnomalyType = iota
	AnomalyInvalidField
	AnomalyInvalidInterval
	AnomalyCountExceeded
	AnomalyLengthMismatch
)

// ValidationError describes a single anomaly. Decoding never fails on these;
// they are reported so callers can log or count suspicious records.
type ValidationError struct {
	Type    AnomalyType
	Message string
	Details map[string]interface{}
}

// Error implements the error interface
func (v *ValidationError) Error() string {
	return v.Message
}

func digitsValid(b, tensMask uint8, maxTens int) bool {
	return int(b&maskOnes) <= 9 && int((b&tensMask)>>shiftTens) <= maxTens
}

// ValidateTimestamp checks that each register holds a plausible BCD value.
func ValidateTimestamp(ts Timestamp) []ValidationError {
	errs := []ValidationError{}

	check := func(name string, raw, tensMask uint8, maxTens, lo, hi int) {
		v := fromBCD(raw, tensMask)
		if !digitsValid(raw, tensMask, maxTens) {
			errs = append(errs, ValidationError{
				Type:    AnomalyInvalidDigit,
				Message: fmt.Sprintf("%s register 0x%02X is not valid BCD", name, raw),
				Details: map[string]interface{}{"field": name, "raw": raw},
			})
			return
		}
		if v < lo || v > hi {
			errs = append(errs, ValidationError{
				Type:    AnomalyInvalidField,
				Message: fmt.Sprintf("%s=%d out of range [%d, %d]", name, v, lo, hi),
				Details: map[string]interface{}{"field": name, "value": v, "min": lo, "max": hi},
			})
		}
	}

	check("seconds", ts.Seconds, maskSecTens, 5, 0, 59)
	check("minutes", ts.Minutes, maskMinTens, 5, 0, 59)
	check("date", ts.Date, maskDateTens, 3, 1, 31)
	check("month", ts.Month, maskMonthTens, 1, 1, 12)
	check("year", ts.Year, maskYearTens, 9, 0, 99)

	if ts.Is12Hour() {
		check("hour", ts.Hour, maskHourTens, 1, 1, 12)
	} else if h := ts.hour24(); ts.Hour&maskOnes > 9 || h > 23 {
		errs = append(errs, ValidationError{
			Type:    AnomalyInvalidField,
			Message: fmt.Sprintf("hour register 0x%02X out of range", ts.Hour),
			Details: map[string]interface{}{"field": "hour", "raw": ts.Hour},
		})
	}

	if ts.Weekday < 1 || ts.Weekday > 7 {
		errs = append(errs, ValidationError{
			Type:    AnomalyInvalidField,
			Message: fmt.Sprintf("weekday=%d out of range [1, 7]", ts.Weekday),
			Details: map[string]interface{}{"field": "weekday", "value": ts.Weekday},
		})
	}

	return errs
}

// ValidateWindowHeader checks a window header against the largest count the
// caller is willing to receive. maxCount <= 0 disables the count check.
func ValidateWindowHeader(h WindowHeader, maxCount int) []ValidationError {
	errs := ValidateTimestamp(h.Start)

	if h.IntervalSeconds == 0 {
		errs = append(errs, ValidationError{
			Type:    AnomalyInvalidInterval,
			Message: "window interval is zero",
			Details: map[string]interface{}{"interval": h.IntervalSeconds},
		})
	}

	if maxCount > 0 && uint64(h.Count) > uint64(maxCount) {
		errs = append(errs, ValidationError{
			Type:    AnomalyCountExceeded,
			Message: fmt.Sprintf("window count=%d exceeds limit %d", h.Count, maxCount),
			Details: map[string]interface{}{"count": h.Count, "max": maxCount},
		})
	}

	return errs
}
