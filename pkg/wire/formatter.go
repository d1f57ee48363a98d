// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package wire

import (
	"fmt"
	"strings"
)

// FormatCommand returns the human-readable name for a command byte
func FormatCommand(cmd byte) string {
	switch cmd {
	case CmdOkay:
		return "OKAY"
	case CmdInit:
		return "INIT"
	case CmdData:
		return "DATA"
	case CmdDump:
		return "DUMP"
	case CmdTime:
		return "TIME"
	case CmdTest:
		return "TEST"
	case CmdFini:
		return "FINI"
	default:
		return "UNKNOWN"
	}
}

// FormatTimestamp renders the raw registers and the decoded time
func FormatTimestamp(ts Timestamp) string {
	b := ts.Bytes()
	mode := "24h"
	if ts.Is12Hour() {
		mode = "12h"
	}
	return fmt.Sprintf("% X (%s) => %s", b[:], mode, ts.Time().Format("2006-01-02 15:04:05 MST"))
}

// FormatSample renders raw and scaled readings of one sample
func FormatSample(s Sample) string {
	raw := s.Raw()
	c := s.Celsius()
	parts := make([]string, SensorsPerNode)
	for i := range parts {
		parts[i] = fmt.Sprintf("T%d=%.2f°C (%d)", i+1, c[i], raw[i])
	}
	return strings.Join(parts, " ")
}

// FormatWindow renders a window header and each sample on its own line
func FormatWindow(w Window) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Start:    %s\n", FormatTimestamp(w.Header.Start))
	fmt.Fprintf(&sb, "Interval: %ds\n", w.Header.IntervalSeconds)
	fmt.Fprintf(&sb, "Count:    %d\n", w.Header.Count)

	for i, r := range w.Readings() {
		fmt.Fprintf(&sb, "  [%3d] %s  %s\n", i, r.Time.Format("2006-01-02 15:04:05"), FormatSample(w.Samples[i]))
	}
	return sb.String()
}

// FormatPlan renders a rendezvous plan
func FormatPlan(p Plan) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Collection start: %s\n", FormatTimestamp(p.CollectionStart))
	if p.NextRendezvous.IsZero() {
		sb.WriteString("Next rendezvous:  (unset)\n")
	} else {
		fmt.Fprintf(&sb, "Next rendezvous:  %s\n", FormatTimestamp(p.NextRendezvous))
	}
	fmt.Fprintf(&sb, "Interval:         %ds\n", p.IntervalSeconds)
	return sb.String()
}
