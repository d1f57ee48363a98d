// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// Hivegate - BeeWarm sensor node gateway
//
// Collects temperature windows from hive sensor nodes over Bluetooth serial
// or WebSocket bridges and stores them in TimescaleDB.

package main

import (
	"fmt"
	"os"

	"github.com/Thermoquad/hivegate/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
