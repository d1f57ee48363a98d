// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/hivegate/internal/gateway"
)

var collectCmd = &cobra.Command{
	Use:   "collect [address...]",
	Short: "Run one session with each node and exit",
	Long: `Visit nodes one after another and run a single session with each.

Without arguments every node in the device registry is visited. Addresses
are Bluetooth MACs as listed in the registry (case does not matter). With
--port or --url a single node is reached on that link.

Exits with status 1 if any session ended in error or a link could not be
opened.`,
	RunE: runCollect,
}

func init() {
	rootCmd.AddCommand(collectCmd)
}

func runCollect(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd, os.Stderr, false)
	if err != nil {
		return err
	}
	defer a.Close()

	nodes, err := a.resolveNodes(args)
	if err != nil {
		return err
	}

	results, err := a.gateway.CollectOnce(cmd.Context(), nodes)
	if a.spool != nil && a.spool.Pending() > 0 {
		a.log.Warn().Int("pending", a.spool.Pending()).Str("path", a.spool.Path()).
			Msg("store unavailable, records spooled; run 'hivegate spool flush' later")
	}

	fmt.Print(a.gateway.Tracker().String())
	if err != nil {
		return err
	}
	if n := gateway.Failed(results); n > 0 {
		return fmt.Errorf("%d of %d sessions failed", n, len(results))
	}
	return nil
}
