// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/hivegate/internal/link"
	"github.com/Thermoquad/hivegate/pkg/wire"
)

var probeTimeout int

var probeCmd = &cobra.Command{
	Use:   "probe [address]",
	Short: "Test a node link by waiting for its first command",
	Long: `Open the link to one node, send OKAY and wait for the node's first command
byte. Nothing is stored and no plan is sent; the link is closed as soon as
the command arrives.

Exit codes:
  0 - Command received before timeout
  1 - Timeout reached without receiving a command
  2 - Connection error

Useful for checking a Bluetooth pairing or WebSocket bridge before running
collect.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)
	probeCmd.Flags().IntVar(&probeTimeout, "timeout", 10, "Timeout in seconds to wait for a command")
}

func runProbe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cfg, os.Stderr, false)
	registry, err := loadRegistry(cfg, logger)
	if err != nil {
		return err
	}

	a := &app{cfg: cfg, log: logger, registry: registry}
	nodes, err := a.resolveNodes(args)
	if err != nil {
		return err
	}
	if len(nodes) != 1 {
		return fmt.Errorf("probe reaches one node, registry has %d; name an address", len(nodes))
	}
	node := nodes[0]

	fmt.Printf("Hivegate - Link Probe\n")
	fmt.Printf("Node: %s (%s)\n", node.Tag, node.PeerID)
	fmt.Printf("Connection: %s\n", node.Target.Describe())
	fmt.Printf("Timeout: %d seconds\n\n", probeTimeout)

	s, err := link.Open(cmd.Context(), node.Target)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer s.Close()

	start := time.Now()
	if err := link.Send(s, []byte{wire.CmdOkay}); err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}

	b, err := s.ReadByte(time.Duration(probeTimeout) * time.Second)
	switch {
	case err == nil:
		fmt.Printf("✓ Received %s (0x%02X) after %s\n", wire.FormatCommand(b), b, time.Since(start).Round(time.Millisecond))
		return nil
	case errors.Is(err, link.ErrTimeout):
		fmt.Printf("✗ Timeout: no command within %d seconds\n", probeTimeout)
		s.Close()
		os.Exit(1)
	default:
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		s.Close()
		os.Exit(2)
	}
	return nil
}
