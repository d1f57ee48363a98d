// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/hivegate/pkg/wire"
)

var decodeMaxCount int

var decodeCmd = &cobra.Command{
	Use:   "decode",
	Short: "Decode captured wire records",
	Long: `Decode a record captured from a node link and print it in human-readable form.

Input is hex; spaces and colons between bytes are ignored:
  hivegate decode timestamp "00 30 10 05 15 03 24 00"
  hivegate decode window 003010051503240058020000...

Implausible contents (bad BCD digits, zero interval, oversized count) are
reported as warnings; decoding still succeeds.`,
}

func init() {
	rootCmd.AddCommand(decodeCmd)

	decodeCmd.AddCommand(&cobra.Command{
		Use:   "timestamp <hex>",
		Short: "Decode an 8-byte device timestamp",
		Args:  cobra.ExactArgs(1),
		RunE:  runDecodeTimestamp,
	})
	decodeCmd.AddCommand(&cobra.Command{
		Use:   "sample <hex>",
		Short: "Decode a 5-byte temperature sample",
		Args:  cobra.ExactArgs(1),
		RunE:  runDecodeSample,
	})
	windowCmd := &cobra.Command{
		Use:   "window <hex>",
		Short: "Decode a window header and the samples that follow it",
		Args:  cobra.ExactArgs(1),
		RunE:  runDecodeWindow,
	}
	windowCmd.Flags().IntVar(&decodeMaxCount, "max-count", 0, "Warn when the header count exceeds this (0 disables)")
	decodeCmd.AddCommand(windowCmd)
	decodeCmd.AddCommand(&cobra.Command{
		Use:   "plan <hex>",
		Short: "Decode a 20-byte rendezvous plan",
		Args:  cobra.ExactArgs(1),
		RunE:  runDecodePlan,
	})
}

// parseHex accepts "0A 1B", "0a:1b" and "0a1b"
func parseHex(s string) ([]byte, error) {
	clean := strings.NewReplacer(" ", "", ":", "", "\t", "", "\n", "").Replace(s)
	clean = strings.TrimPrefix(strings.TrimPrefix(clean, "0x"), "0X")
	b, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("invalid hex: %w", err)
	}
	return b, nil
}

func printAnomalies(cmd *cobra.Command, errs []wire.ValidationError) {
	for _, e := range errs {
		fmt.Fprintf(cmd.OutOrStdout(), "[WARNING] %s\n", e.Message)
	}
}

func runDecodeTimestamp(cmd *cobra.Command, args []string) error {
	b, err := parseHex(args[0])
	if err != nil {
		return err
	}
	ts, err := wire.ParseTimestamp(b)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), wire.FormatTimestamp(ts))
	printAnomalies(cmd, wire.ValidateTimestamp(ts))
	return nil
}

func runDecodeSample(cmd *cobra.Command, args []string) error {
	b, err := parseHex(args[0])
	if err != nil {
		return err
	}
	s, err := wire.ParseSample(b)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), wire.FormatSample(s))
	return nil
}

func runDecodeWindow(cmd *cobra.Command, args []string) error {
	b, err := parseHex(args[0])
	if err != nil {
		return err
	}

	var h wire.WindowHeader
	if err := h.UnmarshalBinary(b); err != nil {
		return err
	}
	payload := b[wire.WindowHeaderSize:]
	anomalies := wire.ValidateWindowHeader(h, decodeMaxCount)

	// Decode what is there; a truncated capture still shows its samples.
	usable := len(payload) - len(payload)%wire.SampleSize
	if usable > h.PayloadSize() {
		usable = h.PayloadSize()
	}
	if len(payload) != h.PayloadSize() {
		anomalies = append(anomalies, wire.ValidationError{
			Type:    wire.AnomalyLengthMismatch,
			Message: fmt.Sprintf("payload is %d bytes, header count=%d wants %d", len(payload), h.Count, h.PayloadSize()),
		})
	}
	samples, err := wire.ParseSamples(payload[:usable])
	if err != nil {
		return err
	}

	w := wire.Window{Header: h, Samples: samples}
	fmt.Fprint(cmd.OutOrStdout(), wire.FormatWindow(w))
	printAnomalies(cmd, anomalies)
	return nil
}

func runDecodePlan(cmd *cobra.Command, args []string) error {
	b, err := parseHex(args[0])
	if err != nil {
		return err
	}
	var p wire.Plan
	if err := p.UnmarshalBinary(b); err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), wire.FormatPlan(p))
	printAnomalies(cmd, wire.ValidateTimestamp(p.CollectionStart))
	return nil
}
