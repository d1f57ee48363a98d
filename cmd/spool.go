// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/hivegate/internal/config"
	"github.com/Thermoquad/hivegate/internal/logging"
	"github.com/Thermoquad/hivegate/internal/spool"
	"github.com/Thermoquad/hivegate/internal/store/timescale"
)

var spoolCmd = &cobra.Command{
	Use:   "spool",
	Short: "Inspect or replay records buffered while the database was down",
	Long: `Records that could not be written because the database was unreachable are
appended to store.spool_dir. 'serve' replays them at the start of every
cycle; these commands do it by hand.`,
}

func init() {
	rootCmd.AddCommand(spoolCmd)

	spoolCmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show how many records are waiting",
		Args:  cobra.NoArgs,
		RunE:  runSpoolStatus,
	})
	spoolCmd.AddCommand(&cobra.Command{
		Use:   "flush",
		Short: "Replay spooled records into the database",
		Args:  cobra.NoArgs,
		RunE:  runSpoolFlush,
	})
}

// openSpool opens the configured spool on top of a database handle that is
// not pinged, so status works while the database is down.
func openSpool(cmd *cobra.Command) (*spool.Spool, func() error, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Store.Driver != config.DriverTimescale || cfg.Store.SpoolDir == "" {
		return nil, nil, errors.New("spool requires store.driver timescale and store.spool_dir")
	}
	logger := newLogger(cfg, os.Stderr, false)

	registry, err := loadRegistry(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	ts, err := timescale.Dial(cfg.Store.ConnString, timescale.Options{Tagger: registry})
	if err != nil {
		return nil, nil, err
	}
	sp, err := spool.Open(cfg.Store.SpoolDir, ts, logging.Component(logger, "store"))
	if err != nil {
		ts.Close()
		return nil, nil, err
	}
	return sp, ts.Close, nil
}

func runSpoolStatus(cmd *cobra.Command, args []string) error {
	sp, closeDB, err := openSpool(cmd)
	if err != nil {
		return err
	}
	defer closeDB()

	fmt.Fprintf(cmd.OutOrStdout(), "Spool:   %s\n", sp.Path())
	fmt.Fprintf(cmd.OutOrStdout(), "Pending: %d\n", sp.Pending())
	return nil
}

func runSpoolFlush(cmd *cobra.Command, args []string) error {
	sp, closeDB, err := openSpool(cmd)
	if err != nil {
		return err
	}
	defer closeDB()

	res, err := sp.Flush(cmd.Context())
	fmt.Fprintf(cmd.OutOrStdout(), "Replayed:  %d\n", res.Replayed)
	fmt.Fprintf(cmd.OutOrStdout(), "Dropped:   %d\n", res.Dropped)
	fmt.Fprintf(cmd.OutOrStdout(), "Remaining: %d\n", res.Remaining)
	if err != nil {
		return fmt.Errorf("flush stopped: %w", err)
	}
	return nil
}
