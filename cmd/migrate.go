// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/hivegate/internal/config"
	"github.com/Thermoquad/hivegate/internal/store/timescale"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the database tables",
	Long: `Create the readings, event and diagnostic tables if they do not exist.

With store.hypertables set the TimescaleDB extension is enabled and the
readings and collection event tables become hypertables.`,
	Args: cobra.NoArgs,
	RunE: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.Store.Driver != config.DriverTimescale {
		return errors.New("migrate requires store.driver timescale")
	}
	logger := newLogger(cfg, os.Stderr, false)

	ts, err := timescale.Open(cmd.Context(), cfg.Store.ConnString, timescale.Options{})
	if err != nil {
		return err
	}
	defer ts.Close()

	if err := ts.EnsureSchema(cmd.Context(), cfg.Store.Hypertables); err != nil {
		return err
	}
	logger.Info().Bool("hypertables", cfg.Store.Hypertables).Msg("schema ready")
	return nil
}
