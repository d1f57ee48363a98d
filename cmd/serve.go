// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"io"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/hivegate/internal/api"
	"github.com/Thermoquad/hivegate/internal/logging"
)

var useTUI bool

var serveCmd = &cobra.Command{
	Use:   "serve [address...]",
	Short: "Collect from nodes continuously and serve status over HTTP",
	Long: `Run collection cycles every collect.interval until interrupted.

Each cycle first replays any records spooled while the store was
unavailable, then visits every node once. The status API listens on
http.addr:
  /healthz        liveness and spool depth
  /metrics        Prometheus metrics
  /nodes          last session of every node
  /nodes/:peer    last session of one node

Use --tui for a live dashboard instead of console logs.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().BoolVar(&useTUI, "tui", false, "Show a terminal dashboard instead of logs")
}

func runServe(cmd *cobra.Command, args []string) error {
	var logOut io.Writer = os.Stderr
	var feed *logFeed
	if useTUI {
		feed = newLogFeed()
		logOut = feed
	}

	a, err := newApp(cmd, logOut, useTUI)
	if err != nil {
		return err
	}
	defer a.Close()

	nodes, err := a.resolveNodes(args)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	router := api.NewRouter(api.Options{
		Tracker:      a.gateway.Tracker(),
		Gatherer:     a.registerer,
		Metrics:      a.metrics,
		Logger:       logging.Component(a.log, "api"),
		StoreName:    a.storeName,
		SpoolPending: a.spoolPending,
	})

	apiErr := make(chan error, 1)
	go func() {
		err := api.ListenAndServe(ctx, a.cfg.HTTP.Addr, router, logging.Component(a.log, "api"))
		if err != nil {
			a.log.Error().Err(err).Msg("status api stopped")
			cancel()
		}
		apiErr <- err
	}()

	runDone := make(chan error, 1)
	go func() {
		defer cancel()
		runDone <- a.gateway.Run(ctx, a.cfg.Collect.Interval, nodes)
	}()

	var tuiErr error
	if useTUI {
		p := tea.NewProgram(newDashboard(a, nodes, feed), tea.WithAltScreen(), tea.WithContext(ctx))
		_, tuiErr = p.Run()
		cancel()
		if errors.Is(tuiErr, tea.ErrProgramKilled) {
			tuiErr = nil
		}
	}

	runErr := <-runDone
	return errors.Join(runErr, <-apiErr, tuiErr)
}

func (a *app) spoolPending() int {
	if a.spool == nil {
		return 0
	}
	return a.spool.Pending()
}
