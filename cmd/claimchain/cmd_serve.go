// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/AleutianAI/claimchain/services/coordination/api"
	"github.com/AleutianAI/claimchain/services/coordination/config"
	"github.com/AleutianAI/claimchain/services/coordination/depgraph"
	"github.com/AleutianAI/claimchain/services/coordination/ledger"
	"github.com/AleutianAI/claimchain/services/coordination/telemetry"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// =============================================================================
// serve
// =============================================================================

func newServeCmd(opts *globalOptions) *cobra.Command {
	var (
		addr      string
		withGraph bool
		debug     bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the coordination HTTP API",
		Long: `Serve the claim ledger over HTTP for collaborators that cannot run
the CLI. Alongside the API a sweeper keeps expiry current on disk, and
unless --graph=false the import graph is kept fresh by a file watcher
for the /v1/graph endpoints.

Endpoints:
  /v1/claims...     Claim lifecycle and queries
  /v1/gate/check    Write decisions
  /v1/graph/...     Cluster and suggest
  /health           Liveness
  /metrics          Prometheus metrics

Examples:
  claimchain serve
  claimchain serve --addr 127.0.0.1:9000 --graph=false`,
		Args: exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open("")
			if err != nil {
				return err
			}
			defer a.Close()
			if addr == "" {
				addr = a.cfg.Server.Addr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			shutdownTelemetry, err := telemetry.Init(ctx, a.cfg.Telemetry)
			if err != nil {
				return fmt.Errorf("telemetry: %w", err)
			}
			defer func() {
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdownTelemetry(flushCtx); err != nil {
					a.logger.Warn("Telemetry shutdown failed", "error", err)
				}
			}()

			if debug {
				gin.SetMode(gin.DebugMode)
			} else {
				gin.SetMode(gin.ReleaseMode)
			}

			handlers := api.NewHandlers(a.manager, a.gate, a.logger.Slog())
			g, gctx := errgroup.WithContext(ctx)

			if withGraph {
				analyzer := a.newAnalyzer()
				handlers.WithAnalyzer(analyzer)
				watcher, err := depgraph.NewWatcher(analyzer, a.layout.Root,
					depgraph.WithOnScan(func(graph *depgraph.Graph, err error) {
						if err != nil {
							a.logger.Warn("Graph rescan failed", "error", err)
							return
						}
						stats := graph.Stats()
						a.logger.Info("Graph refreshed", "files", stats.Files, "edges", stats.Edges)
					}))
				if err != nil {
					return err
				}
				g.Go(func() error {
					if err := watcher.Run(gctx); err != nil {
						a.logger.Warn("Graph watcher stopped; /v1/graph serves the last scan", "error", err)
					}
					return nil
				})
			}

			g.Go(func() error {
				return a.manager.RunSweeper(gctx, a.cfg.SweepInterval)
			})

			srv := api.NewServer(addr, api.NewRouter(handlers, debug), a.logger.Slog())
			g.Go(func() error {
				return srv.Serve(gctx, func(bound net.Addr) {
					a.printer.Success(fmt.Sprintf("Serving %s on http://%s", a.layout.Root, bound))
				})
			})

			return g.Wait()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from config)")
	cmd.Flags().BoolVar(&withGraph, "graph", true, "Serve /v1/graph and watch the tree")
	cmd.Flags().BoolVar(&debug, "debug", false, "Log every request")
	return cmd
}

// =============================================================================
// init
// =============================================================================

func newInitCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create .coordination/ with an empty ledger and default config",
		Long: `Create the coordination directory at the project root (--root,
$CLAIMCHAIN_ROOT, or the working directory). Existing files are left
untouched, so running init twice is safe.`,
		Args: exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, explicit, err := opts.resolveRoot()
			if !explicit {
				if root, err = os.Getwd(); err != nil {
					return fmt.Errorf("get working directory: %w", err)
				}
			} else if err != nil {
				return err
			}

			layout := ledger.NewLayout(root)
			if err := ledger.Init(layout); err != nil {
				return err
			}
			wrote, err := config.EnsureDefault(layout.ConfigPath)
			if err != nil {
				return err
			}

			if opts.jsonOutput {
				return writeJSON(opts.stdout, map[string]any{
					"root":           root,
					"ledger":         layout.DataPath,
					"config":         layout.ConfigPath,
					"config_created": wrote,
				})
			}
			p := opts.printer()
			p.Success("Coordination initialized at " + layout.Dir)
			if wrote {
				p.Muted("Wrote default config " + layout.ConfigPath)
			}
			return nil
		},
	}
}
