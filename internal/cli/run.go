// Copyright 2026 The APEX Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/apexrules/apex/internal/engine"
	"github.com/apexrules/apex/internal/logging"
)

// newRunCommand starts the engine: it loads the given configuration
// documents, serves Prometheus metrics and processes until interrupted.
// SIGHUP reloads the documents when reload is enabled.
func newRunCommand(opts *rootOptions) *cobra.Command {
	var metricsAddr string
	cmd := &cobra.Command{
		Use:   "run <config-file>...",
		Short: "Run the engine with the given configuration documents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.engineConfig()
			if err != nil {
				return err
			}
			logger := logging.New(cfg.Logging)

			promReg := prometheus.NewRegistry()
			rt, err := engine.NewRuntime(cfg, promReg, logger)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if err := rt.Load(ctx, args...); err != nil {
				return err
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := rt.Shutdown(shutdownCtx); err != nil {
					logger.Warn("shutdown incomplete", slog.Any("error", err))
				}
			}()

			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
			server := &http.Server{Addr: metricsAddr, Handler: mux}
			go func() {
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("metrics server failed", slog.Any("error", err))
				}
			}()
			defer server.Close()

			logger.Info("engine started",
				slog.Int("documents", len(args)),
				slog.String("metrics_addr", metricsAddr))

			signals := make(chan os.Signal, 1)
			signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
			defer signal.Stop(signals)
			for {
				select {
				case sig := <-signals:
					if sig == syscall.SIGHUP {
						if !rt.ReloadEnabled() {
							logger.Warn("reload requested but reload.enabled is false")
							continue
						}
						if err := rt.Reload(ctx, args...); err != nil {
							logger.Error("reload failed, previous generation kept",
								slog.Any("error", err))
						}
						continue
					}
					logger.Info("shutting down", slog.String("signal", sig.String()))
					return nil
				case <-ctx.Done():
					return nil
				}
			}
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":2112", "listen address for the Prometheus metrics endpoint")
	return cmd
}
