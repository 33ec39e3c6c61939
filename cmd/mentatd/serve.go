package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/mentat-sh/mentat/internal/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run mentatd as a long-lived JSON-RPC server over stdio",
	Long:  `serve wires the full component graph and drives the JSON-RPC tool protocol (spec.md §6) over stdin/stdout until it receives SIGINT/SIGTERM or stdin closes. A Prometheus metrics endpoint is exposed alongside it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg == nil {
			return fmt.Errorf("config not loaded")
		}
		return runServe(cfg)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cfg *config.Config) error {
	sig := NewSignalHandler(context.Background())
	sig.Start()
	defer sig.Stop()

	components, err := NewComponents(sig.ctx, cfg)
	if err != nil {
		return fmt.Errorf("init components: %w", err)
	}

	registerer := prometheus.NewRegistry()
	for _, c := range components.Monitor.Collectors() {
		if err := registerer.Register(c); err != nil {
			slog.Warn("metrics: collector registration failed", "error", err)
		}
	}

	metricsSrv := &http.Server{
		Addr:    cfg.Health.MetricsAddr,
		Handler: promhttp.HandlerFor(registerer, promhttp.HandlerOpts{}),
	}
	go func() {
		slog.Info("metrics endpoint listening", "addr", cfg.Health.MetricsAddr)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", "error", err)
		}
	}()

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("mentatd serving JSON-RPC over stdio")
		serveErr <- components.Server.Serve(sig.ctx, os.Stdin, os.Stdout)
	}()

	select {
	case <-sig.ctx.Done():
		slog.Info("shutting down mentatd")
	case err := <-serveErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("rpc serve loop exited", "error", err)
		}
	}

	shutdownTimeout, derr := config.DurationOrDefault(cfg.Daemon.ShutdownTimeout, config.DefaultDaemonShutdownTimeout)
	if derr != nil {
		shutdownTimeout = 15 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("metrics server shutdown failed", "error", err)
	}
	if err := components.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("component shutdown: %w", err)
	}

	sig.Wait()
	return nil
}
