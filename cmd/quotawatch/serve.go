package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/mihaimyh/quotawatch/api"
	"github.com/mihaimyh/quotawatch/pkg/quotawatch"
	prommetrics "github.com/mihaimyh/quotawatch/pkg/quotawatch/metrics/prometheus"
)

var serveAddr string

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the monitor with the HTTP API",
	Long: `Starts the polling monitor and serves its state over HTTP, with
Prometheus metrics on /metrics. The config file is watched, so enabling
or disabling a provider takes effect without a restart.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		registry := prometheus.NewRegistry()
		app, err := buildApp(prommetrics.NewMetrics(registry, "quotawatch"))
		if err != nil {
			return err
		}
		defer app.Close()

		addr := serveAddr
		if addr == "" {
			addr = app.cfg.Settings.APIAddr
		}

		server, err := api.NewServer(api.ServerConfig{
			Addr:            addr,
			Monitor:         app.monitor,
			Repository:      app.repo,
			History:         app.history,
			MetricsRegistry: registry,
			Logger:          app.logger,
			RefreshTimeout:  app.cfg.Settings.ProbeTimeout,
		})
		if err != nil {
			return fmt.Errorf("failed to build api server: %w", err)
		}

		// A newly enabled provider gets data on the next reload, not the
		// next poll tick.
		stopWatch, err := app.store.Watch(app.logger, func() {
			go app.monitor.RefreshAll(context.Background())
		})
		if err != nil {
			app.logger.Warn("config watch unavailable",
				quotawatch.Field{Key: "error", Value: err.Error()})
		} else {
			defer func() { _ = stopWatch() }()
		}

		if err := app.monitor.StartMonitoring(app.cfg.Settings.RefreshInterval); err != nil {
			return err
		}

		errCh := make(chan error, 1)
		go func() {
			if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

		select {
		case err := <-errCh:
			return fmt.Errorf("api server failed: %w", err)
		case <-quit:
		}
		app.logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			app.logger.Error("api server shutdown failed",
				quotawatch.Field{Key: "error", Value: err.Error()})
		}
		return nil
	},
}
