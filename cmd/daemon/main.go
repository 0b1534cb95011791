// SPDX-License-Identifier: MIT

// Command camanchor records a camera stream into segments, pins each
// segment to content-addressed storage and anchors it on a ledger.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ManuGH/camanchor/internal/config"
	"github.com/ManuGH/camanchor/internal/daemon"
	"github.com/ManuGH/camanchor/internal/health"
	"github.com/ManuGH/camanchor/internal/log"
	"github.com/ManuGH/camanchor/internal/telemetry"
	"github.com/ManuGH/camanchor/internal/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout io.Writer) int {
	fs := flag.NewFlagSet("camanchor", flag.ContinueOnError)
	fs.SetOutput(stdout)
	showVersion := fs.Bool("version", false, "print version and exit")
	configPath := fs.String("config", os.Getenv("CAMANCHOR_CONFIG"), "path to config file (YAML)")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	if *showVersion {
		_, _ = fmt.Fprintln(stdout, version.String())
		return 0
	}

	// Safe defaults until the config is loaded.
	log.Configure(log.Config{
		Level:   "info",
		Service: "camanchor",
		Version: version.Version,
	})
	logger := log.WithComponent("daemon")

	cfg, err := config.NewLoader(*configPath, version.Version).Load()
	if err != nil {
		logger.Error().Err(err).Str("event", "config.load_failed").Str(log.FieldPath, *configPath).Msg("failed to load configuration")
		return 1
	}

	log.Configure(log.Config{
		Level:   cfg.LogLevel,
		Service: cfg.LogService,
		Version: version.Version,
	})
	logger = log.WithComponent("daemon")

	if err := health.PerformStartupChecks(ctx, cfg); err != nil {
		logger.Error().Err(err).Str("event", "startup.check_failed").Msg("startup checks failed")
		return 1
	}

	tp, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.LogService,
		ServiceVersion: version.Version,
		ExporterType:   cfg.Telemetry.Exporter,
		Endpoint:       cfg.Telemetry.Endpoint,
		SamplingRate:   cfg.Telemetry.SamplingRate,
	})
	if err != nil {
		logger.Warn().Err(err).Str("event", "telemetry.init_failed").Msg("telemetry initialization failed, continuing without tracing")
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tp.Shutdown(shutdownCtx); err != nil {
				logger.Warn().Err(err).Msg("telemetry shutdown failed")
			}
		}()
	}

	rt, err := daemon.Bootstrap(cfg, daemon.Overrides{})
	if err != nil {
		logger.Error().Err(err).Str("event", "daemon.bootstrap_failed").Msg("failed to start")
		return 1
	}

	logger.Info().
		Str("version", version.Version).
		Str("listen", cfg.API.ListenAddr).
		Str("data_dir", cfg.DataDir).
		Msg("camanchor starting")

	if err := daemon.NewApp(logger, rt).Run(ctx); err != nil {
		logger.Error().Err(err).Str("event", "daemon.failed").Msg("daemon exited with error")
		return 1
	}
	logger.Info().Msg("camanchor stopped")
	return 0
}
