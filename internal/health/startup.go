// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package health

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ManuGH/camanchor/internal/config"
	"github.com/ManuGH/camanchor/internal/log"
	"github.com/rs/zerolog"
)

// LookPath resolves external binaries. Tests replace it.
var LookPath = exec.LookPath

// PerformStartupChecks validates the environment before the daemon starts.
func PerformStartupChecks(_ context.Context, cfg config.AppConfig) error {
	logger := log.WithComponent("startup-check")
	logger.Info().Msg("running pre-flight startup checks")

	for _, dir := range []string{cfg.DataDir, cfg.Capture.Dir, cfg.SessionsDir()} {
		if err := checkDir(logger, dir); err != nil {
			return fmt.Errorf("directory check failed: %w", err)
		}
	}
	if err := checkTargetedValidations(logger, cfg); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	logger.Info().Msg("all startup checks passed")
	return nil
}

func checkDir(logger zerolog.Logger, path string) error {
	if err := os.MkdirAll(path, 0o750); err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("path is not a directory: %s", path)
	}
	testFile := filepath.Join(path, ".write_test")
	if err := os.WriteFile(testFile, []byte("ok"), 0o600); err != nil {
		return fmt.Errorf("directory is not writable: %s (error: %v)", path, err)
	}
	_ = os.Remove(testFile)

	logger.Debug().Str(log.FieldPath, path).Msg("directory is writable")
	return nil
}

func checkTargetedValidations(logger zerolog.Logger, cfg config.AppConfig) error {
	if cfg.API.ListenAddr != "" {
		_, port, err := net.SplitHostPort(cfg.API.ListenAddr)
		if err != nil {
			return fmt.Errorf("invalid API listen address %q: %w", cfg.API.ListenAddr, err)
		}
		portNum, err := strconv.Atoi(port)
		if err != nil || portNum < 0 || portNum > 65535 {
			return fmt.Errorf("invalid API listen port %q in %q", port, cfg.API.ListenAddr)
		}
	}

	for _, bin := range []string{cfg.Recorder.FFmpegBin, cfg.Recorder.FFprobeBin} {
		if _, err := LookPath(strings.TrimSpace(bin)); err != nil {
			return fmt.Errorf("binary not found (%s): %w", bin, err)
		}
	}

	if cfg.Ledger.PrivateKey == "" {
		logger.Warn().Msg("no signing key configured; segments will be pinned but ledger submissions will fail")
	}
	if cfg.Ledger.ContractAddress == "" {
		logger.Warn().Msg("no contract address configured; ledger submissions will fail")
	}
	if cfg.Pinning.JWT == "" && (cfg.Pinning.APIKey == "" || cfg.Pinning.APISecret == "") {
		logger.Warn().Msg("no pinning credentials configured; every segment will record a pin failure")
	}
	if strings.EqualFold(cfg.Store.Backend, config.StoreMemory) {
		logger.Warn().
			Str("store_backend", cfg.Store.Backend).
			Msg("in-memory ledger; processed segments are forgotten on restart and will be anchored again")
	}

	tempDir := filepath.Clean(os.TempDir())
	dataDir := filepath.Clean(cfg.DataDir)
	if tempDir != "." && (dataDir == tempDir || strings.HasPrefix(dataDir, tempDir+string(filepath.Separator))) {
		logger.Warn().
			Str("data_dir", cfg.DataDir).
			Msg("data directory is under temp; ledger and segments may be lost on reboot")
	}
	return nil
}
