// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Environment keys. Secrets are only ever read from here.
const (
	EnvDataDir          = "CAMANCHOR_DATA"
	EnvLogLevel         = "CAMANCHOR_LOG_LEVEL"
	EnvCaptureDir       = "CAMANCHOR_CAPTURE_DIR"
	EnvSegmentExt       = "CAMANCHOR_SEGMENT_EXT"
	EnvMaxFiles         = "CAMANCHOR_MAX_FILES"
	EnvFFmpegBin        = "CAMANCHOR_FFMPEG_BIN"
	EnvFFprobeBin       = "CAMANCHOR_FFPROBE_BIN"
	EnvPinataURL        = "CAMANCHOR_PINATA_URL"
	EnvPinataJWT        = "CAMANCHOR_PINATA_JWT"
	EnvPinataAPIKey     = "CAMANCHOR_PINATA_API_KEY"
	EnvPinataAPISecret  = "CAMANCHOR_PINATA_API_SECRET"
	EnvRPCEndpoints     = "CAMANCHOR_RPC_ENDPOINTS"
	EnvChainID          = "CAMANCHOR_CHAIN_ID"
	EnvContractAddress  = "CAMANCHOR_CONTRACT_ADDRESS"
	EnvPrivateKey       = "CAMANCHOR_PRIVATE_KEY"
	EnvGasLimit         = "CAMANCHOR_GAS_LIMIT"
	EnvFeeMultiplier    = "CAMANCHOR_FEE_MULTIPLIER"
	EnvFeeFloorGwei     = "CAMANCHOR_FEE_FLOOR_GWEI"
	EnvMinBalance       = "CAMANCHOR_MIN_BALANCE"
	EnvBalanceInterval  = "CAMANCHOR_BALANCE_INTERVAL"
	EnvStoreBackend     = "CAMANCHOR_STORE_BACKEND"
	EnvStorePath        = "CAMANCHOR_STORE_PATH"
	EnvListen           = "CAMANCHOR_LISTEN"
	EnvTelemetryEnabled = "CAMANCHOR_TELEMETRY_ENABLED"
	EnvTelemetryTarget  = "CAMANCHOR_TELEMETRY_ENDPOINT"
)

// Loader handles configuration loading with precedence
type Loader struct {
	configPath string
	version    string
}

// NewLoader creates a new configuration loader
func NewLoader(configPath, version string) *Loader {
	return &Loader{
		configPath: configPath,
		version:    version,
	}
}

// Load loads configuration with precedence: ENV > File > Defaults.
// Order: defaults -> strict file parse -> env overrides -> path resolution -> validation.
func (l *Loader) Load() (AppConfig, error) {
	cfg := Defaults()

	if l.configPath != "" {
		if err := l.loadFile(l.configPath, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}

	mergeEnv(&cfg)
	cfg.Version = l.version
	resolvePaths(&cfg)

	if err := Validate(cfg); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// loadFile decodes a YAML file on top of cfg with STRICT parsing.
// Unknown fields (including secrets, which are env-only) cause an error.
func (l *Loader) loadFile(path string, cfg *AppConfig) error {
	path = filepath.Clean(path)

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("unsupported config format: %s (only YAML supported)", ext)
	}

	// #nosec G304 -- configuration file paths are provided by the operator via CLI/ENV
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		if strings.Contains(err.Error(), "field") && strings.Contains(err.Error(), "not found") {
			return fmt.Errorf("%w: %v", ErrUnknownConfigField, err)
		}
		return fmt.Errorf("strict config parse error: %w", err)
	}

	// Strict: Ensure no multiple documents or trailing content
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("config file contains multiple documents or trailing content")
	}
	return nil
}

func mergeEnv(cfg *AppConfig) {
	cfg.DataDir = ParseString(EnvDataDir, cfg.DataDir)
	cfg.LogLevel = ParseString(EnvLogLevel, cfg.LogLevel)

	cfg.Capture.Dir = ParseString(EnvCaptureDir, cfg.Capture.Dir)
	cfg.Capture.SegmentExt = ParseString(EnvSegmentExt, cfg.Capture.SegmentExt)
	cfg.Capture.MaxFiles = ParseInt(EnvMaxFiles, cfg.Capture.MaxFiles)

	cfg.Recorder.FFmpegBin = ParseString(EnvFFmpegBin, cfg.Recorder.FFmpegBin)
	cfg.Recorder.FFprobeBin = ParseString(EnvFFprobeBin, cfg.Recorder.FFprobeBin)

	cfg.Pinning.BaseURL = ParseString(EnvPinataURL, cfg.Pinning.BaseURL)
	cfg.Pinning.JWT = ParseString(EnvPinataJWT, cfg.Pinning.JWT)
	cfg.Pinning.APIKey = ParseString(EnvPinataAPIKey, cfg.Pinning.APIKey)
	cfg.Pinning.APISecret = ParseString(EnvPinataAPISecret, cfg.Pinning.APISecret)

	cfg.Ledger.Endpoints = ParseStringList(EnvRPCEndpoints, cfg.Ledger.Endpoints)
	cfg.Ledger.ChainID = ParseInt64(EnvChainID, cfg.Ledger.ChainID)
	cfg.Ledger.ContractAddress = ParseString(EnvContractAddress, cfg.Ledger.ContractAddress)
	cfg.Ledger.PrivateKey = ParseString(EnvPrivateKey, cfg.Ledger.PrivateKey)
	cfg.Ledger.GasLimit = ParseUint64(EnvGasLimit, cfg.Ledger.GasLimit)
	cfg.Ledger.FeeMultiplier = ParseInt64(EnvFeeMultiplier, cfg.Ledger.FeeMultiplier)
	cfg.Ledger.FeeFloorGwei = ParseUint64(EnvFeeFloorGwei, cfg.Ledger.FeeFloorGwei)

	cfg.Breaker.MinBalance = ParseString(EnvMinBalance, cfg.Breaker.MinBalance)
	cfg.Breaker.SampleInterval = ParseDuration(EnvBalanceInterval, cfg.Breaker.SampleInterval)

	cfg.Store.Backend = ParseString(EnvStoreBackend, cfg.Store.Backend)
	cfg.Store.Path = ParseString(EnvStorePath, cfg.Store.Path)

	cfg.API.ListenAddr = ParseString(EnvListen, cfg.API.ListenAddr)

	cfg.Telemetry.Enabled = ParseBool(EnvTelemetryEnabled, cfg.Telemetry.Enabled)
	cfg.Telemetry.Endpoint = ParseString(EnvTelemetryTarget, cfg.Telemetry.Endpoint)
}
