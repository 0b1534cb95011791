// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package config loads the daemon configuration with precedence
// ENV > YAML file > defaults.
package config

import (
	"path/filepath"
	"time"
)

// Store backends accepted by store.backend.
const (
	StoreJSON   = "json"
	StoreBadger = "badger"
	StoreSQLite = "sqlite"
	StoreMemory = "memory"
)

// AppConfig is the fully resolved daemon configuration.
type AppConfig struct {
	Version string `yaml:"-"`

	DataDir    string `yaml:"dataDir" validate:"required"`
	LogLevel   string `yaml:"logLevel" validate:"omitempty,oneof=trace debug info warn error"`
	LogService string `yaml:"logService"`

	Capture   CaptureConfig   `yaml:"capture"`
	Stability StabilityConfig `yaml:"stability"`
	Recorder  RecorderConfig  `yaml:"recorder"`
	Pinning   PinningConfig   `yaml:"pinning"`
	Ledger    LedgerConfig    `yaml:"ledger"`
	Breaker   BreakerConfig   `yaml:"breaker"`
	Store     StoreConfig     `yaml:"store"`
	API       APIConfig       `yaml:"api"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// CaptureConfig describes the directory the recorder writes segments into.
type CaptureConfig struct {
	Dir           string `yaml:"dir"`
	SegmentPrefix string `yaml:"segmentPrefix" validate:"required"`
	SegmentExt    string `yaml:"segmentExt" validate:"required,startswith=."`
	MaxFiles      int    `yaml:"maxFiles" validate:"min=1"`
	QueueSize     int    `yaml:"queueSize" validate:"min=1"`
}

// StabilityConfig tunes the write-completion detector.
type StabilityConfig struct {
	Interval    time.Duration `yaml:"interval" validate:"gt=0"`
	MaxAttempts int           `yaml:"maxAttempts" validate:"min=1"`
	Required    int           `yaml:"required" validate:"min=1"`
}

// RecorderConfig configures the ffmpeg recorder and ffprobe.
type RecorderConfig struct {
	FFmpegBin    string        `yaml:"ffmpegBin" validate:"required"`
	FFprobeBin   string        `yaml:"ffprobeBin" validate:"required"`
	VideoCodec   string        `yaml:"videoCodec" validate:"required"`
	AudioCodec   string        `yaml:"audioCodec" validate:"required"`
	KillGrace    time.Duration `yaml:"killGrace" validate:"gt=0"`
	ProbeTimeout time.Duration `yaml:"probeTimeout" validate:"gt=0"`
}

// PinningConfig configures the content-addressed storage client.
// Credentials are accepted from the environment only.
type PinningConfig struct {
	BaseURL   string        `yaml:"baseUrl" validate:"required,url"`
	Timeout   time.Duration `yaml:"timeout" validate:"gt=0"`
	JWT       string        `yaml:"-"`
	APIKey    string        `yaml:"-"`
	APISecret string        `yaml:"-"`
}

// LedgerConfig configures endpoint selection, fees and the anchoring contract.
// The signing key is accepted from the environment only.
type LedgerConfig struct {
	Endpoints        []string      `yaml:"endpoints" validate:"min=1,dive,url"`
	ProbeTimeout     time.Duration `yaml:"probeTimeout" validate:"gt=0"`
	ReselectInterval time.Duration `yaml:"reselectInterval" validate:"gte=0"`
	ChainID          int64         `yaml:"chainId" validate:"min=0"`
	ContractAddress  string        `yaml:"contractAddress" validate:"omitempty,eth_addr"`
	GasLimit         uint64        `yaml:"gasLimit" validate:"min=21000"`
	FeeMultiplier    int64         `yaml:"feeMultiplier" validate:"min=1"`
	FeeFloorGwei     uint64        `yaml:"feeFloorGwei"`
	ReceiptTimeout   time.Duration `yaml:"receiptTimeout" validate:"gt=0"`
	ReceiptPoll      time.Duration `yaml:"receiptPoll" validate:"gt=0"`
	PrivateKey       string        `yaml:"-"`
}

// BreakerConfig configures the balance circuit breaker.
type BreakerConfig struct {
	MinBalance     string        `yaml:"minBalance" validate:"required"`
	SampleInterval time.Duration `yaml:"sampleInterval" validate:"gt=0"`
}

// StoreConfig selects the segment ledger backend.
type StoreConfig struct {
	Backend string `yaml:"backend" validate:"oneof=json badger sqlite memory"`
	Path    string `yaml:"path"`
}

// APIConfig configures the HTTP control surface.
type APIConfig struct {
	ListenAddr      string        `yaml:"listenAddr" validate:"required"`
	RateLimit       int           `yaml:"rateLimit" validate:"min=0"`
	RateWindow      time.Duration `yaml:"rateWindow" validate:"gt=0"`
	ReadTimeout     time.Duration `yaml:"readTimeout" validate:"gt=0"`
	WriteTimeout    time.Duration `yaml:"writeTimeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" validate:"gt=0"`
}

// TelemetryConfig configures OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter" validate:"omitempty,oneof=grpc http"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"samplingRate" validate:"gte=0,lte=1"`
}

// DefaultEndpoints is the ranked list of public Polygon RPC endpoints.
var DefaultEndpoints = []string{
	"https://polygon-rpc.com",
	"https://polygon-bor-rpc.publicnode.com",
	"https://rpc.ankr.com/polygon",
}

// Defaults returns the built-in configuration.
func Defaults() AppConfig {
	return AppConfig{
		DataDir:    "/var/lib/camanchor",
		LogLevel:   "info",
		LogService: "camanchor",
		Capture: CaptureConfig{
			SegmentPrefix: "segment_",
			SegmentExt:    ".mp4",
			MaxFiles:      3,
			QueueSize:     4,
		},
		Stability: StabilityConfig{
			Interval:    time.Second,
			MaxAttempts: 10,
			Required:    3,
		},
		Recorder: RecorderConfig{
			FFmpegBin:    "ffmpeg",
			FFprobeBin:   "ffprobe",
			VideoCodec:   "libx264",
			AudioCodec:   "aac",
			KillGrace:    5 * time.Second,
			ProbeTimeout: 30 * time.Second,
		},
		Pinning: PinningConfig{
			BaseURL: "https://api.pinata.cloud",
			Timeout: 5 * time.Minute,
		},
		Ledger: LedgerConfig{
			Endpoints:        append([]string(nil), DefaultEndpoints...),
			ProbeTimeout:     5 * time.Second,
			ReselectInterval: 10 * time.Second,
			ChainID:          137,
			GasLimit:         700000,
			FeeMultiplier:    2,
			FeeFloorGwei:     30,
			ReceiptTimeout:   3 * time.Minute,
			ReceiptPoll:      2 * time.Second,
		},
		Breaker: BreakerConfig{
			MinBalance:     "0.5",
			SampleInterval: 30 * time.Second,
		},
		Store: StoreConfig{
			Backend: StoreJSON,
		},
		API: APIConfig{
			ListenAddr:      ":4000",
			RateLimit:       60,
			RateWindow:      time.Minute,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Telemetry: TelemetryConfig{
			Exporter:     "grpc",
			Endpoint:     "localhost:4317",
			SamplingRate: 1.0,
		},
	}
}

// resolvePaths derives directory defaults from DataDir once it is final.
func resolvePaths(cfg *AppConfig) {
	if abs, err := filepath.Abs(cfg.DataDir); err == nil {
		cfg.DataDir = abs
	}
	if cfg.Capture.Dir == "" {
		cfg.Capture.Dir = filepath.Join(cfg.DataDir, "capture")
	}
	if cfg.Store.Path == "" {
		switch cfg.Store.Backend {
		case StoreBadger:
			cfg.Store.Path = filepath.Join(cfg.DataDir, "ledger.badger")
		case StoreSQLite:
			cfg.Store.Path = filepath.Join(cfg.DataDir, "ledger.sqlite")
		case StoreJSON:
			cfg.Store.Path = filepath.Join(cfg.DataDir, "ledger.json")
		}
	}
}

// SessionsDir is where rotated recording sessions are archived.
func (c AppConfig) SessionsDir() string {
	return filepath.Join(c.DataDir, "sessions")
}

// LockPath is the single-instance lock file.
func (c AppConfig) LockPath() string {
	return filepath.Join(c.DataDir, "camanchor.lock")
}
