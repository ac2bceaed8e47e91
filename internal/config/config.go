/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package config loads and validates the kernel's YAML configuration, and
// optionally watches the file for non-structural hot-reload (log level,
// rate limits) via fsnotify.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	kherrors "github.com/seanchatmangpt/knhk-sub006/internal/errors"
)

// Config is the kernel's root configuration document.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Admission AdmissionConfig `yaml:"admission"`
	Tiers     TiersConfig     `yaml:"tiers"`
	Signing   SigningConfig   `yaml:"signing"`
	Storage   StorageConfig   `yaml:"storage"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	MAPEK     MAPEKConfig     `yaml:"mapek"`
	Andon     AndonConfig     `yaml:"andon"`
	Logging   LoggingConfig   `yaml:"logging"`
	Compiler  CompilerConfig  `yaml:"compiler"`
}

// CompilerConfig points the kernel at the pattern and guard catalog
// compiler.Compile needs at startup. An empty PatternCatalogPath falls
// back to the built-in bootstrap catalog (internal/catalog.Default).
type CompilerConfig struct {
	PatternCatalogPath string `yaml:"pattern_catalog_path"`
}

// ServerConfig configures the admission HTTP surface.
type ServerConfig struct {
	AdmissionPort string `yaml:"admission_port"`
	MetricsPort   string `yaml:"metrics_port"`
}

// AdmissionConfig configures the four-stage admission gate.
type AdmissionConfig struct {
	RequireSignature  bool          `yaml:"require_signature"`
	DefaultBudget     uint16        `yaml:"default_budget"`
	DefaultPriority   uint8         `yaml:"default_priority"`
	StageDeadline     time.Duration `yaml:"stage_deadline"`
	RejectPathBudget  time.Duration `yaml:"reject_path_budget"`
	PatternByteCount  int           `yaml:"pattern_byte_count"`
}

// TiersConfig sizes the hot/warm/cold dispatcher queues.
type TiersConfig struct {
	HotCapacity  int `yaml:"hot_capacity"`
	HotBatch     int `yaml:"hot_batch"`
	WarmCapacity int `yaml:"warm_capacity"`
	WarmBatch    int `yaml:"warm_batch"`
}

// SigningConfig names the keys used for certificate signing and admission
// signature verification.
type SigningConfig struct {
	SigningKeyPath   string `yaml:"signing_key_path"`
	VerifyingKeyPath string `yaml:"verifying_key_path"`
}

// StorageConfig selects the backing store for snapshots and receipts.
type StorageConfig struct {
	Backend string `yaml:"backend"` // "in-memory" | "disk"
	DSN     string `yaml:"dsn"`
}

// TelemetryConfig configures the optional OTLP exporter.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	ServiceName  string `yaml:"service_name"`
}

// MAPEKConfig configures the autonomous-loop proposer.
type MAPEKConfig struct {
	WindowSize        int           `yaml:"window_size"`
	WindowDuration    time.Duration `yaml:"window_duration"`
	ProposerRateLimit int           `yaml:"proposer_rate_limit"`
	RateLimitWindow   time.Duration `yaml:"rate_limit_window"`
	RedisAddr         string        `yaml:"redis_addr"`
	DoctrinePolicyDir string        `yaml:"doctrine_policy_dir"`
}

// AndonConfig configures the Green/Yellow/Red operational indicator.
type AndonConfig struct {
	AutoStopOnRed     bool    `yaml:"auto_stop_on_red"`
	FailureThreshold  float64 `yaml:"failure_threshold"`
	ResetTimeout      time.Duration `yaml:"reset_timeout"`
	SlackBotToken     string  `yaml:"slack_bot_token"`
	SlackChannel      string  `yaml:"slack_channel"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func defaults() Config {
	return Config{
		Server: ServerConfig{AdmissionPort: "8080", MetricsPort: "9090"},
		Admission: AdmissionConfig{
			RequireSignature: false,
			DefaultBudget:    8,
			DefaultPriority:  0,
			StageDeadline:    50 * time.Millisecond,
			RejectPathBudget: time.Microsecond,
			PatternByteCount: 43,
		},
		Tiers: TiersConfig{
			HotCapacity: 1024, HotBatch: 8,
			WarmCapacity: 1024, WarmBatch: 4,
		},
		Storage: StorageConfig{Backend: "in-memory"},
		MAPEK: MAPEKConfig{
			WindowSize:        1000,
			WindowDuration:    time.Minute,
			ProposerRateLimit: 10,
			RateLimitWindow:   time.Hour,
		},
		Andon: AndonConfig{
			AutoStopOnRed:    true,
			FailureThreshold: 0.5,
			ResetTimeout:     60 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}
}

// Load reads and validates the YAML configuration at path, filling in
// defaults for anything the file omits.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, kherrors.Wrapf(err, kherrors.ErrorTypeFatal, "read config file %s", path)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, kherrors.Wrapf(err, kherrors.ErrorTypeFatal, "parse config file %s", path)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks structural invariants on the loaded configuration.
func (c *Config) Validate() error {
	if c.Admission.PatternByteCount <= 0 {
		return kherrors.New(kherrors.ErrorTypeFatal, "admission.pattern_byte_count must be positive")
	}
	if c.Tiers.HotCapacity <= 0 || c.Tiers.WarmCapacity <= 0 {
		return kherrors.New(kherrors.ErrorTypeFatal, "tier capacities must be positive")
	}
	switch c.Storage.Backend {
	case "in-memory", "disk":
	default:
		return kherrors.Newf(kherrors.ErrorTypeFatal, "storage.backend must be in-memory or disk, got %q", c.Storage.Backend)
	}
	if c.Storage.Backend == "disk" && c.Storage.DSN == "" {
		return kherrors.New(kherrors.ErrorTypeFatal, "storage.dsn is required when storage.backend is disk")
	}
	return nil
}

// Watcher notifies a callback whenever the config file changes on disk, so
// non-structural fields (log level, rate limits) can hot-reload without a
// restart. Structural fields are read once at Load and are not reapplied.
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher
	onChange func(*Config)
}

// NewWatcher starts watching path for writes, invoking onChange with the
// freshly reloaded Config on every change that re-validates successfully.
func NewWatcher(path string, onChange func(*Config)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, kherrors.Wrap(err, kherrors.ErrorTypeFatal, "create config file watcher")
	}
	if err := fw.Add(path); err != nil {
		fw.Close()
		return nil, kherrors.Wrapf(err, kherrors.ErrorTypeFatal, "watch config file %s", path)
	}

	w := &Watcher{path: path, watcher: fw, onChange: onChange}
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := Load(w.path)
			if err != nil {
				continue
			}
			w.onChange(cfg)
		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}

// String renders a Config for diagnostic logging without leaking key paths
// verbatim in a way that invites copy-paste into tickets.
func (c *Config) String() string {
	return fmt.Sprintf("Config{storage=%s, hot_capacity=%d, auto_stop_on_red=%t}",
		c.Storage.Backend, c.Tiers.HotCapacity, c.Andon.AutoStopOnRed)
}
