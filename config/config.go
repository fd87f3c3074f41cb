package config

import (
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Auth       AuthConfig       `yaml:"auth"`
	Activation ActivationConfig `yaml:"activation"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	Live       LiveConfig       `yaml:"live"`
	Database   DatabaseConfig   `yaml:"database"`
	Push       PushConfig       `yaml:"push"`
	WorkerPool WorkerPoolConfig `yaml:"worker_pool"`
}

// ServerConfig holds the server-related configuration.
type ServerConfig struct {
	Port            int     `yaml:"port"`
	RequestIPHeader string  `yaml:"request_ip_header"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	CacheTTLSeconds int     `yaml:"cache_ttl_seconds"`
}

// AuthConfig holds the gateway credential settings.
type AuthConfig struct {
	JWTSecret    string        `yaml:"jwt_secret"`
	TokenTTLDays int           `yaml:"token_ttl_days"`
	TokenTTL     time.Duration `yaml:"-"` // Ignored by YAML parser
}

// ActivationConfig holds the activation abuse-control settings.
type ActivationConfig struct {
	MaxAttemptsPerIP     int           `yaml:"max_attempts_per_ip"`
	MaxAttemptsPerCode   int           `yaml:"max_attempts_per_code"`
	WindowMinutes        int           `yaml:"window_minutes"`
	Window               time.Duration `yaml:"-"`
	BlockMinutes         int           `yaml:"block_minutes"`
	Block                time.Duration `yaml:"-"`
	MaxFailedRedemptions int           `yaml:"max_failed_redemptions"`
}

// TelemetryConfig holds the ingestion and cache settings.
type TelemetryConfig struct {
	StalenessSeconds int           `yaml:"staleness_seconds"`
	Staleness        time.Duration `yaml:"-"`
	SweepSeconds     int           `yaml:"sweep_seconds"`
	Sweep            time.Duration `yaml:"-"`
	IngestRatePerSec float64       `yaml:"ingest_rate_per_sec"`
	IngestBurst      int           `yaml:"ingest_burst"`
	MaxBatchSize     int           `yaml:"max_batch_size"`
}

// LiveConfig holds the duplex channel settings.
type LiveConfig struct {
	PingIntervalSeconds int           `yaml:"ping_interval_seconds"`
	PingInterval        time.Duration `yaml:"-"`
	HeartbeatMs         int           `yaml:"heartbeat_ms"`
	HeartbeatBusyMs     int           `yaml:"heartbeat_busy_ms"`
}

// PushConfig holds the VAPID keys for web push alarm notifications.
type PushConfig struct {
	Enabled    bool   `yaml:"enabled"`
	PublicKey  string `yaml:"vapid_public_key"`
	PrivateKey string `yaml:"vapid_private_key"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
}

// WorkerPoolConfig holds the configuration for the alarm notification worker pool.
type WorkerPoolConfig struct {
	Size int `yaml:"size"`
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
}

// Load reads the configuration from the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	cfg.ApplyDefaults()
	return &cfg, nil
}

// ApplyDefaults fills in values for anything left unset. Exposed so tests can
// build a Config from scratch.
func (cfg *Config) ApplyDefaults() {
	if cfg.Auth.TokenTTLDays <= 0 {
		cfg.Auth.TokenTTLDays = 7
	}
	cfg.Auth.TokenTTL = time.Duration(cfg.Auth.TokenTTLDays) * 24 * time.Hour

	if cfg.Activation.MaxAttemptsPerIP <= 0 {
		cfg.Activation.MaxAttemptsPerIP = 10
	}
	if cfg.Activation.MaxAttemptsPerCode <= 0 {
		cfg.Activation.MaxAttemptsPerCode = 5
	}
	if cfg.Activation.WindowMinutes <= 0 {
		cfg.Activation.WindowMinutes = 15
	}
	cfg.Activation.Window = time.Duration(cfg.Activation.WindowMinutes) * time.Minute
	if cfg.Activation.BlockMinutes <= 0 {
		cfg.Activation.BlockMinutes = 30
	}
	cfg.Activation.Block = time.Duration(cfg.Activation.BlockMinutes) * time.Minute
	if cfg.Activation.MaxFailedRedemptions <= 0 {
		cfg.Activation.MaxFailedRedemptions = 10
	}

	if cfg.Telemetry.StalenessSeconds <= 0 {
		cfg.Telemetry.StalenessSeconds = 300
	}
	cfg.Telemetry.Staleness = time.Duration(cfg.Telemetry.StalenessSeconds) * time.Second
	if cfg.Telemetry.SweepSeconds <= 0 {
		cfg.Telemetry.SweepSeconds = 60
	}
	cfg.Telemetry.Sweep = time.Duration(cfg.Telemetry.SweepSeconds) * time.Second
	if cfg.Telemetry.IngestRatePerSec <= 0 {
		cfg.Telemetry.IngestRatePerSec = 50
	}
	if cfg.Telemetry.IngestBurst <= 0 {
		cfg.Telemetry.IngestBurst = 100
	}
	if cfg.Telemetry.MaxBatchSize <= 0 {
		cfg.Telemetry.MaxBatchSize = 500
	}

	if cfg.Live.PingIntervalSeconds <= 0 {
		cfg.Live.PingIntervalSeconds = 30
	}
	cfg.Live.PingInterval = time.Duration(cfg.Live.PingIntervalSeconds) * time.Second
	if cfg.Live.HeartbeatMs <= 0 {
		cfg.Live.HeartbeatMs = 30000
	}
	if cfg.Live.HeartbeatBusyMs <= 0 {
		cfg.Live.HeartbeatBusyMs = 5000
	}

	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = 10
	}
	if cfg.Server.CacheTTLSeconds <= 0 {
		cfg.Server.CacheTTLSeconds = 30
	}

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}

	if cfg.WorkerPool.Size <= 0 {
		log.Printf("worker_pool.size is not set or invalid; defaulting to 1")
		cfg.WorkerPool.Size = 1
	}
}
