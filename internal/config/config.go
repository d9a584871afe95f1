// Package config loads and exposes application configuration (TOML).
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

// Default configuration values used when a field is missing in TOML.
const (
	DefaultConfigPath        = "config.toml"
	DefaultHTTPAddr          = ":8080"
	DefaultPGHost            = "127.0.0.1"
	DefaultPGPort            = 5432
	DefaultPGUser            = "postgres"
	DefaultPGDatabase        = "viainfra"
	DefaultPGSSLMode         = "disable"
	DefaultChannel           = "whatsapp"
	DefaultResetToken        = "reset"
	DefaultAntiFloodMillis   = 2000
	DefaultGatewayTimeoutSec = 10
	DefaultGatewayRPS        = 5
	DefaultSweepTTLHours     = 24
	DefaultStorageBackend    = "local"
	DefaultStorageDir        = "data/media"
)

// Config is the root application configuration loaded from TOML.
type Config struct {
	Log       LogConfig       `toml:"log"`
	Server    ServerConfig    `toml:"server"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Company   CompanyConfig   `toml:"company"`
	Gateway   GatewayConfig   `toml:"gateway"`
	Storage   StorageConfig   `toml:"storage"`
	Ticketing TicketingConfig `toml:"ticketing"`
	Flow      FlowConfig      `toml:"flow"`
}

// LogConfig holds logging level and format (e.g. level=info, format=text).
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// ServerConfig holds the HTTP server listen address.
type ServerConfig struct {
	Addr string `toml:"addr"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host     string `toml:"host" validate:"required"`
	Port     int    `toml:"port" validate:"gt=0"`
	User     string `toml:"user" validate:"required"`
	Password string `toml:"password"`
	Database string `toml:"database" validate:"required"`
	SSLMode  string `toml:"sslmode"`
}

// CompanyConfig scopes this deployment to a single tenant and channel.
type CompanyConfig struct {
	ID      string `toml:"id" validate:"required,uuid"`
	Channel string `toml:"channel" validate:"required"`
}

// GatewayConfig holds the messaging gateway base URL, API key, and send limits.
type GatewayConfig struct {
	BaseURL        string  `toml:"base_url" validate:"required,url"`
	APIKey         string  `toml:"api_key" validate:"required"`
	TimeoutSeconds int     `toml:"timeout_seconds" validate:"gt=0"`
	SendRPS        float64 `toml:"send_rps" validate:"gt=0"`
}

// StorageConfig selects the object storage backend for relocated media.
// Backend is "local" or "gcs".
type StorageConfig struct {
	Backend   string `toml:"backend" validate:"oneof=local gcs"`
	LocalDir  string `toml:"local_dir"`
	PublicURL string `toml:"public_url"`
	GCSBucket string `toml:"gcs_bucket"`
	Prefix    string `toml:"prefix"`
}

// TicketingConfig holds the external ticketing system endpoints.
type TicketingConfig struct {
	OptionsURL     string `toml:"options_url"`
	CreateURL      string `toml:"create_url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// FlowConfig holds flow engine tunables. SweepTTLHours = 0 disables the
// stale-conversation sweeper.
type FlowConfig struct {
	ResetToken      string `toml:"reset_token"`
	AntiFloodMillis int    `toml:"anti_flood_millis"`
	SweepTTLHours   int    `toml:"sweep_ttl_hours"`
	CacheTTLSeconds int    `toml:"cache_ttl_seconds"`
}

// Load reads and parses the TOML config file at path, applies default values
// for missing fields, applies env overrides, and validates the result.
func Load(path string) (Config, error) {
	cfg := Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		Postgres: PostgresConfig{
			Host:     DefaultPGHost,
			Port:     DefaultPGPort,
			User:     DefaultPGUser,
			Database: DefaultPGDatabase,
			SSLMode:  DefaultPGSSLMode,
		},
		Company: CompanyConfig{
			Channel: DefaultChannel,
		},
		Gateway: GatewayConfig{
			TimeoutSeconds: DefaultGatewayTimeoutSec,
			SendRPS:        DefaultGatewayRPS,
		},
		Storage: StorageConfig{
			Backend:  DefaultStorageBackend,
			LocalDir: DefaultStorageDir,
		},
		Ticketing: TicketingConfig{
			TimeoutSeconds: DefaultGatewayTimeoutSec,
		},
		Flow: FlowConfig{
			ResetToken:      DefaultResetToken,
			AntiFloodMillis: DefaultAntiFloodMillis,
			SweepTTLHours:   DefaultSweepTTLHours,
			CacheTTLSeconds: 60,
		},
	}

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return cfg, err
		}
	} else if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}

	applyEnvOverrides(&cfg)

	if err := validator.New().Struct(cfg); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("GATEWAY_BASE_URL"); v != "" {
		cfg.Gateway.BaseURL = v
	}
	if v := os.Getenv("GATEWAY_API_KEY"); v != "" {
		cfg.Gateway.APIKey = v
	}
	if v := os.Getenv("PG_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
}
