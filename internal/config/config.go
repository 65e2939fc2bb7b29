// Package config loads runtime settings from the environment and an
// optional .env file.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// EnvPrefix is prepended to every variable name.
const EnvPrefix = "DISTRIBUTOR_"

// Store backends.
const (
	StoreYAML      = "yaml"
	StoreSQLCipher = "sqlcipher"
)

// Config holds every runtime setting.
type Config struct {
	DataDir       string        `env:"DATA_DIR"       envDefault:"./data"`
	Store         string        `env:"STORE"          envDefault:"yaml"`
	TickRate      int           `env:"TICK_RATE"      envDefault:"60"`
	AsyncWorkers  int           `env:"ASYNC_WORKERS"  envDefault:"4"`
	ShutdownGrace time.Duration `env:"SHUTDOWN_GRACE" envDefault:"5s"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	LogFile  string `env:"LOG_FILE"`

	Namespace    string  `env:"NAMESPACE"     envDefault:"distributor"`
	CommandRate  float64 `env:"COMMAND_RATE"  envDefault:"5"`
	CommandBurst int     `env:"COMMAND_BURST" envDefault:"10"`

	// VerifyOperator and DefaultGroup override settings.yaml when set.
	VerifyOperator *bool  `env:"VERIFY_OPERATOR"`
	DefaultGroup   string `env:"DEFAULT_GROUP"`

	// StoreKey is a hex SQLCipher key. Empty means permissions.key in DataDir.
	StoreKey string `env:"STORE_KEY"`
}

// Load reads dotenv (if it exists) into the process environment without
// overriding variables already set, then parses the environment.
func Load(dotenv string) (Config, error) {
	if dotenv != "" {
		if err := godotenv.Load(dotenv); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", dotenv, err)
		}
	}
	return parse(env.Options{Prefix: EnvPrefix})
}

// FromMap parses settings from vars, keyed without the prefix applied.
func FromMap(vars map[string]string) (Config, error) {
	return parse(env.Options{Prefix: EnvPrefix, Environment: vars})
}

func parse(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.Store = strings.ToLower(strings.TrimSpace(cfg.Store))
	cfg.Namespace = strings.ToLower(strings.TrimSpace(cfg.Namespace))
	cfg.StoreKey = strings.TrimSpace(cfg.StoreKey)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks ranges and enumerations.
func (c Config) Validate() error {
	var errs []error
	if c.DataDir == "" {
		errs = append(errs, errors.New("data dir must not be empty"))
	}
	switch c.Store {
	case StoreYAML, StoreSQLCipher:
	default:
		errs = append(errs, fmt.Errorf("unknown store %q (want %s or %s)", c.Store, StoreYAML, StoreSQLCipher))
	}
	if c.TickRate < 0 {
		errs = append(errs, fmt.Errorf("tick rate must not be negative, got %d", c.TickRate))
	}
	if c.AsyncWorkers < 1 {
		errs = append(errs, fmt.Errorf("async workers must be at least 1, got %d", c.AsyncWorkers))
	}
	if c.ShutdownGrace <= 0 {
		errs = append(errs, fmt.Errorf("shutdown grace must be positive, got %s", c.ShutdownGrace))
	}
	if c.Namespace == "" {
		errs = append(errs, errors.New("namespace must not be empty"))
	}
	if c.CommandRate < 0 {
		errs = append(errs, fmt.Errorf("command rate must not be negative, got %g", c.CommandRate))
	}
	if c.CommandRate > 0 && c.CommandBurst < 1 {
		errs = append(errs, fmt.Errorf("command burst must be at least 1 when rate limiting, got %d", c.CommandBurst))
	}
	if c.StoreKey != "" {
		if c.Store != StoreSQLCipher {
			errs = append(errs, fmt.Errorf("store key is only used with the %s store", StoreSQLCipher))
		}
		if b, err := hex.DecodeString(c.StoreKey); err != nil || len(b) != 32 {
			errs = append(errs, errors.New("store key must be 64 hex characters"))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// PermissionsDir is where the YAML store keeps its files.
func (c Config) PermissionsDir() string {
	return filepath.Join(c.DataDir, "permissions")
}
