// Package config provides Viper-based configuration loading for the townworks server.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Storage backends.
const (
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendSnapshot = "snapshot"
	BackendMemory   = "memory"
)

// Scan modes.
const (
	ScanExhaustive = "exhaustive"
	ScanSliced     = "sliced"
)

// ServerConfig holds top-level server settings.
type ServerConfig struct {
	// Name identifies this server instance in logs.
	Name string `mapstructure:"name"`
	// ShutdownTimeout bounds how long a service may take to stop.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// DSN returns the PostgreSQL connection string.
//
// Precondition: Host, Port, User, and Name must be non-empty.
// Postcondition: Returns a valid PostgreSQL DSN string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode,
	)
}

// StorageConfig selects and configures the persistence backend.
type StorageConfig struct {
	// Backend is one of "postgres", "sqlite", "snapshot" or "memory".
	Backend string `mapstructure:"backend"`
	// SQLitePath is the database file of the sqlite backend.
	SQLitePath string `mapstructure:"sqlite_path"`
	// SnapshotPath is the snapshot file; empty disables snapshots for non-snapshot backends.
	SnapshotPath string `mapstructure:"snapshot_path"`
	// SnapshotInterval is the period between snapshot saves.
	SnapshotInterval time.Duration `mapstructure:"snapshot_interval"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Format is the log output format: "json" or "console".
	Format string `mapstructure:"format"`
}

// EconomyConfig tunes the scanner, the daily cycle and the warehouse engine.
type EconomyConfig struct {
	ScanMode            string        `mapstructure:"scan_mode"`
	ScanInterval        time.Duration `mapstructure:"scan_interval"`
	ScanSliceSize       int           `mapstructure:"scan_slice_size"`
	FullRefreshInterval time.Duration `mapstructure:"full_refresh_interval"`
	SkipUnloaded        bool          `mapstructure:"skip_unloaded"`
	// LowDurabilityFraction is the remaining-durability share that triggers a tool warning.
	LowDurabilityFraction float64 `mapstructure:"low_durability_fraction"`
	// RolloverHour is the game hour at which a new economic day starts.
	RolloverHour int32 `mapstructure:"rollover_hour"`
	// HourDuration is the real time one game hour lasts.
	HourDuration time.Duration `mapstructure:"hour_duration"`
	// QueueSize is the mutator loop's job buffer.
	QueueSize int `mapstructure:"queue_size"`
	// Seed fixes the random source; 0 uses crypto/rand.
	Seed int64 `mapstructure:"seed"`
}

// ContentConfig locates the data files loaded at startup.
type ContentConfig struct {
	StructuresDir   string `mapstructure:"structures_dir"`
	TemplatesDir    string `mapstructure:"templates_dir"`
	GroupsFile      string `mapstructure:"groups_file"`
	SettlementsFile string `mapstructure:"settlements_file"`
	WorldsDir       string `mapstructure:"worlds_dir"`
}

// NotifyConfig holds the member notification websocket settings.
type NotifyConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
	// RatePerSecond and Burst throttle notices per connection.
	RatePerSecond float64       `mapstructure:"rate_per_second"`
	Burst         int           `mapstructure:"burst"`
	SendBuffer    int           `mapstructure:"send_buffer"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
}

// Addr returns the "host:port" listen address.
//
// Postcondition: Returns a non-empty string in "host:port" format.
func (n NotifyConfig) Addr() string {
	return fmt.Sprintf("%s:%d", n.Host, n.Port)
}

// GameServerConfig holds the health endpoint and the tick base interval.
type GameServerConfig struct {
	// GRPCHost is the bind address for the gRPC health service.
	GRPCHost string `mapstructure:"grpc_host"`
	// GRPCPort is the TCP port for the gRPC health service.
	GRPCPort int `mapstructure:"grpc_port"`
	// TickInterval is the base period of the tick manager.
	TickInterval time.Duration `mapstructure:"tick_interval"`
}

// Addr returns the "host:port" gRPC address.
//
// Postcondition: Returns a non-empty string in "host:port" format.
func (g GameServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", g.GRPCHost, g.GRPCPort)
}

// Config is the top-level application configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Economy    EconomyConfig    `mapstructure:"economy"`
	Content    ContentConfig    `mapstructure:"content"`
	Notify     NotifyConfig     `mapstructure:"notify"`
	GameServer GameServerConfig `mapstructure:"gameserver"`
}

// Validate checks all configuration invariants. Database settings are only
// checked when the postgres backend is selected.
//
// Postcondition: Returns nil if configuration is valid, or an error describing all violations.
func (c Config) Validate() error {
	var errs []string
	add := func(err error) {
		if err != nil {
			errs = append(errs, err.Error())
		}
	}

	if c.Server.Name == "" {
		add(errors.New("server.name must not be empty"))
	}
	add(validateStorage(c.Storage))
	if c.Storage.Backend == BackendPostgres {
		add(validateDatabase(c.Database))
	}
	add(validateLogging(c.Logging))
	add(validateEconomy(c.Economy))
	if c.Content.StructuresDir == "" {
		add(errors.New("content.structures_dir must not be empty"))
	}
	if c.Notify.Enabled {
		add(validateNotify(c.Notify))
	}
	add(validateGameServer(c.GameServer))

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func joined(errs []string) error {
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%s", strings.Join(errs, "; "))
}

func validatePort(key string, port int) string {
	if port < 1 || port > 65535 {
		return fmt.Sprintf("%s must be 1-65535, got %d", key, port)
	}
	return ""
}

func validateDatabase(d DatabaseConfig) error {
	var errs []string
	if d.Host == "" {
		errs = append(errs, "database.host must not be empty")
	}
	if msg := validatePort("database.port", d.Port); msg != "" {
		errs = append(errs, msg)
	}
	if d.User == "" {
		errs = append(errs, "database.user must not be empty")
	}
	if d.Name == "" {
		errs = append(errs, "database.name must not be empty")
	}
	validSSL := map[string]bool{"disable": true, "require": true, "verify-ca": true, "verify-full": true}
	if !validSSL[d.SSLMode] {
		errs = append(errs, fmt.Sprintf("database.sslmode must be one of [disable, require, verify-ca, verify-full], got %q", d.SSLMode))
	}
	if d.MaxConns < 1 {
		errs = append(errs, fmt.Sprintf("database.max_conns must be >= 1, got %d", d.MaxConns))
	}
	if d.MinConns < 0 {
		errs = append(errs, fmt.Sprintf("database.min_conns must be >= 0, got %d", d.MinConns))
	}
	if d.MinConns > d.MaxConns {
		errs = append(errs, "database.min_conns must not exceed database.max_conns")
	}
	return joined(errs)
}

func validateStorage(s StorageConfig) error {
	var errs []string
	switch s.Backend {
	case BackendPostgres, BackendMemory:
	case BackendSQLite:
		if s.SQLitePath == "" {
			errs = append(errs, "storage.sqlite_path must not be empty for the sqlite backend")
		}
	case BackendSnapshot:
		if s.SnapshotPath == "" {
			errs = append(errs, "storage.snapshot_path must not be empty for the snapshot backend")
		}
	default:
		errs = append(errs, fmt.Sprintf("storage.backend must be one of [postgres, sqlite, snapshot, memory], got %q", s.Backend))
	}
	if s.SnapshotPath != "" && s.SnapshotInterval <= 0 {
		errs = append(errs, "storage.snapshot_interval must be > 0 when snapshot_path is set")
	}
	return joined(errs)
}

func validateEconomy(e EconomyConfig) error {
	var errs []string
	switch e.ScanMode {
	case ScanExhaustive:
	case ScanSliced:
		if e.ScanSliceSize < 1 {
			errs = append(errs, fmt.Sprintf("economy.scan_slice_size must be >= 1, got %d", e.ScanSliceSize))
		}
		if e.FullRefreshInterval <= 0 {
			errs = append(errs, "economy.full_refresh_interval must be > 0 in sliced mode")
		}
	default:
		errs = append(errs, fmt.Sprintf("economy.scan_mode must be one of [exhaustive, sliced], got %q", e.ScanMode))
	}
	if e.ScanInterval <= 0 {
		errs = append(errs, "economy.scan_interval must be > 0")
	}
	if e.LowDurabilityFraction < 0 || e.LowDurabilityFraction >= 1 {
		errs = append(errs, fmt.Sprintf("economy.low_durability_fraction must be in [0, 1), got %g", e.LowDurabilityFraction))
	}
	if e.RolloverHour < 0 || e.RolloverHour > 23 {
		errs = append(errs, fmt.Sprintf("economy.rollover_hour must be 0-23, got %d", e.RolloverHour))
	}
	if e.HourDuration <= 0 {
		errs = append(errs, "economy.hour_duration must be > 0")
	}
	if e.QueueSize < 0 {
		errs = append(errs, fmt.Sprintf("economy.queue_size must be >= 0, got %d", e.QueueSize))
	}
	return joined(errs)
}

func validateNotify(n NotifyConfig) error {
	var errs []string
	if msg := validatePort("notify.port", n.Port); msg != "" {
		errs = append(errs, msg)
	}
	if !strings.HasPrefix(n.Path, "/") {
		errs = append(errs, fmt.Sprintf("notify.path must start with '/', got %q", n.Path))
	}
	if n.RatePerSecond <= 0 {
		errs = append(errs, "notify.rate_per_second must be > 0")
	}
	if n.Burst < 1 {
		errs = append(errs, fmt.Sprintf("notify.burst must be >= 1, got %d", n.Burst))
	}
	if n.SendBuffer < 1 {
		errs = append(errs, fmt.Sprintf("notify.send_buffer must be >= 1, got %d", n.SendBuffer))
	}
	return joined(errs)
}

func validateGameServer(g GameServerConfig) error {
	var errs []string
	if g.GRPCHost == "" {
		errs = append(errs, "gameserver.grpc_host must not be empty")
	}
	if msg := validatePort("gameserver.grpc_port", g.GRPCPort); msg != "" {
		errs = append(errs, msg)
	}
	if g.TickInterval <= 0 {
		errs = append(errs, "gameserver.tick_interval must be > 0")
	}
	return joined(errs)
}

func validateLogging(l LoggingConfig) error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error], got %q", l.Level)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("logging.format must be one of [json, console], got %q", l.Format)
	}
	return nil
}

// Load reads configuration from the given file path, applies environment variable
// overrides, and validates the result.
//
// Precondition: path must be a valid file path to a YAML configuration file.
// Postcondition: Returns a valid Config or a non-nil error.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	// TOWNWORKS_ECONOMY_SCAN_MODE overrides economy.scan_mode.
	v.SetEnvPrefix("TOWNWORKS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}
	return LoadFromViper(v)
}

// LoadFromViper builds a Config from an already-configured Viper instance.
//
// Precondition: v must be non-nil and have configuration values set.
// Postcondition: Returns a valid Config or a non-nil error.
func LoadFromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// SetDefaults installs the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.name", "townworks")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "townworks")
	v.SetDefault("database.password", "townworks")
	v.SetDefault("database.name", "townworks")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", "1h")

	v.SetDefault("storage.backend", BackendSQLite)
	v.SetDefault("storage.sqlite_path", "data/townworks.db")
	v.SetDefault("storage.snapshot_path", "")
	v.SetDefault("storage.snapshot_interval", "5m")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("economy.scan_mode", ScanExhaustive)
	v.SetDefault("economy.scan_interval", "30s")
	v.SetDefault("economy.scan_slice_size", 50)
	v.SetDefault("economy.full_refresh_interval", "10m")
	v.SetDefault("economy.skip_unloaded", true)
	v.SetDefault("economy.low_durability_fraction", 0.1)
	v.SetDefault("economy.rollover_hour", 6)
	v.SetDefault("economy.hour_duration", "1m")
	v.SetDefault("economy.queue_size", 256)
	v.SetDefault("economy.seed", 0)

	v.SetDefault("content.structures_dir", "content/structures")
	v.SetDefault("content.templates_dir", "content/templates")
	v.SetDefault("content.groups_file", "content/groups.yaml")
	v.SetDefault("content.settlements_file", "content/settlements.yaml")
	v.SetDefault("content.worlds_dir", "content/worlds")

	v.SetDefault("notify.enabled", true)
	v.SetDefault("notify.host", "0.0.0.0")
	v.SetDefault("notify.port", 8080)
	v.SetDefault("notify.path", "/notices")
	v.SetDefault("notify.rate_per_second", 2.0)
	v.SetDefault("notify.burst", 5)
	v.SetDefault("notify.send_buffer", 32)
	v.SetDefault("notify.write_timeout", "5s")

	v.SetDefault("gameserver.grpc_host", "127.0.0.1")
	v.SetDefault("gameserver.grpc_port", 50051)
	v.SetDefault("gameserver.tick_interval", "1s")
}
