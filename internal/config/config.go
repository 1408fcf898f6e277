// Package config provides Viper-based configuration loading for the Atrium
// presence server.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ListenerConfig holds the bind settings for one of the two TCP listeners.
type ListenerConfig struct {
	// Host is the bind address for the listener.
	Host string `mapstructure:"host"`
	// Port is the TCP port for the listener.
	Port int `mapstructure:"port"`
	// ReadTimeout is the per-read timeout for connections. Zero disables
	// the deadline; the game listener defaults to zero because idle
	// connections are never reaped.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout is the per-write timeout for connections.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// Addr returns the "host:port" listen address.
//
// Postcondition: Returns a non-empty string in "host:port" format.
func (l ListenerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", l.Host, l.Port)
}

// AdminConfig holds the administrative channel settings.
type AdminConfig struct {
	ListenerConfig `mapstructure:",squash"`
	// Secret is the shared secret for AUTH, compared exactly.
	Secret string `mapstructure:"secret"`
	// SecretHash is an optional bcrypt hash of the shared secret. When set
	// it takes precedence over Secret.
	SecretHash string `mapstructure:"secret_hash"`
}

// HotelConfig holds room-topology settings.
type HotelConfig struct {
	// DefaultRoom is the room assigned on join when the client names none,
	// and the target of leaveRoom and CLEAR_ROOM.
	DefaultRoom string `mapstructure:"default_room"`
	// RoomsFile is the path to the YAML room catalog. Empty disables the
	// file catalog.
	RoomsFile string `mapstructure:"rooms_file"`
}

// DatabaseConfig holds PostgreSQL connection settings for the room catalog.
type DatabaseConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
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

// EventsConfig holds the presence-event publisher settings.
type EventsConfig struct {
	// Enabled toggles publishing of presence events to Kafka.
	Enabled bool `mapstructure:"enabled"`
	// Brokers is the Kafka broker list.
	Brokers []string `mapstructure:"brokers"`
	// Topic is the topic presence events are published to.
	Topic string `mapstructure:"topic"`
	// ClientID identifies this producer to the brokers.
	ClientID string `mapstructure:"client_id"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Format is the log output format: "json" or "console".
	Format string `mapstructure:"format"`
}

// Config is the top-level application configuration.
type Config struct {
	Game     ListenerConfig `mapstructure:"game"`
	Admin    AdminConfig    `mapstructure:"admin"`
	Hotel    HotelConfig    `mapstructure:"hotel"`
	Database DatabaseConfig `mapstructure:"database"`
	Events   EventsConfig   `mapstructure:"events"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// Validate checks all configuration invariants.
//
// Postcondition: Returns nil if configuration is valid, or an error describing all violations.
func (c Config) Validate() error {
	var errs []string

	if err := validateListener("game", c.Game); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateAdmin(c.Admin); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateHotel(c.Hotel); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateDatabase(c.Database); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateEvents(c.Events); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateLogging(c.Logging); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validateListener(section string, l ListenerConfig) error {
	var errs []string
	if l.Port < 0 || l.Port > 65535 {
		errs = append(errs, fmt.Sprintf("%s.port must be 0-65535, got %d", section, l.Port))
	}
	if l.ReadTimeout < 0 {
		errs = append(errs, section+".read_timeout must not be negative")
	}
	if l.WriteTimeout < 0 {
		errs = append(errs, section+".write_timeout must not be negative")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateAdmin(a AdminConfig) error {
	var errs []string
	if err := validateListener("admin", a.ListenerConfig); err != nil {
		errs = append(errs, err.Error())
	}
	if a.Secret == "" && a.SecretHash == "" {
		errs = append(errs, "admin.secret or admin.secret_hash must be set")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateHotel(h HotelConfig) error {
	if h.DefaultRoom == "" {
		return errors.New("hotel.default_room must not be empty")
	}
	if strings.ContainsAny(h.DefaultRoom, " \t") {
		return fmt.Errorf("hotel.default_room must not contain whitespace, got %q", h.DefaultRoom)
	}
	return nil
}

func validateDatabase(d DatabaseConfig) error {
	if !d.Enabled {
		return nil
	}
	var errs []string
	if d.Host == "" {
		errs = append(errs, "database.host must not be empty")
	}
	if d.Port < 1 || d.Port > 65535 {
		errs = append(errs, fmt.Sprintf("database.port must be 1-65535, got %d", d.Port))
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
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateEvents(e EventsConfig) error {
	if !e.Enabled {
		return nil
	}
	var errs []string
	if len(e.Brokers) == 0 {
		errs = append(errs, "events.brokers must not be empty")
	}
	if e.Topic == "" {
		errs = append(errs, "events.topic must not be empty")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
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

	// Environment variable overrides with ATRIUM_ prefix
	v.SetEnvPrefix("ATRIUM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
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

func setDefaults(v *viper.Viper) {
	v.SetDefault("game.host", "0.0.0.0")
	v.SetDefault("game.port", 4242)
	v.SetDefault("game.read_timeout", "0s")
	v.SetDefault("game.write_timeout", "30s")

	v.SetDefault("admin.host", "127.0.0.1")
	v.SetDefault("admin.port", 4243)
	v.SetDefault("admin.read_timeout", "0s")
	v.SetDefault("admin.write_timeout", "30s")

	v.SetDefault("hotel.default_room", "lobby")
	v.SetDefault("hotel.rooms_file", "")

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "atrium")
	v.SetDefault("database.password", "atrium")
	v.SetDefault("database.name", "atrium")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", "1h")

	v.SetDefault("events.enabled", false)
	v.SetDefault("events.topic", "atrium.presence")
	v.SetDefault("events.client_id", "atrium")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}
