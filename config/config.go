// Package config loads server configuration from config.toml and TICKETS_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App     AppConfig
	Storage StorageConfig
	Codec   CodecConfig
	Sale    SaleConfig
	Auth    AuthConfig
	Scanner ScannerConfig
	Log     LogConfig
	HTTP    HTTPConfig
	Jobs    JobsConfig
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string // development, staging, production
	Port string
}

// StorageConfig selects the repository backend.
type StorageConfig struct {
	Driver      string // memory, sqlite, postgres
	SQLitePath  string
	PostgresURL string
	MaxConns    int32
}

// CodecConfig holds the ticket code secret.
type CodecConfig struct {
	Secret      string
	MaxAttempts int
}

// SaleConfig selects the agent sale flow.
type SaleConfig struct {
	Flow       string // report, reserve
	MaxRetries int
}

// AuthConfig holds bearer token settings.
type AuthConfig struct {
	JWTSecret string
	Issuer    string
	TokenTTL  time.Duration
}

// ScannerConfig limits door validation attempts per caller.
type ScannerConfig struct {
	RatePerSecond float64
	Burst         int
	RedisAddr     string // empty: in-process limiter
	Window        time.Duration
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string
	Format string
	Output string
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	IdleTimeout      time.Duration
	ShutdownTimeout  time.Duration
	CORSAllowOrigins []string
}

// JobsConfig controls the background show concluder.
type JobsConfig struct {
	Enabled          bool
	ConcludeInterval time.Duration
	ConcludeGrace    time.Duration
}

// Load loads configuration with the default search paths.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile loads configuration from path, or from config.toml in the usual
// locations when path is empty.
// Priority (highest to lowest):
// 1. Environment variables with TICKETS_ prefix (e.g., TICKETS_CODEC_SECRET)
// 2. config file
// 3. Built-in defaults
func LoadFile(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("toml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/tickets")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("TICKETS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
			Port: v.GetString("app.port"),
		},
		Storage: StorageConfig{
			Driver:      v.GetString("storage.driver"),
			SQLitePath:  v.GetString("storage.sqlite_path"),
			PostgresURL: v.GetString("storage.postgres_url"),
			MaxConns:    v.GetInt32("storage.max_conns"),
		},
		Codec: CodecConfig{
			Secret:      v.GetString("codec.secret"),
			MaxAttempts: v.GetInt("codec.max_attempts"),
		},
		Sale: SaleConfig{
			Flow:       v.GetString("sale.flow"),
			MaxRetries: v.GetInt("sale.max_retries"),
		},
		Auth: AuthConfig{
			JWTSecret: v.GetString("auth.jwt_secret"),
			Issuer:    v.GetString("auth.issuer"),
			TokenTTL:  v.GetDuration("auth.token_ttl"),
		},
		Scanner: ScannerConfig{
			RatePerSecond: v.GetFloat64("scanner.rate_per_second"),
			Burst:         v.GetInt("scanner.burst"),
			RedisAddr:     v.GetString("scanner.redis_addr"),
			Window:        v.GetDuration("scanner.window"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:      v.GetDuration("http.read_timeout"),
			WriteTimeout:     v.GetDuration("http.write_timeout"),
			IdleTimeout:      v.GetDuration("http.idle_timeout"),
			ShutdownTimeout:  v.GetDuration("http.shutdown_timeout"),
			CORSAllowOrigins: v.GetStringSlice("http.cors_allow_origins"),
		},
		Jobs: JobsConfig{
			Enabled:          !v.IsSet("jobs.enabled") || v.GetBool("jobs.enabled"),
			ConcludeInterval: v.GetDuration("jobs.conclude_interval"),
			ConcludeGrace:    v.GetDuration("jobs.conclude_grace"),
		},
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// developmentSecret is the codec secret of the original box office. It is
// only accepted in development so demo codes stay verifiable.
const developmentSecret = "BACO_SECURE_V3"

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "ticket-engine"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "8080"
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "sqlite"
	}
	if cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = "./data/tickets.db"
	}
	if cfg.Storage.MaxConns == 0 {
		cfg.Storage.MaxConns = 10
	}
	if cfg.Codec.Secret == "" && cfg.IsDevelopment() {
		cfg.Codec.Secret = developmentSecret
	}
	if cfg.Codec.MaxAttempts == 0 {
		cfg.Codec.MaxAttempts = 64
	}
	if cfg.Sale.Flow == "" {
		cfg.Sale.Flow = "report"
	}
	if cfg.Sale.MaxRetries == 0 {
		cfg.Sale.MaxRetries = 3
	}
	if cfg.Auth.JWTSecret == "" && cfg.IsDevelopment() {
		cfg.Auth.JWTSecret = "development-only-jwt-secret-change-me"
	}
	if cfg.Auth.Issuer == "" {
		cfg.Auth.Issuer = "ticket-engine"
	}
	if cfg.Auth.TokenTTL == 0 {
		cfg.Auth.TokenTTL = 12 * time.Hour
	}
	if cfg.Scanner.RatePerSecond == 0 {
		cfg.Scanner.RatePerSecond = 5
	}
	if cfg.Scanner.Burst == 0 {
		cfg.Scanner.Burst = 10
	}
	if cfg.Scanner.Window == 0 {
		cfg.Scanner.Window = time.Minute
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		if cfg.App.Env == "production" {
			cfg.Log.Format = "json"
		} else {
			cfg.Log.Format = "console"
		}
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}
	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 15 * time.Second
	}
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = 15 * time.Second
	}
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = 60 * time.Second
	}
	if cfg.HTTP.ShutdownTimeout == 0 {
		cfg.HTTP.ShutdownTimeout = 30 * time.Second
	}
	if len(cfg.HTTP.CORSAllowOrigins) == 0 && cfg.IsDevelopment() {
		cfg.HTTP.CORSAllowOrigins = []string{"http://localhost:3000", "http://localhost:5173"}
	}
	if cfg.Jobs.ConcludeInterval == 0 {
		cfg.Jobs.ConcludeInterval = 15 * time.Minute
	}
	if cfg.Jobs.ConcludeGrace == 0 {
		cfg.Jobs.ConcludeGrace = 6 * time.Hour
	}
}

// IsDevelopment reports whether demo defaults and scenario endpoints apply.
func (c *Config) IsDevelopment() bool {
	return c.App.Env == "development"
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	switch c.Storage.Driver {
	case "memory", "sqlite":
	case "postgres":
		if c.Storage.PostgresURL == "" {
			return fmt.Errorf("storage.postgres_url is required for the postgres driver")
		}
	default:
		return fmt.Errorf("storage.driver must be memory, sqlite or postgres, got %q", c.Storage.Driver)
	}

	switch c.Sale.Flow {
	case "report", "reserve":
	default:
		return fmt.Errorf("sale.flow must be report or reserve, got %q", c.Sale.Flow)
	}

	if c.Scanner.RatePerSecond < 0 || c.Scanner.Burst < 0 {
		return fmt.Errorf("scanner limits cannot be negative")
	}

	if !c.IsDevelopment() {
		if c.Codec.Secret == "" {
			return fmt.Errorf("codec.secret is required outside development")
		}
		if c.Codec.Secret == developmentSecret {
			return fmt.Errorf("codec.secret must not be the development secret in %s", c.App.Env)
		}
		if c.Auth.JWTSecret == "" {
			return fmt.Errorf("auth.jwt_secret is required outside development")
		}
		if len(c.Auth.JWTSecret) < 32 {
			return fmt.Errorf("auth.jwt_secret must be at least 32 characters in %s", c.App.Env)
		}
		for _, origin := range c.HTTP.CORSAllowOrigins {
			if origin == "*" {
				return fmt.Errorf("http.cors_allow_origins cannot be '*' in %s", c.App.Env)
			}
		}
	}
	return nil
}
