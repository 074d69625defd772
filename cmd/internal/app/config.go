package app

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config contains the process configuration. Values come from defaults, then
// the optional YAML file named by QCK_CONFIG_FILE, then environment variables.
type Config struct {
	HTTPAddr  string `yaml:"http_addr"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"` // json | pretty

	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ReadTimeout       time.Duration `yaml:"read_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
	MaxHeaderBytes    int           `yaml:"max_header_bytes"`

	DatabaseURL string `yaml:"database_url"`
	DBMaxConns  int32  `yaml:"db_max_conns"`
	DBMinConns  int32  `yaml:"db_min_conns"`

	// RedisURL enables the shared revocation cache. Empty keeps it in process.
	RedisURL string `yaml:"redis_url"`

	// If true, /readyz returns 503 unless a database is configured and reachable.
	ReadinessRequireDB bool `yaml:"readiness_require_db"`

	MetricsEnabled bool `yaml:"metrics_enabled"`

	CORSAllowedOrigins   []string `yaml:"cors_allowed_origins"`
	CORSAllowCredentials bool     `yaml:"cors_allow_credentials"`
	CORSMaxAgeSeconds    int      `yaml:"cors_max_age_seconds"`

	// DevUser seeds one account at startup. Intended for local runs.
	DevUser DevUser `yaml:"dev_user"`
}

// DevUser is an account created at startup when Email is set.
type DevUser struct {
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
	Tier     string `yaml:"tier"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:  "0.0.0.0:8080",
		LogLevel:  "info",
		LogFormat: "json",

		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ShutdownTimeout:   10 * time.Second,
		MaxHeaderBytes:    1 << 20,

		DBMaxConns: 10,

		MetricsEnabled: true,

		CORSMaxAgeSeconds: 600,
	}
}

// LoadConfig builds Config from defaults, QCK_CONFIG_FILE and environment.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()

	if path := EnvString("QCK_CONFIG_FILE", ""); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return Config{}, err
		}
	}

	cfg.HTTPAddr = EnvString("QCK_HTTP_ADDR", cfg.HTTPAddr)
	cfg.LogLevel = EnvString("QCK_LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = EnvString("QCK_LOG_FORMAT", cfg.LogFormat)

	cfg.ReadHeaderTimeout = EnvDuration("QCK_HTTP_READ_HEADER_TIMEOUT", cfg.ReadHeaderTimeout)
	cfg.ReadTimeout = EnvDuration("QCK_HTTP_READ_TIMEOUT", cfg.ReadTimeout)
	cfg.WriteTimeout = EnvDuration("QCK_HTTP_WRITE_TIMEOUT", cfg.WriteTimeout)
	cfg.IdleTimeout = EnvDuration("QCK_HTTP_IDLE_TIMEOUT", cfg.IdleTimeout)
	cfg.ShutdownTimeout = EnvDuration("QCK_HTTP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	cfg.MaxHeaderBytes = EnvInt("QCK_HTTP_MAX_HEADER_BYTES", cfg.MaxHeaderBytes)

	cfg.DatabaseURL = EnvString("QCK_DATABASE_URL", cfg.DatabaseURL)
	cfg.DBMaxConns = EnvInt32("QCK_DB_MAX_CONNS", cfg.DBMaxConns)
	cfg.DBMinConns = EnvInt32("QCK_DB_MIN_CONNS", cfg.DBMinConns)
	cfg.RedisURL = EnvString("QCK_REDIS_URL", cfg.RedisURL)

	cfg.ReadinessRequireDB = EnvBool("QCK_READINESS_REQUIRE_DB", cfg.ReadinessRequireDB)
	cfg.MetricsEnabled = EnvBool("QCK_METRICS_ENABLED", cfg.MetricsEnabled)

	cfg.CORSAllowedOrigins = EnvList("QCK_CORS_ALLOWED_ORIGINS", cfg.CORSAllowedOrigins)
	cfg.CORSAllowCredentials = EnvBool("QCK_CORS_ALLOW_CREDENTIALS", cfg.CORSAllowCredentials)
	cfg.CORSMaxAgeSeconds = EnvInt("QCK_CORS_MAX_AGE_SECONDS", cfg.CORSMaxAgeSeconds)

	cfg.DevUser.Email = EnvString("QCK_DEV_USER_EMAIL", cfg.DevUser.Email)
	cfg.DevUser.Password = EnvString("QCK_DEV_USER_PASSWORD", cfg.DevUser.Password)
	cfg.DevUser.Tier = EnvString("QCK_DEV_USER_TIER", cfg.DevUser.Tier)

	if cfg.DBMinConns > cfg.DBMaxConns {
		return Config{}, fmt.Errorf("config: db_min_conns (%d) exceeds db_max_conns (%d)", cfg.DBMinConns, cfg.DBMaxConns)
	}
	switch strings.ToLower(cfg.LogFormat) {
	case "json", "pretty":
	default:
		return Config{}, fmt.Errorf("config: unknown log format %q", cfg.LogFormat)
	}
	return cfg, nil
}

// mergeFile overlays the YAML document at path onto cfg. Keys absent from
// the file keep their current value.
func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}
