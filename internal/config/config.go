package config

import (
	"errors"
	"log"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Archive  ArchiveConfig  `mapstructure:"archive"`
	Audit    AuditConfig    `mapstructure:"audit"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

type ServerConfig struct {
	Port        string   `mapstructure:"port"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type AuthConfig struct {
	JWTSecret      string  `mapstructure:"jwt_secret"`
	TokenTTLHours  int     `mapstructure:"token_ttl_hours"`
	RateLimitQPS   float64 `mapstructure:"rate_limit_qps"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

type DatabaseConfig struct {
	DSN                    string `mapstructure:"dsn"`
	MaxOpenConns           int    `mapstructure:"max_open_conns"`
	MaxIdleConns           int    `mapstructure:"max_idle_conns"`
	RetentionDays          int    `mapstructure:"retention_days"`
	CleanupIntervalMinutes int    `mapstructure:"cleanup_interval_minutes"`
}

type RedisConfig struct {
	Addr            string `mapstructure:"addr"`
	Password        string `mapstructure:"password"`
	DB              int    `mapstructure:"db"`
	KeyPrefix       string `mapstructure:"key_prefix"`
	LogsTTLSeconds  int    `mapstructure:"logs_ttl_seconds"`
	StatsTTLSeconds int    `mapstructure:"stats_ttl_seconds"`
}

// ArchiveConfig points at the object store purged records are copied to.
// An empty endpoint disables archiving.
type ArchiveConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Bucket    string `mapstructure:"bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// AuditConfig is read once at startup and handed to the interceptor.
type AuditConfig struct {
	ExcludedPaths     []string `mapstructure:"excluded_paths"`
	ExcludedMethods   []string `mapstructure:"excluded_methods"`
	AuthenticatedOnly bool     `mapstructure:"authenticated_only"`
	Async             bool     `mapstructure:"async"`
	BufferSize        int      `mapstructure:"buffer_size"`
	ReadOnly          bool     `mapstructure:"read_only"`
	BreakerFailures   uint32   `mapstructure:"breaker_failures"`
	BreakerTimeoutSec int      `mapstructure:"breaker_timeout_seconds"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// DefaultExcludedPaths are skipped by the interceptor unless overridden.
var DefaultExcludedPaths = []string{
	"/admin/jsi18n/",
	"/static/",
	"/media/",
	"/favicon.ico",
}

// DefaultExcludedMethods are skipped by the interceptor unless overridden.
var DefaultExcludedMethods = []string{"OPTIONS"}

// DefaultAudit returns the interceptor settings used when nothing is configured.
func DefaultAudit() AuditConfig {
	return AuditConfig{
		ExcludedPaths:     append([]string(nil), DefaultExcludedPaths...),
		ExcludedMethods:   append([]string(nil), DefaultExcludedMethods...),
		BufferSize:        1000,
		BreakerFailures:   5,
		BreakerTimeoutSec: 30,
	}
}

func Load() (*Config, error) {
	// .env is optional; real environment variables still win
	if err := godotenv.Load(); err == nil {
		log.Println("Environment loaded from .env")
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")

	// e.g. REQAUDIT_DATABASE_DSN
	v.SetEnvPrefix("reqaudit")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			log.Println("No config file found, using defaults and env vars")
		} else {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Unmarshal only sees keys viper already knows, so every env-settable key
// needs a default here.
func setDefaults(v *viper.Viper) {
	audit := DefaultAudit()

	v.SetDefault("server.port", "8080")
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_ttl_hours", 24)
	v.SetDefault("auth.rate_limit_qps", 10)
	v.SetDefault("auth.rate_limit_burst", 20)
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 50)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.retention_days", 0)
	v.SetDefault("database.cleanup_interval_minutes", 60)
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "reqaudit:")
	v.SetDefault("redis.logs_ttl_seconds", 300)
	v.SetDefault("redis.stats_ttl_seconds", 600)
	v.SetDefault("archive.endpoint", "")
	v.SetDefault("archive.access_key", "")
	v.SetDefault("archive.secret_key", "")
	v.SetDefault("archive.use_ssl", false)
	v.SetDefault("archive.bucket", "request-logs")
	v.SetDefault("archive.prefix", "archive/")
	v.SetDefault("audit.excluded_paths", audit.ExcludedPaths)
	v.SetDefault("audit.excluded_methods", audit.ExcludedMethods)
	v.SetDefault("audit.authenticated_only", audit.AuthenticatedOnly)
	v.SetDefault("audit.async", audit.Async)
	v.SetDefault("audit.buffer_size", audit.BufferSize)
	v.SetDefault("audit.read_only", false)
	v.SetDefault("audit.breaker_failures", audit.BreakerFailures)
	v.SetDefault("audit.breaker_timeout_seconds", audit.BreakerTimeoutSec)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}
