package config

import (
	"log/slog"
	"time"

	"github.com/rickgao/chainfeed/internal/model"
)

// Config is the root configuration for a feed instance.
type Config struct {
	Instance InstanceConfig `yaml:"instance"`
	API      APIConfig      `yaml:"api"`
	Feed     FeedConfig     `yaml:"feed"`
	Accounts AccountsConfig `yaml:"accounts"`
	Database DatabaseConfig `yaml:"database"`
	Chains   []ChainConfig  `yaml:"chains"`
	Cache    CacheConfig    `yaml:"cache"`
	Fallback FallbackConfig `yaml:"rest_fallback"`
	HTTP     HTTPConfig     `yaml:"http"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// InstanceConfig identifies this process.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// APIConfig holds broker REST settings.
type APIConfig struct {
	RestURL    string        `yaml:"rest_url"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

// FeedConfig holds streaming connection settings.
type FeedConfig struct {
	WSURL             string        `yaml:"ws_url"`
	ReconnectAttempts int           `yaml:"reconnect_attempts"`
	BackoffInitial    time.Duration `yaml:"backoff_initial"`
	BackoffBase       float64       `yaml:"backoff_base"`
	BackoffMax        time.Duration `yaml:"backoff_max"`
	FailoverEnabled   *bool         `yaml:"failover_enabled"` // nil means enabled
	ReplayRate        float64       `yaml:"replay_rate"`      // subscribe messages per second
	BatchSize         int           `yaml:"batch_size"`
	DepthLevels       int           `yaml:"depth_levels"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	PingInterval      time.Duration `yaml:"ping_interval"`
	PingTimeout       time.Duration `yaml:"ping_timeout"`
}

// Failover reports whether backup accounts should be used.
func (f FeedConfig) Failover() bool {
	return f.FailoverEnabled == nil || *f.FailoverEnabled
}

// Account sources.
const (
	AccountSourceInline   = "inline"
	AccountSourceDatabase = "database"
)

// AccountsConfig lists broker credentials, or points at the database.
type AccountsConfig struct {
	Source  string          `yaml:"source"`
	Primary model.Account   `yaml:"primary"`
	Backups []model.Account `yaml:"backups"`
}

// Inline returns the configured accounts in failover order. Accounts
// without an explicit priority follow the order written in the file.
func (a AccountsConfig) Inline() []model.Account {
	if a.Primary.APIKey == "" && len(a.Backups) == 0 {
		return nil
	}
	out := make([]model.Account, 0, 1+len(a.Backups))
	if a.Primary.APIKey != "" {
		out = append(out, a.Primary)
	}
	for i, b := range a.Backups {
		if b.Priority == 0 {
			b.Priority = i + 1
		}
		out = append(out, b)
	}
	return out
}

// DatabaseConfig holds the PostgreSQL connection used for account records.
type DatabaseConfig struct {
	Postgres DBConfig `yaml:"postgres"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// ChainConfig describes one option chain to maintain.
type ChainConfig struct {
	Underlying     string  `yaml:"underlying"`
	Exchange       string  `yaml:"exchange"`
	OptionExchange string  `yaml:"option_exchange"`
	Expiry         string  `yaml:"expiry"` // empty selects the nearest listed expiry
	StrikeStep     float64 `yaml:"strike_step"`
	StrikeCount    int     `yaml:"strike_count"`
}

// Cache backends.
const (
	CacheBackendMemory = "memory"
	CacheBackendRedis  = "redis"
)

// CacheConfig selects and sizes the depth cache.
type CacheConfig struct {
	Backend   string        `yaml:"backend"`
	TTL       time.Duration `yaml:"ttl"`
	MaxSize   int           `yaml:"max_size"`
	RedisURL  string        `yaml:"redis_url"`
	KeyPrefix string        `yaml:"key_prefix"`
}

// FallbackConfig controls REST polling while the feed is down.
type FallbackConfig struct {
	Enabled     *bool         `yaml:"enabled"` // nil means enabled
	Interval    time.Duration `yaml:"interval"`
	Concurrency int           `yaml:"concurrency"`
	Timeout     time.Duration `yaml:"timeout"`
}

// On reports whether the REST fallback should run.
func (f FallbackConfig) On() bool {
	return f.Enabled == nil || *f.Enabled
}

// HTTPConfig holds the status server settings.
type HTTPConfig struct {
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// SlogLevel maps Level to a slog level. Unknown values are Info.
func (l LoggingConfig) SlogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}
