package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultRestURL           = "http://127.0.0.1:5000"
	DefaultWSURL             = "ws://127.0.0.1:8765"
	DefaultAPITimeout        = 10 * time.Second
	DefaultMaxRetries        = 3
	DefaultReconnectAttempts = 5
	DefaultBackoffInitial    = 1 * time.Second
	DefaultBackoffBase       = 2.0
	DefaultBackoffMax        = 60 * time.Second
	DefaultReplayRate        = 20.0
	DefaultBatchSize         = 20
	DefaultDepthLevels       = 5
	DefaultWriteTimeout      = 5 * time.Second
	DefaultPingInterval      = 30 * time.Second
	DefaultPingTimeout       = 90 * time.Second
	DefaultDBPort            = 5432
	DefaultDBSSLMode         = "prefer"
	DefaultMaxConns          = 4
	DefaultMinConns          = 1
	DefaultUnderlyingExch    = "NSE_INDEX"
	DefaultOptionExch        = "NFO"
	DefaultStrikeCount       = 20
	DefaultCacheTTL          = 30 * time.Second
	DefaultCacheSize         = 1000
	DefaultCacheKeyPrefix    = "chainfeed:depth:"
	DefaultFallbackInterval  = 15 * time.Second
	DefaultFallbackWorkers   = 10
	DefaultFallbackTimeout   = 5 * time.Second
	DefaultHTTPPort          = 8080
	DefaultShutdownTimeout   = 10 * time.Second
	DefaultMetricsPath       = "/metrics"
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "text"
)

func (c *Config) applyDefaults() {
	// API defaults
	if c.API.RestURL == "" {
		c.API.RestURL = DefaultRestURL
	}
	if c.API.Timeout == 0 {
		c.API.Timeout = DefaultAPITimeout
	}
	if c.API.MaxRetries == 0 {
		c.API.MaxRetries = DefaultMaxRetries
	}

	// Feed defaults
	if c.Feed.WSURL == "" {
		c.Feed.WSURL = DefaultWSURL
	}
	if c.Feed.ReconnectAttempts == 0 {
		c.Feed.ReconnectAttempts = DefaultReconnectAttempts
	}
	if c.Feed.BackoffInitial == 0 {
		c.Feed.BackoffInitial = DefaultBackoffInitial
	}
	if c.Feed.BackoffBase == 0 {
		c.Feed.BackoffBase = DefaultBackoffBase
	}
	if c.Feed.BackoffMax == 0 {
		c.Feed.BackoffMax = DefaultBackoffMax
	}
	if c.Feed.ReplayRate == 0 {
		c.Feed.ReplayRate = DefaultReplayRate
	}
	if c.Feed.BatchSize == 0 {
		c.Feed.BatchSize = DefaultBatchSize
	}
	if c.Feed.DepthLevels == 0 {
		c.Feed.DepthLevels = DefaultDepthLevels
	}
	if c.Feed.WriteTimeout == 0 {
		c.Feed.WriteTimeout = DefaultWriteTimeout
	}
	if c.Feed.PingInterval == 0 {
		c.Feed.PingInterval = DefaultPingInterval
	}
	if c.Feed.PingTimeout == 0 {
		c.Feed.PingTimeout = DefaultPingTimeout
	}

	// Accounts
	if c.Accounts.Source == "" {
		c.Accounts.Source = AccountSourceInline
	}

	// Database defaults
	applyDBDefaults(&c.Database.Postgres)

	// Chain defaults
	for i := range c.Chains {
		ch := &c.Chains[i]
		if ch.Exchange == "" {
			ch.Exchange = DefaultUnderlyingExch
		}
		if ch.OptionExchange == "" {
			ch.OptionExchange = DefaultOptionExch
		}
		if ch.StrikeCount == 0 {
			ch.StrikeCount = DefaultStrikeCount
		}
	}

	// Cache defaults
	if c.Cache.Backend == "" {
		c.Cache.Backend = CacheBackendMemory
	}
	if c.Cache.TTL == 0 {
		c.Cache.TTL = DefaultCacheTTL
	}
	if c.Cache.MaxSize == 0 {
		c.Cache.MaxSize = max(DefaultCacheSize, c.ContractCount())
	}
	if c.Cache.KeyPrefix == "" {
		c.Cache.KeyPrefix = DefaultCacheKeyPrefix
	}

	// REST fallback defaults
	if c.Fallback.Interval == 0 {
		c.Fallback.Interval = DefaultFallbackInterval
	}
	if c.Fallback.Concurrency == 0 {
		c.Fallback.Concurrency = DefaultFallbackWorkers
	}
	if c.Fallback.Timeout == 0 {
		c.Fallback.Timeout = DefaultFallbackTimeout
	}

	// HTTP and metrics defaults
	if c.HTTP.Port == 0 {
		c.HTTP.Port = DefaultHTTPPort
	}
	if c.HTTP.ShutdownTimeout == 0 {
		c.HTTP.ShutdownTimeout = DefaultShutdownTimeout
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}

	// Logging defaults
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}

// ContractCount is how many option contracts the configured chains track:
// a call and a put on each of 2N+1 strikes.
func (c *Config) ContractCount() int {
	n := 0
	for _, ch := range c.Chains {
		count := ch.StrikeCount
		if count <= 0 {
			count = DefaultStrikeCount
		}
		n += 2 * (2*count + 1)
	}
	return n
}
