package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if c.Feed.ReconnectAttempts < 1 {
		return errors.New("feed.reconnect_attempts must be >= 1")
	}
	if c.Feed.BackoffBase < 1 {
		return fmt.Errorf("feed.backoff_base must be >= 1, got %g", c.Feed.BackoffBase)
	}
	if c.Feed.BackoffMax < c.Feed.BackoffInitial {
		return fmt.Errorf("feed.backoff_max (%v) cannot be less than backoff_initial (%v)", c.Feed.BackoffMax, c.Feed.BackoffInitial)
	}
	if c.Feed.BatchSize < 1 {
		return errors.New("feed.batch_size must be >= 1")
	}
	if c.Feed.ReplayRate < 0 {
		return errors.New("feed.replay_rate must be >= 0")
	}

	switch c.Accounts.Source {
	case AccountSourceInline:
		if c.Accounts.Primary.APIKey == "" {
			return errors.New("accounts.primary.api_key is required")
		}
		if c.Accounts.Primary.ID <= 0 {
			return errors.New("accounts.primary.id must be > 0")
		}
		ids := map[int64]bool{c.Accounts.Primary.ID: true}
		for i, b := range c.Accounts.Backups {
			if b.APIKey == "" {
				return fmt.Errorf("accounts.backups[%d].api_key is required", i)
			}
			if b.ID <= 0 {
				return fmt.Errorf("accounts.backups[%d].id must be > 0", i)
			}
			if ids[b.ID] {
				return fmt.Errorf("accounts.backups[%d]: duplicate account id %d", i, b.ID)
			}
			ids[b.ID] = true
		}
	case AccountSourceDatabase:
		if err := c.Database.Postgres.validate("database.postgres"); err != nil {
			return err
		}
	default:
		return fmt.Errorf("accounts.source must be %q or %q, got %q", AccountSourceInline, AccountSourceDatabase, c.Accounts.Source)
	}

	if len(c.Chains) == 0 {
		return errors.New("at least one chain is required")
	}
	seen := make(map[string]bool, len(c.Chains))
	for i, ch := range c.Chains {
		if ch.Underlying == "" {
			return fmt.Errorf("chains[%d].underlying is required", i)
		}
		key := strings.ToUpper(ch.Underlying)
		if seen[key] {
			return fmt.Errorf("chains[%d]: duplicate underlying %s", i, key)
		}
		seen[key] = true
		if ch.StrikeStep < 0 {
			return fmt.Errorf("chains[%d].strike_step must be >= 0", i)
		}
		if ch.StrikeCount < 1 {
			return fmt.Errorf("chains[%d].strike_count must be >= 1", i)
		}
	}

	switch c.Cache.Backend {
	case CacheBackendMemory:
		if c.Cache.MaxSize < 1 {
			return errors.New("cache.max_size must be >= 1")
		}
	case CacheBackendRedis:
		if c.Cache.RedisURL == "" {
			return errors.New("cache.redis_url is required for the redis backend")
		}
	default:
		return fmt.Errorf("cache.backend must be %q or %q, got %q", CacheBackendMemory, CacheBackendRedis, c.Cache.Backend)
	}

	if c.Fallback.On() {
		if c.Fallback.Interval < time.Second {
			return fmt.Errorf("rest_fallback.interval must be at least 1s, got %v", c.Fallback.Interval)
		}
		if c.Fallback.Concurrency < 1 {
			return errors.New("rest_fallback.concurrency must be >= 1")
		}
	}

	if c.HTTP.Port < 1 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}

	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
