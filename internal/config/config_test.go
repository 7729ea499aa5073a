package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rickgao/chainfeed/internal/model"
)

func TestLoad(t *testing.T) {
	yaml := `
instance:
  id: feed-1
api:
  rest_url: http://10.0.0.5:5000
feed:
  ws_url: ws://10.0.0.5:8765
  reconnect_attempts: 7
  backoff_base: 1.5
  failover_enabled: false
accounts:
  primary:
    id: 1
    name: primary
    api_key: key-primary
  backups:
    - id: 2
      name: backup-a
      api_key: key-a
    - id: 3
      name: backup-b
      api_key: key-b
      priority: 9
chains:
  - underlying: NIFTY
    expiry: 28-AUG-25
  - underlying: BANKNIFTY
    strike_step: 100
    strike_count: 10
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Instance.ID != "feed-1" {
		t.Errorf("Instance.ID = %q, want %q", cfg.Instance.ID, "feed-1")
	}
	if cfg.API.RestURL != "http://10.0.0.5:5000" {
		t.Errorf("API.RestURL = %q, want %q", cfg.API.RestURL, "http://10.0.0.5:5000")
	}
	if cfg.Feed.ReconnectAttempts != 7 {
		t.Errorf("Feed.ReconnectAttempts = %d, want 7", cfg.Feed.ReconnectAttempts)
	}
	if cfg.Feed.BackoffBase != 1.5 {
		t.Errorf("Feed.BackoffBase = %v, want 1.5", cfg.Feed.BackoffBase)
	}
	if cfg.Feed.Failover() {
		t.Error("Feed.Failover() = true, want false")
	}
	if cfg.Accounts.Primary.ID != 1 || len(cfg.Accounts.Backups) != 2 || cfg.Accounts.Backups[1].ID != 3 {
		t.Errorf("account ids = %d / %+v", cfg.Accounts.Primary.ID, cfg.Accounts.Backups)
	}
	if cfg.Accounts.Primary.APIKey != "key-primary" {
		t.Errorf("Accounts.Primary.APIKey = %q, want %q", cfg.Accounts.Primary.APIKey, "key-primary")
	}
	if len(cfg.Chains) != 2 {
		t.Fatalf("len(Chains) = %d, want 2", len(cfg.Chains))
	}
	if cfg.Chains[1].StrikeCount != 10 {
		t.Errorf("Chains[1].StrikeCount = %d, want 10", cfg.Chains[1].StrikeCount)
	}
}

func TestLoadWithEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_BROKER_KEY", "secret123")

	yaml := `
instance:
  id: feed-1
accounts:
  primary:
    name: primary
    api_key: ${TEST_BROKER_KEY}
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Accounts.Primary.APIKey != "secret123" {
		t.Errorf("Accounts.Primary.APIKey = %q, want %q", cfg.Accounts.Primary.APIKey, "secret123")
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	if err := os.WriteFile(envPath, []byte("CHAINFEED_TEST_DOTENV=from-file\n"), 0644); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Cleanup(func() { os.Unsetenv("CHAINFEED_TEST_DOTENV") })

	if err := LoadDotEnv(envPath, filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("LoadDotEnv failed: %v", err)
	}
	if got := os.Getenv("CHAINFEED_TEST_DOTENV"); got != "from-file" {
		t.Errorf("CHAINFEED_TEST_DOTENV = %q, want %q", got, "from-file")
	}

	path := writeTempFile(t, "instance:\n  id: ${CHAINFEED_TEST_DOTENV}\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Instance.ID != "from-file" {
		t.Errorf("Instance.ID = %q, want %q", cfg.Instance.ID, "from-file")
	}
}

func TestLoadDotEnv_DoesNotOverride(t *testing.T) {
	t.Setenv("CHAINFEED_TEST_PRESET", "from-env")

	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	if err := os.WriteFile(envPath, []byte("CHAINFEED_TEST_PRESET=from-file\n"), 0644); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	if err := LoadDotEnv(envPath); err != nil {
		t.Fatalf("LoadDotEnv failed: %v", err)
	}
	if got := os.Getenv("CHAINFEED_TEST_PRESET"); got != "from-env" {
		t.Errorf("CHAINFEED_TEST_PRESET = %q, want %q", got, "from-env")
	}
}

func TestLoad_Errors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil || !strings.Contains(err.Error(), "read config file") {
		t.Errorf("missing file error = %v", err)
	}

	path := writeTempFile(t, "instance: [unclosed")
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "parse config yaml") {
		t.Errorf("bad yaml error = %v", err)
	}
}

func TestLoadWithDefaults(t *testing.T) {
	yaml := `
instance:
  id: feed-1
chains:
  - underlying: NIFTY
`
	path := writeTempFile(t, yaml)

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	// Check defaults were applied
	if cfg.API.RestURL != DefaultRestURL {
		t.Errorf("API.RestURL = %q, want default %q", cfg.API.RestURL, DefaultRestURL)
	}
	if cfg.API.Timeout != DefaultAPITimeout {
		t.Errorf("API.Timeout = %v, want default %v", cfg.API.Timeout, DefaultAPITimeout)
	}
	if cfg.Feed.WSURL != DefaultWSURL {
		t.Errorf("Feed.WSURL = %q, want default %q", cfg.Feed.WSURL, DefaultWSURL)
	}
	if cfg.Feed.ReconnectAttempts != DefaultReconnectAttempts {
		t.Errorf("Feed.ReconnectAttempts = %d, want default %d", cfg.Feed.ReconnectAttempts, DefaultReconnectAttempts)
	}
	if cfg.Feed.BackoffBase != DefaultBackoffBase {
		t.Errorf("Feed.BackoffBase = %v, want default %v", cfg.Feed.BackoffBase, DefaultBackoffBase)
	}
	if cfg.Feed.BackoffMax != DefaultBackoffMax {
		t.Errorf("Feed.BackoffMax = %v, want default %v", cfg.Feed.BackoffMax, DefaultBackoffMax)
	}
	if !cfg.Feed.Failover() {
		t.Error("Feed.Failover() = false, want default true")
	}
	if cfg.Accounts.Source != AccountSourceInline {
		t.Errorf("Accounts.Source = %q, want default %q", cfg.Accounts.Source, AccountSourceInline)
	}
	if cfg.Database.Postgres.Port != DefaultDBPort {
		t.Errorf("Database.Postgres.Port = %d, want default %d", cfg.Database.Postgres.Port, DefaultDBPort)
	}
	if cfg.Chains[0].Exchange != DefaultUnderlyingExch || cfg.Chains[0].OptionExchange != DefaultOptionExch {
		t.Errorf("Chains[0] exchanges = %q/%q", cfg.Chains[0].Exchange, cfg.Chains[0].OptionExchange)
	}
	if cfg.Chains[0].StrikeCount != DefaultStrikeCount {
		t.Errorf("Chains[0].StrikeCount = %d, want default %d", cfg.Chains[0].StrikeCount, DefaultStrikeCount)
	}
	if cfg.Cache.Backend != CacheBackendMemory || cfg.Cache.TTL != DefaultCacheTTL || cfg.Cache.MaxSize != DefaultCacheSize {
		t.Errorf("Cache = %+v", cfg.Cache)
	}
	if !cfg.Fallback.On() || cfg.Fallback.Interval != DefaultFallbackInterval || cfg.Fallback.Concurrency != DefaultFallbackWorkers {
		t.Errorf("Fallback = %+v", cfg.Fallback)
	}
	if cfg.HTTP.Port != DefaultHTTPPort {
		t.Errorf("HTTP.Port = %d, want default %d", cfg.HTTP.Port, DefaultHTTPPort)
	}
	if cfg.Metrics.Path != DefaultMetricsPath {
		t.Errorf("Metrics.Path = %q, want default %q", cfg.Metrics.Path, DefaultMetricsPath)
	}
	if cfg.Logging.Level != DefaultLogLevel || cfg.Logging.Format != DefaultLogFormat {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
}

func TestApplyDefaults_CacheSizeCoversChains(t *testing.T) {
	tests := []struct {
		name   string
		chains []ChainConfig
		set    int
		want   int
	}{
		{"two default chains", []ChainConfig{{Underlying: "NIFTY"}, {Underlying: "BANKNIFTY"}}, 0, DefaultCacheSize},
		{"wide ladders", []ChainConfig{{Underlying: "NIFTY", StrikeCount: 200}, {Underlying: "BANKNIFTY", StrikeCount: 200}}, 0, 1604},
		{"explicit size kept", []ChainConfig{{Underlying: "NIFTY", StrikeCount: 200}}, 50, 50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Chains: tt.chains, Cache: CacheConfig{MaxSize: tt.set}}
			cfg.applyDefaults()
			if cfg.Cache.MaxSize != tt.want {
				t.Errorf("Cache.MaxSize = %d, want %d", cfg.Cache.MaxSize, tt.want)
			}
		})
	}
}

func TestConfig_ContractCount(t *testing.T) {
	cfg := &Config{Chains: []ChainConfig{{Underlying: "NIFTY"}, {Underlying: "BANKNIFTY", StrikeCount: 10}}}
	if got := cfg.ContractCount(); got != 82+42 {
		t.Errorf("ContractCount() = %d, want %d", got, 82+42)
	}
}

func TestAccountsConfig_Inline(t *testing.T) {
	a := AccountsConfig{}
	a.Primary.Name, a.Primary.APIKey = "p", "k0"
	a.Backups = append(a.Backups, a.Primary, a.Primary)
	a.Backups[0].Name, a.Backups[0].APIKey = "b1", "k1"
	a.Backups[1].Name, a.Backups[1].APIKey, a.Backups[1].Priority = "b2", "k2", 7

	got := a.Inline()
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	wantPriority := []int{0, 1, 7}
	for i, acct := range got {
		if acct.Priority != wantPriority[i] {
			t.Errorf("accounts[%d].Priority = %d, want %d", i, acct.Priority, wantPriority[i])
		}
	}

	if (AccountsConfig{}).Inline() != nil {
		t.Error("empty config should yield nil")
	}
}

func TestLoggingConfig_SlogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
		"loud":  slog.LevelInfo,
	}
	for in, want := range tests {
		if got := (LoggingConfig{Level: in}).SlogLevel(); got != want {
			t.Errorf("SlogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

// validConfig returns a config that passes Validate.
func validConfig() Config {
	cfg := Config{
		Instance: InstanceConfig{ID: "test"},
		Chains:   []ChainConfig{{Underlying: "NIFTY"}},
	}
	cfg.Accounts.Primary.ID = 1
	cfg.Accounts.Primary.APIKey = "key"
	cfg.applyDefaults()
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "valid config",
			mutate:  func(*Config) {},
			wantErr: "",
		},
		{
			name:    "missing instance id",
			mutate:  func(c *Config) { c.Instance.ID = "" },
			wantErr: "instance.id is required",
		},
		{
			name:    "backoff max below initial",
			mutate:  func(c *Config) { c.Feed.BackoffMax = 500 * time.Millisecond },
			wantErr: "feed.backoff_max (500ms) cannot be less than backoff_initial (1s)",
		},
		{
			name:    "backoff base below one",
			mutate:  func(c *Config) { c.Feed.BackoffBase = 0.5 },
			wantErr: "feed.backoff_base must be >= 1, got 0.5",
		},
		{
			name:    "missing primary key",
			mutate:  func(c *Config) { c.Accounts.Primary.APIKey = "" },
			wantErr: "accounts.primary.api_key is required",
		},
		{
			name: "backup without key",
			mutate: func(c *Config) {
				c.Accounts.Backups = append(c.Accounts.Backups, c.Accounts.Primary)
				c.Accounts.Backups[0].APIKey = ""
			},
			wantErr: "accounts.backups[0].api_key is required",
		},
		{
			name:    "primary without id",
			mutate:  func(c *Config) { c.Accounts.Primary.ID = 0 },
			wantErr: "accounts.primary.id must be > 0",
		},
		{
			name: "backup without id",
			mutate: func(c *Config) {
				c.Accounts.Backups = []model.Account{{Name: "b", APIKey: "key-b"}}
			},
			wantErr: "accounts.backups[0].id must be > 0",
		},
		{
			name: "backup reuses primary id",
			mutate: func(c *Config) {
				c.Accounts.Backups = []model.Account{{ID: 1, Name: "b", APIKey: "key-b"}}
			},
			wantErr: "accounts.backups[0]: duplicate account id 1",
		},
		{
			name: "backups share an id",
			mutate: func(c *Config) {
				c.Accounts.Backups = []model.Account{
					{ID: 2, Name: "b", APIKey: "key-b"},
					{ID: 2, Name: "c", APIKey: "key-c"},
				}
			},
			wantErr: "accounts.backups[1]: duplicate account id 2",
		},
		{
			name:    "database source needs postgres",
			mutate:  func(c *Config) { c.Accounts.Source = AccountSourceDatabase },
			wantErr: "database.postgres.host is required",
		},
		{
			name: "min_conns exceeds max_conns",
			mutate: func(c *Config) {
				c.Accounts.Source = AccountSourceDatabase
				c.Database.Postgres = DBConfig{Host: "localhost", Name: "db", User: "user", Password: "pass", MaxConns: 5, MinConns: 10}
			},
			wantErr: "database.postgres.min_conns (10) cannot exceed max_conns (5)",
		},
		{
			name:    "unknown account source",
			mutate:  func(c *Config) { c.Accounts.Source = "vault" },
			wantErr: `accounts.source must be "inline" or "database", got "vault"`,
		},
		{
			name:    "no chains",
			mutate:  func(c *Config) { c.Chains = nil },
			wantErr: "at least one chain is required",
		},
		{
			name:    "duplicate underlying",
			mutate:  func(c *Config) { c.Chains = append(c.Chains, ChainConfig{Underlying: "nifty", StrikeCount: 5}) },
			wantErr: "chains[1]: duplicate underlying NIFTY",
		},
		{
			name:    "redis without url",
			mutate:  func(c *Config) { c.Cache.Backend = CacheBackendRedis },
			wantErr: "cache.redis_url is required for the redis backend",
		},
		{
			name:    "fallback interval too short",
			mutate:  func(c *Config) { c.Fallback.Interval = 100 * time.Millisecond },
			wantErr: "rest_fallback.interval must be at least 1s, got 100ms",
		},
		{
			name: "fallback disabled skips its checks",
			mutate: func(c *Config) {
				off := false
				c.Fallback.Enabled = &off
				c.Fallback.Interval = time.Millisecond
			},
			wantErr: "",
		},
		{
			name:    "bad http port",
			mutate:  func(c *Config) { c.HTTP.Port = 70000 },
			wantErr: "http.port must be between 1 and 65535, got 70000",
		},
		{
			name:    "bad log format",
			mutate:  func(c *Config) { c.Logging.Format = "xml" },
			wantErr: `logging.format must be text or json, got "xml"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
			} else {
				if err == nil {
					t.Errorf("Validate() expected error containing %q, got nil", tt.wantErr)
				} else if err.Error() != tt.wantErr {
					t.Errorf("Validate() error = %q, want %q", err.Error(), tt.wantErr)
				}
			}
		})
	}
}

func TestLoadAndValidate(t *testing.T) {
	path := writeTempFile(t, "instance:\n  id: feed-1\n")
	if _, err := LoadAndValidate(path); err == nil || !strings.Contains(err.Error(), "validate config") {
		t.Errorf("error = %v, want validation failure", err)
	}
}

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

func TestExampleConfig(t *testing.T) {
	t.Setenv("OPENALGO_HOST", "http://10.0.0.5:5000")
	t.Setenv("OPENALGO_WS_URL", "")
	t.Setenv("OPENALGO_API_KEY", "primary-key-123456")
	t.Setenv("OPENALGO_BACKUP_API_KEY", "backup-key-123456")

	cfg, err := LoadAndValidate(filepath.Join("..", "..", "configs", "chainfeed.example.yaml"))
	if err != nil {
		t.Fatalf("LoadAndValidate: %v", err)
	}

	if cfg.API.RestURL != "http://10.0.0.5:5000" {
		t.Errorf("API.RestURL = %q", cfg.API.RestURL)
	}
	if cfg.Feed.WSURL != DefaultWSURL {
		t.Errorf("Feed.WSURL = %q, want default %q", cfg.Feed.WSURL, DefaultWSURL)
	}
	accounts := cfg.Accounts.Inline()
	if len(accounts) != 2 || accounts[1].APIKey != "backup-key-123456" {
		t.Errorf("accounts = %+v", accounts)
	}
	if len(cfg.Chains) != 2 || cfg.Chains[1].StrikeStep != 100 {
		t.Errorf("chains = %+v", cfg.Chains)
	}
	if !cfg.Fallback.On() || cfg.Fallback.Interval != 15*time.Second {
		t.Errorf("Fallback = %+v", cfg.Fallback)
	}
}
