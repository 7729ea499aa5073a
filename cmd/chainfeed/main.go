// Command chainfeed maintains live option chains from a broker feed and
// serves them over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/rickgao/chainfeed/internal/api"
	"github.com/rickgao/chainfeed/internal/config"
	"github.com/rickgao/chainfeed/internal/connection"
	"github.com/rickgao/chainfeed/internal/database"
	"github.com/rickgao/chainfeed/internal/metrics"
	"github.com/rickgao/chainfeed/internal/model"
	"github.com/rickgao/chainfeed/internal/optionchain"
	"github.com/rickgao/chainfeed/internal/poller"
	"github.com/rickgao/chainfeed/internal/router"
	"github.com/rickgao/chainfeed/internal/subscription"
	"github.com/rickgao/chainfeed/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/chainfeed.yaml", "Path to configuration file")
	envPath := flag.String("env", ".env", "Path to dotenv file (ignored if missing)")
	flag.Parse()

	if err := config.LoadDotEnv(*envPath); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load env file: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	logger.Info("starting chainfeed",
		"version", version.Version,
		"commit", version.Get().Commit,
		"instance", cfg.Instance.ID,
		"chains", len(cfg.Chains),
	)

	if err := run(cfg, logger); err != nil {
		logger.Error("chainfeed exited with error", "error", err)
		os.Exit(1)
	}
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	accounts, err := loadAccounts(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("load accounts: %w", err)
	}

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collectorsSet := metrics.New(reg)

	// Broker REST client for the primary account
	primary := accounts[0]
	client := newAPIClient(cfg.API, primary, logger)

	// Feed plumbing
	rt := router.NewRouter(logger)
	registry := subscription.NewRegistry(subscription.Config{
		BatchSize:   cfg.Feed.BatchSize,
		ReplayRate:  cfg.Feed.ReplayRate,
		DepthLevels: cfg.Feed.DepthLevels,
	}, logger)

	pool, err := connection.NewPool(accounts)
	if err != nil {
		return fmt.Errorf("account pool: %w", err)
	}
	manager := connection.NewManager(managerConfig(cfg.Feed), pool, registry, rt, logger,
		connection.WithMetrics(collectorsSet))

	// Depth cache
	if n := cfg.ContractCount(); cfg.Cache.Backend == config.CacheBackendMemory && cfg.Cache.MaxSize < n {
		logger.Warn("cache.max_size is below the number of tracked contracts, live entries will be evicted",
			"max_size", cfg.Cache.MaxSize,
			"contracts", n,
		)
	}
	cache, closeCache, err := newDepthCache(ctx, cfg.Cache, logger)
	if err != nil {
		return fmt.Errorf("depth cache: %w", err)
	}
	defer closeCache()

	// Option chains
	coordinator := optionchain.NewCoordinator(logger)
	for _, cc := range cfg.Chains {
		ch := optionchain.New(optionchain.Config{
			Underlying:     cc.Underlying,
			Exchange:       cc.Exchange,
			OptionExchange: cc.OptionExchange,
			Expiry:         cc.Expiry,
			StrikeStep:     cc.StrikeStep,
			StrikeCount:    cc.StrikeCount,
		}, client, registry, rt, cache, logger, optionchain.WithMetrics(collectorsSet))
		if err := coordinator.Add(ch); err != nil {
			return err
		}
	}

	// Chains queue their subscriptions; the manager replays them once authenticated.
	if err := coordinator.InitializeAll(ctx); err != nil {
		logger.Error("some option chains failed to initialize", "error", err)
	}

	if err := manager.Start(ctx); err != nil {
		return fmt.Errorf("start connection manager: %w", err)
	}
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer stopCancel()
		manager.Stop(stopCtx)
	}()

	// REST fallback while the feed is down
	if cfg.Fallback.On() {
		fallback := poller.New(poller.Config{
			Interval:    cfg.Fallback.Interval,
			Concurrency: cfg.Fallback.Concurrency,
			Timeout:     cfg.Fallback.Timeout,
		}, client, coordinator, coordinator, manager, logger)
		if err := fallback.Start(ctx); err != nil {
			return fmt.Errorf("start rest fallback: %w", err)
		}
		defer func() {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
			defer stopCancel()
			fallback.Stop(stopCtx)
		}()
	} else {
		// The fallback poller retries failed chains itself; without it they
		// still need another attempt.
		go retryPendingChains(ctx, coordinator, cfg.Fallback.Interval, logger)
	}

	srv := &server{
		chains:   coordinator,
		feed:     manager,
		broker:   client,
		accounts: accounts,
		pingFor: func(a model.Account) pinger {
			return newAPIClient(cfg.API, a, logger)
		},
		gatherer:    reg,
		metricsPath: cfg.Metrics.Path,
		logger:      logger,
	}
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           srv.handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "port", cfg.HTTP.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	logger.Info("chainfeed running")

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
		logger.Error("http server error", "error", serveErr)
	}

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown", "error", err)
	}

	return serveErr
}

// retryPendingChains re-runs Initialize for chains that are not built yet
// until all of them are or ctx ends.
func retryPendingChains(ctx context.Context, co *optionchain.Coordinator, every time.Duration, logger *slog.Logger) {
	if every <= 0 {
		every = config.DefaultFallbackInterval
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if _, err := co.InitializePending(ctx); err == nil && allInitialized(co) {
			logger.Info("all option chains initialized")
			return
		}
	}
}

func allInitialized(co *optionchain.Coordinator) bool {
	for _, u := range co.Underlyings() {
		if ch, err := co.Get(u); err != nil || !ch.Initialized() {
			return false
		}
	}
	return true
}

// loadAccounts returns the failover pool with REST and feed URLs filled in.
func loadAccounts(ctx context.Context, cfg *config.Config, logger *slog.Logger) ([]model.Account, error) {
	var accounts []model.Account

	switch cfg.Accounts.Source {
	case config.AccountSourceDatabase:
		db, err := database.Connect(ctx, cfg.Database.Postgres)
		if err != nil {
			return nil, err
		}
		defer db.Close()

		accounts, err = database.NewAccountStore(db, logger).Active(ctx)
		if err != nil {
			return nil, err
		}
	default:
		accounts = cfg.Accounts.Inline()
	}

	if len(accounts) == 0 {
		return nil, database.ErrNoAccounts
	}

	for i := range accounts {
		if accounts[i].Host == "" {
			accounts[i].Host = cfg.API.RestURL
		}
		if accounts[i].WSURL == "" {
			accounts[i].WSURL = cfg.Feed.WSURL
		}
	}

	logger.Info("accounts loaded",
		"source", cfg.Accounts.Source,
		"count", len(accounts),
	)
	return accounts, nil
}

func newAPIClient(cfg config.APIConfig, account model.Account, logger *slog.Logger) *api.Client {
	return api.NewClient(account.Host, account.APIKey,
		api.WithLogger(logger),
		api.WithTimeout(cfg.Timeout),
		api.WithRetries(cfg.MaxRetries, time.Second),
	)
}

func managerConfig(feed config.FeedConfig) connection.ManagerConfig {
	mc := connection.DefaultManagerConfig()
	mc.URL = feed.WSURL
	mc.ReconnectAttempts = feed.ReconnectAttempts
	mc.BackoffInitial = feed.BackoffInitial
	mc.BackoffBase = feed.BackoffBase
	mc.BackoffMax = feed.BackoffMax
	mc.FailoverEnabled = feed.Failover()
	mc.Client.URL = feed.WSURL
	mc.Client.PingInterval = feed.PingInterval
	mc.Client.PingTimeout = feed.PingTimeout
	mc.Client.WriteTimeout = feed.WriteTimeout
	return mc
}

// newDepthCache builds the configured cache and a func releasing it.
func newDepthCache(ctx context.Context, cfg config.CacheConfig, logger *slog.Logger) (optionchain.DepthCache, func(), error) {
	if cfg.Backend != config.CacheBackendRedis {
		return optionchain.NewMemoryCache(cfg.MaxSize, cfg.TTL), func() {}, nil
	}

	client, err := optionchain.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	cache := optionchain.NewRedisCache(client, optionchain.RedisCacheConfig{
		Prefix: cfg.KeyPrefix,
		TTL:    cfg.TTL,
	}, logger)

	logger.Info("using redis depth cache", "prefix", cfg.KeyPrefix)
	return cache, func() { client.Close() }, nil
}
