// streamtest connects to the broker feed and streams decoded frames to console.
// Usage: go run ./cmd/streamtest --config configs/chainfeed.yaml --symbols NSE_INDEX:NIFTY,NFO:NIFTY28AUG2524800CE
//
// The primary account from the config is used; backups take over on failure
// exactly as in chainfeed.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rickgao/chainfeed/internal/config"
	"github.com/rickgao/chainfeed/internal/connection"
	"github.com/rickgao/chainfeed/internal/model"
	"github.com/rickgao/chainfeed/internal/router"
	"github.com/rickgao/chainfeed/internal/subscription"
)

func main() {
	configPath := flag.String("config", "configs/chainfeed.yaml", "path to config file")
	symbols := flag.String("symbols", "NSE_INDEX:NIFTY", "comma-separated EXCHANGE:SYMBOL list")
	modeName := flag.String("mode", "quote", "subscription mode: ltp, quote or depth")
	verbose := flag.Bool("verbose", false, "print full message JSON")
	flag.Parse()

	// Setup logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	if err := config.LoadDotEnv(); err != nil {
		logger.Error("failed to load env file", "error", err)
		os.Exit(1)
	}

	// Load config
	cfg, err := config.LoadWithDefaults(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	instruments, err := parseInstruments(*symbols)
	if err != nil {
		logger.Error("invalid --symbols", "error", err)
		os.Exit(1)
	}
	mode := model.ParseMode(*modeName)

	accounts := cfg.Accounts.Inline()
	if len(accounts) == 0 {
		logger.Error("no inline accounts configured", "hint", "set accounts.primary.api_key")
		os.Exit(1)
	}
	logger.Info("using account", "name", accounts[0].Name, "key", accounts[0].MaskedKey())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	rtr := router.NewRouter(logger)
	printer := func(msg model.MarketData) error {
		fmt.Println(formatFrame(msg, *verbose))
		return nil
	}
	for _, m := range model.Modes {
		rtr.Register(m, printer)
	}

	registry := subscription.NewRegistry(subscription.Config{
		BatchSize:   cfg.Feed.BatchSize,
		ReplayRate:  cfg.Feed.ReplayRate,
		DepthLevels: cfg.Feed.DepthLevels,
	}, logger)
	registry.SubscribeBatch(instruments, mode)

	pool, err := connection.NewPool(accounts)
	if err != nil {
		logger.Error("failed to build account pool", "error", err)
		os.Exit(1)
	}

	connCfg := connection.DefaultManagerConfig()
	connCfg.URL = cfg.Feed.WSURL
	connCfg.ReconnectAttempts = cfg.Feed.ReconnectAttempts
	connCfg.FailoverEnabled = cfg.Feed.Failover()

	connMgr := connection.NewManager(connCfg, pool, registry, rtr, logger)

	// Start Connection Manager (subscriptions replay once authenticated)
	logger.Info("starting connection manager", "instruments", len(instruments), "mode", mode)
	if err := connMgr.Start(ctx); err != nil {
		logger.Error("failed to start connection manager", "error", err)
		os.Exit(1)
	}

	// Stats printer
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				routerStats := rtr.Stats()
				status := connMgr.Status()
				logger.Info("stats",
					"state", status.State,
					"account", status.CurrentAccount,
					"subscriptions", status.Subscriptions,
					"received", status.Metrics.MessagesReceived,
					"dropped", status.Metrics.MessagesDropped,
					"ltp_routed", routerStats.LTP.Routed,
					"quote_routed", routerStats.Quote.Routed,
					"depth_routed", routerStats.Depth.Routed,
				)
			}
		}
	}()

	logger.Info("streaming started - press Ctrl+C to stop")

	// Wait for shutdown
	<-ctx.Done()

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	logger.Info("shutting down...")
	connMgr.Stop(shutdownCtx)

	logger.Info("shutdown complete")
}

// parseInstruments reads a comma-separated EXCHANGE:SYMBOL list.
func parseInstruments(s string) ([]subscription.Instrument, error) {
	var out []subscription.Instrument
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		exchange, symbol, ok := strings.Cut(part, ":")
		if !ok || exchange == "" || symbol == "" {
			return nil, fmt.Errorf("%q is not EXCHANGE:SYMBOL", part)
		}
		out = append(out, subscription.Instrument{
			Symbol:   strings.ToUpper(symbol),
			Exchange: strings.ToUpper(exchange),
		})
	}
	if len(out) == 0 {
		return nil, errors.New("no instruments given")
	}
	return out, nil
}

// formatFrame renders one frame as a console line.
func formatFrame(msg model.MarketData, verbose bool) string {
	if verbose {
		data, _ := json.MarshalIndent(msg, "", "  ")
		return fmt.Sprintf("[%s] %s", strings.ToUpper(msg.Mode.String()), data)
	}

	switch msg.Mode {
	case model.ModeDepth:
		var bid, ask model.DepthLevel
		if len(msg.Bids) > 0 {
			bid = msg.Bids[0]
		}
		if len(msg.Asks) > 0 {
			ask = msg.Asks[0]
		}
		return fmt.Sprintf("[DEPTH] symbol=%s ltp=%g bid=%g x %d ask=%g x %d levels=%d/%d",
			msg.Symbol, msg.LastPrice(), bid.Price, bid.Quantity, ask.Price, ask.Quantity, len(msg.Bids), len(msg.Asks))
	case model.ModeQuote:
		return fmt.Sprintf("[QUOTE] symbol=%s ltp=%g bid=%g ask=%g vol=%d oi=%d",
			msg.Symbol, msg.LastPrice(), msg.BidPrice(), msg.AskPrice(), msg.Volume, msg.OI)
	default:
		return fmt.Sprintf("[LTP] symbol=%s ltp=%g", msg.Symbol, msg.LastPrice())
	}
}
