package poller

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rickgao/chainfeed/internal/api"
	"github.com/rickgao/chainfeed/internal/optionchain"
)

// QuoteSource fetches one quote over REST.
type QuoteSource interface {
	Quotes(ctx context.Context, symbol, exchange string) (api.Quote, error)
}

// TargetSource provides the instruments to poll.
type TargetSource interface {
	PollTargets() []optionchain.Target
}

// Initializer is implemented by target sources that can retry building
// targets that failed earlier. It runs on every tick, feed up or down.
type Initializer interface {
	InitializePending(ctx context.Context) (int, error)
}

// QuoteHandler receives fetched quotes.
type QuoteHandler interface {
	HandleQuote(target optionchain.Target, quote api.Quote) error
}

// QuoteHandlerFunc is a function adapter for QuoteHandler.
type QuoteHandlerFunc func(optionchain.Target, api.Quote) error

func (f QuoteHandlerFunc) HandleQuote(t optionchain.Target, q api.Quote) error {
	return f(t, q)
}

// FeedGate reports whether the streaming feed is delivering data.
type FeedGate interface {
	Ready() bool
}

// Config holds poller configuration.
type Config struct {
	Interval    time.Duration // Poll interval (default: 15s)
	Concurrency int           // Max concurrent requests (default: 10)
	Timeout     time.Duration // Per-request timeout (default: 5s)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval:    15 * time.Second,
		Concurrency: 10,
		Timeout:     5 * time.Second,
	}
}

// Poller periodically refreshes quotes via REST while the feed is down.
type Poller struct {
	cfg     Config
	client  QuoteSource
	targets TargetSource
	handler QuoteHandler
	gate    FeedGate
	logger  *slog.Logger

	cycles atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Poller. A nil gate polls on every tick.
func New(cfg Config, client QuoteSource, targets TargetSource, handler QuoteHandler, gate FeedGate, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	return &Poller{
		cfg:     cfg,
		client:  client,
		targets: targets,
		handler: handler,
		gate:    gate,
		logger:  logger,
	}
}

// Start begins the polling loop.
func (p *Poller) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.run()

	p.logger.Info("rest fallback poller started",
		"interval", p.cfg.Interval,
		"concurrency", p.cfg.Concurrency,
	)

	return nil
}

// Stop gracefully shuts down the poller.
func (p *Poller) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("rest fallback poller stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cycles returns how many poll cycles actually fetched quotes.
func (p *Poller) Cycles() int64 {
	return p.cycles.Load()
}

// run is the main polling loop. The first tick waits one interval so the
// feed has a chance to authenticate.
func (p *Poller) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.initializePending()
			if p.gate != nil && p.gate.Ready() {
				continue
			}
			p.pollAll()
		}
	}
}

// initializePending gives unbuilt targets another chance before polling.
func (p *Poller) initializePending() {
	init, ok := p.targets.(Initializer)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(p.ctx, p.cfg.Timeout)
	defer cancel()

	if n, err := init.InitializePending(ctx); err != nil {
		p.logger.Warn("pending targets still failing", "initialized", n, "err", err)
	} else if n > 0 {
		p.logger.Info("pending targets initialized", "count", n)
	}
}

// pollAll fetches quotes for all targets concurrently.
func (p *Poller) pollAll() {
	start := time.Now()

	targets := p.targets.PollTargets()
	if len(targets) == 0 {
		p.logger.Debug("no instruments to poll")
		return
	}
	p.cycles.Add(1)

	// Semaphore for bounded concurrency.
	sem := make(chan struct{}, p.cfg.Concurrency)
	var wg sync.WaitGroup
	var fetched, failed atomic.Int64

	for _, target := range targets {
		wg.Add(1)
		go func(t optionchain.Target) {
			defer wg.Done()

			// Acquire semaphore slot.
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-p.ctx.Done():
				return
			}

			if err := p.pollTarget(t); err != nil {
				p.logger.Warn("failed to poll quote",
					"symbol", t.Symbol,
					"exchange", t.Exchange,
					"err", err,
				)
				failed.Add(1)
				return
			}

			fetched.Add(1)
		}(target)
	}

	wg.Wait()

	p.logger.Info("rest poll cycle complete",
		"instruments", len(targets),
		"fetched", fetched.Load(),
		"errors", failed.Load(),
		"duration", time.Since(start),
	)
}

// pollTarget fetches and handles a single quote.
func (p *Poller) pollTarget(t optionchain.Target) error {
	ctx, cancel := context.WithTimeout(p.ctx, p.cfg.Timeout)
	defer cancel()

	q, err := p.client.Quotes(ctx, t.Symbol, t.Exchange)
	if err != nil {
		return err
	}

	if p.handler != nil {
		return p.handler.HandleQuote(t, q)
	}
	return nil
}
