package optionchain

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rickgao/chainfeed/internal/api"
	"github.com/rickgao/chainfeed/internal/metrics"
	"github.com/rickgao/chainfeed/internal/model"
	"github.com/rickgao/chainfeed/internal/router"
	"github.com/rickgao/chainfeed/internal/subscription"
)

// QuoteSource fetches a one-shot quote for the underlying.
type QuoteSource interface {
	Quotes(ctx context.Context, symbol, exchange string) (api.Quote, error)
}

// ExpiryLister is implemented by quote sources that can list expiries.
// It is consulted only when a chain has no configured expiry.
type ExpiryLister interface {
	Expiry(ctx context.Context, symbol, exchange, instrumentType string) ([]string, error)
}

// Subscriber is the subset of the subscription registry a chain uses.
type Subscriber interface {
	Subscribe(sub subscription.Subscription) (bool, error)
	SubscribeBatch(instruments []subscription.Instrument, mode model.Mode) int
}

// Config describes one underlying's chain.
type Config struct {
	Underlying     string
	Exchange       string  // Underlying exchange, e.g. NSE_INDEX
	OptionExchange string  // Derivatives exchange, e.g. NFO
	Expiry         string  // Empty means the nearest listed expiry
	StrikeStep     float64 // Zero means StrikeStep(Underlying)
	StrikeCount    int     // Strikes on each side of ATM; zero means DefaultStrikeCount
}

// Option configures a Chain.
type Option func(*Chain)

// WithMetrics exports per-underlying gauges and counters.
func WithMetrics(c *metrics.Collectors) Option {
	return func(ch *Chain) {
		ch.metrics = c
	}
}

// withClock overrides time.Now for tests.
func withClock(now func() time.Time) Option {
	return func(ch *Chain) {
		ch.now = now
	}
}

// Chain holds live market state for one underlying's option ladder.
type Chain struct {
	cfg     Config
	source  QuoteSource
	subs    Subscriber
	router  router.Router
	cache   DepthCache
	metrics *metrics.Collectors
	logger  *slog.Logger
	now     func() time.Time

	active atomic.Bool

	mu          sync.RWMutex
	initialized bool
	expiry      time.Time
	atm         float64
	ltp         float64
	bid         float64
	ask         float64
	entries     []StrikeEntry
	byStrike    map[float64]int
	bySymbol    map[string]symbolRef
	byTag       map[string]int
}

// New creates a chain. Nothing is fetched or subscribed until Initialize.
// A nil cache disables write-through.
func New(cfg Config, source QuoteSource, subs Subscriber, rt router.Router, cache DepthCache, logger *slog.Logger, opts ...Option) *Chain {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.Underlying = strings.ToUpper(cfg.Underlying)
	if cfg.Exchange == "" {
		cfg.Exchange = "NSE_INDEX"
	}
	if cfg.OptionExchange == "" {
		cfg.OptionExchange = "NFO"
	}
	if cfg.StrikeStep <= 0 {
		cfg.StrikeStep = StrikeStep(cfg.Underlying)
	}
	if cfg.StrikeCount <= 0 {
		cfg.StrikeCount = DefaultStrikeCount
	}

	c := &Chain{
		cfg:    cfg,
		source: source,
		subs:   subs,
		router: rt,
		cache:  cache,
		logger: logger.With("underlying", cfg.Underlying),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Underlying returns the chain's underlying symbol.
func (c *Chain) Underlying() string {
	return c.cfg.Underlying
}

// Initialized reports whether the ladder has been built.
func (c *Chain) Initialized() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.initialized
}

// Initialize fetches the underlying price, builds the ladder, registers
// handlers with the router and then requests subscriptions. Handlers are
// registered before any subscription so no update can arrive unhandled.
func (c *Chain) Initialize(ctx context.Context) error {
	c.mu.RLock()
	done := c.initialized
	c.mu.RUnlock()
	if done {
		return ErrAlreadyInitialized
	}

	expiry, err := c.resolveExpiry(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", c.cfg.Underlying, err)
	}

	q, err := c.source.Quotes(ctx, c.cfg.Underlying, c.cfg.Exchange)
	if err != nil {
		return fmt.Errorf("%s: fetch underlying quote: %w", c.cfg.Underlying, err)
	}
	if q.LTP <= 0 {
		return fmt.Errorf("%s: %w", c.cfg.Underlying, ErrNoPrice)
	}

	atm := ComputeATM(q.LTP, c.cfg.StrikeStep)
	rungs := BuildLadder(atm, c.cfg.StrikeStep, c.cfg.StrikeCount)

	entries := make([]StrikeEntry, len(rungs))
	byStrike := make(map[float64]int, len(rungs))
	bySymbol := make(map[string]symbolRef, 2*len(rungs))
	byTag := make(map[string]int, len(rungs))
	instruments := make([]subscription.Instrument, 0, 2*len(rungs))

	for i, r := range rungs {
		e := StrikeEntry{
			Strike:     r.Strike,
			Tag:        r.Tag,
			Position:   r.Position,
			CallSymbol: BuildSymbol(c.cfg.Underlying, expiry, r.Strike, model.Call),
			PutSymbol:  BuildSymbol(c.cfg.Underlying, expiry, r.Strike, model.Put),
		}
		entries[i] = e
		byStrike[e.Strike] = i
		byTag[e.Tag] = i
		bySymbol[e.CallSymbol] = symbolRef{index: i, side: model.Call}
		bySymbol[e.PutSymbol] = symbolRef{index: i, side: model.Put}
		instruments = append(instruments,
			subscription.Instrument{Symbol: e.CallSymbol, Exchange: c.cfg.OptionExchange},
			subscription.Instrument{Symbol: e.PutSymbol, Exchange: c.cfg.OptionExchange},
		)
	}

	c.mu.Lock()
	if c.initialized {
		c.mu.Unlock()
		return ErrAlreadyInitialized
	}
	c.initialized = true
	c.expiry = expiry
	c.atm = atm
	c.ltp, c.bid, c.ask = q.LTP, q.Bid, q.Ask
	c.entries = entries
	c.byStrike = byStrike
	c.bySymbol = bySymbol
	c.byTag = byTag
	c.mu.Unlock()

	c.logger.Info("option chain built",
		"ltp", q.LTP,
		"atm", atm,
		"expiry", FormatExpiry(expiry),
		"strikes", len(entries),
	)
	c.metrics.SetChain(c.cfg.Underlying, atm, 0)

	c.router.Register(model.ModeDepth, c.OnDepthUpdate)
	c.router.Register(model.ModeQuote, c.OnQuoteUpdate)

	underlying := subscription.Subscription{
		Symbol:   c.cfg.Underlying,
		Exchange: c.cfg.Exchange,
		Mode:     model.ModeQuote,
	}
	if _, err := c.subs.Subscribe(underlying); err != nil {
		c.logger.Warn("underlying subscription rejected", "error", err)
	}
	sent := c.subs.SubscribeBatch(instruments, model.ModeDepth)

	c.logger.Info("option chain subscriptions requested",
		"instruments", len(instruments),
		"sent", sent,
	)
	return nil
}

// resolveExpiry parses the configured expiry or asks the source for the nearest one.
func (c *Chain) resolveExpiry(ctx context.Context) (time.Time, error) {
	if c.cfg.Expiry != "" {
		return ParseExpiry(c.cfg.Expiry)
	}

	lister, ok := c.source.(ExpiryLister)
	if !ok {
		return time.Time{}, fmt.Errorf("%w: none configured", ErrBadExpiry)
	}
	dates, err := lister.Expiry(ctx, c.cfg.Underlying, c.cfg.OptionExchange, "options")
	if err != nil {
		return time.Time{}, fmt.Errorf("list expiries: %w", err)
	}
	if len(dates) == 0 {
		return time.Time{}, fmt.Errorf("%w: no listed expiries", ErrBadExpiry)
	}

	t, err := ParseExpiry(dates[0])
	if err != nil {
		return time.Time{}, err
	}
	c.logger.Info("using nearest expiry", "expiry", dates[0])
	return t, nil
}

// OnDepthUpdate applies a depth frame. Frames for symbols outside the
// ladder are ignored.
func (c *Chain) OnDepthUpdate(msg model.MarketData) error {
	c.mu.RLock()
	ref, ok := c.bySymbol[msg.Symbol]
	c.mu.RUnlock()
	if !ok {
		return nil
	}

	snap := depthFromMessage(msg, c.now())

	c.mu.Lock()
	entry := &c.entries[ref.index]
	if ref.side == model.Put {
		entry.Put = snap
	} else {
		entry.Call = snap
	}
	strike := entry.Strike
	c.mu.Unlock()

	if c.cache != nil {
		c.cache.Set(CacheKey(c.cfg.Underlying, strike, ref.side), snap)
	}
	c.metrics.DepthUpdate(c.cfg.Underlying)

	c.logger.Debug("depth update",
		"symbol", msg.Symbol,
		"bid", snap.Bid,
		"ask", snap.Ask,
	)
	return nil
}

// depthFromMessage takes the best level of each side. An empty side
// leaves price and quantity at 0; spread needs both sides positive.
func depthFromMessage(msg model.MarketData, at time.Time) DepthSnapshot {
	snap := DepthSnapshot{
		LTP:       msg.LastPrice(),
		Volume:    int64(msg.Volume),
		OI:        int64(msg.OI),
		UpdatedAt: at,
	}
	if len(msg.Bids) > 0 {
		snap.Bid = msg.Bids[0].Price
		snap.BidQty = msg.Bids[0].Quantity
	}
	if len(msg.Asks) > 0 {
		snap.Ask = msg.Asks[0].Price
		snap.AskQty = msg.Asks[0].Quantity
	}
	if snap.Bid > 0 && snap.Ask > 0 {
		snap.Spread = decimal.NewFromFloat(snap.Ask).Sub(decimal.NewFromFloat(snap.Bid)).InexactFloat64()
	}
	return snap
}

// OnQuoteUpdate keeps the underlying's price live after initialization.
func (c *Chain) OnQuoteUpdate(msg model.MarketData) error {
	if !strings.EqualFold(msg.Symbol, c.cfg.Underlying) {
		return nil
	}

	bid, ask := msg.BidPrice(), msg.AskPrice()
	if bid == 0 && len(msg.Bids) > 0 {
		bid = msg.Bids[0].Price
	}
	if ask == 0 && len(msg.Asks) > 0 {
		ask = msg.Asks[0].Price
	}

	c.mu.Lock()
	if msg.LTP != nil {
		c.ltp = *msg.LTP
	}
	if bid > 0 {
		c.bid = bid
	}
	if ask > 0 {
		c.ask = ask
	}
	c.mu.Unlock()
	return nil
}

// Snapshot returns a deep copy of the chain and its aggregates.
// It never blocks on the feed and works before Initialize.
func (c *Chain) Snapshot() Snapshot {
	c.mu.RLock()
	snap := Snapshot{
		Underlying:    c.cfg.Underlying,
		UnderlyingLTP: c.ltp,
		UnderlyingBid: c.bid,
		UnderlyingAsk: c.ask,
		ATMStrike:     c.atm,
		Expiry:        c.cfg.Expiry,
		Initialized:   c.initialized,
		Options:       make([]StrikeEntry, len(c.entries)),
	}
	copy(snap.Options, c.entries)
	if c.initialized {
		snap.Expiry = FormatExpiry(c.expiry)
	}
	c.mu.RUnlock()

	snap.Timestamp = c.now().In(IST)
	snap.Active = c.active.Load()
	snap.Metrics = ComputeMetrics(snap.Options, snap.ATMStrike)

	if snap.Initialized {
		c.metrics.SetChain(snap.Underlying, snap.ATMStrike, snap.Metrics.PCR)
	}
	return snap
}

// lookup returns the current depth for symbol.
func (c *Chain) lookup(symbol string) (DepthSnapshot, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.initialized {
		return DepthSnapshot{}, ErrNotInitialized
	}
	ref, ok := c.bySymbol[symbol]
	if !ok {
		return DepthSnapshot{}, fmt.Errorf("symbol %q not in %s chain", symbol, c.cfg.Underlying)
	}
	return c.entries[ref.index].Side(ref.side), nil
}

// ExecutionPrice returns the price an order would fill at the top of book:
// the best ask for a buy, the best bid for a sell.
func (c *Chain) ExecutionPrice(symbol string, action Action) (float64, error) {
	d, err := c.lookup(symbol)
	if err != nil {
		return 0, err
	}
	if action == Buy {
		return d.Ask, nil
	}
	return d.Bid, nil
}

// Spread returns the bid-ask spread for symbol.
func (c *Chain) Spread(symbol string) (float64, error) {
	d, err := c.lookup(symbol)
	if err != nil {
		return 0, err
	}
	return d.Spread, nil
}

// ByTag returns the entry tagged tag (ATM, ITM3, OTM12, ...).
func (c *Chain) ByTag(tag string) (StrikeEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	i, ok := c.byTag[strings.ToUpper(tag)]
	if !ok {
		return StrikeEntry{}, false
	}
	return c.entries[i], true
}

// ByStrike returns the entry for strike.
func (c *Chain) ByStrike(strike float64) (StrikeEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	i, ok := c.byStrike[strike]
	if !ok {
		return StrikeEntry{}, false
	}
	return c.entries[i], true
}

// Start marks the chain as actively monitored. Display only.
func (c *Chain) Start() {
	if !c.active.Swap(true) {
		c.logger.Info("option chain monitoring started")
	}
}

// Stop clears the monitoring flag.
func (c *Chain) Stop() {
	if c.active.Swap(false) {
		c.logger.Info("option chain monitoring stopped")
	}
}

// Active reports the monitoring flag.
func (c *Chain) Active() bool {
	return c.active.Load()
}
