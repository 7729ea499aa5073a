package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/rickgao/chainfeed/internal/model"
)

// ErrInvalidSubscription is returned when symbol or exchange is missing.
var ErrInvalidSubscription = errors.New("subscription requires symbol and exchange")

// DefaultDepthLevels is the depth requested with every subscribe message.
const DefaultDepthLevels = 5

// Subscription is one desired feed. The tuple is its own identity.
type Subscription struct {
	Symbol   string     `json:"symbol"`
	Exchange string     `json:"exchange"`
	Mode     model.Mode `json:"mode"`
}

// Validate checks the required fields.
func (s Subscription) Validate() error {
	if s.Symbol == "" || s.Exchange == "" {
		return fmt.Errorf("%w: symbol=%q exchange=%q", ErrInvalidSubscription, s.Symbol, s.Exchange)
	}
	return nil
}

// Instrument identifies a tradeable without a mode.
type Instrument struct {
	Symbol   string `json:"symbol"`
	Exchange string `json:"exchange"`
}

// Transport is the live connection the registry sends through.
type Transport interface {
	// Send writes one text frame.
	Send(data []byte) error

	// Ready reports whether the connection is open and authenticated.
	Ready() bool
}

// Config configures the registry.
type Config struct {
	BatchSize   int     // Instruments per SubscribeBatch chunk
	ReplayRate  float64 // Replay messages per second
	DepthLevels int     // Depth requested in subscribe messages
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:   20,
		ReplayRate:  20, // one message every 50ms
		DepthLevels: DefaultDepthLevels,
	}
}

// subscribeMessage is the wire format for a subscribe action.
type subscribeMessage struct {
	Action   string `json:"action"`
	Symbol   string `json:"symbol"`
	Exchange string `json:"exchange"`
	Mode     int    `json:"mode"`
	Depth    int    `json:"depth"`
}

// unsubscribeMessage is the wire format for an unsubscribe action.
type unsubscribeMessage struct {
	Action   string `json:"action"`
	Symbol   string `json:"symbol"`
	Exchange string `json:"exchange"`
}

// Registry tracks desired subscriptions and sends them when the transport is ready.
type Registry struct {
	cfg    Config
	logger *slog.Logger

	mu        sync.Mutex
	transport Transport
	order     []Subscription
	index     map[Subscription]int

	lastReplay time.Time

	// count mirrors len(order) so Len never waits on mu.
	count atomic.Int64

	// replayMu serializes replays. mu is never held while the pacer waits.
	replayMu sync.Mutex
}

// NewRegistry creates an empty registry. Bind must be called before anything is sent.
func NewRegistry(cfg Config, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	if cfg.DepthLevels < 1 {
		cfg.DepthLevels = DefaultDepthLevels
	}

	return &Registry{
		cfg:    cfg,
		logger: logger,
		index:  make(map[Subscription]int),
	}
}

// Bind attaches the transport used for live sends.
func (r *Registry) Bind(t Transport) {
	r.mu.Lock()
	r.transport = t
	r.mu.Unlock()
}

// Subscribe records sub and sends it if the transport is ready.
// It returns true when the subscribe message went out and false when the
// subscription was only queued for the next replay.
func (r *Registry) Subscribe(sub Subscription) (bool, error) {
	if err := sub.Validate(); err != nil {
		r.logger.Error("rejecting subscription", "error", err)
		return false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.addLocked(sub)

	if !r.readyLocked() {
		r.logger.Debug("transport not ready, queuing subscription",
			"symbol", sub.Symbol,
			"exchange", sub.Exchange,
			"mode", sub.Mode,
		)
		return false, nil
	}

	if err := r.sendSubscribeLocked(sub); err != nil {
		r.logger.Warn("subscribe send failed, will replay",
			"symbol", sub.Symbol,
			"error", err,
		)
		return false, nil
	}

	return true, nil
}

// SubscribeBatch subscribes many instruments in one mode. Work is split into
// chunks of Config.BatchSize so the lock is released between chunks; each
// instrument is still its own wire message. Returns how many were sent live.
func (r *Registry) SubscribeBatch(instruments []Instrument, mode model.Mode) int {
	if len(instruments) == 0 {
		r.logger.Warn("empty batch subscription")
		return 0
	}

	sent := 0
	for start := 0; start < len(instruments); start += r.cfg.BatchSize {
		end := min(start+r.cfg.BatchSize, len(instruments))
		sent += r.subscribeChunk(instruments[start:end], mode)
	}

	r.logger.Info("batch subscription processed",
		"instruments", len(instruments),
		"mode", mode,
		"sent", sent,
		"queued", len(instruments)-sent,
	)

	return sent
}

func (r *Registry) subscribeChunk(chunk []Instrument, mode model.Mode) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	ready := r.readyLocked()
	sent := 0

	for _, inst := range chunk {
		sub := Subscription{Symbol: inst.Symbol, Exchange: inst.Exchange, Mode: mode}
		if err := sub.Validate(); err != nil {
			r.logger.Warn("skipping invalid instrument", "error", err)
			continue
		}

		r.addLocked(sub)
		if !ready {
			continue
		}

		if err := r.sendSubscribeLocked(sub); err != nil {
			r.logger.Warn("subscribe send failed, will replay",
				"symbol", sub.Symbol,
				"error", err,
			)
			continue
		}
		sent++
	}

	return sent
}

// Unsubscribe removes sub from the registry and tells the server if connected.
// Removal happens regardless of the send outcome.
func (r *Registry) Unsubscribe(sub Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.removeLocked(sub)

	if r.transport == nil || !r.transport.Ready() {
		return nil
	}

	data, err := json.Marshal(unsubscribeMessage{
		Action:   "unsubscribe",
		Symbol:   sub.Symbol,
		Exchange: sub.Exchange,
	})
	if err != nil {
		return fmt.Errorf("encode unsubscribe: %w", err)
	}

	if err := r.transport.Send(data); err != nil {
		r.logger.Warn("unsubscribe send failed", "symbol", sub.Symbol, "error", err)
		return fmt.Errorf("send unsubscribe: %w", err)
	}

	r.logger.Debug("unsubscribed", "symbol", sub.Symbol, "exchange", sub.Exchange)
	return nil
}

// ReplayAll sends every registered subscription through the bound transport.
// See ReplayTo.
func (r *Registry) ReplayAll(ctx context.Context) int {
	r.mu.Lock()
	t := r.transport
	r.mu.Unlock()

	if t == nil {
		r.logger.Warn("replay skipped, no transport bound", "subscriptions", r.Len())
		return 0
	}
	return r.ReplayTo(ctx, t)
}

// ReplayTo sends every registered subscription through t in registry order,
// paced by Config.ReplayRate. The registry is copied up front and mu is only
// held around each individual send, so readers and live subscribes proceed
// while the replay waits on the pacer. Subscriptions removed mid-replay are
// skipped. A failed send is logged and the replay continues while t stays
// ready; it stops as soon as t is no longer ready or ctx is done.
// Returns the number sent.
func (r *Registry) ReplayTo(ctx context.Context, t Transport) int {
	r.replayMu.Lock()
	defer r.replayMu.Unlock()

	r.mu.Lock()
	pending := make([]Subscription, len(r.order))
	copy(pending, r.order)
	r.mu.Unlock()

	if !t.Ready() {
		r.logger.Warn("replay skipped, transport not ready", "subscriptions", len(pending))
		return 0
	}

	r.logger.Info("replaying subscriptions", "count", len(pending))

	var limiter *rate.Limiter
	if r.cfg.ReplayRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(r.cfg.ReplayRate), 1)
	}

	sent := 0
	for _, sub := range pending {
		if err := sub.Validate(); err != nil {
			r.logger.Warn("skipping malformed subscription during replay", "error", err)
			continue
		}

		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				r.logger.Warn("replay interrupted", "sent", sent, "error", err)
				return sent
			}
		}
		if ctx.Err() != nil {
			r.logger.Warn("replay interrupted", "sent", sent, "error", ctx.Err())
			return sent
		}

		r.mu.Lock()
		_, registered := r.index[sub]
		var err error
		if registered {
			err = r.sendSubscribe(t, sub)
		}
		r.mu.Unlock()

		if !registered {
			continue
		}
		if err != nil {
			if !t.Ready() {
				r.logger.Warn("replay stopped, transport gone", "sent", sent, "error", err)
				return sent
			}
			r.logger.Warn("replay send failed",
				"symbol", sub.Symbol,
				"exchange", sub.Exchange,
				"error", err,
			)
			continue
		}
		sent++
	}

	r.mu.Lock()
	r.lastReplay = time.Now()
	r.mu.Unlock()

	r.logger.Info("replay complete", "sent", sent, "total", len(pending))

	return sent
}

// Len returns the number of registered subscriptions.
func (r *Registry) Len() int {
	return int(r.count.Load())
}

// Contains reports whether sub is registered.
func (r *Registry) Contains(sub Subscription) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.index[sub]
	return ok
}

// List returns a copy of the registry in insertion order.
func (r *Registry) List() []Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Subscription, len(r.order))
	copy(out, r.order)
	return out
}

// LastReplay returns when the last replay finished (zero if never).
func (r *Registry) LastReplay() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastReplay
}

// addLocked inserts sub if absent. Caller must hold r.mu.
func (r *Registry) addLocked(sub Subscription) {
	if _, ok := r.index[sub]; ok {
		return
	}
	r.index[sub] = len(r.order)
	r.order = append(r.order, sub)
	r.count.Store(int64(len(r.order)))
}

// removeLocked deletes sub and reindexes. Caller must hold r.mu.
func (r *Registry) removeLocked(sub Subscription) {
	i, ok := r.index[sub]
	if !ok {
		return
	}
	r.order = append(r.order[:i], r.order[i+1:]...)
	delete(r.index, sub)
	for j := i; j < len(r.order); j++ {
		r.index[r.order[j]] = j
	}
	r.count.Store(int64(len(r.order)))
}

func (r *Registry) readyLocked() bool {
	return r.transport != nil && r.transport.Ready()
}

// sendSubscribeLocked sends sub on the bound transport. Caller must hold r.mu.
func (r *Registry) sendSubscribeLocked(sub Subscription) error {
	return r.sendSubscribe(r.transport, sub)
}

// sendSubscribe encodes and sends one subscribe message through t.
func (r *Registry) sendSubscribe(t Transport, sub Subscription) error {
	data, err := json.Marshal(subscribeMessage{
		Action:   "subscribe",
		Symbol:   sub.Symbol,
		Exchange: sub.Exchange,
		Mode:     sub.Mode.WireCode(),
		Depth:    r.cfg.DepthLevels,
	})
	if err != nil {
		return fmt.Errorf("encode subscribe: %w", err)
	}
	return t.Send(data)
}
