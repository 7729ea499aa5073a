package router

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/rickgao/chainfeed/internal/model"
)

// Router dispatches decoded market data to per-mode handler lists.
type Router interface {
	// Register appends h to the handler list for mode. No deduplication.
	Register(mode model.Mode, h Handler)

	// Route invokes every handler registered for msg.Mode, in order.
	// A message without a recognised mode is treated as LTP.
	Route(msg model.MarketData)

	// Stats returns current router statistics.
	Stats() RouterStats
}

// modeSlot holds the handlers and counters for one mode.
type modeSlot struct {
	handlers []Handler
	routed   atomic.Int64
	errors   atomic.Int64
}

// router is the internal implementation.
type router struct {
	logger *slog.Logger

	mu    sync.RWMutex
	slots map[model.Mode]*modeSlot
}

// NewRouter creates a new Data Router.
func NewRouter(logger *slog.Logger) Router {
	if logger == nil {
		logger = slog.Default()
	}

	slots := make(map[model.Mode]*modeSlot, len(model.Modes))
	for _, m := range model.Modes {
		slots[m] = &modeSlot{}
	}

	return &router{
		logger: logger,
		slots:  slots,
	}
}

// Register appends a handler for mode.
func (r *router) Register(mode model.Mode, h Handler) {
	if h == nil {
		return
	}
	mode = normalize(mode)

	r.mu.Lock()
	slot := r.slots[mode]
	slot.handlers = append(slot.handlers, h)
	count := len(slot.handlers)
	r.mu.Unlock()

	r.logger.Debug("handler registered", "mode", mode, "handlers", count)
}

// Route dispatches msg to the handlers for its mode.
func (r *router) Route(msg model.MarketData) {
	mode := normalize(msg.Mode)
	msg.Mode = mode

	r.mu.RLock()
	slot := r.slots[mode]
	handlers := slot.handlers
	r.mu.RUnlock()

	slot.routed.Add(1)

	r.logger.Debug("routing market data",
		"symbol", msg.Symbol,
		"mode", mode,
		"handlers", len(handlers),
	)

	for i, h := range handlers {
		if err := r.invoke(h, msg); err != nil {
			slot.errors.Add(1)
			r.logger.Error("handler failed",
				"mode", mode,
				"handler", i,
				"symbol", msg.Symbol,
				"error", err,
			)
		}
	}
}

// invoke runs a single handler, converting a panic into an error.
func (r *router) invoke(h Handler, msg model.MarketData) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("handler panic: %v", p)
		}
	}()
	return h(msg)
}

// Stats returns current statistics.
func (r *router) Stats() RouterStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return RouterStats{
		LTP:   r.slotStats(model.ModeLTP),
		Quote: r.slotStats(model.ModeQuote),
		Depth: r.slotStats(model.ModeDepth),
	}
}

// slotStats reads one slot. Caller must hold at least a read lock.
func (r *router) slotStats(mode model.Mode) ModeStats {
	slot := r.slots[mode]
	return ModeStats{
		Handlers:      len(slot.handlers),
		Routed:        slot.routed.Load(),
		HandlerErrors: slot.errors.Load(),
	}
}

func normalize(mode model.Mode) model.Mode {
	if !mode.Valid() {
		return model.ModeLTP
	}
	return mode
}
