package router

import "github.com/rickgao/chainfeed/internal/model"

// Handler consumes one routed message. A returned error is logged and
// counted; it does not stop the remaining handlers for the message.
type Handler func(msg model.MarketData) error

// ModeStats contains counters for a single mode.
type ModeStats struct {
	Handlers      int
	Routed        int64
	HandlerErrors int64
}

// RouterStats contains runtime statistics.
type RouterStats struct {
	LTP   ModeStats
	Quote ModeStats
	Depth ModeStats
}

// ForMode returns the stats bucket for mode.
func (s RouterStats) ForMode(mode model.Mode) ModeStats {
	switch mode {
	case model.ModeQuote:
		return s.Quote
	case model.ModeDepth:
		return s.Depth
	default:
		return s.LTP
	}
}
