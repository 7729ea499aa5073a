package optionchain

import (
	"fmt"
	"strings"

	"github.com/rickgao/chainfeed/internal/api"
	"github.com/rickgao/chainfeed/internal/model"
)

// Target is an instrument refreshed over REST while the feed is down.
type Target struct {
	Symbol   string
	Exchange string
}

// PollTargets returns the underlying followed by every ladder symbol.
// It is empty before Initialize.
func (c *Chain) PollTargets() []Target {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.initialized {
		return nil
	}

	out := make([]Target, 0, 1+2*len(c.entries))
	out = append(out, Target{Symbol: c.cfg.Underlying, Exchange: c.cfg.Exchange})
	for _, e := range c.entries {
		out = append(out,
			Target{Symbol: e.CallSymbol, Exchange: c.cfg.OptionExchange},
			Target{Symbol: e.PutSymbol, Exchange: c.cfg.OptionExchange},
		)
	}
	return out
}

// ApplyQuote folds a REST quote into the chain the same way a feed frame
// would be applied. A quote has no queue sizes, so BidQty and AskQty are 0.
func (c *Chain) ApplyQuote(symbol string, q api.Quote) error {
	msg := quoteMessage(symbol, q)
	if strings.EqualFold(symbol, c.cfg.Underlying) {
		return c.OnQuoteUpdate(msg)
	}
	return c.OnDepthUpdate(msg)
}

// owns reports whether symbol is the underlying or one of the ladder symbols.
func (c *Chain) owns(symbol string) bool {
	if strings.EqualFold(symbol, c.cfg.Underlying) {
		return true
	}
	c.mu.RLock()
	_, ok := c.bySymbol[symbol]
	c.mu.RUnlock()
	return ok
}

func quoteMessage(symbol string, q api.Quote) model.MarketData {
	msg := model.MarketData{
		Symbol: symbol,
		Mode:   model.ModeQuote,
		LTP:    model.Float(q.LTP),
		Volume: model.Count(q.Volume),
		OI:     model.Count(q.OI),
	}
	if q.Bid > 0 {
		msg.Bid = model.Float(q.Bid)
		msg.Bids = []model.DepthLevel{{Price: q.Bid}}
	}
	if q.Ask > 0 {
		msg.Ask = model.Float(q.Ask)
		msg.Asks = []model.DepthLevel{{Price: q.Ask}}
	}
	return msg
}

// PollTargets returns the targets of every initialized chain.
func (co *Coordinator) PollTargets() []Target {
	var out []Target
	for _, ch := range co.snapshotChains() {
		out = append(out, ch.PollTargets()...)
	}
	return out
}

// HandleQuote applies q to the chain owning t.Symbol.
func (co *Coordinator) HandleQuote(t Target, q api.Quote) error {
	for _, ch := range co.snapshotChains() {
		if ch.owns(t.Symbol) {
			return ch.ApplyQuote(t.Symbol, q)
		}
	}
	return fmt.Errorf("%w: no chain tracks %s", ErrUnknownUnderlying, t.Symbol)
}
