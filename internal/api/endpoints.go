package api

import (
	"context"
	"fmt"
)

// Quote is the top-of-book snapshot returned by the quotes endpoint.
type Quote struct {
	LTP       float64 `json:"ltp"`
	Bid       float64 `json:"bid"`
	Ask       float64 `json:"ask"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	PrevClose float64 `json:"prev_close"`
	Volume    int64   `json:"volume"`
	OI        int64   `json:"oi"`
}

// PingInfo is the ping endpoint payload.
type PingInfo struct {
	Broker  string `json:"broker"`
	Message string `json:"message"`
}

// Quotes fetches one quote. A missing bid or ask falls back to the LTP.
func (c *Client) Quotes(ctx context.Context, symbol, exchange string) (Quote, error) {
	var q Quote
	err := c.post(ctx, "quotes", map[string]string{
		"symbol":   symbol,
		"exchange": exchange,
	}, &q)
	if err != nil {
		return Quote{}, fmt.Errorf("quotes %s/%s: %w", symbol, exchange, err)
	}

	if q.Bid == 0 {
		q.Bid = q.LTP
	}
	if q.Ask == 0 {
		q.Ask = q.LTP
	}
	return q, nil
}

// Expiry lists expiry dates for an underlying, nearest first, in the
// broker's DD-MON-YY form.
func (c *Client) Expiry(ctx context.Context, symbol, exchange, instrumentType string) ([]string, error) {
	var dates []string
	err := c.post(ctx, "expiry", map[string]string{
		"symbol":         symbol,
		"exchange":       exchange,
		"instrumenttype": instrumentType,
	}, &dates)
	if err != nil {
		return nil, fmt.Errorf("expiry %s/%s: %w", symbol, exchange, err)
	}
	return dates, nil
}

// Ping checks connectivity and that the API key is accepted.
func (c *Client) Ping(ctx context.Context) (PingInfo, error) {
	var info PingInfo
	if err := c.post(ctx, "ping", nil, &info); err != nil {
		return PingInfo{}, fmt.Errorf("ping: %w", err)
	}
	return info, nil
}
