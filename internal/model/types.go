package model

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// -----------------------------------------------------------------------------
// Subscription Modes
// -----------------------------------------------------------------------------

// Mode is the data mode an instrument is subscribed in. The set is closed:
// every inbound message is routed to exactly one of these.
type Mode int

const (
	ModeLTP   Mode = 1 // Last traded price only
	ModeQuote Mode = 2 // LTP plus OHLC and top-of-book
	ModeDepth Mode = 3 // Five-level market depth
)

// Modes lists every mode in wire-code order.
var Modes = [...]Mode{ModeLTP, ModeQuote, ModeDepth}

// String returns the mode name used in logs and configuration.
func (m Mode) String() string {
	switch m {
	case ModeQuote:
		return "quote"
	case ModeDepth:
		return "depth"
	default:
		return "ltp"
	}
}

// WireCode returns the numeric code sent in subscribe messages.
// Unknown modes encode as LTP.
func (m Mode) WireCode() int {
	switch m {
	case ModeLTP, ModeQuote, ModeDepth:
		return int(m)
	default:
		return int(ModeLTP)
	}
}

// Valid reports whether m is one of the three known modes.
func (m Mode) Valid() bool {
	return m == ModeLTP || m == ModeQuote || m == ModeDepth
}

// ParseMode maps a mode name or numeric code to a Mode.
// Anything unrecognised (including the empty string) is LTP.
func ParseMode(s string) Mode {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "quote", "2":
		return ModeQuote
	case "depth", "3":
		return ModeDepth
	default:
		return ModeLTP
	}
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mode) UnmarshalText(text []byte) error {
	*m = ParseMode(string(text))
	return nil
}

// UnmarshalJSON accepts both `"depth"` and `3`.
func (m *Mode) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "null" {
		*m = ModeLTP
		return nil
	}
	*m = ParseMode(s)
	return nil
}

// -----------------------------------------------------------------------------
// Option Sides
// -----------------------------------------------------------------------------

// Side distinguishes call and put contracts.
type Side string

const (
	Call Side = "CE"
	Put  Side = "PE"
)

// -----------------------------------------------------------------------------
// Market Data
// -----------------------------------------------------------------------------

// DepthLevel is one price level of a depth ladder. Index 0 of a ladder is best.
type DepthLevel struct {
	Price    float64 `json:"price"`
	Quantity int64   `json:"quantity"`
	Orders   int64   `json:"orders,omitempty"`
}

// MarketData is a decoded inbound market-data frame.
type MarketData struct {
	Type     string       `json:"type,omitempty"`
	Symbol   string       `json:"symbol"`
	Exchange string       `json:"exchange,omitempty"`
	Mode     Mode         `json:"mode"`
	LTP      *float64     `json:"ltp,omitempty"`
	Bid      *float64     `json:"bid,omitempty"`
	Ask      *float64     `json:"ask,omitempty"`
	Open     float64      `json:"open,omitempty"`
	High     float64      `json:"high,omitempty"`
	Low      float64      `json:"low,omitempty"`
	Close    float64      `json:"close,omitempty"`
	Bids     []DepthLevel `json:"bids,omitempty"`
	Asks     []DepthLevel `json:"asks,omitempty"`
	Volume   Count        `json:"volume,omitempty"`
	OI       Count        `json:"oi,omitempty"`

	ReceivedAt time.Time `json:"-"`
}

// HasPrice reports whether the frame carries at least one of ltp/bid/ask.
func (d MarketData) HasPrice() bool {
	return d.LTP != nil || d.Bid != nil || d.Ask != nil
}

// LastPrice returns the LTP or 0 when absent.
func (d MarketData) LastPrice() float64 {
	return deref(d.LTP)
}

// BidPrice returns the top-level bid field or 0 when absent.
func (d MarketData) BidPrice() float64 {
	return deref(d.Bid)
}

// AskPrice returns the top-level ask field or 0 when absent.
func (d MarketData) AskPrice() float64 {
	return deref(d.Ask)
}

func deref(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}

// Float returns a pointer to v. Handy for building MarketData literals.
func Float(v float64) *float64 {
	return &v
}

// UnmarshalJSON tolerates the feed's habit of sending some numbers as strings.
func (l *DepthLevel) UnmarshalJSON(data []byte) error {
	var wire struct {
		Price    json.Number `json:"price"`
		Quantity json.Number `json:"quantity"`
		Orders   json.Number `json:"orders"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	l.Price = numberFloat(wire.Price)
	l.Quantity = int64(numberFloat(wire.Quantity))
	l.Orders = int64(numberFloat(wire.Orders))
	return nil
}

// Count is a whole-number field the feed may send as 1234, 1234.0 or "1234".
// Anything unparseable decodes as 0.
type Count int64

// UnmarshalJSON implements json.Unmarshaler.
func (c *Count) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "null" {
		*c = 0
		return nil
	}
	*c = Count(numberFloat(json.Number(strings.TrimSpace(s))))
	return nil
}

func numberFloat(n json.Number) float64 {
	if n == "" {
		return 0
	}
	f, err := strconv.ParseFloat(string(n), 64)
	if err != nil {
		return 0
	}
	return f
}

// -----------------------------------------------------------------------------
// Accounts
// -----------------------------------------------------------------------------

// Account is a broker credential able to open a feed connection.
type Account struct {
	ID     int64  `json:"id" yaml:"id"`
	Name   string `json:"name" yaml:"name"`
	APIKey string `json:"-" yaml:"api_key"`

	// Host is the REST base URL; WSURL is the feed socket.
	Host  string `json:"host" yaml:"host"`
	WSURL string `json:"ws_url" yaml:"ws_url"`

	// Priority orders accounts in the failover pool. Lower connects first.
	Priority int `json:"priority" yaml:"priority"`
}

// MaskedKey returns the API key with everything but the ends hidden.
func (a Account) MaskedKey() string {
	if len(a.APIKey) <= 8 {
		return "****"
	}
	return a.APIKey[:4] + "..." + a.APIKey[len(a.APIKey)-4:]
}
