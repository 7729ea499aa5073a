package optionchain

import (
	"errors"
	"time"

	"github.com/rickgao/chainfeed/internal/model"
)

var (
	// ErrNotInitialized is returned by lookups on a chain whose ladder is not built yet.
	ErrNotInitialized = errors.New("option chain not initialized")

	// ErrAlreadyInitialized is returned by a second Initialize call.
	ErrAlreadyInitialized = errors.New("option chain already initialized")

	// ErrNoPrice is returned when the underlying quote carries no usable price.
	ErrNoPrice = errors.New("underlying quote has no price")

	// ErrUnknownUnderlying is returned by the coordinator for an unregistered underlying.
	ErrUnknownUnderlying = errors.New("unknown underlying")
)

// IST is India Standard Time. India observes no DST, so the fixed-offset
// fallback is exact when the zone database is unavailable.
var IST = loadIST()

func loadIST() *time.Location {
	if loc, err := time.LoadLocation("Asia/Kolkata"); err == nil {
		return loc
	}
	return time.FixedZone("IST", 5*60*60+30*60)
}

// DepthSnapshot is the top of book for one contract. It is replaced whole
// on every depth update.
type DepthSnapshot struct {
	LTP    float64 `json:"ltp"`
	Bid    float64 `json:"bid"`
	Ask    float64 `json:"ask"`
	BidQty int64   `json:"bid_qty"`
	AskQty int64   `json:"ask_qty"`
	Spread float64 `json:"spread"`
	Volume int64   `json:"volume"`
	OI     int64   `json:"oi"`

	UpdatedAt time.Time `json:"updated_at,omitzero"`
}

// StrikeEntry is one row of the chain.
type StrikeEntry struct {
	Strike     float64       `json:"strike"`
	Tag        string        `json:"tag"`
	Position   int           `json:"position"`
	CallSymbol string        `json:"ce_symbol"`
	PutSymbol  string        `json:"pe_symbol"`
	Call       DepthSnapshot `json:"ce_data"`
	Put        DepthSnapshot `json:"pe_data"`
}

// Side returns the snapshot for side.
func (e StrikeEntry) Side(side model.Side) DepthSnapshot {
	if side == model.Put {
		return e.Put
	}
	return e.Call
}

// Metrics are aggregates over the whole ladder.
type Metrics struct {
	TotalCallVolume int64   `json:"total_ce_volume"`
	TotalPutVolume  int64   `json:"total_pe_volume"`
	TotalCallOI     int64   `json:"total_ce_oi"`
	TotalPutOI      int64   `json:"total_pe_oi"`
	PCR             float64 `json:"pcr"`
	VolumePCR       float64 `json:"volume_pcr"`
	MaxPain         float64 `json:"max_pain"`
}

// Snapshot is a point-in-time copy of a chain, safe to hand to other goroutines.
type Snapshot struct {
	Underlying    string        `json:"underlying"`
	UnderlyingLTP float64       `json:"underlying_ltp"`
	UnderlyingBid float64       `json:"underlying_bid"`
	UnderlyingAsk float64       `json:"underlying_ask"`
	ATMStrike     float64       `json:"atm_strike"`
	Expiry        string        `json:"expiry"`
	Timestamp     time.Time     `json:"timestamp"`
	Initialized   bool          `json:"initialized"`
	Active        bool          `json:"monitoring_active"`
	Options       []StrikeEntry `json:"options"`
	Metrics       Metrics       `json:"market_metrics"`
}

// Action is an order direction for execution-price lookups.
type Action string

const (
	Buy  Action = "BUY"
	Sell Action = "SELL"
)

// symbolRef locates a contract inside the ladder.
type symbolRef struct {
	index int
	side  model.Side
}
