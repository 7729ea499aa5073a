package optionchain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rickgao/chainfeed/internal/model"
)

// ErrBadExpiry is returned when an expiry string matches none of the known layouts.
var ErrBadExpiry = errors.New("unparseable expiry")

// DefaultStrikeCount is the number of strikes generated on each side of ATM.
const DefaultStrikeCount = 20

// defaultStep is used for underlyings missing from DefaultStrikeSteps.
const defaultStep = 100

// DefaultStrikeSteps holds the listed strike spacing per index.
var DefaultStrikeSteps = map[string]float64{
	"NIFTY":      50,
	"BANKNIFTY":  100,
	"FINNIFTY":   50,
	"MIDCPNIFTY": 25,
	"SENSEX":     100,
}

// StrikeStep returns the strike spacing for underlying.
func StrikeStep(underlying string) float64 {
	if step, ok := DefaultStrikeSteps[strings.ToUpper(underlying)]; ok {
		return step
	}
	return defaultStep
}

// Rung is one generated strike before any market data is attached.
type Rung struct {
	Strike   float64
	Tag      string
	Position int
}

// ComputeATM returns the multiple of step nearest to lastPrice.
// Midpoints round away from zero, so 24825 with step 50 gives 24850.
func ComputeATM(lastPrice, step float64) float64 {
	if step <= 0 {
		return lastPrice
	}
	s := decimal.NewFromFloat(step)
	return decimal.NewFromFloat(lastPrice).Div(s).Round(0).Mul(s).InexactFloat64()
}

// BuildLadder generates 2*count+1 strikes centred on atm, lowest first.
// Positions run -count..count; tags run ITM{count}..ITM1, ATM, OTM1..OTM{count}.
func BuildLadder(atm, step float64, count int) []Rung {
	if count < 0 {
		count = 0
	}
	base := decimal.NewFromFloat(atm)
	s := decimal.NewFromFloat(step)

	rungs := make([]Rung, 0, 2*count+1)
	for pos := -count; pos <= count; pos++ {
		rungs = append(rungs, Rung{
			Strike:   base.Add(s.Mul(decimal.NewFromInt(int64(pos)))).InexactFloat64(),
			Tag:      ladderTag(pos),
			Position: pos,
		})
	}
	return rungs
}

func ladderTag(pos int) string {
	switch {
	case pos < 0:
		return fmt.Sprintf("ITM%d", -pos)
	case pos > 0:
		return fmt.Sprintf("OTM%d", pos)
	default:
		return "ATM"
	}
}

// FormatStrike renders a strike without a trailing decimal point when integral.
func FormatStrike(strike float64) string {
	return decimal.NewFromFloat(strike).String()
}

// BuildSymbol constructs the exchange symbol for one contract, e.g.
// NIFTY28AUG2524800CE.
func BuildSymbol(underlying string, expiry time.Time, strike float64, side model.Side) string {
	var b strings.Builder
	b.WriteString(strings.ToUpper(underlying))
	b.WriteString(expiryCode(expiry))
	b.WriteString(FormatStrike(strike))
	b.WriteString(string(side))
	return b.String()
}

// expiryCode renders DDMMMYY.
func expiryCode(t time.Time) string {
	return strings.ToUpper(t.Format("02Jan")) + t.Format("06")
}

// expiryLayouts are tried in order. Month names match case-insensitively.
var expiryLayouts = []string{
	"2-Jan-06",
	"2-Jan-2006",
	"2Jan06",
	"2Jan2006",
	"2006-01-02",
	"2/01/2006",
	"2 Jan 2006",
	"2 Jan 06",
}

// ParseExpiry parses the expiry forms brokers and operators commonly write:
// 28-AUG-25, 28-Aug-2025, 28AUG25, 28AUG2025, 2025-08-28, 28/08/2025 and
// 28 Aug 2025. The result is midnight IST on that day.
func ParseExpiry(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: empty", ErrBadExpiry)
	}
	for _, layout := range expiryLayouts {
		if t, err := time.ParseInLocation(layout, s, IST); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrBadExpiry, s)
}

// FormatExpiry renders t in the broker's DD-MON-YY form.
func FormatExpiry(t time.Time) string {
	return strings.ToUpper(t.Format("02-Jan-06"))
}
