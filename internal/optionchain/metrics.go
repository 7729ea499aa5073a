package optionchain

import (
	"math"

	"github.com/shopspring/decimal"
)

// ComputeMetrics sums volume and open interest across entries and derives
// the put/call ratios and max pain. atm is returned as max pain when the
// ladder carries no open interest.
func ComputeMetrics(entries []StrikeEntry, atm float64) Metrics {
	var m Metrics
	for _, e := range entries {
		m.TotalCallVolume += e.Call.Volume
		m.TotalPutVolume += e.Put.Volume
		m.TotalCallOI += e.Call.OI
		m.TotalPutOI += e.Put.OI
	}

	m.PCR = ratio(m.TotalPutOI, m.TotalCallOI)
	m.VolumePCR = ratio(m.TotalPutVolume, m.TotalCallVolume)
	m.MaxPain = MaxPain(entries, atm)
	return m
}

// ratio returns num/den rounded to two places, or 0 when den is 0.
func ratio(num, den int64) float64 {
	if den == 0 {
		return 0
	}
	return decimal.NewFromInt(num).Div(decimal.NewFromInt(den)).Round(2).InexactFloat64()
}

// MaxPain returns the ladder strike at which option writers pay out the
// least if the underlying settles there. Ties go to the lower strike.
func MaxPain(entries []StrikeEntry, fallback float64) float64 {
	var totalOI int64
	for _, e := range entries {
		totalOI += e.Call.OI + e.Put.OI
	}
	if totalOI == 0 {
		return fallback
	}

	best, bestPayout := fallback, math.Inf(1)
	for _, settle := range entries {
		var payout float64
		for _, e := range entries {
			if settle.Strike > e.Strike {
				payout += float64(e.Call.OI) * (settle.Strike - e.Strike)
			} else if settle.Strike < e.Strike {
				payout += float64(e.Put.OI) * (e.Strike - settle.Strike)
			}
		}
		if payout < bestPayout {
			best, bestPayout = settle.Strike, payout
		}
	}
	return best
}
