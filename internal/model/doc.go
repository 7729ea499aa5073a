// Package model defines shared data types used across the option-chain feed.
//
// Conventions:
//   - Prices: float64 rupees as delivered by the feed
//   - Quantities, volume and open interest: int64 contracts
//   - Timestamps: time.Time, converted to IST only at the presentation edge
//   - Instruments are identified by (symbol, exchange)
package model
