// Package optionchain maintains live option chains built around the
// at-the-money strike of an index.
//
// A Chain is constructed per underlying and owned by a Coordinator.
// Initialize fetches the underlying quote once, derives the ATM strike,
// builds a ladder of 2N+1 strikes (ITMN..ITM1, ATM, OTM1..OTMN) and
// subscribes every call and put in depth mode. Depth frames arriving
// through the router replace the per-contract DepthSnapshot whole, under
// the chain lock, so a concurrent Snapshot never sees a half-applied update.
//
// Symbols follow the exchange convention UNDERLYING + DDMMMYY + STRIKE + CE|PE,
// for example NIFTY28AUG2524800CE.
//
// Latest snapshots are written through to a DepthCache: MemoryCache for a
// single process, RedisCache to share top of book with other readers.
//
// While the feed is down, REST quotes can be folded in with ApplyQuote; they
// take the same update path as stream frames.
package optionchain
