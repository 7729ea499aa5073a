// Package subscription implements the Subscription Registry.
//
// The registry is the desired set of (symbol, exchange, mode) tuples. It
// outlives any single connection: entries are only removed by an explicit
// unsubscribe, and the whole set is replayed after every successful
// authentication.
package subscription
