// Package router implements the Data Router component.
//
// The Data Router:
//   - Dispatches decoded market data by subscription mode (ltp, quote, depth)
//   - Runs handlers synchronously, in registration order, on the caller's goroutine
//   - Isolates handler failures so one bad handler cannot starve the others
//   - Tracks per-mode routing and handler error counts
package router
