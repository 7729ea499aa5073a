// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Feed connection state, frame rates and drops
//   - Reconnects, account switches and auth failures
//   - Subscription replays
//   - Option chain depth updates and put/call ratio per underlying
//
// A nil *Collectors is valid and records nothing, so components can be
// built without a registry in tests.
package metrics
