// Package poller implements the REST fallback poller.
//
// The poller:
//   - Refreshes the underlying and every ladder symbol over REST on a fixed interval
//   - Skips cycles while the streaming feed is authenticated
//   - Uses concurrent requests bounded by a semaphore
package poller
