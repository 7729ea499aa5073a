// Package connection implements the Connection Manager component.
//
// The Connection Manager:
//   - Owns a single WebSocket connection to the feed server
//   - Authenticates with the current account and replays the subscription
//     registry after every successful handshake. Each replay is bound to the
//     connection that authenticated and stops when that connection goes away
//   - Reconnects with exponential backoff on a dedicated goroutine
//   - Fails over to the next backup account when the attempt budget runs out,
//     and parks in FAILED when none remain
//   - Classifies inbound frames and routes market data to the Data Router
//     in the order the socket delivered them
package connection
