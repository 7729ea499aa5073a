// Package api provides the broker REST client used outside the live feed.
//
// Every endpoint is a JSON POST to {host}/api/v1/{endpoint} carrying the
// account's apikey in the body. Responses share one envelope:
//
//	{"status": "success" | "error", "message": "...", "data": ...}
//
// Endpoints used: quotes (underlying price at chain initialization),
// expiry (listed expiries when none is configured) and ping (account health).
package api
