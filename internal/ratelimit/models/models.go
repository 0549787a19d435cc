// Package models holds the rate limiting result shared by stores and
// middleware.
package models

import "time"

// Result is the outcome of counting one request against a limit.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	// ResetAt is when the oldest counted request leaves the window.
	ResetAt time.Time
	// RetryAfter is set only when the request was denied.
	RetryAfter time.Duration
}
