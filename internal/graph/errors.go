// Package graph is a client for the Microsoft Graph API drive endpoints.
// Errors are classified at this boundary; retry policy is left to callers.
package graph

import (
	"fmt"
	"time"
)

// APIError is returned for any Graph response with status >= 400
// (other than 429, which maps to RateLimitError).
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("graph: HTTP %d: %s", e.StatusCode, e.Message)
}

// RateLimitError is returned for HTTP 429 responses. RetryAfter carries the
// provider's hint; this client never retries on its own.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("graph: rate limited, retry after %s", e.RetryAfter)
}
