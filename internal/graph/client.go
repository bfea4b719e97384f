package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

// DefaultBaseURL is the production Graph API endpoint.
const DefaultBaseURL = "https://graph.microsoft.com/v1.0"

const (
	// metadataTimeout bounds listing/profile calls.
	metadataTimeout = 30 * time.Second
	// downloadTimeout bounds content downloads, which can be large.
	downloadTimeout = 5 * time.Minute

	// defaultRetryAfter is assumed when a 429 carries no Retry-After header.
	defaultRetryAfter = 60 * time.Second
)

// Client wraps the Graph API drive endpoints for a single access token.
// Construct one per request/job with a token from the lifecycle manager.
type Client struct {
	baseURL        string
	accessToken    string
	httpClient     *http.Client
	downloadClient *http.Client
}

// NewClient creates a Graph client. baseURL is DefaultBaseURL outside tests.
func NewClient(baseURL, accessToken string) *Client {
	return &Client{
		baseURL:        baseURL,
		accessToken:    accessToken,
		httpClient:     &http.Client{Timeout: metadataTimeout},
		downloadClient: &http.Client{Timeout: downloadTimeout},
	}
}

// get executes a GET against the Graph API and returns the response body.
// 429 maps to *RateLimitError, any other >=400 to *APIError. No retries.
func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	return c.do(ctx, c.httpClient, path)
}

func (c *Client) do(ctx context.Context, client *http.Client, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("graph request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &RateLimitError{RetryAfter: parseRetryAfter(resp)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    extractErrorMessage(body),
		}
	}

	return body, nil
}

// parseRetryAfter reads the Retry-After hint from a 429 response.
func parseRetryAfter(resp *http.Response) time.Duration {
	if ra := resp.Header.Get("Retry-After"); ra != "" {
		if seconds, err := strconv.Atoi(ra); err == nil && seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
	}
	return defaultRetryAfter
}

// extractErrorMessage pulls the human-readable message out of a Graph error
// body, falling back to a generic marker.
func extractErrorMessage(body []byte) string {
	var er errorResponse
	if err := json.Unmarshal(body, &er); err == nil && er.Error.Message != "" {
		if er.Error.Code != "" {
			return er.Error.Code + ": " + er.Error.Message
		}
		return er.Error.Message
	}
	return "unknown error"
}

// logListFailure records a skipped branch during enumeration.
func logListFailure(folder string, err error) {
	slog.Error("failed to enumerate folder, skipping branch", "folder", folder, "error", err)
}
