// Package digest notifies the downstream document-ingestion service about
// newly synced files.
package digest

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/shortalex12333/Cloud-DMG-Onedrive/internal/classify"
	"github.com/shortalex12333/Cloud-DMG-Onedrive/internal/config"
)

// ingestPath is the digest service's intake route for cloud-sourced files.
const ingestPath = "/webhook/ingest-docs-nas-cloud"

// requestTimeout bounds a single notification. Large documents can take a
// while to re-upload, so this is generous.
const requestTimeout = 120 * time.Second

// Client posts synced documents to the digest service.
type Client struct {
	baseURL    string
	salt       string
	httpClient *http.Client
}

// NewClient creates a digest client from config.
func NewClient(cfg *config.DigestConfig) *Client {
	return &Client{
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		salt:       cfg.Salt,
		httpClient: &http.Client{Timeout: requestTimeout},
	}
}

// Signature computes the per-yacht request signature:
// hex(sha256(yacht_id + salt)). The digest service verifies it with the
// shared salt before accepting the upload.
func (c *Client) Signature(yachtID string) string {
	sum := sha256.Sum256([]byte(yachtID + c.salt))
	return hex.EncodeToString(sum[:])
}

type ingestResponse struct {
	DocID string `json:"doc_id"`
}

// Notify sends the file content and its classification metadata to the
// digest service. Returns the document id the service assigned, when it
// reports one.
func (c *Client) Notify(ctx context.Context, payload *classify.DigestPayload, content io.Reader) (*uuid.UUID, error) {
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)

	part, err := w.CreateFormFile("file", payload.Filename)
	if err != nil {
		return nil, fmt.Errorf("failed to build multipart body: %w", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return nil, fmt.Errorf("failed to copy file content: %w", err)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal digest payload: %w", err)
	}
	if err := w.WriteField("data", string(data)); err != nil {
		return nil, fmt.Errorf("failed to write data field: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+ingestPath, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("X-Yacht-ID", payload.YachtID)
	req.Header.Set("X-Yacht-Signature", c.Signature(payload.YachtID))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach digest service: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("digest service rejected %q: status %d: %s",
			payload.Filename, resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var parsed ingestResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil || parsed.DocID == "" {
		// Acceptance without a doc id is still success.
		slog.Debug("digest response carried no doc_id", "filename", payload.Filename)
		return nil, nil
	}
	docID, err := uuid.Parse(parsed.DocID)
	if err != nil {
		slog.Warn("digest service returned malformed doc_id",
			"filename", payload.Filename, "doc_id", parsed.DocID)
		return nil, nil
	}
	return &docID, nil
}
