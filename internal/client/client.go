// Package client implements the consumer side of the snapshot fetch
// contract: an authenticated, timeout-bounded GET against a site's
// snapshot endpoint. Fetches are idempotent and safe to repeat, which
// is all the retry story the polling loop needs.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"inkwell/api/internal/watch"
)

// HTTPError carries a non-2xx snapshot response.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("snapshot fetch: http %d: %s", e.StatusCode, e.Message)
}

type snapshotResponse struct {
	Items      []watch.SnapshotItem `json:"items"`
	Collection *struct {
		Slug string `json:"slug"`
	} `json:"collection,omitempty"`
}

// Client fetches snapshots from a remote content API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// New builds a snapshot client. baseURL is the full snapshot endpoint
// URL; token is sent as a bearer credential.
func New(baseURL, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		token:      strings.TrimSpace(token),
		httpClient: httpClient,
	}
}

// FetchSnapshot implements watch.SnapshotSource.
func (c *Client) FetchSnapshot(ctx context.Context) (watch.Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL, nil)
	if err != nil {
		return watch.Snapshot{}, fmt.Errorf("build snapshot request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return watch.Snapshot{}, fmt.Errorf("snapshot fetch: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return watch.Snapshot{}, fmt.Errorf("read snapshot response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return watch.Snapshot{}, &HTTPError{StatusCode: resp.StatusCode, Message: errorMessage(body)}
	}

	var decoded snapshotResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return watch.Snapshot{}, fmt.Errorf("decode snapshot response: %w", err)
	}

	snapshot := watch.Snapshot{Items: decoded.Items}
	if decoded.Collection != nil {
		snapshot.Collection = decoded.Collection.Slug
	}
	return snapshot, nil
}

func errorMessage(body []byte) string {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		return payload.Error
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}
