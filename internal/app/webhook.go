package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"inkwell/api/internal/watch"
)

// WebhookSink returns a change handler that delivers events to one
// consumer endpoint as signed JSON POSTs. The body is HMAC-signed with
// the endpoint secret so the consumer can verify origin.
func WebhookSink(url string, secret []byte, httpClient *http.Client) watch.Handler {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return func(ctx context.Context, evt watch.Event) error {
		body, err := json.Marshal(evt)
		if err != nil {
			return fmt.Errorf("webhook: marshal event: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("webhook: build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if len(secret) > 0 {
			req.Header.Set("X-Inkwell-Signature", watch.SignPayload(secret, body))
		}

		resp, err := httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("webhook: deliver to %s: %w", url, err)
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return fmt.Errorf("webhook: %s responded %d", url, resp.StatusCode)
		}
		return nil
	}
}
