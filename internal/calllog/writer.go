package calllog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPWriter posts call log messages to the messaging service's REST API.
type HTTPWriter struct {
	// URL is the messages endpoint, e.g. https://api.example.com/messages.
	URL string
	// AuthToken, when set, is sent as a bearer token.
	AuthToken string
	// Client defaults to a client with a 10s timeout.
	Client *http.Client
}

func (w *HTTPWriter) WriteCallLog(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode call log: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build call log request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if w.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+w.AuthToken)
	}

	client := w.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("post call log: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("post call log: unexpected status %d", resp.StatusCode)
	}
	return nil
}
