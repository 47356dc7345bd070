package mirror

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Firebase writes documents through a realtime-database style REST API:
// PUT <base><path>.json?auth=<token>.
type Firebase struct {
	BaseURL string
	Auth    string
	HTTP    *http.Client
}

// NewFirebase creates a client with a bounded timeout.
func NewFirebase(baseURL, auth string) *Firebase {
	return &Firebase{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Auth:    auth,
		HTTP:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Push PUTs fields as a JSON object at path.
func (f *Firebase) Push(ctx context.Context, path string, fields map[string]string) error {
	body, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("firebase mirror: encode %s: %w", path, err)
	}

	endpoint := f.BaseURL + path + ".json"
	if f.Auth != "" {
		endpoint += "?auth=" + url.QueryEscape(f.Auth)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("firebase mirror: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("firebase mirror: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("firebase mirror: %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}
