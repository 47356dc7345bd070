// Package matchclient talks to the fingerprint match service that fronts
// the sensor.
package matchclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrDuplicate is returned by Enroll when the finger already matches a
// stored template.
var ErrDuplicate = errors.New("matchclient: fingerprint already enrolled")

// Match is one capture attempt.
type Match struct {
	Matched    bool    `json:"matched"`
	IdentityID int     `json:"identity_id"`
	Confidence float64 `json:"confidence"`
}

// Client calls the match service.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Skip    bool
}

// New creates a client. Captures block until a finger is presented or the
// service gives up, so the timeout is generous.
func New(baseURL string, skip bool) *Client {
	return &Client{
		BaseURL: baseURL,
		Skip:    skip,
		HTTP: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// Capture asks the sensor for one image and searches it against the stored
// templates. No finger, or a finger with no match, returns matched=false
// and a nil error. In skip mode nothing ever matches.
func (c *Client) Capture(ctx context.Context) (int, bool, error) {
	if c.Skip {
		return 0, false, nil
	}

	var out Match
	if err := c.do(ctx, http.MethodGet, "/capture", nil, &out); err != nil {
		return 0, false, err
	}
	if !out.Matched || out.IdentityID < 1 {
		return 0, false, nil
	}
	return out.IdentityID, true, nil
}

// Enroll stores a new template for identityID. The service takes two
// images of the same finger and rejects fingers it already knows.
func (c *Client) Enroll(ctx context.Context, identityID int) error {
	if c.Skip {
		return nil
	}
	body := map[string]int{"identity_id": identityID}
	return c.do(ctx, http.MethodPost, "/enroll", body, nil)
}

// Delete removes the stored template for identityID.
func (c *Client) Delete(ctx context.Context, identityID int) error {
	if c.Skip {
		return nil
	}
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/templates/%d", identityID), nil, nil)
}

// Health checks if the match service is available.
func (c *Client) Health(ctx context.Context) error {
	if c.Skip {
		return nil
	}
	if err := c.do(ctx, http.MethodGet, "/health", nil, nil); err != nil {
		return fmt.Errorf("match service unhealthy: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("match service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusConflict {
		return ErrDuplicate
	}
	if resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("match service error %s: %s", resp.Status, string(bytes.TrimSpace(bodyBytes)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
