// Package token requests bearer credentials for joining a session room.
package token

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client requests tokens from the token service. Any non-success
// response is fatal to the current join attempt; callers surface it as a
// join failure rather than retrying here.
type Client struct {
	URL        string
	HTTPClient *http.Client
}

// NewClient creates a token client for the given endpoint URL.
func NewClient(url string) *Client {
	return &Client{
		URL:        url,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
}

type tokenRequest struct {
	Room     string `json:"room"`
	Identity string `json:"identity"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

// Token exchanges a room name and identity for an opaque bearer token.
func (c *Client) Token(ctx context.Context, room, identity string) (string, error) {
	body, err := json.Marshal(tokenRequest{Room: room, Identity: identity})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("requesting token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("token service returned %s: %s", resp.Status, bytes.TrimSpace(msg))
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("decoding token response: %w", err)
	}
	if tr.Token == "" {
		return "", fmt.Errorf("token service returned an empty token")
	}
	return tr.Token, nil
}
