package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"melodex/logger"
)

// Client talks to the catalog metadata provider.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a new catalog API client.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: time.Second * 10,
		},
	}
}

// SetTimeout sets the request timeout.
func (c *Client) SetTimeout(timeout time.Duration) {
	c.httpClient.Timeout = timeout
}

// trackPayload is the provider's track representation.
type trackPayload struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Artist    string `json:"artist"`
	Album     string `json:"album"`
	Duration  int    `json:"duration"`
	Position  int    `json:"position"`
	Available bool   `json:"available"`
}

// collectionPayload is the provider's album/playlist representation.
type collectionPayload struct {
	ID     string         `json:"id"`
	Name   string         `json:"name"`
	Tracks []trackPayload `json:"tracks"`
}

// getJSON performs one GET against the provider and decodes the body.
// A 404 maps to errStatusNotFound so the resolver can classify it.
func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	url := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("catalog request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return errStatusNotFound
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		logger.Warn("Catalog returned unexpected status",
			logger.Int("status", resp.StatusCode),
			logger.String("path", path),
			logger.String("body", string(body)))
		return fmt.Errorf("catalog returned status %d: %w", resp.StatusCode, errStatusUpstream)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode catalog response: %w", err)
	}
	return nil
}
