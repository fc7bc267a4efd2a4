package match

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"melodex/model"
)

// SearchClient queries the video platform's search endpoint.
type SearchClient struct {
	baseURL    string
	maxHits    int
	httpClient *http.Client
}

// NewSearchClient creates a new search backend client. maxHits bounds
// how many candidates one query retrieves.
func NewSearchClient(baseURL string, maxHits int) *SearchClient {
	if maxHits < 1 {
		maxHits = 5
	}
	return &SearchClient{
		baseURL: baseURL,
		maxHits: maxHits,
		httpClient: &http.Client{
			Timeout: time.Second * 15,
		},
	}
}

// Search runs a query and returns the platform's top hits, unscored.
func (c *SearchClient) Search(ctx context.Context, query string) ([]*model.MatchCandidate, error) {
	u := fmt.Sprintf("%s/search?q=%s&limit=%d", c.baseURL, url.QueryEscape(query), c.maxHits)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create search request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search backend returned status %d", resp.StatusCode)
	}

	var payload struct {
		Results []struct {
			ID       string `json:"id"`
			Title    string `json:"title"`
			Duration int    `json:"duration"`
			URL      string `json:"url"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}

	candidates := make([]*model.MatchCandidate, 0, len(payload.Results))
	for _, r := range payload.Results {
		candidates = append(candidates, &model.MatchCandidate{
			SourceID: r.ID,
			Title:    r.Title,
			Duration: r.Duration,
			URL:      r.URL,
		})
	}
	return candidates, nil
}
