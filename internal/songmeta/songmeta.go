// Package songmeta looks up title, artist and artwork for song links.
package songmeta

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const DefaultEndpoint = "https://open.spotify.com/oembed"

// Meta is what the oEmbed endpoint reports for a link.
type Meta struct {
	Title     string `json:"title"`
	Artist    string `json:"author_name"`
	Thumbnail string `json:"thumbnail_url"`
}

// Client queries the Spotify oEmbed endpoint.
type Client struct {
	endpoint   string
	httpClient *http.Client
}

// New creates a client. An empty endpoint uses DefaultEndpoint.
func New(endpoint string, timeout time.Duration) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Supports reports whether link is one the endpoint can describe.
func Supports(link string) bool {
	return strings.Contains(link, "spotify.com")
}

// Lookup fetches metadata for link.
func (c *Client) Lookup(ctx context.Context, link string) (Meta, error) {
	u := c.endpoint + "?url=" + url.QueryEscape(link)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Meta{}, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Meta{}, fmt.Errorf("oembed request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Meta{}, fmt.Errorf("oembed returned status %d", resp.StatusCode)
	}

	var m Meta
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		return Meta{}, fmt.Errorf("failed to decode oembed response: %w", err)
	}
	return m, nil
}
