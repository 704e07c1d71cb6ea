// Package feed provides sources of news items: the arcade news JSON endpoint
// and a generic RSS/Atom source.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/pinapelz/rasis/internal/entity"
)

// Config defines the arcade news feed endpoint, usable for Viper.
type Config struct {
	URL     string `mapstructure:"url"`
	Timeout int    `mapstructure:"timeout"`
}

// Client pulls news items from the arcade news JSON endpoint.
type Client struct {
	url        string
	httpClient *http.Client
}

// newsDocument is the wire format of the feed endpoint.
type newsDocument struct {
	NewsPosts []entity.NewsItem `json:"news_posts"`
}

// NewClient creates the arcade news feed client.
func NewClient(cfg Config) *Client {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if cfg.Timeout == 0 {
		timeout = time.Minute
	}
	return &Client{
		url: cfg.URL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// FetchItems downloads and decodes the current feed contents.
func (c *Client) FetchItems(ctx context.Context) ([]entity.NewsItem, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("couldn't fetch news feed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("news feed returned status %d", resp.StatusCode)
	}
	var doc newsDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("couldn't decode news feed: %w", err)
	}
	return doc.NewsPosts, nil
}
