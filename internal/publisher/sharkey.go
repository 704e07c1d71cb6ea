// Package publisher posts rendered text to a Sharkey/Misskey instance.
package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Config defines the publish endpoint, usable for Viper.
type Config struct {
	// Instance is the hostname of the Sharkey instance, without scheme.
	Instance string `mapstructure:"instance"`
	APIKey   string `mapstructure:"api_key"`
	// Timeout bounds one publish call, in seconds.
	Timeout int `mapstructure:"timeout"`
}

// SharkeyPublisher creates public notes through /api/notes/create.
type SharkeyPublisher struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

// notePayload is the note creation request body.
type notePayload struct {
	Visibility        string `json:"visibility"`
	Text              string `json:"text"`
	LocalOnly         bool   `json:"localOnly"`
	NoExtractMentions bool   `json:"noExtractMentions"`
	NoExtractHashtags bool   `json:"noExtractHashtags"`
	NoExtractEmojis   bool   `json:"noExtractEmojis"`
}

// New creates a Sharkey publisher.
func New(cfg Config) (*SharkeyPublisher, error) {
	if cfg.Instance == "" {
		return nil, fmt.Errorf("publisher instance is not configured")
	}
	endpoint := url.URL{Scheme: "https", Host: cfg.Instance, Path: "/api/notes/create"}
	timeout := time.Duration(cfg.Timeout) * time.Second
	if cfg.Timeout == 0 {
		timeout = 30 * time.Second
	}
	return &SharkeyPublisher{
		endpoint: endpoint.String(),
		apiKey:   cfg.APIKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// Publish creates one public note with the rendered text. Any non-2xx
// response is a publish failure.
func (p *SharkeyPublisher) Publish(ctx context.Context, text string) error {
	payload, err := json.Marshal(notePayload{
		Visibility: "public",
		Text:       text,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("couldn't publish note: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("publish endpoint returned status %d", resp.StatusCode)
	}
	return nil
}
