package feed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/pinapelz/rasis/internal/entity"

	"github.com/mmcdole/gofeed"
)

// ErrNotModified is used for Etag and Last-Modified handling
var ErrNotModified = errors.New("not modified")

// RSSConfig defines one RSS/Atom feed source, usable for Viper. Category tags
// every item pulled from this feed so the formatter can resolve the game.
type RSSConfig struct {
	URL      string `mapstructure:"url"`
	Category string `mapstructure:"category"`
	Timeout  int    `mapstructure:"timeout"`
}

// RSSSource pulls news items from an RSS/Atom feed. It keeps the conditional
// request state (ETag, Last-Modified) between fetches within a process; an
// unmodified feed yields zero items.
type RSSSource struct {
	url          string
	category     string
	httpClient   *http.Client
	etag         string
	lastModified time.Time
	gmtLocation  *time.Location
}

// NewRSSSource creates an RSS feed source.
func NewRSSSource(cfg RSSConfig) (*RSSSource, error) {
	gmtLocation, err := time.LoadLocation("GMT")
	if err != nil {
		return nil, err
	}
	timeout := time.Duration(cfg.Timeout) * time.Second
	if cfg.Timeout == 0 {
		timeout = time.Minute
	}
	return &RSSSource{
		url:         cfg.URL,
		category:    cfg.Category,
		httpClient:  &http.Client{Timeout: timeout},
		gmtLocation: gmtLocation,
	}, nil
}

// FetchItems fetches and parses the feed, mapping entries to news items.
func (s *RSSSource) FetchItems(ctx context.Context) ([]entity.NewsItem, error) {
	parsed, err := s.readFeed(ctx)
	if err == ErrNotModified {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	items := make([]entity.NewsItem, 0, len(parsed.Items))
	for _, feedItem := range parsed.Items {
		item := entity.NewsItem{
			Identifier: s.category,
			Headline:   feedItem.Title,
			Content:    feedItem.Description,
			URL:        feedItem.Link,
			ArchiveID:  feedItem.GUID,
		}
		if feedItem.PublishedParsed != nil {
			item.Date = feedItem.PublishedParsed.Format("2006-01-02")
			item.Timestamp = feedItem.PublishedParsed.Unix()
		} else {
			item.Date = feedItem.Published
		}
		for _, enclosure := range feedItem.Enclosures {
			item.Images = append(item.Images, entity.NewsImage{Image: enclosure.URL})
		}
		items = append(items, item)
	}
	return items, nil
}

// readFeed fetches the feed from url and returns the parsed result.
// Uses Etag and Last-Modified to verify if feed didn't change.
func (s *RSSSource) readFeed(ctx context.Context) (feed *gofeed.Feed, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Gofeed/1.0")

	if s.etag != "" {
		req.Header.Set("If-None-Match", s.etag)
	}
	if !s.lastModified.IsZero() {
		req.Header.Set("If-Modified-Since", s.lastModified.In(s.gmtLocation).Format(time.RFC1123))
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp != nil {
		defer func() {
			ce := resp.Body.Close()
			if ce != nil {
				err = ce
			}
		}()
	}
	if resp.StatusCode == http.StatusNotModified {
		return nil, ErrNotModified
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, gofeed.HTTPError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
		}
	}

	feed, err = gofeed.NewParser().Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("couldn't parse feed: %w", err)
	}

	if eTag := resp.Header.Get("Etag"); eTag != "" {
		s.etag = eTag
	}
	if lastModified := resp.Header.Get("Last-Modified"); lastModified != "" {
		parsed, err := time.ParseInLocation(time.RFC1123, lastModified, s.gmtLocation)
		if err == nil {
			s.lastModified = parsed
		}
	}
	return feed, nil
}
