package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientFetchItems(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"news_posts": [
				{
					"identifier": "IIDX_31_NEWS",
					"headline": "New songs",
					"type": "UPDATE",
					"content": "Three new songs.",
					"date": "2024-05-01",
					"url": "https://example.com/news/1",
					"images": [{"image": "https://example.com/a.png"}],
					"archive": "arc-0001"
				},
				{
					"identifier": "SOUND_VOLTEX_NEWS",
					"content": "Event started.",
					"date": "2024-05-02"
				}
			]
		}`))
	}))
	defer server.Close()

	client := NewClient(Config{URL: server.URL})
	items, err := client.FetchItems(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "IIDX_31_NEWS", items[0].Identifier)
	assert.Equal(t, "arc-0001", items[0].ArchiveID)
	assert.Len(t, items[0].Images, 1)
	assert.Equal(t, "SOUND_VOLTEX_NEWS", items[1].Identifier)
	assert.Empty(t, items[1].ArchiveID)
}

func TestClientFetchItemsStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewClient(Config{URL: server.URL})
	_, err := client.FetchItems(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestRSSSourceFetchItems(t *testing.T) {
	const rssBody = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
  <channel>
    <title>jubeat news</title>
    <item>
      <title>New event</title>
      <description>A new event has begun.</description>
      <link>https://example.com/jubeat/1</link>
      <guid>jubeat-0001</guid>
      <pubDate>Wed, 01 May 2024 10:00:00 GMT</pubDate>
    </item>
  </channel>
</rss>`
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("Etag", `"v1"`)
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Write([]byte(rssBody))
	}))
	defer server.Close()

	source, err := NewRSSSource(RSSConfig{URL: server.URL, Category: "JUBEAT_NEWS"})
	require.NoError(t, err)

	items, err := source.FetchItems(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "JUBEAT_NEWS", items[0].Identifier)
	assert.Equal(t, "New event", items[0].Headline)
	assert.Equal(t, "jubeat-0001", items[0].ArchiveID)
	assert.Equal(t, "2024-05-01", items[0].Date)

	// Second fetch sends the stored ETag and gets an unmodified feed.
	items, err = source.FetchItems(context.Background())
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.Equal(t, 2, requests)
}
