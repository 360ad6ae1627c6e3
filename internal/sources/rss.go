package sources

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/feedwatch/feedwatch/internal/models"
	"github.com/mmcdole/gofeed"
)

// RSSSource reads RSS, Atom and JSON feeds.
type RSSSource struct {
	fetcher Fetcher
	parser  *gofeed.Parser
}

// NewRSSSource creates a new feed source
func NewRSSSource(fetcher Fetcher) *RSSSource {
	return &RSSSource{fetcher: fetcher, parser: gofeed.NewParser()}
}

func (r *RSSSource) Kind() models.SourceKind { return models.KindRSS }

func (r *RSSSource) NewestFirst() bool { return true }

func (r *RSSSource) List(ctx context.Context, cfg models.SourceConfig) ([]models.Item, error) {
	body, err := getOK(ctx, r.fetcher, string(models.KindRSS), cfg.URL, nil)
	if err != nil {
		return nil, err
	}

	feed, err := r.parser.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, &FetchError{Source: string(models.KindRSS), URL: cfg.URL, Err: err}
	}

	entries := feed.Items
	if cfg.Limit > 0 && len(entries) > cfg.Limit {
		entries = entries[:cfg.Limit]
	}

	items := make([]models.Item, 0, len(entries))
	for _, e := range entries {
		text := e.Description
		if e.Content != "" {
			text = e.Content
		}
		item := models.Item{
			ID:    feedItemID(e),
			Title: e.Title,
			Body:  HTMLToText(text),
			URL:   e.Link,
		}
		if e.Author != nil {
			item.Author = e.Author.Name
		}
		if e.PublishedParsed != nil {
			item.PublishedAt = e.PublishedParsed.UTC()
		}
		item.Extra = append(item.Extra, e.Categories...)
		items = append(items, item)
	}
	return items, nil
}

// feedItemID prefers the GUID and falls back to a hash of title and link.
func feedItemID(e *gofeed.Item) string {
	if e.GUID != "" {
		return e.GUID
	}
	sum := sha256.Sum256([]byte(e.Title + "|" + e.Link))
	return hex.EncodeToString(sum[:])
}
