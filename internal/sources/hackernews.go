package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/feedwatch/feedwatch/internal/models"
	"github.com/sirupsen/logrus"
)

const (
	defaultHackerNewsAPI = "https://hacker-news.firebaseio.com/v0"
	defaultHackerNewsN   = 30
)

// HackerNewsSource implements Hacker News API source. cfg.URL overrides the API base.
type HackerNewsSource struct {
	fetcher Fetcher
}

type hackerNewsItem struct {
	ID      int    `json:"id"`
	Type    string `json:"type"`
	By      string `json:"by"`
	Time    int64  `json:"time"`
	Text    string `json:"text"`
	Title   string `json:"title"`
	URL     string `json:"url"`
	Deleted bool   `json:"deleted"`
	Dead    bool   `json:"dead"`
}

// NewHackerNewsSource creates a new Hacker News source
func NewHackerNewsSource(fetcher Fetcher) *HackerNewsSource {
	return &HackerNewsSource{fetcher: fetcher}
}

func (h *HackerNewsSource) Kind() models.SourceKind { return models.KindHackerNews }

func (h *HackerNewsSource) NewestFirst() bool { return true }

// List reads the newest story ids and loads each story. Stories that fail to load are skipped.
func (h *HackerNewsSource) List(ctx context.Context, cfg models.SourceConfig) ([]models.Item, error) {
	base := strings.TrimSuffix(cfg.URL, "/")
	if base == "" {
		base = defaultHackerNewsAPI
	}

	body, err := getOK(ctx, h.fetcher, string(models.KindHackerNews), base+"/newstories.json", nil)
	if err != nil {
		return nil, err
	}

	var ids []int
	if err := json.Unmarshal(body, &ids); err != nil {
		return nil, &FetchError{Source: string(models.KindHackerNews), URL: base + "/newstories.json", Err: err}
	}

	limit := cfg.Limit
	if limit <= 0 {
		limit = defaultHackerNewsN
	}
	if len(ids) > limit {
		ids = ids[:limit]
	}

	var items []models.Item
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		item, err := h.getItem(ctx, base, id)
		if err != nil {
			logrus.Debugf("Failed to get HN item %d: %v", id, err)
			continue
		}
		if item == nil || item.Deleted || item.Dead || item.Type != "story" {
			continue
		}

		link := item.URL
		if link == "" {
			link = fmt.Sprintf("https://news.ycombinator.com/item?id=%d", item.ID)
		}
		items = append(items, models.Item{
			ID:          strconv.Itoa(item.ID),
			Title:       item.Title,
			Body:        HTMLToText(item.Text),
			URL:         link,
			Author:      item.By,
			PublishedAt: time.Unix(item.Time, 0).UTC(),
		})
	}
	return items, nil
}

func (h *HackerNewsSource) getItem(ctx context.Context, base string, id int) (*hackerNewsItem, error) {
	body, err := getOK(ctx, h.fetcher, string(models.KindHackerNews), fmt.Sprintf("%s/item/%d.json", base, id), nil)
	if err != nil {
		return nil, err
	}

	var item *hackerNewsItem
	if err := json.Unmarshal(body, &item); err != nil {
		return nil, err
	}
	return item, nil
}
