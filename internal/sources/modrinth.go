package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/feedwatch/feedwatch/internal/models"
	"github.com/sirupsen/logrus"
)

const (
	defaultRetryAfter = 10 * time.Second
	maxRetryAfter     = 30 * time.Second
)

// ModrinthSource lists the published versions of a Modrinth project.
// cfg.URL is the project endpoint, e.g. https://api.modrinth.com/v2/project/sodium.
type ModrinthSource struct {
	fetcher Fetcher
	sleep   func(ctx context.Context, d time.Duration) error
}

type modrinthVersion struct {
	ID            string    `json:"id"`
	ProjectID     string    `json:"project_id"`
	AuthorID      string    `json:"author_id"`
	Name          string    `json:"name"`
	VersionNumber string    `json:"version_number"`
	VersionType   string    `json:"version_type"`
	Changelog     string    `json:"changelog"`
	DatePublished time.Time `json:"date_published"`
	GameVersions  []string  `json:"game_versions"`
	Loaders       []string  `json:"loaders"`
}

// NewModrinthSource creates a new Modrinth source
func NewModrinthSource(fetcher Fetcher) *ModrinthSource {
	return &ModrinthSource{fetcher: fetcher, sleep: sleepContext}
}

func (m *ModrinthSource) Kind() models.SourceKind { return models.KindModrinth }

func (m *ModrinthSource) NewestFirst() bool { return true }

func (m *ModrinthSource) List(ctx context.Context, cfg models.SourceConfig) ([]models.Item, error) {
	endpoint, err := versionsURL(cfg)
	if err != nil {
		return nil, &FetchError{Source: string(models.KindModrinth), URL: cfg.URL, Err: err}
	}

	body, err := m.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	var versions []modrinthVersion
	if err := json.Unmarshal(body, &versions); err != nil {
		return nil, &FetchError{Source: string(models.KindModrinth), URL: endpoint, Err: err}
	}

	if cfg.Limit > 0 && len(versions) > cfg.Limit {
		versions = versions[:cfg.Limit]
	}

	items := make([]models.Item, 0, len(versions))
	for _, v := range versions {
		title := v.Name
		if title == "" {
			title = v.VersionNumber
		}
		extra := append([]string(nil), v.GameVersions...)
		extra = append(extra, v.Loaders...)
		items = append(items, models.Item{
			ID:          v.ID,
			Title:       title,
			Body:        v.Changelog,
			URL:         fmt.Sprintf("https://modrinth.com/project/%s/version/%s", v.ProjectID, v.ID),
			Author:      v.AuthorID,
			PublishedAt: v.DatePublished,
			Extra:       extra,
		})
	}
	return items, nil
}

// get honours a single HTTP 429 by waiting for Retry-After before retrying.
func (m *ModrinthSource) get(ctx context.Context, endpoint string) ([]byte, error) {
	resp, err := m.fetcher.Get(ctx, endpoint, map[string]string{"Accept": "application/json"})
	if err != nil {
		return nil, &FetchError{Source: string(models.KindModrinth), URL: endpoint, Err: err}
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		wait := retryAfter(resp.Header.Get("Retry-After"))
		logrus.WithField("url", endpoint).Warnf("Modrinth rate limited, retrying in %s", wait)
		if err := m.sleep(ctx, wait); err != nil {
			return nil, &FetchError{Source: string(models.KindModrinth), URL: endpoint, StatusCode: resp.StatusCode, Err: err}
		}
		resp, err = m.fetcher.Get(ctx, endpoint, map[string]string{"Accept": "application/json"})
		if err != nil {
			return nil, &FetchError{Source: string(models.KindModrinth), URL: endpoint, Err: err}
		}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &FetchError{Source: string(models.KindModrinth), URL: endpoint, StatusCode: resp.StatusCode}
	}
	return resp.Body, nil
}

func versionsURL(cfg models.SourceConfig) (string, error) {
	u, err := url.Parse(strings.TrimSuffix(cfg.URL, "/") + "/version")
	if err != nil {
		return "", err
	}
	q := u.Query()
	for _, key := range []string{"loaders", "game_versions"} {
		if vals := cfg.Params[key]; len(vals) > 0 {
			encoded, err := json.Marshal(vals)
			if err != nil {
				return "", err
			}
			q.Set(key, string(encoded))
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func retryAfter(header string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(header))
	if err != nil || secs <= 0 {
		return defaultRetryAfter
	}
	if d := time.Duration(secs) * time.Second; d < maxRetryAfter {
		return d
	}
	return maxRetryAfter
}
