package sources

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/feedwatch/feedwatch/internal/models"
	"github.com/sirupsen/logrus"
)

const (
	previewLength = 450
	maxSpoilers   = 10
)

var (
	threadPathRE  = regexp.MustCompile(`/threads/[^/]+\.(\d+)/?$`)
	spoilerPrefix = regexp.MustCompile(`(?i)^spoiler\s*:?\s*`)
)

// ForumSource scrapes XenForo style thread listings.
type ForumSource struct {
	fetcher Fetcher
}

var (
	_ Source        = (*ForumSource)(nil)
	_ DetailFetcher = (*ForumSource)(nil)
)

// NewForumSource creates a new forum source
func NewForumSource(fetcher Fetcher) *ForumSource {
	return &ForumSource{fetcher: fetcher}
}

func (f *ForumSource) Kind() models.SourceKind { return models.KindForum }

// NewestFirst is true: forum listings show the latest activity at the top.
func (f *ForumSource) NewestFirst() bool { return true }

func (f *ForumSource) List(ctx context.Context, cfg models.SourceConfig) ([]models.Item, error) {
	body, err := getOK(ctx, f.fetcher, string(models.KindForum), cfg.URL, nil)
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, &FetchError{Source: string(models.KindForum), URL: cfg.URL, Err: err}
	}

	base, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, &FetchError{Source: string(models.KindForum), URL: cfg.URL, Err: err}
	}

	var items []models.Item
	seen := make(map[string]bool)

	doc.Find("a[href]").Each(func(_ int, link *goquery.Selection) {
		href, _ := link.Attr("href")
		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		m := threadPathRE.FindStringSubmatch(ref.Path)
		if m == nil || seen[m[1]] {
			return
		}
		title := strings.TrimSpace(link.Text())
		if title == "" {
			return
		}
		seen[m[1]] = true

		row := link.Closest("div.structItem--thread")
		if row.Length() == 0 {
			row = link.Parent()
		}
		author, _ := row.Attr("data-author")

		items = append(items, models.Item{
			ID:     m[1],
			Title:  title,
			URL:    base.ResolveReference(ref).String(),
			Author: strings.TrimSpace(author),
			Sticky: strings.Contains(row.Text(), "Sticky"),
		})
	})

	if cfg.Limit > 0 && len(items) > cfg.Limit {
		items = items[:cfg.Limit]
	}

	logrus.WithFields(logrus.Fields{
		"source": cfg.ID,
		"items":  len(items),
	}).Debug("Parsed forum listing")

	return items, nil
}

// FetchDetail loads the first post of a thread. Body holds a short preview and
// Fingerprint the SHA-1 of the cleaned post text.
func (f *ForumSource) FetchDetail(ctx context.Context, cfg models.SourceConfig, item models.Item) (models.Item, error) {
	body, err := getOK(ctx, f.fetcher, string(models.KindForum), item.URL, nil)
	if err != nil {
		return item, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return item, &FetchError{Source: string(models.KindForum), URL: item.URL, Err: err}
	}

	post := firstPostBody(doc)
	if post == nil {
		return item, fmt.Errorf("no post body found at %s", item.URL)
	}

	item.Extra = spoilerTitles(post)

	post.Find("blockquote, img, figure, script, style").Remove()
	post.Find("[class*='bbCodeSpoiler-content'], [class*='js-spoilerTarget']").Remove()

	text := PlainText(post.Nodes[0])
	item.Body = Truncate(text, previewLength)
	item.Fingerprint = Fingerprint(text)
	return item, nil
}

func firstPostBody(doc *goquery.Document) *goquery.Selection {
	for _, sel := range []string{
		"div.bbWrapper",
		"article[class*='message--post']",
		"div[class*='message-body'], div[class*='messageContent']",
	} {
		if s := doc.Find(sel).First(); s.Length() > 0 {
			return s
		}
	}
	return nil
}

func spoilerTitles(post *goquery.Selection) []string {
	var titles []string
	add := func(label string) {
		label = strings.TrimSpace(spoilerPrefix.ReplaceAllString(strings.TrimSpace(label), ""))
		if label == "" || len(titles) >= maxSpoilers {
			return
		}
		for _, t := range titles {
			if t == label {
				return
			}
		}
		titles = append(titles, label)
	}

	post.Find("[class*='bbCodeSpoiler-button-title']").Each(func(_ int, s *goquery.Selection) {
		add(s.Text())
	})
	if len(titles) == 0 {
		post.Find(".bbCodeSpoiler > span, .bbCodeSpoiler > button").Each(func(_ int, s *goquery.Selection) {
			if spoilerPrefix.MatchString(strings.TrimSpace(s.Text())) {
				add(s.Text())
			}
		})
	}
	return titles
}
