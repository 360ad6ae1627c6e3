package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/feedwatch/feedwatch/internal/models"
	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
)

const (
	redditTokenURL  = "https://www.reddit.com/api/v1/access_token"
	redditOAuthHost = "oauth.reddit.com"
	defaultRedditN  = 25
)

// RedditSource lists the newest submissions of a subreddit.
// cfg.URL is the subreddit URL, e.g. https://www.reddit.com/r/admincraft.
// With client credentials the listing goes through the OAuth API host.
type RedditSource struct {
	clientID     string
	clientSecret string
	userAgent    string
	fetcher      Fetcher
	client       *resty.Client

	mu          sync.Mutex
	accessToken string
	expiresAt   time.Time
}

type redditAuthResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

type redditListing struct {
	Data struct {
		Children []struct {
			Data redditPost `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

type redditPost struct {
	ID            string  `json:"id"`
	Title         string  `json:"title"`
	Selftext      string  `json:"selftext"`
	Author        string  `json:"author"`
	Subreddit     string  `json:"subreddit"`
	Permalink     string  `json:"permalink"`
	LinkFlairText string  `json:"link_flair_text"`
	Stickied      bool    `json:"stickied"`
	Created       float64 `json:"created_utc"`
}

// NewRedditSource creates a new Reddit source. Empty credentials select the public JSON listing.
func NewRedditSource(fetcher Fetcher, clientID, clientSecret, userAgent string) *RedditSource {
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	return &RedditSource{
		clientID:     clientID,
		clientSecret: clientSecret,
		userAgent:    userAgent,
		fetcher:      fetcher,
		client:       resty.New().SetTimeout(30 * time.Second),
	}
}

func (r *RedditSource) Kind() models.SourceKind { return models.KindReddit }

func (r *RedditSource) NewestFirst() bool { return true }

// UsesOAuth reports whether client credentials are configured.
func (r *RedditSource) UsesOAuth() bool {
	return r.clientID != "" && r.clientSecret != ""
}

func (r *RedditSource) List(ctx context.Context, cfg models.SourceConfig) ([]models.Item, error) {
	listURL, err := r.listingURL(cfg)
	if err != nil {
		return nil, &FetchError{Source: string(models.KindReddit), URL: cfg.URL, Err: err}
	}

	headers := map[string]string{}
	if r.UsesOAuth() {
		token, err := r.token(ctx)
		if err != nil {
			return nil, &FetchError{Source: string(models.KindReddit), URL: redditTokenURL, Err: fmt.Errorf("reddit authentication failed: %w", err)}
		}
		headers["Authorization"] = "Bearer " + token
	}

	body, err := getOK(ctx, r.fetcher, string(models.KindReddit), listURL, headers)
	if err != nil {
		return nil, err
	}

	var listing redditListing
	if err := json.Unmarshal(body, &listing); err != nil {
		return nil, &FetchError{Source: string(models.KindReddit), URL: listURL, Err: err}
	}

	flairs := cfg.Params["flair"]
	var items []models.Item
	for _, child := range listing.Data.Children {
		post := child.Data
		if len(flairs) > 0 && !flairMatches(post.LinkFlairText, flairs) {
			continue
		}
		items = append(items, models.Item{
			ID:          post.ID,
			Title:       post.Title,
			Body:        post.Selftext,
			URL:         "https://reddit.com" + post.Permalink,
			Author:      post.Author,
			PublishedAt: time.Unix(int64(post.Created), 0).UTC(),
		})
	}

	logrus.WithFields(logrus.Fields{
		"source": cfg.ID,
		"items":  len(items),
	}).Debug("Fetched subreddit listing")

	return items, nil
}

func (r *RedditSource) listingURL(cfg models.SourceConfig) (string, error) {
	u, err := url.Parse(strings.TrimSuffix(cfg.URL, "/") + "/new.json")
	if err != nil {
		return "", err
	}
	if r.UsesOAuth() {
		u.Host = redditOAuthHost
		u.Path = strings.TrimSuffix(u.Path, ".json")
	}
	limit := cfg.Limit
	if limit <= 0 {
		limit = defaultRedditN
	}
	q := u.Query()
	q.Set("limit", fmt.Sprint(limit))
	q.Set("raw_json", "1")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// token returns a cached application token, refreshing it shortly before expiry.
func (r *RedditSource) token(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.accessToken != "" && time.Now().Before(r.expiresAt) {
		return r.accessToken, nil
	}

	resp, err := r.client.R().
		SetContext(ctx).
		SetHeader("User-Agent", r.userAgent).
		SetBasicAuth(r.clientID, r.clientSecret).
		SetFormData(map[string]string{
			"grant_type": "client_credentials",
		}).
		Post(redditTokenURL)
	if err != nil {
		return "", err
	}
	if resp.StatusCode() != http.StatusOK {
		return "", fmt.Errorf("token endpoint returned status %d", resp.StatusCode())
	}

	var authResp redditAuthResponse
	if err := json.Unmarshal(resp.Body(), &authResp); err != nil {
		return "", err
	}

	r.accessToken = authResp.AccessToken
	r.expiresAt = time.Now().Add(time.Duration(authResp.ExpiresIn)*time.Second - time.Minute)
	return r.accessToken, nil
}

func flairMatches(flair string, filters []string) bool {
	flair = strings.ToLower(flair)
	if flair == "" {
		return false
	}
	for _, f := range filters {
		if strings.Contains(flair, strings.ToLower(f)) {
			return true
		}
	}
	return false
}
