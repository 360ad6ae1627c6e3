package sources

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/feedwatch/feedwatch/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const forumListing = `<html><body>
<div class="structItem structItem--thread" data-author="Hypixel Team">
  <div class="structItem-title"><a href="/threads/skyblock-patch-0-20-3.5800001/">SkyBlock Patch 0.20.3</a></div>
  <div class="structItem-minor"><ul><li>Sticky</li></ul></div>
</div>
<div class="structItem structItem--thread" data-author="Someone">
  <div class="structItem-title"><a href="/threads/question-about-mining.5800002/">Question about mining</a></div>
  <div class="pageNav"><a href="/threads/question-about-mining.5800002/">1</a></div>
</div>
<a href="/forums/skyblock.157/">Forum link</a>
</body></html>`

const forumThread = `<html><body>
<article class="message message--post">
<div class="bbWrapper">
  <p>Hello SkyBlock!</p>
  <blockquote>quoted text</blockquote>
  <div class="bbCodeSpoiler">
    <button class="bbCodeSpoiler-button"><span class="bbCodeSpoiler-button-title">Spoiler: New Plot: Greenhouse</span></button>
    <div class="bbCodeSpoiler-content">hidden details</div>
  </div>
  <p>Enjoy   the update.</p>
</div>
</article>
</body></html>`

func newFetcher() *HTTPFetcher {
	return NewHTTPFetcher("feedwatch-test", 5*time.Second)
}

func TestForumSource_List(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "feedwatch-test", r.Header.Get("User-Agent"))
		fmt.Fprint(w, forumListing)
	}))
	defer server.Close()

	source := NewForumSource(newFetcher())
	items, err := source.List(context.Background(), models.SourceConfig{ID: "patch_notes", Kind: models.KindForum, URL: server.URL + "/forums/skyblock.157/"})
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.Equal(t, "5800001", items[0].ID)
	assert.Equal(t, "SkyBlock Patch 0.20.3", items[0].Title)
	assert.Equal(t, server.URL+"/threads/skyblock-patch-0-20-3.5800001/", items[0].URL)
	assert.Equal(t, "Hypixel Team", items[0].Author)
	assert.True(t, items[0].Sticky)

	assert.Equal(t, "5800002", items[1].ID)
	assert.False(t, items[1].Sticky)
	assert.True(t, source.NewestFirst())
}

func TestForumSource_FetchDetail(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, forumThread)
	}))
	defer server.Close()

	source := NewForumSource(newFetcher())
	item, err := source.FetchDetail(context.Background(), models.SourceConfig{}, models.Item{ID: "1", URL: server.URL + "/threads/x.1/"})
	require.NoError(t, err)

	assert.Equal(t, []string{"New Plot: Greenhouse"}, item.Extra)
	assert.NotContains(t, item.Body, "quoted text")
	assert.NotContains(t, item.Body, "hidden details")
	assert.Contains(t, item.Body, "Hello SkyBlock!")
	assert.Contains(t, item.Body, "Enjoy the update.")
	assert.Equal(t, Fingerprint(item.Body), item.Fingerprint)
	assert.Len(t, item.Fingerprint, 40)
}

func TestForumSource_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	items, err := NewForumSource(newFetcher()).List(context.Background(), models.SourceConfig{URL: server.URL})
	assert.Nil(t, items)

	var fe *FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, http.StatusForbidden, fe.StatusCode)
	assert.Equal(t, "forum", fe.Source)
}

func TestHTTPFetcher_NetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	_, err := newFetcher().Get(context.Background(), url, nil)
	var fe *FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, 0, fe.StatusCode)
}

func TestModrinthSource_List(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/project/sodium/version", r.URL.Path)
		assert.Equal(t, `["fabric"]`, r.URL.Query().Get("loaders"))
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `[
			{"id":"v2","project_id":"AANobbMI","name":"Sodium 0.6.1","version_number":"0.6.1","changelog":"Fixes","date_published":"2026-09-02T10:00:00Z","game_versions":["1.21.1"],"loaders":["fabric"]},
			{"id":"v1","project_id":"AANobbMI","version_number":"0.6.0","date_published":"2026-08-01T10:00:00Z"}
		]`)
	}))
	defer server.Close()

	source := NewModrinthSource(newFetcher())
	var waited time.Duration
	source.sleep = func(_ context.Context, d time.Duration) error {
		waited = d
		return nil
	}

	items, err := source.List(context.Background(), models.SourceConfig{
		URL:    server.URL + "/v2/project/sodium",
		Params: map[string][]string{"loaders": {"fabric"}},
	})
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.Equal(t, time.Second, waited)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	assert.Equal(t, "v2", items[0].ID)
	assert.Equal(t, "Sodium 0.6.1", items[0].Title)
	assert.Equal(t, "Fixes", items[0].Body)
	assert.Equal(t, []string{"1.21.1", "fabric"}, items[0].Extra)
	assert.Equal(t, "0.6.0", items[1].Title)
	assert.Equal(t, "https://modrinth.com/project/AANobbMI/version/v1", items[1].URL)
}

func TestRetryAfter(t *testing.T) {
	tests := []struct {
		header   string
		expected time.Duration
	}{
		{"5", 5 * time.Second},
		{"", defaultRetryAfter},
		{"abc", defaultRetryAfter},
		{"3600", maxRetryAfter},
	}

	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			assert.Equal(t, tt.expected, retryAfter(tt.header))
		})
	}
}

func TestRedditSource_List(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/r/admincraft/new.json", r.URL.Path)
		assert.Equal(t, "25", r.URL.Query().Get("limit"))
		fmt.Fprint(w, `{"data":{"children":[
			{"data":{"id":"abc","title":"Server crash on 1.21","selftext":"help","author":"alice","permalink":"/r/admincraft/comments/abc/","link_flair_text":"Help","created_utc":1790000000}},
			{"data":{"id":"def","title":"Show off my build","author":"bob","permalink":"/r/admincraft/comments/def/","link_flair_text":"Showcase","created_utc":1790000100}}
		]}}`)
	}))
	defer server.Close()

	source := NewRedditSource(newFetcher(), "", "", "")
	assert.False(t, source.UsesOAuth())

	items, err := source.List(context.Background(), models.SourceConfig{
		URL:    server.URL + "/r/admincraft",
		Params: map[string][]string{"flair": {"help"}},
	})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "abc", items[0].ID)
	assert.Equal(t, "help", items[0].Body)
	assert.Equal(t, "alice", items[0].Author)
	assert.Equal(t, "https://reddit.com/r/admincraft/comments/abc/", items[0].URL)
}

func TestRedditSource_UsesOAuth(t *testing.T) {
	tests := []struct {
		name         string
		clientID     string
		clientSecret string
		expected     bool
	}{
		{name: "Both credentials provided", clientID: "client_id", clientSecret: "client_secret", expected: true},
		{name: "Missing client ID", clientSecret: "client_secret", expected: false},
		{name: "Missing client secret", clientID: "client_id", expected: false},
		{name: "Both missing", expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			source := NewRedditSource(newFetcher(), tt.clientID, tt.clientSecret, "")
			assert.Equal(t, tt.expected, source.UsesOAuth())
		})
	}
}

func TestRSSSource_List(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<?xml version="1.0"?>
<rss version="2.0"><channel><title>Changelog</title>
<item><title>Release 2.0</title><link>https://example.com/2.0</link><guid>rel-2.0</guid><description>&lt;p&gt;Big &lt;b&gt;release&lt;/b&gt;&lt;/p&gt;</description></item>
<item><title>Release 1.9</title><link>https://example.com/1.9</link></item>
</channel></rss>`)
	}))
	defer server.Close()

	items, err := NewRSSSource(newFetcher()).List(context.Background(), models.SourceConfig{URL: server.URL})
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.Equal(t, "rel-2.0", items[0].ID)
	assert.Equal(t, "Big release", items[0].Body)
	assert.Len(t, items[1].ID, 64)
	assert.NotEqual(t, items[0].ID, items[1].ID)
}

func TestHackerNewsSource_List(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/newstories.json":
			fmt.Fprint(w, `[3, 2, 1]`)
		case "/item/3.json":
			fmt.Fprint(w, `{"id":3,"type":"story","by":"pg","time":1790000000,"title":"Show HN: feedwatch","url":"https://example.com"}`)
		case "/item/2.json":
			fmt.Fprint(w, `{"id":2,"type":"comment","by":"x","time":1790000000,"text":"nice"}`)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer server.Close()

	items, err := NewHackerNewsSource(newFetcher()).List(context.Background(), models.SourceConfig{URL: server.URL})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "3", items[0].ID)
	assert.Equal(t, "Show HN: feedwatch", items[0].Title)
	assert.Equal(t, "pg", items[0].Author)
}

type stubSource struct {
	items    []models.Item
	listErr  error
	detailed []string
	failOn   string
}

func (s *stubSource) Kind() models.SourceKind { return models.KindForum }
func (s *stubSource) NewestFirst() bool       { return true }

func (s *stubSource) List(ctx context.Context, cfg models.SourceConfig) ([]models.Item, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	return append([]models.Item(nil), s.items...), nil
}

func (s *stubSource) FetchDetail(ctx context.Context, cfg models.SourceConfig, item models.Item) (models.Item, error) {
	s.detailed = append(s.detailed, item.ID)
	if item.ID == s.failOn {
		return item, errors.New("boom")
	}
	item.Body = "body " + item.ID
	item.Fingerprint = "fp-" + item.ID
	return item, nil
}

func TestPoller_Poll(t *testing.T) {
	src := &stubSource{
		items: []models.Item{
			{ID: "3", Sticky: true, Body: "stale", Fingerprint: "stale"},
			{ID: "2"},
			{ID: "1", Sticky: true},
		},
		failOn: "3",
	}
	poller := NewPoller(time.Second, src)
	var delays []time.Duration
	poller.sleep = func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}

	cfg := models.SourceConfig{ID: "s", Kind: models.KindForum, RequestDelay: 3 * time.Second}
	result, err := poller.Poll(context.Background(), cfg, func(item models.Item) bool { return item.Sticky })
	require.NoError(t, err)

	assert.True(t, result.NewestFirst)
	assert.Equal(t, []string{"3", "1"}, src.detailed)
	assert.Equal(t, []time.Duration{3 * time.Second, 3 * time.Second}, delays)
	require.Len(t, result.Items, 3)
	assert.Empty(t, result.Items[0].Fingerprint, "failed detail keeps the item without fingerprint")
	assert.Empty(t, result.Items[0].Body)
	assert.Equal(t, "fp-1", result.Items[2].Fingerprint)
}

func TestPoller_ListErrorYieldsNoItems(t *testing.T) {
	poller := NewPoller(0, &stubSource{listErr: &FetchError{Source: "forum", StatusCode: 502}})
	result, err := poller.Poll(context.Background(), models.SourceConfig{Kind: models.KindForum}, nil)
	assert.Nil(t, result)
	var fe *FetchError
	assert.True(t, errors.As(err, &fe))
}

func TestPoller_CancelledBetweenDetails(t *testing.T) {
	src := &stubSource{items: []models.Item{{ID: "1"}, {ID: "2"}}}
	poller := NewPoller(time.Hour, src)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := poller.Poll(ctx, models.SourceConfig{Kind: models.KindForum}, func(models.Item) bool { return true })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, src.detailed)
}

func TestPoller_UnknownKind(t *testing.T) {
	_, err := NewPoller(0).Poll(context.Background(), models.SourceConfig{Kind: "gopher"}, nil)
	assert.Error(t, err)
}

func TestPlainTextAndTruncate(t *testing.T) {
	assert.Equal(t, "a\nb c", HTMLToText("<p>a</p><p>b   c</p><script>x()</script>"))
	assert.Equal(t, "abcd…", Truncate("abcdefgh", 5))
	assert.Equal(t, "abc", Truncate("abc", 5))
	assert.Equal(t, "", Fingerprint(""))
	assert.True(t, strings.HasPrefix(Fingerprint("x"), "11f6ad8e"))
}
