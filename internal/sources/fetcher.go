package sources

import (
	"context"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

// DefaultUserAgent identifies the poller to upstream sites.
const DefaultUserAgent = "feedwatch/1.0 (+https://github.com/feedwatch/feedwatch)"

// Response is the raw outcome of one HTTP request. Non-2xx statuses are not errors at this level.
type Response struct {
	StatusCode int
	Body       []byte
	Header     http.Header
}

// Fetcher is the HTTP collaborator shared by all sources.
type Fetcher interface {
	Get(ctx context.Context, url string, headers map[string]string) (*Response, error)
}

// HTTPFetcher implements Fetcher on a pooled resty client.
type HTTPFetcher struct {
	client *resty.Client
}

var _ Fetcher = (*HTTPFetcher)(nil)

// NewHTTPFetcher creates a fetcher sending userAgent and enforcing timeout on every request.
func NewHTTPFetcher(userAgent string, timeout time.Duration) *HTTPFetcher {
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	return &HTTPFetcher{
		client: resty.New().
			SetTimeout(timeout).
			SetHeader("User-Agent", userAgent),
	}
}

// Get performs a GET request. Only transport failures are returned as errors.
func (f *HTTPFetcher) Get(ctx context.Context, url string, headers map[string]string) (*Response, error) {
	resp, err := f.client.R().
		SetContext(ctx).
		SetHeaders(headers).
		Get(url)
	if err != nil {
		return nil, &FetchError{Source: "http", URL: url, Err: err}
	}

	return &Response{
		StatusCode: resp.StatusCode(),
		Body:       resp.Body(),
		Header:     resp.Header(),
	}, nil
}

// Close releases pooled connections. It is called once on shutdown.
func (f *HTTPFetcher) Close() {
	f.client.GetClient().CloseIdleConnections()
}

// getOK fetches url and converts anything but HTTP 200 into a FetchError tagged with kind.
func getOK(ctx context.Context, f Fetcher, kind, url string, headers map[string]string) ([]byte, error) {
	resp, err := f.Get(ctx, url, headers)
	if err != nil {
		if fe, ok := err.(*FetchError); ok {
			fe.Source = kind
			return nil, fe
		}
		return nil, &FetchError{Source: kind, URL: url, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &FetchError{Source: kind, URL: url, StatusCode: resp.StatusCode}
	}
	return resp.Body, nil
}
