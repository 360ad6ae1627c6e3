package sources

import (
	"context"
	"fmt"

	"github.com/feedwatch/feedwatch/internal/models"
)

// Source defines the contract for all data sources: list the items currently visible upstream.
type Source interface {
	Kind() models.SourceKind
	// NewestFirst reports whether List returns items newest first.
	NewestFirst() bool
	List(ctx context.Context, cfg models.SourceConfig) ([]models.Item, error)
}

// DetailFetcher is implemented by sources that can load one item's full content.
// Sources that support edit detection fill Item.Fingerprint here.
type DetailFetcher interface {
	FetchDetail(ctx context.Context, cfg models.SourceConfig, item models.Item) (models.Item, error)
}

// FetchError reports a network or HTTP failure while talking to a source.
// StatusCode is zero for network-level failures.
type FetchError struct {
	Source     string
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s (%s): HTTP %d", e.Source, e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s (%s): %v", e.Source, e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }
