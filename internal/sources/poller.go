package sources

import (
	"context"
	"fmt"
	"time"

	"github.com/feedwatch/feedwatch/internal/models"
	"github.com/sirupsen/logrus"
)

// DefaultRequestDelay spaces detail fetches when a source sets no delay of its own.
const DefaultRequestDelay = 2 * time.Second

// Poller resolves a SourceConfig to its Source and runs one poll with politeness spacing.
type Poller struct {
	sources      map[models.SourceKind]Source
	requestDelay time.Duration
	sleep        func(ctx context.Context, d time.Duration) error
}

// NewPoller creates a poller over the given sources. requestDelay is the default
// pause before each detail fetch.
func NewPoller(requestDelay time.Duration, srcs ...Source) *Poller {
	p := &Poller{
		sources:      make(map[models.SourceKind]Source, len(srcs)),
		requestDelay: requestDelay,
		sleep:        sleepContext,
	}
	for _, s := range srcs {
		p.sources[s.Kind()] = s
	}
	return p
}

// Source returns the implementation registered for kind.
func (p *Poller) Source(kind models.SourceKind) (Source, bool) {
	s, ok := p.sources[kind]
	return s, ok
}

// Kinds lists the registered source kinds.
func (p *Poller) Kinds() []models.SourceKind {
	kinds := make([]models.SourceKind, 0, len(p.sources))
	for k := range p.sources {
		kinds = append(kinds, k)
	}
	return kinds
}

// PollResult is the outcome of one poll of one source.
type PollResult struct {
	Items       []models.Item
	NewestFirst bool
}

// Poll lists cfg's items and loads detail for every item for which needDetail returns
// true. A list failure yields no items. A failed detail fetch leaves that item without
// body and fingerprint.
//
// Cancellation of ctx is observed only between requests: a request already in flight
// runs to completion under the fetcher's own timeout.
func (p *Poller) Poll(ctx context.Context, cfg models.SourceConfig, needDetail func(models.Item) bool) (*PollResult, error) {
	src, ok := p.sources[cfg.Kind]
	if !ok {
		return nil, fmt.Errorf("no source registered for kind %q", cfg.Kind)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ioCtx := context.WithoutCancel(ctx)

	items, err := src.List(ioCtx, cfg)
	if err != nil {
		return nil, err
	}

	result := &PollResult{Items: items, NewestFirst: src.NewestFirst()}

	detailer, ok := src.(DetailFetcher)
	if !ok || needDetail == nil {
		return result, nil
	}

	delay := cfg.RequestDelay
	if delay <= 0 {
		delay = p.requestDelay
	}

	for i, item := range items {
		if !needDetail(item) {
			continue
		}
		if err := p.sleep(ctx, delay); err != nil {
			return nil, err
		}

		detailed, err := detailer.FetchDetail(ioCtx, cfg, item)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"source": cfg.ID,
				"item":   item.ID,
			}).WithError(err).Warn("Detail fetch failed")
			detailed = item
			detailed.Body = ""
			detailed.Fingerprint = ""
		}
		items[i] = detailed
	}

	return result, nil
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Sleep waits for d or until ctx is done. It is the pause used between sources of a cycle.
func Sleep(ctx context.Context, d time.Duration) error {
	return sleepContext(ctx, d)
}
