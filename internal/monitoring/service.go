package monitoring

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/feedwatch/feedwatch/internal/metrics"
	"github.com/feedwatch/feedwatch/internal/models"
	"github.com/feedwatch/feedwatch/internal/notifications"
	"github.com/feedwatch/feedwatch/internal/seenstate"
	"github.com/feedwatch/feedwatch/internal/sources"
	"github.com/sirupsen/logrus"
)

// Service runs poll cycles: fetch, diff, classify, commit, then notify.
type Service struct {
	poller      *sources.Poller
	seen        *seenstate.Store
	sink        notifications.Sink
	dispatcher  *Dispatcher
	sourceDelay time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
}

// SourceResult summarises one source's part of a cycle.
type SourceResult struct {
	SourceID  string `json:"source_id"`
	Fetched   int    `json:"fetched"`
	New       int    `json:"new"`
	Updated   int    `json:"updated"`
	Notified  int    `json:"notified"`
	Delivered int    `json:"delivered"`
	Error     string `json:"error,omitempty"`
	Phase     string `json:"phase,omitempty"`
}

// CycleSummary is the outcome of RunCycle, returned to "check now" callers.
type CycleSummary struct {
	TargetID string         `json:"target_id"`
	Started  time.Time      `json:"started"`
	Duration string         `json:"duration"`
	Sources  []SourceResult `json:"sources"`
}

// SourceError is the failure of one source within a cycle. Phase is one of
// load, fetch or flush.
type SourceError struct {
	SourceID string
	Phase    string
	Err      error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("%s: %v", e.SourceID, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

// NeedsBackoff reports whether a cycle error calls for the scheduler's fallback delay.
// Upstream fetch failures only skip their source for the cycle and do not; persistence
// failures, panics and any other error do.
func NeedsBackoff(err error) bool {
	if err == nil {
		return false
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range joined.Unwrap() {
			if NeedsBackoff(e) {
				return true
			}
		}
		return false
	}
	var serr *SourceError
	if errors.As(err, &serr) {
		return serr.Phase != "fetch"
	}
	return true
}

// NewService creates a new monitoring service. sourceDelay is the pause between two
// sources of the same target.
func NewService(poller *sources.Poller, seen *seenstate.Store, sink notifications.Sink, sourceDelay time.Duration) *Service {
	return &Service{
		poller:      poller,
		seen:        seen,
		sink:        sink,
		dispatcher:  NewDispatcher(),
		sourceDelay: sourceDelay,
		sleep:       sources.Sleep,
	}
}

// Dispatcher exposes the classifier, e.g. for scoring arbitrary text against a source.
func (s *Service) Dispatcher() *Dispatcher {
	return s.dispatcher
}

// RunCycle polls every enabled source of target once. Sources are processed one after
// another; a failing source is logged and skipped. The returned error joins all source
// failures, or is the context error when the cycle was cancelled between sources.
func (s *Service) RunCycle(ctx context.Context, target models.Target) (*CycleSummary, error) {
	start := time.Now()
	summary := &CycleSummary{TargetID: target.ID, Started: start.UTC()}

	logrus.WithField("target", target.ID).Debug("Starting poll cycle")

	var errs []error
	first := true
	for _, src := range target.Sources {
		if !src.IsEnabled() {
			continue
		}

		if !first {
			if err := s.sleep(ctx, s.sourceDelay); err != nil {
				return summary, err
			}
		} else if err := ctx.Err(); err != nil {
			return summary, err
		}
		first = false

		result, err := s.runSource(ctx, target, src)
		summary.Sources = append(summary.Sources, result)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return summary, err
		}
		if err != nil {
			errs = append(errs, &SourceError{SourceID: src.ID, Phase: result.Phase, Err: err})
		}
	}

	summary.Duration = time.Since(start).Round(time.Millisecond).String()
	err := errors.Join(errs...)
	metrics.ObserveCycle(target.ID, start, err)

	logrus.WithFields(logrus.Fields{
		"target":   target.ID,
		"sources":  len(summary.Sources),
		"failed":   len(errs),
		"duration": summary.Duration,
	}).Info("Poll cycle completed")

	return summary, err
}

func (s *Service) runSource(ctx context.Context, target models.Target, src models.SourceConfig) (SourceResult, error) {
	result := SourceResult{SourceID: src.ID}
	log := logrus.WithFields(logrus.Fields{
		"target": target.ID,
		"source": src.ID,
	})
	fail := func(phase string, err error) (SourceResult, error) {
		result.Phase = phase
		result.Error = err.Error()
		log.WithField("phase", phase).WithError(err).Error("Source cycle failed")
		return result, err
	}

	seen, err := s.seen.Load(target.ID, src.ID)
	if err != nil {
		metrics.PersistenceErrors.Inc()
		return fail("load", err)
	}

	needDetail := func(item models.Item) bool {
		if _, ok := seen.Contains(item.ID); ok {
			return item.Sticky
		}
		if src.Mode == models.ModeAuthorFiltered && !AuthorMatches(src, item) {
			return false
		}
		return item.Sticky || src.FetchDetails
	}

	polled, err := s.poller.Poll(ctx, src, needDetail)
	metrics.ObserveFetch(string(src.Kind), err)
	if err != nil {
		return fail("fetch", err)
	}
	result.Fetched = len(polled.Items)

	changes := Diff(polled.Items, seen, polled.NewestFirst)
	newItems, updated := Split(changes)
	result.New, result.Updated = len(newItems), len(updated)
	metrics.ItemsDetected.WithLabelValues(target.ID, src.ID, "new").Add(float64(len(newItems)))
	metrics.ItemsDetected.WithLabelValues(target.ID, src.ID, "updated").Add(float64(len(updated)))

	records := s.dispatcher.Process(target.ID, src, changes, seen)
	result.Notified = len(records)

	// Accepted items are marked seen before anything is sent. A failed flush
	// sends nothing so the items are detected again next cycle.
	if err := s.seen.Flush(target.ID, src.ID, seen); err != nil {
		metrics.PersistenceErrors.Inc()
		result.Notified = 0
		return fail("flush", err)
	}

	sendCtx := context.WithoutCancel(ctx)
	for _, rec := range records {
		msg := notifications.Format(rec, src)
		if err := s.sink.Send(sendCtx, target.Channel, msg); err != nil {
			metrics.NotificationsTotal.WithLabelValues(target.ID, "error").Inc()
			log.WithFields(logrus.Fields{
				"phase": "send",
				"item":  rec.Item.ID,
			}).WithError(err).Warn("Notification not delivered")
			continue
		}
		metrics.NotificationsTotal.WithLabelValues(target.ID, "success").Inc()
		result.Delivered++
	}

	if len(changes) > 0 {
		log.WithFields(logrus.Fields{
			"new":       result.New,
			"updated":   result.Updated,
			"notified":  result.Notified,
			"delivered": result.Delivered,
		}).Info("Processed source changes")
	}
	return result, nil
}

// SeenStats loads the seen-set sizes of every source of target.
func (s *Service) SeenStats(target models.Target) (map[string]models.SeenStats, error) {
	stats := make(map[string]models.SeenStats, len(target.Sources))
	for _, src := range target.Sources {
		set, err := s.seen.Load(target.ID, src.ID)
		if err != nil {
			return nil, err
		}
		stats[src.ID] = models.SeenStats{Seen: set.Len(), Sticky: set.StickyCount()}
	}
	return stats, nil
}

// ResetSeen forgets the seen-state of one source, or of all sources when sourceID is empty.
// Items still listed upstream are announced again on the next cycle.
func (s *Service) ResetSeen(target models.Target, sourceID string) error {
	for _, src := range target.Sources {
		if sourceID != "" && src.ID != sourceID {
			continue
		}
		if err := s.seen.Reset(target.ID, src.ID); err != nil {
			return err
		}
		logrus.WithFields(logrus.Fields{
			"target": target.ID,
			"source": src.ID,
		}).Warn("Seen-state reset, listed items will be announced again")
	}
	return nil
}
