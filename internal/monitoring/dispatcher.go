package monitoring

import (
	"math"
	"strings"
	"time"

	"github.com/feedwatch/feedwatch/internal/keywords"
	"github.com/feedwatch/feedwatch/internal/models"
	"github.com/feedwatch/feedwatch/internal/seenstate"
	"github.com/google/uuid"
)

// Dispatcher decides which changes are notified and commits them to the seen-set.
type Dispatcher struct {
	now   func() time.Time
	newID func() string
}

// NewDispatcher creates a new dispatcher
func NewDispatcher() *Dispatcher {
	return &Dispatcher{now: time.Now, newID: uuid.NewString}
}

// Verdict is the classification of one item.
type Verdict struct {
	Accepted  bool
	Score     float64
	Immediate bool
}

// Classify applies the source's classification mode to item.
func (d *Dispatcher) Classify(src models.SourceConfig, item models.Item) Verdict {
	switch src.Mode {
	case models.ModeScored:
		if src.Profile == nil {
			return Verdict{Accepted: true}
		}
		res := keywords.Score(item.Title, item.Body, *src.Profile)
		return Verdict{Accepted: res.Accepted, Score: res.Value, Immediate: res.Immediate}
	case models.ModeAuthorFiltered:
		return Verdict{Accepted: AuthorMatches(src, item)}
	default:
		return Verdict{Accepted: true}
	}
}

// Process classifies changes in order, commits every accepted item to seen and returns
// one record per accepted item. Rejected items are not committed. The seen-set is
// trimmed to the source's MaxHistory afterwards.
func (d *Dispatcher) Process(targetID string, src models.SourceConfig, changes []Change, seen *seenstate.SeenSet) []models.NotificationRecord {
	var records []models.NotificationRecord
	now := d.now().UTC()

	for _, c := range changes {
		v := d.Classify(src, c.Item)
		if !v.Accepted {
			continue
		}

		seen.Commit(c.Item.ID, models.SeenRecord{
			Fingerprint: c.Item.Fingerprint,
			Sticky:      c.Item.Sticky,
			SeenAt:      now,
		})

		score := v.Score
		if v.Immediate {
			score = math.Inf(1)
		}
		records = append(records, models.NotificationRecord{
			ID:        d.newID(),
			TargetID:  targetID,
			SourceID:  src.ID,
			Item:      c.Item,
			IsUpdate:  c.IsUpdate,
			Score:     score,
			Immediate: v.Immediate,
			CreatedAt: now,
		})
	}

	seen.EvictOverCapacity(src.MaxHistory)
	return records
}

// AuthorMatches reports whether item passes an author-filtered source: the author must
// contain one of the configured authors and, when title keywords are set, the title one
// of them. Comparisons ignore case.
func AuthorMatches(src models.SourceConfig, item models.Item) bool {
	author := strings.ToLower(item.Author)
	matched := false
	for _, a := range src.Authors {
		if a = strings.ToLower(strings.TrimSpace(a)); a != "" && strings.Contains(author, a) {
			matched = true
			break
		}
	}
	if !matched {
		return false
	}

	if len(src.TitleKeywords) == 0 {
		return true
	}
	title := strings.ToLower(item.Title)
	for _, kw := range src.TitleKeywords {
		if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" && strings.Contains(title, kw) {
			return true
		}
	}
	return false
}
