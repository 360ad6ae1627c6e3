// Package targets stores target configuration: which sources a target polls, how items
// are classified and where notifications go. It is kept apart from seen-state, which
// lives under its own key prefix and is written on every cycle.
package targets

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/feedwatch/feedwatch/internal/keywords"
	"github.com/feedwatch/feedwatch/internal/models"
	"github.com/feedwatch/feedwatch/internal/storage"
)

const (
	keyPrefix = "config/targets/"

	DefaultInterval   = 15 * time.Minute
	MaxInterval       = 24 * time.Hour
	DefaultMaxHistory = 200
	MinMaxHistory     = 10
)

// ErrNotFound is returned for unknown targets or sources.
var ErrNotFound = errors.New("not found")

// ConfigurationError rejects an invalid admin edit or configuration file entry.
type ConfigurationError struct {
	Target string
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Target == "" {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("target %s: invalid %s: %s", e.Target, e.Field, e.Reason)
}

// Store keeps targets in a storage backend, one JSON document per target.
type Store struct {
	backend     storage.StorageInterface
	minInterval time.Duration
	mu          sync.Mutex
}

// NewStore creates a configuration store. Intervals below minInterval are rejected.
func NewStore(backend storage.StorageInterface, minInterval time.Duration) *Store {
	return &Store{backend: backend, minInterval: minInterval}
}

func key(id string) string {
	return keyPrefix + url.PathEscape(id) + ".json"
}

// List returns all targets sorted by id.
func (s *Store) List() ([]models.Target, error) {
	keys, err := s.backend.List(keyPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list targets: %w", err)
	}

	targets := make([]models.Target, 0, len(keys))
	for _, k := range keys {
		data, err := s.backend.Retrieve(k)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", k, err)
		}
		var t models.Target
		if err := json.Unmarshal(data, &t); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", k, err)
		}
		targets = append(targets, t)
	}

	sort.Slice(targets, func(i, j int) bool { return targets[i].ID < targets[j].ID })
	return targets, nil
}

// Get returns one target.
func (s *Store) Get(id string) (models.Target, error) {
	data, err := s.backend.Retrieve(key(id))
	if errors.Is(err, storage.ErrNotFound) {
		return models.Target{}, fmt.Errorf("target %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return models.Target{}, err
	}

	var t models.Target
	if err := json.Unmarshal(data, &t); err != nil {
		return models.Target{}, fmt.Errorf("failed to decode target %s: %w", id, err)
	}
	return t, nil
}

// Put validates and stores a target, filling defaults first.
func (s *Store) Put(t models.Target) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.putLocked(&t)
}

// putLocked fills defaults into t, so callers see exactly what was stored.
func (s *Store) putLocked(t *models.Target) error {
	ApplyDefaults(t)
	if err := Validate(*t, s.minInterval); err != nil {
		return err
	}

	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to encode target %s: %w", t.ID, err)
	}
	return s.backend.Store(key(t.ID), data)
}

// Delete removes a target. Its seen-state is left untouched.
func (s *Store) Delete(id string) error {
	return s.backend.Delete(key(id))
}

// Seed stores targets from a configuration file. With overwrite false, targets that
// already exist keep their stored (possibly admin-edited) configuration.
func (s *Store) Seed(targets []models.Target, overwrite bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Reject the whole batch before writing anything.
	for _, t := range targets {
		ApplyDefaults(&t)
		if err := Validate(t, s.minInterval); err != nil {
			return 0, err
		}
	}

	written := 0
	for _, t := range targets {
		if !overwrite {
			if _, err := s.backend.Retrieve(key(t.ID)); err == nil {
				continue
			} else if !errors.Is(err, storage.ErrNotFound) {
				return written, err
			}
		}
		if err := s.putLocked(&t); err != nil {
			return written, err
		}
		written++
	}
	return written, nil
}

// Edit applies fn to a stored target and saves the result if it is still valid.
func (s *Store) Edit(id string, fn func(t *models.Target) error) (models.Target, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.Get(id)
	if err != nil {
		return models.Target{}, err
	}
	if err := fn(&t); err != nil {
		var kerr *keywords.ConfigurationError
		if errors.As(err, &kerr) {
			return models.Target{}, &ConfigurationError{Target: id, Field: kerr.Field, Reason: kerr.Reason}
		}
		return models.Target{}, err
	}
	if err := s.putLocked(&t); err != nil {
		return models.Target{}, err
	}
	return t, nil
}

// EditSource is Edit narrowed to one source of the target.
func (s *Store) EditSource(id, sourceID string, fn func(src *models.SourceConfig) error) (models.Target, error) {
	return s.Edit(id, func(t *models.Target) error {
		src, ok := t.Source(sourceID)
		if !ok {
			return fmt.Errorf("source %s of target %s: %w", sourceID, id, ErrNotFound)
		}
		return fn(src)
	})
}

// SetInterval changes how often a target is polled.
func (s *Store) SetInterval(id string, d time.Duration) (models.Target, error) {
	return s.Edit(id, func(t *models.Target) error {
		if d <= 0 {
			return &ConfigurationError{Target: id, Field: "interval", Reason: "must be positive"}
		}
		t.Interval = d
		return nil
	})
}

// SetEnabled turns monitoring of a target on or off.
func (s *Store) SetEnabled(id string, enabled bool) (models.Target, error) {
	return s.Edit(id, func(t *models.Target) error {
		t.Enabled = enabled
		return nil
	})
}

// SetChannel changes where a target's notifications are delivered.
func (s *Store) SetChannel(id, channel string) (models.Target, error) {
	return s.Edit(id, func(t *models.Target) error {
		t.Channel = channel
		return nil
	})
}

// SetThreshold changes the detection threshold of a scored source.
func (s *Store) SetThreshold(id, sourceID string, threshold float64) (models.Target, error) {
	return s.EditSource(id, sourceID, func(src *models.SourceConfig) error {
		return keywords.SetThreshold(profileOf(src), threshold)
	})
}

// SetMaxHistory changes how many seen items a source remembers.
func (s *Store) SetMaxHistory(id, sourceID string, n int) (models.Target, error) {
	return s.EditSource(id, sourceID, func(src *models.SourceConfig) error {
		if n < MinMaxHistory {
			return &ConfigurationError{Target: id, Field: "max_history", Reason: fmt.Sprintf("must be at least %d", MinMaxHistory)}
		}
		src.MaxHistory = n
		return nil
	})
}

// AddKeyword adds a keyword to one category of a source's profile.
func (s *Store) AddKeyword(id, sourceID, category, keyword string) (models.Target, error) {
	cat, err := keywords.ParseCategory(category)
	if err != nil {
		return models.Target{}, asConfigError(id, err)
	}
	return s.EditSource(id, sourceID, func(src *models.SourceConfig) error {
		return keywords.AddKeyword(profileOf(src), cat, keyword)
	})
}

// RemoveKeyword removes a keyword from one category of a source's profile.
func (s *Store) RemoveKeyword(id, sourceID, category, keyword string) (models.Target, error) {
	cat, err := keywords.ParseCategory(category)
	if err != nil {
		return models.Target{}, asConfigError(id, err)
	}
	return s.EditSource(id, sourceID, func(src *models.SourceConfig) error {
		if src.Profile == nil {
			return &ConfigurationError{Target: id, Field: "keyword", Reason: fmt.Sprintf("%q not in %s", keyword, cat)}
		}
		return keywords.RemoveKeyword(src.Profile, cat, keyword)
	})
}

// Profile returns the keyword profile of a source, with defaults for a source without one.
func (s *Store) Profile(id, sourceID string) (models.KeywordProfile, error) {
	t, err := s.Get(id)
	if err != nil {
		return models.KeywordProfile{}, err
	}
	src, ok := t.Source(sourceID)
	if !ok {
		return models.KeywordProfile{}, fmt.Errorf("source %s of target %s: %w", sourceID, id, ErrNotFound)
	}
	if src.Profile == nil {
		return models.KeywordProfile{Threshold: models.DefaultThreshold}, nil
	}
	return *src.Profile, nil
}

func profileOf(src *models.SourceConfig) *models.KeywordProfile {
	if src.Profile == nil {
		src.Profile = &models.KeywordProfile{Threshold: models.DefaultThreshold}
	}
	return src.Profile
}

func asConfigError(target string, err error) error {
	var kerr *keywords.ConfigurationError
	if errors.As(err, &kerr) {
		return &ConfigurationError{Target: target, Field: kerr.Field, Reason: kerr.Reason}
	}
	return err
}

// ApplyDefaults fills unset fields of a target and its sources.
func ApplyDefaults(t *models.Target) {
	if t.Interval == 0 {
		t.Interval = DefaultInterval
	}
	for i := range t.Sources {
		src := &t.Sources[i]
		if src.Mode == "" {
			src.Mode = models.ModeUnconditional
		}
		if src.MaxHistory == 0 {
			src.MaxHistory = DefaultMaxHistory
		}
		if src.Profile != nil && src.Profile.Threshold == 0 {
			src.Profile.Threshold = models.DefaultThreshold
		}
	}
}

var knownKinds = map[models.SourceKind]bool{
	models.KindForum:      true,
	models.KindModrinth:   true,
	models.KindReddit:     true,
	models.KindRSS:        true,
	models.KindHackerNews: true,
}

// Validate checks a target after defaults have been applied.
func Validate(t models.Target, minInterval time.Duration) error {
	fail := func(field, reason string) error {
		return &ConfigurationError{Target: t.ID, Field: field, Reason: reason}
	}

	if strings.TrimSpace(t.ID) == "" {
		return fail("id", "must not be empty")
	}
	if !strings.Contains(t.Channel, ":") {
		return fail("channel", "must look like scheme:address, e.g. webhook:https://...")
	}
	if t.Interval < minInterval {
		return fail("interval", fmt.Sprintf("must be at least %s", minInterval))
	}
	if t.Interval > MaxInterval {
		return fail("interval", fmt.Sprintf("must be at most %s", MaxInterval))
	}

	ids := make(map[string]bool, len(t.Sources))
	for _, src := range t.Sources {
		if src.ID == "" {
			return fail("sources.id", "must not be empty")
		}
		if ids[src.ID] {
			return fail("sources.id", fmt.Sprintf("duplicate source %q", src.ID))
		}
		ids[src.ID] = true

		if !knownKinds[src.Kind] {
			return fail("sources."+src.ID+".kind", fmt.Sprintf("unknown kind %q", src.Kind))
		}
		if src.URL == "" && src.Kind != models.KindHackerNews {
			return fail("sources."+src.ID+".url", "must not be empty")
		}
		if src.MaxHistory < MinMaxHistory {
			return fail("sources."+src.ID+".max_history", fmt.Sprintf("must be at least %d", MinMaxHistory))
		}
		if src.RequestDelay < 0 {
			return fail("sources."+src.ID+".request_delay", "must not be negative")
		}

		switch src.Mode {
		case models.ModeUnconditional:
		case models.ModeScored:
			if src.Profile != nil {
				if err := keywords.Validate(src.Profile); err != nil {
					return asConfigError(t.ID, err)
				}
			}
		case models.ModeAuthorFiltered:
			if len(src.Authors) == 0 {
				return fail("sources."+src.ID+".authors", "author-filtered sources need at least one author")
			}
		default:
			return fail("sources."+src.ID+".mode", fmt.Sprintf("unknown mode %q", src.Mode))
		}
	}
	return nil
}
