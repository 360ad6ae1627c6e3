package models

import "time"

// Item is a unit of content observed from a source during one poll.
// Items are rebuilt on every poll and never mutated after the poller returns them.
type Item struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Body        string    `json:"body,omitempty"`
	URL         string    `json:"url,omitempty"`
	Author      string    `json:"author,omitempty"`
	Fingerprint string    `json:"fingerprint,omitempty"` // empty means edits are never detected
	Sticky      bool      `json:"sticky,omitempty"`
	PublishedAt time.Time `json:"published_at,omitempty"`
	Extra       []string  `json:"extra,omitempty"` // e.g. spoiler section titles, game versions
}

// SeenRecord is the persisted state for one (source, item id) pair.
type SeenRecord struct {
	Fingerprint string    `json:"fingerprint,omitempty"`
	Sticky      bool      `json:"sticky,omitempty"`
	SeenAt      time.Time `json:"seen_at"`
}

// ClassificationMode decides how new or updated items are approved for notification.
type ClassificationMode string

const (
	ModeUnconditional  ClassificationMode = "unconditional"
	ModeScored         ClassificationMode = "scored"
	ModeAuthorFiltered ClassificationMode = "author-filtered"
)

// SourceKind names a SourcePoller implementation.
type SourceKind string

const (
	KindForum      SourceKind = "forum"
	KindModrinth   SourceKind = "modrinth"
	KindReddit     SourceKind = "reddit"
	KindRSS        SourceKind = "rss"
	KindHackerNews SourceKind = "hackernews"
)

// SourceConfig describes one monitored source of a target.
type SourceConfig struct {
	ID            string             `json:"id" yaml:"id"`
	Kind          SourceKind         `json:"kind" yaml:"kind"`
	Label         string             `json:"label,omitempty" yaml:"label,omitempty"`
	URL           string             `json:"url" yaml:"url"`
	Mode          ClassificationMode `json:"mode" yaml:"mode"`
	Profile       *KeywordProfile    `json:"profile,omitempty" yaml:"profile,omitempty"`
	Authors       []string           `json:"authors,omitempty" yaml:"authors,omitempty"`
	TitleKeywords []string           `json:"title_keywords,omitempty" yaml:"title_keywords,omitempty"`
	MaxHistory    int                `json:"max_history" yaml:"max_history"`
	RequestDelay  time.Duration      `json:"request_delay,omitempty" yaml:"request_delay,omitempty"`
	FetchDetails  bool               `json:"fetch_details,omitempty" yaml:"fetch_details,omitempty"`
	Limit         int                `json:"limit,omitempty" yaml:"limit,omitempty"`
	Mention       string             `json:"mention,omitempty" yaml:"mention,omitempty"`
	Enabled       *bool              `json:"enabled,omitempty" yaml:"enabled,omitempty"`

	// Kind specific parameters: loaders, game_versions (modrinth), flair (reddit).
	Params map[string][]string `json:"params,omitempty" yaml:"params,omitempty"`
}

// IsEnabled reports whether the source takes part in cycles. Sources are enabled unless disabled explicitly.
func (s SourceConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// DisplayName returns the label, falling back to the id.
func (s SourceConfig) DisplayName() string {
	if s.Label != "" {
		return s.Label
	}
	return s.ID
}

// Target is a (guild, configured sources) pair owning one scheduling loop and one notification destination.
type Target struct {
	ID       string         `json:"id" yaml:"id"`
	Channel  string         `json:"channel" yaml:"channel"`
	Interval time.Duration  `json:"interval" yaml:"interval"`
	Enabled  bool           `json:"enabled" yaml:"enabled"`
	Sources  []SourceConfig `json:"sources" yaml:"sources"`
}

// Source returns the source config with the given id.
func (t *Target) Source(id string) (*SourceConfig, bool) {
	for i := range t.Sources {
		if t.Sources[i].ID == id {
			return &t.Sources[i], true
		}
	}
	return nil, false
}

// NotificationRecord is emitted by the dispatcher for each accepted item.
type NotificationRecord struct {
	ID        string    `json:"id"`
	TargetID  string    `json:"target_id"`
	SourceID  string    `json:"source_id"`
	Item      Item      `json:"item"`
	IsUpdate  bool      `json:"is_update"`
	Score     float64   `json:"-"` // +Inf on the immediate path
	Immediate bool      `json:"immediate"`
	CreatedAt time.Time `json:"created_at"`
}

// TargetState is the scheduler state of one target's polling loop.
type TargetState string

const (
	StateIdle      TargetState = "idle"
	StatePolling   TargetState = "polling"
	StateSleeping  TargetState = "sleeping"
	StateCancelled TargetState = "cancelled"
)

// SeenStats describes the persisted seen-set of one source.
type SeenStats struct {
	Seen   int `json:"seen"`
	Sticky int `json:"sticky"`
}

// TargetStatus is the diagnostic view of one target.
type TargetStatus struct {
	TargetID            string               `json:"target_id"`
	State               TargetState          `json:"state"`
	Interval            string               `json:"interval"`
	LastCycleStart      time.Time            `json:"last_cycle_start,omitempty"`
	LastSuccess         time.Time            `json:"last_success,omitempty"`
	LastError           string               `json:"last_error,omitempty"`
	LastErrorAt         time.Time            `json:"last_error_at,omitempty"`
	ConsecutiveFailures int                  `json:"consecutive_failures"`
	Cycles              int                  `json:"cycles"`
	NextRun             time.Time            `json:"next_run,omitempty"`
	Sources             map[string]SeenStats `json:"sources,omitempty"`
}
