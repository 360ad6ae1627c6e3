package keywords

import (
	"fmt"
	"strings"

	"github.com/feedwatch/feedwatch/internal/models"
)

// Threshold bounds accepted by SetThreshold.
const (
	MinThreshold = 1.0
	MaxThreshold = 10.0
)

// ConfigurationError reports invalid keyword profile input. It is returned to the admin caller
// and never reaches the polling engine.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ParseCategory validates a category name.
func ParseCategory(name string) (models.KeywordCategory, error) {
	c := models.KeywordCategory(strings.ToLower(strings.TrimSpace(name)))
	for _, known := range models.Categories {
		if c == known {
			return c, nil
		}
	}
	return "", &ConfigurationError{Field: "category", Reason: fmt.Sprintf("%q is not one of high_priority, primary, secondary, negative", name)}
}

// AddKeyword appends keyword to the category list of profile.
func AddKeyword(profile *models.KeywordProfile, category models.KeywordCategory, keyword string) error {
	list := profile.List(category)
	if list == nil {
		return &ConfigurationError{Field: "category", Reason: fmt.Sprintf("unknown category %q", category)}
	}
	kw := strings.TrimSpace(keyword)
	if kw == "" {
		return &ConfigurationError{Field: "keyword", Reason: "must not be empty"}
	}
	for _, existing := range *list {
		if strings.EqualFold(existing, kw) {
			return &ConfigurationError{Field: "keyword", Reason: fmt.Sprintf("%q already in %s", kw, category)}
		}
	}
	*list = append(*list, kw)
	return nil
}

// RemoveKeyword deletes keyword (case-insensitive) from the category list of profile.
func RemoveKeyword(profile *models.KeywordProfile, category models.KeywordCategory, keyword string) error {
	list := profile.List(category)
	if list == nil {
		return &ConfigurationError{Field: "category", Reason: fmt.Sprintf("unknown category %q", category)}
	}
	kw := strings.TrimSpace(keyword)
	for i, existing := range *list {
		if strings.EqualFold(existing, kw) {
			*list = append((*list)[:i:i], (*list)[i+1:]...)
			return nil
		}
	}
	return &ConfigurationError{Field: "keyword", Reason: fmt.Sprintf("%q not in %s", kw, category)}
}

// SetThreshold validates and applies a new detection threshold.
func SetThreshold(profile *models.KeywordProfile, threshold float64) error {
	if threshold < MinThreshold || threshold > MaxThreshold {
		return &ConfigurationError{Field: "threshold", Reason: fmt.Sprintf("must be between %.1f and %.1f", MinThreshold, MaxThreshold)}
	}
	profile.Threshold = threshold
	return nil
}

// Validate checks a profile loaded from configuration.
func Validate(profile *models.KeywordProfile) error {
	if profile.Threshold < MinThreshold || profile.Threshold > MaxThreshold {
		return &ConfigurationError{Field: "threshold", Reason: fmt.Sprintf("%.2f outside %.1f..%.1f", profile.Threshold, MinThreshold, MaxThreshold)}
	}
	if w := profile.Weights; w != nil && w.NegativeMultiplier < 0 {
		return &ConfigurationError{Field: "weights.negative_multiplier", Reason: "must not be negative"}
	}
	return nil
}
