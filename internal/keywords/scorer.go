// Package keywords implements the weighted keyword relevance model used to decide
// whether an item is worth a notification.
//
// Matching is plain case-insensitive substring containment on the title and the body.
// There is no tokenization or stemming: "mod" matches "modpack" and "model".
package keywords

import (
	"math"
	"strings"

	"github.com/feedwatch/feedwatch/internal/models"
)

// Result is the outcome of scoring one item against a profile.
type Result struct {
	Value     float64
	Immediate bool
	Accepted  bool
	Matches   map[models.KeywordCategory][]string
}

// Score computes the relevance of title and body against profile.
//
// A high priority keyword in either field short-circuits to an immediate accept with value +Inf.
// Otherwise every keyword is counted at most once per field:
//
//	positive = Σ primary(title 3, body 2) + Σ secondary(title 2, body 1)
//	negative = Σ negative(title 1, body 0.5)
//	value    = positive - 1.5 * negative
//
// and the item is accepted when value >= threshold. The weights above are the defaults and can be
// overridden per profile. Score has no side effects and is safe for concurrent use.
func Score(title, body string, profile models.KeywordProfile) Result {
	title = strings.ToLower(title)
	body = strings.ToLower(body)

	res := Result{Matches: make(map[models.KeywordCategory][]string)}

	for _, kw := range profile.HighPriority {
		k := normalize(kw)
		if k == "" {
			continue
		}
		if strings.Contains(title, k) || strings.Contains(body, k) {
			res.Matches[models.CategoryHighPriority] = append(res.Matches[models.CategoryHighPriority], kw)
		}
	}
	if len(res.Matches[models.CategoryHighPriority]) > 0 {
		res.Value = math.Inf(1)
		res.Immediate = true
		res.Accepted = true
		return res
	}

	w := profile.EffectiveWeights()
	var positive, negative float64

	positive += accumulate(&res, models.CategoryPrimary, profile.Primary, title, body, w.PrimaryTitle, w.PrimaryBody)
	positive += accumulate(&res, models.CategorySecondary, profile.Secondary, title, body, w.SecondaryTitle, w.SecondaryBody)
	negative += accumulate(&res, models.CategoryNegative, profile.Negative, title, body, w.NegativeTitle, w.NegativeBody)

	res.Value = positive - w.NegativeMultiplier*negative
	res.Accepted = res.Value >= profile.Threshold
	return res
}

func accumulate(res *Result, category models.KeywordCategory, list []string, title, body string, titleWeight, bodyWeight float64) float64 {
	var sum float64
	for _, kw := range list {
		k := normalize(kw)
		if k == "" {
			continue
		}
		hit := false
		if strings.Contains(title, k) {
			sum += titleWeight
			hit = true
		}
		if strings.Contains(body, k) {
			sum += bodyWeight
			hit = true
		}
		if hit {
			res.Matches[category] = append(res.Matches[category], kw)
		}
	}
	return sum
}

func normalize(kw string) string {
	return strings.ToLower(strings.TrimSpace(kw))
}
