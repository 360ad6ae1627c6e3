package keywords

import (
	"errors"
	"math"
	"testing"

	"github.com/feedwatch/feedwatch/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testProfile() models.KeywordProfile {
	return models.KeywordProfile{
		HighPriority: []string{"skyblock enhanced", "packcore"},
		Primary:      []string{"mod", "fps", "crash"},
		Secondary:    []string{"shader", "optifine"},
		Negative:     []string{"coins", "bazaar", "minion", "slayer"},
		Threshold:    3.0,
	}
}

func TestScore(t *testing.T) {
	tests := []struct {
		name      string
		title     string
		body      string
		value     float64
		immediate bool
		accepted  bool
	}{
		{
			name:     "One primary keyword in title meets threshold exactly",
			title:    "Which MOD should I use",
			value:    3.0,
			accepted: true,
		},
		{
			name:     "Primary keyword in body only",
			title:    "Question",
			body:     "my game keeps going to a crash screen",
			value:    2.0,
			accepted: false,
		},
		{
			name:     "Keyword in both fields counts in each",
			title:    "fps help",
			body:     "fps drops everywhere",
			value:    5.0,
			accepted: true,
		},
		{
			name:     "Secondary weights",
			title:    "shader pack",
			body:     "using optifine",
			value:    3.0,
			accepted: true,
		},
		{
			name:     "Negative dominance cancels two primary hits",
			title:    "mod fps coins bazaar minion slayer",
			value:    0.0,
			accepted: false,
		},
		{
			name:     "Negative in body uses half weight",
			title:    "mod",
			body:     "selling coins",
			value:    3.0 - 1.5*0.5,
			accepted: false,
		},
		{
			name:      "High priority keyword in body short-circuits",
			title:     "coins bazaar minion slayer",
			body:      "anyone tried PackCore yet?",
			value:     math.Inf(1),
			immediate: true,
			accepted:  true,
		},
		{
			name:     "Substring matching is deliberate",
			title:    "modpack suggestions",
			value:    3.0,
			accepted: true,
		},
		{
			name:     "Nothing matches",
			title:    "hello",
			body:     "world",
			value:    0,
			accepted: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Score(tt.title, tt.body, testProfile())
			assert.Equal(t, tt.immediate, res.Immediate)
			assert.Equal(t, tt.accepted, res.Accepted)
			if math.IsInf(tt.value, 1) {
				assert.True(t, math.IsInf(res.Value, 1))
				return
			}
			assert.InDelta(t, tt.value, res.Value, 1e-9)
		})
	}
}

func TestScore_IsDeterministic(t *testing.T) {
	p := testProfile()
	first := Score("Mod crash with shaders", "selling coins, fps is bad", p)
	second := Score("Mod crash with shaders", "selling coins, fps is bad", p)
	assert.Equal(t, first, second)
}

func TestScore_IgnoresEmptyKeywords(t *testing.T) {
	p := models.KeywordProfile{HighPriority: []string{"", "  "}, Primary: []string{""}, Threshold: 1}
	res := Score("anything", "at all", p)
	assert.False(t, res.Immediate)
	assert.Zero(t, res.Value)
}

func TestScore_CustomWeights(t *testing.T) {
	p := testProfile()
	p.Weights = &models.Weights{PrimaryTitle: 10, NegativeTitle: 1, NegativeMultiplier: 2}
	res := Score("mod coins", "", p)
	assert.InDelta(t, 8.0, res.Value, 1e-9)
	assert.Equal(t, []string{"mod"}, res.Matches[models.CategoryPrimary])
	assert.Equal(t, []string{"coins"}, res.Matches[models.CategoryNegative])
}

func TestKeywordEditing(t *testing.T) {
	p := testProfile()

	require.NoError(t, AddKeyword(&p, models.CategorySecondary, "sodium"))
	assert.Contains(t, p.Secondary, "sodium")

	err := AddKeyword(&p, models.CategorySecondary, "SODIUM")
	var cfgErr *ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "keyword", cfgErr.Field)

	require.NoError(t, RemoveKeyword(&p, models.CategoryPrimary, "FPS"))
	assert.Equal(t, []string{"mod", "crash"}, p.Primary)

	assert.Error(t, RemoveKeyword(&p, models.CategoryPrimary, "fps"))
	assert.Error(t, AddKeyword(&p, models.CategoryNegative, "   "))
	assert.Error(t, AddKeyword(&p, models.KeywordCategory("bogus"), "x"))
}

func TestParseCategory(t *testing.T) {
	c, err := ParseCategory(" Negative ")
	require.NoError(t, err)
	assert.Equal(t, models.CategoryNegative, c)

	_, err = ParseCategory("higher")
	assert.Error(t, err)
}

func TestSetThreshold(t *testing.T) {
	p := testProfile()
	assert.NoError(t, SetThreshold(&p, 4.5))
	assert.Equal(t, 4.5, p.Threshold)
	assert.Error(t, SetThreshold(&p, 0.5))
	assert.Error(t, SetThreshold(&p, 10.5))
	assert.Equal(t, 4.5, p.Threshold)
}
