package models

// KeywordCategory names one keyword list of a KeywordProfile.
type KeywordCategory string

const (
	CategoryHighPriority KeywordCategory = "high_priority"
	CategoryPrimary      KeywordCategory = "primary"
	CategorySecondary    KeywordCategory = "secondary"
	CategoryNegative     KeywordCategory = "negative"
)

// Categories lists the keyword categories in evaluation order.
var Categories = []KeywordCategory{CategoryHighPriority, CategoryPrimary, CategorySecondary, CategoryNegative}

// Weights holds the per-field weight table of a KeywordProfile.
type Weights struct {
	PrimaryTitle       float64 `json:"primary_title" yaml:"primary_title"`
	PrimaryBody        float64 `json:"primary_body" yaml:"primary_body"`
	SecondaryTitle     float64 `json:"secondary_title" yaml:"secondary_title"`
	SecondaryBody      float64 `json:"secondary_body" yaml:"secondary_body"`
	NegativeTitle      float64 `json:"negative_title" yaml:"negative_title"`
	NegativeBody       float64 `json:"negative_body" yaml:"negative_body"`
	NegativeMultiplier float64 `json:"negative_multiplier" yaml:"negative_multiplier"`
}

// DefaultWeights returns the weight table used when a profile does not carry its own.
func DefaultWeights() Weights {
	return Weights{
		PrimaryTitle:       3,
		PrimaryBody:        2,
		SecondaryTitle:     2,
		SecondaryBody:      1,
		NegativeTitle:      1,
		NegativeBody:       0.5,
		NegativeMultiplier: 1.5,
	}
}

// DefaultThreshold is the acceptance threshold of a new profile.
const DefaultThreshold = 3.0

// KeywordProfile is the data-driven classification configuration of a scored source.
type KeywordProfile struct {
	HighPriority []string `json:"high_priority,omitempty" yaml:"high_priority,omitempty"`
	Primary      []string `json:"primary,omitempty" yaml:"primary,omitempty"`
	Secondary    []string `json:"secondary,omitempty" yaml:"secondary,omitempty"`
	Negative     []string `json:"negative,omitempty" yaml:"negative,omitempty"`
	Threshold    float64  `json:"threshold" yaml:"threshold"`
	Weights      *Weights `json:"weights,omitempty" yaml:"weights,omitempty"`
}

// EffectiveWeights returns the profile weights or the defaults when none are set.
func (p *KeywordProfile) EffectiveWeights() Weights {
	if p.Weights == nil {
		return DefaultWeights()
	}
	return *p.Weights
}

// List returns a pointer to the keyword list of the given category, or nil for an unknown category.
func (p *KeywordProfile) List(category KeywordCategory) *[]string {
	switch category {
	case CategoryHighPriority:
		return &p.HighPriority
	case CategoryPrimary:
		return &p.Primary
	case CategorySecondary:
		return &p.Secondary
	case CategoryNegative:
		return &p.Negative
	}
	return nil
}
