package rates

import "time"

// SampleWindow is how many of the newest samples a rate memory is built from.
const SampleWindow = 50

type Source string

const (
	SourceExact    Source = "exact"
	SourceSimilar  Source = "similar"
	SourceCategory Source = "category"
)

// Sample is one historical priced use of an item. Append-only.
type Sample struct {
	ID             int64
	TenantID       string
	NormalizedName string
	Unit           string
	Rate           float64
	CreatedAt      time.Time
}

// Memory is the aggregate over the newest SampleWindow samples of a
// (tenant, normalized name, unit) key.
type Memory struct {
	ID             int64
	TenantID       string
	NormalizedName string
	Unit           string
	Category       string
	LastRate       float64
	SampleCount    int
	MedianRate     float64
	MinRate        float64
	MaxRate        float64
	UpdatedAt      time.Time
}

type Stats struct {
	SampleCount int
	Median      float64
	Min         float64
	Max         float64
}

// SampleInput is what the store needs to append a sample and rebuild its memory.
type SampleInput struct {
	TenantID       string
	NormalizedName string
	Unit           string
	Category       string
	Rate           float64
}

// PricedItem is a raw, not yet normalized, priced line item.
type PricedItem struct {
	Name     string
	Unit     string
	Category string
	Rate     float64
}

type Suggestion struct {
	UnitRate    float64 `json:"suggestedUnitRate"`
	Source      Source  `json:"rateSource"`
	Confidence  int     `json:"rateConfidence"`
	NeedsReview bool    `json:"needsReview"`
}

type Query struct {
	TenantID string
	LineName string
	Unit     string
	Category string
}

// EffectiveRate is the rate a memory row stands for: the median when it is
// positive, the last charged rate otherwise.
func EffectiveRate(m Memory) float64 {
	if m.MedianRate > 0 {
		return m.MedianRate
	}
	return m.LastRate
}
