package quotes

import (
	"errors"

	"github.com/Spok95/quote-rates/internal/domain/rates"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrNoSuggestion = errors.New("no suggestion available")
	ErrInvalidLine  = errors.New("invalid quote line")
	ErrLinePriced   = errors.New("line already priced")
)

type Quote struct {
	ID             int64
	TenantID       string
	IncludeTax     bool
	TaxRatePercent float64
	Lines          []Line // ordered by position
}

// Line is a persisted quote line. UnitRate is the only authoritative price;
// the suggestion fields are annotations.
type Line struct {
	ID        int64   `json:"id"`
	QuoteID   int64   `json:"quoteId"`
	TenantID  string  `json:"-"`
	Position  int     `json:"position"`
	Name      string  `json:"name"`
	Category  string  `json:"category"`
	Qty       float64 `json:"qty"`
	Unit      string  `json:"unit"`
	UnitRate  float64 `json:"unitRate"`
	LineTotal float64 `json:"lineTotal"`

	SuggestedUnitRate *float64 `json:"suggestedUnitRate,omitempty"`
	RateSource        string   `json:"rateSource,omitempty"`
	RateConfidence    *int     `json:"rateConfidence,omitempty"`
	NeedsReview       bool     `json:"needsReview"`
}

// Stamp is what gets written onto a line when a suggestion is resolved.
// AppliedUnitRate is set only when the suggestion also becomes the price.
// With OnlyIfUnpriced the store writes nothing unless the stored unit rate is
// still zero, and reports ErrLinePriced instead.
type Stamp struct {
	SuggestedUnitRate float64
	RateSource        rates.Source
	RateConfidence    int
	NeedsReview       bool
	AppliedUnitRate   *float64
	LineTotal         float64
	OnlyIfUnpriced    bool
}

func NewStamp(l Line, s rates.Suggestion, apply bool) Stamp {
	st := Stamp{
		SuggestedUnitRate: s.UnitRate,
		RateSource:        s.Source,
		RateConfidence:    s.Confidence,
		NeedsReview:       s.NeedsReview,
	}
	if apply {
		rate := s.UnitRate
		st.AppliedUnitRate = &rate
		st.LineTotal = CalculateLineTotal(l.Qty, rate)
		st.NeedsReview = false
	}
	return st
}

func (st Stamp) applyTo(l *Line) {
	rate := st.SuggestedUnitRate
	conf := st.RateConfidence
	l.SuggestedUnitRate = &rate
	l.RateSource = string(st.RateSource)
	l.RateConfidence = &conf
	l.NeedsReview = st.NeedsReview
	if st.AppliedUnitRate != nil {
		l.UnitRate = *st.AppliedUnitRate
		l.LineTotal = st.LineTotal
	}
}

type ApplyReport struct {
	QuoteID     int64  `json:"quoteId"`
	Stamped     int    `json:"stamped"`
	AutoApplied int    `json:"autoApplied"`
	Unmatched   int    `json:"unmatched"`
	Skipped     int    `json:"skipped"`
	Failed      int    `json:"failed"`
	Lines       []Line `json:"lines"`
	Totals      Totals `json:"totals"`
}

type RecordReport struct {
	Recorded int `json:"recorded"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
}
