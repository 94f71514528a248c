package rates

import (
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	// ReviewBelow: suggestions under this confidence are flagged for review.
	ReviewBelow = 75

	MinSimilarity     = 0.55
	MinSimilarSamples = 2
)

// Lookup is the input every tier sees: the normalized request plus the
// tenant's memories for the requested unit, ordered by normalized name.
type Lookup struct {
	Key      string
	Unit     string
	Category string
	Memories []Memory
}

// Tier is one strategy in the resolution chain.
type Tier interface {
	Source() Source
	TryResolve(l *Lookup) (Suggestion, bool)
}

// Resolver runs tiers in order; the first one that answers wins.
type Resolver struct {
	tiers []Tier
}

func NewResolver(tiers ...Tier) *Resolver {
	return &Resolver{tiers: tiers}
}

// DefaultResolver is exact, then similar, then category.
func DefaultResolver() *Resolver {
	return NewResolver(ExactTier{}, SimilarTier{MinSimilarity: MinSimilarity, MinSamples: MinSimilarSamples}, CategoryTier{})
}

func (r *Resolver) Resolve(l *Lookup) (Suggestion, bool) {
	if l == nil || l.Key == "" || strings.TrimSpace(l.Unit) == "" {
		return Suggestion{}, false
	}
	for _, t := range r.tiers {
		if s, ok := t.TryResolve(l); ok {
			return s, true
		}
	}
	return Suggestion{}, false
}

func suggestion(rate float64, src Source, confidence int) Suggestion {
	return Suggestion{
		UnitRate:    rate,
		Source:      src,
		Confidence:  confidence,
		NeedsReview: confidence < ReviewBelow,
	}
}

// ExactTier matches the normalized name exactly.
type ExactTier struct{}

func (ExactTier) Source() Source { return SourceExact }

func (ExactTier) TryResolve(l *Lookup) (Suggestion, bool) {
	for _, m := range l.Memories {
		if m.NormalizedName != l.Key || m.SampleCount <= 0 {
			continue
		}
		rate := EffectiveRate(m)
		if rate <= 0 {
			return Suggestion{}, false
		}
		return suggestion(rate, SourceExact, min(95, 70+5*m.SampleCount)), true
	}
	return Suggestion{}, false
}

// SimilarTier takes the most similar key by token overlap. Ties keep the
// first row in snapshot order.
type SimilarTier struct {
	MinSimilarity float64
	MinSamples    int
}

func (SimilarTier) Source() Source { return SourceSimilar }

func (t SimilarTier) TryResolve(l *Lookup) (Suggestion, bool) {
	var (
		best    *Memory
		bestSim float64
	)
	for i := range l.Memories {
		m := &l.Memories[i]
		if m.SampleCount <= 0 {
			continue
		}
		sim := Similarity(l.Key, m.NormalizedName)
		if best == nil || sim > bestSim {
			best, bestSim = m, sim
		}
	}
	if best == nil || bestSim < t.MinSimilarity || best.SampleCount < t.MinSamples {
		return Suggestion{}, false
	}
	rate := EffectiveRate(*best)
	if rate <= 0 {
		return Suggestion{}, false
	}
	conf := min(90, int(math.Round(bestSim*100)))
	return suggestion(rate, SourceSimilar, conf), true
}

// CategoryTier averages every key of the same category, weighted by sample
// count. It is never trusted enough to skip review.
type CategoryTier struct{}

func (CategoryTier) Source() Source { return SourceCategory }

func (CategoryTier) TryResolve(l *Lookup) (Suggestion, bool) {
	want := normalizeCategory(l.Category)
	if want == "" {
		return Suggestion{}, false
	}

	sum := decimal.Zero
	weight := 0
	for _, m := range l.Memories {
		if m.SampleCount <= 0 || normalizeCategory(m.Category) != want {
			continue
		}
		rate := EffectiveRate(m)
		if rate <= 0 {
			continue
		}
		sum = sum.Add(decimal.NewFromFloat(rate).Mul(decimal.NewFromInt(int64(m.SampleCount))))
		weight += m.SampleCount
	}
	if weight == 0 {
		return Suggestion{}, false
	}

	rate := sum.Div(decimal.NewFromInt(int64(weight))).Round(2).InexactFloat64()
	conf := min(78, 55+int(math.Round(float64(weight)/3)))
	s := suggestion(rate, SourceCategory, conf)
	s.NeedsReview = true
	return s, true
}
