package rates

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/Spok95/quote-rates/internal/infra/metrics"
)

// Store is the persistence boundary of the rate memory.
type Store interface {
	// FetchRateMemories returns every memory of the tenant for one unit,
	// ordered by normalized name.
	FetchRateMemories(ctx context.Context, tenantID, unit string) ([]Memory, error)
	// FetchRecentSamples returns up to limit rates for the key, newest first.
	FetchRecentSamples(ctx context.Context, tenantID, normalizedName, unit string, limit int) ([]float64, error)
	// InsertSampleAndUpsertMemory appends the sample and rebuilds the memory
	// with recompute in one transaction.
	InsertSampleAndUpsertMemory(ctx context.Context, in SampleInput, recompute RecomputeFunc) (Memory, error)
	// ListRateMemories returns all memories of the tenant.
	ListRateMemories(ctx context.Context, tenantID string) ([]Memory, error)
}

type Service struct {
	store    Store
	resolver *Resolver
	log      *slog.Logger
	metrics  *metrics.Metrics
}

func NewService(store Store, log *slog.Logger, m *metrics.Metrics) *Service {
	return &Service{store: store, resolver: DefaultResolver(), log: log, metrics: m}
}

// Snapshot is the tenant's rate memory for a set of units, loaded once per
// resolution batch. Resolving against it does no I/O.
type Snapshot struct {
	byUnit   map[string][]Memory
	resolver *Resolver
	metrics  *metrics.Metrics
}

// Prefetch loads memories for each distinct non-empty unit.
func (s *Service) Prefetch(ctx context.Context, tenantID string, units []string) (*Snapshot, error) {
	start := time.Now()
	defer s.metrics.ObservePrefetch(start)

	snap := &Snapshot{
		byUnit:   make(map[string][]Memory),
		resolver: s.resolver,
		metrics:  s.metrics,
	}
	for _, u := range units {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		if _, ok := snap.byUnit[u]; ok {
			continue
		}
		mems, err := s.store.FetchRateMemories(ctx, tenantID, u)
		if err != nil {
			return nil, fmt.Errorf("fetch rate memories (%s): %w", u, err)
		}
		sort.SliceStable(mems, func(i, j int) bool { return mems[i].NormalizedName < mems[j].NormalizedName })
		snap.byUnit[u] = mems
	}
	return snap, nil
}

// Suggest resolves a line against the snapshot. A false result is the
// normal "not enough history" outcome.
func (sn *Snapshot) Suggest(lineName, unit, category string) (Suggestion, bool) {
	unit = strings.TrimSpace(unit)
	s, ok := sn.resolver.Resolve(&Lookup{
		Key:      Normalize(lineName),
		Unit:     unit,
		Category: category,
		Memories: sn.byUnit[unit],
	})
	if !ok {
		sn.metrics.Missed()
		return Suggestion{}, false
	}
	sn.metrics.Suggested(string(s.Source))
	return s, true
}

func (s *Service) Suggest(ctx context.Context, q Query) (Suggestion, bool, error) {
	if Normalize(q.LineName) == "" || strings.TrimSpace(q.Unit) == "" {
		return Suggestion{}, false, nil
	}
	snap, err := s.Prefetch(ctx, q.TenantID, []string{q.Unit})
	if err != nil {
		return Suggestion{}, false, err
	}
	sg, ok := snap.Suggest(q.LineName, q.Unit, q.Category)
	return sg, ok, nil
}

// Record ingests one priced item. Items without a positive rate, a unit or a
// usable name are skipped and reported with ok=false.
func (s *Service) Record(ctx context.Context, tenantID string, item PricedItem) (Memory, bool, error) {
	key := Normalize(item.Name)
	unit := strings.TrimSpace(item.Unit)
	if key == "" || unit == "" || !(item.Rate > 0) || math.IsInf(item.Rate, 1) {
		return Memory{}, false, nil
	}

	m, err := s.store.InsertSampleAndUpsertMemory(ctx, SampleInput{
		TenantID:       tenantID,
		NormalizedName: key,
		Unit:           unit,
		Category:       strings.TrimSpace(item.Category),
		Rate:           item.Rate,
	}, ComputeStats)
	s.metrics.Recorded(err)
	if err != nil {
		return Memory{}, false, fmt.Errorf("record sample %q/%s: %w", key, unit, err)
	}
	s.log.Debug("rate sample recorded",
		"tenant", tenantID, "key", key, "unit", unit,
		"rate", item.Rate, "samples", m.SampleCount, "median", m.MedianRate)
	return m, true, nil
}

// History returns the retained rates of a key, newest first.
func (s *Service) History(ctx context.Context, tenantID, lineName, unit string) ([]float64, error) {
	key := Normalize(lineName)
	unit = strings.TrimSpace(unit)
	if key == "" || unit == "" {
		return nil, nil
	}
	return s.store.FetchRecentSamples(ctx, tenantID, key, unit, SampleWindow)
}

func (s *Service) Memories(ctx context.Context, tenantID string) ([]Memory, error) {
	return s.store.ListRateMemories(ctx, tenantID)
}
