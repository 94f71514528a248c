package sqlite

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Spok95/quote-rates/internal/domain/quotes"
	"github.com/Spok95/quote-rates/internal/domain/rates"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(context.Background(), filepath.Join(t.TempDir(), "rates.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestStore_ReopenKeepsSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rates.db")
	st, err := Open(context.Background(), path)
	require.NoError(t, err)
	require.NoError(t, st.Close())

	st, err = Open(context.Background(), path)
	require.NoError(t, err)
	require.NoError(t, st.Close())
}

func TestStore_InsertSampleAndUpsertMemory(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	in := rates.SampleInput{TenantID: "acme", NormalizedName: "fence post", Unit: "each", Rate: 40}
	m, err := st.InsertSampleAndUpsertMemory(ctx, in, rates.ComputeStats)
	require.NoError(t, err)
	assert.Equal(t, 1, m.SampleCount)
	assert.Equal(t, "", m.Category)

	in.Rate, in.Category = 50, "Fencing"
	_, err = st.InsertSampleAndUpsertMemory(ctx, in, rates.ComputeStats)
	require.NoError(t, err)

	in.Rate, in.Category = 45, "Other"
	m, err = st.InsertSampleAndUpsertMemory(ctx, in, rates.ComputeStats)
	require.NoError(t, err)
	assert.Equal(t, 3, m.SampleCount)
	assert.Equal(t, 45.0, m.MedianRate)
	assert.Equal(t, 40.0, m.MinRate)
	assert.Equal(t, 50.0, m.MaxRate)
	assert.Equal(t, 45.0, m.LastRate)
	assert.Equal(t, "Fencing", m.Category)
	assert.False(t, m.UpdatedAt.IsZero())

	samples, err := st.FetchRecentSamples(ctx, "acme", "fence post", "each", 10)
	require.NoError(t, err)
	assert.Equal(t, []float64{45, 50, 40}, samples)
}

func TestStore_WindowCapsAtFifty(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	var m rates.Memory
	for i := 1; i <= 55; i++ {
		var err error
		m, err = st.InsertSampleAndUpsertMemory(ctx, rates.SampleInput{
			TenantID: "acme", NormalizedName: "gravel", Unit: "t", Rate: float64(i),
		}, rates.ComputeStats)
		require.NoError(t, err)
	}
	assert.Equal(t, rates.SampleWindow, m.SampleCount)
	assert.Equal(t, 6.0, m.MinRate)
	assert.Equal(t, 55.0, m.MaxRate)
	assert.Equal(t, 30.5, m.MedianRate)
}

func TestStore_ConcurrentRecordsKeepCount(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	svc := rates.NewService(st, slog.New(slog.NewTextHandler(io.Discard, nil)), nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, err := svc.Record(ctx, "acme", rates.PricedItem{Name: "Fence Post", Unit: "each", Rate: float64(10 + i)})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	mems, err := st.FetchRateMemories(ctx, "acme", "each")
	require.NoError(t, err)
	require.Len(t, mems, 1)
	assert.Equal(t, 20, mems[0].SampleCount)
	assert.Equal(t, 10.0, mems[0].MinRate)
	assert.Equal(t, 29.0, mems[0].MaxRate)
}

func TestStore_FetchRateMemoriesScopes(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	for _, in := range []rates.SampleInput{
		{TenantID: "acme", NormalizedName: "rail", Unit: "m", Rate: 9},
		{TenantID: "acme", NormalizedName: "fence post", Unit: "each", Rate: 40},
		{TenantID: "acme", NormalizedName: "bracket", Unit: "each", Rate: 3},
		{TenantID: "globex", NormalizedName: "fence post", Unit: "each", Rate: 70},
	} {
		_, err := st.InsertSampleAndUpsertMemory(ctx, in, rates.ComputeStats)
		require.NoError(t, err)
	}

	mems, err := st.FetchRateMemories(ctx, "acme", "each")
	require.NoError(t, err)
	require.Len(t, mems, 2)
	assert.Equal(t, "bracket", mems[0].NormalizedName)
	assert.Equal(t, "fence post", mems[1].NormalizedName)

	all, err := st.ListRateMemories(ctx, "acme")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestStore_QuoteRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	id, err := st.CreateQuote(ctx, "acme", true, 10, []quotes.LineInput{
		{Name: "Fence Post", Category: "Fencing", Qty: 2, Unit: "each"},
		{Name: "Concrete", Qty: 1, Unit: "bag", UnitRate: 12.5},
	})
	require.NoError(t, err)

	q, err := st.GetQuote(ctx, "acme", id)
	require.NoError(t, err)
	assert.True(t, q.IncludeTax)
	assert.Equal(t, 10.0, q.TaxRatePercent)
	require.Len(t, q.Lines, 2)
	assert.Equal(t, "Fence Post", q.Lines[0].Name)
	assert.Equal(t, "acme", q.Lines[0].TenantID)
	assert.Nil(t, q.Lines[0].SuggestedUnitRate)
	assert.Nil(t, q.Lines[0].RateConfidence)
	assert.Equal(t, "General", q.Lines[1].Category)
	assert.Equal(t, 12.5, q.Lines[1].LineTotal)

	_, err = st.GetQuote(ctx, "globex", id)
	assert.ErrorIs(t, err, quotes.ErrNotFound)

	_, err = st.GetLine(ctx, 9999)
	assert.ErrorIs(t, err, quotes.ErrNotFound)

	_, err = st.CreateQuote(ctx, "acme", true, 10, []quotes.LineInput{{Name: " "}})
	assert.ErrorIs(t, err, quotes.ErrInvalidLine)
}

func TestStore_StampSuggestion(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	id, err := st.CreateQuote(ctx, "acme", true, 10, []quotes.LineInput{
		{Name: "Fence Post", Qty: 2, Unit: "each"},
		{Name: "Rail", Qty: 3, Unit: "each"},
	})
	require.NoError(t, err)
	q, err := st.GetQuote(ctx, "acme", id)
	require.NoError(t, err)

	post, rail := q.Lines[0], q.Lines[1]
	require.NoError(t, st.StampSuggestion(ctx, post.ID,
		quotes.NewStamp(post, rates.Suggestion{UnitRate: 45, Source: rates.SourceExact, Confidence: 85}, true)))
	require.NoError(t, st.StampSuggestion(ctx, rail.ID,
		quotes.NewStamp(rail, rates.Suggestion{UnitRate: 9, Source: rates.SourceCategory, Confidence: 60, NeedsReview: true}, false)))

	got, err := st.GetLine(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, 45.0, got.UnitRate)
	assert.Equal(t, 90.0, got.LineTotal)
	assert.Equal(t, "exact", got.RateSource)
	assert.False(t, got.NeedsReview)

	got, err = st.GetLine(ctx, rail.ID)
	require.NoError(t, err)
	assert.Zero(t, got.UnitRate)
	assert.Zero(t, got.LineTotal)
	require.NotNil(t, got.SuggestedUnitRate)
	assert.Equal(t, 9.0, *got.SuggestedUnitRate)
	require.NotNil(t, got.RateConfidence)
	assert.Equal(t, 60, *got.RateConfidence)
	assert.True(t, got.NeedsReview)

	assert.ErrorIs(t, st.StampSuggestion(ctx, 9999, quotes.Stamp{}), quotes.ErrNotFound)
}

func TestStore_EndToEnd(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	rateSvc := rates.NewService(st, log, nil)
	quoteSvc := quotes.NewService(st, rateSvc, log, nil, 10)

	for _, rate := range []float64{40, 45, 50} {
		id, err := st.CreateQuote(ctx, "acme", true, 10, []quotes.LineInput{
			{Name: "Fence post", Category: "Fencing", Qty: 1, Unit: "each", UnitRate: rate},
		})
		require.NoError(t, err)
		rep, err := quoteSvc.RecordQuote(ctx, "acme", id)
		require.NoError(t, err)
		require.Equal(t, 1, rep.Recorded)
	}

	id, err := st.CreateQuote(ctx, "acme", true, 10, []quotes.LineInput{
		{Name: "FENCE POST", Category: "Fencing", Qty: 10, Unit: "each"},
		{Name: "Fence post install", Category: "Fencing", Qty: 1, Unit: "each"},
	})
	require.NoError(t, err)

	rep, err := quoteSvc.ApplyAll(ctx, "acme", id)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Stamped)
	assert.Equal(t, 1, rep.AutoApplied)

	post := rep.Lines[0]
	assert.Equal(t, 45.0, post.UnitRate)
	assert.Equal(t, 450.0, post.LineTotal)
	assert.Equal(t, 85, *post.RateConfidence)
	assert.Equal(t, "exact", post.RateSource)

	install := rep.Lines[1]
	assert.Zero(t, install.UnitRate)
	assert.Equal(t, "similar", install.RateSource)
	assert.Equal(t, 67, *install.RateConfidence)
	assert.True(t, install.NeedsReview)

	assert.Equal(t, 450.0, rep.Totals.SubTotal)
	assert.Equal(t, 495.0, rep.Totals.Total)

	stored, err := st.GetLine(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, 45.0, stored.UnitRate)
}

func TestStore_ConditionalStampLeavesPricedLine(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	id, err := st.CreateQuote(ctx, "acme", true, 10, []quotes.LineInput{{Name: "Fence Post", Qty: 2, Unit: "each"}})
	require.NoError(t, err)
	q, err := st.GetQuote(ctx, "acme", id)
	require.NoError(t, err)
	line := q.Lines[0]

	_, err = st.conn.ExecContext(ctx, `UPDATE quote_lines SET unit_rate = 99, line_total = 198 WHERE id = ?`, line.ID)
	require.NoError(t, err)

	stamp := quotes.NewStamp(line, rates.Suggestion{UnitRate: 45, Source: rates.SourceExact, Confidence: 85}, true)
	stamp.OnlyIfUnpriced = true
	assert.ErrorIs(t, st.StampSuggestion(ctx, line.ID, stamp), quotes.ErrLinePriced)

	got, err := st.GetLine(ctx, line.ID)
	require.NoError(t, err)
	assert.Equal(t, 99.0, got.UnitRate)
	assert.Nil(t, got.SuggestedUnitRate)

	assert.ErrorIs(t, st.StampSuggestion(ctx, 9999, stamp), quotes.ErrNotFound)

	stamp.OnlyIfUnpriced = false
	require.NoError(t, st.StampSuggestion(ctx, line.ID, stamp))
	got, err = st.GetLine(ctx, line.ID)
	require.NoError(t, err)
	assert.Equal(t, 45.0, got.UnitRate)
}

// pricingAdvisor saves a user price on one line right after the batch has
// read the quote.
type pricingAdvisor struct {
	*rates.Service
	st     *Store
	lineID int64
	rate   float64
}

func (a pricingAdvisor) Prefetch(ctx context.Context, tenantID string, units []string) (*rates.Snapshot, error) {
	if _, err := a.st.conn.ExecContext(ctx, `UPDATE quote_lines SET unit_rate = ? WHERE id = ?`, a.rate, a.lineID); err != nil {
		return nil, err
	}
	return a.Service.Prefetch(ctx, tenantID, units)
}

func TestStore_ApplyAllKeepsPriceSavedMidBatch(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	rateSvc := rates.NewService(st, log, nil)

	for _, rate := range []float64{40, 45, 50} {
		_, _, err := rateSvc.Record(ctx, "acme", rates.PricedItem{Name: "Fence post", Unit: "each", Rate: rate})
		require.NoError(t, err)
	}
	id, err := st.CreateQuote(ctx, "acme", true, 10, []quotes.LineInput{{Name: "Fence post", Qty: 1, Unit: "each"}})
	require.NoError(t, err)
	q, err := st.GetQuote(ctx, "acme", id)
	require.NoError(t, err)

	advisor := pricingAdvisor{Service: rateSvc, st: st, lineID: q.Lines[0].ID, rate: 99}
	rep, err := quotes.NewService(st, advisor, log, nil, 10).ApplyAll(ctx, "acme", id)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Skipped)
	assert.Zero(t, rep.Stamped)
	assert.Equal(t, 99.0, rep.Lines[0].UnitRate)

	got, err := st.GetLine(ctx, q.Lines[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 99.0, got.UnitRate)
}

func TestStore_WindowFollowsInsertOrder(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	// a clock that runs backwards must not reorder the window
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	st.now = func() time.Time {
		clock = clock.Add(-time.Minute)
		return clock
	}

	var m rates.Memory
	for _, rate := range []float64{10, 20, 30} {
		var err error
		m, err = st.InsertSampleAndUpsertMemory(ctx, rates.SampleInput{
			TenantID: "acme", NormalizedName: "gravel", Unit: "t", Rate: rate,
		}, rates.ComputeStats)
		require.NoError(t, err)
	}
	assert.Equal(t, 30.0, m.LastRate)

	samples, err := st.FetchRecentSamples(ctx, "acme", "gravel", "t", 2)
	require.NoError(t, err)
	assert.Equal(t, []float64{30, 20}, samples)
}
