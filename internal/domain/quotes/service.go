package quotes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Spok95/quote-rates/internal/domain/rates"
	"github.com/Spok95/quote-rates/internal/infra/metrics"
)

// AutoApplyConfidence is the confidence from which a batch run writes the
// suggestion into the line's price.
const AutoApplyConfidence = 85

// Store is the quote-line boundary. Quotes are owned elsewhere; this
// package reads lines and stamps suggestions onto them.
type Store interface {
	GetQuote(ctx context.Context, tenantID string, quoteID int64) (Quote, error)
	GetLine(ctx context.Context, lineID int64) (Line, error)
	StampSuggestion(ctx context.Context, lineID int64, st Stamp) error
}

type RateAdvisor interface {
	Prefetch(ctx context.Context, tenantID string, units []string) (*rates.Snapshot, error)
	Record(ctx context.Context, tenantID string, item rates.PricedItem) (rates.Memory, bool, error)
}

type Service struct {
	store   Store
	rates   RateAdvisor
	log     *slog.Logger
	metrics *metrics.Metrics
	taxRate float64
}

func NewService(store Store, advisor RateAdvisor, log *slog.Logger, m *metrics.Metrics, defaultTaxRate float64) *Service {
	if defaultTaxRate < 0 {
		defaultTaxRate = DefaultTaxRatePercent
	}
	return &Service{store: store, rates: advisor, log: log, metrics: m, taxRate: defaultTaxRate}
}

func (s *Service) DefaultTaxRate() float64 { return s.taxRate }

// Totals is the preview path; it runs the same calculator as ApplyAll.
func (s *Service) Totals(lines []LineInput, includeTax bool, taxRatePercent *float64) Totals {
	rate := s.taxRate
	if taxRatePercent != nil {
		rate = *taxRatePercent
	}
	s.metrics.TotalsComputed()
	return ComputeTotals(lines, includeTax, rate)
}

// ApplyAll resolves a suggestion for every unpriced line of the quote.
// Each found suggestion is stamped; it also becomes the price when its
// confidence reaches AutoApplyConfidence. Lines are written one by one and a
// failing line does not undo or stop the others; failures come back joined.
func (s *Service) ApplyAll(ctx context.Context, tenantID string, quoteID int64) (ApplyReport, error) {
	q, err := s.store.GetQuote(ctx, tenantID, quoteID)
	if err != nil {
		return ApplyReport{}, err
	}
	rep := ApplyReport{QuoteID: q.ID}

	var units []string
	for _, l := range q.Lines {
		if !(l.UnitRate > 0) {
			units = append(units, l.Unit)
		}
	}

	var errs []error
	if len(units) > 0 {
		snap, err := s.rates.Prefetch(ctx, tenantID, units)
		if err != nil {
			return ApplyReport{}, err
		}

		for i := range q.Lines {
			l := &q.Lines[i]
			if l.UnitRate > 0 {
				rep.Skipped++
				continue
			}
			sg, ok := snap.Suggest(l.Name, l.Unit, l.Category)
			if !ok {
				rep.Unmatched++
				continue
			}

			st := NewStamp(*l, sg, sg.Confidence >= AutoApplyConfidence)
			st.OnlyIfUnpriced = true
			err := s.store.StampSuggestion(ctx, l.ID, st)
			if errors.Is(err, ErrLinePriced) {
				// priced after GetQuote; report what is stored now
				rep.Skipped++
				if fresh, err := s.store.GetLine(ctx, l.ID); err == nil {
					*l = fresh
				}
				continue
			}
			if err != nil {
				rep.Failed++
				s.metrics.StampFailed()
				s.log.Warn("stamp suggestion failed", "quote_id", q.ID, "line_id", l.ID, "err", err)
				errs = append(errs, fmt.Errorf("line %d: %w", l.ID, err))
				continue
			}
			st.applyTo(l)
			rep.Stamped++
			if st.AppliedUnitRate != nil {
				rep.AutoApplied++
			}
			s.metrics.Stamped(st.AppliedUnitRate != nil)
		}
	} else {
		rep.Skipped = len(q.Lines)
	}

	rep.Lines = q.Lines
	rep.Totals = ComputeTotals(Inputs(q.Lines), q.IncludeTax, q.TaxRatePercent)
	s.metrics.TotalsComputed()

	s.log.Info("suggestions applied",
		"tenant", tenantID, "quote_id", q.ID,
		"stamped", rep.Stamped, "auto_applied", rep.AutoApplied,
		"unmatched", rep.Unmatched, "failed", rep.Failed)
	return rep, errors.Join(errs...)
}

// ApplyOne is the explicit user action: the suggestion for the line becomes
// its price whatever the confidence. When history no longer yields anything,
// the suggestion stamped earlier is used. Lines of other tenants are
// reported as ErrNotFound.
func (s *Service) ApplyOne(ctx context.Context, tenantID string, lineID int64) (Line, error) {
	l, err := s.store.GetLine(ctx, lineID)
	if err != nil {
		return Line{}, err
	}
	if l.TenantID != tenantID {
		return Line{}, ErrNotFound
	}

	snap, err := s.rates.Prefetch(ctx, l.TenantID, []string{l.Unit})
	if err != nil {
		return Line{}, err
	}
	sg, ok := snap.Suggest(l.Name, l.Unit, l.Category)
	if !ok {
		if l.SuggestedUnitRate == nil || *l.SuggestedUnitRate <= 0 {
			return Line{}, ErrNoSuggestion
		}
		sg = rates.Suggestion{UnitRate: *l.SuggestedUnitRate, Source: rates.Source(l.RateSource)}
		if l.RateConfidence != nil {
			sg.Confidence = *l.RateConfidence
		}
	}

	st := NewStamp(l, sg, true)
	if err := s.store.StampSuggestion(ctx, l.ID, st); err != nil {
		s.metrics.StampFailed()
		return Line{}, fmt.Errorf("line %d: %w", l.ID, err)
	}
	s.metrics.Stamped(true)
	st.applyTo(&l)
	return l, nil
}

// RecordQuote feeds every priced line of a saved quote into the rate memory.
// Each line is its own atomic write; a failure is reported and the rest
// carry on.
func (s *Service) RecordQuote(ctx context.Context, tenantID string, quoteID int64) (RecordReport, error) {
	q, err := s.store.GetQuote(ctx, tenantID, quoteID)
	if err != nil {
		return RecordReport{}, err
	}

	var (
		rep  RecordReport
		errs []error
	)
	for _, l := range q.Lines {
		_, ok, err := s.rates.Record(ctx, tenantID, rates.PricedItem{
			Name:     l.Name,
			Unit:     l.Unit,
			Category: l.Category,
			Rate:     l.UnitRate,
		})
		switch {
		case err != nil:
			rep.Failed++
			s.log.Warn("record rate sample failed", "quote_id", q.ID, "line_id", l.ID, "err", err)
			errs = append(errs, fmt.Errorf("line %d: %w", l.ID, err))
		case ok:
			rep.Recorded++
		default:
			rep.Skipped++
		}
	}
	return rep, errors.Join(errs...)
}
