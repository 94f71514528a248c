package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	global *Metrics
	once   sync.Once
)

// Metrics holds the pricing engine collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	SuggestionsTotal  *prometheus.CounterVec
	SuggestionMisses  prometheus.Counter
	LinesStamped      prometheus.Counter
	LinesAutoApplied  prometheus.Counter
	StampFailures     prometheus.Counter
	SamplesRecorded   prometheus.Counter
	RecordFailures    prometheus.Counter
	PrefetchDuration  prometheus.Histogram
	QuoteTotalsServed prometheus.Counter
}

// New registers the collectors once per process on the default registry.
//
// Metrics:
//   - quote_rates_suggestions_total{source}
//   - quote_rates_suggestion_misses_total
//   - quote_rates_lines_stamped_total
//   - quote_rates_lines_auto_applied_total
//   - quote_rates_stamp_failures_total
//   - quote_rates_samples_recorded_total
//   - quote_rates_record_failures_total
//   - quote_rates_prefetch_duration_seconds
//   - quote_rates_totals_computed_total
func New() *Metrics {
	once.Do(func() {
		global = &Metrics{
			SuggestionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "quote_rates_suggestions_total",
				Help: "Rate suggestions produced, by resolving tier",
			}, []string{"source"}),
			SuggestionMisses: promauto.NewCounter(prometheus.CounterOpts{
				Name: "quote_rates_suggestion_misses_total",
				Help: "Lookups that produced no suggestion",
			}),
			LinesStamped: promauto.NewCounter(prometheus.CounterOpts{
				Name: "quote_rates_lines_stamped_total",
				Help: "Quote lines annotated with a suggestion",
			}),
			LinesAutoApplied: promauto.NewCounter(prometheus.CounterOpts{
				Name: "quote_rates_lines_auto_applied_total",
				Help: "Quote lines whose rate was written from a suggestion",
			}),
			StampFailures: promauto.NewCounter(prometheus.CounterOpts{
				Name: "quote_rates_stamp_failures_total",
				Help: "Quote lines that failed to be stamped",
			}),
			SamplesRecorded: promauto.NewCounter(prometheus.CounterOpts{
				Name: "quote_rates_samples_recorded_total",
				Help: "Rate samples ingested",
			}),
			RecordFailures: promauto.NewCounter(prometheus.CounterOpts{
				Name: "quote_rates_record_failures_total",
				Help: "Rate samples that failed to be ingested",
			}),
			PrefetchDuration: promauto.NewHistogram(prometheus.HistogramOpts{
				Name:    "quote_rates_prefetch_duration_seconds",
				Help:    "Time spent loading rate memory snapshots",
				Buckets: prometheus.DefBuckets,
			}),
			QuoteTotalsServed: promauto.NewCounter(prometheus.CounterOpts{
				Name: "quote_rates_totals_computed_total",
				Help: "Quote totals computations",
			}),
		}
	})
	return global
}

func (m *Metrics) Suggested(source string) {
	if m == nil {
		return
	}
	m.SuggestionsTotal.WithLabelValues(source).Inc()
}

func (m *Metrics) Missed() {
	if m == nil {
		return
	}
	m.SuggestionMisses.Inc()
}

func (m *Metrics) Stamped(applied bool) {
	if m == nil {
		return
	}
	m.LinesStamped.Inc()
	if applied {
		m.LinesAutoApplied.Inc()
	}
}

func (m *Metrics) StampFailed() {
	if m == nil {
		return
	}
	m.StampFailures.Inc()
}

func (m *Metrics) Recorded(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.RecordFailures.Inc()
		return
	}
	m.SamplesRecorded.Inc()
}

func (m *Metrics) ObservePrefetch(start time.Time) {
	if m == nil {
		return
	}
	m.PrefetchDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) TotalsComputed() {
	if m == nil {
		return
	}
	m.QuoteTotalsServed.Inc()
}
