package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Spok95/quote-rates/internal/domain/quotes"
	"github.com/Spok95/quote-rates/internal/domain/rates"
)

type fakeRates struct {
	lastQuery rates.Query
	found     bool
}

func (f *fakeRates) Suggest(_ context.Context, q rates.Query) (rates.Suggestion, bool, error) {
	f.lastQuery = q
	if !f.found {
		return rates.Suggestion{}, false, nil
	}
	return rates.Suggestion{UnitRate: 45, Source: rates.SourceExact, Confidence: 85}, true, nil
}

func (f *fakeRates) Memories(context.Context, string) ([]rates.Memory, error) {
	return []rates.Memory{{NormalizedName: "fence post", Unit: "each", SampleCount: 3, MedianRate: 45}}, nil
}

type fakeQuotes struct {
	applyErr  error
	applyRep  quotes.ApplyReport
	oneErr    error
	oneTenant string
	recordRep quotes.RecordReport
	recordErr error
}

func (f *fakeQuotes) ApplyAll(context.Context, string, int64) (quotes.ApplyReport, error) {
	return f.applyRep, f.applyErr
}

func (f *fakeQuotes) ApplyOne(_ context.Context, tenantID string, lineID int64) (quotes.Line, error) {
	f.oneTenant = tenantID
	if f.oneErr != nil {
		return quotes.Line{}, f.oneErr
	}
	return quotes.Line{ID: lineID, UnitRate: 45}, nil
}

func (f *fakeQuotes) RecordQuote(context.Context, string, int64) (quotes.RecordReport, error) {
	return f.recordRep, f.recordErr
}

func (f *fakeQuotes) Totals(lines []quotes.LineInput, includeTax bool, taxRatePercent *float64) quotes.Totals {
	rate := 10.0
	if taxRatePercent != nil {
		rate = *taxRatePercent
	}
	return quotes.ComputeTotals(lines, includeTax, rate)
}

func newTestRouter(r *fakeRates, q *fakeQuotes) http.Handler {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewRouter(false, NewAPI(r, q, log), log)
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, rd))
	return rec
}

func TestHealth(t *testing.T) {
	rec := do(t, newTestRouter(&fakeRates{}, &fakeQuotes{}), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestTotals(t *testing.T) {
	h := newTestRouter(&fakeRates{}, &fakeQuotes{})

	rec := do(t, h, http.MethodPost, "/v1/totals", `{"lines":[{"name":"Paint","qty":2,"unitRate":15.005}]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var got quotes.Totals
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 30.01, got.SubTotal)
	assert.Equal(t, 3.0, got.TaxAmount)
	assert.Equal(t, 33.01, got.Total)
	require.Len(t, got.Lines, 1)
	assert.Equal(t, "General", got.Lines[0].Category)
	assert.Equal(t, "unit", got.Lines[0].Unit)
}

func TestTotals_OmittedQtyDefaultsToOne(t *testing.T) {
	h := newTestRouter(&fakeRates{}, &fakeQuotes{})

	rec := do(t, h, http.MethodPost, "/v1/totals", `{"includeTax":false,"lines":[{"name":"Paint","unitRate":10},{"name":"Primer","qty":0,"unitRate":5}]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var got quotes.Totals
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got.Lines, 2)
	assert.Equal(t, 1.0, got.Lines[0].Qty)
	assert.Equal(t, 10.0, got.Lines[0].LineTotal)
	assert.Equal(t, 0.0, got.Lines[1].Qty)
	assert.Equal(t, 10.0, got.Total)
}

func TestTotals_BadRequests(t *testing.T) {
	h := newTestRouter(&fakeRates{}, &fakeQuotes{})

	for name, body := range map[string]string{
		"invalid json": `{`,
		"missing name": `{"lines":[{"qty":1}]}`,
		"negative tax": `{"taxRatePercent":-1,"lines":[]}`,
	} {
		t.Run(name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/v1/totals", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestSuggest(t *testing.T) {
	r := &fakeRates{found: true}
	h := newTestRouter(r, &fakeQuotes{})

	rec := do(t, h, http.MethodGet, "/v1/tenants/acme/suggestions?name=Fence+Post&unit=each&category=Fencing", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, rates.Query{TenantID: "acme", LineName: "Fence Post", Unit: "each", Category: "Fencing"}, r.lastQuery)
	assert.JSONEq(t,
		`{"found":true,"suggestion":{"suggestedUnitRate":45,"rateSource":"exact","rateConfidence":85,"needsReview":false}}`,
		rec.Body.String())

	r.found = false
	rec = do(t, h, http.MethodGet, "/v1/tenants/acme/suggestions?name=x&unit=each", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"found":false}`, rec.Body.String())
}

func TestApplyAll(t *testing.T) {
	q := &fakeQuotes{applyRep: quotes.ApplyReport{QuoteID: 7, Stamped: 1}}
	h := newTestRouter(&fakeRates{}, q)

	rec := do(t, h, http.MethodPost, "/v1/tenants/acme/quotes/7/apply-suggestions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"stamped":1`)
	assert.NotContains(t, rec.Body.String(), `"errors"`)

	q.applyErr = errors.New("line 3: connection reset")
	rec = do(t, h, http.MethodPost, "/v1/tenants/acme/quotes/7/apply-suggestions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection reset")

	q.applyRep, q.applyErr = quotes.ApplyReport{}, quotes.ErrNotFound
	rec = do(t, h, http.MethodPost, "/v1/tenants/acme/quotes/7/apply-suggestions", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodPost, "/v1/tenants/acme/quotes/abc/apply-suggestions", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestApplyOne(t *testing.T) {
	q := &fakeQuotes{}
	h := newTestRouter(&fakeRates{}, q)

	rec := do(t, h, http.MethodPost, "/v1/tenants/acme/lines/5/apply-suggestion", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"unitRate":45`)
	assert.Equal(t, "acme", q.oneTenant)

	rec = do(t, h, http.MethodPost, "/v1/lines/5/apply-suggestion", "")
	assert.Equal(t, http.StatusNotFound, rec.Code, "line routes are tenant scoped")

	q.oneErr = quotes.ErrNoSuggestion
	rec = do(t, h, http.MethodPost, "/v1/tenants/acme/lines/5/apply-suggestion", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	q.oneErr = errors.New("boom")
	rec = do(t, h, http.MethodPost, "/v1/tenants/acme/lines/5/apply-suggestion", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal"}`, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/v1/tenants/acme/lines/0/apply-suggestion", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRecordQuote(t *testing.T) {
	q := &fakeQuotes{recordRep: quotes.RecordReport{Recorded: 2, Failed: 1}, recordErr: errors.New("line 4: write failed")}
	h := newTestRouter(&fakeRates{}, q)

	rec := do(t, h, http.MethodPost, "/v1/tenants/acme/quotes/7/record", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"recorded":2,"skipped":0,"failed":1}`, rec.Body.String())

	q.recordRep, q.recordErr = quotes.RecordReport{}, quotes.ErrNotFound
	rec = do(t, h, http.MethodPost, "/v1/tenants/acme/quotes/7/record", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestExportMemories(t *testing.T) {
	rec := do(t, newTestRouter(&fakeRates{}, &fakeQuotes{}), http.MethodGet, "/v1/tenants/acme/rate-memories.xlsx", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "rate_memory_acme_")
	assert.True(t, strings.HasPrefix(rec.Body.String(), "PK"), "xlsx is a zip archive")
}

func TestRecoverMiddleware(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := Recover(log)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") }))

	rec := do(t, h, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRequestIDPropagates(t *testing.T) {
	h := RequestID()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(GetRequestID(r)))
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "rid-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "rid-1", rec.Body.String())
	assert.Equal(t, "rid-1", rec.Header().Get("X-Request-ID"))
}
