package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Spok95/quote-rates/internal/domain/quotes"
	"github.com/Spok95/quote-rates/internal/domain/rates"
	"github.com/Spok95/quote-rates/internal/report"
)

type RateService interface {
	Suggest(ctx context.Context, q rates.Query) (rates.Suggestion, bool, error)
	Memories(ctx context.Context, tenantID string) ([]rates.Memory, error)
}

type QuoteService interface {
	ApplyAll(ctx context.Context, tenantID string, quoteID int64) (quotes.ApplyReport, error)
	ApplyOne(ctx context.Context, tenantID string, lineID int64) (quotes.Line, error)
	RecordQuote(ctx context.Context, tenantID string, quoteID int64) (quotes.RecordReport, error)
	Totals(lines []quotes.LineInput, includeTax bool, taxRatePercent *float64) quotes.Totals
}

// API is the JSON surface the quote application calls into.
type API struct {
	rates  RateService
	quotes QuoteService
	log    *slog.Logger
}

func NewAPI(r RateService, q QuoteService, log *slog.Logger) *API {
	return &API{rates: r, quotes: q, log: log}
}

func (a *API) Routes(r chi.Router) {
	r.Post("/totals", a.totals)

	r.Route("/tenants/{tenantID}", func(r chi.Router) {
		r.Get("/suggestions", a.suggest)
		r.Get("/rate-memories.xlsx", a.exportMemories)
		r.Post("/quotes/{quoteID}/record", a.recordQuote)
		r.Post("/quotes/{quoteID}/apply-suggestions", a.applyAll)
		r.Post("/lines/{lineID}/apply-suggestion", a.applyOne)
	})
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, quotes.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
	case errors.Is(err, quotes.ErrNoSuggestion):
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error()})
	case errors.Is(err, quotes.ErrInvalidLine):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
	default:
		a.log.Error("request failed", "rid", GetRequestID(r), "path", r.URL.Path, "err", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal"})
	}
}

func idParam(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	return id, err == nil && id > 0
}

type suggestResponse struct {
	Found      bool              `json:"found"`
	Suggestion *rates.Suggestion `json:"suggestion,omitempty"`
}

func (a *API) suggest(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	s, ok, err := a.rates.Suggest(r.Context(), rates.Query{
		TenantID: chi.URLParam(r, "tenantID"),
		LineName: q.Get("name"),
		Unit:     q.Get("unit"),
		Category: q.Get("category"),
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	resp := suggestResponse{Found: ok}
	if ok {
		resp.Suggestion = &s
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) exportMemories(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	mems, err := a.rates.Memories(r.Context(), tenantID)
	if err != nil {
		a.fail(w, r, err)
		return
	}

	buf := &bytes.Buffer{}
	if err := report.WriteMemories(buf, mems); err != nil {
		a.fail(w, r, err)
		return
	}
	name := fmt.Sprintf("rate_memory_%s_%s.xlsx", tenantID, time.Now().Format("20060102_150405"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	_, _ = w.Write(buf.Bytes())
}

func (a *API) recordQuote(w http.ResponseWriter, r *http.Request) {
	quoteID, ok := idParam(r, "quoteID")
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid quote id"})
		return
	}
	rep, err := a.quotes.RecordQuote(r.Context(), chi.URLParam(r, "tenantID"), quoteID)
	if err != nil && rep == (quotes.RecordReport{}) {
		a.fail(w, r, err)
		return
	}
	if err != nil {
		a.log.Warn("record quote partially failed", "rid", GetRequestID(r), "quote_id", quoteID, "err", err)
	}
	writeJSON(w, http.StatusOK, rep)
}

type applyAllResponse struct {
	quotes.ApplyReport
	Errors []string `json:"errors,omitempty"`
}

func (a *API) applyAll(w http.ResponseWriter, r *http.Request) {
	quoteID, ok := idParam(r, "quoteID")
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid quote id"})
		return
	}
	rep, err := a.quotes.ApplyAll(r.Context(), chi.URLParam(r, "tenantID"), quoteID)
	if err != nil && rep.QuoteID == 0 {
		a.fail(w, r, err)
		return
	}
	resp := applyAllResponse{ApplyReport: rep}
	if err != nil {
		resp.Errors = []string{err.Error()}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) applyOne(w http.ResponseWriter, r *http.Request) {
	lineID, ok := idParam(r, "lineID")
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid line id"})
		return
	}
	l, err := a.quotes.ApplyOne(r.Context(), chi.URLParam(r, "tenantID"), lineID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

type totalsRequest struct {
	IncludeTax     *bool              `json:"includeTax"`
	TaxRatePercent *float64           `json:"taxRatePercent"`
	Lines          []quotes.LineInput `json:"lines"`
}

func (a *API) totals(w http.ResponseWriter, r *http.Request) {
	var req totalsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid json: " + err.Error()})
		return
	}

	lines := make([]quotes.LineInput, 0, len(req.Lines))
	for i, l := range req.Lines {
		in, err := quotes.CoerceLine(l)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: fmt.Sprintf("line %d: %v", i, err)})
			return
		}
		lines = append(lines, in)
	}
	if req.TaxRatePercent != nil && *req.TaxRatePercent < 0 {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "taxRatePercent must not be negative"})
		return
	}

	includeTax := true
	if req.IncludeTax != nil {
		includeTax = *req.IncludeTax
	}
	writeJSON(w, http.StatusOK, a.quotes.Totals(lines, includeTax, req.TaxRatePercent))
}
