package quotes

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repo struct{ pool *pgxpool.Pool }

func NewRepo(pool *pgxpool.Pool) *Repo { return &Repo{pool: pool} }

const lineColumns = `l.id, l.quote_id, q.tenant_id, l.position, l.name, l.category, l.qty, l.unit,
	l.unit_rate, l.line_total, l.suggested_unit_rate, COALESCE(l.rate_source,''), l.rate_confidence, l.needs_review`

func scanLine(row pgx.Row) (Line, error) {
	var l Line
	err := row.Scan(&l.ID, &l.QuoteID, &l.TenantID, &l.Position, &l.Name, &l.Category, &l.Qty, &l.Unit,
		&l.UnitRate, &l.LineTotal, &l.SuggestedUnitRate, &l.RateSource, &l.RateConfidence, &l.NeedsReview)
	return l, err
}

// GetQuote loads the quote header and its lines. Quotes of other tenants are
// reported as ErrNotFound.
func (r *Repo) GetQuote(ctx context.Context, tenantID string, quoteID int64) (Quote, error) {
	var q Quote
	err := r.pool.QueryRow(ctx, `
		SELECT id, tenant_id, include_tax, tax_rate_percent
		FROM quotes
		WHERE id=$1 AND tenant_id=$2
	`, quoteID, tenantID).Scan(&q.ID, &q.TenantID, &q.IncludeTax, &q.TaxRatePercent)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Quote{}, ErrNotFound
		}
		return Quote{}, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+lineColumns+`
		FROM quote_lines l
		JOIN quotes q ON q.id = l.quote_id
		WHERE l.quote_id=$1
		ORDER BY l.position ASC, l.id ASC
	`, quoteID)
	if err != nil {
		return Quote{}, err
	}
	defer rows.Close()

	for rows.Next() {
		l, err := scanLine(rows)
		if err != nil {
			return Quote{}, err
		}
		q.Lines = append(q.Lines, l)
	}
	return q, rows.Err()
}

func (r *Repo) GetLine(ctx context.Context, lineID int64) (Line, error) {
	l, err := scanLine(r.pool.QueryRow(ctx, `
		SELECT `+lineColumns+`
		FROM quote_lines l
		JOIN quotes q ON q.id = l.quote_id
		WHERE l.id=$1
	`, lineID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Line{}, ErrNotFound
	}
	return l, err
}

func (r *Repo) StampSuggestion(ctx context.Context, lineID int64, st Stamp) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE quote_lines SET
			suggested_unit_rate = $2,
			rate_source         = $3,
			rate_confidence     = $4,
			needs_review        = $5,
			unit_rate           = COALESCE($6, unit_rate),
			line_total          = CASE WHEN $6::numeric IS NULL THEN line_total ELSE $7 END
		WHERE id=$1 AND (NOT $8 OR unit_rate = 0)
	`, lineID, st.SuggestedUnitRate, string(st.RateSource), st.RateConfidence, st.NeedsReview,
		st.AppliedUnitRate, st.LineTotal, st.OnlyIfUnpriced)
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	if st.OnlyIfUnpriced {
		var exists bool
		if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM quote_lines WHERE id=$1)`, lineID).Scan(&exists); err != nil {
			return err
		}
		if exists {
			return ErrLinePriced
		}
	}
	return ErrNotFound
}
