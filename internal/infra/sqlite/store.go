// Package sqlite is the embedded single-file store. It implements the rate
// memory and quote-line boundaries on top of modernc.org/sqlite, with the
// schema managed by goose from embedded migrations.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/Spok95/quote-rates/internal/domain/quotes"
	"github.com/Spok95/quote-rates/internal/domain/rates"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

type Store struct {
	conn *sql.DB
	now  func() time.Time
}

// Open opens (creating if needed) the database file and applies pending
// migrations. A single connection keeps writers serialized.
func Open(ctx context.Context, path string) (*Store, error) {
	conn, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	conn.SetMaxOpenConns(1)

	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	sub, err := fs.Sub(migrationFS, "migrations")
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("migrations sub-fs: %w", err)
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, conn, sub)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("create migration provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	return &Store{conn: conn, now: time.Now}, nil
}

func (s *Store) Close() error { return s.conn.Close() }

/* rate memory */

const memoryColumns = `id, tenant_id, normalized_name, unit, category, last_rate, sample_count,
	median_rate, min_rate, max_rate, updated_at`

type scanner interface{ Scan(dest ...any) error }

func scanMemory(row scanner) (rates.Memory, error) {
	var (
		m  rates.Memory
		ts int64
	)
	if err := row.Scan(&m.ID, &m.TenantID, &m.NormalizedName, &m.Unit, &m.Category, &m.LastRate,
		&m.SampleCount, &m.MedianRate, &m.MinRate, &m.MaxRate, &ts); err != nil {
		return rates.Memory{}, err
	}
	m.UpdatedAt = time.Unix(0, ts).UTC()
	return m, nil
}

func (s *Store) FetchRateMemories(ctx context.Context, tenantID, unit string) ([]rates.Memory, error) {
	return s.listMemories(ctx, `
		SELECT `+memoryColumns+`
		FROM rate_memories
		WHERE tenant_id = ? AND unit = ? AND sample_count > 0
		ORDER BY normalized_name ASC
	`, tenantID, unit)
}

func (s *Store) ListRateMemories(ctx context.Context, tenantID string) ([]rates.Memory, error) {
	return s.listMemories(ctx, `
		SELECT `+memoryColumns+`
		FROM rate_memories
		WHERE tenant_id = ?
		ORDER BY unit ASC, normalized_name ASC
	`, tenantID)
}

func (s *Store) listMemories(ctx context.Context, q string, args ...any) ([]rates.Memory, error) {
	rows, err := s.conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []rates.Memory{}
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func recentSamples(ctx context.Context, q queryer, tenantID, normalizedName, unit string, limit int) ([]float64, error) {
	if limit <= 0 || limit > rates.SampleWindow {
		limit = rates.SampleWindow
	}
	rows, err := q.QueryContext(ctx, `
		SELECT rate
		FROM rate_samples
		WHERE tenant_id = ? AND normalized_name = ? AND unit = ?
		ORDER BY id DESC
		LIMIT ?
	`, tenantID, normalizedName, unit, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]float64, 0, limit)
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *Store) FetchRecentSamples(ctx context.Context, tenantID, normalizedName, unit string, limit int) ([]float64, error) {
	return recentSamples(ctx, s.conn, tenantID, normalizedName, unit, limit)
}

func (s *Store) InsertSampleAndUpsertMemory(ctx context.Context, in rates.SampleInput, recompute rates.RecomputeFunc) (rates.Memory, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return rates.Memory{}, err
	}
	defer func() { _ = tx.Rollback() }()

	now := s.now().UnixNano()
	if _, err = tx.ExecContext(ctx, `
		INSERT INTO rate_samples (tenant_id, normalized_name, unit, rate, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, in.TenantID, in.NormalizedName, in.Unit, in.Rate, now); err != nil {
		return rates.Memory{}, err
	}

	window, err := recentSamples(ctx, tx, in.TenantID, in.NormalizedName, in.Unit, rates.SampleWindow)
	if err != nil {
		return rates.Memory{}, err
	}
	st := recompute(window)

	m, err := scanMemory(tx.QueryRowContext(ctx, `
		INSERT INTO rate_memories
			(tenant_id, normalized_name, unit, category, last_rate, sample_count, median_rate, min_rate, max_rate, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, normalized_name, unit)
		DO UPDATE SET
			category     = CASE WHEN rate_memories.category = '' THEN excluded.category ELSE rate_memories.category END,
			last_rate    = excluded.last_rate,
			sample_count = excluded.sample_count,
			median_rate  = excluded.median_rate,
			min_rate     = excluded.min_rate,
			max_rate     = excluded.max_rate,
			updated_at   = excluded.updated_at
		RETURNING `+memoryColumns,
		in.TenantID, in.NormalizedName, in.Unit, in.Category, in.Rate,
		st.SampleCount, st.Median, st.Min, st.Max, now))
	if err != nil {
		return rates.Memory{}, err
	}

	return m, tx.Commit()
}

/* quote lines */

const lineColumns = `l.id, l.quote_id, q.tenant_id, l.position, l.name, l.category, l.qty, l.unit,
	l.unit_rate, l.line_total, l.suggested_unit_rate, COALESCE(l.rate_source, ''), l.rate_confidence, l.needs_review`

func scanLine(row scanner) (quotes.Line, error) {
	var l quotes.Line
	err := row.Scan(&l.ID, &l.QuoteID, &l.TenantID, &l.Position, &l.Name, &l.Category, &l.Qty, &l.Unit,
		&l.UnitRate, &l.LineTotal, &l.SuggestedUnitRate, &l.RateSource, &l.RateConfidence, &l.NeedsReview)
	return l, err
}

func (s *Store) GetQuote(ctx context.Context, tenantID string, quoteID int64) (quotes.Quote, error) {
	var q quotes.Quote
	err := s.conn.QueryRowContext(ctx, `
		SELECT id, tenant_id, include_tax, tax_rate_percent
		FROM quotes
		WHERE id = ? AND tenant_id = ?
	`, quoteID, tenantID).Scan(&q.ID, &q.TenantID, &q.IncludeTax, &q.TaxRatePercent)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return quotes.Quote{}, quotes.ErrNotFound
		}
		return quotes.Quote{}, err
	}

	rows, err := s.conn.QueryContext(ctx, `
		SELECT `+lineColumns+`
		FROM quote_lines l
		JOIN quotes q ON q.id = l.quote_id
		WHERE l.quote_id = ?
		ORDER BY l.position ASC, l.id ASC
	`, quoteID)
	if err != nil {
		return quotes.Quote{}, err
	}
	defer rows.Close()

	for rows.Next() {
		l, err := scanLine(rows)
		if err != nil {
			return quotes.Quote{}, err
		}
		q.Lines = append(q.Lines, l)
	}
	return q, rows.Err()
}

func (s *Store) GetLine(ctx context.Context, lineID int64) (quotes.Line, error) {
	l, err := scanLine(s.conn.QueryRowContext(ctx, `
		SELECT `+lineColumns+`
		FROM quote_lines l
		JOIN quotes q ON q.id = l.quote_id
		WHERE l.id = ?
	`, lineID))
	if errors.Is(err, sql.ErrNoRows) {
		return quotes.Line{}, quotes.ErrNotFound
	}
	return l, err
}

func (s *Store) StampSuggestion(ctx context.Context, lineID int64, st quotes.Stamp) error {
	res, err := s.conn.ExecContext(ctx, `
		UPDATE quote_lines SET
			suggested_unit_rate = ?,
			rate_source         = ?,
			rate_confidence     = ?,
			needs_review        = ?,
			unit_rate           = COALESCE(?, unit_rate),
			line_total          = CASE WHEN ? IS NULL THEN line_total ELSE ? END
		WHERE id = ? AND (NOT ? OR unit_rate = 0)
	`, st.SuggestedUnitRate, string(st.RateSource), st.RateConfidence, st.NeedsReview,
		st.AppliedUnitRate, st.AppliedUnitRate, st.LineTotal, lineID, st.OnlyIfUnpriced)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	if st.OnlyIfUnpriced {
		var one int
		err := s.conn.QueryRowContext(ctx, `SELECT 1 FROM quote_lines WHERE id = ?`, lineID).Scan(&one)
		if err == nil {
			return quotes.ErrLinePriced
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}
	}
	return quotes.ErrNotFound
}

// CreateQuote inserts a quote with its lines, coercing each line first. It
// serves imports and fixtures; quote authoring proper lives outside this
// service.
func (s *Store) CreateQuote(ctx context.Context, tenantID string, includeTax bool, taxRatePercent float64, lines []quotes.LineInput) (int64, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO quotes (tenant_id, include_tax, tax_rate_percent) VALUES (?, ?, ?)
	`, tenantID, includeTax, taxRatePercent)
	if err != nil {
		return 0, err
	}
	quoteID, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	for i, raw := range lines {
		in, err := quotes.CoerceLine(raw)
		if err != nil {
			return 0, fmt.Errorf("line %d: %w", i, err)
		}
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO quote_lines (quote_id, position, name, category, qty, unit, unit_rate, line_total)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, quoteID, i, in.Name, in.Category, in.Qty, in.Unit, in.UnitRate,
			quotes.CalculateLineTotal(in.Qty, in.UnitRate)); err != nil {
			return 0, err
		}
	}
	return quoteID, tx.Commit()
}
