package rates

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repo struct{ pool *pgxpool.Pool }

func NewRepo(pool *pgxpool.Pool) *Repo { return &Repo{pool: pool} }

const memoryColumns = `id, tenant_id, normalized_name, unit, category, last_rate, sample_count,
	median_rate, min_rate, max_rate, updated_at`

func scanMemory(row pgx.Row) (Memory, error) {
	var m Memory
	err := row.Scan(&m.ID, &m.TenantID, &m.NormalizedName, &m.Unit, &m.Category, &m.LastRate,
		&m.SampleCount, &m.MedianRate, &m.MinRate, &m.MaxRate, &m.UpdatedAt)
	return m, err
}

func (r *Repo) FetchRateMemories(ctx context.Context, tenantID, unit string) ([]Memory, error) {
	return r.listMemories(ctx, `
		SELECT `+memoryColumns+`
		FROM rate_memories
		WHERE tenant_id=$1 AND unit=$2 AND sample_count > 0
		ORDER BY normalized_name ASC
	`, tenantID, unit)
}

func (r *Repo) ListRateMemories(ctx context.Context, tenantID string) ([]Memory, error) {
	return r.listMemories(ctx, `
		SELECT `+memoryColumns+`
		FROM rate_memories
		WHERE tenant_id=$1
		ORDER BY unit ASC, normalized_name ASC
	`, tenantID)
}

func (r *Repo) listMemories(ctx context.Context, q string, args ...any) ([]Memory, error) {
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Memory{}
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *Repo) FetchRecentSamples(ctx context.Context, tenantID, normalizedName, unit string, limit int) ([]float64, error) {
	return recentSamples(ctx, r.pool, tenantID, normalizedName, unit, limit)
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func recentSamples(ctx context.Context, q querier, tenantID, normalizedName, unit string, limit int) ([]float64, error) {
	if limit <= 0 || limit > SampleWindow {
		limit = SampleWindow
	}
	rows, err := q.Query(ctx, `
		SELECT rate
		FROM rate_samples
		WHERE tenant_id=$1 AND normalized_name=$2 AND unit=$3
		ORDER BY id DESC
		LIMIT $4
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

// InsertSampleAndUpsertMemory serializes writers of the same key with a
// transaction-scoped advisory lock, so the recompute always sees every
// committed sample of the key. Ids are drawn under the lock, which makes id
// order the insertion order of the key.
func (r *Repo) InsertSampleAndUpsertMemory(ctx context.Context, in SampleInput, recompute RecomputeFunc) (Memory, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Memory{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err = tx.Exec(ctx,
		`SELECT pg_advisory_xact_lock(hashtextextended($1 || chr(31) || $2 || chr(31) || $3, 0))`,
		in.TenantID, in.NormalizedName, in.Unit); err != nil {
		return Memory{}, err
	}

	if _, err = tx.Exec(ctx, `
		INSERT INTO rate_samples (tenant_id, normalized_name, unit, rate, created_at)
		VALUES ($1,$2,$3,$4, clock_timestamp())
	`, in.TenantID, in.NormalizedName, in.Unit, in.Rate); err != nil {
		return Memory{}, err
	}

	window, err := recentSamples(ctx, tx, in.TenantID, in.NormalizedName, in.Unit, SampleWindow)
	if err != nil {
		return Memory{}, err
	}
	st := recompute(window)

	// category sticks to the first non-empty value seen for the key
	m, err := scanMemory(tx.QueryRow(ctx, `
		INSERT INTO rate_memories
			(tenant_id, normalized_name, unit, category, last_rate, sample_count, median_rate, min_rate, max_rate)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (tenant_id, normalized_name, unit)
		DO UPDATE SET
			category     = CASE WHEN rate_memories.category = '' THEN EXCLUDED.category ELSE rate_memories.category END,
			last_rate    = EXCLUDED.last_rate,
			sample_count = EXCLUDED.sample_count,
			median_rate  = EXCLUDED.median_rate,
			min_rate     = EXCLUDED.min_rate,
			max_rate     = EXCLUDED.max_rate,
			updated_at   = NOW()
		RETURNING `+memoryColumns,
		in.TenantID, in.NormalizedName, in.Unit, in.Category, in.Rate,
		st.SampleCount, st.Median, st.Min, st.Max))
	if err != nil {
		return Memory{}, err
	}

	return m, tx.Commit(ctx)
}
