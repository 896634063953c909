package contingency

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"time"

	"github.com/boddenberg/pdv-fiscal-go/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Connect opens a pgx pool and checks it with a ping.
func Connect(ctx context.Context, url string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, err
	}
	cfg.MaxConns = 10
	cfg.HealthCheckPeriod = 30 * time.Second
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// Migrate applies the contingency table migrations.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return err
	}
	provider, err := goose.NewProvider(goose.DialectPostgres, db, fsys)
	if err != nil {
		return fmt.Errorf("goose provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	return nil
}

// Postgres keeps the queue in the fiscal_contingency table, ordered by seq.
type Postgres struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewPostgres creates a queue over an already migrated database.
func NewPostgres(pool *pgxpool.Pool, now func() time.Time) *Postgres {
	if now == nil {
		now = time.Now
	}
	return &Postgres{pool: pool, now: now}
}

func (q *Postgres) Enqueue(ctx context.Context, reference, payload string, reason *string) (domain.ContingencyRecord, error) {
	record := domain.ContingencyRecord{
		Reference: reference,
		Payload:   payload,
		CreatedAt: q.now().UTC(),
		Reason:    reason,
	}
	_, err := q.pool.Exec(ctx, `
		INSERT INTO fiscal_contingency (reference, payload, reason, created_at)
		VALUES ($1, $2, $3, $4)
	`, record.Reference, record.Payload, record.Reason, record.CreatedAt)
	if err != nil {
		return domain.ContingencyRecord{}, &domain.ErrQueue{Op: "enqueue", Err: err}
	}
	return record, nil
}

func (q *Postgres) Pending(ctx context.Context) ([]domain.ContingencyRecord, error) {
	rows, err := q.pool.Query(ctx, `
		SELECT seq, reference, payload, reason, created_at
		FROM fiscal_contingency
		ORDER BY seq
	`)
	if err != nil {
		return nil, &domain.ErrQueue{Op: "pending", Err: err}
	}
	out, err := collect(rows)
	if err != nil {
		return nil, &domain.ErrQueue{Op: "pending", Err: err}
	}
	return out, nil
}

// Flush deletes every row in a single statement; rows committed after the
// statement's snapshot stay pending.
func (q *Postgres) Flush(ctx context.Context) ([]domain.ContingencyRecord, error) {
	rows, err := q.pool.Query(ctx, `
		DELETE FROM fiscal_contingency
		RETURNING seq, reference, payload, reason, created_at
	`)
	if err != nil {
		return nil, &domain.ErrQueue{Op: "flush", Err: err}
	}
	out, err := collect(rows)
	if err != nil {
		return nil, &domain.ErrQueue{Op: "flush", Err: err}
	}
	return out, nil
}

func (q *Postgres) Remove(ctx context.Context, reference string) (bool, error) {
	tag, err := q.pool.Exec(ctx, `
		DELETE FROM fiscal_contingency
		WHERE seq = (
			SELECT seq FROM fiscal_contingency
			WHERE reference = $1
			ORDER BY seq
			LIMIT 1
		)
	`, reference)
	if err != nil {
		return false, &domain.ErrQueue{Op: "remove", Err: err}
	}
	return tag.RowsAffected() > 0, nil
}

func (q *Postgres) Len(ctx context.Context) (int, error) {
	var n int
	if err := q.pool.QueryRow(ctx, `SELECT count(*) FROM fiscal_contingency`).Scan(&n); err != nil {
		return 0, &domain.ErrQueue{Op: "len", Err: err}
	}
	return n, nil
}

type pgRecord struct {
	seq    int64
	record domain.ContingencyRecord
}

// collect scans rows and returns them in seq order.
// DELETE ... RETURNING gives no ordering guarantee.
func collect(rows pgx.Rows) ([]domain.ContingencyRecord, error) {
	defer rows.Close()

	var scanned []pgRecord
	for rows.Next() {
		var r pgRecord
		if err := rows.Scan(&r.seq, &r.record.Reference, &r.record.Payload, &r.record.Reason, &r.record.CreatedAt); err != nil {
			return nil, err
		}
		r.record.CreatedAt = r.record.CreatedAt.UTC()
		scanned = append(scanned, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(scanned, func(i, j int) bool { return scanned[i].seq < scanned[j].seq })
	out := make([]domain.ContingencyRecord, 0, len(scanned))
	for _, r := range scanned {
		out = append(out, r.record)
	}
	return out, nil
}
