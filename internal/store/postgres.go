package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/procurescan/scraper-cli/internal/model"
)

// Pool is the subset of pgxpool.Pool the store uses, so pgxmock can stand in
// for unit tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32
	MinConns int32
}

// NewPostgres creates a PostgresStore with a connection pool and verifies
// connectivity with a ping.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(4)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, wrapErr("ping", err)
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS tenders (
	id           BIGSERIAL PRIMARY KEY,
	tender_id    TEXT NOT NULL,
	source       TEXT NOT NULL,
	tender_type  TEXT NOT NULL CHECK (tender_type IN ('Goods', 'Works', 'Services')),
	title        TEXT NOT NULL,
	organization TEXT NOT NULL,
	publish_date DATE NOT NULL,
	closing_date DATE,
	description  TEXT,
	source_url   TEXT NOT NULL,
	attachments  JSONB NOT NULL DEFAULT '[]',
	raw_data     JSONB,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (tender_id, source)
);

CREATE INDEX IF NOT EXISTS idx_tenders_source ON tenders(source);
CREATE INDEX IF NOT EXISTS idx_tenders_publish_date ON tenders(publish_date DESC);

CREATE TABLE IF NOT EXISTS scraper_runs (
	id               BIGSERIAL PRIMARY KEY,
	run_id           TEXT NOT NULL UNIQUE,
	scraper_version  TEXT NOT NULL,
	config           JSONB,
	start_time       TIMESTAMPTZ NOT NULL,
	end_time         TIMESTAMPTZ,
	duration_seconds DOUBLE PRECISION,
	status           TEXT NOT NULL CHECK (status IN ('running', 'completed', 'failed')),
	pages_visited    INTEGER NOT NULL DEFAULT 0,
	tenders_parsed   INTEGER NOT NULL DEFAULT 0,
	tenders_saved    INTEGER NOT NULL DEFAULT 0,
	deduped_count    INTEGER NOT NULL DEFAULT 0,
	failures         INTEGER NOT NULL DEFAULT 0,
	error_summary    JSONB NOT NULL DEFAULT '{}',
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_scraper_runs_status ON scraper_runs(status);
CREATE INDEX IF NOT EXISTS idx_scraper_runs_start_time ON scraper_runs(start_time DESC);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return wrapErr("ping", err)
	}
	return nil
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresMigration); err != nil {
		return wrapErr("migrate", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// upsertTenderSQL writes the canonical row in one atomic statement. The
// (xmax = 0) trick distinguishes a fresh insert from a conflict update
// without a separate read.
const upsertTenderSQL = `
INSERT INTO tenders (
	tender_id, source, tender_type, title, organization,
	publish_date, closing_date, description, source_url, attachments, raw_data
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (tender_id, source) DO UPDATE SET
	tender_type  = EXCLUDED.tender_type,
	title        = EXCLUDED.title,
	organization = EXCLUDED.organization,
	publish_date = EXCLUDED.publish_date,
	closing_date = EXCLUDED.closing_date,
	description  = EXCLUDED.description,
	source_url   = EXCLUDED.source_url,
	attachments  = EXCLUDED.attachments,
	raw_data     = EXCLUDED.raw_data,
	updated_at   = now()
RETURNING (xmax = 0)`

func (s *PostgresStore) UpsertTender(ctx context.Context, t *model.Tender) (UpsertOutcome, error) {
	attachments := t.Attachments
	if attachments == nil {
		attachments = []model.Attachment{}
	}
	attachmentsJSON, err := json.Marshal(attachments)
	if err != nil {
		return "", eris.Wrap(err, "postgres: marshal attachments")
	}
	rawJSON, err := json.Marshal(t.Raw)
	if err != nil {
		return "", eris.Wrap(err, "postgres: marshal raw snapshot")
	}

	var closingDate any
	if t.ClosingDate != "" {
		closingDate = t.ClosingDate
	}

	var inserted bool
	err = s.pool.QueryRow(ctx, upsertTenderSQL,
		t.TenderID, t.Source, string(t.Type), t.Title, t.Organization,
		t.PublishDate, closingDate, t.Description, t.SourceURL, attachmentsJSON, rawJSON,
	).Scan(&inserted)
	if err != nil {
		return "", wrapErr("upsert tender", err)
	}

	if inserted {
		return OutcomeInserted, nil
	}
	return OutcomeUpdated, nil
}

func (s *PostgresStore) TenderExists(ctx context.Context, tenderID, source string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM tenders WHERE tender_id = $1 AND source = $2)`,
		tenderID, source,
	).Scan(&exists)
	if err != nil {
		return false, wrapErr("tender exists", err)
	}
	return exists, nil
}

func (s *PostgresStore) RecentTenders(ctx context.Context, source string, limit int) ([]model.Tender, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, tender_id, source, tender_type, title, organization,
		        to_char(publish_date, 'YYYY-MM-DD'),
		        to_char(closing_date, 'YYYY-MM-DD'),
		        description, source_url, attachments, created_at, updated_at
		 FROM tenders WHERE source = $1
		 ORDER BY publish_date DESC LIMIT $2`,
		source, limit,
	)
	if err != nil {
		return nil, wrapErr("recent tenders", err)
	}
	defer rows.Close()

	var tenders []model.Tender
	for rows.Next() {
		var t model.Tender
		var closingDate, description *string
		var attachmentsJSON []byte
		if err := rows.Scan(&t.ID, &t.TenderID, &t.Source, &t.Type, &t.Title, &t.Organization,
			&t.PublishDate, &closingDate, &description, &t.SourceURL, &attachmentsJSON,
			&t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, wrapErr("scan tender", err)
		}
		if closingDate != nil {
			t.ClosingDate = *closingDate
		}
		if description != nil {
			t.Description = *description
		}
		if attachmentsJSON != nil {
			if err := json.Unmarshal(attachmentsJSON, &t.Attachments); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal attachments")
			}
		}
		tenders = append(tenders, t)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("recent tenders iterate", err)
	}
	return tenders, nil
}

func (s *PostgresStore) CountTenders(ctx context.Context, source string) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM tenders WHERE source = $1`, source,
	).Scan(&count)
	if err != nil {
		return 0, wrapErr("count tenders", err)
	}
	return count, nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, run *model.Run) error {
	configJSON, err := json.Marshal(run.Config)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal run config")
	}

	err = s.pool.QueryRow(ctx,
		`INSERT INTO scraper_runs (run_id, scraper_version, config, start_time, status)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		run.RunID, run.ScraperVersion, configJSON, run.StartTime, string(run.Status),
	).Scan(&run.ID)
	if err != nil {
		return wrapErr("create run", err)
	}
	return nil
}

func (s *PostgresStore) FinishRun(ctx context.Context, run *model.Run) error {
	summaryJSON, err := json.Marshal(run.ErrorSummary)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal error summary")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE scraper_runs SET
			end_time = $1, duration_seconds = $2, status = $3,
			pages_visited = $4, tenders_parsed = $5, tenders_saved = $6,
			deduped_count = $7, failures = $8, error_summary = $9
		 WHERE run_id = $10`,
		run.EndTime, run.DurationSeconds, string(run.Status),
		run.PagesVisited, run.TendersParsed, run.TendersSaved,
		run.DedupedCount, run.Failures, summaryJSON,
		run.RunID,
	)
	if err != nil {
		return wrapErr("finish run", err)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("postgres: run not found: %s", run.RunID)
	}
	return nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, limit int) ([]model.Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, run_id, scraper_version, config, start_time, end_time,
		        duration_seconds, status, pages_visited, tenders_parsed,
		        tenders_saved, deduped_count, failures, error_summary, created_at
		 FROM scraper_runs ORDER BY start_time DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, wrapErr("list runs", err)
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		var r model.Run
		var configJSON, summaryJSON []byte
		if err := rows.Scan(&r.ID, &r.RunID, &r.ScraperVersion, &configJSON,
			&r.StartTime, &r.EndTime, &r.DurationSeconds, &r.Status,
			&r.PagesVisited, &r.TendersParsed, &r.TendersSaved,
			&r.DedupedCount, &r.Failures, &summaryJSON, &r.CreatedAt); err != nil {
			return nil, wrapErr("scan run", err)
		}
		if configJSON != nil {
			_ = json.Unmarshal(configJSON, &r.Config)
		}
		if summaryJSON != nil {
			_ = json.Unmarshal(summaryJSON, &r.ErrorSummary)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("list runs iterate", err)
	}
	return runs, nil
}
