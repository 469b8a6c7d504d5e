package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/seekwell/apply-cli/internal/model"
)

// Pool is the subset of pgxpool.Pool the store needs; pgxmock satisfies it
// in tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool Pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS checkpoints (
	id             TEXT PRIMARY KEY,
	run_id         TEXT NOT NULL,
	stage          TEXT NOT NULL,
	schema_version INTEGER NOT NULL,
	state          JSONB NOT NULL,
	metadata       JSONB,
	created_at     TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_checkpoints_run_id ON checkpoints(run_id);
CREATE INDEX IF NOT EXISTS idx_checkpoints_created_at ON checkpoints(created_at);
`

// NewPostgres creates a PostgresStore with a connection pool and runs the
// migration.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}

	s := &PostgresStore{pool: pool}
	if _, err := pool.Exec(ctx, postgresMigration); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: migrate")
	}
	return s, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) Save(ctx context.Context, cp *model.Checkpoint) error {
	metaJSON, err := json.Marshal(cp.Metadata)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal checkpoint metadata")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO checkpoints (id, run_id, stage, schema_version, state, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		cp.ID, cp.RunID, string(cp.Stage), cp.SchemaVersion, string(cp.State), string(metaJSON), cp.CreatedAt.UTC(),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: insert checkpoint %s", cp.ID)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*model.Checkpoint, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, run_id, stage, schema_version, state, metadata, created_at
		 FROM checkpoints WHERE id = $1`, id,
	)
	cp, err := scanPgCheckpoint(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get checkpoint %s", id)
	}
	return cp, nil
}

func (s *PostgresStore) ListByRun(ctx context.Context, runID string) ([]*model.Checkpoint, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, run_id, stage, schema_version, state, metadata, created_at
		 FROM checkpoints WHERE run_id = $1 ORDER BY created_at DESC`, runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list checkpoints for run %s", runID)
	}
	defer rows.Close()

	var out []*model.Checkpoint
	for rows.Next() {
		cp, err := scanPgCheckpoint(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan checkpoint")
		}
		out = append(out, cp)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate checkpoints")
}

func scanPgCheckpoint(row pgx.Row) (*model.Checkpoint, error) {
	var cp model.Checkpoint
	var stage, state string
	var meta *string

	if err := row.Scan(&cp.ID, &cp.RunID, &stage, &cp.SchemaVersion, &state, &meta, &cp.CreatedAt); err != nil {
		return nil, err
	}

	cp.Stage = model.Stage(stage)
	cp.State = json.RawMessage(state)
	if meta != nil && *meta != "" && *meta != "null" {
		if err := json.Unmarshal([]byte(*meta), &cp.Metadata); err != nil {
			return nil, err
		}
	}
	return &cp, nil
}
