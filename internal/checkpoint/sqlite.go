package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/seekwell/apply-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path, configures WAL mode
// and creates the checkpoints table.
func NewSQLite(ctx context.Context, dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS checkpoints (
	id             TEXT PRIMARY KEY,
	run_id         TEXT NOT NULL,
	stage          TEXT NOT NULL,
	schema_version INTEGER NOT NULL,
	state          TEXT NOT NULL,
	metadata       TEXT,
	created_at     DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_checkpoints_run_id ON checkpoints(run_id);
CREATE INDEX IF NOT EXISTS idx_checkpoints_created_at ON checkpoints(created_at);
`

func (s *SQLiteStore) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Save(ctx context.Context, cp *model.Checkpoint) error {
	metaJSON, err := json.Marshal(cp.Metadata)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal checkpoint metadata")
	}

	// Plain INSERT enforces write-once through the primary key.
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO checkpoints (id, run_id, stage, schema_version, state, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		cp.ID, cp.RunID, string(cp.Stage), cp.SchemaVersion, string(cp.State), string(metaJSON), cp.CreatedAt.UTC(),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: insert checkpoint %s", cp.ID)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*model.Checkpoint, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, run_id, stage, schema_version, state, metadata, created_at
		 FROM checkpoints WHERE id = ?`, id,
	)
	cp, err := scanCheckpoint(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get checkpoint %s", id)
	}
	return cp, nil
}

func (s *SQLiteStore) ListByRun(ctx context.Context, runID string) ([]*model.Checkpoint, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, stage, schema_version, state, metadata, created_at
		 FROM checkpoints WHERE run_id = ? ORDER BY created_at DESC`, runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list checkpoints for run %s", runID)
	}
	defer rows.Close()

	var out []*model.Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan checkpoint")
		}
		out = append(out, cp)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate checkpoints")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCheckpoint(row rowScanner) (*model.Checkpoint, error) {
	var cp model.Checkpoint
	var stage, state string
	var meta sql.NullString

	if err := row.Scan(&cp.ID, &cp.RunID, &stage, &cp.SchemaVersion, &state, &meta, &cp.CreatedAt); err != nil {
		return nil, err
	}

	cp.Stage = model.Stage(stage)
	cp.State = json.RawMessage(state)
	if meta.Valid && meta.String != "" && meta.String != "null" {
		if err := json.Unmarshal([]byte(meta.String), &cp.Metadata); err != nil {
			return nil, err
		}
	}
	return &cp, nil
}
