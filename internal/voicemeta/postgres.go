package voicemeta

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var _ Store = (*PostgresStore)(nil)

const ddlVoiceMetadata = `
CREATE TABLE IF NOT EXISTS voice_metadata (
    id          TEXT         PRIMARY KEY,
    backend     TEXT         NOT NULL,
    visibility  TEXT         NOT NULL CHECK (visibility IN ('public', 'private')),
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    emotion     TEXT         NOT NULL DEFAULT '',
    ref_text    TEXT         NOT NULL DEFAULT '',
    key_salt    TEXT         NOT NULL DEFAULT '',
    key_hash    TEXT         NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_voice_metadata_visibility
    ON voice_metadata (visibility);

CREATE TABLE IF NOT EXISTS voice_metadata_schema (
    name     TEXT  PRIMARY KEY,
    version  TEXT  NOT NULL
);
`

const insertSchemaVersion = `
INSERT INTO voice_metadata_schema (name, version) VALUES ('voice_metadata', $1)
ON CONFLICT (name) DO NOTHING`

const selectColumns = `id, backend, visibility, created_at, emotion, ref_text, key_salt, key_hash`

// PostgresStore keeps records in the voice_metadata table. Each Put is a
// single UPSERT, so salt and hash always change together.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to dsn, verifies the connection and runs
// [MigratePostgres].
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("voicemeta postgres: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("voicemeta postgres: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("voicemeta postgres: ping: %w", err)
	}

	if err := MigratePostgres(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("voicemeta postgres: migrate: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// MigratePostgres creates the voice_metadata tables. It is idempotent and
// safe to call on every start.
func MigratePostgres(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlVoiceMetadata); err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	if _, err := pool.Exec(ctx, insertSchemaVersion, SchemaVersion); err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	return nil
}

// Load returns every record.
func (s *PostgresStore) Load(ctx context.Context) (map[string]Record, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+selectColumns+` FROM voice_metadata`)
	if err != nil {
		return nil, fmt.Errorf("voicemeta postgres: load: %w", err)
	}
	recs, err := pgx.CollectRows(rows, scanRecord)
	if err != nil {
		return nil, fmt.Errorf("voicemeta postgres: load: %w", err)
	}

	out := make(map[string]Record, len(recs))
	for _, r := range recs {
		out[r.ID] = r
	}
	return out, nil
}

// Get returns the record for id.
func (s *PostgresStore) Get(ctx context.Context, id string) (Record, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+selectColumns+` FROM voice_metadata WHERE id = $1`, id)
	if err != nil {
		return Record{}, fmt.Errorf("voicemeta postgres: get: %w", err)
	}
	rec, err := pgx.CollectExactlyOneRow(rows, scanRecord)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	if err != nil {
		return Record{}, fmt.Errorf("voicemeta postgres: get: %w", err)
	}
	return rec, nil
}

// Put inserts or replaces the record for rec.ID.
func (s *PostgresStore) Put(ctx context.Context, rec Record) error {
	const q = `
INSERT INTO voice_metadata (id, backend, visibility, created_at, emotion, ref_text, key_salt, key_hash)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (id) DO UPDATE SET
    backend    = EXCLUDED.backend,
    visibility = EXCLUDED.visibility,
    created_at = EXCLUDED.created_at,
    emotion    = EXCLUDED.emotion,
    ref_text   = EXCLUDED.ref_text,
    key_salt   = EXCLUDED.key_salt,
    key_hash   = EXCLUDED.key_hash`

	_, err := s.pool.Exec(ctx, q,
		rec.ID, rec.Backend, string(rec.Visibility), rec.CreatedAt,
		rec.Emotion, rec.RefText, rec.KeySalt, rec.KeyHash,
	)
	if err != nil {
		return fmt.Errorf("voicemeta postgres: put %q: %w", rec.ID, err)
	}
	return nil
}

// Delete removes the record for id.
func (s *PostgresStore) Delete(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM voice_metadata WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("voicemeta postgres: delete %q: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

// Ping checks the connection pool.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all pooled connections.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func scanRecord(row pgx.CollectableRow) (Record, error) {
	var (
		r          Record
		visibility string
	)
	err := row.Scan(&r.ID, &r.Backend, &visibility, &r.CreatedAt, &r.Emotion, &r.RefText, &r.KeySalt, &r.KeyHash)
	r.Visibility = Visibility(visibility)
	r.CreatedAt = r.CreatedAt.UTC()
	return r, err
}
