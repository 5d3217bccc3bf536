// Package buildlog keeps a history of index loads and rebuilds in
// PostgreSQL, one row per generation per process.
package buildlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/zip-search/internal/indexer"
)

// Schema creates the table the store writes to.
const Schema = `CREATE TABLE IF NOT EXISTS index_builds (
    id          BIGSERIAL PRIMARY KEY,
    host        TEXT        NOT NULL,
    generation  BIGINT      NOT NULL,
    origin      TEXT        NOT NULL,
    docs        BIGINT      NOT NULL,
    terms       BIGINT      NOT NULL,
    started_at  TIMESTAMPTZ NOT NULL,
    duration_ms BIGINT      NOT NULL,
    data        JSONB       NOT NULL,
    recorded_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// DB is satisfied by *sql.DB.
type DB interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Store implements indexer.BuildRecorder.
type Store struct {
	db     DB
	host   string
	logger *slog.Logger
}

// NewStore tags every row with host so replicas sharing a database can be
// told apart.
func NewStore(db DB, host string) *Store {
	return &Store{
		db:     db,
		host:   host,
		logger: slog.Default().With("component", "build-log"),
	}
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("creating index_builds table: %w", err)
	}
	return nil
}

func (s *Store) RecordBuild(ctx context.Context, rec indexer.BuildRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling build record: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO index_builds (host, generation, origin, docs, terms, started_at, duration_ms, data)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		s.host,
		int64(rec.Generation),
		string(rec.Origin),
		rec.Stats.Docs,
		rec.Stats.Terms,
		rec.StartedAt.UTC(),
		rec.Duration.Milliseconds(),
		data,
	)
	if err != nil {
		return fmt.Errorf("saving build record: %w", err)
	}
	s.logger.Debug("build recorded", "generation", rec.Generation, "origin", rec.Origin)
	return nil
}

// Recent returns up to limit records, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]indexer.BuildRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT data FROM index_builds ORDER BY recorded_at DESC, id DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing builds: %w", err)
	}
	defer rows.Close()

	records := make([]indexer.BuildRecord, 0, limit)
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scanning build row: %w", err)
		}
		var rec indexer.BuildRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			s.logger.Warn("skipping unreadable build row", "error", err)
			continue
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
