// Package pgvector implements the vector index on PostgreSQL with the pgvector
// extension, through pgx's database/sql driver.
package pgvector

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pgvector/pgvector-go"

	"webrag-go/internal/config"
	"webrag-go/pkg/errs"
	"webrag-go/pkg/log"
	"webrag-go/pkg/vectorstore"
)

var identRe = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

// Store is a vectorstore.Store backed by one table keyed by (job_id, chunk_index).
type Store struct {
	db      *sql.DB
	table   string
	dims    int
	ensured atomic.Bool
}

// Open connects to Postgres and returns a Store for the configured collection.
func Open(pgCfg config.PostgresConfig, vsCfg config.VectorStoreConfig) (*Store, error) {
	if !identRe.MatchString(vsCfg.Collection) {
		return nil, fmt.Errorf("collection name %q is not a valid table name", vsCfg.Collection)
	}
	db, err := sql.Open("pgx", pgCfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if pgCfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(pgCfg.MaxOpenConns)
		db.SetMaxIdleConns(pgCfg.MaxOpenConns)
	}
	db.SetConnMaxLifetime(30 * time.Minute)
	return &Store{db: db, table: vsCfg.Collection, dims: vsCfg.Dimensions}, nil
}

func (s *Store) Dimensions() int { return s.dims }
func (s *Store) Close() error    { return s.db.Close() }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) schema() []string {
	return []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			job_id      TEXT        NOT NULL,
			chunk_index INTEGER     NOT NULL,
			text        TEXT        NOT NULL,
			source_url  TEXT        NOT NULL,
			title       TEXT        NOT NULL DEFAULT '',
			ingested_at TIMESTAMPTZ NOT NULL,
			embedding   vector(%d)  NOT NULL,
			PRIMARY KEY (job_id, chunk_index)
		)`, s.table, s.dims),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_embedding_idx ON %s USING hnsw (embedding vector_cosine_ops)`, s.table, s.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_source_url_idx ON %s (source_url)`, s.table, s.table),
	}
}

// EnsureCollection runs the idempotent DDL. Races between concurrent creators
// surface as duplicate-object errors, which are treated as success.
func (s *Store) EnsureCollection(ctx context.Context) error {
	if s.ensured.Load() {
		return nil
	}
	for _, stmt := range s.schema() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			if alreadyExists(err) {
				continue
			}
			return fmt.Errorf("%w: ensure collection %s: %w", errs.ErrIndex, s.table, err)
		}
	}
	log.Infof("[pgvector] 集合 '%s' 就绪, dims=%d", s.table, s.dims)
	s.ensured.Store(true)
	return nil
}

func alreadyExists(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505", "42P07", "42710":
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "already exists")
}

// Upsert writes all points in one transaction; conflicts on (job_id, chunk_index) overwrite.
func (s *Store) Upsert(ctx context.Context, points []vectorstore.Point) (int, error) {
	if len(points) == 0 {
		return 0, nil
	}
	if err := vectorstore.CheckDimensions(points, s.dims); err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: begin: %w", errs.ErrIndex, err)
	}
	q := fmt.Sprintf(`
		INSERT INTO %s (job_id, chunk_index, text, source_url, title, ingested_at, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (job_id, chunk_index) DO UPDATE SET
			text = EXCLUDED.text,
			source_url = EXCLUDED.source_url,
			title = EXCLUDED.title,
			ingested_at = EXCLUDED.ingested_at,
			embedding = EXCLUDED.embedding`, s.table)
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("%w: prepare upsert: %w", errs.ErrIndex, err)
	}
	defer stmt.Close()

	for _, p := range points {
		pl := p.Payload
		if _, err := stmt.ExecContext(ctx,
			pl.JobID, pl.ChunkIndex, pl.Text, pl.SourceURL, pl.Title, pl.IngestedAt, pgvector.NewVector(p.Vector),
		); err != nil {
			_ = tx.Rollback()
			return 0, fmt.Errorf("%w: upsert point %s: %w", errs.ErrIndex, p.ID(), err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: commit: %w", errs.ErrIndex, err)
	}
	return len(points), nil
}

// DeletePointsFrom removes the job's points whose chunk_index is at least from.
func (s *Store) DeletePointsFrom(ctx context.Context, jobID string, from int) (int, error) {
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE job_id = $1 AND chunk_index >= $2`, s.table), jobID, from)
	if err != nil {
		return 0, fmt.Errorf("%w: delete stale points of %s: %w", errs.ErrIndex, jobID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: delete stale points of %s: %w", errs.ErrIndex, jobID, err)
	}
	return int(n), nil
}

// buildSearchQuery returns the SQL and arguments for a filtered cosine-distance search.
// $1 is the query vector; filter values follow in sorted key order; topK is last.
func (s *Store) buildSearchQuery(vector []float32, topK int, filters map[string]any) (string, []any) {
	args := []any{pgvector.NewVector(vector)}
	var where []string
	for _, k := range vectorstore.SortedFilterKeys(filters) {
		args = append(args, filters[k])
		where = append(where, fmt.Sprintf("%s = $%d", k, len(args)))
	}
	args = append(args, topK)

	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT job_id, chunk_index, text, source_url, title, ingested_at, embedding <=> $1 AS distance FROM %s", s.table)
	if len(where) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(where, " AND "))
	}
	fmt.Fprintf(&sb, " ORDER BY distance ASC LIMIT $%d", len(args))
	return sb.String(), args
}

// Search orders by cosine distance; Hit.Score converts back to similarity.
func (s *Store) Search(ctx context.Context, vector []float32, topK int, filters map[string]any) ([]vectorstore.Hit, error) {
	if err := vectorstore.ValidateFilters(filters); err != nil {
		return nil, err
	}
	q, args := s.buildSearchQuery(vector, topK, vectorstore.NormalizeFilters(filters))
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: search: %w", errs.ErrIndex, err)
	}
	defer rows.Close()

	var hits []vectorstore.Hit
	for rows.Next() {
		var (
			pl   vectorstore.Payload
			dist float64
		)
		if err := rows.Scan(&pl.JobID, &pl.ChunkIndex, &pl.Text, &pl.SourceURL, &pl.Title, &pl.IngestedAt, &dist); err != nil {
			return nil, fmt.Errorf("%w: scan: %w", errs.ErrIndex, err)
		}
		d := dist
		hits = append(hits, vectorstore.Hit{Payload: pl, Distance: &d})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: rows: %w", errs.ErrIndex, err)
	}
	return hits, nil
}

var _ vectorstore.Store = (*Store)(nil)
