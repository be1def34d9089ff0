package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pdf-intake/backend/internal/models"
)

// PostgresConfig configures the pgx connection pool.
type PostgresConfig struct {
	DSN              string
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
	ApplicationName  string
}

// PostgresStore implements Store on PostgreSQL. Uniqueness of id and of
// non-empty fingerprints is enforced by the database.
type PostgresStore struct {
	pool *pgxpool.Pool
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS documents (
	id          TEXT PRIMARY KEY,
	status      TEXT NOT NULL,
	fingerprint TEXT NOT NULL,
	filename    TEXT,
	payload     JSONB NOT NULL DEFAULT '{}'::jsonb,
	error       TEXT,
	created_at  TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS documents_fingerprint_key ON documents (fingerprint) WHERE fingerprint <> '';
CREATE INDEX IF NOT EXISTS documents_filename_idx ON documents (filename);
`

// NewPostgresStore creates a pgx pool and ensures the documents table exists.
func NewPostgresStore(ctx context.Context, cfg PostgresConfig) (*PostgresStore, error) {
	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing database url: %w", err)
	}
	if cfg.MaxConns > 0 {
		pc.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		pc.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		pc.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		pc.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	appName := cfg.ApplicationName
	if appName == "" {
		appName = "pdf-intake"
	}
	pc.ConnConfig.RuntimeParams["application_name"] = appName
	if cfg.StatementTimeout > 0 {
		pc.ConnConfig.RuntimeParams["statement_timeout"] = fmt.Sprintf("%d", cfg.StatementTimeout.Milliseconds())
	}

	if cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.DialTimeout)
		defer cancel()
	}
	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) PutInitial(ctx context.Context, id, fingerprint string) error {
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO documents (id, status, fingerprint, payload, created_at, updated_at)
		 VALUES ($1, $2, $3, '{}'::jsonb, $4, $4)
		 ON CONFLICT DO NOTHING`,
		id, string(models.StatusProcessing), fingerprint, now)
	if err != nil {
		return unavailable("put initial", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, id)
	}
	return nil
}

func (s *PostgresStore) MarkComplete(ctx context.Context, id string, payload models.Payload) error {
	raw, err := json.Marshal(payload.Clone())
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}
	var filename *string
	if f := payload.Filename(); f != "" {
		filename = &f
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE documents SET status = $2, payload = $3::jsonb, filename = $4, updated_at = $5
		 WHERE id = $1 AND status IN ($6, $2)`,
		id, string(models.StatusComplete), string(raw), filename, time.Now().UTC(), string(models.StatusProcessing))
	if err != nil {
		return unavailable("mark complete", err)
	}
	if tag.RowsAffected() == 0 {
		return s.explainMiss(ctx, id, models.StatusComplete)
	}
	return nil
}

func (s *PostgresStore) MarkFailed(ctx context.Context, id string, reason string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE documents SET status = $2, error = $3, updated_at = $4
		 WHERE id = $1 AND status IN ($5, $2)`,
		id, string(models.StatusFailed), reason, time.Now().UTC(), string(models.StatusProcessing))
	if err != nil {
		return unavailable("mark failed", err)
	}
	if tag.RowsAffected() == 0 {
		return s.explainMiss(ctx, id, models.StatusFailed)
	}
	return nil
}

// explainMiss tells a missing record apart from a refused transition after
// a conditional update touched no rows.
func (s *PostgresStore) explainMiss(ctx context.Context, id string, to models.Status) error {
	var status string
	err := s.pool.QueryRow(ctx, `SELECT status FROM documents WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return unavailable("read status", err)
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, status, to)
}

func (s *PostgresStore) ExistsByFingerprint(ctx context.Context, fingerprint string) (bool, error) {
	if fingerprint == "" {
		return false, nil
	}
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM documents WHERE fingerprint = $1)`, fingerprint).Scan(&exists)
	if err != nil {
		return false, unavailable("exists by fingerprint", err)
	}
	return exists, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*models.Document, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+pgDocumentColumns+` FROM documents WHERE id = $1`, id)
	doc, err := scanPgDocument(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, unavailable("get", err)
	}
	return doc, nil
}

func (s *PostgresStore) ListStatuses(ctx context.Context, limit int) ([]models.StatusEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, status FROM documents ORDER BY created_at, id LIMIT $1`, clampLimit(limit))
	if err != nil {
		return nil, unavailable("list statuses", err)
	}
	defer rows.Close()

	out := make([]models.StatusEntry, 0)
	for rows.Next() {
		var e models.StatusEntry
		var status string
		if err := rows.Scan(&e.ID, &status); err != nil {
			return nil, unavailable("list statuses", err)
		}
		e.Status = models.Status(status)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list statuses", err)
	}
	return out, nil
}

func (s *PostgresStore) FindByField(ctx context.Context, field, value string) ([]*models.Document, error) {
	if err := checkField(field); err != nil {
		return nil, err
	}
	return s.queryDocuments(ctx, "find by field",
		`SELECT `+pgDocumentColumns+` FROM documents WHERE filename = $1 ORDER BY created_at, id LIMIT $2`,
		value, MaxListDocuments)
}

func (s *PostgresStore) ListDocuments(ctx context.Context, limit int) ([]*models.Document, error) {
	return s.queryDocuments(ctx, "list documents",
		`SELECT `+pgDocumentColumns+` FROM documents ORDER BY created_at, id LIMIT $1`,
		clampLimit(limit))
}

func (s *PostgresStore) queryDocuments(ctx context.Context, op, query string, args ...any) ([]*models.Document, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, unavailable(op, err)
	}
	defer rows.Close()

	out := make([]*models.Document, 0)
	for rows.Next() {
		doc, err := scanPgDocument(rows)
		if err != nil {
			return nil, unavailable(op, err)
		}
		out = append(out, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(op, err)
	}
	return out, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

const pgDocumentColumns = `id, status, fingerprint, payload::text, COALESCE(error, ''), created_at, updated_at`

func scanPgDocument(row pgx.Row) (*models.Document, error) {
	var (
		doc             models.Document
		status, payload string
	)
	if err := row.Scan(&doc.ID, &status, &doc.Fingerprint, &payload, &doc.Error, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
		return nil, err
	}
	doc.Status = models.Status(status)
	doc.CreatedAt = doc.CreatedAt.UTC()
	doc.UpdatedAt = doc.UpdatedAt.UTC()
	doc.Payload = models.Payload{}
	if err := json.Unmarshal([]byte(payload), &doc.Payload); err != nil {
		return nil, fmt.Errorf("decoding payload of %s: %w", doc.ID, err)
	}
	return &doc, nil
}
