package docstore

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/marcboeker/go-duckdb"
	"github.com/pdf-intake/backend/internal/models"
)

// DuckOptions tunes the embedded DuckDB engine.
type DuckOptions struct {
	MemoryLimit string // e.g. "1GB"
	Threads     int
}

// DuckStore implements Store on an embedded DuckDB database file.
type DuckStore struct {
	db     *sql.DB
	dbPath string

	// DuckDB allows a single writer per process; writes are serialized so
	// check-then-insert and read-modify-write stay atomic.
	writeMu sync.Mutex

	// Semaphore to limit concurrent queries
	querySem chan struct{}
}

// NewDuckStore opens (or creates) the database at dbPath and ensures the schema.
func NewDuckStore(dbPath string, opts DuckOptions) (*DuckStore, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}
	if opts.MemoryLimit == "" {
		opts.MemoryLimit = "1GB"
	}
	if opts.Threads <= 0 {
		opts.Threads = 4
	}

	connector, err := duckdb.NewConnector(dbPath, func(execer driver.ExecerContext) error {
		pragmas := []string{
			fmt.Sprintf("PRAGMA memory_limit='%s'", opts.MemoryLimit),
			fmt.Sprintf("PRAGMA threads=%d", opts.Threads),
			"PRAGMA enable_progress_bar=false",
		}
		for _, pragma := range pragmas {
			if _, err := execer.ExecContext(context.Background(), pragma, nil); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create DuckDB connector: %w", err)
	}

	db := sql.OpenDB(connector)

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS documents (
			id          VARCHAR PRIMARY KEY,
			status      VARCHAR NOT NULL,
			fingerprint VARCHAR NOT NULL,
			filename    VARCHAR,
			payload     VARCHAR NOT NULL,
			error       VARCHAR,
			created_at  BIGINT NOT NULL,
			updated_at  BIGINT NOT NULL
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}

	return &DuckStore{
		db:       db,
		dbPath:   dbPath,
		querySem: make(chan struct{}, 3),
	}, nil
}

func (ds *DuckStore) acquire(ctx context.Context) error {
	select {
	case ds.querySem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (ds *DuckStore) release() { <-ds.querySem }

func (ds *DuckStore) PutInitial(ctx context.Context, id, fingerprint string) error {
	ds.writeMu.Lock()
	defer ds.writeMu.Unlock()

	var n int
	err := ds.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM documents WHERE id = ? OR (fingerprint <> '' AND fingerprint = ?)`,
		id, fingerprint).Scan(&n)
	if err != nil {
		return unavailable("put initial", err)
	}
	if n > 0 {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, id)
	}

	now := time.Now().UTC().UnixMilli()
	_, err = ds.db.ExecContext(ctx,
		`INSERT INTO documents (id, status, fingerprint, filename, payload, error, created_at, updated_at)
		 VALUES (?, ?, ?, NULL, '{}', NULL, ?, ?)`,
		id, string(models.StatusProcessing), fingerprint, now, now)
	if err != nil {
		return unavailable("put initial", err)
	}
	return nil
}

func (ds *DuckStore) MarkComplete(ctx context.Context, id string, payload models.Payload) error {
	raw, err := json.Marshal(payload.Clone())
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}

	ds.writeMu.Lock()
	defer ds.writeMu.Unlock()

	status, err := ds.statusOf(ctx, id)
	if err != nil {
		return err
	}
	if !canComplete(status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, status, models.StatusComplete)
	}

	_, err = ds.db.ExecContext(ctx,
		`UPDATE documents SET status = ?, payload = ?, filename = ?, updated_at = ? WHERE id = ?`,
		string(models.StatusComplete), string(raw), nullString(payload.Filename()), time.Now().UTC().UnixMilli(), id)
	if err != nil {
		return unavailable("mark complete", err)
	}
	return nil
}

func (ds *DuckStore) MarkFailed(ctx context.Context, id string, reason string) error {
	ds.writeMu.Lock()
	defer ds.writeMu.Unlock()

	status, err := ds.statusOf(ctx, id)
	if err != nil {
		return err
	}
	if !canFail(status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, status, models.StatusFailed)
	}

	_, err = ds.db.ExecContext(ctx,
		`UPDATE documents SET status = ?, error = ?, updated_at = ? WHERE id = ?`,
		string(models.StatusFailed), reason, time.Now().UTC().UnixMilli(), id)
	if err != nil {
		return unavailable("mark failed", err)
	}
	return nil
}

// statusOf returns the current status of id. Caller holds writeMu.
func (ds *DuckStore) statusOf(ctx context.Context, id string) (models.Status, error) {
	var status string
	err := ds.db.QueryRowContext(ctx, `SELECT status FROM documents WHERE id = ?`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return "", unavailable("read status", err)
	}
	return models.Status(status), nil
}

func (ds *DuckStore) ExistsByFingerprint(ctx context.Context, fingerprint string) (bool, error) {
	if fingerprint == "" {
		return false, nil
	}
	if err := ds.acquire(ctx); err != nil {
		return false, unavailable("exists by fingerprint", err)
	}
	defer ds.release()

	var n int
	err := ds.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM documents WHERE fingerprint = ?`, fingerprint).Scan(&n)
	if err != nil {
		return false, unavailable("exists by fingerprint", err)
	}
	return n > 0, nil
}

func (ds *DuckStore) Get(ctx context.Context, id string) (*models.Document, error) {
	if err := ds.acquire(ctx); err != nil {
		return nil, unavailable("get", err)
	}
	defer ds.release()

	row := ds.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = ?`, id)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, unavailable("get", err)
	}
	return doc, nil
}

func (ds *DuckStore) ListStatuses(ctx context.Context, limit int) ([]models.StatusEntry, error) {
	if err := ds.acquire(ctx); err != nil {
		return nil, unavailable("list statuses", err)
	}
	defer ds.release()

	rows, err := ds.db.QueryContext(ctx,
		`SELECT id, status FROM documents ORDER BY created_at, id LIMIT ?`, clampLimit(limit))
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

func (ds *DuckStore) FindByField(ctx context.Context, field, value string) ([]*models.Document, error) {
	if err := checkField(field); err != nil {
		return nil, err
	}
	return ds.queryDocuments(ctx, "find by field",
		`SELECT `+documentColumns+` FROM documents WHERE filename = ? ORDER BY created_at, id LIMIT ?`,
		value, MaxListDocuments)
}

func (ds *DuckStore) ListDocuments(ctx context.Context, limit int) ([]*models.Document, error) {
	return ds.queryDocuments(ctx, "list documents",
		`SELECT `+documentColumns+` FROM documents ORDER BY created_at, id LIMIT ?`,
		clampLimit(limit))
}

func (ds *DuckStore) queryDocuments(ctx context.Context, op, query string, args ...interface{}) ([]*models.Document, error) {
	if err := ds.acquire(ctx); err != nil {
		return nil, unavailable(op, err)
	}
	defer ds.release()

	rows, err := ds.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, unavailable(op, err)
	}
	defer rows.Close()

	out := make([]*models.Document, 0)
	for rows.Next() {
		doc, err := scanDocument(rows)
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

func (ds *DuckStore) Ping(ctx context.Context) error {
	if err := ds.db.PingContext(ctx); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

// Close closes the database. The file is kept.
func (ds *DuckStore) Close() error {
	if ds.db != nil {
		return ds.db.Close()
	}
	return nil
}

const documentColumns = `id, status, fingerprint, payload, error, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDocument(row rowScanner) (*models.Document, error) {
	var (
		doc                  models.Document
		status, payload      string
		errMsg               sql.NullString
		createdAt, updatedAt int64
	)
	if err := row.Scan(&doc.ID, &status, &doc.Fingerprint, &payload, &errMsg, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	doc.Status = models.Status(status)
	doc.Error = errMsg.String
	doc.CreatedAt = time.UnixMilli(createdAt).UTC()
	doc.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	doc.Payload = models.Payload{}
	if err := json.Unmarshal([]byte(payload), &doc.Payload); err != nil {
		return nil, fmt.Errorf("decoding payload of %s: %w", doc.ID, err)
	}
	return &doc, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
