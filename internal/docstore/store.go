// Package docstore persists document records behind a backend-neutral contract.
//
// Every backend satisfies Store with the same semantics: ids are unique,
// a record is created in processing status with an empty payload, status only
// moves forward, and every failure that is not a missing record or a contract
// violation is reported as ErrUnavailable.
package docstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/pdf-intake/backend/internal/models"
)

// MaxListDocuments bounds ListDocuments and ListStatuses. Callers must treat
// results as a possibly truncated snapshot.
const MaxListDocuments = 10000

var (
	ErrNotFound          = errors.New("document not found")
	ErrAlreadyExists     = errors.New("document already exists")
	ErrUnavailable       = errors.New("document store unavailable")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrUnindexedField    = errors.New("field is not indexed")
)

// IndexedFields lists the payload fields FindByField can match on.
var IndexedFields = map[string]struct{}{
	"filename": {},
}

// Store is the document store contract.
type Store interface {
	// PutInitial creates a processing record with an empty payload.
	// Returns ErrAlreadyExists if the id, or a non-empty fingerprint, is taken.
	PutInitial(ctx context.Context, id, fingerprint string) error
	// MarkComplete sets status complete and replaces the payload. Repeating
	// it with the same payload leaves the same state.
	MarkComplete(ctx context.Context, id string, payload models.Payload) error
	// MarkFailed moves a processing record to failed with a reason.
	MarkFailed(ctx context.Context, id string, reason string) error
	ExistsByFingerprint(ctx context.Context, fingerprint string) (bool, error)
	Get(ctx context.Context, id string) (*models.Document, error)
	ListStatuses(ctx context.Context, limit int) ([]models.StatusEntry, error)
	FindByField(ctx context.Context, field, value string) ([]*models.Document, error)
	ListDocuments(ctx context.Context, limit int) ([]*models.Document, error)
	Ping(ctx context.Context) error
	Close() error
}

// unavailable wraps a backend error so callers can match ErrUnavailable.
func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}

func checkField(field string) error {
	if _, ok := IndexedFields[field]; !ok {
		return fmt.Errorf("%w: %s", ErrUnindexedField, field)
	}
	return nil
}

// clampLimit maps a caller limit onto (0, MaxListDocuments].
func clampLimit(limit int) int {
	if limit <= 0 || limit > MaxListDocuments {
		return MaxListDocuments
	}
	return limit
}

// canComplete reports whether MarkComplete is allowed from status s.
func canComplete(s models.Status) bool {
	return s == models.StatusProcessing || s == models.StatusComplete
}

// canFail reports whether MarkFailed is allowed from status s.
func canFail(s models.Status) bool {
	return s == models.StatusProcessing || s == models.StatusFailed
}
