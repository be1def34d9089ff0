package docstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pdf-intake/backend/internal/models"
)

// MemoryStore implements Store in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	docs   map[string]*models.Document
	byHash map[string]string
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:   make(map[string]*models.Document),
		byHash: make(map[string]string),
	}
}

func (s *MemoryStore) PutInitial(_ context.Context, id, fingerprint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.docs[id]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, id)
	}
	if fingerprint != "" {
		if _, ok := s.byHash[fingerprint]; ok {
			return fmt.Errorf("%w: fingerprint %s", ErrAlreadyExists, fingerprint)
		}
		s.byHash[fingerprint] = id
	}
	s.docs[id] = models.NewDocument(id, fingerprint)
	return nil
}

func (s *MemoryStore) MarkComplete(_ context.Context, id string, payload models.Payload) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if !canComplete(doc.Status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, doc.Status, models.StatusComplete)
	}
	doc.Status = models.StatusComplete
	doc.Payload = payload.Clone()
	doc.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) MarkFailed(_ context.Context, id string, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if !canFail(doc.Status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, doc.Status, models.StatusFailed)
	}
	doc.Status = models.StatusFailed
	doc.Error = reason
	doc.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) ExistsByFingerprint(_ context.Context, fingerprint string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.byHash[fingerprint]
	return ok, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.docs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return copyDocument(doc), nil
}

func (s *MemoryStore) ListStatuses(ctx context.Context, limit int) ([]models.StatusEntry, error) {
	docs, err := s.ListDocuments(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := make([]models.StatusEntry, 0, len(docs))
	for _, d := range docs {
		out = append(out, models.StatusEntry{ID: d.ID, Status: d.Status})
	}
	return out, nil
}

func (s *MemoryStore) FindByField(_ context.Context, field, value string) ([]*models.Document, error) {
	if err := checkField(field); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Document
	for _, doc := range s.sorted() {
		if v, ok := doc.Payload[field].(string); ok && v == value {
			out = append(out, copyDocument(doc))
		}
	}
	return out, nil
}

func (s *MemoryStore) ListDocuments(_ context.Context, limit int) ([]*models.Document, error) {
	limit = clampLimit(limit)

	s.mu.RLock()
	defer s.mu.RUnlock()

	sorted := s.sorted()
	if len(sorted) > limit {
		sorted = sorted[:limit]
	}
	out := make([]*models.Document, 0, len(sorted))
	for _, doc := range sorted {
		out = append(out, copyDocument(doc))
	}
	return out, nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

// sorted returns documents ordered by creation time, then id. Caller holds the lock.
func (s *MemoryStore) sorted() []*models.Document {
	list := make([]*models.Document, 0, len(s.docs))
	for _, doc := range s.docs {
		list = append(list, doc)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].ID < list[j].ID
		}
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
	return list
}

func copyDocument(d *models.Document) *models.Document {
	cp := *d
	cp.Payload = d.Payload.Clone()
	return &cp
}
