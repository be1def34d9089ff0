// mock_store.go - Document store and extractor fakes for testing
package testutil

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/pdf-intake/backend/internal/docstore"
	"github.com/pdf-intake/backend/internal/extract"
	"github.com/pdf-intake/backend/internal/models"
)

// ErrOutage is a ready-made backend failure for outage tests.
var ErrOutage = fmt.Errorf("mock: %w: connection refused", docstore.ErrUnavailable)

// MockStore is an in-memory docstore.Store whose operations can be made to
// fail on demand.
type MockStore struct {
	*docstore.MemoryStore

	mu    sync.Mutex
	fail  map[string]error
	all   error
	calls map[string]int
}

func NewMockStore() *MockStore {
	return &MockStore{
		MemoryStore: docstore.NewMemoryStore(),
		fail:        make(map[string]error),
		calls:       make(map[string]int),
	}
}

// SetOutage makes every operation return err. nil restores normal behaviour.
func (m *MockStore) SetOutage(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.all = err
}

// FailOn makes the named operation (e.g. "MarkComplete") return err.
func (m *MockStore) FailOn(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.fail, op)
		return
	}
	m.fail[op] = err
}

// Calls returns how many times op was invoked.
func (m *MockStore) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

func (m *MockStore) enter(op string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[op]++
	if m.all != nil {
		return m.all
	}
	return m.fail[op]
}

func (m *MockStore) PutInitial(ctx context.Context, id, fingerprint string) error {
	if err := m.enter("PutInitial"); err != nil {
		return err
	}
	return m.MemoryStore.PutInitial(ctx, id, fingerprint)
}

func (m *MockStore) MarkComplete(ctx context.Context, id string, payload models.Payload) error {
	if err := m.enter("MarkComplete"); err != nil {
		return err
	}
	return m.MemoryStore.MarkComplete(ctx, id, payload)
}

func (m *MockStore) MarkFailed(ctx context.Context, id string, reason string) error {
	if err := m.enter("MarkFailed"); err != nil {
		return err
	}
	return m.MemoryStore.MarkFailed(ctx, id, reason)
}

func (m *MockStore) ExistsByFingerprint(ctx context.Context, fingerprint string) (bool, error) {
	if err := m.enter("ExistsByFingerprint"); err != nil {
		return false, err
	}
	return m.MemoryStore.ExistsByFingerprint(ctx, fingerprint)
}

func (m *MockStore) Get(ctx context.Context, id string) (*models.Document, error) {
	if err := m.enter("Get"); err != nil {
		return nil, err
	}
	return m.MemoryStore.Get(ctx, id)
}

func (m *MockStore) ListStatuses(ctx context.Context, limit int) ([]models.StatusEntry, error) {
	if err := m.enter("ListStatuses"); err != nil {
		return nil, err
	}
	return m.MemoryStore.ListStatuses(ctx, limit)
}

func (m *MockStore) FindByField(ctx context.Context, field, value string) ([]*models.Document, error) {
	if err := m.enter("FindByField"); err != nil {
		return nil, err
	}
	return m.MemoryStore.FindByField(ctx, field, value)
}

func (m *MockStore) ListDocuments(ctx context.Context, limit int) ([]*models.Document, error) {
	if err := m.enter("ListDocuments"); err != nil {
		return nil, err
	}
	return m.MemoryStore.ListDocuments(ctx, limit)
}

func (m *MockStore) Ping(ctx context.Context) error {
	if err := m.enter("Ping"); err != nil {
		return err
	}
	return m.MemoryStore.Ping(ctx)
}

// FakeExtractor is an extract.Extractor that records the paths it saw and
// whether each file existed at the time of the call.
type FakeExtractor struct {
	// Err, when set, is returned instead of a record.
	Err error
	// Gate, when set, blocks every call until it is closed or ctx ends.
	Gate chan struct{}

	mu      sync.Mutex
	paths   []string
	existed []bool
}

func (f *FakeExtractor) Extract(ctx context.Context, path string) (models.Payload, error) {
	_, statErr := os.Stat(path)
	f.mu.Lock()
	f.paths = append(f.paths, path)
	f.existed = append(f.existed, statErr == nil)
	f.mu.Unlock()

	if f.Gate != nil {
		select {
		case <-f.Gate:
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", extract.ErrExtractionFailed, ctx.Err())
		}
	}
	if f.Err != nil {
		if errors.Is(f.Err, extract.ErrExtractionFailed) {
			return nil, f.Err
		}
		return nil, fmt.Errorf("%w: %v", extract.ErrExtractionFailed, f.Err)
	}
	return extract.Placeholder(path), nil
}

// Paths returns the staged paths passed to Extract, in call order.
func (f *FakeExtractor) Paths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.paths...)
}

// Names returns the base names of the paths passed to Extract.
func (f *FakeExtractor) Names() []string {
	var out []string
	for _, p := range f.Paths() {
		out = append(out, filepath.Base(p))
	}
	return out
}

// AllExisted reports whether every extracted file was present on disk when
// Extract was called.
func (f *FakeExtractor) AllExisted() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ok := range f.existed {
		if !ok {
			return false
		}
	}
	return true
}
