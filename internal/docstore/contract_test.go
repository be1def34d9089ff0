package docstore

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdf-intake/backend/internal/fingerprint"
	"github.com/pdf-intake/backend/internal/models"
)

// runContract exercises the Store contract against a fresh, empty store.
func runContract(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	payload := func(filename string) models.Payload {
		return models.Payload{"filename": filename, "vendor_name": "None", "total_amount": "None"}
	}

	t.Run("put initial creates processing record", func(t *testing.T) {
		s := newStore(t)
		fp := fingerprint.Bytes([]byte("HELLO-PDF"))

		require.NoError(t, s.PutInitial(ctx, fp, fp))

		doc, err := s.Get(ctx, fp)
		require.NoError(t, err)
		assert.Equal(t, fp, doc.ID)
		assert.Equal(t, fp, doc.Fingerprint)
		assert.Equal(t, models.StatusProcessing, doc.Status)
		assert.Empty(t, doc.Payload)
		assert.False(t, doc.CreatedAt.IsZero())
	})

	t.Run("put initial rejects duplicate id", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.PutInitial(ctx, "a", "fp-a"))

		err := s.PutInitial(ctx, "a", "fp-other")
		assert.ErrorIs(t, err, ErrAlreadyExists)
	})

	t.Run("put initial rejects duplicate fingerprint", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.PutInitial(ctx, "a", "fp-a"))

		err := s.PutInitial(ctx, "b", "fp-a")
		assert.ErrorIs(t, err, ErrAlreadyExists)

		_, err = s.Get(ctx, "b")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("empty fingerprints do not collide", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.PutInitial(ctx, "a", ""))
		require.NoError(t, s.PutInitial(ctx, "b", ""))
	})

	t.Run("exists by fingerprint", func(t *testing.T) {
		s := newStore(t)
		ok, err := s.ExistsByFingerprint(ctx, "fp-a")
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, s.PutInitial(ctx, "a", "fp-a"))

		ok, err = s.ExistsByFingerprint(ctx, "fp-a")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("mark complete is idempotent", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.PutInitial(ctx, "a", "fp-a"))

		require.NoError(t, s.MarkComplete(ctx, "a", payload("a.pdf")))
		first, err := s.Get(ctx, "a")
		require.NoError(t, err)

		require.NoError(t, s.MarkComplete(ctx, "a", payload("a.pdf")))
		second, err := s.Get(ctx, "a")
		require.NoError(t, err)

		assert.Equal(t, models.StatusComplete, second.Status)
		assert.Equal(t, first.Status, second.Status)
		assert.Equal(t, first.Payload, second.Payload)
		assert.Equal(t, first.Fingerprint, second.Fingerprint)
		assert.Equal(t, "a.pdf", second.Payload.Filename())
	})

	t.Run("mark complete on missing id", func(t *testing.T) {
		s := newStore(t)
		err := s.MarkComplete(ctx, "missing", payload("x.pdf"))
		assert.ErrorIs(t, err, ErrNotFound)
		assert.NotErrorIs(t, err, ErrUnavailable)
	})

	t.Run("failed is terminal", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.PutInitial(ctx, "a", "fp-a"))
		require.NoError(t, s.MarkFailed(ctx, "a", "extractor exited 1"))

		doc, err := s.Get(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, models.StatusFailed, doc.Status)
		assert.Equal(t, "extractor exited 1", doc.Error)

		err = s.MarkComplete(ctx, "a", payload("a.pdf"))
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})

	t.Run("complete cannot move to failed", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.PutInitial(ctx, "a", "fp-a"))
		require.NoError(t, s.MarkComplete(ctx, "a", payload("a.pdf")))

		err := s.MarkFailed(ctx, "a", "late failure")
		assert.ErrorIs(t, err, ErrInvalidTransition)

		doc, err := s.Get(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, models.StatusComplete, doc.Status)
	})

	t.Run("get missing id", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.NotErrorIs(t, err, ErrUnavailable)
	})

	t.Run("find by filename", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.PutInitial(ctx, "a", "fp-a"))
		require.NoError(t, s.PutInitial(ctx, "b", "fp-b"))
		require.NoError(t, s.PutInitial(ctx, "c", "fp-c"))
		require.NoError(t, s.MarkComplete(ctx, "a", payload("invoice.pdf")))
		require.NoError(t, s.MarkComplete(ctx, "b", payload("other.pdf")))

		docs, err := s.FindByField(ctx, "filename", "invoice.pdf")
		require.NoError(t, err)
		require.Len(t, docs, 1)
		assert.Equal(t, "a", docs[0].ID)

		docs, err = s.FindByField(ctx, "filename", "nothing.pdf")
		require.NoError(t, err)
		assert.Empty(t, docs)

		_, err = s.FindByField(ctx, "vendor_name", "None")
		assert.ErrorIs(t, err, ErrUnindexedField)
	})

	t.Run("filename index follows a changed payload", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.PutInitial(ctx, "a", "fp-a"))
		require.NoError(t, s.MarkComplete(ctx, "a", payload("first.pdf")))
		require.NoError(t, s.MarkComplete(ctx, "a", payload("second.pdf")))

		docs, err := s.FindByField(ctx, "filename", "first.pdf")
		require.NoError(t, err)
		assert.Empty(t, docs)

		docs, err = s.FindByField(ctx, "filename", "second.pdf")
		require.NoError(t, err)
		require.Len(t, docs, 1)
		assert.Equal(t, "a", docs[0].ID)
	})

	t.Run("list statuses and documents", func(t *testing.T) {
		s := newStore(t)
		for i := 0; i < 5; i++ {
			id := fmt.Sprintf("doc-%d", i)
			require.NoError(t, s.PutInitial(ctx, id, "fp-"+id))
			time.Sleep(2 * time.Millisecond)
		}
		require.NoError(t, s.MarkComplete(ctx, "doc-0", payload("zero.pdf")))

		statuses, err := s.ListStatuses(ctx, 0)
		require.NoError(t, err)
		require.Len(t, statuses, 5)
		assert.Equal(t, models.StatusEntry{ID: "doc-0", Status: models.StatusComplete}, statuses[0])
		assert.Equal(t, models.StatusProcessing, statuses[4].Status)

		docs, err := s.ListDocuments(ctx, 3)
		require.NoError(t, err)
		require.Len(t, docs, 3)
		assert.Equal(t, "doc-0", docs[0].ID)
		assert.Equal(t, "zero.pdf", docs[0].Payload.Filename())
	})

	t.Run("ping", func(t *testing.T) {
		s := newStore(t)
		assert.NoError(t, s.Ping(ctx))
	})
}

func TestMemoryStore_Contract(t *testing.T) {
	runContract(t, func(t *testing.T) Store {
		return NewMemoryStore()
	})
}

func TestMemoryStore_ListDocumentsCap(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	for i := 0; i < MaxListDocuments+25; i++ {
		id := fmt.Sprintf("doc-%05d", i)
		require.NoError(t, s.PutInitial(ctx, id, id))
	}

	docs, err := s.ListDocuments(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, docs, MaxListDocuments)

	docs, err = s.ListDocuments(ctx, MaxListDocuments*2)
	require.NoError(t, err)
	assert.Len(t, docs, MaxListDocuments)

	statuses, err := s.ListStatuses(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, statuses, MaxListDocuments)
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.PutInitial(ctx, "a", "fp-a"))
	require.NoError(t, s.MarkComplete(ctx, "a", models.Payload{"filename": "a.pdf"}))

	doc, err := s.Get(ctx, "a")
	require.NoError(t, err)
	doc.Payload["filename"] = "mutated.pdf"
	doc.Status = models.StatusFailed

	again, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "a.pdf", again.Payload.Filename())
	assert.Equal(t, models.StatusComplete, again.Status)
}

func TestMemoryStore_ConcurrentPutInitial(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	fp := fingerprint.Bytes([]byte("same bytes"))

	results := make(chan error, 20)
	for i := 0; i < 20; i++ {
		go func() {
			results <- s.PutInitial(ctx, fp, fp)
		}()
	}

	created := 0
	for i := 0; i < 20; i++ {
		err := <-results
		if err == nil {
			created++
			continue
		}
		assert.ErrorIs(t, err, ErrAlreadyExists)
	}
	assert.Equal(t, 1, created)
}
