// handlers_upload_test.go - Tests for admission handlers
package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdf-intake/backend/internal/intake"
	"github.com/pdf-intake/backend/internal/models"
	"github.com/pdf-intake/backend/internal/testutil"
)

func TestUploadPDF_Lifecycle(t *testing.T) {
	ts := newTestServer(t, intake.Config{})
	ts.extractor.Gate = make(chan struct{})

	rec := ts.do(multipartRequest(t, "/upload-pdf/", formFile{"file", "hello.pdf", "HELLO-PDF"}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, "processing", body["status"])
	assert.Equal(t, helloHash, body["id"])

	rec = ts.get("/status/" + helloHash)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "processing", decode(t, rec)["status"])

	close(ts.extractor.Gate)
	ts.drain(t)

	rec = ts.get("/status/" + helloHash)
	assert.Equal(t, "complete", decode(t, rec)["status"])

	rec = ts.get("/data/" + helloHash)
	require.Equal(t, http.StatusOK, rec.Code)
	data := decode(t, rec)
	assert.Equal(t, "hello.pdf", data["filename"])
	assert.Equal(t, helloHash, data["file_hash"])
	assert.Equal(t, "None", data["total_amount"])

	entries, err := os.ReadDir(ts.area.Dir())
	require.NoError(t, err)
	assert.Empty(t, entries, "staged files must be removed")
}

func TestUploadPDF_Duplicate(t *testing.T) {
	ts := newTestServer(t, intake.Config{})

	first := ts.do(multipartRequest(t, "/upload-pdf/", formFile{"file", "a.pdf", "HELLO-PDF"}))
	require.Equal(t, http.StatusOK, first.Code)
	second := ts.do(multipartRequest(t, "/upload-pdf", formFile{"file", "b.pdf", "HELLO-PDF"}))
	require.Equal(t, http.StatusOK, second.Code)

	body := decode(t, second)
	assert.Equal(t, "file has already been processed", body["status"])
	assert.NotContains(t, body, "id")

	ts.drain(t)
	rec := ts.get("/status/")
	statuses := decode(t, rec)["statuses"].([]any)
	assert.Len(t, statuses, 1)
}

func TestUploadHandler_HandleUploadPDF(t *testing.T) {
	tests := []struct {
		name       string
		files      []formFile
		outage     error
		wantStatus int
		errCode    string
	}{
		{
			name:       "valid upload",
			files:      []formFile{{"file", "ok.pdf", "content"}},
			wantStatus: http.StatusOK,
		},
		{
			name:       "missing file field",
			files:      []formFile{{"other", "ok.pdf", "content"}},
			wantStatus: http.StatusBadRequest,
			errCode:    "BAD_REQUEST",
		},
		{
			name:       "store outage",
			files:      []formFile{{"file", "ok.pdf", "content"}},
			outage:     testutil.ErrOutage,
			wantStatus: http.StatusServiceUnavailable,
			errCode:    "SERVICE_UNAVAILABLE",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, intake.Config{})
			ts.store.SetOutage(tt.outage)
			handler := NewUploadHandler(intake.NewService(ts.store, ts.area, ts.extractor, ts.queue, intake.Config{}, nil))

			rec := httptest.NewRecorder()
			c := ts.e.NewContext(multipartRequest(t, "/upload-pdf/", tt.files...), rec)
			err := handler.HandleUploadPDF(c)

			if tt.errCode != "" {
				var apiErr *APIError
				require.ErrorAs(t, err, &apiErr)
				assert.Equal(t, tt.wantStatus, apiErr.Status)
				assert.Equal(t, tt.errCode, apiErr.Code)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestUploadMultiplePDFs(t *testing.T) {
	t.Run("admits every file and reports duplicates", func(t *testing.T) {
		ts := newTestServer(t, intake.Config{BatchDedup: true, Parallelism: 1})

		rec := ts.do(multipartRequest(t, "/upload-multiple-pdfs/",
			formFile{"files", "a.pdf", "alpha"},
			formFile{"files", "b.pdf", "bravo"},
			formFile{"files", "a-copy.pdf", "alpha"},
		))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		body := decode(t, rec)
		assert.Equal(t, "processing", body["status"])
		assert.Len(t, body["ids"], 2)
		assert.Equal(t, []any{"a-copy.pdf"}, body["duplicates"])

		ts.drain(t)
		assert.ElementsMatch(t, []string{"a.pdf", "b.pdf"}, ts.extractor.Names())
	})

	t.Run("failed batch with nothing admitted", func(t *testing.T) {
		ts := newTestServer(t, intake.Config{BatchDedup: true, Parallelism: 1})
		ts.store.FailOn("PutInitial", testutil.ErrOutage)

		rec := ts.do(multipartRequest(t, "/upload-multiple-pdfs/", formFile{"files", "a.pdf", "alpha"}))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.NotContains(t, decode(t, rec), "admitted")
	})

	t.Run("no files", func(t *testing.T) {
		ts := newTestServer(t, intake.Config{})

		rec := ts.do(multipartRequest(t, "/upload-multiple-pdfs/", formFile{"file", "a.pdf", "x"}))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "VALIDATION_ERROR", decode(t, rec)["code"])
	})
}

func TestProcessDirectory(t *testing.T) {
	ts := newTestServer(t, intake.Config{BatchDedup: true})
	dir := t.TempDir()
	for name, content := range map[string]string{"one.pdf": "1", "TWO.PDF": "2", "readme.md": "x"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
	}

	rec := ts.do(httptest.NewRequest(http.MethodPost, "/process-directory/?directory="+dir, nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Len(t, body["ids"], 2)
	assert.Empty(t, body["duplicates"])

	ts.drain(t)
	for _, id := range body["ids"].([]any) {
		rec := ts.get("/status/" + id.(string))
		assert.Equal(t, string(models.StatusComplete), decode(t, rec)["status"])
	}

	tests := []struct {
		name  string
		query string
		code  string
	}{
		{"missing parameter", "", "VALIDATION_ERROR"},
		{"not a directory", "?directory=" + filepath.Join(dir, "one.pdf"), "BAD_REQUEST"},
		{"does not exist", "?directory=" + filepath.Join(dir, "nope"), "BAD_REQUEST"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, intake.Config{})
			rec := ts.do(httptest.NewRequest(http.MethodPost, "/process-directory/"+tt.query, nil))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.code, decode(t, rec)["code"])
		})
	}
}

// stubIntake lets handler tests force intake errors.
type stubIntake struct {
	err   error
	batch *intake.Batch
}

func (s stubIntake) Upload(context.Context, string, io.Reader) (*intake.Outcome, error) {
	return nil, s.err
}

func (s stubIntake) UploadMany(context.Context, []intake.Source) (*intake.Batch, error) {
	return s.batch, s.err
}

func (s stubIntake) ProcessDirectory(context.Context, string) (*intake.Batch, error) {
	return s.batch, s.err
}

func TestUploadHandler_PartialBatch(t *testing.T) {
	partial := &intake.Batch{Outcomes: []intake.Outcome{
		{ID: "id-1", Filename: "a.pdf"},
		{Filename: "b.pdf", Duplicate: true},
		{},
	}}
	e := echo.New()
	e.HTTPErrorHandler = NewErrorHandler(nil, false)
	h := NewUploadHandler(stubIntake{err: testutil.ErrOutage, batch: partial})
	e.POST("/upload-multiple-pdfs/", h.HandleUploadMultiplePDFs)
	e.POST("/process-directory/", h.HandleProcessDirectory)

	t.Run("multiple upload", func(t *testing.T) {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, multipartRequest(t, "/upload-multiple-pdfs/", formFile{"files", "a.pdf", "x"}))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, []any{"id-1"}, decode(t, rec)["admitted"])
	})

	t.Run("directory", func(t *testing.T) {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/process-directory/?directory=/tmp", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, []any{"id-1"}, decode(t, rec)["admitted"])
	})
}

func TestUploadHandler_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"invalid filename", intake.ErrInvalidFilename, http.StatusBadRequest},
		{"unexpected", errors.New("disk full"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewUploadHandler(stubIntake{err: tt.err})
			e := echo.New()
			c := e.NewContext(multipartRequest(t, "/upload-pdf/", formFile{"file", "x.pdf", "x"}), httptest.NewRecorder())

			err := h.HandleUploadPDF(c)
			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.wantStatus, apiErr.Status)
		})
	}
}
