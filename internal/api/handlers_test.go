package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"

	"github.com/pdf-intake/backend/internal/intake"
	"github.com/pdf-intake/backend/internal/queue"
	"github.com/pdf-intake/backend/internal/staging"
	"github.com/pdf-intake/backend/internal/testutil"
)

const helloHash = "e9d69d86804ba990d00eab9154997719ca7a6572755c4814d5f5d8511655eeba"

type testServer struct {
	e         *echo.Echo
	store     *testutil.MockStore
	extractor *testutil.FakeExtractor
	queue     *queue.Queue
	area      *staging.Area
}

func newTestServer(t *testing.T, cfg intake.Config) *testServer {
	t.Helper()
	area, err := staging.NewArea(t.TempDir())
	require.NoError(t, err)

	ts := &testServer{
		e:         echo.New(),
		store:     testutil.NewMockStore(),
		extractor: &testutil.FakeExtractor{},
		queue:     queue.New(nil, queue.WithWorkers(2)),
		area:      area,
	}
	t.Cleanup(func() { _ = ts.queue.Shutdown(context.Background()) })

	svc := intake.NewService(ts.store, area, ts.extractor, ts.queue, cfg, nil)
	ts.e.HTTPErrorHandler = NewErrorHandler(nil, true)
	RegisterRoutes(ts.e, NewHandlers(&Dependencies{
		Store:   ts.store,
		Intake:  svc,
		Queue:   ts.queue,
		Staging: area,
		Version: "test",
	}))
	return ts
}

// drain waits until every deferred extraction has finished.
func (ts *testServer) drain(t *testing.T) {
	t.Helper()
	require.NoError(t, ts.queue.Shutdown(context.Background()))
}

func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	ts.e.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) get(path string) *httptest.ResponseRecorder {
	return ts.do(httptest.NewRequest(http.MethodGet, path, nil))
}

type formFile struct {
	field, name, content string
}

func multipartRequest(t *testing.T, path string, files ...formFile) *http.Request {
	t.Helper()
	body := new(bytes.Buffer)
	writer := multipart.NewWriter(body)
	for _, f := range files {
		part, err := writer.CreateFormFile(f.field, f.name)
		require.NoError(t, err)
		_, err = part.Write([]byte(f.content))
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set(echo.HeaderContentType, writer.FormDataContentType())
	return req
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}
