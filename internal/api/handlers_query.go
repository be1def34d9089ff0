// handlers_query.go - Read-only document lookups
package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/pdf-intake/backend/internal/docstore"
	"github.com/pdf-intake/backend/internal/models"
)

const mimeMsgpack = "application/msgpack"

// QueryHandlerImpl implements the QueryHandler interface
type QueryHandlerImpl struct {
	store     docstore.Store
	listLimit int
}

// NewQueryHandler creates a query handler. listLimit caps list endpoints.
func NewQueryHandler(store docstore.Store, listLimit int) QueryHandler {
	if listLimit <= 0 || listLimit > docstore.MaxListDocuments {
		listLimit = docstore.MaxListDocuments
	}
	return &QueryHandlerImpl{store: store, listLimit: listLimit}
}

func requireQuery(c echo.Context, name string) (string, error) {
	v := c.QueryParam(name)
	if strings.TrimSpace(v) == "" {
		return "", NewValidationError(name)
	}
	return v, nil
}

func flattenAll(docs []*models.Document) []map[string]any {
	out := make([]map[string]any, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.Flatten())
	}
	return out
}

func statusesOf(docs []*models.Document) []models.StatusEntry {
	out := make([]models.StatusEntry, 0, len(docs))
	for _, d := range docs {
		out = append(out, models.StatusEntry{ID: d.ID, Status: d.Status})
	}
	return out
}

// getDocument maps a missing id to 404 and every other failure through classify.
func (h *QueryHandlerImpl) getDocument(c echo.Context) (*models.Document, error) {
	id := c.Param("id")
	doc, err := h.store.Get(c.Request().Context(), id)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, NewNotFoundError("document", id)
	}
	if err != nil {
		return nil, classify(err, "failed to load document")
	}
	return doc, nil
}

// HandleListStatuses returns {id,status} for every record
func (h *QueryHandlerImpl) HandleListStatuses(c echo.Context) error {
	statuses, err := h.store.ListStatuses(c.Request().Context(), h.listLimit)
	if err != nil {
		return classify(err, "failed to list statuses")
	}
	if statuses == nil {
		statuses = []models.StatusEntry{}
	}
	return c.JSON(http.StatusOK, map[string]any{"statuses": statuses})
}

// HandleGetStatus returns the status of one record
func (h *QueryHandlerImpl) HandleGetStatus(c echo.Context) error {
	doc, err := h.getDocument(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, models.StatusEntry{ID: doc.ID, Status: doc.Status})
}

// HandleStatusByFilename returns the statuses of records whose payload
// filename matches exactly. An empty result is not an error.
func (h *QueryHandlerImpl) HandleStatusByFilename(c echo.Context) error {
	filename, err := requireQuery(c, "filename")
	if err != nil {
		return err
	}
	docs, err := h.store.FindByField(c.Request().Context(), "filename", filename)
	if err != nil {
		return classify(err, "failed to search documents")
	}
	return c.JSON(http.StatusOK, map[string]any{"statuses": statusesOf(docs)})
}

// HandleGetData returns one record as a flat object
func (h *QueryHandlerImpl) HandleGetData(c echo.Context) error {
	doc, err := h.getDocument(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, doc.Flatten())
}

// HandleDataByFilename returns every record matching filename, 404 if none
func (h *QueryHandlerImpl) HandleDataByFilename(c echo.Context) error {
	filename, err := requireQuery(c, "filename")
	if err != nil {
		return err
	}
	docs, err := h.store.FindByField(c.Request().Context(), "filename", filename)
	if err != nil {
		return classify(err, "failed to search documents")
	}
	if len(docs) == 0 {
		return NewNotFoundError("data for filename", filename)
	}
	return c.JSON(http.StatusOK, map[string]any{"data": flattenAll(docs)})
}

// HandleAllDocs returns every record, up to the list cap. Clients that
// accept application/msgpack (or pass format=msgpack) get MessagePack.
func (h *QueryHandlerImpl) HandleAllDocs(c echo.Context) error {
	docs, err := h.store.ListDocuments(c.Request().Context(), h.listLimit)
	if err != nil {
		return classify(err, "failed to list documents")
	}
	body := map[string]any{"documents": flattenAll(docs)}

	if wantsMsgpack(c) {
		data, err := msgpack.Marshal(body)
		if err != nil {
			return NewInternalError("failed to encode msgpack", err)
		}
		return c.Blob(http.StatusOK, mimeMsgpack, data)
	}
	return c.JSON(http.StatusOK, body)
}

func wantsMsgpack(c echo.Context) bool {
	if strings.EqualFold(c.QueryParam("format"), "msgpack") {
		return true
	}
	return strings.Contains(c.Request().Header.Get(echo.HeaderAccept), mimeMsgpack)
}
