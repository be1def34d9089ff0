// handlers_export.go - Spreadsheet export
package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/pdf-intake/backend/internal/docstore"
	"github.com/pdf-intake/backend/internal/export"
)

// ExportHandlerImpl implements the ExportHandler interface
type ExportHandlerImpl struct {
	store     docstore.Store
	listLimit int
}

func NewExportHandler(store docstore.Store, listLimit int) ExportHandler {
	if listLimit <= 0 || listLimit > docstore.MaxListDocuments {
		listLimit = docstore.MaxListDocuments
	}
	return &ExportHandlerImpl{store: store, listLimit: listLimit}
}

// HandleExportXLSX streams every document as an XLSX attachment
func (h *ExportHandlerImpl) HandleExportXLSX(c echo.Context) error {
	docs, err := h.store.ListDocuments(c.Request().Context(), h.listLimit)
	if err != nil {
		return classify(err, "failed to list documents")
	}

	data, err := export.Workbook(docs)
	if err != nil {
		return NewInternalError("failed to build workbook", err)
	}

	name := fmt.Sprintf("documents-%s.xlsx", time.Now().UTC().Format("20060102-150405"))
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", name))
	return c.Blob(http.StatusOK, export.ContentType, data)
}
