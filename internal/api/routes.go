// routes.go - Route registration helpers
// This file provides a clean way to register all API routes
package api

import (
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/pdf-intake/backend/internal/docstore"
)

// Dependencies holds all handler dependencies
type Dependencies struct {
	Store     docstore.Store
	Intake    Intake
	Queue     QueueStats
	Staging   StagingStats
	ListLimit int
	Version   string
}

// Handlers holds all handler instances
type Handlers struct {
	Health HealthHandler
	Upload UploadHandler
	Query  QueryHandler
	Export ExportHandler
}

// NewHandlers creates all handler instances
func NewHandlers(deps *Dependencies) *Handlers {
	return &Handlers{
		Health: NewHealthHandler(deps.Version, deps.Store, deps.Queue, deps.Staging),
		Upload: NewUploadHandler(deps.Intake),
		Query:  NewQueryHandler(deps.Store, deps.ListLimit),
		Export: NewExportHandler(deps.Store, deps.ListLimit),
	}
}

// RegisterRoutes registers all API routes with the Echo instance
func RegisterRoutes(e *echo.Echo, handlers *Handlers) {
	e.GET("/health", handlers.Health.HandleHealth)

	// Admission
	both(e.POST, "/upload-pdf/", handlers.Upload.HandleUploadPDF)
	both(e.POST, "/upload-multiple-pdfs/", handlers.Upload.HandleUploadMultiplePDFs)
	both(e.POST, "/process-directory/", handlers.Upload.HandleProcessDirectory)

	// Queries
	both(e.GET, "/status/", handlers.Query.HandleListStatuses)
	e.GET("/status/:id", handlers.Query.HandleGetStatus)
	both(e.GET, "/status-by-filename/", handlers.Query.HandleStatusByFilename)
	e.GET("/data/:id", handlers.Query.HandleGetData)
	both(e.GET, "/data-by-filename/", handlers.Query.HandleDataByFilename)
	both(e.GET, "/all-docs/", handlers.Query.HandleAllDocs)
	e.GET("/all-docs/export.xlsx", handlers.Export.HandleExportXLSX)
}

// both registers path with and without its trailing slash.
func both(add func(string, echo.HandlerFunc, ...echo.MiddlewareFunc) *echo.Route, path string, h echo.HandlerFunc) {
	add(path, h)
	add(strings.TrimSuffix(path, "/"), h)
}
