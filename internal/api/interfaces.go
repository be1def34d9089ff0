// interfaces.go - Handler interface definitions for clean separation of concerns
package api

import (
	"context"
	"io"

	"github.com/labstack/echo/v4"

	"github.com/pdf-intake/backend/internal/intake"
	"github.com/pdf-intake/backend/internal/queue"
)

// UploadHandler admits files into the intake pipeline
type UploadHandler interface {
	HandleUploadPDF(c echo.Context) error
	HandleUploadMultiplePDFs(c echo.Context) error
	HandleProcessDirectory(c echo.Context) error
}

// QueryHandler serves read-only lookups over stored documents
type QueryHandler interface {
	HandleListStatuses(c echo.Context) error
	HandleGetStatus(c echo.Context) error
	HandleStatusByFilename(c echo.Context) error
	HandleGetData(c echo.Context) error
	HandleDataByFilename(c echo.Context) error
	HandleAllDocs(c echo.Context) error
}

// ExportHandler renders document exports
type ExportHandler interface {
	HandleExportXLSX(c echo.Context) error
}

// HealthHandler handles health check operations
type HealthHandler interface {
	HandleHealth(c echo.Context) error
}

// Intake is the admission side of the lifecycle.
// This allows mocking in tests
type Intake interface {
	Upload(ctx context.Context, name string, r io.Reader) (*intake.Outcome, error)
	UploadMany(ctx context.Context, sources []intake.Source) (*intake.Batch, error)
	ProcessDirectory(ctx context.Context, dir string) (*intake.Batch, error)
}

// QueueStats reports worker pool counters.
type QueueStats interface {
	Stats() queue.Stats
}

// StagingStats reports how many staged files await cleanup.
type StagingStats interface {
	Pending() int
}
