// handlers_upload.go - File admission handlers
package api

import (
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/pdf-intake/backend/internal/intake"
)

const statusProcessing = "processing"

// UploadHandlerImpl implements the UploadHandler interface
type UploadHandlerImpl struct {
	intake Intake
}

// NewUploadHandler creates a new upload handler instance
func NewUploadHandler(in Intake) UploadHandler {
	return &UploadHandlerImpl{intake: in}
}

type uploadResponse struct {
	Status string `json:"status"`
	ID     string `json:"id,omitempty"`
}

type batchResponse struct {
	Status     string   `json:"status"`
	IDs        []string `json:"ids"`
	Duplicates []string `json:"duplicates"`
}

func newBatchResponse(b *intake.Batch) batchResponse {
	return batchResponse{
		Status:     statusProcessing,
		IDs:        b.IDs(),
		Duplicates: b.Duplicates(),
	}
}

// batchError attaches the ids a failed batch had already queued.
func batchError(apiErr *APIError, b *intake.Batch) *APIError {
	if b == nil {
		return apiErr
	}
	ids := b.IDs()
	if len(ids) == 0 {
		return apiErr
	}
	out := *apiErr
	out.Admitted = ids
	return &out
}

// HandleUploadPDF accepts one multipart file under the "file" field
func (h *UploadHandlerImpl) HandleUploadPDF(c echo.Context) error {
	file, err := c.FormFile("file")
	if err != nil {
		return NewBadRequestError("no file provided", err)
	}

	src, err := file.Open()
	if err != nil {
		return NewInternalError("failed to open uploaded file", err)
	}
	defer src.Close()

	out, err := h.intake.Upload(c.Request().Context(), file.Filename, src)
	if err != nil {
		return classify(err, "failed to process upload")
	}
	if out.Duplicate {
		return c.JSON(http.StatusOK, uploadResponse{Status: intake.DuplicateStatus})
	}
	return c.JSON(http.StatusOK, uploadResponse{Status: statusProcessing, ID: out.ID})
}

// HandleUploadMultiplePDFs accepts any number of multipart files under "files"
func (h *UploadHandlerImpl) HandleUploadMultiplePDFs(c echo.Context) error {
	form, err := c.MultipartForm()
	if err != nil {
		return NewBadRequestError("invalid multipart form", err)
	}
	headers := form.File["files"]
	if len(headers) == 0 {
		return NewValidationError("files")
	}

	sources := make([]intake.Source, 0, len(headers))
	for _, fh := range headers {
		fh := fh
		sources = append(sources, intake.Source{
			Name: fh.Filename,
			Open: func() (io.ReadCloser, error) { return fh.Open() },
		})
	}

	batch, err := h.intake.UploadMany(c.Request().Context(), sources)
	if err != nil {
		return batchError(classify(err, "failed to process uploads"), batch)
	}
	return c.JSON(http.StatusOK, newBatchResponse(batch))
}

// HandleProcessDirectory admits every PDF in a server-side directory
func (h *UploadHandlerImpl) HandleProcessDirectory(c echo.Context) error {
	dir := strings.TrimSpace(c.QueryParam("directory"))
	if dir == "" {
		return NewValidationError("directory")
	}

	batch, err := h.intake.ProcessDirectory(c.Request().Context(), dir)
	if err != nil {
		return batchError(classify(err, "failed to process directory"), batch)
	}
	return c.JSON(http.StatusOK, newBatchResponse(batch))
}
