package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-roster-import/internal/dto"
	"github.com/noah-isme/sma-roster-import/internal/importer"
	"github.com/noah-isme/sma-roster-import/internal/middleware"
	"github.com/noah-isme/sma-roster-import/internal/models"
	"github.com/noah-isme/sma-roster-import/internal/service"
	appErrors "github.com/noah-isme/sma-roster-import/pkg/errors"
	"github.com/noah-isme/sma-roster-import/pkg/response"
)

type importService interface {
	Submit(ctx context.Context, req dto.ImportRequest) (*dto.ImportJobResponse, error)
	Get(ctx context.Context, id string) (*dto.ImportJobResponse, error)
	Export(ctx context.Context, id string, format models.ExportFormat) (*service.ImportExport, error)
	Templates() []dto.ImportTemplate
}

// ImportHandler exposes roster import endpoints.
type ImportHandler struct {
	imports        importService
	maxUploadBytes int64
}

// NewImportHandler constructs the handler. maxUploadBytes caps the whole multipart body.
func NewImportHandler(imports importService, maxUploadBytes int64) *ImportHandler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = 10 << 20
	}
	return &ImportHandler{imports: imports, maxUploadBytes: maxUploadBytes}
}

// Submit godoc
// @Summary Import roster files
// @Description Each multipart file field is named after its entity kind (accounts, classes, course_sections, students, scores). The format follows the file extension (.csv or .xlsx).
// @Tags Imports
// @Accept multipart/form-data
// @Produce json
// @Param dry_run query bool false "Validate and resolve without writing"
// @Param async query bool false "Queue the submission and poll for its report"
// @Success 201 {object} response.Envelope
// @Success 202 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 413 {object} response.Envelope
// @Failure 415 {object} response.Envelope
// @Router /imports [post]
func (h *ImportHandler) Submit(c *gin.Context) {
	if c.Request.ContentLength > h.maxUploadBytes {
		response.Error(c, appErrors.ErrPayloadTooLarge)
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)

	form, err := c.MultipartForm()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.Error(c, appErrors.ErrPayloadTooLarge)
			return
		}
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid multipart form"))
		return
	}

	files, err := readUploads(form)
	if err != nil {
		response.Error(c, err)
		return
	}

	dryRun, err := boolParam(c, "dry_run")
	if err != nil {
		response.Error(c, err)
		return
	}
	async, err := boolParam(c, "async")
	if err != nil {
		response.Error(c, err)
		return
	}

	req := dto.ImportRequest{
		Files:   files,
		DryRun:  dryRun,
		Async:   async,
		ActorID: middleware.IdentityFromContext(c).Actor(),
	}
	result, err := h.imports.Submit(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	if result.Status == models.ImportStatusQueued {
		response.Accepted(c, result)
		return
	}
	response.Created(c, result)
}

// Get godoc
// @Summary Import status and report
// @Tags Imports
// @Produce json
// @Param id path string true "Submission ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /imports/{id} [get]
func (h *ImportHandler) Get(c *gin.Context) {
	result, err := h.imports.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result)
}

// Export godoc
// @Summary Download an import report
// @Tags Imports
// @Produce text/csv
// @Produce application/pdf
// @Param id path string true "Submission ID"
// @Param format query string false "csv or pdf" default(csv)
// @Success 200 {file} file
// @Failure 404 {object} response.Envelope
// @Router /imports/{id}/export [get]
func (h *ImportHandler) Export(c *gin.Context) {
	format := models.ExportFormat(c.DefaultQuery("format", string(models.ExportFormatCSV)))
	file, err := h.imports.Export(c.Request.Context(), c.Param("id"), format)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, file.Filename, file.ContentType, file.Data)
}

// Templates godoc
// @Summary Accepted columns per entity kind
// @Tags Imports
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /imports/templates [get]
func (h *ImportHandler) Templates(c *gin.Context) {
	response.JSON(c, http.StatusOK, h.imports.Templates())
}

// readUploads maps multipart file fields onto kind-tagged files, in field name order.
func readUploads(form *multipart.Form) ([]dto.ImportFile, error) {
	fields := make([]string, 0, len(form.File))
	for field := range form.File {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	files := make([]dto.ImportFile, 0, len(fields))
	for _, field := range fields {
		kind, err := importer.ParseKind(field)
		if err != nil {
			return nil, appErrors.Clone(appErrors.ErrUnknownKind, fmt.Sprintf("unknown entity kind %q", field))
		}
		for _, header := range form.File[field] {
			format, err := importer.ParseFormat(filepath.Ext(header.Filename))
			if err != nil {
				return nil, appErrors.Clone(appErrors.ErrUnsupportedFormat, fmt.Sprintf("unsupported file %q", header.Filename))
			}
			data, err := readUpload(header)
			if err != nil {
				return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, fmt.Sprintf("failed to read %q", header.Filename))
			}
			files = append(files, dto.ImportFile{Kind: kind, Format: format, Name: header.Filename, Data: data})
		}
	}
	return files, nil
}

func readUpload(header *multipart.FileHeader) ([]byte, error) {
	file, err := header.Open()
	if err != nil {
		return nil, err
	}
	defer file.Close() //nolint:errcheck
	return io.ReadAll(file)
}

func boolParam(c *gin.Context, name string) (bool, error) {
	raw := c.Query(name)
	if raw == "" {
		raw = c.PostForm(name)
	}
	if raw == "" {
		return false, nil
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return false, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("%s must be a boolean", name))
	}
	return value, nil
}
