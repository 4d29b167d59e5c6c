package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-roster-import/internal/dto"
	"github.com/noah-isme/sma-roster-import/internal/importer"
	"github.com/noah-isme/sma-roster-import/internal/middleware"
	"github.com/noah-isme/sma-roster-import/internal/models"
	"github.com/noah-isme/sma-roster-import/internal/service"
	appErrors "github.com/noah-isme/sma-roster-import/pkg/errors"
)

type importServiceMock struct {
	submitted  *dto.ImportRequest
	submitResp *dto.ImportJobResponse
	submitErr  error
	getResp    *dto.ImportJobResponse
	getErr     error
	export     *service.ImportExport
	exportErr  error
	format     models.ExportFormat
}

func (m *importServiceMock) Submit(_ context.Context, req dto.ImportRequest) (*dto.ImportJobResponse, error) {
	m.submitted = &req
	return m.submitResp, m.submitErr
}

func (m *importServiceMock) Get(_ context.Context, _ string) (*dto.ImportJobResponse, error) {
	return m.getResp, m.getErr
}

func (m *importServiceMock) Export(_ context.Context, _ string, format models.ExportFormat) (*service.ImportExport, error) {
	m.format = format
	return m.export, m.exportErr
}

func (m *importServiceMock) Templates() []dto.ImportTemplate {
	return []dto.ImportTemplate{{Kind: importer.KindAccount, Columns: importer.Columns(importer.KindAccount)}}
}

type upload struct {
	field    string
	filename string
	body     string
}

func multipartBody(t *testing.T, uploads ...upload) (*bytes.Buffer, string) {
	t.Helper()
	buf := &bytes.Buffer{}
	writer := multipart.NewWriter(buf)
	for _, u := range uploads {
		part, err := writer.CreateFormFile(u.field, u.filename)
		require.NoError(t, err)
		_, err = part.Write([]byte(u.body))
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())
	return buf, writer.FormDataContentType()
}

func newMultipartContext(t *testing.T, target string, uploads ...upload) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	body, contentType := multipartBody(t, uploads...)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req := httptest.NewRequest(http.MethodPost, target, body)
	req.Header.Set("Content-Type", contentType)
	c.Request = req
	c.Set(middleware.ContextIdentityKey, &models.IdentityClaims{UserID: "office-1"})
	return c, w
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) map[string]json.RawMessage {
	t.Helper()
	var envelope map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	return envelope
}

func TestImportHandlerSubmit(t *testing.T) {
	mock := &importServiceMock{submitResp: &dto.ImportJobResponse{ID: "sub-1", Status: models.ImportStatusFinished}}
	h := NewImportHandler(mock, 1<<20)

	c, w := newMultipartContext(t, "/imports?dry_run=true",
		upload{field: "students", filename: "students.csv", body: "student_number,full_name,grade\nS-1,Ana,7\n"},
		upload{field: "accounts", filename: "Accounts.XLSX", body: "not really a workbook"},
	)
	h.Submit(c)

	require.Equal(t, http.StatusCreated, w.Code)
	require.NotNil(t, mock.submitted)
	assert.True(t, mock.submitted.DryRun)
	assert.False(t, mock.submitted.Async)
	assert.Equal(t, "office-1", mock.submitted.ActorID)
	require.Len(t, mock.submitted.Files, 2)
	assert.Equal(t, importer.KindAccount, mock.submitted.Files[0].Kind)
	assert.Equal(t, importer.FormatXLSX, mock.submitted.Files[0].Format)
	assert.Equal(t, importer.KindStudent, mock.submitted.Files[1].Kind)
	assert.Equal(t, importer.FormatCSV, mock.submitted.Files[1].Format)
	assert.Equal(t, "student_number,full_name,grade\nS-1,Ana,7\n", string(mock.submitted.Files[1].Data))
}

func TestImportHandlerSubmitQueued(t *testing.T) {
	mock := &importServiceMock{submitResp: &dto.ImportJobResponse{ID: "sub-2", Status: models.ImportStatusQueued}}
	h := NewImportHandler(mock, 1<<20)

	c, w := newMultipartContext(t, "/imports?async=1", upload{field: "classes", filename: "classes.csv", body: "name\n"})
	h.Submit(c)

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.True(t, mock.submitted.Async)
}

func TestImportHandlerSubmitRejectsBadInput(t *testing.T) {
	cases := []struct {
		name   string
		target string
		upload upload
		status int
		code   string
	}{
		{name: "unknown kind", target: "/imports", upload: upload{field: "terms", filename: "terms.csv", body: "x\n"}, status: http.StatusBadRequest, code: appErrors.ErrUnknownKind.Code},
		{name: "unsupported extension", target: "/imports", upload: upload{field: "classes", filename: "classes.ods", body: "x\n"}, status: http.StatusUnsupportedMediaType, code: appErrors.ErrUnsupportedFormat.Code},
		{name: "bad flag", target: "/imports?dry_run=maybe", upload: upload{field: "classes", filename: "classes.csv", body: "x\n"}, status: http.StatusBadRequest, code: appErrors.ErrValidation.Code},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mock := &importServiceMock{}
			h := NewImportHandler(mock, 1<<20)
			c, w := newMultipartContext(t, tc.target, tc.upload)
			h.Submit(c)

			assert.Equal(t, tc.status, w.Code)
			assert.Contains(t, w.Body.String(), tc.code)
			assert.Nil(t, mock.submitted)
		})
	}
}

func TestImportHandlerSubmitTooLarge(t *testing.T) {
	mock := &importServiceMock{}
	h := NewImportHandler(mock, 64)

	c, w := newMultipartContext(t, "/imports", upload{field: "students", filename: "students.csv", body: string(bytes.Repeat([]byte("S-1,Ana,7\n"), 50))})
	h.Submit(c)

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Nil(t, mock.submitted)
}

func TestImportHandlerSubmitServiceError(t *testing.T) {
	mock := &importServiceMock{submitErr: appErrors.Clone(appErrors.ErrDuplicateKind, "entity kind submitted more than once: student")}
	h := NewImportHandler(mock, 1<<20)

	c, w := newMultipartContext(t, "/imports",
		upload{field: "student", filename: "a.csv", body: "x\n"},
		upload{field: "students", filename: "b.csv", body: "y\n"},
	)
	h.Submit(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	require.Len(t, mock.submitted.Files, 2)
}

func TestImportHandlerGet(t *testing.T) {
	gin.SetMode(gin.TestMode)
	finished := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	mock := &importServiceMock{getResp: &dto.ImportJobResponse{
		ID:         "sub-1",
		Status:     models.ImportStatusFinished,
		FinishedAt: &finished,
		Report:     &importer.Report{SubmissionID: "sub-1", Status: importer.ReportCompleted},
	}}
	h := NewImportHandler(mock, 0)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/imports/sub-1", nil)
	c.Params = gin.Params{{Key: "id", Value: "sub-1"}}
	h.Get(c)

	require.Equal(t, http.StatusOK, w.Code)
	var data dto.ImportJobResponse
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, w)["data"], &data))
	assert.Equal(t, "sub-1", data.ID)
	require.NotNil(t, data.Report)
	assert.Equal(t, importer.ReportCompleted, data.Report.Status)
}

func TestImportHandlerGetMissing(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewImportHandler(&importServiceMock{getErr: appErrors.ErrReportNotFound}, 0)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/imports/nope", nil)
	c.Params = gin.Params{{Key: "id", Value: "nope"}}
	h.Get(c)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), appErrors.ErrReportNotFound.Code)
}

func TestImportHandlerExport(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mock := &importServiceMock{export: &service.ImportExport{Filename: "import-sub-1.pdf", ContentType: "application/pdf", Data: []byte("%PDF-1.3")}}
	h := NewImportHandler(mock, 0)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/imports/sub-1/export?format=pdf", nil)
	c.Params = gin.Params{{Key: "id", Value: "sub-1"}}
	h.Export(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.ExportFormatPDF, mock.format)
	assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "import-sub-1.pdf")
	assert.Equal(t, "%PDF-1.3", w.Body.String())
}

func TestImportHandlerExportDefaultsToCSV(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mock := &importServiceMock{exportErr: appErrors.Clone(appErrors.ErrReportNotFound, "import report not ready")}
	h := NewImportHandler(mock, 0)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/imports/sub-1/export", nil)
	c.Params = gin.Params{{Key: "id", Value: "sub-1"}}
	h.Export(c)

	assert.Equal(t, models.ExportFormatCSV, mock.format)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestImportHandlerTemplates(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewImportHandler(&importServiceMock{}, 0)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/imports/templates", nil)
	h.Templates(c)

	require.Equal(t, http.StatusOK, w.Code)
	var data []dto.ImportTemplate
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, w)["data"], &data))
	require.Len(t, data, 1)
	assert.Contains(t, data[0].Columns, "email")
}

type pingStub struct{ err error }

func (p pingStub) PingContext(context.Context) error { return p.err }

func TestMetricsHandlerReady(t *testing.T) {
	gin.SetMode(gin.TestMode)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/ready", nil)
	NewMetricsHandler(nil, map[string]Pinger{"postgres": pingStub{}}).Ready(c)
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	c, _ = gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/ready", nil)
	NewMetricsHandler(nil, map[string]Pinger{"postgres": pingStub{}, "redis": pingStub{err: errors.New("connection refused")}}).Ready(c)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "connection refused")
}
