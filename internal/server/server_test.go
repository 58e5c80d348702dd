package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"report_engine/internal/config"
	"report_engine/internal/engine"
	"report_engine/internal/models"
	"report_engine/internal/provider"
	"report_engine/internal/service"
	"report_engine/internal/storage"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const inventoryTemplate = `
name: inventory
title: Inventory
parameters:
  - name: owner
    required: true
columns:
  - field: sku
  - field: qty
    align: right
rows:
  - {sku: A-1, qty: 3}
  - {sku: B-2, qty: 5}
`

func setupServer(t *testing.T) *Server {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Discard})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(models.All()...))

	store, err := storage.New(config.Storage{Type: storage.TypeLocal, BasePath: t.TempDir()},
		storage.Options{MaxRetries: 1, RetryDelay: time.Millisecond}, log)
	require.NoError(t, err)

	props := provider.NewProperties(db, nil)
	eng, err := engine.New(engine.BackendTemplate, engine.Dependencies{
		Directory:   provider.NewDirectory(store, "reports"),
		Templates:   store,
		Connections: provider.NewDataSources(db, log),
		Properties:  props,
		Logger:      log,
	})
	require.NoError(t, err)

	svc := service.NewReportService(service.NewGormReportRepository(db), eng, store, "reports", log)
	return NewServer(config.Config{}, svc, props, log)
}

func do(t *testing.T, s *Server, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" && !strings.HasSuffix(target, "/template") {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthCheck(t *testing.T) {
	s := setupServer(t)
	rec := do(t, s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestReportLifecycle(t *testing.T) {
	s := setupServer(t)

	rec := do(t, s, http.MethodPost, "/api/v1/reports", `{"name":"inventory","file":"inventory.yaml","created_by":"alice"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var report models.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	require.NotZero(t, report.ID)

	rec = do(t, s, http.MethodPost, "/api/v1/reports", `{"name":"broken"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// No template uploaded yet.
	rec = do(t, s, http.MethodPost, "/api/v1/reports/1/render", `{"format":"csv","parameters":{"owner":"bob"}}`)
	assert.Equal(t, http.StatusNotFound, rec.Code, rec.Body.String())

	rec = do(t, s, http.MethodPut, "/api/v1/reports/1/template", "columns: [")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(t, s, http.MethodPut, "/api/v1/reports/1/template", inventoryTemplate)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = do(t, s, http.MethodGet, "/api/v1/reports/1/parameters", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"name":"owner"`)

	rec = do(t, s, http.MethodPost, "/api/v1/reports/1/render", `{"format":"csv","parameters":{"owner":"bob"}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "sku,qty\nA-1,3\nB-2,5\n", rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Type"), engine.ContentTypeCSV)
	assert.Equal(t, `attachment; filename="inventory.csv"`, rec.Header().Get("Content-Disposition"))

	rec = do(t, s, http.MethodPost, "/api/v1/reports/1/render?format=pdf", `{"parameters":{"owner":"bob"}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, strings.HasPrefix(rec.Body.String(), "%PDF"))

	rec = do(t, s, http.MethodPost, "/api/v1/reports/1/render", `{"format":"image","parameters":{"owner":"bob"}}`)
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)

	rec = do(t, s, http.MethodPost, "/api/v1/reports/1/render", `{"format":"docx"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodPatch, "/api/v1/reports/1", `{"description":"stock levels"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, s, http.MethodGet, "/api/v1/reports?search=invent", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list service.ReportList
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Reports, 1)
	assert.Equal(t, "stock levels", list.Reports[0].Description)

	rec = do(t, s, http.MethodDelete, "/api/v1/reports/1", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, s, http.MethodGet, "/api/v1/reports/1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestInvalidReportID(t *testing.T) {
	s := setupServer(t)
	rec := do(t, s, http.MethodGet, "/api/v1/reports/abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFormats(t *testing.T) {
	s := setupServer(t)
	rec := do(t, s, http.MethodGet, "/api/v1/formats", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Formats []string `json:"formats"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body.Formats, "pdf")
	assert.Contains(t, body.Formats, "rtf")
	assert.NotContains(t, body.Formats, "image")
}

func TestSetProperty(t *testing.T) {
	s := setupServer(t)

	rec := do(t, s, http.MethodPut, "/api/v1/properties/maxRows", `{"value":"1"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	do(t, s, http.MethodPost, "/api/v1/reports", `{"name":"inventory","file":"inventory.yaml"}`)
	do(t, s, http.MethodPut, "/api/v1/reports/1/template", inventoryTemplate)

	// A malformed maxRows fails every render.
	rec = do(t, s, http.MethodPut, "/api/v1/properties/maxRows", `{"value":"lots"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, s, http.MethodPost, "/api/v1/reports/1/render", `{"format":"csv","parameters":{"owner":"bob"}}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
