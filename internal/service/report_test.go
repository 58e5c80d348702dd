package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"report_engine/internal/config"
	"report_engine/internal/engine"
	"report_engine/internal/models"
	"report_engine/internal/provider"
	"report_engine/internal/storage"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// MockEngine is a mock implementation of the engine.Engine interface
type MockEngine struct {
	mock.Mock
}

func (m *MockEngine) Render(ctx context.Context, req engine.RenderRequest) (*engine.RenderOutput, error) {
	args := m.Called(ctx, req)
	out, _ := args.Get(0).(*engine.RenderOutput)
	return out, args.Error(1)
}

func (m *MockEngine) ListParameters(ctx context.Context, ref engine.ReportRef) ([]engine.ParameterDef, error) {
	args := m.Called(ctx, ref)
	defs, _ := args.Get(0).([]engine.ParameterDef)
	return defs, args.Error(1)
}

func (m *MockEngine) Formats() []engine.ExportType {
	args := m.Called()
	return args.Get(0).([]engine.ExportType)
}

const salesTemplate = `
name: sales
title: Sales ${region}
parameters:
  - name: region
    default: north
columns:
  - field: id
  - field: region
rows:
  - {id: 1, region: north}
  - {id: 2, region: south}
`

func setupTestLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	l.SetLevel(logrus.DebugLevel)
	return l
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Discard})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(models.All()...))
	return db
}

func setupTestStorage(t *testing.T) storage.Storage {
	t.Helper()
	s, err := storage.New(config.Storage{Type: storage.TypeLocal, BasePath: t.TempDir()},
		storage.Options{MaxRetries: 1, RetryDelay: time.Millisecond}, nil)
	require.NoError(t, err)
	return s
}

func setupService(t *testing.T, eng engine.Engine) (ReportService, storage.Storage) {
	t.Helper()
	store := setupTestStorage(t)
	svc := NewReportService(NewGormReportRepository(setupTestDB(t)), eng, store, "reports", setupTestLogger())
	return svc, store
}

func createReport(t *testing.T, svc ReportService, name string) *models.Report {
	t.Helper()
	report := &models.Report{
		Name:        name,
		Description: "Описание " + name,
		File:        name + ".yaml",
		CreatedBy:   "test-user",
	}
	require.NoError(t, svc.CreateReport(context.Background(), report))
	return report
}

func TestCreateReport(t *testing.T) {
	svc, _ := setupService(t, new(MockEngine))

	report := createReport(t, svc, "sales")
	assert.NotZero(t, report.ID)

	got, err := svc.GetReport(context.Background(), report.ID)
	require.NoError(t, err)
	assert.Equal(t, "sales", got.Name)
	assert.Equal(t, "sales.yaml", got.File)

	err = svc.CreateReport(context.Background(), &models.Report{Name: "no-file", CreatedBy: "test-user"})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestGetReportNotFound(t *testing.T) {
	svc, _ := setupService(t, new(MockEngine))

	_, err := svc.GetReport(context.Background(), 42)
	assert.ErrorIs(t, err, ErrReportNotFound)
}

func TestListReports(t *testing.T) {
	svc, _ := setupService(t, new(MockEngine))
	for i := 1; i <= 5; i++ {
		createReport(t, svc, fmt.Sprintf("report-%d", i))
	}
	createReport(t, svc, "Sales")

	list, err := svc.ListReports(context.Background(), ListReportParams{Page: 2, PageSize: 4, SortBy: "name"})
	require.NoError(t, err)
	assert.Equal(t, int64(6), list.Total)
	assert.Equal(t, 2, list.TotalPages)
	require.Len(t, list.Reports, 2)
	assert.Equal(t, "report-4", list.Reports[0].Name)

	list, err = svc.ListReports(context.Background(), ListReportParams{Search: "sAL"})
	require.NoError(t, err)
	require.Len(t, list.Reports, 1)
	assert.Equal(t, "Sales", list.Reports[0].Name)
	assert.Equal(t, defaultPageSize, list.PageSize)

	list, err = svc.ListReports(context.Background(), ListReportParams{PageSize: 1000, SortBy: "name; DROP TABLE reports"})
	require.NoError(t, err)
	assert.Equal(t, maxPageSize, list.PageSize)
	assert.Len(t, list.Reports, 6)
}

func TestUpdateReport(t *testing.T) {
	svc, _ := setupService(t, new(MockEngine))
	report := createReport(t, svc, "sales")

	desc := "Новое описание"
	query := "SELECT 1"
	defaults := models.JSON{"region": "west"}
	require.NoError(t, svc.UpdateReport(context.Background(), report.ID, ReportUpdateParams{
		Description: &desc,
		Query:       &query,
		Defaults:    &defaults,
	}))

	got, err := svc.GetReport(context.Background(), report.ID)
	require.NoError(t, err)
	assert.Equal(t, desc, got.Description)
	assert.Equal(t, query, got.Query)
	assert.Equal(t, "west", got.Defaults["region"])

	empty := ""
	err = svc.UpdateReport(context.Background(), report.ID, ReportUpdateParams{File: &empty})
	assert.ErrorIs(t, err, ErrInvalidInput)

	err = svc.UpdateReport(context.Background(), 999, ReportUpdateParams{Description: &desc})
	assert.ErrorIs(t, err, ErrReportNotFound)
}

func TestUploadAndDeleteTemplate(t *testing.T) {
	ctx := context.Background()
	svc, store := setupService(t, new(MockEngine))
	report := createReport(t, svc, "sales")

	err := svc.UploadTemplate(ctx, report.ID, strings.NewReader("columns: [unterminated"))
	assert.ErrorIs(t, err, ErrInvalidInput)
	ok, err := store.Exists(ctx, "reports/sales.yaml")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, svc.UploadTemplate(ctx, report.ID, strings.NewReader(salesTemplate)))
	ok, err = store.Exists(ctx, "reports/sales.yaml")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, svc.DeleteReport(ctx, report.ID))
	ok, err = store.Exists(ctx, "reports/sales.yaml")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = svc.GetReport(ctx, report.ID)
	assert.ErrorIs(t, err, ErrReportNotFound)
	assert.ErrorIs(t, svc.DeleteReport(ctx, report.ID), ErrReportNotFound)
}

func TestRenderReport(t *testing.T) {
	ctx := context.Background()
	eng := new(MockEngine)
	svc, _ := setupService(t, eng)

	dsID := uint(7)
	report := &models.Report{
		Name:         "sales/q1",
		File:         "sales.yaml",
		Query:        "SELECT 1",
		DataSourceID: &dsID,
		Defaults:     models.JSON{"region": "north", "year": float64(2024)},
		CreatedBy:    "test-user",
	}
	require.NoError(t, svc.CreateReport(ctx, report))

	eng.On("Render", mock.Anything, mock.MatchedBy(func(req engine.RenderRequest) bool {
		return req.ExportType == engine.ExportPDF &&
			req.Report.ID == report.ID &&
			req.Report.File == "sales.yaml" &&
			req.Report.Query == "SELECT 1" &&
			*req.Report.DataSourceID == dsID &&
			req.Parameters["region"] == "south" &&
			req.Parameters["year"] == float64(2024)
	})).Return(&engine.RenderOutput{Content: []byte("%PDF-1.3"), ContentType: engine.ContentTypePDF}, nil).Once()

	res, err := svc.RenderReport(ctx, report.ID, RenderParams{
		Format:     "PDF",
		Parameters: map[string]any{"region": "south"},
	})
	require.NoError(t, err)
	assert.Equal(t, "sales_q1.pdf", res.Filename)
	assert.Equal(t, engine.ContentTypePDF, res.ContentType)
	assert.Equal(t, []byte("%PDF-1.3"), res.Content)
	eng.AssertExpectations(t)
}

func TestRenderReportErrors(t *testing.T) {
	ctx := context.Background()
	eng := new(MockEngine)
	svc, _ := setupService(t, eng)
	report := createReport(t, svc, "sales")

	_, err := svc.RenderReport(ctx, report.ID, RenderParams{Format: "docx"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.RenderReport(ctx, 999, RenderParams{Format: "csv"})
	assert.ErrorIs(t, err, ErrReportNotFound)

	renderErr := &engine.RenderError{Report: "sales", ExportType: engine.ExportCSV, Err: engine.ErrDataBinding}
	eng.On("Render", mock.Anything, mock.Anything).Return(nil, renderErr).Once()
	_, err = svc.RenderReport(ctx, report.ID, RenderParams{Format: "csv"})
	assert.True(t, errors.Is(err, engine.ErrDataBinding))

	eng.AssertNotCalled(t, "ListParameters", mock.Anything, mock.Anything)
}

func TestListParametersAndFormats(t *testing.T) {
	ctx := context.Background()
	eng := new(MockEngine)
	svc, _ := setupService(t, eng)
	report := createReport(t, svc, "sales")

	defs := []engine.ParameterDef{{Name: "region"}}
	eng.On("ListParameters", mock.Anything, mock.MatchedBy(func(ref engine.ReportRef) bool {
		return ref.ID == report.ID && ref.File == "sales.yaml"
	})).Return(defs, nil)
	eng.On("Formats").Return([]engine.ExportType{engine.ExportCSV})

	got, err := svc.ListParameters(ctx, report.ID)
	require.NoError(t, err)
	assert.Equal(t, defs, got)
	assert.Equal(t, []engine.ExportType{engine.ExportCSV}, svc.Formats())
}

func TestRenderReportWithEngine(t *testing.T) {
	ctx := context.Background()
	store := setupTestStorage(t)
	db := setupTestDB(t)

	eng, err := engine.New(engine.BackendTemplate, engine.Dependencies{
		Directory:   provider.NewDirectory(store, "reports"),
		Templates:   store,
		Connections: provider.NewDataSources(db, setupTestLogger()),
		Properties:  provider.NewProperties(db, nil),
		Logger:      setupTestLogger(),
	})
	require.NoError(t, err)

	svc := NewReportService(NewGormReportRepository(db), eng, store, "reports", setupTestLogger())
	report := createReport(t, svc, "sales")
	require.NoError(t, svc.UploadTemplate(ctx, report.ID, strings.NewReader(salesTemplate)))

	res, err := svc.RenderReport(ctx, report.ID, RenderParams{Format: "csv"})
	require.NoError(t, err)
	assert.Equal(t, "id,region\n1,north\n2,south\n", string(res.Content))
	assert.Equal(t, "sales.csv", res.Filename)

	params, err := svc.ListParameters(ctx, report.ID)
	require.NoError(t, err)
	require.Len(t, params, 1)
	assert.Equal(t, "region", params[0].Name)
}
