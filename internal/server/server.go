package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"report_engine/internal/config"
	"report_engine/internal/engine"
	"report_engine/internal/models"
	"report_engine/internal/service"
	"report_engine/internal/storage"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"
)

// maxTemplateSize ограничивает размер загружаемого шаблона.
const maxTemplateSize = 4 << 20

// PropertyStore сохраняет свойства конфигурации движка.
type PropertyStore interface {
	SetProperty(ctx context.Context, name string, value *string) error
}

// Server represents the HTTP server
type Server struct {
	echo       *echo.Echo
	service    service.ReportService
	properties PropertyStore
	logger     *logrus.Logger
}

// NewServer creates a new HTTP server. properties may be nil.
func NewServer(cfg config.Config, reportService service.ReportService, properties PropertyStore, logger *logrus.Logger) *Server {
	e := echo.New()
	e.Debug = cfg.Server.Debug
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.RequestID())

	if cfg.Server.Debug {
		e.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
			Format: "${time_rfc3339} ${id} ${method} ${uri} ${status} ${latency_human} ${error}\n",
		}))
	}

	server := &Server{
		echo:       e,
		service:    reportService,
		properties: properties,
		logger:     logger,
	}

	server.setupRoutes()
	return server
}

// Handler returns the router, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start starts the HTTP server
func (s *Server) Start(address string) error {
	s.logger.WithField("address", address).Info("Starting HTTP server")
	return s.echo.Start(address)
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	return s.echo.Shutdown(ctx)
}

// setupRoutes configures the server routes
func (s *Server) setupRoutes() {
	s.echo.GET("/health", s.healthCheck)

	api := s.echo.Group("/api/v1")
	{
		api.GET("/formats", s.listFormats)
		api.PUT("/properties/:name", s.setProperty)

		reports := api.Group("/reports")
		{
			reports.POST("", s.createReport)
			reports.GET("", s.listReports)
			reports.GET("/:id", s.getReport)
			reports.PATCH("/:id", s.updateReport)
			reports.DELETE("/:id", s.deleteReport)
			reports.PUT("/:id/template", s.uploadTemplate)
			reports.GET("/:id/parameters", s.listParameters)
			reports.POST("/:id/render", s.renderReport)
		}
	}
}

// healthCheck handles health check requests
func (s *Server) healthCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"service":   "report-engine",
	})
}

func (s *Server) listFormats(c echo.Context) error {
	formats := s.service.Formats()
	names := make([]string, 0, len(formats))
	for _, f := range formats {
		names = append(names, f.String())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"formats": names})
}

func (s *Server) setProperty(c echo.Context) error {
	if s.properties == nil {
		return errorJSON(c, http.StatusNotImplemented, "Properties are not configurable")
	}

	var req struct {
		Value *string `json:"value"`
	}
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "Invalid request format")
	}

	name := c.Param("name")
	if err := s.properties.SetProperty(c.Request().Context(), name, req.Value); err != nil {
		return s.fail(c, err, "Failed to save property")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"name": name, "value": req.Value})
}

// createReport handles report creation
func (s *Server) createReport(c echo.Context) error {
	var req struct {
		Name         string      `json:"name"`
		Description  string      `json:"description"`
		File         string      `json:"file"`
		Query        string      `json:"query"`
		DataSourceID *uint       `json:"data_source_id"`
		Defaults     models.JSON `json:"defaults"`
		CreatedBy    string      `json:"created_by"`
	}

	if err := c.Bind(&req); err != nil {
		s.logger.WithError(err).Error("Failed to bind request")
		return errorJSON(c, http.StatusBadRequest, "Invalid request format")
	}

	if req.CreatedBy == "" {
		req.CreatedBy = "anonymous"
	}

	report := &models.Report{
		Name:         req.Name,
		Description:  req.Description,
		File:         req.File,
		Query:        req.Query,
		DataSourceID: req.DataSourceID,
		Defaults:     req.Defaults,
		CreatedBy:    req.CreatedBy,
	}

	if err := s.service.CreateReport(c.Request().Context(), report); err != nil {
		return s.fail(c, err, "Failed to create report")
	}

	return c.JSON(http.StatusCreated, report)
}

// listReports handles listing reports
func (s *Server) listReports(c echo.Context) error {
	var params service.ListReportParams
	if err := (&echo.DefaultBinder{}).BindQueryParams(c, &params); err != nil {
		return errorJSON(c, http.StatusBadRequest, "Invalid query parameters")
	}

	list, err := s.service.ListReports(c.Request().Context(), params)
	if err != nil {
		return s.fail(c, err, "Failed to list reports")
	}
	return c.JSON(http.StatusOK, list)
}

// getReport handles getting a single report
func (s *Server) getReport(c echo.Context) error {
	id, err := reportID(c)
	if err != nil {
		return err
	}

	report, err := s.service.GetReport(c.Request().Context(), id)
	if err != nil {
		return s.fail(c, err, "Failed to get report")
	}
	return c.JSON(http.StatusOK, report)
}

func (s *Server) updateReport(c echo.Context) error {
	id, err := reportID(c)
	if err != nil {
		return err
	}

	var params service.ReportUpdateParams
	if err := c.Bind(&params); err != nil {
		return errorJSON(c, http.StatusBadRequest, "Invalid request format")
	}

	if err := s.service.UpdateReport(c.Request().Context(), id, params); err != nil {
		return s.fail(c, err, "Failed to update report")
	}
	return c.JSON(http.StatusOK, map[string]string{
		"message": "Report updated successfully",
	})
}

// deleteReport handles report deletion
func (s *Server) deleteReport(c echo.Context) error {
	id, err := reportID(c)
	if err != nil {
		return err
	}

	if err := s.service.DeleteReport(c.Request().Context(), id); err != nil {
		return s.fail(c, err, "Failed to delete report")
	}

	return c.JSON(http.StatusOK, map[string]string{
		"message": "Report deleted successfully",
	})
}

// uploadTemplate stores the request body as the report template
func (s *Server) uploadTemplate(c echo.Context) error {
	id, err := reportID(c)
	if err != nil {
		return err
	}

	body := http.MaxBytesReader(c.Response(), c.Request().Body, maxTemplateSize)
	if err := s.service.UploadTemplate(c.Request().Context(), id, body); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return errorJSON(c, http.StatusRequestEntityTooLarge, "Template is too large")
		}
		return s.fail(c, err, "Failed to upload template")
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) listParameters(c echo.Context) error {
	id, err := reportID(c)
	if err != nil {
		return err
	}

	params, err := s.service.ListParameters(c.Request().Context(), id)
	if err != nil {
		return s.fail(c, err, "Failed to read report parameters")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"parameters": params})
}

// renderReport renders the report and streams the document back
func (s *Server) renderReport(c echo.Context) error {
	id, err := reportID(c)
	if err != nil {
		return err
	}

	var req service.RenderParams
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "Invalid request format")
	}
	if req.Format == "" {
		req.Format = c.QueryParam("format")
	}

	res, err := s.service.RenderReport(c.Request().Context(), id, req)
	if err != nil {
		return s.fail(c, err, "Failed to render report")
	}

	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", res.Filename))
	return c.Blob(http.StatusOK, res.ContentType, res.Content)
}

func reportID(c echo.Context) (uint, error) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "Invalid report ID")
	}
	return uint(id), nil
}

// fail logs err and answers with the status matching its class
func (s *Server) fail(c echo.Context, err error, message string) error {
	status := statusOf(err)
	entry := s.logger.WithError(err).WithFields(logrus.Fields{
		"request_id": c.Response().Header().Get(echo.HeaderXRequestID),
		"status":     status,
	})
	if status >= http.StatusInternalServerError {
		entry.Error(message)
	} else {
		entry.Warn(message)
	}

	resp := map[string]string{"error": message}
	if status < http.StatusInternalServerError || s.echo.Debug {
		resp["detail"] = err.Error()
	}
	return c.JSON(status, resp)
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrReportNotFound), storage.IsNotFound(err):
		return http.StatusNotFound
	}

	switch engine.KindOf(err) {
	case engine.KindUnsupportedFormat:
		return http.StatusUnsupportedMediaType
	case engine.KindResourceLoad:
		return http.StatusUnprocessableEntity
	case engine.KindDataBinding:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func errorJSON(c echo.Context, status int, message string) error {
	return c.JSON(status, map[string]string{"error": message})
}
