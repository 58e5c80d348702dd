package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"report_engine/internal/engine"
	"report_engine/internal/models"
	"report_engine/internal/storage"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

var (
	// ErrReportNotFound возвращается, если отчета нет в БД.
	ErrReportNotFound = errors.New("report not found")
	// ErrInvalidInput оборачивает ошибки валидации входных данных.
	ErrInvalidInput = errors.New("invalid input")
)

// ReportService интерфейс для работы с отчетами
type ReportService interface {
	CreateReport(ctx context.Context, report *models.Report) error
	GetReport(ctx context.Context, id uint) (*models.Report, error)
	ListReports(ctx context.Context, params ListReportParams) (*ReportList, error)
	UpdateReport(ctx context.Context, id uint, params ReportUpdateParams) error
	DeleteReport(ctx context.Context, id uint) error
	UploadTemplate(ctx context.Context, id uint, template io.Reader) error
	RenderReport(ctx context.Context, id uint, params RenderParams) (*RenderResult, error)
	ListParameters(ctx context.Context, id uint) ([]engine.ParameterDef, error)
	Formats() []engine.ExportType
}

// ReportRepository интерфейс для работы с базой данных отчетов
type ReportRepository interface {
	Create(ctx context.Context, report *models.Report) error
	GetByID(ctx context.Context, id uint) (*models.Report, error)
	List(ctx context.Context, params ListReportParams) ([]models.Report, int64, error)
	Update(ctx context.Context, id uint, updates map[string]interface{}) error
	Delete(ctx context.Context, id uint) error
}

// ListReportParams параметры для получения списка отчетов
type ListReportParams struct {
	Page     int    `json:"page" query:"page"`
	PageSize int    `json:"page_size" query:"page_size"`
	Search   string `json:"search,omitempty" query:"search"`
	SortBy   string `json:"sort_by,omitempty" query:"sort_by"`
	SortDesc bool   `json:"sort_desc,omitempty" query:"sort_desc"`
}

// ReportUpdateParams параметры для обновления отчета
type ReportUpdateParams struct {
	Description  *string      `json:"description,omitempty"`
	File         *string      `json:"file,omitempty"`
	Query        *string      `json:"query,omitempty"`
	DataSourceID *uint        `json:"data_source_id,omitempty"`
	Defaults     *models.JSON `json:"defaults,omitempty"`
}

// ReportList результат получения списка отчетов с пагинацией
type ReportList struct {
	Reports    []models.Report `json:"reports"`
	Total      int64           `json:"total"`
	Page       int             `json:"page"`
	PageSize   int             `json:"page_size"`
	TotalPages int             `json:"total_pages"`
}

// RenderParams запрос на формирование отчета
type RenderParams struct {
	Format     string         `json:"format"`
	Parameters map[string]any `json:"parameters"`
}

// RenderResult сформированный документ
type RenderResult struct {
	Content     []byte
	ContentType string
	Filename    string
}

// ReportServiceImpl реализация сервиса отчетов
type ReportServiceImpl struct {
	repository ReportRepository
	engine     engine.Engine
	templates  storage.Storage
	reportDir  string
	logger     *logrus.Logger
}

// NewReportService создает новый сервис отчетов
func NewReportService(
	repository ReportRepository,
	eng engine.Engine,
	templates storage.Storage,
	reportDir string,
	logger *logrus.Logger,
) ReportService {
	return &ReportServiceImpl{
		repository: repository,
		engine:     eng,
		templates:  templates,
		reportDir:  reportDir,
		logger:     logger,
	}
}

// CreateReport создает новый отчет
func (s *ReportServiceImpl) CreateReport(ctx context.Context, report *models.Report) error {
	logger := s.logger.WithFields(logrus.Fields{
		"name":       report.Name,
		"created_by": report.CreatedBy,
	})

	if err := report.Validate(); err != nil {
		logger.WithError(err).Warn("Ошибка валидации отчета")
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	if err := s.repository.Create(ctx, report); err != nil {
		logger.WithError(err).Error("Ошибка сохранения отчета в БД")
		return fmt.Errorf("ошибка создания отчета: %w", err)
	}

	logger.WithField("report_id", report.ID).Info("Отчет создан")
	return nil
}

// GetReport получает отчет по ID
func (s *ReportServiceImpl) GetReport(ctx context.Context, id uint) (*models.Report, error) {
	report, err := s.repository.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("отчет с ID %d: %w", id, ErrReportNotFound)
		}
		s.logger.WithError(err).WithField("report_id", id).Error("Ошибка получения отчета")
		return nil, fmt.Errorf("ошибка получения отчета: %w", err)
	}
	return report, nil
}

// ListReports получает список отчетов с пагинацией
func (s *ReportServiceImpl) ListReports(ctx context.Context, params ListReportParams) (*ReportList, error) {
	if params.Page <= 0 {
		params.Page = 1
	}
	if params.PageSize <= 0 {
		params.PageSize = defaultPageSize
	}
	if params.PageSize > maxPageSize {
		params.PageSize = maxPageSize
	}

	reports, total, err := s.repository.List(ctx, params)
	if err != nil {
		s.logger.WithError(err).Error("Ошибка получения списка отчетов")
		return nil, fmt.Errorf("ошибка получения списка отчетов: %w", err)
	}

	return &ReportList{
		Reports:    reports,
		Total:      total,
		Page:       params.Page,
		PageSize:   params.PageSize,
		TotalPages: int((total + int64(params.PageSize) - 1) / int64(params.PageSize)),
	}, nil
}

// UpdateReport обновляет отчет
func (s *ReportServiceImpl) UpdateReport(ctx context.Context, id uint, params ReportUpdateParams) error {
	if _, err := s.GetReport(ctx, id); err != nil {
		return err
	}

	updates := make(map[string]interface{})
	if params.Description != nil {
		updates["description"] = *params.Description
	}
	if params.File != nil {
		if *params.File == "" {
			return fmt.Errorf("%w: report file is required", ErrInvalidInput)
		}
		updates["file"] = *params.File
	}
	if params.Query != nil {
		updates["query"] = *params.Query
	}
	if params.DataSourceID != nil {
		updates["data_source_id"] = *params.DataSourceID
	}
	if params.Defaults != nil {
		updates["defaults"] = *params.Defaults
	}
	if len(updates) == 0 {
		return nil
	}

	if err := s.repository.Update(ctx, id, updates); err != nil {
		s.logger.WithError(err).WithField("report_id", id).Error("Ошибка обновления отчета")
		return fmt.Errorf("ошибка обновления отчета: %w", err)
	}

	s.logger.WithField("report_id", id).Info("Отчет обновлен успешно")
	return nil
}

// DeleteReport удаляет отчет и его шаблон
func (s *ReportServiceImpl) DeleteReport(ctx context.Context, id uint) error {
	report, err := s.GetReport(ctx, id)
	if err != nil {
		return err
	}
	logger := s.logger.WithFields(logrus.Fields{"report_id": id, "name": report.Name})

	if err := s.repository.Delete(ctx, id); err != nil {
		logger.WithError(err).Error("Ошибка удаления отчета из БД")
		return fmt.Errorf("ошибка удаления отчета: %w", err)
	}

	// Шаблон удаляется после записи в БД: ошибка хранилища не возвращает отчет.
	if err := s.templates.Delete(ctx, s.templateKey(report)); err != nil {
		logger.WithError(err).WithField("file", report.File).Error("Ошибка удаления шаблона отчета")
	}

	logger.Info("Отчет удален успешно")
	return nil
}

// UploadTemplate проверяет и сохраняет шаблон отчета
func (s *ReportServiceImpl) UploadTemplate(ctx context.Context, id uint, template io.Reader) error {
	report, err := s.GetReport(ctx, id)
	if err != nil {
		return err
	}

	data, err := io.ReadAll(template)
	if err != nil {
		return fmt.Errorf("ошибка чтения шаблона: %w", err)
	}
	if _, err := engine.ParseDocument(data); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	key := s.templateKey(report)
	if err := s.templates.Save(ctx, key, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("ошибка сохранения шаблона: %w", err)
	}

	s.logger.WithFields(logrus.Fields{"report_id": id, "key": key, "size": len(data)}).Info("Шаблон отчета загружен")
	return nil
}

// RenderReport формирует отчет в запрошенном формате
func (s *ReportServiceImpl) RenderReport(ctx context.Context, id uint, params RenderParams) (*RenderResult, error) {
	report, err := s.GetReport(ctx, id)
	if err != nil {
		return nil, err
	}

	exportType, err := engine.ParseExportType(params.Format)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	// Значения по умолчанию из БД перекрываются параметрами запроса.
	values := make(map[string]any, len(report.Defaults)+len(params.Parameters))
	for k, v := range report.Defaults {
		values[k] = v
	}
	for k, v := range params.Parameters {
		values[k] = v
	}

	out, err := s.engine.Render(ctx, engine.RenderRequest{
		Report:     reportRef(report),
		Parameters: values,
		ExportType: exportType,
	})
	if err != nil {
		return nil, err
	}

	return &RenderResult{
		Content:     out.Content,
		ContentType: out.ContentType,
		Filename:    fmt.Sprintf("%s.%s", fileName(report.Name), exportType.Extension()),
	}, nil
}

// ListParameters возвращает параметры шаблона отчета
func (s *ReportServiceImpl) ListParameters(ctx context.Context, id uint) ([]engine.ParameterDef, error) {
	report, err := s.GetReport(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.engine.ListParameters(ctx, reportRef(report))
}

// Formats возвращает поддерживаемые форматы
func (s *ReportServiceImpl) Formats() []engine.ExportType {
	return s.engine.Formats()
}

func (s *ReportServiceImpl) templateKey(report *models.Report) string {
	return s.templates.JoinPath(s.reportDir, report.File)
}

func reportRef(r *models.Report) engine.ReportRef {
	return engine.ReportRef{
		ID:           r.ID,
		Name:         r.Name,
		File:         r.File,
		DataSourceID: r.DataSourceID,
		Query:        r.Query,
	}
}

// fileName заменяет символы, недопустимые в имени файла
func fileName(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, name)
}

// GormReportRepository реализация репозитория отчетов для GORM
type GormReportRepository struct {
	db *gorm.DB
}

// NewGormReportRepository создает новый GORM репозиторий отчетов
func NewGormReportRepository(db *gorm.DB) ReportRepository {
	return &GormReportRepository{db: db}
}

// Create создает новый отчет в БД
func (r *GormReportRepository) Create(ctx context.Context, report *models.Report) error {
	return r.db.WithContext(ctx).Create(report).Error
}

// GetByID получает отчет по ID
func (r *GormReportRepository) GetByID(ctx context.Context, id uint) (*models.Report, error) {
	var report models.Report
	if err := r.db.WithContext(ctx).First(&report, id).Error; err != nil {
		return nil, err
	}
	return &report, nil
}

var sortColumns = map[string]string{
	"id":         "id",
	"name":       "name",
	"created_at": "created_at",
	"updated_at": "updated_at",
}

// List получает список отчетов с фильтрацией и пагинацией
func (r *GormReportRepository) List(ctx context.Context, params ListReportParams) ([]models.Report, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.Report{})

	if params.Search != "" {
		pattern := "%" + strings.ToLower(params.Search) + "%"
		query = query.Where("LOWER(name) LIKE ? OR LOWER(description) LIKE ?", pattern, pattern)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	order := "created_at DESC"
	if column, ok := sortColumns[params.SortBy]; ok {
		order = column
		if params.SortDesc {
			order += " DESC"
		}
	}

	var reports []models.Report
	err := query.Order(order).
		Offset((params.Page - 1) * params.PageSize).
		Limit(params.PageSize).
		Find(&reports).Error

	return reports, total, err
}

// Update обновляет отчет
func (r *GormReportRepository) Update(ctx context.Context, id uint, updates map[string]interface{}) error {
	return r.db.WithContext(ctx).Model(&models.Report{}).Where("id = ?", id).Updates(updates).Error
}

// Delete удаляет отчет
func (r *GormReportRepository) Delete(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Delete(&models.Report{}, id).Error
}
