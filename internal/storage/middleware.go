package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"
)

// LoggingMiddleware добавляет логирование к операциям хранилища
type LoggingMiddleware struct {
	storage Storage
	logger  *logrus.Logger
}

// NewLoggingMiddleware создает новый logging middleware
func NewLoggingMiddleware(storage Storage, logger *logrus.Logger) Storage {
	return &LoggingMiddleware{storage: storage, logger: logger}
}

func (m *LoggingMiddleware) observe(operation, key string, start time.Time, err error) {
	logger := m.logger.WithFields(logrus.Fields{
		"operation": operation,
		"key":       key,
		"duration":  time.Since(start),
	})
	switch {
	case err == nil:
		logger.Debug("Операция с хранилищем выполнена")
	case IsNotFound(err):
		logger.Debug("Файл не найден в хранилище")
	default:
		logger.WithError(err).Error("Ошибка операции с хранилищем")
	}
}

// Save логирует операцию сохранения
func (m *LoggingMiddleware) Save(ctx context.Context, key string, reader io.Reader) error {
	start := time.Now()
	err := m.storage.Save(ctx, key, reader)
	m.observe("save", key, start, err)
	if err == nil {
		m.logger.WithField("key", key).Info("Файл сохранен успешно")
	}
	return err
}

// Get логирует операцию получения
func (m *LoggingMiddleware) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	start := time.Now()
	reader, err := m.storage.Get(ctx, key)
	m.observe("get", key, start, err)
	return reader, err
}

// Delete логирует операцию удаления
func (m *LoggingMiddleware) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := m.storage.Delete(ctx, key)
	m.observe("delete", key, start, err)
	if err == nil {
		m.logger.WithField("key", key).Info("Файл удален успешно")
	}
	return err
}

func (m *LoggingMiddleware) Exists(ctx context.Context, key string) (bool, error) {
	start := time.Now()
	ok, err := m.storage.Exists(ctx, key)
	m.observe("exists", key, start, err)
	return ok, err
}

func (m *LoggingMiddleware) List(ctx context.Context, prefix string) ([]FileInfo, error) {
	start := time.Now()
	files, err := m.storage.List(ctx, prefix)
	m.observe("list", prefix, start, err)
	return files, err
}

func (m *LoggingMiddleware) JoinPath(elem ...string) string {
	return m.storage.JoinPath(elem...)
}

func (m *LoggingMiddleware) ValidateKey(key string) error {
	return m.storage.ValidateKey(key)
}

// RetryMiddleware добавляет retry логику к операциям хранилища
type RetryMiddleware struct {
	storage    Storage
	maxRetries int
	retryDelay time.Duration
	logger     *logrus.Logger
}

// NewRetryMiddleware создает новый retry middleware
func NewRetryMiddleware(storage Storage, maxRetries int, retryDelay time.Duration, logger *logrus.Logger) Storage {
	return &RetryMiddleware{
		storage:    storage,
		maxRetries: maxRetries,
		retryDelay: retryDelay,
		logger:     logger,
	}
}

// Save не повторяется: reader уже может быть прочитан.
func (m *RetryMiddleware) Save(ctx context.Context, key string, reader io.Reader) error {
	return m.storage.Save(ctx, key, reader)
}

// Get выполняет операцию получения с retry
func (m *RetryMiddleware) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	var result io.ReadCloser
	err := m.retryOperation(ctx, "get", func() error {
		var err error
		result, err = m.storage.Get(ctx, key)
		return err
	})
	return result, err
}

// Delete выполняет операцию удаления с retry
func (m *RetryMiddleware) Delete(ctx context.Context, key string) error {
	return m.retryOperation(ctx, "delete", func() error {
		return m.storage.Delete(ctx, key)
	})
}

func (m *RetryMiddleware) Exists(ctx context.Context, key string) (bool, error) {
	var ok bool
	err := m.retryOperation(ctx, "exists", func() error {
		var err error
		ok, err = m.storage.Exists(ctx, key)
		return err
	})
	return ok, err
}

func (m *RetryMiddleware) List(ctx context.Context, prefix string) ([]FileInfo, error) {
	var files []FileInfo
	err := m.retryOperation(ctx, "list", func() error {
		var err error
		files, err = m.storage.List(ctx, prefix)
		return err
	})
	return files, err
}

// retryOperation выполняет операцию с retry логикой
func (m *RetryMiddleware) retryOperation(ctx context.Context, operation string, fn func() error) error {
	var lastErr error

	for attempt := 0; attempt <= m.maxRetries; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !shouldRetry(lastErr) {
			break
		}

		if attempt < m.maxRetries {
			if m.logger != nil {
				m.logger.WithFields(logrus.Fields{
					"operation":   operation,
					"attempt":     attempt + 1,
					"max_retries": m.maxRetries,
				}).WithError(lastErr).Warn("Повтор операции после ошибки")
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(m.retryDelay):
			}
		}
	}

	return lastErr
}

// shouldRetry: отсутствие файла и отмена контекста не исправятся повтором
func shouldRetry(err error) bool {
	return !IsNotFound(err) &&
		!errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded)
}

func (m *RetryMiddleware) JoinPath(elem ...string) string {
	return m.storage.JoinPath(elem...)
}

func (m *RetryMiddleware) ValidateKey(key string) error {
	return m.storage.ValidateKey(key)
}

// ValidationMiddleware проверяет ключи перед обращением к хранилищу
type ValidationMiddleware struct {
	storage Storage
}

// NewValidationMiddleware создает новый validation middleware
func NewValidationMiddleware(storage Storage) Storage {
	return &ValidationMiddleware{storage: storage}
}

func (m *ValidationMiddleware) validateKey(key string) error {
	if err := m.storage.ValidateKey(key); err != nil {
		return fmt.Errorf("неверный ключ %q: %w", key, err)
	}
	return nil
}

// Save выполняет валидацию перед сохранением
func (m *ValidationMiddleware) Save(ctx context.Context, key string, reader io.Reader) error {
	if err := m.validateKey(key); err != nil {
		return err
	}
	return m.storage.Save(ctx, key, reader)
}

// Get выполняет валидацию перед получением
func (m *ValidationMiddleware) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := m.validateKey(key); err != nil {
		return nil, err
	}
	return m.storage.Get(ctx, key)
}

// Delete выполняет валидацию перед удалением
func (m *ValidationMiddleware) Delete(ctx context.Context, key string) error {
	if err := m.validateKey(key); err != nil {
		return err
	}
	return m.storage.Delete(ctx, key)
}

func (m *ValidationMiddleware) Exists(ctx context.Context, key string) (bool, error) {
	if err := m.validateKey(key); err != nil {
		return false, err
	}
	return m.storage.Exists(ctx, key)
}

func (m *ValidationMiddleware) List(ctx context.Context, prefix string) ([]FileInfo, error) {
	return m.storage.List(ctx, prefix)
}

func (m *ValidationMiddleware) JoinPath(elem ...string) string {
	return m.storage.JoinPath(elem...)
}

func (m *ValidationMiddleware) ValidateKey(key string) error {
	return m.storage.ValidateKey(key)
}
