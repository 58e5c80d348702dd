package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"time"

	"report_engine/internal/config"

	"github.com/sirupsen/logrus"
)

const (
	// Типы хранилищ
	TypeLocal = "local"
	TypeS3    = "s3"

	// Настройки retry
	DefaultMaxRetries = 3
	DefaultRetryDelay = time.Second
)

// ErrNotFound возвращается, когда шаблона или ресурса нет в хранилище.
// Совпадает с fs.ErrNotExist, поэтому errors.Is работает для обоих.
var ErrNotFound = fs.ErrNotExist

// Storage интерфейс хранилища шаблонов отчетов и их ресурсов.
// Ключи всегда разделяются символом '/'.
type Storage interface {
	Save(ctx context.Context, key string, reader io.Reader) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	List(ctx context.Context, prefix string) ([]FileInfo, error)

	JoinPath(elem ...string) string
	ValidateKey(key string) error
}

// FileInfo информация о файле
type FileInfo struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

// Options настройки middleware хранилища.
type Options struct {
	MaxRetries int
	RetryDelay time.Duration
}

// DefaultOptions возвращает настройки по умолчанию.
func DefaultOptions() Options {
	return Options{MaxRetries: DefaultMaxRetries, RetryDelay: DefaultRetryDelay}
}

// New создает хранилище по конфигурации и оборачивает его в middleware.
func New(cfg config.Storage, opts Options, logger *logrus.Logger) (Storage, error) {
	var (
		s   Storage
		err error
	)

	switch cfg.Type {
	case TypeS3:
		s, err = NewS3Storage(context.Background(), cfg.S3, logger)
		if err != nil {
			return nil, fmt.Errorf("ошибка создания S3 хранилища: %w", err)
		}
	case TypeLocal:
		s, err = NewLocalStorage(cfg.BasePath, logger)
		if err != nil {
			return nil, fmt.Errorf("ошибка создания локального хранилища: %w", err)
		}
	default:
		return nil, fmt.Errorf("неподдерживаемый тип хранилища: %s", cfg.Type)
	}

	return Wrap(s, opts, logger), nil
}

// Wrap добавляет логирование, повторы и валидацию ключей.
func Wrap(s Storage, opts Options, logger *logrus.Logger) Storage {
	if logger != nil {
		s = NewLoggingMiddleware(s, logger)
	}
	s = NewRetryMiddleware(s, opts.MaxRetries, opts.RetryDelay, logger)
	return NewValidationMiddleware(s)
}

// IsNotFound сообщает, что ошибка означает отсутствие файла.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func notFound(key string) error {
	return fmt.Errorf("файл не найден: %s: %w", key, ErrNotFound)
}
