package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

const localPermissions = 0755

// LocalStorage реализация локального файлового хранилища
type LocalStorage struct {
	basePath string
	logger   *logrus.Logger
}

// NewLocalStorage создает новое локальное хранилище
func NewLocalStorage(basePath string, logger *logrus.Logger) (*LocalStorage, error) {
	if basePath == "" {
		return nil, fmt.Errorf("базовый путь не может быть пустым")
	}
	if !filepath.IsAbs(basePath) {
		return nil, fmt.Errorf("базовый путь должен быть абсолютным: %s", basePath)
	}
	if err := os.MkdirAll(basePath, localPermissions); err != nil {
		return nil, fmt.Errorf("ошибка создания базовой директории: %w", err)
	}

	return &LocalStorage{basePath: basePath, logger: logger}, nil
}

// Save сохраняет файл локально
func (l *LocalStorage) Save(ctx context.Context, key string, reader io.Reader) error {
	fullPath := l.fullPath(key)
	if err := os.MkdirAll(filepath.Dir(fullPath), localPermissions); err != nil {
		return fmt.Errorf("ошибка создания директории: %w", err)
	}

	file, err := os.OpenFile(fullPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("ошибка создания файла: %w", err)
	}
	defer file.Close()

	if _, err := io.Copy(file, reader); err != nil {
		return fmt.Errorf("ошибка записи файла: %w", err)
	}
	return nil
}

// Get открывает файл
func (l *LocalStorage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	file, err := os.Open(l.fullPath(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, notFound(key)
		}
		return nil, fmt.Errorf("ошибка открытия файла: %w", err)
	}
	return file, nil
}

// Delete удаляет файл
func (l *LocalStorage) Delete(ctx context.Context, key string) error {
	err := os.Remove(l.fullPath(key))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("ошибка удаления файла: %w", err)
	}
	return nil
}

// Exists проверяет существование файла
func (l *LocalStorage) Exists(ctx context.Context, key string) (bool, error) {
	info, err := os.Stat(l.fullPath(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("ошибка проверки существования файла: %w", err)
	}
	return !info.IsDir(), nil
}

// List возвращает файлы, ключи которых начинаются с prefix
func (l *LocalStorage) List(ctx context.Context, prefix string) ([]FileInfo, error) {
	root := l.fullPath(path.Dir(prefix))
	if prefix == "" || strings.HasSuffix(prefix, "/") {
		root = l.fullPath(prefix)
	}

	var files []FileInfo
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return fs.SkipDir
			}
			return err
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(l.basePath, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		files = append(files, FileInfo{Key: key, Size: info.Size(), LastModified: info.ModTime()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка файлов: %w", err)
	}
	return files, nil
}

// JoinPath объединяет элементы ключа
func (l *LocalStorage) JoinPath(elem ...string) string {
	return path.Join(elem...)
}

// ValidateKey запрещает выход за пределы базовой директории
func (l *LocalStorage) ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("ключ файла не может быть пустым")
	}
	if path.IsAbs(key) || filepath.IsAbs(key) {
		return fmt.Errorf("ключ файла не может быть абсолютным путем: %s", key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." {
			return fmt.Errorf("ключ файла не может содержать '..'")
		}
	}
	return nil
}

func (l *LocalStorage) fullPath(key string) string {
	return filepath.Join(l.basePath, filepath.FromSlash(key))
}
