// Package provider implements the collaborators the rendering engine consumes:
// template directory lookup, data source connections and configuration
// properties.
package provider

import (
	"context"
	"fmt"

	"report_engine/internal/engine"
	"report_engine/internal/storage"
)

// Directory resolves report files against the report directory of the
// template storage.
type Directory struct {
	store     storage.Storage
	reportDir string
}

// NewDirectory создает провайдер каталога отчетов.
func NewDirectory(store storage.Storage, reportDir string) *Directory {
	return &Directory{store: store, reportDir: reportDir}
}

// ResolveReportPath возвращает ключ шаблона в хранилище или ошибку, если
// файла нет.
func (d *Directory) ResolveReportPath(ctx context.Context, ref engine.ReportRef) (string, error) {
	if ref.File == "" {
		return "", fmt.Errorf("у отчета %q не указан файл шаблона", ref.Name)
	}

	key := d.store.JoinPath(d.reportDir, ref.File)
	if err := d.store.ValidateKey(key); err != nil {
		return "", fmt.Errorf("неверный путь шаблона: %w", err)
	}

	ok, err := d.store.Exists(ctx, key)
	if err != nil {
		return "", fmt.Errorf("ошибка проверки шаблона %s: %w", key, err)
	}
	if !ok {
		return "", fmt.Errorf("шаблон %s: %w", key, storage.ErrNotFound)
	}
	return key, nil
}
