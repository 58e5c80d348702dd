package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"report_engine/internal/models"

	"gorm.io/gorm"
)

// Properties reads configuration properties from the properties table and
// falls back to the properties section of the application config.
type Properties struct {
	db       *gorm.DB
	fallback func(name string) (string, bool)
}

// NewProperties создает провайдер свойств. db и fallback могут быть nil.
func NewProperties(db *gorm.DB, fallback func(name string) (string, bool)) *Properties {
	return &Properties{db: db, fallback: fallback}
}

// propertyKey is the stored form of a property name. Names are case
// insensitive, as they are in the config file.
func propertyKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// GetProperty returns the value of name. A row with a NULL value counts as
// absent.
func (p *Properties) GetProperty(ctx context.Context, name string) (string, bool, error) {
	if p.db != nil {
		var prop models.Property
		err := p.db.WithContext(ctx).Where("name = ?", propertyKey(name)).Take(&prop).Error
		switch {
		case err == nil:
			if prop.Value != nil {
				return *prop.Value, true, nil
			}
		case errors.Is(err, gorm.ErrRecordNotFound):
		default:
			return "", false, fmt.Errorf("read property %s: %w", name, err)
		}
	}

	if p.fallback != nil {
		v, ok := p.fallback(name)
		return v, ok, nil
	}
	return "", false, nil
}

// SetProperty stores value under name. A nil value clears it.
func (p *Properties) SetProperty(ctx context.Context, name string, value *string) error {
	if p.db == nil {
		return errors.New("properties table is not configured")
	}
	prop := models.Property{Name: propertyKey(name), Value: value}
	if err := p.db.WithContext(ctx).Save(&prop).Error; err != nil {
		return fmt.Errorf("save property %s: %w", name, err)
	}
	return nil
}
