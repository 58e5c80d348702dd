package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Report describes a stored report: where its template lives and what it queries.
type Report struct {
	ID           uint           `json:"id" gorm:"primarykey"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	DeletedAt    gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
	Name         string         `json:"name" gorm:"size:255;not null;uniqueIndex"`
	Description  string         `json:"description" gorm:"size:1000"`
	File         string         `json:"file" gorm:"size:512;not null"`
	Query        string         `json:"query,omitempty" gorm:"type:text"`
	DataSourceID *uint          `json:"data_source_id,omitempty"`
	DataSource   *DataSource    `json:"data_source,omitempty" gorm:"constraint:OnDelete:SET NULL"`
	Defaults     JSON           `json:"defaults,omitempty"`
	CreatedBy    string         `json:"created_by" gorm:"size:255;not null"`
}

// TableName specifies the table name for the Report model
func (Report) TableName() string {
	return "reports"
}

// HasDataSource returns true if the report renders against a database
func (r *Report) HasDataSource() bool {
	return r.DataSourceID != nil
}

// Validate checks the fields required to render the report
func (r *Report) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("report name is required")
	}
	if r.File == "" {
		return fmt.Errorf("report file is required")
	}
	return nil
}

// JSON is a custom type for handling JSONB data
type JSON map[string]interface{}

// Value implements the driver.Valuer interface for JSON
func (j JSON) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// Scan implements the sql.Scanner interface for JSON
func (j *JSON) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into JSON", value)
	}

	return json.Unmarshal(bytes, j)
}

// GormDataType keeps JSON portable between sqlite and postgres
func (JSON) GormDataType() string {
	return "text"
}

// IsEmpty reports whether the map holds no values
func (j JSON) IsEmpty() bool {
	return len(j) == 0
}
