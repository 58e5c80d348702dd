package models

import (
	"fmt"
	"time"
)

// Supported data source drivers
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

// DataSource is a database that reports can query
type DataSource struct {
	ID        uint      `json:"id" gorm:"primarykey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Name      string    `json:"name" gorm:"size:255;not null;uniqueIndex"`
	Driver    string    `json:"driver" gorm:"size:50;not null"`
	URL       string    `json:"-" gorm:"size:1024;not null"`
	MaxIdle   int       `json:"max_idle" gorm:"not null;default:2"`
	MaxActive int       `json:"max_active" gorm:"not null;default:10"`
}

// TableName specifies the table name for the DataSource model
func (DataSource) TableName() string {
	return "data_sources"
}

// Validate checks the data source definition
func (d *DataSource) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("data source name is required")
	}
	if d.Driver != DriverPostgres && d.Driver != DriverSQLite {
		return fmt.Errorf("unsupported data source driver: %s", d.Driver)
	}
	if d.URL == "" {
		return fmt.Errorf("data source url is required")
	}
	return nil
}

// Property is a named configuration value stored alongside the reports
type Property struct {
	Name      string    `json:"name" gorm:"primarykey;size:255"`
	Value     *string   `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName specifies the table name for the Property model
func (Property) TableName() string {
	return "properties"
}

// All returns every model managed by migrations
func All() []interface{} {
	return []interface{}{&DataSource{}, &Report{}, &Property{}}
}
