package provider

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"report_engine/internal/engine"
	"report_engine/internal/models"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ErrDataSourceNotFound is returned for unknown data source ids.
var ErrDataSourceNotFound = errors.New("data source not found")

type pool struct {
	db     *sql.DB
	driver string
}

// DataSources hands out connections from one *sql.DB pool per data source.
// Pools are opened on first use from the data_sources table.
type DataSources struct {
	db     *gorm.DB
	logger *logrus.Logger

	mu    sync.Mutex
	pools map[uint]*pool
}

// NewDataSources создает провайдер подключений к источникам данных.
func NewDataSources(db *gorm.DB, logger *logrus.Logger) *DataSources {
	return &DataSources{db: db, logger: logger, pools: make(map[uint]*pool)}
}

// GetConnection takes a dedicated connection from the pool of id. The caller
// returns it with Close.
func (p *DataSources) GetConnection(ctx context.Context, id uint) (engine.Conn, error) {
	pl, err := p.pool(ctx, id)
	if err != nil {
		return nil, err
	}
	conn, err := pl.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("data source %d: acquire connection: %w", id, err)
	}
	return &pooledConn{Conn: conn, driver: pl.driver}, nil
}

func (p *DataSources) pool(ctx context.Context, id uint) (*pool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if pl, ok := p.pools[id]; ok {
		return pl, nil
	}
	if p.db == nil {
		return nil, fmt.Errorf("data source %d: %w", id, ErrDataSourceNotFound)
	}

	var ds models.DataSource
	if err := p.db.WithContext(ctx).First(&ds, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("data source %d: %w", id, ErrDataSourceNotFound)
		}
		return nil, fmt.Errorf("data source %d: load definition: %w", id, err)
	}
	if err := ds.Validate(); err != nil {
		return nil, fmt.Errorf("data source %d: %w", id, err)
	}

	db, err := sql.Open(ds.Driver, ds.URL)
	if err != nil {
		return nil, fmt.Errorf("data source %d: open: %w", id, err)
	}
	db.SetMaxIdleConns(ds.MaxIdle)
	if ds.MaxActive > 0 {
		db.SetMaxOpenConns(ds.MaxActive)
	}

	pl := &pool{db: db, driver: ds.Driver}
	p.pools[id] = pl

	p.logger.WithFields(logrus.Fields{
		"data_source": ds.Name,
		"driver":      ds.Driver,
		"max_active":  ds.MaxActive,
	}).Info("Пул подключений к источнику данных открыт")

	return pl, nil
}

// Register installs an already opened pool for id, replacing the stored
// definition. The provider closes it in Close.
func (p *DataSources) Register(id uint, db *sql.DB, driver string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if old, ok := p.pools[id]; ok {
		old.db.Close()
	}
	p.pools[id] = &pool{db: db, driver: driver}
}

// Close closes every pool.
func (p *DataSources) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	for id, pl := range p.pools {
		if err := pl.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("data source %d: %w", id, err))
		}
		delete(p.pools, id)
	}
	return errors.Join(errs...)
}

// pooledConn is a pool connection tagged with its driver name.
type pooledConn struct {
	*sql.Conn
	driver string
}

func (c *pooledConn) Driver() string { return c.driver }
