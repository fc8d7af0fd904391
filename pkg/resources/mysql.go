package resources

import (
	"context"
	"fmt"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
	"github.com/jmoiron/sqlx"

	"github.com/bulwarkhq/bulwark/pkg/config"
	"github.com/bulwarkhq/bulwark/pkg/errors"
)

// MySQLResource wraps a MySQL connection behind the Resource capability.
type MySQLResource struct {
	id  string
	cfg *config.DatabaseConfig

	mu sync.RWMutex
	db *sqlx.DB
}

// NewMySQLResource creates an unconnected MySQL resource.
func NewMySQLResource(id string, cfg *config.DatabaseConfig) (*MySQLResource, error) {
	if cfg == nil {
		return nil, errors.NewValidationError("database configuration is required")
	}
	return &MySQLResource{id: id, cfg: cfg}, nil
}

// ID returns the endpoint identifier
func (r *MySQLResource) ID() string {
	return r.id
}

// Connect opens the connection pool and verifies it with a ping
func (r *MySQLResource) Connect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.db != nil {
		return nil
	}

	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&timeout=10s",
		r.cfg.User, r.cfg.Password, r.cfg.Host, r.cfg.Port, r.cfg.Name,
	)

	db, err := sqlx.Open("mysql", dsn)
	if err != nil {
		return errors.NewInternalError("failed to open mysql connection").WithCause(err)
	}

	db.SetMaxOpenConns(r.cfg.MaxOpenConns)
	db.SetMaxIdleConns(r.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(r.cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(10 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return errors.NewExternalError("mysql", "failed to ping database").WithCause(err)
	}

	r.db = db
	return nil
}

// Execute runs one query and materializes the rows
func (r *MySQLResource) Execute(ctx context.Context, query string, params ...interface{}) ([]Row, error) {
	r.mu.RLock()
	db := r.db
	r.mu.RUnlock()

	if db == nil {
		return nil, errors.NewConfigurationError("mysql resource is not connected")
	}

	rows, err := db.QueryxContext(ctx, query, params...)
	if err != nil {
		return nil, errors.NewExternalError("mysql", "query failed").WithCause(err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		row := Row{}
		if err := rows.MapScan(row); err != nil {
			return nil, errors.NewExternalError("mysql", "row scan failed").WithCause(err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewExternalError("mysql", "row iteration failed").WithCause(err)
	}
	return out, nil
}

// Disconnect closes the connection pool
func (r *MySQLResource) Disconnect() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.db == nil {
		return nil
	}
	err := r.db.Close()
	r.db = nil
	return err
}

// Ping verifies connectivity
func (r *MySQLResource) Ping(ctx context.Context) error {
	r.mu.RLock()
	db := r.db
	r.mu.RUnlock()

	if db == nil {
		return errors.NewConfigurationError("mysql resource is not connected")
	}
	if err := db.PingContext(ctx); err != nil {
		return errors.NewExternalError("mysql", "ping failed").WithCause(err)
	}
	return nil
}
