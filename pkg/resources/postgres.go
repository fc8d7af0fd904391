package resources

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/bulwarkhq/bulwark/pkg/config"
	"github.com/bulwarkhq/bulwark/pkg/errors"
)

// PostgresResource wraps a PostgreSQL connection behind the Resource
// capability.
type PostgresResource struct {
	id  string
	cfg *config.DatabaseConfig

	mu sync.RWMutex
	db *sqlx.DB
}

// NewPostgresResource creates an unconnected PostgreSQL resource.
func NewPostgresResource(id string, cfg *config.DatabaseConfig) (*PostgresResource, error) {
	if cfg == nil {
		return nil, errors.NewValidationError("database configuration is required")
	}
	return &PostgresResource{id: id, cfg: cfg}, nil
}

// ID returns the endpoint identifier
func (r *PostgresResource) ID() string {
	return r.id
}

// Connect opens the connection pool and verifies it with a ping
func (r *PostgresResource) Connect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.db != nil {
		return nil
	}

	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s connect_timeout=10",
		r.cfg.Host, r.cfg.Port, r.cfg.User, r.cfg.Password, r.cfg.Name, r.cfg.SSLMode,
	)

	db, err := sqlx.Open("postgres", connStr)
	if err != nil {
		return errors.NewInternalError("failed to open postgres connection").WithCause(err)
	}

	db.SetMaxOpenConns(r.cfg.MaxOpenConns)
	db.SetMaxIdleConns(r.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(r.cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(10 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return errors.NewExternalError("postgres", "failed to ping database").WithCause(err)
	}

	r.db = db
	return nil
}

// Execute runs one query and materializes the rows
func (r *PostgresResource) Execute(ctx context.Context, query string, params ...interface{}) ([]Row, error) {
	r.mu.RLock()
	db := r.db
	r.mu.RUnlock()

	if db == nil {
		return nil, errors.NewConfigurationError("postgres resource is not connected")
	}

	rows, err := db.QueryxContext(ctx, query, params...)
	if err != nil {
		return nil, errors.NewExternalError("postgres", "query failed").WithCause(err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		row := Row{}
		if err := rows.MapScan(row); err != nil {
			return nil, errors.NewExternalError("postgres", "row scan failed").WithCause(err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewExternalError("postgres", "row iteration failed").WithCause(err)
	}
	return out, nil
}

// Disconnect closes the connection pool
func (r *PostgresResource) Disconnect() error {
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
func (r *PostgresResource) Ping(ctx context.Context) error {
	r.mu.RLock()
	db := r.db
	r.mu.RUnlock()

	if db == nil {
		return errors.NewConfigurationError("postgres resource is not connected")
	}
	if err := db.PingContext(ctx); err != nil {
		return errors.NewExternalError("postgres", "ping failed").WithCause(err)
	}
	return nil
}
