// Package resources defines the connection-oriented resource capability
// used by the database failover layer, with adapters for PostgreSQL,
// MySQL and Redis backends.
package resources

import "context"

// Row is one result row keyed by column name.
type Row map[string]interface{}

// Resource is an interchangeable connection-oriented upstream. Connect,
// Execute and Disconnect are independently failable; Ping is the cheap
// connectivity probe used before committing a failover promotion.
type Resource interface {
	// ID returns the unique endpoint identifier.
	ID() string

	// Connect establishes the underlying connection.
	Connect(ctx context.Context) error

	// Execute runs one query with positional parameters.
	Execute(ctx context.Context, query string, params ...interface{}) ([]Row, error)

	// Disconnect tears the connection down.
	Disconnect() error

	// Ping verifies the connection is usable.
	Ping(ctx context.Context) error
}
