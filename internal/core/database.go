package core

import (
	"context"
)

// Database defines the interface for the relational backend.
// Every call is a single autocommitted statement.
type Database interface {
	// Query executes a statement that returns rows.
	// Values must be passed as args, never concatenated into query.
	Query(ctx context.Context, query string, args ...interface{}) (Rows, error)

	// Exec executes a statement that returns no rows.
	Exec(ctx context.Context, query string, args ...interface{}) (Result, error)

	// Name returns the name of the connected schema.
	Name() string

	// Close closes the connection.
	Close() error
}

// Rows is an iterator over a query result.
type Rows interface {
	// Columns returns the result column names in select order.
	Columns() ([]string, error)

	Next() bool
	Scan(dest ...interface{}) error
	Close() error
	Err() error
}

// Result summarizes an executed statement.
type Result interface {
	LastInsertId() (int64, error)
	RowsAffected() (int64, error)
}
