package core

import (
	"context"
	"time"
)

// ChangeOperation represents the kind of statement that changed a row.
type ChangeOperation string

const (
	// ChangeInsert is reported after a new row was inserted.
	ChangeInsert ChangeOperation = "INSERT"

	// ChangeUpdate is reported after an existing row was updated by id.
	ChangeUpdate ChangeOperation = "UPDATE"

	// ChangeDelete is reported after a row was deleted by id.
	ChangeDelete ChangeOperation = "DELETE"
)

// Change describes one persisted record mutation.
type Change struct {
	// Table is the name of the table the row belongs to.
	Table string `json:"table"`

	// Operation is the statement kind.
	Operation ChangeOperation `json:"operation"`

	// ID is the primary key of the row.
	ID int64 `json:"id"`

	// Values holds the rendered column values at the time of the change.
	// NULL columns are stored as nil. Password columns are never included.
	Values map[string]interface{} `json:"values,omitempty"`

	// Timestamp is when the change was persisted.
	Timestamp time.Time `json:"timestamp"`
}

// Key returns the partitioning key of the change, "table:id".
func (c *Change) Key() string {
	return c.Table + ":" + NewValue(c.ID).String()
}

// ChangeQueue defines the interface of the change feed transport.
type ChangeQueue interface {
	// Enqueue adds a change to the queue.
	Enqueue(ctx context.Context, change *Change) error

	// Dequeue retrieves up to batchSize changes.
	// Returns an empty slice if no changes are available.
	Dequeue(ctx context.Context, batchSize int) ([]*Change, error)

	// Size returns the approximate number of queued changes.
	Size() int

	// Close closes the queue and releases resources.
	Close() error
}
