package record

import (
	"errors"

	"github.com/clsa/birch/internal/schema"
)

var (
	// ErrSchemaNotFound is returned for a table or column the catalog
	// doesn't know. It is the same value as schema.ErrSchemaNotFound.
	ErrSchemaNotFound = schema.ErrSchemaNotFound

	// ErrIntegrityViolation is returned when a load predicate matches more
	// than one row, or a foreign key points at a missing row.
	ErrIntegrityViolation = errors.New("integrity violation")

	// ErrMissingPrimaryKey is returned when an operation needs a persisted
	// record but the primary id is NULL or zero.
	ErrMissingPrimaryKey = errors.New("primary id for record is not set")
)
