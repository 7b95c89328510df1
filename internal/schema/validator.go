package schema

import (
	"errors"
	"fmt"

	"github.com/clsa/birch/internal/core"
)

// ErrNotNullable is returned when a NULL is about to be written to a
// NOT NULL column that has no default.
var ErrNotNullable = errors.New("column cannot be NULL")

// Validate checks values against the table's columns before they are
// written. Columns listed in skip are ignored (the primary key on insert).
func (c *Catalog) Validate(tableName string, values map[string]core.Value, skip ...string) error {
	t, err := c.table(tableName)
	if err != nil {
		return err
	}

	skipped := make(map[string]bool, len(skip))
	for _, name := range skip {
		skipped[name] = true
	}

	for name := range values {
		if _, ok := t.index[name]; !ok {
			return fmt.Errorf("%w: column \"%s.%s\" doesn't exist", ErrSchemaNotFound, tableName, name)
		}
	}

	for _, col := range t.columns {
		if skipped[col.Name] || col.Nullable || col.Default.IsValid() {
			continue
		}
		if v, ok := values[col.Name]; ok && !v.IsValid() {
			return fmt.Errorf("%w: \"%s.%s\"", ErrNotNullable, tableName, col.Name)
		}
	}
	return nil
}
