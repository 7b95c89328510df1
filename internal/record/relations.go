package record

import (
	"context"
	"fmt"
	"strings"

	"github.com/clsa/birch/internal/database"
)

// ForeignKey returns the conventional foreign key column that refers to
// table: the lowercased table name followed by "_id".
func ForeignKey(table string) string {
	return strings.ToLower(table) + "_id"
}

// GetRecord loads the record of table that this record refers to through
// column, which defaults to ForeignKey(table). It returns nil and no error
// when the foreign key is NULL.
func (r *Record) GetRecord(ctx context.Context, table, column string) (*Record, error) {
	if column == "" {
		column = ForeignKey(table)
	}

	ok, err := r.HasColumn(column)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: tried to get %q record but column \"%s.%s\" doesn't exist", ErrSchemaNotFound, table, r.table, column)
	}

	fk := r.values[column]
	if !fk.IsValid() {
		return nil, nil
	}

	related := New(r.sess, table)
	found, err := related.LoadBy(ctx, PrimaryKey, fk.Int())
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: \"%s.%s\" refers to missing %s %d", ErrIntegrityViolation, r.table, column, table, fk.Int())
	}
	return related, nil
}

// List returns every record of table whose foreign key refers to this
// record. Each call queries the database again.
func (r *Record) List(ctx context.Context, table string) ([]*Record, error) {
	where, arg, err := r.backReference(table)
	if err != nil {
		return nil, err
	}
	query := "SELECT " + database.QuoteIdentifier(PrimaryKey) + " FROM " + database.QuoteIdentifier(table) + where
	return loadEach(ctx, r.sess, table, query, arg)
}

// Count returns the number of records of table whose foreign key refers
// to this record.
func (r *Record) Count(ctx context.Context, table string) (int, error) {
	where, arg, err := r.backReference(table)
	if err != nil {
		return 0, err
	}

	rows, err := r.sess.db.Query(ctx, "SELECT COUNT(*) FROM "+database.QuoteIdentifier(table)+where, arg)
	if err != nil {
		return 0, fmt.Errorf("failed to count %s records: %w", table, err)
	}
	defer rows.Close()

	var count int
	if rows.Next() {
		if err := rows.Scan(&count); err != nil {
			return 0, fmt.Errorf("failed to scan %s count: %w", table, err)
		}
	}
	return count, rows.Err()
}

func (r *Record) backReference(table string) (string, int64, error) {
	if err := r.AssertPrimaryID(); err != nil {
		return "", 0, err
	}
	column := ForeignKey(r.table)
	if _, err := r.sess.catalog.Column(table, column); err != nil {
		return "", 0, err
	}
	return " WHERE " + database.QuoteIdentifier(column) + " = ?", r.ID(), nil
}

// All returns a record for every row of table.
func All(ctx context.Context, sess *Session, table string) ([]*Record, error) {
	if !sess.catalog.HasTable(table) {
		return nil, fmt.Errorf("%w: table %q doesn't exist", ErrSchemaNotFound, table)
	}
	query := "SELECT " + database.QuoteIdentifier(PrimaryKey) + " FROM " + database.QuoteIdentifier(table)
	return loadEach(ctx, sess, table, query)
}

// loadEach runs an id query and loads a record per id. The ids are read
// completely before loading since the session may hold a single
// connection.
func loadEach(ctx context.Context, sess *Session, table, query string, args ...interface{}) ([]*Record, error) {
	rows, err := sess.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s records: %w", table, err)
	}

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan %s id: %w", table, err)
		}
		ids = append(ids, id)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, fmt.Errorf("error iterating %s ids: %w", table, err)
	}

	records := make([]*Record, 0, len(ids))
	for _, id := range ids {
		rec := New(sess, table)
		found, err := rec.LoadBy(ctx, PrimaryKey, id)
		if err != nil {
			return nil, err
		}
		if !found {
			sess.log.WithField("table", table).WithField("id", id).Warn("row disappeared while listing")
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}
