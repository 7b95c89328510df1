package record

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/clsa/birch/internal/core"
	"github.com/clsa/birch/internal/database"
	"github.com/clsa/birch/internal/schema"
	"github.com/sirupsen/logrus"
)

// PrimaryKey is the primary key column every mapped table must have.
const PrimaryKey = "id"

// SetFilter rewrites a value on its way into a record through Set. It is
// not applied when values are loaded from the database.
type SetFilter func(column string, v core.Value) (core.Value, error)

// Option configures a Record.
type Option func(*Record)

// WithSetFilter installs a filter on the Set path.
func WithSetFilter(f SetFilter) Option {
	return func(r *Record) {
		r.filter = f
	}
}

// Record is an active record for one row of one table. Its column set is
// taken from the catalog on first use. Loading the same row twice yields
// two independent records.
type Record struct {
	sess        *Session
	table       string
	values      map[string]core.Value
	initialized bool
	filter      SetFilter
}

// New creates an empty record for table. Options registered on the
// session for table are applied before opts.
func New(sess *Session, table string, opts ...Option) *Record {
	r := &Record{
		sess:   sess,
		table:  table,
		values: make(map[string]core.Value),
	}
	r.Apply(sess.optionsFor(table)...)
	r.Apply(opts...)
	return r
}

// Apply applies options to an existing record.
func (r *Record) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(r)
	}
}

// Table returns the name of the mapped table.
func (r *Record) Table() string {
	return r.table
}

// Session returns the session the record was created with.
func (r *Record) Session() *Session {
	return r.sess
}

func (r *Record) logger() logrus.FieldLogger {
	return r.sess.log.WithField("table", r.table)
}

// Initialize resets every column to its catalog default.
func (r *Record) Initialize() error {
	catalog := r.sess.catalog
	columns, err := catalog.ColumnNames(r.table)
	if err != nil {
		return err
	}

	values := make(map[string]core.Value, len(columns))
	for _, column := range columns {
		def, err := catalog.ColumnDefault(r.table, column)
		if err != nil {
			return err
		}
		values[column] = def
	}
	r.values = values
	r.initialized = true
	return nil
}

func (r *Record) ensureInitialized() error {
	if r.initialized {
		return nil
	}
	return r.Initialize()
}

// HasColumn reports whether the record has the column.
func (r *Record) HasColumn(column string) (bool, error) {
	if err := r.ensureInitialized(); err != nil {
		return false, err
	}
	_, ok := r.values[column]
	return ok, nil
}

// Get returns the value of a column.
func (r *Record) Get(column string) (core.Value, error) {
	ok, err := r.HasColumn(column)
	if err != nil {
		return core.Null(), err
	}
	if !ok {
		return core.Null(), fmt.Errorf("%w: tried to get column \"%s.%s\" which doesn't exist", ErrSchemaNotFound, r.table, column)
	}
	return r.values[column], nil
}

// Set changes the value of a column in memory. Use Save to persist it.
// A nil value is the same as SetNull.
func (r *Record) Set(column string, value interface{}) error {
	return r.set(column, core.NewValue(value))
}

// SetNull sets a column to NULL in memory.
func (r *Record) SetNull(column string) error {
	return r.set(column, core.Null())
}

func (r *Record) set(column string, v core.Value) error {
	ok, err := r.HasColumn(column)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: tried to set column \"%s.%s\" which doesn't exist", ErrSchemaNotFound, r.table, column)
	}
	if r.filter != nil {
		if v, err = r.filter(column, v); err != nil {
			return fmt.Errorf("failed to set \"%s.%s\": %w", r.table, column, err)
		}
	}
	r.values[column] = v
	return nil
}

// ID returns the primary key, 0 when the record has not been saved.
func (r *Record) ID() int64 {
	v, err := r.Get(PrimaryKey)
	if err != nil {
		return 0
	}
	return v.Int()
}

// IsNew reports whether Save would insert a new row.
func (r *Record) IsNew() bool {
	return r.ID() == 0
}

// AssertPrimaryID returns ErrMissingPrimaryKey unless the record has a
// non-zero primary id.
func (r *Record) AssertPrimaryID() error {
	id, err := r.Get(PrimaryKey)
	if err != nil {
		return err
	}
	if !id.IsValid() || id.Int() == 0 {
		return fmt.Errorf("%w: %s record", ErrMissingPrimaryKey, r.table)
	}
	return nil
}

// Values returns a copy of the column values.
func (r *Record) Values() (map[string]core.Value, error) {
	if err := r.ensureInitialized(); err != nil {
		return nil, err
	}
	out := make(map[string]core.Value, len(r.values))
	for k, v := range r.values {
		out[k] = v
	}
	return out, nil
}

// LoadBy loads the single row where column equals value.
func (r *Record) LoadBy(ctx context.Context, column string, value interface{}) (bool, error) {
	return r.Load(ctx, map[string]interface{}{column: value})
}

// Load loads the single row matching every column = value pair of the
// predicate. It returns false, leaving the record uninitialized, when no
// row matches, and an error wrapping ErrIntegrityViolation when more than
// one does.
func (r *Record) Load(ctx context.Context, predicate map[string]interface{}) (bool, error) {
	r.values = make(map[string]core.Value)
	r.initialized = false

	catalog := r.sess.catalog
	if !catalog.HasTable(r.table) {
		return false, fmt.Errorf("%w: table %q doesn't exist", ErrSchemaNotFound, r.table)
	}

	keys := make([]string, 0, len(predicate))
	for k := range predicate {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString("SELECT * FROM ")
	sb.WriteString(database.QuoteIdentifier(r.table))
	args := make([]interface{}, 0, len(keys))
	for i, k := range keys {
		col, err := catalog.Column(r.table, k)
		if err != nil {
			return false, err
		}
		arg, err := catalog.Mapper().ToDB(core.NewValue(predicate[k]), col.DataType)
		if err != nil {
			return false, fmt.Errorf("invalid value for \"%s.%s\": %w", r.table, k, err)
		}
		if i == 0 {
			sb.WriteString(" WHERE ")
		} else {
			sb.WriteString(" AND ")
		}
		sb.WriteString(database.QuoteIdentifier(k))
		sb.WriteString(" = ?")
		args = append(args, arg)
	}

	rows, err := r.sess.db.Query(ctx, sb.String(), args...)
	if err != nil {
		return false, fmt.Errorf("failed to load %s record: %w", r.table, err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return false, fmt.Errorf("failed to read %s columns: %w", r.table, err)
	}

	values := make(map[string]core.Value, len(columns))
	found := false
	for rows.Next() {
		if found {
			return false, fmt.Errorf("%w: loading %s record resulted in multiple rows", ErrIntegrityViolation, r.table)
		}
		found = true

		raw := make([]interface{}, len(columns))
		dest := make([]interface{}, len(columns))
		for i := range raw {
			dest[i] = &raw[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return false, fmt.Errorf("failed to scan %s record: %w", r.table, err)
		}

		for i, name := range columns {
			if name == schema.CreateTimestampColumn || name == schema.UpdateTimestampColumn {
				continue
			}
			col, err := catalog.Column(r.table, name)
			if err != nil {
				// not in the catalog, so not part of the record
				continue
			}
			v, err := catalog.Mapper().FromDB(raw[i], col.DataType)
			if err != nil {
				return false, fmt.Errorf("failed to convert \"%s.%s\": %w", r.table, name, err)
			}
			values[name] = v
		}
	}
	if err := rows.Err(); err != nil {
		return false, fmt.Errorf("error iterating %s rows: %w", r.table, err)
	}
	if !found {
		return false, nil
	}

	// a column missing from the result keeps the record's shape
	names, _ := catalog.ColumnNames(r.table)
	for _, name := range names {
		if _, ok := values[name]; !ok {
			values[name] = core.Null()
		}
	}

	r.values = values
	r.initialized = true
	return true, nil
}

// Save writes the record. A record without a primary id is inserted and
// receives the id assigned by the backend; otherwise the row with that id
// is updated. create_timestamp is written as NULL on insert so the
// backend fills it; update_timestamp is never written.
func (r *Record) Save(ctx context.Context) error {
	if err := r.ensureInitialized(); err != nil {
		return err
	}
	catalog := r.sess.catalog
	insert := r.IsNew()

	if err := catalog.Validate(r.table, r.values, PrimaryKey); err != nil {
		return err
	}

	names, err := catalog.ColumnNames(r.table)
	if err != nil {
		return err
	}

	assignments := make([]string, 0, len(names)+1)
	args := make([]interface{}, 0, len(names)+1)
	for _, name := range names {
		if name == PrimaryKey {
			continue
		}
		col, err := catalog.Column(r.table, name)
		if err != nil {
			return err
		}
		arg, err := catalog.Mapper().ToDB(r.values[name], col.DataType)
		if err != nil {
			return fmt.Errorf("invalid value for \"%s.%s\": %w", r.table, name, err)
		}
		assignments = append(assignments, database.QuoteIdentifier(name)+" = ?")
		args = append(args, arg)
	}

	var query string
	if insert {
		assignments = append(assignments, database.QuoteIdentifier(schema.CreateTimestampColumn)+" = NULL")
		query = "INSERT INTO " + database.QuoteIdentifier(r.table) + " SET " + strings.Join(assignments, ", ")
	} else {
		query = "UPDATE " + database.QuoteIdentifier(r.table) + " SET " + strings.Join(assignments, ", ") +
			" WHERE " + database.QuoteIdentifier(PrimaryKey) + " = ?"
		args = append(args, r.ID())
	}

	result, err := r.sess.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to save %s record: %w", r.table, err)
	}

	op := core.ChangeUpdate
	if insert {
		op = core.ChangeInsert
		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read new %s id: %w", r.table, err)
		}
		r.values[PrimaryKey] = core.NewValue(id)
	}

	r.logger().WithFields(logrus.Fields{"id": r.ID(), "operation": op}).Debug("record saved")
	r.sess.notify(ctx, r.change(op))
	return nil
}

// Remove deletes the row by primary id. Dependent rows are left to the
// backend's foreign key rules. The record must not be reused afterwards.
func (r *Record) Remove(ctx context.Context) error {
	if err := r.AssertPrimaryID(); err != nil {
		return err
	}

	query := "DELETE FROM " + database.QuoteIdentifier(r.table) + " WHERE " + database.QuoteIdentifier(PrimaryKey) + " = ?"
	if _, err := r.sess.db.Exec(ctx, query, r.ID()); err != nil {
		return fmt.Errorf("failed to remove %s record: %w", r.table, err)
	}

	r.logger().WithField("id", r.ID()).Debug("record removed")
	r.sess.notify(ctx, r.change(core.ChangeDelete))
	return nil
}

// secretColumns never leave the record through change notifications.
var secretColumns = map[string]bool{"password": true}

func (r *Record) change(op core.ChangeOperation) core.Change {
	values := make(map[string]interface{}, len(r.values))
	for name, v := range r.values {
		if secretColumns[name] {
			continue
		}
		values[name] = v.Interface()
	}
	return core.Change{
		Table:     r.table,
		Operation: op,
		ID:        r.ID(),
		Values:    values,
		Timestamp: time.Now(),
	}
}

// String renders the record for debugging.
func (r *Record) String() string {
	if !r.initialized {
		return r.table + "{}"
	}
	names := make([]string, 0, len(r.values))
	for name := range r.values {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	sb.WriteString(r.table)
	sb.WriteString("{")
	for i, name := range names {
		if i > 0 {
			sb.WriteString(" ")
		}
		v := r.values[name]
		if secretColumns[name] && v.IsValid() {
			fmt.Fprintf(&sb, "%s=***", name)
			continue
		}
		fmt.Fprintf(&sb, "%s=%#v", name, v)
	}
	sb.WriteString("}")
	return sb.String()
}
