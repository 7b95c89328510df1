package schema

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/clsa/birch/internal/core"
	"github.com/sirupsen/logrus"
)

// ErrSchemaNotFound is returned when a table or column is not in the catalog.
// It signals a schema mismatch between the code and the database.
var ErrSchemaNotFound = errors.New("schema not found")

// Audit columns are maintained by the backend and never enter the catalog.
const (
	CreateTimestampColumn = "create_timestamp"
	UpdateTimestampColumn = "update_timestamp"
)

// MetadataQuery reads every column of the connected schema. The first two
// selected columns must stay table_name and column_name.
const MetadataQuery = `SELECT table_name, column_name, column_type, data_type, column_default, is_nullable ` +
	`FROM information_schema.columns ` +
	`WHERE table_schema = ? ` +
	`AND column_name != 'update_timestamp' ` +
	`AND column_name != 'create_timestamp' ` +
	`ORDER BY table_name, ordinal_position`

// Column describes one column of a table.
type Column struct {
	// Name is the column name.
	Name string

	// Type is the full column type (e.g., "int(10) unsigned", "varchar(45)").
	Type string

	// DataType is the bare data type (e.g., "int", "varchar").
	DataType string

	// Default is the column default, NULL when there is none.
	Default core.Value

	// Nullable indicates whether the column can contain NULL values.
	Nullable bool

	// Position is the zero-based declaration order within the table.
	Position int
}

type table struct {
	name    string
	columns []Column
	index   map[string]int
}

// Catalog holds the table and column metadata of one database.
// It is filled once per connection and never refreshed.
type Catalog struct {
	tables map[string]*table
	mapper *TypeMapper
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		tables: make(map[string]*table),
		mapper: NewTypeMapper(),
	}
}

// Load reads the metadata of the connected schema in a single query.
func Load(ctx context.Context, db core.Database, logger logrus.FieldLogger) (*Catalog, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	log := logger.WithField("component", "schema")

	rows, err := db.Query(ctx, MetadataQuery, db.Name())
	if err != nil {
		return nil, fmt.Errorf("failed to read information schema: %w", err)
	}
	defer rows.Close()

	c := NewCatalog()
	for rows.Next() {
		var (
			tableName, columnName, columnType, dataType, isNullable string
			columnDefault                                           sql.NullString
		)
		if err := rows.Scan(&tableName, &columnName, &columnType, &dataType, &columnDefault, &isNullable); err != nil {
			return nil, fmt.Errorf("failed to scan column metadata: %w", err)
		}

		col := Column{
			Name:     columnName,
			Type:     columnType,
			DataType: strings.ToLower(dataType),
			Nullable: strings.EqualFold(isNullable, "YES"),
		}
		if columnDefault.Valid {
			col.Default = c.ParseDefault(columnDefault.String, col.DataType)
		}
		c.AddColumn(tableName, col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating column metadata: %w", err)
	}

	log.WithField("tables", len(c.tables)).Info("catalog loaded")
	return c, nil
}

// ParseDefault converts an information_schema default expression into a
// value. MariaDB reports string defaults quoted and missing ones as NULL.
func (c *Catalog) ParseDefault(raw, dataType string) core.Value {
	if raw == "NULL" {
		return core.Null()
	}
	if len(raw) >= 2 && raw[0] == '\'' && raw[len(raw)-1] == '\'' {
		raw = strings.ReplaceAll(raw[1:len(raw)-1], "''", "'")
	}
	v, err := c.mapper.FromDB([]byte(raw), dataType)
	if err != nil {
		// Expression defaults such as CURRENT_TIMESTAMP stay textual.
		return core.NewValue(raw)
	}
	return v
}

// AddColumn appends a column to a table, creating the table entry on first
// use. Position is assigned from the insertion order.
func (c *Catalog) AddColumn(tableName string, col Column) {
	t, ok := c.tables[tableName]
	if !ok {
		t = &table{name: tableName, index: make(map[string]int)}
		c.tables[tableName] = t
	}
	if i, exists := t.index[col.Name]; exists {
		col.Position = i
		t.columns[i] = col
		return
	}
	col.Position = len(t.columns)
	t.index[col.Name] = col.Position
	t.columns = append(t.columns, col)
}

func (c *Catalog) table(name string) (*table, error) {
	t, ok := c.tables[name]
	if !ok {
		return nil, fmt.Errorf("%w: table %q doesn't exist", ErrSchemaNotFound, name)
	}
	return t, nil
}

// Tables returns the sorted names of all tables in the catalog.
func (c *Catalog) Tables() []string {
	names := make([]string, 0, len(c.tables))
	for name := range c.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HasTable reports whether the table is known.
func (c *Catalog) HasTable(tableName string) bool {
	_, ok := c.tables[tableName]
	return ok
}

// ColumnNames returns the column names of a table in declaration order.
func (c *Catalog) ColumnNames(tableName string) ([]string, error) {
	t, err := c.table(tableName)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(t.columns))
	for i, col := range t.columns {
		names[i] = col.Name
	}
	return names, nil
}

// Column returns the metadata of a single column.
func (c *Catalog) Column(tableName, columnName string) (Column, error) {
	t, err := c.table(tableName)
	if err != nil {
		return Column{}, err
	}
	i, ok := t.index[columnName]
	if !ok {
		return Column{}, fmt.Errorf("%w: column \"%s.%s\" doesn't exist", ErrSchemaNotFound, tableName, columnName)
	}
	return t.columns[i], nil
}

// ColumnDefault returns the default value of a column.
func (c *Catalog) ColumnDefault(tableName, columnName string) (core.Value, error) {
	col, err := c.Column(tableName, columnName)
	if err != nil {
		return core.Null(), err
	}
	return col.Default, nil
}

// IsColumnNullable reports whether a column accepts NULL.
func (c *Catalog) IsColumnNullable(tableName, columnName string) (bool, error) {
	col, err := c.Column(tableName, columnName)
	if err != nil {
		return false, err
	}
	return col.Nullable, nil
}

// IsColumnForeignKey reports whether a column is a foreign key. This goes
// by name only: any column ending in "_id" counts, whatever the actual
// constraints are.
func (c *Catalog) IsColumnForeignKey(tableName, columnName string) (bool, error) {
	if _, err := c.Column(tableName, columnName); err != nil {
		return false, err
	}
	return strings.HasSuffix(columnName, "_id"), nil
}

// Mapper returns the type mapper used to convert values for this catalog.
func (c *Catalog) Mapper() *TypeMapper {
	return c.mapper
}
