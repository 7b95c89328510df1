// Package mockdb backs a database.MySQLDatabase with go-sqlmock and
// describes the rating schema, for tests of the packages above the
// connection.
package mockdb

import (
	"database/sql/driver"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/clsa/birch/internal/database"
	"github.com/clsa/birch/internal/schema"
	"github.com/sirupsen/logrus"
)

// Name is the schema name the mock database reports.
const Name = "birch"

// ColumnRow is one information_schema.columns row.
type ColumnRow struct {
	Table      string
	Column     string
	ColumnType string
	DataType   string
	Default    interface{} // nil or string
	Nullable   bool
}

// Schema is the rating schema in information_schema order.
var Schema = []ColumnRow{
	{"Image", "id", "int(10) unsigned", "int", nil, false},
	{"Image", "study_id", "int(10) unsigned", "int", nil, false},

	{"Rating", "id", "int(10) unsigned", "int", nil, false},
	{"Rating", "user_id", "int(10) unsigned", "int", nil, false},
	{"Rating", "image_id", "int(10) unsigned", "int", nil, false},
	{"Rating", "rating", "tinyint(1)", "tinyint", nil, true},

	{"Study", "id", "int(10) unsigned", "int", nil, false},
	{"Study", "uid", "varchar(45)", "varchar", nil, false},
	{"Study", "site", "varchar(45)", "varchar", "unknown", false},
	{"Study", "interviewer", "varchar(45)", "varchar", "unknown", false},
	{"Study", "datetime_acquired", "datetime", "datetime", nil, true},

	{"User", "id", "int(10) unsigned", "int", nil, false},
	{"User", "name", "varchar(45)", "varchar", nil, false},
	{"User", "password", "varchar(255)", "varchar", nil, false},
	{"User", "study_id", "int(10) unsigned", "int", nil, true},
}

// MetadataColumns are the column names of the catalog query result.
var MetadataColumns = []string{"table_name", "column_name", "column_type", "data_type", "column_default", "is_nullable"}

// New opens a mock database. Queries are matched by exact text. The
// expectations are checked when the test ends.
func New(t testing.TB) (*database.MySQLDatabase, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	if err != nil {
		t.Fatalf("failed to open sqlmock: %v", err)
	}

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	mdb := database.NewFromDB(db, Name, logger)
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet database expectations: %v", err)
		}
		mdb.Close()
	})
	return mdb, mock
}

// MetadataRows returns the catalog query result for rows.
func MetadataRows(rows []ColumnRow) *sqlmock.Rows {
	result := sqlmock.NewRows(MetadataColumns)
	for _, r := range rows {
		nullable := "NO"
		if r.Nullable {
			nullable = "YES"
		}
		var def driver.Value
		if r.Default != nil {
			def = r.Default
		}
		result.AddRow(r.Table, r.Column, r.ColumnType, r.DataType, def, nullable)
	}
	return result
}

// ExpectCatalog expects the catalog query and answers it with Schema.
func ExpectCatalog(mock sqlmock.Sqlmock) {
	mock.ExpectQuery(schema.MetadataQuery).
		WithArgs(Name).
		WillReturnRows(MetadataRows(Schema))
}

// Catalog builds the catalog of Schema without a database.
func Catalog() *schema.Catalog {
	c := schema.NewCatalog()
	for _, r := range Schema {
		col := schema.Column{
			Name:     r.Column,
			Type:     r.ColumnType,
			DataType: r.DataType,
			Nullable: r.Nullable,
		}
		if s, ok := r.Default.(string); ok {
			col.Default = c.ParseDefault(s, r.DataType)
		}
		c.AddColumn(r.Table, col)
	}
	return c
}
