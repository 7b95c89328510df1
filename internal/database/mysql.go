package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/clsa/birch/internal/core"
	"github.com/go-sql-driver/mysql"
	"github.com/sirupsen/logrus"
)

var (
	// ErrConnection is returned when the backend cannot be reached or
	// refuses the credentials.
	ErrConnection = errors.New("database connection failed")

	// ErrClosed is returned by any operation on a closed database.
	ErrClosed = errors.New("database is closed")
)

const (
	// DefaultHost is used when no host is configured.
	DefaultHost = "localhost"

	// DefaultPort is the standard MySQL port.
	DefaultPort = 3306
)

// Options holds the connection parameters.
type Options struct {
	Name     string
	Username string
	Password string
	Host     string
	Port     int

	MaxOpenConns      int
	MaxIdleConns      int
	ConnMaxLifetime   time.Duration
	ConnectionTimeout time.Duration

	Logger logrus.FieldLogger
}

// DSN returns the driver data source name for the options, with the
// default host and port applied.
func (o Options) DSN() string {
	return o.driverConfig().FormatDSN()
}

func (o Options) driverConfig() *mysql.Config {
	host := o.Host
	if host == "" {
		host = DefaultHost
	}
	port := o.Port
	if port <= 0 {
		port = DefaultPort
	}

	cfg := mysql.NewConfig()
	cfg.User = o.Username
	cfg.Passwd = o.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(host, strconv.Itoa(port))
	cfg.DBName = o.Name
	cfg.ParseTime = true
	if o.ConnectionTimeout > 0 {
		cfg.Timeout = o.ConnectionTimeout
	}
	return cfg
}

// MySQLDatabase implements the core.Database interface using MySQL.
type MySQLDatabase struct {
	db     *sql.DB
	name   string
	log    logrus.FieldLogger
	closed bool
}

// Connect opens the connection described by opts and verifies it with a ping.
// Bad credentials, an unknown schema or an unreachable host all wrap
// ErrConnection.
func Connect(ctx context.Context, opts Options) (*MySQLDatabase, error) {
	if opts.Name == "" || opts.Username == "" {
		return nil, fmt.Errorf("%w: database name and username are required", ErrConnection)
	}

	connector, err := mysql.NewConnector(opts.driverConfig())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnection, err)
	}
	db := sql.OpenDB(connector)

	maxOpen := opts.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 1
	}
	db.SetMaxOpenConns(maxOpen)
	if opts.MaxIdleConns > 0 {
		db.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}

	timeout := opts.ConnectionTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %s", ErrConnection, describe(err))
	}

	m := NewFromDB(db, opts.Name, opts.Logger)
	m.log.WithField("addr", opts.driverConfig().Addr).Info("connected")
	return m, nil
}

// NewFromDB wraps an already opened handle.
func NewFromDB(db *sql.DB, name string, logger logrus.FieldLogger) *MySQLDatabase {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &MySQLDatabase{
		db:   db,
		name: name,
		log:  logger.WithFields(logrus.Fields{"component": "mysql", "database": name}),
	}
}

// describe turns driver errors into short operator-facing text.
func describe(err error) string {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case 1045:
			return "access denied: " + myErr.Message
		case 1049:
			return "unknown database: " + myErr.Message
		}
		return myErr.Error()
	}
	return err.Error()
}

// Name returns the schema name the connection was opened on.
func (m *MySQLDatabase) Name() string {
	return m.name
}

// Query executes a SELECT query and returns rows.
func (m *MySQLDatabase) Query(ctx context.Context, query string, args ...interface{}) (core.Rows, error) {
	if m.closed {
		return nil, ErrClosed
	}
	m.log.WithField("args", args).Debug(query)
	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		m.log.WithError(err).WithField("query", query).Error("query failed")
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	return &mysqlRows{rows: rows}, nil
}

// Exec executes a non-query statement and returns a result.
func (m *MySQLDatabase) Exec(ctx context.Context, query string, args ...interface{}) (core.Result, error) {
	if m.closed {
		return nil, ErrClosed
	}
	m.log.WithField("args", args).Debug(query)
	result, err := m.db.ExecContext(ctx, query, args...)
	if err != nil {
		m.log.WithError(err).WithField("query", query).Error("exec failed")
		return nil, fmt.Errorf("failed to execute statement: %w", err)
	}
	return result, nil
}

// Close closes the database connection.
func (m *MySQLDatabase) Close() error {
	if m.closed {
		return nil
	}
	m.closed = true
	return m.db.Close()
}

// QuoteIdentifier quotes a table or column name with backticks.
func QuoteIdentifier(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// mysqlRows wraps sql.Rows to implement core.Rows.
type mysqlRows struct {
	rows *sql.Rows
}

func (r *mysqlRows) Columns() ([]string, error) {
	return r.rows.Columns()
}

func (r *mysqlRows) Next() bool {
	return r.rows.Next()
}

func (r *mysqlRows) Scan(dest ...interface{}) error {
	return r.rows.Scan(dest...)
}

func (r *mysqlRows) Close() error {
	return r.rows.Close()
}

func (r *mysqlRows) Err() error {
	return r.rows.Err()
}
