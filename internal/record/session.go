package record

import (
	"context"

	"github.com/clsa/birch/internal/core"
	"github.com/clsa/birch/internal/schema"
	"github.com/sirupsen/logrus"
)

// Observer is notified after a record change has been persisted.
type Observer interface {
	RecordChanged(ctx context.Context, change core.Change)
}

// Session carries what every record needs: the connection, the catalog
// loaded from it, and an optional change observer. It replaces any
// process-wide state; pass it explicitly.
type Session struct {
	db       core.Database
	catalog  *schema.Catalog
	observer Observer
	log      logrus.FieldLogger
	options  map[string][]Option
}

// NewSession creates a session over an open connection and its catalog.
func NewSession(db core.Database, catalog *schema.Catalog, logger logrus.FieldLogger) *Session {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Session{
		db:      db,
		catalog: catalog,
		log:     logger.WithField("component", "record"),
	}
}

// SetObserver installs the change observer. A nil observer disables
// notifications.
func (s *Session) SetObserver(o Observer) {
	s.observer = o
}

// RegisterOptions makes New apply opts to every record of table created
// through this session, including records reached by GetRecord, List and
// All. Register before creating records; it is not safe for concurrent use.
func (s *Session) RegisterOptions(table string, opts ...Option) {
	if s.options == nil {
		s.options = make(map[string][]Option)
	}
	s.options[table] = append(s.options[table], opts...)
}

func (s *Session) optionsFor(table string) []Option {
	if s == nil {
		return nil
	}
	return s.options[table]
}

// DB returns the session connection.
func (s *Session) DB() core.Database {
	return s.db
}

// Catalog returns the session catalog.
func (s *Session) Catalog() *schema.Catalog {
	return s.catalog
}

func (s *Session) notify(ctx context.Context, change core.Change) {
	if s.observer != nil {
		s.observer.RecordChanged(ctx, change)
	}
}
