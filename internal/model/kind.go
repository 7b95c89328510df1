// Package model holds the concrete record types of the rating database.
package model

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/clsa/birch/internal/core"
	"github.com/clsa/birch/internal/record"
	"github.com/clsa/birch/internal/schema"
	"github.com/sirupsen/logrus"
)

// Kind identifies a mapped table. Its value is the table name.
type Kind string

const (
	KindUser   Kind = "User"
	KindStudy  Kind = "Study"
	KindImage  Kind = "Image"
	KindRating Kind = "Rating"
)

// ErrUnknownKind is returned for a table name that has no record type.
var ErrUnknownKind = errors.New("unknown record kind")

// Model is implemented by every concrete record type. Kind must not
// depend on the receiver so it can be called on a nil pointer.
type Model interface {
	Kind() Kind
	Row() *record.Record
}

var factories = map[Kind]func(*record.Record) Model{
	KindUser:   func(r *record.Record) Model { return UserFrom(r) },
	KindStudy:  func(r *record.Record) Model { return StudyFrom(r) },
	KindImage:  func(r *record.Record) Model { return ImageFrom(r) },
	KindRating: func(r *record.Record) Model { return RatingFrom(r) },
}

// NewSession creates a record session that gives every record of a kind
// its behavior, however the record was reached.
func NewSession(db core.Database, catalog *schema.Catalog, logger logrus.FieldLogger) *record.Session {
	sess := record.NewSession(db, catalog, logger)
	Install(sess)
	return sess
}

// Install registers the per-kind record options on sess.
func Install(sess *record.Session) {
	sess.RegisterOptions(string(KindUser), record.WithSetFilter(hashPassword))
}

// Kinds returns every known kind.
func Kinds() []Kind {
	return []Kind{KindImage, KindRating, KindStudy, KindUser}
}

// ParseKind resolves a table name, ignoring case.
func ParseKind(name string) (Kind, error) {
	for kind := range factories {
		if strings.EqualFold(string(kind), name) {
			return kind, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, name)
}

// New creates an empty record of the given kind.
func New(kind Kind, sess *record.Session) (Model, error) {
	return Wrap(kind, record.New(sess, string(kind)))
}

// Wrap gives a generic record the behavior of its kind.
func Wrap(kind Kind, r *record.Record) (Model, error) {
	factory, ok := factories[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return factory(r), nil
}

// All returns every row of T's table.
func All[T Model](ctx context.Context, sess *record.Session) ([]T, error) {
	var zero T
	kind := zero.Kind()
	rows, err := record.All(ctx, sess, string(kind))
	if err != nil {
		return nil, err
	}
	return wrapAll[T](kind, rows)
}

// List returns every row of T's table whose foreign key refers to parent.
func List[T Model](ctx context.Context, parent Model) ([]T, error) {
	var zero T
	kind := zero.Kind()
	rows, err := parent.Row().List(ctx, string(kind))
	if err != nil {
		return nil, err
	}
	return wrapAll[T](kind, rows)
}

func wrapAll[T Model](kind Kind, rows []*record.Record) ([]T, error) {
	out := make([]T, 0, len(rows))
	for _, r := range rows {
		m, err := Wrap(kind, r)
		if err != nil {
			return nil, err
		}
		out = append(out, m.(T))
	}
	return out, nil
}
