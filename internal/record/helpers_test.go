package record_test

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/clsa/birch/internal/core"
	"github.com/clsa/birch/internal/database/mockdb"
	"github.com/clsa/birch/internal/record"
	"github.com/sirupsen/logrus/hooks/test"
)

var (
	userColumns  = []string{"id", "name", "password", "study_id", "create_timestamp", "update_timestamp"}
	studyColumns = []string{"id", "uid", "site", "interviewer", "datetime_acquired"}
	imageColumns = []string{"id", "study_id"}
)

func newSession(t *testing.T) (*record.Session, sqlmock.Sqlmock, *test.Hook) {
	t.Helper()
	db, mock := mockdb.New(t)
	logger, hook := test.NewNullLogger()
	return record.NewSession(db, mockdb.Catalog(), logger), mock, hook
}

type recorder struct {
	changes []core.Change
}

func (r *recorder) RecordChanged(ctx context.Context, change core.Change) {
	r.changes = append(r.changes, change)
}

func expectStudy(mock sqlmock.Sqlmock, id int64, uid string) {
	mock.ExpectQuery("SELECT * FROM `Study` WHERE `id` = ?").
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows(studyColumns).AddRow(id, uid, "Halifax", "jdoe", nil))
}

func expectImage(mock sqlmock.Sqlmock, id, studyID int64) {
	mock.ExpectQuery("SELECT * FROM `Image` WHERE `id` = ?").
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows(imageColumns).AddRow(id, studyID))
}
