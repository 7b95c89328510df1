package record_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/clsa/birch/internal/core"
	"github.com/clsa/birch/internal/record"
	"github.com/clsa/birch/internal/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitializeUsesDefaults(t *testing.T) {
	sess, _, _ := newSession(t)

	study := record.New(sess, "Study")
	values, err := study.Values()
	require.NoError(t, err)
	assert.Len(t, values, 5)
	assert.False(t, values["id"].IsValid())
	assert.False(t, values["uid"].IsValid())
	assert.Equal(t, "unknown", values["site"].String())

	assert.True(t, study.IsNew())
	assert.Equal(t, int64(0), study.ID())
	assert.Equal(t, "Study", study.Table())
}

func TestInitializeUnknownTable(t *testing.T) {
	sess, _, _ := newSession(t)

	r := record.New(sess, "Patient")
	_, err := r.Get("id")
	assert.ErrorIs(t, err, record.ErrSchemaNotFound)
}

func TestUnknownColumn(t *testing.T) {
	sess, _, _ := newSession(t)
	user := record.New(sess, "User")

	ok, err := user.HasColumn("email")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = user.Get("email")
	assert.ErrorIs(t, err, record.ErrSchemaNotFound)

	err = user.Set("email", "a@example.org")
	assert.ErrorIs(t, err, record.ErrSchemaNotFound)

	err = user.SetNull("email")
	assert.ErrorIs(t, err, record.ErrSchemaNotFound)
}

func TestSetAndGet(t *testing.T) {
	sess, _, _ := newSession(t)
	user := record.New(sess, "User")

	require.NoError(t, user.Set("name", "alice"))
	v, err := user.Get("name")
	require.NoError(t, err)
	assert.Equal(t, "alice", v.String())

	require.NoError(t, user.Set("study_id", 3))
	v, err = user.Get("study_id")
	require.NoError(t, err)
	assert.Equal(t, int64(3), v.Interface())

	require.NoError(t, user.SetNull("study_id"))
	v, err = user.Get("study_id")
	require.NoError(t, err)
	assert.False(t, v.IsValid())

	require.NoError(t, user.Set("study_id", nil))
	v, _ = user.Get("study_id")
	assert.False(t, v.IsValid())
}

func TestSetFilter(t *testing.T) {
	sess, _, _ := newSession(t)
	upper := func(column string, v core.Value) (core.Value, error) {
		if column == "name" {
			return core.NewValue("ALICE"), nil
		}
		return v, nil
	}
	user := record.New(sess, "User", record.WithSetFilter(upper))

	require.NoError(t, user.Set("name", "alice"))
	v, _ := user.Get("name")
	assert.Equal(t, "ALICE", v.String())

	failing := func(column string, v core.Value) (core.Value, error) {
		return v, errors.New("rejected")
	}
	user.Apply(record.WithSetFilter(failing))
	assert.Error(t, user.Set("name", "bob"))
}

func TestLoad(t *testing.T) {
	sess, mock, _ := newSession(t)
	created := time.Date(2013, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT * FROM `User` WHERE `name` = ?").
		WithArgs("alice").
		WillReturnRows(sqlmock.NewRows(userColumns).AddRow(int64(4), "alice", "hash", nil, created, created))

	user := record.New(sess, "User")
	found, err := user.LoadBy(context.Background(), "name", "alice")
	require.NoError(t, err)
	require.True(t, found)

	values, err := user.Values()
	require.NoError(t, err)
	assert.Len(t, values, 4)
	assert.NotContains(t, values, schema.CreateTimestampColumn)
	assert.NotContains(t, values, schema.UpdateTimestampColumn)
	assert.Equal(t, int64(4), user.ID())
	assert.False(t, user.IsNew())
	assert.Equal(t, "alice", values["name"].String())
	assert.False(t, values["study_id"].IsValid())
}

func TestLoadSortsPredicate(t *testing.T) {
	sess, mock, _ := newSession(t)

	mock.ExpectQuery("SELECT * FROM `Rating` WHERE `image_id` = ? AND `user_id` = ?").
		WithArgs(9, 4).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "image_id", "rating"}).AddRow(int64(1), int64(4), int64(9), int64(3)))

	rating := record.New(sess, "Rating")
	found, err := rating.Load(context.Background(), map[string]interface{}{
		"user_id":  4,
		"image_id": 9,
	})
	require.NoError(t, err)
	require.True(t, found)
	v, _ := rating.Get("rating")
	assert.Equal(t, int64(3), v.Int())
}

func TestLoadNoRows(t *testing.T) {
	sess, mock, _ := newSession(t)

	mock.ExpectQuery("SELECT * FROM `User` WHERE `name` = ?").
		WithArgs("nobody").
		WillReturnRows(sqlmock.NewRows(userColumns))

	user := record.New(sess, "User")
	require.NoError(t, user.Set("name", "stale"))

	found, err := user.LoadBy(context.Background(), "name", "nobody")
	require.NoError(t, err)
	assert.False(t, found)

	// the record starts over from the catalog defaults
	v, err := user.Get("name")
	require.NoError(t, err)
	assert.False(t, v.IsValid())
}

func TestLoadMultipleRows(t *testing.T) {
	sess, mock, _ := newSession(t)

	mock.ExpectQuery("SELECT * FROM `Study` WHERE `site` = ?").
		WithArgs("Halifax").
		WillReturnRows(sqlmock.NewRows(studyColumns).
			AddRow(int64(1), "A100", "Halifax", "jdoe", nil).
			AddRow(int64(2), "A200", "Halifax", "jdoe", nil))

	study := record.New(sess, "Study")
	found, err := study.LoadBy(context.Background(), "site", "Halifax")
	assert.False(t, found)
	assert.ErrorIs(t, err, record.ErrIntegrityViolation)
}

func TestLoadUnknownPredicateColumn(t *testing.T) {
	sess, _, _ := newSession(t)

	_, err := record.New(sess, "User").LoadBy(context.Background(), "email", "a@example.org")
	assert.ErrorIs(t, err, record.ErrSchemaNotFound)
}

func TestLoadQueryError(t *testing.T) {
	sess, mock, _ := newSession(t)
	boom := errors.New("boom")

	mock.ExpectQuery("SELECT * FROM `User` WHERE `id` = ?").WithArgs(1).WillReturnError(boom)

	_, err := record.New(sess, "User").LoadBy(context.Background(), "id", 1)
	assert.ErrorIs(t, err, boom)
}

func TestSaveInsertsThenUpdates(t *testing.T) {
	sess, mock, _ := newSession(t)
	rec := &recorder{}
	sess.SetObserver(rec)

	mock.ExpectExec("INSERT INTO `Study` SET `uid` = ?, `site` = ?, `interviewer` = ?, `datetime_acquired` = ?, `create_timestamp` = NULL").
		WithArgs("A100", "unknown", "jdoe", nil).
		WillReturnResult(sqlmock.NewResult(12, 1))
	mock.ExpectExec("UPDATE `Study` SET `uid` = ?, `site` = ?, `interviewer` = ?, `datetime_acquired` = ? WHERE `id` = ?").
		WithArgs("A100", "Halifax", "jdoe", nil, 12).
		WillReturnResult(sqlmock.NewResult(0, 1))

	study := record.New(sess, "Study")
	require.NoError(t, study.Set("uid", "A100"))
	require.NoError(t, study.Set("interviewer", "jdoe"))
	require.NoError(t, study.Save(context.Background()))
	assert.Equal(t, int64(12), study.ID())
	assert.False(t, study.IsNew())

	require.NoError(t, study.Set("site", "Halifax"))
	require.NoError(t, study.Save(context.Background()))

	require.Len(t, rec.changes, 2)
	assert.Equal(t, core.ChangeInsert, rec.changes[0].Operation)
	assert.Equal(t, int64(12), rec.changes[0].ID)
	assert.Equal(t, "Study", rec.changes[0].Table)
	assert.Equal(t, core.ChangeUpdate, rec.changes[1].Operation)
	assert.Equal(t, "Halifax", rec.changes[1].Values["site"])
}

func TestSaveZeroIDInserts(t *testing.T) {
	sess, mock, _ := newSession(t)

	mock.ExpectExec("INSERT INTO `Image` SET `study_id` = ?, `create_timestamp` = NULL").
		WithArgs(3).
		WillReturnResult(sqlmock.NewResult(8, 1))

	image := record.New(sess, "Image")
	require.NoError(t, image.Set("id", 0))
	require.NoError(t, image.Set("study_id", 3))
	require.NoError(t, image.Save(context.Background()))
	assert.Equal(t, int64(8), image.ID())
}

func TestSaveRejectsNullInNotNullColumn(t *testing.T) {
	sess, _, _ := newSession(t)

	user := record.New(sess, "User")
	require.NoError(t, user.Set("password", "hash"))
	err := user.Save(context.Background())
	assert.ErrorIs(t, err, schema.ErrNotNullable)
	assert.True(t, user.IsNew())
}

func TestSaveExecError(t *testing.T) {
	sess, mock, _ := newSession(t)
	rec := &recorder{}
	sess.SetObserver(rec)
	boom := errors.New("duplicate entry")

	mock.ExpectExec("INSERT INTO `Image` SET `study_id` = ?, `create_timestamp` = NULL").
		WithArgs(3).
		WillReturnError(boom)

	image := record.New(sess, "Image")
	require.NoError(t, image.Set("study_id", 3))
	assert.ErrorIs(t, image.Save(context.Background()), boom)
	assert.True(t, image.IsNew())
	assert.Empty(t, rec.changes)
}

func TestRemove(t *testing.T) {
	sess, mock, _ := newSession(t)
	rec := &recorder{}
	sess.SetObserver(rec)

	expectImage(mock, 8, 3)
	mock.ExpectExec("DELETE FROM `Image` WHERE `id` = ?").
		WithArgs(8).
		WillReturnResult(sqlmock.NewResult(0, 1))

	image := record.New(sess, "Image")
	found, err := image.LoadBy(context.Background(), "id", 8)
	require.NoError(t, err)
	require.True(t, found)
	require.NoError(t, image.Remove(context.Background()))

	require.Len(t, rec.changes, 1)
	assert.Equal(t, core.ChangeDelete, rec.changes[0].Operation)
	assert.Equal(t, "Image:8", rec.changes[0].Key())
}

func TestRemoveWithoutID(t *testing.T) {
	sess, _, _ := newSession(t)

	err := record.New(sess, "Image").Remove(context.Background())
	assert.ErrorIs(t, err, record.ErrMissingPrimaryKey)
}

func TestChangeOmitsPassword(t *testing.T) {
	sess, mock, _ := newSession(t)
	rec := &recorder{}
	sess.SetObserver(rec)

	mock.ExpectExec("INSERT INTO `User` SET `name` = ?, `password` = ?, `study_id` = ?, `create_timestamp` = NULL").
		WithArgs("alice", "secret", nil).
		WillReturnResult(sqlmock.NewResult(1, 1))

	user := record.New(sess, "User")
	require.NoError(t, user.Set("name", "alice"))
	require.NoError(t, user.Set("password", "secret"))
	require.NoError(t, user.Save(context.Background()))

	require.Len(t, rec.changes, 1)
	assert.NotContains(t, rec.changes[0].Values, "password")
	assert.Equal(t, "alice", rec.changes[0].Values["name"])
	assert.NotContains(t, user.String(), "secret")
}

func TestSaveLoadRoundTrip(t *testing.T) {
	sess, mock, _ := newSession(t)

	mock.ExpectExec("INSERT INTO `Study` SET `uid` = ?, `site` = ?, `interviewer` = ?, `datetime_acquired` = ?, `create_timestamp` = NULL").
		WithArgs("B200", "Vancouver", "asmith", "2013-05-06 07:08:09").
		WillReturnResult(sqlmock.NewResult(21, 1))
	mock.ExpectQuery("SELECT * FROM `Study` WHERE `id` = ?").
		WithArgs(21).
		WillReturnRows(sqlmock.NewRows(studyColumns).
			AddRow(int64(21), "B200", "Vancouver", "asmith", []byte("2013-05-06 07:08:09")))

	study := record.New(sess, "Study")
	require.NoError(t, study.Set("uid", "B200"))
	require.NoError(t, study.Set("site", "Vancouver"))
	require.NoError(t, study.Set("interviewer", "asmith"))
	require.NoError(t, study.Set("datetime_acquired", "2013-05-06 07:08:09"))
	require.NoError(t, study.Save(context.Background()))

	loaded := record.New(sess, "Study")
	found, err := loaded.LoadBy(context.Background(), "id", study.ID())
	require.NoError(t, err)
	require.True(t, found)

	saved, _ := study.Values()
	reloaded, _ := loaded.Values()
	for column, v := range saved {
		assert.True(t, v.Equal(reloaded[column]), "column %s: %#v != %#v", column, v, reloaded[column])
	}
}

func TestIndependentLoads(t *testing.T) {
	sess, mock, _ := newSession(t)
	expectImage(mock, 8, 3)
	expectImage(mock, 8, 3)

	a := record.New(sess, "Image")
	b := record.New(sess, "Image")
	_, err := a.LoadBy(context.Background(), "id", 8)
	require.NoError(t, err)
	_, err = b.LoadBy(context.Background(), "id", 8)
	require.NoError(t, err)

	require.NoError(t, a.Set("study_id", 4))
	v, _ := b.Get("study_id")
	assert.Equal(t, int64(3), v.Int())
}
