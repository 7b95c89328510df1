package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/clsa/birch/internal/config"
	"github.com/clsa/birch/internal/core"
	"github.com/clsa/birch/internal/database/mockdb"
	"github.com/clsa/birch/internal/model"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

var (
	userColumns  = []string{"id", "name", "password", "study_id"}
	studyColumns = []string{"id", "uid", "site", "interviewer", "datetime_acquired"}
	imageColumns = []string{"id", "study_id"}
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Database.Name = mockdb.Name
	cfg.Database.Username = "rater"
	cfg.Paths.ImageData = "/data/images"
	cfg.Selection.Type = "memory"
	cfg.Events.QueueType = "memory"
	return cfg
}

func attached(t *testing.T, cfg *config.Config) (*Application, sqlmock.Sqlmock) {
	t.Helper()
	db, mock := mockdb.New(t)
	mockdb.ExpectCatalog(mock)

	logger, _ := test.NewNullLogger()
	a := New(cfg, logger)
	require.NoError(t, a.Attach(context.Background(), db))
	t.Cleanup(func() { a.Close() })
	return a, mock
}

func expectUser(t *testing.T, mock sqlmock.Sqlmock, name, password string, studyID interface{}) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	mock.ExpectQuery("SELECT * FROM `User` WHERE `name` = ?").
		WithArgs(name).
		WillReturnRows(sqlmock.NewRows(userColumns).AddRow(int64(4), name, string(hash), studyID))
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

func TestNotConnected(t *testing.T) {
	a := New(nil, nil)

	_, err := a.Session()
	assert.ErrorIs(t, err, ErrNotConnected)

	_, err = a.Authenticate(context.Background(), "alice", "pw")
	assert.ErrorIs(t, err, ErrNotConnected)

	assert.NoError(t, a.Close())
}

func TestAttach(t *testing.T) {
	a, _ := attached(t, testConfig())

	sess, err := a.Session()
	require.NoError(t, err)
	assert.True(t, sess.Catalog().HasTable("Rating"))
	assert.NotNil(t, a.selection)
	assert.NotNil(t, a.publisher)
}

func TestAttachWithoutSideChannels(t *testing.T) {
	cfg := testConfig()
	cfg.Selection.Type = ""
	cfg.Events.QueueType = ""
	a, _ := attached(t, cfg)

	assert.Nil(t, a.selection)
	assert.Nil(t, a.publisher)
}

func TestAuthenticate(t *testing.T) {
	a, mock := attached(t, testConfig())
	ctx := context.Background()

	expectUser(t, mock, "alice", "hunter2", nil)
	user, err := a.Authenticate(ctx, "alice", "hunter2")
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Name())

	expectUser(t, mock, "alice", "hunter2", nil)
	_, err = a.Authenticate(ctx, "alice", "wrong")
	assert.ErrorIs(t, err, ErrBadPassword)

	mock.ExpectQuery("SELECT * FROM `User` WHERE `name` = ?").
		WithArgs("nobody").
		WillReturnRows(sqlmock.NewRows(userColumns))
	_, err = a.Authenticate(ctx, "nobody", "x")
	assert.ErrorIs(t, err, ErrUnknownUser)
}

func TestRemoveUser(t *testing.T) {
	a, mock := attached(t, testConfig())
	ctx := context.Background()

	expectUser(t, mock, "alice", "hunter2", nil)
	user, err := a.Authenticate(ctx, "alice", "hunter2")
	require.NoError(t, err)
	require.NoError(t, a.SetActiveUser(ctx, user))
	require.NoError(t, a.selection.Set(ctx, "birch:selection:4", []byte("8"), 0))

	expectUser(t, mock, "alice", "hunter2", nil)
	mock.ExpectExec("DELETE FROM `User` WHERE `id` = ?").
		WithArgs(4).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, a.RemoveUser(ctx, "alice"))

	assert.Nil(t, a.ActiveUser())
	ok, err := a.selection.Exists(ctx, "birch:selection:4")
	require.NoError(t, err)
	assert.False(t, ok)

	changes, err := a.changes.Dequeue(ctx, 10)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, core.ChangeDelete, changes[0].Operation)
	assert.Equal(t, "User:4", changes[0].Key())
}

func TestRemoveUnknownUser(t *testing.T) {
	a, mock := attached(t, testConfig())

	mock.ExpectQuery("SELECT * FROM `User` WHERE `name` = ?").
		WithArgs("nobody").
		WillReturnRows(sqlmock.NewRows(userColumns))
	err := a.RemoveUser(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrUnknownUser)
}

func TestSetActiveUserSelectsLastStudy(t *testing.T) {
	a, mock := attached(t, testConfig())
	ctx := context.Background()

	expectUser(t, mock, "alice", "hunter2", int64(3))
	user, err := a.Authenticate(ctx, "alice", "hunter2")
	require.NoError(t, err)

	expectStudy(mock, 3, "A100")
	require.NoError(t, a.SetActiveUser(ctx, user))
	assert.Same(t, user, a.ActiveUser())
	require.NotNil(t, a.ActiveStudy())
	assert.Equal(t, "A100", a.ActiveStudy().UID())
	assert.Nil(t, a.ActiveImage())

	require.NoError(t, a.SetActiveUser(ctx, nil))
	assert.Nil(t, a.ActiveUser())
	assert.Nil(t, a.ActiveStudy())
}

func TestSelectionIsRemembered(t *testing.T) {
	a, mock := attached(t, testConfig())
	ctx := context.Background()
	sess, _ := a.Session()

	expectUser(t, mock, "alice", "hunter2", nil)
	user, err := a.Authenticate(ctx, "alice", "hunter2")
	require.NoError(t, err)
	require.NoError(t, a.SetActiveUser(ctx, user))
	assert.Nil(t, a.ActiveStudy())

	study := model.NewStudy(sess)
	require.NoError(t, study.Set("id", 3))
	require.NoError(t, study.Set("uid", "A100"))

	mock.ExpectExec("UPDATE `User` SET `name` = ?, `password` = ?, `study_id` = ? WHERE `id` = ?").
		WithArgs("alice", sqlmock.AnyArg(), 3, 4).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, a.SetActiveStudy(ctx, study))
	assert.Same(t, study, a.ActiveStudy())
	assert.Nil(t, a.ActiveImage())

	image := model.NewImage(sess)
	require.NoError(t, image.Set("id", 8))
	require.NoError(t, image.Set("study_id", 3))
	require.NoError(t, a.SetActiveImage(ctx, image))

	remembered, err := a.selection.Get(ctx, "birch:selection:4")
	require.NoError(t, err)
	assert.Equal(t, "8", string(remembered))

	// choosing the study again restores the image
	mock.ExpectExec("UPDATE `User` SET `name` = ?, `password` = ?, `study_id` = ? WHERE `id` = ?").
		WithArgs("alice", sqlmock.AnyArg(), 3, 4).
		WillReturnResult(sqlmock.NewResult(0, 1))
	expectImage(mock, 8, 3)
	require.NoError(t, a.SetActiveStudy(ctx, study))
	require.NotNil(t, a.ActiveImage())
	assert.Equal(t, int64(8), a.ActiveImage().ID())

	changes, err := a.changes.Dequeue(ctx, 10)
	require.NoError(t, err)
	require.Len(t, changes, 2)
	assert.Equal(t, core.ChangeUpdate, changes[0].Operation)
	assert.Equal(t, "User:4", changes[0].Key())
}

func TestRememberedImageOfOtherStudy(t *testing.T) {
	cfg := testConfig()
	cfg.Events.QueueType = ""
	a, mock := attached(t, cfg)
	ctx := context.Background()

	expectUser(t, mock, "alice", "hunter2", int64(5))
	user, err := a.Authenticate(ctx, "alice", "hunter2")
	require.NoError(t, err)
	require.NoError(t, a.selection.Set(ctx, "birch:selection:4", []byte("8"), 0))

	// image 8 belongs to study 3, not 5
	expectStudy(mock, 5, "A500")
	expectImage(mock, 8, 3)
	require.NoError(t, a.SetActiveUser(ctx, user))
	assert.Equal(t, "A500", a.ActiveStudy().UID())
	assert.Nil(t, a.ActiveImage())

	a.Reset()
	assert.Nil(t, a.ActiveUser())
}

func TestClearActiveStudy(t *testing.T) {
	a, mock := attached(t, testConfig())
	ctx := context.Background()

	expectUser(t, mock, "alice", "hunter2", nil)
	user, err := a.Authenticate(ctx, "alice", "hunter2")
	require.NoError(t, err)
	require.NoError(t, a.SetActiveUser(ctx, user))

	mock.ExpectExec("UPDATE `User` SET `name` = ?, `password` = ?, `study_id` = ? WHERE `id` = ?").
		WithArgs("alice", sqlmock.AnyArg(), nil, 4).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, a.SetActiveStudy(ctx, nil))
	assert.Nil(t, a.ActiveStudy())
}

func TestImagePath(t *testing.T) {
	a, mock := attached(t, testConfig())
	sess, _ := a.Session()

	image := model.NewImage(sess)
	require.NoError(t, image.Set("id", 8))
	require.NoError(t, image.Set("study_id", 3))
	expectStudy(mock, 3, "A100")

	path, err := a.ImagePath(context.Background(), image)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/data/images", "A100", "Image", "8.jpg"), path)
}
