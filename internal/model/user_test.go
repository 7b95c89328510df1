package model_test

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/clsa/birch/internal/model"
	"github.com/clsa/birch/internal/record"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestPasswordIsHashed(t *testing.T) {
	sess, _ := newSession(t)
	user := model.NewUser(sess)

	require.NoError(t, user.Set("password", "hunter2"))
	stored, err := user.Get("password")
	require.NoError(t, err)
	assert.NotEqual(t, "hunter2", stored.String())
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored.String()), []byte("hunter2")))

	assert.True(t, user.IsPassword("hunter2"))
	assert.False(t, user.IsPassword("hunter3"))
	assert.False(t, user.MustChangePassword())
}

func TestPasswordUnsetNeverMatches(t *testing.T) {
	sess, _ := newSession(t)
	user := model.NewUser(sess)

	assert.False(t, user.IsPassword(""))
	assert.False(t, user.MustChangePassword())
}

func TestResetPassword(t *testing.T) {
	sess, _ := newSession(t)
	user := model.NewUser(sess)

	require.NoError(t, user.ResetPassword())
	assert.True(t, user.IsPassword(model.DefaultPassword))
	assert.True(t, user.MustChangePassword())
}

func TestLoadedHashIsNotRehashed(t *testing.T) {
	sess, mock := newSession(t)
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT * FROM `User` WHERE `name` = ?").
		WithArgs("alice").
		WillReturnRows(sqlmock.NewRows(userColumns).AddRow(int64(4), "alice", string(hash), int64(3)))

	user, found, err := model.LoadUserByName(context.Background(), sess, "alice")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "alice", user.Name())
	assert.Equal(t, int64(4), user.ID())
	assert.True(t, user.IsPassword("hunter2"))
}

func TestLoadUserByNameNotFound(t *testing.T) {
	sess, mock := newSession(t)

	mock.ExpectQuery("SELECT * FROM `User` WHERE `name` = ?").
		WithArgs("nobody").
		WillReturnRows(sqlmock.NewRows(userColumns))

	user, found, err := model.LoadUserByName(context.Background(), sess, "nobody")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, user)
}

func TestSaveUserStoresHash(t *testing.T) {
	sess, mock := newSession(t)

	mock.ExpectExec("INSERT INTO `User` SET `name` = ?, `password` = ?, `study_id` = ?, `create_timestamp` = NULL").
		WithArgs("alice", sqlmock.AnyArg(), nil).
		WillReturnResult(sqlmock.NewResult(4, 1))

	user := model.NewUser(sess)
	require.NoError(t, user.Set("name", "alice"))
	require.NoError(t, user.ResetPassword())
	require.NoError(t, user.Save(context.Background()))
	assert.Equal(t, int64(4), user.ID())
}

func TestUserStudy(t *testing.T) {
	sess, mock := newSession(t)

	user := persistedUser(t, sess, 4, "alice")
	study, err := user.Study(context.Background())
	require.NoError(t, err)
	assert.Nil(t, study)

	require.NoError(t, user.Set("study_id", 3))
	expectStudyBy(mock, "id", 3, 3, "A100")
	study, err = user.Study(context.Background())
	require.NoError(t, err)
	require.NotNil(t, study)
	assert.Equal(t, "A100", study.UID())
}

func TestPasswordHashedOnUserReachedThroughRelations(t *testing.T) {
	sess, mock := newSession(t)
	ctx := context.Background()
	hash, err := bcrypt.GenerateFromPassword([]byte("old"), bcrypt.MinCost)
	require.NoError(t, err)

	rating := model.NewRating(sess)
	require.NoError(t, rating.Set("user_id", 4))
	mock.ExpectQuery("SELECT * FROM `User` WHERE `id` = ?").
		WithArgs(4).
		WillReturnRows(sqlmock.NewRows(userColumns).AddRow(int64(4), "alice", string(hash), nil))

	related, err := rating.GetRecord(ctx, "User", "")
	require.NoError(t, err)
	require.NotNil(t, related)
	require.NoError(t, related.Set("password", "hunter2"))
	stored, _ := related.Get("password")
	assert.NotEqual(t, "hunter2", stored.String())
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored.String()), []byte("hunter2")))

	mock.ExpectQuery("SELECT `id` FROM `User`").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(4)))
	mock.ExpectQuery("SELECT * FROM `User` WHERE `id` = ?").
		WithArgs(4).
		WillReturnRows(sqlmock.NewRows(userColumns).AddRow(int64(4), "alice", string(hash), nil))

	all, err := record.All(ctx, sess, "User")
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.NoError(t, all[0].Set("password", "hunter2"))
	stored, _ = all[0].Get("password")
	assert.NotEqual(t, "hunter2", stored.String())
	assert.True(t, model.UserFrom(all[0]).IsPassword("hunter2"))
}

func TestUserFilterKeepsOtherColumns(t *testing.T) {
	sess, _ := newSession(t)
	user := record.New(sess, "User")

	require.NoError(t, user.Set("name", "alice"))
	name, _ := user.Get("name")
	assert.Equal(t, "alice", name.String())

	require.NoError(t, user.SetNull("password"))
	stored, _ := user.Get("password")
	assert.False(t, stored.IsValid())
}
