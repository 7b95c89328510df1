package model

import (
	"context"

	"github.com/clsa/birch/internal/core"
	"github.com/clsa/birch/internal/record"
	"golang.org/x/crypto/bcrypt"
)

// DefaultPassword is what ResetPassword sets. A user holding it must
// choose a new password at the next login.
const DefaultPassword = "password"

const passwordColumn = "password"

// User is a rater account.
type User struct {
	*record.Record
}

// NewUser returns an empty user.
func NewUser(sess *record.Session) *User {
	return UserFrom(record.New(sess, string(KindUser)))
}

// UserFrom wraps a User row. Any password set through it is hashed.
func UserFrom(r *record.Record) *User {
	r.Apply(record.WithSetFilter(hashPassword))
	return &User{Record: r}
}

// LoadUserByName loads the user with the given name.
func LoadUserByName(ctx context.Context, sess *record.Session, name string) (*User, bool, error) {
	u := NewUser(sess)
	found, err := u.LoadBy(ctx, "name", name)
	if err != nil || !found {
		return nil, false, err
	}
	return u, true, nil
}

func hashPassword(column string, v core.Value) (core.Value, error) {
	if column != passwordColumn || !v.IsValid() {
		return v, nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(v.String()), bcrypt.DefaultCost)
	if err != nil {
		return core.Null(), err
	}
	return core.NewValue(string(hash)), nil
}

// Kind returns KindUser.
func (*User) Kind() Kind { return KindUser }

// Row returns the underlying record.
func (u *User) Row() *record.Record { return u.Record }

// Name returns the login name.
func (u *User) Name() string {
	v, _ := u.Get("name")
	return v.String()
}

// IsPassword reports whether candidate matches the stored password hash.
func (u *User) IsPassword(candidate string) bool {
	stored, err := u.Get(passwordColumn)
	if err != nil || !stored.IsValid() {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(stored.String()), []byte(candidate)) == nil
}

// ResetPassword sets the password to DefaultPassword. Save persists it.
func (u *User) ResetPassword() error {
	return u.Set(passwordColumn, DefaultPassword)
}

// MustChangePassword reports whether the user still has the default
// password.
func (u *User) MustChangePassword() bool {
	return u.IsPassword(DefaultPassword)
}

// Study returns the study the user last worked on, or nil.
func (u *User) Study(ctx context.Context) (*Study, error) {
	r, err := u.GetRecord(ctx, string(KindStudy), "")
	if err != nil || r == nil {
		return nil, err
	}
	return StudyFrom(r), nil
}
