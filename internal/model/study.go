package model

import (
	"context"
	"errors"
	"fmt"

	"github.com/clsa/birch/internal/record"
)

var (
	// ErrEmptyStudyList is returned when stepping through studies while the
	// Study table is empty.
	ErrEmptyStudyList = errors.New("study list is empty")

	// ErrStudyNotListed is returned when the current study's uid is not in
	// the study list.
	ErrStudyNotListed = errors.New("study list does not include current uid")

	// ErrNilUser is returned when a rating check is asked for no user.
	ErrNilUser = errors.New("tried to get rating for nil user")
)

// Study is one participant exam holding a set of images.
type Study struct {
	*record.Record
}

// NewStudy returns an empty study.
func NewStudy(sess *record.Session) *Study {
	return StudyFrom(record.New(sess, string(KindStudy)))
}

// StudyFrom wraps a Study row.
func StudyFrom(r *record.Record) *Study {
	return &Study{Record: r}
}

// LoadStudyByUID loads the study with the given uid.
func LoadStudyByUID(ctx context.Context, sess *record.Session, uid string) (*Study, bool, error) {
	s := NewStudy(sess)
	found, err := s.LoadBy(ctx, "uid", uid)
	if err != nil || !found {
		return nil, false, err
	}
	return s, true, nil
}

// StudyUIDs returns every study uid in ascending order.
func StudyUIDs(ctx context.Context, sess *record.Session) ([]string, error) {
	rows, err := sess.DB().Query(ctx, "SELECT `uid` FROM `Study` ORDER BY `uid`")
	if err != nil {
		return nil, fmt.Errorf("failed to list study uids: %w", err)
	}
	defer rows.Close()

	var uids []string
	for rows.Next() {
		var uid string
		if err := rows.Scan(&uid); err != nil {
			return nil, fmt.Errorf("failed to scan study uid: %w", err)
		}
		uids = append(uids, uid)
	}
	return uids, rows.Err()
}

// Kind returns KindStudy.
func (*Study) Kind() Kind { return KindStudy }

// Row returns the underlying record.
func (s *Study) Row() *record.Record { return s.Record }

// UID returns the study identifier.
func (s *Study) UID() string {
	v, _ := s.Get("uid")
	return v.String()
}

// Next returns the study following this one in uid order, wrapping from
// the last study to the first.
func (s *Study) Next(ctx context.Context) (*Study, error) {
	return s.step(ctx, 1)
}

// Previous returns the study preceding this one in uid order, wrapping
// from the first study to the last.
func (s *Study) Previous(ctx context.Context) (*Study, error) {
	return s.step(ctx, -1)
}

// Advance moves the study itself to the one following it in uid order.
func (s *Study) Advance(ctx context.Context) error {
	return s.move(ctx, 1)
}

// Retreat moves the study itself to the one preceding it in uid order.
func (s *Study) Retreat(ctx context.Context) error {
	return s.move(ctx, -1)
}

func (s *Study) step(ctx context.Context, delta int) (*Study, error) {
	uid, err := s.neighbour(ctx, delta)
	if err != nil {
		return nil, err
	}
	next, found, err := LoadStudyByUID(ctx, s.Session(), uid)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %q", ErrStudyNotListed, uid)
	}
	return next, nil
}

// move reloads the receiver. On failure the receiver may be left
// uninitialized.
func (s *Study) move(ctx context.Context, delta int) error {
	uid, err := s.neighbour(ctx, delta)
	if err != nil {
		return err
	}
	found, err := s.LoadBy(ctx, "uid", uid)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: %q", ErrStudyNotListed, uid)
	}
	return nil
}

func (s *Study) neighbour(ctx context.Context, delta int) (string, error) {
	current := s.UID()
	uids, err := StudyUIDs(ctx, s.Session())
	if err != nil {
		return "", err
	}
	if len(uids) == 0 {
		return "", ErrEmptyStudyList
	}

	pos := -1
	for i, uid := range uids {
		if uid == current {
			pos = i
			break
		}
	}
	if pos < 0 {
		return "", fmt.Errorf("%w: %q", ErrStudyNotListed, current)
	}

	n := len(uids)
	return uids[(pos+delta+n)%n], nil
}

// Images returns the study's images.
func (s *Study) Images(ctx context.Context) ([]*Image, error) {
	return List[*Image](ctx, s)
}

// IsRatedBy reports whether user has a non-NULL rating on every image of
// the study. A study without images counts as rated.
func (s *Study) IsRatedBy(ctx context.Context, user *User) (bool, error) {
	if err := s.AssertPrimaryID(); err != nil {
		return false, err
	}
	if user == nil {
		return false, ErrNilUser
	}

	images, err := s.Images(ctx)
	if err != nil {
		return false, err
	}
	for _, image := range images {
		rated, err := image.IsRatedBy(ctx, user)
		if err != nil {
			return false, err
		}
		if !rated {
			return false, nil
		}
	}
	return true, nil
}
