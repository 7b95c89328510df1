package model

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/clsa/birch/internal/record"
)

// ErrNoStudy is returned when an image has no owning study.
var ErrNoStudy = errors.New("image has no study")

// Image is a single ultrasound image of a study.
type Image struct {
	*record.Record
}

// NewImage returns an empty image.
func NewImage(sess *record.Session) *Image {
	return ImageFrom(record.New(sess, string(KindImage)))
}

// ImageFrom wraps an Image row.
func ImageFrom(r *record.Record) *Image {
	return &Image{Record: r}
}

// Kind returns KindImage.
func (*Image) Kind() Kind { return KindImage }

// Row returns the underlying record.
func (i *Image) Row() *record.Record { return i.Record }

// Study returns the study the image belongs to, or nil.
func (i *Image) Study(ctx context.Context) (*Study, error) {
	r, err := i.GetRecord(ctx, string(KindStudy), "")
	if err != nil || r == nil {
		return nil, err
	}
	return StudyFrom(r), nil
}

// FileName returns the image file path: <base>/<study uid>/Image/<id>.jpg.
func (i *Image) FileName(ctx context.Context, base string) (string, error) {
	if err := i.AssertPrimaryID(); err != nil {
		return "", err
	}
	study, err := i.Study(ctx)
	if err != nil {
		return "", err
	}
	if study == nil {
		return "", fmt.Errorf("%w: image %d", ErrNoStudy, i.ID())
	}
	return filepath.Join(base, study.UID(), "Image", strconv.FormatInt(i.ID(), 10)+".jpg"), nil
}

// RatingBy loads user's rating of the image. It returns false when the
// user has not rated it.
func (i *Image) RatingBy(ctx context.Context, user *User) (*Rating, bool, error) {
	if err := i.AssertPrimaryID(); err != nil {
		return nil, false, err
	}
	if user == nil {
		return nil, false, ErrNilUser
	}

	rating := NewRating(user.Session())
	found, err := rating.Load(ctx, map[string]interface{}{
		"user_id":  user.ID(),
		"image_id": i.ID(),
	})
	if err != nil || !found {
		return nil, false, err
	}
	return rating, true, nil
}

// IsRatedBy reports whether user has a non-NULL rating for the image.
func (i *Image) IsRatedBy(ctx context.Context, user *User) (bool, error) {
	rating, found, err := i.RatingBy(ctx, user)
	if err != nil || !found {
		return false, err
	}
	_, ok := rating.Value()
	return ok, nil
}
