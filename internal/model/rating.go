package model

import (
	"context"

	"github.com/clsa/birch/internal/record"
)

// Rating is one user's score for one image.
type Rating struct {
	*record.Record
}

// NewRating returns an empty rating.
func NewRating(sess *record.Session) *Rating {
	return RatingFrom(record.New(sess, string(KindRating)))
}

// RatingFrom wraps a Rating row.
func RatingFrom(r *record.Record) *Rating {
	return &Rating{Record: r}
}

// Kind returns KindRating.
func (*Rating) Kind() Kind { return KindRating }

// Row returns the underlying record.
func (r *Rating) Row() *record.Record { return r.Record }

// Value returns the score, false when it is NULL.
func (r *Rating) Value() (int64, bool) {
	v, err := r.Get("rating")
	if err != nil || !v.IsValid() {
		return 0, false
	}
	return v.Int(), true
}

// Rate stores user's score for image, updating the existing rating row if
// there is one.
func Rate(ctx context.Context, user *User, image *Image, score int64) (*Rating, error) {
	rating, found, err := image.RatingBy(ctx, user)
	if err != nil {
		return nil, err
	}
	if !found {
		rating = NewRating(user.Session())
		if err := rating.Set("user_id", user.ID()); err != nil {
			return nil, err
		}
		if err := rating.Set("image_id", image.ID()); err != nil {
			return nil, err
		}
	}
	if err := rating.Set("rating", score); err != nil {
		return nil, err
	}
	if err := rating.Save(ctx); err != nil {
		return nil, err
	}
	return rating, nil
}
