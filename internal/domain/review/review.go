// Package review implements book reviews. A user reviews a book at most once.
package review

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/bookshop/internal/domain/book"
	"github.com/xenking/bookshop/internal/validation"
)

var (
	ErrNotFound  = errors.New("review not found")
	ErrDuplicate = errors.New("book already reviewed by this user")
	ErrForbidden = errors.New("review belongs to another user")
)

const maxCommentLength = 4000

type Review struct {
	ID        string
	BookID    string
	UserID    string
	UserName  string
	Rating    int
	Comment   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate checks rating bounds and comment length.
func (r *Review) Validate() error {
	errs := validation.Errors{}
	errs.Check(r.Rating >= 1 && r.Rating <= 5, "rating", "must be between 1 and 5")
	errs.Check(utf8.RuneCountInString(r.Comment) <= maxCommentLength, "comment", "is too long")
	return errs.Err()
}

// Summary aggregates the reviews of one book.
type Summary struct {
	Count   int
	Average decimal.Decimal
}

// Repository persists reviews.
type Repository interface {
	ListByBook(ctx context.Context, bookID string) ([]Review, error)
	Get(ctx context.Context, id string) (*Review, error)
	// Create returns ErrDuplicate when the user already reviewed the book.
	Create(ctx context.Context, r *Review) error
	Update(ctx context.Context, r *Review) error
	Delete(ctx context.Context, id string) error
}

// Actor is the user acting on a review. Moderators may change any review.
type Actor struct {
	UserID    string
	Moderator bool
}

type Service struct {
	reviews Repository
	books   book.Repository
	now     func() time.Time
}

func NewService(reviews Repository, books book.Repository) *Service {
	return &Service{reviews: reviews, books: books, now: time.Now}
}

// ListByBook returns a book's reviews with their summary.
func (s *Service) ListByBook(ctx context.Context, bookID string) ([]Review, Summary, error) {
	list, err := s.reviews.ListByBook(ctx, bookID)
	if err != nil {
		return nil, Summary{}, err
	}
	return list, Summarize(list), nil
}

func (s *Service) Get(ctx context.Context, id string) (*Review, error) {
	return s.reviews.Get(ctx, id)
}

// Create adds the user's review of a book.
func (s *Service) Create(ctx context.Context, userID, bookID string, rating int, comment string) (*Review, error) {
	now := s.now().UTC()
	r := &Review{
		ID:        uuid.NewString(),
		BookID:    bookID,
		UserID:    userID,
		Rating:    rating,
		Comment:   strings.TrimSpace(comment),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	if _, err := s.books.GetByID(ctx, bookID); err != nil {
		return nil, err
	}
	if err := s.reviews.Create(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// Update changes the rating and comment of a review.
func (s *Service) Update(ctx context.Context, id string, actor Actor, rating int, comment string) (*Review, error) {
	r, err := s.owned(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	r.Rating = rating
	r.Comment = strings.TrimSpace(comment)
	if err := r.Validate(); err != nil {
		return nil, err
	}
	r.UpdatedAt = s.now().UTC()
	if err := s.reviews.Update(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

func (s *Service) Delete(ctx context.Context, id string, actor Actor) error {
	if _, err := s.owned(ctx, id, actor); err != nil {
		return err
	}
	return s.reviews.Delete(ctx, id)
}

func (s *Service) owned(ctx context.Context, id string, actor Actor) (*Review, error) {
	r, err := s.reviews.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.UserID != actor.UserID && !actor.Moderator {
		return nil, ErrForbidden
	}
	return r, nil
}

// Summarize computes the review count and the average rating rounded to one
// decimal place.
func Summarize(list []Review) Summary {
	if len(list) == 0 {
		return Summary{Average: decimal.Zero}
	}
	total := 0
	for _, r := range list {
		total += r.Rating
	}
	return Summary{
		Count:   len(list),
		Average: decimal.NewFromInt(int64(total)).Div(decimal.NewFromInt(int64(len(list)))).Round(1),
	}
}
