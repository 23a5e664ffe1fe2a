// Package bookmark keeps a user's saved books.
package bookmark

import (
	"context"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/bookshop/internal/domain/book"
)

var ErrNotFound = errors.New("bookmark not found")

// Bookmark is a saved book together with its current catalog entry.
type Bookmark struct {
	UserID    string
	Book      book.Book
	CreatedAt time.Time
}

// Repository persists bookmarks.
type Repository interface {
	List(ctx context.Context, userID string) ([]Bookmark, error)
	// Add is idempotent: bookmarking a book twice keeps the first timestamp.
	Add(ctx context.Context, userID, bookID string, at time.Time) error
	Remove(ctx context.Context, userID, bookID string) error
}

type Service struct {
	bookmarks Repository
	books     book.Repository
	now       func() time.Time
}

func NewService(bookmarks Repository, books book.Repository) *Service {
	return &Service{bookmarks: bookmarks, books: books, now: time.Now}
}

func (s *Service) List(ctx context.Context, userID string) ([]Bookmark, error) {
	return s.bookmarks.List(ctx, userID)
}

func (s *Service) Add(ctx context.Context, userID, bookID string) error {
	if _, err := s.books.GetByID(ctx, bookID); err != nil {
		return err
	}
	return s.bookmarks.Add(ctx, userID, bookID, s.now().UTC())
}

func (s *Service) Remove(ctx context.Context, userID, bookID string) error {
	return s.bookmarks.Remove(ctx, userID, bookID)
}
