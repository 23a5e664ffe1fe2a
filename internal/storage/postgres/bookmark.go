package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/bookshop/internal/domain/bookmark"
)

const (
	listBookmarksSQL = `SELECT m.user_id, m.created_at, ` + prefixedBookColumns + `
		FROM bookmarks m JOIN books b ON b.id = m.book_id
		WHERE m.user_id = $1 ORDER BY m.created_at DESC`

	addBookmarkSQL = `INSERT INTO bookmarks (user_id, book_id, created_at) VALUES ($1, $2, $3)
		ON CONFLICT (user_id, book_id) DO NOTHING`

	removeBookmarkSQL = `DELETE FROM bookmarks WHERE user_id = $1 AND book_id = $2`
)

var _ bookmark.Repository = (*BookmarkRepository)(nil)

// BookmarkRepository implements bookmark.Repository backed by PostgreSQL.
type BookmarkRepository struct {
	pool *pgxpool.Pool
}

// NewBookmarkRepository returns a BookmarkRepository that uses the given pool.
func NewBookmarkRepository(pool *pgxpool.Pool) *BookmarkRepository {
	return &BookmarkRepository{pool: pool}
}

func (r *BookmarkRepository) List(ctx context.Context, userID string) ([]bookmark.Bookmark, error) {
	rows, err := r.pool.Query(ctx, listBookmarksSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("listing bookmarks for %q: %w", userID, err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (bookmark.Bookmark, error) {
		var m bookmark.Bookmark
		b := &m.Book
		err := row.Scan(
			&m.UserID, &m.CreatedAt,
			&b.ID, &b.ISBN, &b.Title, &b.Author, &b.Description, &b.Genre, &b.CoverURL,
			&b.Price, &b.Stock, &b.Sale.OnSale, &b.Sale.Percent, &b.Sale.Start, &b.Sale.End,
			&b.Version, &b.CreatedAt, &b.UpdatedAt,
		)
		return m, err
	})
}

func (r *BookmarkRepository) Add(ctx context.Context, userID, bookID string, at time.Time) error {
	if _, err := r.pool.Exec(ctx, addBookmarkSQL, userID, bookID, at); err != nil {
		return fmt.Errorf("adding bookmark %q: %w", bookID, err)
	}
	return nil
}

func (r *BookmarkRepository) Remove(ctx context.Context, userID, bookID string) error {
	tag, err := r.pool.Exec(ctx, removeBookmarkSQL, userID, bookID)
	if err != nil {
		return fmt.Errorf("removing bookmark %q: %w", bookID, err)
	}
	if tag.RowsAffected() == 0 {
		return bookmark.ErrNotFound
	}
	return nil
}
