package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/bookshop/internal/domain/review"
)

const reviewColumns = `r.id, r.book_id, r.user_id, u.name, r.rating, r.comment, r.created_at, r.updated_at`

const (
	listReviewsByBookSQL = `SELECT ` + reviewColumns + `
		FROM reviews r JOIN users u ON u.id = r.user_id
		WHERE r.book_id = $1 ORDER BY r.created_at DESC`

	getReviewSQL = `SELECT ` + reviewColumns + `
		FROM reviews r JOIN users u ON u.id = r.user_id WHERE r.id = $1`

	createReviewSQL = `INSERT INTO reviews (id, book_id, user_id, rating, comment, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	updateReviewSQL = `UPDATE reviews SET rating = $2, comment = $3, updated_at = $4 WHERE id = $1`

	deleteReviewSQL = `DELETE FROM reviews WHERE id = $1`
)

var _ review.Repository = (*ReviewRepository)(nil)

// ReviewRepository implements review.Repository backed by PostgreSQL.
type ReviewRepository struct {
	pool *pgxpool.Pool
}

// NewReviewRepository returns a ReviewRepository that uses the given pool.
func NewReviewRepository(pool *pgxpool.Pool) *ReviewRepository {
	return &ReviewRepository{pool: pool}
}

func (r *ReviewRepository) ListByBook(ctx context.Context, bookID string) ([]review.Review, error) {
	rows, err := r.pool.Query(ctx, listReviewsByBookSQL, bookID)
	if err != nil {
		return nil, fmt.Errorf("listing reviews for %q: %w", bookID, err)
	}
	return pgx.CollectRows(rows, scanReview)
}

func (r *ReviewRepository) Get(ctx context.Context, id string) (*review.Review, error) {
	rows, err := r.pool.Query(ctx, getReviewSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting review %q: %w", id, err)
	}
	rv, err := pgx.CollectExactlyOneRow(rows, scanReview)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, review.ErrNotFound
		}
		return nil, fmt.Errorf("getting review %q: %w", id, err)
	}
	return &rv, nil
}

func (r *ReviewRepository) Create(ctx context.Context, rv *review.Review) error {
	_, err := r.pool.Exec(ctx, createReviewSQL,
		rv.ID, rv.BookID, rv.UserID, rv.Rating, rv.Comment, rv.CreatedAt, rv.UpdatedAt,
	)
	if err != nil {
		if _, ok := uniqueConstraint(err); ok {
			return review.ErrDuplicate
		}
		return fmt.Errorf("creating review: %w", err)
	}
	return nil
}

func (r *ReviewRepository) Update(ctx context.Context, rv *review.Review) error {
	tag, err := r.pool.Exec(ctx, updateReviewSQL, rv.ID, rv.Rating, rv.Comment, rv.UpdatedAt)
	if err != nil {
		return fmt.Errorf("updating review %q: %w", rv.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return review.ErrNotFound
	}
	return nil
}

func (r *ReviewRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, deleteReviewSQL, id)
	if err != nil {
		return fmt.Errorf("deleting review %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return review.ErrNotFound
	}
	return nil
}

func scanReview(row pgx.CollectableRow) (review.Review, error) {
	var rv review.Review
	err := row.Scan(
		&rv.ID, &rv.BookID, &rv.UserID, &rv.UserName, &rv.Rating, &rv.Comment,
		&rv.CreatedAt, &rv.UpdatedAt,
	)
	return rv, err
}
