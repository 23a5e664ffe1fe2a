package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/bookshop/internal/domain/announcement"
)

const announcementColumns = `id, title, body, COALESCE(author_id, ''), starts_at, ends_at, created_at, updated_at`

const (
	listAnnouncementsSQL = `SELECT ` + announcementColumns + ` FROM announcements ORDER BY created_at DESC`

	getAnnouncementSQL = `SELECT ` + announcementColumns + ` FROM announcements WHERE id = $1`

	createAnnouncementSQL = `INSERT INTO announcements (id, title, body, author_id, starts_at, ends_at, created_at, updated_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8)`

	updateAnnouncementSQL = `UPDATE announcements SET title = $2, body = $3, starts_at = $4, ends_at = $5, updated_at = $6
		WHERE id = $1`

	deleteAnnouncementSQL = `DELETE FROM announcements WHERE id = $1`
)

var _ announcement.Repository = (*AnnouncementRepository)(nil)

// AnnouncementRepository implements announcement.Repository backed by PostgreSQL.
type AnnouncementRepository struct {
	pool *pgxpool.Pool
}

// NewAnnouncementRepository returns an AnnouncementRepository that uses the given pool.
func NewAnnouncementRepository(pool *pgxpool.Pool) *AnnouncementRepository {
	return &AnnouncementRepository{pool: pool}
}

func (r *AnnouncementRepository) List(ctx context.Context) ([]announcement.Announcement, error) {
	rows, err := r.pool.Query(ctx, listAnnouncementsSQL)
	if err != nil {
		return nil, fmt.Errorf("listing announcements: %w", err)
	}
	return pgx.CollectRows(rows, scanAnnouncement)
}

func (r *AnnouncementRepository) Get(ctx context.Context, id string) (*announcement.Announcement, error) {
	rows, err := r.pool.Query(ctx, getAnnouncementSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting announcement %q: %w", id, err)
	}
	a, err := pgx.CollectExactlyOneRow(rows, scanAnnouncement)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, announcement.ErrNotFound
		}
		return nil, fmt.Errorf("getting announcement %q: %w", id, err)
	}
	return &a, nil
}

func (r *AnnouncementRepository) Create(ctx context.Context, a *announcement.Announcement) error {
	_, err := r.pool.Exec(ctx, createAnnouncementSQL,
		a.ID, a.Title, a.Body, a.AuthorID, a.StartsAt, a.EndsAt, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating announcement: %w", err)
	}
	return nil
}

func (r *AnnouncementRepository) Update(ctx context.Context, a *announcement.Announcement) error {
	tag, err := r.pool.Exec(ctx, updateAnnouncementSQL,
		a.ID, a.Title, a.Body, a.StartsAt, a.EndsAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("updating announcement %q: %w", a.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return announcement.ErrNotFound
	}
	return nil
}

func (r *AnnouncementRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, deleteAnnouncementSQL, id)
	if err != nil {
		return fmt.Errorf("deleting announcement %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return announcement.ErrNotFound
	}
	return nil
}

func scanAnnouncement(row pgx.CollectableRow) (announcement.Announcement, error) {
	var a announcement.Announcement
	err := row.Scan(
		&a.ID, &a.Title, &a.Body, &a.AuthorID, &a.StartsAt, &a.EndsAt, &a.CreatedAt, &a.UpdatedAt,
	)
	return a, err
}
