// Package announcement manages store announcements shown on the front page.
package announcement

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"

	"github.com/xenking/bookshop/internal/validation"
)

var ErrNotFound = errors.New("announcement not found")

// Announcement is a message with an optional visibility window.
type Announcement struct {
	ID        string
	Title     string
	Body      string
	AuthorID  string
	StartsAt  *time.Time
	EndsAt    *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// VisibleAt reports whether the announcement is shown at now. Missing bounds
// are open.
func (a *Announcement) VisibleAt(now time.Time) bool {
	if a.StartsAt != nil && now.Before(*a.StartsAt) {
		return false
	}
	if a.EndsAt != nil && now.After(*a.EndsAt) {
		return false
	}
	return true
}

func (a *Announcement) Validate() error {
	errs := validation.Errors{}
	errs.Check(strings.TrimSpace(a.Title) != "", "title", "is required")
	errs.Check(strings.TrimSpace(a.Body) != "", "body", "is required")
	errs.Check(a.StartsAt == nil || a.EndsAt == nil || !a.EndsAt.Before(*a.StartsAt),
		"endsAt", "must not be before startsAt")
	return errs.Err()
}

// Repository persists announcements, newest first.
type Repository interface {
	List(ctx context.Context) ([]Announcement, error)
	Get(ctx context.Context, id string) (*Announcement, error)
	Create(ctx context.Context, a *Announcement) error
	Update(ctx context.Context, a *Announcement) error
	Delete(ctx context.Context, id string) error
}

// Input carries the editable fields.
type Input struct {
	Title    string
	Body     string
	StartsAt *time.Time
	EndsAt   *time.Time
}

type Service struct {
	repo Repository
	now  func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// List returns visible announcements, or all of them when includeHidden is set.
func (s *Service) List(ctx context.Context, includeHidden bool) ([]Announcement, error) {
	all, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	if includeHidden {
		return all, nil
	}
	now := s.now()
	visible := all[:0]
	for _, a := range all {
		if a.VisibleAt(now) {
			visible = append(visible, a)
		}
	}
	return visible, nil
}

func (s *Service) Create(ctx context.Context, authorID string, in Input) (*Announcement, error) {
	now := s.now().UTC()
	a := &Announcement{
		ID:        uuid.NewString(),
		AuthorID:  authorID,
		CreatedAt: now,
	}
	apply(a, in, now)
	if err := a.Validate(); err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

func (s *Service) Update(ctx context.Context, id string, in Input) (*Announcement, error) {
	a, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	apply(a, in, s.now().UTC())
	if err := a.Validate(); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	return s.repo.Delete(ctx, id)
}

func apply(a *Announcement, in Input, now time.Time) {
	a.Title = strings.TrimSpace(in.Title)
	a.Body = strings.TrimSpace(in.Body)
	a.StartsAt = in.StartsAt
	a.EndsAt = in.EndsAt
	a.UpdatedAt = now
}
