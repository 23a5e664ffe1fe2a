package review

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/bookshop/internal/domain/book"
	"github.com/xenking/bookshop/internal/validation"
)

type mockBookRepo struct {
	book.Repository
	ids map[string]bool
}

func (m *mockBookRepo) GetByID(_ context.Context, id string) (*book.Book, error) {
	if !m.ids[id] {
		return nil, book.ErrNotFound
	}
	return &book.Book{ID: id}, nil
}

type mockRepo struct {
	byID map[string]Review
}

func (m *mockRepo) ListByBook(_ context.Context, bookID string) ([]Review, error) {
	var out []Review
	for _, r := range m.byID {
		if r.BookID == bookID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *mockRepo) Get(_ context.Context, id string) (*Review, error) {
	r, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &r, nil
}

func (m *mockRepo) Create(_ context.Context, r *Review) error {
	for _, existing := range m.byID {
		if existing.BookID == r.BookID && existing.UserID == r.UserID {
			return ErrDuplicate
		}
	}
	m.byID[r.ID] = *r
	return nil
}

func (m *mockRepo) Update(_ context.Context, r *Review) error {
	m.byID[r.ID] = *r
	return nil
}

func (m *mockRepo) Delete(_ context.Context, id string) error {
	delete(m.byID, id)
	return nil
}

func newTestService() (*Service, *mockRepo) {
	repo := &mockRepo{byID: map[string]Review{}}
	return NewService(repo, &mockBookRepo{ids: map[string]bool{"b1": true}}), repo
}

func TestCreate(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	r, err := svc.Create(ctx, "u1", "b1", 4, "  Loved it  ")
	require.NoError(t, err)
	assert.Equal(t, "Loved it", r.Comment)

	_, err = svc.Create(ctx, "u1", "b1", 5, "again")
	require.ErrorIs(t, err, ErrDuplicate)

	_, err = svc.Create(ctx, "u1", "missing", 5, "")
	require.ErrorIs(t, err, book.ErrNotFound)
}

func TestCreate_RatingBounds(t *testing.T) {
	svc, _ := newTestService()

	for _, rating := range []int{0, 6, -1} {
		_, err := svc.Create(context.Background(), "u1", "b1", rating, "")
		var vErr *validation.Error
		require.ErrorAs(t, err, &vErr)
		assert.Contains(t, vErr.Fields, "rating")
	}
}

func TestUpdateAndDelete_Ownership(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()
	r, err := svc.Create(ctx, "u1", "b1", 3, "ok")
	require.NoError(t, err)

	_, err = svc.Update(ctx, r.ID, Actor{UserID: "u2"}, 1, "bad")
	require.ErrorIs(t, err, ErrForbidden)

	updated, err := svc.Update(ctx, r.ID, Actor{UserID: "u1"}, 5, "better on reread")
	require.NoError(t, err)
	assert.Equal(t, 5, updated.Rating)

	require.ErrorIs(t, svc.Delete(ctx, r.ID, Actor{UserID: "u2"}), ErrForbidden)
	require.NoError(t, svc.Delete(ctx, r.ID, Actor{UserID: "mod", Moderator: true}))
	assert.Empty(t, repo.byID)

	require.ErrorIs(t, svc.Delete(ctx, r.ID, Actor{UserID: "u1"}), ErrNotFound)
}

func TestSummarize(t *testing.T) {
	assert.Equal(t, 0, Summarize(nil).Count)
	assert.True(t, Summarize(nil).Average.IsZero())

	s := Summarize([]Review{{Rating: 5}, {Rating: 4}, {Rating: 4}})
	assert.Equal(t, 3, s.Count)
	assert.True(t, decimal.RequireFromString("4.3").Equal(s.Average))
}
