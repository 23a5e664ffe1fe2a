package bookmark

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/bookshop/internal/domain/book"
)

type mockBookRepo struct {
	book.Repository
}

func (mockBookRepo) GetByID(_ context.Context, id string) (*book.Book, error) {
	if id != "b1" {
		return nil, book.ErrNotFound
	}
	return &book.Book{ID: id, Title: "Dune"}, nil
}

type mockRepo struct {
	added map[string]time.Time
}

func (m *mockRepo) List(_ context.Context, userID string) ([]Bookmark, error) {
	var out []Bookmark
	for id, at := range m.added {
		out = append(out, Bookmark{UserID: userID, Book: book.Book{ID: id}, CreatedAt: at})
	}
	return out, nil
}

func (m *mockRepo) Add(_ context.Context, _, bookID string, at time.Time) error {
	if _, ok := m.added[bookID]; !ok {
		m.added[bookID] = at
	}
	return nil
}

func (m *mockRepo) Remove(_ context.Context, _, bookID string) error {
	if _, ok := m.added[bookID]; !ok {
		return ErrNotFound
	}
	delete(m.added, bookID)
	return nil
}

func TestBookmarks(t *testing.T) {
	repo := &mockRepo{added: map[string]time.Time{}}
	svc := NewService(repo, mockBookRepo{})
	ctx := context.Background()

	require.NoError(t, svc.Add(ctx, "u1", "b1"))
	require.NoError(t, svc.Add(ctx, "u1", "b1"))
	require.ErrorIs(t, svc.Add(ctx, "u1", "missing"), book.ErrNotFound)

	list, err := svc.List(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, svc.Remove(ctx, "u1", "b1"))
	require.ErrorIs(t, svc.Remove(ctx, "u1", "b1"), ErrNotFound)
}
