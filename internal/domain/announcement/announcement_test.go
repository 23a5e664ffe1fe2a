package announcement

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/bookshop/internal/validation"
)

type mockRepo struct {
	items []Announcement
}

func (m *mockRepo) List(context.Context) ([]Announcement, error) {
	return append([]Announcement(nil), m.items...), nil
}

func (m *mockRepo) Get(_ context.Context, id string) (*Announcement, error) {
	for _, a := range m.items {
		if a.ID == id {
			return &a, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockRepo) Create(_ context.Context, a *Announcement) error {
	m.items = append(m.items, *a)
	return nil
}

func (m *mockRepo) Update(_ context.Context, a *Announcement) error {
	for i := range m.items {
		if m.items[i].ID == a.ID {
			m.items[i] = *a
			return nil
		}
	}
	return ErrNotFound
}

func (m *mockRepo) Delete(_ context.Context, id string) error {
	for i := range m.items {
		if m.items[i].ID == id {
			m.items = append(m.items[:i], m.items[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

func at(day int) *time.Time {
	t := time.Date(2025, 6, day, 0, 0, 0, 0, time.UTC)
	return &t
}

func TestVisibleAt(t *testing.T) {
	now := *at(10)
	tests := []struct {
		name   string
		starts *time.Time
		ends   *time.Time
		want   bool
	}{
		{"open", nil, nil, true},
		{"started", at(1), nil, true},
		{"not yet", at(11), nil, false},
		{"ended", nil, at(9), false},
		{"inside", at(1), at(20), true},
		{"inclusive end", nil, at(10), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := &Announcement{StartsAt: tt.starts, EndsAt: tt.ends}
			assert.Equal(t, tt.want, a.VisibleAt(now))
		})
	}
}

func TestService(t *testing.T) {
	repo := &mockRepo{}
	svc := NewService(repo)
	svc.now = func() time.Time { return *at(10) }
	ctx := context.Background()

	_, err := svc.Create(ctx, "admin", Input{Title: "Welcome", Body: "Open daily"})
	require.NoError(t, err)
	hidden, err := svc.Create(ctx, "admin", Input{Title: "Sale", Body: "Soon", StartsAt: at(15)})
	require.NoError(t, err)

	visible, err := svc.List(ctx, false)
	require.NoError(t, err)
	require.Len(t, visible, 1)
	assert.Equal(t, "Welcome", visible[0].Title)

	all, err := svc.List(ctx, true)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	updated, err := svc.Update(ctx, hidden.ID, Input{Title: "Sale", Body: "Now on"})
	require.NoError(t, err)
	assert.Nil(t, updated.StartsAt)

	visible, err = svc.List(ctx, false)
	require.NoError(t, err)
	assert.Len(t, visible, 2)

	require.NoError(t, svc.Delete(ctx, hidden.ID))
	_, err = svc.Update(ctx, hidden.ID, Input{Title: "x", Body: "y"})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCreate_Validation(t *testing.T) {
	svc := NewService(&mockRepo{})

	_, err := svc.Create(context.Background(), "admin", Input{StartsAt: at(5), EndsAt: at(1)})
	var vErr *validation.Error
	require.ErrorAs(t, err, &vErr)
	assert.Contains(t, vErr.Fields, "title")
	assert.Contains(t, vErr.Fields, "body")
	assert.Contains(t, vErr.Fields, "endsAt")
}
