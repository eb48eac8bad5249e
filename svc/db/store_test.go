package db

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pasties/pkg/domain"
)

func TestStoreErrorKinds(t *testing.T) {
	cause := errors.New("disk on fire")
	err := errors.Wrap(writeErr("insert", cause), "outer")
	assert.True(t, errors.Is(err, ErrWrite))
	assert.False(t, errors.Is(err, ErrRead))
	assert.True(t, errors.Is(err, cause))
	assert.Contains(t, err.Error(), "store insert: write: disk on fire")

	var se *StoreError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "insert", se.Op)
	assert.Equal(t, KindWrite, se.Kind)

	assert.True(t, errors.Is(notFound("retrieve"), ErrNotFound))
	assert.True(t, errors.Is(conflict("insert", nil), ErrConflict))
	assert.Equal(t, "store: read", ErrRead.Error())
}

func samplePaste(url string) *domain.Paste {
	return &domain.Paste{
		ID:            42,
		URL:           url,
		Content:       "hello",
		PasswordHash:  "ab12",
		DatePublished: 1000,
		DateEdited:    1000,
	}
}

// exerciseStore runs the gateway contract against a live backend.
func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	_, err := s.Retrieve(ctx, "missing")
	require.True(t, errors.Is(err, ErrNotFound), "got %v", err)

	p := samplePaste("first")
	require.NoError(t, s.Insert(ctx, p))

	got, err := s.Retrieve(ctx, "first")
	require.NoError(t, err)
	assert.Equal(t, p, got)

	dup := samplePaste("first")
	dup.ID = 43
	err = s.Insert(ctx, dup)
	assert.True(t, errors.Is(err, ErrConflict), "got %v", err)

	require.NoError(t, s.Update(ctx, "first", domain.PasteFields{
		Content:      "changed",
		PasswordHash: "cd34",
		DateEdited:   2000,
	}))
	got, err = s.Retrieve(ctx, "first")
	require.NoError(t, err)
	assert.Equal(t, "changed", got.Content)
	assert.Equal(t, "cd34", got.PasswordHash)
	assert.Equal(t, int64(1000), got.DatePublished)
	assert.Equal(t, int64(2000), got.DateEdited)
	assert.Equal(t, int64(42), got.ID)

	require.NoError(t, s.Update(ctx, "first", domain.PasteFields{
		URL:          "renamed",
		Content:      "moved",
		PasswordHash: "cd34",
		DateEdited:   3000,
	}))
	_, err = s.Retrieve(ctx, "first")
	assert.True(t, errors.Is(err, ErrNotFound))
	got, err = s.Retrieve(ctx, "renamed")
	require.NoError(t, err)
	assert.Equal(t, "moved", got.Content)
	assert.Equal(t, int64(42), got.ID)

	other := samplePaste("other")
	other.ID = 44
	require.NoError(t, s.Insert(ctx, other))
	err = s.Update(ctx, "other", domain.PasteFields{URL: "renamed", Content: "x", PasswordHash: "h", DateEdited: 1})
	assert.True(t, errors.Is(err, ErrConflict), "got %v", err)

	require.NoError(t, s.Update(ctx, "nobody", domain.PasteFields{Content: "x", PasswordHash: "h", DateEdited: 1}))
	_, err = s.Retrieve(ctx, "nobody")
	assert.True(t, errors.Is(err, ErrNotFound))

	require.NoError(t, s.Delete(ctx, "renamed"))
	_, err = s.Retrieve(ctx, "renamed")
	assert.True(t, errors.Is(err, ErrNotFound))
	require.NoError(t, s.Delete(ctx, "renamed"))

	require.NoError(t, s.Ping(ctx))
}
