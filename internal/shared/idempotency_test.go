package shared

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type execCall struct {
	sql  string
	args []any
}

type fakeExecer struct {
	calls []execCall
	tag   pgconn.CommandTag
	err   error
}

func (f *fakeExecer) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.calls = append(f.calls, execCall{sql: sql, args: args})
	return f.tag, f.err
}

func TestIdempotencyCheckAndInsert(t *testing.T) {
	db := &fakeExecer{}
	store := NewIdempotencyStore(db)
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	require.NoError(t, store.CheckAndInsert(context.Background(), "convert:abc", "booking.convert"))
	require.Len(t, db.calls, 1)
	assert.Equal(t, []any{"convert:abc", "booking.convert", now}, db.calls[0].args)
}

func TestIdempotencyConflict(t *testing.T) {
	db := &fakeExecer{err: &pgconn.PgError{Code: "23505"}}
	store := NewIdempotencyStore(db)

	err := store.CheckAndInsert(context.Background(), "k", "m")
	assert.ErrorIs(t, err, ErrIdempotencyConflict)

	boom := errors.New("connection reset")
	db.err = boom
	err = store.CheckAndInsert(context.Background(), "k", "m")
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrIdempotencyConflict)
}

func TestIdempotencyValidation(t *testing.T) {
	store := NewIdempotencyStore(&fakeExecer{})
	assert.Error(t, store.CheckAndInsert(context.Background(), "", "m"))
	assert.Error(t, store.CheckAndInsert(context.Background(), "k", ""))
	assert.Error(t, store.Delete(context.Background(), ""))

	var nilStore *IdempotencyStore
	assert.Error(t, nilStore.CheckAndInsert(context.Background(), "k", "m"))
	assert.NoError(t, nilStore.Delete(context.Background(), "k"))
	removed, err := nilStore.Cleanup(context.Background(), time.Hour)
	assert.NoError(t, err)
	assert.Zero(t, removed)
}

func TestIdempotencyCleanup(t *testing.T) {
	db := &fakeExecer{tag: pgconn.NewCommandTag("DELETE 3")}
	store := NewIdempotencyStore(db)
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	removed, err := store.Cleanup(context.Background(), 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(3), removed)
	assert.Equal(t, []any{now.Add(-24 * time.Hour)}, db.calls[0].args)
}

func TestIdempotencyDelete(t *testing.T) {
	db := &fakeExecer{}
	store := NewIdempotencyStore(db)

	require.NoError(t, store.Delete(context.Background(), "convert:abc"))
	assert.Equal(t, []any{"convert:abc"}, db.calls[0].args)
}
