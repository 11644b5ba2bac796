package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T, opts Options) *SQLite {
	t.Helper()
	if opts.Namespace == "" {
		opts.Namespace = "test-ns"
	}
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "state.db"), opts)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_SelectsSQLiteForPlainPath(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "state.db"), Options{Namespace: "ns"})
	require.NoError(t, err)
	defer s.Close()

	_, ok := s.(*SQLite)
	assert.True(t, ok, "plain path should open the SQLite backend")
}

func TestOpen_RequiresNamespace(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "state.db"), Options{})
	assert.Error(t, err)
}

func TestPutGreeted_Roundtrip(t *testing.T) {
	s := openTestStore(t, Options{})
	ctx := context.Background()

	require.NoError(t, s.PutGreeted(ctx, "Bob", "Alice"))

	rec, err := s.GetGreeted(ctx, "Bob")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "Bob", rec.User)
	assert.Equal(t, "Alice", rec.Greeter)
	assert.False(t, rec.NormalEditSeen)
	assert.WithinDuration(t, time.Now().UTC(), rec.CreatedAt, 5*time.Second)
}

func TestGetGreeted_AbsentReturnsNil(t *testing.T) {
	s := openTestStore(t, Options{})

	rec, err := s.GetGreeted(context.Background(), "Nobody")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestPutGreeted_OverwritesUnconditionally(t *testing.T) {
	s := openTestStore(t, Options{})
	ctx := context.Background()

	require.NoError(t, s.PutGreeted(ctx, "Bob", "Alice"))
	require.NoError(t, s.SetGreetedEditSeen(ctx, "Bob"))
	require.NoError(t, s.PutGreeted(ctx, "Bob", "Carol"))

	rec, err := s.GetGreeted(ctx, "Bob")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "Carol", rec.Greeter)
	assert.False(t, rec.NormalEditSeen, "overwrite must reset the edit-seen flag")
}

func TestSetGreetedEditSeen_FlipsInPlace(t *testing.T) {
	s := openTestStore(t, Options{})
	ctx := context.Background()

	require.NoError(t, s.PutGreeted(ctx, "Bob", "Alice"))
	require.NoError(t, s.SetGreetedEditSeen(ctx, "Bob"))

	rec, err := s.GetGreeted(ctx, "Bob")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.True(t, rec.NormalEditSeen)
}

func TestSetGreetedEditSeen_SilentWhenAbsent(t *testing.T) {
	s := openTestStore(t, Options{})

	// No record exists; must not error.
	assert.NoError(t, s.SetGreetedEditSeen(context.Background(), "Ghost"))
}

func TestRemoveGreeted_Idempotent(t *testing.T) {
	s := openTestStore(t, Options{})
	ctx := context.Background()

	require.NoError(t, s.PutGreeted(ctx, "Bob", "Alice"))
	require.NoError(t, s.RemoveGreeted(ctx, "Bob"))
	require.NoError(t, s.RemoveGreeted(ctx, "Bob"))

	rec, err := s.GetGreeted(ctx, "Bob")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestPutControlGroup_InsertIfAbsent(t *testing.T) {
	s := openTestStore(t, Options{})
	ctx := context.Background()

	require.NoError(t, s.PutControlGroup(ctx, "Carol"))
	first, err := s.GetControlGroup(ctx, "Carol")
	require.NoError(t, err)
	require.NotNil(t, first)

	// Second write is a no-op and must keep the original timestamp.
	require.NoError(t, s.PutControlGroup(ctx, "Carol"))
	second, err := s.GetControlGroup(ctx, "Carol")
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, first.CreatedAt, second.CreatedAt)
}

func TestExpiry_RecordsVanishAfterRetention(t *testing.T) {
	current := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := openTestStore(t, Options{
		Retention: 90 * 24 * time.Hour,
		Now:       func() time.Time { return current },
	})
	ctx := context.Background()

	require.NoError(t, s.PutGreeted(ctx, "Bob", "Alice"))
	require.NoError(t, s.PutControlGroup(ctx, "Carol"))

	current = current.Add(91 * 24 * time.Hour)

	rec, err := s.GetGreeted(ctx, "Bob")
	require.NoError(t, err)
	assert.Nil(t, rec, "greeted record should be expired")

	ctl, err := s.GetControlGroup(ctx, "Carol")
	require.NoError(t, err)
	assert.Nil(t, ctl, "control record should be expired")

	// Index sets have no TTL and survive expiry.
	greeted, err := s.ListGreeted(ctx)
	require.NoError(t, err)
	assert.Len(t, greeted, 1)
}

func TestListIndexes_InsertionOrder(t *testing.T) {
	current := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := openTestStore(t, Options{Now: func() time.Time { return current }})
	ctx := context.Background()

	require.NoError(t, s.PutGreeted(ctx, "Bob", "Alice"))
	current = current.Add(time.Minute)
	require.NoError(t, s.PutGreeted(ctx, "Dave", "Alice"))
	require.NoError(t, s.PutControlGroup(ctx, "Carol"))

	greeted, err := s.ListGreeted(ctx)
	require.NoError(t, err)
	require.Len(t, greeted, 2)
	assert.Equal(t, "Bob", greeted[0].User)
	assert.Equal(t, "Dave", greeted[1].User)

	control, err := s.ListControlGroup(ctx)
	require.NoError(t, err)
	require.Len(t, control, 1)
	assert.Equal(t, "Carol", control[0].User)
}

func TestClearIndexes_LeavesRecordsAlone(t *testing.T) {
	s := openTestStore(t, Options{})
	ctx := context.Background()

	require.NoError(t, s.PutGreeted(ctx, "Bob", "Alice"))
	require.NoError(t, s.PutControlGroup(ctx, "Carol"))
	require.NoError(t, s.ClearIndexes(ctx))

	greeted, err := s.ListGreeted(ctx)
	require.NoError(t, err)
	assert.Empty(t, greeted)

	control, err := s.ListControlGroup(ctx)
	require.NoError(t, err)
	assert.Empty(t, control)

	// The TTL'd records themselves are untouched.
	rec, err := s.GetGreeted(ctx, "Bob")
	require.NoError(t, err)
	assert.NotNil(t, rec)
}

func TestNamespaces_AreIsolated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	ctx := context.Background()

	a, err := OpenSQLite(path, Options{Namespace: "env-a"})
	require.NoError(t, err)
	defer a.Close()
	require.NoError(t, a.PutGreeted(ctx, "Bob", "Alice"))
	require.NoError(t, a.Close())

	b, err := OpenSQLite(path, Options{Namespace: "env-b"})
	require.NoError(t, err)
	defer b.Close()

	rec, err := b.GetGreeted(ctx, "Bob")
	require.NoError(t, err)
	assert.Nil(t, rec, "records must not leak across namespaces")
}
