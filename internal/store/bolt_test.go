package store_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/roomchat/internal/store"
)

// compile-time checks that both backends satisfy the same method set.
var (
	_ accountStore = (*store.BoltStore)(nil)
	_ accountStore = (*store.PostgresStore)(nil)
)

type accountStore interface {
	CreateUser(ctx context.Context, u store.User) (store.User, error)
	FindUserByEmail(ctx context.Context, email string) (store.User, error)
	FindUserByID(ctx context.Context, id string) (store.User, error)
	Close() error
}

func openTestStore(t *testing.T) *store.BoltStore {
	t.Helper()
	s, err := store.OpenBolt(filepath.Join(t.TempDir(), "users.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestBoltStore_CreateAndFind(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	created, err := s.CreateUser(ctx, store.User{
		Name:         "Alice",
		Email:        "  Alice@Example.com ",
		PasswordHash: "hash",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "alice@example.com", created.Email)
	assert.False(t, created.CreatedAt.IsZero())

	byEmail, err := s.FindUserByEmail(ctx, "ALICE@example.com")
	require.NoError(t, err)
	assert.Equal(t, created.ID, byEmail.ID)
	assert.Equal(t, "Alice", byEmail.Name)
	assert.Equal(t, "hash", byEmail.PasswordHash)

	byID, err := s.FindUserByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.Email, byID.Email)
}

func TestBoltStore_DuplicateEmail(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, err := s.CreateUser(ctx, store.User{Name: "Alice", Email: "alice@example.com", PasswordHash: "h1"})
	require.NoError(t, err)

	_, err = s.CreateUser(ctx, store.User{Name: "Other", Email: "ALICE@example.com", PasswordHash: "h2"})
	assert.ErrorIs(t, err, store.ErrEmailTaken)

	u, err := s.FindUserByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, "Alice", u.Name, "failed insert must not overwrite the first account")
}

func TestBoltStore_NotFound(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, err := s.FindUserByEmail(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, store.ErrUserNotFound)

	_, err = s.FindUserByID(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrUserNotFound)
}

func TestBoltStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "users.db")

	s, err := store.OpenBolt(path)
	require.NoError(t, err)
	created, err := s.CreateUser(ctx, store.User{Name: "Bob", Email: "bob@example.com", PasswordHash: "h"})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := store.OpenBolt(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })

	u, err := reopened.FindUserByEmail(ctx, "bob@example.com")
	require.NoError(t, err)
	assert.Equal(t, created.ID, u.ID)
}
