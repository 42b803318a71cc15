package sessions

import (
	"context"
	"testing"
	"time"

	"github.com/aiqsync/datasync/internal/document"
	"github.com/stretchr/testify/require"
)

func TestLogoutAndIsRevoked(t *testing.T) {
	repo := NewMemoryRepository()
	svc := NewService(repo, time.Hour)
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return at }
	repo.now = svc.now
	ctx := context.Background()

	ok, err := svc.IsRevoked(ctx, "appear", "alice", at.Add(-time.Minute))
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, svc.Logout(ctx, "appear", "alice"))

	// tokens from before the logout are refused, newer ones pass
	ok, err = svc.IsRevoked(ctx, "appear", "alice", at.Add(-time.Minute))
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = svc.IsRevoked(ctx, "appear", "alice", at.Add(time.Minute))
	require.NoError(t, err)
	require.False(t, ok)

	// no token claims at all
	ok, err = svc.IsRevoked(ctx, "appear", "alice", time.Time{})
	require.NoError(t, err)
	require.True(t, ok)

	// other org and other user are untouched
	ok, err = svc.IsRevoked(ctx, "other", "alice", time.Time{})
	require.NoError(t, err)
	require.False(t, ok)
	ok, err = svc.IsRevoked(ctx, "appear", "bob", time.Time{})
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, svc.Reinstate(ctx, "appear", "alice"))
	ok, err = svc.IsRevoked(ctx, "appear", "alice", time.Time{})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestLogoutExpiresAfterTTL(t *testing.T) {
	repo := NewMemoryRepository()
	svc := NewService(repo, time.Hour)
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return at }
	svc.now, repo.now = clock, clock
	ctx := context.Background()

	require.NoError(t, svc.Logout(ctx, "appear", "alice"))
	ok, err := svc.IsRevoked(ctx, "appear", "alice", at.Add(-time.Minute))
	require.NoError(t, err)
	require.True(t, ok)

	at = at.Add(time.Hour + time.Second)
	ok, err = svc.IsRevoked(ctx, "appear", "alice", at.Add(-2*time.Hour))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestLogoutValidation(t *testing.T) {
	svc := NewService(NewMemoryRepository(), 0)
	require.Equal(t, DefaultTTL, svc.ttl)
	ctx := context.Background()

	err := svc.Logout(ctx, "appear", "")
	require.ErrorIs(t, err, document.ErrValidation)
	require.ErrorIs(t, err, ErrMissingUser)

	err = svc.Logout(ctx, "bad org", "alice")
	require.ErrorIs(t, err, document.ErrValidation)

	ok, err := svc.IsRevoked(ctx, "appear", "", time.Time{})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMemoryRepositoryExpiry(t *testing.T) {
	repo := NewMemoryRepository()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, repo.Put(ctx, &Revocation{Organization: "appear", UserID: "alice", RevokedAt: now, ExpiresAt: now.Add(time.Second)}))
	got, err := repo.Get(ctx, "appear", "alice")
	require.NoError(t, err)
	require.NotNil(t, got)

	now = now.Add(2 * time.Second)
	got, err = repo.Get(ctx, "appear", "alice")
	require.NoError(t, err)
	require.Nil(t, got)
	require.Empty(t, repo.items)
}
