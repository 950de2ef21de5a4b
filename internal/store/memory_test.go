package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/sijeecodes/SaveTheShip/internal/models"
	"github.com/sijeecodes/SaveTheShip/internal/store"
	"github.com/sijeecodes/SaveTheShip/internal/store/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.LobbyStore {
		return store.NewMemoryStore()
	})
}

func TestMemoryStoreClockedExpiry(t *testing.T) {
	now := time.Now()
	s := store.NewMemoryStore().WithClock(func() time.Time { return now })
	ctx := context.Background()

	l, p := storetest.NewLobby("a", now)
	require.NoError(t, s.CreateLobby(ctx, l, p))

	now = l.ExpiresAt
	_, err := s.FindWaiting(ctx)
	assert.ErrorIs(t, err, store.ErrNotFound)

	n, err := s.PurgeExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()
	l, p := storetest.NewLobby("a", time.Now())
	require.NoError(t, s.CreateLobby(ctx, l, p))

	got, err := s.GetLobby(ctx, l.ID)
	require.NoError(t, err)
	got.Status = models.StatusFinished
	got.Players[0] = "mallory"

	again, err := s.GetLobby(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusWaiting, again.Status)
	assert.Equal(t, []string{"a"}, again.Players)
}

func TestLessOrdering(t *testing.T) {
	now := time.Now()
	a := &models.Lobby{ID: "a", PlayerCount: 2, CreatedAt: now}
	b := &models.Lobby{ID: "b", PlayerCount: 1, CreatedAt: now.Add(time.Hour)}
	c := &models.Lobby{ID: "c", PlayerCount: 1, CreatedAt: now.Add(time.Hour)}

	assert.True(t, store.Less(b, a))
	assert.False(t, store.Less(a, b))
	assert.True(t, store.Less(b, c), "id breaks exact ties")
}
