package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sijeecodes/SaveTheShip/internal/models"
	"github.com/sijeecodes/SaveTheShip/internal/store"
	"github.com/sijeecodes/SaveTheShip/internal/store/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*RedisLobbyStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewRedisLobbyStore(rdb), mr
}

func TestRedisLobbyStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.LobbyStore {
		s, _ := newTestStore(t)
		return s
	})
}

func TestRedisLobbyStoreSetsKeyTTL(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	l, p := storetest.NewLobby("a", time.Now())
	require.NoError(t, s.CreateLobby(ctx, l, p))

	assert.True(t, mr.Exists(lobbyKey(l.ID)))
	assert.Greater(t, mr.TTL(lobbyKey(l.ID)), time.Duration(0))
	assert.Greater(t, mr.TTL(playersKey(l.ID)), time.Duration(0))
}

func TestRedisLobbyStoreIndexFollowsStatus(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	l, p := storetest.NewLobby("a", time.Now())
	require.NoError(t, s.CreateLobby(ctx, l, p))
	members, err := mr.ZMembers(waitingIndexKey)
	require.NoError(t, err)
	assert.Equal(t, []string{l.ID}, members)

	_, err = s.CompareAndSwap(ctx, l.ID, store.Update{
		Apply: func(l *models.Lobby) { l.Status = models.StatusFull },
	})
	require.NoError(t, err)

	members, _ = mr.ZMembers(waitingIndexKey)
	assert.Empty(t, members)
}

func TestRedisFindWaitingPrunesStaleEntries(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	l, p := storetest.NewLobby("a", time.Now())
	require.NoError(t, s.CreateLobby(ctx, l, p))
	mr.Del(lobbyKey(l.ID))

	_, err := s.FindWaiting(ctx)
	assert.ErrorIs(t, err, store.ErrNotFound)

	members, _ := mr.ZMembers(waitingIndexKey)
	assert.Empty(t, members)
}
