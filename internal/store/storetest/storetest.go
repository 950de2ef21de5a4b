// Package storetest holds behaviour checks shared by every LobbyStore
// implementation.
package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sijeecodes/SaveTheShip/internal/models"
	"github.com/sijeecodes/SaveTheShip/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns an empty store for one subtest.
type Factory func(t *testing.T) store.LobbyStore

// NewLobby builds a waiting lobby with a single member.
func NewLobby(playerID string, createdAt time.Time) (*models.Lobby, models.LobbyPlayer) {
	l := &models.Lobby{
		ID:          uuid.Must(uuid.NewV7()).String(),
		Status:      models.StatusWaiting,
		PlayerCount: 1,
		MaxPlayers:  5,
		Players:     []string{playerID},
		CreatedAt:   createdAt.Truncate(time.Millisecond),
		ExpiresAt:   createdAt.Add(15 * time.Minute).Truncate(time.Millisecond),
	}
	p := models.LobbyPlayer{PlayerID: playerID, PlayerName: "p-" + playerID, JoinedAt: l.CreatedAt}
	return l, p
}

func joinUpdate(playerID string, now time.Time) store.Update {
	return store.Update{
		Condition: func(l *models.Lobby) bool {
			return l.Status == models.StatusWaiting && l.PlayerCount < l.MaxPlayers && !l.HasPlayer(playerID)
		},
		Apply: func(l *models.Lobby) {
			l.PlayerCount++
			l.Players = append(l.Players, playerID)
			if l.PlayerCount >= l.MaxPlayers {
				l.Status = models.StatusFull
			}
		},
		AddPlayer: &models.LobbyPlayer{PlayerID: playerID, PlayerName: "p-" + playerID, JoinedAt: now},
	}
}

// Run exercises the LobbyStore contract.
func Run(t *testing.T, newStore Factory) {
	ctx := context.Background()

	t.Run("CreateAndGet", func(t *testing.T) {
		s := newStore(t)
		l, p := NewLobby("alice", time.Now())
		require.NoError(t, s.CreateLobby(ctx, l, p))

		got, err := s.GetLobby(ctx, l.ID)
		require.NoError(t, err)
		assert.Equal(t, l.ID, got.ID)
		assert.Equal(t, models.StatusWaiting, got.Status)
		assert.Equal(t, 1, got.PlayerCount)
		assert.Equal(t, []string{"alice"}, got.Players)

		players, err := s.ListPlayers(ctx, l.ID)
		require.NoError(t, err)
		require.Len(t, players, 1)
		assert.Equal(t, "alice", players[0].PlayerID)
	})

	t.Run("GetMissing", func(t *testing.T) {
		s := newStore(t)
		_, err := s.GetLobby(ctx, "missing")
		assert.ErrorIs(t, err, store.ErrNotFound)
		_, err = s.ListPlayers(ctx, "missing")
		assert.ErrorIs(t, err, store.ErrNotFound)
		_, err = s.CompareAndSwap(ctx, "missing", store.Update{})
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("FindWaitingOrder", func(t *testing.T) {
		s := newStore(t)
		_, err := s.FindWaiting(ctx)
		assert.ErrorIs(t, err, store.ErrNotFound)

		base := time.Now()
		older, op := NewLobby("a", base)
		newer, np := NewLobby("b", base.Add(time.Second))
		require.NoError(t, s.CreateLobby(ctx, older, op))
		require.NoError(t, s.CreateLobby(ctx, newer, np))

		got, err := s.FindWaiting(ctx)
		require.NoError(t, err)
		assert.Equal(t, older.ID, got.ID, "equal population prefers the oldest lobby")

		_, err = s.CompareAndSwap(ctx, older.ID, joinUpdate("c", base))
		require.NoError(t, err)

		got, err = s.FindWaiting(ctx)
		require.NoError(t, err)
		assert.Equal(t, newer.ID, got.ID, "lower population sorts first")
	})

	t.Run("CompareAndSwapCondition", func(t *testing.T) {
		s := newStore(t)
		l, p := NewLobby("a", time.Now())
		require.NoError(t, s.CreateLobby(ctx, l, p))

		_, err := s.CompareAndSwap(ctx, l.ID, joinUpdate("a", time.Now()))
		assert.ErrorIs(t, err, store.ErrConditionFailed, "duplicate player must be rejected")

		got, err := s.CompareAndSwap(ctx, l.ID, joinUpdate("b", time.Now()))
		require.NoError(t, err)
		assert.Equal(t, 2, got.PlayerCount)
		assert.Equal(t, []string{"a", "b"}, got.Players)

		players, err := s.ListPlayers(ctx, l.ID)
		require.NoError(t, err)
		assert.Len(t, players, 2)
	})

	t.Run("StatusLeavesIndex", func(t *testing.T) {
		s := newStore(t)
		l, p := NewLobby("a", time.Now())
		require.NoError(t, s.CreateLobby(ctx, l, p))

		_, err := s.CompareAndSwap(ctx, l.ID, store.Update{
			Apply: func(l *models.Lobby) { l.Status = models.StatusInProgress },
		})
		require.NoError(t, err)

		_, err = s.FindWaiting(ctx)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("ConcurrentJoinsNeverOverfill", func(t *testing.T) {
		s := newStore(t)
		l, p := NewLobby("p0", time.Now())
		require.NoError(t, s.CreateLobby(ctx, l, p))

		var wg sync.WaitGroup
		var mu sync.Mutex
		admitted := 1
		for i := 1; i <= 12; i++ {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				if _, err := s.CompareAndSwap(ctx, l.ID, joinUpdate(id, time.Now())); err == nil {
					mu.Lock()
					admitted++
					mu.Unlock()
				}
			}(uuid.NewString())
		}
		wg.Wait()

		got, err := s.GetLobby(ctx, l.ID)
		require.NoError(t, err)
		assert.LessOrEqual(t, got.PlayerCount, got.MaxPlayers)
		assert.Equal(t, len(got.Players), got.PlayerCount)
		assert.Equal(t, admitted, got.PlayerCount)

		players, err := s.ListPlayers(ctx, l.ID)
		require.NoError(t, err)
		assert.Len(t, players, got.PlayerCount)
	})

	t.Run("SetPlayerRole", func(t *testing.T) {
		s := newStore(t)
		l, p := NewLobby("a", time.Now())
		require.NoError(t, s.CreateLobby(ctx, l, p))

		require.NoError(t, s.SetPlayerRole(ctx, l.ID, "a", models.RoleSaboteur))
		players, err := s.ListPlayers(ctx, l.ID)
		require.NoError(t, err)
		assert.Equal(t, models.RoleSaboteur, players[0].Role)

		assert.ErrorIs(t, s.SetPlayerRole(ctx, l.ID, "ghost", models.RoleCrew), store.ErrNotFound)
	})

	t.Run("PurgeExpired", func(t *testing.T) {
		s := newStore(t)
		now := time.Now()
		stale, sp := NewLobby("a", now.Add(-time.Hour))
		stale.ExpiresAt = now.Add(-time.Minute).Truncate(time.Millisecond)
		fresh, fp := NewLobby("b", now)
		require.NoError(t, s.CreateLobby(ctx, stale, sp))
		require.NoError(t, s.CreateLobby(ctx, fresh, fp))

		_, err := s.GetLobby(ctx, stale.ID)
		assert.ErrorIs(t, err, store.ErrNotFound, "expired lobbies are invisible")

		_, err = s.PurgeExpired(ctx, now)
		require.NoError(t, err)

		got, err := s.FindWaiting(ctx)
		require.NoError(t, err)
		assert.Equal(t, fresh.ID, got.ID)
	})
}
