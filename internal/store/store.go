// Package store defines the durable lobby store used by the matchmaking
// coordinator, plus an in-memory implementation.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/sijeecodes/SaveTheShip/internal/models"
)

var (
	// ErrNotFound is returned when a lobby key does not exist or has expired.
	ErrNotFound = errors.New("lobby not found")

	// ErrConditionFailed is returned when a conditional update was rejected,
	// either because the predicate no longer held or a concurrent writer won.
	ErrConditionFailed = errors.New("conditional update failed")
)

// Update describes a conditional write against one lobby.
//
// Condition is evaluated against the currently stored lobby; when it holds,
// Apply mutates a copy which is written back, and AddPlayer (if set) is written
// as a membership record in the same atomic step.
type Update struct {
	Condition func(l *models.Lobby) bool
	Apply     func(l *models.Lobby)
	AddPlayer *models.LobbyPlayer
}

// LobbyStore is a keyed lobby table with a (status, population) index.
type LobbyStore interface {
	// CreateLobby stores a new lobby together with its first member.
	CreateLobby(ctx context.Context, lobby *models.Lobby, first models.LobbyPlayer) error

	// GetLobby returns the lobby or ErrNotFound.
	GetLobby(ctx context.Context, id string) (*models.Lobby, error)

	// FindWaiting returns the lowest waiting lobby ordered by player count and
	// then creation time, or ErrNotFound when there is none.
	FindWaiting(ctx context.Context) (*models.Lobby, error)

	// CompareAndSwap applies u atomically and returns the stored result.
	CompareAndSwap(ctx context.Context, id string, u Update) (*models.Lobby, error)

	// SetPlayerRole writes the role of a single membership record.
	SetPlayerRole(ctx context.Context, lobbyID, playerID, role string) error

	// ListPlayers returns the membership records ordered by join time.
	ListPlayers(ctx context.Context, lobbyID string) ([]models.LobbyPlayer, error)

	// PurgeExpired deletes lobbies whose expiry is at or before now.
	PurgeExpired(ctx context.Context, now time.Time) (int, error)
}

// Less orders two waiting lobbies the way the secondary index does.
func Less(a, b *models.Lobby) bool {
	if a.PlayerCount != b.PlayerCount {
		return a.PlayerCount < b.PlayerCount
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}
