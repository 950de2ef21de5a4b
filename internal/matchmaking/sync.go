package matchmaking

import (
	"context"
	"errors"
	"time"

	"github.com/sijeecodes/SaveTheShip/internal/models"
	"github.com/sijeecodes/SaveTheShip/internal/store"
	"github.com/sirupsen/logrus"
)

// LobbySync mirrors room lifecycle events onto the matched lobby of the same
// id. Rooms that were not created from a lobby are ignored. Each update runs
// on its own goroutine so callers never block.
type LobbySync struct {
	coord   *Coordinator
	timeout time.Duration
	wait    func() // test hook, called after each update
}

// NewLobbySync returns a LobbySync backed by coord.
func NewLobbySync(coord *Coordinator) *LobbySync {
	return &LobbySync{coord: coord, timeout: 5 * time.Second}
}

// RoomStarted records the room's roles on the lobby members, then marks the
// lobby in-progress.
func (s *LobbySync) RoomStarted(roomID string, roles map[string]string) {
	go s.apply(roomID, models.StatusInProgress, StartTTL, roles)
}

func (s *LobbySync) RoomClosed(roomID string) {
	go s.apply(roomID, models.StatusFinished, FinishTTL, nil)
}

func (s *LobbySync) apply(lobbyID string, status models.LobbyStatus, ttl time.Duration, roles map[string]string) {
	if s.wait != nil {
		defer s.wait()
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	fields := logrus.Fields{"lobbyId": lobbyID, "status": status}
	var err error
	if len(roles) > 0 {
		err = s.coord.RecordRoles(ctx, lobbyID, roles)
	}
	if err == nil {
		_, err = s.coord.TransitionStatus(ctx, lobbyID, status, ttl)
	}
	switch {
	case err == nil:
		s.coord.log.WithFields(fields).Debug("lobby synced with room")
	case errors.Is(err, store.ErrNotFound):
		s.coord.log.WithFields(fields).Debug("room has no matching lobby")
	default:
		s.coord.log.WithFields(fields).WithError(err).Warn("failed to sync lobby")
	}
}
