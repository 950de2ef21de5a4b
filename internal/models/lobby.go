// internal/models/lobby.go
package models

import "time"

// LobbyStatus is the lifecycle state of a durable matchmaking lobby.
type LobbyStatus string

const (
	StatusWaiting    LobbyStatus = "waiting"
	StatusFull       LobbyStatus = "full"
	StatusInProgress LobbyStatus = "in-progress"
	StatusFinished   LobbyStatus = "finished"
	StatusExpired    LobbyStatus = "expired"
)

// rank orders statuses along the only legal direction of travel.
// finished and expired are both terminal and share a rank.
func (s LobbyStatus) rank() int {
	switch s {
	case StatusWaiting:
		return 0
	case StatusFull:
		return 1
	case StatusInProgress:
		return 2
	case StatusFinished, StatusExpired:
		return 3
	default:
		return -1
	}
}

// Valid reports whether s is one of the known statuses.
func (s LobbyStatus) Valid() bool {
	return s.rank() >= 0
}

// CanTransitionTo reports whether moving from s to next keeps status monotonic.
// Re-applying the current status is allowed (it only refreshes the expiry).
// Moving between the two terminal statuses is not.
func (s LobbyStatus) CanTransitionTo(next LobbyStatus) bool {
	if !s.Valid() || !next.Valid() {
		return false
	}
	if s == next {
		return true
	}
	return next.rank() > s.rank()
}

// Role values written to membership records at game start.
const (
	RoleCrew     = "crew"
	RoleSaboteur = "saboteur"
)

// Lobby is the durable pre-session record used by the matchmaking coordinator.
type Lobby struct {
	ID             string      `json:"lobbyId"`
	Status         LobbyStatus `json:"status"`
	PlayerCount    int         `json:"playerCount"`
	MaxPlayers     int         `json:"maxPlayers"`
	Players        []string    `json:"players"`
	ServerEndpoint string      `json:"serverEndpoint"`
	CreatedAt      time.Time   `json:"createdAt"`
	ExpiresAt      time.Time   `json:"expiresAt"`

	// Version increments on every write. Stores that implement
	// compare-and-swap by version rely on it.
	Version int64 `json:"version"`
}

// HasPlayer reports whether playerID has already been admitted.
func (l *Lobby) HasPlayer(playerID string) bool {
	for _, p := range l.Players {
		if p == playerID {
			return true
		}
	}
	return false
}

// Expired reports whether the lobby's TTL has elapsed at now.
func (l *Lobby) Expired(now time.Time) bool {
	return !l.ExpiresAt.IsZero() && !now.Before(l.ExpiresAt)
}

// Clone returns a deep copy so callers can mutate without touching stored state.
func (l *Lobby) Clone() *Lobby {
	c := *l
	c.Players = append([]string(nil), l.Players...)
	return &c
}

// LobbyPlayer is the per-player membership record of a lobby.
type LobbyPlayer struct {
	PlayerID   string    `json:"playerId"`
	PlayerName string    `json:"playerName"`
	Role       string    `json:"role"`
	JoinedAt   time.Time `json:"joinedAt"`
}
