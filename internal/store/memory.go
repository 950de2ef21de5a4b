package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sijeecodes/SaveTheShip/internal/models"
)

type memoryEntry struct {
	lobby   *models.Lobby
	players map[string]*models.LobbyPlayer
}

// MemoryStore keeps lobbies in process memory. All operations hold a single
// mutex, which makes CompareAndSwap trivially atomic.
type MemoryStore struct {
	mu      sync.Mutex
	lobbies map[string]*memoryEntry
	now     func() time.Time
}

// NewMemoryStore returns an empty in-memory lobby store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		lobbies: make(map[string]*memoryEntry),
		now:     time.Now,
	}
}

// WithClock overrides the clock used for expiry checks.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

// live returns the entry for id if it exists and has not expired. Lock held.
func (s *MemoryStore) live(id string) (*memoryEntry, bool) {
	e, ok := s.lobbies[id]
	if !ok || e.lobby.Expired(s.now()) {
		return nil, false
	}
	return e, true
}

func (s *MemoryStore) CreateLobby(_ context.Context, lobby *models.Lobby, first models.LobbyPlayer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.lobbies[lobby.ID]; exists {
		return fmt.Errorf("lobby %s already exists", lobby.ID)
	}
	p := first
	s.lobbies[lobby.ID] = &memoryEntry{
		lobby:   lobby.Clone(),
		players: map[string]*models.LobbyPlayer{first.PlayerID: &p},
	}
	return nil
}

func (s *MemoryStore) GetLobby(_ context.Context, id string) (*models.Lobby, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.live(id)
	if !ok {
		return nil, ErrNotFound
	}
	return e.lobby.Clone(), nil
}

func (s *MemoryStore) FindWaiting(_ context.Context) (*models.Lobby, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *models.Lobby
	for id := range s.lobbies {
		e, ok := s.live(id)
		if !ok || e.lobby.Status != models.StatusWaiting {
			continue
		}
		if best == nil || Less(e.lobby, best) {
			best = e.lobby
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	return best.Clone(), nil
}

func (s *MemoryStore) CompareAndSwap(_ context.Context, id string, u Update) (*models.Lobby, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.live(id)
	if !ok {
		return nil, ErrNotFound
	}
	if u.Condition != nil && !u.Condition(e.lobby.Clone()) {
		return nil, ErrConditionFailed
	}
	next := e.lobby.Clone()
	if u.Apply != nil {
		u.Apply(next)
	}
	next.Version = e.lobby.Version + 1
	e.lobby = next
	if u.AddPlayer != nil {
		p := *u.AddPlayer
		e.players[p.PlayerID] = &p
	}
	return next.Clone(), nil
}

func (s *MemoryStore) SetPlayerRole(_ context.Context, lobbyID, playerID, role string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.live(lobbyID)
	if !ok {
		return ErrNotFound
	}
	p, ok := e.players[playerID]
	if !ok {
		return fmt.Errorf("player %s in lobby %s: %w", playerID, lobbyID, ErrNotFound)
	}
	p.Role = role
	return nil
}

func (s *MemoryStore) ListPlayers(_ context.Context, lobbyID string) ([]models.LobbyPlayer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.live(lobbyID)
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]models.LobbyPlayer, 0, len(e.players))
	for _, p := range e.players {
		out = append(out, *p)
	}
	SortPlayers(out)
	return out, nil
}

func (s *MemoryStore) PurgeExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, e := range s.lobbies {
		if e.lobby.Expired(now) {
			delete(s.lobbies, id)
			n++
		}
	}
	return n, nil
}

// SortPlayers orders membership records by join time, then id.
func SortPlayers(players []models.LobbyPlayer) {
	sort.SliceStable(players, func(i, j int) bool {
		if !players[i].JoinedAt.Equal(players[j].JoinedAt) {
			return players[i].JoinedAt.Before(players[j].JoinedAt)
		}
		return players[i].PlayerID < players[j].PlayerID
	})
}
