package matchmaking

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sijeecodes/SaveTheShip/internal/models"
	"github.com/sijeecodes/SaveTheShip/internal/random"
	"github.com/sijeecodes/SaveTheShip/internal/store"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCoordinator(t *testing.T, s store.LobbyStore, cfg Config) *Coordinator {
	t.Helper()
	log, _ := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)
	if cfg.ServerEndpoint == "" {
		cfg.ServerEndpoint = "ws://rooms.test/ws"
	}
	return NewCoordinator(cfg, s, random.NewSeeded(7), log)
}

func TestMatchmakeCreatesThenJoins(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	c := newTestCoordinator(t, s, Config{})

	first, err := c.Matchmake(ctx, MatchmakeRequest{PlayerID: "p1", PlayerName: "Alice"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusWaiting, first.Status)
	assert.Equal(t, "ws://rooms.test/ws", first.ServerEndpoint)

	second, err := c.Matchmake(ctx, MatchmakeRequest{PlayerID: "p2", PlayerName: "Bob"})
	require.NoError(t, err)
	assert.Equal(t, first.LobbyID, second.LobbyID)

	lobby, err := c.GetLobby(ctx, first.LobbyID)
	require.NoError(t, err)
	assert.Equal(t, 2, lobby.PlayerCount)
	assert.Equal(t, []string{"p1", "p2"}, lobby.Players)
	assert.WithinDuration(t, lobby.CreatedAt.Add(15*time.Minute), lobby.ExpiresAt, time.Second)

	players, err := c.ListPlayers(ctx, first.LobbyID)
	require.NoError(t, err)
	require.Len(t, players, 2)
	assert.Equal(t, "Alice", players[0].PlayerName)
	assert.Equal(t, "Bob", players[1].PlayerName)
}

func TestMatchmakeValidation(t *testing.T) {
	c := newTestCoordinator(t, store.NewMemoryStore(), Config{})
	ctx := context.Background()

	_, err := c.Matchmake(ctx, MatchmakeRequest{PlayerID: "  ", PlayerName: " "})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = c.Matchmake(ctx, MatchmakeRequest{PlayerName: strings.Repeat("x", 31)})
	assert.ErrorIs(t, err, ErrValidation)

	res, err := c.Matchmake(ctx, MatchmakeRequest{PlayerName: strings.Repeat("é", 30)})
	require.NoError(t, err, "30 multi-byte runes are within the limit")
	assert.NotEmpty(t, res.PlayerID, "missing id is generated")
}

func TestMatchmakeDefaultsName(t *testing.T) {
	c := newTestCoordinator(t, store.NewMemoryStore(), Config{})
	ctx := context.Background()

	res, err := c.Matchmake(ctx, MatchmakeRequest{PlayerID: "abcdefgh"})
	require.NoError(t, err)
	players, err := c.ListPlayers(ctx, res.LobbyID)
	require.NoError(t, err)
	assert.Equal(t, "Player_abcde", players[0].PlayerName)
}

func TestMatchmakeSamePlayerTwiceGetsNewLobby(t *testing.T) {
	c := newTestCoordinator(t, store.NewMemoryStore(), Config{})
	ctx := context.Background()

	a, err := c.Matchmake(ctx, MatchmakeRequest{PlayerID: "p1"})
	require.NoError(t, err)
	b, err := c.Matchmake(ctx, MatchmakeRequest{PlayerID: "p1"})
	require.NoError(t, err)
	assert.NotEqual(t, a.LobbyID, b.LobbyID, "a player is never admitted twice into one lobby")
}

func TestMatchmakeFillsLobby(t *testing.T) {
	c := newTestCoordinator(t, store.NewMemoryStore(), Config{MaxPlayers: 3})
	ctx := context.Background()

	var last *MatchmakeResult
	for i := 0; i < 3; i++ {
		res, err := c.Matchmake(ctx, MatchmakeRequest{PlayerID: fmt.Sprintf("p%d", i)})
		require.NoError(t, err)
		last = res
	}
	assert.Equal(t, models.StatusFull, last.Status)

	next, err := c.Matchmake(ctx, MatchmakeRequest{PlayerID: "p3"})
	require.NoError(t, err)
	assert.NotEqual(t, last.LobbyID, next.LobbyID)
	assert.Equal(t, models.StatusWaiting, next.Status)
}

func TestConcurrentMatchmakeNeverOverfills(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	c := newTestCoordinator(t, s, Config{MaxPlayers: 5})

	const n = 40
	results := make([]*MatchmakeResult, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := c.Matchmake(ctx, MatchmakeRequest{PlayerID: fmt.Sprintf("player-%02d", i)})
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	byLobby := map[string][]string{}
	for i, res := range results {
		require.NotNil(t, res)
		byLobby[res.LobbyID] = append(byLobby[res.LobbyID], fmt.Sprintf("player-%02d", i))
	}

	total := 0
	for id, members := range byLobby {
		lobby, err := s.GetLobby(ctx, id)
		require.NoError(t, err)
		assert.LessOrEqual(t, lobby.PlayerCount, lobby.MaxPlayers)
		assert.Equal(t, len(lobby.Players), lobby.PlayerCount)
		assert.ElementsMatch(t, members, lobby.Players)
		total += lobby.PlayerCount
	}
	assert.Equal(t, n, total, "every join landed exactly once")
}

// racingStore lets a rival join slip in between FindWaiting and the first
// CompareAndSwap, taking the last slot.
type racingStore struct {
	*store.MemoryStore
	once  sync.Once
	rival func()
}

func (r *racingStore) CompareAndSwap(ctx context.Context, id string, u store.Update) (*models.Lobby, error) {
	r.once.Do(r.rival)
	return r.MemoryStore.CompareAndSwap(ctx, id, u)
}

func TestLastSlotRace(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()
	seed := newTestCoordinator(t, mem, Config{MaxPlayers: 2})
	first, err := seed.Matchmake(ctx, MatchmakeRequest{PlayerID: "p1"})
	require.NoError(t, err)

	rs := &racingStore{MemoryStore: mem}
	rs.rival = func() {
		_, err := seed.Matchmake(ctx, MatchmakeRequest{PlayerID: "rival"})
		require.NoError(t, err)
	}
	c := newTestCoordinator(t, rs, Config{MaxPlayers: 2})

	res, err := c.Matchmake(ctx, MatchmakeRequest{PlayerID: "late"})
	require.NoError(t, err, "losing the race is not an error")
	assert.NotEqual(t, first.LobbyID, res.LobbyID)

	full, err := mem.GetLobby(ctx, first.LobbyID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFull, full.Status)
	assert.Equal(t, []string{"p1", "rival"}, full.Players)
}

func TestTransitionStatusMonotonic(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator(t, store.NewMemoryStore(), Config{})
	res, err := c.Matchmake(ctx, MatchmakeRequest{PlayerID: "p1"})
	require.NoError(t, err)

	l, err := c.Finish(ctx, res.LobbyID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFinished, l.Status)
	assert.WithinDuration(t, time.Now().Add(FinishTTL), l.ExpiresAt, 5*time.Second)

	_, err = c.TransitionStatus(ctx, res.LobbyID, models.StatusWaiting, time.Minute)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = c.Expire(ctx, res.LobbyID)
	assert.ErrorIs(t, err, ErrInvalidTransition, "terminal statuses do not interchange")

	again, err := c.Finish(ctx, res.LobbyID)
	require.NoError(t, err, "same status only refreshes expiry")
	assert.Equal(t, models.StatusFinished, again.Status)

	_, err = c.Finish(ctx, "nope")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = c.TransitionStatus(ctx, res.LobbyID, "bogus", time.Minute)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestStartGameAssignsRoles(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	c := newTestCoordinator(t, s, Config{SaboteurCount: 1})

	var lobbyID string
	for i := 0; i < 4; i++ {
		res, err := c.Matchmake(ctx, MatchmakeRequest{PlayerID: fmt.Sprintf("p%d", i)})
		require.NoError(t, err)
		lobbyID = res.LobbyID
	}

	players, err := c.StartGame(ctx, lobbyID)
	require.NoError(t, err)
	require.Len(t, players, 4)

	stored, err := s.ListPlayers(ctx, lobbyID)
	require.NoError(t, err)
	saboteurs := 0
	for i, p := range stored {
		assert.Equal(t, players[i].Role, p.Role)
		if p.Role == models.RoleSaboteur {
			saboteurs++
		} else {
			assert.Equal(t, models.RoleCrew, p.Role)
		}
	}
	assert.Equal(t, 1, saboteurs)

	l, err := s.GetLobby(ctx, lobbyID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, l.Status)
	assert.WithinDuration(t, time.Now().Add(StartTTL), l.ExpiresAt, 5*time.Second)

	_, err = c.Finish(ctx, lobbyID)
	require.NoError(t, err)
	_, err = c.StartGame(ctx, lobbyID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestAssignRoles(t *testing.T) {
	ids := []string{"a", "b", "c", "d"}

	roles := AssignRoles(random.NewScripted(0), ids, 1)
	assert.Equal(t, models.RoleSaboteur, roles["d"])
	assert.Equal(t, models.RoleCrew, roles["a"])

	roles = AssignRoles(random.NewSeeded(1), ids, 10)
	crew := 0
	for _, r := range roles {
		if r == models.RoleCrew {
			crew++
		}
	}
	assert.Equal(t, 1, crew, "at least one crew member remains")

	assert.Equal(t, map[string]string{"solo": models.RoleCrew}, AssignRoles(random.NewSeeded(1), []string{"solo"}, 1))
}

// flakyRoleStore fails the first role write for every player.
type flakyRoleStore struct {
	*store.MemoryStore
	mu     sync.Mutex
	failed map[string]bool
}

func (f *flakyRoleStore) SetPlayerRole(ctx context.Context, lobbyID, playerID, role string) error {
	f.mu.Lock()
	first := !f.failed[playerID]
	f.failed[playerID] = true
	f.mu.Unlock()
	if first {
		return store.ErrConditionFailed
	}
	return f.MemoryStore.SetPlayerRole(ctx, lobbyID, playerID, role)
}

func TestStartGameRetriesRoleWrites(t *testing.T) {
	ctx := context.Background()
	fs := &flakyRoleStore{MemoryStore: store.NewMemoryStore(), failed: map[string]bool{}}
	c := newTestCoordinator(t, fs, Config{})

	a, err := c.Matchmake(ctx, MatchmakeRequest{PlayerID: "a"})
	require.NoError(t, err)
	_, err = c.Matchmake(ctx, MatchmakeRequest{PlayerID: "b"})
	require.NoError(t, err)

	players, err := c.StartGame(ctx, a.LobbyID)
	require.NoError(t, err)
	for _, p := range players {
		assert.NotEmpty(t, p.Role)
	}
}

// joiningRoleStore admits another player the first time a role is written,
// while a start is between reading members and flipping the status.
type joiningRoleStore struct {
	*store.MemoryStore
	once sync.Once
	join func()
}

func (j *joiningRoleStore) SetPlayerRole(ctx context.Context, lobbyID, playerID, role string) error {
	j.once.Do(j.join)
	return j.MemoryStore.SetPlayerRole(ctx, lobbyID, playerID, role)
}

func TestStartGameCoversPlayerJoiningMidStart(t *testing.T) {
	ctx := context.Background()
	js := &joiningRoleStore{MemoryStore: store.NewMemoryStore()}
	c := newTestCoordinator(t, js, Config{})

	a, err := c.Matchmake(ctx, MatchmakeRequest{PlayerID: "p1"})
	require.NoError(t, err)
	_, err = c.Matchmake(ctx, MatchmakeRequest{PlayerID: "p2"})
	require.NoError(t, err)

	var late *MatchmakeResult
	js.join = func() {
		var err error
		late, err = c.Matchmake(ctx, MatchmakeRequest{PlayerID: "p3"})
		assert.NoError(t, err)
	}

	players, err := c.StartGame(ctx, a.LobbyID)
	require.NoError(t, err)
	require.NotNil(t, late)
	require.Equal(t, a.LobbyID, late.LobbyID, "p3 joined the lobby being started")
	assert.Len(t, players, 3)

	l, err := js.GetLobby(ctx, a.LobbyID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, l.Status)

	stored, err := js.ListPlayers(ctx, a.LobbyID)
	require.NoError(t, err)
	require.Len(t, stored, 3)
	for _, p := range stored {
		assert.NotEmpty(t, p.Role, "member %s has no role", p.PlayerID)
	}
}

func TestStartGameGivesUpWhenLobbyKeepsChanging(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()
	c := newTestCoordinator(t, mem, Config{Attempts: 2, MaxPlayers: 10})
	a, err := c.Matchmake(ctx, MatchmakeRequest{PlayerID: "p1"})
	require.NoError(t, err)

	n := 0
	churn := &churningRoleStore{MemoryStore: mem, join: func() {
		n++
		_, err := c.Matchmake(ctx, MatchmakeRequest{PlayerID: fmt.Sprintf("churn%d", n)})
		assert.NoError(t, err)
	}}
	starter := newTestCoordinator(t, churn, Config{Attempts: 2, MaxPlayers: 10})

	_, err = starter.StartGame(ctx, a.LobbyID)
	assert.ErrorIs(t, err, store.ErrConditionFailed)

	l, err := mem.GetLobby(ctx, a.LobbyID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusWaiting, l.Status)
}

// churningRoleStore admits a new player before every role write.
type churningRoleStore struct {
	*store.MemoryStore
	mu   sync.Mutex
	join func()
}

func (c *churningRoleStore) SetPlayerRole(ctx context.Context, lobbyID, playerID, role string) error {
	c.mu.Lock()
	c.join()
	c.mu.Unlock()
	return c.MemoryStore.SetPlayerRole(ctx, lobbyID, playerID, role)
}

func TestSaboteurCountDefaultsToOne(t *testing.T) {
	assert.Equal(t, 1, Config{}.withDefaults().SaboteurCount)
	assert.Equal(t, 0, Config{SaboteurCount: -1}.withDefaults().SaboteurCount)

	ctx := context.Background()
	c := newTestCoordinator(t, store.NewMemoryStore(), Config{})
	a, err := c.Matchmake(ctx, MatchmakeRequest{PlayerID: "p1"})
	require.NoError(t, err)
	_, err = c.Matchmake(ctx, MatchmakeRequest{PlayerID: "p2"})
	require.NoError(t, err)

	players, err := c.StartGame(ctx, a.LobbyID)
	require.NoError(t, err)
	roles := map[string]int{}
	for _, p := range players {
		roles[p.Role]++
	}
	assert.Equal(t, map[string]int{models.RoleCrew: 1, models.RoleSaboteur: 1}, roles)
}

func TestRecordRolesSkipsStrangers(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	c := newTestCoordinator(t, s, Config{})
	a, err := c.Matchmake(ctx, MatchmakeRequest{PlayerID: "p1"})
	require.NoError(t, err)
	_, err = c.Matchmake(ctx, MatchmakeRequest{PlayerID: "p2"})
	require.NoError(t, err)

	err = c.RecordRoles(ctx, a.LobbyID, map[string]string{
		"p1":      models.RoleSaboteur,
		"visitor": models.RoleCrew,
	})
	require.NoError(t, err)

	stored, err := s.ListPlayers(ctx, a.LobbyID)
	require.NoError(t, err)
	assert.Equal(t, models.RoleSaboteur, stored[0].Role)
	assert.Empty(t, stored[1].Role)

	assert.ErrorIs(t, c.RecordRoles(ctx, "nope", nil), store.ErrNotFound)
}

func TestReaperSweep(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	s := store.NewMemoryStore().WithClock(func() time.Time { return now })
	c := newTestCoordinator(t, s, Config{LobbyTTL: time.Minute}).WithClock(func() time.Time { return now })

	_, err := c.Matchmake(ctx, MatchmakeRequest{PlayerID: "p1"})
	require.NoError(t, err)

	log, hook := test.NewNullLogger()
	r := NewReaper(s, time.Hour, log)
	assert.Equal(t, 0, r.Sweep(ctx))

	now = now.Add(2 * time.Minute)
	r.now = func() time.Time { return now }
	assert.Equal(t, 1, r.Sweep(ctx))
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, "purged expired lobbies", hook.LastEntry().Message)
}

func TestReaperRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := NewReaper(store.NewMemoryStore(), 5*time.Millisecond, nil)
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reaper did not stop")
	}
}
