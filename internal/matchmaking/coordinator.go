// Package matchmaking places players into lobbies and moves lobbies through
// their lifecycle. All mutations go through store.LobbyStore.CompareAndSwap, so
// any number of coordinators may run against the same store.
package matchmaking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sijeecodes/SaveTheShip/internal/models"
	"github.com/sijeecodes/SaveTheShip/internal/random"
	"github.com/sijeecodes/SaveTheShip/internal/store"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrValidation marks a request that can never succeed as sent.
	ErrValidation = errors.New("invalid request")

	// ErrInvalidTransition is returned when a status change would move a lobby
	// backwards.
	ErrInvalidTransition = errors.New("invalid status transition")
)

const (
	// StartTTL keeps a running game's lobby around for an hour.
	StartTTL = 3600 * time.Second
	// FinishTTL and ExpireTTL give clients a short window to read the result.
	FinishTTL = 300 * time.Second
	ExpireTTL = 60 * time.Second

	// MaxNameLength bounds player names in runes.
	MaxNameLength = 30
)

// Config tunes a Coordinator. Zero fields take the defaults below. A negative
// SaboteurCount means no saboteurs.
type Config struct {
	MaxPlayers     int
	Attempts       int
	LobbyTTL       time.Duration
	SaboteurCount  int
	ServerEndpoint string
}

func (c Config) withDefaults() Config {
	if c.MaxPlayers <= 0 {
		c.MaxPlayers = 5
	}
	if c.Attempts <= 0 {
		c.Attempts = 3
	}
	if c.LobbyTTL <= 0 {
		c.LobbyTTL = 15 * time.Minute
	}
	switch {
	case c.SaboteurCount == 0:
		c.SaboteurCount = 1
	case c.SaboteurCount < 0:
		c.SaboteurCount = 0
	}
	return c
}

// MatchmakeRequest asks for a seat in any waiting lobby.
type MatchmakeRequest struct {
	PlayerID   string `validate:"required_without=PlayerName"`
	PlayerName string `validate:"required_without=PlayerID,max=30"`
}

// MatchmakeResult is where the player ended up.
type MatchmakeResult struct {
	LobbyID        string             `json:"lobbyId"`
	PlayerID       string             `json:"playerId"`
	Status         models.LobbyStatus `json:"status"`
	ServerEndpoint string             `json:"serverEndpoint"`
}

// Coordinator is the stateless matchmaking handler.
type Coordinator struct {
	cfg      Config
	store    store.LobbyStore
	rng      random.Source
	log      *logrus.Logger
	validate *validator.Validate
	now      func() time.Time
}

// NewCoordinator builds a Coordinator over s. rng picks saboteurs.
func NewCoordinator(cfg Config, s store.LobbyStore, rng random.Source, log *logrus.Logger) *Coordinator {
	if rng == nil {
		rng = random.New()
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Coordinator{
		cfg:      cfg.withDefaults(),
		store:    s,
		rng:      rng,
		log:      log,
		validate: validator.New(),
		now:      time.Now,
	}
}

// WithClock overrides the clock used for timestamps and expiries.
func (c *Coordinator) WithClock(now func() time.Time) *Coordinator {
	c.now = now
	return c
}

// DefaultPlayerName derives a display name from a player id.
func DefaultPlayerName(id string) string {
	r := []rune(id)
	if len(r) > 5 {
		r = r[:5]
	}
	return "Player_" + string(r)
}

func (c *Coordinator) normalize(req MatchmakeRequest) (MatchmakeRequest, error) {
	req.PlayerID = strings.TrimSpace(req.PlayerID)
	req.PlayerName = strings.TrimSpace(req.PlayerName)
	if err := c.validate.Struct(req); err != nil {
		return req, fmt.Errorf("%w: %s", ErrValidation, describe(err))
	}
	if req.PlayerID == "" {
		req.PlayerID = uuid.NewString()
	}
	if req.PlayerName == "" {
		req.PlayerName = DefaultPlayerName(req.PlayerID)
	}
	return req, nil
}

// describe turns validator output into a short client-facing message.
func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err.Error()
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required_without":
		return "playerId or playerName is required"
	case "max":
		return fmt.Sprintf("playerName must be at most %s characters", fe.Param())
	}
	return fe.Field() + " is invalid"
}

// Matchmake admits the player into the fullest-but-lowest waiting lobby, or
// creates a new one. Lost races are retried and never surfaced.
func (c *Coordinator) Matchmake(ctx context.Context, req MatchmakeRequest) (*MatchmakeResult, error) {
	req, err := c.normalize(req)
	if err != nil {
		return nil, err
	}

	for attempt := 1; attempt <= c.cfg.Attempts; attempt++ {
		lobby, err := c.store.FindWaiting(ctx)
		if errors.Is(err, store.ErrNotFound) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("find waiting lobby: %w", err)
		}

		joined, err := c.store.CompareAndSwap(ctx, lobby.ID, c.joinUpdate(req))
		if errors.Is(err, store.ErrConditionFailed) || errors.Is(err, store.ErrNotFound) {
			c.log.WithFields(logrus.Fields{
				"lobbyId": lobby.ID,
				"player":  req.PlayerID,
				"attempt": attempt,
			}).Debug("lost race for lobby slot, retrying")
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("join lobby %s: %w", lobby.ID, err)
		}

		c.log.WithFields(logrus.Fields{
			"lobbyId":     joined.ID,
			"player":      req.PlayerID,
			"playerCount": joined.PlayerCount,
		}).Info("player joined lobby")
		return c.result(joined, req.PlayerID), nil
	}

	return c.createLobby(ctx, req)
}

func (c *Coordinator) joinUpdate(req MatchmakeRequest) store.Update {
	return store.Update{
		Condition: func(l *models.Lobby) bool {
			return l.Status == models.StatusWaiting &&
				l.PlayerCount < l.MaxPlayers &&
				!l.HasPlayer(req.PlayerID)
		},
		Apply: func(l *models.Lobby) {
			l.PlayerCount++
			l.Players = append(l.Players, req.PlayerID)
			if l.PlayerCount >= l.MaxPlayers {
				l.Status = models.StatusFull
			}
		},
		AddPlayer: &models.LobbyPlayer{
			PlayerID:   req.PlayerID,
			PlayerName: req.PlayerName,
			JoinedAt:   c.now().UTC(),
		},
	}
}

func (c *Coordinator) createLobby(ctx context.Context, req MatchmakeRequest) (*MatchmakeResult, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate lobby id: %w", err)
	}
	now := c.now().UTC().Truncate(time.Millisecond)
	status := models.StatusWaiting
	if c.cfg.MaxPlayers <= 1 {
		status = models.StatusFull
	}
	lobby := &models.Lobby{
		ID:             id.String(),
		Status:         status,
		PlayerCount:    1,
		MaxPlayers:     c.cfg.MaxPlayers,
		Players:        []string{req.PlayerID},
		ServerEndpoint: c.cfg.ServerEndpoint,
		CreatedAt:      now,
		ExpiresAt:      now.Add(c.cfg.LobbyTTL),
	}
	first := models.LobbyPlayer{PlayerID: req.PlayerID, PlayerName: req.PlayerName, JoinedAt: now}
	if err := c.store.CreateLobby(ctx, lobby, first); err != nil {
		return nil, err
	}
	c.log.WithFields(logrus.Fields{
		"lobbyId": lobby.ID,
		"player":  req.PlayerID,
	}).Info("created new lobby")
	return c.result(lobby, req.PlayerID), nil
}

func (c *Coordinator) result(l *models.Lobby, playerID string) *MatchmakeResult {
	return &MatchmakeResult{
		LobbyID:        l.ID,
		PlayerID:       playerID,
		Status:         l.Status,
		ServerEndpoint: l.ServerEndpoint,
	}
}

// TransitionStatus moves a lobby to target and refreshes its expiry to now+ttl.
// Moving backwards along the status order fails with ErrInvalidTransition.
func (c *Coordinator) TransitionStatus(ctx context.Context, lobbyID string, target models.LobbyStatus, ttl time.Duration) (*models.Lobby, error) {
	if strings.TrimSpace(lobbyID) == "" {
		return nil, fmt.Errorf("%w: lobbyId is required", ErrValidation)
	}
	if !target.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, target)
	}

	for attempt := 1; ; attempt++ {
		var from models.LobbyStatus
		updated, err := c.store.CompareAndSwap(ctx, lobbyID, store.Update{
			Condition: func(l *models.Lobby) bool {
				from = l.Status
				return l.Status.CanTransitionTo(target)
			},
			Apply: func(l *models.Lobby) {
				l.Status = target
				l.ExpiresAt = c.now().UTC().Add(ttl)
			},
		})
		if err == nil {
			c.log.WithFields(logrus.Fields{
				"lobbyId": lobbyID,
				"from":    from,
				"to":      target,
			}).Info("lobby status changed")
			return updated, nil
		}
		if !errors.Is(err, store.ErrConditionFailed) {
			return nil, err
		}
		// A concurrent writer may have bumped the version; only a rejected
		// predicate is final.
		if from != "" && !from.CanTransitionTo(target) {
			return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, target)
		}
		if attempt >= c.cfg.Attempts {
			return nil, fmt.Errorf("transition lobby %s: %w", lobbyID, err)
		}
	}
}

// StartGame assigns roles to every member and marks the lobby in-progress.
// The flip only lands if the lobby is unchanged since its members were read;
// a join that slips in meanwhile makes the whole assignment run again.
func (c *Coordinator) StartGame(ctx context.Context, lobbyID string) ([]models.LobbyPlayer, error) {
	for attempt := 1; ; attempt++ {
		lobby, err := c.GetLobby(ctx, lobbyID)
		if err != nil {
			return nil, err
		}
		if !lobby.Status.CanTransitionTo(models.StatusInProgress) {
			return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, lobby.Status, models.StatusInProgress)
		}
		players, err := c.store.ListPlayers(ctx, lobbyID)
		if err != nil {
			return nil, err
		}

		roles := AssignRoles(c.rng, playerIDs(players), c.cfg.SaboteurCount)
		if err := c.writeRoles(ctx, lobbyID, players, roles); err != nil {
			return nil, err
		}

		var seen *models.Lobby
		_, err = c.store.CompareAndSwap(ctx, lobbyID, store.Update{
			Condition: func(l *models.Lobby) bool {
				seen = l
				return l.Version == lobby.Version &&
					l.PlayerCount == len(players) &&
					l.Status.CanTransitionTo(models.StatusInProgress)
			},
			Apply: func(l *models.Lobby) {
				l.Status = models.StatusInProgress
				l.ExpiresAt = c.now().UTC().Add(StartTTL)
			},
		})
		if err == nil {
			c.log.WithFields(logrus.Fields{
				"lobbyId": lobbyID,
				"from":    lobby.Status,
				"to":      models.StatusInProgress,
				"players": len(players),
			}).Info("lobby status changed")
			for i := range players {
				players[i].Role = roles[players[i].PlayerID]
			}
			return players, nil
		}
		if !errors.Is(err, store.ErrConditionFailed) {
			return nil, err
		}
		if seen != nil && !seen.Status.CanTransitionTo(models.StatusInProgress) {
			return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, seen.Status, models.StatusInProgress)
		}
		if attempt >= c.cfg.Attempts {
			return nil, fmt.Errorf("start lobby %s: %w", lobbyID, err)
		}
		c.log.WithFields(logrus.Fields{
			"lobbyId": lobbyID,
			"attempt": attempt,
		}).Debug("lobby changed during start, reassigning roles")
	}
}

// RecordRoles writes roles decided elsewhere onto the lobby's members. Ids that
// are not members of the lobby are skipped.
func (c *Coordinator) RecordRoles(ctx context.Context, lobbyID string, roles map[string]string) error {
	players, err := c.ListPlayers(ctx, lobbyID)
	if err != nil {
		return err
	}
	members := players[:0]
	for _, p := range players {
		if _, ok := roles[p.PlayerID]; ok {
			members = append(members, p)
		}
	}
	return c.writeRoles(ctx, lobbyID, members, roles)
}

// writeRoles writes every role concurrently; each write retries on its own.
func (c *Coordinator) writeRoles(ctx context.Context, lobbyID string, players []models.LobbyPlayer, roles map[string]string) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, p := range players {
		playerID, role := p.PlayerID, roles[p.PlayerID]
		g.Go(func() error {
			return c.writeRole(gctx, lobbyID, playerID, role)
		})
	}
	return g.Wait()
}

func (c *Coordinator) writeRole(ctx context.Context, lobbyID, playerID, role string) error {
	var err error
	for attempt := 1; attempt <= c.cfg.Attempts; attempt++ {
		err = c.store.SetPlayerRole(ctx, lobbyID, playerID, role)
		if err == nil || errors.Is(err, store.ErrNotFound) {
			return err
		}
		c.log.WithError(err).WithFields(logrus.Fields{
			"lobbyId": lobbyID,
			"player":  playerID,
			"attempt": attempt,
		}).Warn("role write failed")
	}
	return fmt.Errorf("assign role to %s: %w", playerID, err)
}

// Finish marks a lobby finished and keeps it readable for five minutes.
func (c *Coordinator) Finish(ctx context.Context, lobbyID string) (*models.Lobby, error) {
	return c.TransitionStatus(ctx, lobbyID, models.StatusFinished, FinishTTL)
}

// Expire marks a lobby expired and keeps it readable for one minute.
func (c *Coordinator) Expire(ctx context.Context, lobbyID string) (*models.Lobby, error) {
	return c.TransitionStatus(ctx, lobbyID, models.StatusExpired, ExpireTTL)
}

func (c *Coordinator) GetLobby(ctx context.Context, lobbyID string) (*models.Lobby, error) {
	if strings.TrimSpace(lobbyID) == "" {
		return nil, fmt.Errorf("%w: lobbyId is required", ErrValidation)
	}
	return c.store.GetLobby(ctx, lobbyID)
}

func (c *Coordinator) ListPlayers(ctx context.Context, lobbyID string) ([]models.LobbyPlayer, error) {
	if strings.TrimSpace(lobbyID) == "" {
		return nil, fmt.Errorf("%w: lobbyId is required", ErrValidation)
	}
	return c.store.ListPlayers(ctx, lobbyID)
}

func playerIDs(players []models.LobbyPlayer) []string {
	ids := make([]string, len(players))
	for i, p := range players {
		ids[i] = p.PlayerID
	}
	return ids
}

// AssignRoles maps every id to crew or saboteur. With more than one player the
// saboteur count is clamped so at least one crew member remains; a lone
// player is always crew.
func AssignRoles(rng random.Source, ids []string, saboteurs int) map[string]string {
	if len(ids) <= 1 {
		saboteurs = 0
	} else if saboteurs > len(ids)-1 {
		saboteurs = len(ids) - 1
	}
	roles := make(map[string]string, len(ids))
	for _, id := range ids {
		roles[id] = models.RoleCrew
	}
	for _, id := range random.Pick(rng, ids, saboteurs) {
		roles[id] = models.RoleSaboteur
	}
	return roles
}
