// Package room runs the authoritative real-time room server. A single event
// loop owns every room, session and panel; connections and timers only post
// events into its inbox.
package room

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sijeecodes/SaveTheShip/internal/matchmaking"
	"github.com/sijeecodes/SaveTheShip/internal/models"
	"github.com/sijeecodes/SaveTheShip/internal/random"
	"github.com/sirupsen/logrus"
)

// ErrServerStopped is returned when posting to a loop that has exited.
var ErrServerStopped = errors.New("room server stopped")

// Config tunes the room server. Zero fields take the defaults below. A negative
// SaboteurCount means no saboteurs.
type Config struct {
	MaxPlayers    int
	MinPlayers    int
	PanelCount    int
	PanelsToFix   int
	SaboteurCount int
	FixDuration   time.Duration
	ClampToBounds bool
	SendBuffer    int
}

func (c Config) withDefaults() Config {
	if c.MaxPlayers <= 0 {
		c.MaxPlayers = 5
	}
	if c.MinPlayers <= 0 {
		c.MinPlayers = 2
	}
	if c.PanelCount <= 0 {
		c.PanelCount = 8
	}
	if c.PanelsToFix <= 0 {
		c.PanelsToFix = 6
	}
	if c.PanelsToFix > c.PanelCount {
		c.PanelsToFix = c.PanelCount
	}
	if c.FixDuration <= 0 {
		c.FixDuration = 5 * time.Second
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 32
	}
	switch {
	case c.SaboteurCount == 0:
		c.SaboteurCount = 1
	case c.SaboteurCount < 0:
		c.SaboteurCount = 0
	}
	return c
}

// Lifecycle is notified from the event loop when a room starts its game and
// when it is destroyed. roles is keyed by lobby member id and only covers
// sessions that joined with one. Implementations must not block.
type Lifecycle interface {
	RoomStarted(roomID string, roles map[string]string)
	RoomClosed(roomID string)
}

type nopLifecycle struct{}

func (nopLifecycle) RoomStarted(string, map[string]string) {}
func (nopLifecycle) RoomClosed(string)  {}

// event is anything the loop can process.
type event interface{ isEvent() }

type joinEvent struct {
	playerID string
	memberID string
	name     string
	gameID   string
	out      chan<- any
	reply    chan string
}

type moveEvent struct {
	playerID  string
	x, y      float64
	z         *float64
	rotationY *float64
}

type startFixEvent struct {
	playerID string
	panelID  int
}

type fixCompleteEvent struct {
	playerID string
	panelID  int
}

type fixTimerEvent struct {
	playerID string
	panelID  int
	gen      uint64
}

type leaveEvent struct {
	playerID string
}

type roomsQuery struct {
	reply chan []View
}

func (joinEvent) isEvent()        {}
func (moveEvent) isEvent()        {}
func (startFixEvent) isEvent()    {}
func (fixCompleteEvent) isEvent() {}
func (fixTimerEvent) isEvent()    {}
func (leaveEvent) isEvent()       {}
func (roomsQuery) isEvent()       {}

// Server is the room server. Create it with NewServer and start Run.
type Server struct {
	cfg      Config
	inbox    chan event
	done     chan struct{}
	registry *Registry
	where    map[string]*Room
	rng      random.Source
	log      *logrus.Logger
	hooks    Lifecycle
	now      func() time.Time
}

// Option customises a Server.
type Option func(*Server)

// WithLifecycle installs a room lifecycle hook.
func WithLifecycle(l Lifecycle) Option {
	return func(s *Server) {
		if l != nil {
			s.hooks = l
		}
	}
}

// WithRandom replaces the random source used for colors, panels and roles.
func WithRandom(src random.Source) Option {
	return func(s *Server) {
		if src != nil {
			s.rng = src
		}
	}
}

func NewServer(cfg Config, log *logrus.Logger, opts ...Option) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &Server{
		cfg:      cfg.withDefaults(),
		inbox:    make(chan event, 256),
		done:     make(chan struct{}),
		registry: NewRegistry(),
		where:    make(map[string]*Room),
		rng:      random.New(),
		log:      log,
		hooks:    nopLifecycle{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run processes events until ctx is cancelled.
func (s *Server) Run(ctx context.Context) {
	defer close(s.done)
	defer s.shutdown()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-s.inbox:
			s.handle(ev)
		}
	}
}

// post hands ev to the loop, giving up when ctx ends or the loop has exited.
func (s *Server) post(ctx context.Context, ev event) error {
	select {
	case s.inbox <- ev:
		return nil
	case <-s.done:
		return ErrServerStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Rooms returns a snapshot of every room, taken on the loop.
func (s *Server) Rooms(ctx context.Context) ([]View, error) {
	reply := make(chan []View, 1)
	if err := s.post(ctx, roomsQuery{reply: reply}); err != nil {
		return nil, err
	}
	select {
	case views := <-reply:
		return views, nil
	case <-s.done:
		return nil, ErrServerStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Server) handle(ev event) {
	switch e := ev.(type) {
	case joinEvent:
		s.handleJoin(e)
	case moveEvent:
		s.handleMove(e)
	case startFixEvent:
		s.handleStartFix(e)
	case fixCompleteEvent:
		s.handleFixComplete(e)
	case fixTimerEvent:
		s.handleFixTimer(e)
	case leaveEvent:
		s.handleLeave(e)
	case roomsQuery:
		views := make([]View, 0, s.registry.Len())
		for _, r := range s.registry.All() {
			views = append(views, r.view())
		}
		e.reply <- views
	}
}

// shutdown stops every pending timer once the loop exits.
func (s *Server) shutdown() {
	for _, r := range s.registry.All() {
		for _, p := range r.Sessions() {
			p.cancelFix()
		}
	}
}

// NormalizeName trims, truncates and defaults a display name.
func NormalizeName(name, playerID string) string {
	name = strings.TrimSpace(name)
	if r := []rune(name); len(r) > matchmaking.MaxNameLength {
		name = strings.TrimSpace(string(r[:matchmaking.MaxNameLength]))
	}
	if name == "" {
		return matchmaking.DefaultPlayerName(playerID)
	}
	return name
}

// assign picks the room for a joiner.
func (s *Server) assign(gameID string) *Room {
	if gameID != "" {
		r, ok := s.registry.Get(gameID)
		if !ok {
			r = newRoom(gameID, s.cfg.PanelCount, s.now())
			s.registry.Add(r)
			return r
		}
		if r.Len() < s.cfg.MaxPlayers {
			return r
		}
		s.log.WithField("room", gameID).Debug("requested room is full, assigning another")
	}
	if r := s.registry.FirstWaiting(s.cfg.MaxPlayers); r != nil {
		return r
	}
	r := newRoom(uuid.NewString(), s.cfg.PanelCount, s.now())
	s.registry.Add(r)
	return r
}

func (s *Server) handleJoin(e joinEvent) {
	defer close(e.reply)
	if _, exists := s.where[e.playerID]; exists {
		s.log.WithField("player", e.playerID).Warn("duplicate join ignored")
		return
	}

	r := s.assign(e.gameID)
	p := &PlayerSession{
		ID:       e.playerID,
		Name:     NormalizeName(e.name, e.playerID),
		MemberID: strings.TrimSpace(e.memberID),
		X:        SpawnX,
		Y:        SpawnY,
		Z:        SpawnZ,
		Color:    Palette[s.rng.Intn(len(Palette))],
		JoinedAt: s.now(),
		out:      e.out,
	}
	r.add(p)
	s.where[p.ID] = r
	// Reply once every join message is queued so the caller observes them.
	defer func() { e.reply <- r.ID }()

	s.log.WithFields(logrus.Fields{
		"room":       r.ID,
		"player":     p.ID,
		"name":       p.Name,
		"population": r.Len(),
	}).Info("player joined room")

	s.send(p, WelcomeMessage{
		Type:       TypeWelcome,
		PlayerID:   p.ID,
		GameID:     r.ID,
		PlayerName: p.Name,
		Color:      p.Color,
	})
	if r.State == StatePlaying {
		p.Role = models.RoleCrew
		s.send(p, RoleAssigned{Type: TypeRoleAssigned, Role: p.Role})
		s.send(p, PanelsNeedFix{Type: TypePanelsNeedFix, PanelIDs: r.BrokenPanels()})
	}
	s.broadcast(r, r.gameState())

	if r.State == StateWaiting && r.Len() >= s.cfg.MinPlayers {
		s.startGame(r)
	}
}

// startGame flips a room to playing, breaks a random subset of panels and
// deals roles. It runs exactly once per room.
func (s *Server) startGame(r *Room) {
	r.State = StatePlaying
	for _, id := range random.Pick(s.rng, r.panelIDs(), s.cfg.PanelsToFix) {
		r.panels[id].NeedsFix = true
	}

	sessions := r.Sessions()
	ids := make([]string, len(sessions))
	for i, p := range sessions {
		ids[i] = p.ID
	}
	roles := matchmaking.AssignRoles(s.rng, ids, s.cfg.SaboteurCount)
	members := make(map[string]string)
	for _, p := range sessions {
		p.Role = roles[p.ID]
		s.send(p, RoleAssigned{Type: TypeRoleAssigned, Role: p.Role})
		if p.MemberID != "" {
			members[p.MemberID] = p.Role
		}
	}

	broken := r.BrokenPanels()
	s.broadcast(r, PanelsNeedFix{Type: TypePanelsNeedFix, PanelIDs: broken})
	s.log.WithFields(logrus.Fields{
		"room":   r.ID,
		"panels": broken,
	}).Info("game started")
	s.hooks.RoomStarted(r.ID, members)
}

// session resolves a player to its room and session.
func (s *Server) session(playerID string) (*Room, *PlayerSession, bool) {
	r, ok := s.where[playerID]
	if !ok {
		return nil, nil, false
	}
	p, ok := r.sessions[playerID]
	return r, p, ok
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func (s *Server) handleMove(e moveEvent) {
	r, p, ok := s.session(e.playerID)
	if !ok {
		return
	}
	p.X, p.Y = e.x, e.y
	if s.cfg.ClampToBounds {
		p.X = clamp(p.X, 0, GameWidth-PlayerSize)
		p.Y = clamp(p.Y, 0, GameHeight-PlayerSize)
	}
	if e.z != nil {
		p.Z = *e.z
	}
	if e.rotationY != nil {
		p.RotationY = *e.rotationY
	}
	s.broadcast(r, r.gameState())
}

func (s *Server) handleStartFix(e startFixEvent) {
	r, p, ok := s.session(e.playerID)
	if !ok {
		return
	}
	if _, known := r.panels[e.panelID]; !known {
		s.send(p, errorMessage("unknown panel"))
		return
	}

	p.cancelFix()
	p.IsFixing = true
	p.FixingPanel = e.panelID
	gen := p.fixGen
	playerID, panelID := p.ID, e.panelID
	p.fixTimer = time.AfterFunc(s.cfg.FixDuration, func() {
		_ = s.post(context.Background(), fixTimerEvent{playerID: playerID, panelID: panelID, gen: gen})
	})

	s.broadcast(r, PlayerFixing{Type: TypePlayerFixing, PlayerID: p.ID, PanelID: e.panelID})
}

func (s *Server) handleFixComplete(e fixCompleteEvent) {
	r, p, ok := s.session(e.playerID)
	if !ok {
		return
	}
	if _, known := r.panels[e.panelID]; !known {
		s.send(p, errorMessage("unknown panel"))
		return
	}
	s.completeFix(r, p, e.panelID)
}

// handleFixTimer completes a fix on the player's behalf, unless the fix was
// cancelled, finished or replaced since the timer was armed.
func (s *Server) handleFixTimer(e fixTimerEvent) {
	r, p, ok := s.session(e.playerID)
	if !ok || !p.IsFixing || p.FixingPanel != e.panelID || p.fixGen != e.gen {
		return
	}
	s.completeFix(r, p, e.panelID)
}

func (s *Server) completeFix(r *Room, p *PlayerSession, panelID int) {
	p.cancelFix()
	panel := r.panels[panelID]
	if !panel.NeedsFix {
		return
	}
	panel.NeedsFix = false
	panel.LastFixer = p.ID
	s.broadcast(r, PanelFixed{Type: TypePanelFixed, PanelID: panelID, PlayerID: p.ID})

	if len(r.BrokenPanels()) == 0 {
		s.log.WithField("room", r.ID).Info("ship repaired")
		s.broadcast(r, ShipRepaired{Type: TypeShipRepaired})
	}
}

func (s *Server) handleLeave(e leaveEvent) {
	r, p, ok := s.session(e.playerID)
	if !ok {
		return
	}
	p.cancelFix()
	r.remove(p.ID)
	delete(s.where, p.ID)

	fields := logrus.Fields{"room": r.ID, "player": p.ID, "population": r.Len()}
	if r.Len() == 0 {
		s.registry.Remove(r.ID)
		s.log.WithFields(fields).Info("room closed")
		s.hooks.RoomClosed(r.ID)
		return
	}
	s.log.WithFields(fields).Info("player left room")
	s.broadcast(r, r.gameState())
}

// send enqueues msg without blocking; a full outbox drops the message.
func (s *Server) send(p *PlayerSession, msg any) {
	select {
	case p.out <- msg:
	default:
		s.log.WithFields(logrus.Fields{
			"player": p.ID,
			"msg":    msg,
		}).Warn("outbox full, dropped message")
	}
}

func (s *Server) broadcast(r *Room, msg any) {
	for _, p := range r.Sessions() {
		s.send(p, msg)
	}
}
