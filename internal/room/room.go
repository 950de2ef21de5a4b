package room

import (
	"sort"
	"time"
)

// World constants shared with the presentation client.
const (
	GameWidth  = 1400
	GameHeight = 800
	PlayerSize = 20

	SpawnX = 0
	SpawnY = 10
	SpawnZ = -225
)

// Palette holds the colors a new session can be given.
var Palette = []int{0x000000, 0x8B00FF, 0xFF0000, 0x00FF00, 0xFFFF00, 0x0000FF, 0xFFFFFF, 0xFFA500}

// State is the lifecycle of a room.
type State string

const (
	StateWaiting State = "waiting"
	StatePlaying State = "playing"
)

// Panel is one repairable ship panel.
type Panel struct {
	ID        int
	NeedsFix  bool
	LastFixer string
}

// PlayerSession is the authoritative state of one connected player. It is
// only touched by the server loop.
type PlayerSession struct {
	ID          string
	Name        string
	MemberID    string // matchmaker player id, if the client sent one
	X, Y, Z     float64
	RotationY   float64
	Color       int
	Role        string
	IsFixing    bool
	FixingPanel int
	JoinedAt    time.Time

	out      chan<- any
	fixTimer *time.Timer
	fixGen   uint64
}

// cancelFix clears any fix in progress and invalidates its pending timer.
func (p *PlayerSession) cancelFix() {
	if p.fixTimer != nil {
		p.fixTimer.Stop()
		p.fixTimer = nil
	}
	p.fixGen++
	p.IsFixing = false
	p.FixingPanel = 0
}

func (p *PlayerSession) view() PlayerView {
	return PlayerView{
		ID:        p.ID,
		Name:      p.Name,
		X:         p.X,
		Y:         p.Y,
		Z:         p.Z,
		RotationY: p.RotationY,
		Color:     p.Color,
	}
}

// Room is one running session of the panel game.
type Room struct {
	ID        string
	State     State
	CreatedAt time.Time

	sessions map[string]*PlayerSession
	order    []string
	panels   map[int]*Panel
}

func newRoom(id string, panelCount int, now time.Time) *Room {
	r := &Room{
		ID:        id,
		State:     StateWaiting,
		CreatedAt: now,
		sessions:  make(map[string]*PlayerSession),
		panels:    make(map[int]*Panel, panelCount),
	}
	for i := 1; i <= panelCount; i++ {
		r.panels[i] = &Panel{ID: i}
	}
	return r
}

func (r *Room) Len() int { return len(r.order) }

func (r *Room) add(p *PlayerSession) {
	r.sessions[p.ID] = p
	r.order = append(r.order, p.ID)
}

func (r *Room) remove(id string) {
	if _, ok := r.sessions[id]; !ok {
		return
	}
	delete(r.sessions, id)
	for i, sid := range r.order {
		if sid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Sessions returns the sessions in join order.
func (r *Room) Sessions() []*PlayerSession {
	out := make([]*PlayerSession, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.sessions[id])
	}
	return out
}

func (r *Room) panelIDs() []int {
	ids := make([]int, 0, len(r.panels))
	for id := range r.panels {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// BrokenPanels returns the ids of panels that still need fixing, ascending.
func (r *Room) BrokenPanels() []int {
	ids := []int{}
	for _, id := range r.panelIDs() {
		if r.panels[id].NeedsFix {
			ids = append(ids, id)
		}
	}
	return ids
}

func (r *Room) gameState() GameState {
	players := make([]PlayerView, 0, len(r.order))
	for _, p := range r.Sessions() {
		players = append(players, p.view())
	}
	return GameState{
		Type:       TypeGameState,
		GameID:     r.ID,
		Players:    players,
		GameWidth:  GameWidth,
		GameHeight: GameHeight,
		PlayerSize: PlayerSize,
	}
}

// View is a read-only snapshot of a room.
type View struct {
	ID           string       `json:"id"`
	State        State        `json:"state"`
	Players      []PlayerView `json:"players"`
	BrokenPanels []int        `json:"brokenPanels"`
	CreatedAt    time.Time    `json:"createdAt"`
}

func (r *Room) view() View {
	return View{
		ID:           r.ID,
		State:        r.State,
		Players:      r.gameState().Players,
		BrokenPanels: r.BrokenPanels(),
		CreatedAt:    r.CreatedAt,
	}
}

// Registry maps room ids to rooms and remembers creation order.
type Registry struct {
	rooms map[string]*Room
	order []string
}

func NewRegistry() *Registry {
	return &Registry{rooms: make(map[string]*Room)}
}

func (g *Registry) Get(id string) (*Room, bool) {
	r, ok := g.rooms[id]
	return r, ok
}

func (g *Registry) Add(r *Room) {
	g.rooms[r.ID] = r
	g.order = append(g.order, r.ID)
}

func (g *Registry) Remove(id string) {
	if _, ok := g.rooms[id]; !ok {
		return
	}
	delete(g.rooms, id)
	for i, rid := range g.order {
		if rid == id {
			g.order = append(g.order[:i], g.order[i+1:]...)
			break
		}
	}
}

// FirstWaiting returns the oldest waiting room with fewer than max players.
func (g *Registry) FirstWaiting(max int) *Room {
	for _, id := range g.order {
		r := g.rooms[id]
		if r.State == StateWaiting && r.Len() < max {
			return r
		}
	}
	return nil
}

// All returns every room in creation order.
func (g *Registry) All() []*Room {
	out := make([]*Room, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.rooms[id])
	}
	return out
}

func (g *Registry) Len() int { return len(g.rooms) }
