package room

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRegistryOrder(t *testing.T) {
	g := NewRegistry()
	now := time.Now()
	a, b, c := newRoom("a", 8, now), newRoom("b", 8, now), newRoom("c", 8, now)
	g.Add(a)
	g.Add(b)
	g.Add(c)

	assert.Same(t, a, g.FirstWaiting(5))
	a.State = StatePlaying
	assert.Same(t, b, g.FirstWaiting(5))

	b.add(&PlayerSession{ID: "p1"})
	assert.Same(t, c, g.FirstWaiting(1), "full rooms are skipped")

	g.Remove("b")
	g.Remove("missing")
	assert.Equal(t, 2, g.Len())
	all := g.All()
	assert.Equal(t, []string{"a", "c"}, []string{all[0].ID, all[1].ID})
}

func TestRoomSessionsKeepJoinOrder(t *testing.T) {
	r := newRoom("r", 4, time.Now())
	for _, id := range []string{"x", "y", "z"} {
		r.add(&PlayerSession{ID: id})
	}
	r.remove("y")
	r.remove("ghost")

	ids := []string{}
	for _, p := range r.Sessions() {
		ids = append(ids, p.ID)
	}
	assert.Equal(t, []string{"x", "z"}, ids)
	assert.Equal(t, []int{}, r.BrokenPanels())

	r.panels[3].NeedsFix = true
	r.panels[1].NeedsFix = true
	assert.Equal(t, []int{1, 3}, r.BrokenPanels())
	assert.Equal(t, []int{1, 2, 3, 4}, r.panelIDs())
}

func TestCancelFixBumpsGeneration(t *testing.T) {
	p := &PlayerSession{IsFixing: true, FixingPanel: 2, fixTimer: time.AfterFunc(time.Hour, func() {})}
	p.cancelFix()
	assert.False(t, p.IsFixing)
	assert.Zero(t, p.FixingPanel)
	assert.Nil(t, p.fixTimer)
	assert.Equal(t, uint64(1), p.fixGen)
}
