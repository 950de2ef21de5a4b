// Package random isolates pseudo-random choices (colors, panels, roles) so
// tests can substitute deterministic sequences.
package random

import (
	"math/rand"
	"sync"
	"time"
)

// Source is the subset of *rand.Rand the game logic depends on.
type Source interface {
	Intn(n int) int
	Shuffle(n int, swap func(i, j int))
}

// lockedSource makes a *rand.Rand safe to share between goroutines.
type lockedSource struct {
	mu sync.Mutex
	r  *rand.Rand
}

// New returns a goroutine-safe Source seeded from the clock.
func New() Source {
	return NewSeeded(time.Now().UnixNano())
}

// NewSeeded returns a goroutine-safe Source with a fixed seed.
func NewSeeded(seed int64) Source {
	return &lockedSource{r: rand.New(rand.NewSource(seed))}
}

func (s *lockedSource) Intn(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.r.Intn(n)
}

func (s *lockedSource) Shuffle(n int, swap func(i, j int)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.r.Shuffle(n, swap)
}

// Scripted replays a fixed list of values. Intn reduces the next value modulo n
// and returns 0 once the script is exhausted. Shuffle runs Fisher-Yates drawing
// from the same script and leaves the remaining elements in place once exhausted.
type Scripted struct {
	mu     sync.Mutex
	values []int
}

// NewScripted returns a Scripted source that yields values in order.
func NewScripted(values ...int) *Scripted {
	return &Scripted{values: values}
}

func (s *Scripted) Intn(n int) int {
	if n <= 0 {
		return 0
	}
	v, _ := s.next(n)
	return v
}

func (s *Scripted) Shuffle(n int, swap func(i, j int)) {
	for i := n - 1; i > 0; i-- {
		j, ok := s.next(i + 1)
		if !ok {
			return
		}
		swap(i, j)
	}
}

func (s *Scripted) next(n int) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.values) == 0 {
		return 0, false
	}
	v := s.values[0]
	s.values = s.values[1:]
	return ((v % n) + n) % n, true
}

// Pick returns k distinct elements of items chosen by src. items is not modified.
func Pick[T any](src Source, items []T, k int) []T {
	if k > len(items) {
		k = len(items)
	}
	if k <= 0 {
		return []T{}
	}
	pool := append([]T(nil), items...)
	src.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })
	return pool[:k]
}
