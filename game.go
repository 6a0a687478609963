package main

import (
	"time"

	"github.com/tidwall/geodesic"
)

type position struct {
	x float64 // latitude
	y float64 // longitude
}

// Player is one connected client, known to the coordinator from Connect
// until Disconnect.
type Player struct {
	id       int64
	name     string
	endpoint endpoint
	pos      *position
	game     uint16
	inGame   bool
}

// Game is one lobby or match, keyed by its join code.
type Game struct {
	code   uint16
	host   int64
	roster []int64
	x      float64
	y      float64
	length time.Duration
	state  gameState
}

type gameState interface {
	gameState()
}

type waitingState struct{}

type playingState struct {
	seeker    int64
	startedAt time.Time
	scores    map[int64]float32
	stop      chan struct{}
}

type endedState struct {
	winner int64
}

func (waitingState) gameState()  {}
func (*playingState) gameState() {}
func (endedState) gameState()    {}

func newGame(code uint16, host int64, x, y float64, minutes uint32) *Game {
	return &Game{
		code:   code,
		host:   host,
		roster: []int64{host},
		x:      x,
		y:      y,
		length: time.Duration(minutes) * time.Minute,
		state:  waitingState{},
	}
}

func (g *Game) removeFromRoster(id int64) {
	dst := g.roster[:0]
	for _, member := range g.roster {
		if member != id {
			dst = append(dst, member)
		}
	}
	g.roster = dst
}

func (g *Game) inRoster(id int64) bool {
	for _, member := range g.roster {
		if member == id {
			return true
		}
	}
	return false
}

// generateID draws random keys until one is absent from the existing set.
func generateID[K comparable, V any](draw func() K, existing map[K]V) K {
	for {
		id := draw()
		if _, taken := existing[id]; !taken {
			return id
		}
	}
}

// originDistance returns the WGS-84 geodesic distance in metres between a
// player's position and the game origin. Scoring depends on the unit being
// metres.
func (g *Game) originDistance(pos *position) float64 {
	var metres float64
	geodesic.WGS84.Inverse(pos.x, pos.y, g.x, g.y, &metres, nil, nil)
	return metres
}

// scoreGain is the per-tick score increment for a hider at the given
// distance from the origin: closer means faster accumulation.
func scoreGain(metres float64, interval time.Duration) float32 {
	return float32(1.0/(metres+2.0)*20.0) * float32(interval.Seconds())
}

// winner picks the highest-scoring key. The strict comparison keeps the
// first-seen key on ties and on NaN scores; iteration follows the roster so
// "first seen" is roster order. Keys no longer in the roster are scanned
// afterwards.
func winner(scores map[int64]float32, roster []int64) int64 {
	var best int64
	bestScore := float32(0)
	found := false

	consider := func(id int64, score float32) {
		if !found || score > bestScore {
			best, bestScore, found = id, score, true
		}
	}

	for _, id := range roster {
		if score, ok := scores[id]; ok {
			consider(id, score)
		}
	}
	for id, score := range scores {
		if !inSlice(roster, id) {
			consider(id, score)
		}
	}

	return best
}

func inSlice(ids []int64, id int64) bool {
	for _, member := range ids {
		if member == id {
			return true
		}
	}
	return false
}
