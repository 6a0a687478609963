package main

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateID(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	t.Run("skips taken keys", func(t *testing.T) {
		// A draw function that yields 1, 1, 2, ... must skip past the taken 1.
		draws := []uint16{1, 1, 2}
		i := 0
		draw := func() uint16 {
			id := draws[i]
			i++
			return id
		}

		taken := map[uint16]*Game{1: nil}
		assert.Equal(t, uint16(2), generateID(draw, taken))
	})

	t.Run("unique across many draws", func(t *testing.T) {
		games := make(map[uint16]*Game)
		draw := func() uint16 { return uint16(rng.Uint32()) }

		for i := 0; i < 1000; i++ {
			code := generateID(draw, games)
			_, taken := games[code]
			require.False(t, taken)
			games[code] = nil
		}
	})
}

func TestOriginDistance(t *testing.T) {
	game := newGame(1, 1, 0, 0, 1)

	// 0.0001° of latitude at the equator is roughly 11 metres.
	d := game.originDistance(&position{x: 0.0001, y: 0})
	assert.InDelta(t, 11.06, d, 0.2)

	assert.Zero(t, game.originDistance(&position{}))

	// One degree of longitude at the equator is roughly 111.3 km.
	d = game.originDistance(&position{x: 0, y: 1})
	assert.InDelta(t, 111319, d, 100)
}

func TestScoreGain(t *testing.T) {
	// At the origin the gain caps at 20/2 per second.
	assert.InDelta(t, 10.0, scoreGain(0, time.Second), 1e-6)

	// ~11m out, the per-second gain is near 1.53.
	assert.InDelta(t, 20.0/13.06, scoreGain(11.06, time.Second), 1e-4)

	// Sub-second tick intervals scale the gain down.
	assert.InDelta(t, 5.0, scoreGain(0, 500*time.Millisecond), 1e-6)

	// Gains never go negative, so scores are monotonically non-decreasing.
	assert.GreaterOrEqual(t, scoreGain(1e9, time.Second), float32(0))
}

func TestWinner(t *testing.T) {
	roster := []int64{1, 2, 3}

	t.Run("argmax", func(t *testing.T) {
		scores := map[int64]float32{1: 0.5, 2: 3.25, 3: 1}
		assert.Equal(t, int64(2), winner(scores, roster))
	})

	t.Run("tie keeps first seen", func(t *testing.T) {
		scores := map[int64]float32{1: 2, 2: 2, 3: 2}
		assert.Equal(t, int64(1), winner(scores, roster))
	})

	t.Run("nan never beats an earlier key", func(t *testing.T) {
		nan := float32(math.NaN())
		scores := map[int64]float32{1: 0, 2: nan, 3: 5}
		assert.Equal(t, int64(3), winner(scores, roster))
	})

	t.Run("keys outside the roster still count", func(t *testing.T) {
		scores := map[int64]float32{1: 1, 99: 7}
		assert.Equal(t, int64(99), winner(scores, roster))
	})
}

func TestRosterOps(t *testing.T) {
	game := newGame(7, 1, 0, 0, 1)
	game.roster = append(game.roster, 2, 3)

	require.True(t, game.inRoster(2))
	game.removeFromRoster(2)
	assert.Equal(t, []int64{1, 3}, game.roster)
	assert.False(t, game.inRoster(2))

	// Removing an absent id is a no-op.
	game.removeFromRoster(42)
	assert.Equal(t, []int64{1, 3}, game.roster)
}

func TestNewGameLength(t *testing.T) {
	game := newGame(7, 1, 0, 0, 2)
	assert.Equal(t, 120*time.Second, game.length)
	assert.IsType(t, waitingState{}, game.state)
	assert.Equal(t, []int64{1}, game.roster)
}
