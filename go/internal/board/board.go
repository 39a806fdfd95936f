// Package board generates round boards: one target emoji hidden among
// look-alike decoys, scattered with random positions, sizes and tilts.
package board

import (
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/emojidash/emojidash/go/internal/models"
)

// Generator builds round boards from an emoji pool. Safe for concurrent
// use; the rng is guarded because transitions can race on preload.
type Generator struct {
	pool  []string
	items int

	mu  sync.Mutex
	rng *rand.Rand
}

// NewGenerator returns a board generator drawing from pool and placing
// items emojis per board. The pool needs at least two entries so a
// decoy can always differ from the target.
func NewGenerator(pool []string, items int) *Generator {
	return &Generator{
		pool:  pool,
		items: items,
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Generate builds the board for a round. The target appears exactly
// once; every other slot holds a non-target decoy. Timing fields stay
// unset so a preloaded board carries no schedule.
func (g *Generator) Generate(number int) *models.Round {
	g.mu.Lock()
	defer g.mu.Unlock()

	target := g.pool[g.rng.Intn(len(g.pool))]
	targetSlot := g.rng.Intn(g.items)

	items := make([]models.PlacedItem, 0, g.items)
	for i := 0; i < g.items; i++ {
		token := target
		if i != targetSlot {
			for token == target {
				token = g.pool[g.rng.Intn(len(g.pool))]
			}
		}
		items = append(items, models.PlacedItem{
			ID:       fmt.Sprintf("i%d", i),
			Token:    token,
			X:        round2(g.rng.Float64() * 100),
			Y:        round2(g.rng.Float64() * 100),
			Size:     round2(2.5 + g.rng.Float64()*3),
			Rotation: round2(g.rng.Float64()*60 - 30),
		})
	}

	return &models.Round{
		Number:      number,
		TargetToken: target,
		Items:       items,
	}
}

// round2 keeps coordinates to two decimals so serialized boards stay
// compact enough for push transports with small payload limits.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
