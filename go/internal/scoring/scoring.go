// Package scoring computes the points awarded for finding a round target.
// All functions are pure so awards can be recomputed from recorded finds.
package scoring

import (
	"math"
	"time"
)

// Params describes the scoring curve.
type Params struct {
	BasePoints        int
	TimeBonusMax      int
	TimeBonusExponent float64
	OrderBonusFirst   int
	OrderBonusStep    int
}

// Points returns the award for a find at timeToFind into a round of
// roundDuration, arriving at the given rank (1 = first finder).
//
// The award is BasePoints, plus a time bonus that decays from
// TimeBonusMax at the round start to zero at the deadline, plus an
// order bonus that shrinks with rank and never goes negative. Finding
// later never pays more, and a worse rank never pays more.
func Points(p Params, timeToFind, roundDuration time.Duration, rank int) int {
	return p.BasePoints + TimeBonus(p, timeToFind, roundDuration) + OrderBonus(p, rank)
}

// TimeBonus returns the speed component of an award.
func TimeBonus(p Params, timeToFind, roundDuration time.Duration) int {
	if roundDuration <= 0 {
		return 0
	}
	remaining := 1 - float64(timeToFind)/float64(roundDuration)
	if remaining <= 0 {
		return 0
	}
	if remaining > 1 {
		// Clock skew can place a find before the recorded round start.
		remaining = 1
	}
	return int(math.Round(float64(p.TimeBonusMax) * math.Pow(remaining, p.TimeBonusExponent)))
}

// OrderBonus returns the arrival-order component of an award.
func OrderBonus(p Params, rank int) int {
	if rank < 1 {
		rank = 1
	}
	bonus := p.OrderBonusFirst - p.OrderBonusStep*(rank-1)
	if bonus < 0 {
		return 0
	}
	return bonus
}
