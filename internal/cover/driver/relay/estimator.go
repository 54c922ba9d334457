package relay

import (
	"math"
	"time"
)

// TicksForDelta maps a position delta in percent onto countdown ticks,
// proportional to the configured full-travel duration. One tick is one
// second of travel. Zero ticks means the move is instantaneous.
func TicksForDelta(deltaPercent int, travel time.Duration) int {
	if deltaPercent < 0 {
		deltaPercent = -deltaPercent
	}
	return int(math.Round(float64(deltaPercent) / 100 * travel.Seconds()))
}

// Rate returns the percentage of a motion segment completed after elapsed
// of total ticks, clamped to [0,100]. A zero-tick segment is complete.
func Rate(elapsed, total int) int {
	if total <= 0 {
		return 100
	}
	r := elapsed * 100 / total
	if r < 0 {
		return 0
	}
	if r > 100 {
		return 100
	}
	return r
}

// PositionAtTick returns the absolute position during a full travel:
// the completed rate when opening, its complement when closing.
func PositionAtTick(elapsed, total int, opening bool) int {
	r := Rate(elapsed, total)
	if opening {
		return r
	}
	return 100 - r
}

// PositionBetween interpolates the position of a partial motion segment
// from start towards target. At the travel terminals it reduces to
// PositionAtTick.
func PositionBetween(start, target, elapsed, total int) int {
	return start + Rate(elapsed, total)*(target-start)/100
}
