package schedule

import (
	"math/bits"
	"time"
)

// RampDelay returns how long the lane at laneIndex (its position across the
// whole run, not within one process) waits before its first iteration.
//
// Delays grow linearly from zero towards rampUp. With steps > 0 they are
// rounded down to a multiple of rampUp/steps so that lanes start in cohorts.
// The result is always within [0, rampUp] and never decreases as laneIndex grows.
func RampDelay(laneIndex, total int, rampUp time.Duration, steps int) time.Duration {
	if total < 1 || rampUp <= 0 || laneIndex <= 0 {
		return 0
	}
	if laneIndex > total {
		laneIndex = total
	}

	// laneIndex*rampUp can overflow int64 for long ramps, so multiply in 128 bits.
	// The quotient never exceeds rampUp because laneIndex <= total.
	hi, lo := bits.Mul64(uint64(laneIndex), uint64(rampUp))
	quo, _ := bits.Div64(hi, lo, uint64(total))
	delay := time.Duration(quo)

	if steps > 0 {
		if granularity := rampUp / time.Duration(steps); granularity > 0 {
			delay -= delay % granularity
		}
	}

	if delay > rampUp {
		delay = rampUp
	}
	return delay
}

// LaneDelays computes the delays of count consecutive lanes starting at the
// global index offset.
func LaneDelays(offset, count, total int, rampUp time.Duration, steps int) []time.Duration {
	if count <= 0 {
		return nil
	}
	delays := make([]time.Duration, count)
	for i := range delays {
		delays[i] = RampDelay(offset+i, total, rampUp, steps)
	}
	return delays
}
