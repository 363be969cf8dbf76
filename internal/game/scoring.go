package game

import (
	"math/bits"
	"time"
)

// Points scores an answer given elapsed into a round of length roundTime.
// Correct answers decrease linearly from maxP at zero to minP at the
// deadline; wrong answers score nothing.
func Points(correct bool, elapsed, roundTime time.Duration, minP, maxP int) int {
	if !correct {
		return 0
	}
	if roundTime <= 0 || elapsed <= 0 || maxP <= minP {
		return maxP
	}
	if elapsed > roundTime {
		elapsed = roundTime
	}
	// span*elapsed needs 128 bits; the quotient is at most span
	span := uint64(maxP - minP)
	hi, lo := bits.Mul64(span, uint64(elapsed))
	lost, _ := bits.Div64(hi, lo, uint64(roundTime))
	return maxP - int(lost)
}
