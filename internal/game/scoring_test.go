package game

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPoints(t *testing.T) {
	round := 30 * time.Second
	tests := []struct {
		name    string
		correct bool
		elapsed time.Duration
		want    int
	}{
		{"instant", true, 0, 1000},
		{"deadline", true, 30 * time.Second, 100},
		{"halfway", true, 15 * time.Second, 550},
		{"after deadline", true, 45 * time.Second, 100},
		{"negative elapsed", true, -time.Second, 1000},
		{"wrong instant", false, 0, 0},
		{"wrong late", false, 29 * time.Second, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Points(tt.correct, tt.elapsed, round, 100, 1000))
		})
	}
}

func TestPointsMonotonicAndBounded(t *testing.T) {
	round := 30 * time.Second
	prev := Points(true, 0, round, 100, 1000)
	for ms := 0; ms <= 30000; ms += 7 {
		p := Points(true, time.Duration(ms)*time.Millisecond, round, 100, 1000)
		assert.LessOrEqual(t, p, prev, "at %dms", ms)
		assert.GreaterOrEqual(t, p, 100)
		assert.LessOrEqual(t, p, 1000)
		prev = p
	}
}

func TestPointsLargeRoundAndRange(t *testing.T) {
	round := time.Hour
	assert.Equal(t, 10_000_000, Points(true, 0, round, 100, 10_000_000))
	assert.Equal(t, 100, Points(true, round, round, 100, 10_000_000))
	assert.Equal(t, 5_000_050, Points(true, round/2, round, 100, 10_000_000))

	prev := Points(true, 0, round, 100, 10_000_000)
	for m := 1; m <= 60; m++ {
		p := Points(true, time.Duration(m)*time.Minute, round, 100, 10_000_000)
		assert.LessOrEqual(t, p, prev, "at %dm", m)
		assert.GreaterOrEqual(t, p, 100)
		prev = p
	}
}

func TestPointsZeroRoundTime(t *testing.T) {
	assert.Equal(t, 1000, Points(true, time.Second, 0, 100, 1000))
}
