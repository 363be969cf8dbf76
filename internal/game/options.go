package game

import (
	"math/rand/v2"

	"github.com/petervdpas/tunetrivia/internal/model"
)

// OptionCount is the size of a multiple-choice round when enough tracks
// are available.
const OptionCount = 4

// roundOptions returns the choices for the round whose answer is deck[answer]:
// the answer plus up to OptionCount-1 decoys drawn from the rest of the
// deck, shuffled.
func roundOptions(deck []model.Track, answer int, rng *rand.Rand) []model.Track {
	if answer < 0 || answer >= len(deck) {
		return nil
	}
	correct := deck[answer]

	pool := make([]model.Track, 0, len(deck)-1)
	for i, t := range deck {
		if i != answer && t.ID != correct.ID {
			pool = append(pool, t)
		}
	}
	rng.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })

	n := min(OptionCount-1, len(pool))
	out := make([]model.Track, 0, n+1)
	out = append(out, correct)
	out = append(out, pool[:n]...)
	rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}

// shuffleDeck drops tracks without an id and repeats of an id, then
// shuffles what is left.
func shuffleDeck(tracks []model.Track, rng *rand.Rand) []model.Track {
	seen := make(map[string]bool, len(tracks))
	deck := make([]model.Track, 0, len(tracks))
	for _, t := range tracks {
		if t.ID == "" || seen[t.ID] {
			continue
		}
		seen[t.ID] = true
		deck = append(deck, t)
	}
	rng.Shuffle(len(deck), func(i, j int) { deck[i], deck[j] = deck[j], deck[i] })
	return deck
}
