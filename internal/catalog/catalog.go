// Package catalog supplies playlists and tracks to the game.
package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/petervdpas/tunetrivia/internal/model"

	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("catalog")

const (
	// PageSize and MaxPages cap how many tracks one playlist can yield.
	PageSize = 50
	MaxPages = 10

	// MinTracks is the smallest playlist a match can be played from.
	MinTracks = 4
)

var (
	ErrPlaylistNotFound = errors.New("playlist not found")
	ErrNotEnoughTracks  = fmt.Errorf("a playlist needs at least %d playable tracks", MinTracks)
)

// Catalog is the music source consumed by the game.
type Catalog interface {
	Playlists(ctx context.Context, query string) ([]model.Playlist, error)
	PlaylistTracks(ctx context.Context, playlistID string) ([]model.Track, error)
}

// Pager fetches one page of a playlist's tracks. More reports whether
// another page follows.
type Pager interface {
	TracksPage(ctx context.Context, playlistID string, offset, limit int) (tracks []model.Track, more bool, err error)
}

// CollectTracks walks at most MaxPages pages of PageSize tracks and drops
// tracks without an id.
func CollectTracks(ctx context.Context, p Pager, playlistID string) ([]model.Track, error) {
	var out []model.Track
	for page := 0; page < MaxPages; page++ {
		tracks, more, err := p.TracksPage(ctx, playlistID, page*PageSize, PageSize)
		if err != nil {
			return nil, err
		}
		for _, t := range tracks {
			if t.ID != "" {
				out = append(out, t)
			}
		}
		if !more {
			break
		}
	}
	return out, nil
}

// BuildDeck checks that tracks can carry a match. Tracks without an id
// and repeats are dropped; the game shuffles the result.
func BuildDeck(tracks []model.Track) ([]model.Track, error) {
	seen := make(map[string]bool, len(tracks))
	deck := make([]model.Track, 0, len(tracks))
	for _, t := range tracks {
		if t.ID == "" || seen[t.ID] {
			continue
		}
		seen[t.ID] = true
		deck = append(deck, t)
	}
	if len(deck) < MinTracks {
		return nil, ErrNotEnoughTracks
	}
	return deck, nil
}
