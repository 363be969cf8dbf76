// Package model holds the data shared by the session coordinators, the wire
// payloads and the viewer API.
package model

import (
	"fmt"
	"time"
)

// GameMode selects how a player answers a round.
type GameMode string

const (
	ModeABCD GameMode = "abcd" // pick one of the generated options
	ModeType GameMode = "type" // type the track title
	ModeList GameMode = "list" // pick from the whole playlist
)

// Valid reports whether m is a known mode.
func (m GameMode) Valid() bool {
	switch m {
	case ModeABCD, ModeType, ModeList:
		return true
	}
	return false
}

// RoomType selects who takes part in a match.
type RoomType string

const (
	RoomSolo   RoomType = "solo"
	RoomParty  RoomType = "party"  // host plays the music, guests answer
	RoomOnline RoomType = "online" // every peer, host included, answers
)

// Valid reports whether t is a known room type.
func (t RoomType) Valid() bool {
	switch t {
	case RoomSolo, RoomParty, RoomOnline:
		return true
	}
	return false
}

// Multiplayer reports whether the room type uses a transport.
func (t RoomType) Multiplayer() bool {
	return t == RoomParty || t == RoomOnline
}

// Phase is the round state machine position.
type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhaseActive   Phase = "active"
	PhaseRevealed Phase = "revealed"
	PhaseComplete Phase = "complete"
)

// Player is one participant of a room. Exactly one player per room has
// IsHost set.
type Player struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	Score             int    `json:"score"`
	IsHost            bool   `json:"isHost"`
	HasAnswered       *bool  `json:"hasAnswered,omitempty"`
	LastAnswerCorrect *bool  `json:"lastAnswerCorrect,omitempty"`
	LastAnswerTime    *int64 `json:"lastAnswerTime,omitempty"` // ms since round start
}

// Answered reports whether the player has answered in the current round.
func (p Player) Answered() bool {
	return p.HasAnswered != nil && *p.HasAnswered
}

// Track is the per-track descriptor handed over by the music catalog.
type Track struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Artist      string `json:"artist" yaml:"artist"`
	PreviewURL  string `json:"previewUrl,omitempty" yaml:"preview_url"`
	PlaybackURI string `json:"playbackUri,omitempty" yaml:"playback_uri"`
	ImageURL    string `json:"imageUrl,omitempty" yaml:"image_url"`
}

// Playlist is a catalog listing entry.
type Playlist struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	ImageURL   string `json:"imageUrl,omitempty"`
	TrackCount int    `json:"trackCount"`
}

// Settings are chosen by the host before the match starts.
type Settings struct {
	Mode          GameMode      `json:"mode"`
	RoomType      RoomType      `json:"roomType"`
	RoundsCount   int           `json:"roundsCount"`
	RoundDuration time.Duration `json:"roundDuration"`
	MinPoints     int           `json:"minPoints"`
	MaxPoints     int           `json:"maxPoints"`
	AutoAdvance   time.Duration `json:"autoAdvance"` // 0 disables
	PlaylistID    string        `json:"playlistId,omitempty"`
	PlaylistName  string        `json:"playlistName,omitempty"`
}

// DefaultSettings mirrors the defaults of the original client.
func DefaultSettings() Settings {
	return Settings{
		Mode:          ModeABCD,
		RoomType:      RoomSolo,
		RoundsCount:   10,
		RoundDuration: 30 * time.Second,
		MinPoints:     100,
		MaxPoints:     1000,
		AutoAdvance:   1500 * time.Millisecond,
	}
}

// Validate checks the values a host may choose.
func (s Settings) Validate() error {
	switch {
	case !s.Mode.Valid():
		return &ValidationError{Field: "mode", Reason: fmt.Sprintf("unknown mode %q", s.Mode)}
	case !s.RoomType.Valid():
		return &ValidationError{Field: "room type", Reason: fmt.Sprintf("unknown room type %q", s.RoomType)}
	case s.RoundsCount < 1:
		return &ValidationError{Field: "rounds", Reason: "must be at least 1"}
	case s.RoundDuration <= 0:
		return &ValidationError{Field: "round duration", Reason: "must be positive"}
	case s.MinPoints < 0 || s.MaxPoints < s.MinPoints:
		return &ValidationError{Field: "points", Reason: "need 0 <= min <= max"}
	case s.AutoAdvance < 0:
		return &ValidationError{Field: "auto advance", Reason: "must not be negative"}
	}
	return nil
}

// RoundLimit is the last playable round: min(RoundsCount, trackCount).
func (s Settings) RoundLimit(trackCount int) int {
	return min(s.RoundsCount, trackCount)
}

// Snapshot is the complete view of a session, used for force-replacing a
// guest's state and for rendering.
type Snapshot struct {
	RoomCode        string   `json:"roomCode,omitempty"`
	Settings        Settings `json:"settings"`
	Players         []Player `json:"players"`
	Tracks          []Track  `json:"tracks,omitempty"`
	Round           int      `json:"round"`
	Phase           Phase    `json:"phase"`
	Options         []Track  `json:"options,omitempty"`
	RevealedTrackID string   `json:"revealedTrackId,omitempty"`
	Complete        bool     `json:"complete"`
}

// ClonePlayers returns a deep copy of ps so callers cannot alias session state.
func ClonePlayers(ps []Player) []Player {
	if ps == nil {
		return nil
	}
	out := make([]Player, len(ps))
	for i, p := range ps {
		out[i] = p
		if p.HasAnswered != nil {
			v := *p.HasAnswered
			out[i].HasAnswered = &v
		}
		if p.LastAnswerCorrect != nil {
			v := *p.LastAnswerCorrect
			out[i].LastAnswerCorrect = &v
		}
		if p.LastAnswerTime != nil {
			v := *p.LastAnswerTime
			out[i].LastAnswerTime = &v
		}
	}
	return out
}

// ValidationError reports local input that was rejected before any
// network action.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
