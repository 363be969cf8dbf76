// Package game runs one player's view of a quiz match: the lobby that
// tracks room membership and the round state machine. A room's host is
// authoritative; guests mirror what the host broadcasts and report their
// own answers back.
package game

import (
	"errors"
	"time"

	"github.com/petervdpas/tunetrivia/internal/model"

	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("game")

// Role is the local peer's part in the current room.
type Role string

const (
	RoleNone  Role = ""
	RoleSolo  Role = "solo"
	RoleHost  Role = "host"
	RoleGuest Role = "guest"
)

var (
	ErrClosed          = errors.New("session destroyed")
	ErrInRoom          = errors.New("already in a room; leave first")
	ErrNoRoom          = errors.New("not in a room")
	ErrNotHost         = errors.New("only the host can do that")
	ErrHostLeft        = errors.New("the host left the room")
	ErrWrongPhase      = errors.New("not possible in the current phase")
	ErrAlreadyAnswered = errors.New("already answered this round")
	ErrNotEligible     = errors.New("the host does not answer in party rooms")
	ErrNoTracks        = errors.New("no playable tracks")
	ErrNoTransport     = errors.New("session has no transport")
)

// Event types emitted to the presentation layer.
const (
	EventLobby        = "lobby"
	EventRoundStarted = "round-started"
	EventAnswered     = "answered"
	EventAllAnswered  = "all-answered"
	EventRevealed     = "revealed"
	EventComplete     = "complete"
	EventHostLeft     = "host-left"
	EventLeft         = "left"
)

// Event carries the full session state after a change.
type Event struct {
	Type  string `json:"type"`
	State State  `json:"state"`
}

// State is what a view renders from.
type State struct {
	model.Snapshot
	Role     Role       `json:"role"`
	SelfID   string     `json:"selfId,omitempty"`
	HostLeft bool       `json:"hostLeft,omitempty"`
	Deadline *time.Time `json:"deadline,omitempty"`
}

// Self returns the local player, if it is on the roster yet.
func (st State) Self() (model.Player, bool) {
	for _, p := range st.Players {
		if p.ID == st.SelfID {
			return p, true
		}
	}
	return model.Player{}, false
}

// Result summarises a finished match.
type Result struct {
	RoomCode   string         `json:"roomCode,omitempty"`
	Mode       model.GameMode `json:"mode"`
	RoomType   model.RoomType `json:"roomType"`
	Rounds     int            `json:"rounds"`
	Players    []model.Player `json:"players"`
	FinishedAt time.Time      `json:"finishedAt"`
}

// Verdict is returned to the local player after answering.
type Verdict struct {
	Correct bool  `json:"correct"`
	Points  int   `json:"points"`
	Elapsed int64 `json:"elapsedMs"`
}
