// Package message defines the envelope exchanged between room peers and
// the closed set of payloads it can carry. Payloads are validated when
// decoded, so coordinators only ever see well-formed bodies.
package message

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/petervdpas/tunetrivia/internal/model"
)

// Message type constants for the room protocol wire format.
const (
	TypeJoin            = "join"
	TypePlayerList      = "player-list"
	TypeStartGame       = "start-game"
	TypeNextRound       = "next-round"
	TypeShowAnswer      = "show-answer"
	TypeAnswerSubmitted = "answer-submitted"
	TypeAllAnswered     = "all-answered"
	TypeSyncState       = "sync-state"
	TypeGameState       = "game-state"
)

var (
	ErrUnknownType    = errors.New("unknown message type")
	ErrInvalidPayload = errors.New("invalid payload")
)

// Envelope is the JSON wire format. Seq is assigned by the sender and grows
// monotonically per sender; receivers drop anything not newer than the
// last seq they applied from that sender.
type Envelope struct {
	Type    string          `json:"type"`
	Seq     uint64          `json:"seq"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Body is implemented by every payload type.
type Body interface {
	Type() string
	Validate() error
}

// Inbound is a decoded message together with the connection it arrived on.
type Inbound struct {
	From string
	Seq  uint64
	Body Body
}

// Wrap marshals b into an envelope stamped with seq.
func Wrap(seq uint64, b Body) (Envelope, error) {
	if b == nil {
		return Envelope{}, fmt.Errorf("%w: nil body", ErrInvalidPayload)
	}
	if err := b.Validate(); err != nil {
		return Envelope{}, err
	}
	raw, err := json.Marshal(b)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", b.Type(), err)
	}
	return Envelope{Type: b.Type(), Seq: seq, Payload: raw}, nil
}

// Encode wraps b and renders the envelope as a single JSON line.
func Encode(seq uint64, b Body) ([]byte, error) {
	env, err := Wrap(seq, b)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// Decode parses one JSON envelope and its payload.
func Decode(data []byte) (Envelope, Body, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	b, err := Unwrap(env)
	return env, b, err
}

// Unwrap parses the payload of env into its concrete type and validates it.
func Unwrap(env Envelope) (Body, error) {
	var b Body
	switch env.Type {
	case TypeJoin:
		b = &Join{}
	case TypePlayerList:
		b = &PlayerList{}
	case TypeStartGame:
		b = &StartGame{}
	case TypeNextRound:
		b = &NextRound{}
	case TypeShowAnswer:
		b = &ShowAnswer{}
	case TypeAnswerSubmitted:
		b = &AnswerSubmitted{}
	case TypeAllAnswered:
		b = &AllAnswered{}
	case TypeSyncState:
		b = &SyncState{}
	case TypeGameState:
		b = &GameState{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}

	if len(env.Payload) > 0 && string(env.Payload) != "null" {
		if err := json.Unmarshal(env.Payload, b); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidPayload, env.Type, err)
		}
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return b, nil
}

// Privileged reports whether only the room host may originate messages of
// type t.
func Privileged(t string) bool {
	switch t {
	case TypeJoin, TypeAnswerSubmitted:
		return false
	}
	return true
}

func invalid(typ, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalidPayload, typ, fmt.Sprintf(format, args...))
}

// Join is sent by a guest right after its connection opens.
type Join struct {
	Name string `json:"name"`
}

func (*Join) Type() string { return TypeJoin }

func (m *Join) Validate() error {
	if strings.TrimSpace(m.Name) == "" {
		return invalid(TypeJoin, "empty name")
	}
	return nil
}

// PlayerList carries the host's authoritative roster.
type PlayerList struct {
	Players []model.Player `json:"players"`
}

func (*PlayerList) Type() string { return TypePlayerList }

func (m *PlayerList) Validate() error {
	return validatePlayers(TypePlayerList, m.Players)
}

func validatePlayers(typ string, ps []model.Player) error {
	hosts := 0
	seen := make(map[string]bool, len(ps))
	for _, p := range ps {
		if p.ID == "" {
			return invalid(typ, "player without id")
		}
		if seen[p.ID] {
			return invalid(typ, "duplicate player id %s", p.ID)
		}
		seen[p.ID] = true
		if p.IsHost {
			hosts++
		}
	}
	if hosts > 1 {
		return invalid(typ, "%d host players", hosts)
	}
	return nil
}

// StartGame opens round one. Tracks is the full shuffled deck so guests
// can resolve later rounds and reveals locally.
type StartGame struct {
	Settings  model.Settings `json:"settings"`
	Tracks    []model.Track  `json:"tracks"`
	Round     int            `json:"round"`
	Options   []model.Track  `json:"options,omitempty"`
	StartedAt int64          `json:"startedAt"`
}

func (*StartGame) Type() string { return TypeStartGame }

func (m *StartGame) Validate() error {
	if !m.Settings.Mode.Valid() {
		return invalid(TypeStartGame, "unknown mode %q", m.Settings.Mode)
	}
	if len(m.Tracks) == 0 {
		return invalid(TypeStartGame, "no tracks")
	}
	if m.Round < 1 || m.Round > len(m.Tracks) {
		return invalid(TypeStartGame, "round %d out of range", m.Round)
	}
	return nil
}

// NextRound moves every guest to Round.
type NextRound struct {
	Round     int           `json:"round"`
	Options   []model.Track `json:"options,omitempty"`
	StartedAt int64         `json:"startedAt"`
}

func (*NextRound) Type() string { return TypeNextRound }

func (m *NextRound) Validate() error {
	if m.Round < 1 {
		return invalid(TypeNextRound, "round %d out of range", m.Round)
	}
	return nil
}

// ShowAnswer reveals the correct track of Round.
type ShowAnswer struct {
	Round   int    `json:"round"`
	TrackID string `json:"trackId"`
}

func (*ShowAnswer) Type() string { return TypeShowAnswer }

func (m *ShowAnswer) Validate() error {
	if m.Round < 1 {
		return invalid(TypeShowAnswer, "round %d out of range", m.Round)
	}
	if m.TrackID == "" {
		return invalid(TypeShowAnswer, "empty track id")
	}
	return nil
}

// AnswerSubmitted is a guest's verdict on its own answer. The host scores
// it from Correct and ElapsedMs.
type AnswerSubmitted struct {
	Round     int    `json:"round"`
	Answer    string `json:"answer,omitempty"`
	Correct   bool   `json:"correct"`
	ElapsedMs int64  `json:"elapsedMs"`
}

func (*AnswerSubmitted) Type() string { return TypeAnswerSubmitted }

func (m *AnswerSubmitted) Validate() error {
	if m.Round < 1 {
		return invalid(TypeAnswerSubmitted, "round %d out of range", m.Round)
	}
	if m.ElapsedMs < 0 {
		return invalid(TypeAnswerSubmitted, "negative elapsed time")
	}
	return nil
}

// AllAnswered tells guests that every eligible player answered Round.
type AllAnswered struct {
	Round int `json:"round"`
}

func (*AllAnswered) Type() string { return TypeAllAnswered }

func (m *AllAnswered) Validate() error {
	if m.Round < 1 {
		return invalid(TypeAllAnswered, "round %d out of range", m.Round)
	}
	return nil
}

// SyncState force-replaces a guest's view with the host's. You is the
// receiving guest's player id.
type SyncState struct {
	You      string         `json:"you"`
	Snapshot model.Snapshot `json:"snapshot"`
}

func (*SyncState) Type() string { return TypeSyncState }

func (m *SyncState) Validate() error {
	if m.You == "" {
		return invalid(TypeSyncState, "missing player id")
	}
	return validatePlayers(TypeSyncState, m.Snapshot.Players)
}

// GameState summarises the match. The host sends it once with Complete set
// when the last round has been played.
type GameState struct {
	Round    int            `json:"round"`
	Phase    model.Phase    `json:"phase"`
	Players  []model.Player `json:"players"`
	Complete bool           `json:"complete"`
}

func (*GameState) Type() string { return TypeGameState }

func (m *GameState) Validate() error {
	if m.Round < 0 {
		return invalid(TypeGameState, "round %d out of range", m.Round)
	}
	switch m.Phase {
	case model.PhaseIdle, model.PhaseActive, model.PhaseRevealed, model.PhaseComplete:
	default:
		return invalid(TypeGameState, "unknown phase %q", m.Phase)
	}
	return validatePlayers(TypeGameState, m.Players)
}
