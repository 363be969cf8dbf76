package game

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/petervdpas/tunetrivia/internal/message"
	"github.com/petervdpas/tunetrivia/internal/model"
	"github.com/petervdpas/tunetrivia/internal/roomcode"
	"github.com/petervdpas/tunetrivia/internal/transport"
	"github.com/petervdpas/tunetrivia/internal/util"
)

// codeAttempts bounds retries when a generated room code is already hosted.
const codeAttempts = 3

// Options configures a Session. Only Transport is needed for multiplayer.
type Options struct {
	Transport transport.Transport
	Clock     clockwork.Clock
	Rand      *rand.Rand
	// Emit receives every state change. It is called with the session
	// locked and must neither block nor call back into the session.
	Emit func(Event)
	// OnComplete is called once per finished match.
	OnComplete func(Result)
	// CodeLen is the length of generated room codes.
	CodeLen int
	// NewCode overrides room code generation.
	NewCode func(n int) (string, error)
}

// Session owns the state of one player across lobby and match. Every
// method is safe for concurrent use; transport callbacks and timers are
// serialised with API calls on a single mutex.
type Session struct {
	mu sync.Mutex

	tr         transport.Transport
	clock      clockwork.Clock
	rng        *rand.Rand
	emit       func(Event)
	onComplete func(Result)
	codeLen    int
	newCode    func(int) (string, error)

	destroyed bool
	epoch     uint64 // bumped on every leave; stale callbacks compare against it

	role     Role
	code     string
	selfID   string
	hostLeft bool
	settings model.Settings
	players  []model.Player

	tracks     []model.Track
	round      int
	phase      model.Phase
	options    []model.Track
	revealed   string
	complete   bool
	roundStart time.Time
	deadline   time.Time

	// host only: connection id -> players joined over it
	connPlayers map[string][]string

	timerGen     uint64
	roundTimer   clockwork.Timer
	advanceTimer clockwork.Timer
}

func NewSession(opts Options) *Session {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if opts.Emit == nil {
		opts.Emit = func(Event) {}
	}
	if opts.CodeLen == 0 {
		opts.CodeLen = roomcode.DefaultLen
	}
	if opts.NewCode == nil {
		opts.NewCode = roomcode.Generate
	}
	return &Session{
		tr:         opts.Transport,
		clock:      opts.Clock,
		rng:        opts.Rand,
		emit:       opts.Emit,
		onComplete: opts.OnComplete,
		codeLen:    opts.CodeLen,
		newCode:    opts.NewCode,
		phase:      model.PhaseIdle,
	}
}

// StartSolo sets up a single-player match with no transport.
func (s *Session) StartSolo(name string, settings model.Settings) error {
	name, err := checkName(name)
	if err != nil {
		return err
	}
	settings.RoomType = model.RoomSolo
	if err := settings.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.idleLocked(); err != nil {
		return err
	}
	s.role = RoleSolo
	s.settings = settings
	s.selfID = uuid.NewString()
	s.players = []model.Player{{ID: s.selfID, Name: name, IsHost: true}}
	s.emitLocked(EventLobby)
	return nil
}

// CreateRoom opens a room as its host and returns the room code.
func (s *Session) CreateRoom(ctx context.Context, name string, settings model.Settings) (string, error) {
	name, err := checkName(name)
	if err != nil {
		return "", err
	}
	if !settings.RoomType.Multiplayer() {
		return "", &model.ValidationError{Field: "room type", Reason: "a hosted room is party or online"}
	}
	if err := settings.Validate(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.idleLocked(); err != nil {
		return "", err
	}
	if s.tr == nil {
		return "", ErrNoTransport
	}

	epoch := s.epoch
	s.registerLocked(epoch)

	var code string
	for attempt := 0; ; attempt++ {
		code, err = s.newCode(s.codeLen)
		if err != nil {
			return "", err
		}
		err = s.tr.Initialize(ctx, code, true)
		if err == nil {
			break
		}
		if !errors.Is(err, transport.ErrIdentityTaken) || attempt+1 >= codeAttempts {
			_ = s.tr.Cleanup()
			return "", err
		}
		log.Infow("room code in use, picking another", "code", code)
	}

	s.role = RoleHost
	s.code = code
	s.settings = settings
	s.selfID = uuid.NewString()
	s.players = []model.Player{{ID: s.selfID, Name: name, IsHost: true}}
	s.connPlayers = make(map[string][]string)
	log.Infow("room created", "code", code, "mode", settings.Mode, "type", settings.RoomType)
	s.emitLocked(EventLobby)
	return code, nil
}

// JoinRoom connects to the host of code and asks to join under name.
// Local input is checked before any network call.
func (s *Session) JoinRoom(ctx context.Context, name, code string) error {
	name, err := checkName(name)
	if err != nil {
		return err
	}
	code = roomcode.Normalize(code)
	if err := roomcode.Validate(code); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.idleLocked(); err != nil {
		return err
	}
	if s.tr == nil {
		return ErrNoTransport
	}

	s.registerLocked(s.epoch)
	if err := s.tr.Initialize(ctx, code, false); err != nil {
		_ = s.tr.Cleanup()
		log.Warnw("join failed", "code", code, "err", err)
		return err
	}

	s.role = RoleGuest
	s.code = code
	if err := s.tr.Send(&message.Join{Name: name}, ""); err != nil {
		log.Warnw("send join", "err", err)
	}
	log.Infow("joined room", "code", code, "as", s.tr.SelfID())
	s.emitLocked(EventLobby)
	return nil
}

// Leave cancels every timer, closes the transport and returns the session
// to idle. A host leaving ends the room for everyone.
func (s *Session) Leave() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.leaveLocked()
}

// Destroy leaves the room and makes the session unusable.
func (s *Session) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return
	}
	if err := s.leaveLocked(); err != nil {
		log.Warnw("destroy", "err", err)
	}
	s.destroyed = true
}

func (s *Session) leaveLocked() error {
	if s.role == RoleNone {
		return nil
	}
	s.stopTimersLocked()
	s.epoch++

	var err error
	if s.role != RoleSolo && s.tr != nil {
		err = s.tr.Cleanup()
	}
	log.Infow("left room", "code", s.code, "role", s.role)

	s.role = RoleNone
	s.code = ""
	s.selfID = ""
	s.hostLeft = false
	s.players = nil
	s.connPlayers = nil
	s.resetMatchLocked()
	s.emitLocked(EventLeft)
	return err
}

func (s *Session) resetMatchLocked() {
	s.tracks = nil
	s.round = 0
	s.phase = model.PhaseIdle
	s.options = nil
	s.revealed = ""
	s.complete = false
	s.roundStart = time.Time{}
	s.deadline = time.Time{}
}

// Role returns the local role.
func (s *Session) Role() Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.role
}

// Code returns the current room code, empty outside a room.
func (s *Session) Code() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.code
}

// Snapshot returns a deep copy of the shared room state.
func (s *Session) Snapshot() model.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// State returns the snapshot plus the local-only fields a view needs.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

func (s *Session) snapshotLocked() model.Snapshot {
	return model.Snapshot{
		RoomCode:        s.code,
		Settings:        s.settings,
		Players:         model.ClonePlayers(s.players),
		Tracks:          append([]model.Track(nil), s.tracks...),
		Round:           s.round,
		Phase:           s.phase,
		Options:         append([]model.Track(nil), s.options...),
		RevealedTrackID: s.revealed,
		Complete:        s.complete,
	}
}

func (s *Session) stateLocked() State {
	st := State{
		Snapshot: s.snapshotLocked(),
		Role:     s.role,
		SelfID:   s.selfID,
		HostLeft: s.hostLeft,
	}
	if s.phase == model.PhaseActive && !s.deadline.IsZero() {
		d := s.deadline
		st.Deadline = &d
	}
	return st
}

func (s *Session) emitLocked(typ string) {
	s.emit(Event{Type: typ, State: s.stateLocked()})
}

func (s *Session) idleLocked() error {
	if s.destroyed {
		return ErrClosed
	}
	if s.role != RoleNone {
		return ErrInRoom
	}
	return nil
}

// registerLocked subscribes to the transport for the room being opened.
// Callbacks from an older epoch are ignored.
func (s *Session) registerLocked(epoch uint64) {
	s.tr.OnMessage(func(in message.Inbound) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.epoch != epoch || s.destroyed {
			return
		}
		s.handleLocked(in)
	})
	s.tr.OnDisconnect(func(peerID string) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.epoch != epoch || s.destroyed {
			return
		}
		s.disconnectedLocked(peerID)
	})
}

func (s *Session) handleLocked(in message.Inbound) {
	switch s.role {
	case RoleHost:
		s.hostHandleLocked(in)
	case RoleGuest:
		s.guestHandleLocked(in)
	}
}

func (s *Session) hostHandleLocked(in message.Inbound) {
	if message.Privileged(in.Body.Type()) {
		log.Warnw("ignoring host-only message from guest", "from", in.From, "type", in.Body.Type())
		return
	}
	switch b := in.Body.(type) {
	case *message.Join:
		s.onJoinLocked(in.From, b)
	case *message.AnswerSubmitted:
		s.onAnswerLocked(in.From, b)
	}
}

func (s *Session) guestHandleLocked(in message.Inbound) {
	switch b := in.Body.(type) {
	case *message.PlayerList:
		s.onPlayerListLocked(b)
	case *message.SyncState:
		s.onSyncStateLocked(b)
	case *message.StartGame:
		s.onStartGameLocked(b)
	case *message.NextRound:
		s.onNextRoundLocked(b)
	case *message.ShowAnswer:
		s.onShowAnswerLocked(b)
	case *message.AllAnswered:
		s.emitLocked(EventAllAnswered)
	case *message.GameState:
		s.onGameStateLocked(b)
	default:
		log.Debugw("guest ignoring message", "type", in.Body.Type())
	}
}

func (s *Session) broadcastLocked(b message.Body) {
	if s.role != RoleHost {
		return
	}
	if err := s.tr.Broadcast(b); err != nil {
		log.Warnw("broadcast failed", "type", b.Type(), "err", err)
	}
}

func checkName(name string) (string, error) {
	name, err := util.ValidateDisplayName(name)
	if err != nil {
		return "", &model.ValidationError{Field: "display name", Reason: err.Error()}
	}
	return name, nil
}
