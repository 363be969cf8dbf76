package game

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petervdpas/tunetrivia/internal/message"
	"github.com/petervdpas/tunetrivia/internal/model"
	"github.com/petervdpas/tunetrivia/internal/transport"
)

const wait = 2 * time.Second
const tick = 5 * time.Millisecond

type events struct {
	mu  sync.Mutex
	all []Event
}

func (e *events) add(ev Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.all = append(e.all, ev)
}

func (e *events) count(typ string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, ev := range e.all {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

type fixture struct {
	clock   *clockwork.FakeClock
	hub     *transport.Hub
	results chan Result
}

func newFixture() *fixture {
	return &fixture{
		clock:   clockwork.NewFakeClock(),
		hub:     transport.NewHub(),
		results: make(chan Result, 8),
	}
}

func (f *fixture) session(ev *events) *Session {
	emit := func(Event) {}
	if ev != nil {
		emit = ev.add
	}
	return NewSession(Options{
		Transport:  f.hub.NewTransport(),
		Clock:      f.clock,
		Rand:       rand.New(rand.NewPCG(3, 4)),
		Emit:       emit,
		OnComplete: func(r Result) { f.results <- r },
		NewCode:    func(int) (string, error) { return "AB3K9", nil },
	})
}

func settings(rt model.RoomType) model.Settings {
	s := model.DefaultSettings()
	s.RoomType = rt
	s.AutoAdvance = 0
	return s
}

func phaseOf(s *Session) model.Phase { return s.Snapshot().Phase }

func TestSoloMatch(t *testing.T) {
	f := newFixture()
	s := f.session(nil)
	st := settings(model.RoomSolo)
	st.RoundsCount = 2
	require.NoError(t, s.StartSolo("Ada", st))
	require.NoError(t, s.StartGame(deck(6)))

	snap := s.Snapshot()
	assert.Equal(t, 1, snap.Round)
	assert.Equal(t, model.PhaseActive, snap.Phase)
	require.Len(t, snap.Options, OptionCount)

	answer := snap.Tracks[0].ID
	v, err := s.SubmitAnswer(answer)
	require.NoError(t, err)
	assert.True(t, v.Correct)
	assert.Equal(t, 1000, v.Points)
	assert.Equal(t, model.PhaseRevealed, phaseOf(s), "the only player answered")

	_, err = s.SubmitAnswer(answer)
	assert.ErrorIs(t, err, ErrWrongPhase)

	require.NoError(t, s.Advance())
	assert.Equal(t, 2, s.Snapshot().Round)

	f.clock.Advance(30 * time.Second)
	require.Eventually(t, func() bool { return phaseOf(s) == model.PhaseRevealed }, wait, tick)

	require.NoError(t, s.Advance())
	snap = s.Snapshot()
	assert.True(t, snap.Complete)
	assert.Equal(t, model.PhaseComplete, snap.Phase)
	assert.Equal(t, 2, snap.Round)
	assert.Equal(t, 1000, snap.Players[0].Score)

	require.NoError(t, s.Advance(), "advancing a finished match is not an error")
	assert.Equal(t, 2, s.Snapshot().Round)

	select {
	case r := <-f.results:
		assert.Equal(t, 2, r.Rounds)
	case <-time.After(wait):
		t.Fatal("no result reported")
	}
	assert.Empty(t, f.results)
}

func TestRoundLimitIsTrackCount(t *testing.T) {
	f := newFixture()
	s := f.session(nil)
	require.NoError(t, s.StartSolo("Ada", settings(model.RoomSolo)))
	require.NoError(t, s.StartGame(deck(2)))

	for round := 1; round <= 2; round++ {
		_, err := s.SubmitAnswer("nope")
		require.NoError(t, err)
		require.NoError(t, s.Advance())
	}
	snap := s.Snapshot()
	assert.True(t, snap.Complete)
	assert.Equal(t, 2, snap.Round)
	assert.Zero(t, snap.Players[0].Score)
}

func TestAutoAdvance(t *testing.T) {
	f := newFixture()
	s := f.session(nil)
	st := settings(model.RoomSolo)
	st.AutoAdvance = 1500 * time.Millisecond
	require.NoError(t, s.StartSolo("Ada", st))
	require.NoError(t, s.StartGame(deck(5)))

	_, err := s.SubmitAnswer("x")
	require.NoError(t, err)
	require.Equal(t, model.PhaseRevealed, phaseOf(s))

	f.clock.Advance(1500 * time.Millisecond)
	require.Eventually(t, func() bool {
		snap := s.Snapshot()
		return snap.Round == 2 && snap.Phase == model.PhaseActive
	}, wait, tick)
}

func TestStartGameNeedsAuthority(t *testing.T) {
	f := newFixture()
	s := f.session(nil)
	assert.ErrorIs(t, s.StartGame(deck(4)), ErrNoRoom)
	assert.ErrorIs(t, s.Advance(), ErrNoRoom)

	require.NoError(t, s.StartSolo("Ada", settings(model.RoomSolo)))
	assert.ErrorIs(t, s.StartGame([]model.Track{{Name: "no id"}}), ErrNoTracks)
	require.NoError(t, s.StartGame(deck(4)))
	assert.ErrorIs(t, s.StartGame(deck(4)), ErrWrongPhase)
	assert.ErrorIs(t, s.Advance(), ErrWrongPhase)
}

func TestJoinValidatesBeforeNetwork(t *testing.T) {
	f := newFixture()
	s := f.session(nil)

	var verr *model.ValidationError
	require.True(t, errors.As(s.JoinRoom(context.Background(), "   ", "AB3K9"), &verr))
	assert.Equal(t, "display name", verr.Field)
	require.True(t, errors.As(s.JoinRoom(context.Background(), "Ada", "AB0"), &verr))
	assert.Equal(t, "room code", verr.Field)
	assert.Equal(t, RoleNone, s.Role())

	var nf *transport.RoomNotFoundError
	require.True(t, errors.As(s.JoinRoom(context.Background(), "Ada", "ab3k9"), &nf))
	assert.Equal(t, "AB3K9", nf.Code)
	assert.Equal(t, RoleNone, s.Role())
}

func TestCreateRoomRejectsSolo(t *testing.T) {
	f := newFixture()
	_, err := f.session(nil).CreateRoom(context.Background(), "Host", settings(model.RoomSolo))
	var verr *model.ValidationError
	assert.True(t, errors.As(err, &verr))
}

// host creates AB3K9, guest joins, both see the same two players
func TestHostAndGuestConverge(t *testing.T) {
	f := newFixture()
	host := f.session(nil)
	guest := f.session(nil)

	code, err := host.CreateRoom(context.Background(), "Host", settings(model.RoomParty))
	require.NoError(t, err)
	assert.Equal(t, "AB3K9", code)
	_, err = host.CreateRoom(context.Background(), "Host", settings(model.RoomParty))
	assert.ErrorIs(t, err, ErrInRoom)

	require.NoError(t, guest.JoinRoom(context.Background(), "Guest", code))

	require.Eventually(t, func() bool { return len(host.Players()) == 2 }, wait, tick)
	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual(host.Players(), guest.Players())
	}, wait, tick)

	gs := guest.State()
	self, ok := gs.Self()
	require.True(t, ok)
	assert.Equal(t, "Guest", self.Name)
	assert.False(t, self.IsHost)
	assert.Equal(t, RoleGuest, gs.Role)
	assert.Equal(t, "AB3K9", gs.RoomCode)
}

func startParty(t *testing.T, f *fixture, guests int) (*Session, []*Session) {
	t.Helper()
	host := f.session(nil)
	code, err := host.CreateRoom(context.Background(), "Host", settings(model.RoomParty))
	require.NoError(t, err)

	var gs []*Session
	for i := 0; i < guests; i++ {
		g := f.session(nil)
		require.NoError(t, g.JoinRoom(context.Background(), "Guest", code))
		require.Eventually(t, func() bool { return g.State().SelfID != "" }, wait, tick)
		gs = append(gs, g)
	}
	require.Eventually(t, func() bool { return len(host.Players()) == guests+1 }, wait, tick)

	require.NoError(t, host.StartGame(deck(6)))
	for _, g := range gs {
		require.Eventually(t, func() bool {
			snap := g.Snapshot()
			return snap.Phase == model.PhaseActive && snap.Round == 1
		}, wait, tick)
	}
	return host, gs
}

func TestPartyRoundRevealsWhenEveryGuestAnswered(t *testing.T) {
	f := newFixture()
	host, gs := startParty(t, f, 2)

	_, err := host.SubmitAnswer("x")
	assert.ErrorIs(t, err, ErrNotEligible)

	snap := gs[0].Snapshot()
	assert.Equal(t, host.Snapshot().Options, snap.Options)
	answer := snap.Tracks[0].ID

	v, err := gs[0].SubmitAnswer(answer)
	require.NoError(t, err)
	assert.True(t, v.Correct)
	_, err = gs[0].SubmitAnswer(answer)
	assert.ErrorIs(t, err, ErrAlreadyAnswered)

	require.Eventually(t, func() bool {
		for _, p := range host.Players() {
			if p.ID == gs[0].State().SelfID {
				return p.Answered() && p.Score == 1000
			}
		}
		return false
	}, wait, tick)
	assert.Equal(t, model.PhaseActive, phaseOf(host), "one guest still to answer")

	_, err = gs[1].SubmitAnswer("wrong")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return phaseOf(host) == model.PhaseRevealed }, wait, tick)
	for _, g := range gs {
		require.Eventually(t, func() bool {
			snap := g.Snapshot()
			return snap.Phase == model.PhaseRevealed && snap.RevealedTrackID == answer
		}, wait, tick)
	}

	require.NoError(t, host.Advance())
	for _, g := range gs {
		require.Eventually(t, func() bool {
			snap := g.Snapshot()
			return snap.Round == 2 && snap.Phase == model.PhaseActive
		}, wait, tick)
	}
	assert.ErrorIs(t, gs[0].Advance(), ErrNotHost)
}

func TestTimerRevealsOnHostAndGuest(t *testing.T) {
	f := newFixture()
	host, gs := startParty(t, f, 1)

	f.clock.Advance(30 * time.Second)
	require.Eventually(t, func() bool { return phaseOf(host) == model.PhaseRevealed }, wait, tick)
	require.Eventually(t, func() bool { return phaseOf(gs[0]) == model.PhaseRevealed }, wait, tick)
	assert.Equal(t, host.Snapshot().RevealedTrackID, gs[0].Snapshot().RevealedTrackID)
}

func TestGuestSeesCompletion(t *testing.T) {
	f := newFixture()
	host := f.session(nil)
	st := settings(model.RoomOnline)
	st.RoundsCount = 1
	_, err := host.CreateRoom(context.Background(), "Host", st)
	require.NoError(t, err)
	guest := f.session(nil)
	require.NoError(t, guest.JoinRoom(context.Background(), "Guest", "AB3K9"))
	require.Eventually(t, func() bool { return len(host.Players()) == 2 }, wait, tick)

	require.NoError(t, host.StartGame(deck(4)))
	require.Eventually(t, func() bool { return phaseOf(guest) == model.PhaseActive }, wait, tick)

	// online rooms wait for the host too
	_, err = guest.SubmitAnswer("x")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		for _, p := range host.Players() {
			if !p.IsHost && p.Answered() {
				return true
			}
		}
		return false
	}, wait, tick)
	assert.Equal(t, model.PhaseActive, phaseOf(host))
	_, err = host.SubmitAnswer("x")
	require.NoError(t, err)
	assert.Equal(t, model.PhaseRevealed, phaseOf(host))

	require.NoError(t, host.Advance())
	require.Eventually(t, func() bool { return guest.Snapshot().Complete }, wait, tick)

	select {
	case r := <-f.results:
		assert.Equal(t, "AB3K9", r.RoomCode)
	case <-time.After(wait):
		t.Fatal("host reported no result")
	}
	// the guest completes too but only the host records the match
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, f.results)
}

func TestRepeatedNextRoundIsApplied(t *testing.T) {
	f := newFixture()
	ev := &events{}
	s := f.session(ev)
	s.role = RoleGuest
	s.settings = settings(model.RoomParty)
	s.tracks = deck(5)

	for i := 0; i < 2; i++ {
		s.mu.Lock()
		s.handleLocked(message.Inbound{From: "host", Seq: uint64(i + 1), Body: &message.NextRound{Round: 2}})
		s.mu.Unlock()
	}
	snap := s.Snapshot()
	assert.Equal(t, 2, snap.Round)
	assert.Equal(t, model.PhaseActive, snap.Phase)
	assert.Equal(t, 2, ev.count(EventRoundStarted))
}

func TestNextRoundBeyondDeckIsIgnored(t *testing.T) {
	f := newFixture()
	ev := &events{}
	s := f.session(ev)
	s.role = RoleGuest
	s.settings = settings(model.RoomParty)
	s.tracks = deck(5)

	s.mu.Lock()
	s.handleLocked(message.Inbound{From: "host", Seq: 1, Body: &message.NextRound{Round: 6}})
	s.mu.Unlock()

	snap := s.Snapshot()
	assert.Equal(t, 0, snap.Round)
	assert.Equal(t, model.PhaseIdle, snap.Phase)
	assert.Zero(t, ev.count(EventRoundStarted))
}

func TestOversizedElapsedScoresMinimum(t *testing.T) {
	f := newFixture()
	host, gs := startParty(t, f, 1)
	guestID := gs[0].State().SelfID

	host.mu.Lock()
	var conn string
	for c := range host.connPlayers {
		conn = c
	}
	host.handleLocked(message.Inbound{From: conn, Seq: 1 << 20, Body: &message.AnswerSubmitted{
		Round:     1,
		Answer:    "whatever",
		Correct:   true,
		ElapsedMs: 9_300_000_000_000,
	}})
	host.mu.Unlock()

	var score int
	for _, p := range host.Players() {
		if p.ID == guestID {
			score = p.Score
		}
	}
	assert.Equal(t, 100, score)
	assert.Equal(t, model.PhaseRevealed, phaseOf(host))
}

func TestHostIgnoresPrivilegedMessagesFromGuests(t *testing.T) {
	f := newFixture()
	host := f.session(nil)
	_, err := host.CreateRoom(context.Background(), "Host", settings(model.RoomParty))
	require.NoError(t, err)

	host.mu.Lock()
	host.handleLocked(message.Inbound{From: "rogue", Seq: 1, Body: &message.PlayerList{}})
	host.handleLocked(message.Inbound{From: "rogue", Seq: 2, Body: &message.NextRound{Round: 5}})
	host.mu.Unlock()

	snap := host.Snapshot()
	assert.Len(t, snap.Players, 1)
	assert.Equal(t, model.PhaseIdle, snap.Phase)
}

func TestGuestLeavingShrinksRoster(t *testing.T) {
	f := newFixture()
	host, gs := startParty(t, f, 2)

	_, err := gs[0].SubmitAnswer("x")
	require.NoError(t, err)
	require.NoError(t, gs[1].Leave())
	require.NoError(t, gs[1].Leave())

	require.Eventually(t, func() bool { return len(host.Players()) == 2 }, wait, tick)
	require.Eventually(t, func() bool { return phaseOf(host) == model.PhaseRevealed }, wait, tick,
		"the remaining guest already answered")
}

func TestHostLeavingEndsRoom(t *testing.T) {
	f := newFixture()
	ev := &events{}
	host := f.session(nil)
	_, err := host.CreateRoom(context.Background(), "Host", settings(model.RoomParty))
	require.NoError(t, err)
	guest := f.session(ev)
	require.NoError(t, guest.JoinRoom(context.Background(), "Guest", "AB3K9"))
	require.Eventually(t, func() bool { return len(guest.Players()) == 2 }, wait, tick)

	host.Destroy()
	require.Eventually(t, func() bool { return guest.State().HostLeft }, wait, tick)
	assert.Equal(t, 1, ev.count(EventHostLeft))

	_, err = guest.SubmitAnswer("x")
	assert.ErrorIs(t, err, ErrHostLeft)
	require.NoError(t, guest.Leave())
	assert.Equal(t, RoleNone, guest.Role())

	_, err = host.CreateRoom(context.Background(), "Host", settings(model.RoomParty))
	assert.ErrorIs(t, err, ErrClosed)
}
