package game

import (
	"time"

	"github.com/petervdpas/tunetrivia/internal/message"
	"github.com/petervdpas/tunetrivia/internal/model"
)

// StartGame shuffles tracks into the match deck and opens round one.
// Only the host or a solo player can start; a finished match can be
// restarted.
func (s *Session) StartGame(tracks []model.Track) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.authorityLocked(); err != nil {
		return err
	}
	if s.phase == model.PhaseActive || s.phase == model.PhaseRevealed {
		return ErrWrongPhase
	}

	deck := shuffleDeck(tracks, s.rng)
	if len(deck) == 0 {
		return ErrNoTracks
	}
	s.tracks = deck
	s.complete = false
	for i := range s.players {
		s.players[i].Score = 0
	}
	s.beginRoundLocked(1)
	log.Infow("match started", "code", s.code, "tracks", len(deck), "rounds", s.settings.RoundLimit(len(deck)))

	s.broadcastLocked(&message.StartGame{
		Settings:  s.settings,
		Tracks:    append([]model.Track(nil), s.tracks...),
		Round:     s.round,
		Options:   append([]model.Track(nil), s.options...),
		StartedAt: s.roundStart.UnixMilli(),
	})
	s.broadcastLocked(&message.PlayerList{Players: model.ClonePlayers(s.players)})
	s.emitLocked(EventRoundStarted)
	return nil
}

// SubmitAnswer records the local player's answer for the current round.
// Correctness is judged here; a guest reports the verdict to the host,
// which owns the score.
func (s *Session) SubmitAnswer(answer string) (Verdict, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.inRoomLocked(); err != nil {
		return Verdict{}, err
	}
	if s.phase != model.PhaseActive {
		return Verdict{}, ErrWrongPhase
	}
	if s.role == RoleHost && s.settings.RoomType == model.RoomParty {
		return Verdict{}, ErrNotEligible
	}
	idx := s.playerIndexLocked(s.selfID)
	if idx < 0 {
		return Verdict{}, ErrWrongPhase
	}
	if s.players[idx].Answered() {
		return Verdict{}, ErrAlreadyAnswered
	}
	track, ok := s.currentTrackLocked()
	if !ok {
		return Verdict{}, ErrWrongPhase
	}

	correct := Match(s.settings.Mode, answer, track)
	elapsed := s.clock.Since(s.roundStart)
	v := Verdict{
		Correct: correct,
		Points:  Points(correct, elapsed, s.settings.RoundDuration, s.settings.MinPoints, s.settings.MaxPoints),
		Elapsed: elapsed.Milliseconds(),
	}

	if s.role == RoleGuest {
		s.markAnsweredLocked(idx, correct, v.Elapsed)
		if err := s.tr.Send(&message.AnswerSubmitted{
			Round:     s.round,
			Answer:    answer,
			Correct:   correct,
			ElapsedMs: v.Elapsed,
		}, ""); err != nil {
			log.Warnw("send answer", "err", err)
		}
		s.emitLocked(EventAnswered)
		return v, nil
	}

	s.markAnsweredLocked(idx, correct, v.Elapsed)
	s.players[idx].Score += v.Points
	s.broadcastLocked(&message.PlayerList{Players: model.ClonePlayers(s.players)})
	s.emitLocked(EventAnswered)
	if s.allAnsweredLocked() {
		s.revealLocked(true)
	}
	return v, nil
}

// onAnswerLocked scores a guest's answer. The answering player is the one
// most recently joined over the sending connection.
func (s *Session) onAnswerLocked(from string, a *message.AnswerSubmitted) {
	ids := s.connPlayers[from]
	if len(ids) == 0 {
		log.Warnw("answer from unknown connection", "from", from)
		return
	}
	if s.phase != model.PhaseActive || a.Round != s.round {
		log.Debugw("late answer ignored", "from", from, "round", a.Round, "current", s.round, "phase", s.phase)
		return
	}
	idx := s.playerIndexLocked(ids[len(ids)-1])
	if idx < 0 || s.players[idx].Answered() {
		return
	}

	// clamp before converting so a huge report cannot wrap negative
	elapsedMs := min(a.ElapsedMs, s.settings.RoundDuration.Milliseconds())
	elapsed := time.Duration(elapsedMs) * time.Millisecond
	pts := Points(a.Correct, elapsed, s.settings.RoundDuration, s.settings.MinPoints, s.settings.MaxPoints)
	s.markAnsweredLocked(idx, a.Correct, elapsedMs)
	s.players[idx].Score += pts
	log.Debugw("answer scored", "player", s.players[idx].ID, "correct", a.Correct, "points", pts)

	s.broadcastLocked(&message.PlayerList{Players: model.ClonePlayers(s.players)})
	s.emitLocked(EventAnswered)
	if s.allAnsweredLocked() {
		s.revealLocked(true)
	}
}

// Advance moves from a revealed round to the next one. Advancing past the
// last playable round completes the match instead; advancing a completed
// match does nothing.
func (s *Session) Advance() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.authorityLocked(); err != nil {
		return err
	}
	return s.advanceLocked()
}

func (s *Session) advanceLocked() error {
	if s.complete {
		return nil
	}
	if s.phase != model.PhaseRevealed {
		return ErrWrongPhase
	}
	if s.round >= s.settings.RoundLimit(len(s.tracks)) {
		s.finishLocked()
		return nil
	}

	s.beginRoundLocked(s.round + 1)
	s.broadcastLocked(&message.NextRound{
		Round:     s.round,
		Options:   append([]model.Track(nil), s.options...),
		StartedAt: s.roundStart.UnixMilli(),
	})
	s.broadcastLocked(&message.PlayerList{Players: model.ClonePlayers(s.players)})
	s.emitLocked(EventRoundStarted)
	return nil
}

func (s *Session) finishLocked() {
	s.stopTimersLocked()
	s.phase = model.PhaseComplete
	s.complete = true
	s.deadline = time.Time{}
	log.Infow("match complete", "code", s.code, "rounds", s.round)

	s.broadcastLocked(&message.GameState{
		Round:    s.round,
		Phase:    s.phase,
		Players:  model.ClonePlayers(s.players),
		Complete: true,
	})
	s.emitLocked(EventComplete)
	s.reportLocked()
}

// reportLocked hands the finished match to OnComplete. Only the host or
// solo player reports, so a match is recorded once.
func (s *Session) reportLocked() {
	if s.onComplete == nil || s.role == RoleGuest {
		return
	}
	s.onComplete(Result{
		RoomCode:   s.code,
		Mode:       s.settings.Mode,
		RoomType:   s.settings.RoomType,
		Rounds:     s.round,
		Players:    model.ClonePlayers(s.players),
		FinishedAt: s.clock.Now(),
	})
}

// beginRoundLocked opens round on the host or solo side.
func (s *Session) beginRoundLocked(round int) {
	var opts []model.Track
	if s.settings.Mode == model.ModeABCD {
		opts = roundOptions(s.tracks, round-1, s.rng)
	}
	s.applyRoundLocked(round, opts)
}

// applyRoundLocked puts the session into the active phase of round.
func (s *Session) applyRoundLocked(round int, options []model.Track) {
	s.stopTimersLocked()
	s.round = round
	s.phase = model.PhaseActive
	s.revealed = ""
	s.options = append([]model.Track(nil), options...)
	for i := range s.players {
		answered := false
		s.players[i].HasAnswered = &answered
		s.players[i].LastAnswerCorrect = nil
		s.players[i].LastAnswerTime = nil
	}
	s.startRoundTimerLocked()
}

// revealLocked ends the active round. A host tells the guests; when
// everyone answered it says so first.
func (s *Session) revealLocked(everyone bool) {
	if s.phase != model.PhaseActive {
		return
	}
	s.stopTimersLocked()
	s.phase = model.PhaseRevealed
	s.deadline = time.Time{}
	track, _ := s.currentTrackLocked()
	s.revealed = track.ID

	if everyone {
		s.broadcastLocked(&message.AllAnswered{Round: s.round})
	}
	s.broadcastLocked(&message.ShowAnswer{Round: s.round, TrackID: track.ID})
	s.emitLocked(EventRevealed)

	if s.role != RoleGuest && s.settings.AutoAdvance > 0 {
		s.startAdvanceTimerLocked()
	}
}

func (s *Session) onStartGameLocked(b *message.StartGame) {
	s.settings = b.Settings
	s.tracks = append([]model.Track(nil), b.Tracks...)
	s.complete = false
	s.applyRoundLocked(b.Round, b.Options)
	s.emitLocked(EventRoundStarted)
}

// onNextRoundLocked applies the round even when it is the one already
// showing; ordering is enforced by sequence numbers, not round indexes.
func (s *Session) onNextRoundLocked(b *message.NextRound) {
	if b.Round > len(s.tracks) {
		log.Warnw("ignoring next-round beyond the deck", "round", b.Round, "tracks", len(s.tracks))
		return
	}
	s.complete = false
	s.applyRoundLocked(b.Round, b.Options)
	s.emitLocked(EventRoundStarted)
}

func (s *Session) onShowAnswerLocked(b *message.ShowAnswer) {
	s.stopTimersLocked()
	s.round = b.Round
	s.phase = model.PhaseRevealed
	s.revealed = b.TrackID
	s.deadline = time.Time{}
	s.emitLocked(EventRevealed)
}

func (s *Session) onGameStateLocked(b *message.GameState) {
	wasComplete := s.complete
	s.stopTimersLocked()
	s.round = b.Round
	s.phase = b.Phase
	s.players = model.ClonePlayers(b.Players)
	s.complete = b.Complete
	s.deadline = time.Time{}
	if s.complete && !wasComplete {
		s.emitLocked(EventComplete)
		s.reportLocked()
		return
	}
	s.emitLocked(EventLobby)
}

func (s *Session) startRoundTimerLocked() {
	now := s.clock.Now()
	s.roundStart = now
	s.deadline = now.Add(s.settings.RoundDuration)
	gen := s.timerGen
	s.roundTimer = s.clock.AfterFunc(s.settings.RoundDuration, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.destroyed || gen != s.timerGen {
			return
		}
		s.roundTimer = nil
		s.revealLocked(false)
	})
}

func (s *Session) startAdvanceTimerLocked() {
	gen := s.timerGen
	s.advanceTimer = s.clock.AfterFunc(s.settings.AutoAdvance, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.destroyed || gen != s.timerGen {
			return
		}
		s.advanceTimer = nil
		if err := s.advanceLocked(); err != nil {
			log.Debugw("auto advance skipped", "err", err)
		}
	})
}

// stopTimersLocked cancels both timers. Bumping the generation also
// neutralises a callback that already fired and is waiting for the lock.
func (s *Session) stopTimersLocked() {
	s.timerGen++
	if s.roundTimer != nil {
		s.roundTimer.Stop()
		s.roundTimer = nil
	}
	if s.advanceTimer != nil {
		s.advanceTimer.Stop()
		s.advanceTimer = nil
	}
}

func (s *Session) markAnsweredLocked(idx int, correct bool, elapsedMs int64) {
	answered := true
	s.players[idx].HasAnswered = &answered
	s.players[idx].LastAnswerCorrect = &correct
	s.players[idx].LastAnswerTime = &elapsedMs
}

func (s *Session) eligibleLocked(p model.Player) bool {
	return !(p.IsHost && s.settings.RoomType == model.RoomParty)
}

// allAnsweredLocked reports whether every player expected to answer has.
func (s *Session) allAnsweredLocked() bool {
	n := 0
	for _, p := range s.players {
		if !s.eligibleLocked(p) {
			continue
		}
		n++
		if !p.Answered() {
			return false
		}
	}
	return n > 0
}

func (s *Session) currentTrackLocked() (model.Track, bool) {
	if s.round < 1 || s.round > len(s.tracks) {
		return model.Track{}, false
	}
	return s.tracks[s.round-1], true
}

func (s *Session) playerIndexLocked(id string) int {
	if id == "" {
		return -1
	}
	for i, p := range s.players {
		if p.ID == id {
			return i
		}
	}
	return -1
}

// authorityLocked checks that the local player drives the match.
func (s *Session) authorityLocked() error {
	if err := s.inRoomLocked(); err != nil {
		return err
	}
	if s.role == RoleGuest {
		return ErrNotHost
	}
	return nil
}

func (s *Session) inRoomLocked() error {
	switch {
	case s.destroyed:
		return ErrClosed
	case s.role == RoleNone:
		return ErrNoRoom
	case s.hostLeft:
		return ErrHostLeft
	}
	return nil
}

// SearchTracks filters the match deck for the list-mode picker.
func (s *Session) SearchTracks(query string) []model.Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	return FilterTracks(s.tracks, query)
}
