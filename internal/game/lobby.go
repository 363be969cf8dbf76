package game

import (
	"github.com/google/uuid"

	"github.com/petervdpas/tunetrivia/internal/message"
	"github.com/petervdpas/tunetrivia/internal/model"
	"github.com/petervdpas/tunetrivia/internal/util"
)

// onJoinLocked adds a player for the joining connection. A second join on
// the same connection adds a second player.
func (s *Session) onJoinLocked(from string, j *message.Join) {
	name, err := util.ValidateDisplayName(j.Name)
	if err != nil {
		log.Warnw("rejecting join", "from", from, "err", err)
		return
	}

	p := model.Player{ID: uuid.NewString(), Name: name}
	s.players = append(s.players, p)
	s.connPlayers[from] = append(s.connPlayers[from], p.ID)
	log.Infow("player joined", "code", s.code, "player", p.ID, "name", name, "conn", from)

	if err := s.tr.Send(&message.SyncState{You: p.ID, Snapshot: s.snapshotLocked()}, from); err != nil {
		log.Warnw("send sync-state", "to", from, "err", err)
	}
	s.broadcastLocked(&message.PlayerList{Players: model.ClonePlayers(s.players)})
	s.emitLocked(EventLobby)
}

// onPlayerListLocked replaces the roster wholesale.
func (s *Session) onPlayerListLocked(pl *message.PlayerList) {
	s.players = model.ClonePlayers(pl.Players)
	s.emitLocked(EventLobby)
}

// onSyncStateLocked force-replaces the guest's view with the host's.
func (s *Session) onSyncStateLocked(st *message.SyncState) {
	snap := st.Snapshot
	s.selfID = st.You
	s.settings = snap.Settings
	s.players = model.ClonePlayers(snap.Players)
	s.tracks = append([]model.Track(nil), snap.Tracks...)
	s.options = append([]model.Track(nil), snap.Options...)
	s.round = snap.Round
	s.phase = snap.Phase
	s.revealed = snap.RevealedTrackID
	s.complete = snap.Complete

	s.stopTimersLocked()
	if s.phase == model.PhaseActive {
		// The host's start time is on another clock; a late joiner gets a
		// full round from now.
		s.startRoundTimerLocked()
	}
	s.emitLocked(EventLobby)
}

func (s *Session) disconnectedLocked(peerID string) {
	switch s.role {
	case RoleGuest:
		s.hostLeftLocked()
	case RoleHost:
		s.dropConnLocked(peerID)
	}
}

// hostLeftLocked makes a guest session terminal. There is no host
// migration: the host identity is the only address guests know.
func (s *Session) hostLeftLocked() {
	if s.hostLeft {
		return
	}
	s.hostLeft = true
	s.stopTimersLocked()
	log.Warnw("host left the room", "code", s.code)
	s.emitLocked(EventHostLeft)
}

func (s *Session) dropConnLocked(conn string) {
	ids, ok := s.connPlayers[conn]
	if !ok {
		return
	}
	delete(s.connPlayers, conn)

	gone := make(map[string]bool, len(ids))
	for _, id := range ids {
		gone[id] = true
	}
	kept := s.players[:0]
	for _, p := range s.players {
		if !gone[p.ID] {
			kept = append(kept, p)
		}
	}
	s.players = kept
	log.Infow("players left", "code", s.code, "conn", conn, "count", len(ids))

	s.broadcastLocked(&message.PlayerList{Players: model.ClonePlayers(s.players)})
	s.emitLocked(EventLobby)

	if s.phase == model.PhaseActive && s.allAnsweredLocked() {
		s.revealLocked(true)
	}
}

// Players returns a copy of the roster.
func (s *Session) Players() []model.Player {
	s.mu.Lock()
	defer s.mu.Unlock()
	return model.ClonePlayers(s.players)
}
