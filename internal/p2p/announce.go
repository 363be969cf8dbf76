package p2p

import (
	"context"
	"sync"
	"time"

	"github.com/petervdpas/tunetrivia/internal/proto"
)

// RoomSource reports the room this peer currently hosts. ok is false when
// it hosts none.
type RoomSource func() (ann proto.RoomAnnouncement, ok bool)

// Announcer publishes the hosted room on every heartbeat and on Kick, and
// an offline message once the room goes away.
type Announcer struct {
	node      *Node
	source    RoomSource
	heartbeat time.Duration
	kick      chan struct{}

	mu       sync.Mutex
	lastCode string
}

func NewAnnouncer(n *Node, heartbeat time.Duration, source RoomSource) *Announcer {
	if heartbeat <= 0 {
		heartbeat = 5 * time.Second
	}
	return &Announcer{
		node:      n,
		source:    source,
		heartbeat: heartbeat,
		kick:      make(chan struct{}, 1),
	}
}

// Kick requests an announcement ahead of the next heartbeat.
func (a *Announcer) Kick() {
	select {
	case a.kick <- struct{}{}:
	default:
	}
}

// Run publishes until ctx is done.
func (a *Announcer) Run(ctx context.Context) {
	t := time.NewTicker(a.heartbeat)
	defer t.Stop()
	for {
		a.publish(ctx)
		select {
		case <-ctx.Done():
			a.retire(context.Background())
			return
		case <-t.C:
		case <-a.kick:
		}
	}
}

func (a *Announcer) publish(ctx context.Context) {
	ann, ok := a.source()

	a.mu.Lock()
	last := a.lastCode
	if ok {
		a.lastCode = ann.Code
	} else {
		a.lastCode = ""
	}
	a.mu.Unlock()

	if last != "" && last != ann.Code {
		a.offline(ctx, last)
	}
	if !ok {
		return
	}
	ann.Type = proto.TypeUpdate
	if last != ann.Code {
		ann.Type = proto.TypeOnline
	}
	if err := a.node.Publish(ctx, ann); err != nil {
		log.Debugw("announce failed", "code", ann.Code, "err", err)
	}
}

// retire withdraws the last announced room.
func (a *Announcer) retire(ctx context.Context) {
	a.mu.Lock()
	last := a.lastCode
	a.lastCode = ""
	a.mu.Unlock()
	if last != "" {
		a.offline(ctx, last)
	}
}

func (a *Announcer) offline(ctx context.Context, code string) {
	pid, err := HostPeerID(code)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := a.node.Publish(ctx, proto.RoomAnnouncement{Type: proto.TypeOffline, Code: code, PeerID: pid.String()}); err != nil {
		log.Debugw("offline announce failed", "code", code, "err", err)
	}
}
