package viewer

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/petervdpas/tunetrivia/internal/game"
	"github.com/petervdpas/tunetrivia/internal/util"
)

// EventLog keeps the last session events for late subscribers and fans new
// ones out to live subscribers.
type EventLog struct {
	mu      sync.Mutex
	entries *util.RingBuffer[game.Event]
	subs    map[chan game.Event]struct{}
}

func NewEventLog(max int) *EventLog {
	if max <= 0 {
		max = 64
	}
	return &EventLog{
		entries: util.NewRingBuffer[game.Event](max),
		subs:    make(map[chan game.Event]struct{}),
	}
}

// Push records e. It never blocks, so it can serve as the session's Emit.
func (l *EventLog) Push(e game.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries.Push(e)
	for ch := range l.subs {
		select {
		case ch <- e:
		default:
			// slow subscriber
		}
	}
}

func (l *EventLog) Snapshot() []game.Event {
	return l.entries.Snapshot()
}

// Subscribe returns a channel of new events together with the events
// recorded so far, taken atomically so none is missed or repeated.
func (l *EventLog) Subscribe() (replay []game.Event, ch chan game.Event, cancel func()) {
	ch = make(chan game.Event, 64)

	l.mu.Lock()
	replay = l.entries.Snapshot()
	l.subs[ch] = struct{}{}
	l.mu.Unlock()

	cancel = func() {
		l.mu.Lock()
		if _, ok := l.subs[ch]; ok {
			delete(l.subs, ch)
			close(ch)
		}
		l.mu.Unlock()
	}
	return replay, ch, cancel
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 16384,
	// the presentation layer may be served from file:// or a dev server
	CheckOrigin: func(r *http.Request) bool { return true },
}

const wsWriteWait = 5 * time.Second

// GET /api/events (WebSocket)
func (l *EventLog) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debugw("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	replay, ch, cancel := l.Subscribe()
	defer cancel()

	gone := watchClose(conn)

	for _, e := range replay {
		if err := writeEvent(conn, e); err != nil {
			return
		}
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case <-gone:
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			if err := writeEvent(conn, e); err != nil {
				return
			}
		}
	}
}

func writeEvent(conn *websocket.Conn, v any) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteJSON(v)
}

// watchClose drains control frames. The returned channel closes once the
// client is gone.
func watchClose(conn *websocket.Conn) <-chan struct{} {
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	return gone
}
