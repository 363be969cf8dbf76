package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/petervdpas/tunetrivia/internal/message"
	"github.com/petervdpas/tunetrivia/internal/roomcode"
)

// inboxSize bounds the per-connection buffer; frames beyond it are dropped.
const inboxSize = 256

// Hub connects in-process transports by identity. It stands in for the
// peer network in tests and in the single-machine local mode.
type Hub struct {
	mu    sync.Mutex
	peers map[string]*MemTransport
}

func NewHub() *Hub {
	return &Hub{peers: make(map[string]*MemTransport)}
}

// NewTransport returns an uninitialized transport attached to h.
func (h *Hub) NewTransport() *MemTransport {
	return &MemTransport{hub: h, conns: make(map[string]*memConn)}
}

func (h *Hub) register(id string, t *MemTransport) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.peers[id]; ok {
		return ErrIdentityTaken
	}
	h.peers[id] = t
	return nil
}

func (h *Hub) unregister(id string, t *MemTransport) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.peers[id] == t {
		delete(h.peers, id)
	}
}

func (h *Hub) lookup(id string) *MemTransport {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.peers[id]
}

// MemTransport is a Transport whose connections are channel pairs.
type MemTransport struct {
	Dispatcher

	hub *Hub

	mu     sync.Mutex
	selfID string
	hostID string
	isHost bool
	open   bool
	conns  map[string]*memConn
}

type memConn struct {
	owner    *MemTransport
	remoteID string
	remote   *memConn
	inbox    chan []byte

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

func (t *MemTransport) Initialize(ctx context.Context, code string, isHost bool) error {
	t.release()

	selfID := roomcode.HostIdentity(code)
	if !isHost {
		selfID = roomcode.GuestIdentity(code)
	}
	if err := t.hub.register(selfID, t); err != nil {
		return &ConnectionError{Peer: selfID, Err: err}
	}

	t.mu.Lock()
	t.selfID = selfID
	t.isHost = isHost
	t.hostID = roomcode.HostIdentity(code)
	t.open = true
	t.mu.Unlock()

	if isHost {
		log.Infow("listening", "id", selfID)
		return nil
	}

	if err := ctx.Err(); err != nil {
		t.release()
		return &ConnectionError{Peer: t.hostID, Err: err}
	}
	host := t.hub.lookup(t.hostID)
	if host == nil || !host.accepting() {
		t.release()
		return &RoomNotFoundError{Code: code}
	}

	local, remote := newMemPair(t, selfID, host, t.hostID)
	if !host.attach(remote) {
		t.release()
		return &RoomNotFoundError{Code: code}
	}
	t.attach(local)
	log.Infow("connected to host", "id", selfID, "host", t.hostID)
	return nil
}

func newMemPair(a *MemTransport, aID string, b *MemTransport, bID string) (*memConn, *memConn) {
	ac := &memConn{owner: a, remoteID: bID, inbox: make(chan []byte, inboxSize), done: make(chan struct{})}
	bc := &memConn{owner: b, remoteID: aID, inbox: make(chan []byte, inboxSize), done: make(chan struct{})}
	ac.remote, bc.remote = bc, ac
	return ac, bc
}

func (t *MemTransport) accepting() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.open && t.isHost
}

func (t *MemTransport) attach(c *memConn) bool {
	t.mu.Lock()
	if !t.open {
		t.mu.Unlock()
		return false
	}
	t.conns[c.remoteID] = c
	t.mu.Unlock()
	go c.readLoop()
	return true
}

func (c *memConn) readLoop() {
	defer c.owner.detach(c)
	for {
		select {
		case data := <-c.inbox:
			c.owner.Deliver(c.remoteID, data)
		case <-c.done:
			return
		}
	}
}

// push queues data on the remote end's inbox.
func (c *memConn) push(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.remote.inbox <- data:
		return true
	default:
		log.Warnw("inbox full, dropping frame", "to", c.remoteID)
		return false
	}
}

// close shuts both ends of the pair.
func (c *memConn) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.done)
	c.mu.Unlock()
	c.remote.close()
}

func (t *MemTransport) detach(c *memConn) {
	t.mu.Lock()
	if t.conns[c.remoteID] == c {
		delete(t.conns, c.remoteID)
	}
	t.mu.Unlock()
	t.Disconnected(c.remoteID)
}

func (t *MemTransport) Send(b message.Body, target string) error {
	t.mu.Lock()
	if !t.open {
		t.mu.Unlock()
		return nil
	}
	if target == "" && !t.isHost {
		target = t.hostID
	}
	c := t.conns[target]
	t.mu.Unlock()
	if c == nil {
		log.Debugw("send to unknown peer ignored", "to", target, "type", b.Type())
		return nil
	}

	data, err := message.Encode(t.NextSeq(), b)
	if err != nil {
		return fmt.Errorf("encode %s: %w", b.Type(), err)
	}
	c.push(data)
	return nil
}

func (t *MemTransport) Broadcast(b message.Body) error {
	t.mu.Lock()
	if !t.open {
		t.mu.Unlock()
		return nil
	}
	conns := make([]*memConn, 0, len(t.conns))
	for _, c := range t.conns {
		conns = append(conns, c)
	}
	t.mu.Unlock()

	data, err := message.Encode(t.NextSeq(), b)
	if err != nil {
		return fmt.Errorf("encode %s: %w", b.Type(), err)
	}
	for _, c := range conns {
		c.push(data)
	}
	return nil
}

func (t *MemTransport) closeConns() {
	t.mu.Lock()
	conns := make([]*memConn, 0, len(t.conns))
	for _, c := range t.conns {
		conns = append(conns, c)
	}
	t.conns = make(map[string]*memConn)
	t.mu.Unlock()
	for _, c := range conns {
		c.close()
	}
}

// release closes the connections and gives the identity back to the hub.
func (t *MemTransport) release() {
	t.closeConns()
	t.mu.Lock()
	id := t.selfID
	t.open = false
	t.mu.Unlock()
	if id != "" {
		t.hub.unregister(id, t)
	}
}

func (t *MemTransport) Cleanup() error {
	t.release()
	t.Reset()
	return nil
}

func (t *MemTransport) SelfID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.selfID
}

func (t *MemTransport) IsHost() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.isHost
}

func (t *MemTransport) ConnectionCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.conns)
}

var _ Transport = (*MemTransport)(nil)
