package p2p

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/petervdpas/tunetrivia/internal/message"
	"github.com/petervdpas/tunetrivia/internal/proto"
	"github.com/petervdpas/tunetrivia/internal/transport"
	"github.com/petervdpas/tunetrivia/internal/util"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
)

// Stream frame types. Room messages travel inside "msg" frames; the rest
// is the connection handshake.
const (
	frameHello   = "hello"
	frameWelcome = "welcome"
	frameMsg     = "msg"
	frameError   = "error"
	frameClose   = "close"
)

const (
	errCodeNotFound = "not_found"
	errCodeBadHello = "bad_first_msg"
)

// writeQueue bounds the frames waiting on a slow stream.
const writeQueue = 64

type frame struct {
	Type  string          `json:"type"`
	Room  string          `json:"room,omitempty"`
	Msg   json.RawMessage `json:"msg,omitempty"`
	Error *frameErr       `json:"error,omitempty"`
}

type frameErr struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Resolver supplies host addresses learned outside the room host itself,
// typically from gossiped announcements.
type Resolver interface {
	HostAddrs(code string) []string
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(code string) []string

func (f ResolverFunc) HostAddrs(code string) []string { return f(code) }

// TransportConfig configures a Transport.
type TransportConfig struct {
	// ListenPort for room hosts; 0 picks a free port.
	ListenPort int
	// MdnsTag enables LAN discovery of the room host; empty disables it.
	MdnsTag        string
	ConnectTimeout time.Duration
	Resolver       Resolver
	// AddrTTL is how long resolved addresses stay in the peerstore.
	AddrTTL time.Duration
}

// Transport implements transport.Transport over libp2p streams. Each
// Initialize starts a fresh libp2p host: a room host listens under the key
// derived from the room code; a guest uses a throwaway key and opens one
// stream to the host.
type Transport struct {
	transport.Dispatcher

	cfg TransportConfig

	mu      sync.Mutex
	h       host.Host
	md      mdns.Service
	code    string
	isHost  bool
	hostPID peer.ID
	open    bool
	conns   map[string]*streamConn
}

type streamConn struct {
	owner  *Transport
	peerID string
	stream network.Stream
	out    chan []byte

	closeOnce sync.Once
	done      chan struct{}
}

func NewTransport(cfg TransportConfig) *Transport {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = util.DefaultConnectTimeout
	}
	if cfg.AddrTTL <= 0 {
		cfg.AddrTTL = 20 * time.Second
	}
	return &Transport{cfg: cfg, conns: make(map[string]*streamConn)}
}

func (t *Transport) Initialize(ctx context.Context, code string, isHost bool) error {
	t.release()

	hostPID, err := HostPeerID(code)
	if err != nil {
		return &transport.ConnectionError{Err: err}
	}

	var (
		priv crypto.PrivKey
		port int
	)
	if isHost {
		if len(t.resolve(code)) > 0 {
			return &transport.ConnectionError{Peer: hostPID.String(), Err: transport.ErrIdentityTaken}
		}
		priv, err = HostKey(code)
		port = t.cfg.ListenPort
	} else {
		priv, err = guestKey()
	}
	if err != nil {
		return &transport.ConnectionError{Err: err}
	}

	h, err := newHost(priv, port)
	if err != nil {
		return &transport.ConnectionError{Peer: hostPID.String(), Err: err}
	}
	var md mdns.Service
	if t.cfg.MdnsTag != "" {
		if md, err = startMdns(h, t.cfg.MdnsTag); err != nil {
			_ = h.Close()
			return &transport.ConnectionError{Err: fmt.Errorf("start mdns: %w", err)}
		}
	}

	t.mu.Lock()
	t.h = h
	t.md = md
	t.code = code
	t.isHost = isHost
	t.hostPID = hostPID
	t.open = true
	t.mu.Unlock()

	if isHost {
		h.SetStreamHandler(protocol.ID(proto.RoomProtoID), t.handleStream)
		log.Infow("hosting room", "code", code, "id", h.ID(), "addrs", h.Addrs())
		return nil
	}

	if err := t.dialHost(ctx, h, code, hostPID); err != nil {
		t.release()
		return err
	}
	return nil
}

func (t *Transport) resolve(code string) []string {
	if t.cfg.Resolver == nil {
		return nil
	}
	return t.cfg.Resolver.HostAddrs(code)
}

// waitForHost polls the peerstore until the host has known addresses,
// feeding it announced addresses on every tick. mDNS fills it in
// directly on a LAN.
func (t *Transport) waitForHost(ctx context.Context, h host.Host, code string, pid peer.ID) bool {
	tick := time.NewTicker(250 * time.Millisecond)
	defer tick.Stop()
	for {
		if addrs := parseAddrs(t.resolve(code)); len(addrs) > 0 {
			h.Peerstore().AddAddrs(pid, addrs, t.cfg.AddrTTL)
		}
		if h.Network().Connectedness(pid) == network.Connected || len(h.Peerstore().Addrs(pid)) > 0 {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-tick.C:
		}
	}
}

func (t *Transport) dialHost(ctx context.Context, h host.Host, code string, pid peer.ID) error {
	ctx, cancel := context.WithTimeout(ctx, t.cfg.ConnectTimeout)
	defer cancel()

	if !t.waitForHost(ctx, h, code, pid) {
		if errors.Is(ctx.Err(), context.Canceled) {
			return &transport.ConnectionError{Peer: pid.String(), Err: ctx.Err()}
		}
		return &transport.RoomNotFoundError{Code: code}
	}

	s, err := h.NewStream(ctx, pid, protocol.ID(proto.RoomProtoID))
	if err != nil {
		return &transport.ConnectionError{Peer: pid.String(), Err: err}
	}

	enc := json.NewEncoder(s)
	dec := json.NewDecoder(bufio.NewReader(s))

	if err := enc.Encode(frame{Type: frameHello, Room: code}); err != nil {
		s.Reset()
		return &transport.ConnectionError{Peer: pid.String(), Err: fmt.Errorf("send hello: %w", err)}
	}

	_ = s.SetReadDeadline(time.Now().Add(t.cfg.ConnectTimeout))
	var reply frame
	if err := dec.Decode(&reply); err != nil {
		s.Reset()
		return &transport.ConnectionError{Peer: pid.String(), Err: fmt.Errorf("read welcome: %w", err)}
	}
	_ = s.SetReadDeadline(time.Time{})

	switch reply.Type {
	case frameWelcome:
	case frameError:
		s.Reset()
		if reply.Error != nil && reply.Error.Code == errCodeNotFound {
			return &transport.RoomNotFoundError{Code: code}
		}
		return &transport.ConnectionError{Peer: pid.String(), Err: fmt.Errorf("join rejected: %+v", reply.Error)}
	default:
		s.Reset()
		return &transport.ConnectionError{Peer: pid.String(), Err: fmt.Errorf("unexpected reply %q", reply.Type)}
	}

	c := t.newConn(pid.String(), s)
	if !t.attach(c) {
		s.Reset()
		return &transport.ConnectionError{Peer: pid.String(), Err: transport.ErrNotInitialized}
	}
	go c.writeLoop()
	go c.readLoop(dec)

	log.Infow("connected to host", "code", code, "host", pid)
	return nil
}

// handleStream serves one guest. The first frame must be a hello for the
// room this host serves.
func (t *Transport) handleStream(s network.Stream) {
	remote := s.Conn().RemotePeer().String()
	dec := json.NewDecoder(bufio.NewReader(s))
	enc := json.NewEncoder(s)

	_ = s.SetReadDeadline(time.Now().Add(util.ShortTimeout))
	var hello frame
	if err := dec.Decode(&hello); err != nil {
		log.Debugw("bad hello", "peer", remote, "err", err)
		s.Reset()
		return
	}
	_ = s.SetReadDeadline(time.Time{})

	if hello.Type != frameHello {
		_ = enc.Encode(frame{Type: frameError, Error: &frameErr{Code: errCodeBadHello, Message: "first frame must be hello"}})
		s.Reset()
		return
	}

	t.mu.Lock()
	code, open := t.code, t.open
	t.mu.Unlock()
	if !open || hello.Room != code {
		_ = enc.Encode(frame{Type: frameError, Room: hello.Room, Error: &frameErr{Code: errCodeNotFound, Message: "room not found"}})
		s.Reset()
		return
	}

	if err := enc.Encode(frame{Type: frameWelcome, Room: code}); err != nil {
		s.Reset()
		return
	}

	c := t.newConn(remote, s)
	if !t.attach(c) {
		s.Reset()
		return
	}
	log.Infow("guest connected", "code", code, "peer", remote)

	go c.writeLoop()
	c.readLoop(dec)
}

func (t *Transport) newConn(peerID string, s network.Stream) *streamConn {
	return &streamConn{
		owner:  t,
		peerID: peerID,
		stream: s,
		out:    make(chan []byte, writeQueue),
		done:   make(chan struct{}),
	}
}

func (t *Transport) attach(c *streamConn) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.open {
		return false
	}
	if old := t.conns[c.peerID]; old != nil {
		go old.close()
	}
	t.conns[c.peerID] = c
	return true
}

func (t *Transport) detach(c *streamConn) {
	t.mu.Lock()
	owned := t.conns[c.peerID] == c
	if owned {
		delete(t.conns, c.peerID)
	}
	t.mu.Unlock()
	if owned {
		t.Disconnected(c.peerID)
	}
}

func (c *streamConn) readLoop(dec *json.Decoder) {
	defer func() {
		c.close()
		c.owner.detach(c)
	}()
	for {
		var f frame
		if err := dec.Decode(&f); err != nil {
			log.Debugw("stream closed", "peer", c.peerID, "err", err)
			return
		}
		switch f.Type {
		case frameMsg:
			c.owner.Deliver(c.peerID, f.Msg)
		case frameClose:
			return
		}
	}
}

func (c *streamConn) writeLoop() {
	for {
		select {
		case data := <-c.out:
			if _, err := c.stream.Write(data); err != nil {
				log.Debugw("write failed", "peer", c.peerID, "err", err)
				c.close()
				return
			}
		case <-c.done:
			return
		}
	}
}

// enqueue hands data to the writer, dropping it when the queue is full.
func (c *streamConn) enqueue(data []byte) {
	select {
	case <-c.done:
	case c.out <- data:
	default:
		log.Warnw("write queue full, dropping frame", "peer", c.peerID)
	}
}

func (c *streamConn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.stream.Close()
	})
}

func encodeFrame(seq uint64, b message.Body) ([]byte, error) {
	env, err := message.Wrap(seq, b)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(frame{Type: frameMsg, Msg: raw})
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

func (t *Transport) Send(b message.Body, target string) error {
	t.mu.Lock()
	if !t.open {
		t.mu.Unlock()
		return nil
	}
	if target == "" && !t.isHost {
		target = t.hostPID.String()
	}
	c := t.conns[target]
	t.mu.Unlock()
	if c == nil {
		log.Debugw("send to unknown peer ignored", "to", target, "type", b.Type())
		return nil
	}

	data, err := encodeFrame(t.NextSeq(), b)
	if err != nil {
		return fmt.Errorf("encode %s: %w", b.Type(), err)
	}
	c.enqueue(data)
	return nil
}

func (t *Transport) Broadcast(b message.Body) error {
	t.mu.Lock()
	if !t.open {
		t.mu.Unlock()
		return nil
	}
	conns := make([]*streamConn, 0, len(t.conns))
	for _, c := range t.conns {
		conns = append(conns, c)
	}
	t.mu.Unlock()

	data, err := encodeFrame(t.NextSeq(), b)
	if err != nil {
		return fmt.Errorf("encode %s: %w", b.Type(), err)
	}
	for _, c := range conns {
		c.enqueue(data)
	}
	return nil
}

// release closes every stream and shuts the libp2p host down, which frees
// the room's host identity.
func (t *Transport) release() {
	t.mu.Lock()
	conns := make([]*streamConn, 0, len(t.conns))
	for _, c := range t.conns {
		conns = append(conns, c)
	}
	t.conns = make(map[string]*streamConn)
	h, md := t.h, t.md
	t.h, t.md = nil, nil
	t.open = false
	t.mu.Unlock()

	closeFrame, _ := json.Marshal(frame{Type: frameClose})
	closeFrame = append(closeFrame, '\n')
	for _, c := range conns {
		_ = c.stream.SetWriteDeadline(time.Now().Add(util.ShortTimeout))
		_, _ = c.stream.Write(closeFrame)
		c.close()
	}
	if md != nil {
		_ = md.Close()
	}
	if h != nil {
		h.RemoveStreamHandler(protocol.ID(proto.RoomProtoID))
		_ = h.Close()
	}
}

func (t *Transport) Cleanup() error {
	t.release()
	t.Reset()
	return nil
}

// SelfID is the local libp2p peer ID, empty before Initialize.
func (t *Transport) SelfID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.h == nil {
		return ""
	}
	return t.h.ID().String()
}

func (t *Transport) IsHost() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.isHost
}

func (t *Transport) ConnectionCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.conns)
}

// Addrs returns the addresses a room host announces, nil when not hosting.
func (t *Transport) Addrs() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.h == nil || !t.isHost {
		return nil
	}
	return wanAddrs(t.h)
}

// Code is the room the transport was initialised for.
func (t *Transport) Code() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.code
}

var _ transport.Transport = (*Transport)(nil)
