package transport

import (
	"sync"
	"sync/atomic"

	"github.com/petervdpas/tunetrivia/internal/message"
)

// Dispatcher decodes inbound frames, drops stale ones, and fans accepted
// messages out to the registered handlers. Transports embed one.
type Dispatcher struct {
	seq atomic.Uint64

	mu         sync.Mutex
	nextID     HandlerID
	handlers   []registered
	disconnect []func(string)
	lastSeq    map[string]uint64
}

type registered struct {
	id HandlerID
	h  Handler
}

// NextSeq returns the sequence number for the next outgoing message.
func (d *Dispatcher) NextSeq() uint64 {
	return d.seq.Add(1)
}

func (d *Dispatcher) OnMessage(h Handler) HandlerID {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	d.handlers = append(d.handlers, registered{id: d.nextID, h: h})
	return d.nextID
}

func (d *Dispatcher) OffMessage(id HandlerID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, r := range d.handlers {
		if r.id == id {
			d.handlers = append(d.handlers[:i], d.handlers[i+1:]...)
			return
		}
	}
}

func (d *Dispatcher) OnDisconnect(f func(peerID string)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.disconnect = append(d.disconnect, f)
}

// Deliver handles one raw frame received from peer from. It reports
// whether the frame was handed to the handlers.
func (d *Dispatcher) Deliver(from string, data []byte) bool {
	env, body, err := message.Decode(data)
	if err != nil {
		log.Warnw("dropping inbound message", "from", from, "err", err)
		return false
	}

	d.mu.Lock()
	if d.lastSeq == nil {
		d.lastSeq = make(map[string]uint64)
	}
	if last, ok := d.lastSeq[from]; ok && env.Seq <= last {
		d.mu.Unlock()
		log.Debugw("dropping stale message", "from", from, "type", env.Type, "seq", env.Seq, "last", last)
		return false
	}
	d.lastSeq[from] = env.Seq
	hs := make([]Handler, len(d.handlers))
	for i, r := range d.handlers {
		hs[i] = r.h
	}
	d.mu.Unlock()

	in := message.Inbound{From: from, Seq: env.Seq, Body: body}
	for _, h := range hs {
		h(in)
	}
	return true
}

// Disconnected forgets the sequence state of peer and notifies the
// disconnect callbacks.
func (d *Dispatcher) Disconnected(peer string) {
	d.mu.Lock()
	delete(d.lastSeq, peer)
	fs := append([]func(string){}, d.disconnect...)
	d.mu.Unlock()

	for _, f := range fs {
		f(peer)
	}
}

// Reset drops every handler and all sequence state.
func (d *Dispatcher) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers = nil
	d.disconnect = nil
	d.lastSeq = nil
}
