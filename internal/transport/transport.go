// Package transport moves room messages between one local peer identity
// and its open connections.
package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/petervdpas/tunetrivia/internal/message"

	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("transport")

// HandlerID identifies a registered message handler.
type HandlerID uint64

// Handler receives every accepted inbound message. Handlers for a single
// connection run in arrival order.
type Handler func(in message.Inbound)

// Transport is implemented by the in-memory hub transport and by the
// libp2p transport.
type Transport interface {
	// Initialize opens the local identity for code. A host resolves once it
	// is listening; a guest resolves once its connection to the host is
	// confirmed open.
	Initialize(ctx context.Context, code string, isHost bool) error
	// Send unicasts b to target. An empty target means the host when
	// called by a guest. Unknown or closed targets are a no-op.
	Send(b message.Body, target string) error
	// Broadcast sends b to every open connection.
	Broadcast(b message.Body) error
	OnMessage(h Handler) HandlerID
	OffMessage(id HandlerID)
	OnDisconnect(f func(peerID string))
	// Cleanup closes every connection, releases the identity and drops all
	// handlers. Calling it again is a no-op.
	Cleanup() error
	SelfID() string
	IsHost() bool
	ConnectionCount() int
}

var (
	ErrNotInitialized = errors.New("transport not initialized")
	ErrIdentityTaken  = errors.New("peer identity already in use")
)

// ConnectionError reports a failure to establish or keep a peer connection.
type ConnectionError struct {
	Peer string
	Err  error
}

func (e *ConnectionError) Error() string {
	if e.Peer == "" {
		return fmt.Sprintf("connection failed: %v", e.Err)
	}
	return fmt.Sprintf("connection to %s failed: %v", e.Peer, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// RoomNotFoundError reports that no host answers for the room code.
type RoomNotFoundError struct {
	Code string
}

func (e *RoomNotFoundError) Error() string {
	return fmt.Sprintf("room %s not found", e.Code)
}
