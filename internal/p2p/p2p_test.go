package p2p

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petervdpas/tunetrivia/internal/message"
	"github.com/petervdpas/tunetrivia/internal/proto"
	"github.com/petervdpas/tunetrivia/internal/state"
	"github.com/petervdpas/tunetrivia/internal/transport"
)

func TestHostKeyIsDeterministic(t *testing.T) {
	a, err := HostPeerID("AB3K9")
	require.NoError(t, err)
	b, err := HostPeerID("AB3K9")
	require.NoError(t, err)
	c, err := HostPeerID("AB3K8")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)

	sk, err := HostKey("AB3K9")
	require.NoError(t, err)
	assert.True(t, a.MatchesPrivateKey(sk))
}

func TestGuestKeysDiffer(t *testing.T) {
	a, err := guestKey()
	require.NoError(t, err)
	b, err := guestKey()
	require.NoError(t, err)
	assert.False(t, a.Equals(b))
}

func TestLoadOrCreateKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "identity.key")

	first, created, err := loadOrCreateKey(path)
	require.NoError(t, err)
	assert.True(t, created)

	again, created, err := loadOrCreateKey(path)
	require.NoError(t, err)
	assert.False(t, created)
	assert.True(t, first.Equals(again))
}

func TestApplyAnnouncements(t *testing.T) {
	rooms := state.NewRoomTable()
	n := &Node{rooms: rooms}

	pid, err := HostPeerID("AB3K9")
	require.NoError(t, err)

	ok := n.apply("node-a", proto.RoomAnnouncement{
		Type:     proto.TypeOnline,
		Code:     "AB3K9",
		PeerID:   pid.String(),
		HostName: "Ana",
		Players:  2,
		Addrs:    []string{"/ip4/192.168.1.20/tcp/4001"},
	})
	require.True(t, ok)

	r, found := rooms.Get("AB3K9")
	require.True(t, found)
	assert.Equal(t, "Ana", r.HostName)
	assert.Equal(t, 2, r.Players)
	assert.Equal(t, []string{"/ip4/192.168.1.20/tcp/4001"}, n.HostAddrs("AB3K9"))

	require.True(t, n.apply("node-a", proto.RoomAnnouncement{Type: proto.TypeOffline, Code: "AB3K9", PeerID: pid.String()}))
	_, found = rooms.Get("AB3K9")
	assert.False(t, found)
	assert.Nil(t, n.HostAddrs("AB3K9"))
}

func TestApplyRejectsForeignPeer(t *testing.T) {
	rooms := state.NewRoomTable()
	n := &Node{rooms: rooms}

	other, err := HostPeerID("ZZZZZ")
	require.NoError(t, err)

	assert.False(t, n.apply("node-a", proto.RoomAnnouncement{Type: proto.TypeOnline, Code: "AB3K9", PeerID: other.String()}))
	assert.False(t, n.apply("node-a", proto.RoomAnnouncement{Type: proto.TypeOnline, PeerID: other.String()}))
	assert.Empty(t, rooms.List())
}

func TestRoomBelongsToFirstAnnouncer(t *testing.T) {
	rooms := state.NewRoomTable()
	n := &Node{rooms: rooms}

	pid, err := HostPeerID("AB3K9")
	require.NoError(t, err)
	online := proto.RoomAnnouncement{Type: proto.TypeOnline, Code: "AB3K9", PeerID: pid.String(), HostName: "Ana"}

	require.True(t, n.apply("node-a", online))

	hijack := online
	hijack.Type = proto.TypeUpdate
	hijack.HostName = "Mallory"
	hijack.Addrs = []string{"/ip4/10.0.0.66/tcp/4001"}
	assert.False(t, n.apply("node-b", hijack))
	assert.False(t, n.apply("node-b", proto.RoomAnnouncement{Type: proto.TypeOffline, Code: "AB3K9", PeerID: pid.String()}))
	assert.False(t, n.apply("", online))

	r, ok := rooms.Get("AB3K9")
	require.True(t, ok)
	assert.Equal(t, "Ana", r.HostName)
	assert.Equal(t, "node-a", r.Announcer)
	assert.Empty(t, r.Addrs)

	require.True(t, n.apply("node-a", proto.RoomAnnouncement{Type: proto.TypeOffline, Code: "AB3K9", PeerID: pid.String()}))
	require.True(t, n.apply("node-b", online), "a dropped code can be claimed again")
	r, _ = rooms.Get("AB3K9")
	assert.Equal(t, "node-b", r.Announcer)
}

func TestEncodeFrameCarriesEnvelope(t *testing.T) {
	data, err := encodeFrame(7, &message.Join{Name: "Ana"})
	require.NoError(t, err)
	require.Equal(t, byte('\n'), data[len(data)-1])

	var f frame
	require.NoError(t, json.Unmarshal(data, &f))
	assert.Equal(t, frameMsg, f.Type)

	env, body, err := message.Decode(f.Msg)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), env.Seq)
	assert.Equal(t, "Ana", body.(*message.Join).Name)
}

func TestParseAddrs(t *testing.T) {
	got := parseAddrs([]string{
		"/ip4/10.0.0.5/tcp/4001",
		"not an addr",
		"/ip6/fe80::1/tcp/4001",
		"/ip4/127.0.0.1/tcp/4001",
	})
	require.Len(t, got, 2)
	assert.Equal(t, "/ip4/10.0.0.5/tcp/4001", got[0].String())
	assert.Equal(t, "/ip4/127.0.0.1/tcp/4001", got[1].String())
}

func TestTransportOverLoopback(t *testing.T) {
	if testing.Short() {
		t.Skip("opens real sockets")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	host := NewTransport(TransportConfig{})
	defer host.Cleanup()
	joined := make(chan message.Inbound, 1)
	host.OnMessage(func(in message.Inbound) { joined <- in })
	require.NoError(t, host.Initialize(ctx, "AB3K9", true))
	require.NotEmpty(t, host.Addrs())

	guest := NewTransport(TransportConfig{
		ConnectTimeout: 5 * time.Second,
		Resolver:       ResolverFunc(func(string) []string { return host.Addrs() }),
	})
	defer guest.Cleanup()
	left := make(chan string, 1)
	host.OnDisconnect(func(id string) { left <- id })

	require.NoError(t, guest.Initialize(ctx, "AB3K9", false))
	assert.Equal(t, 1, guest.ConnectionCount())
	guestID := guest.SelfID()
	require.NoError(t, guest.Send(&message.Join{Name: "Ben"}, ""))

	select {
	case in := <-joined:
		assert.Equal(t, guestID, in.From)
		assert.Equal(t, "Ben", in.Body.(*message.Join).Name)
	case <-ctx.Done():
		t.Fatal("host never received join")
	}

	require.NoError(t, guest.Cleanup())
	select {
	case id := <-left:
		assert.Equal(t, guestID, id)
	case <-ctx.Done():
		t.Fatal("host never saw the guest leave")
	}
}

func TestGuestWithoutHostAddrs(t *testing.T) {
	if testing.Short() {
		t.Skip("opens real sockets")
	}
	guest := NewTransport(TransportConfig{ConnectTimeout: 300 * time.Millisecond})
	defer guest.Cleanup()

	err := guest.Initialize(context.Background(), "AB3K9", false)
	var notFound *transport.RoomNotFoundError
	require.True(t, errors.As(err, &notFound))
	assert.Equal(t, "AB3K9", notFound.Code)
	assert.Equal(t, 0, guest.ConnectionCount())
}

func TestHostRefusesAnnouncedCode(t *testing.T) {
	tr := NewTransport(TransportConfig{
		Resolver: ResolverFunc(func(string) []string { return []string{"/ip4/10.0.0.5/tcp/4001"} }),
	})
	err := tr.Initialize(context.Background(), "AB3K9", true)
	var connErr *transport.ConnectionError
	require.True(t, errors.As(err, &connErr))
	assert.ErrorIs(t, err, transport.ErrIdentityTaken)
}
