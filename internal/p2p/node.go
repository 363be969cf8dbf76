// Package p2p carries rooms over libp2p: a long-lived discovery node that
// gossips room announcements, and a per-room stream transport.
package p2p

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/petervdpas/tunetrivia/internal/proto"
	"github.com/petervdpas/tunetrivia/internal/state"
	"github.com/petervdpas/tunetrivia/internal/util"

	logging "github.com/ipfs/go-log/v2"
	libp2p "github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	ma "github.com/multiformats/go-multiaddr"
	manet "github.com/multiformats/go-multiaddr/net"
)

var log = logging.Logger("p2p")

func init() {
	// dial failures and backoff errors are noisy at the default level
	logging.SetLogLevel("swarm2", "error")
	logging.SetLogLevel("mdns", "warn")
	logging.SetLogLevel("pubsub", "warn")
}

// NodeConfig configures the discovery node.
type NodeConfig struct {
	ListenPort     int
	KeyFile        string
	MdnsTag        string
	Topic          string
	BootstrapAddrs []string
	// TTL of announced host addresses in the peerstore.
	PresenceTTL time.Duration
}

// Node is the discovery peer. It stays up for the life of the process,
// independent of any room.
type Node struct {
	Host  host.Host
	ps    *pubsub.PubSub
	topic *pubsub.Topic
	sub   *pubsub.Subscription
	mdns  mdns.Service

	rooms       *state.RoomTable
	presenceTTL time.Duration

	closeOnce sync.Once
}

type mdnsNotifee struct {
	h host.Host
}

func (n *mdnsNotifee) HandlePeerFound(pi peer.AddrInfo) {
	if pi.ID == n.h.ID() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), util.DefaultConnectTimeout)
	defer cancel()
	_ = n.h.Connect(ctx, pi)
}

func newHost(priv crypto.PrivKey, port int) (host.Host, error) {
	return libp2p.New(
		libp2p.Identity(priv),
		libp2p.ListenAddrStrings(
			fmt.Sprintf("/ip4/0.0.0.0/tcp/%d", port),
			fmt.Sprintf("/ip6/::/tcp/%d", port),
		),
	)
}

func startMdns(h host.Host, tag string) (mdns.Service, error) {
	md := mdns.NewMdnsService(h, tag, &mdnsNotifee{h: h})
	if err := md.Start(); err != nil {
		return nil, err
	}
	return md, nil
}

// NewNode starts the discovery node and joins the announcement topic.
// Received announcements are applied to rooms.
func NewNode(ctx context.Context, cfg NodeConfig, rooms *state.RoomTable) (*Node, error) {
	priv, isNew, err := loadOrCreateKey(cfg.KeyFile)
	if err != nil {
		return nil, err
	}
	if isNew {
		log.Infow("generated identity key", "path", cfg.KeyFile)
	}

	h, err := newHost(priv, cfg.ListenPort)
	if err != nil {
		return nil, err
	}

	md, err := startMdns(h, cfg.MdnsTag)
	if err != nil {
		_ = h.Close()
		return nil, err
	}

	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		_ = md.Close()
		_ = h.Close()
		return nil, err
	}

	topic, err := ps.Join(cfg.Topic)
	if err != nil {
		_ = md.Close()
		_ = h.Close()
		return nil, err
	}

	sub, err := topic.Subscribe()
	if err != nil {
		_ = md.Close()
		_ = h.Close()
		return nil, err
	}

	n := &Node{
		Host:        h,
		ps:          ps,
		topic:       topic,
		sub:         sub,
		mdns:        md,
		rooms:       rooms,
		presenceTTL: cfg.PresenceTTL,
	}
	n.bootstrap(ctx, cfg.BootstrapAddrs)

	log.Infow("discovery node up", "id", n.ID(), "addrs", n.Host.Addrs())
	return n, nil
}

// bootstrap dials the configured peers so gossip reaches beyond the LAN.
func (n *Node) bootstrap(ctx context.Context, addrs []string) {
	for _, s := range addrs {
		a, err := ma.NewMultiaddr(s)
		if err != nil {
			log.Warnw("bad bootstrap address", "addr", s, "err", err)
			continue
		}
		pi, err := peer.AddrInfoFromP2pAddr(a)
		if err != nil {
			log.Warnw("bad bootstrap address", "addr", s, "err", err)
			continue
		}
		go func() {
			cctx, cancel := context.WithTimeout(ctx, util.DefaultConnectTimeout)
			defer cancel()
			if err := n.Host.Connect(cctx, *pi); err != nil {
				log.Warnw("bootstrap dial failed", "peer", pi.ID, "err", err)
			}
		}()
	}
}

func (n *Node) Close() error {
	var err error
	n.closeOnce.Do(func() {
		n.sub.Cancel()
		_ = n.topic.Close()
		_ = n.mdns.Close()
		err = n.Host.Close()
	})
	return err
}

func (n *Node) ID() string {
	return n.Host.ID().String()
}

// Publish sends one room announcement on the topic.
func (n *Node) Publish(ctx context.Context, ann proto.RoomAnnouncement) error {
	if ann.TS == 0 {
		ann.TS = proto.NowMillis()
	}
	b, err := json.Marshal(ann)
	if err != nil {
		return err
	}
	return n.topic.Publish(ctx, b)
}

// RunAnnouncementLoop applies announcements from other peers to the room
// table until ctx is done. onEvent, when set, sees every applied
// announcement.
func (n *Node) RunAnnouncementLoop(ctx context.Context, onEvent func(proto.RoomAnnouncement)) {
	go func() {
		for {
			m, err := n.sub.Next(ctx)
			if err != nil {
				return
			}
			if m.ReceivedFrom == n.Host.ID() {
				continue
			}

			var ann proto.RoomAnnouncement
			if err := json.Unmarshal(m.Data, &ann); err != nil {
				continue
			}
			if !n.apply(m.GetFrom().String(), ann) {
				continue
			}
			if onEvent != nil {
				onEvent(ann)
			}
		}
	}()
}

// apply records an announcement authored by the gossip peer from. The
// first author seen for a code owns it until the room is dropped; other
// authors can neither update nor retire it.
func (n *Node) apply(from string, ann proto.RoomAnnouncement) bool {
	if from == "" || ann.Code == "" || ann.PeerID == "" {
		return false
	}
	// consistency filter only: the host key derives from the public code
	want, err := HostPeerID(ann.Code)
	if err != nil || want.String() != ann.PeerID {
		log.Debugw("ignoring announcement with mismatched peer id", "code", ann.Code, "peer", ann.PeerID)
		return false
	}
	if cur, ok := n.rooms.Get(ann.Code); ok && cur.Announcer != from {
		log.Debugw("ignoring announcement for a room claimed by another node", "code", ann.Code, "from", from, "owner", cur.Announcer)
		return false
	}

	switch ann.Type {
	case proto.TypeOnline, proto.TypeUpdate:
		n.rooms.Upsert(state.SeenRoom{
			Code:       ann.Code,
			HostPeerID: ann.PeerID,
			Announcer:  from,
			HostName:   ann.HostName,
			Players:    ann.Players,
			Mode:       ann.Mode,
			RoomType:   ann.RoomType,
			Started:    ann.Started,
			Addrs:      ann.Addrs,
		})
	case proto.TypeOffline:
		n.rooms.Remove(ann.Code)
	default:
		return false
	}
	return true
}

// HostAddrs returns the announced addresses of room code's host.
func (n *Node) HostAddrs(code string) []string {
	r, ok := n.rooms.Get(code)
	if !ok || !r.Reachable {
		return nil
	}
	return r.Addrs
}

// PresenceTTL is how long announced addresses stay in a peerstore.
func (n *Node) PresenceTTL() time.Duration {
	if n.presenceTTL <= 0 {
		return 20 * time.Second
	}
	return n.presenceTTL
}

// wanAddrs filters h's addresses down to the ones worth announcing. It
// falls back to every address when nothing else is left, so single-machine
// setups still work.
func wanAddrs(h host.Host) []string {
	var out, all []string
	for _, a := range h.Addrs() {
		all = append(all, a.String())
		ip, err := manet.ToIP(a)
		if err != nil {
			continue
		}
		if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
			continue
		}
		out = append(out, a.String())
	}
	if len(out) == 0 {
		return all
	}
	return out
}

// parseAddrs drops unparsable and link-local entries.
func parseAddrs(addrs []string) []ma.Multiaddr {
	var out []ma.Multiaddr
	for _, s := range addrs {
		a, err := ma.NewMultiaddr(s)
		if err != nil {
			continue
		}
		if ip, err := manet.ToIP(a); err == nil && ip.IsLinkLocalUnicast() {
			continue
		}
		out = append(out, a)
	}
	return out
}
