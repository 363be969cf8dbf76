package proto

import "time"

const (
	// gossipsub topic carrying room announcements
	RoomsTopic = "spotiquiz.rooms.v1"
	MdnsTag    = "spotiquiz-mdns"

	// libp2p stream protocol ID for a room's host-relayed message stream
	RoomProtoID = "/spotiquiz/room/1.0.0"
)

const (
	TypeOnline  = "online"
	TypeUpdate  = "update"
	TypeOffline = "offline"
)

// RoomAnnouncement is published by hosts so peers can list open rooms and
// learn the host's dialable addresses.
type RoomAnnouncement struct {
	Type     string   `json:"type"` // online|update|offline
	Code     string   `json:"code"`
	PeerID   string   `json:"peerId"`
	HostName string   `json:"hostName,omitempty"`
	Players  int      `json:"players"`
	Mode     string   `json:"mode,omitempty"`
	RoomType string   `json:"roomType,omitempty"`
	Started  bool     `json:"started,omitempty"`
	Addrs    []string `json:"addrs,omitempty"`
	TS       int64    `json:"ts"`
}

func NowMillis() int64 { return time.Now().UnixMilli() }
