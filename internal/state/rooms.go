package state

import (
	"sort"
	"sync"
	"time"
)

// SeenRoom is an open room learned from a host announcement.
type SeenRoom struct {
	Code         string    `json:"code"`
	HostPeerID   string    `json:"hostPeerId"`
	Announcer    string    `json:"announcer"` // gossip author that owns the code
	HostName     string    `json:"hostName,omitempty"`
	Players      int       `json:"players"`
	Mode         string    `json:"mode,omitempty"`
	RoomType     string    `json:"roomType,omitempty"`
	Started      bool      `json:"started,omitempty"`
	Addrs        []string  `json:"addrs,omitempty"`
	Reachable    bool      `json:"reachable"`
	LastSeen     time.Time `json:"lastSeen"`
	OfflineSince time.Time `json:"offlineSince,omitempty"`
}

type RoomEvent struct {
	Type string    `json:"type"` // update|remove
	Code string    `json:"code"`
	Room *SeenRoom `json:"room,omitempty"`
}

// RoomTable tracks announced rooms by code. Rooms that stop announcing go
// offline after a TTL and are dropped after a grace period.
type RoomTable struct {
	mu        sync.Mutex
	rooms     map[string]SeenRoom
	listeners []chan RoomEvent
	now       func() time.Time
}

func NewRoomTable() *RoomTable {
	return &RoomTable{
		rooms: map[string]SeenRoom{},
		now:   time.Now,
	}
}

func (t *RoomTable) Upsert(r SeenRoom) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r.Reachable = true
	r.LastSeen = t.now()
	r.OfflineSince = time.Time{}
	t.rooms[r.Code] = r
	t.notifyListeners(RoomEvent{Type: "update", Code: r.Code, Room: &r})
}

func (t *RoomTable) Remove(code string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.rooms[code]; !ok {
		return
	}
	delete(t.rooms, code)
	t.notifyListeners(RoomEvent{Type: "remove", Code: code})
}

func (t *RoomTable) Get(code string) (SeenRoom, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.rooms[code]
	return r, ok
}

// List returns the known rooms ordered by code.
func (t *RoomTable) List() []SeenRoom {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]SeenRoom, 0, len(t.rooms))
	for _, r := range t.rooms {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// PruneStale moves rooms with an expired TTL offline, then removes offline
// rooms that have exceeded the grace period.
func (t *RoomTable) PruneStale(ttlCutoff, graceCutoff time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for code, r := range t.rooms {
		if r.OfflineSince.IsZero() {
			if r.LastSeen.Before(ttlCutoff) {
				r.Reachable = false
				r.OfflineSince = t.now()
				t.rooms[code] = r
				t.notifyListeners(RoomEvent{Type: "update", Code: code, Room: &r})
			}
		} else if r.OfflineSince.Before(graceCutoff) {
			delete(t.rooms, code)
			t.notifyListeners(RoomEvent{Type: "remove", Code: code})
		}
	}
}

func (t *RoomTable) Subscribe() chan RoomEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	ch := make(chan RoomEvent, 16)
	t.listeners = append(t.listeners, ch)
	return ch
}

func (t *RoomTable) Unsubscribe(ch chan RoomEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, listener := range t.listeners {
		if listener == ch {
			close(listener)
			t.listeners = append(t.listeners[:i], t.listeners[i+1:]...)
			return
		}
	}
}

func (t *RoomTable) notifyListeners(evt RoomEvent) {
	for _, ch := range t.listeners {
		select {
		case ch <- evt:
		default:
		}
	}
}
