package viewer

import (
	"net/http"

	"github.com/petervdpas/tunetrivia/internal/state"
)

// GET /api/rooms/events (WebSocket)
//
// Sends one update per known room, then every change to the room table.
func serveRoomsWS(rooms *state.RoomTable) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := wsUpgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Debugw("websocket upgrade failed", "err", err)
			return
		}
		defer conn.Close()

		ch := rooms.Subscribe()
		defer rooms.Unsubscribe(ch)
		gone := watchClose(conn)

		for _, room := range rooms.List() {
			if err := writeEvent(conn, state.RoomEvent{Type: "update", Code: room.Code, Room: &room}); err != nil {
				return
			}
		}

		for {
			select {
			case <-r.Context().Done():
				return
			case <-gone:
				return
			case evt, ok := <-ch:
				if !ok {
					return
				}
				if err := writeEvent(conn, evt); err != nil {
					return
				}
			}
		}
	}
}
