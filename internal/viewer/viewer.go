// Package viewer serves the local HTTP API a presentation layer renders
// the game from.
package viewer

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/petervdpas/tunetrivia/internal/catalog"
	"github.com/petervdpas/tunetrivia/internal/game"
	"github.com/petervdpas/tunetrivia/internal/model"
	"github.com/petervdpas/tunetrivia/internal/state"
	"github.com/petervdpas/tunetrivia/internal/storage"
	"github.com/petervdpas/tunetrivia/internal/util"

	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("viewer")

type Viewer struct {
	Session *game.Session
	Events  *EventLog
	Logs    *LogBuffer

	// optional
	Rooms   *state.RoomTable
	Catalog catalog.Catalog
	DB      *storage.DB

	// Defaults fills the settings fields a create request leaves out.
	Defaults func() model.Settings
	// OnChange is called after every request that may change what this
	// peer announces.
	OnChange func()
	// SoloOnly refuses room create and join. Set when no other process can
	// reach this peer's transport.
	SoloOnly bool
}

var errSoloOnly = &model.ValidationError{Field: "network", Reason: "local mode supports solo play only; set network to p2p"}

// Handler builds the API mux.
func Handler(v Viewer) http.Handler {
	mux := http.NewServeMux()
	registerRoomRoutes(mux, v)
	registerGameRoutes(mux, v)
	registerInfoRoutes(mux, v)
	if v.Events != nil {
		mux.HandleFunc("/api/events", v.Events.ServeWS)
	}
	if v.Logs != nil {
		handleGet(mux, "/api/logs", v.Logs.ServeLogsJSON)
	}
	return noCache(mux)
}

// Start serves the API on addr until ctx is done.
func Start(ctx context.Context, addr string, v Viewer) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           Handler(v),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), util.ShortTimeout)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()
	log.Infow("viewer listening", "addr", "http://"+addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (v Viewer) changed() {
	if v.OnChange != nil {
		v.OnChange()
	}
}

// settingsReq is the wire form of model.Settings with human units.
type settingsReq struct {
	Mode          model.GameMode `json:"mode"`
	RoomType      model.RoomType `json:"roomType"`
	RoundsCount   int            `json:"roundsCount"`
	RoundSeconds  int            `json:"roundSeconds"`
	MinPoints     *int           `json:"minPoints"`
	MaxPoints     *int           `json:"maxPoints"`
	AutoAdvanceMs *int           `json:"autoAdvanceMs"`
	PlaylistID    string         `json:"playlistId"`
	PlaylistName  string         `json:"playlistName"`
}

func (v Viewer) settings(req settingsReq) model.Settings {
	s := model.DefaultSettings()
	if v.Defaults != nil {
		s = v.Defaults()
	}
	if req.Mode != "" {
		s.Mode = req.Mode
	}
	if req.RoomType != "" {
		s.RoomType = req.RoomType
	}
	if req.RoundsCount != 0 {
		s.RoundsCount = req.RoundsCount
	}
	if req.RoundSeconds != 0 {
		s.RoundDuration = time.Duration(req.RoundSeconds) * time.Second
	}
	if req.MinPoints != nil {
		s.MinPoints = *req.MinPoints
	}
	if req.MaxPoints != nil {
		s.MaxPoints = *req.MaxPoints
	}
	if req.AutoAdvanceMs != nil {
		s.AutoAdvance = time.Duration(*req.AutoAdvanceMs) * time.Millisecond
	}
	s.PlaylistID = req.PlaylistID
	s.PlaylistName = req.PlaylistName
	return s
}

// displayName falls back to the saved profile name.
func (v Viewer) displayName(name string) string {
	if strings.TrimSpace(name) != "" || v.DB == nil {
		return name
	}
	p, err := v.DB.Profile()
	if err != nil {
		return name
	}
	return p.DisplayName
}

func registerRoomRoutes(mux *http.ServeMux, v Viewer) {
	type createReq struct {
		Name     string      `json:"name"`
		Settings settingsReq `json:"settings"`
	}

	// POST /api/room/solo
	handlePost(mux, "/api/room/solo", func(w http.ResponseWriter, r *http.Request, req createReq) {
		s := v.settings(req.Settings)
		s.RoomType = model.RoomSolo
		if err := v.Session.StartSolo(v.displayName(req.Name), s); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, v.Session.State())
	})

	// POST /api/room/create
	handlePost(mux, "/api/room/create", func(w http.ResponseWriter, r *http.Request, req createReq) {
		if v.SoloOnly {
			writeError(w, errSoloOnly)
			return
		}
		s := v.settings(req.Settings)
		if !s.RoomType.Multiplayer() {
			s.RoomType = model.RoomParty
		}
		if _, err := v.Session.CreateRoom(r.Context(), v.displayName(req.Name), s); err != nil {
			writeError(w, err)
			return
		}
		v.changed()
		writeJSON(w, v.Session.State())
	})

	// POST /api/room/join
	handlePost(mux, "/api/room/join", func(w http.ResponseWriter, r *http.Request, req struct {
		Name string `json:"name"`
		Code string `json:"code"`
	}) {
		if v.SoloOnly {
			writeError(w, errSoloOnly)
			return
		}
		if err := v.Session.JoinRoom(r.Context(), v.displayName(req.Name), req.Code); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, v.Session.State())
	})

	// POST /api/room/leave
	handlePost(mux, "/api/room/leave", func(w http.ResponseWriter, r *http.Request, _ struct{}) {
		if err := v.Session.Leave(); err != nil {
			writeError(w, err)
			return
		}
		v.changed()
		writeJSON(w, v.Session.State())
	})
}

func registerGameRoutes(mux *http.ServeMux, v Viewer) {
	// POST /api/game/start
	handlePost(mux, "/api/game/start", func(w http.ResponseWriter, r *http.Request, req struct {
		PlaylistID string        `json:"playlistId"`
		Tracks     []model.Track `json:"tracks"`
	}) {
		tracks := req.Tracks
		if len(tracks) == 0 {
			id := req.PlaylistID
			if id == "" {
				id = v.Session.Snapshot().Settings.PlaylistID
			}
			if id == "" || v.Catalog == nil {
				writeError(w, &model.ValidationError{Field: "playlist", Reason: "no playlist chosen"})
				return
			}
			var err error
			if tracks, err = v.Catalog.PlaylistTracks(r.Context(), id); err != nil {
				writeError(w, err)
				return
			}
		}
		deck, err := catalog.BuildDeck(tracks)
		if err != nil {
			writeError(w, err)
			return
		}
		if err := v.Session.StartGame(deck); err != nil {
			writeError(w, err)
			return
		}
		v.changed()
		writeJSON(w, v.Session.State())
	})

	// POST /api/game/answer
	handlePost(mux, "/api/game/answer", func(w http.ResponseWriter, r *http.Request, req struct {
		Answer string `json:"answer"`
	}) {
		verdict, err := v.Session.SubmitAnswer(req.Answer)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, verdict)
	})

	// POST /api/game/next
	handlePost(mux, "/api/game/next", func(w http.ResponseWriter, r *http.Request, _ struct{}) {
		if err := v.Session.Advance(); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, v.Session.State())
	})

	// GET /api/state
	handleGet(mux, "/api/state", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, v.Session.State())
	})

	// GET /api/tracks?q=  (list mode search over the current deck)
	handleGet(mux, "/api/tracks", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, v.Session.SearchTracks(r.URL.Query().Get("q")))
	})
}

func registerInfoRoutes(mux *http.ServeMux, v Viewer) {
	// GET /api/rooms
	handleGet(mux, "/api/rooms", func(w http.ResponseWriter, r *http.Request) {
		if v.Rooms == nil {
			writeJSON(w, []state.SeenRoom{})
			return
		}
		writeJSON(w, v.Rooms.List())
	})
	if v.Rooms != nil {
		mux.HandleFunc("/api/rooms/events", serveRoomsWS(v.Rooms))
	}

	// GET /api/playlists?q=
	handleGet(mux, "/api/playlists", func(w http.ResponseWriter, r *http.Request) {
		if v.Catalog == nil {
			writeJSON(w, []model.Playlist{})
			return
		}
		pls, err := v.Catalog.Playlists(r.Context(), r.URL.Query().Get("q"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, pls)
	})

	if v.DB == nil {
		return
	}

	// GET /api/history?limit=
	handleGet(mux, "/api/history", func(w http.ResponseWriter, r *http.Request) {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		if limit <= 0 {
			limit = 20
		}
		rows, err := v.DB.ListMatches(limit)
		if err != nil {
			writeError(w, err)
			return
		}
		if rows == nil {
			rows = []storage.MatchRow{}
		}
		writeJSON(w, rows)
	})

	// GET|POST /api/profile
	mux.HandleFunc("/api/profile", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			p, err := v.DB.Profile()
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, p)
		case http.MethodPost:
			var p storage.Profile
			if decodeJSON(w, r, &p) != nil {
				return
			}
			name, err := util.ValidateDisplayName(p.DisplayName)
			if err != nil {
				writeError(w, &model.ValidationError{Field: "display name", Reason: err.Error()})
				return
			}
			p.DisplayName = name
			if err := v.DB.SaveProfile(p); err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, p)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})

	// GET|POST|DELETE /api/auth
	//
	// The catalog token is stored but never echoed back.
	mux.HandleFunc("/api/auth", func(w http.ResponseWriter, r *http.Request) {
		type authState struct {
			Linked bool `json:"linked"`
		}
		switch r.Method {
		case http.MethodGet:
		case http.MethodPost:
			var req struct {
				Token string `json:"token"`
			}
			if decodeJSON(w, r, &req) != nil {
				return
			}
			req.Token = strings.TrimSpace(req.Token)
			if req.Token == "" {
				writeError(w, &model.ValidationError{Field: "token", Reason: "must not be empty"})
				return
			}
			if err := v.DB.SetToken(req.Token); err != nil {
				writeError(w, err)
				return
			}
		case http.MethodDelete:
			if err := v.DB.SetToken(""); err != nil {
				writeError(w, err)
				return
			}
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		tok, err := v.DB.Token()
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, authState{Linked: tok != ""})
	})
}
