package viewer

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/petervdpas/tunetrivia/internal/catalog"
	"github.com/petervdpas/tunetrivia/internal/game"
	"github.com/petervdpas/tunetrivia/internal/model"
	"github.com/petervdpas/tunetrivia/internal/transport"
)

// maxBody caps request bodies; no endpoint takes more than a few fields.
const maxBody = 64 << 10

func handleGet(mux *http.ServeMux, path string, fn http.HandlerFunc) {
	mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		fn(w, r)
	})
}

func handlePost[T any](mux *http.ServeMux, path string, fn func(w http.ResponseWriter, r *http.Request, req T)) {
	mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req T
		if decodeJSON(w, r, &req) != nil {
			return
		}
		fn(w, r, req)
	})
}

// decodeJSON reads the request body into v. An empty body leaves v at its
// zero value.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	if err := dec.Decode(v); err != nil {
		writeError(w, &model.ValidationError{Field: "request body", Reason: err.Error()})
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func writeError(w http.ResponseWriter, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Warnw("request failed", "err", err)
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: err.Error(), Code: code})
}

func statusFor(err error) (int, string) {
	var (
		verr     *model.ValidationError
		notFound *transport.RoomNotFoundError
		connErr  *transport.ConnectionError
	)
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, "invalid"
	case errors.As(err, &notFound):
		return http.StatusNotFound, "room_not_found"
	case errors.As(err, &connErr):
		return http.StatusBadGateway, "connection_failed"
	case errors.Is(err, catalog.ErrPlaylistNotFound):
		return http.StatusNotFound, "playlist_not_found"
	case errors.Is(err, catalog.ErrNotEnoughTracks), errors.Is(err, game.ErrNoTracks):
		return http.StatusBadRequest, "not_enough_tracks"
	case errors.Is(err, game.ErrNotHost), errors.Is(err, game.ErrNotEligible):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, game.ErrInRoom), errors.Is(err, game.ErrNoRoom),
		errors.Is(err, game.ErrWrongPhase), errors.Is(err, game.ErrAlreadyAnswered),
		errors.Is(err, game.ErrHostLeft):
		return http.StatusConflict, "conflict"
	}
	return http.StatusInternalServerError, ""
}
