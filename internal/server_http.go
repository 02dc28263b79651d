package internal

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"roomrelay/internal/history"
)

type usersResponse struct {
	Users []RosterUser `json:"users"`
}

type roomHistoryResponse struct {
	RoomID   string            `json:"roomId"`
	Messages []history.Message `json:"messages"`
}

// Router builds the HTTP surface: the websocket upgrade path plus the
// read-only collaborator endpoints that merely read from the core's state.
func (s *Server) Router(wsPath string) http.Handler {
	r := chi.NewRouter()
	r.Get(wsPath, s.ServeWS)
	r.Get("/api/users", s.handleListUsers)
	r.Get("/api/rooms/{roomID}/messages", s.handleRoomHistory)
	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.metrics)
	return r
}

// handleListUsers lists the currently online users.
func (s *Server) handleListUsers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, usersResponse{Users: rosterUsers(s.registry.Roster())})
}

// handleRoomHistory returns a room's current log snapshot, unfiltered by
// caller identity.
func (s *Server) handleRoomHistory(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")
	if roomID == "" {
		writeError(w, http.StatusBadRequest, errors.New("room id required"))
		return
	}
	writeJSON(w, http.StatusOK, roomHistoryResponse{
		RoomID:   roomID,
		Messages: s.history.Snapshot(roomID),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
