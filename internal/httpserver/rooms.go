package httpserver

import "net/http"

// handleRoomMembers serves a read-only membership snapshot for operators and
// diagnostics tooling. The snapshot is a point-in-time view; concurrent joins
// and leaves may not be reflected.
func (s *Server) handleRoomMembers(w http.ResponseWriter, r *http.Request) {
	room := r.PathValue("room")
	if room == "" {
		WriteJSON(w, http.StatusBadRequest, map[string]any{"error": "missing room"})
		return
	}

	members := s.rooms.Members(room)
	if members == nil {
		WriteJSON(w, http.StatusNotFound, map[string]any{
			"room":    room,
			"members": []string{},
			"count":   0,
			"message": "room not found",
		})
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"room":    room,
		"members": members,
		"count":   len(members),
	})
}
