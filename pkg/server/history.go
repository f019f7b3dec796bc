package server

import (
	"net/http"
)

// handleState returns the current prices, DST flag and every device's
// state including the last command sent to it.
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.state.Snapshot())
}
