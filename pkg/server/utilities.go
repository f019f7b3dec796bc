package server

import (
	"net/http"
)

type utilityInfo struct {
	Name     string `json:"name"`
	Selected bool   `json:"selected"`
}

func (s *Server) handleListUtilities(w http.ResponseWriter, r *http.Request) {
	names := s.utilities.Names()
	selected := s.utilities.SelectedName()

	utilities := make([]utilityInfo, 0, len(names))
	for _, name := range names {
		utilities = append(utilities, utilityInfo{
			Name:     name,
			Selected: name == selected,
		})
	}
	writeJSON(w, utilities)
}
