package server

import (
	"net/http"
	"time"

	"github.com/raterudder/loadshift/pkg/controller"
)

type planResponse struct {
	Generated time.Time                `json:"generated"`
	Slots     []controller.PlanSlot    `json:"slots"`
	Planned   map[string]time.Duration `json:"planned"`
}

// handlePlan projects the last analysis forward: for each upcoming slot, the
// command every device would get if prices and thresholds do not change.
func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	an, ok := s.analyzer.Last()
	if !ok {
		writeJSONError(w, "no analysis yet", http.StatusServiceUnavailable)
		return
	}
	plan := controller.Plan(an, s.state.Snapshot())
	writeJSON(w, planResponse{
		Generated: an.Now,
		Slots:     plan,
		Planned:   controller.PlannedDuration(plan),
	})
}
