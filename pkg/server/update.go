package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/raterudder/loadshift/pkg/controller"
	"github.com/raterudder/loadshift/pkg/log"
)

// handleAnalyze runs an analysis cycle immediately and returns its result.
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var an controller.Analysis
	err := s.bus.Submit(ctx, "analyze", func(ctx context.Context) error {
		var err error
		an, err = s.analyzer.Analyze(ctx)
		return err
	})
	switch {
	case errors.Is(err, controller.ErrNoWindow):
		writeJSONError(w, err.Error(), http.StatusConflict)
		return
	case errors.Is(err, context.Canceled):
		writeJSONError(w, "request canceled", http.StatusServiceUnavailable)
		return
	case err != nil:
		log.Ctx(ctx).ErrorContext(ctx, "analysis failed", slog.Any("error", err))
		writeJSONError(w, "analysis failed", http.StatusBadGateway)
		return
	}
	writeJSON(w, an)
}
