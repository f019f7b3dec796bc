package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/raterudder/loadshift/pkg/log"
)

type overrideRequest struct {
	Device string `json:"device"`
	On     *bool  `json:"on"`
}

// handleOverride writes a device's override entity and applies it locally
// without waiting for the store to echo the change.
func (s *Server) handleOverride(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	r.Body = http.MaxBytesReader(w, r.Body, 1<<16)
	var req overrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "invalid request", http.StatusBadRequest)
		return
	}
	if req.On == nil {
		writeJSONError(w, "on is required", http.StatusBadRequest)
		return
	}
	dev, ok := s.deviceConfig(req.Device)
	if !ok {
		writeJSONError(w, "unknown device", http.StatusNotFound)
		return
	}
	on := *req.On

	err := s.bus.Submit(ctx, "override "+dev.ID, func(ctx context.Context) error {
		if dev.OverrideEntity != "" {
			value := "off"
			if on {
				value = "on"
			}
			if err := s.store.SetState(ctx, dev.OverrideEntity, value, nil); err != nil {
				return fmt.Errorf("failed to write %s: %w", dev.OverrideEntity, err)
			}
			s.known[dev.OverrideEntity] = value
		}
		return s.state.SetOverride(dev.ID, on)
	})
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to set override", slog.String("device", dev.ID), slog.Any("error", err))
		writeJSONError(w, "failed to set override", http.StatusBadGateway)
		return
	}

	ds, _ := s.state.Device(dev.ID)
	writeJSON(w, ds)
}
