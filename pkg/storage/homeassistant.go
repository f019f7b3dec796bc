package storage

import (
	"context"
	"errors"

	"github.com/raterudder/loadshift/pkg/homeassistant"
)

// HomeAssistant stores entity states directly in Home Assistant.
type HomeAssistant struct {
	client *homeassistant.Client
}

// NewHomeAssistant returns a Store backed by the given client.
func NewHomeAssistant(client *homeassistant.Client) *HomeAssistant {
	return &HomeAssistant{client: client}
}

// GetState implements Store.
func (h *HomeAssistant) GetState(ctx context.Context, entityID string) (string, error) {
	s, err := h.client.GetState(ctx, entityID)
	if err != nil {
		if errors.Is(err, homeassistant.ErrNotFound) {
			return "", ErrNotFound
		}
		return "", err
	}
	return s.State, nil
}

// SetState implements Store.
func (h *HomeAssistant) SetState(ctx context.Context, entityID, value string, attrs map[string]any) error {
	return h.client.SetState(ctx, entityID, value, attrs)
}

// Subscribe implements Store. Attribute-only updates are not reported.
func (h *HomeAssistant) Subscribe(ctx context.Context, fn func(Change)) error {
	return h.client.Subscribe(ctx, func(sc homeassistant.StateChange) {
		if sc.NewState == nil {
			return
		}
		if sc.OldState != nil && sc.OldState.State == sc.NewState.State {
			return
		}
		fn(Change{EntityID: sc.EntityID, State: sc.NewState.State})
	})
}

// Close implements Store.
func (h *HomeAssistant) Close() error {
	return nil
}
