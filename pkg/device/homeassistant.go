package device

import (
	"context"
	"fmt"

	"github.com/raterudder/loadshift/pkg/homeassistant"
)

// HomeAssistant switches entities with the generic homeassistant.turn_on and
// turn_off services so any switchable domain works.
type HomeAssistant struct {
	client *homeassistant.Client
}

// NewHomeAssistant returns a Switch backed by the given client.
func NewHomeAssistant(client *homeassistant.Client) *HomeAssistant {
	return &HomeAssistant{client: client}
}

// TurnOn implements Switch.
func (h *HomeAssistant) TurnOn(ctx context.Context, id string) error {
	return h.call(ctx, "turn_on", id)
}

// TurnOff implements Switch.
func (h *HomeAssistant) TurnOff(ctx context.Context, id string) error {
	return h.call(ctx, "turn_off", id)
}

func (h *HomeAssistant) call(ctx context.Context, service, id string) error {
	if err := h.client.CallService(ctx, "homeassistant", service, map[string]any{"entity_id": id}); err != nil {
		return fmt.Errorf("failed to %s %s: %w", service, id, err)
	}
	return nil
}
