package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned when the store has no value for an entity.
var ErrNotFound = errors.New("entity not found")

// Change is a notification that an entity's state was changed by someone.
type Change struct {
	EntityID string
	State    string
}

// Store is the external shared state store. Entity states are strings the
// same way Home Assistant represents them; callers parse them.
type Store interface {
	// GetState returns the state of entityID or ErrNotFound.
	GetState(ctx context.Context, entityID string) (string, error)

	// SetState writes the state of entityID along with optional attributes.
	SetState(ctx context.Context, entityID, value string, attrs map[string]any) error

	// Subscribe calls fn for every state change until ctx is done or the
	// underlying stream fails. It returns nil when ctx is canceled.
	Subscribe(ctx context.Context, fn func(Change)) error

	// Lifecycle
	Close() error
}
