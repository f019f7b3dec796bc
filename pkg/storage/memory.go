package storage

import (
	"context"
	"log/slog"
	"sync"

	"github.com/raterudder/loadshift/pkg/log"
)

// Memory is an in-process Store. It is used for dry runs and tests; changes
// made with SetState are delivered to subscribers.
type Memory struct {
	mu     sync.Mutex
	states map[string]string
	attrs  map[string]map[string]any
	subs   map[int]chan Change
	nextID int
	// dropped counts changes not delivered to a full subscriber
	dropped int
}

// NewMemory returns a Memory store seeded with initial.
func NewMemory(initial map[string]string) *Memory {
	m := &Memory{
		states: make(map[string]string, len(initial)),
		attrs:  make(map[string]map[string]any),
		subs:   make(map[int]chan Change),
	}
	for k, v := range initial {
		m.states[k] = v
	}
	return m
}

// GetState implements Store.
func (m *Memory) GetState(ctx context.Context, entityID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.states[entityID]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

// Attributes returns the attributes last written for entityID.
func (m *Memory) Attributes(entityID string) map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attrs[entityID]
}

// SetState implements Store.
func (m *Memory) SetState(ctx context.Context, entityID, value string, attrs map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, existed := m.states[entityID]
	m.states[entityID] = value
	if attrs != nil {
		m.attrs[entityID] = attrs
	}
	if existed && old == value {
		return nil
	}
	for id, ch := range m.subs {
		select {
		case ch <- Change{EntityID: entityID, State: value}:
		default:
			m.dropped++
			log.Ctx(ctx).WarnContext(
				ctx,
				"dropping change for full subscriber",
				slog.String("entity", entityID),
				slog.Int("subscriber", id),
			)
		}
	}
	return nil
}

// Subscribe implements Store.
func (m *Memory) Subscribe(ctx context.Context, fn func(Change)) error {
	ch := make(chan Change, 64)
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = ch
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case c := <-ch:
			fn(c)
		}
	}
}

// Close implements Store.
func (m *Memory) Close() error {
	return nil
}
