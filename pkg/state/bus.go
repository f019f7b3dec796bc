package state

import (
	"context"
	"log/slog"
	"sync"

	"github.com/raterudder/loadshift/pkg/log"
)

// maxEventsPerJob bounds how many events a single job may cascade into.
const maxEventsPerJob = 1000

// Handler reacts to an Event. It runs on the Bus goroutine and may mutate
// State; the events it queues are dispatched after the current one.
type Handler func(ctx context.Context, e Event) error

type namedHandler struct {
	name string
	fn   Handler
}

type job struct {
	name   string
	fn     func(ctx context.Context) error
	result chan error
}

// Bus serializes every job and event handler on a single goroutine.
type Bus struct {
	state *State
	jobs  chan job

	mu       sync.RWMutex
	handlers map[Kind][]namedHandler
}

// NewBus returns a Bus dispatching the events queued on s.
func NewBus(s *State) *Bus {
	return &Bus{
		state:    s,
		jobs:     make(chan job),
		handlers: make(map[Kind][]namedHandler),
	}
}

// Subscribe registers h for events of the given kind. Handlers run in
// registration order.
func (b *Bus) Subscribe(kind Kind, name string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[kind] = append(b.handlers[kind], namedHandler{name: name, fn: h})
}

// Submit runs fn on the Bus goroutine and waits for it. Events queued by fn
// are fully dispatched before Submit returns.
func (b *Bus) Submit(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	j := job{name: name, fn: fn, result: make(chan error, 1)}
	select {
	case b.jobs <- j:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-j.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run processes jobs until ctx is done.
func (b *Bus) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case j := <-b.jobs:
			j.result <- b.run(ctx, j)
		}
	}
}

func (b *Bus) run(ctx context.Context, j job) error {
	jctx := log.WithAttrs(ctx, slog.String("job", j.name))
	err := j.fn(jctx)
	if err != nil {
		log.Ctx(jctx).ErrorContext(jctx, "job failed", slog.Any("error", err))
	}
	// events queued before a failure are still dispatched
	b.dispatch(jctx)
	return err
}

func (b *Bus) dispatch(ctx context.Context) {
	queue := b.state.Drain()
	for n := 0; len(queue) > 0; n++ {
		if n >= maxEventsPerJob {
			log.Ctx(ctx).ErrorContext(ctx, "too many cascading events, dropping the rest", slog.Int("dropped", len(queue)))
			return
		}
		e := queue[0]
		queue = queue[1:]

		b.mu.RLock()
		handlers := b.handlers[e.Kind]
		b.mu.RUnlock()

		log.Ctx(ctx).DebugContext(ctx, "dispatching event", slog.String("event", e.String()), slog.Int("handlers", len(handlers)))
		for _, h := range handlers {
			if err := h.fn(ctx, e); err != nil {
				log.Ctx(ctx).ErrorContext(
					ctx,
					"event handler failed",
					slog.String("handler", h.name),
					slog.String("event", e.String()),
					slog.Any("error", err),
				)
			}
			queue = append(queue, b.state.Drain()...)
		}
	}
}

