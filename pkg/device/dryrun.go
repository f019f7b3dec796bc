package device

import (
	"context"
	"log/slog"
	"sync"

	"github.com/raterudder/loadshift/pkg/log"
	"github.com/raterudder/loadshift/pkg/types"
)

// DryRun logs commands instead of sending them and remembers the last one
// per device.
type DryRun struct {
	mu   sync.Mutex
	last map[string]types.Command
}

func NewDryRun() *DryRun {
	return &DryRun{last: make(map[string]types.Command)}
}

func (d *DryRun) set(ctx context.Context, id string, c types.Command) error {
	d.mu.Lock()
	d.last[id] = c
	d.mu.Unlock()
	log.Ctx(ctx).InfoContext(ctx, "dry run: not switching device", slog.String("switch", id), slog.String("command", c.String()))
	return nil
}

// TurnOn implements Switch.
func (d *DryRun) TurnOn(ctx context.Context, id string) error {
	return d.set(ctx, id, types.CommandOn)
}

// TurnOff implements Switch.
func (d *DryRun) TurnOff(ctx context.Context, id string) error {
	return d.set(ctx, id, types.CommandOff)
}

// Last returns the last command sent to id, or CommandNoChange.
func (d *DryRun) Last(id string) types.Command {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last[id]
}
