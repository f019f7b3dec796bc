package controller

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/raterudder/loadshift/pkg/device"
	"github.com/raterudder/loadshift/pkg/log"
	"github.com/raterudder/loadshift/pkg/state"
	"github.com/raterudder/loadshift/pkg/types"
)

// Evaluator applies Decide to a device through its Switch.
type Evaluator struct {
	cfg   Config
	state *state.State
	sw    device.Switch
}

// NewEvaluator returns an Evaluator for the configured devices.
func NewEvaluator(cfg Config, st *state.State, sw device.Switch) *Evaluator {
	return &Evaluator{
		cfg:   cfg.withDefaults(),
		state: st,
		sw:    sw,
	}
}

// Evaluate decides and applies the command for one device and records it as
// the device's last action. The returned action is also recorded when the
// switch fails.
func (e *Evaluator) Evaluate(ctx context.Context, deviceID string) (types.Action, error) {
	dev, err := e.cfg.device(deviceID)
	if err != nil {
		return types.Action{}, err
	}
	ds, ok := e.state.Device(deviceID)
	if !ok {
		return types.Action{}, fmt.Errorf("unknown device: %s", deviceID)
	}

	now := e.cfg.wallNow()
	price := e.state.CurrentPrice()
	decision, err := Decide(now, dev, ds, price)
	if err != nil {
		return types.Action{}, err
	}

	action := types.Action{
		Timestamp:    e.cfg.Now(),
		DeviceID:     deviceID,
		Command:      decision.Command,
		Reason:       decision.Reason,
		Description:  decision.Description,
		CurrentPrice: price,
		Threshold:    ds.Threshold,
		Window:       decision.Window,
	}

	ctx = log.WithAttrs(ctx, slog.String("device", deviceID), slog.String("switch", dev.Switch))
	switch decision.Command {
	case types.CommandOn:
		err = e.sw.TurnOn(ctx, dev.Switch)
	case types.CommandOff:
		err = e.sw.TurnOff(ctx, dev.Switch)
	}
	if err != nil {
		action.Failed = true
		action.Error = err.Error()
		err = fmt.Errorf("failed to switch %s %s: %w", deviceID, decision.Command, err)
	}

	log.Ctx(ctx).InfoContext(
		ctx,
		"evaluated device",
		slog.String("command", decision.Command.String()),
		slog.String("reason", string(decision.Reason)),
		slog.String("price", price.String()),
		slog.String("threshold", ds.Threshold.String()),
		slog.Bool("failed", action.Failed),
	)

	if rerr := e.state.RecordAction(deviceID, action); rerr != nil {
		return action, rerr
	}
	return action, err
}

// EvaluateAll evaluates every device, continuing past failures. It returns
// the first error.
func (e *Evaluator) EvaluateAll(ctx context.Context) error {
	var first error
	for _, d := range e.cfg.Devices {
		if _, err := e.Evaluate(ctx, d.ID); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to evaluate device", slog.String("device", d.ID), slog.Any("error", err))
			if first == nil {
				first = err
			}
		}
	}
	return first
}
