package controller

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/raterudder/loadshift/pkg/state"
	"github.com/raterudder/loadshift/pkg/types"
)

// ErrNoWindow is returned when a device's start or stop time is unknown.
var ErrNoWindow = errors.New("device window not configured")

var (
	// DefaultHeadroom is added to the Nth cheapest price so that price itself
	// compares at or below the threshold.
	DefaultHeadroom = decimal.RequireFromString("0.01")

	// DefaultUpdateHour is the local hour in which thresholds are recomputed,
	// after the next day's prices have been published.
	DefaultUpdateHour = 20
)

// Config is shared by the Analyzer and Evaluator.
type Config struct {
	Devices    []types.Device
	UpdateHour int
	Headroom   decimal.Decimal
	Location   *time.Location

	// DSTFlag makes the analyzer shift UTC slot times by an hour when the DST
	// flag in State is on instead of converting them into Location.
	DSTFlag bool

	// Now defaults to time.Now.
	Now func() time.Time
}

func (c Config) withDefaults() Config {
	if c.Location == nil {
		c.Location = time.Local
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// wallNow returns the current wall-clock time in the configured location.
func (c Config) wallNow() time.Time {
	return types.WallClock(c.Now().In(c.Location))
}

func (c Config) device(id string) (types.Device, error) {
	for _, d := range c.Devices {
		if d.ID == id {
			return d, nil
		}
	}
	return types.Device{}, fmt.Errorf("unknown device: %s", id)
}

// Decision represents the result of the decision logic.
type Decision struct {
	Command     types.Command      `json:"command"`
	Reason      types.ActionReason `json:"reason"`
	Description string             `json:"description"`
	Window      types.Span         `json:"window"`
}

// Decide determines what to do with a device given its state, the current
// price and the wall-clock time. The rules are applied in order:
//
//  1. override on energizes
//  2. a device that tracks presence and is away or unplugged is left alone
//  3. outside the window de-energizes
//  4. inside the window energizes when the price is at or below the threshold
func Decide(now time.Time, dev types.Device, ds state.DeviceState, price decimal.Decimal) (Decision, error) {
	if ds.Override {
		return Decision{
			Command:     types.CommandOn,
			Reason:      types.ActionReasonOverride,
			Description: "override is on",
		}, nil
	}

	if dev.LocationEntity != "" && !dev.AtHome(ds.Location) {
		return Decision{
			Command:     types.CommandNoChange,
			Reason:      types.ActionReasonNotPresent,
			Description: fmt.Sprintf("location %q is not %q", ds.Location, dev.HomeLocation),
		}, nil
	}
	if dev.PluggedInEntity != "" && ds.PluggedIn != nil && !*ds.PluggedIn {
		return Decision{
			Command:     types.CommandNoChange,
			Reason:      types.ActionReasonNotConnected,
			Description: "not plugged in",
		}, nil
	}

	w, ok := ds.Window()
	if !ok {
		return Decision{}, fmt.Errorf("%s: %w", dev.ID, ErrNoWindow)
	}
	span := w.Normalize(now)
	if !span.Contains(now) {
		return Decision{
			Command:     types.CommandOff,
			Reason:      types.ActionReasonOutsideWindow,
			Description: fmt.Sprintf("outside window %s-%s", w.Start, w.Stop),
			Window:      span,
		}, nil
	}

	if price.LessThanOrEqual(ds.Threshold) {
		return Decision{
			Command:     types.CommandOn,
			Reason:      types.ActionReasonCheap,
			Description: fmt.Sprintf("price %s is at or below threshold %s", price, ds.Threshold),
			Window:      span,
		}, nil
	}
	return Decision{
		Command:     types.CommandOff,
		Reason:      types.ActionReasonExpensive,
		Description: fmt.Sprintf("price %s is above threshold %s", price, ds.Threshold),
		Window:      span,
	}, nil
}
