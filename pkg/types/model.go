package types

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Device describes one switchable load and the store entities that configure
// it. Every device is driven by the same evaluator; the optional presence
// entities are only set for loads that can leave (an EV).
type Device struct {
	ID   string `json:"id"`
	Name string `json:"name"`

	// Switch is the identifier passed to the device control provider.
	Switch string `json:"switch"`

	StartEntity     string `json:"startEntity"`
	StopEntity      string `json:"stopEntity"`
	OverrideEntity  string `json:"overrideEntity"`
	ThresholdEntity string `json:"thresholdEntity"`
	MinSlotsEntity  string `json:"minSlotsEntity"`

	// Presence
	LocationEntity  string `json:"locationEntity,omitempty"`
	HomeLocation    string `json:"homeLocation,omitempty"`
	PluggedInEntity string `json:"pluggedInEntity,omitempty"`
}

// TracksPresence reports whether the device is only controlled while present.
func (d Device) TracksPresence() bool {
	return d.LocationEntity != "" || d.PluggedInEntity != ""
}

// AtHome compares a location reading with the device's home location, ignoring case.
func (d Device) AtHome(location string) bool {
	return strings.EqualFold(strings.TrimSpace(location), strings.TrimSpace(d.HomeLocation))
}

// Entities names the store entities that are not tied to a single device.
type Entities struct {
	CurrentPrice string `json:"currentPrice"`
	MinimumPrice string `json:"minimumPrice"`
	// DST is optional; when empty the configured location decides.
	DST string `json:"dst,omitempty"`
}

// DefaultEntities matches the Home Assistant helpers the controller has
// always used.
func DefaultEntities() Entities {
	return Entities{
		CurrentPrice: "input_number.octopus_cur_cost",
		MinimumPrice: "input_number.octopus_min_cost",
		DST:          "binary_sensor.is_dst",
	}
}

// DefaultDevices returns the water heater and EV charger descriptors.
func DefaultDevices() []Device {
	return []Device{
		{
			ID:              "water_heater",
			Name:            "Water heater",
			Switch:          "switch.immersion",
			StartEntity:     "input_datetime.wh_start_time",
			StopEntity:      "input_datetime.wh_stop_time",
			OverrideEntity:  "input_boolean.wh_override",
			ThresholdEntity: "input_number.wh_threshold",
			MinSlotsEntity:  "input_number.wh_min_slots",
		},
		{
			ID:              "ev_charger",
			Name:            "EV charger",
			Switch:          "switch.ev_charger",
			StartEntity:     "input_datetime.tesla_start_time",
			StopEntity:      "input_datetime.tesla_stop_time",
			OverrideEntity:  "input_boolean.tesla_override",
			ThresholdEntity: "input_number.tesla_threshold",
			MinSlotsEntity:  "input_number.tesla_min_slots",
			LocationEntity:  "device_tracker.ev_location_tracker",
			HomeLocation:    "home",
			PluggedInEntity: "binary_sensor.ev_charger_sensor",
		},
	}
}

// Command is the instruction sent to a device.
type Command int

const (
	CommandNoChange Command = 0
	CommandOn       Command = 1
	CommandOff      Command = -1
)

func (c Command) String() string {
	switch c {
	case CommandOn:
		return "on"
	case CommandOff:
		return "off"
	default:
		return "noChange"
	}
}

// MarshalText encodes the command by name.
func (c Command) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText decodes a name written by MarshalText.
func (c *Command) UnmarshalText(b []byte) error {
	switch string(b) {
	case "on":
		*c = CommandOn
	case "off":
		*c = CommandOff
	case "noChange", "":
		*c = CommandNoChange
	default:
		return fmt.Errorf("invalid command: %q", b)
	}
	return nil
}

// ActionReason represents why a command was chosen.
type ActionReason string

const (
	ActionReasonOverride      ActionReason = "override"
	ActionReasonNotPresent    ActionReason = "notPresent"
	ActionReasonNotConnected  ActionReason = "notConnected"
	ActionReasonOutsideWindow ActionReason = "outsideWindow"
	ActionReasonCheap         ActionReason = "cheap"
	ActionReasonExpensive     ActionReason = "expensive"
)

// Action records a decision made for a device.
type Action struct {
	Timestamp    time.Time       `json:"timestamp"`
	DeviceID     string          `json:"deviceID"`
	Command      Command         `json:"command"`
	Reason       ActionReason    `json:"reason"`
	Description  string          `json:"description"`
	CurrentPrice decimal.Decimal `json:"currentPrice"`
	Threshold    decimal.Decimal `json:"threshold"`
	Window       Span            `json:"window"`
	Failed       bool            `json:"failed,omitempty"`
	Error        string          `json:"error,omitempty"`
}
