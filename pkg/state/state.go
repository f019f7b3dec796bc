// Package state holds the controller's in-process view of the shared state
// store and turns every change into a typed Event.
package state

import (
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/raterudder/loadshift/pkg/types"
)

var (
	// DefaultPrice is used for the current and minimum price until a price
	// slot covering now has been seen.
	DefaultPrice = decimal.NewFromInt(25)

	// DefaultThreshold is used until a threshold has been loaded or computed.
	DefaultThreshold = decimal.NewFromInt(9)
)

// DeviceState is the mutable state of one device.
type DeviceState struct {
	ID        string           `json:"id"`
	Name      string           `json:"name"`
	Threshold decimal.Decimal  `json:"threshold"`
	Override  bool             `json:"override"`
	Start     *types.TimeOfDay `json:"start,omitempty"`
	Stop      *types.TimeOfDay `json:"stop,omitempty"`
	MinSlots  int              `json:"minSlots"`

	// Presence, only meaningful when the device tracks it
	Location  string `json:"location,omitempty"`
	PluggedIn *bool  `json:"pluggedIn,omitempty"`

	LastAction *types.Action `json:"lastAction,omitempty"`
}

// Window returns the configured window or false if either end is unknown.
func (d DeviceState) Window() (types.Window, bool) {
	if d.Start == nil || d.Stop == nil {
		return types.Window{}, false
	}
	return types.Window{Start: *d.Start, Stop: *d.Stop}, true
}

func (d DeviceState) clone() DeviceState {
	c := d
	if d.Start != nil {
		s := *d.Start
		c.Start = &s
	}
	if d.Stop != nil {
		s := *d.Stop
		c.Stop = &s
	}
	if d.PluggedIn != nil {
		p := *d.PluggedIn
		c.PluggedIn = &p
	}
	if d.LastAction != nil {
		a := *d.LastAction
		c.LastAction = &a
	}
	return c
}

// Snapshot is a point in time copy of State.
type Snapshot struct {
	CurrentPrice decimal.Decimal `json:"currentPrice"`
	MinimumPrice decimal.Decimal `json:"minimumPrice"`
	DST          *bool           `json:"dst,omitempty"`
	Devices      []DeviceState   `json:"devices"`
}

// State is safe for concurrent reads. Mutations are expected to happen on
// the Bus goroutine so the queued events are dispatched in order.
type State struct {
	mu           sync.RWMutex
	currentPrice decimal.Decimal
	minimumPrice decimal.Decimal
	dst          *bool
	devices      map[string]*DeviceState
	order        []string
	pending      []Event
}

// New returns a State for the given devices with default prices and
// thresholds.
func New(devices []types.Device) *State {
	s := &State{
		currentPrice: DefaultPrice,
		minimumPrice: DefaultPrice,
		devices:      make(map[string]*DeviceState, len(devices)),
	}
	for _, d := range devices {
		s.devices[d.ID] = &DeviceState{
			ID:        d.ID,
			Name:      d.Name,
			Threshold: DefaultThreshold,
		}
		s.order = append(s.order, d.ID)
	}
	return s
}

func (s *State) queue(kind Kind, device string) {
	s.pending = append(s.pending, Event{Kind: kind, Device: device})
}

func (s *State) device(id string) (*DeviceState, error) {
	d, ok := s.devices[id]
	if !ok {
		return nil, fmt.Errorf("unknown device: %s", id)
	}
	return d, nil
}

// Drain returns and clears the queued events.
func (s *State) Drain() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	events := s.pending
	s.pending = nil
	return events
}

// CurrentPrice returns the price of the slot containing now.
func (s *State) CurrentPrice() decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentPrice
}

// SetCurrentPrice sets the current price, queueing PriceChanged.
func (s *State) SetCurrentPrice(p decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.currentPrice.Equal(p) {
		return
	}
	s.currentPrice = p
	s.queue(PriceChanged, "")
}

// MinimumPrice returns the cheapest price in the last fetched series.
func (s *State) MinimumPrice() decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.minimumPrice
}

// SetMinimumPrice sets the minimum price, queueing MinimumPriceChanged.
func (s *State) SetMinimumPrice(p decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.minimumPrice.Equal(p) {
		return
	}
	s.minimumPrice = p
	s.queue(MinimumPriceChanged, "")
}

// DST returns the daylight saving flag and whether it has been set.
func (s *State) DST() (bool, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.dst == nil {
		return false, false
	}
	return *s.dst, true
}

// SetDST sets the daylight saving flag.
func (s *State) SetDST(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dst != nil && *s.dst == on {
		return
	}
	s.dst = &on
	s.queue(DSTChanged, "")
}

// DeviceIDs returns the device IDs in configuration order.
func (s *State) DeviceIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.order...)
}

// Device returns a copy of the device's state.
func (s *State) Device(id string) (DeviceState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.devices[id]
	if !ok {
		return DeviceState{}, false
	}
	return d.clone(), true
}

// SetThreshold sets the device's threshold, queueing ThresholdChanged.
func (s *State) SetThreshold(id string, t decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.device(id)
	if err != nil {
		return err
	}
	if d.Threshold.Equal(t) {
		return nil
	}
	d.Threshold = t
	s.queue(ThresholdChanged, id)
	return nil
}

// SetOverride sets the device's override flag, queueing OverrideChanged.
func (s *State) SetOverride(id string, on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.device(id)
	if err != nil {
		return err
	}
	if d.Override == on {
		return nil
	}
	d.Override = on
	s.queue(OverrideChanged, id)
	return nil
}

func setTimeOfDay(dst **types.TimeOfDay, t types.TimeOfDay) bool {
	if *dst != nil && **dst == t {
		return false
	}
	*dst = &t
	return true
}

// SetWindowStart sets the start of the device's window, queueing WindowChanged.
func (s *State) SetWindowStart(id string, t types.TimeOfDay) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.device(id)
	if err != nil {
		return err
	}
	if setTimeOfDay(&d.Start, t) {
		s.queue(WindowChanged, id)
	}
	return nil
}

// SetWindowStop sets the end of the device's window, queueing WindowChanged.
func (s *State) SetWindowStop(id string, t types.TimeOfDay) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.device(id)
	if err != nil {
		return err
	}
	if setTimeOfDay(&d.Stop, t) {
		s.queue(WindowChanged, id)
	}
	return nil
}

// SetMinSlots sets the number of slots the device wants, queueing SlotsChanged.
func (s *State) SetMinSlots(id string, n int) error {
	if n < 0 {
		return fmt.Errorf("min slots for %s cannot be negative: %d", id, n)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.device(id)
	if err != nil {
		return err
	}
	if d.MinSlots == n {
		return nil
	}
	d.MinSlots = n
	s.queue(SlotsChanged, id)
	return nil
}

// SetLocation sets the device's location reading, queueing PresenceChanged.
func (s *State) SetLocation(id, location string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.device(id)
	if err != nil {
		return err
	}
	if d.Location == location {
		return nil
	}
	d.Location = location
	s.queue(PresenceChanged, id)
	return nil
}

// SetPluggedIn sets whether the device is connected, queueing PresenceChanged.
func (s *State) SetPluggedIn(id string, on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.device(id)
	if err != nil {
		return err
	}
	if d.PluggedIn != nil && *d.PluggedIn == on {
		return nil
	}
	d.PluggedIn = &on
	s.queue(PresenceChanged, id)
	return nil
}

// RecordAction stores the last action applied to the device. It does not
// queue an event.
func (s *State) RecordAction(id string, a types.Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.device(id)
	if err != nil {
		return err
	}
	d.LastAction = &a
	return nil
}

// Snapshot returns a copy of the whole state.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{
		CurrentPrice: s.currentPrice,
		MinimumPrice: s.minimumPrice,
		Devices:      make([]DeviceState, 0, len(s.order)),
	}
	if s.dst != nil {
		dst := *s.dst
		snap.DST = &dst
	}
	for _, id := range s.order {
		snap.Devices = append(snap.Devices, s.devices[id].clone())
	}
	return snap
}
