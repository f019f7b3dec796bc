package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/raterudder/loadshift/pkg/log"
	"github.com/raterudder/loadshift/pkg/state"
	"github.com/raterudder/loadshift/pkg/storage"
	"github.com/raterudder/loadshift/pkg/types"
)

type bindingKind int

const (
	bindCurrentPrice bindingKind = iota + 1
	bindMinimumPrice
	bindDST
	bindThreshold
	bindOverride
	bindWindowStart
	bindWindowStop
	bindMinSlots
	bindLocation
	bindPluggedIn
)

// binding is what a store entity configures.
type binding struct {
	kind   bindingKind
	device string
}

// maxMinSlots is far above the half hour slots in one fetch.
const maxMinSlots = 1000

var priceAttributes = map[string]any{"unit_of_measurement": types.PriceUnit}

func (s *Server) buildBindings() map[string]binding {
	b := make(map[string]binding)
	add := func(entity string, kind bindingKind, device string) {
		if entity == "" {
			return
		}
		b[entity] = binding{kind: kind, device: device}
	}
	add(s.entities.CurrentPrice, bindCurrentPrice, "")
	add(s.entities.MinimumPrice, bindMinimumPrice, "")
	add(s.entities.DST, bindDST, "")
	for _, d := range s.devices {
		add(d.ThresholdEntity, bindThreshold, d.ID)
		add(d.OverrideEntity, bindOverride, d.ID)
		add(d.StartEntity, bindWindowStart, d.ID)
		add(d.StopEntity, bindWindowStop, d.ID)
		add(d.MinSlotsEntity, bindMinSlots, d.ID)
		add(d.LocationEntity, bindLocation, d.ID)
		add(d.PluggedInEntity, bindPluggedIn, d.ID)
	}
	return b
}

// loadState reads every bound entity from the store. The events the load
// queues are discarded; the first analysis and evaluation follow.
func (s *Server) loadState(ctx context.Context) error {
	if err := s.reloadState(ctx); err != nil {
		return err
	}
	s.state.Drain()
	return nil
}

// reloadState reads every bound entity from the store and applies it like a
// change notification. Missing entities keep their current value and a
// malformed value is logged and skipped.
func (s *Server) reloadState(ctx context.Context) error {
	for entity := range s.bindings {
		value, err := s.store.GetState(ctx, entity)
		if errors.Is(err, storage.ErrNotFound) {
			log.Ctx(ctx).WarnContext(ctx, "entity not found in store", slog.String("entity", entity))
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", entity, err)
		}
		if err := s.applyChange(ctx, entity, value); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "ignoring entity", slog.String("entity", entity), slog.Any("error", err))
		}
	}
	return nil
}

func isUnavailable(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "unavailable", "unknown":
		return true
	}
	return false
}

func parseBool(value string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "on", "true":
		return true, nil
	case "off", "false":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean state: %q", value)
}

func parseDecimal(value string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("invalid number %q: %w", value, err)
	}
	return d, nil
}

// applyChange parses value according to what entity configures and updates
// the State. It must run on the bus.
func (s *Server) applyChange(ctx context.Context, entity, value string) error {
	b, ok := s.bindings[entity]
	if !ok {
		return nil
	}
	if isUnavailable(value) {
		log.Ctx(ctx).DebugContext(ctx, "entity unavailable", slog.String("entity", entity), slog.String("state", value))
		return nil
	}

	switch b.kind {
	case bindCurrentPrice, bindMinimumPrice, bindThreshold:
		d, err := parseDecimal(value)
		if err != nil {
			return fmt.Errorf("%s: %w", entity, err)
		}
		s.known[entity] = d.String()
		switch b.kind {
		case bindCurrentPrice:
			s.state.SetCurrentPrice(d)
		case bindMinimumPrice:
			s.state.SetMinimumPrice(d)
		default:
			return s.state.SetThreshold(b.device, d)
		}
	case bindDST, bindOverride, bindPluggedIn:
		on, err := parseBool(value)
		if err != nil {
			return fmt.Errorf("%s: %w", entity, err)
		}
		s.known[entity] = value
		switch b.kind {
		case bindDST:
			s.state.SetDST(on)
		case bindOverride:
			return s.state.SetOverride(b.device, on)
		default:
			return s.state.SetPluggedIn(b.device, on)
		}
	case bindWindowStart, bindWindowStop:
		tod, err := types.ParseTimeOfDay(value)
		if err != nil {
			return fmt.Errorf("%s: %w", entity, err)
		}
		if b.kind == bindWindowStart {
			return s.state.SetWindowStart(b.device, tod)
		}
		return s.state.SetWindowStop(b.device, tod)
	case bindMinSlots:
		// input_number helpers report "3.0"
		f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return fmt.Errorf("%s: invalid slot count %q: %w", entity, value, err)
		}
		if math.IsNaN(f) || f < 0 || f > maxMinSlots {
			return fmt.Errorf("%s: slot count out of range: %q", entity, value)
		}
		return s.state.SetMinSlots(b.device, int(f))
	case bindLocation:
		return s.state.SetLocation(b.device, strings.TrimSpace(value))
	}
	return nil
}

// mirror writes a price back to the store unless the store already holds it.
func (s *Server) mirror(ctx context.Context, entity string, value decimal.Decimal) error {
	if entity == "" {
		return nil
	}
	v := value.String()
	if s.known[entity] == v {
		return nil
	}
	if err := s.store.SetState(ctx, entity, v, priceAttributes); err != nil {
		return fmt.Errorf("failed to write %s: %w", entity, err)
	}
	s.known[entity] = v
	return nil
}

func (s *Server) subscribeHandlers() {
	s.bus.Subscribe(state.ThresholdChanged, "mirror threshold", func(ctx context.Context, e state.Event) error {
		dev, ok := s.deviceConfig(e.Device)
		if !ok {
			return fmt.Errorf("unknown device: %s", e.Device)
		}
		ds, _ := s.state.Device(e.Device)
		return s.mirror(ctx, dev.ThresholdEntity, ds.Threshold)
	})
	s.bus.Subscribe(state.PriceChanged, "mirror current price", func(ctx context.Context, e state.Event) error {
		return s.mirror(ctx, s.entities.CurrentPrice, s.state.CurrentPrice())
	})
	s.bus.Subscribe(state.MinimumPriceChanged, "mirror minimum price", func(ctx context.Context, e state.Event) error {
		return s.mirror(ctx, s.entities.MinimumPrice, s.state.MinimumPrice())
	})

	evaluateDevice := func(ctx context.Context, e state.Event) error {
		_, err := s.evaluator.Evaluate(ctx, e.Device)
		return err
	}
	s.bus.Subscribe(state.ThresholdChanged, "evaluate", evaluateDevice)
	s.bus.Subscribe(state.OverrideChanged, "evaluate", evaluateDevice)
	s.bus.Subscribe(state.PresenceChanged, "evaluate", evaluateDevice)
	s.bus.Subscribe(state.WindowChanged, "evaluate", evaluateDevice)
	s.bus.Subscribe(state.PriceChanged, "evaluate all", func(ctx context.Context, e state.Event) error {
		return s.evaluator.EvaluateAll(ctx)
	})

	reanalyze := func(ctx context.Context, e state.Event) error {
		return s.analyze(ctx)
	}
	s.bus.Subscribe(state.SlotsChanged, "analyze", reanalyze)
	if s.dstFlag {
		s.bus.Subscribe(state.DSTChanged, "analyze", reanalyze)
	}
}

func (s *Server) deviceConfig(id string) (types.Device, bool) {
	for _, d := range s.devices {
		if d.ID == id {
			return d, true
		}
	}
	return types.Device{}, false
}
