package controller

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/raterudder/loadshift/pkg/log"
	"github.com/raterudder/loadshift/pkg/state"
	"github.com/raterudder/loadshift/pkg/types"
	"github.com/raterudder/loadshift/pkg/utility"
)

const (
	fetchBehind = time.Hour
	fetchAhead  = 25 * time.Hour
)

// Slot is a price slot with its times converted to wall clock.
type Slot struct {
	Start time.Time       `json:"start"`
	End   time.Time       `json:"end"`
	Price decimal.Decimal `json:"price"`
}

// DeviceAnalysis is the per-device result of an analysis.
type DeviceAnalysis struct {
	DeviceID         string            `json:"deviceID"`
	Window           types.Span        `json:"window"`
	Eligible         []decimal.Decimal `json:"eligible"`
	MinSlots         int               `json:"minSlots"`
	Threshold        decimal.Decimal   `json:"threshold"`
	ThresholdUpdated bool              `json:"thresholdUpdated"`
}

// Analysis is the result of one analysis cycle.
type Analysis struct {
	Now             time.Time        `json:"now"`
	Slots           []Slot           `json:"slots"`
	Devices         []DeviceAnalysis `json:"devices"`
	UpdateHour      bool             `json:"updateHour"`
	CurrentPrice    decimal.Decimal  `json:"currentPrice"`
	HasCurrentPrice bool             `json:"hasCurrentPrice"`
	MinimumPrice    decimal.Decimal  `json:"minimumPrice"`
	HasMinimumPrice bool             `json:"hasMinimumPrice"`
}

// Analyzer fetches prices, works out which slots fall within each device's
// window and derives the device thresholds and the current price.
type Analyzer struct {
	cfg    Config
	prices utility.Provider
	state  *state.State

	mu   sync.Mutex
	last *Analysis
}

// NewAnalyzer returns an Analyzer writing into st.
func NewAnalyzer(cfg Config, prices utility.Provider, st *state.State) *Analyzer {
	return &Analyzer{
		cfg:    cfg.withDefaults(),
		prices: prices,
		state:  st,
	}
}

// Last returns the most recent successful analysis.
func (a *Analyzer) Last() (Analysis, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.last == nil {
		return Analysis{}, false
	}
	return *a.last, true
}

// slotWallClock converts an instant to the wall clock the windows are
// expressed in.
func (a *Analyzer) slotWallClock(t time.Time) time.Time {
	if a.cfg.DSTFlag {
		w := t.UTC()
		if dst, _ := a.state.DST(); dst {
			w = w.Add(time.Hour)
		}
		return w
	}
	return types.WallClock(t.In(a.cfg.Location))
}

// Analyze runs one analysis cycle. It is idempotent and must run on the
// state Bus so the events it queues are dispatched in order: thresholds are
// written before the minimum and current prices.
func (a *Analyzer) Analyze(ctx context.Context) (Analysis, error) {
	instant := a.cfg.Now()
	now := types.WallClock(instant.In(a.cfg.Location))

	devices := make([]DeviceAnalysis, 0, len(a.cfg.Devices))
	for _, d := range a.cfg.Devices {
		ds, ok := a.state.Device(d.ID)
		if !ok {
			return Analysis{}, fmt.Errorf("unknown device: %s", d.ID)
		}
		w, ok := ds.Window()
		if !ok {
			return Analysis{}, fmt.Errorf("%s: %w", d.ID, ErrNoWindow)
		}
		devices = append(devices, DeviceAnalysis{
			DeviceID:  d.ID,
			Window:    w.Normalize(now),
			MinSlots:  ds.MinSlots,
			Threshold: ds.Threshold,
		})
	}

	prices, err := a.prices.GetPrices(ctx, instant.Add(-fetchBehind), instant.Add(fetchAhead))
	if err != nil {
		return Analysis{}, fmt.Errorf("failed to fetch prices: %w", err)
	}

	an := Analysis{
		Now:        now,
		Devices:    devices,
		UpdateHour: now.Hour() == a.cfg.UpdateHour,
		Slots: lo.Map(prices, func(p types.Price, _ int) Slot {
			return Slot{
				Start: a.slotWallClock(p.TSStart),
				End:   a.slotWallClock(p.TSEnd),
				Price: p.PencePerKWH,
			}
		}),
	}

	for _, s := range an.Slots {
		for i := range an.Devices {
			if an.Devices[i].Window.Covers(s.Start, s.End) {
				an.Devices[i].Eligible = append(an.Devices[i].Eligible, s.Price)
			}
		}
		// overlapping slots resolve to the last one in feed order
		if !now.Before(s.Start) && now.Before(s.End) {
			an.CurrentPrice = s.Price
			an.HasCurrentPrice = true
		}
	}

	for i := range an.Devices {
		da := &an.Devices[i]
		sortPrices(da.Eligible)
		if !an.UpdateHour {
			continue
		}
		t, ok := SelectThreshold(da.Eligible, da.MinSlots, a.cfg.Headroom)
		if !ok {
			continue
		}
		if err := a.state.SetThreshold(da.DeviceID, t); err != nil {
			return Analysis{}, err
		}
		da.Threshold = t
		da.ThresholdUpdated = true
	}

	if len(an.Slots) > 0 {
		minSlot := lo.MinBy(an.Slots, func(x, y Slot) bool {
			return x.Price.LessThan(y.Price)
		})
		an.MinimumPrice = minSlot.Price
		an.HasMinimumPrice = true
		a.state.SetMinimumPrice(an.MinimumPrice)
	}
	if an.HasCurrentPrice {
		a.state.SetCurrentPrice(an.CurrentPrice)
	} else {
		log.Ctx(ctx).WarnContext(ctx, "no price slot covers now, keeping previous price", slog.Time("now", now))
	}

	log.Ctx(ctx).InfoContext(
		ctx,
		"analysis complete",
		slog.Int("slots", len(an.Slots)),
		slog.Bool("updateHour", an.UpdateHour),
		slog.String("currentPrice", a.state.CurrentPrice().String()),
		slog.String("minimumPrice", a.state.MinimumPrice().String()),
	)
	for _, da := range an.Devices {
		log.Ctx(ctx).DebugContext(
			ctx,
			"device analysis",
			slog.String("device", da.DeviceID),
			slog.Time("windowStart", da.Window.Start),
			slog.Time("windowStop", da.Window.Stop),
			slog.Int("eligible", len(da.Eligible)),
			slog.Int("minSlots", da.MinSlots),
			slog.String("threshold", da.Threshold.String()),
			slog.Bool("thresholdUpdated", da.ThresholdUpdated),
		)
	}

	a.mu.Lock()
	a.last = &an
	a.mu.Unlock()

	return an, nil
}
