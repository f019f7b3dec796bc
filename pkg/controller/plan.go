package controller

import (
	"time"

	"github.com/samber/lo"

	"github.com/raterudder/loadshift/pkg/state"
	"github.com/raterudder/loadshift/pkg/types"
)

// PlanSlot is one upcoming price slot and the command each device would get
// while that slot is current.
type PlanSlot struct {
	Slot
	Commands map[string]types.Command `json:"commands"`
}

// Plan projects an analysis forward using the thresholds and overrides in
// snap. Presence is not projected: a device that tracks presence is planned
// as if it were home and connected. Slots that have already ended are
// skipped.
func Plan(an Analysis, snap state.Snapshot) []PlanSlot {
	windows := lo.SliceToMap(an.Devices, func(da DeviceAnalysis) (string, types.Span) {
		return da.DeviceID, da.Window
	})

	upcoming := lo.Filter(an.Slots, func(s Slot, _ int) bool {
		return s.End.After(an.Now)
	})

	plan := make([]PlanSlot, 0, len(upcoming))
	for _, s := range upcoming {
		ps := PlanSlot{Slot: s, Commands: make(map[string]types.Command, len(snap.Devices))}
		for _, ds := range snap.Devices {
			span, ok := windows[ds.ID]
			if !ok {
				continue
			}
			ps.Commands[ds.ID] = planCommand(s, span, ds)
		}
		plan = append(plan, ps)
	}
	return plan
}

func planCommand(s Slot, span types.Span, ds state.DeviceState) types.Command {
	switch {
	case ds.Override:
		return types.CommandOn
	case !span.Covers(s.Start, s.End):
		return types.CommandOff
	case s.Price.LessThanOrEqual(ds.Threshold):
		return types.CommandOn
	default:
		return types.CommandOff
	}
}

// PlannedDuration sums the time each device is planned to be on.
func PlannedDuration(plan []PlanSlot) map[string]time.Duration {
	total := make(map[string]time.Duration)
	for _, ps := range plan {
		for id, c := range ps.Commands {
			if c == types.CommandOn {
				total[id] += ps.End.Sub(ps.Start)
			}
		}
	}
	return total
}
