package state

import "fmt"

// Kind identifies what changed.
type Kind int

const (
	PriceChanged Kind = iota + 1
	MinimumPriceChanged
	ThresholdChanged
	OverrideChanged
	PresenceChanged
	WindowChanged
	SlotsChanged
	DSTChanged
)

func (k Kind) String() string {
	switch k {
	case PriceChanged:
		return "priceChanged"
	case MinimumPriceChanged:
		return "minimumPriceChanged"
	case ThresholdChanged:
		return "thresholdChanged"
	case OverrideChanged:
		return "overrideChanged"
	case PresenceChanged:
		return "presenceChanged"
	case WindowChanged:
		return "windowChanged"
	case SlotsChanged:
		return "slotsChanged"
	case DSTChanged:
		return "dstChanged"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Event is queued by State whenever a value actually changes. Device is
// empty for global values.
type Event struct {
	Kind   Kind   `json:"kind"`
	Device string `json:"device,omitempty"`
}

func (e Event) String() string {
	if e.Device == "" {
		return e.Kind.String()
	}
	return e.Kind.String() + "(" + e.Device + ")"
}
