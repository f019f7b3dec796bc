package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceUnit is the unit label attached to every price written to the store.
const PriceUnit = "p/kWh"

// Price represents the cost of electricity in a time interval.
type Price struct {
	Provider string    `json:"provider"`
	TSStart  time.Time `json:"tsStart"`
	TSEnd    time.Time `json:"tsEnd"`

	// PencePerKWH is the unit rate including VAT, rounded to 3 decimal places.
	PencePerKWH decimal.Decimal `json:"pencePerKWH"`
}

// Contains reports whether t falls within [TSStart, TSEnd).
func (p Price) Contains(t time.Time) bool {
	return !t.Before(p.TSStart) && t.Before(p.TSEnd)
}

// WallClock returns the wall-clock reading of t as a UTC time. Times produced
// by WallClock can be compared with each other regardless of the zone they
// were read in, which is how configured time-of-day windows are evaluated.
func WallClock(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}
