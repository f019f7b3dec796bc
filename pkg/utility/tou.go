package utility

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/shopspring/decimal"

	"github.com/raterudder/loadshift/pkg/types"
)

const touSlot = 30 * time.Minute

// TOUPeriod is a daily range with its own unit rate. End before Start wraps
// past midnight.
type TOUPeriod struct {
	Start       string          `json:"start"`
	End         string          `json:"end"`
	PencePerKWH decimal.Decimal `json:"pencePerKWH"`
}

type touPeriod struct {
	start, end int // seconds into the day
	price      decimal.Decimal
}

func (p touPeriod) contains(sec int) bool {
	if p.start <= p.end {
		return sec >= p.start && sec < p.end
	}
	return sec >= p.start || sec < p.end
}

// TOU implements Provider for fixed time-of-use tariffs such as Economy 7.
// It publishes half hour slots priced from a daily schedule.
type TOU struct {
	base     decimal.Decimal
	periods  []touPeriod
	location *time.Location
	err      error
}

// defaultTOUPeriods is a typical Economy 7 night rate.
func defaultTOUPeriods() []TOUPeriod {
	return []TOUPeriod{
		{Start: "00:30", End: "07:30", PencePerKWH: decimal.RequireFromString("7.5")},
	}
}

// configuredTOU sets up flags for the time-of-use provider.
func configuredTOU() *TOU {
	t := &TOU{}
	periods := defaultTOUPeriods()
	lflag.JSON(&periods, "tou-periods", periods, "JSON list of {start, end, pencePerKWH} periods for the tou provider")
	base := lflag.String("tou-base-price", "28", "Unit rate in p/kWh outside every tou period")
	location := lflag.String("tou-location", "Europe/London", "Time zone the tou periods are expressed in")

	lflag.Do(func() {
		loc, err := time.LoadLocation(*location)
		if err != nil {
			t.err = fmt.Errorf("invalid tou-location %q: %w", *location, err)
			return
		}
		b, err := decimal.NewFromString(*base)
		if err != nil {
			t.err = fmt.Errorf("invalid tou-base-price %q: %w", *base, err)
			return
		}
		nt, err := NewTOU(b, periods, loc)
		if err != nil {
			t.err = err
			return
		}
		*t = *nt
	})
	return t
}

// NewTOU returns a provider charging base outside the given periods.
// Overlapping periods resolve to the last one listed.
func NewTOU(base decimal.Decimal, periods []TOUPeriod, location *time.Location) (*TOU, error) {
	if location == nil {
		return nil, errors.New("tou location is required")
	}
	t := &TOU{base: base, location: location}
	for _, p := range periods {
		start, err := types.ParseTimeOfDay(p.Start)
		if err != nil {
			return nil, fmt.Errorf("invalid tou period start: %w", err)
		}
		end, err := types.ParseTimeOfDay(p.End)
		if err != nil {
			return nil, fmt.Errorf("invalid tou period end: %w", err)
		}
		if start == end {
			return nil, fmt.Errorf("tou period %s-%s is empty", p.Start, p.End)
		}
		t.periods = append(t.periods, touPeriod{
			start: secondsOfDay(start),
			end:   secondsOfDay(end),
			price: p.PencePerKWH,
		})
	}
	return t, nil
}

func secondsOfDay(t types.TimeOfDay) int {
	return t.Hour*3600 + t.Minute*60 + t.Second
}

// Validate returns any error from parsing the flags.
func (t *TOU) Validate() error {
	if t.err != nil {
		return t.err
	}
	if t.location == nil {
		return errors.New("tou provider is not configured")
	}
	return nil
}

func (t *TOU) priceAt(ts time.Time) decimal.Decimal {
	local := ts.In(t.location)
	sec := local.Hour()*3600 + local.Minute()*60 + local.Second()
	price := t.base
	for _, p := range t.periods {
		if p.contains(sec) {
			price = p.price
		}
	}
	return price
}

// GetPrices implements Provider. Slots are aligned to the half hour and every
// slot overlapping [start, end) is returned.
func (t *TOU) GetPrices(ctx context.Context, start, end time.Time) ([]types.Price, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	var prices []types.Price
	for ts := start.UTC().Truncate(touSlot); ts.Before(end); ts = ts.Add(touSlot) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		prices = append(prices, types.Price{
			Provider:    "tou",
			TSStart:     ts,
			TSEnd:       ts.Add(touSlot),
			PencePerKWH: t.priceAt(ts),
		})
	}
	return prices, nil
}
