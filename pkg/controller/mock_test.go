package controller

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/raterudder/loadshift/pkg/log"
	"github.com/raterudder/loadshift/pkg/state"
	"github.com/raterudder/loadshift/pkg/types"
)

func init() {
	log.SetDefaultLogLevel(slog.LevelError)
}

type mockPrices struct {
	mock.Mock
}

func (m *mockPrices) GetPrices(ctx context.Context, start, end time.Time) ([]types.Price, error) {
	args := m.Called(ctx, start, end)
	prices, _ := args.Get(0).([]types.Price)
	return prices, args.Error(1)
}

type mockSwitch struct {
	mock.Mock
}

func (m *mockSwitch) TurnOn(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockSwitch) TurnOff(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func tod(t *testing.T, s string) types.TimeOfDay {
	t.Helper()
	v, err := types.ParseTimeOfDay(s)
	require.NoError(t, err)
	return v
}

// newTestState returns state with both default devices configured and the
// setup events drained.
func newTestState(t *testing.T, whStart, whStop, evStart, evStop string) *state.State {
	t.Helper()
	st := state.New(types.DefaultDevices())
	require.NoError(t, st.SetWindowStart("water_heater", tod(t, whStart)))
	require.NoError(t, st.SetWindowStop("water_heater", tod(t, whStop)))
	require.NoError(t, st.SetWindowStart("ev_charger", tod(t, evStart)))
	require.NoError(t, st.SetWindowStop("ev_charger", tod(t, evStop)))
	st.Drain()
	return st
}

func fixedNow(ts time.Time) func() time.Time {
	return func() time.Time { return ts }
}

// slot builds a price for [start, start+30m).
func slot(start time.Time, price string) types.Price {
	return types.Price{
		Provider:    "test",
		TSStart:     start,
		TSEnd:       start.Add(30 * time.Minute),
		PencePerKWH: d(price),
	}
}
