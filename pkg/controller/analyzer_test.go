package controller

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/raterudder/loadshift/pkg/state"
	"github.com/raterudder/loadshift/pkg/types"
)

func utc(day, h, m int) time.Time {
	return time.Date(2026, 1, day, h, m, 0, 0, time.UTC)
}

// eveningPrices covers Jan 10 19:00 to Jan 11 06:30 UTC.
func eveningPrices() []types.Price {
	return []types.Price{
		slot(utc(10, 19, 0), "18"),
		slot(utc(10, 19, 30), "19"),
		slot(utc(10, 20, 0), "20"),
		slot(utc(10, 21, 30), "3"),
		slot(utc(10, 22, 0), "8"),
		slot(utc(10, 22, 30), "12"),
		slot(utc(10, 23, 0), "9"),
		slot(utc(10, 23, 30), "15"),
		slot(utc(11, 0, 0), "10"),
		slot(utc(11, 6, 0), "5"),
	}
}

func newTestAnalyzer(now time.Time, prices *mockPrices, st *state.State) *Analyzer {
	return NewAnalyzer(Config{
		Devices:    types.DefaultDevices(),
		UpdateHour: DefaultUpdateHour,
		Headroom:   DefaultHeadroom,
		Location:   time.UTC,
		Now:        fixedNow(now),
	}, prices, st)
}

func TestAnalyze(t *testing.T) {
	ctx := context.Background()

	t.Run("Update Hour Sets Thresholds Before Prices", func(t *testing.T) {
		now := utc(10, 20, 10)
		st := newTestState(t, "22:00", "06:00", "00:00", "01:00")
		require.NoError(t, st.SetMinSlots("water_heater", 3))
		st.Drain()

		prices := &mockPrices{}
		prices.On("GetPrices", mock.Anything, now.Add(-time.Hour), now.Add(25*time.Hour)).Return(eveningPrices(), nil).Once()

		an, err := newTestAnalyzer(now, prices, st).Analyze(ctx)
		require.NoError(t, err)
		prices.AssertExpectations(t)

		assert.True(t, an.UpdateHour)
		require.Len(t, an.Devices, 2)

		wh := an.Devices[0]
		assert.Equal(t, utc(10, 22, 0), wh.Window.Start)
		assert.Equal(t, utc(11, 6, 0), wh.Window.Stop)
		assert.Equal(t, []string{"8", "9", "10", "12", "15"}, decimalStrings(wh.Eligible))
		assert.True(t, wh.ThresholdUpdated)
		assert.True(t, d("10.01").Equal(wh.Threshold))

		ev := an.Devices[1]
		assert.Equal(t, utc(11, 0, 0), ev.Window.Start)
		assert.Equal(t, []string{"10"}, decimalStrings(ev.Eligible))
		assert.False(t, ev.ThresholdUpdated, "zero min slots leaves threshold")

		whState, _ := st.Device("water_heater")
		assert.True(t, d("10.01").Equal(whState.Threshold))
		evState, _ := st.Device("ev_charger")
		assert.True(t, state.DefaultThreshold.Equal(evState.Threshold))

		assert.True(t, an.HasCurrentPrice)
		assert.True(t, d("20").Equal(st.CurrentPrice()))
		assert.True(t, d("3").Equal(st.MinimumPrice()))

		assert.Equal(t, []state.Event{
			{Kind: state.ThresholdChanged, Device: "water_heater"},
			{Kind: state.MinimumPriceChanged},
			{Kind: state.PriceChanged},
		}, st.Drain())

		last, ok := newTestAnalyzer(now, prices, st).Last()
		assert.False(t, ok, "a new analyzer has no last analysis")
		assert.Empty(t, last.Slots)
	})

	t.Run("Outside Update Hour Keeps Thresholds", func(t *testing.T) {
		now := utc(10, 19, 10)
		st := newTestState(t, "22:00", "06:00", "00:00", "01:00")
		require.NoError(t, st.SetMinSlots("water_heater", 3))
		st.Drain()

		prices := &mockPrices{}
		prices.On("GetPrices", mock.Anything, mock.Anything, mock.Anything).Return(eveningPrices(), nil)

		a := newTestAnalyzer(now, prices, st)
		an, err := a.Analyze(ctx)
		require.NoError(t, err)
		assert.False(t, an.UpdateHour)
		assert.False(t, an.Devices[0].ThresholdUpdated)

		whState, _ := st.Device("water_heater")
		assert.True(t, state.DefaultThreshold.Equal(whState.Threshold))
		assert.True(t, d("18").Equal(st.CurrentPrice()))

		last, ok := a.Last()
		require.True(t, ok)
		assert.Equal(t, an.Now, last.Now)
	})

	t.Run("Slot End Is Exclusive", func(t *testing.T) {
		now := utc(10, 19, 30)
		st := newTestState(t, "22:00", "06:00", "00:00", "01:00")
		prices := &mockPrices{}
		prices.On("GetPrices", mock.Anything, mock.Anything, mock.Anything).Return(eveningPrices(), nil)

		_, err := newTestAnalyzer(now, prices, st).Analyze(ctx)
		require.NoError(t, err)
		assert.True(t, d("19").Equal(st.CurrentPrice()))
	})

	t.Run("No Current Slot Retains Price", func(t *testing.T) {
		now := utc(10, 21, 0)
		st := newTestState(t, "22:00", "06:00", "00:00", "01:00")
		prices := &mockPrices{}
		prices.On("GetPrices", mock.Anything, mock.Anything, mock.Anything).Return(eveningPrices(), nil)

		an, err := newTestAnalyzer(now, prices, st).Analyze(ctx)
		require.NoError(t, err)
		assert.False(t, an.HasCurrentPrice)
		assert.True(t, state.DefaultPrice.Equal(st.CurrentPrice()))
		assert.Equal(t, []state.Event{{Kind: state.MinimumPriceChanged}}, st.Drain())
	})

	t.Run("Empty Series Writes Nothing", func(t *testing.T) {
		now := utc(10, 20, 10)
		st := newTestState(t, "22:00", "06:00", "00:00", "01:00")
		require.NoError(t, st.SetMinSlots("water_heater", 3))
		st.Drain()
		prices := &mockPrices{}
		prices.On("GetPrices", mock.Anything, mock.Anything, mock.Anything).Return([]types.Price{}, nil)

		an, err := newTestAnalyzer(now, prices, st).Analyze(ctx)
		require.NoError(t, err)
		assert.False(t, an.HasMinimumPrice)
		assert.Empty(t, st.Drain())
	})

	t.Run("Min Slots Beyond Eligible", func(t *testing.T) {
		now := utc(10, 20, 10)
		st := newTestState(t, "22:00", "06:00", "00:00", "01:00")
		require.NoError(t, st.SetMinSlots("water_heater", 20))
		prices := &mockPrices{}
		prices.On("GetPrices", mock.Anything, mock.Anything, mock.Anything).Return(eveningPrices(), nil)

		_, err := newTestAnalyzer(now, prices, st).Analyze(ctx)
		require.NoError(t, err)
		whState, _ := st.Device("water_heater")
		assert.True(t, d("15.01").Equal(whState.Threshold))
	})

	t.Run("Missing Window", func(t *testing.T) {
		st := state.New(types.DefaultDevices())
		prices := &mockPrices{}

		_, err := newTestAnalyzer(utc(10, 20, 10), prices, st).Analyze(ctx)
		assert.ErrorIs(t, err, ErrNoWindow)
		prices.AssertNotCalled(t, "GetPrices", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Fetch Error Writes Nothing", func(t *testing.T) {
		st := newTestState(t, "22:00", "06:00", "00:00", "01:00")
		require.NoError(t, st.SetMinSlots("water_heater", 3))
		st.Drain()
		prices := &mockPrices{}
		prices.On("GetPrices", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("connection refused"))

		_, err := newTestAnalyzer(utc(10, 20, 10), prices, st).Analyze(ctx)
		assert.ErrorContains(t, err, "connection refused")
		assert.Empty(t, st.Drain())
	})

	t.Run("DST Flag Shifts Slots", func(t *testing.T) {
		now := utc(10, 20, 10)
		st := newTestState(t, "22:00", "06:00", "00:00", "01:00")
		require.NoError(t, st.SetMinSlots("water_heater", 1))
		st.SetDST(true)
		st.Drain()

		prices := &mockPrices{}
		prices.On("GetPrices", mock.Anything, mock.Anything, mock.Anything).Return([]types.Price{
			slot(utc(10, 19, 0), "18"), // 20:00 wall, current
			slot(utc(10, 21, 0), "4"),  // 22:00 wall, eligible
			slot(utc(11, 5, 0), "6"),   // 06:00 wall, outside
		}, nil)

		a := NewAnalyzer(Config{
			Devices:    types.DefaultDevices(),
			UpdateHour: DefaultUpdateHour,
			Headroom:   DefaultHeadroom,
			Location:   time.UTC,
			DSTFlag:    true,
			Now:        fixedNow(now),
		}, prices, st)
		an, err := a.Analyze(ctx)
		require.NoError(t, err)

		assert.Equal(t, utc(10, 22, 0), an.Slots[1].Start)
		assert.Equal(t, []string{"4"}, decimalStrings(an.Devices[0].Eligible))
		assert.True(t, d("18").Equal(st.CurrentPrice()))
		whState, _ := st.Device("water_heater")
		assert.True(t, d("4.01").Equal(whState.Threshold))
	})

	t.Run("DST Flag Off", func(t *testing.T) {
		now := utc(10, 20, 10)
		st := newTestState(t, "22:00", "06:00", "00:00", "01:00")
		st.SetDST(false)

		prices := &mockPrices{}
		prices.On("GetPrices", mock.Anything, mock.Anything, mock.Anything).Return([]types.Price{slot(utc(10, 21, 0), "4")}, nil)

		an, err := NewAnalyzer(Config{
			Devices:  types.DefaultDevices(),
			Headroom: DefaultHeadroom,
			Location: time.UTC,
			DSTFlag:  true,
			Now:      fixedNow(now),
		}, prices, st).Analyze(ctx)
		require.NoError(t, err)
		assert.Equal(t, utc(10, 21, 0), an.Slots[0].Start)
		assert.Empty(t, an.Devices[0].Eligible)
	})

	t.Run("Location Converts Slots", func(t *testing.T) {
		london, err := time.LoadLocation("Europe/London")
		if err != nil {
			t.Skip("tzdata not available")
		}
		// 19:10 UTC is 20:10 BST
		now := time.Date(2026, 7, 10, 19, 10, 0, 0, time.UTC)
		st := newTestState(t, "22:00", "06:00", "00:00", "01:00")
		require.NoError(t, st.SetMinSlots("water_heater", 1))
		st.Drain()

		prices := &mockPrices{}
		prices.On("GetPrices", mock.Anything, mock.Anything, mock.Anything).Return([]types.Price{
			slot(time.Date(2026, 7, 10, 19, 0, 0, 0, time.UTC), "18"),
			slot(time.Date(2026, 7, 10, 21, 0, 0, 0, time.UTC), "4"),
		}, nil)

		an, err := NewAnalyzer(Config{
			Devices:    types.DefaultDevices(),
			UpdateHour: DefaultUpdateHour,
			Headroom:   DefaultHeadroom,
			Location:   london,
			Now:        fixedNow(now),
		}, prices, st).Analyze(ctx)
		require.NoError(t, err)

		assert.True(t, an.UpdateHour)
		assert.Equal(t, 20, an.Now.Hour())
		assert.Equal(t, 22, an.Slots[1].Start.Hour())
		assert.Equal(t, []string{"4"}, decimalStrings(an.Devices[0].Eligible))
		assert.True(t, d("18").Equal(st.CurrentPrice()))
	})

	t.Run("Idempotent", func(t *testing.T) {
		now := utc(10, 20, 10)
		st := newTestState(t, "22:00", "06:00", "00:00", "01:00")
		require.NoError(t, st.SetMinSlots("water_heater", 3))
		prices := &mockPrices{}
		prices.On("GetPrices", mock.Anything, mock.Anything, mock.Anything).Return(eveningPrices(), nil)

		a := newTestAnalyzer(now, prices, st)
		_, err := a.Analyze(ctx)
		require.NoError(t, err)
		st.Drain()
		_, err = a.Analyze(ctx)
		require.NoError(t, err)
		assert.Empty(t, st.Drain(), "a second run with the same prices changes nothing")
	})
}

func decimalStrings[T interface{ String() string }](list []T) []string {
	out := make([]string, 0, len(list))
	for _, v := range list {
		out = append(out, v.String())
	}
	return out
}
