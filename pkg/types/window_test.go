package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func at(day, hour, minute int) time.Time {
	return time.Date(2026, 3, day, hour, minute, 0, 0, time.UTC)
}

func mustWindow(t *testing.T, start, stop string) Window {
	t.Helper()
	s, err := ParseTimeOfDay(start)
	require.NoError(t, err)
	e, err := ParseTimeOfDay(stop)
	require.NoError(t, err)
	return Window{Start: s, Stop: e}
}

func TestParseTimeOfDay(t *testing.T) {
	t.Run("Seconds", func(t *testing.T) {
		tod, err := ParseTimeOfDay("22:30:15")
		require.NoError(t, err)
		assert.Equal(t, TimeOfDay{Hour: 22, Minute: 30, Second: 15}, tod)
		assert.Equal(t, "22:30:15", tod.String())
	})

	t.Run("NoSeconds", func(t *testing.T) {
		tod, err := ParseTimeOfDay(" 06:00 ")
		require.NoError(t, err)
		assert.Equal(t, TimeOfDay{Hour: 6}, tod)
	})

	for _, bad := range []string{"", "6", "aa:bb", "24:00:00", "12:60:00", "12:00:61", "1:2:3:4", "unknown"} {
		t.Run("Invalid "+bad, func(t *testing.T) {
			_, err := ParseTimeOfDay(bad)
			assert.Error(t, err)
		})
	}
}

func TestWindowNormalize(t *testing.T) {
	t.Run("Later Today", func(t *testing.T) {
		span := mustWindow(t, "10:00:00", "14:00:00").Normalize(at(5, 8, 0))
		assert.Equal(t, at(5, 10, 0), span.Start)
		assert.Equal(t, at(5, 14, 0), span.Stop)
	})

	t.Run("Elapsed Rolls To Tomorrow", func(t *testing.T) {
		span := mustWindow(t, "10:00:00", "14:00:00").Normalize(at(5, 15, 0))
		assert.Equal(t, at(6, 10, 0), span.Start)
		assert.Equal(t, at(6, 14, 0), span.Stop)
	})

	t.Run("Stop Equal Now Rolls", func(t *testing.T) {
		span := mustWindow(t, "10:00:00", "14:00:00").Normalize(at(5, 14, 0))
		assert.Equal(t, at(6, 10, 0), span.Start)
		assert.Equal(t, at(6, 14, 0), span.Stop)
	})

	t.Run("Straddles Midnight Before Midnight", func(t *testing.T) {
		span := mustWindow(t, "22:00:00", "06:00:00").Normalize(at(5, 23, 30))
		assert.Equal(t, at(5, 22, 0), span.Start)
		assert.Equal(t, at(6, 6, 0), span.Stop)
		assert.True(t, span.Contains(at(5, 23, 30)))
	})

	t.Run("Straddles Midnight After Midnight", func(t *testing.T) {
		span := mustWindow(t, "22:00:00", "06:00:00").Normalize(at(6, 2, 0))
		assert.Equal(t, at(5, 22, 0), span.Start)
		assert.Equal(t, at(6, 6, 0), span.Stop)
		assert.True(t, span.Contains(at(6, 2, 0)))
	})

	t.Run("Straddles Midnight Afternoon", func(t *testing.T) {
		span := mustWindow(t, "22:00:00", "06:00:00").Normalize(at(5, 15, 0))
		assert.Equal(t, at(5, 22, 0), span.Start)
		assert.Equal(t, at(6, 6, 0), span.Stop)
		assert.False(t, span.Contains(at(5, 15, 0)))
	})

	t.Run("Invariants Hold For Every Minute", func(t *testing.T) {
		windows := []Window{
			mustWindow(t, "22:00:00", "06:00:00"),
			mustWindow(t, "00:00:00", "23:59:59"),
			mustWindow(t, "12:00:00", "12:00:00"),
			mustWindow(t, "18:30:00", "18:00:00"),
			mustWindow(t, "01:00:00", "05:00:00"),
		}
		for _, w := range windows {
			for m := 0; m < 24*60; m += 7 {
				now := at(5, 0, 0).Add(time.Duration(m) * time.Minute)
				span := w.Normalize(now)
				assert.False(t, span.Start.After(span.Stop), "start after stop for %v at %v", w, now)
				assert.True(t, span.Stop.After(now), "stop not after now for %v at %v", w, now)
			}
		}
	})
}

func TestSpanCovers(t *testing.T) {
	span := Span{Start: at(5, 22, 0), Stop: at(6, 6, 0)}

	assert.True(t, span.Covers(at(5, 22, 0), at(5, 22, 30)))
	assert.True(t, span.Covers(at(6, 5, 30), at(6, 6, 0)))
	assert.False(t, span.Covers(at(5, 21, 30), at(5, 22, 0)))
	assert.False(t, span.Covers(at(5, 21, 45), at(5, 22, 15)))
	assert.False(t, span.Covers(at(6, 5, 45), at(6, 6, 15)))
}

func TestSpanContainsInclusive(t *testing.T) {
	span := Span{Start: at(5, 22, 0), Stop: at(6, 6, 0)}
	assert.True(t, span.Contains(at(5, 22, 0)))
	assert.True(t, span.Contains(at(6, 6, 0)))
	assert.False(t, span.Contains(at(6, 6, 1)))
}
