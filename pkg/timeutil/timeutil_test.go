package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalendar_DayBoundaryFollowsTimezone(t *testing.T) {
	// 23:30 UTC on March 9 is already March 10 in Berlin
	clock := FixedClock(time.Date(2026, 3, 9, 23, 30, 0, 0, time.UTC))

	utc := NewCalendar(nil, clock)
	assert.Equal(t, "2026-03-09", utc.Today())
	assert.Equal(t, "2026-03-08", utc.Yesterday())

	berlin, err := LoadCalendar("Europe/Berlin", clock)
	require.NoError(t, err)
	assert.Equal(t, "2026-03-10", berlin.Today())
	assert.Equal(t, "2026-03-09", berlin.Yesterday())
	assert.Equal(t, "Europe/Berlin", berlin.Location().String())

	midnight, err := berlin.StartOfDay("2026-03-10")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 9, 23, 0, 0, 0, time.UTC), midnight.UTC())
}

func TestLoadCalendar(t *testing.T) {
	cal, err := LoadCalendar("", nil)
	require.NoError(t, err)
	assert.Equal(t, time.UTC, cal.Location())

	_, err = LoadCalendar("Mars/Olympus", nil)
	assert.ErrorContains(t, err, "Mars/Olympus")
}

func TestParseDate(t *testing.T) {
	for _, bad := range []string{"", "2026-3-10", "2026-02-30", "10/03/2026", "2026-03-10T00:00:00Z"} {
		assert.False(t, IsValidDate(bad), bad)
	}
	assert.True(t, IsValidDate("2024-02-29"))
}

func TestDateArithmetic(t *testing.T) {
	prev, err := PreviousDate("2026-03-01")
	require.NoError(t, err)
	assert.Equal(t, "2026-02-28", prev)

	next, err := AddDays("2026-12-31", 1)
	require.NoError(t, err)
	assert.Equal(t, "2027-01-01", next)

	n, err := DaysBetween("2026-03-01", "2026-03-31")
	require.NoError(t, err)
	assert.Equal(t, 30, n)

	assert.True(t, IsConsecutive("2026-03-28", "2026-03-29"))
	assert.True(t, IsConsecutive("2024-02-28", "2024-02-29"))
	assert.False(t, IsConsecutive("2026-03-29", "2026-03-29"))
	assert.False(t, IsConsecutive("2026-03-29", "2026-03-28"))
	assert.False(t, IsConsecutive("bad", "2026-03-28"))

	_, err = PreviousDate("nope")
	assert.Error(t, err)
}
