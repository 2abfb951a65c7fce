package timeutils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseClock(t *testing.T) {
	h, m, err := ParseClock("09:30")
	require.NoError(t, err)
	assert.Equal(t, 9, h)
	assert.Equal(t, 30, m)

	h, m, err = ParseClock(" 23:59 ")
	require.NoError(t, err)
	assert.Equal(t, 23, h)
	assert.Equal(t, 59, m)

	for _, bad := range []string{"", "9", "24:00", "12:60", "ab:cd", "12:30:00"} {
		_, _, err := ParseClock(bad)
		assert.Error(t, err, "input %q", bad)
	}
}

func TestFormatDateAndClock(t *testing.T) {
	ts := time.Date(2026, 6, 14, 15, 5, 0, 0, time.UTC)
	assert.Equal(t, "14/06/2026", FormatDate(ts, time.UTC))
	assert.Equal(t, "15:05", FormatClock(ts, time.UTC))

	ist := time.FixedZone("IST", 3*60*60)
	assert.Equal(t, "18:05", FormatClock(ts, ist))
}

func TestHebrewWeekday(t *testing.T) {
	sunday := time.Date(2026, 6, 14, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "יום ראשון", HebrewWeekday(sunday))
	assert.Equal(t, "יום שני", HebrewWeekday(sunday.AddDate(0, 0, 1)))
	assert.Equal(t, "שבת", HebrewWeekday(sunday.AddDate(0, 0, 6)))
}

func TestLoadLocationFallback(t *testing.T) {
	assert.Equal(t, "UTC", LoadLocation("UTC").String())
	loc := LoadLocation("Not/AZone")
	assert.Contains(t, []string{"Asia/Jerusalem", "UTC"}, loc.String())
	loc = LoadLocation("")
	assert.Contains(t, []string{"Asia/Jerusalem", "UTC"}, loc.String())
}

func TestParseFlexibleDateTime(t *testing.T) {
	loc := time.UTC

	ts, err := ParseFlexibleDateTime("2026-06-14T15:30:00Z", loc)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 6, 14, 15, 30, 0, 0, time.UTC), ts.UTC())

	for _, in := range []string{
		"2026-06-14T15:30:00",
		"2026-06-14T15:30",
		"2026-06-14 15:30:00",
		"2026-06-14 15:30",
	} {
		ts, err := ParseFlexibleDateTime(in, loc)
		require.NoError(t, err, "input %q", in)
		assert.Equal(t, 15, ts.Hour(), "input %q", in)
	}

	_, err = ParseFlexibleDateTime("tomorrow at noon", loc)
	assert.Error(t, err)
}
