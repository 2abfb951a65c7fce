package appointment

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wapilot/wapilot/agent"
)

func TestDaySlotsGeneratesBackToBack(t *testing.T) {
	hours := map[string]agent.WorkingHours{
		"0": {Start: "09:00", End: "11:00"}, // Sunday
	}
	sunday := time.Date(2026, 6, 14, 0, 0, 0, 0, time.UTC)

	slots := daySlots(sunday, hours, 30, time.UTC)
	require.Len(t, slots, 4)
	assert.Equal(t, time.Date(2026, 6, 14, 9, 0, 0, 0, time.UTC), slots[0][0])
	assert.Equal(t, time.Date(2026, 6, 14, 9, 30, 0, 0, time.UTC), slots[0][1])
	assert.Equal(t, time.Date(2026, 6, 14, 10, 30, 0, 0, time.UTC), slots[3][0])
	assert.Equal(t, time.Date(2026, 6, 14, 11, 0, 0, 0, time.UTC), slots[3][1])
}

func TestDaySlotsClosedDay(t *testing.T) {
	hours := map[string]agent.WorkingHours{
		"0": {Start: "09:00", End: "17:00"},
	}
	saturday := time.Date(2026, 6, 13, 0, 0, 0, 0, time.UTC)
	assert.Empty(t, daySlots(saturday, hours, 30, time.UTC))

	// A slot longer than the whole window yields nothing.
	sunday := time.Date(2026, 6, 14, 0, 0, 0, 0, time.UTC)
	short := map[string]agent.WorkingHours{"0": {Start: "09:00", End: "09:20"}}
	assert.Empty(t, daySlots(sunday, short, 30, time.UTC))
}

func TestSlotFree(t *testing.T) {
	at := func(h, m int) time.Time {
		return time.Date(2026, 6, 14, h, m, 0, 0, time.UTC)
	}
	busy := [][2]time.Time{{at(10, 0), at(10, 30)}}

	assert.True(t, slotFree(at(9, 0), at(9, 30), busy, 0))
	assert.False(t, slotFree(at(10, 0), at(10, 30), busy, 0))
	assert.False(t, slotFree(at(9, 45), at(10, 15), busy, 0), "overlap at the start")
	assert.False(t, slotFree(at(10, 15), at(10, 45), busy, 0), "overlap at the end")

	// Adjacent slots are fine without buffer but blocked with one.
	assert.True(t, slotFree(at(10, 30), at(11, 0), busy, 0))
	assert.False(t, slotFree(at(10, 30), at(11, 0), busy, 10))
	assert.True(t, slotFree(at(10, 40), at(11, 10), busy, 10))
}

func TestBookingInputValidate(t *testing.T) {
	start := time.Date(2026, 6, 14, 10, 0, 0, 0, time.UTC)

	assert.NoError(t, bookingInput{Start: start, DurationMinutes: 30, Title: "פגישה"}.Validate())
	assert.NoError(t, bookingInput{Start: start, DurationMinutes: MinDurationMinutes}.Validate())
	assert.NoError(t, bookingInput{Start: start, DurationMinutes: MaxDurationMinutes}.Validate())

	assert.Error(t, bookingInput{DurationMinutes: 30}.Validate(), "zero start time")
	assert.Error(t, bookingInput{Start: start}.Validate(), "zero duration")
	assert.Error(t, bookingInput{Start: start, DurationMinutes: MinDurationMinutes - 1}.Validate())
	assert.Error(t, bookingInput{Start: start, DurationMinutes: MaxDurationMinutes + 1}.Validate())
}
