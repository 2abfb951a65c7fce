package followups

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/wapilot/wapilot/agent"
)

func TestTimerMemberRoundTrip(t *testing.T) {
	member := timerMember(12, 345)
	assert.Equal(t, "12:345", member)

	agentID, convID, ok := parseTimerMember(member)
	assert.True(t, ok)
	assert.Equal(t, uint(12), agentID)
	assert.Equal(t, uint(345), convID)

	for _, bad := range []string{"", "12", "a:b", "12:345:678", ":5"} {
		_, _, ok := parseTimerMember(bad)
		assert.False(t, ok, "member %q", bad)
	}
}

func TestSequenceOrDefault(t *testing.T) {
	got := sequenceOrDefault(agent.FollowupConfig{})
	assert.Len(t, got, 1)
	assert.Equal(t, 3.0, got[0].DelayHours)

	custom := agent.FollowupConfig{Sequence: []agent.FollowupStep{
		{DelayHours: 1}, {DelayHours: 24},
	}}
	assert.Len(t, sequenceOrDefault(custom), 2)
}

func TestClampToActiveHoursDayWindow(t *testing.T) {
	hours := agent.ActiveHours{Start: "09:00", End: "21:00"}
	day := func(h, m int) time.Time {
		return time.Date(2026, 6, 10, h, m, 0, 0, time.UTC)
	}

	// Inside the window passes through untouched.
	assert.Equal(t, day(12, 30), clampToActiveHours(day(12, 30), hours, time.UTC))
	assert.Equal(t, day(9, 0), clampToActiveHours(day(9, 0), hours, time.UTC))

	// Too early clamps forward to today's window start.
	assert.Equal(t, day(9, 0), clampToActiveHours(day(7, 15), hours, time.UTC))

	// Too late rolls to tomorrow's window start.
	want := time.Date(2026, 6, 11, 9, 0, 0, 0, time.UTC)
	assert.Equal(t, want, clampToActiveHours(day(22, 0), hours, time.UTC))
	assert.Equal(t, want, clampToActiveHours(day(21, 0), hours, time.UTC), "window end is exclusive")
}

func TestClampToActiveHoursCrossMidnight(t *testing.T) {
	hours := agent.ActiveHours{Start: "21:00", End: "02:00"}
	day := func(h, m int) time.Time {
		return time.Date(2026, 6, 10, h, m, 0, 0, time.UTC)
	}

	// Late evening and small hours are both inside the window.
	assert.Equal(t, day(22, 0), clampToActiveHours(day(22, 0), hours, time.UTC))
	assert.Equal(t, day(1, 30), clampToActiveHours(day(1, 30), hours, time.UTC))

	// Daytime clamps to this evening's window start.
	assert.Equal(t, day(21, 0), clampToActiveHours(day(12, 0), hours, time.UTC))
	assert.Equal(t, day(21, 0), clampToActiveHours(day(3, 0), hours, time.UTC))
}

func TestClampToActiveHoursInvalidConfig(t *testing.T) {
	at := time.Date(2026, 6, 10, 4, 0, 0, 0, time.UTC)
	assert.Equal(t, at, clampToActiveHours(at, agent.ActiveHours{Start: "nope", End: "21:00"}, time.UTC))
	assert.Equal(t, at, clampToActiveHours(at, agent.ActiveHours{Start: "09:00", End: ""}, time.UTC))
}

func TestClampToActiveHoursRespectsLocation(t *testing.T) {
	loc := time.FixedZone("IST", 2*60*60)
	hours := agent.ActiveHours{Start: "09:00", End: "21:00"}

	// 06:00 UTC is 08:00 local, one hour before the window opens.
	at := time.Date(2026, 6, 10, 6, 0, 0, 0, time.UTC)
	got := clampToActiveHours(at, hours, loc)
	assert.Equal(t, time.Date(2026, 6, 10, 7, 0, 0, 0, time.UTC), got)
}
