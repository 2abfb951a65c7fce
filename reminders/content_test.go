package reminders

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/wapilot/wapilot/agent"
	"github.com/wapilot/wapilot/appointment"
	"github.com/wapilot/wapilot/conversation"
)

func testAgent() *agent.Agent {
	return &agent.Agent{
		ID:   1,
		Name: "מרפאת שיניים",
		Calendar: &agent.CalendarConfig{
			Timezone: "UTC",
		},
	}
}

func testAppointment() *appointment.Appointment {
	start := time.Date(2026, 6, 14, 15, 30, 0, 0, time.UTC) // Sunday
	return &appointment.Appointment{
		ID:        7,
		AgentID:   1,
		UserID:    3,
		StartTime: start,
		EndTime:   start.Add(45 * time.Minute),
		Title:     "ניקוי אבנית",
		Status:    appointment.StatusScheduled,
	}
}

func TestBuildVariables(t *testing.T) {
	vars := buildVariables(testAgent(), testAppointment(), &conversation.User{
		Name:  "דנה",
		Phone: "972501234567",
	})

	assert.Equal(t, "דנה", vars["customer_name"])
	assert.Equal(t, "972501234567", vars["customer_phone"])
	assert.Equal(t, "ניקוי אבנית", vars["title"])
	assert.Equal(t, "14/06/2026", vars["date"])
	assert.Equal(t, "15:30", vars["time"])
	assert.Equal(t, "יום ראשון", vars["day"])
	assert.Equal(t, "45", vars["duration"])
	assert.Equal(t, "מרפאת שיניים", vars["agent_name"])
}

func TestBuildVariablesFallbacks(t *testing.T) {
	apt := testAppointment()
	apt.Title = ""

	vars := buildVariables(testAgent(), apt, nil)
	assert.Equal(t, "לקוח/ה יקר/ה", vars["customer_name"])
	assert.Equal(t, "", vars["customer_phone"])
	assert.Equal(t, "פגישה", vars["title"])
}

func TestApplyTemplate(t *testing.T) {
	vars := map[string]string{"customer_name": "דנה", "time": "15:30"}

	got := applyTemplate("שלום {customer_name}, נתראה ב-{time}", vars)
	assert.Equal(t, "שלום דנה, נתראה ב-15:30", got)

	// Unknown placeholders are left as-is rather than erased.
	got = applyTemplate("{customer_name} {unknown}", vars)
	assert.Equal(t, "דנה {unknown}", got)
}

func TestDefaultTemplateRenders(t *testing.T) {
	vars := buildVariables(testAgent(), testAppointment(), &conversation.User{Name: "דנה"})
	got := applyTemplate(defaultTemplate, vars)

	assert.Contains(t, got, "דנה")
	assert.Contains(t, got, "ניקוי אבנית")
	assert.Contains(t, got, "14/06/2026")
	assert.Contains(t, got, "15:30")
	assert.NotContains(t, got, "{")
}

func TestRecentHistoryLines(t *testing.T) {
	long := strings.Repeat("א", historyMaxChars+20)
	lines := recentHistoryLines([]conversation.Message{
		{Role: conversation.RoleUser, Content: "מתי אתם פתוחים?"},
		{Role: conversation.RoleAssistant, Content: long},
	})

	assert.Len(t, lines, 2)
	assert.Equal(t, "לקוח: מתי אתם פתוחים?", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "סוכן: "))
	assert.True(t, strings.HasSuffix(lines[1], "..."))
}
