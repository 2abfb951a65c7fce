package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/wapilot/wapilot/agent"
	"github.com/wapilot/wapilot/appointment"
	"github.com/wapilot/wapilot/conversation"
	"github.com/wapilot/wapilot/knowledge"
	"github.com/wapilot/wapilot/media"
	"github.com/wapilot/wapilot/pkg/timeutils"
	"github.com/wapilot/wapilot/tools"
)

// maxMediaInPrompt bounds direct enumeration; larger libraries are reached
// through the search_media tool instead.
const maxMediaInPrompt = 15

// buildSystemBlocks assembles the ordered system prompt segments. The first
// block is stable per agent and marked cacheable by providers that support it;
// the user-info block changes per customer and stays out of the cache.
func buildSystemBlocks(ag *agent.Agent, user *conversation.User, knowledgeContext, mediaContext, calendarBlock string) []string {
	loc := timeutils.LoadLocation(ag.CalendarOrDefault().Timezone)
	now := time.Now().In(loc)
	dateLine := fmt.Sprintf("היום: %s, %s, שעה %s",
		timeutils.HebrewWeekday(now), timeutils.FormatDate(now, loc), timeutils.FormatClock(now, loc))

	basePrompt := ag.SystemPrompt + calendarBlock

	cached := dateLine + "\n\n" + basePrompt + tools.SystemSuffix
	if knowledgeContext != "" {
		cached += "\n\n---\nמאגר מידע עסקי:\n" + knowledgeContext
	}
	if mediaContext != "" {
		cached += "\n\n---\n" + mediaContext
	}

	blocks := []string{cached}
	if info := userInfoBlock(user); info != "" {
		blocks = append(blocks, info)
	}
	return blocks
}

func userInfoBlock(user *conversation.User) string {
	var parts []string
	if user.Name != "" {
		parts = append(parts, "שם: "+user.Name)
	}
	switch user.Gender {
	case conversation.GenderMale:
		parts = append(parts, "מגדר: זכר")
	case conversation.GenderFemale:
		parts = append(parts, "מגדר: נקבה")
	}
	if v := user.Metadata["business_type"]; v != "" {
		parts = append(parts, "תחום עסק: "+v)
	}
	if v := user.Metadata["notes"]; v != "" {
		parts = append(parts, "הערות: "+v)
	}
	if len(parts) == 0 {
		return ""
	}
	return "---\nמידע על המשתמש:\n" + strings.Join(parts, "\n")
}

// calendarBlock renders working hours, booking guidance and the customer's
// existing appointments. Empty when the calendar is not connected.
func calendarBlock(ag *agent.Agent, userAppointments []appointment.Appointment) string {
	cfg := ag.CalendarOrDefault()
	if cfg.GoogleTokens == nil {
		return ""
	}
	loc := timeutils.LoadLocation(cfg.Timezone)

	dayNames := []string{"ראשון", "שני", "שלישי", "רביעי", "חמישי", "שישי", "שבת"}
	var hoursLines []string
	for i, name := range dayNames {
		if hours, ok := cfg.WorkingHours[fmt.Sprintf("%d", i)]; ok && hours.Start != "" {
			hoursLines = append(hoursLines, fmt.Sprintf("- %s: %s-%s", name, hours.Start, hours.End))
		} else {
			hoursLines = append(hoursLines, fmt.Sprintf("- %s: סגור", name))
		}
	}
	block := "\n\n---\nשעות פעילות לתיאום פגישות:\n" + strings.Join(hoursLines, "\n")

	if ag.AppointmentPrompt != "" {
		block += "\n\nהנחיות נוספות לתיאום פגישות:\n" + ag.AppointmentPrompt
	}

	if len(userAppointments) > 0 {
		lines := make([]string, len(userAppointments))
		for i, apt := range userAppointments {
			lines[i] = fmt.Sprintf("- %s: %s בשעה %s (מזהה: %d)",
				apt.Title, timeutils.FormatDate(apt.StartTime, loc), timeutils.FormatClock(apt.StartTime, loc), apt.ID)
		}
		block += "\n\n---\nפגישות קיימות של המשתמש:\n" + strings.Join(lines, "\n")
		block += "\nאם המשתמש רוצה לשנות או לבטל פגישה קיימת, השתמש בכלי reschedule_appointment או cancel_appointment עם המזהה המתאים."
	}
	return block
}

// knowledgeContext lists the agent's searchable data sources so the model
// knows which retrieval tool fits each question.
func knowledgeContext(ctx context.Context, svc *knowledge.Service, agentID uint) string {
	docs, err := svc.ListDocuments(ctx, agentID)
	if err != nil {
		docs = nil
	}
	dataTables, err := svc.ListTables(ctx, agentID)
	if err != nil {
		dataTables = nil
	}
	if len(docs) == 0 && len(dataTables) == 0 {
		return ""
	}

	parts := []string{"מקורות מידע זמינים לחיפוש:"}
	if len(docs) > 0 {
		names := make([]string, len(docs))
		for i, d := range docs {
			names[i] = d.Filename
		}
		parts = append(parts, fmt.Sprintf("• מסמכים (%d): %s - השתמש בכלי search_knowledge לחפש בהם",
			len(docs), strings.Join(names, ", ")))
	}
	for _, t := range dataTables {
		cols := "ללא עמודות"
		if len(t.Columns) > 0 {
			names := make([]string, 0, len(t.Columns))
			for c := range t.Columns {
				names = append(names, c)
			}
			sort.Strings(names)
			cols = strings.Join(names, ", ")
		}
		parts = append(parts, fmt.Sprintf("• טבלה '%s' (%d שורות, עמודות: %s) - השתמש בכלי query_products לשליפת מידע",
			t.Name, t.RowCount, cols))
	}
	return strings.Join(parts, "\n")
}

// mediaContext enumerates small media libraries inline; larger ones get a
// pointer at search_media.
func mediaContext(ctx context.Context, svc *media.Service, ag *agent.Agent) string {
	cfg := ag.MediaOrDefault()
	if !cfg.Enabled {
		return ""
	}
	items, err := svc.ListByAgent(ctx, ag.ID)
	if err != nil || len(items) == 0 {
		return ""
	}

	var context string
	if len(items) <= maxMediaInPrompt {
		lines := make([]string, len(items))
		for i, m := range items {
			desc := ""
			if m.Description != "" {
				desc = " - " + m.Description
			}
			lines[i] = fmt.Sprintf("• ID:%d [%s] %s%s%s", m.ID, m.MediaType, m.Name, desc, captionHint(m.DefaultCaption))
		}
		context = fmt.Sprintf("מדיה זמינה לשליחה (%d פריטים):\n%s", len(items), strings.Join(lines, "\n"))
		context += "\n\nלשליחת מדיה השתמש בכלי send_media עם ה-ID המתאים."
	} else {
		context = fmt.Sprintf("יש מאגר מדיה עם %d תמונות/וידאו.", len(items))
		context += "\nלמציאת מדיה רלוונטית השתמש בכלי search_media עם תיאור מה שאתה מחפש."
		context += "\nלאחר מכן השתמש ב-send_media עם ה-ID שנמצא."
	}
	if cfg.Instructions != "" {
		context += "\n\nהנחיות שימוש במדיה:\n" + cfg.Instructions
	}
	return context
}

func captionHint(caption string) string {
	if caption == "" {
		return ""
	}
	if runes := []rune(caption); len(runes) > 30 {
		return fmt.Sprintf(" (כיתוב: %s...)", string(runes[:30]))
	}
	return fmt.Sprintf(" (כיתוב: %s)", caption)
}
