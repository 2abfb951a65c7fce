package reminders

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/wapilot/wapilot/agent"
	"github.com/wapilot/wapilot/appointment"
	"github.com/wapilot/wapilot/conversation"
	"github.com/wapilot/wapilot/llm"
	"github.com/wapilot/wapilot/pkg/timeutils"
)

const defaultTemplate = "שלום {customer_name},\nתזכורת לפגישה שלך \"{title}\" ב-{date} בשעה {time}.\nנתראה!"

const (
	personalityMaxChars = 500
	historyMessages     = 10
	historyMaxChars     = 150
	reminderMaxTokens   = 300
)

// buildVariables collects the substitution values available to reminder
// templates and AI prompts, rendered in the agent's timezone.
func buildVariables(ag *agent.Agent, apt *appointment.Appointment, user *conversation.User) map[string]string {
	loc := timeutils.LoadLocation(ag.CalendarOrDefault().Timezone)
	start := apt.StartTime.In(loc)

	customerName := "לקוח/ה יקר/ה"
	customerPhone := ""
	if user != nil {
		if user.Name != "" {
			customerName = user.Name
		}
		customerPhone = user.Phone
	}
	title := apt.Title
	if title == "" {
		title = "פגישה"
	}

	return map[string]string{
		"customer_name":  customerName,
		"customer_phone": customerPhone,
		"title":          title,
		"description":    apt.Description,
		"date":           timeutils.FormatDate(start, loc),
		"time":           timeutils.FormatClock(start, loc),
		"day":            timeutils.HebrewWeekday(start),
		"duration":       fmt.Sprintf("%d", apt.DurationMinutes()),
		"agent_name":     ag.Name,
	}
}

// applyTemplate substitutes {variable} placeholders. Unknown placeholders are
// left untouched.
func applyTemplate(template string, vars map[string]string) string {
	pairs := make([]string, 0, len(vars)*2)
	for key, value := range vars {
		pairs = append(pairs, "{"+key+"}", value)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}

// agentPersonality extracts a short personality hint from the system prompt
// for AI-generated reminders, cutting at a sentence boundary when one lands
// in the second half.
func agentPersonality(systemPrompt string, maxChars int) string {
	runes := []rune(strings.TrimSpace(systemPrompt))
	if len(runes) <= maxChars {
		return string(runes)
	}
	cut := string(runes[:maxChars])
	if idx := strings.LastIndex(cut, "."); idx > maxChars/2 {
		return cut[:idx+1]
	}
	return cut + "..."
}

// recentHistoryLines renders the tail of the conversation for AI reminder
// context, one truncated line per message.
func recentHistoryLines(messages []conversation.Message) []string {
	lines := make([]string, 0, len(messages))
	for _, msg := range messages {
		role := "לקוח"
		if msg.Role == conversation.RoleAssistant {
			role = "סוכן"
		}
		content := msg.Content
		if runes := []rune(content); len(runes) > historyMaxChars {
			content = string(runes[:historyMaxChars]) + "..."
		}
		lines = append(lines, fmt.Sprintf("%s: %s", role, content))
	}
	return lines
}

// generateAIContent asks the agent's model for a personalized reminder. Any
// failure falls back to the template path so the reminder still goes out.
func (e *Engine) generateAIContent(ctx context.Context, ag *agent.Agent, apt *appointment.Appointment, user *conversation.User, aiPrompt string, vars map[string]string) string {
	fallback := applyTemplate(defaultTemplate, vars)

	var parts []string
	parts = append(parts, "צור הודעת תזכורת לפגישה עבור הלקוח.")
	parts = append(parts, fmt.Sprintf("פרטי הפגישה:\n- כותרת: %s\n- תאריך: %s (%s)\n- שעה: %s\n- משך: %s דקות\n- שם הלקוח: %s",
		vars["title"], vars["date"], vars["day"], vars["time"], vars["duration"], vars["customer_name"]))

	if personality := agentPersonality(ag.SystemPrompt, personalityMaxChars); personality != "" {
		parts = append(parts, "אישיות הסוכן:\n"+personality)
	}

	if user != nil {
		if conv, err := e.conversations.GetOrCreateConversation(ctx, ag.ID, user.ID); err == nil {
			if messages, err := e.conversations.RecentMessages(ctx, conv.ID, historyMessages); err == nil && len(messages) > 0 {
				parts = append(parts, "הודעות אחרונות מהשיחה:\n"+strings.Join(recentHistoryLines(messages), "\n"))
			}
		}
	}

	if aiPrompt != "" {
		parts = append(parts, "הנחיות נוספות:\n"+aiPrompt)
	}
	parts = append(parts, "כתוב הודעת תזכורת קצרה, חמה ואישית בעברית. אל תוסיף הסברים - רק את ההודעה עצמה.")

	provider, err := e.factory.Get(llm.ResolveProviderName(ag.Model), ag)
	if err != nil {
		logrus.WithError(err).Warn("[REMINDERS] Provider unavailable, using template content")
		return fallback
	}

	genCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()
	text, err := provider.GenerateSimpleResponse(genCtx, ag.Model, strings.Join(parts, "\n\n"), reminderMaxTokens)
	if err != nil || strings.TrimSpace(text) == "" {
		logrus.WithError(err).Warn("[REMINDERS] AI content failed, using template content")
		return fallback
	}
	return strings.TrimSpace(text)
}
