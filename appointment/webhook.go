package appointment

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/wapilot/wapilot/agent"
	"github.com/wapilot/wapilot/conversation"
)

// Webhook event names.
const (
	EventCreated   = "appointment.created"
	EventCancelled = "appointment.cancelled"
	EventUpdated   = "appointment.updated"
)

// SummaryFunc produces a conversation summary for webhook payloads. May
// return "" when summaries are disabled or generation fails.
type SummaryFunc func(ctx context.Context, ag *agent.Agent, userID uint) string

// WebhookNotifier posts appointment lifecycle events to the agent's
// configured webhook URL. Failures are logged and swallowed.
type WebhookNotifier struct {
	conversations conversation.Repository
	summaryFn     SummaryFunc
	httpClient    *http.Client
}

func NewWebhookNotifier(conversations conversation.Repository) *WebhookNotifier {
	return &WebhookNotifier{
		conversations: conversations,
		httpClient:    &http.Client{Timeout: 15 * time.Second},
	}
}

// SetSummaryFunc wires the optional conversation summary generator.
func (n *WebhookNotifier) SetSummaryFunc(fn SummaryFunc) { n.summaryFn = fn }

func (n *WebhookNotifier) Notify(ctx context.Context, ag *agent.Agent, apt *Appointment, event string) {
	cfg := ag.CalendarOrDefault()
	if cfg.WebhookURL == "" {
		return
	}

	var customerName, customerPhone string
	if user, err := n.conversations.GetUser(ctx, apt.UserID); err == nil {
		customerName = user.Name
		customerPhone = user.Phone
	}

	summary := ""
	if n.summaryFn != nil {
		summary = n.summaryFn(ctx, ag, apt.UserID)
	}

	payload := map[string]any{
		"event_id":  uuid.NewString(),
		"event":     event,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"appointment": map[string]any{
			"id":               apt.ID,
			"start_time":       apt.StartTime.UTC().Format(time.RFC3339),
			"end_time":         apt.EndTime.UTC().Format(time.RFC3339),
			"duration_minutes": apt.DurationMinutes(),
			"title":            apt.Title,
			"description":      apt.Description,
			"status":           apt.Status,
		},
		"customer": map[string]any{
			"name":  customerName,
			"phone": customerPhone,
		},
		"agent": map[string]any{
			"id":   ag.ID,
			"name": ag.Name,
		},
		"calendar_id":          cfg.GoogleCalendarID,
		"conversation_summary": summary,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		logrus.WithError(err).Warn("[WEBHOOK] Appointment webhook failed")
		return
	}
	resp.Body.Close()
}
