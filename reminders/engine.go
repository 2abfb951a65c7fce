package reminders

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/wapilot/wapilot/agent"
	"github.com/wapilot/wapilot/appointment"
	"github.com/wapilot/wapilot/conversation"
	"github.com/wapilot/wapilot/llm"
	"github.com/wapilot/wapilot/outbound"
)

const (
	processBatchSize = 50
	errorMessageMax  = 255
)

// Engine materializes reminder rows when appointments change and delivers due
// reminders from the scheduler loop. It implements appointment.Listener.
type Engine struct {
	repo          Repository
	agents        agent.Repository
	appointments  appointment.Repository
	conversations conversation.Repository
	factory       *llm.Factory
	sender        outbound.Sender
}

func NewEngine(repo Repository, agents agent.Repository, appointments appointment.Repository, conversations conversation.Repository, factory *llm.Factory, sender outbound.Sender) *Engine {
	return &Engine{
		repo:          repo,
		agents:        agents,
		appointments:  appointments,
		conversations: conversations,
		factory:       factory,
		sender:        sender,
	}
}

// AppointmentBooked expands the agent's reminder rules into scheduled rows,
// skipping rules whose send time has already passed.
func (e *Engine) AppointmentBooked(ctx context.Context, ag *agent.Agent, apt *appointment.Appointment) {
	rules := ag.CalendarOrDefault().Reminders
	if len(rules) == 0 {
		return
	}

	now := time.Now().UTC()
	var rows []ScheduledReminder
	for i, rule := range rules {
		if rule.MinutesBefore <= 0 {
			continue
		}
		sendAt := apt.StartTime.Add(-time.Duration(rule.MinutesBefore) * time.Minute)
		if !sendAt.After(now) {
			continue
		}
		contentType := rule.ContentType
		if contentType == "" {
			contentType = ContentTemplate
		}
		rows = append(rows, ScheduledReminder{
			AppointmentID: apt.ID,
			AgentID:       ag.ID,
			UserID:        apt.UserID,
			ScheduledFor:  sendAt,
			Status:        StatusPending,
			ContentType:   contentType,
			Template:      rule.Template,
			AIPrompt:      rule.AIPrompt,
			TemplateName:  rule.TemplateName,
			Language:      rule.Language,
			RuleIndex:     i,
		})
	}
	if len(rows) == 0 {
		return
	}
	if err := e.repo.CreateBatch(ctx, rows); err != nil {
		logrus.WithError(err).Errorf("[REMINDERS] Failed to schedule reminders appointment=%d", apt.ID)
		return
	}
	logrus.Infof("[REMINDERS] Scheduled %d reminders appointment=%d agent=%s", len(rows), apt.ID, ag.Name)
}

// AppointmentCancelled voids pending reminders for the appointment.
func (e *Engine) AppointmentCancelled(ctx context.Context, ag *agent.Agent, apt *appointment.Appointment) {
	count, err := e.repo.CancelPendingForAppointment(ctx, apt.ID)
	if err != nil {
		logrus.WithError(err).Errorf("[REMINDERS] Failed to cancel reminders appointment=%d", apt.ID)
		return
	}
	if count > 0 {
		logrus.Infof("[REMINDERS] Cancelled %d reminders appointment=%d", count, apt.ID)
	}
}

// AppointmentRescheduled re-materializes reminders for the new start time.
// Cancellation already ran through AppointmentCancelled before the move.
func (e *Engine) AppointmentRescheduled(ctx context.Context, ag *agent.Agent, apt *appointment.Appointment) {
	e.AppointmentBooked(ctx, ag, apt)
}

// ProcessPending drains due reminders in batches. Each row is claimed with a
// conditional update before sending so parallel scheduler instances never
// double-send. A short pause between full batches keeps provider rate limits
// comfortable.
func (e *Engine) ProcessPending(ctx context.Context) {
	for {
		batch, err := e.repo.DueBatch(ctx, time.Now().UTC(), processBatchSize)
		if err != nil {
			logrus.WithError(err).Error("[REMINDERS] Failed to load due reminders")
			return
		}
		if len(batch) == 0 {
			return
		}

		for i := range batch {
			reminder := batch[i]
			claimed, err := e.repo.ClaimProcessing(ctx, reminder.ID)
			if err != nil {
				logrus.WithError(err).Errorf("[REMINDERS] Claim failed id=%d", reminder.ID)
				continue
			}
			if !claimed {
				continue
			}
			e.deliver(ctx, &reminder)
		}

		if len(batch) < processBatchSize {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

// deliver resolves the reminder's appointment, agent and user, sends the
// message and finalizes the row.
func (e *Engine) deliver(ctx context.Context, reminder *ScheduledReminder) {
	apt, err := e.appointments.GetByID(ctx, reminder.AppointmentID)
	if err != nil || apt == nil {
		e.finish(ctx, reminder, StatusFailed, "appointment not found")
		return
	}
	if apt.Status != appointment.StatusScheduled {
		e.finish(ctx, reminder, StatusCancelled, "")
		return
	}

	ag, err := e.agents.GetByID(ctx, reminder.AgentID)
	if err != nil || ag == nil {
		e.finish(ctx, reminder, StatusFailed, "agent not found")
		return
	}
	user, err := e.conversations.GetUser(ctx, reminder.UserID)
	if err != nil || user == nil {
		e.finish(ctx, reminder, StatusFailed, "user not found")
		return
	}

	vars := buildVariables(ag, apt, user)

	switch {
	case ag.Provider == agent.ProviderMeta && reminder.ContentType == ContentMetaTemplate:
		language := reminder.Language
		if language == "" {
			language = "he"
		}
		params := []string{vars["customer_name"], vars["title"], vars["date"], vars["time"]}
		if err := e.sender.SendTemplate(ctx, ag, user.Phone, reminder.TemplateName, language, params); err != nil {
			e.finish(ctx, reminder, StatusFailed, err.Error())
			return
		}
		e.recordMessage(ctx, ag, user, fmt.Sprintf("[reminder template: %s]", reminder.TemplateName))
	case ag.Provider == agent.ProviderMeta:
		// Meta blocks business-initiated free text outside the 24h window.
		e.finish(ctx, reminder, StatusFailed, "meta provider requires templates (not implemented)")
		return
	default:
		text := e.content(ctx, reminder, ag, apt, user, vars)
		if err := e.sender.SendText(ctx, ag, user.Phone, text); err != nil {
			e.finish(ctx, reminder, StatusFailed, err.Error())
			return
		}
		e.recordMessage(ctx, ag, user, text)
	}

	now := time.Now().UTC()
	reminder.SentAt = &now
	e.finish(ctx, reminder, StatusSent, "")
	logrus.Infof("[REMINDER_SENT] agent=%s appointment=%d rule=%d", ag.Name, reminder.AppointmentID, reminder.RuleIndex)
}

func (e *Engine) content(ctx context.Context, reminder *ScheduledReminder, ag *agent.Agent, apt *appointment.Appointment, user *conversation.User, vars map[string]string) string {
	if reminder.ContentType == ContentAI {
		return e.generateAIContent(ctx, ag, apt, user, reminder.AIPrompt, vars)
	}
	template := reminder.Template
	if template == "" {
		template = defaultTemplate
	}
	return applyTemplate(template, vars)
}

// recordMessage stores the sent reminder as an assistant turn so the model
// sees it in later conversation history.
func (e *Engine) recordMessage(ctx context.Context, ag *agent.Agent, user *conversation.User, text string) {
	conv, err := e.conversations.GetOrCreateConversation(ctx, ag.ID, user.ID)
	if err != nil {
		logrus.WithError(err).Warn("[REMINDERS] Failed to resolve conversation for history record")
		return
	}
	msg := &conversation.Message{
		ConversationID: conv.ID,
		Role:           conversation.RoleAssistant,
		Type:           conversation.TypeReminder,
		Content:        text,
	}
	if err := e.conversations.AppendMessage(ctx, msg); err != nil {
		logrus.WithError(err).Warn("[REMINDERS] Failed to record reminder message")
	}
}

func (e *Engine) finish(ctx context.Context, reminder *ScheduledReminder, status, errorMessage string) {
	reminder.Status = status
	if runes := []rune(errorMessage); len(runes) > errorMessageMax {
		errorMessage = string(runes[:errorMessageMax])
	}
	reminder.ErrorMessage = errorMessage
	if err := e.repo.Update(ctx, reminder); err != nil {
		logrus.WithError(err).Errorf("[REMINDERS] Failed to finalize reminder id=%d", reminder.ID)
	}
}
