package followups

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/wapilot/wapilot/agent"
	"github.com/wapilot/wapilot/conversation"
	"github.com/wapilot/wapilot/infrastructure/coordination"
	"github.com/wapilot/wapilot/llm"
	"github.com/wapilot/wapilot/outbound"
	"github.com/wapilot/wapilot/pkg/timeutils"
	"github.com/wapilot/wapilot/reminders"
	"github.com/wapilot/wapilot/template"
)

const (
	timersKey      = "followup:timers"
	batchSize      = 50
	maxConcurrent  = 10
	maxIterations  = 20
	skipReasonMax  = 300
	templateWindow = 24 * time.Hour
)

var defaultSequence = []agent.FollowupStep{{DelayHours: 3}}

func sequenceOrDefault(cfg agent.FollowupConfig) []agent.FollowupStep {
	if len(cfg.Sequence) > 0 {
		return cfg.Sequence
	}
	return defaultSequence
}

// Engine drives the re-engagement pipeline: timers in the coordination store
// mature into scheduled rows, which a processing pass evaluates with the
// model and sends.
type Engine struct {
	repo          Repository
	reminders     reminders.Repository
	agents        agent.Repository
	conversations conversation.Repository
	templates     template.Repository
	factory       *llm.Factory
	store         coordination.Store
	sender        outbound.Sender
}

func NewEngine(repo Repository, remindersRepo reminders.Repository, agents agent.Repository, conversations conversation.Repository, templates template.Repository, factory *llm.Factory, store coordination.Store, sender outbound.Sender) *Engine {
	return &Engine{
		repo:          repo,
		reminders:     remindersRepo,
		agents:        agents,
		conversations: conversations,
		templates:     templates,
		factory:       factory,
		store:         store,
		sender:        sender,
	}
}

func timerMember(agentID, conversationID uint) string {
	return fmt.Sprintf("%d:%d", agentID, conversationID)
}

func parseTimerMember(member string) (agentID, conversationID uint, ok bool) {
	parts := strings.Split(member, ":")
	if len(parts) != 2 {
		return 0, 0, false
	}
	a, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return 0, 0, false
	}
	c, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return 0, 0, false
	}
	return uint(a), uint(c), true
}

// ScheduleNext arms the first-step timer after an assistant reply. ZADD
// replaces the score, so repeated replies just push the timer out.
func (e *Engine) ScheduleNext(ctx context.Context, ag *agent.Agent, conv *conversation.Conversation) {
	cfg := ag.FollowupOrDefault()
	if !cfg.Enabled {
		return
	}
	delay := sequenceOrDefault(cfg)[0].DelayHours
	e.armTimer(ctx, ag.ID, conv.ID, delay)
}

func (e *Engine) armTimer(ctx context.Context, agentID, conversationID uint, delayHours float64) {
	fireAt := time.Now().UTC().Add(time.Duration(delayHours * float64(time.Hour)))
	if err := e.store.EnqueueTimer(ctx, timersKey, timerMember(agentID, conversationID), fireAt); err != nil {
		logrus.WithError(err).Warn("[FOLLOWUP] Failed to arm timer")
	}
}

// CancelPending voids queued follow-ups and the armed timer when the customer
// speaks again.
func (e *Engine) CancelPending(ctx context.Context, conversationID uint) (int64, error) {
	if conv, err := e.conversations.GetConversation(ctx, conversationID); err == nil && conv != nil {
		if _, err := e.store.RemoveTimer(ctx, timersKey, timerMember(conv.AgentID, conversationID)); err != nil {
			logrus.WithError(err).Warn("[FOLLOWUP] Failed to cancel timer")
		}
	}
	return e.repo.CancelActive(ctx, conversationID)
}

// CheckTimers drains matured timers and creates follow-up rows for
// conversations that pass the eligibility chain. Removing the timer member is
// the claim; a peer that loses the ZREM race skips the conversation.
func (e *Engine) CheckTimers(ctx context.Context) int {
	now := time.Now().UTC()
	due, err := e.store.DueTimers(ctx, timersKey, now)
	if err != nil {
		logrus.WithError(err).Error("[FOLLOWUP] Failed to read due timers")
		return 0
	}
	if len(due) > batchSize {
		due = due[:batchSize]
	}

	created := 0
	for _, member := range due {
		claimed, err := e.store.RemoveTimer(ctx, timersKey, member)
		if err != nil || !claimed {
			continue
		}
		agentID, conversationID, ok := parseTimerMember(member)
		if !ok {
			continue
		}
		if e.createIfEligible(ctx, agentID, conversationID, now) {
			created++
		}
	}

	if created > 0 {
		logrus.Infof("[FOLLOWUP] Scheduled %d follow-ups from timers", created)
	}
	return created
}

// createIfEligible walks the eligibility chain and schedules the next
// sequence step for the conversation.
func (e *Engine) createIfEligible(ctx context.Context, agentID, conversationID uint, now time.Time) bool {
	ag, err := e.agents.GetByID(ctx, agentID)
	if err != nil || ag == nil || !ag.IsActive {
		return false
	}
	cfg := ag.FollowupOrDefault()
	if !cfg.Enabled {
		return false
	}

	conv, err := e.conversations.GetConversation(ctx, conversationID)
	if err != nil || conv == nil || conv.OptedOut || conv.Paused {
		return false
	}
	if conv.LastCustomerMessageAt == nil {
		return false
	}

	sequence := sequenceOrDefault(cfg)
	step, ok := e.currentStep(ctx, conv, sequence)
	if !ok {
		return false
	}

	// min_messages applies only to the first step; later steps mean the
	// sequence is already committed.
	if step == 0 && !e.hasEnoughMessages(ctx, conv, cfg.MinMessages) {
		return false
	}

	if active, err := e.repo.HasActive(ctx, conversationID); err != nil || active {
		return false
	}
	if pending, err := e.reminders.HasPendingForUser(ctx, agentID, conv.UserID); err != nil || pending {
		return false
	}

	loc := timeutils.LoadLocation(ag.CalendarOrDefault().Timezone)
	fu := &ScheduledFollowup{
		ConversationID:  conversationID,
		AgentID:         agentID,
		UserID:          conv.UserID,
		FollowupNumber:  step + 1,
		StepInstruction: sequence[step].Instruction,
		ScheduledFor:    clampToActiveHours(now, cfg.ActiveHours, loc),
		Status:          StatusPending,
	}
	if err := e.repo.Create(ctx, fu); err != nil {
		logrus.WithError(err).Errorf("[FOLLOWUP] Failed to schedule conv=%d", conversationID)
		return false
	}
	return true
}

// currentStep derives the 0-indexed sequence step from follow-ups already
// sent since the customer's last message. ok=false when exhausted.
func (e *Engine) currentStep(ctx context.Context, conv *conversation.Conversation, sequence []agent.FollowupStep) (int, bool) {
	sent, err := e.repo.SentCountSince(ctx, conv.ID, *conv.LastCustomerMessageAt)
	if err != nil {
		return 0, false
	}
	if int(sent) >= len(sequence) {
		return 0, false
	}
	return int(sent), true
}

// hasEnoughMessages checks engagement since the later of the customer's last
// message and the last follow-up sent after it.
func (e *Engine) hasEnoughMessages(ctx context.Context, conv *conversation.Conversation, minMessages int) bool {
	cutoff := *conv.LastCustomerMessageAt
	if lastSent, err := e.repo.LastSentAfter(ctx, conv.ID, cutoff); err == nil && lastSent != nil {
		cutoff = *lastSent
	}
	count, err := e.conversations.CountMessagesSince(ctx, conv.ID, cutoff)
	if err != nil {
		return false
	}
	return count >= int64(minMessages)
}

// clampToActiveHours pushes a send time into the allowed window, handling
// windows that cross midnight (e.g. 21:00-02:00).
func clampToActiveHours(at time.Time, hours agent.ActiveHours, loc *time.Location) time.Time {
	startH, startM, err := timeutils.ParseClock(hours.Start)
	if err != nil {
		return at
	}
	endH, endM, err := timeutils.ParseClock(hours.End)
	if err != nil {
		return at
	}

	local := at.In(loc)
	windowStart := time.Date(local.Year(), local.Month(), local.Day(), startH, startM, 0, 0, loc)
	windowEnd := time.Date(local.Year(), local.Month(), local.Day(), endH, endM, 0, 0, loc)

	crossesMidnight := !windowEnd.After(windowStart)

	var inWindow bool
	if crossesMidnight {
		inWindow = !local.Before(windowStart) || local.Before(windowEnd)
	} else {
		inWindow = !local.Before(windowStart) && local.Before(windowEnd)
	}
	if inWindow {
		return at
	}

	if local.Before(windowStart) {
		return windowStart.UTC()
	}
	return windowStart.AddDate(0, 0, 1).UTC()
}

// ProcessPending evaluates and sends due follow-ups. Each batch is flipped to
// evaluating up front so a crash never re-runs a half-processed row as
// pending; per-row failures resolve to skipped.
func (e *Engine) ProcessPending(ctx context.Context) int {
	processed := 0

	for range maxIterations {
		batch, err := e.repo.ClaimDueBatch(ctx, time.Now().UTC(), batchSize)
		if err != nil {
			logrus.WithError(err).Error("[FOLLOWUP] Failed to claim due batch")
			break
		}
		if len(batch) == 0 {
			break
		}

		sem := make(chan struct{}, maxConcurrent)
		var wg sync.WaitGroup
		for i := range batch {
			fu := batch[i]
			wg.Add(1)
			sem <- struct{}{}
			go func() {
				defer wg.Done()
				defer func() { <-sem }()
				defer func() {
					if r := recover(); r != nil {
						e.markSkipped(ctx, &fu, fmt.Sprintf("error: %v", r))
						logrus.Errorf("[FOLLOWUP] Panic while processing id=%d: %v", fu.ID, r)
					}
				}()
				e.processSingle(ctx, &fu)
			}()
		}
		wg.Wait()
		processed += len(batch)

		if len(batch) < batchSize {
			break
		}
		select {
		case <-ctx.Done():
			return processed
		case <-time.After(time.Second):
		}
	}

	if processed > 0 {
		logrus.Infof("[FOLLOWUP] Processed %d follow-ups", processed)
	}
	return processed
}

func (e *Engine) processSingle(ctx context.Context, fu *ScheduledFollowup) {
	conv, convErr := e.conversations.GetConversation(ctx, fu.ConversationID)
	ag, agErr := e.agents.GetByID(ctx, fu.AgentID)
	user, userErr := e.conversations.GetUser(ctx, fu.UserID)
	if convErr != nil || agErr != nil || userErr != nil || conv == nil || ag == nil || user == nil {
		e.markSkipped(ctx, fu, "missing conversation, agent, or user")
		return
	}

	if conv.OptedOut || conv.Paused || !ag.IsActive {
		e.finish(ctx, fu, StatusCancelled, "")
		return
	}
	// Customer spoke after this follow-up was scheduled.
	if conv.LastCustomerMessageAt != nil && conv.LastCustomerMessageAt.After(fu.CreatedAt) {
		e.finish(ctx, fu, StatusCancelled, "")
		return
	}

	cfg := ag.FollowupOrDefault()
	needsTemplate := needsMetaTemplate(ag, conv)
	if needsTemplate && len(cfg.MetaTemplates) == 0 {
		e.markSkipped(ctx, fu, "meta provider after 24h but no templates configured")
		return
	}

	verdict := e.evaluate(ctx, fu, ag, user, cfg, needsTemplate)
	if !verdict.Send {
		reason := verdict.Reason
		if reason == "" {
			reason = "AI decided not to send"
		}
		e.markSkipped(ctx, fu, reason)
		return
	}

	if err := e.send(ctx, fu, conv, ag, user, verdict, needsTemplate); err != nil {
		e.markSkipped(ctx, fu, err.Error())
		return
	}

	now := time.Now().UTC()
	fu.Status = StatusSent
	fu.SentAt = &now
	fu.Content = verdict.Content
	if err := e.repo.Update(ctx, fu); err != nil {
		logrus.WithError(err).Errorf("[FOLLOWUP] Failed to finalize id=%d", fu.ID)
	}

	// followup_number is 1-indexed, so it doubles as the next 0-indexed step.
	sequence := sequenceOrDefault(cfg)
	if next := fu.FollowupNumber; next < len(sequence) {
		e.armTimer(ctx, ag.ID, conv.ID, sequence[next].DelayHours)
	}
}

// needsMetaTemplate reports whether Meta's 24-hour customer-service window
// has closed, forcing an approved template.
func needsMetaTemplate(ag *agent.Agent, conv *conversation.Conversation) bool {
	if ag.Provider != agent.ProviderMeta {
		return false
	}
	if conv.LastCustomerMessageAt == nil {
		return true
	}
	return time.Since(*conv.LastCustomerMessageAt) > templateWindow
}

func (e *Engine) send(ctx context.Context, fu *ScheduledFollowup, conv *conversation.Conversation, ag *agent.Agent, user *conversation.User, verdict decision, needsTemplate bool) error {
	if user.Phone == "" {
		return fmt.Errorf("no customer phone")
	}
	if needsTemplate {
		return e.sendAsTemplate(ctx, fu, conv, ag, user, verdict)
	}
	return e.sendAsFreetext(ctx, fu, conv, ag, user, verdict)
}

func (e *Engine) sendAsFreetext(ctx context.Context, fu *ScheduledFollowup, conv *conversation.Conversation, ag *agent.Agent, user *conversation.User, verdict decision) error {
	if verdict.Content == "" {
		return fmt.Errorf("AI returned empty content")
	}
	if err := e.sender.SendText(ctx, ag, user.Phone, verdict.Content); err != nil {
		return fmt.Errorf("whatsapp send failed: %w", err)
	}

	e.recordMessage(ctx, conv.ID, verdict.Content)
	fu.SentVia = SentViaFreeText
	logrus.Infof("[FOLLOWUP_SENT] #%d agent=%s", fu.FollowupNumber, ag.Name)
	return nil
}

func (e *Engine) sendAsTemplate(ctx context.Context, fu *ScheduledFollowup, conv *conversation.Conversation, ag *agent.Agent, user *conversation.User, verdict decision) error {
	if verdict.TemplateName == "" {
		return fmt.Errorf("AI did not select a template")
	}
	language := verdict.TemplateLanguage
	if language == "" {
		language = "he"
	}

	tpl, err := e.templates.GetByName(ctx, ag.ID, verdict.TemplateName, language)
	if err != nil || tpl == nil || tpl.Status != template.StatusApproved {
		return fmt.Errorf("template %q not found or not approved", verdict.TemplateName)
	}

	if err := e.sender.SendTemplate(ctx, ag, user.Phone, verdict.TemplateName, language, verdict.params()); err != nil {
		return fmt.Errorf("meta template send failed: %w", err)
	}

	e.recordMessage(ctx, conv.ID, fmt.Sprintf("[follow-up template: %s]", verdict.TemplateName))
	fu.SentVia = SentViaTemplate
	fu.TemplateName = verdict.TemplateName
	logrus.Infof("[FOLLOWUP_SENT] Template %q #%d agent=%s", verdict.TemplateName, fu.FollowupNumber, ag.Name)
	return nil
}

func (e *Engine) recordMessage(ctx context.Context, conversationID uint, content string) {
	msg := &conversation.Message{
		ConversationID: conversationID,
		Role:           conversation.RoleAssistant,
		Type:           conversation.TypeFollowup,
		Content:        content,
	}
	if err := e.conversations.AppendMessage(ctx, msg); err != nil {
		logrus.WithError(err).Warn("[FOLLOWUP] Failed to record message")
	}
}

func (e *Engine) markSkipped(ctx context.Context, fu *ScheduledFollowup, reason string) {
	e.finish(ctx, fu, StatusSkipped, truncateRunes(reason, skipReasonMax))
}

func (e *Engine) finish(ctx context.Context, fu *ScheduledFollowup, status, reason string) {
	fu.Status = status
	fu.AIReason = reason
	if err := e.repo.Update(ctx, fu); err != nil {
		logrus.WithError(err).Errorf("[FOLLOWUP] Failed to finalize id=%d", fu.ID)
	}
}
