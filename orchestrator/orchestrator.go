package orchestrator

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/wapilot/wapilot/agent"
	"github.com/wapilot/wapilot/appointment"
	"github.com/wapilot/wapilot/batching"
	"github.com/wapilot/wapilot/contextsummary"
	"github.com/wapilot/wapilot/conversation"
	"github.com/wapilot/wapilot/knowledge"
	"github.com/wapilot/wapilot/llm"
	"github.com/wapilot/wapilot/media"
	"github.com/wapilot/wapilot/outbound"
	"github.com/wapilot/wapilot/tools"
)

const replyMaxTokens = 1024

// FollowupHook lets the follow-up engine react to conversation activity
// without a package cycle.
type FollowupHook interface {
	// CancelPending voids queued follow-ups when the customer speaks.
	CancelPending(ctx context.Context, conversationID uint) (int64, error)

	// ScheduleNext arms the first follow-up timer after an assistant reply.
	ScheduleNext(ctx context.Context, ag *agent.Agent, conv *conversation.Conversation)
}

// Orchestrator runs the full inbound flow: persistence, prompt assembly, the
// provider tool loop and outbound delivery.
type Orchestrator struct {
	agents        agent.Repository
	conversations conversation.Repository
	knowledge     *knowledge.Service
	media         *media.Service
	appointments  *appointment.Service
	factory       *llm.Factory
	executor      *tools.Executor
	summaries     contextsummary.Repository
	summaryRunner *contextsummary.Runner
	sender        outbound.Sender

	followups FollowupHook
}

func New(
	agents agent.Repository,
	conversations conversation.Repository,
	kn *knowledge.Service,
	md *media.Service,
	apts *appointment.Service,
	factory *llm.Factory,
	executor *tools.Executor,
	summaries contextsummary.Repository,
	summaryRunner *contextsummary.Runner,
	sender outbound.Sender,
) *Orchestrator {
	return &Orchestrator{
		agents:        agents,
		conversations: conversations,
		knowledge:     kn,
		media:         md,
		appointments:  apts,
		factory:       factory,
		executor:      executor,
		summaries:     summaries,
		summaryRunner: summaryRunner,
		sender:        sender,
	}
}

// SetFollowupHook wires the follow-up engine. Optional; nil disables both
// cancellation and scheduling.
func (o *Orchestrator) SetFollowupHook(hook FollowupHook) { o.followups = hook }

// ProcessBatch handles one drained batch for an (agent, phone) pair. Errors
// are logged, never returned: a webhook retry storm helps nobody.
func (o *Orchestrator) ProcessBatch(ctx context.Context, agentID uint, phone, displayName string, batch []batching.PendingMessage) {
	if len(batch) == 0 {
		return
	}

	ag, err := o.agents.GetByID(ctx, agentID)
	if err != nil {
		logrus.WithError(err).Errorf("[PROCESS] agent=%d not found", agentID)
		return
	}

	user, err := o.conversations.GetOrCreateUser(ctx, phone, displayName)
	if err != nil {
		logrus.WithError(err).Error("[PROCESS] User lookup failed")
		return
	}
	conv, err := o.conversations.GetOrCreateConversation(ctx, ag.ID, user.ID)
	if err != nil {
		logrus.WithError(err).Error("[PROCESS] Conversation lookup failed")
		return
	}

	display := user.Name
	if display == "" && len(phone) >= 4 {
		display = phone[len(phone)-4:]
	}

	// A customer message re-enables proactive messaging and voids any
	// follow-ups already queued.
	if conv.OptedOut {
		if err := o.conversations.SetOptedOut(ctx, conv.ID, false); err != nil {
			logrus.WithError(err).Warn("[PROCESS] Opt-in reset failed")
		}
	}
	if err := o.conversations.TouchLastCustomerMessage(ctx, conv.ID, time.Now().UTC()); err != nil {
		logrus.WithError(err).Warn("[PROCESS] last_customer_message_at update failed")
	}
	if o.followups != nil {
		if n, err := o.followups.CancelPending(ctx, conv.ID); err == nil && n > 0 {
			logrus.Debugf("[PROCESS] Cancelled %d pending follow-ups conv=%d", n, conv.ID)
		}
	}

	if conv.Paused {
		for _, msg := range batch {
			o.saveUserMessage(ctx, conv.ID, msg.Text, msg.MsgType)
		}
		logrus.Infof("[PAUSED] agent=%s user=%s msgs=%d", ag.Name, display, len(batch))
		return
	}

	// Describe inbound images so history and summaries stay text-only.
	hasImages := false
	for i := range batch {
		msg := &batch[i]
		if msg.MsgType == "image" && msg.ImageBase64 != "" {
			hasImages = true
			msg.Text = "[תמונה]: " + o.describeImage(ctx, ag, msg.ImageBase64, msg.MediaType)
		}
		o.saveUserMessage(ctx, conv.ID, msg.Text, msg.MsgType)
	}

	combined := batching.CombinedText(batch)
	logrus.Infof("[MESSAGE] agent=%s user=%s parts=%d images=%v", ag.Name, display, len(batch), hasImages)

	history, err := o.buildHistory(ctx, ag, conv.ID, len(batch))
	if err != nil {
		logrus.WithError(err).Error("[PROCESS] History build failed")
		return
	}

	req := o.buildRequest(ctx, ag, user, combined, batch, history)
	provider, err := o.factory.ForRequest(req, ag)
	if err != nil {
		logrus.WithError(err).Error("[PROCESS] Provider unavailable")
		return
	}

	handler := o.executor.Handler(ag, user.ID, conv.ID)
	resp, err := provider.GetResponse(ctx, req, handler)
	if err != nil {
		logrus.WithError(err).Errorf("[PROCESS] LLM call failed agent=%s", ag.Name)
		return
	}

	if err := o.agents.AddUsage(ctx, ag.ID, ag.Model, agent.ModelUsage{
		Input:       resp.Usage.InputTokens,
		Output:      resp.Usage.OutputTokens,
		CacheRead:   resp.Usage.CacheReadTokens,
		CacheCreate: resp.Usage.CacheCreationTokens,
	}); err != nil {
		logrus.WithError(err).Warn("[PROCESS] Usage update failed")
	}

	o.deliverMedia(ctx, ag, conv.ID, phone, resp.MediaActions)

	if text := strings.TrimSpace(resp.Text); text != "" {
		if err := o.conversations.AppendMessage(ctx, &conversation.Message{
			ConversationID: conv.ID,
			Role:           conversation.RoleAssistant,
			Type:           conversation.TypeText,
			Content:        text,
		}); err != nil {
			logrus.WithError(err).Warn("[PROCESS] Assistant message save failed")
		}
		logrus.Infof("[RESPONSE] in=%d out=%d cached=%d",
			resp.Usage.InputTokens, resp.Usage.OutputTokens, resp.Usage.CacheReadTokens)
		if err := o.sender.SendText(ctx, ag, phone, text); err != nil {
			logrus.WithError(err).Errorf("[PROCESS] Send failed to %s", display)
		}
	}

	o.summaryRunner.MaybeRun(ctx, ag, conv.ID)
	if o.followups != nil {
		o.followups.ScheduleNext(ctx, ag, conv)
	}
}

func (o *Orchestrator) saveUserMessage(ctx context.Context, conversationID uint, text, msgType string) {
	if msgType == "" {
		msgType = string(conversation.TypeText)
	}
	err := o.conversations.AppendMessage(ctx, &conversation.Message{
		ConversationID: conversationID,
		Role:           conversation.RoleUser,
		Type:           conversation.MessageType(msgType),
		Content:        text,
	})
	if err != nil {
		logrus.WithError(err).Warn("[PROCESS] User message save failed")
	}
}

func (o *Orchestrator) describeImage(ctx context.Context, ag *agent.Agent, imageBase64, mediaType string) string {
	provider, err := o.factory.Vision(ag)
	if err != nil {
		return "תמונה"
	}
	desc, err := provider.DescribeImage(ctx, imageBase64, mediaType)
	if err != nil || strings.TrimSpace(desc) == "" {
		logrus.WithError(err).Warn("[PROCESS] Image description failed")
		return "תמונה"
	}
	return strings.TrimSpace(desc)
}

// buildHistory prefers summarized history and falls back to the plain recent
// window. The pending batch is excluded either way; it travels as the new
// user turn.
func (o *Orchestrator) buildHistory(ctx context.Context, ag *agent.Agent, conversationID uint, pendingCount int) ([]llm.HistoryMessage, error) {
	if ag.ContextSummaryOrDefault().Enabled {
		history, ok, err := contextsummary.HistoryWithSummary(ctx, o.summaries, o.conversations, ag, conversationID, pendingCount)
		if err != nil {
			return nil, err
		}
		if ok {
			return history, nil
		}
	}

	maxHistory := ag.BatchingOrDefault().MaxHistoryMessages
	recent, err := o.conversations.RecentMessages(ctx, conversationID, maxHistory+pendingCount)
	if err != nil {
		return nil, err
	}
	if pendingCount > 0 && len(recent) >= pendingCount {
		recent = recent[:len(recent)-pendingCount]
	}
	if len(recent) > maxHistory {
		recent = recent[len(recent)-maxHistory:]
	}
	history := make([]llm.HistoryMessage, len(recent))
	for i, m := range recent {
		history[i] = llm.HistoryMessage{Role: string(m.Role), Content: m.Content}
	}
	return history, nil
}

func (o *Orchestrator) buildRequest(ctx context.Context, ag *agent.Agent, user *conversation.User, combined string, batch []batching.PendingMessage, history []llm.HistoryMessage) llm.Request {
	cfg := ag.CalendarOrDefault()
	var userAppointments []appointment.Appointment
	if cfg.GoogleTokens != nil {
		if apts, err := o.appointments.UpcomingForUser(ctx, ag.ID, user.ID); err == nil {
			userAppointments = apts
		}
	}

	req := llm.Request{
		Model: ag.Model,
		SystemBlocks: buildSystemBlocks(
			ag, user,
			knowledgeContext(ctx, o.knowledge, ag.ID),
			mediaContext(ctx, o.media, ag),
			calendarBlock(ag, userAppointments),
		),
		History:     history,
		UserContent: userContent(batch, combined),
		Tools:       tools.Catalog(ag.FollowupOrDefault().Enabled),
		MaxTokens:   replyMaxTokens,
	}
	return req
}

// userContent converts the batch into provider content blocks, keeping raw
// images alongside their describing text.
func userContent(batch []batching.PendingMessage, combined string) []llm.ContentBlock {
	var blocks []llm.ContentBlock
	for _, msg := range batch {
		if msg.MsgType == "image" && msg.ImageBase64 != "" {
			blocks = append(blocks, llm.ImageBlock(msg.ImageBase64, msg.MediaType))
			if msg.Text != "" {
				blocks = append(blocks, llm.TextBlock(msg.Text))
			}
			continue
		}
		if msg.Text != "" {
			blocks = append(blocks, llm.TextBlock(msg.Text))
		}
	}
	if len(blocks) == 0 && combined != "" {
		blocks = append(blocks, llm.TextBlock(combined))
	}
	return blocks
}

// deliverMedia sends requested media actions, deduplicated and capped per
// message, recording each successful send as an assistant message.
func (o *Orchestrator) deliverMedia(ctx context.Context, ag *agent.Agent, conversationID uint, phone string, actions []llm.MediaAction) {
	if len(actions) == 0 {
		return
	}
	maxMedia := ag.MediaOrDefault().MaxPerMessage

	seen := make(map[uint]bool)
	sent := 0
	for _, action := range actions {
		if sent >= maxMedia {
			break
		}
		if seen[action.MediaID] {
			continue
		}
		seen[action.MediaID] = true

		if err := o.sender.SendMedia(ctx, ag, phone, action); err != nil {
			logrus.WithError(err).Errorf("[PROCESS] Media send failed: %s", action.Name)
			continue
		}
		mediaID := action.MediaID
		if err := o.conversations.AppendMessage(ctx, &conversation.Message{
			ConversationID: conversationID,
			Role:           conversation.RoleAssistant,
			Type:           conversation.MessageType(action.Kind),
			Content:        "[" + action.Kind + "]: " + action.Name,
			MediaID:        &mediaID,
			MediaURL:       action.URL,
		}); err != nil {
			logrus.WithError(err).Warn("[PROCESS] Media message save failed")
		}
		sent++
	}
}
