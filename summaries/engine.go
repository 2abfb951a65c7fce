package summaries

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/wapilot/wapilot/agent"
	"github.com/wapilot/wapilot/conversation"
	"github.com/wapilot/wapilot/llm"
)

const (
	detectBatchSize = 50

	// Rough 4-chars-per-token cap on the conversation text fed to the model.
	transcriptMaxChars = 30000
	summaryMaxTokens   = 1024
)

const defaultSummaryPrompt = "סכם את השיחה הזו בצורה תמציתית.\nכלול: נושאי השיחה העיקריים, בקשות הלקוח, תשובות שניתנו, והאם נותרו עניינים פתוחים."

// Engine detects quiet conversations, summarizes them and delivers the
// summary to the agent's webhook with scheduled retries.
type Engine struct {
	repo          Repository
	agents        agent.Repository
	conversations conversation.Repository
	factory       *llm.Factory
	httpClient    *http.Client
}

func NewEngine(repo Repository, agents agent.Repository, conversations conversation.Repository, factory *llm.Factory) *Engine {
	return &Engine{
		repo:          repo,
		agents:        agents,
		conversations: conversations,
		factory:       factory,
		httpClient:    &http.Client{Timeout: 30 * time.Second},
	}
}

// ProcessPending runs one detection pass over every summary-enabled agent and
// creates summaries for conversations that went quiet. Returns how many were
// created.
func (e *Engine) ProcessPending(ctx context.Context) int {
	now := time.Now().UTC()
	created := 0

	agents, err := e.agents.ListActive(ctx)
	if err != nil {
		logrus.WithError(err).Error("[SUMMARIES] Failed to list agents")
		return 0
	}

	for _, ag := range agents {
		cfg := ag.SummaryOrDefault()
		if !cfg.Enabled {
			continue
		}
		threshold := now.Add(-time.Duration(cfg.DelayMinutes) * time.Minute)

		candidates, err := e.repo.Candidates(ctx, ag.ID, threshold, cfg.MinMessages, detectBatchSize)
		if err != nil {
			logrus.WithError(err).Errorf("[SUMMARIES] Detection query failed agent=%s", ag.Name)
			continue
		}

		for _, candidate := range candidates {
			user, err := e.conversations.GetUser(ctx, candidate.UserID)
			if err != nil || user == nil {
				continue
			}
			summary, err := e.createAndSend(ctx, ag, user, candidate, cfg)
			if err != nil {
				logrus.WithError(err).Errorf("[SUMMARIES] Failed conv=%d", candidate.ConversationID)
				continue
			}
			if summary != nil {
				created++
			}
		}
	}

	if created > 0 {
		logrus.Infof("[SUMMARIES] Created %d summaries", created)
	}
	return created
}

// createAndSend generates the summary, inserts it keyed by the message window
// and fires the first webhook attempt. Returns nil when a peer instance beat
// us to the window or the conversation turned out empty.
func (e *Engine) createAndSend(ctx context.Context, ag *agent.Agent, user *conversation.User, candidate Candidate, cfg agent.SummaryConfig) (*ConversationSummary, error) {
	lastAt, err := e.repo.LastUserMessageAt(ctx, candidate.ConversationID)
	if err != nil {
		return nil, err
	}
	if lastAt.IsZero() {
		return nil, nil
	}

	text, err := e.generate(ctx, ag, candidate.ConversationID, cfg)
	if err != nil || text == "" {
		return nil, err
	}

	nextRetry := time.Now().UTC().Add(time.Duration(cfg.WebhookRetryDelay) * time.Second)
	summary := &ConversationSummary{
		ConversationID: candidate.ConversationID,
		AgentID:        ag.ID,
		UserID:         user.ID,
		SummaryText:    text,
		MessageCount:   candidate.MessageCount,
		LastMessageAt:  lastAt,
		WebhookStatus:  WebhookPending,
		NextRetryAt:    &nextRetry,
	}
	duplicate, err := e.repo.Create(ctx, summary)
	if err != nil {
		return nil, err
	}
	if duplicate {
		return nil, nil
	}

	e.trySendWebhook(ctx, summary, ag, user, cfg)
	return summary, nil
}

// generate builds the summary prompt from the conversation tail and asks the
// agent's model for a completion.
func (e *Engine) generate(ctx context.Context, ag *agent.Agent, conversationID uint, cfg agent.SummaryConfig) (string, error) {
	transcript, err := e.repo.ConversationText(ctx, conversationID, cfg.MaxMessages)
	if err != nil || transcript == "" {
		return "", err
	}
	if runes := []rune(transcript); len(runes) > transcriptMaxChars {
		transcript = string(runes[:transcriptMaxChars]) + "\n...[השיחה קוצרה]"
	}

	prompt := cfg.SummaryPrompt
	if prompt == "" {
		prompt = defaultSummaryPrompt
	}
	full := fmt.Sprintf("%s\n\n---\nהשיחה:\n%s\n\n---\nכתוב סיכום תמציתי וברור.", prompt, transcript)

	provider, err := e.factory.Get(llm.ResolveProviderName(ag.Model), ag)
	if err != nil {
		return "", err
	}
	return provider.GenerateSimpleResponse(ctx, ag.Model, full, summaryMaxTokens)
}

// InlineSummary produces an on-demand summary for appointment webhook
// payloads. Returns "" when summaries are disabled or generation fails.
func (e *Engine) InlineSummary(ctx context.Context, ag *agent.Agent, userID uint) string {
	cfg := ag.SummaryOrDefault()
	if !cfg.Enabled {
		return ""
	}
	conv, err := e.conversations.GetOrCreateConversation(ctx, ag.ID, userID)
	if err != nil {
		return ""
	}
	text, err := e.generate(ctx, ag, conv.ID, cfg)
	if err != nil {
		logrus.WithError(err).Warn("[SUMMARIES] Inline summary failed")
		return ""
	}
	return text
}

// RetryPending re-attempts webhooks whose scheduled retry time has passed.
// Delivery timing rides the scheduler tick; nothing here sleeps.
func (e *Engine) RetryPending(ctx context.Context) int {
	pending, err := e.repo.DueRetries(ctx, time.Now().UTC(), detectBatchSize)
	if err != nil {
		logrus.WithError(err).Error("[SUMMARIES] Failed to load due webhook retries")
		return 0
	}

	succeeded := 0
	for i := range pending {
		summary := pending[i]
		ag, err := e.agents.GetByID(ctx, summary.AgentID)
		if err != nil || ag == nil {
			e.failWebhook(ctx, &summary, "agent or user not found")
			continue
		}
		user, err := e.conversations.GetUser(ctx, summary.UserID)
		if err != nil || user == nil {
			e.failWebhook(ctx, &summary, "agent or user not found")
			continue
		}
		if e.trySendWebhook(ctx, &summary, ag, user, ag.SummaryOrDefault()) {
			succeeded++
		}
	}

	if succeeded > 0 {
		logrus.Infof("[SUMMARIES] Retried %d webhooks successfully", succeeded)
	}
	return succeeded
}

// trySendWebhook performs one delivery attempt and advances the retry state.
func (e *Engine) trySendWebhook(ctx context.Context, summary *ConversationSummary, ag *agent.Agent, user *conversation.User, cfg agent.SummaryConfig) bool {
	if cfg.WebhookURL == "" {
		e.failWebhook(ctx, summary, "no webhook URL")
		return false
	}

	payload := map[string]any{
		"event":           "conversation_summary",
		"timestamp":       time.Now().UTC().Format(time.RFC3339),
		"agent_id":        ag.ID,
		"agent_name":      ag.Name,
		"conversation_id": summary.ConversationID,
		"customer_name":   user.Name,
		"customer_phone":  user.Phone,
		"message_count":   summary.MessageCount,
		"summary":         summary.SummaryText,
	}

	summary.WebhookAttempts++
	err := e.post(ctx, cfg.WebhookURL, payload)
	if err == nil {
		now := time.Now().UTC()
		summary.WebhookStatus = WebhookSent
		summary.WebhookSentAt = &now
		summary.NextRetryAt = nil
		summary.WebhookLastError = ""
		if updErr := e.repo.Update(ctx, summary); updErr != nil {
			logrus.WithError(updErr).Warn("[SUMMARIES] Failed to persist webhook state")
		}
		logrus.Infof("[SUMMARY_WEBHOOK] Sent conv=%d agent=%s", summary.ConversationID, ag.Name)
		return true
	}

	summary.WebhookLastError = truncateError(err.Error())
	if summary.WebhookAttempts >= cfg.WebhookRetryCount {
		summary.WebhookStatus = WebhookFailed
		summary.NextRetryAt = nil
		logrus.Errorf("[SUMMARIES] Webhook failed after %d attempts: %v", cfg.WebhookRetryCount, err)
	} else {
		nextRetry := time.Now().UTC().Add(time.Duration(cfg.WebhookRetryDelay) * time.Second)
		summary.NextRetryAt = &nextRetry
	}
	if updErr := e.repo.Update(ctx, summary); updErr != nil {
		logrus.WithError(updErr).Warn("[SUMMARIES] Failed to persist webhook state")
	}
	return false
}

func (e *Engine) failWebhook(ctx context.Context, summary *ConversationSummary, reason string) {
	summary.WebhookStatus = WebhookFailed
	summary.WebhookLastError = reason
	summary.NextRetryAt = nil
	if err := e.repo.Update(ctx, summary); err != nil {
		logrus.WithError(err).Warn("[SUMMARIES] Failed to persist webhook state")
	}
}

func (e *Engine) post(ctx context.Context, url string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return nil
}

func truncateError(s string) string {
	if runes := []rune(s); len(runes) > 100 {
		return string(runes[:100])
	}
	return s
}
