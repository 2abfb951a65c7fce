package contextsummary

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/wapilot/wapilot/agent"
	"github.com/wapilot/wapilot/conversation"
	"github.com/wapilot/wapilot/infrastructure/coordination"
	"github.com/wapilot/wapilot/llm"
)

const (
	summaryMaxTokens = 2000
	summaryLockTTL   = 5 * time.Minute

	// systemPromptTokenBuffer reserves headroom for the system blocks when
	// estimating distance to the context window.
	systemPromptTokenBuffer = 4000
)

// Runner generates and persists context summaries behind a per-conversation
// lock so concurrent triggers collapse into one LLM call.
type Runner struct {
	summaries     Repository
	conversations conversation.Repository
	agents        agent.Repository
	factory       *llm.Factory
	store         coordination.Store
}

func NewRunner(summaries Repository, conversations conversation.Repository, agents agent.Repository, factory *llm.Factory, store coordination.Store) *Runner {
	return &Runner{
		summaries:     summaries,
		conversations: conversations,
		agents:        agents,
		factory:       factory,
		store:         store,
	}
}

// ShouldTrigger reports whether the conversation needs a summarization run:
// either enough new messages accumulated or the unsummarized tail approaches
// the model's context window.
func (r *Runner) ShouldTrigger(ctx context.Context, ag *agent.Agent, conversationID uint) bool {
	cfg := ag.ContextSummaryOrDefault()
	if !cfg.Enabled {
		return false
	}

	summary, err := r.summaries.Get(ctx, conversationID)
	if err != nil {
		logrus.WithError(err).Warn("[CONTEXT_SUMMARY] Trigger check failed")
		return false
	}
	lastCovered := uint(0)
	if summary != nil {
		lastCovered = summary.LastMessageIDCovered
	}

	newCount, err := r.conversations.CountMessagesAfter(ctx, conversationID, lastCovered)
	if err != nil {
		return false
	}
	if newCount >= int64(cfg.MessageThreshold) {
		return true
	}
	return r.approachingContextLimit(ctx, ag, conversationID, summary, lastCovered)
}

func (r *Runner) approachingContextLimit(ctx context.Context, ag *agent.Agent, conversationID uint, summary *ContextSummary, lastCovered uint) bool {
	safeLimit := llm.SafeContextLimit(ag.Model)

	total := systemPromptTokenBuffer
	if summary != nil {
		total += llm.EstimateTokens(summary.SummaryText)
	}
	recent, err := r.conversations.MessagesAfter(ctx, conversationID, lastCovered)
	if err != nil {
		return false
	}
	for _, m := range recent {
		total += llm.EstimateTokens(m.Content)
	}
	return total >= safeLimit
}

// MaybeRun triggers a background summarization when due.
func (r *Runner) MaybeRun(ctx context.Context, ag *agent.Agent, conversationID uint) {
	if !r.ShouldTrigger(ctx, ag, conversationID) {
		return
	}
	go func() {
		runCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		if err := r.Run(runCtx, conversationID, ag.ID); err != nil {
			logrus.WithError(err).Warnf("[CONTEXT_SUMMARY] Run failed conv=%d", conversationID)
		}
	}()
}

// Run generates one summary for the conversation. Safe to call concurrently;
// only the lock holder does work.
func (r *Runner) Run(ctx context.Context, conversationID, agentID uint) error {
	lockKey := fmt.Sprintf("context_summary:lock:%d", conversationID)
	owned, err := r.store.ClaimGate(ctx, lockKey, summaryLockTTL)
	if err != nil {
		return err
	}
	if !owned {
		return nil
	}
	defer func() {
		if err := r.store.ReleaseGate(ctx, lockKey); err != nil {
			logrus.WithError(err).Warn("[CONTEXT_SUMMARY] Lock release failed")
		}
	}()

	ag, err := r.agents.GetByID(ctx, agentID)
	if err != nil {
		return err
	}
	cfg := ag.ContextSummaryOrDefault()
	if !cfg.Enabled {
		return nil
	}

	summary, err := r.summaries.Get(ctx, conversationID)
	if err != nil {
		return err
	}
	incrementalCount := 0
	if summary != nil {
		incrementalCount = summary.IncrementalCount
	}
	isFull := fullSummaryDue(incrementalCount, cfg.FullSummaryEvery)

	var prompt string
	if isFull {
		prompt, err = buildFullPrompt(ctx, r.conversations, conversationID)
	} else {
		prompt, err = buildIncrementalPrompt(ctx, r.conversations, conversationID, summary)
	}
	if err != nil {
		return err
	}

	lastMsgID, err := r.conversations.MaxMessageID(ctx, conversationID)
	if err != nil || lastMsgID == 0 {
		return err
	}

	provider, err := r.factory.Get(llm.ResolveProviderName(ag.Model), ag)
	if err != nil {
		return err
	}
	text, err := provider.GenerateSimpleResponse(ctx, ag.Model, prompt, summaryMaxTokens)
	if err != nil {
		return err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return fmt.Errorf("llm returned empty summary")
	}

	if summary == nil {
		summary = &ContextSummary{ConversationID: conversationID, IncrementalCount: 1}
	} else if isFull {
		summary.IncrementalCount = 0
	} else {
		summary.IncrementalCount++
	}
	summary.SummaryText = text
	// Covered id only advances; a racing writer never moves memory backwards.
	if lastMsgID > summary.LastMessageIDCovered {
		summary.LastMessageIDCovered = lastMsgID
	}
	if err := r.summaries.Save(ctx, summary); err != nil {
		return err
	}

	mode := "incremental"
	if isFull {
		mode = "full"
	}
	logrus.Infof("[CONTEXT_SUMMARY] agent=%s conv=%d mode=%s", ag.Name, conversationID, mode)
	return nil
}
