package contextsummary

import (
	"context"

	"github.com/wapilot/wapilot/agent"
	"github.com/wapilot/wapilot/conversation"
	"github.com/wapilot/wapilot/llm"
)

// Summary stub turns injected at the head of summarized history.
const (
	summaryStubPrefix = "[סיכום שיחה קודמת]:\n"
	summaryStubReply  = "קראתי את סיכום השיחה. אמשיך בהתאם."
)

// HistoryWithSummary builds the LLM history as summary stub + messages after
// the covered id, trimming the pending batch off the tail. ok is false when
// the conversation has no summary and the caller should use plain history.
func HistoryWithSummary(ctx context.Context, summaries Repository, messages conversation.Repository, ag *agent.Agent, conversationID uint, pendingCount int) ([]llm.HistoryMessage, bool, error) {
	summary, err := summaries.Get(ctx, conversationID)
	if err != nil {
		return nil, false, err
	}
	if summary == nil || summary.SummaryText == "" {
		return nil, false, nil
	}

	recent, err := messages.MessagesAfter(ctx, conversationID, summary.LastMessageIDCovered)
	if err != nil {
		return nil, false, err
	}
	if pendingCount > 0 && len(recent) >= pendingCount {
		recent = recent[:len(recent)-pendingCount]
	}
	keep := ag.ContextSummaryOrDefault().MessagesAfterSummary
	if len(recent) > keep {
		recent = recent[len(recent)-keep:]
	}

	history := make([]llm.HistoryMessage, 0, len(recent)+2)
	history = append(history,
		llm.HistoryMessage{Role: "user", Content: summaryStubPrefix + summary.SummaryText},
		llm.HistoryMessage{Role: "assistant", Content: summaryStubReply},
	)
	for _, m := range recent {
		history = append(history, llm.HistoryMessage{Role: string(m.Role), Content: m.Content})
	}
	return history, true, nil
}
