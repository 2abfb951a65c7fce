package contextsummary

import (
	"context"
	"fmt"
	"strings"

	"github.com/wapilot/wapilot/conversation"
)

// maxMessagesForFullSummary caps how many messages a full re-summarization
// reads; beyond that the oldest context only survives through prior summaries.
const maxMessagesForFullSummary = 200

const summaryInstructions = `סכם את השיחה בצורה מובנית ותמציתית. הסיכום ישמש כזיכרון ארוך טווח לסוכן AI.

כלול:
1. נושאים מרכזיים שנדונו
2. מידע שנלמד על הלקוח (שם, מגדר, תחום, העדפות)
3. בקשות ותשובות מרכזיות
4. מדיה/קבצים שנשלחו (ציין סוג ותיאור)
5. פגישות שנקבעו/שונו/בוטלו
6. עניינים פתוחים שלא נסגרו
7. הסכמות או התחייבויות שניתנו

כתוב בעברית. היה ממוקד — אל תחזור על מידע כפול. אם אין מידע לסעיף מסוים, דלג עליו.`

// fullSummaryDue reports whether this run should re-summarize from scratch
// instead of folding new messages into the existing summary.
func fullSummaryDue(incrementalCount, fullSummaryEvery int) bool {
	if fullSummaryEvery <= 0 {
		return false
	}
	return incrementalCount > 0 && incrementalCount%fullSummaryEvery == 0
}

func buildIncrementalPrompt(ctx context.Context, repo conversation.Repository, conversationID uint, summary *ContextSummary) (string, error) {
	lastID := uint(0)
	if summary != nil {
		lastID = summary.LastMessageIDCovered
	}
	newMessages, err := repo.MessagesAfter(ctx, conversationID, lastID)
	if err != nil {
		return "", err
	}

	parts := []string{summaryInstructions, ""}
	if summary != nil && summary.SummaryText != "" {
		parts = append(parts,
			fmt.Sprintf("סיכום קיים (עד כה):\n%s", summary.SummaryText),
			"",
			fmt.Sprintf("הודעות חדשות (%d):", len(newMessages)))
	} else {
		parts = append(parts, fmt.Sprintf("הודעות השיחה (%d):", len(newMessages)))
	}
	parts = append(parts,
		formatMessages(newMessages),
		"",
		"כתוב סיכום מעודכן שמכסה את כל השיחה (כולל המידע מהסיכום הקיים אם רלוונטי):")
	return strings.Join(parts, "\n"), nil
}

func buildFullPrompt(ctx context.Context, repo conversation.Repository, conversationID uint) (string, error) {
	all, err := repo.MessagesAfter(ctx, conversationID, 0)
	if err != nil {
		return "", err
	}
	if len(all) > maxMessagesForFullSummary {
		all = all[:maxMessagesForFullSummary]
	}

	parts := []string{
		summaryInstructions,
		"",
		fmt.Sprintf("כל ההודעות בשיחה (%d):", len(all)),
		formatMessages(all),
		"",
		"כתוב סיכום מלא של השיחה:",
	}
	return strings.Join(parts, "\n"), nil
}

func formatMessages(msgs []conversation.Message) string {
	lines := make([]string, 0, len(msgs))
	for _, m := range msgs {
		role := "סוכן"
		if m.Role == conversation.RoleUser {
			role = "לקוח"
		}
		prefix := ""
		if m.Type != "" && m.Type != conversation.TypeText {
			prefix = fmt.Sprintf("[%s] ", m.Type)
		}
		content := m.Content
		if runes := []rune(content); len(runes) > 500 {
			content = string(runes[:500])
		}
		lines = append(lines, fmt.Sprintf("%s: %s%s", role, prefix, content))
	}
	return strings.Join(lines, "\n")
}
