package contextsummary

import (
	"context"
	"time"
)

// ContextSummary is the rolling long-term memory of one conversation. It
// covers every message up to LastMessageIDCovered; newer messages ride along
// verbatim until the next summarization run folds them in.
type ContextSummary struct {
	ID                   uint
	ConversationID       uint
	SummaryText          string
	LastMessageIDCovered uint
	IncrementalCount     int
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Repository stores one summary row per conversation.
type Repository interface {
	// Get returns nil without error when the conversation has no summary yet.
	Get(ctx context.Context, conversationID uint) (*ContextSummary, error)

	// Save upserts the summary keyed by conversation.
	Save(ctx context.Context, summary *ContextSummary) error
}
