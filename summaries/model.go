package summaries

import (
	"context"
	"time"
)

// Webhook delivery states for a summary.
const (
	WebhookPending = "pending"
	WebhookSent    = "sent"
	WebhookFailed  = "failed"
)

// ConversationSummary is one inactivity summary, keyed by the conversation and
// the last customer message it covers so each quiet window is summarized once.
type ConversationSummary struct {
	ID             uint
	ConversationID uint
	AgentID        uint
	UserID         uint
	SummaryText    string
	MessageCount   int64
	LastMessageAt  time.Time
	WebhookStatus  string
	WebhookAttempts int
	WebhookSentAt  *time.Time
	WebhookLastError string
	NextRetryAt    *time.Time
	CreatedAt      time.Time
}

// Candidate is one conversation the detection query flagged for summarizing.
type Candidate struct {
	ConversationID    uint
	UserID            uint
	MessageCount      int64
	LastUserMessageAt time.Time
}

type Repository interface {
	// Candidates finds the agent's conversations whose last customer message
	// is at or before threshold, have at least minMessages messages, and have
	// no summary covering the current message window.
	Candidates(ctx context.Context, agentID uint, threshold time.Time, minMessages, limit int) ([]Candidate, error)

	// LastUserMessageAt returns the newest customer message time, or zero
	// when the conversation has none.
	LastUserMessageAt(ctx context.Context, conversationID uint) (time.Time, error)

	// ConversationText renders the newest maxMessages messages in
	// chronological order for the summary prompt.
	ConversationText(ctx context.Context, conversationID uint, maxMessages int) (string, error)

	// Create inserts the summary. duplicate=true means a peer already
	// summarized this window and the row was discarded.
	Create(ctx context.Context, summary *ConversationSummary) (duplicate bool, err error)

	// DueRetries returns summaries whose webhook is pending with a passed
	// retry time.
	DueRetries(ctx context.Context, now time.Time, limit int) ([]ConversationSummary, error)

	Update(ctx context.Context, summary *ConversationSummary) error
}
