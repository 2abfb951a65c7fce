package followups

import (
	"context"
	"time"
)

// Follow-up lifecycle states. evaluating marks rows claimed by a processing
// pass; any failure resolves to skipped so nothing stays stuck.
const (
	StatusPending    = "pending"
	StatusEvaluating = "evaluating"
	StatusSent       = "sent"
	StatusSkipped    = "skipped"
	StatusCancelled  = "cancelled"
)

// Delivery channel recorded on sent follow-ups.
const (
	SentViaFreeText = "free_text"
	SentViaTemplate = "meta_template"
)

// ScheduledFollowup is one re-engagement attempt, created when a follow-up
// timer matures and the conversation passes the eligibility chain.
type ScheduledFollowup struct {
	ID              uint
	ConversationID  uint
	AgentID         uint
	UserID          uint
	FollowupNumber  int // 1-indexed sequence step
	StepInstruction string
	ScheduledFor    time.Time
	Status          string
	Content         string
	AIReason        string
	SentVia         string
	TemplateName    string
	SentAt          *time.Time
	CreatedAt       time.Time
}

type Repository interface {
	Create(ctx context.Context, fu *ScheduledFollowup) error
	GetByID(ctx context.Context, id uint) (*ScheduledFollowup, error)
	Update(ctx context.Context, fu *ScheduledFollowup) error

	// SentCountSince counts follow-ups sent after the cutoff, which is how
	// the current sequence step is derived.
	SentCountSince(ctx context.Context, conversationID uint, cutoff time.Time) (int64, error)

	// LastSentAfter returns the newest sent_at strictly after the cutoff,
	// or nil when none.
	LastSentAfter(ctx context.Context, conversationID uint, cutoff time.Time) (*time.Time, error)

	// HasActive reports whether a pending or evaluating row exists.
	HasActive(ctx context.Context, conversationID uint) (bool, error)

	// SentForConversation lists sent follow-ups oldest first, for the
	// evaluator's context.
	SentForConversation(ctx context.Context, conversationID uint) ([]ScheduledFollowup, error)

	// ClaimDueBatch flips up to limit due pending rows to evaluating in one
	// transaction and returns them.
	ClaimDueBatch(ctx context.Context, now time.Time, limit int) ([]ScheduledFollowup, error)

	// CancelActive cancels pending and evaluating rows for a conversation.
	CancelActive(ctx context.Context, conversationID uint) (int64, error)
}
