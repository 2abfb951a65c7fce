package reminders

import (
	"context"
	"time"
)

// Reminder lifecycle states. processing is a short-lived claim that prevents
// double-sends across scheduler instances.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusSent       = "sent"
	StatusFailed     = "failed"
	StatusCancelled  = "cancelled"
)

// Content source for one reminder.
const (
	ContentTemplate     = "template"
	ContentAI           = "ai"
	ContentMetaTemplate = "meta_template"
)

// ScheduledReminder is one materialized reminder for an appointment. Rules
// are expanded into rows at booking time so the scheduler only ever scans a
// single table.
type ScheduledReminder struct {
	ID            uint
	AppointmentID uint
	AgentID       uint
	UserID        uint
	ScheduledFor  time.Time // UTC
	Status        string
	ContentType   string
	Template      string
	AIPrompt      string
	TemplateName  string
	Language      string
	RuleIndex     int
	SentAt        *time.Time
	ErrorMessage  string
	CreatedAt     time.Time
}

type Repository interface {
	CreateBatch(ctx context.Context, reminders []ScheduledReminder) error

	// CancelPendingForAppointment flips all pending reminders of an
	// appointment to cancelled and returns how many were affected.
	CancelPendingForAppointment(ctx context.Context, appointmentID uint) (int64, error)

	// DueBatch returns up to limit pending reminders scheduled at or before
	// now, oldest first.
	DueBatch(ctx context.Context, now time.Time, limit int) ([]ScheduledReminder, error)

	// ClaimProcessing moves a pending reminder to processing. False when the
	// row was already claimed by a peer.
	ClaimProcessing(ctx context.Context, id uint) (bool, error)

	// HasPendingForUser reports whether the user has any pending reminder on
	// the agent. Follow-ups yield to an upcoming reminder.
	HasPendingForUser(ctx context.Context, agentID, userID uint) (bool, error)

	Update(ctx context.Context, reminder *ScheduledReminder) error
}
