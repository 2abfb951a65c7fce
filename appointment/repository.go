package appointment

import (
	"context"
	"time"
)

// Repository persists appointments.
type Repository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uint) (*Appointment, error)
	Update(ctx context.Context, a *Appointment) error
	// HasConflict reports whether any scheduled appointment of the agent
	// overlaps [start, end), excluding excludeID when non-zero.
	HasConflict(ctx context.Context, agentID uint, start, end time.Time, excludeID uint) (bool, error)
	// ScheduledBetween returns scheduled appointments starting in [start, end].
	ScheduledBetween(ctx context.Context, agentID uint, start, end time.Time) ([]Appointment, error)
	// UpcomingForUser returns the user's future scheduled appointments,
	// soonest first.
	UpcomingForUser(ctx context.Context, agentID, userID uint) ([]Appointment, error)
}
