package appointment

import "time"

// Appointment lifecycle states.
const (
	StatusScheduled = "scheduled"
	StatusCancelled = "cancelled"
	StatusCompleted = "completed"
)

// Booking duration bounds in minutes.
const (
	MinDurationMinutes = 5
	MaxDurationMinutes = 480
)

// Appointment is a calendar booking, optionally mirrored to Google Calendar.
// Times are stored in UTC.
type Appointment struct {
	ID            uint
	AgentID       uint
	UserID        uint
	GoogleEventID string
	StartTime     time.Time
	EndTime       time.Time
	Title         string
	Description   string
	Status        string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// DurationMinutes derives the booked length.
func (a *Appointment) DurationMinutes() int {
	return int(a.EndTime.Sub(a.StartTime) / time.Minute)
}

// Slot is one free window offered to the customer, in the agent's timezone.
type Slot struct {
	Date     string // YYYY-MM-DD
	Start    string // HH:MM
	End      string // HH:MM
	DateTime time.Time
}
