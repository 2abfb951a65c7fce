package agent

import "context"

// Repository is the data access contract for agents. The core only reads
// agents and mutates usage counters; CRUD belongs to the admin surface.
type Repository interface {
	GetByID(ctx context.Context, id uint) (*Agent, error)
	GetByPhoneNumberID(ctx context.Context, phoneNumberID string) (*Agent, error)
	ListActive(ctx context.Context) ([]*Agent, error)
	VerifyTokenKnown(ctx context.Context, token string) (bool, error)

	// AddUsage atomically folds a usage delta into the agent's per-model
	// counters.
	AddUsage(ctx context.Context, agentID uint, model string, delta ModelUsage) error

	// UpdateCalendarConfig replaces the calendar blob, used to persist
	// refreshed Google tokens.
	UpdateCalendarConfig(ctx context.Context, agentID uint, cfg *CalendarConfig) error
}
