package media

import "context"

// Repository persists the agent media library.
type Repository interface {
	Create(ctx context.Context, m *AgentMedia) error
	GetByID(ctx context.Context, id uint) (*AgentMedia, error)
	ListByAgent(ctx context.Context, agentID uint, mediaType string, activeOnly bool) ([]AgentMedia, error)
	Update(ctx context.Context, m *AgentMedia) error
	Delete(ctx context.Context, id uint) error
}
