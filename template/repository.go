package template

import "context"

// Repository persists the local template catalog synced from Meta.
type Repository interface {
	Upsert(ctx context.Context, t *WhatsAppTemplate) error
	GetByName(ctx context.Context, agentID uint, name, language string) (*WhatsAppTemplate, error)
	ListByAgent(ctx context.Context, agentID uint) ([]WhatsAppTemplate, error)
	ListApproved(ctx context.Context, agentID uint) ([]WhatsAppTemplate, error)
	Delete(ctx context.Context, agentID uint, name, language string) error
}
