package template

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/wapilot/wapilot/pkg/apperr"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type templateModel struct {
	ID             uint   `gorm:"primaryKey"`
	AgentID        uint   `gorm:"column:agent_id;uniqueIndex:ix_template_agent_name"`
	MetaTemplateID string `gorm:"column:meta_template_id;size:50;index"`
	Name           string `gorm:"size:512;uniqueIndex:ix_template_agent_name"`
	Language       string `gorm:"size:10;uniqueIndex:ix_template_agent_name"`
	Category       string `gorm:"size:20"`
	Status         string `gorm:"size:20;default:PENDING"`
	RejectReason   string `gorm:"column:reject_reason;type:text"`
	Components     string `gorm:"type:text"`
	HeaderMediaURL string `gorm:"column:header_media_url;type:text"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (templateModel) TableName() string { return "whatsapp_templates" }

// GormRepository implements Repository using GORM.
type GormRepository struct {
	db *gorm.DB
}

func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

func (r *GormRepository) Init(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&templateModel{})
}

func (r *GormRepository) Upsert(ctx context.Context, t *WhatsAppTemplate) error {
	components, err := json.Marshal(t.Components)
	if err != nil {
		return err
	}
	model := templateModel{
		AgentID:        t.AgentID,
		MetaTemplateID: t.MetaTemplateID,
		Name:           t.Name,
		Language:       t.Language,
		Category:       t.Category,
		Status:         t.Status,
		RejectReason:   t.RejectReason,
		Components:     string(components),
		HeaderMediaURL: t.HeaderMediaURL,
	}
	err = r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "agent_id"}, {Name: "name"}, {Name: "language"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"meta_template_id", "category", "status", "reject_reason", "components", "header_media_url", "updated_at",
		}),
	}).Create(&model).Error
	if err != nil {
		return err
	}
	t.ID = model.ID
	return nil
}

func (r *GormRepository) GetByName(ctx context.Context, agentID uint, name, language string) (*WhatsAppTemplate, error) {
	var model templateModel
	err := r.db.WithContext(ctx).
		First(&model, "agent_id = ? AND name = ? AND language = ?", agentID, name, language).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFoundError("template not found")
		}
		return nil, err
	}
	return fromTemplateModel(model), nil
}

func (r *GormRepository) ListByAgent(ctx context.Context, agentID uint) ([]WhatsAppTemplate, error) {
	return r.list(ctx, r.db.WithContext(ctx).Where("agent_id = ?", agentID))
}

func (r *GormRepository) ListApproved(ctx context.Context, agentID uint) ([]WhatsAppTemplate, error) {
	return r.list(ctx, r.db.WithContext(ctx).Where("agent_id = ? AND status = ?", agentID, StatusApproved))
}

func (r *GormRepository) list(ctx context.Context, q *gorm.DB) ([]WhatsAppTemplate, error) {
	var models []templateModel
	if err := q.Order("name ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]WhatsAppTemplate, len(models))
	for i, m := range models {
		out[i] = *fromTemplateModel(m)
	}
	return out, nil
}

func (r *GormRepository) Delete(ctx context.Context, agentID uint, name, language string) error {
	res := r.db.WithContext(ctx).
		Delete(&templateModel{}, "agent_id = ? AND name = ? AND language = ?", agentID, name, language)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperr.NotFoundError("template not found")
	}
	return nil
}

func fromTemplateModel(m templateModel) *WhatsAppTemplate {
	t := &WhatsAppTemplate{
		ID:             m.ID,
		AgentID:        m.AgentID,
		MetaTemplateID: m.MetaTemplateID,
		Name:           m.Name,
		Language:       m.Language,
		Category:       m.Category,
		Status:         m.Status,
		RejectReason:   m.RejectReason,
		HeaderMediaURL: m.HeaderMediaURL,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
	if m.Components != "" {
		_ = json.Unmarshal([]byte(m.Components), &t.Components)
	}
	return t
}
