package followups

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

type scheduledFollowupModel struct {
	ID              uint       `gorm:"primaryKey"`
	ConversationID  uint       `gorm:"column:conversation_id;index"`
	AgentID         uint       `gorm:"column:agent_id;index"`
	UserID          uint       `gorm:"column:user_id"`
	FollowupNumber  int        `gorm:"column:followup_number"`
	StepInstruction string     `gorm:"column:step_instruction;type:text"`
	ScheduledFor    time.Time  `gorm:"column:scheduled_for;index:idx_followups_due"`
	Status          string     `gorm:"size:20;default:pending;index:idx_followups_due"`
	Content         string     `gorm:"type:text"`
	AIReason        string     `gorm:"column:ai_reason;size:500"`
	SentVia         string     `gorm:"column:sent_via;size:20"`
	TemplateName    string     `gorm:"column:template_name;size:100"`
	SentAt          *time.Time `gorm:"column:sent_at"`
	CreatedAt       time.Time
}

func (scheduledFollowupModel) TableName() string { return "scheduled_followups" }

type GormRepository struct {
	db *gorm.DB
}

func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

func (r *GormRepository) Init(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&scheduledFollowupModel{})
}

func (r *GormRepository) Create(ctx context.Context, fu *ScheduledFollowup) error {
	model := toFollowupModel(*fu)
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return err
	}
	fu.ID = model.ID
	fu.CreatedAt = model.CreatedAt
	return nil
}

func (r *GormRepository) GetByID(ctx context.Context, id uint) (*ScheduledFollowup, error) {
	var model scheduledFollowupModel
	err := r.db.WithContext(ctx).First(&model, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	fu := fromFollowupModel(model)
	return &fu, nil
}

func (r *GormRepository) Update(ctx context.Context, fu *ScheduledFollowup) error {
	return r.db.WithContext(ctx).Model(&scheduledFollowupModel{}).
		Where("id = ?", fu.ID).
		Updates(map[string]any{
			"status":        fu.Status,
			"content":       fu.Content,
			"ai_reason":     fu.AIReason,
			"sent_via":      fu.SentVia,
			"template_name": fu.TemplateName,
			"sent_at":       fu.SentAt,
		}).Error
}

func (r *GormRepository) SentCountSince(ctx context.Context, conversationID uint, cutoff time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&scheduledFollowupModel{}).
		Where("conversation_id = ? AND status = ? AND sent_at > ?", conversationID, StatusSent, cutoff).
		Count(&count).Error
	return count, err
}

func (r *GormRepository) LastSentAfter(ctx context.Context, conversationID uint, cutoff time.Time) (*time.Time, error) {
	var model scheduledFollowupModel
	err := r.db.WithContext(ctx).
		Where("conversation_id = ? AND status = ? AND sent_at > ?", conversationID, StatusSent, cutoff).
		Order("sent_at DESC").
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return model.SentAt, nil
}

func (r *GormRepository) HasActive(ctx context.Context, conversationID uint) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&scheduledFollowupModel{}).
		Where("conversation_id = ? AND status IN ?", conversationID, []string{StatusPending, StatusEvaluating}).
		Limit(1).
		Count(&count).Error
	return count > 0, err
}

func (r *GormRepository) SentForConversation(ctx context.Context, conversationID uint) ([]ScheduledFollowup, error) {
	var models []scheduledFollowupModel
	err := r.db.WithContext(ctx).
		Where("conversation_id = ? AND status = ?", conversationID, StatusSent).
		Order("sent_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]ScheduledFollowup, len(models))
	for i, m := range models {
		out[i] = fromFollowupModel(m)
	}
	return out, nil
}

// ClaimDueBatch flips due pending rows to evaluating, one conditional update
// per row, and returns only the rows this caller actually won. A peer racing
// on the same rows loses the pending check and skips them.
func (r *GormRepository) ClaimDueBatch(ctx context.Context, now time.Time, limit int) ([]ScheduledFollowup, error) {
	var models []scheduledFollowupModel
	if err := r.db.WithContext(ctx).
		Where("status = ? AND scheduled_for <= ?", StatusPending, now).
		Order("scheduled_for ASC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}

	out := make([]ScheduledFollowup, 0, len(models))
	for _, m := range models {
		res := r.db.WithContext(ctx).Model(&scheduledFollowupModel{}).
			Where("id = ? AND status = ?", m.ID, StatusPending).
			Update("status", StatusEvaluating)
		if res.Error != nil {
			return out, res.Error
		}
		if res.RowsAffected == 0 {
			continue
		}
		m.Status = StatusEvaluating
		out = append(out, fromFollowupModel(m))
	}
	return out, nil
}

func (r *GormRepository) CancelActive(ctx context.Context, conversationID uint) (int64, error) {
	res := r.db.WithContext(ctx).Model(&scheduledFollowupModel{}).
		Where("conversation_id = ? AND status IN ?", conversationID, []string{StatusPending, StatusEvaluating}).
		Update("status", StatusCancelled)
	return res.RowsAffected, res.Error
}

func toFollowupModel(fu ScheduledFollowup) scheduledFollowupModel {
	return scheduledFollowupModel{
		ID:              fu.ID,
		ConversationID:  fu.ConversationID,
		AgentID:         fu.AgentID,
		UserID:          fu.UserID,
		FollowupNumber:  fu.FollowupNumber,
		StepInstruction: fu.StepInstruction,
		ScheduledFor:    fu.ScheduledFor,
		Status:          fu.Status,
		Content:         fu.Content,
		AIReason:        fu.AIReason,
		SentVia:         fu.SentVia,
		TemplateName:    fu.TemplateName,
		SentAt:          fu.SentAt,
		CreatedAt:       fu.CreatedAt,
	}
}

func fromFollowupModel(m scheduledFollowupModel) ScheduledFollowup {
	return ScheduledFollowup{
		ID:              m.ID,
		ConversationID:  m.ConversationID,
		AgentID:         m.AgentID,
		UserID:          m.UserID,
		FollowupNumber:  m.FollowupNumber,
		StepInstruction: m.StepInstruction,
		ScheduledFor:    m.ScheduledFor,
		Status:          m.Status,
		Content:         m.Content,
		AIReason:        m.AIReason,
		SentVia:         m.SentVia,
		TemplateName:    m.TemplateName,
		SentAt:          m.SentAt,
		CreatedAt:       m.CreatedAt,
	}
}
