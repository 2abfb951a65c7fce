package reminders

import (
	"context"
	"time"

	"gorm.io/gorm"
)

type scheduledReminderModel struct {
	ID            uint       `gorm:"primaryKey"`
	AppointmentID uint       `gorm:"column:appointment_id;index"`
	AgentID       uint       `gorm:"column:agent_id;index"`
	UserID        uint       `gorm:"column:user_id"`
	ScheduledFor  time.Time  `gorm:"column:scheduled_for;index:idx_reminders_due"`
	Status        string     `gorm:"size:20;default:pending;index:idx_reminders_due"`
	ContentType   string     `gorm:"column:content_type;size:20;default:template"`
	Template      string     `gorm:"type:text"`
	AIPrompt      string     `gorm:"column:ai_prompt;type:text"`
	TemplateName  string     `gorm:"column:template_name;size:100"`
	Language      string     `gorm:"size:10"`
	RuleIndex     int        `gorm:"column:rule_index"`
	SentAt        *time.Time `gorm:"column:sent_at"`
	ErrorMessage  string     `gorm:"column:error_message;size:255"`
	CreatedAt     time.Time
}

func (scheduledReminderModel) TableName() string { return "scheduled_reminders" }

type GormRepository struct {
	db *gorm.DB
}

func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

func (r *GormRepository) Init(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&scheduledReminderModel{})
}

func (r *GormRepository) CreateBatch(ctx context.Context, items []ScheduledReminder) error {
	if len(items) == 0 {
		return nil
	}
	models := make([]scheduledReminderModel, len(items))
	for i, item := range items {
		models[i] = toModel(item)
	}
	if err := r.db.WithContext(ctx).Create(&models).Error; err != nil {
		return err
	}
	return nil
}

func (r *GormRepository) CancelPendingForAppointment(ctx context.Context, appointmentID uint) (int64, error) {
	res := r.db.WithContext(ctx).Model(&scheduledReminderModel{}).
		Where("appointment_id = ? AND status = ?", appointmentID, StatusPending).
		Update("status", StatusCancelled)
	return res.RowsAffected, res.Error
}

func (r *GormRepository) DueBatch(ctx context.Context, now time.Time, limit int) ([]ScheduledReminder, error) {
	var models []scheduledReminderModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND scheduled_for <= ?", StatusPending, now).
		Order("scheduled_for ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]ScheduledReminder, len(models))
	for i, m := range models {
		out[i] = fromModel(m)
	}
	return out, nil
}

// ClaimProcessing relies on the conditional update as the claim: only one
// instance wins the pending → processing transition.
func (r *GormRepository) ClaimProcessing(ctx context.Context, id uint) (bool, error) {
	res := r.db.WithContext(ctx).Model(&scheduledReminderModel{}).
		Where("id = ? AND status = ?", id, StatusPending).
		Update("status", StatusProcessing)
	return res.RowsAffected > 0, res.Error
}

func (r *GormRepository) HasPendingForUser(ctx context.Context, agentID, userID uint) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&scheduledReminderModel{}).
		Where("agent_id = ? AND user_id = ? AND status = ?", agentID, userID, StatusPending).
		Limit(1).
		Count(&count).Error
	return count > 0, err
}

func (r *GormRepository) Update(ctx context.Context, reminder *ScheduledReminder) error {
	model := toModel(*reminder)
	return r.db.WithContext(ctx).Model(&scheduledReminderModel{}).
		Where("id = ?", reminder.ID).
		Updates(map[string]any{
			"status":        model.Status,
			"sent_at":       model.SentAt,
			"error_message": model.ErrorMessage,
		}).Error
}

func toModel(item ScheduledReminder) scheduledReminderModel {
	return scheduledReminderModel{
		ID:            item.ID,
		AppointmentID: item.AppointmentID,
		AgentID:       item.AgentID,
		UserID:        item.UserID,
		ScheduledFor:  item.ScheduledFor,
		Status:        item.Status,
		ContentType:   item.ContentType,
		Template:      item.Template,
		AIPrompt:      item.AIPrompt,
		TemplateName:  item.TemplateName,
		Language:      item.Language,
		RuleIndex:     item.RuleIndex,
		SentAt:        item.SentAt,
		ErrorMessage:  item.ErrorMessage,
		CreatedAt:     item.CreatedAt,
	}
}

func fromModel(m scheduledReminderModel) ScheduledReminder {
	return ScheduledReminder{
		ID:            m.ID,
		AppointmentID: m.AppointmentID,
		AgentID:       m.AgentID,
		UserID:        m.UserID,
		ScheduledFor:  m.ScheduledFor,
		Status:        m.Status,
		ContentType:   m.ContentType,
		Template:      m.Template,
		AIPrompt:      m.AIPrompt,
		TemplateName:  m.TemplateName,
		Language:      m.Language,
		RuleIndex:     m.RuleIndex,
		SentAt:        m.SentAt,
		ErrorMessage:  m.ErrorMessage,
		CreatedAt:     m.CreatedAt,
	}
}
