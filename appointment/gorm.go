package appointment

import (
	"context"
	"errors"
	"time"

	"github.com/wapilot/wapilot/pkg/apperr"
	"gorm.io/gorm"
)

type appointmentModel struct {
	ID            uint      `gorm:"primaryKey"`
	AgentID       uint      `gorm:"column:agent_id;index:ix_appointments_agent_time"`
	UserID        uint      `gorm:"column:user_id;index"`
	GoogleEventID string    `gorm:"column:google_event_id;size:255;index"`
	StartTime     time.Time `gorm:"column:start_time;index:ix_appointments_agent_time"`
	EndTime       time.Time `gorm:"column:end_time"`
	Title         string    `gorm:"size:255"`
	Description   string    `gorm:"type:text"`
	Status        string    `gorm:"size:20;default:scheduled"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (appointmentModel) TableName() string { return "appointments" }

// GormRepository implements Repository using GORM.
type GormRepository struct {
	db *gorm.DB
}

func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

func (r *GormRepository) Init(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&appointmentModel{})
}

func (r *GormRepository) Create(ctx context.Context, a *Appointment) error {
	model := toModel(a)
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return err
	}
	a.ID = model.ID
	a.CreatedAt = model.CreatedAt
	a.UpdatedAt = model.UpdatedAt
	return nil
}

func (r *GormRepository) GetByID(ctx context.Context, id uint) (*Appointment, error) {
	var model appointmentModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFoundError("appointment not found")
		}
		return nil, err
	}
	return fromModel(model), nil
}

func (r *GormRepository) Update(ctx context.Context, a *Appointment) error {
	res := r.db.WithContext(ctx).Model(&appointmentModel{}).Where("id = ?", a.ID).Updates(map[string]any{
		"google_event_id": a.GoogleEventID,
		"start_time":      a.StartTime,
		"end_time":        a.EndTime,
		"title":           a.Title,
		"description":     a.Description,
		"status":          a.Status,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperr.NotFoundError("appointment not found")
	}
	return nil
}

func (r *GormRepository) HasConflict(ctx context.Context, agentID uint, start, end time.Time, excludeID uint) (bool, error) {
	q := r.db.WithContext(ctx).Model(&appointmentModel{}).
		Where("agent_id = ? AND status = ? AND start_time < ? AND end_time > ?",
			agentID, StatusScheduled, end, start)
	if excludeID != 0 {
		q = q.Where("id != ?", excludeID)
	}
	var count int64
	if err := q.Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *GormRepository) ScheduledBetween(ctx context.Context, agentID uint, start, end time.Time) ([]Appointment, error) {
	var models []appointmentModel
	err := r.db.WithContext(ctx).
		Where("agent_id = ? AND status = ? AND start_time >= ? AND start_time <= ?",
			agentID, StatusScheduled, start, end).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return fromModels(models), nil
}

func (r *GormRepository) UpcomingForUser(ctx context.Context, agentID, userID uint) ([]Appointment, error) {
	var models []appointmentModel
	err := r.db.WithContext(ctx).
		Where("agent_id = ? AND user_id = ? AND status = ? AND start_time > ?",
			agentID, userID, StatusScheduled, time.Now().UTC()).
		Order("start_time ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return fromModels(models), nil
}

func toModel(a *Appointment) appointmentModel {
	return appointmentModel{
		AgentID:       a.AgentID,
		UserID:        a.UserID,
		GoogleEventID: a.GoogleEventID,
		StartTime:     a.StartTime,
		EndTime:       a.EndTime,
		Title:         a.Title,
		Description:   a.Description,
		Status:        a.Status,
	}
}

func fromModel(m appointmentModel) *Appointment {
	return &Appointment{
		ID:            m.ID,
		AgentID:       m.AgentID,
		UserID:        m.UserID,
		GoogleEventID: m.GoogleEventID,
		StartTime:     m.StartTime,
		EndTime:       m.EndTime,
		Title:         m.Title,
		Description:   m.Description,
		Status:        m.Status,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

func fromModels(models []appointmentModel) []Appointment {
	out := make([]Appointment, len(models))
	for i, m := range models {
		out[i] = *fromModel(m)
	}
	return out
}
