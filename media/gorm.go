package media

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/wapilot/wapilot/pkg/apperr"
	"gorm.io/gorm"
)

type agentMediaModel struct {
	ID             uint   `gorm:"primaryKey"`
	AgentID        uint   `gorm:"column:agent_id;index:idx_agent_media_agent_type;index:idx_agent_media_agent_active"`
	MediaType      string `gorm:"column:media_type;size:10;index:idx_agent_media_agent_type"`
	Name           string `gorm:"size:255"`
	Description    string `gorm:"type:text"`
	DefaultCaption string `gorm:"column:default_caption;size:1024"`
	FileURL        string `gorm:"column:file_url;type:text"`
	FileName       string `gorm:"column:file_name;size:255"`
	FileSize       int64  `gorm:"column:file_size"`
	OriginalSize   int64  `gorm:"column:original_size"`
	MimeType       string `gorm:"column:mime_type;size:50"`
	Embedding      string `gorm:"type:text"`
	IsActive       bool   `gorm:"column:is_active;not null;default:true;index:idx_agent_media_agent_active"`
	CreatedAt      time.Time
}

func (agentMediaModel) TableName() string { return "agent_media" }

// GormRepository implements Repository using GORM.
type GormRepository struct {
	db *gorm.DB
}

func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

func (r *GormRepository) Init(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&agentMediaModel{})
}

func (r *GormRepository) Create(ctx context.Context, m *AgentMedia) error {
	model := toModel(m)
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return err
	}
	m.ID = model.ID
	m.CreatedAt = model.CreatedAt
	return nil
}

func (r *GormRepository) GetByID(ctx context.Context, id uint) (*AgentMedia, error) {
	var model agentMediaModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFoundError("media not found")
		}
		return nil, err
	}
	return fromModel(model), nil
}

func (r *GormRepository) ListByAgent(ctx context.Context, agentID uint, mediaType string, activeOnly bool) ([]AgentMedia, error) {
	q := r.db.WithContext(ctx).Where("agent_id = ?", agentID)
	if mediaType != "" {
		q = q.Where("media_type = ?", mediaType)
	}
	if activeOnly {
		q = q.Where("is_active = ?", true)
	}
	var models []agentMediaModel
	if err := q.Order("created_at DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]AgentMedia, len(models))
	for i, m := range models {
		out[i] = *fromModel(m)
	}
	return out, nil
}

func (r *GormRepository) Update(ctx context.Context, m *AgentMedia) error {
	model := toModel(m)
	model.ID = m.ID
	res := r.db.WithContext(ctx).Model(&agentMediaModel{}).Where("id = ?", m.ID).Updates(map[string]any{
		"name":            model.Name,
		"description":     model.Description,
		"default_caption": model.DefaultCaption,
		"embedding":       model.Embedding,
		"is_active":       model.IsActive,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperr.NotFoundError("media not found")
	}
	return nil
}

func (r *GormRepository) Delete(ctx context.Context, id uint) error {
	res := r.db.WithContext(ctx).Delete(&agentMediaModel{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperr.NotFoundError("media not found")
	}
	return nil
}

func toModel(m *AgentMedia) agentMediaModel {
	embedding := ""
	if len(m.Embedding) > 0 {
		if raw, err := json.Marshal(m.Embedding); err == nil {
			embedding = string(raw)
		}
	}
	return agentMediaModel{
		AgentID:        m.AgentID,
		MediaType:      m.MediaType,
		Name:           m.Name,
		Description:    m.Description,
		DefaultCaption: m.DefaultCaption,
		FileURL:        m.FileURL,
		FileName:       m.FileName,
		FileSize:       m.FileSize,
		OriginalSize:   m.OriginalSize,
		MimeType:       m.MimeType,
		Embedding:      embedding,
		IsActive:       m.IsActive,
	}
}

func fromModel(m agentMediaModel) *AgentMedia {
	out := &AgentMedia{
		ID:             m.ID,
		AgentID:        m.AgentID,
		MediaType:      m.MediaType,
		Name:           m.Name,
		Description:    m.Description,
		DefaultCaption: m.DefaultCaption,
		FileURL:        m.FileURL,
		FileName:       m.FileName,
		FileSize:       m.FileSize,
		OriginalSize:   m.OriginalSize,
		MimeType:       m.MimeType,
		IsActive:       m.IsActive,
		CreatedAt:      m.CreatedAt,
	}
	if m.Embedding != "" {
		_ = json.Unmarshal([]byte(m.Embedding), &out.Embedding)
	}
	return out
}
