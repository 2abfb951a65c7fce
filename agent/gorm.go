package agent

import (
	"context"
	"encoding/json"
	"time"

	"github.com/wapilot/wapilot/pkg/apperr"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// agentModel is the GORM persistence model. Domain structs stay free of tags;
// JSON blobs are serialized whole on every write.
type agentModel struct {
	ID                uint   `gorm:"primaryKey"`
	Name              string `gorm:"size:100"`
	PhoneNumberID     string `gorm:"column:phone_number_id;size:50;uniqueIndex"`
	AccessToken       string `gorm:"column:access_token;type:text"`
	VerifyToken       string `gorm:"column:verify_token;size:100"`
	WabaID            string `gorm:"column:waba_id;size:50"`
	SystemPrompt      string `gorm:"column:system_prompt;type:text"`
	Model             string `gorm:"size:50"`
	IsActive          bool   `gorm:"column:is_active;not null;default:true"`
	Provider          string `gorm:"size:20;default:meta"`
	ProviderConfig    string `gorm:"column:provider_config;type:text"`
	BatchingConfig    string `gorm:"column:batching_config;type:text"`
	CalendarConfig    string `gorm:"column:calendar_config;type:text"`
	AppointmentPrompt string `gorm:"column:appointment_prompt;type:text"`
	SummaryConfig     string `gorm:"column:summary_config;type:text"`
	FollowupConfig    string `gorm:"column:followup_config;type:text"`
	MediaConfig       string `gorm:"column:media_config;type:text"`
	ContextSummaryCfg string `gorm:"column:context_summary_config;type:text"`
	CustomAPIKeys     string `gorm:"column:custom_api_keys;type:text"`
	UsageStats        string `gorm:"column:usage_stats;type:text"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (agentModel) TableName() string {
	return "agents"
}

// GormRepository implements Repository using GORM.
type GormRepository struct {
	db *gorm.DB
}

func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

func (r *GormRepository) Init(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&agentModel{})
}

func (r *GormRepository) GetByID(ctx context.Context, id uint) (*Agent, error) {
	var model agentModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperr.NotFoundError("agent not found")
		}
		return nil, err
	}
	return fromAgentModel(model), nil
}

func (r *GormRepository) GetByPhoneNumberID(ctx context.Context, phoneNumberID string) (*Agent, error) {
	var model agentModel
	err := r.db.WithContext(ctx).First(&model, "phone_number_id = ?", phoneNumberID).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperr.NotFoundError("agent not found")
		}
		return nil, err
	}
	return fromAgentModel(model), nil
}

func (r *GormRepository) ListActive(ctx context.Context) ([]*Agent, error) {
	var models []agentModel
	err := r.db.WithContext(ctx).Where("is_active = ?", true).Order("id ASC").Find(&models).Error
	if err != nil {
		return nil, err
	}
	result := make([]*Agent, len(models))
	for i, m := range models {
		result[i] = fromAgentModel(m)
	}
	return result, nil
}

func (r *GormRepository) VerifyTokenKnown(ctx context.Context, token string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&agentModel{}).
		Where("verify_token = ? AND is_active = ?", token, true).
		Count(&count).Error
	return count > 0, err
}

// AddUsage reads the usage blob under a row lock, folds the delta in and
// writes it back whole.
func (r *GormRepository) AddUsage(ctx context.Context, agentID uint, model string, delta ModelUsage) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var m agentModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&m, "id = ?", agentID).Error
		if err != nil {
			return err
		}

		stats := map[string]ModelUsage{}
		if m.UsageStats != "" {
			_ = json.Unmarshal([]byte(m.UsageStats), &stats)
		}
		usage := stats[model]
		usage.Input += delta.Input
		usage.Output += delta.Output
		usage.CacheRead += delta.CacheRead
		usage.CacheCreate += delta.CacheCreate
		stats[model] = usage

		raw, err := json.Marshal(stats)
		if err != nil {
			return err
		}
		return tx.Model(&agentModel{}).Where("id = ?", agentID).
			Update("usage_stats", string(raw)).Error
	})
}

func (r *GormRepository) UpdateCalendarConfig(ctx context.Context, agentID uint, cfg *CalendarConfig) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	res := r.db.WithContext(ctx).Model(&agentModel{}).Where("id = ?", agentID).
		Update("calendar_config", string(raw))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperr.NotFoundError("agent not found")
	}
	return nil
}

func fromAgentModel(m agentModel) *Agent {
	a := &Agent{
		ID:                m.ID,
		Name:              m.Name,
		PhoneNumberID:     m.PhoneNumberID,
		AccessToken:       m.AccessToken,
		VerifyToken:       m.VerifyToken,
		WabaID:            m.WabaID,
		SystemPrompt:      m.SystemPrompt,
		Model:             m.Model,
		IsActive:          m.IsActive,
		Provider:          Provider(m.Provider),
		AppointmentPrompt: m.AppointmentPrompt,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
	unmarshalBlob(m.ProviderConfig, &a.ProviderConfig)
	unmarshalBlobPtr(m.BatchingConfig, &a.Batching)
	unmarshalBlobPtr(m.CalendarConfig, &a.Calendar)
	unmarshalBlobPtr(m.SummaryConfig, &a.Summary)
	unmarshalBlobPtr(m.FollowupConfig, &a.Followup)
	unmarshalBlobPtr(m.MediaConfig, &a.Media)
	unmarshalBlobPtr(m.ContextSummaryCfg, &a.ContextSummary)
	unmarshalBlob(m.CustomAPIKeys, &a.CustomAPIKeys)
	unmarshalBlob(m.UsageStats, &a.UsageStats)
	return a
}

func unmarshalBlob(raw string, dst any) {
	if raw == "" {
		return
	}
	_ = json.Unmarshal([]byte(raw), dst)
}

func unmarshalBlobPtr[T any](raw string, dst **T) {
	if raw == "" || raw == "null" {
		return
	}
	var v T
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return
	}
	*dst = &v
}
