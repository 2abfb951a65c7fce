package contextsummary

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type contextSummaryModel struct {
	ID                   uint   `gorm:"primaryKey"`
	ConversationID       uint   `gorm:"column:conversation_id;uniqueIndex"`
	SummaryText          string `gorm:"column:summary_text;type:text"`
	LastMessageIDCovered uint   `gorm:"column:last_message_id_covered"`
	IncrementalCount     int    `gorm:"column:incremental_count"`
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

func (contextSummaryModel) TableName() string { return "conversation_context_summaries" }

type GormRepository struct {
	db *gorm.DB
}

func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

func (r *GormRepository) Init(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&contextSummaryModel{})
}

func (r *GormRepository) Get(ctx context.Context, conversationID uint) (*ContextSummary, error) {
	var model contextSummaryModel
	err := r.db.WithContext(ctx).First(&model, "conversation_id = ?", conversationID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &ContextSummary{
		ID:                   model.ID,
		ConversationID:       model.ConversationID,
		SummaryText:          model.SummaryText,
		LastMessageIDCovered: model.LastMessageIDCovered,
		IncrementalCount:     model.IncrementalCount,
		CreatedAt:            model.CreatedAt,
		UpdatedAt:            model.UpdatedAt,
	}, nil
}

func (r *GormRepository) Save(ctx context.Context, summary *ContextSummary) error {
	model := contextSummaryModel{
		ID:                   summary.ID,
		ConversationID:       summary.ConversationID,
		SummaryText:          summary.SummaryText,
		LastMessageIDCovered: summary.LastMessageIDCovered,
		IncrementalCount:     summary.IncrementalCount,
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "conversation_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"summary_text", "last_message_id_covered", "incremental_count", "updated_at",
		}),
	}).Create(&model).Error
	if err != nil {
		return err
	}
	summary.ID = model.ID
	return nil
}
