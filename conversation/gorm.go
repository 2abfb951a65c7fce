package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/wapilot/wapilot/pkg/apperr"
	"gorm.io/gorm"
)

type userModel struct {
	ID        uint   `gorm:"primaryKey"`
	Phone     string `gorm:"size:20;uniqueIndex"`
	Name      string `gorm:"size:100"`
	Gender    string `gorm:"size:10;default:unknown"`
	Metadata  string `gorm:"type:text"`
	CreatedAt time.Time
}

func (userModel) TableName() string { return "users" }

type conversationModel struct {
	ID                    uint       `gorm:"primaryKey"`
	AgentID               uint       `gorm:"column:agent_id;index;uniqueIndex:idx_conversations_agent_user"`
	UserID                uint       `gorm:"column:user_id;index;uniqueIndex:idx_conversations_agent_user"`
	Paused                bool       `gorm:"not null;default:false"`
	OptedOut              bool       `gorm:"column:opted_out;not null;default:false"`
	LastCustomerMessageAt *time.Time `gorm:"column:last_customer_message_at;index"`
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

func (conversationModel) TableName() string { return "conversations" }

type messageModel struct {
	ID             uint      `gorm:"primaryKey"`
	ConversationID uint      `gorm:"column:conversation_id;index:idx_messages_conv_created"`
	Role           string    `gorm:"size:10"`
	MessageType    string    `gorm:"column:message_type;size:10;default:text"`
	Content        string    `gorm:"type:text"`
	MediaID        *uint     `gorm:"column:media_id"`
	MediaURL       string    `gorm:"column:media_url;type:text"`
	CreatedAt      time.Time `gorm:"index:idx_messages_conv_created"`
}

func (messageModel) TableName() string { return "messages" }

type processedMessageModel struct {
	ID          uint      `gorm:"primaryKey"`
	MessageKey  string    `gorm:"column:message_key;size:255;uniqueIndex"`
	ProcessedAt time.Time `gorm:"column:processed_at;index"`
}

func (processedMessageModel) TableName() string { return "processed_messages" }

// GormRepository implements Repository using GORM.
type GormRepository struct {
	db *gorm.DB
}

func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

func (r *GormRepository) Init(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(
		&userModel{}, &conversationModel{}, &messageModel{}, &processedMessageModel{},
	)
}

func (r *GormRepository) GetOrCreateUser(ctx context.Context, phone, displayName string) (*User, error) {
	var model userModel
	err := r.db.WithContext(ctx).First(&model, "phone = ?", phone).Error
	if err == nil {
		// Keep the display name fresh when the contact renamed themselves.
		if displayName != "" && model.Name == "" {
			model.Name = displayName
			if err := r.db.WithContext(ctx).Save(&model).Error; err != nil {
				return nil, err
			}
		}
		return fromUserModel(model), nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	model = userModel{Phone: phone, Name: displayName, Gender: string(GenderUnknown)}
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		if isUniqueViolation(err) {
			// Lost the insert race; the row exists now.
			if err2 := r.db.WithContext(ctx).First(&model, "phone = ?", phone).Error; err2 == nil {
				return fromUserModel(model), nil
			}
		}
		return nil, err
	}
	return fromUserModel(model), nil
}

func (r *GormRepository) UpdateUserInfo(ctx context.Context, userID uint, name string, gender Gender, metadata map[string]string) error {
	updates := map[string]any{}
	if name != "" {
		updates["name"] = name
	}
	if gender != "" {
		updates["gender"] = string(gender)
	}
	if metadata != nil {
		raw, err := json.Marshal(metadata)
		if err != nil {
			return err
		}
		updates["metadata"] = string(raw)
	}
	if len(updates) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Model(&userModel{}).Where("id = ?", userID).Updates(updates).Error
}

func (r *GormRepository) GetUser(ctx context.Context, userID uint) (*User, error) {
	var model userModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", userID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFoundError("user not found")
		}
		return nil, err
	}
	return fromUserModel(model), nil
}

func (r *GormRepository) GetOrCreateConversation(ctx context.Context, agentID, userID uint) (*Conversation, error) {
	var model conversationModel
	err := r.db.WithContext(ctx).First(&model, "agent_id = ? AND user_id = ?", agentID, userID).Error
	if err == nil {
		return fromConversationModel(model), nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	model = conversationModel{AgentID: agentID, UserID: userID}
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		if isUniqueViolation(err) {
			if err2 := r.db.WithContext(ctx).First(&model, "agent_id = ? AND user_id = ?", agentID, userID).Error; err2 == nil {
				return fromConversationModel(model), nil
			}
		}
		return nil, err
	}
	return fromConversationModel(model), nil
}

func (r *GormRepository) GetConversation(ctx context.Context, id uint) (*Conversation, error) {
	var model conversationModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFoundError("conversation not found")
		}
		return nil, err
	}
	return fromConversationModel(model), nil
}

func (r *GormRepository) SetOptedOut(ctx context.Context, conversationID uint, optedOut bool) error {
	return r.db.WithContext(ctx).Model(&conversationModel{}).
		Where("id = ?", conversationID).
		Update("opted_out", optedOut).Error
}

func (r *GormRepository) TouchLastCustomerMessage(ctx context.Context, conversationID uint, at time.Time) error {
	return r.db.WithContext(ctx).Model(&conversationModel{}).
		Where("id = ? AND (last_customer_message_at IS NULL OR last_customer_message_at < ?)", conversationID, at).
		Update("last_customer_message_at", at).Error
}

func (r *GormRepository) AppendMessage(ctx context.Context, msg *Message) error {
	model := messageModel{
		ConversationID: msg.ConversationID,
		Role:           string(msg.Role),
		MessageType:    string(msg.Type),
		Content:        msg.Content,
		MediaID:        msg.MediaID,
		MediaURL:       msg.MediaURL,
	}
	if !msg.CreatedAt.IsZero() {
		model.CreatedAt = msg.CreatedAt
	}
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return err
	}
	msg.ID = model.ID
	msg.CreatedAt = model.CreatedAt
	return nil
}

// RecentMessages returns the newest `limit` messages in chronological order.
func (r *GormRepository) RecentMessages(ctx context.Context, conversationID uint, limit int) ([]Message, error) {
	var models []messageModel
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	// Reverse into chronological order.
	result := make([]Message, len(models))
	for i, m := range models {
		result[len(models)-1-i] = fromMessageModel(m)
	}
	return result, nil
}

func (r *GormRepository) MessagesAfter(ctx context.Context, conversationID, afterMessageID uint) ([]Message, error) {
	var models []messageModel
	err := r.db.WithContext(ctx).
		Where("conversation_id = ? AND id > ?", conversationID, afterMessageID).
		Order("created_at ASC, id ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	result := make([]Message, len(models))
	for i, m := range models {
		result[i] = fromMessageModel(m)
	}
	return result, nil
}

func (r *GormRepository) CountMessagesAfter(ctx context.Context, conversationID, afterMessageID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&messageModel{}).
		Where("conversation_id = ? AND id > ?", conversationID, afterMessageID).
		Count(&count).Error
	return count, err
}

func (r *GormRepository) CountMessagesSince(ctx context.Context, conversationID uint, since time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&messageModel{}).
		Where("conversation_id = ? AND created_at > ?", conversationID, since).
		Count(&count).Error
	return count, err
}

func (r *GormRepository) MaxMessageID(ctx context.Context, conversationID uint) (uint, error) {
	var maxID *uint
	err := r.db.WithContext(ctx).Model(&messageModel{}).
		Where("conversation_id = ?", conversationID).
		Select("MAX(id)").
		Scan(&maxID).Error
	if err != nil || maxID == nil {
		return 0, err
	}
	return *maxID, nil
}

func (r *GormRepository) CountMessages(ctx context.Context, conversationID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&messageModel{}).
		Where("conversation_id = ?", conversationID).
		Count(&count).Error
	return count, err
}

func (r *GormRepository) MediaAlreadySent(ctx context.Context, conversationID, mediaID uint) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&messageModel{}).
		Where("conversation_id = ? AND media_id = ?", conversationID, mediaID).
		Count(&count).Error
	return count > 0, err
}

func (r *GormRepository) MarkProcessed(ctx context.Context, key string) (bool, error) {
	model := processedMessageModel{MessageKey: key, ProcessedAt: time.Now().UTC()}
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		if isUniqueViolation(err) {
			return true, nil
		}
		return false, err
	}
	return false, nil
}

func (r *GormRepository) PurgeProcessedBefore(ctx context.Context, cutoff time.Time) error {
	return r.db.WithContext(ctx).
		Where("processed_at < ?", cutoff).
		Delete(&processedMessageModel{}).Error
}

// isUniqueViolation detects unique-constraint conflicts on both drivers.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key value")
}

func fromUserModel(m userModel) *User {
	u := &User{
		ID:        m.ID,
		Phone:     m.Phone,
		Name:      m.Name,
		Gender:    Gender(m.Gender),
		CreatedAt: m.CreatedAt,
	}
	if m.Metadata != "" {
		_ = json.Unmarshal([]byte(m.Metadata), &u.Metadata)
	}
	return u
}

func fromConversationModel(m conversationModel) *Conversation {
	return &Conversation{
		ID:                    m.ID,
		AgentID:               m.AgentID,
		UserID:                m.UserID,
		Paused:                m.Paused,
		OptedOut:              m.OptedOut,
		LastCustomerMessageAt: m.LastCustomerMessageAt,
		CreatedAt:             m.CreatedAt,
		UpdatedAt:             m.UpdatedAt,
	}
}

func fromMessageModel(m messageModel) Message {
	return Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Role:           Role(m.Role),
		Type:           MessageType(m.MessageType),
		Content:        m.Content,
		MediaID:        m.MediaID,
		MediaURL:       m.MediaURL,
		CreatedAt:      m.CreatedAt,
	}
}
