package summaries

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"
)

// messageMaxChars bounds a single message inside the summary prompt.
const messageMaxChars = 1000

type conversationSummaryModel struct {
	ID               uint       `gorm:"primaryKey"`
	ConversationID   uint       `gorm:"column:conversation_id;uniqueIndex:idx_summaries_conv_window"`
	AgentID          uint       `gorm:"column:agent_id;index"`
	UserID           uint       `gorm:"column:user_id"`
	SummaryText      string     `gorm:"column:summary_text;type:text"`
	MessageCount     int64      `gorm:"column:message_count"`
	LastMessageAt    time.Time  `gorm:"column:last_message_at;uniqueIndex:idx_summaries_conv_window"`
	WebhookStatus    string     `gorm:"column:webhook_status;size:20;default:pending;index:idx_summaries_retry"`
	WebhookAttempts  int        `gorm:"column:webhook_attempts"`
	WebhookSentAt    *time.Time `gorm:"column:webhook_sent_at"`
	WebhookLastError string     `gorm:"column:webhook_last_error;size:255"`
	NextRetryAt      *time.Time `gorm:"column:next_retry_at;index:idx_summaries_retry"`
	CreatedAt        time.Time
}

func (conversationSummaryModel) TableName() string { return "conversation_summaries" }

type GormRepository struct {
	db *gorm.DB
}

func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

func (r *GormRepository) Init(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&conversationSummaryModel{})
}

// Candidates runs the detection as one query with subqueries so a large
// message table never turns into per-conversation round trips.
func (r *GormRepository) Candidates(ctx context.Context, agentID uint, threshold time.Time, minMessages, limit int) ([]Candidate, error) {
	var rows []struct {
		ConversationID  uint
		UserID          uint
		MsgCount        int64
		LastUserMsgTime time.Time
	}
	err := r.db.WithContext(ctx).Raw(`
		SELECT c.id AS conversation_id,
		       c.user_id AS user_id,
		       mc.msg_count AS msg_count,
		       lum.last_user_msg_time AS last_user_msg_time
		FROM conversations c
		JOIN (
			SELECT conversation_id, MAX(created_at) AS last_user_msg_time
			FROM messages WHERE role = 'user' GROUP BY conversation_id
		) lum ON lum.conversation_id = c.id
		JOIN (
			SELECT conversation_id, COUNT(id) AS msg_count
			FROM messages GROUP BY conversation_id
		) mc ON mc.conversation_id = c.id
		LEFT JOIN (
			SELECT conversation_id, MAX(last_message_at) AS last_summarized
			FROM conversation_summaries WHERE agent_id = ? GROUP BY conversation_id
		) ls ON ls.conversation_id = c.id
		WHERE c.agent_id = ?
		  AND mc.msg_count >= ?
		  AND lum.last_user_msg_time <= ?
		  AND (ls.last_summarized IS NULL OR ls.last_summarized < lum.last_user_msg_time)
		LIMIT ?`,
		agentID, agentID, minMessages, threshold, limit,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make([]Candidate, len(rows))
	for i, row := range rows {
		out[i] = Candidate{
			ConversationID:    row.ConversationID,
			UserID:            row.UserID,
			MessageCount:      row.MsgCount,
			LastUserMessageAt: row.LastUserMsgTime,
		}
	}
	return out, nil
}

func (r *GormRepository) LastUserMessageAt(ctx context.Context, conversationID uint) (time.Time, error) {
	var at *time.Time
	err := r.db.WithContext(ctx).Raw(
		`SELECT MAX(created_at) FROM messages WHERE conversation_id = ? AND role = 'user'`,
		conversationID,
	).Scan(&at).Error
	if err != nil || at == nil {
		return time.Time{}, err
	}
	return *at, nil
}

func (r *GormRepository) ConversationText(ctx context.Context, conversationID uint, maxMessages int) (string, error) {
	var rows []struct {
		Role    string
		Content string
	}
	err := r.db.WithContext(ctx).Raw(`
		SELECT role, content FROM (
			SELECT id, role, content FROM messages
			WHERE conversation_id = ?
			ORDER BY created_at DESC, id DESC LIMIT ?
		) tail ORDER BY id ASC`,
		conversationID, maxMessages,
	).Scan(&rows).Error
	if err != nil {
		return "", err
	}

	lines := make([]string, len(rows))
	for i, row := range rows {
		role := "סוכן"
		if row.Role == "user" {
			role = "לקוח"
		}
		content := row.Content
		if runes := []rune(content); len(runes) > messageMaxChars {
			content = string(runes[:messageMaxChars])
		}
		lines[i] = fmt.Sprintf("%s: %s", role, content)
	}
	return strings.Join(lines, "\n"), nil
}

func (r *GormRepository) Create(ctx context.Context, summary *ConversationSummary) (bool, error) {
	model := conversationSummaryModel{
		ConversationID:   summary.ConversationID,
		AgentID:          summary.AgentID,
		UserID:           summary.UserID,
		SummaryText:      summary.SummaryText,
		MessageCount:     summary.MessageCount,
		LastMessageAt:    summary.LastMessageAt,
		WebhookStatus:    summary.WebhookStatus,
		WebhookAttempts:  summary.WebhookAttempts,
		WebhookSentAt:    summary.WebhookSentAt,
		WebhookLastError: summary.WebhookLastError,
		NextRetryAt:      summary.NextRetryAt,
	}
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		if isUniqueViolation(err) {
			return true, nil
		}
		return false, err
	}
	summary.ID = model.ID
	summary.CreatedAt = model.CreatedAt
	return false, nil
}

func (r *GormRepository) DueRetries(ctx context.Context, now time.Time, limit int) ([]ConversationSummary, error) {
	var models []conversationSummaryModel
	err := r.db.WithContext(ctx).
		Where("webhook_status = ? AND webhook_attempts > 0 AND next_retry_at <= ?", WebhookPending, now).
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]ConversationSummary, len(models))
	for i, m := range models {
		out[i] = fromSummaryModel(m)
	}
	return out, nil
}

func (r *GormRepository) Update(ctx context.Context, summary *ConversationSummary) error {
	return r.db.WithContext(ctx).Model(&conversationSummaryModel{}).
		Where("id = ?", summary.ID).
		Updates(map[string]any{
			"webhook_status":     summary.WebhookStatus,
			"webhook_attempts":   summary.WebhookAttempts,
			"webhook_sent_at":    summary.WebhookSentAt,
			"webhook_last_error": summary.WebhookLastError,
			"next_retry_at":      summary.NextRetryAt,
		}).Error
}

func fromSummaryModel(m conversationSummaryModel) ConversationSummary {
	return ConversationSummary{
		ID:               m.ID,
		ConversationID:   m.ConversationID,
		AgentID:          m.AgentID,
		UserID:           m.UserID,
		SummaryText:      m.SummaryText,
		MessageCount:     m.MessageCount,
		LastMessageAt:    m.LastMessageAt,
		WebhookStatus:    m.WebhookStatus,
		WebhookAttempts:  m.WebhookAttempts,
		WebhookSentAt:    m.WebhookSentAt,
		WebhookLastError: m.WebhookLastError,
		NextRetryAt:      m.NextRetryAt,
		CreatedAt:        m.CreatedAt,
	}
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
