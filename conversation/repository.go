package conversation

import (
	"context"
	"time"
)

// Repository is the data access contract for users, conversations, messages
// and the inbound dedup table.
type Repository interface {
	GetOrCreateUser(ctx context.Context, phone, displayName string) (*User, error)
	UpdateUserInfo(ctx context.Context, userID uint, name string, gender Gender, metadata map[string]string) error
	GetUser(ctx context.Context, userID uint) (*User, error)

	GetOrCreateConversation(ctx context.Context, agentID, userID uint) (*Conversation, error)
	GetConversation(ctx context.Context, id uint) (*Conversation, error)
	SetOptedOut(ctx context.Context, conversationID uint, optedOut bool) error

	// TouchLastCustomerMessage advances last_customer_message_at; it never
	// moves the timestamp backwards.
	TouchLastCustomerMessage(ctx context.Context, conversationID uint, at time.Time) error

	AppendMessage(ctx context.Context, msg *Message) error
	RecentMessages(ctx context.Context, conversationID uint, limit int) ([]Message, error)
	MessagesAfter(ctx context.Context, conversationID, afterMessageID uint) ([]Message, error)
	CountMessagesAfter(ctx context.Context, conversationID, afterMessageID uint) (int64, error)
	CountMessagesSince(ctx context.Context, conversationID uint, since time.Time) (int64, error)
	MaxMessageID(ctx context.Context, conversationID uint) (uint, error)
	CountMessages(ctx context.Context, conversationID uint) (int64, error)

	// MediaAlreadySent reports whether a media item was already delivered in
	// this conversation.
	MediaAlreadySent(ctx context.Context, conversationID, mediaID uint) (bool, error)

	// MarkProcessed inserts the dedup key. duplicate=true means the key
	// already existed and the event must be discarded.
	MarkProcessed(ctx context.Context, key string) (duplicate bool, err error)

	// PurgeProcessedBefore removes dedup rows older than the cutoff.
	PurgeProcessedBefore(ctx context.Context, cutoff time.Time) error
}
