package conversation

import "time"

// Gender is the inferred customer gender, used for Hebrew phrasing.
type Gender string

const (
	GenderMale    Gender = "male"
	GenderFemale  Gender = "female"
	GenderUnknown Gender = "unknown"
)

// User is a WhatsApp contact, shared across agents.
type User struct {
	ID        uint
	Phone     string
	Name      string
	Gender    Gender
	Metadata  map[string]string
	CreatedAt time.Time
}

// Conversation is the unique (agent, user) pairing.
type Conversation struct {
	ID                    uint
	AgentID               uint
	UserID                uint
	Paused                bool
	OptedOut              bool
	LastCustomerMessageAt *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Role of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// MessageType classifies a message's content.
type MessageType string

const (
	TypeText     MessageType = "text"
	TypeVoice    MessageType = "voice"
	TypeImage    MessageType = "image"
	TypeMedia    MessageType = "media"
	TypeReminder MessageType = "reminder"
	TypeFollowup MessageType = "followup"
	TypeManual   MessageType = "manual"
)

// Message is one turn in a conversation.
type Message struct {
	ID             uint
	ConversationID uint
	Role           Role
	Type           MessageType
	Content        string
	MediaID        *uint
	MediaURL       string
	CreatedAt      time.Time
}

// ProcessedMessage is an inbound dedup key; rows older than the dedup window
// are purged opportunistically.
type ProcessedMessage struct {
	ID          uint
	MessageKey  string
	ProcessedAt time.Time
}
