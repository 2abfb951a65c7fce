package media

import "time"

// Media kinds.
const (
	KindImage    = "image"
	KindVideo    = "video"
	KindDocument = "document"
)

// Upload limits.
const (
	MaxImageSize = 5 * 1024 * 1024
	MaxVideoSize = 16 * 1024 * 1024
)

// AllowedMIMETypes maps media kind to accepted content types.
var AllowedMIMETypes = map[string][]string{
	KindImage: {"image/jpeg", "image/png"},
	KindVideo: {"video/mp4"},
}

func allowedType(kind, contentType string) bool {
	for _, t := range AllowedMIMETypes[kind] {
		if t == contentType {
			return true
		}
	}
	return false
}

// AgentMedia is a file the agent can send to customers mid-conversation.
// Name and description feed the embedding used for semantic search.
type AgentMedia struct {
	ID             uint
	AgentID        uint
	MediaType      string
	Name           string
	Description    string
	DefaultCaption string
	FileURL        string
	FileName       string
	FileSize       int64
	OriginalSize   int64
	MimeType       string
	Embedding      []float64
	IsActive       bool
	CreatedAt      time.Time
}
