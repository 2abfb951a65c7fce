package llm

import "context"

// ToolDef is the canonical tool declaration shared by all providers.
// Per-provider converters translate it to the native wire format.
type ToolDef struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// ContentBlock is one piece of a user turn: text or an inline image.
type ContentBlock struct {
	Type        string // "text" | "image"
	Text        string
	ImageBase64 string
	MediaType   string
}

func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: "text", Text: text}
}

func ImageBlock(base64Data, mediaType string) ContentBlock {
	if mediaType == "" {
		mediaType = "image/jpeg"
	}
	return ContentBlock{Type: "image", ImageBase64: base64Data, MediaType: mediaType}
}

// HistoryMessage is a prior conversation turn.
type HistoryMessage struct {
	Role    string // "user" | "assistant"
	Content string
}

// ToolCall is a model-initiated tool invocation.
type ToolCall struct {
	ID    string
	Name  string
	Input map[string]any
}

// MediaAction is a send_media directive intercepted from a tool result.
type MediaAction struct {
	MediaID  uint   `json:"media_id"`
	Name     string `json:"name"`
	Caption  string `json:"caption"`
	URL      string `json:"url"`
	Kind     string `json:"kind"` // image | video | document
	FileName string `json:"file_name,omitempty"`
}

// ToolResult is the executor's answer to one tool call. Either Text or Media
// is set; a Media result is intercepted by the provider loop and replaced by
// a short acknowledgement before the model sees it.
type ToolResult struct {
	ID    string
	Name  string
	Text  string
	Media *MediaAction
}

// ToolHandler executes a round of tool calls and returns one result per call.
type ToolHandler func(ctx context.Context, calls []ToolCall) []ToolResult

// Usage accumulates token counts across all rounds of one GetResponse call.
type Usage struct {
	InputTokens         int64
	OutputTokens        int64
	CacheReadTokens     int64
	CacheCreationTokens int64
}

func (u *Usage) add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.CacheReadTokens += other.CacheReadTokens
	u.CacheCreationTokens += other.CacheCreationTokens
}

// Request is one conversational completion request.
type Request struct {
	Model string
	// SystemBlocks are ordered system prompt segments. The first block is
	// stable per agent and marked cacheable on providers that support it.
	SystemBlocks []string
	History      []HistoryMessage
	UserContent  []ContentBlock
	Tools        []ToolDef
	MaxTokens    int
}

// HasImages reports whether the pending user content carries image blocks.
func (r Request) HasImages() bool {
	for _, block := range r.UserContent {
		if block.Type == "image" {
			return true
		}
	}
	return false
}

// Response is the final outcome of a tool-loop completion.
type Response struct {
	Text         string
	Usage        Usage
	MediaActions []MediaAction
}

// MediaAnalysis is the structured outcome of image/document analysis for the
// media library.
type MediaAnalysis struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Caption     string `json:"caption"`
}
