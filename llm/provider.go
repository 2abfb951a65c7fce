package llm

import (
	"context"
	"errors"
)

// Tool-loop bounds shared by all providers.
const (
	maxToolRounds = 5
	maxRetries    = 3
)

// ErrVisionUnsupported is returned by providers without image understanding;
// the factory routes image-bearing requests away from them.
var ErrVisionUnsupported = errors.New("provider does not support image input")

// Provider is the uniform interface over the three LLM backends.
type Provider interface {
	// GetResponse runs the conversational tool loop (up to 5 rounds) and
	// returns the final text, accumulated usage and intercepted media
	// actions.
	GetResponse(ctx context.Context, req Request, handler ToolHandler) (*Response, error)

	// GenerateSimpleResponse produces a plain completion without tools,
	// used by reminders, follow-ups and summaries.
	GenerateSimpleResponse(ctx context.Context, model, prompt string, maxTokens int) (string, error)

	// DescribeImage returns a one-sentence Hebrew description of an image.
	DescribeImage(ctx context.Context, imageBase64, mediaType string) (string, error)

	// AnalyzeImage generates name/description/caption for the media library.
	AnalyzeImage(ctx context.Context, imageBase64, mediaType string) (MediaAnalysis, error)

	// AnalyzeDocument generates name/description/caption from document text.
	AnalyzeDocument(ctx context.Context, textContent string) (MediaAnalysis, error)
}

// mediaAckText is what the model sees in place of an intercepted send_media
// result.
func mediaAckText(name string) string {
	return "מדיה '" + name + "' תישלח ללקוח."
}

// resultForCall pairs a tool call with its result, intercepting media
// directives into the actions slice.
func resultForCall(call ToolCall, results []ToolResult, actions *[]MediaAction) string {
	for _, r := range results {
		if (r.ID != "" && r.ID == call.ID) || (r.ID == "" && r.Name == call.Name) {
			if r.Media != nil {
				*actions = append(*actions, *r.Media)
				return mediaAckText(r.Media.Name)
			}
			return r.Text
		}
	}
	return "לא נמצא"
}
