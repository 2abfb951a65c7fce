package outbound

import (
	"context"

	"github.com/wapilot/wapilot/agent"
	"github.com/wapilot/wapilot/llm"
)

// Sender delivers outbound WhatsApp traffic over whichever provider the agent
// is configured for. Implementations live in integrations/ and are selected
// per agent at dispatch time.
type Sender interface {
	SendText(ctx context.Context, ag *agent.Agent, phone, text string) error
	SendMedia(ctx context.Context, ag *agent.Agent, phone string, action llm.MediaAction) error

	// SendTemplate sends a pre-approved Meta template. Providers without
	// template messaging return an error.
	SendTemplate(ctx context.Context, ag *agent.Agent, phone, templateName, language string, params []string) error
}
