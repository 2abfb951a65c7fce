package tools

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/wapilot/wapilot/agent"
	"github.com/wapilot/wapilot/appointment"
	"github.com/wapilot/wapilot/conversation"
	"github.com/wapilot/wapilot/knowledge"
	"github.com/wapilot/wapilot/llm"
	"github.com/wapilot/wapilot/media"
)

// Executor dispatches model tool calls to the domain services. All handlers
// return Hebrew result strings; errors never escape to the model loop, they
// become result text instead.
type Executor struct {
	conversations conversation.Repository
	knowledge     *knowledge.Service
	appointments  *appointment.Service
	media         *media.Service
}

func NewExecutor(conversations conversation.Repository, kn *knowledge.Service, apts *appointment.Service, md *media.Service) *Executor {
	return &Executor{conversations: conversations, knowledge: kn, appointments: apts, media: md}
}

// Handler returns a tool handler bound to one conversation.
func (e *Executor) Handler(ag *agent.Agent, userID, conversationID uint) llm.ToolHandler {
	return func(ctx context.Context, calls []llm.ToolCall) []llm.ToolResult {
		results := make([]llm.ToolResult, 0, len(calls))
		for _, call := range calls {
			logrus.Debugf("[TOOLS] %s agent=%d conv=%d", call.Name, ag.ID, conversationID)
			results = append(results, e.dispatch(ctx, ag, userID, conversationID, call))
		}
		return results
	}
}

func (e *Executor) dispatch(ctx context.Context, ag *agent.Agent, userID, conversationID uint, call llm.ToolCall) llm.ToolResult {
	result := llm.ToolResult{ID: call.ID, Name: call.Name}
	switch call.Name {
	case NameUpdateUserInfo:
		result.Text = e.updateUserInfo(ctx, userID, call.Input)
	case NameSearchKnowledge:
		result.Text = e.searchKnowledge(ctx, ag.ID, call.Input)
	case NameQueryProducts:
		result.Text = e.queryProducts(ctx, ag.ID, call.Input)
	case NameCheckAvailability:
		result.Text = e.checkAvailability(ctx, ag, call.Input)
	case NameBookAppointment:
		result.Text = e.bookAppointment(ctx, ag, userID, call.Input)
	case NameGetMyAppointments:
		result.Text = e.myAppointments(ctx, ag, userID)
	case NameCancelAppointment:
		result.Text = e.cancelAppointment(ctx, ag, userID, call.Input)
	case NameRescheduleAppointment:
		result.Text = e.rescheduleAppointment(ctx, ag, userID, call.Input)
	case NameSendMedia:
		return e.sendMedia(ctx, ag, conversationID, call)
	case NameSearchMedia:
		result.Text = e.searchMedia(ctx, ag.ID, call.Input)
	case NameOptOutConversation:
		result.Text = e.optOut(ctx, conversationID)
	default:
		result.Text = "כלי לא מוכר: " + call.Name
	}
	return result
}

// stringArg reads an optional string argument.
func stringArg(input map[string]any, key string) string {
	if v, ok := input[key].(string); ok {
		return v
	}
	return ""
}

// intArg reads an integer argument; JSON decoding yields float64.
func intArg(input map[string]any, key string) int {
	switch v := input[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	}
	return 0
}

// truncateRunes shortens s to at most n characters without splitting UTF-8.
func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
