package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/wapilot/wapilot/agent"
	"github.com/wapilot/wapilot/llm"
	"github.com/wapilot/wapilot/media"
)

const duplicateMediaText = "מדיה זו כבר נשלחה בשיחה. חפש מדיה אחרת רלוונטית עם search_media, או המשך בשיחה ללא שליחת מדיה."

// sendMedia resolves a media item and emits a MediaAction for the dispatcher.
// Validation failures come back as plain result text so the model can recover.
func (e *Executor) sendMedia(ctx context.Context, ag *agent.Agent, conversationID uint, call llm.ToolCall) llm.ToolResult {
	result := llm.ToolResult{ID: call.ID, Name: call.Name}

	mediaID := intArg(call.Input, "media_id")
	if mediaID == 0 {
		result.Text = "חסר media_id"
		return result
	}

	item, err := e.media.GetByID(ctx, uint(mediaID))
	if err != nil || item == nil {
		result.Text = fmt.Sprintf("מדיה %d לא נמצאה", mediaID)
		return result
	}
	if item.AgentID != ag.ID {
		result.Text = "מדיה לא שייכת לסוכן זה"
		return result
	}
	if !item.IsActive {
		result.Text = "מדיה לא פעילה"
		return result
	}

	cfg := ag.MediaOrDefault()
	if !cfg.AllowDuplicateInConversation && conversationID != 0 {
		sent, err := e.conversations.MediaAlreadySent(ctx, conversationID, item.ID)
		if err != nil {
			logrus.WithError(err).Warn("[TOOLS] send_media duplicate check failed")
		} else if sent {
			result.Text = duplicateMediaText
			return result
		}
	}

	caption := stringArg(call.Input, "caption")
	if caption == "" {
		caption = item.DefaultCaption
	}
	action := &llm.MediaAction{
		MediaID: item.ID,
		Name:    item.Name,
		Caption: caption,
		URL:     item.FileURL,
		Kind:    item.MediaType,
	}
	if item.MediaType == media.KindDocument && item.FileName != "" {
		action.FileName = item.FileName
	}
	result.Media = action
	return result
}

func (e *Executor) searchMedia(ctx context.Context, agentID uint, input map[string]any) string {
	query := stringArg(input, "query")
	if query == "" {
		return "חסרה שאילתת חיפוש"
	}
	items, err := e.media.Search(ctx, agentID, query, 5)
	if err != nil {
		logrus.WithError(err).Warn("[TOOLS] search_media failed")
		return "שגיאה: " + truncateRunes(err.Error(), 50)
	}
	if len(items) == 0 {
		return "לא נמצאה מדיה מתאימה"
	}
	lines := make([]string, len(items))
	for i, m := range items {
		desc := ""
		if m.Description != "" {
			desc = " - " + m.Description
		}
		lines[i] = fmt.Sprintf("• [%s] ID:%d %s%s", m.MediaType, m.ID, m.Name, desc)
	}
	return "מדיה שנמצאה:\n" + strings.Join(lines, "\n")
}
