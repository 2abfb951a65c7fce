package tools

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/wapilot/wapilot/conversation"
	"github.com/wapilot/wapilot/pkg/apperr"
)

func (e *Executor) updateUserInfo(ctx context.Context, userID uint, input map[string]any) string {
	name := stringArg(input, "name")
	gender := conversation.Gender(stringArg(input, "gender"))
	if gender != conversation.GenderMale && gender != conversation.GenderFemale {
		gender = ""
	}

	var metadata map[string]string
	if businessType := stringArg(input, "business_type"); businessType != "" {
		metadata = map[string]string{"business_type": businessType}
	}
	if notes := stringArg(input, "notes"); notes != "" {
		if metadata == nil {
			metadata = map[string]string{}
		}
		metadata["notes"] = notes
	}
	if metadata != nil {
		// Metadata is replaced whole, so merge over what exists.
		if user, err := e.conversations.GetUser(ctx, userID); err == nil && user.Metadata != nil {
			for k, v := range user.Metadata {
				if _, set := metadata[k]; !set {
					metadata[k] = v
				}
			}
		}
	}

	if err := e.conversations.UpdateUserInfo(ctx, userID, name, gender, metadata); err != nil {
		logrus.WithError(err).Warn("[TOOLS] update_user_info failed")
		return "שגיאה: " + truncateRunes(err.Error(), 50)
	}
	return "עודכן בהצלחה"
}

func (e *Executor) optOut(ctx context.Context, conversationID uint) string {
	if conversationID == 0 {
		return "שגיאה: לא ניתן לבצע opt-out"
	}
	if err := e.conversations.SetOptedOut(ctx, conversationID, true); err != nil {
		if apperr.IsNotFound(err) {
			return "שגיאה: שיחה לא נמצאה"
		}
		return "שגיאה: " + truncateRunes(err.Error(), 50)
	}
	logrus.Infof("[TOOLS] Conversation %d opted out of proactive messages", conversationID)
	return "הלקוח הוסר בהצלחה מרשימת ההודעות היזומות."
}
