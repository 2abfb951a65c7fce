package wasender

// InboundMessage is the normalized shape of one WA Sender webhook event.
type InboundMessage struct {
	Phone       string
	Name        string
	Text        string
	MsgType     string // text | audio | image
	MimeType    string
	MessageID   string
	Timestamp   int64
	MessageKey  map[string]any
	MessageData map[string]any
}

// acceptedEvents are the webhook event names that carry customer messages.
var acceptedEvents = map[string]bool{
	"messages.received":          true,
	"messages.upsert":            true,
	"messages-personal.received": true,
}

// ExtractMessage normalizes a webhook payload. Returns nil for events that
// are not inbound customer messages (own messages, groups, unknown types).
func ExtractMessage(payload map[string]any) *InboundMessage {
	event, _ := payload["event"].(string)
	if !acceptedEvents[event] {
		return nil
	}

	data, _ := payload["data"].(map[string]any)
	messages, _ := data["messages"].(map[string]any)
	key, _ := messages["key"].(map[string]any)

	if fromMe, _ := key["fromMe"].(bool); fromMe {
		return nil
	}

	// Fallback chain handles the @lid addressing mode where remoteJid is
	// not a phone number.
	phoneJID := firstString(key, "cleanedSenderPn", "senderPn", "participant", "remoteJid")
	phone := NormalizePhone(phoneJID)
	if phone == "" {
		return nil
	}

	msg := &InboundMessage{
		Phone:       phone,
		MessageKey:  key,
		MessageData: map[string]any{},
	}
	msg.Name, _ = messages["pushName"].(string)
	msg.MessageID, _ = key["id"].(string)
	if ts, ok := messages["messageTimestamp"].(float64); ok {
		msg.Timestamp = int64(ts)
	}

	message, _ := messages["message"].(map[string]any)
	msg.MessageData = message

	switch {
	case mapValue(message, "imageMessage") != nil:
		image := mapValue(message, "imageMessage")
		msg.MsgType = "image"
		msg.Text, _ = image["caption"].(string)
		msg.MimeType = stringOr(image, "mimetype", "image/jpeg")
	case mapValue(message, "audioMessage") != nil:
		audio := mapValue(message, "audioMessage")
		msg.MsgType = "audio"
		msg.MimeType = stringOr(audio, "mimetype", "audio/ogg")
	case message["conversation"] != nil:
		msg.MsgType = "text"
		msg.Text, _ = message["conversation"].(string)
	case messages["messageBody"] != nil:
		msg.MsgType = "text"
		msg.Text, _ = messages["messageBody"].(string)
	default:
		return nil
	}
	return msg
}

func firstString(m map[string]any, keys ...string) string {
	for _, key := range keys {
		if v, ok := m[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func mapValue(m map[string]any, key string) map[string]any {
	v, _ := m[key].(map[string]any)
	return v
}

func stringOr(m map[string]any, key, fallback string) string {
	if v, ok := m[key].(string); ok && v != "" {
		return v
	}
	return fallback
}
