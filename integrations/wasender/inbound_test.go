package wasender

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizePhone(t *testing.T) {
	cases := map[string]string{
		"972501234567@s.whatsapp.net": "972501234567",
		"972501234567@c.us":           "972501234567",
		"+972-50-123-4567":            "972501234567",
		"972501234567":                "972501234567",
		"123456789@g.us":              "", // group chat
		"status@broadcast":            "",
		"8123456789012@lid":           "", // linked device id
		"12345":                       "", // too short
		"1234567890123456":            "", // too long
		"":                            "",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizePhone(in), "input %q", in)
	}
}

func TestFormatJID(t *testing.T) {
	assert.Equal(t, "972501234567@s.whatsapp.net", FormatJID("+972 50 123 4567"))
}

func TestVerifySignature(t *testing.T) {
	assert.True(t, VerifySignature("secret", "secret"))
	assert.False(t, VerifySignature("wrong", "secret"))
	assert.False(t, VerifySignature("", "secret"))
	assert.False(t, VerifySignature("secret", ""))
}

func wsPayload(event string, key, message map[string]any, extra map[string]any) map[string]any {
	messages := map[string]any{
		"key":              key,
		"pushName":         "דני",
		"messageTimestamp": float64(1750000000),
		"message":          message,
	}
	for k, v := range extra {
		messages[k] = v
	}
	return map[string]any{
		"event": event,
		"data":  map[string]any{"messages": messages},
	}
}

func TestExtractMessageText(t *testing.T) {
	payload := wsPayload("messages.received",
		map[string]any{"remoteJid": "972501234567@s.whatsapp.net", "id": "MSG1"},
		map[string]any{"conversation": "שלום, אפשר לקבוע תור?"},
		nil,
	)

	msg := ExtractMessage(payload)
	require.NotNil(t, msg)
	assert.Equal(t, "972501234567", msg.Phone)
	assert.Equal(t, "דני", msg.Name)
	assert.Equal(t, "text", msg.MsgType)
	assert.Equal(t, "שלום, אפשר לקבוע תור?", msg.Text)
	assert.Equal(t, "MSG1", msg.MessageID)
	assert.Equal(t, int64(1750000000), msg.Timestamp)
}

func TestExtractMessageLidFallsBackToSenderPn(t *testing.T) {
	payload := wsPayload("messages.upsert",
		map[string]any{
			"remoteJid":       "8123456789012@lid",
			"cleanedSenderPn": "972501234567",
			"id":              "MSG2",
		},
		map[string]any{"conversation": "hi"},
		nil,
	)

	msg := ExtractMessage(payload)
	require.NotNil(t, msg)
	assert.Equal(t, "972501234567", msg.Phone)
}

func TestExtractMessageImageAndAudio(t *testing.T) {
	image := wsPayload("messages.received",
		map[string]any{"remoteJid": "972501234567@s.whatsapp.net"},
		map[string]any{"imageMessage": map[string]any{"caption": "מה זה?", "mimetype": "image/png"}},
		nil,
	)
	msg := ExtractMessage(image)
	require.NotNil(t, msg)
	assert.Equal(t, "image", msg.MsgType)
	assert.Equal(t, "מה זה?", msg.Text)
	assert.Equal(t, "image/png", msg.MimeType)

	audio := wsPayload("messages.received",
		map[string]any{"remoteJid": "972501234567@s.whatsapp.net"},
		map[string]any{"audioMessage": map[string]any{}},
		nil,
	)
	msg = ExtractMessage(audio)
	require.NotNil(t, msg)
	assert.Equal(t, "audio", msg.MsgType)
	assert.Equal(t, "audio/ogg", msg.MimeType, "missing mimetype falls back to ogg")
}

func TestExtractMessageMessageBodyFallback(t *testing.T) {
	payload := wsPayload("messages-personal.received",
		map[string]any{"remoteJid": "972501234567@s.whatsapp.net"},
		map[string]any{},
		map[string]any{"messageBody": "טקסט ישיר"},
	)

	msg := ExtractMessage(payload)
	require.NotNil(t, msg)
	assert.Equal(t, "text", msg.MsgType)
	assert.Equal(t, "טקסט ישיר", msg.Text)
}

func TestExtractMessageRejections(t *testing.T) {
	// Unknown event name.
	assert.Nil(t, ExtractMessage(map[string]any{"event": "messages.sent"}))

	// Own outgoing message.
	own := wsPayload("messages.received",
		map[string]any{"remoteJid": "972501234567@s.whatsapp.net", "fromMe": true},
		map[string]any{"conversation": "hi"},
		nil,
	)
	assert.Nil(t, ExtractMessage(own))

	// Group chat.
	group := wsPayload("messages.received",
		map[string]any{"remoteJid": "12345678@g.us"},
		map[string]any{"conversation": "hi"},
		nil,
	)
	assert.Nil(t, ExtractMessage(group))

	// Unsupported content type.
	sticker := wsPayload("messages.received",
		map[string]any{"remoteJid": "972501234567@s.whatsapp.net"},
		map[string]any{"stickerMessage": map[string]any{}},
		nil,
	)
	assert.Nil(t, ExtractMessage(sticker))
}
