package inbound

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDedupKeyStableAndDistinct(t *testing.T) {
	a := DedupKey("1234567890", "972501234567", "שלום")
	b := DedupKey("1234567890", "972501234567", "שלום")
	assert.Equal(t, a, b, "same event hashes to the same key")

	assert.NotEqual(t, a, DedupKey("1234567890", "972501234567", "שלום!"))
	assert.NotEqual(t, a, DedupKey("1234567890", "972509999999", "שלום"))
	assert.NotEqual(t, a, DedupKey("0987654321", "972501234567", "שלום"))

	assert.Contains(t, a, "1234567890:972501234567:")
}

func TestWsTimestamp(t *testing.T) {
	got := wsTimestamp(1750000000)
	assert.Equal(t, time.Unix(1750000000, 0).UTC(), got)

	// Missing timestamps fall back to roughly now.
	assert.WithinDuration(t, time.Now().UTC(), wsTimestamp(0), time.Second)
	assert.WithinDuration(t, time.Now().UTC(), wsTimestamp(-5), time.Second)
}

func TestNormalizeImageMime(t *testing.T) {
	cases := map[string]string{
		"image/png":                "image/png",
		"image/gif":                "image/gif",
		"image/webp":               "image/webp",
		"image/jpeg":               "image/jpeg",
		"image/jpeg; charset=none": "image/jpeg",
		"IMAGE/PNG":                "image/png",
		"application/octet-stream": "image/jpeg",
		"":                         "image/jpeg",
	}
	for in, want := range cases {
		assert.Equal(t, want, normalizeImageMime(in), "input %q", in)
	}
}

func metaPayload(t *testing.T, raw string) metaWebhookPayload {
	t.Helper()
	var payload metaWebhookPayload
	require.NoError(t, json.Unmarshal([]byte(raw), &payload))
	return payload
}

func TestExtractMetaMessageText(t *testing.T) {
	payload := metaPayload(t, `{
		"entry": [{"changes": [{"field": "messages", "value": {
			"metadata": {"phone_number_id": "1234567890"},
			"contacts": [{"wa_id": "972501234567", "profile": {"name": "דני"}}],
			"messages": [{"from": "972501234567", "type": "text", "text": {"body": "שלום"}}]
		}}]}]
	}`)

	msg, ok := extractMetaMessage(payload)
	require.True(t, ok)
	assert.Equal(t, "1234567890", msg.PhoneNumberID)
	assert.Equal(t, "972501234567", msg.From)
	assert.Equal(t, "דני", msg.UserName)
	assert.Equal(t, "text", msg.MsgType)
	assert.Equal(t, "שלום", msg.Content)
}

func TestExtractMetaMessageMedia(t *testing.T) {
	payload := metaPayload(t, `{
		"entry": [{"changes": [{"field": "messages", "value": {
			"metadata": {"phone_number_id": "1234567890"},
			"messages": [{"from": "972501234567", "type": "audio",
				"audio": {"id": "MEDIA123", "mime_type": "audio/ogg; codecs=opus"}}]
		}}]}]
	}`)

	msg, ok := extractMetaMessage(payload)
	require.True(t, ok)
	assert.Equal(t, "audio", msg.MsgType)
	assert.Equal(t, "MEDIA123", msg.Content, "media messages carry the media id as content")
	assert.Equal(t, "audio/ogg; codecs=opus", msg.MimeType)
	assert.Equal(t, "", msg.UserName, "no matching contact leaves the name empty")
}

func TestExtractMetaMessageIgnoresNonMessageChanges(t *testing.T) {
	statuses := metaPayload(t, `{
		"entry": [{"changes": [{"field": "statuses", "value": {
			"metadata": {"phone_number_id": "1234567890"}
		}}]}]
	}`)
	_, ok := extractMetaMessage(statuses)
	assert.False(t, ok)

	unsupported := metaPayload(t, `{
		"entry": [{"changes": [{"field": "messages", "value": {
			"metadata": {"phone_number_id": "1234567890"},
			"messages": [{"from": "972501234567", "type": "sticker"}]
		}}]}]
	}`)
	_, ok = extractMetaMessage(unsupported)
	assert.False(t, ok)

	_, ok = extractMetaMessage(metaWebhookPayload{})
	assert.False(t, ok)
}

func TestWorkerPoolKeepsKeyOrder(t *testing.T) {
	pool := NewWorkerPool(4, 16)
	defer pool.Close()

	done := make(chan int, 3)
	for i := 1; i <= 3; i++ {
		i := i
		ok := pool.Submit("agent:972501234567", func() {
			done <- i
		})
		require.True(t, ok)
	}

	for want := 1; want <= 3; want++ {
		select {
		case got := <-done:
			assert.Equal(t, want, got, "tasks for one key run in submission order")
		case <-time.After(time.Second):
			t.Fatal("worker pool task did not run")
		}
	}
}

func TestWorkerPoolRejectsWhenQueueFull(t *testing.T) {
	pool := NewWorkerPool(1, 1)
	defer pool.Close()

	block := make(chan struct{})
	require.True(t, pool.Submit("k", func() { <-block }))

	// One slot in the queue, then rejection.
	accepted := 0
	for range 5 {
		if pool.Submit("k", func() {}) {
			accepted++
		}
	}
	assert.LessOrEqual(t, accepted, 2)
	close(block)
}
