package transcribe

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/sirupsen/logrus"
)

const requestTimeout = 60 * time.Second

// Transcriber turns WhatsApp voice notes into Hebrew text via the OpenAI
// transcription API.
type Transcriber struct {
	client openai.Client
	model  string
}

// New builds a transcriber. model is typically whisper-1.
func New(apiKey, model string) *Transcriber {
	return &Transcriber{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

// Transcribe sends OGG/Opus audio bytes for transcription. Returns the raw
// transcript text, "" with an error on failure.
func (t *Transcriber) Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error) {
	if len(audio) == 0 {
		return "", fmt.Errorf("empty audio payload")
	}

	reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	transcription, err := t.client.Audio.Transcriptions.New(reqCtx, openai.AudioTranscriptionNewParams{
		Model:    openai.AudioModel(t.model),
		File:     openai.File(bytes.NewReader(audio), fileName(mimeType), contentType(mimeType)),
		Language: openai.String("he"),
	})
	if err != nil {
		return "", err
	}

	text := strings.TrimSpace(transcription.Text)
	if text == "" {
		return "", fmt.Errorf("empty transcript")
	}
	logrus.Debugf("[AUDIO] Transcribed %d chars", len([]rune(text)))
	return text, nil
}

func contentType(mimeType string) string {
	if mimeType == "" {
		return "audio/ogg"
	}
	// WhatsApp reports e.g. "audio/ogg; codecs=opus".
	if idx := strings.Index(mimeType, ";"); idx > 0 {
		return strings.TrimSpace(mimeType[:idx])
	}
	return mimeType
}

func fileName(mimeType string) string {
	switch contentType(mimeType) {
	case "audio/mpeg", "audio/mp3":
		return "voice.mp3"
	case "audio/mp4", "audio/m4a":
		return "voice.m4a"
	default:
		return "voice.ogg"
	}
}
