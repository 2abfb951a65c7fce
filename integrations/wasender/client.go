package wasender

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	defaultBaseURL = "https://wasenderapi.com/api"
	maxSendRetries = 3
)

// VerifySignature checks the webhook signature header. WA Sender uses a plain
// shared-secret comparison, not an HMAC.
func VerifySignature(signature, webhookSecret string) bool {
	if signature == "" || webhookSecret == "" {
		return false
	}
	return signature == webhookSecret
}

// NormalizePhone strips JID suffixes and validates the digits. Returns ""
// for group chats, broadcasts, linked-device ids and implausible numbers.
func NormalizePhone(phone string) string {
	if strings.Contains(phone, "@g.us") || strings.Contains(phone, "@broadcast") || strings.Contains(phone, "@lid") {
		return ""
	}
	phone = strings.ReplaceAll(phone, "@s.whatsapp.net", "")
	phone = strings.ReplaceAll(phone, "@c.us", "")

	var cleaned strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' || r == '+' {
			cleaned.WriteRune(r)
		}
	}
	digits := strings.TrimPrefix(cleaned.String(), "+")

	if len(digits) < 10 || len(digits) > 15 {
		return ""
	}
	return digits
}

// FormatJID renders a phone in the JID form the send API expects.
func FormatJID(phone string) string {
	return NormalizePhone(phone) + "@s.whatsapp.net"
}

// Client talks to the WA Sender HTTP API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient() *Client {
	return &Client{
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// SendText sends a text message, retrying linearly on rate limits (2s, 4s).
func (c *Client) SendText(ctx context.Context, apiKey, session, to, text string) error {
	return c.send(ctx, apiKey, map[string]any{
		"session": session,
		"to":      FormatJID(to),
		"text":    text,
	})
}

// SendMedia sends an image or video by public URL.
func (c *Client) SendMedia(ctx context.Context, apiKey, session, to, mediaURL, mediaType, caption string) error {
	payload := map[string]any{
		"session": session,
		"to":      FormatJID(to),
	}
	switch mediaType {
	case "image":
		payload["imageUrl"] = mediaURL
	case "video":
		payload["videoUrl"] = mediaURL
	default:
		return fmt.Errorf("unsupported media type %q", mediaType)
	}
	if caption != "" {
		payload["text"] = caption
	}
	return c.send(ctx, apiKey, payload)
}

// SendDocument sends a document by public URL.
func (c *Client) SendDocument(ctx context.Context, apiKey, session, to, documentURL, filename, caption string) error {
	payload := map[string]any{
		"session":     session,
		"to":          FormatJID(to),
		"documentUrl": documentURL,
		"fileName":    filename,
	}
	if caption != "" {
		payload["text"] = caption
	}
	return c.send(ctx, apiKey, payload)
}

func (c *Client) send(ctx context.Context, apiKey string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt < maxSendRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/send-message", bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+apiKey)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			resp.Body.Close()
			lastErr = fmt.Errorf("rate limited")
			if attempt < maxSendRetries-1 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(time.Duration(attempt+1) * 2 * time.Second):
				}
				continue
			}
			logrus.Error("[WASENDER] Rate limited, max retries exhausted")
			return lastErr
		}

		if resp.StatusCode != http.StatusOK {
			detail, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
			resp.Body.Close()
			return fmt.Errorf("wasender send failed: status %d body=%s", resp.StatusCode, detail)
		}

		var result struct {
			Success bool `json:"success"`
		}
		err = json.NewDecoder(resp.Body).Decode(&result)
		resp.Body.Close()
		if err != nil {
			// Some responses are bare message objects without a success flag.
			return nil
		}
		if !result.Success {
			return fmt.Errorf("wasender rejected message")
		}
		return nil
	}
	return lastErr
}

// DecryptMedia asks WA Sender to decrypt an E2E media message and returns the
// temporary public URL for it.
func (c *Client) DecryptMedia(ctx context.Context, apiKey string, messageKey, messageData map[string]any) (string, error) {
	body, err := json.Marshal(map[string]any{
		"data": map[string]any{
			"messages": map[string]any{
				"key":     messageKey,
				"message": messageData,
			},
		},
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/decrypt-media", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("decrypt-media failed: status %d", resp.StatusCode)
	}

	var result struct {
		Success   bool   `json:"success"`
		PublicURL string `json:"publicUrl"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	if !result.Success || result.PublicURL == "" {
		return "", fmt.Errorf("decrypt-media returned no url")
	}
	return result.PublicURL, nil
}
