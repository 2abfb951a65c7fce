package metawa

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

const defaultBaseURL = "https://graph.facebook.com/v22.0"

// Client talks to the Meta WhatsApp Cloud API (Graph).
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

// SendText sends a plain text message.
func (c *Client) SendText(ctx context.Context, phoneNumberID, accessToken, to, text string) error {
	return c.sendMessage(ctx, phoneNumberID, accessToken, map[string]any{
		"messaging_product": "whatsapp",
		"to":                to,
		"type":              "text",
		"text":              map[string]any{"body": text},
	})
}

// SendMedia sends an image or video by public URL.
func (c *Client) SendMedia(ctx context.Context, phoneNumberID, accessToken, to, mediaURL, mediaType, caption string) error {
	apiType := mediaType
	if apiType != "image" && apiType != "video" {
		apiType = "image"
	}
	mediaObject := map[string]any{"link": mediaURL}
	if caption != "" {
		mediaObject["caption"] = caption
	}
	return c.sendMessage(ctx, phoneNumberID, accessToken, map[string]any{
		"messaging_product": "whatsapp",
		"to":                to,
		"type":              apiType,
		apiType:             mediaObject,
	})
}

// SendDocument sends a document with a display filename.
func (c *Client) SendDocument(ctx context.Context, phoneNumberID, accessToken, to, documentURL, filename, caption string) error {
	documentObject := map[string]any{
		"link":     documentURL,
		"filename": filename,
	}
	if caption != "" {
		documentObject["caption"] = caption
	}
	return c.sendMessage(ctx, phoneNumberID, accessToken, map[string]any{
		"messaging_product": "whatsapp",
		"to":                to,
		"type":              "document",
		"document":          documentObject,
	})
}

// SendTemplate sends a pre-approved template message; params fill the body
// placeholders in order.
func (c *Client) SendTemplate(ctx context.Context, phoneNumberID, accessToken, to, name, language string, params []string) error {
	tpl := map[string]any{
		"name":     name,
		"language": map[string]any{"code": language},
	}
	if len(params) > 0 {
		parameters := make([]map[string]any, len(params))
		for i, p := range params {
			parameters[i] = map[string]any{"type": "text", "text": p}
		}
		tpl["components"] = []map[string]any{
			{"type": "body", "parameters": parameters},
		}
	}
	return c.sendMessage(ctx, phoneNumberID, accessToken, map[string]any{
		"messaging_product": "whatsapp",
		"to":                to,
		"type":              "template",
		"template":          tpl,
	})
}

func (c *Client) sendMessage(ctx context.Context, phoneNumberID, accessToken string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/%s/messages", c.baseURL, phoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 300))
		logrus.Errorf("[META] Send failed status=%d body=%s", resp.StatusCode, detail)
		return fmt.Errorf("meta send failed: status %d", resp.StatusCode)
	}
	return nil
}

// DownloadMedia fetches media bytes in two steps: resolve the short-lived
// URL for the media id, then download it with the same token.
func (c *Client) DownloadMedia(ctx context.Context, mediaID, accessToken string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/%s", c.baseURL, mediaID), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("media url lookup failed: status %d", resp.StatusCode)
	}

	var meta struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		return nil, err
	}
	if meta.URL == "" {
		return nil, fmt.Errorf("no url in media response")
	}

	fileReq, err := http.NewRequestWithContext(ctx, http.MethodGet, meta.URL, nil)
	if err != nil {
		return nil, err
	}
	fileReq.Header.Set("Authorization", "Bearer "+accessToken)

	fileResp, err := c.httpClient.Do(fileReq)
	if err != nil {
		return nil, err
	}
	defer fileResp.Body.Close()
	if fileResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("media download failed: status %d", fileResp.StatusCode)
	}
	return io.ReadAll(fileResp.Body)
}
