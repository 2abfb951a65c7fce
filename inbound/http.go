package inbound

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"github.com/wapilot/wapilot/agent"
	"github.com/wapilot/wapilot/integrations/wasender"
)

// Handlers exposes the webhook HTTP surface.
type Handlers struct {
	agents     agent.Repository
	dispatcher *Dispatcher
}

func NewHandlers(agents agent.Repository, dispatcher *Dispatcher) *Handlers {
	return &Handlers{agents: agents, dispatcher: dispatcher}
}

func (h *Handlers) Register(app *fiber.App) {
	app.Get("/webhook", h.verifyMetaWebhook)
	app.Post("/webhook", h.receiveMetaWebhook)
	app.Post("/webhook/wasender/:agentId", h.receiveWaSenderWebhook)
}

// verifyMetaWebhook answers Meta's subscription handshake. The verify token
// may belong to any agent; the challenge echoes back as an integer.
func (h *Handlers) verifyMetaWebhook(c *fiber.Ctx) error {
	verifyToken := c.Query("hub.verify_token")
	challenge := c.Query("hub.challenge")

	known, err := h.agents.VerifyTokenKnown(c.Context(), verifyToken)
	if err != nil || !known {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"detail": "Invalid verify token"})
	}
	n, err := strconv.Atoi(challenge)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"detail": "Invalid challenge"})
	}
	return c.JSON(n)
}

// Meta webhook payload, reduced to the fields the dispatcher consumes.
type metaWebhookPayload struct {
	Entry []struct {
		Changes []struct {
			Field string `json:"field"`
			Value struct {
				Metadata struct {
					PhoneNumberID string `json:"phone_number_id"`
				} `json:"metadata"`
				Contacts []struct {
					WaID    string `json:"wa_id"`
					Profile *struct {
						Name string `json:"name"`
					} `json:"profile"`
				} `json:"contacts"`
				Messages []struct {
					From string `json:"from"`
					Type string `json:"type"`
					Text *struct {
						Body string `json:"body"`
					} `json:"text"`
					Audio *struct {
						ID       string `json:"id"`
						MimeType string `json:"mime_type"`
					} `json:"audio"`
					Image *struct {
						ID       string `json:"id"`
						MimeType string `json:"mime_type"`
					} `json:"image"`
				} `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

func (h *Handlers) receiveMetaWebhook(c *fiber.Ctx) error {
	var payload metaWebhookPayload
	if err := c.BodyParser(&payload); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"detail": "Invalid payload"})
	}

	msg, ok := extractMetaMessage(payload)
	if !ok {
		return c.JSON(fiber.Map{"status": "ok"})
	}

	if !h.dispatcher.submitMeta(c.Context(), msg) {
		return c.JSON(fiber.Map{"status": "ok", "duplicate": true})
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

// extractMetaMessage pulls the first supported message out of the payload.
// Content is the text body for text messages and the media id otherwise.
func extractMetaMessage(payload metaWebhookPayload) (metaMessage, bool) {
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			if change.Field != "messages" {
				continue
			}
			for _, msg := range change.Value.Messages {
				userName := ""
				for _, contact := range change.Value.Contacts {
					if contact.WaID == msg.From && contact.Profile != nil {
						userName = contact.Profile.Name
						break
					}
				}
				out := metaMessage{
					PhoneNumberID: change.Value.Metadata.PhoneNumberID,
					From:          msg.From,
					UserName:      userName,
				}
				switch {
				case msg.Type == "text" && msg.Text != nil:
					out.MsgType = "text"
					out.Content = msg.Text.Body
					return out, true
				case msg.Type == "audio" && msg.Audio != nil:
					out.MsgType = "audio"
					out.Content = msg.Audio.ID
					out.MimeType = msg.Audio.MimeType
					return out, true
				case msg.Type == "image" && msg.Image != nil:
					out.MsgType = "image"
					out.Content = msg.Image.ID
					out.MimeType = msg.Image.MimeType
					return out, true
				}
			}
		}
	}
	return metaMessage{}, false
}

func (h *Handlers) receiveWaSenderWebhook(c *fiber.Ctx) error {
	agentID, err := strconv.ParseUint(c.Params("agentId"), 10, 32)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"detail": "Invalid agent id"})
	}

	ag, err := h.agents.GetByID(c.Context(), uint(agentID))
	if err != nil || ag == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"detail": "Agent not found"})
	}
	if ag.Provider != agent.ProviderWaSender {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"detail": "Agent is not configured for WA Sender"})
	}

	if secret := ag.ProviderConfig.WebhookSecret; secret != "" {
		if !wasender.VerifySignature(c.Get("X-Webhook-Signature"), secret) {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"detail": "Invalid signature"})
		}
	}

	var payload map[string]any
	if err := c.BodyParser(&payload); err != nil {
		logrus.WithError(err).Debug("[WASENDER] Unparseable webhook body")
		return c.JSON(fiber.Map{"status": "ok"})
	}

	msg := wasender.ExtractMessage(payload)
	if msg == nil {
		return c.JSON(fiber.Map{"status": "ok"})
	}

	if !h.dispatcher.submitWaSender(c.Context(), uint(agentID), msg) {
		return c.JSON(fiber.Map{"status": "ok", "duplicate": true})
	}
	return c.JSON(fiber.Map{"status": "ok"})
}
