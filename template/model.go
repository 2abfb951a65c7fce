package template

import (
	"fmt"
	"strings"
	"time"
)

// Template approval states as reported by Meta.
const (
	StatusPending  = "PENDING"
	StatusApproved = "APPROVED"
	StatusRejected = "REJECTED"
)

// WhatsAppTemplate mirrors a message template registered with Meta. Only
// approved templates may open a conversation outside the 24-hour window.
type WhatsAppTemplate struct {
	ID             uint
	AgentID        uint
	MetaTemplateID string
	Name           string
	Language       string
	Category       string
	Status         string
	RejectReason   string
	Components     []map[string]any
	HeaderMediaURL string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// BodyParamCount counts {{n}} placeholders in the BODY component.
func (t *WhatsAppTemplate) BodyParamCount() int {
	for _, comp := range t.Components {
		if ctype, _ := comp["type"].(string); ctype != "BODY" {
			continue
		}
		text, _ := comp["text"].(string)
		count := 0
		for i := 1; strings.Contains(text, fmt.Sprintf("{{%d}}", i)); i++ {
			count++
		}
		return count
	}
	return 0
}
