package followups

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/wapilot/wapilot/agent"
	"github.com/wapilot/wapilot/conversation"
	"github.com/wapilot/wapilot/llm"
	"github.com/wapilot/wapilot/template"
)

const (
	historyLimit        = 20
	historyMsgMaxChars  = 200
	prevContentMaxChars = 150
	personalityMaxChars = 500
	evaluatorMaxTokens  = 600
)

// decision is the parsed evaluator verdict.
type decision struct {
	Send             bool   `json:"send"`
	Content          string `json:"content"`
	Reason           string `json:"reason"`
	TemplateName     string `json:"template_name"`
	TemplateLanguage string `json:"template_language"`
	TemplateParams   []any  `json:"template_params"`
}

func (d decision) params() []string {
	out := make([]string, len(d.TemplateParams))
	for i, p := range d.TemplateParams {
		out[i] = fmt.Sprint(p)
	}
	return out
}

// evaluate asks the configured model whether to send this follow-up and with
// what content. Any model or parse failure yields a no-send decision.
func (e *Engine) evaluate(ctx context.Context, fu *ScheduledFollowup, ag *agent.Agent, user *conversation.User, cfg agent.FollowupConfig, needsTemplate bool) decision {
	history := e.historyContext(ctx, fu.ConversationID)
	prevFollowups := e.prevFollowupsContext(ctx, fu.ConversationID)
	personality := agentPersonality(ag.SystemPrompt, personalityMaxChars)
	totalSteps := len(sequenceOrDefault(cfg))

	var prompt string
	if needsTemplate {
		var ok bool
		prompt, ok = e.buildTemplatePrompt(ctx, history, prevFollowups, fu, totalSteps, ag, cfg)
		if !ok {
			// Nothing to choose from, so there is no decision to ask for.
			return decision{Send: false, Reason: "no approved templates available"}
		}
	} else {
		prompt = buildFreetextPrompt(history, prevFollowups, personality, fu, totalSteps, user)
	}

	model := cfg.Model
	if model == "" {
		model = ag.Model
	}
	provider, err := e.factory.Get(llm.ResolveProviderName(model), ag)
	if err != nil {
		return decision{Send: false, Reason: "AI error: " + truncateRunes(err.Error(), 100)}
	}
	response, err := provider.GenerateSimpleResponse(ctx, model, prompt, evaluatorMaxTokens)
	if err != nil {
		logrus.WithError(err).Warn("[FOLLOWUP] Evaluator call failed")
		return decision{Send: false, Reason: "AI error: " + truncateRunes(err.Error(), 100)}
	}
	return parseDecision(response)
}

func (e *Engine) historyContext(ctx context.Context, conversationID uint) string {
	messages, err := e.conversations.RecentMessages(ctx, conversationID, historyLimit)
	if err != nil || len(messages) == 0 {
		return "(אין היסטוריה)"
	}

	lines := make([]string, 0, len(messages))
	for _, msg := range messages {
		role := "לקוח"
		if msg.Role == conversation.RoleAssistant {
			role = "סוכן"
		}
		prefix := ""
		if msg.Type != "" && msg.Type != conversation.TypeText {
			prefix = fmt.Sprintf("[%s] ", msg.Type)
		}
		content := msg.Content
		if runes := []rune(content); len(runes) > historyMsgMaxChars {
			content = string(runes[:historyMsgMaxChars]) + "..."
		}
		lines = append(lines, fmt.Sprintf("%s: %s%s", role, prefix, content))
	}
	return strings.Join(lines, "\n")
}

func (e *Engine) prevFollowupsContext(ctx context.Context, conversationID uint) string {
	prev, err := e.repo.SentForConversation(ctx, conversationID)
	if err != nil || len(prev) == 0 {
		return ""
	}
	var lines []string
	for _, fu := range prev {
		if fu.Content == "" {
			continue
		}
		lines = append(lines, fmt.Sprintf("Follow-up #%d: %s", fu.FollowupNumber, truncateRunes(fu.Content, prevContentMaxChars)))
	}
	return strings.Join(lines, "\n")
}

func buildFreetextPrompt(history, prevFollowups, personality string, fu *ScheduledFollowup, totalSteps int, user *conversation.User) string {
	customerName := user.Name
	if customerName == "" {
		customerName = "הלקוח"
	}

	parts := []string{
		"אתה סוכן מכירות שמחליט אם לשלוח הודעת follow-up ללקוח.",
		"",
		"שם הלקוח: " + customerName,
		fmt.Sprintf("זה שלב %d מתוך %d ברצף המעקב.", fu.FollowupNumber, totalSteps),
	}

	if fu.StepInstruction != "" {
		parts = append(parts, "", "הנחיית השלב: "+fu.StepInstruction)
	}

	parts = append(parts, "", "היסטוריית השיחה:", history)

	if prevFollowups != "" {
		parts = append(parts, "", "הודעות follow-up קודמות שכבר שלחת:", prevFollowups)
	}
	if personality != "" {
		parts = append(parts, "", "אישיות הסוכן:", personality)
	}

	parts = append(parts,
		"",
		"החלט:",
		"- אם השיחה נגמרה טבעית (הלקוח אמר תודה/ביי) או אמר שלא מעוניין — אל תשלח.",
		"- אם יש סיבה טובה לחזור ללקוח — כתוב הודעה מתאימה.",
		"- ההודעה צריכה להיות קצרה, טבעית, ורלוונטית למה שדובר.",
		"",
		"החזר JSON בלבד:",
		`{"send": true/false, "content": "ההודעה אם send=true", "reason": "למה החלטת"}`,
	)
	return strings.Join(parts, "\n")
}

// buildTemplatePrompt assembles the template-selection prompt. ok=false when
// none of the configured templates resolves to an approved one, in which case
// there is nothing for the model to decide.
func (e *Engine) buildTemplatePrompt(ctx context.Context, history, prevFollowups string, fu *ScheduledFollowup, totalSteps int, ag *agent.Agent, cfg agent.FollowupConfig) (string, bool) {
	templatesInfo := e.templatesInfo(ctx, ag.ID, cfg.MetaTemplates)
	if len(templatesInfo) == 0 {
		return "", false
	}

	parts := []string{
		"אתה סוכן שמחליט אם לשלוח הודעת follow-up ללקוח דרך WhatsApp Template.",
		fmt.Sprintf("זה שלב %d מתוך %d ברצף המעקב.", fu.FollowupNumber, totalSteps),
	}

	if fu.StepInstruction != "" {
		parts = append(parts, "", "הנחיית השלב: "+fu.StepInstruction)
	}

	parts = append(parts, "", "היסטוריית השיחה:", history)

	if prevFollowups != "" {
		parts = append(parts, "", "follow-ups קודמים:", prevFollowups)
	}

	parts = append(parts, "", "Templates זמינים:")
	for _, t := range templatesInfo {
		paramsDesc := "(ללא פרמטרים)"
		if len(t.params) > 0 {
			descs := make([]string, len(t.params))
			for i, key := range t.params {
				descs[i] = fmt.Sprintf("{{%d}} = %s", i+1, key)
			}
			paramsDesc = strings.Join(descs, ", ")
		}
		parts = append(parts, fmt.Sprintf("- %q (%s): %s", t.name, t.language, t.body))
		parts = append(parts, "  פרמטרים: "+paramsDesc)
	}

	parts = append(parts,
		"",
		"החלט איזה template הכי מתאים לקונטקסט של השיחה.",
		"מלא את הפרמטרים בהתאם למידע מהשיחה.",
		"",
		"החזר JSON בלבד:",
		`{"send": true/false, "template_name": "שם", "template_language": "he", "template_params": ["ערך1", "ערך2"], "reason": "למה"}`,
	)
	return strings.Join(parts, "\n"), true
}

type templateInfo struct {
	name     string
	language string
	body     string
	params   []string
}

// templatesInfo resolves the agent's configured template references against
// the local catalog, keeping only approved ones.
func (e *Engine) templatesInfo(ctx context.Context, agentID uint, refs []agent.MetaTemplateRef) []templateInfo {
	var out []templateInfo
	for _, ref := range refs {
		language := ref.Language
		if language == "" {
			language = "he"
		}
		tpl, err := e.templates.GetByName(ctx, agentID, ref.Name, language)
		if err != nil || tpl == nil || tpl.Status != template.StatusApproved {
			continue
		}

		body := ""
		for _, comp := range tpl.Components {
			if ctype, _ := comp["type"].(string); ctype == "BODY" {
				body, _ = comp["text"].(string)
				break
			}
		}
		out = append(out, templateInfo{
			name:     ref.Name,
			language: language,
			body:     body,
			params:   ref.Params,
		})
	}
	return out
}

// parseDecision tolerantly extracts the evaluator's JSON verdict; anything
// unparseable becomes a no-send decision with the raw head as the reason.
func parseDecision(response string) decision {
	text := llm.StripJSONFences(response)
	var d decision
	if err := json.Unmarshal([]byte(text), &d); err != nil {
		return decision{Send: false, Reason: "failed to parse AI response: " + truncateRunes(text, 80)}
	}
	return d
}

func agentPersonality(systemPrompt string, maxChars int) string {
	runes := []rune(strings.TrimSpace(systemPrompt))
	if len(runes) <= maxChars {
		return string(runes)
	}
	cut := string(runes[:maxChars])
	if idx := strings.LastIndex(cut, "."); idx > maxChars/2 {
		return cut[:idx+1]
	}
	return cut + "..."
}

func truncateRunes(s string, n int) string {
	if runes := []rune(s); len(runes) > n {
		return string(runes[:n])
	}
	return s
}
