package followups

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseDecisionPlainJSON(t *testing.T) {
	d := parseDecision(`{"send": true, "content": "היי, עדיין מעוניין?", "reason": "no reply in 3h"}`)
	assert.True(t, d.Send)
	assert.Equal(t, "היי, עדיין מעוניין?", d.Content)
	assert.Equal(t, "no reply in 3h", d.Reason)
}

func TestParseDecisionFencedJSON(t *testing.T) {
	d := parseDecision("```json\n{\"send\": false, \"reason\": \"customer said no\"}\n```")
	assert.False(t, d.Send)
	assert.Equal(t, "customer said no", d.Reason)
}

func TestParseDecisionTemplateFields(t *testing.T) {
	d := parseDecision(`{"send": true, "template_name": "followup_he", "template_language": "he", "template_params": ["דני", 3]}`)
	assert.True(t, d.Send)
	assert.Equal(t, "followup_he", d.TemplateName)
	assert.Equal(t, "he", d.TemplateLanguage)
	assert.Equal(t, []string{"דני", "3"}, d.params())
}

func TestParseDecisionGarbageNeverSends(t *testing.T) {
	d := parseDecision("I think we should definitely reach out!")
	assert.False(t, d.Send)
	assert.True(t, strings.HasPrefix(d.Reason, "failed to parse AI response:"))
}

func TestAgentPersonalityTruncation(t *testing.T) {
	short := "אתה עוזר אדיב."
	assert.Equal(t, short, agentPersonality(short, 500))

	// Long prompt cuts at the last sentence boundary past the halfway mark.
	long := strings.Repeat("א", 300) + ". " + strings.Repeat("ב", 300)
	got := agentPersonality(long, 400)
	assert.True(t, strings.HasSuffix(got, "."))
	assert.LessOrEqual(t, len([]rune(got)), 400)

	// No usable boundary falls back to a hard cut with an ellipsis.
	noDots := strings.Repeat("ג", 600)
	got = agentPersonality(noDots, 400)
	assert.True(t, strings.HasSuffix(got, "..."))
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "שלום", truncateRunes("שלום", 10))
	assert.Equal(t, "של", truncateRunes("שלום", 2))
}
