package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveProviderName(t *testing.T) {
	cases := map[string]string{
		"claude-sonnet-4-20250514":  "anthropic",
		"claude-3-5-haiku-20241022": "anthropic",
		"gpt-4o":                    "openai",
		"gpt-4o-mini":               "openai",
		"o3-mini":                   "openai",
		"gemini-2.0-flash":          "gemini",
		"":                          "anthropic",
		"some-unknown-model":        "anthropic",
	}
	for model, want := range cases {
		assert.Equal(t, want, ResolveProviderName(model), "model %q", model)
	}
}

func TestSafeContextLimit(t *testing.T) {
	assert.Equal(t, anthropicSafeLimit, SafeContextLimit("claude-sonnet-4-20250514"))
	assert.Equal(t, openaiSafeLimit, SafeContextLimit("gpt-4o"))
	assert.Equal(t, geminiSafeLimit, SafeContextLimit("gemini-2.0-flash"))
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 2, EstimateTokens("abc"))
	// Hebrew runs multiple bytes per rune; the estimate is byte-based on
	// purpose, leaning conservative.
	assert.Greater(t, EstimateTokens("שלום עולם"), 3)
}

func TestStripJSONFences(t *testing.T) {
	plain := `{"send": true}`
	assert.Equal(t, plain, StripJSONFences(plain))

	fenced := "```json\n{\"send\": true}\n```"
	assert.Equal(t, plain, StripJSONFences(fenced))

	bareFence := "```\n{\"send\": true}\n```"
	assert.Equal(t, plain, StripJSONFences(bareFence))

	prose := "בטח, הנה ההחלטה: {\"send\": true} מקווה שעזרתי"
	assert.Equal(t, plain, StripJSONFences(prose))

	arr := "results: [1, 2, 3] done"
	assert.Equal(t, "[1, 2, 3]", StripJSONFences(arr))

	noJSON := "no structured output here"
	assert.Equal(t, noJSON, StripJSONFences(noJSON))
}
