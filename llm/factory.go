package llm

import (
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// Safe context limits per backend, at 90% of the advertised window so the
// context summarizer fires before requests start failing.
const (
	anthropicSafeLimit = 180_000
	openaiSafeLimit    = 115_200
	geminiSafeLimit    = 943_718

	// CharsPerToken is a conservative estimate for mixed Hebrew and English.
	CharsPerToken = 3
)

// ResolveProviderName maps a model name to its backend.
func ResolveProviderName(model string) string {
	switch {
	case strings.HasPrefix(model, "gemini"):
		return geminiProviderName
	case strings.HasPrefix(model, "gpt"), strings.HasPrefix(model, "o1"),
		strings.HasPrefix(model, "o3"), strings.HasPrefix(model, "o4"):
		return openaiProviderName
	default:
		return anthropicProviderName
	}
}

// SafeContextLimit returns the token budget before summarization must kick in
// for the given model.
func SafeContextLimit(model string) int {
	switch ResolveProviderName(model) {
	case geminiProviderName:
		return geminiSafeLimit
	case openaiProviderName:
		return openaiSafeLimit
	default:
		return anthropicSafeLimit
	}
}

// EstimateTokens approximates the token count of text.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return len(text)/CharsPerToken + 1
}

// Factory hands out provider instances keyed by backend and agent override,
// reusing them across requests so key rotation state survives.
type Factory struct {
	pool *KeyPool

	mu    sync.Mutex
	cache map[string]Provider
}

func NewFactory(pool *KeyPool) *Factory {
	return &Factory{pool: pool, cache: make(map[string]Provider)}
}

// ForRequest picks a provider for req. Image-bearing requests always go to
// Anthropic, which is the only backend with vision wired up.
func (f *Factory) ForRequest(req Request, agent KeyOverrider) (Provider, error) {
	name := ResolveProviderName(req.Model)
	if req.HasImages() && name != anthropicProviderName {
		logrus.Debugf("[LLM] Routing image request away from %s", name)
		name = anthropicProviderName
	}
	return f.Get(name, agent)
}

// Get returns the cached provider for name, building it on first use.
func (f *Factory) Get(name string, agent KeyOverrider) (Provider, error) {
	cacheKey := name
	if agent != nil {
		if override := agent.OverrideKey(name); override != "" {
			cacheKey = name + ":" + tail(override)
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.cache[cacheKey]; ok {
		return p, nil
	}

	var (
		p   Provider
		err error
	)
	switch name {
	case geminiProviderName:
		p, err = NewGeminiProvider(f.pool, agent)
	case openaiProviderName:
		p, err = NewOpenAIProvider(f.pool, agent)
	default:
		p, err = NewAnthropicProvider(f.pool, agent)
	}
	if err != nil {
		return nil, err
	}
	logrus.Infof("[LLM] Initialized %s provider", name)
	f.cache[cacheKey] = p
	return p, nil
}

// Vision returns the provider used for image description and analysis.
func (f *Factory) Vision(agent KeyOverrider) (Provider, error) {
	return f.Get(anthropicProviderName, agent)
}
