package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/genai"
)

const (
	geminiProviderName = "gemini"
	geminiSimpleModel  = "gemini-2.0-flash"
)

// geminiToolSuffix is appended to the system instruction whenever tools are
// declared. Gemini needs more explicit nudging than the other backends to
// finish its turn after a function round.
const geminiToolSuffix = `

הנחיות ספציפיות לשימוש בכלים:
- חובה לקרוא לכלי בפורמט הנכון עם כל הפרמטרים הנדרשים
- אל תמציא פרמטרים שלא קיימים
- אם כלי נכשל, נסה שוב או דווח למשתמש על הבעיה
- בסיום שימוש בכלי - חובה להמשיך ולענות למשתמש!
`

// GeminiProvider speaks the Google Gemini API. Vision requests are routed
// away from it by the factory. Instances are shared across goroutines, so the
// active key is guarded.
type GeminiProvider struct {
	pool  *KeyPool
	agent KeyOverrider

	mu     sync.Mutex
	apiKey string
}

func NewGeminiProvider(pool *KeyPool, agent KeyOverrider) (*GeminiProvider, error) {
	key, err := pool.GetKey(geminiProviderName, agent)
	if err != nil {
		return nil, err
	}
	return &GeminiProvider{pool: pool, agent: agent, apiKey: key}, nil
}

// currentKey returns the active key for one attempt.
func (p *GeminiProvider) currentKey() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.apiKey
}

// rotateKey swaps in toKey unless a concurrent caller already rotated away
// from the key this attempt was using.
func (p *GeminiProvider) rotateKey(fromKey, toKey string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.apiKey == fromKey {
		p.apiKey = toKey
	}
}

func (p *GeminiProvider) newClient(ctx context.Context, key string) (*genai.Client, error) {
	return genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  key,
		Backend: genai.BackendGeminiAPI,
	})
}

func (p *GeminiProvider) generateWithRetry(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	var lastErr error

	for attempt := 0; attempt < maxRetries; attempt++ {
		key := p.currentKey()
		client, err := p.newClient(ctx, key)
		if err != nil {
			return nil, err
		}
		result, err := client.Models.GenerateContent(ctx, model, contents, cfg)
		if err == nil {
			return result, nil
		}
		lastErr = err
		errStr := err.Error()

		switch {
		case strings.Contains(errStr, "429"), strings.Contains(errStr, "RESOURCE_EXHAUSTED"):
			if p.pool.IsOverrideKey(geminiProviderName, key, p.agent) {
				if err := sleepCtx(ctx, backoffDelay(attempt)); err != nil {
					return nil, err
				}
				continue
			}
			p.pool.MarkRateLimited(geminiProviderName, key, 0)
			if next, keyErr := p.pool.GetKey(geminiProviderName, nil); keyErr == nil {
				p.rotateKey(key, next)
			}
			continue
		case strings.Contains(errStr, "401"), strings.Contains(errStr, "403"),
			strings.Contains(errStr, "API_KEY_INVALID"), strings.Contains(errStr, "PERMISSION_DENIED"):
			if p.pool.IsOverrideKey(geminiProviderName, key, p.agent) {
				logrus.Error("[GEMINI] Agent override key failed auth, falling back to pool")
				next, keyErr := p.pool.GetKey(geminiProviderName, nil)
				if keyErr != nil {
					return nil, keyErr
				}
				p.rotateKey(key, next)
				continue
			}
			p.pool.MarkDead(geminiProviderName, key)
			next, keyErr := p.pool.GetKey(geminiProviderName, p.agent)
			if keyErr != nil {
				return nil, keyErr
			}
			p.rotateKey(key, next)
			continue
		}

		if attempt < maxRetries-1 {
			logrus.WithError(err).Warnf("[GEMINI] Attempt %d failed, retrying", attempt+1)
			if err := sleepCtx(ctx, time.Duration(1<<uint(attempt))*time.Second); err != nil {
				return nil, err
			}
		}
	}
	return nil, fmt.Errorf("gemini: all %d attempts failed: %w", maxRetries, lastErr)
}

func (p *GeminiProvider) GetResponse(ctx context.Context, req Request, handler ToolHandler) (*Response, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	systemText := strings.Join(req.SystemBlocks, "\n\n")
	if len(req.Tools) > 0 {
		systemText += geminiToolSuffix
	}

	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemText, ""),
		Tools:             toolsToGenai(req.Tools),
		MaxOutputTokens:   int32(maxTokens),
	}

	var contents []*genai.Content
	for _, turn := range req.History {
		if turn.Content == "" {
			continue
		}
		role := genai.RoleUser
		if turn.Role == "assistant" {
			role = genai.RoleModel
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: turn.Content}},
		})
	}
	if text := flattenText(req.UserContent); text != "" {
		contents = append(contents, &genai.Content{
			Role:  genai.RoleUser,
			Parts: []*genai.Part{{Text: text}},
		})
	}

	resp := &Response{}

	result, err := p.generateWithRetry(ctx, req.Model, contents, cfg)
	if err != nil {
		return nil, err
	}
	accumulateGeminiUsage(&resp.Usage, result)

	for round := 0; round < maxToolRounds; round++ {
		if len(result.Candidates) == 0 || result.Candidates[0].Content == nil {
			break
		}
		content := result.Candidates[0].Content

		var calls []ToolCall
		for _, part := range content.Parts {
			if part.Text != "" {
				resp.Text = part.Text
			}
			if part.FunctionCall != nil {
				calls = append(calls, ToolCall{
					ID:    part.FunctionCall.ID,
					Name:  part.FunctionCall.Name,
					Input: part.FunctionCall.Args,
				})
			}
		}
		if len(calls) == 0 || handler == nil {
			break
		}

		contents = append(contents, content)

		results := handler(ctx, calls)
		parts := make([]*genai.Part, 0, len(calls))
		for _, call := range calls {
			text := resultForCall(call, results, &resp.MediaActions)
			parts = append(parts, &genai.Part{
				FunctionResponse: &genai.FunctionResponse{
					ID:       call.ID,
					Name:     call.Name,
					Response: map[string]any{"result": text},
				},
			})
		}
		contents = append(contents, &genai.Content{Role: genai.RoleUser, Parts: parts})

		result, err = p.generateWithRetry(ctx, req.Model, contents, cfg)
		if err != nil {
			return nil, err
		}
		accumulateGeminiUsage(&resp.Usage, result)
	}

	return resp, nil
}

func (p *GeminiProvider) GenerateSimpleResponse(ctx context.Context, model, prompt string, maxTokens int) (string, error) {
	if model == "" {
		model = geminiSimpleModel
	}
	if maxTokens <= 0 {
		maxTokens = 300
	}
	contents := []*genai.Content{{
		Role:  genai.RoleUser,
		Parts: []*genai.Part{{Text: prompt}},
	}}
	result, err := p.generateWithRetry(ctx, model, contents, &genai.GenerateContentConfig{
		MaxOutputTokens: int32(maxTokens),
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(result.Text()), nil
}

func (p *GeminiProvider) DescribeImage(ctx context.Context, imageBase64, mediaType string) (string, error) {
	return "", ErrVisionUnsupported
}

func (p *GeminiProvider) AnalyzeImage(ctx context.Context, imageBase64, mediaType string) (MediaAnalysis, error) {
	return MediaAnalysis{}, ErrVisionUnsupported
}

func (p *GeminiProvider) AnalyzeDocument(ctx context.Context, textContent string) (MediaAnalysis, error) {
	prompt := fmt.Sprintf(analyzeDocumentPrompt, textContent)
	raw, err := p.GenerateSimpleResponse(ctx, geminiSimpleModel, prompt, 500)
	if err != nil {
		return MediaAnalysis{Name: "קובץ"}, err
	}
	var analysis MediaAnalysis
	if err := json.Unmarshal([]byte(StripJSONFences(raw)), &analysis); err != nil {
		return MediaAnalysis{Name: "קובץ"}, err
	}
	return analysis, nil
}

func accumulateGeminiUsage(u *Usage, result *genai.GenerateContentResponse) {
	if result == nil || result.UsageMetadata == nil {
		return
	}
	u.add(Usage{
		InputTokens:  int64(result.UsageMetadata.PromptTokenCount),
		OutputTokens: int64(result.UsageMetadata.CandidatesTokenCount),
	})
}
