package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/sirupsen/logrus"
)

const (
	openaiProviderName = "openai"
	openaiSimpleModel  = "gpt-4o-mini"
)

// OpenAIProvider adapts the canonical tool loop to OpenAI function calling.
// System blocks collapse into a single system message; image input is not
// supported (the factory routes image requests elsewhere). Instances are
// shared across goroutines, so the key/client pair is guarded.
type OpenAIProvider struct {
	pool  *KeyPool
	agent KeyOverrider

	mu     sync.Mutex
	apiKey string
	client openai.Client
}

func NewOpenAIProvider(pool *KeyPool, agent KeyOverrider) (*OpenAIProvider, error) {
	key, err := pool.GetKey(openaiProviderName, agent)
	if err != nil {
		return nil, err
	}
	return &OpenAIProvider{
		pool:   pool,
		agent:  agent,
		apiKey: key,
		client: openai.NewClient(option.WithAPIKey(key)),
	}, nil
}

// snapshot returns the client/key pair for one attempt.
func (p *OpenAIProvider) snapshot() (openai.Client, string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.client, p.apiKey
}

// rotateClient swaps in toKey unless a concurrent caller already rotated away
// from the key this attempt was using.
func (p *OpenAIProvider) rotateClient(fromKey, toKey string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.apiKey != fromKey {
		return
	}
	p.apiKey = toKey
	p.client = openai.NewClient(option.WithAPIKey(toKey))
}

func (p *OpenAIProvider) callWithRetry(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error) {
	var lastErr error

	for attempt := 0; attempt < maxRetries; attempt++ {
		client, key := p.snapshot()
		completion, err := client.Chat.Completions.New(ctx, params)
		if err == nil {
			return completion, nil
		}
		lastErr = err

		var apierr *openai.Error
		if errors.As(err, &apierr) {
			switch apierr.StatusCode {
			case 429:
				if p.pool.IsOverrideKey(openaiProviderName, key, p.agent) {
					if err := sleepCtx(ctx, backoffDelay(attempt)); err != nil {
						return nil, err
					}
					continue
				}
				p.pool.MarkRateLimited(openaiProviderName, key, openaiRetryAfter(apierr))
				if next, keyErr := p.pool.GetKey(openaiProviderName, nil); keyErr == nil && next != key {
					p.rotateClient(key, next)
					continue
				}
				if err := sleepCtx(ctx, backoffDelay(attempt)); err != nil {
					return nil, err
				}
				continue
			case 401, 403:
				if p.pool.IsOverrideKey(openaiProviderName, key, p.agent) {
					logrus.Error("[OPENAI] Agent override key failed auth, falling back to pool")
					next, keyErr := p.pool.GetKey(openaiProviderName, nil)
					if keyErr != nil {
						return nil, keyErr
					}
					p.rotateClient(key, next)
					continue
				}
				p.pool.MarkDead(openaiProviderName, key)
				next, keyErr := p.pool.GetKey(openaiProviderName, p.agent)
				if keyErr != nil {
					return nil, keyErr
				}
				p.rotateClient(key, next)
				continue
			}
		}

		if attempt < maxRetries-1 {
			logrus.WithError(err).Warnf("[OPENAI] Attempt %d failed, retrying", attempt+1)
			if err := sleepCtx(ctx, backoffDelay(attempt)); err != nil {
				return nil, err
			}
		}
	}
	return nil, fmt.Errorf("openai: all %d attempts failed: %w", maxRetries, lastErr)
}

func (p *OpenAIProvider) GetResponse(ctx context.Context, req Request, handler ToolHandler) (*Response, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(strings.Join(req.SystemBlocks, "\n\n")),
	}
	for _, turn := range req.History {
		if turn.Content == "" {
			continue
		}
		if turn.Role == "assistant" {
			messages = append(messages, openai.AssistantMessage(turn.Content))
		} else {
			messages = append(messages, openai.UserMessage(turn.Content))
		}
	}
	messages = append(messages, openai.UserMessage(flattenText(req.UserContent)))

	params := openai.ChatCompletionNewParams{
		Model:               openai.ChatModel(req.Model),
		Messages:            messages,
		Tools:               toolsToOpenAI(req.Tools),
		MaxCompletionTokens: openai.Int(int64(maxTokens)),
	}

	resp := &Response{}

	completion, err := p.callWithRetry(ctx, params)
	if err != nil {
		return nil, err
	}
	accumulateOpenAIUsage(&resp.Usage, completion)

	for round := 0; round < maxToolRounds; round++ {
		if len(completion.Choices) == 0 {
			break
		}
		message := completion.Choices[0].Message
		resp.Text = message.Content

		calls := extractOpenAIToolCalls(message)
		if len(calls) == 0 || handler == nil {
			break
		}

		params.Messages = append(params.Messages, message.ToParam())

		results := handler(ctx, calls)
		for _, call := range calls {
			text := resultForCall(call, results, &resp.MediaActions)
			params.Messages = append(params.Messages, openai.ToolMessage(text, call.ID))
		}

		completion, err = p.callWithRetry(ctx, params)
		if err != nil {
			return nil, err
		}
		accumulateOpenAIUsage(&resp.Usage, completion)
		if len(completion.Choices) > 0 {
			resp.Text = completion.Choices[0].Message.Content
		}
	}

	return resp, nil
}

func (p *OpenAIProvider) GenerateSimpleResponse(ctx context.Context, model, prompt string, maxTokens int) (string, error) {
	if model == "" {
		model = openaiSimpleModel
	}
	if maxTokens <= 0 {
		maxTokens = 300
	}
	completion, err := p.callWithRetry(ctx, openai.ChatCompletionNewParams{
		Model:               openai.ChatModel(model),
		Messages:            []openai.ChatCompletionMessageParamUnion{openai.UserMessage(prompt)},
		MaxCompletionTokens: openai.Int(int64(maxTokens)),
	})
	if err != nil {
		return "", err
	}
	if len(completion.Choices) == 0 {
		return "", nil
	}
	return strings.TrimSpace(completion.Choices[0].Message.Content), nil
}

func (p *OpenAIProvider) DescribeImage(ctx context.Context, imageBase64, mediaType string) (string, error) {
	return "", ErrVisionUnsupported
}

func (p *OpenAIProvider) AnalyzeImage(ctx context.Context, imageBase64, mediaType string) (MediaAnalysis, error) {
	return MediaAnalysis{}, ErrVisionUnsupported
}

func (p *OpenAIProvider) AnalyzeDocument(ctx context.Context, textContent string) (MediaAnalysis, error) {
	prompt := fmt.Sprintf(analyzeDocumentPrompt, textContent)
	raw, err := p.GenerateSimpleResponse(ctx, openaiSimpleModel, prompt, 500)
	if err != nil {
		return MediaAnalysis{Name: "קובץ"}, err
	}
	var analysis MediaAnalysis
	if err := json.Unmarshal([]byte(StripJSONFences(raw)), &analysis); err != nil {
		return MediaAnalysis{Name: "קובץ"}, err
	}
	return analysis, nil
}

func toolsToOpenAI(defs []ToolDef) []openai.ChatCompletionToolUnionParam {
	if len(defs) == 0 {
		return nil
	}
	out := make([]openai.ChatCompletionToolUnionParam, 0, len(defs))
	for _, def := range defs {
		out = append(out, openai.ChatCompletionToolUnionParam{
			OfFunction: &openai.ChatCompletionFunctionToolParam{
				Function: openai.FunctionDefinitionParam{
					Name:        def.Name,
					Description: openai.String(def.Description),
					Parameters:  openai.FunctionParameters(def.InputSchema),
				},
			},
		})
	}
	return out
}

func extractOpenAIToolCalls(message openai.ChatCompletionMessage) []ToolCall {
	var calls []ToolCall
	for _, tc := range message.ToolCalls {
		var args map[string]any
		if tc.Function.Arguments != "" {
			_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
		}
		calls = append(calls, ToolCall{ID: tc.ID, Name: tc.Function.Name, Input: args})
	}
	return calls
}

func accumulateOpenAIUsage(u *Usage, completion *openai.ChatCompletion) {
	u.add(Usage{
		InputTokens:     completion.Usage.PromptTokens,
		OutputTokens:    completion.Usage.CompletionTokens,
		CacheReadTokens: completion.Usage.PromptTokensDetails.CachedTokens,
	})
}

func openaiRetryAfter(apierr *openai.Error) time.Duration {
	if apierr == nil || apierr.Response == nil {
		return 0
	}
	raw := apierr.Response.Header.Get("retry-after")
	if raw == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(raw, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	return 0
}

func flattenText(blocks []ContentBlock) string {
	var parts []string
	for _, block := range blocks {
		if block.Type == "text" && block.Text != "" {
			parts = append(parts, block.Text)
		}
	}
	return strings.Join(parts, " ")
}
