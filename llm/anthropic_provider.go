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

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/sirupsen/logrus"
)

const (
	anthropicProviderName = "anthropic"
	haikuModel            = "claude-3-5-haiku-20241022"
)

// AnthropicProvider talks to the Claude Messages API with native tool use and
// ephemeral prompt caching on the first system block. Instances are cached by
// the factory and shared across goroutines; the key/client pair is guarded so
// rotation on one conversation never tears a request on another.
type AnthropicProvider struct {
	pool  *KeyPool
	agent KeyOverrider

	mu     sync.Mutex
	apiKey string
	client sdk.Client
}

func NewAnthropicProvider(pool *KeyPool, agent KeyOverrider) (*AnthropicProvider, error) {
	key, err := pool.GetKey(anthropicProviderName, agent)
	if err != nil {
		return nil, err
	}
	return &AnthropicProvider{
		pool:   pool,
		agent:  agent,
		apiKey: key,
		client: sdk.NewClient(option.WithAPIKey(key)),
	}, nil
}

// snapshot returns the client/key pair for one attempt. Both move together
// under the lock, so a concurrent rotation never yields a mixed pair.
func (p *AnthropicProvider) snapshot() (sdk.Client, string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.client, p.apiKey
}

// rotateClient swaps in toKey unless a concurrent caller already rotated away
// from the key this attempt was using.
func (p *AnthropicProvider) rotateClient(fromKey, toKey string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.apiKey != fromKey {
		return
	}
	p.apiKey = toKey
	p.client = sdk.NewClient(option.WithAPIKey(toKey))
}

// callWithRetry issues a Messages.New call with key rotation on 429, dead
// marking on auth failure and exponential backoff for transient errors.
func (p *AnthropicProvider) callWithRetry(ctx context.Context, params sdk.MessageNewParams) (*sdk.Message, error) {
	var lastErr error

	for attempt := 0; attempt < maxRetries; attempt++ {
		client, key := p.snapshot()
		msg, err := client.Messages.New(ctx, params)
		if err == nil {
			return msg, nil
		}
		lastErr = err

		var apierr *sdk.Error
		if errors.As(err, &apierr) {
			switch apierr.StatusCode {
			case 429:
				if p.pool.IsOverrideKey(anthropicProviderName, key, p.agent) {
					// Overrides are never marked; back off and retry the same key.
					if err := sleepCtx(ctx, backoffDelay(attempt)); err != nil {
						return nil, err
					}
					continue
				}
				p.pool.MarkRateLimited(anthropicProviderName, key, retryAfterHeader(apierr))
				if next, keyErr := p.pool.GetKey(anthropicProviderName, nil); keyErr == nil && next != key {
					p.rotateClient(key, next)
					continue
				}
				if err := sleepCtx(ctx, backoffDelay(attempt)); err != nil {
					return nil, err
				}
				continue
			case 401, 403:
				if p.pool.IsOverrideKey(anthropicProviderName, key, p.agent) {
					logrus.Error("[ANTHROPIC] Agent override key failed auth, falling back to pool")
					next, keyErr := p.pool.GetKey(anthropicProviderName, nil)
					if keyErr != nil {
						return nil, keyErr
					}
					p.rotateClient(key, next)
					continue
				}
				p.pool.MarkDead(anthropicProviderName, key)
				next, keyErr := p.pool.GetKey(anthropicProviderName, p.agent)
				if keyErr != nil {
					return nil, keyErr
				}
				p.rotateClient(key, next)
				continue
			}
		}

		if attempt < maxRetries-1 {
			logrus.WithError(err).Warnf("[ANTHROPIC] Attempt %d failed, retrying", attempt+1)
			if err := sleepCtx(ctx, backoffDelay(attempt)); err != nil {
				return nil, err
			}
		}
	}
	return nil, fmt.Errorf("anthropic: all %d attempts failed: %w", maxRetries, lastErr)
}

func (p *AnthropicProvider) GetResponse(ctx context.Context, req Request, handler ToolHandler) (*Response, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	system := make([]sdk.TextBlockParam, 0, len(req.SystemBlocks))
	for i, block := range req.SystemBlocks {
		param := sdk.TextBlockParam{Text: block}
		if i == 0 {
			param.CacheControl = sdk.NewCacheControlEphemeralParam()
		}
		system = append(system, param)
	}

	messages := make([]sdk.MessageParam, 0, len(req.History)+1)
	for _, turn := range req.History {
		if turn.Content == "" {
			continue
		}
		if turn.Role == "assistant" {
			messages = append(messages, sdk.NewAssistantMessage(sdk.NewTextBlock(turn.Content)))
		} else {
			messages = append(messages, sdk.NewUserMessage(sdk.NewTextBlock(turn.Content)))
		}
	}
	messages = append(messages, sdk.NewUserMessage(userBlocksToAnthropic(req.UserContent)...))

	params := sdk.MessageNewParams{
		Model:     sdk.Model(req.Model),
		MaxTokens: int64(maxTokens),
		Messages:  messages,
		System:    system,
		Tools:     toolsToAnthropic(req.Tools),
	}

	resp := &Response{}

	msg, err := p.callWithRetry(ctx, params)
	if err != nil {
		return nil, err
	}
	accumulateAnthropicUsage(&resp.Usage, msg)

	for round := 0; round < maxToolRounds && msg.StopReason == "tool_use"; round++ {
		calls := extractAnthropicToolCalls(msg)
		if len(calls) == 0 || handler == nil {
			break
		}

		// Replay the assistant turn verbatim, then answer every call in one
		// user turn.
		params.Messages = append(params.Messages, msg.ToParam())

		results := handler(ctx, calls)
		resultBlocks := make([]sdk.ContentBlockParamUnion, 0, len(calls))
		for _, call := range calls {
			text := resultForCall(call, results, &resp.MediaActions)
			resultBlocks = append(resultBlocks, sdk.NewToolResultBlock(call.ID, text, false))
		}
		params.Messages = append(params.Messages, sdk.NewUserMessage(resultBlocks...))

		msg, err = p.callWithRetry(ctx, params)
		if err != nil {
			return nil, err
		}
		accumulateAnthropicUsage(&resp.Usage, msg)
	}

	for _, block := range msg.Content {
		if block.Type == "text" && block.Text != "" {
			resp.Text = block.Text
			break
		}
	}
	return resp, nil
}

func (p *AnthropicProvider) GenerateSimpleResponse(ctx context.Context, model, prompt string, maxTokens int) (string, error) {
	if model == "" {
		model = haikuModel
	}
	if maxTokens <= 0 {
		maxTokens = 300
	}
	msg, err := p.callWithRetry(ctx, sdk.MessageNewParams{
		Model:     sdk.Model(model),
		MaxTokens: int64(maxTokens),
		Messages:  []sdk.MessageParam{sdk.NewUserMessage(sdk.NewTextBlock(prompt))},
	})
	if err != nil {
		return "", err
	}
	for _, block := range msg.Content {
		if block.Type == "text" {
			return strings.TrimSpace(block.Text), nil
		}
	}
	return "", nil
}

func (p *AnthropicProvider) DescribeImage(ctx context.Context, imageBase64, mediaType string) (string, error) {
	if mediaType == "" {
		mediaType = "image/jpeg"
	}
	msg, err := p.callWithRetry(ctx, sdk.MessageNewParams{
		Model:     sdk.Model(haikuModel),
		MaxTokens: 150,
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(
				sdk.NewImageBlockBase64(mediaType, imageBase64),
				sdk.NewTextBlock("תאר את התמונה הזו בקצרה במשפט אחד בעברית."),
			),
		},
	})
	if err != nil {
		return "תמונה", err
	}
	for _, block := range msg.Content {
		if block.Type == "text" && block.Text != "" {
			return strings.TrimSpace(block.Text), nil
		}
	}
	return "תמונה", nil
}

const analyzeImagePrompt = `אתה מנתח תמונות עבור ספריית מדיה של עסק.
נתח את התמונה וצור:

1. **name** - שם קצר וממוקד (2-4 מילים בעברית)
2. **description** - תיאור מפורט לחיפוש (30-60 מילים בעברית)
3. **caption** - כיתוב קצר וטבעי לשליחה בWhatsApp (עד 15 מילים)

החזר תשובה בפורמט JSON בלבד:
{"name": "...", "description": "...", "caption": "..."}`

func (p *AnthropicProvider) AnalyzeImage(ctx context.Context, imageBase64, mediaType string) (MediaAnalysis, error) {
	if mediaType == "" {
		mediaType = "image/jpeg"
	}
	fallback := MediaAnalysis{Name: "תמונה"}
	msg, err := p.callWithRetry(ctx, sdk.MessageNewParams{
		Model:     sdk.Model(haikuModel),
		MaxTokens: 500,
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(
				sdk.NewImageBlockBase64(mediaType, imageBase64),
				sdk.NewTextBlock(analyzeImagePrompt),
			),
		},
	})
	if err != nil {
		return fallback, err
	}
	return parseAnalysis(msg, fallback)
}

const analyzeDocumentPrompt = `אתה מנתח מסמכים עבור ספריית קבצים של עסק.
נתח את תוכן המסמך וצור:

1. **name** - שם קצר וממוקד (2-4 מילים בעברית)
2. **description** - תיאור מפורט לחיפוש (30-60 מילים בעברית)
3. **caption** - כיתוב קצר וטבעי לשליחה בWhatsApp (עד 15 מילים)

החזר תשובה בפורמט JSON בלבד:
{"name": "...", "description": "...", "caption": "..."}

תוכן המסמך:
%s`

func (p *AnthropicProvider) AnalyzeDocument(ctx context.Context, textContent string) (MediaAnalysis, error) {
	fallback := MediaAnalysis{Name: "קובץ"}
	msg, err := p.callWithRetry(ctx, sdk.MessageNewParams{
		Model:     sdk.Model(haikuModel),
		MaxTokens: 500,
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(fmt.Sprintf(analyzeDocumentPrompt, textContent))),
		},
	})
	if err != nil {
		return fallback, err
	}
	return parseAnalysis(msg, fallback)
}

func parseAnalysis(msg *sdk.Message, fallback MediaAnalysis) (MediaAnalysis, error) {
	for _, block := range msg.Content {
		if block.Type != "text" {
			continue
		}
		var analysis MediaAnalysis
		if err := json.Unmarshal([]byte(StripJSONFences(block.Text)), &analysis); err != nil {
			return fallback, err
		}
		return analysis, nil
	}
	return fallback, nil
}

func userBlocksToAnthropic(blocks []ContentBlock) []sdk.ContentBlockParamUnion {
	out := make([]sdk.ContentBlockParamUnion, 0, len(blocks))
	for _, block := range blocks {
		switch block.Type {
		case "image":
			out = append(out, sdk.NewImageBlockBase64(block.MediaType, block.ImageBase64))
			if block.Text != "" {
				out = append(out, sdk.NewTextBlock(block.Text))
			}
		default:
			if block.Text != "" {
				out = append(out, sdk.NewTextBlock(block.Text))
			}
		}
	}
	if len(out) == 0 {
		out = append(out, sdk.NewTextBlock(""))
	}
	return out
}

func toolsToAnthropic(defs []ToolDef) []sdk.ToolUnionParam {
	if len(defs) == 0 {
		return nil
	}
	out := make([]sdk.ToolUnionParam, 0, len(defs))
	for _, def := range defs {
		u := sdk.ToolUnionParamOfTool(sdk.ToolInputSchemaParam{ExtraFields: def.InputSchema}, def.Name)
		if u.OfTool != nil && def.Description != "" {
			u.OfTool.Description = sdk.String(def.Description)
		}
		out = append(out, u)
	}
	return out
}

func extractAnthropicToolCalls(msg *sdk.Message) []ToolCall {
	var calls []ToolCall
	for _, block := range msg.Content {
		if block.Type != "tool_use" {
			continue
		}
		var input map[string]any
		_ = json.Unmarshal(block.Input, &input)
		calls = append(calls, ToolCall{ID: block.ID, Name: block.Name, Input: input})
	}
	return calls
}

func accumulateAnthropicUsage(u *Usage, msg *sdk.Message) {
	u.add(Usage{
		InputTokens:         msg.Usage.InputTokens,
		OutputTokens:        msg.Usage.OutputTokens,
		CacheReadTokens:     msg.Usage.CacheReadInputTokens,
		CacheCreationTokens: msg.Usage.CacheCreationInputTokens,
	})
}

func retryAfterHeader(apierr *sdk.Error) time.Duration {
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

func backoffDelay(attempt int) time.Duration {
	return time.Second * (1 << attempt)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
