package agent

import "time"

// Provider identifies the WhatsApp transport an agent is wired to.
type Provider string

const (
	ProviderMeta     Provider = "meta"
	ProviderWaSender Provider = "wasender"
)

// Agent is a single WhatsApp business identity: its own number, credentials,
// LLM model and configuration blobs.
type Agent struct {
	ID            uint
	Name          string
	PhoneNumberID string
	AccessToken   string
	VerifyToken   string
	WabaID        string
	SystemPrompt  string
	Model         string
	IsActive      bool
	Provider      Provider

	ProviderConfig    ProviderConfig
	Batching          *BatchingConfig
	Calendar          *CalendarConfig
	AppointmentPrompt string
	Summary           *SummaryConfig
	Followup          *FollowupConfig
	Media             *MediaConfig
	ContextSummary    *ContextSummaryConfig

	// CustomAPIKeys maps an LLM provider name to an agent-level key override.
	CustomAPIKeys map[string]string

	// UsageStats maps model name to cumulative token usage.
	UsageStats map[string]ModelUsage

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ModelUsage is the cumulative token counter per model.
type ModelUsage struct {
	Input       int64 `json:"input"`
	Output      int64 `json:"output"`
	CacheRead   int64 `json:"cache_read"`
	CacheCreate int64 `json:"cache_create"`
}

// ProviderConfig carries provider-specific credentials beyond the Meta
// columns. Only WaSender uses it today.
type ProviderConfig struct {
	APIKey        string `json:"api_key,omitempty"`
	WebhookSecret string `json:"webhook_secret,omitempty"`
	Session       string `json:"session,omitempty"`
}

// OverrideKey returns the agent-level API key override for an LLM provider
// name, or "" when the agent rides the shared pool.
func (a *Agent) OverrideKey(provider string) string {
	if a == nil || a.CustomAPIKeys == nil {
		return ""
	}
	return a.CustomAPIKeys[provider]
}
