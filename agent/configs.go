package agent

// Configuration blobs stored as JSON columns. Each blob is an immutable value
// record: read it whole, replace it whole. Accessors return a copy merged
// over the defaults so callers never see zero-valued settings.

type BatchingConfig struct {
	DebounceSeconds    int `json:"debounce_seconds"`
	MaxBatchMessages   int `json:"max_batch_messages"`
	MaxHistoryMessages int `json:"max_history_messages"`
}

var defaultBatching = BatchingConfig{
	DebounceSeconds:    3,
	MaxBatchMessages:   10,
	MaxHistoryMessages: 20,
}

// BatchingOrDefault returns the batching settings with defaults applied.
func (a *Agent) BatchingOrDefault() BatchingConfig {
	cfg := defaultBatching
	if a.Batching == nil {
		return cfg
	}
	if a.Batching.DebounceSeconds >= 0 {
		cfg.DebounceSeconds = a.Batching.DebounceSeconds
	}
	if a.Batching.MaxBatchMessages > 0 {
		cfg.MaxBatchMessages = a.Batching.MaxBatchMessages
	}
	if a.Batching.MaxHistoryMessages > 0 {
		cfg.MaxHistoryMessages = a.Batching.MaxHistoryMessages
	}
	return cfg
}

type WorkingHours struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type CalendarConfig struct {
	GoogleTokens     *GoogleTokens           `json:"google_tokens,omitempty"`
	GoogleCalendarID string                  `json:"google_calendar_id,omitempty"`
	WorkingHours     map[string]WorkingHours `json:"working_hours,omitempty"` // weekday "0".."6", Sunday first
	DefaultDuration  int                     `json:"default_duration,omitempty"`
	BufferMinutes    int                     `json:"buffer_minutes,omitempty"`
	DaysAhead        int                     `json:"days_ahead,omitempty"`
	Timezone         string                  `json:"timezone,omitempty"`
	WebhookURL       string                  `json:"webhook_url,omitempty"`
	Reminders        []ReminderRule          `json:"reminders,omitempty"`
}

// defaultWorkingHours covers Sunday through Thursday; absent weekdays are
// closed.
var defaultWorkingHours = map[string]WorkingHours{
	"0": {Start: "09:00", End: "17:00"},
	"1": {Start: "09:00", End: "17:00"},
	"2": {Start: "09:00", End: "17:00"},
	"3": {Start: "09:00", End: "17:00"},
	"4": {Start: "09:00", End: "17:00"},
}

func (a *Agent) CalendarOrDefault() CalendarConfig {
	cfg := CalendarConfig{
		GoogleCalendarID: "primary",
		WorkingHours:     defaultWorkingHours,
		DefaultDuration:  30,
		BufferMinutes:    10,
		DaysAhead:        14,
		Timezone:         "Asia/Jerusalem",
	}
	if a.Calendar == nil {
		return cfg
	}
	cfg.GoogleTokens = a.Calendar.GoogleTokens
	cfg.WebhookURL = a.Calendar.WebhookURL
	cfg.Reminders = a.Calendar.Reminders
	if a.Calendar.GoogleCalendarID != "" {
		cfg.GoogleCalendarID = a.Calendar.GoogleCalendarID
	}
	if len(a.Calendar.WorkingHours) > 0 {
		cfg.WorkingHours = a.Calendar.WorkingHours
	}
	if a.Calendar.DefaultDuration > 0 {
		cfg.DefaultDuration = a.Calendar.DefaultDuration
	}
	if a.Calendar.BufferMinutes > 0 {
		cfg.BufferMinutes = a.Calendar.BufferMinutes
	}
	if a.Calendar.DaysAhead > 0 {
		cfg.DaysAhead = a.Calendar.DaysAhead
	}
	if a.Calendar.Timezone != "" {
		cfg.Timezone = a.Calendar.Timezone
	}
	return cfg
}

type GoogleTokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    int64  `json:"expires_at"`
}

// ReminderRule materializes one ScheduledReminder per booking.
type ReminderRule struct {
	MinutesBefore int    `json:"minutes_before"`
	ContentType   string `json:"content_type"` // template | ai | meta_template
	Template      string `json:"template,omitempty"`
	AIPrompt      string `json:"ai_prompt,omitempty"`
	TemplateName  string `json:"template_name,omitempty"`
	Language      string `json:"language,omitempty"`
}

type SummaryConfig struct {
	Enabled           bool   `json:"enabled"`
	DelayMinutes      int    `json:"delay_minutes"`
	MinMessages       int    `json:"min_messages"`
	MaxMessages       int    `json:"max_messages"`
	WebhookURL        string `json:"webhook_url"`
	WebhookRetryCount int    `json:"webhook_retry_count"`
	WebhookRetryDelay int    `json:"webhook_retry_delay"` // seconds
	SummaryPrompt     string `json:"summary_prompt,omitempty"`
}

var defaultSummary = SummaryConfig{
	DelayMinutes:      30,
	MinMessages:       5,
	MaxMessages:       100,
	WebhookRetryCount: 3,
	WebhookRetryDelay: 60,
}

func (a *Agent) SummaryOrDefault() SummaryConfig {
	cfg := defaultSummary
	if a.Summary == nil {
		return cfg
	}
	cfg.Enabled = a.Summary.Enabled
	cfg.WebhookURL = a.Summary.WebhookURL
	cfg.SummaryPrompt = a.Summary.SummaryPrompt
	if a.Summary.DelayMinutes > 0 {
		cfg.DelayMinutes = a.Summary.DelayMinutes
	}
	if a.Summary.MinMessages > 0 {
		cfg.MinMessages = a.Summary.MinMessages
	}
	if a.Summary.MaxMessages > 0 {
		cfg.MaxMessages = a.Summary.MaxMessages
	}
	if a.Summary.WebhookRetryCount > 0 {
		cfg.WebhookRetryCount = a.Summary.WebhookRetryCount
	}
	if a.Summary.WebhookRetryDelay > 0 {
		cfg.WebhookRetryDelay = a.Summary.WebhookRetryDelay
	}
	return cfg
}

type ActiveHours struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type FollowupStep struct {
	DelayHours  float64 `json:"delay_hours"`
	Instruction string  `json:"instruction"`
}

type MetaTemplateRef struct {
	Name     string   `json:"name"`
	Language string   `json:"language"`
	Params   []string `json:"params"`
}

type FollowupConfig struct {
	Enabled       bool              `json:"enabled"`
	Model         string            `json:"model,omitempty"`
	MinMessages   int               `json:"min_messages"`
	ActiveHours   ActiveHours       `json:"active_hours"`
	Sequence      []FollowupStep    `json:"sequence"`
	MetaTemplates []MetaTemplateRef `json:"meta_templates,omitempty"`
}

var defaultFollowup = FollowupConfig{
	MinMessages: 5,
	ActiveHours: ActiveHours{Start: "09:00", End: "21:00"},
}

func (a *Agent) FollowupOrDefault() FollowupConfig {
	cfg := defaultFollowup
	if a.Followup == nil {
		return cfg
	}
	cfg.Enabled = a.Followup.Enabled
	cfg.Model = a.Followup.Model
	cfg.Sequence = a.Followup.Sequence
	cfg.MetaTemplates = a.Followup.MetaTemplates
	if a.Followup.MinMessages > 0 {
		cfg.MinMessages = a.Followup.MinMessages
	}
	if a.Followup.ActiveHours.Start != "" && a.Followup.ActiveHours.End != "" {
		cfg.ActiveHours = a.Followup.ActiveHours
	}
	return cfg
}

type MediaConfig struct {
	Enabled                       bool   `json:"enabled"`
	MaxPerMessage                 int    `json:"max_per_message"`
	AllowDuplicateInConversation  bool   `json:"allow_duplicate_in_conversation"`
	Instructions                  string `json:"instructions,omitempty"`
}

var defaultMedia = MediaConfig{MaxPerMessage: 3}

func (a *Agent) MediaOrDefault() MediaConfig {
	cfg := defaultMedia
	if a.Media == nil {
		return cfg
	}
	cfg.Enabled = a.Media.Enabled
	cfg.AllowDuplicateInConversation = a.Media.AllowDuplicateInConversation
	cfg.Instructions = a.Media.Instructions
	if a.Media.MaxPerMessage > 0 {
		cfg.MaxPerMessage = a.Media.MaxPerMessage
	}
	return cfg
}

type ContextSummaryConfig struct {
	Enabled              bool `json:"enabled"`
	MessageThreshold     int  `json:"message_threshold"`
	MessagesAfterSummary int  `json:"messages_after_summary"`
	FullSummaryEvery     int  `json:"full_summary_every"`
}

var defaultContextSummary = ContextSummaryConfig{
	MessageThreshold:     20,
	MessagesAfterSummary: 20,
	FullSummaryEvery:     5,
}

func (a *Agent) ContextSummaryOrDefault() ContextSummaryConfig {
	cfg := defaultContextSummary
	if a.ContextSummary == nil {
		return cfg
	}
	cfg.Enabled = a.ContextSummary.Enabled
	if a.ContextSummary.MessageThreshold > 0 {
		cfg.MessageThreshold = a.ContextSummary.MessageThreshold
	}
	if a.ContextSummary.MessagesAfterSummary > 0 {
		cfg.MessagesAfterSummary = a.ContextSummary.MessagesAfterSummary
	}
	if a.ContextSummary.FullSummaryEvery > 0 {
		cfg.FullSummaryEvery = a.ContextSummary.FullSummaryEvery
	}
	return cfg
}
