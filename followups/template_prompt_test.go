package followups

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/wapilot/wapilot/agent"
	"github.com/wapilot/wapilot/conversation"
	"github.com/wapilot/wapilot/template"
)

type stubTemplates struct {
	template.Repository
	byName map[string]*template.WhatsAppTemplate
}

func (s *stubTemplates) GetByName(_ context.Context, _ uint, name, _ string) (*template.WhatsAppTemplate, error) {
	return s.byName[name], nil
}

type stubFollowupRepo struct {
	Repository
}

func (s *stubFollowupRepo) SentForConversation(_ context.Context, _ uint) ([]ScheduledFollowup, error) {
	return nil, nil
}

type stubConversations struct {
	conversation.Repository
}

func (s *stubConversations) RecentMessages(_ context.Context, _ uint, _ int) ([]conversation.Message, error) {
	return nil, nil
}

func TestBuildTemplatePromptNoApprovedTemplates(t *testing.T) {
	e := &Engine{templates: &stubTemplates{byName: map[string]*template.WhatsAppTemplate{
		"welcome": {Name: "welcome", Status: template.StatusPending},
	}}}
	cfg := agent.FollowupConfig{MetaTemplates: []agent.MetaTemplateRef{
		{Name: "welcome"},
		{Name: "missing"},
	}}
	fu := &ScheduledFollowup{ConversationID: 5, FollowupNumber: 1}

	_, ok := e.buildTemplatePrompt(context.Background(), "history", "", fu, 2, &agent.Agent{ID: 1}, cfg)
	assert.False(t, ok, "unapproved or missing templates leave nothing to offer")
}

// With no approved template the evaluator must decide no-send on its own; a
// model call here would be prompting with an empty menu. The nil factory
// guarantees the test blows up if a call is attempted.
func TestEvaluateTemplateModeShortCircuits(t *testing.T) {
	e := &Engine{
		repo:          &stubFollowupRepo{},
		conversations: &stubConversations{},
		templates:     &stubTemplates{},
	}
	ag := &agent.Agent{ID: 1, SystemPrompt: "סוכן מכירות"}
	cfg := agent.FollowupConfig{MetaTemplates: []agent.MetaTemplateRef{{Name: "welcome"}}}
	fu := &ScheduledFollowup{ConversationID: 5, FollowupNumber: 1}

	verdict := e.evaluate(context.Background(), fu, ag, &conversation.User{}, cfg, true)
	assert.False(t, verdict.Send)
	assert.Equal(t, "no approved templates available", verdict.Reason)
}
