package reminders

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wapilot/wapilot/agent"
	"github.com/wapilot/wapilot/appointment"
	"github.com/wapilot/wapilot/conversation"
	"github.com/wapilot/wapilot/llm"
)

type fakeReminderRepo struct {
	Repository
	updated []ScheduledReminder
}

func (f *fakeReminderRepo) Update(_ context.Context, r *ScheduledReminder) error {
	f.updated = append(f.updated, *r)
	return nil
}

type fakeAgents struct {
	agent.Repository
	ag *agent.Agent
}

func (f *fakeAgents) GetByID(_ context.Context, _ uint) (*agent.Agent, error) {
	return f.ag, nil
}

type fakeAppointments struct {
	appointment.Repository
	apt *appointment.Appointment
}

func (f *fakeAppointments) GetByID(_ context.Context, _ uint) (*appointment.Appointment, error) {
	return f.apt, nil
}

type fakeConversations struct {
	conversation.Repository
	user     *conversation.User
	appended []conversation.Message
}

func (f *fakeConversations) GetUser(_ context.Context, _ uint) (*conversation.User, error) {
	return f.user, nil
}

func (f *fakeConversations) GetOrCreateConversation(_ context.Context, agentID, userID uint) (*conversation.Conversation, error) {
	return &conversation.Conversation{ID: 42, AgentID: agentID, UserID: userID}, nil
}

func (f *fakeConversations) AppendMessage(_ context.Context, msg *conversation.Message) error {
	f.appended = append(f.appended, *msg)
	return nil
}

type fakeSender struct {
	texts     []string
	templates []string
}

func (f *fakeSender) SendText(_ context.Context, _ *agent.Agent, _, text string) error {
	f.texts = append(f.texts, text)
	return nil
}

func (f *fakeSender) SendMedia(_ context.Context, _ *agent.Agent, _ string, _ llm.MediaAction) error {
	return nil
}

func (f *fakeSender) SendTemplate(_ context.Context, _ *agent.Agent, _, templateName, _ string, _ []string) error {
	f.templates = append(f.templates, templateName)
	return nil
}

func newDeliveryFixture(ag *agent.Agent) (*Engine, *fakeReminderRepo, *fakeConversations, *fakeSender) {
	repo := &fakeReminderRepo{}
	convs := &fakeConversations{user: &conversation.User{ID: 3, Name: "דנה", Phone: "972501234567"}}
	sender := &fakeSender{}
	e := NewEngine(repo, &fakeAgents{ag: ag}, &fakeAppointments{apt: testAppointment()}, convs, nil, sender)
	return e, repo, convs, sender
}

func TestDeliverMetaTemplateRecordsConversationMessage(t *testing.T) {
	ag := testAgent()
	ag.Provider = agent.ProviderMeta
	e, repo, convs, sender := newDeliveryFixture(ag)

	reminder := ScheduledReminder{
		ID:            9,
		AppointmentID: 7,
		AgentID:       1,
		UserID:        3,
		ContentType:   ContentMetaTemplate,
		TemplateName:  "appointment_reminder",
		Status:        StatusProcessing,
	}
	e.deliver(context.Background(), &reminder)

	require.Equal(t, []string{"appointment_reminder"}, sender.templates)

	// The send lands in conversation history like any other channel.
	require.Len(t, convs.appended, 1)
	msg := convs.appended[0]
	assert.Equal(t, conversation.RoleAssistant, msg.Role)
	assert.Equal(t, conversation.TypeReminder, msg.Type)
	assert.Contains(t, msg.Content, "appointment_reminder")

	require.NotEmpty(t, repo.updated)
	final := repo.updated[len(repo.updated)-1]
	assert.Equal(t, StatusSent, final.Status)
	require.NotNil(t, final.SentAt)
}

func TestDeliverFreetextRecordsConversationMessage(t *testing.T) {
	ag := testAgent()
	ag.Provider = agent.ProviderWaSender
	e, _, convs, sender := newDeliveryFixture(ag)

	reminder := ScheduledReminder{
		ID:            10,
		AppointmentID: 7,
		AgentID:       1,
		UserID:        3,
		ContentType:   ContentTemplate,
		Template:      "שלום {customer_name}, תזכורת ל-{title}",
		Status:        StatusProcessing,
	}
	e.deliver(context.Background(), &reminder)

	require.Len(t, sender.texts, 1)
	assert.Equal(t, "שלום דנה, תזכורת ל-ניקוי אבנית", sender.texts[0])

	require.Len(t, convs.appended, 1)
	assert.Equal(t, sender.texts[0], convs.appended[0].Content)
	assert.Equal(t, conversation.TypeReminder, convs.appended[0].Type)
}

func TestDeliverCancelsWhenAppointmentGone(t *testing.T) {
	ag := testAgent()
	apt := testAppointment()
	apt.Status = appointment.StatusCancelled

	repo := &fakeReminderRepo{}
	convs := &fakeConversations{user: &conversation.User{ID: 3}}
	sender := &fakeSender{}
	e := NewEngine(repo, &fakeAgents{ag: ag}, &fakeAppointments{apt: apt}, convs, nil, sender)

	reminder := ScheduledReminder{ID: 11, AppointmentID: 7, Status: StatusProcessing}
	e.deliver(context.Background(), &reminder)

	assert.Empty(t, sender.texts)
	assert.Empty(t, sender.templates)
	require.NotEmpty(t, repo.updated)
	assert.Equal(t, StatusCancelled, repo.updated[len(repo.updated)-1].Status)
}
