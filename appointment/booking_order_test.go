package appointment

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wapilot/wapilot/agent"
)

type fakeAppointmentRepo struct {
	Repository
	created *Appointment
}

func (f *fakeAppointmentRepo) Create(_ context.Context, a *Appointment) error {
	a.ID = 77
	f.created = a
	return nil
}

func (f *fakeAppointmentRepo) HasConflict(_ context.Context, _ uint, _, _ time.Time, _ uint) (bool, error) {
	return false, nil
}

type recordingListener struct {
	order *[]string
}

func (l *recordingListener) AppointmentBooked(_ context.Context, _ *agent.Agent, _ *Appointment) {
	*l.order = append(*l.order, "reminders")
}

func (l *recordingListener) AppointmentCancelled(_ context.Context, _ *agent.Agent, _ *Appointment) {
}

func (l *recordingListener) AppointmentRescheduled(_ context.Context, _ *agent.Agent, _ *Appointment) {
}

type recordingNotifier struct {
	order *[]string
}

func (n *recordingNotifier) Notify(_ context.Context, _ *agent.Agent, _ *Appointment, event string) {
	*n.order = append(*n.order, "webhook:"+event)
}

// The created webhook carries reminder state downstream, so reminder
// materialization has to complete before the webhook fires.
func TestBookMaterializesRemindersBeforeWebhook(t *testing.T) {
	var order []string
	repo := &fakeAppointmentRepo{}
	svc := NewService(repo, nil, nil, &recordingNotifier{order: &order})
	svc.SetListener(&recordingListener{order: &order})

	ag := &agent.Agent{ID: 1, Name: "מרפאת שיניים"}
	start := time.Date(2026, 6, 14, 15, 30, 0, 0, time.UTC)

	apt, err := svc.Book(context.Background(), ag, 3, start, 45, "ניקוי אבנית", "")
	require.NoError(t, err)
	require.NotNil(t, apt)
	assert.Equal(t, uint(77), apt.ID)

	assert.Equal(t, []string{"reminders", "webhook:" + EventCreated}, order)
}
