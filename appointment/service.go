package appointment

import (
	"context"
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/sirupsen/logrus"
	"github.com/wapilot/wapilot/agent"
	"github.com/wapilot/wapilot/pkg/timeutils"
)

// bookingInput carries the user-supplied booking fields through validation.
// The model invents these values, so they get the same scrutiny as any
// external input.
type bookingInput struct {
	Start           time.Time
	DurationMinutes int
	Title           string
}

func (b bookingInput) Validate() error {
	return validation.ValidateStruct(&b,
		validation.Field(&b.Start, validation.Required),
		validation.Field(&b.DurationMinutes, validation.Required,
			validation.Min(MinDurationMinutes), validation.Max(MaxDurationMinutes)),
		validation.Field(&b.Title, validation.Length(0, 255)),
	)
}

// Listener is notified after booking state changes, letting the reminder
// engine materialize or cancel scheduled reminders without a package cycle.
type Listener interface {
	AppointmentBooked(ctx context.Context, ag *agent.Agent, apt *Appointment)
	AppointmentCancelled(ctx context.Context, ag *agent.Agent, apt *Appointment)
	AppointmentRescheduled(ctx context.Context, ag *agent.Agent, apt *Appointment)
}

// Notifier delivers appointment lifecycle events to external consumers.
type Notifier interface {
	Notify(ctx context.Context, ag *agent.Agent, apt *Appointment, event string)
}

// Service owns availability calculation and the booking lifecycle. Google
// Calendar sync and webhooks are best-effort; the local table is the source
// of truth for conflicts.
type Service struct {
	repo     Repository
	agents   agent.Repository
	calendar *CalendarClient
	webhook  Notifier

	listener Listener
}

func NewService(repo Repository, agents agent.Repository, calendar *CalendarClient, webhook Notifier) *Service {
	return &Service{repo: repo, agents: agents, calendar: calendar, webhook: webhook}
}

// SetListener registers the post-booking hook. Must be called before the
// service handles traffic.
func (s *Service) SetListener(l Listener) { s.listener = l }

// token fetches a usable Google access token and persists refreshed tokens.
// Returns "" when the calendar is not connected or refresh failed.
func (s *Service) token(ctx context.Context, ag *agent.Agent, cfg agent.CalendarConfig) string {
	if cfg.GoogleTokens == nil {
		return ""
	}
	accessToken, refreshed, err := s.calendar.ValidToken(ctx, cfg.GoogleTokens)
	if err != nil {
		logrus.WithError(err).Warn("[CALENDAR] Token unavailable, using local data only")
		return ""
	}
	if refreshed != nil {
		cfg.GoogleTokens = refreshed
		if err := s.agents.UpdateCalendarConfig(ctx, ag.ID, &cfg); err != nil {
			logrus.WithError(err).Warn("[CALENDAR] Failed to persist refreshed tokens")
		}
	}
	return accessToken
}

// busyTimes merges Google busy windows with local scheduled appointments.
func (s *Service) busyTimes(ctx context.Context, ag *agent.Agent, cfg agent.CalendarConfig, start, end time.Time, accessToken string) ([][2]time.Time, error) {
	var busy [][2]time.Time
	if accessToken != "" {
		googleBusy, err := s.calendar.BusyTimes(ctx, accessToken, cfg.GoogleCalendarID, start, end, cfg.Timezone)
		if err != nil {
			logrus.WithError(err).Warn("[CALENDAR] freeBusy failed, using local data only")
		} else {
			busy = append(busy, googleBusy...)
		}
	}

	local, err := s.repo.ScheduledBetween(ctx, ag.ID, start.UTC(), end.UTC())
	if err != nil {
		return nil, err
	}
	for _, apt := range local {
		busy = append(busy, [2]time.Time{apt.StartTime, apt.EndTime})
	}
	return busy, nil
}

// CheckAvailability lists free slots inside working hours between the two
// dates, skipping past slots and buffered busy windows.
func (s *Service) CheckAvailability(ctx context.Context, ag *agent.Agent, start, end time.Time, durationMinutes int) ([]Slot, error) {
	cfg := ag.CalendarOrDefault()
	if durationMinutes <= 0 {
		durationMinutes = cfg.DefaultDuration
	}
	loc := timeutils.LoadLocation(cfg.Timezone)
	now := time.Now().In(loc)

	accessToken := s.token(ctx, ag, cfg)
	busy, err := s.busyTimes(ctx, ag, cfg, start, end, accessToken)
	if err != nil {
		return nil, err
	}

	var slots []Slot
	for day := start.In(loc); !day.After(end.In(loc)); day = day.AddDate(0, 0, 1) {
		daySlots := daySlots(day, cfg.WorkingHours, durationMinutes, loc)
		for _, slot := range daySlots {
			if !slot[0].After(now) {
				continue
			}
			if slotFree(slot[0], slot[1], busy, cfg.BufferMinutes) {
				slots = append(slots, Slot{
					Date:     slot[0].Format("2006-01-02"),
					Start:    timeutils.FormatClock(slot[0], loc),
					End:      timeutils.FormatClock(slot[1], loc),
					DateTime: slot[0],
				})
			}
		}
	}
	return slots, nil
}

// Book creates an appointment, mirrors it to Google when connected and fires
// the webhook and reminder hooks. Returns nil without error on a time
// conflict.
func (s *Service) Book(ctx context.Context, ag *agent.Agent, userID uint, start time.Time, durationMinutes int, title, description string) (*Appointment, error) {
	if err := (bookingInput{Start: start, DurationMinutes: durationMinutes, Title: title}).Validate(); err != nil {
		return nil, fmt.Errorf("invalid booking: %w", err)
	}
	cfg := ag.CalendarOrDefault()
	end := start.Add(time.Duration(durationMinutes) * time.Minute)

	conflict, err := s.repo.HasConflict(ctx, ag.ID, start.UTC(), end.UTC(), 0)
	if err != nil {
		return nil, err
	}
	if conflict {
		logrus.Warnf("[APPOINTMENTS] Booking conflict agent=%d at %s", ag.ID, start)
		return nil, nil
	}

	googleEventID := ""
	if accessToken := s.token(ctx, ag, cfg); accessToken != "" {
		googleEventID, err = s.calendar.CreateEvent(ctx, accessToken, cfg.GoogleCalendarID, title, start, end, description, cfg.Timezone)
		if err != nil {
			logrus.WithError(err).Warn("[CALENDAR] Event creation failed, booking locally")
		}
	}

	apt := &Appointment{
		AgentID:       ag.ID,
		UserID:        userID,
		GoogleEventID: googleEventID,
		StartTime:     start.UTC(),
		EndTime:       end.UTC(),
		Title:         title,
		Description:   description,
		Status:        StatusScheduled,
	}
	if err := s.repo.Create(ctx, apt); err != nil {
		return nil, err
	}

	// Reminders must exist by the time the webhook consumer reacts to the
	// created event, so the listener runs first.
	if s.listener != nil {
		s.listener.AppointmentBooked(ctx, ag, apt)
	}
	s.webhook.Notify(ctx, ag, apt, EventCreated)
	logrus.Infof("[APPOINTMENT_CREATED] agent=%s title=%s", ag.Name, title)
	return apt, nil
}

// Cancel marks an appointment cancelled and removes its Google event.
func (s *Service) Cancel(ctx context.Context, ag *agent.Agent, apt *Appointment) error {
	cfg := ag.CalendarOrDefault()

	if s.listener != nil {
		s.listener.AppointmentCancelled(ctx, ag, apt)
	}
	if apt.GoogleEventID != "" {
		if accessToken := s.token(ctx, ag, cfg); accessToken != "" {
			if err := s.calendar.DeleteEvent(ctx, accessToken, cfg.GoogleCalendarID, apt.GoogleEventID); err != nil {
				logrus.WithError(err).Warn("[CALENDAR] Event deletion failed")
			}
		}
	}

	apt.Status = StatusCancelled
	if err := s.repo.Update(ctx, apt); err != nil {
		return err
	}
	s.webhook.Notify(ctx, ag, apt, EventCancelled)
	logrus.Infof("[APPOINTMENT_CANCELLED] agent=%s id=%d", ag.Name, apt.ID)
	return nil
}

// Reschedule moves an appointment to a new time. Returns false without error
// on a conflict.
func (s *Service) Reschedule(ctx context.Context, ag *agent.Agent, apt *Appointment, newStart time.Time, newDurationMinutes int) (bool, error) {
	cfg := ag.CalendarOrDefault()
	duration := newDurationMinutes
	if duration <= 0 {
		duration = apt.DurationMinutes()
	}
	if err := (bookingInput{Start: newStart, DurationMinutes: duration, Title: apt.Title}).Validate(); err != nil {
		return false, fmt.Errorf("invalid reschedule: %w", err)
	}
	newEnd := newStart.Add(time.Duration(duration) * time.Minute)

	conflict, err := s.repo.HasConflict(ctx, ag.ID, newStart.UTC(), newEnd.UTC(), apt.ID)
	if err != nil {
		return false, err
	}
	if conflict {
		return false, nil
	}

	if s.listener != nil {
		s.listener.AppointmentCancelled(ctx, ag, apt)
	}
	if apt.GoogleEventID != "" {
		if accessToken := s.token(ctx, ag, cfg); accessToken != "" {
			if err := s.calendar.MoveEvent(ctx, accessToken, cfg.GoogleCalendarID, apt.GoogleEventID, newStart, newEnd, cfg.Timezone); err != nil {
				logrus.WithError(err).Warn("[CALENDAR] Event move failed")
			}
		}
	}

	apt.StartTime = newStart.UTC()
	apt.EndTime = newEnd.UTC()
	if err := s.repo.Update(ctx, apt); err != nil {
		return false, err
	}
	if s.listener != nil {
		s.listener.AppointmentRescheduled(ctx, ag, apt)
	}
	s.webhook.Notify(ctx, ag, apt, EventUpdated)
	logrus.Infof("[APPOINTMENT_RESCHEDULED] agent=%s id=%d", ag.Name, apt.ID)
	return true, nil
}

func (s *Service) GetByID(ctx context.Context, id uint) (*Appointment, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) UpcomingForUser(ctx context.Context, agentID, userID uint) ([]Appointment, error) {
	return s.repo.UpcomingForUser(ctx, agentID, userID)
}

// daySlots generates back-to-back candidate slots inside the working hours
// of one day. Weekdays are keyed Sunday-first ("0".."6").
func daySlots(day time.Time, workingHours map[string]agent.WorkingHours, durationMinutes int, loc *time.Location) [][2]time.Time {
	key := fmt.Sprintf("%d", int(day.Weekday()))
	hours, ok := workingHours[key]
	if !ok || hours.Start == "" || hours.End == "" {
		return nil
	}
	startH, startM, err := timeutils.ParseClock(hours.Start)
	if err != nil {
		return nil
	}
	endH, endM, err := timeutils.ParseClock(hours.End)
	if err != nil {
		return nil
	}

	slotStart := time.Date(day.Year(), day.Month(), day.Day(), startH, startM, 0, 0, loc)
	dayEnd := time.Date(day.Year(), day.Month(), day.Day(), endH, endM, 0, 0, loc)
	duration := time.Duration(durationMinutes) * time.Minute

	var slots [][2]time.Time
	for !slotStart.Add(duration).After(dayEnd) {
		slotEnd := slotStart.Add(duration)
		slots = append(slots, [2]time.Time{slotStart, slotEnd})
		slotStart = slotEnd
	}
	return slots
}

// slotFree reports whether the slot avoids every busy window plus buffer.
func slotFree(slotStart, slotEnd time.Time, busy [][2]time.Time, bufferMinutes int) bool {
	buffer := time.Duration(bufferMinutes) * time.Minute
	for _, window := range busy {
		busyStart := window[0].Add(-buffer)
		busyEnd := window[1].Add(buffer)
		if slotEnd.After(busyStart) && slotStart.Before(busyEnd) {
			return false
		}
	}
	return true
}
