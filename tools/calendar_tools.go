package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/wapilot/wapilot/agent"
	"github.com/wapilot/wapilot/appointment"
	"github.com/wapilot/wapilot/pkg/timeutils"
)

const invalidDurationText = "משך פגישה לא תקין (מינימום 5 דקות, מקסימום 8 שעות)"

func (e *Executor) checkAvailability(ctx context.Context, ag *agent.Agent, input map[string]any) string {
	cfg := ag.CalendarOrDefault()
	if cfg.GoogleTokens == nil {
		return "יומן לא מחובר"
	}
	loc := timeutils.LoadLocation(cfg.Timezone)

	start, err := parseDateArg(stringArg(input, "start_date"), loc, 0, 0)
	if err != nil {
		return "שגיאה: " + truncateRunes(err.Error(), 50)
	}
	end, err := parseDateArg(stringArg(input, "end_date"), loc, 23, 59)
	if err != nil {
		return "שגיאה: " + truncateRunes(err.Error(), 50)
	}

	slots, err := e.appointments.CheckAvailability(ctx, ag, start, end, intArg(input, "duration_minutes"))
	if err != nil {
		logrus.WithError(err).Warn("[TOOLS] check_availability failed")
		return "שגיאה: " + truncateRunes(err.Error(), 50)
	}
	if len(slots) == 0 {
		return "אין זמנים פנויים בטווח התאריכים שנבחר"
	}
	if len(slots) > 10 {
		slots = slots[:10]
	}
	lines := make([]string, len(slots))
	for i, s := range slots {
		lines[i] = fmt.Sprintf("%s בשעה %s-%s", s.Date, s.Start, s.End)
	}
	return "זמנים פנויים:\n" + strings.Join(lines, "\n")
}

func (e *Executor) bookAppointment(ctx context.Context, ag *agent.Agent, userID uint, input map[string]any) string {
	cfg := ag.CalendarOrDefault()
	if cfg.GoogleTokens == nil {
		return "יומן לא מחובר"
	}
	loc := timeutils.LoadLocation(cfg.Timezone)

	raw := stringArg(input, "datetime")
	if raw == "" {
		return "חסר תאריך ושעה"
	}
	start, err := timeutils.ParseFlexibleDateTime(raw, loc)
	if err != nil {
		return "פורמט תאריך לא תקין: " + truncateRunes(raw, 30)
	}
	if !start.After(time.Now().In(loc)) {
		return "לא ניתן לקבוע פגישה בעבר"
	}

	duration := intArg(input, "duration_minutes")
	if duration == 0 {
		duration = cfg.DefaultDuration
	}
	if duration < appointment.MinDurationMinutes || duration > appointment.MaxDurationMinutes {
		return invalidDurationText
	}

	title := stringArg(input, "title")
	apt, err := e.appointments.Book(ctx, ag, userID, start, duration, title, stringArg(input, "description"))
	if err != nil {
		logrus.WithError(err).Warn("[TOOLS] book_appointment failed")
		return "שגיאה: " + truncateRunes(err.Error(), 50)
	}
	if apt == nil {
		return "לא הצלחתי לקבוע פגישה - ייתכן שהזמן תפוס"
	}
	return fmt.Sprintf("פגישה נקבעה: %s ב-%s בשעה %s (מזהה: %d)",
		title, timeutils.FormatDate(start, loc), timeutils.FormatClock(start, loc), apt.ID)
}

func (e *Executor) myAppointments(ctx context.Context, ag *agent.Agent, userID uint) string {
	cfg := ag.CalendarOrDefault()
	loc := timeutils.LoadLocation(cfg.Timezone)

	apts, err := e.appointments.UpcomingForUser(ctx, ag.ID, userID)
	if err != nil {
		logrus.WithError(err).Warn("[TOOLS] get_my_appointments failed")
		return "שגיאה: " + truncateRunes(err.Error(), 50)
	}
	if len(apts) == 0 {
		return "אין פגישות קרובות"
	}
	lines := make([]string, len(apts))
	for i, apt := range apts {
		lines[i] = fmt.Sprintf("• %s - %s בשעה %s (מזהה: %d)",
			apt.Title, timeutils.FormatDate(apt.StartTime, loc), timeutils.FormatClock(apt.StartTime, loc), apt.ID)
	}
	return "הפגישות שלך:\n" + strings.Join(lines, "\n")
}

func (e *Executor) cancelAppointment(ctx context.Context, ag *agent.Agent, userID uint, input map[string]any) string {
	apt, err := e.appointments.GetByID(ctx, uint(intArg(input, "appointment_id")))
	if err != nil || apt == nil || apt.UserID != userID {
		return "פגישה לא נמצאה"
	}
	if err := e.appointments.Cancel(ctx, ag, apt); err != nil {
		logrus.WithError(err).Warn("[TOOLS] cancel_appointment failed")
		return "שגיאה: " + truncateRunes(err.Error(), 50)
	}
	return fmt.Sprintf("פגישה %s בוטלה בהצלחה", apt.Title)
}

func (e *Executor) rescheduleAppointment(ctx context.Context, ag *agent.Agent, userID uint, input map[string]any) string {
	cfg := ag.CalendarOrDefault()
	loc := timeutils.LoadLocation(cfg.Timezone)

	apt, err := e.appointments.GetByID(ctx, uint(intArg(input, "appointment_id")))
	if err != nil || apt == nil || apt.UserID != userID {
		return "פגישה לא נמצאה"
	}

	raw := stringArg(input, "new_datetime")
	newStart, err := timeutils.ParseFlexibleDateTime(raw, loc)
	if err != nil {
		return "פורמט תאריך לא תקין: " + truncateRunes(raw, 30)
	}
	if !newStart.After(time.Now().In(loc)) {
		return "לא ניתן להעביר פגישה לעבר"
	}

	newDuration := intArg(input, "new_duration_minutes")
	if newDuration != 0 && (newDuration < appointment.MinDurationMinutes || newDuration > appointment.MaxDurationMinutes) {
		return invalidDurationText
	}

	moved, err := e.appointments.Reschedule(ctx, ag, apt, newStart, newDuration)
	if err != nil {
		logrus.WithError(err).Warn("[TOOLS] reschedule_appointment failed")
		return "שגיאה: " + truncateRunes(err.Error(), 50)
	}
	if !moved {
		return "לא הצלחתי לשנות - ייתכן שהזמן תפוס"
	}
	return fmt.Sprintf("פגישה הועברה ל-%s בשעה %s",
		timeutils.FormatDate(newStart, loc), timeutils.FormatClock(newStart, loc))
}

// parseDateArg accepts either a bare date or a full datetime, defaulting the
// clock to the given hour/minute.
func parseDateArg(raw string, loc *time.Location, hour, minute int) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, fmt.Errorf("missing date")
	}
	if strings.Contains(raw, "T") {
		return timeutils.ParseFlexibleDateTime(raw, loc)
	}
	day, err := time.ParseInLocation("2006-01-02", raw, loc)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, loc), nil
}
