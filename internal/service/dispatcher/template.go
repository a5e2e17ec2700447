package dispatcher

import (
	"fmt"

	"github.com/jwalitptl/reminder-service/internal/model"
	"github.com/jwalitptl/reminder-service/internal/notify"
)

// smsInsuranceNote rides along on the three-day SMS variant only.
const smsInsuranceNote = " Please bring your insurance card."

func formatAppointmentDate(appt *model.Appointment) string {
	return appt.ScheduledAt.Format("Monday, January 2, 2006")
}

func formatAppointmentTime(appt *model.Appointment) string {
	return appt.ScheduledAt.Format("15:04")
}

// renderMessage produces the subject and body for a reminder. Manual
// reminders carry caller-supplied subject and content verbatim; the typed
// reminders each have their own copy.
func renderMessage(reminder *model.Reminder, appt *model.Appointment, patient *model.Patient, clinicName string) (subject, body string) {
	switch reminder.Type {
	case model.ReminderTypeSevenDays:
		subject = "Reminder: appointment in one week"
		body = fmt.Sprintf(
			"Dear %s,\n\nThis is a reminder that you have an appointment at %s on %s at %s.\n\nWe look forward to seeing you.",
			patient.Name, clinicName, formatAppointmentDate(appt), formatAppointmentTime(appt))
	case model.ReminderTypeThreeDays:
		subject = "Reminder: appointment in three days"
		body = fmt.Sprintf(
			"Dear %s,\n\nYour appointment at %s is coming up on %s at %s.\n\nWe look forward to seeing you.",
			patient.Name, clinicName, formatAppointmentDate(appt), formatAppointmentTime(appt))
	case model.ReminderTypeOneDay:
		subject = "Reminder: appointment tomorrow"
		body = fmt.Sprintf(
			"Dear %s,\n\nThis is a reminder of your appointment at %s today, %s at %s.\n\nIf you are unable to attend, please contact the clinic as soon as possible.",
			patient.Name, clinicName, formatAppointmentDate(appt), formatAppointmentTime(appt))
	case model.ReminderTypeManual:
		if reminder.Subject != nil {
			subject = *reminder.Subject
		} else {
			subject = fmt.Sprintf("Message from %s", clinicName)
		}
		if reminder.MessageContent != nil {
			body = *reminder.MessageContent
		}
	}
	return subject, body
}

// renderSMS composes the single-segment SMS variant. The typed bodies are
// written short rather than reusing the email copy; the three-day variant
// reserves room for the insurance-card note so truncation can never cut
// it off.
func renderSMS(reminder *model.Reminder, appt *model.Appointment, clinicName string) string {
	date := appt.ScheduledAt.Format("Jan 2")
	at := formatAppointmentTime(appt)

	var body string
	switch reminder.Type {
	case model.ReminderTypeSevenDays:
		body = fmt.Sprintf("%s: reminder, you have an appointment on %s at %s.", clinicName, date, at)
	case model.ReminderTypeThreeDays:
		body = fmt.Sprintf("%s: your appointment is on %s at %s.", clinicName, date, at)
		limit := notify.SMSMaxLength - len([]rune(smsInsuranceNote))
		if runes := []rune(body); len(runes) > limit {
			body = string(runes[:limit])
		}
		body += smsInsuranceNote
	case model.ReminderTypeOneDay:
		body = fmt.Sprintf("%s: appointment today at %s. Please contact us if you cannot attend.", clinicName, at)
	case model.ReminderTypeManual:
		if reminder.MessageContent != nil {
			body = *reminder.MessageContent
		}
	}
	return notify.TruncateSMS(body)
}
