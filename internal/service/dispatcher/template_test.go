package dispatcher

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/jwalitptl/reminder-service/internal/model"
	"github.com/jwalitptl/reminder-service/internal/notify"
)

func templateFixtures() (*model.Appointment, *model.Patient) {
	appt := &model.Appointment{
		ScheduledAt: time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC),
	}
	patient := &model.Patient{Name: "Hanako Sato"}
	return appt, patient
}

func TestRenderMessageSubjects(t *testing.T) {
	appt, patient := templateFixtures()

	subjects := map[model.ReminderType]string{
		model.ReminderTypeSevenDays: "Reminder: appointment in one week",
		model.ReminderTypeThreeDays: "Reminder: appointment in three days",
		model.ReminderTypeOneDay:    "Reminder: appointment tomorrow",
	}
	for reminderType, want := range subjects {
		reminder := &model.Reminder{Type: reminderType}
		subject, body := renderMessage(reminder, appt, patient, "Sakura Dental")
		assert.Equal(t, want, subject)
		assert.Contains(t, body, "Hanako Sato")
		assert.Contains(t, body, "Sakura Dental")
		assert.Contains(t, body, "Wednesday, January 15, 2025")
		assert.Contains(t, body, "10:00")
	}
}

func TestRenderSMSFitsSingleSegment(t *testing.T) {
	appt, _ := templateFixtures()

	for _, reminderType := range []model.ReminderType{
		model.ReminderTypeSevenDays,
		model.ReminderTypeThreeDays,
		model.ReminderTypeOneDay,
	} {
		reminder := &model.Reminder{Type: reminderType}
		body := renderSMS(reminder, appt, "Sakura Dental")
		assert.LessOrEqual(t, len([]rune(body)), notify.SMSMaxLength, "type %s", reminderType)
		assert.Contains(t, body, "10:00")
	}
}

func TestRenderSMSThreeDayNoteSurvivesLongClinicName(t *testing.T) {
	appt, _ := templateFixtures()
	reminder := &model.Reminder{Type: model.ReminderTypeThreeDays}

	body := renderSMS(reminder, appt, strings.Repeat("Very Long Clinic Name ", 10))
	assert.LessOrEqual(t, len([]rune(body)), notify.SMSMaxLength)
	assert.True(t, strings.HasSuffix(body, "Please bring your insurance card."))
}

func TestRenderMessageManualFallbackSubject(t *testing.T) {
	appt, patient := templateFixtures()
	content := "Your lab results are in."
	reminder := &model.Reminder{Type: model.ReminderTypeManual, MessageContent: &content}

	subject, body := renderMessage(reminder, appt, patient, "Sakura Dental")
	assert.Equal(t, "Message from Sakura Dental", subject)
	assert.Equal(t, content, body)
}
