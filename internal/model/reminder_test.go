package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReminderStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to ReminderStatus
		allowed  bool
	}{
		{ReminderStatusPending, ReminderStatusProcessing, true},
		{ReminderStatusPending, ReminderStatusCancelled, true},
		{ReminderStatusPending, ReminderStatusSent, false},
		{ReminderStatusProcessing, ReminderStatusSent, true},
		{ReminderStatusProcessing, ReminderStatusFailed, true},
		{ReminderStatusProcessing, ReminderStatusPending, true},
		{ReminderStatusFailed, ReminderStatusPending, true},
		{ReminderStatusFailed, ReminderStatusCancelled, true},
		{ReminderStatusFailed, ReminderStatusSent, false},
		{ReminderStatusSent, ReminderStatusDelivered, true},
		{ReminderStatusSent, ReminderStatusBounced, true},
		{ReminderStatusSent, ReminderStatusPending, false},
		{ReminderStatusCancelled, ReminderStatusPending, false},
		{ReminderStatusDelivered, ReminderStatusBounced, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.allowed, tc.from.CanTransition(tc.to),
			"%s -> %s", tc.from, tc.to)
	}
}

func TestReminderStatusTerminal(t *testing.T) {
	assert.True(t, ReminderStatusDelivered.Terminal())
	assert.True(t, ReminderStatusBounced.Terminal())
	assert.True(t, ReminderStatusCancelled.Terminal())
	assert.False(t, ReminderStatusPending.Terminal())
	assert.False(t, ReminderStatusFailed.Terminal())
	assert.False(t, ReminderStatusSent.Terminal())
}

func TestAppointmentRemindersAllowed(t *testing.T) {
	allowed := map[AppointmentStatus]bool{
		AppointmentStatusBooked:    true,
		AppointmentStatusVisited:   true,
		AppointmentStatusCompleted: false,
		AppointmentStatusCancelled: false,
		AppointmentStatusNoShow:    false,
	}
	for status, want := range allowed {
		appt := Appointment{Status: status}
		assert.Equal(t, want, appt.RemindersAllowed(), "status %s", status)
	}
}

func TestPatientContactFor(t *testing.T) {
	patient := Patient{
		LineUserID: "U1234",
		Email:      "hanako@example.com",
	}

	recipient, ok := patient.ContactFor(ContactMethodLine)
	assert.True(t, ok)
	assert.Equal(t, "U1234", recipient)

	recipient, ok = patient.ContactFor(ContactMethodEmail)
	assert.True(t, ok)
	assert.Equal(t, "hanako@example.com", recipient)

	_, ok = patient.ContactFor(ContactMethodSMS)
	assert.False(t, ok)
}

func TestDeliveryStatsSuccessRate(t *testing.T) {
	stats := DeliveryStats{Sent: 7, Failed: 3}
	assert.Equal(t, 10, stats.Attempts())
	assert.InDelta(t, 0.7, stats.SuccessRate(), 1e-9)

	empty := DeliveryStats{}
	assert.Equal(t, 0, empty.Attempts())
	assert.Equal(t, float64(1), empty.SuccessRate())
}
