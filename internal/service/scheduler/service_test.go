package scheduler

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/reminder-service/internal/model"
	"github.com/jwalitptl/reminder-service/internal/repository/memory"
	"github.com/jwalitptl/reminder-service/pkg/logger"
	"github.com/jwalitptl/reminder-service/pkg/metrics"
)

func testLogger() *logger.Logger {
	return logger.NewLogger(&logger.Config{Level: logger.ErrorLevel, Output: io.Discard})
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func newTestService(now time.Time) (*Service, *memory.ReminderRepository) {
	repo := memory.NewReminderRepository()
	svc := NewService(repo, testLogger(), metrics.NewUnregistered("scheduler_test"), WithClock(fixedClock(now)))
	return svc, repo
}

func bookedAppointment(scheduledAt time.Time) *model.Appointment {
	return &model.Appointment{
		ID:          uuid.New(),
		PatientID:   uuid.New(),
		ScheduledAt: scheduledAt,
		Status:      model.AppointmentStatusBooked,
	}
}

func TestScheduleForAppointment(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	apptAt := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)

	svc, _ := newTestService(now)
	appt := bookedAppointment(apptAt)

	created, err := svc.ScheduleForAppointment(context.Background(), appt)
	require.NoError(t, err)
	require.Len(t, created, 3)

	byType := make(map[model.ReminderType]*model.Reminder)
	for _, r := range created {
		byType[r.Type] = r
		assert.Equal(t, model.ReminderStatusPending, r.DeliveryStatus)
		assert.Equal(t, appt.ID, r.AppointmentID)
	}

	assert.Equal(t, time.Date(2025, 1, 8, 10, 0, 0, 0, time.UTC), byType[model.ReminderTypeSevenDays].ScheduledAt)
	assert.Equal(t, time.Date(2025, 1, 12, 14, 0, 0, 0, time.UTC), byType[model.ReminderTypeThreeDays].ScheduledAt)
	assert.Equal(t, time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC), byType[model.ReminderTypeOneDay].ScheduledAt)
}

func TestScheduleForAppointmentIdempotent(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	svc, repo := newTestService(now)
	appt := bookedAppointment(time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC))

	first, err := svc.ScheduleForAppointment(context.Background(), appt)
	require.NoError(t, err)
	require.Len(t, first, 3)

	second, err := svc.ScheduleForAppointment(context.Background(), appt)
	require.NoError(t, err)
	assert.Empty(t, second)

	all, err := repo.ListForAppointment(context.Background(), appt.ID)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestScheduleSkipsPastCandidates(t *testing.T) {
	// Appointment two days out: both the 7-day and 3-day candidates fall in
	// the past, only the same-day reminder is still eligible.
	now := time.Date(2025, 1, 13, 12, 0, 0, 0, time.UTC)
	svc, _ := newTestService(now)
	appt := bookedAppointment(time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC))

	created, err := svc.ScheduleForAppointment(context.Background(), appt)
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, model.ReminderTypeOneDay, created[0].Type)
	assert.Equal(t, time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC), created[0].ScheduledAt)
}

func TestScheduleSameDaySkippedForEarlyAppointment(t *testing.T) {
	// An 08:30 appointment precedes the 09:00 same-day anchor, so the
	// same-day reminder must not be scheduled.
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	svc, _ := newTestService(now)
	appt := bookedAppointment(time.Date(2025, 1, 15, 8, 30, 0, 0, time.UTC))

	created, err := svc.ScheduleForAppointment(context.Background(), appt)
	require.NoError(t, err)
	require.Len(t, created, 2)
	for _, r := range created {
		assert.NotEqual(t, model.ReminderTypeOneDay, r.Type)
	}
}

func TestScheduleGuardsNonRemindableAppointment(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	svc, repo := newTestService(now)
	appt := bookedAppointment(time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC))
	appt.Status = model.AppointmentStatusCancelled

	created, err := svc.ScheduleForAppointment(context.Background(), appt)
	require.NoError(t, err)
	assert.Empty(t, created)

	all, err := repo.ListForAppointment(context.Background(), appt.ID)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestScheduleRejectsMissingScheduledAt(t *testing.T) {
	svc, _ := newTestService(time.Now())
	appt := bookedAppointment(time.Time{})

	_, err := svc.ScheduleForAppointment(context.Background(), appt)
	assert.Error(t, err)
}

func TestCancelForAppointmentCascade(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	svc, repo := newTestService(now)
	appt := bookedAppointment(time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC))

	created, err := svc.ScheduleForAppointment(context.Background(), appt)
	require.NoError(t, err)
	require.Len(t, created, 3)

	cancelled, err := svc.CancelForAppointment(context.Background(), appt.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 3, cancelled)

	all, err := repo.ListForAppointment(context.Background(), appt.ID)
	require.NoError(t, err)
	require.Len(t, all, 3)
	for _, r := range all {
		assert.Equal(t, model.ReminderStatusCancelled, r.DeliveryStatus)
	}
}

func TestCancelledRemindersDoNotBlockRescheduling(t *testing.T) {
	// A cancelled reminder must release its (appointment, type) slot:
	// scheduling again after a cancellation creates a fresh pending set.
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	svc, repo := newTestService(now)
	appt := bookedAppointment(time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC))

	first, err := svc.ScheduleForAppointment(context.Background(), appt)
	require.NoError(t, err)
	require.Len(t, first, 3)

	_, err = svc.CancelForAppointment(context.Background(), appt.ID)
	require.NoError(t, err)

	second, err := svc.ScheduleForAppointment(context.Background(), appt)
	require.NoError(t, err)
	require.Len(t, second, 3)

	all, err := repo.ListForAppointment(context.Background(), appt.ID)
	require.NoError(t, err)
	require.Len(t, all, 6)

	var pending int
	for _, r := range all {
		if r.DeliveryStatus == model.ReminderStatusPending {
			pending++
		}
	}
	assert.Equal(t, 3, pending)
}

func TestOnAppointmentUpdatedReschedules(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	svc, repo := newTestService(now)

	oldAt := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)
	appt := bookedAppointment(oldAt)
	_, err := svc.ScheduleForAppointment(context.Background(), appt)
	require.NoError(t, err)

	appt.ScheduledAt = time.Date(2025, 1, 20, 10, 0, 0, 0, time.UTC)
	require.NoError(t, svc.OnAppointmentUpdated(context.Background(), appt, oldAt))

	all, err := repo.ListForAppointment(context.Background(), appt.ID)
	require.NoError(t, err)

	var pending, cancelled int
	for _, r := range all {
		switch r.DeliveryStatus {
		case model.ReminderStatusPending:
			pending++
			assert.Equal(t, 20, r.ScheduledAt.Day())
		case model.ReminderStatusCancelled:
			cancelled++
		}
	}
	assert.Equal(t, 3, pending)
	assert.Equal(t, 3, cancelled)
}

func TestOnAppointmentUpdatedSameDateNoop(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	svc, repo := newTestService(now)

	apptAt := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)
	appt := bookedAppointment(apptAt)
	_, err := svc.ScheduleForAppointment(context.Background(), appt)
	require.NoError(t, err)

	require.NoError(t, svc.OnAppointmentUpdated(context.Background(), appt, apptAt))

	all, err := repo.ListForAppointment(context.Background(), appt.ID)
	require.NoError(t, err)
	for _, r := range all {
		assert.Equal(t, model.ReminderStatusPending, r.DeliveryStatus)
	}
}

func TestCreateManualReminder(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	svc, repo := newTestService(now)
	apptID := uuid.New()

	reminder, err := svc.CreateManualReminder(context.Background(), &model.CreateManualReminderRequest{
		AppointmentID: apptID,
		ScheduledAt:   now.Add(2 * time.Hour),
		Subject:       "Follow-up on your treatment",
		Content:       "Please call us to discuss the next steps.",
	})
	require.NoError(t, err)
	require.NotNil(t, reminder.Subject)
	require.NotNil(t, reminder.MessageContent)
	assert.Equal(t, model.ReminderTypeManual, reminder.Type)
	assert.Equal(t, "Follow-up on your treatment", *reminder.Subject)

	// Manual reminders are unbounded per appointment.
	_, err = svc.CreateManualReminder(context.Background(), &model.CreateManualReminderRequest{
		AppointmentID: apptID,
		ScheduledAt:   now.Add(3 * time.Hour),
		Subject:       "Second note",
		Content:       "Another message.",
	})
	require.NoError(t, err)

	all, err := repo.ListForAppointment(context.Background(), apptID)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestCreateManualReminderRejectsPast(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	svc, _ := newTestService(now)

	_, err := svc.CreateManualReminder(context.Background(), &model.CreateManualReminderRequest{
		AppointmentID: uuid.New(),
		ScheduledAt:   now.Add(-time.Hour),
		Subject:       "Too late",
		Content:       "This should not be created.",
	})
	assert.Error(t, err)
}
