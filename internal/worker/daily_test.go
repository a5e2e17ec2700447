package worker

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/reminder-service/internal/config"
	"github.com/jwalitptl/reminder-service/internal/model"
	"github.com/jwalitptl/reminder-service/internal/notify"
	"github.com/jwalitptl/reminder-service/internal/repository/memory"
	"github.com/jwalitptl/reminder-service/internal/service/dispatcher"
	"github.com/jwalitptl/reminder-service/internal/service/scheduler"
	"github.com/jwalitptl/reminder-service/pkg/logger"
	"github.com/jwalitptl/reminder-service/pkg/messaging"
	"github.com/jwalitptl/reminder-service/pkg/metrics"
)

type countingSender struct {
	mu      sync.Mutex
	channel model.DeliveryMethod
	sent    []string
}

func (f *countingSender) Channel() model.DeliveryMethod { return f.channel }

func (f *countingSender) Send(_ context.Context, recipient, _, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, recipient)
	return nil
}

func (f *countingSender) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func testLogger() *logger.Logger {
	return logger.NewLogger(&logger.Config{Level: logger.ErrorLevel, Output: io.Discard})
}

type env struct {
	driver       *DailyDriver
	reminders    *memory.ReminderRepository
	deliveries   *memory.DeliveryRepository
	appointments *memory.AppointmentRepository
	patients     *memory.PatientRepository
	email        *countingSender
	now          time.Time
	mu           sync.Mutex
}

func (e *env) setNow(t time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.now = t
}

func (e *env) clock() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.now
}

func newEnv(t *testing.T, start time.Time) *env {
	t.Helper()

	cfg := &config.Config{
		Clinic: config.ClinicConfig{Name: "Sakura Dental"},
		Delivery: config.DeliveryConfig{
			RetryCeiling: 3,
			Backoff:      []time.Duration{time.Minute, 5 * time.Minute, 15 * time.Minute},
			MaxBackoff:   30 * time.Minute,
			SendTimeout:  5 * time.Second,
			BatchSize:    100,
		},
	}

	e := &env{
		reminders:    memory.NewReminderRepository(),
		deliveries:   memory.NewDeliveryRepository(),
		appointments: memory.NewAppointmentRepository(),
		patients:     memory.NewPatientRepository(),
		email:        &countingSender{channel: model.DeliveryMethodEmail},
		now:          start,
	}

	disp := dispatcher.NewService(cfg, e.reminders, e.deliveries, e.appointments, e.patients,
		[]notify.Sender{e.email}, messaging.NoopBroker{}, testLogger(),
		metrics.NewUnregistered("worker_test_dispatch"), dispatcher.WithClock(e.clock))
	sched := scheduler.NewService(e.reminders, testLogger(),
		metrics.NewUnregistered("worker_test_sched"), scheduler.WithClock(e.clock))
	e.driver = NewDailyDriver(cfg.Delivery, e.reminders, e.appointments, disp, sched,
		testLogger(), metrics.NewUnregistered("worker_test"), WithClock(e.clock))
	return e
}

func (e *env) seedBookedAppointment(scheduledAt time.Time) *model.Appointment {
	patient := &model.Patient{ID: uuid.New(), Name: "Hanako Sato", Email: "hanako@example.com"}
	e.patients.Put(patient)

	appt := &model.Appointment{
		ID:          uuid.New(),
		PatientID:   patient.ID,
		ScheduledAt: scheduledAt,
		Status:      model.AppointmentStatusBooked,
	}
	e.appointments.Put(appt)
	return appt
}

func TestDailyCycleEndToEnd(t *testing.T) {
	// Cycle runs the morning of 2025-01-08; the appointment is exactly seven
	// days out, so materialization creates all three reminders and the
	// seven-day one comes due later the same morning.
	start := time.Date(2025, 1, 8, 9, 0, 0, 0, time.UTC)
	e := newEnv(t, start)
	appt := e.seedBookedAppointment(time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC))

	stats, err := e.driver.RunDailyCycle(context.Background(), start)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Delivered)
	assert.Equal(t, 3, stats.Created)

	reminders, err := e.reminders.ListForAppointment(context.Background(), appt.ID)
	require.NoError(t, err)
	require.Len(t, reminders, 3)

	// Nothing due yet at 09:00.
	assert.Equal(t, 0, e.email.sentCount())

	// Past the 10:00 anchor the next sweep delivers the seven-day reminder.
	e.setNow(time.Date(2025, 1, 8, 10, 5, 0, 0, time.UTC))
	sent, err := e.driver.DeliverySweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	assert.Equal(t, 1, e.email.sentCount())

	deliveries := e.deliveries.All()
	require.Len(t, deliveries, 1)
	assert.Equal(t, model.ReminderTypeSevenDays, deliveries[0].ReminderType)
	assert.Equal(t, model.DeliveryStatusSent, deliveries[0].Status)
}

func TestDailyCycleIdempotent(t *testing.T) {
	start := time.Date(2025, 1, 8, 9, 0, 0, 0, time.UTC)
	e := newEnv(t, start)
	appt := e.seedBookedAppointment(time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC))

	first, err := e.driver.RunDailyCycle(context.Background(), start)
	require.NoError(t, err)
	assert.Equal(t, 3, first.Created)

	second, err := e.driver.RunDailyCycle(context.Background(), start)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Created)

	reminders, err := e.reminders.ListForAppointment(context.Background(), appt.ID)
	require.NoError(t, err)
	assert.Len(t, reminders, 3)
}

func TestDailyCycleCoversThreeDayWindow(t *testing.T) {
	start := time.Date(2025, 1, 12, 8, 0, 0, 0, time.UTC)
	e := newEnv(t, start)
	appt := e.seedBookedAppointment(time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC))

	stats, err := e.driver.RunDailyCycle(context.Background(), start)
	require.NoError(t, err)
	// The seven-day anchor is already in the past; only the three-day and
	// day-before reminders materialize.
	assert.Equal(t, 2, stats.Created)

	reminders, err := e.reminders.ListForAppointment(context.Background(), appt.ID)
	require.NoError(t, err)
	require.Len(t, reminders, 2)
	types := map[model.ReminderType]bool{}
	for _, r := range reminders {
		types[r.Type] = true
	}
	assert.True(t, types[model.ReminderTypeThreeDays])
	assert.True(t, types[model.ReminderTypeOneDay])
}

func TestDailyCycleSkipsCancelledAppointments(t *testing.T) {
	start := time.Date(2025, 1, 8, 9, 0, 0, 0, time.UTC)
	e := newEnv(t, start)
	appt := e.seedBookedAppointment(time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC))
	appt.Status = model.AppointmentStatusCancelled
	e.appointments.Put(appt)

	stats, err := e.driver.RunDailyCycle(context.Background(), start)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Created)
}

func TestDeliverySweepReclaimsStaleClaims(t *testing.T) {
	// A worker that died mid-dispatch leaves the reminder in processing.
	// Running the sweep with a clock past the stale-claim window must move
	// it back to pending and deliver it in the same pass.
	e := newEnv(t, time.Now())
	appt := e.seedBookedAppointment(time.Now().Add(7 * 24 * time.Hour))

	reminder := &model.Reminder{
		AppointmentID:  appt.ID,
		Type:           model.ReminderTypeSevenDays,
		ScheduledAt:    time.Now().Add(-time.Hour),
		DeliveryStatus: model.ReminderStatusPending,
	}
	created, err := e.reminders.Create(context.Background(), reminder)
	require.NoError(t, err)
	require.True(t, created)

	claimed, err := e.reminders.ClaimForDispatch(context.Background(), reminder.ID)
	require.NoError(t, err)
	require.True(t, claimed)

	// Default stale-claim window is ten minutes; jump past it.
	e.setNow(time.Now().Add(11 * time.Minute))
	sent, err := e.driver.DeliverySweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sent)

	stored, err := e.reminders.Get(context.Background(), reminder.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ReminderStatusSent, stored.DeliveryStatus)
}

func TestDeliverySweepContinuesPastCancelled(t *testing.T) {
	start := time.Date(2025, 1, 8, 9, 0, 0, 0, time.UTC)
	e := newEnv(t, start)

	cancelledAppt := e.seedBookedAppointment(time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC))
	liveAppt := e.seedBookedAppointment(time.Date(2025, 1, 15, 11, 0, 0, 0, time.UTC))

	for _, apptID := range []uuid.UUID{cancelledAppt.ID, liveAppt.ID} {
		reminder := &model.Reminder{
			AppointmentID:  apptID,
			Type:           model.ReminderTypeSevenDays,
			ScheduledAt:    start.Add(-time.Hour),
			DeliveryStatus: model.ReminderStatusPending,
		}
		created, err := e.reminders.Create(context.Background(), reminder)
		require.NoError(t, err)
		require.True(t, created)
	}

	cancelledAppt.Status = model.AppointmentStatusCancelled
	e.appointments.Put(cancelledAppt)

	sent, err := e.driver.DeliverySweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	assert.Equal(t, 1, e.email.sentCount())
}
