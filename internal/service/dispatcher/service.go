package dispatcher

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jwalitptl/reminder-service/internal/config"
	"github.com/jwalitptl/reminder-service/internal/model"
	"github.com/jwalitptl/reminder-service/internal/notify"
	"github.com/jwalitptl/reminder-service/internal/repository"
	"github.com/jwalitptl/reminder-service/pkg/circuitbreaker"
	"github.com/jwalitptl/reminder-service/pkg/logger"
	"github.com/jwalitptl/reminder-service/pkg/messaging"
	"github.com/jwalitptl/reminder-service/pkg/metrics"
)

// Outcome classifies one dispatch attempt. Skips and lost claims are
// successes from the caller's point of view; only a channel send that
// failed counts as Failed.
type Outcome string

const (
	OutcomeSent           Outcome = "sent"
	OutcomeSkipped        Outcome = "skipped"
	OutcomeAlreadyClaimed Outcome = "already_claimed"
	OutcomeNoChannel      Outcome = "no_channel"
	OutcomeFailed         Outcome = "failed"
)

// errNoContactableChannel is persisted on the reminder, not returned.
const errNoContactableChannel = "no contactable channel"

// fallbackOrder is the fixed channel preference used when the patient's
// preferred method is unset or unusable.
var fallbackOrder = []model.ContactMethod{
	model.ContactMethodLine,
	model.ContactMethodEmail,
	model.ContactMethodSMS,
}

func methodToDeliveryMethod(m model.ContactMethod) model.DeliveryMethod {
	switch m {
	case model.ContactMethodLine:
		return model.DeliveryMethodLine
	case model.ContactMethodEmail:
		return model.DeliveryMethodEmail
	default:
		return model.DeliveryMethodSMS
	}
}

// Service turns a due reminder into one channel send attempt, records the
// Delivery evidence, and keeps the retry bookkeeping on the reminder.
type Service struct {
	reminders    repository.ReminderRepository
	deliveries   repository.DeliveryRepository
	appointments repository.AppointmentRepository
	patients     repository.PatientRepository

	senders  map[model.DeliveryMethod]notify.Sender
	breakers map[model.DeliveryMethod]*circuitbreaker.CircuitBreaker
	broker   messaging.Broker

	clinicName   string
	smsEnabled   bool
	retryCeiling int
	backoff      config.DeliveryConfig
	sendTimeout  time.Duration

	patientCache *gocache.Cache
	logger       *logger.Logger
	metrics      *metrics.Metrics
	now          func() time.Time
}

type Option func(*Service)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(
	cfg *config.Config,
	reminders repository.ReminderRepository,
	deliveries repository.DeliveryRepository,
	appointments repository.AppointmentRepository,
	patients repository.PatientRepository,
	senders []notify.Sender,
	broker messaging.Broker,
	l *logger.Logger,
	m *metrics.Metrics,
	opts ...Option,
) *Service {
	senderMap := make(map[model.DeliveryMethod]notify.Sender, len(senders))
	breakers := make(map[model.DeliveryMethod]*circuitbreaker.CircuitBreaker, len(senders))
	for _, sender := range senders {
		senderMap[sender.Channel()] = sender
		breakers[sender.Channel()] = circuitbreaker.NewCircuitBreaker(circuitbreaker.Settings{
			Name:        fmt.Sprintf("sender-%s", sender.Channel()),
			MaxFailures: 5,
			Timeout:     time.Minute,
		})
	}

	sendTimeout := cfg.Delivery.SendTimeout
	if sendTimeout <= 0 {
		sendTimeout = 15 * time.Second
	}
	retryCeiling := cfg.Delivery.RetryCeiling
	if retryCeiling <= 0 {
		retryCeiling = 3
	}

	s := &Service{
		reminders:    reminders,
		deliveries:   deliveries,
		appointments: appointments,
		patients:     patients,
		senders:      senderMap,
		breakers:     breakers,
		broker:       broker,
		clinicName:   cfg.Clinic.Name,
		smsEnabled:   cfg.Channels.SMS.Enabled,
		retryCeiling: retryCeiling,
		backoff:      cfg.Delivery,
		sendTimeout:  sendTimeout,
		patientCache: gocache.New(5*time.Minute, 10*time.Minute),
		logger:       l,
		metrics:      m,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RetryCeiling exposes the effective ceiling for the sweeps.
func (s *Service) RetryCeiling() int { return s.retryCeiling }

// Deliver attempts delivery of a pending reminder. Channel send failures
// are converted into persisted retry state, never returned; a non-nil error
// means infrastructure trouble (repository access), and the reminder is left
// for a later sweep.
func (s *Service) Deliver(ctx context.Context, reminder *model.Reminder) (Outcome, error) {
	timer := prometheus.NewTimer(s.metrics.DispatchLatency)
	defer timer.ObserveDuration()

	// Atomic claim: exactly one of any concurrent dispatchers observes the
	// pending -> processing transition. This is the double-send guard.
	claimed, err := s.reminders.ClaimForDispatch(ctx, reminder.ID)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("failed to claim reminder: %w", err)
	}
	if !claimed {
		s.metrics.DispatchSkipped.WithLabelValues("not_pending").Inc()
		return OutcomeAlreadyClaimed, nil
	}

	appt, err := s.appointments.Get(ctx, reminder.AppointmentID)
	if err != nil {
		s.recordFailure(ctx, reminder, nil, fmt.Sprintf("failed to load appointment: %v", err))
		return OutcomeFailed, nil
	}

	// Precondition re-check after the claim: the appointment may have been
	// cancelled while this reminder sat in the queue.
	if !appt.RemindersAllowed() {
		if err := s.reminders.MarkCancelled(ctx, reminder.ID); err != nil {
			return OutcomeFailed, fmt.Errorf("failed to cancel reminder for dead appointment: %w", err)
		}
		s.metrics.DispatchSkipped.WithLabelValues("appointment_not_remindable").Inc()
		s.logger.Info("reminder skipped, appointment no longer remindable",
			"reminder_id", reminder.ID.String(), "appointment_status", string(appt.Status))
		return OutcomeSkipped, nil
	}

	patient, err := s.patient(ctx, appt.PatientID)
	if err != nil {
		s.recordFailure(ctx, reminder, nil, fmt.Sprintf("failed to load patient: %v", err))
		return OutcomeFailed, nil
	}

	method, recipient, ok := s.selectChannel(patient)
	if !ok {
		// Nothing to attempt, so no Delivery row. The health check's stale
		// sweep gives the reminder another chance once contact info exists.
		if err := s.reminders.MarkFailed(ctx, reminder.ID, errNoContactableChannel, reminder.RetryCount, nil); err != nil {
			return OutcomeFailed, fmt.Errorf("failed to record unreachable patient: %w", err)
		}
		s.metrics.DispatchSkipped.WithLabelValues("no_channel").Inc()
		s.logger.Warn("no contactable channel for patient",
			"reminder_id", reminder.ID.String(), "patient_id", patient.ID.String())
		return OutcomeNoChannel, nil
	}

	subject, content := renderMessage(reminder, appt, patient, s.clinicName)
	if method == model.DeliveryMethodSMS {
		content = renderSMS(reminder, appt, s.clinicName)
	}

	apptID := appt.ID
	reminderID := reminder.ID
	delivery := &model.Delivery{
		PatientID:     patient.ID,
		AppointmentID: &apptID,
		ReminderID:    &reminderID,
		Method:        method,
		ReminderType:  reminder.Type,
		Status:        model.DeliveryStatusPending,
		Subject:       subject,
		Content:       content,
		RetryCount:    reminder.RetryCount,
	}
	if err := s.deliveries.Create(ctx, delivery); err != nil {
		s.recordFailure(ctx, reminder, nil, fmt.Sprintf("failed to create delivery: %v", err))
		return OutcomeFailed, nil
	}

	sendErr := s.send(ctx, method, recipient, subject, content)
	if sendErr != nil {
		s.metrics.DeliveriesFailed.WithLabelValues(string(method)).Inc()
		s.recordFailure(ctx, reminder, delivery, sendErr.Error())
		s.logger.Warn("delivery attempt failed",
			"reminder_id", reminder.ID.String(),
			"channel", string(method),
			"retry_count", reminder.RetryCount+1,
			"error", sendErr.Error())
		return OutcomeFailed, nil
	}

	now := s.now()
	if err := s.deliveries.MarkSent(ctx, delivery.ID, now); err != nil {
		return OutcomeFailed, fmt.Errorf("failed to mark delivery sent: %w", err)
	}
	if err := s.reminders.MarkSent(ctx, reminder.ID, now); err != nil {
		return OutcomeFailed, fmt.Errorf("failed to mark reminder sent: %w", err)
	}

	s.metrics.DeliveriesSent.WithLabelValues(string(method)).Inc()
	s.logger.Info("reminder delivered",
		"reminder_id", reminder.ID.String(),
		"reminder_type", string(reminder.Type),
		"channel", string(method))
	return OutcomeSent, nil
}

// selectChannel picks the single channel to attempt before any send starts:
// the patient's preferred method when usable, then the fixed fallback order,
// stopping at the first channel with a configured sender and a usable
// contact identifier.
func (s *Service) selectChannel(patient *model.Patient) (model.DeliveryMethod, string, bool) {
	tried := make(map[model.ContactMethod]bool, len(fallbackOrder)+1)

	order := make([]model.ContactMethod, 0, len(fallbackOrder)+1)
	if patient.PreferredContactMethod != "" {
		order = append(order, patient.PreferredContactMethod)
	}
	order = append(order, fallbackOrder...)

	for _, method := range order {
		if tried[method] {
			continue
		}
		tried[method] = true

		if method == model.ContactMethodSMS && !s.smsEnabled {
			continue
		}
		deliveryMethod := methodToDeliveryMethod(method)
		if _, registered := s.senders[deliveryMethod]; !registered {
			continue
		}
		if recipient, has := patient.ContactFor(method); has {
			return deliveryMethod, recipient, true
		}
	}
	return "", "", false
}

func (s *Service) send(ctx context.Context, method model.DeliveryMethod, recipient, subject, content string) error {
	sender := s.senders[method]
	sendCtx, cancel := context.WithTimeout(ctx, s.sendTimeout)
	defer cancel()

	return s.breakers[method].Execute(func() error {
		return sender.Send(sendCtx, recipient, subject, content)
	})
}

// recordFailure persists one failed attempt: the delivery (when one was
// created) and the reminder's retry bookkeeping. The next retry time always
// follows the backoff table; whether it is ever acted on is governed by the
// retry ceiling in the sweeps.
func (s *Service) recordFailure(ctx context.Context, reminder *model.Reminder, delivery *model.Delivery, errMsg string) {
	retryCount := reminder.RetryCount + 1

	if delivery != nil {
		if err := s.deliveries.MarkFailed(ctx, delivery.ID, errMsg, retryCount); err != nil {
			s.logger.Error(err, "failed to mark delivery failed", "delivery_id", delivery.ID.String())
		}
	}

	next := s.now().Add(s.backoff.BackoffFor(retryCount))
	if err := s.reminders.MarkFailed(ctx, reminder.ID, errMsg, retryCount, &next); err != nil {
		s.logger.Error(err, "failed to mark reminder failed", "reminder_id", reminder.ID.String())
		return
	}

	if retryCount < s.retryCeiling {
		s.metrics.RetryAttempts.Inc()
		return
	}

	// Retry ceiling reached: surface to the operators, stop retrying.
	s.metrics.RetriesExhausted.Inc()
	s.logger.Warn("reminder retries exhausted",
		"reminder_id", reminder.ID.String(), "retry_count", retryCount)
	s.publishAlert(ctx, reminder.ID, errMsg, retryCount)
}

func (s *Service) publishAlert(ctx context.Context, reminderID uuid.UUID, errMsg string, retryCount int) {
	alert := messaging.Alert{
		Type:       messaging.AlertRetriesExhausted,
		Message:    fmt.Sprintf("reminder failed after %d retries", retryCount),
		ReminderID: reminderID.String(),
		Metadata: map[string]interface{}{
			"last_error": errMsg,
		},
	}
	if err := s.broker.Publish(ctx, messaging.AlertsTopic, alert); err != nil {
		s.logger.Error(err, "failed to publish exhausted-retries alert",
			"reminder_id", reminderID.String())
	}
}

func (s *Service) patient(ctx context.Context, id uuid.UUID) (*model.Patient, error) {
	key := id.String()
	if cached, found := s.patientCache.Get(key); found {
		return cached.(*model.Patient), nil
	}
	patient, err := s.patients.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.patientCache.Set(key, patient, gocache.DefaultExpiration)
	return patient, nil
}
