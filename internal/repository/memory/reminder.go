package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/reminder-service/internal/model"
	"github.com/jwalitptl/reminder-service/internal/repository"
)

// ReminderRepository is a mutex-guarded in-memory implementation with the
// same conditional-update semantics as the postgres repository. Used by the
// test suites and for local runs without a database.
type ReminderRepository struct {
	mu        sync.Mutex
	reminders map[uuid.UUID]*model.Reminder
}

func NewReminderRepository() *ReminderRepository {
	return &ReminderRepository{reminders: make(map[uuid.UUID]*model.Reminder)}
}

var _ repository.ReminderRepository = (*ReminderRepository)(nil)

func copyReminder(r *model.Reminder) *model.Reminder {
	c := *r
	return &c
}

func (s *ReminderRepository) Create(_ context.Context, reminder *model.Reminder) (bool, error) {
	if reminder == nil {
		return false, fmt.Errorf("reminder cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Cancelled rows do not block re-creation, matching the partial
	// unique index in the postgres repository.
	if reminder.Type != model.ReminderTypeManual {
		for _, existing := range s.reminders {
			if existing.AppointmentID == reminder.AppointmentID &&
				existing.Type == reminder.Type &&
				existing.DeliveryStatus != model.ReminderStatusCancelled {
				return false, nil
			}
		}
	}

	if reminder.ID == uuid.Nil {
		reminder.ID = uuid.New()
	}
	reminder.CreatedAt = time.Now()
	reminder.UpdatedAt = reminder.CreatedAt
	if reminder.DeliveryStatus == "" {
		reminder.DeliveryStatus = model.ReminderStatusPending
	}
	s.reminders[reminder.ID] = copyReminder(reminder)
	return true, nil
}

func (s *ReminderRepository) Get(_ context.Context, id uuid.UUID) (*model.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reminder, ok := s.reminders[id]
	if !ok {
		return nil, fmt.Errorf("reminder not found")
	}
	return copyReminder(reminder), nil
}

func (s *ReminderRepository) ExistsForAppointmentType(_ context.Context, appointmentID uuid.UUID, t model.ReminderType) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.reminders {
		if r.AppointmentID == appointmentID && r.Type == t &&
			r.DeliveryStatus != model.ReminderStatusCancelled {
			return true, nil
		}
	}
	return false, nil
}

func (s *ReminderRepository) ListForAppointment(_ context.Context, appointmentID uuid.UUID) ([]*model.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*model.Reminder
	for _, r := range s.reminders {
		if r.AppointmentID == appointmentID {
			out = append(out, copyReminder(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(out[j].ScheduledAt) })
	return out, nil
}

func (s *ReminderRepository) FindDue(_ context.Context, now time.Time, limit int) ([]*model.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*model.Reminder
	for _, r := range s.reminders {
		if r.DeliveryStatus == model.ReminderStatusPending && !r.ScheduledAt.After(now) {
			out = append(out, copyReminder(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(out[j].ScheduledAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *ReminderRepository) FindRetryable(_ context.Context, now time.Time, maxRetries, limit int) ([]*model.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*model.Reminder
	for _, r := range s.reminders {
		if r.DeliveryStatus == model.ReminderStatusFailed &&
			r.RetryCount < maxRetries &&
			r.NextRetryAt != nil && !r.NextRetryAt.After(now) {
			out = append(out, copyReminder(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextRetryAt.Before(*out[j].NextRetryAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *ReminderRepository) FindStaleFailed(_ context.Context, cutoff time.Time, maxRetries, limit int) ([]*model.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*model.Reminder
	for _, r := range s.reminders {
		if r.DeliveryStatus == model.ReminderStatusFailed &&
			r.RetryCount < maxRetries &&
			r.NextRetryAt == nil &&
			r.UpdatedAt.Before(cutoff) {
			out = append(out, copyReminder(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *ReminderRepository) ClaimForDispatch(_ context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reminder, ok := s.reminders[id]
	if !ok || reminder.DeliveryStatus != model.ReminderStatusPending {
		return false, nil
	}
	reminder.DeliveryStatus = model.ReminderStatusProcessing
	reminder.UpdatedAt = time.Now()
	return true, nil
}

func (s *ReminderRepository) Requeue(_ context.Context, id uuid.UUID, maxRetries int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reminder, ok := s.reminders[id]
	if !ok || reminder.DeliveryStatus != model.ReminderStatusFailed || reminder.RetryCount >= maxRetries {
		return false, nil
	}
	reminder.DeliveryStatus = model.ReminderStatusPending
	reminder.NextRetryAt = nil
	reminder.UpdatedAt = time.Now()
	return true, nil
}

func (s *ReminderRepository) ReclaimStale(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, r := range s.reminders {
		if r.DeliveryStatus == model.ReminderStatusProcessing && r.UpdatedAt.Before(cutoff) {
			r.DeliveryStatus = model.ReminderStatusPending
			r.UpdatedAt = time.Now()
			n++
		}
	}
	return n, nil
}

func (s *ReminderRepository) MarkSent(_ context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	reminder, ok := s.reminders[id]
	if !ok {
		return fmt.Errorf("reminder not found")
	}
	if reminder.DeliveryStatus != model.ReminderStatusProcessing {
		return fmt.Errorf("reminder not in processing state")
	}
	reminder.DeliveryStatus = model.ReminderStatusSent
	sentAt := at
	reminder.SentAt = &sentAt
	reminder.RetryCount = 0
	reminder.ErrorMessage = nil
	reminder.NextRetryAt = nil
	reminder.UpdatedAt = time.Now()
	return nil
}

func (s *ReminderRepository) MarkFailed(_ context.Context, id uuid.UUID, errMsg string, retryCount int, nextRetryAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	reminder, ok := s.reminders[id]
	if !ok {
		return fmt.Errorf("reminder not found")
	}
	reminder.DeliveryStatus = model.ReminderStatusFailed
	msg := errMsg
	reminder.ErrorMessage = &msg
	reminder.RetryCount = retryCount
	reminder.NextRetryAt = nextRetryAt
	reminder.UpdatedAt = time.Now()
	return nil
}

func (s *ReminderRepository) MarkCancelled(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	reminder, ok := s.reminders[id]
	if !ok {
		return fmt.Errorf("reminder not found")
	}
	switch reminder.DeliveryStatus {
	case model.ReminderStatusPending, model.ReminderStatusProcessing, model.ReminderStatusFailed:
		reminder.DeliveryStatus = model.ReminderStatusCancelled
		reminder.UpdatedAt = time.Now()
	}
	return nil
}

func (s *ReminderRepository) CancelPendingForAppointment(_ context.Context, appointmentID uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, r := range s.reminders {
		if r.AppointmentID == appointmentID && r.DeliveryStatus == model.ReminderStatusPending {
			r.DeliveryStatus = model.ReminderStatusCancelled
			r.UpdatedAt = time.Now()
			n++
		}
	}
	return n, nil
}
