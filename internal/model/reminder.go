package model

import (
	"time"

	"github.com/google/uuid"
)

type ReminderType string

const (
	ReminderTypeSevenDays ReminderType = "seven_days"
	ReminderTypeThreeDays ReminderType = "three_days"
	ReminderTypeOneDay    ReminderType = "one_day"
	ReminderTypeManual    ReminderType = "manual"
)

type ReminderStatus string

const (
	ReminderStatusPending    ReminderStatus = "pending"
	ReminderStatusProcessing ReminderStatus = "processing"
	ReminderStatusSent       ReminderStatus = "sent"
	ReminderStatusDelivered  ReminderStatus = "delivered"
	ReminderStatusFailed     ReminderStatus = "failed"
	ReminderStatusBounced    ReminderStatus = "bounced"
	ReminderStatusCancelled  ReminderStatus = "cancelled"
)

// reminderTransitions is the single source of truth for legal status moves.
// The dispatcher claims pending reminders by moving them to processing; only
// the health check may requeue a failed reminder back to pending.
var reminderTransitions = map[ReminderStatus][]ReminderStatus{
	ReminderStatusPending:    {ReminderStatusProcessing, ReminderStatusCancelled, ReminderStatusFailed},
	ReminderStatusProcessing: {ReminderStatusSent, ReminderStatusFailed, ReminderStatusCancelled, ReminderStatusPending},
	ReminderStatusSent:       {ReminderStatusDelivered, ReminderStatusBounced},
	ReminderStatusFailed:     {ReminderStatusPending, ReminderStatusCancelled},
}

// CanTransition reports whether moving from s to next is a legal status
// transition.
func (s ReminderStatus) CanTransition(next ReminderStatus) bool {
	for _, allowed := range reminderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further automatic work applies to the status.
func (s ReminderStatus) Terminal() bool {
	return s == ReminderStatusDelivered || s == ReminderStatusBounced || s == ReminderStatusCancelled
}

// Reminder is a scheduled intent to notify a patient about an upcoming
// appointment at a specific future time. Reminders are never deleted; a
// cancelled appointment cancels them in place.
type Reminder struct {
	ID             uuid.UUID      `db:"id" json:"id"`
	AppointmentID  uuid.UUID      `db:"appointment_id" json:"appointment_id"`
	Type           ReminderType   `db:"reminder_type" json:"reminder_type"`
	ScheduledAt    time.Time      `db:"scheduled_at" json:"scheduled_at"`
	DeliveryStatus ReminderStatus `db:"delivery_status" json:"delivery_status"`
	RetryCount     int            `db:"retry_count" json:"retry_count"`
	NextRetryAt    *time.Time     `db:"next_retry_at" json:"next_retry_at,omitempty"`
	SentAt         *time.Time     `db:"sent_at" json:"sent_at,omitempty"`
	ErrorMessage   *string        `db:"error_message" json:"error_message,omitempty"`
	Subject        *string        `db:"subject" json:"subject,omitempty"`
	MessageContent *string        `db:"message_content" json:"message_content,omitempty"`
	CreatedAt      time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at" json:"updated_at"`
}

// CreateManualReminderRequest carries an ad-hoc reminder whose subject and
// body are delivered verbatim.
type CreateManualReminderRequest struct {
	AppointmentID uuid.UUID `json:"appointment_id" validate:"required"`
	ScheduledAt   time.Time `json:"scheduled_at" validate:"required"`
	Subject       string    `json:"subject" validate:"required,max=200"`
	Content       string    `json:"content" validate:"required,max=2000"`
}
