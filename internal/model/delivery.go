package model

import (
	"time"

	"github.com/google/uuid"
)

// DeliveryMethod names the channel a delivery went out on.
type DeliveryMethod string

const (
	DeliveryMethodLine  DeliveryMethod = "line"
	DeliveryMethodEmail DeliveryMethod = "email"
	DeliveryMethodSMS   DeliveryMethod = "sms"
)

type DeliveryStatus string

const (
	DeliveryStatusPending DeliveryStatus = "pending"
	DeliveryStatusSent    DeliveryStatus = "sent"
	DeliveryStatusFailed  DeliveryStatus = "failed"
	DeliveryStatusOpened  DeliveryStatus = "opened"
	DeliveryStatusRead    DeliveryStatus = "read"
)

// Delivery is the durable evidence of one concrete send attempt. Rows are
// updated in place when an attempt is retried and are never deleted.
type Delivery struct {
	ID            uuid.UUID      `db:"id" json:"id"`
	PatientID     uuid.UUID      `db:"patient_id" json:"patient_id"`
	AppointmentID *uuid.UUID     `db:"appointment_id" json:"appointment_id,omitempty"`
	ReminderID    *uuid.UUID     `db:"reminder_id" json:"reminder_id,omitempty"`
	Method        DeliveryMethod `db:"delivery_method" json:"delivery_method"`
	ReminderType  ReminderType   `db:"reminder_type" json:"reminder_type"`
	Status        DeliveryStatus `db:"status" json:"status"`
	Subject       string         `db:"subject" json:"subject"`
	Content       string         `db:"content" json:"content"`
	SentAt        *time.Time     `db:"sent_at" json:"sent_at,omitempty"`
	OpenedAt      *time.Time     `db:"opened_at" json:"opened_at,omitempty"`
	ReadAt        *time.Time     `db:"read_at" json:"read_at,omitempty"`
	ErrorMessage  *string        `db:"error_message" json:"error_message,omitempty"`
	RetryCount    int            `db:"retry_count" json:"retry_count"`
	CreatedAt     time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at" json:"updated_at"`
}

// DeliveryStats aggregates attempt outcomes over a reporting window.
type DeliveryStats struct {
	Sent   int `db:"sent"`
	Failed int `db:"failed"`
}

// Attempts is the total number of concluded attempts in the window.
func (s DeliveryStats) Attempts() int { return s.Sent + s.Failed }

// SuccessRate returns sent/(sent+failed), or 1 when there were no attempts.
func (s DeliveryStats) SuccessRate() float64 {
	if s.Attempts() == 0 {
		return 1
	}
	return float64(s.Sent) / float64(s.Attempts())
}
