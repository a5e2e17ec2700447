package model

import (
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	AppointmentStatusBooked    AppointmentStatus = "booked"
	AppointmentStatusVisited   AppointmentStatus = "visited"
	AppointmentStatusCompleted AppointmentStatus = "completed"
	AppointmentStatusCancelled AppointmentStatus = "cancelled"
	AppointmentStatusNoShow    AppointmentStatus = "no_show"
)

// Appointment is owned by the practice-management web layer; this service
// reads it to decide whether and when to remind.
type Appointment struct {
	ID            uuid.UUID         `db:"id" json:"id"`
	PatientID     uuid.UUID         `db:"patient_id" json:"patient_id"`
	ScheduledAt   time.Time         `db:"scheduled_at" json:"scheduled_at"`
	Status        AppointmentStatus `db:"status" json:"status"`
	TreatmentType string            `db:"treatment_type" json:"treatment_type,omitempty"`
	CancelReason  *string           `db:"cancel_reason" json:"cancel_reason,omitempty"`
	CreatedAt     time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time         `db:"updated_at" json:"updated_at"`
}

// RemindersAllowed reports whether the appointment may receive reminders.
// Cancelled and no-show appointments must never be reminded.
func (a *Appointment) RemindersAllowed() bool {
	return a.Status == AppointmentStatusBooked || a.Status == AppointmentStatusVisited
}
