package model

import (
	"time"

	"github.com/google/uuid"
)

// ContactMethod names a communication channel a patient can be reached on.
type ContactMethod string

const (
	ContactMethodLine  ContactMethod = "line"
	ContactMethodEmail ContactMethod = "email"
	ContactMethodSMS   ContactMethod = "sms"
)

// Patient is owned by the web layer and read here only to resolve the
// delivery channel for a reminder.
type Patient struct {
	ID                     uuid.UUID     `db:"id" json:"id"`
	Name                   string        `db:"name" json:"name"`
	LineUserID             string        `db:"line_user_id" json:"line_user_id,omitempty"`
	Email                  string        `db:"email" json:"email,omitempty"`
	Phone                  string        `db:"phone" json:"phone,omitempty"`
	PreferredContactMethod ContactMethod `db:"preferred_contact_method" json:"preferred_contact_method,omitempty"`
	CreatedAt              time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt              time.Time     `db:"updated_at" json:"updated_at"`
}

// ContactFor returns the recipient identifier for the given method and
// whether the patient actually has one.
func (p *Patient) ContactFor(method ContactMethod) (string, bool) {
	switch method {
	case ContactMethodLine:
		return p.LineUserID, p.LineUserID != ""
	case ContactMethodEmail:
		return p.Email, p.Email != ""
	case ContactMethodSMS:
		return p.Phone, p.Phone != ""
	}
	return "", false
}
