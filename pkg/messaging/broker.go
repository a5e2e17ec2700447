package messaging

import (
	"context"
)

// Broker is the publish side of the ops alert channel. This service only
// produces alerts; consumers live in the admin/ops deployment and subscribe
// with their own clients.
type Broker interface {
	Publish(ctx context.Context, channel string, message interface{}) error
	Close() error
}

// Topics used by the reminder service. The admin/ops side subscribes to
// AlertsTopic to surface exhausted retries and degraded delivery health.
const (
	AlertsTopic = "reminders.alerts"
)

// Alert is the payload published on AlertsTopic.
type Alert struct {
	Type       string                 `json:"type"`
	Message    string                 `json:"message"`
	ReminderID string                 `json:"reminder_id,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// Alert types.
const (
	AlertRetriesExhausted = "retries_exhausted"
	AlertLowSuccessRate   = "low_success_rate"
	AlertMissingConfig    = "missing_channel_config"
)

// NoopBroker drops everything. Used when no broker is configured and in
// tests.
type NoopBroker struct{}

func (NoopBroker) Publish(context.Context, string, interface{}) error { return nil }

func (NoopBroker) Close() error { return nil }
