// Package notify holds the channel senders. A sender performs exactly one
// synchronous send and reports the outcome; all retry policy lives in the
// dispatcher.
package notify

import (
	"context"

	"github.com/jwalitptl/reminder-service/internal/model"
)

type Sender interface {
	Channel() model.DeliveryMethod
	Send(ctx context.Context, recipient, subject, content string) error
}
