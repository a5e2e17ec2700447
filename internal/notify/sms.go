package notify

import (
	"context"
	"fmt"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/jwalitptl/reminder-service/internal/config"
	"github.com/jwalitptl/reminder-service/internal/model"
)

// SMSMaxLength is the single-segment SMS limit. Content over the limit is
// hard-truncated, never rejected.
const SMSMaxLength = 160

// TruncateSMS cuts content to the SMS segment limit, counting runes so
// multibyte text is not split mid-character.
func TruncateSMS(content string) string {
	runes := []rune(content)
	if len(runes) <= SMSMaxLength {
		return content
	}
	return string(runes[:SMSMaxLength])
}

// SmsSender delivers through the Twilio REST API.
type SmsSender struct {
	client *twilio.RestClient
	from   string
}

func NewSmsSender(cfg config.SMSConfig) *SmsSender {
	return &SmsSender{
		client: twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: cfg.AccountSID,
			Password: cfg.AuthToken,
		}),
		from: cfg.FromNumber,
	}
}

func (s *SmsSender) Channel() model.DeliveryMethod { return model.DeliveryMethodSMS }

// Send transmits the content (subject is dropped; SMS has no subject line).
func (s *SmsSender) Send(ctx context.Context, recipient, _ string, content string) error {
	if recipient == "" {
		return fmt.Errorf("phone number is required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	params := &twilioApi.CreateMessageParams{}
	params.SetTo(recipient)
	params.SetFrom(s.from)
	params.SetBody(TruncateSMS(content))

	if _, err := s.client.Api.CreateMessage(params); err != nil {
		return fmt.Errorf("sms send failed: %w", err)
	}
	return nil
}
