package channels

import (
	"context"
	"fmt"
	"time"

	"github.com/fabriz042/Chat-test/internal/identity"
	"github.com/fabriz042/Chat-test/internal/logging"
)

// SMSChannel stands in for an SMS provider. It waits latency, logs the
// message and reports success, unless ctx ends first.
type SMSChannel struct {
	latency time.Duration
}

func NewSMSChannel(latency time.Duration) *SMSChannel {
	return &SMSChannel{latency: latency}
}

func (c *SMSChannel) Type() string          { return TypeSMS }
func (c *SMSChannel) NeedsRecipients() bool { return true }

func (c *SMSChannel) Send(ctx context.Context, msg Message, recipients []identity.User) error {
	var phones []string
	for _, u := range recipients {
		if u.Phone != "" {
			phones = append(phones, u.Phone)
		}
	}

	t := time.NewTimer(c.latency)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("sms send: %w", ctx.Err())
	case <-t.C:
	}

	logging.Component("notifications").Info().
		Str("notification", msg.NotificationID).
		Int("phones", len(phones)).
		Str("message", msg.Body).
		Msg("sms notification would be sent")
	return nil
}
