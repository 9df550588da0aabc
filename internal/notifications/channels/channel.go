package channels

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/fabriz042/Chat-test/internal/identity"
)

// Delivery channel type identifiers.
const (
	TypeSocket = "socket"
	TypeEmail  = "email"
	TypeSMS    = "sms"
)

var (
	// ErrNoRecipients means the target resolved to nobody reachable on the
	// channel (no live connection, no address on file).
	ErrNoRecipients = errors.New("no reachable recipients")
	// ErrRejected means the downstream service refused the request.
	ErrRejected = errors.New("delivery rejected")
)

// Message is the content of one notification as handed to a channel. A
// message targets either one user (UserID) or every user holding one of Roles.
type Message struct {
	NotificationID string
	Title          string
	Body           string
	Priority       string
	Data           json.RawMessage
	UserID         string
	Roles          []string
	CreatedAt      time.Time
}

// Broadcast reports whether the message targets roles rather than one user.
func (m Message) Broadcast() bool { return m.UserID == "" }

// Channel delivers a message through one medium. recipients holds the
// directory records resolved for the target; channels that address users by
// id alone may ignore it. Send must honor ctx cancellation.
type Channel interface {
	Send(ctx context.Context, msg Message, recipients []identity.User) error

	// Type returns the channel type identifier (e.g. "email", "sms").
	Type() string

	// NeedsRecipients reports whether Send uses resolved directory records.
	NeedsRecipients() bool
}
