package notifications

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fabriz042/Chat-test/internal/notifications/channels"
)

type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// ChannelState is the outcome slot of one requested delivery channel.
type ChannelState string

const (
	StatePending   ChannelState = "pending"
	StateDelivered ChannelState = "delivered"
	StateFailed    ChannelState = "failed"
)

// Status is the overall state of a notification.
type Status string

const (
	StatusPending            Status = "pending"
	StatusProcessing         Status = "processing"
	StatusDelivered          Status = "delivered"
	StatusPartiallyDelivered Status = "partially_delivered"
	StatusFailed             Status = "failed"
)

// Terminal reports whether no further channel updates are accepted.
func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusPartiallyDelivered || s == StatusFailed
}

type TargetKind string

const (
	TargetUser      TargetKind = "user"
	TargetBroadcast TargetKind = "broadcast"
)

// Content is what the submitter asked for.
type Content struct {
	Title    string          `json:"title"`
	Message  string          `json:"message"`
	Priority Priority        `json:"priority"`
	Data     json.RawMessage `json:"data,omitempty"`
	UserID   string          `json:"user_id,omitempty"`
	Roles    []string        `json:"roles,omitempty"`
	Channels []string        `json:"channels"`
}

// Notification is the stored record, keyed by ID in the record store.
type Notification struct {
	ID          string                  `json:"notification_id"`
	Type        TargetKind              `json:"type"`
	Content     Content                 `json:"content"`
	Status      Status                  `json:"status"`
	Channels    map[string]ChannelState `json:"channels"`
	CreatedAt   time.Time               `json:"created_at"`
	DeliveredAt *time.Time              `json:"delivered_at,omitempty"`
}

func (n *Notification) message() channels.Message {
	return channels.Message{
		NotificationID: n.ID,
		Title:          n.Content.Title,
		Body:           n.Content.Message,
		Priority:       string(n.Content.Priority),
		Data:           n.Content.Data,
		UserID:         n.Content.UserID,
		Roles:          n.Content.Roles,
		CreatedAt:      n.CreatedAt,
	}
}

// Aggregate derives the overall status from the per-channel slots. While any
// slot is pending the notification is still processing.
func Aggregate(states map[string]ChannelState) Status {
	delivered, failed := 0, 0
	for _, s := range states {
		switch s {
		case StateDelivered:
			delivered++
		case StateFailed:
			failed++
		default:
			return StatusProcessing
		}
	}
	switch {
	case failed == 0 && delivered > 0:
		return StatusDelivered
	case delivered == 0:
		return StatusFailed
	default:
		return StatusPartiallyDelivered
	}
}

var supportedChannels = map[string]string{
	channels.TypeSocket: channels.TypeSocket,
	"websocket":         channels.TypeSocket,
	channels.TypeEmail:  channels.TypeEmail,
	channels.TypeSMS:    channels.TypeSMS,
}

// normalizeChannels canonicalizes a requested channel list. An omitted list
// (nil) means socket only; an explicitly empty list is rejected.
func normalizeChannels(requested []string) ([]string, error) {
	if requested == nil {
		return []string{channels.TypeSocket}, nil
	}
	if len(requested) == 0 {
		return nil, fmt.Errorf("%w: at least one channel is required", ErrInvalidChannelSet)
	}

	seen := make(map[string]bool, len(requested))
	out := make([]string, 0, len(requested))
	for _, r := range requested {
		name, ok := supportedChannels[strings.ToLower(strings.TrimSpace(r))]
		if !ok {
			return nil, fmt.Errorf("%w: unsupported channel %q", ErrInvalidChannelSet, r)
		}
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	return out, nil
}

func newID(prefix string, now time.Time) string {
	return fmt.Sprintf("%s-%s-%s", prefix, now.UTC().Format("20060102150405"), uuid.New().String()[:8])
}
