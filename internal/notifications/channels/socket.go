package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fabriz042/Chat-test/internal/identity"
	"github.com/fabriz042/Chat-test/internal/ws"
)

const pushEvent = "notification"

// Pusher reaches live connections on the hub.
type Pusher interface {
	PushToUser(ctx context.Context, userID, event string, data json.RawMessage) error
	PushToRoles(ctx context.Context, roles []string, event string, data json.RawMessage) error
}

// SocketChannel delivers notifications to live hub connections.
type SocketChannel struct {
	pusher Pusher
}

func NewSocketChannel(p Pusher) *SocketChannel {
	return &SocketChannel{pusher: p}
}

func (c *SocketChannel) Type() string          { return TypeSocket }
func (c *SocketChannel) NeedsRecipients() bool { return false }

// Send pushes to the target user's connection, or to every connection whose
// role matches for broadcasts. A broadcast with no matching connection is
// not an error.
func (c *SocketChannel) Send(ctx context.Context, msg Message, _ []identity.User) error {
	data, err := json.Marshal(socketPayload{
		NotificationID: msg.NotificationID,
		Title:          msg.Title,
		Message:        msg.Body,
		Priority:       msg.Priority,
		Data:           msg.Data,
		Timestamp:      msg.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("marshal socket payload: %w", err)
	}

	if msg.Broadcast() {
		return c.pusher.PushToRoles(ctx, msg.Roles, pushEvent, data)
	}
	return c.pusher.PushToUser(ctx, msg.UserID, pushEvent, data)
}

type socketPayload struct {
	NotificationID string          `json:"notification_id"`
	Title          string          `json:"title"`
	Message        string          `json:"message"`
	Priority       string          `json:"priority"`
	Data           json.RawMessage `json:"data,omitempty"`
	Timestamp      time.Time       `json:"timestamp"`
}

// HubPusher pushes through an in-process hub.
type HubPusher struct {
	hub *ws.Hub
}

func NewHubPusher(hub *ws.Hub) *HubPusher {
	return &HubPusher{hub: hub}
}

func (p *HubPusher) PushToUser(_ context.Context, userID, event string, data json.RawMessage) error {
	d, err := p.hub.PushToClient(userID, event, data)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNoRecipients, err)
	}
	if d.Delivered == 0 {
		return fmt.Errorf("%w: user %s connection not writable", ErrNoRecipients, userID)
	}
	return nil
}

func (p *HubPusher) PushToRoles(_ context.Context, roles []string, event string, data json.RawMessage) error {
	_, err := p.hub.PushToRoles(roles, event, data)
	return err
}

// HTTPPusher pushes through a remote hub's push API.
type HTTPPusher struct {
	baseURL string
	client  *http.Client
}

func NewHTTPPusher(baseURL string) *HTTPPusher {
	return &HTTPPusher{baseURL: strings.TrimRight(baseURL, "/"), client: &http.Client{}}
}

func (p *HTTPPusher) PushToUser(ctx context.Context, userID, event string, data json.RawMessage) error {
	return p.post(ctx, "/api/v1/send/user/"+url.PathEscape(userID), map[string]interface{}{
		"event": event,
		"data":  data,
	})
}

func (p *HTTPPusher) PushToRoles(ctx context.Context, roles []string, event string, data json.RawMessage) error {
	return p.post(ctx, "/api/v1/broadcast", map[string]interface{}{
		"roles": roles,
		"event": event,
		"data":  data,
	})
}

func (p *HTTPPusher) post(ctx context.Context, path string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("hub request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound, resp.StatusCode == http.StatusServiceUnavailable:
		return fmt.Errorf("%w: hub returned status %d", ErrNoRecipients, resp.StatusCode)
	case resp.StatusCode >= 300:
		return fmt.Errorf("%w: hub returned status %d", ErrRejected, resp.StatusCode)
	}
	return nil
}
