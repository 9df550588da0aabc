package ws

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fabriz042/Chat-test/internal/logging"
	"github.com/fabriz042/Chat-test/internal/metrics"
)

const (
	defaultRole    = "officer"
	namePrefix     = "Usuario-"
	welcomeMessage = "Welcome to the communication system, %s"
)

// Delivery summarizes one fan-out. Failed recipients have been scheduled for
// removal from the registry.
type Delivery struct {
	Recipients int `json:"recipients"`
	Delivered  int `json:"delivered"`
	Failed     int `json:"failed"`
}

// Hub is the channel broadcast engine. It turns inbound envelopes and system
// events into fan-out sends over the registry's membership, and it drives
// the join/leave notices that follow registry mutations.
type Hub struct {
	registry       *Registry
	defaultChannel string
	now            func() time.Time
}

// NewHub creates a Hub over registry. defaultChannel must belong to the
// registry's channel universe; it receives handshakes naming no or unknown
// channels.
func NewHub(registry *Registry, defaultChannel string) *Hub {
	return &Hub{
		registry:       registry,
		defaultChannel: defaultChannel,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// Registry returns the registry the hub routes over.
func (h *Hub) Registry() *Registry { return h.registry }

// HasChannel reports whether name is a known channel.
func (h *Hub) HasChannel(name string) bool { return h.registry.HasChannel(name) }

// DefaultChannel returns the fallback channel name.
func (h *Hub) DefaultChannel() string { return h.defaultChannel }

// Connect registers c from its handshake, acknowledges it with a welcome and
// then tells the rest of its channel about the arrival. The welcome is queued
// before the join notice goes out and c is excluded from that notice.
func (h *Hub) Connect(c *Client, hs Handshake) (ClientInfo, error) {
	log := logging.Component("ws")

	id := hs.ClientID
	if id == "" {
		id = uuid.New().String()
	}
	name := hs.Name
	if name == "" {
		suffix := id
		if len(suffix) > 4 {
			suffix = suffix[len(suffix)-4:]
		}
		name = namePrefix + suffix
	}
	role := hs.Role
	if role == "" {
		role = defaultRole
	}
	channel := hs.Channel
	if !h.registry.HasChannel(channel) {
		channel = h.defaultChannel
	}

	res, err := h.registry.Register(c, id, name, role, channel)
	if err != nil {
		return ClientInfo{}, err
	}
	if res.Replaced != nil {
		// The previous connection for this id is gone from the registry;
		// closing it stops its pumps without a second departure notice.
		res.Replaced.Close()
		metrics.ClientLeft(res.ReplacedInfo.Channel)
		log.Info().Str("client", id).Str("channel", res.ReplacedInfo.Channel).Msg("replaced previous connection")
		h.BroadcastToChannel(res.ReplacedInfo.Channel, h.notice(ActionUserLeft, res.ReplacedInfo), c)
	}
	metrics.ClientJoined(channel)

	info := res.Info
	h.sendTo(c, SystemMessage{
		Type:      "system",
		Action:    ActionConnected,
		ClientID:  info.ID,
		Channel:   info.Channel,
		Message:   fmt.Sprintf(welcomeMessage, info.Name),
		Timestamp: h.now(),
	})
	h.BroadcastToChannel(info.Channel, h.notice(ActionUserJoined, info), c)

	log.Info().Str("client", info.ID).Str("name", info.Name).Str("role", info.Role).
		Str("channel", info.Channel).Msg("client connected")
	return info, nil
}

// Disconnect removes c from the registry and notifies its former channel.
// Calling it for a connection that is already gone is a no-op, so transport
// errors, send failures and replacements can all trigger it.
func (h *Hub) Disconnect(c *Client) {
	info, err := h.registry.Unregister(c)
	if err != nil {
		return
	}
	c.Close()
	metrics.ClientLeft(info.Channel)

	h.BroadcastToChannel(info.Channel, h.notice(ActionUserLeft, info), nil)
	logging.Component("ws").Info().Str("client", info.ID).Str("channel", info.Channel).Msg("client disconnected")
}

// HandleInbound validates, stamps and dispatches one frame from c. Rejections
// are answered to c alone and returned to the caller.
func (h *Hub) HandleInbound(c *Client, raw []byte) error {
	info, ok := h.registry.Info(c)
	if !ok {
		return ErrNotFound
	}

	env, err := ParseEnvelope(raw)
	if err != nil {
		h.reject(c, CodeMalformedEnvelope, err.Error(), "")
		return err
	}
	metrics.EnvelopeRouted(string(env.Kind))

	switch env.Kind {
	case KindChat, KindAlert:
		payload, err := env.Stamp(Stamp{
			ClientID: info.ID,
			Name:     info.Name,
			Channel:  info.Channel,
			Time:     h.now(),
		})
		if err != nil {
			return fmt.Errorf("stamp envelope: %w", err)
		}
		var d Delivery
		if env.Kind == KindAlert {
			d = h.BroadcastToAll(payload)
		} else {
			d = h.BroadcastToChannel(info.Channel, payload, nil)
		}
		logging.Component("ws").Debug().Str("client", info.ID).Str("type", string(env.Kind)).
			Str("channel", info.Channel).Int("recipients", d.Recipients).Msg("envelope routed")
		return nil
	case KindCommand:
		return h.switchChannel(c, info, env.Target)
	}
	return nil
}

func (h *Hub) switchChannel(c *Client, info ClientInfo, target string) error {
	if !h.registry.HasChannel(target) {
		h.reject(c, CodeUnknownChannel, fmt.Sprintf("channel %q does not exist", target), target)
		return fmt.Errorf("%w: %q", ErrUnknownChannel, target)
	}

	if target != info.Channel {
		h.BroadcastToChannel(info.Channel, h.notice(ActionUserLeft, info), c)
		if err := h.registry.MoveChannel(c, info.Channel, target); err != nil {
			return err
		}
		metrics.ClientLeft(info.Channel)
		metrics.ClientJoined(target)

		moved := info
		moved.Channel = target
		h.BroadcastToChannel(target, h.notice(ActionUserJoined, moved), c)
	}

	h.sendTo(c, SystemMessage{
		Type:      "system",
		Action:    ActionChannelSwitched,
		Channel:   target,
		Timestamp: h.now(),
	})
	logging.Component("ws").Info().Str("client", info.ID).Str("from", info.Channel).Str("to", target).Msg("channel switched")
	return nil
}

// BroadcastToChannel sends payload to every member of channel except
// exclude. Every member is attempted; a member whose send fails is counted
// and scheduled for removal.
func (h *Hub) BroadcastToChannel(channel string, payload []byte, exclude *Client) Delivery {
	members, err := h.registry.Members(channel)
	if err != nil {
		logging.Component("ws").Warn().Err(err).Msg("broadcast to unknown channel")
		return Delivery{}
	}
	return h.fanOut(members, payload, exclude)
}

// BroadcastToAll sends payload once to every registered connection.
func (h *Hub) BroadcastToAll(payload []byte) Delivery {
	return h.fanOut(h.registry.All(), payload, nil)
}

// PushToClient sends a server event to the connection registered under id.
func (h *Hub) PushToClient(id, event string, data json.RawMessage) (Delivery, error) {
	c, ok := h.registry.Lookup(id)
	if !ok {
		return Delivery{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	payload, err := h.push(event, data)
	if err != nil {
		return Delivery{}, err
	}
	return h.fanOut([]*Client{c}, payload, nil), nil
}

// PushToRoles sends a server event to every connection whose role is listed.
func (h *Hub) PushToRoles(roles []string, event string, data json.RawMessage) (Delivery, error) {
	payload, err := h.push(event, data)
	if err != nil {
		return Delivery{}, err
	}
	return h.fanOut(h.registry.ByRoles(roles), payload, nil), nil
}

// Shutdown closes every connection's queue so the write pumps send a close
// frame; the read pumps then complete the disconnects.
func (h *Hub) Shutdown() {
	for _, c := range h.registry.All() {
		c.Close()
	}
}

func (h *Hub) fanOut(recipients []*Client, payload []byte, exclude *Client) Delivery {
	var d Delivery
	for _, c := range recipients {
		if c == exclude {
			continue
		}
		d.Recipients++
		if err := c.Send(payload); err != nil {
			d.Failed++
			metrics.SendFailed()
			logging.Component("ws").Warn().Str("conn", c.ConnID).Err(err).Msg("send failed, scheduling cleanup")
			h.scheduleCleanup(c)
			continue
		}
		d.Delivered++
	}
	return d
}

func (h *Hub) scheduleCleanup(c *Client) {
	go h.Disconnect(c)
}

func (h *Hub) push(event string, data json.RawMessage) ([]byte, error) {
	if len(data) > 0 && !json.Valid(data) {
		return nil, errors.New("push data is not valid JSON")
	}
	return json.Marshal(PushMessage{
		Type:      "notification",
		Event:     event,
		Data:      data,
		Timestamp: h.now(),
	})
}

func (h *Hub) notice(action string, info ClientInfo) []byte {
	data, _ := json.Marshal(SystemMessage{
		Type:      "system",
		Action:    action,
		ClientID:  info.ID,
		Name:      info.Name,
		Channel:   info.Channel,
		Timestamp: h.now(),
	})
	return data
}

func (h *Hub) reject(c *Client, code, message, channel string) {
	h.sendTo(c, ErrorMessage{
		Type:      "error",
		Code:      code,
		Message:   message,
		Channel:   channel,
		Timestamp: h.now(),
	})
}

func (h *Hub) sendTo(c *Client, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		logging.Component("ws").Error().Err(err).Msg("failed to marshal message")
		return
	}
	if err := c.Send(data); err != nil {
		metrics.SendFailed()
		h.scheduleCleanup(c)
	}
}
