package ws

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind is the discriminant of an inbound envelope.
type Kind string

const (
	KindChat    Kind = "message"   // routed to the sender's channel
	KindAlert   Kind = "emergency" // routed to every channel
	KindCommand Kind = "command"   // control message, answered to the sender only
)

// CommandSwitchChannel moves the sender to params.channel.
const CommandSwitchChannel = "switch_channel"

// System notice actions.
const (
	ActionConnected       = "connected"
	ActionUserJoined      = "user_joined"
	ActionUserLeft        = "user_left"
	ActionChannelSwitched = "channel_switched"
)

// Rejection codes carried by ErrorMessage.
const (
	CodeMalformedEnvelope = "malformed_envelope"
	CodeUnknownChannel    = "unknown_channel"
)

// Envelope is a validated inbound message. Fields other than the ones the
// hub interprets are carried through untouched to recipients.
type Envelope struct {
	Kind    Kind
	Command string
	// Target is the requested channel of a switch_channel command.
	Target string

	fields map[string]json.RawMessage
}

// ParseEnvelope validates the shape of an inbound frame. A missing type is
// treated as a chat message.
func ParseEnvelope(raw []byte) (*Envelope, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if fields == nil {
		return nil, fmt.Errorf("%w: expected a JSON object", ErrMalformedEnvelope)
	}

	env := &Envelope{Kind: KindChat, fields: fields}
	if _, ok := fields["type"]; ok {
		t, err := stringField(fields, "type")
		if err != nil {
			return nil, err
		}
		env.Kind = Kind(t)
	}

	switch env.Kind {
	case KindChat, KindAlert:
		if _, err := stringField(fields, "text"); err != nil {
			return nil, err
		}
	case KindCommand:
		cmd, err := stringField(fields, "command")
		if err != nil {
			return nil, err
		}
		env.Command = cmd
		if cmd != CommandSwitchChannel {
			return nil, fmt.Errorf("%w: unsupported command %q", ErrMalformedEnvelope, cmd)
		}
		var params struct {
			Channel string `json:"channel"`
		}
		rawParams, ok := fields["params"]
		if !ok {
			return nil, fmt.Errorf("%w: missing params", ErrMalformedEnvelope)
		}
		if err := json.Unmarshal(rawParams, &params); err != nil || params.Channel == "" {
			return nil, fmt.Errorf("%w: params.channel is required", ErrMalformedEnvelope)
		}
		env.Target = params.Channel
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrMalformedEnvelope, env.Kind)
	}
	return env, nil
}

func stringField(fields map[string]json.RawMessage, key string) (string, error) {
	raw, ok := fields[key]
	if !ok {
		return "", fmt.Errorf("%w: missing %s", ErrMalformedEnvelope, key)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil || s == "" {
		return "", fmt.Errorf("%w: %s must be a non-empty string", ErrMalformedEnvelope, key)
	}
	return s, nil
}

// Stamp carries the sender metadata added to every distributed envelope.
type Stamp struct {
	ClientID string
	Name     string
	Channel  string
	Time     time.Time
}

// Stamp encodes the envelope with the sender metadata applied. The result is
// encoded once and shared by every recipient; sender-supplied values for the
// stamped keys are overwritten.
func (e *Envelope) Stamp(s Stamp) ([]byte, error) {
	out := make(map[string]interface{}, len(e.fields)+5)
	for k, v := range e.fields {
		out[k] = v
	}
	out["type"] = string(e.Kind)
	out["client_id"] = s.ClientID
	out["name"] = s.Name
	out["channel"] = s.Channel
	out["timestamp"] = s.Time.UTC().Format(time.RFC3339Nano)
	return json.Marshal(out)
}

// Handshake is the first frame a client sends after the upgrade.
type Handshake struct {
	ClientID string `json:"client_id"`
	Name     string `json:"name"`
	Role     string `json:"role"`
	Channel  string `json:"channel"`
}

// ParseHandshake decodes the initial frame. Both client_id and clientId are
// accepted for the identifier.
func ParseHandshake(raw []byte) (Handshake, error) {
	var hs struct {
		Handshake
		ClientIDCamel string `json:"clientId"`
	}
	if err := json.Unmarshal(raw, &hs); err != nil {
		return Handshake{}, fmt.Errorf("%w: handshake: %v", ErrMalformedEnvelope, err)
	}
	if hs.ClientID == "" {
		hs.ClientID = hs.ClientIDCamel
	}
	return hs.Handshake, nil
}

// SystemMessage is a notice generated by the hub itself.
type SystemMessage struct {
	Type      string    `json:"type"`
	Action    string    `json:"action"`
	ClientID  string    `json:"client_id,omitempty"`
	Name      string    `json:"name,omitempty"`
	Channel   string    `json:"channel"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorMessage is a rejection sent only to the client that caused it.
type ErrorMessage struct {
	Type      string    `json:"type"`
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Channel   string    `json:"channel,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// PushMessage is a server-initiated event, e.g. a notification delivered
// through the push API.
type PushMessage struct {
	Type      string          `json:"type"`
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}
