package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Channel names a logical stream on the broadcast transport.
type Channel string

const (
	ChannelDiscovery  Channel = "discovery"
	ChannelMembership Channel = "membership"
	ChannelHeartbeat  Channel = "heartbeat"
	ChannelCommand    Channel = "command"
)

// Channels lists every channel a node listens on.
var Channels = []Channel{ChannelDiscovery, ChannelMembership, ChannelHeartbeat, ChannelCommand}

// Kind is the primary discriminant of the message union.
type Kind string

const (
	KindPing         Kind = "PING"
	KindStatus       Kind = "STATUS"
	KindRegister     Kind = "REGISTER"
	KindRegistered   Kind = "REGISTERED"
	KindHeartbeat    Kind = "HEARTBEAT"
	KindHeartbeatAck Kind = "HEARTBEAT_ACK"
	KindCommand      Kind = "COMMAND"
)

// Channel returns the channel a kind travels on.
func (k Kind) Channel() Channel {
	switch k {
	case KindPing, KindStatus:
		return ChannelDiscovery
	case KindRegister, KindRegistered:
		return ChannelMembership
	case KindHeartbeat, KindHeartbeatAck:
		return ChannelHeartbeat
	default:
		return ChannelCommand
	}
}

// Action is the secondary discriminant of COMMAND messages.
type Action string

const (
	ActionDispatch         Action = "dispatch"
	ActionSetSwitch        Action = "set_switch"
	ActionBrake            Action = "brake"
	ActionDispatchFromBay  Action = "dispatch_from_bay"
	ActionRequestTrain     Action = "request_train"
	ActionRequestDispatch  Action = "request_dispatch"
	ActionTrainUnavailable Action = "train_unavailable"
)

// Valid reports whether the action is part of the command set.
func (a Action) Valid() bool {
	switch a {
	case ActionDispatch, ActionSetSwitch, ActionBrake, ActionDispatchFromBay,
		ActionRequestTrain, ActionRequestDispatch, ActionTrainUnavailable:
		return true
	}
	return false
}

// Message is the envelope carried by the transport.
// An empty To means broadcast.
type Message struct {
	ID      string          `json:"id"`
	Kind    Kind            `json:"kind"`
	Action  Action          `json:"action,omitempty"`
	From    string          `json:"from"`
	To      string          `json:"to,omitempty"`
	ReplyTo string          `json:"reply_to,omitempty"`
	SentAt  time.Time       `json:"sent_at"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewMessage builds an envelope with a fresh id and an encoded payload.
func NewMessage(kind Kind, from, to string, payload any) (Message, error) {
	msg := Message{
		ID:     uuid.NewString(),
		Kind:   kind,
		From:   from,
		To:     to,
		SentAt: time.Now(),
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Message{}, fmt.Errorf("failed to encode %s payload: %w", kind, err)
		}
		msg.Payload = data
	}
	return msg, nil
}

// NewCommand builds a COMMAND envelope for the given action.
func NewCommand(action Action, from, to string, args any) (Message, error) {
	msg, err := NewMessage(KindCommand, from, to, args)
	if err != nil {
		return Message{}, err
	}
	msg.Action = action
	return msg, nil
}

// Reply builds a response addressed to the sender of m.
func (m Message) Reply(kind Kind, from string, payload any) (Message, error) {
	reply, err := NewMessage(kind, from, m.From, payload)
	if err != nil {
		return Message{}, err
	}
	reply.ReplyTo = m.ID
	return reply, nil
}

// Channel returns the channel the message travels on.
func (m Message) Channel() Channel {
	return m.Kind.Channel()
}

// Decode unmarshals the payload into v. An empty payload leaves v untouched.
func (m Message) Decode(v any) error {
	if len(m.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", m.Kind, err)
	}
	return nil
}

// For reports whether node should process the message.
func (m Message) For(node string) bool {
	return m.To == "" || m.To == node
}

// StatusPayload answers a PING.
type StatusPayload struct {
	HubID    string          `json:"hub_id"`
	Label    string          `json:"label"`
	Registry []StationRecord `json:"registry"`
}

// RegisterPayload announces a remote station to the hub.
type RegisterPayload struct {
	Identity StationIdentity `json:"identity"`
	Switches []SwitchDevice  `json:"switches"`
}

// RegisteredPayload acknowledges a REGISTER.
type RegisteredPayload struct {
	HubID    string          `json:"hub_id"`
	Registry []StationRecord `json:"registry"`
}

// HeartbeatPayload is the periodic liveness report of a remote.
type HeartbeatPayload struct {
	Label         string `json:"label,omitempty"`
	HasTrain      bool   `json:"has_train"`
	PlayersNearby bool   `json:"players_nearby"`
	Phase         Phase  `json:"phase,omitempty"`
}

// HeartbeatAckPayload carries the registry snapshot back to the remote.
type HeartbeatAckPayload struct {
	Registry []StationRecord `json:"registry"`
	Lock     SwitchLock      `json:"lock"`
}

// SetSwitchArgs are the arguments of a set_switch command.
type SetSwitchArgs struct {
	Index int  `json:"index"`
	State bool `json:"state"`
}

// BayArgs are the arguments of a dispatch_from_bay command.
type BayArgs struct {
	Index int `json:"index"`
}

// RequestTrainArgs ask the hub for a train bound to Destination.
type RequestTrainArgs struct {
	Destination string `json:"destination"`
}

// RequestDispatchArgs tell the hub a station is dispatching a train towards Destination.
type RequestDispatchArgs struct {
	Destination string `json:"destination"`
}

// TrainUnavailableArgs explain why a train request was refused.
type TrainUnavailableArgs struct {
	Reason string `json:"reason"`
}
