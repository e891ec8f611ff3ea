// Package realtime carries chat events between connected users. The Channel
// applies inbound client events to the conversation store and relays the
// results; transports (WebSocket, gRPC stream) only move envelopes.
package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/PaulBabatuyi/recircle-chat/internal/data"

	"github.com/go-playground/validator/v10"
)

// Client to server events.
const (
	EventChatNew    = "chat:new"
	EventChatTyping = "chat:typing"
	EventChatSeen   = "chat:seen"
)

// Server to client events. chat:typing and chat:seen reuse the client names.
const (
	EventChatMessage = "chat:message"
	EventError       = "error"
)

// Error codes carried by error events.
const (
	CodeInvalidArgument = "invalid_argument"
	CodeNotFound        = "not_found"
	CodeUnauthorized    = "unauthorized"
	CodeRateLimited     = "rate_limited"
	CodeInternal        = "internal"
)

// Envelope is the frame exchanged on every transport. Data is decoded
// according to Event.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope marshals data under the given event name.
func NewEnvelope(event string, data any) (Envelope, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s: %w", event, err)
	}
	return Envelope{Event: event, Data: b}, nil
}

// UserRef names a user inside a client payload.
type UserRef struct {
	ID string `json:"id" validate:"required"`
}

// OutgoingMessage is the message part of chat:new.
type OutgoingMessage struct {
	// ID is the client's provisional id, echoed back as clientId.
	ID   string    `json:"id,omitempty" validate:"omitempty,max=64"`
	Text string    `json:"text" validate:"required,max=4000"`
	Time time.Time `json:"time"`
	User UserRef   `json:"user" validate:"required"`
}

// NewChat is the chat:new payload.
type NewChat struct {
	ConversationID string          `json:"conversationId" validate:"required"`
	To             string          `json:"to" validate:"required"`
	Message        OutgoingMessage `json:"message" validate:"required"`
}

// TypingIn is the chat:typing payload from a client. It is only relayed to
// users the sender already has a conversation with.
type TypingIn struct {
	To     string `json:"to" validate:"required"`
	Active bool   `json:"active"`
}

// SeenIn is the chat:seen payload from a client.
type SeenIn struct {
	ConversationID string `json:"conversationId" validate:"required"`
	// MessageID only lets the receiving client correlate its UI state; the
	// store marks every entry from PeerID as seen, not just this one.
	MessageID string `json:"messageId"`
	PeerID    string `json:"peerId" validate:"required"`
}

// DeliveredMessage is the message part of chat:message.
type DeliveredMessage struct {
	ID       string       `json:"id"`
	ClientID string       `json:"clientId,omitempty"`
	Text     string       `json:"text"`
	Time     time.Time    `json:"time"`
	Viewed   bool         `json:"viewed"`
	User     data.Profile `json:"user"`
}

// MessageOut is the chat:message payload sent to the recipient.
type MessageOut struct {
	ConversationID string           `json:"conversationId"`
	From           data.Profile     `json:"from"`
	Message        DeliveredMessage `json:"message"`
}

// TypingOut is the chat:typing payload sent to the addressed user.
type TypingOut struct {
	From   string `json:"from"`
	Active bool   `json:"active"`
}

// SeenOut is the chat:seen acknowledgment sent to the peer whose messages
// were marked seen.
type SeenOut struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
	PeerID         string `json:"peerId"`
}

// ErrorOut reports a failed client event. The connection stays open.
type ErrorOut struct {
	Event   string `json:"event,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// errBadPayload wraps decode and validation failures of a client event.
var errBadPayload = errors.New("bad payload")

var validate = validator.New(validator.WithRequiredStructEnabled())

// decode unmarshals and validates the payload of a client event.
func decode[T any](env Envelope) (*T, error) {
	var v T
	if len(env.Data) == 0 {
		return nil, fmt.Errorf("%w: %s has no data", errBadPayload, env.Event)
	}
	if err := json.Unmarshal(env.Data, &v); err != nil {
		return nil, fmt.Errorf("%w: %v", errBadPayload, err)
	}
	if err := validate.Struct(&v); err != nil {
		return nil, fmt.Errorf("%w: %v", errBadPayload, err)
	}
	return &v, nil
}
