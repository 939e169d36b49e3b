package models

import (
	"encoding/json"
	"fmt"
)

// EventType names a websocket event exchanged between clients and the server
type EventType string

const (
	EventJoinMeeting      EventType = "join-meeting"
	EventParticipantsList EventType = "participants-list"
	EventUserJoined       EventType = "user-joined"
	EventUserLeft         EventType = "user-left"
	EventSignal           EventType = "signal"
	EventChatMessage      EventType = "chat-message"
	EventMediaStateChange EventType = "media-state-change"
	EventLeaveMeeting     EventType = "leave-meeting"
	EventError            EventType = "error"
)

// Envelope is the frame carried by every websocket text message
type Envelope struct {
	Event EventType       `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope marshals data into an envelope for the given event
func NewEnvelope(event EventType, data any) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", event, err)
	}
	return Envelope{Event: event, Data: raw}, nil
}

// Decode unmarshals the envelope payload into v
func (e Envelope) Decode(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%s: empty payload", e.Event)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("%s: %w", e.Event, err)
	}
	return nil
}

// JoinMeeting is sent by a client to enter a meeting room
type JoinMeeting struct {
	UserID    string `json:"userId"`
	MeetingID string `json:"meetingId"`
}

// LeaveMeeting is sent by a client leaving a meeting room
type LeaveMeeting struct {
	UserID    string `json:"userId"`
	MeetingID string `json:"meetingId"`
}

// ParticipantInfo identifies a room member in rosters and user-joined events
type ParticipantInfo struct {
	UserID   string `json:"userId" msgpack:"userId"`
	Username string `json:"username" msgpack:"username"`
}

// UserLeft announces that a member left the room
type UserLeft struct {
	UserID string `json:"userId"`
}

// SignalRequest is a client's request to relay a negotiation blob.
// Signal is opaque to the server.
type SignalRequest struct {
	To     string          `json:"to"`
	From   string          `json:"from,omitempty"`
	Signal json.RawMessage `json:"signal"`
}

// SignalDelivery is what the addressed client receives
type SignalDelivery struct {
	UserID string          `json:"userId"`
	Signal json.RawMessage `json:"signal"`
}

// ChatMessage is an ephemeral text message
type ChatMessage struct {
	UserID    string `json:"userId"`
	Username  string `json:"username"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"` // unix milliseconds
}

// ChatRequest wraps an outgoing chat message; meetingId is stripped on rebroadcast
type ChatRequest struct {
	Message   ChatMessage `json:"message"`
	MeetingID string      `json:"meetingId"`
}

// MediaKind is the media type named in media-state-change events
type MediaKind string

const (
	MediaAudio MediaKind = "audio"
	MediaVideo MediaKind = "video"
)

// MediaStateChange is an advisory notice that a participant toggled a track
type MediaStateChange struct {
	MeetingID string    `json:"meetingId"`
	UserID    string    `json:"userId"`
	Type      MediaKind `json:"type"`
	Enabled   bool      `json:"enabled"`
}

// ErrorPayload reports a rejected request back to the sender
type ErrorPayload struct {
	Error string `json:"error"`
}
