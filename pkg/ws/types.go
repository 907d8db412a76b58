package ws

import (
	"encoding/json"
	"time"
)

// EventType discriminates wire envelopes. The server dispatches inbound
// events over a closed set of types; every outbound payload carries one too.
type EventType string

// Inbound event types
const (
	EventAuth      EventType = "auth"
	EventJoinRoom  EventType = "join_room"
	EventLeaveRoom EventType = "leave_room"
	EventMessage   EventType = "message"
	EventTyping    EventType = "typing"
	EventPing      EventType = "ping"
	EventReaction  EventType = "reaction"

	EventPrivateMessage EventType = "private_message"
	EventPrivateHistory EventType = "private_history"
	EventPrivateRead    EventType = "private_read"
	EventPrivateDelete  EventType = "private_delete"
	EventBlockUser      EventType = "block_user"
	EventUnblockUser    EventType = "unblock_user"

	EventAppealSubmit  EventType = "appeal_submit"
	EventAppealResolve EventType = "appeal_resolve"

	EventExportRoom       EventType = "export_room"
	EventExportPrivate    EventType = "export_private"
	EventExportModeration EventType = "export_moderation"
)

// Outbound event types
const (
	EventAuthenticated EventType = "authenticated"
	EventJoined        EventType = "joined"
	EventUserJoined    EventType = "user_joined"
	EventUserLeft      EventType = "user_left"
	EventPong          EventType = "pong"
	EventError         EventType = "error"
	EventSystem        EventType = "system"
	EventCommandResult EventType = "command_result"
	EventChatHistory   EventType = "chat_history"
	EventPrivateAck    EventType = "private_ack"
	EventExportReady   EventType = "export_ready"
)

// Envelope is the framing for every message on the socket.
type Envelope struct {
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Marshal builds a wire-ready envelope around the given payload.
func Marshal(eventType EventType, payload any) ([]byte, error) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		raw = data
	}
	return json.Marshal(Envelope{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Payload:   raw,
	})
}

// MustMarshal is Marshal for payloads known to serialize; it returns nil on
// failure so callers can skip the send.
func MustMarshal(eventType EventType, payload any) []byte {
	data, err := Marshal(eventType, payload)
	if err != nil {
		return nil
	}
	return data
}

// Member describes one room member in snapshots and join/leave broadcasts.
type Member struct {
	Identity    string `json:"identity"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
}

// RelayKind enumerates the event kinds another process may ask this
// instance to fan out to its locally connected clients.
type RelayKind string

const (
	RelayMessage    RelayKind = "message"
	RelayUserJoined RelayKind = "user_joined"
	RelayUserLeft   RelayKind = "user_left"
	RelayTyping     RelayKind = "typing"
)

// RelayRequest is the body of a broadcast-relay submission.
type RelayRequest struct {
	RoomID  string          `json:"room_id"`
	Kind    RelayKind       `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// EventTypeForRelay maps a relay kind onto the outbound envelope type used
// for locally connected clients.
func EventTypeForRelay(kind RelayKind) (EventType, bool) {
	switch kind {
	case RelayMessage:
		return EventMessage, true
	case RelayUserJoined:
		return EventUserJoined, true
	case RelayUserLeft:
		return EventUserLeft, true
	case RelayTyping:
		return EventTyping, true
	default:
		return "", false
	}
}
