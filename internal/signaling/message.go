package signaling

import (
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/gokul-gkm/devconnect-rtc/internal/auth"
)

// Event names every message carried over the signaling socket. The wire
// convention is an envelope of {"event": ..., "data": ...}.
type Event string

const (
	// Video call scope.
	EventJoinRoom           Event = "join-room"
	EventSessionInfo        Event = "session-info"
	EventOffer              Event = "offer"
	EventAnswer             Event = "answer"
	EventICECandidate       Event = "ice-candidate"
	EventUserDisconnected   Event = "user-disconnected"
	EventLeaveRoom          Event = "leave-room"
	EventScreenShareStarted Event = "screen-sharing-started"
	EventScreenShareStopped Event = "screen-sharing-stopped"

	// Connection scope, pushed by the server.
	EventNewAccessToken Event = "new-access-token"
	EventUserBlocked    Event = "user-blocked"

	// Chat scope. Pass-through only: payloads are opaque to this core.
	EventJoinChat    Event = "join-chat"
	EventLeaveChat   Event = "leave-chat"
	EventTyping      Event = "typing"
	EventMessageRead Event = "message-read"
)

// Envelope is the outer wire frame for every signaling message.
type Envelope struct {
	Event Event           `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// JoinRoom asks the server to add the local participant to a call room.
type JoinRoom struct {
	RoomID string    `json:"roomId"`
	UserID string    `json:"userId"`
	Role   auth.Role `json:"role"`
	IsHost bool      `json:"isHost"`
}

// Participant is one member of a room roster.
type Participant struct {
	ID     string    `json:"id"`
	Role   auth.Role `json:"role"`
	IsHost bool      `json:"isHost"`
}

// SessionInfo is the server's reply to join-room: the current roster.
type SessionInfo struct {
	RoomID       string        `json:"roomId"`
	Participants []Participant `json:"participants"`
}

// Offer carries an SDP offer between two participants.
type Offer struct {
	SDP       webrtc.SessionDescription `json:"sdp"`
	From      string                    `json:"from"`
	To        string                    `json:"to"`
	SessionID string                    `json:"sessionId"`
}

// Answer carries an SDP answer between two participants.
type Answer struct {
	SDP       webrtc.SessionDescription `json:"sdp"`
	From      string                    `json:"from"`
	To        string                    `json:"to"`
	SessionID string                    `json:"sessionId"`
}

// ICECandidate carries one trickled candidate. A nil Candidate is the
// end-of-candidates marker and is passed through as-is.
type ICECandidate struct {
	Candidate *webrtc.ICECandidateInit `json:"candidate"`
	From      string                   `json:"from"`
	To        string                   `json:"to"`
}

// UserDisconnected notifies that a participant left the room.
type UserDisconnected struct {
	UserID string `json:"userId"`
	RoomID string `json:"roomId"`
}

// LeaveRoom announces the local participant leaving a call room.
type LeaveRoom struct {
	RoomID string    `json:"roomId"`
	UserID string    `json:"userId"`
	Role   auth.Role `json:"role"`
}

// ScreenShare is the advisory start/stop notification. It is not
// required for media-path correctness.
type ScreenShare struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

// AccessToken is pushed by the server when it rotates the auth token.
type AccessToken struct {
	Token string `json:"token"`
}

// Marshal wraps a payload in the wire envelope.
func Marshal(event Event, payload any) ([]byte, error) {
	var data json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", event, err)
		}
		data = b
	}
	return json.Marshal(Envelope{Event: event, Data: data})
}

// Decode validates and parses an inbound envelope into its typed payload.
// Events this core does not consume decode to nil with no error; the
// caller dispatches on the concrete type.
func Decode(env Envelope) (any, error) {
	switch env.Event {
	case EventSessionInfo:
		return decodeAs[SessionInfo](env)
	case EventOffer:
		return decodeAs[Offer](env)
	case EventAnswer:
		return decodeAs[Answer](env)
	case EventICECandidate:
		return decodeAs[ICECandidate](env)
	case EventUserDisconnected:
		return decodeAs[UserDisconnected](env)
	case EventScreenShareStarted, EventScreenShareStopped:
		return decodeAs[ScreenShare](env)
	case EventNewAccessToken:
		return decodeAs[AccessToken](env)
	default:
		return nil, nil
	}
}

func decodeAs[T any](env Envelope) (T, error) {
	var v T
	if err := json.Unmarshal(env.Data, &v); err != nil {
		return v, fmt.Errorf("decode %s: %w", env.Event, err)
	}
	return v, nil
}
