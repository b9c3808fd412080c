package signaling

import (
	"encoding/json"

	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"github.com/gokul-gkm/devconnect-rtc/internal/auth"
)

// Handler consumes the raw payload of one inbound event.
type Handler = func(data json.RawMessage)

// Transport is the slice of the connection manager this client rides on.
type Transport interface {
	Emit(event Event, payload any) error
	On(event Event, h Handler)
	Off(event Event)
	JoinVideoRoom(join JoinRoom) error
	LeaveVideoRoom(leave LeaveRoom) error
}

// Client is the session-scoped signaling protocol layer: typed emit and
// subscribe for one call, with inbound filtering. Messages for a foreign
// room or originating from the local participant are silently discarded —
// stale listeners from a previous call are expected churn, not errors.
type Client struct {
	transport Transport
	sessionID string
	localID   string
	role      auth.Role
	isHost    bool
	log       *zap.Logger
}

// NewClient binds a signaling client to one call session.
func NewClient(t Transport, sessionID, localID string, role auth.Role, isHost bool) *Client {
	return &Client{
		transport: t,
		sessionID: sessionID,
		localID:   localID,
		role:      role,
		isHost:    isHost,
		log:       zap.L().Named("signaling").With(zap.String("sessionId", sessionID)),
	}
}

// SessionID returns the call session this client is scoped to.
func (c *Client) SessionID() string { return c.sessionID }

// LocalID returns the local participant id.
func (c *Client) LocalID() string { return c.localID }

// JoinRoom requests room membership; the server answers with session-info.
func (c *Client) JoinRoom() error {
	return c.transport.JoinVideoRoom(JoinRoom{
		RoomID: c.sessionID,
		UserID: c.localID,
		Role:   c.role,
		IsHost: c.isHost,
	})
}

// LeaveRoom announces departure from the call room.
func (c *Client) LeaveRoom() error {
	return c.transport.LeaveVideoRoom(LeaveRoom{
		RoomID: c.sessionID,
		UserID: c.localID,
		Role:   c.role,
	})
}

// SendOffer sends an SDP offer to one peer.
func (c *Client) SendOffer(to string, sdp webrtc.SessionDescription) error {
	return c.transport.Emit(EventOffer, Offer{
		SDP: sdp, From: c.localID, To: to, SessionID: c.sessionID,
	})
}

// SendAnswer sends an SDP answer to one peer.
func (c *Client) SendAnswer(to string, sdp webrtc.SessionDescription) error {
	return c.transport.Emit(EventAnswer, Answer{
		SDP: sdp, From: c.localID, To: to, SessionID: c.sessionID,
	})
}

// SendCandidate trickles one ICE candidate to a peer.
func (c *Client) SendCandidate(to string, cand *webrtc.ICECandidateInit) error {
	return c.transport.Emit(EventICECandidate, ICECandidate{
		Candidate: cand, From: c.localID, To: to,
	})
}

// NotifyScreenShare sends the advisory screen-sharing start/stop event.
func (c *Client) NotifyScreenShare(started bool) error {
	event := EventScreenShareStopped
	if started {
		event = EventScreenShareStarted
	}
	return c.transport.Emit(event, ScreenShare{RoomID: c.sessionID, UserID: c.localID})
}

// OnSessionInfo subscribes to the room roster broadcast.
func (c *Client) OnSessionInfo(fn func(SessionInfo)) {
	c.transport.On(EventSessionInfo, func(data json.RawMessage) {
		var info SessionInfo
		if !c.decode(EventSessionInfo, data, &info) {
			return
		}
		if info.RoomID != c.sessionID {
			c.log.Debug("roster for foreign room dropped", zap.String("roomId", info.RoomID))
			return
		}
		fn(info)
	})
}

// OnOffer subscribes to inbound offers addressed to the local participant.
func (c *Client) OnOffer(fn func(Offer)) {
	c.transport.On(EventOffer, func(data json.RawMessage) {
		var offer Offer
		if !c.decode(EventOffer, data, &offer) {
			return
		}
		if offer.SessionID != c.sessionID || offer.From == c.localID {
			return
		}
		fn(offer)
	})
}

// OnAnswer subscribes to inbound answers addressed to the local participant.
func (c *Client) OnAnswer(fn func(Answer)) {
	c.transport.On(EventAnswer, func(data json.RawMessage) {
		var answer Answer
		if !c.decode(EventAnswer, data, &answer) {
			return
		}
		if answer.SessionID != c.sessionID || answer.From == c.localID {
			return
		}
		fn(answer)
	})
}

// OnCandidate subscribes to trickled ICE candidates.
func (c *Client) OnCandidate(fn func(ICECandidate)) {
	c.transport.On(EventICECandidate, func(data json.RawMessage) {
		var cand ICECandidate
		if !c.decode(EventICECandidate, data, &cand) {
			return
		}
		if cand.From == c.localID || (cand.To != "" && cand.To != c.localID) {
			return
		}
		fn(cand)
	})
}

// OnUserDisconnected subscribes to room departures.
func (c *Client) OnUserDisconnected(fn func(UserDisconnected)) {
	c.transport.On(EventUserDisconnected, func(data json.RawMessage) {
		var dep UserDisconnected
		if !c.decode(EventUserDisconnected, data, &dep) {
			return
		}
		if dep.RoomID != c.sessionID || dep.UserID == c.localID {
			return
		}
		fn(dep)
	})
}

// OnScreenShare subscribes to the advisory screen-share notifications.
func (c *Client) OnScreenShare(started, stopped func(ScreenShare)) {
	sub := func(event Event, fn func(ScreenShare)) {
		c.transport.On(event, func(data json.RawMessage) {
			var ss ScreenShare
			if !c.decode(event, data, &ss) {
				return
			}
			if ss.RoomID != c.sessionID || ss.UserID == c.localID {
				return
			}
			fn(ss)
		})
	}
	sub(EventScreenShareStarted, started)
	sub(EventScreenShareStopped, stopped)
}

// Close unsubscribes every call-scope event this client registered.
func (c *Client) Close() {
	for _, event := range []Event{
		EventSessionInfo, EventOffer, EventAnswer, EventICECandidate,
		EventUserDisconnected, EventScreenShareStarted, EventScreenShareStopped,
	} {
		c.transport.Off(event)
	}
}

func (c *Client) decode(event Event, data json.RawMessage, v any) bool {
	if err := json.Unmarshal(data, v); err != nil {
		c.log.Debug("malformed payload dropped",
			zap.String("event", string(event)), zap.Error(err))
		return false
	}
	return true
}
