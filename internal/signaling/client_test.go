package signaling

import (
	"encoding/json"
	"testing"

	"github.com/pion/webrtc/v4"

	"github.com/gokul-gkm/devconnect-rtc/internal/auth"
)

// fakeTransport records emits and lets tests deliver inbound frames
// straight to registered handlers.
type fakeTransport struct {
	emitted  []Envelope
	handlers map[Event]Handler
	joins    []JoinRoom
	leaves   []LeaveRoom
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{handlers: make(map[Event]Handler)}
}

func (f *fakeTransport) Emit(event Event, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	f.emitted = append(f.emitted, Envelope{Event: event, Data: data})
	return nil
}

func (f *fakeTransport) On(event Event, h Handler) { f.handlers[event] = h }
func (f *fakeTransport) Off(event Event)           { delete(f.handlers, event) }
func (f *fakeTransport) JoinVideoRoom(j JoinRoom) error {
	f.joins = append(f.joins, j)
	return nil
}
func (f *fakeTransport) LeaveVideoRoom(l LeaveRoom) error {
	f.leaves = append(f.leaves, l)
	return nil
}

// deliver pushes a payload at the handler registered for event.
func (f *fakeTransport) deliver(t *testing.T, event Event, payload any) {
	t.Helper()
	h, ok := f.handlers[event]
	if !ok {
		t.Fatalf("No handler registered for %s", event)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("Marshal payload: %v", err)
	}
	h(data)
}

func testSDP() webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0\r\n"}
}

func TestJoinRoomCarriesIdentity(t *testing.T) {
	tr := newFakeTransport()
	c := NewClient(tr, "sess-1", "me", auth.RoleDeveloper, true)

	if err := c.JoinRoom(); err != nil {
		t.Fatalf("JoinRoom failed: %v", err)
	}
	if len(tr.joins) != 1 {
		t.Fatalf("Expected 1 join, got %d", len(tr.joins))
	}
	j := tr.joins[0]
	if j.RoomID != "sess-1" || j.UserID != "me" || j.Role != auth.RoleDeveloper || !j.IsHost {
		t.Fatalf("Join payload %+v missing identity", j)
	}
}

func TestOnOfferFiltering(t *testing.T) {
	tr := newFakeTransport()
	c := NewClient(tr, "sess-1", "me", auth.RoleUser, false)

	var got []Offer
	c.OnOffer(func(o Offer) { got = append(got, o) })

	cases := []struct {
		name  string
		offer Offer
		want  bool
	}{
		{"from peer in our room", Offer{SDP: testSDP(), From: "peer", SessionID: "sess-1"}, true},
		{"foreign room", Offer{SDP: testSDP(), From: "peer", SessionID: "other"}, false},
		{"self origin", Offer{SDP: testSDP(), From: "me", SessionID: "sess-1"}, false},
	}

	for _, tc := range cases {
		before := len(got)
		tr.deliver(t, EventOffer, tc.offer)
		delivered := len(got) > before
		if delivered != tc.want {
			t.Errorf("%s: delivered=%v, want %v", tc.name, delivered, tc.want)
		}
	}
}

func TestOnAnswerFiltering(t *testing.T) {
	tr := newFakeTransport()
	c := NewClient(tr, "sess-1", "me", auth.RoleUser, false)

	var got []Answer
	c.OnAnswer(func(a Answer) { got = append(got, a) })

	tr.deliver(t, EventAnswer, Answer{SDP: testSDP(), From: "peer", SessionID: "other"})
	tr.deliver(t, EventAnswer, Answer{SDP: testSDP(), From: "me", SessionID: "sess-1"})
	if len(got) != 0 {
		t.Fatalf("Foreign/self answers leaked through: %d", len(got))
	}

	tr.deliver(t, EventAnswer, Answer{SDP: testSDP(), From: "peer", SessionID: "sess-1"})
	if len(got) != 1 {
		t.Fatalf("Expected 1 answer, got %d", len(got))
	}
}

func TestOnCandidateFiltering(t *testing.T) {
	tr := newFakeTransport()
	c := NewClient(tr, "sess-1", "me", auth.RoleUser, false)

	var got []ICECandidate
	c.OnCandidate(func(ic ICECandidate) { got = append(got, ic) })

	cand := &webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 2130706431 10.0.0.1 40000 typ host"}

	// Addressed elsewhere and self-origin are dropped.
	tr.deliver(t, EventICECandidate, ICECandidate{Candidate: cand, From: "peer", To: "someone-else"})
	tr.deliver(t, EventICECandidate, ICECandidate{Candidate: cand, From: "me", To: "peer"})
	if len(got) != 0 {
		t.Fatalf("Misaddressed candidates leaked through: %d", len(got))
	}

	// Addressed to us, and broadcast with empty To, are delivered.
	tr.deliver(t, EventICECandidate, ICECandidate{Candidate: cand, From: "peer", To: "me"})
	tr.deliver(t, EventICECandidate, ICECandidate{Candidate: cand, From: "peer"})
	if len(got) != 2 {
		t.Fatalf("Expected 2 candidates, got %d", len(got))
	}

	// A nil candidate (end-of-candidates) passes through as-is.
	tr.deliver(t, EventICECandidate, ICECandidate{Candidate: nil, From: "peer", To: "me"})
	if len(got) != 3 || got[2].Candidate != nil {
		t.Fatal("End-of-candidates marker was not passed through")
	}
}

func TestOnSessionInfoScopedToRoom(t *testing.T) {
	tr := newFakeTransport()
	c := NewClient(tr, "sess-1", "me", auth.RoleUser, false)

	var got []SessionInfo
	c.OnSessionInfo(func(i SessionInfo) { got = append(got, i) })

	tr.deliver(t, EventSessionInfo, SessionInfo{RoomID: "other"})
	tr.deliver(t, EventSessionInfo, SessionInfo{
		RoomID:       "sess-1",
		Participants: []Participant{{ID: "me"}, {ID: "peer"}},
	})

	if len(got) != 1 {
		t.Fatalf("Expected 1 roster, got %d", len(got))
	}
	if len(got[0].Participants) != 2 {
		t.Fatalf("Roster lost participants: %+v", got[0])
	}
}

func TestOnUserDisconnectedIgnoresSelf(t *testing.T) {
	tr := newFakeTransport()
	c := NewClient(tr, "sess-1", "me", auth.RoleUser, false)

	var got []UserDisconnected
	c.OnUserDisconnected(func(d UserDisconnected) { got = append(got, d) })

	tr.deliver(t, EventUserDisconnected, UserDisconnected{UserID: "me", RoomID: "sess-1"})
	tr.deliver(t, EventUserDisconnected, UserDisconnected{UserID: "peer", RoomID: "other"})
	tr.deliver(t, EventUserDisconnected, UserDisconnected{UserID: "peer", RoomID: "sess-1"})

	if len(got) != 1 || got[0].UserID != "peer" {
		t.Fatalf("Expected only the foreign departure, got %+v", got)
	}
}

func TestScreenShareAdvisories(t *testing.T) {
	tr := newFakeTransport()
	c := NewClient(tr, "sess-1", "me", auth.RoleUser, false)

	var started, stopped int
	c.OnScreenShare(
		func(ScreenShare) { started++ },
		func(ScreenShare) { stopped++ },
	)

	tr.deliver(t, EventScreenShareStarted, ScreenShare{RoomID: "sess-1", UserID: "peer"})
	tr.deliver(t, EventScreenShareStopped, ScreenShare{RoomID: "sess-1", UserID: "peer"})
	tr.deliver(t, EventScreenShareStarted, ScreenShare{RoomID: "sess-1", UserID: "me"})

	if started != 1 || stopped != 1 {
		t.Fatalf("started=%d stopped=%d, want 1/1", started, stopped)
	}

	if err := c.NotifyScreenShare(true); err != nil {
		t.Fatalf("NotifyScreenShare failed: %v", err)
	}
	last := tr.emitted[len(tr.emitted)-1]
	if last.Event != EventScreenShareStarted {
		t.Fatalf("Advisory event = %s, want %s", last.Event, EventScreenShareStarted)
	}
}

func TestCloseUnsubscribesCallScope(t *testing.T) {
	tr := newFakeTransport()
	c := NewClient(tr, "sess-1", "me", auth.RoleUser, false)

	c.OnOffer(func(Offer) {})
	c.OnAnswer(func(Answer) {})
	c.OnSessionInfo(func(SessionInfo) {})
	c.Close()

	if len(tr.handlers) != 0 {
		t.Fatalf("%d handlers still registered after Close", len(tr.handlers))
	}
}

func TestMalformedPayloadDropped(t *testing.T) {
	tr := newFakeTransport()
	c := NewClient(tr, "sess-1", "me", auth.RoleUser, false)

	called := false
	c.OnOffer(func(Offer) { called = true })

	tr.handlers[EventOffer](json.RawMessage(`{not json`))
	if called {
		t.Fatal("Malformed payload reached the handler")
	}
}
