package rtc

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/gokul-gkm/devconnect-rtc/internal/auth"
	"github.com/gokul-gkm/devconnect-rtc/internal/config"
	"github.com/gokul-gkm/devconnect-rtc/internal/media"
	"github.com/gokul-gkm/devconnect-rtc/internal/signaling"
)

// stubConn satisfies Connection with an in-memory transport.
type stubConn struct {
	mu       sync.Mutex
	emitted  []signaling.Envelope
	handlers map[signaling.Event]signaling.Handler
	role     auth.Role
	up       bool
}

func newStubConn() *stubConn {
	return &stubConn{
		handlers: make(map[signaling.Event]signaling.Handler),
		role:     auth.RoleUser,
		up:       true,
	}
}

func (s *stubConn) Emit(event signaling.Event, payload any) error {
	frame, err := signaling.Marshal(event, payload)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.emitted = append(s.emitted, signaling.Envelope{Event: event, Data: frame})
	s.mu.Unlock()
	return nil
}

func (s *stubConn) On(event signaling.Event, h signaling.Handler) {
	s.mu.Lock()
	s.handlers[event] = h
	s.mu.Unlock()
}

func (s *stubConn) Off(event signaling.Event) {
	s.mu.Lock()
	delete(s.handlers, event)
	s.mu.Unlock()
}

func (s *stubConn) JoinVideoRoom(j signaling.JoinRoom) error {
	return s.Emit(signaling.EventJoinRoom, j)
}

func (s *stubConn) LeaveVideoRoom(l signaling.LeaveRoom) error {
	return s.Emit(signaling.EventLeaveRoom, l)
}

func (s *stubConn) Role() auth.Role { return s.role }
func (s *stubConn) Connected() bool { return s.up }
func (s *stubConn) Connect(ctx context.Context, token string, role auth.Role) bool {
	s.role = role
	s.up = true
	return true
}
func (s *stubConn) WaitForConnection(ctx context.Context, timeout time.Duration) bool { return s.up }

func (s *stubConn) countEmitted(event signaling.Event) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, env := range s.emitted {
		if env.Event == event {
			n++
		}
	}
	return n
}

func newTestOrchestrator(t *testing.T) (*Orchestrator, *stubConn, *auth.Store) {
	t.Helper()

	store, err := auth.NewStore(filepath.Join(t.TempDir(), "creds.db"))
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	mm, err := media.NewManager(config.NewDefaultConfig().MediaConfig)
	if err != nil {
		t.Fatalf("Failed to create media manager: %v", err)
	}

	conn := newStubConn()
	o, err := NewOrchestrator(config.ICEConfig{}, conn, store, mm, nil)
	if err != nil {
		t.Fatalf("Failed to create orchestrator: %v", err)
	}
	t.Cleanup(o.Cleanup)

	// Session state a completed Initialize would have set up.
	o.localID = "me"
	o.sessionID = "sess-1"
	o.initialized = true
	o.sig = signaling.NewClient(conn, "sess-1", "me", auth.RoleUser, false)
	o.ctx, o.cancel = context.WithCancel(context.Background())
	return o, conn, store
}

func TestCreatePeerRejectsSelf(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)

	if _, err := o.createPeer("me", true); err == nil {
		t.Fatal("Expected error creating a connection keyed by the local id")
	}
	if _, err := o.createPeer("", true); err == nil {
		t.Fatal("Expected error creating a connection with an empty id")
	}
	if o.PeerCount() != 0 {
		t.Fatalf("Self connection was stored, PeerCount=%d", o.PeerCount())
	}
}

func TestGlareDropsInboundOffer(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)

	p, err := o.createPeer("peer", true)
	if err != nil {
		t.Fatalf("createPeer failed: %v", err)
	}
	if _, err := p.pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo); err != nil {
		t.Fatalf("AddTransceiverFromKind failed: %v", err)
	}
	if err := o.sendOffer(p, false); err != nil {
		t.Fatalf("sendOffer failed: %v", err)
	}
	if p.pc.SignalingState() != webrtc.SignalingStateHaveLocalOffer {
		t.Fatalf("Unexpected state %s", p.pc.SignalingState())
	}

	// An offer arriving while ours is outstanding must be dropped.
	o.handleOffer(signaling.Offer{
		SDP:       webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0\r\n"},
		From:      "peer",
		SessionID: "sess-1",
	})

	if p.pc.RemoteDescription() != nil {
		t.Fatal("Glare offer was applied")
	}
	if p.pc.SignalingState() != webrtc.SignalingStateHaveLocalOffer {
		t.Fatalf("Glare offer disturbed state: %s", p.pc.SignalingState())
	}
}

func TestAnswerHandshakeAndDuplicateGuard(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)

	p, err := o.createPeer("peer", true)
	if err != nil {
		t.Fatalf("createPeer failed: %v", err)
	}
	if _, err := p.pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo); err != nil {
		t.Fatalf("AddTransceiverFromKind failed: %v", err)
	}
	if err := o.sendOffer(p, false); err != nil {
		t.Fatalf("sendOffer failed: %v", err)
	}

	// A second pion endpoint produces a real answer for the offer.
	remote, err := o.api.NewPeerConnection(o.pcCfg)
	if err != nil {
		t.Fatalf("Remote endpoint failed: %v", err)
	}
	defer remote.Close()
	if err := remote.SetRemoteDescription(*p.pc.LocalDescription()); err != nil {
		t.Fatalf("Remote SetRemoteDescription failed: %v", err)
	}
	answer, err := remote.CreateAnswer(nil)
	if err != nil {
		t.Fatalf("CreateAnswer failed: %v", err)
	}
	if err := remote.SetLocalDescription(answer); err != nil {
		t.Fatalf("Remote SetLocalDescription failed: %v", err)
	}

	o.handleAnswer(signaling.Answer{SDP: *remote.LocalDescription(), From: "peer", SessionID: "sess-1"})
	if p.pc.SignalingState() != webrtc.SignalingStateStable {
		t.Fatalf("Answer not applied, state %s", p.pc.SignalingState())
	}

	// A duplicate answer on a stable connection is dropped, not applied.
	o.handleAnswer(signaling.Answer{SDP: *remote.LocalDescription(), From: "peer", SessionID: "sess-1"})
	if p.pc.SignalingState() != webrtc.SignalingStateStable {
		t.Fatalf("Duplicate answer disturbed state: %s", p.pc.SignalingState())
	}
}

func TestCandidatesFlushAfterAnswer(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)

	p, err := o.createPeer("peer", true)
	if err != nil {
		t.Fatalf("createPeer failed: %v", err)
	}
	var applied []string
	p.applyCandidate = func(c webrtc.ICECandidateInit) error {
		applied = append(applied, c.Candidate)
		return nil
	}

	if _, err := p.pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo); err != nil {
		t.Fatalf("AddTransceiverFromKind failed: %v", err)
	}
	if err := o.sendOffer(p, false); err != nil {
		t.Fatalf("sendOffer failed: %v", err)
	}

	// Candidates trickle in before the answer: they must queue.
	o.handleCandidate(signaling.ICECandidate{
		Candidate: &webrtc.ICECandidateInit{Candidate: "first"}, From: "peer", To: "me",
	})
	o.handleCandidate(signaling.ICECandidate{
		Candidate: &webrtc.ICECandidateInit{Candidate: "second"}, From: "peer", To: "me",
	})
	if len(applied) != 0 {
		t.Fatalf("Candidates applied before remote description: %v", applied)
	}

	remote, err := o.api.NewPeerConnection(o.pcCfg)
	if err != nil {
		t.Fatalf("Remote endpoint failed: %v", err)
	}
	defer remote.Close()
	if err := remote.SetRemoteDescription(*p.pc.LocalDescription()); err != nil {
		t.Fatalf("Remote SetRemoteDescription failed: %v", err)
	}
	answer, err := remote.CreateAnswer(nil)
	if err != nil {
		t.Fatalf("CreateAnswer failed: %v", err)
	}
	if err := remote.SetLocalDescription(answer); err != nil {
		t.Fatalf("Remote SetLocalDescription failed: %v", err)
	}

	o.handleAnswer(signaling.Answer{SDP: *remote.LocalDescription(), From: "peer", SessionID: "sess-1"})

	if len(applied) != 2 || applied[0] != "first" || applied[1] != "second" {
		t.Fatalf("Queued candidates not applied in order: %v", applied)
	}
}

func TestCandidateForUnknownPeerDropped(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)

	// Must not panic or create a peer.
	o.handleCandidate(signaling.ICECandidate{
		Candidate: &webrtc.ICECandidateInit{Candidate: "x"}, From: "ghost", To: "me",
	})
	if o.PeerCount() != 0 {
		t.Fatalf("Unknown-peer candidate created a connection, PeerCount=%d", o.PeerCount())
	}
}

func TestRosterRebuildsMesh(t *testing.T) {
	o, conn, _ := newTestOrchestrator(t)

	o.handleRoster(signaling.SessionInfo{
		RoomID: "sess-1",
		Participants: []signaling.Participant{
			{ID: "me"}, {ID: "p1"}, {ID: "p2"},
		},
	})

	if o.PeerCount() != 2 {
		t.Fatalf("PeerCount=%d after roster of 3 incl. self, want 2", o.PeerCount())
	}
	if got := conn.countEmitted(signaling.EventOffer); got != 2 {
		t.Fatalf("Emitted %d offers, want 2", got)
	}

	o.mu.Lock()
	first := o.peers["p1"]
	o.mu.Unlock()

	// Every roster does a full rebuild: fresh connections, old ones closed.
	o.handleRoster(signaling.SessionInfo{
		RoomID: "sess-1",
		Participants: []signaling.Participant{
			{ID: "me"}, {ID: "p1"},
		},
	})

	if o.PeerCount() != 1 {
		t.Fatalf("PeerCount=%d after shrunken roster, want 1", o.PeerCount())
	}
	o.mu.Lock()
	second := o.peers["p1"]
	_, p2Alive := o.peers["p2"]
	o.mu.Unlock()
	if p2Alive {
		t.Fatal("Departed participant survived the rebuild")
	}
	if first == second {
		t.Fatal("Rebuild reused the old connection")
	}
	if first.pc.ConnectionState() != webrtc.PeerConnectionStateClosed {
		t.Fatalf("Old connection not closed: %s", first.pc.ConnectionState())
	}
}

func TestUserDisconnectedRemovesPeer(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)

	if _, err := o.createPeer("peer", true); err != nil {
		t.Fatalf("createPeer failed: %v", err)
	}

	var gone []string
	o.OnParticipantDisconnected(func(id string) { gone = append(gone, id) })

	o.handleUserDisconnected(signaling.UserDisconnected{UserID: "peer", RoomID: "sess-1"})

	if o.PeerCount() != 0 {
		t.Fatalf("PeerCount=%d after departure, want 0", o.PeerCount())
	}
	if len(gone) != 1 || gone[0] != "peer" {
		t.Fatalf("Observers saw %v, want [peer]", gone)
	}

	// A departure for an unknown peer still notifies but must not panic.
	o.handleUserDisconnected(signaling.UserDisconnected{UserID: "ghost", RoomID: "sess-1"})
}

func TestRecreatePeerAfterFailure(t *testing.T) {
	o, conn, _ := newTestOrchestrator(t)

	old, err := o.createPeer("peer", true)
	if err != nil {
		t.Fatalf("createPeer failed: %v", err)
	}

	o.recreatePeer("peer")

	if o.PeerCount() != 1 {
		t.Fatalf("PeerCount=%d after recreate, want 1", o.PeerCount())
	}
	o.mu.Lock()
	fresh := o.peers["peer"]
	o.mu.Unlock()
	if fresh == old {
		t.Fatal("Recreate kept the failed connection")
	}
	if !fresh.initiator {
		t.Fatal("Recreated connection must be the initiator")
	}
	if old.pc.ConnectionState() != webrtc.PeerConnectionStateClosed {
		t.Fatalf("Failed connection not closed: %s", old.pc.ConnectionState())
	}
	if got := conn.countEmitted(signaling.EventOffer); got != 1 {
		t.Fatalf("Emitted %d offers for the recreate, want 1", got)
	}
}

func TestCleanupIsIdempotent(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)

	if _, err := o.createPeer("p1", true); err != nil {
		t.Fatalf("createPeer failed: %v", err)
	}
	if _, err := o.createPeer("p2", false); err != nil {
		t.Fatalf("createPeer failed: %v", err)
	}

	o.Cleanup()
	if o.PeerCount() != 0 {
		t.Fatalf("PeerCount=%d after cleanup, want 0", o.PeerCount())
	}
	o.mu.Lock()
	initialized := o.initialized
	o.mu.Unlock()
	if initialized {
		t.Fatal("Still initialized after cleanup")
	}

	// Second cleanup must be a no-op, not a panic.
	o.Cleanup()
}

func TestInitializeRequiresParticipantID(t *testing.T) {
	store, err := auth.NewStore(filepath.Join(t.TempDir(), "creds.db"))
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	mm, err := media.NewManager(config.NewDefaultConfig().MediaConfig)
	if err != nil {
		t.Fatalf("Failed to create media manager: %v", err)
	}
	o, err := NewOrchestrator(config.ICEConfig{}, newStubConn(), store, mm, nil)
	if err != nil {
		t.Fatalf("Failed to create orchestrator: %v", err)
	}

	if o.Initialize(context.Background(), "sess-1", auth.RoleUser, false) {
		t.Fatal("Initialize must fail without persisted participant id")
	}
}

func TestInitializeIsIdempotent(t *testing.T) {
	store, err := auth.NewStore(filepath.Join(t.TempDir(), "creds.db"))
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.Save(auth.Credentials{Token: "tok", Role: auth.RoleUser, ParticipantID: "me"}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	mm, err := media.NewManager(config.NewDefaultConfig().MediaConfig)
	if err != nil {
		t.Fatalf("Failed to create media manager: %v", err)
	}
	conn := newStubConn()
	o, err := NewOrchestrator(config.ICEConfig{}, conn, store, mm, nil)
	if err != nil {
		t.Fatalf("Failed to create orchestrator: %v", err)
	}
	t.Cleanup(o.Cleanup)

	if !o.Initialize(context.Background(), "sess-1", auth.RoleUser, false) {
		t.Fatal("First initialize failed")
	}
	joins := conn.countEmitted(signaling.EventJoinRoom)

	if !o.Initialize(context.Background(), "sess-1", auth.RoleUser, false) {
		t.Fatal("Repeated initialize failed")
	}
	if got := conn.countEmitted(signaling.EventJoinRoom); got != joins {
		t.Fatalf("Repeated initialize re-joined the room: %d -> %d", joins, got)
	}
}

func TestNewOrchestratorProducesUsableAPI(t *testing.T) {
	o, _, _ := newTestOrchestrator(t)

	// The configured media engine (default codecs plus the capture
	// pipeline's selector) must yield working peer connections.
	pc, err := o.api.NewPeerConnection(o.pcCfg)
	if err != nil {
		t.Fatalf("NewPeerConnection failed: %v", err)
	}
	if err := pc.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
}

func TestInitializeNewSessionClosesOldMesh(t *testing.T) {
	o, _, store := newTestOrchestrator(t)
	if err := store.Save(auth.Credentials{Token: "tok", Role: auth.RoleUser, ParticipantID: "me"}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	o.handleRoster(signaling.SessionInfo{
		RoomID:       "sess-1",
		Participants: []signaling.Participant{{ID: "me"}, {ID: "p1"}},
	})
	o.mu.Lock()
	stale := o.peers["p1"]
	o.mu.Unlock()
	if stale == nil {
		t.Fatal("Roster did not create the peer")
	}

	if !o.Initialize(context.Background(), "sess-2", auth.RoleUser, false) {
		t.Fatal("Initialize with a new session failed")
	}

	if got := o.PeerCount(); got != 0 {
		t.Fatalf("PeerCount=%d after rebinding to a new session, want 0", got)
	}
	if stale.pc.ConnectionState() != webrtc.PeerConnectionStateClosed {
		t.Fatalf("Old session's connection not closed: %s", stale.pc.ConnectionState())
	}
}
