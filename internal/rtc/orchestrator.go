package rtc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/mediadevices"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"github.com/gokul-gkm/devconnect-rtc/internal/auth"
	"github.com/gokul-gkm/devconnect-rtc/internal/config"
	"github.com/gokul-gkm/devconnect-rtc/internal/media"
	"github.com/gokul-gkm/devconnect-rtc/internal/signaling"
)

// Notifier is the user-visible notification sink (toast contract).
type Notifier interface {
	Notify(message string)
}

// Connection is the slice of the socket manager the orchestrator needs:
// the signaling transport plus role-aware connect control.
type Connection interface {
	signaling.Transport
	Role() auth.Role
	Connected() bool
	Connect(ctx context.Context, token string, role auth.Role) bool
	WaitForConnection(ctx context.Context, timeout time.Duration) bool
}

// Orchestrator maintains the call mesh: one peer connection per remote
// participant, the offer/answer/ICE exchange through the signaling
// client, local track attachment including screen share, and recovery of
// connections that degrade. One long-lived instance exists per process,
// constructed by the composition root.
type Orchestrator struct {
	iceCfg   config.ICEConfig
	conn     Connection
	store    *auth.Store
	media    *media.Manager
	notifier Notifier
	log      *zap.Logger

	api   *webrtc.API
	pcCfg webrtc.Configuration

	mu          sync.Mutex
	peers       map[string]*peer
	sig         *signaling.Client
	sessionID   string
	role        auth.Role
	isHost      bool
	localID     string
	initialized bool
	audioOn     bool
	videoOn     bool
	ctx         context.Context
	cancel      context.CancelFunc

	onTrack        observerList[TrackObserver]
	onDisconnected observerList[DisconnectObserver]
	onLocalStream  observerList[LocalStreamObserver]

	relayedPackets atomic.Uint64
	relayedBytes   atomic.Uint64
}

// NewOrchestrator builds the orchestrator. The media manager's codec
// selector is registered on the media engine so peer connections
// negotiate exactly the codecs the capture pipeline encodes.
func NewOrchestrator(iceCfg config.ICEConfig, conn Connection, store *auth.Store, mediaMgr *media.Manager, notifier Notifier) (*Orchestrator, error) {
	mediaEngine := webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register default codecs: %w", err)
	}
	mediaMgr.CodecSelector().Populate(&mediaEngine)

	settingEngine := webrtc.SettingEngine{}
	settingEngine.SetICETimeouts(
		5*time.Second,  // disconnected timeout
		10*time.Second, // failed timeout
		30*time.Second, // keep-alive interval
	)

	var iceServers []webrtc.ICEServer
	if len(iceCfg.STUNURLs) > 0 {
		iceServers = append(iceServers, webrtc.ICEServer{URLs: iceCfg.STUNURLs})
	}
	if iceCfg.TURNURL != "" {
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs:       []string{iceCfg.TURNURL},
			Username:   iceCfg.TURNUser,
			Credential: iceCfg.TURNPass,
		})
	}

	o := &Orchestrator{
		iceCfg:   iceCfg,
		conn:     conn,
		store:    store,
		media:    mediaMgr,
		notifier: notifier,
		log:      zap.L().Named("rtc"),
		api: webrtc.NewAPI(
			webrtc.WithMediaEngine(&mediaEngine),
			webrtc.WithSettingEngine(settingEngine),
		),
		pcCfg: webrtc.Configuration{
			ICEServers:         iceServers,
			ICETransportPolicy: webrtc.ICETransportPolicyAll,
		},
		peers:   make(map[string]*peer),
		audioOn: true,
		videoOn: true,
	}

	mediaMgr.SetScreenEndedHandler(func() {
		// Browser-side "stop sharing" equivalent: capture ended outside
		// our control, run the symmetric stop.
		o.StopScreenSharing()
	})

	return o, nil
}

// Initialize binds the orchestrator to a call session. Re-initializing
// with the same session and role is a no-op returning true. A role
// mismatch with the live connection forces a reconnect with the correct
// role first. Returns false, with a user-visible error, when no local
// participant id is available.
func (o *Orchestrator) Initialize(ctx context.Context, sessionID string, role auth.Role, isHost bool) bool {
	o.mu.Lock()
	if o.initialized && o.sessionID == sessionID && o.role == role {
		o.mu.Unlock()
		return true
	}
	o.mu.Unlock()

	creds, err := o.store.Load()
	if err != nil || creds.ParticipantID == "" {
		o.log.Error("initialize without local participant id", zap.Error(err))
		o.notify("Could not start the call: your session is missing. Please sign in again.")
		return false
	}

	if o.conn.Connected() && o.conn.Role() != role {
		o.log.Info("connection role mismatch, reconnecting",
			zap.String("have", string(o.conn.Role())), zap.String("want", string(role)))
		if !o.conn.Connect(ctx, "", role) {
			o.notify("Could not start the call: connection unavailable.")
			return false
		}
	} else if !o.conn.WaitForConnection(ctx, 0) {
		o.notify("Could not start the call: connection unavailable.")
		return false
	}

	sig := signaling.NewClient(o.conn, sessionID, creds.ParticipantID, role, isHost)

	o.mu.Lock()
	oldSig := o.sig
	oldCancel := o.cancel
	oldPeers := o.peers
	o.peers = make(map[string]*peer)
	o.sig = sig
	o.sessionID = sessionID
	o.role = role
	o.isHost = isHost
	o.localID = creds.ParticipantID
	o.initialized = true
	o.ctx, o.cancel = context.WithCancel(context.Background())
	o.mu.Unlock()

	// Rebinding to a new session: the previous mesh must not outlive it.
	if oldSig != nil {
		oldSig.Close()
	}
	if oldCancel != nil {
		oldCancel()
	}
	for _, p := range oldPeers {
		p.close()
	}

	sig.OnSessionInfo(o.handleRoster)
	sig.OnOffer(o.handleOffer)
	sig.OnAnswer(o.handleAnswer)
	sig.OnCandidate(o.handleCandidate)
	sig.OnUserDisconnected(o.handleUserDisconnected)

	if err := sig.JoinRoom(); err != nil {
		o.log.Warn("room join not sent yet", zap.Error(err))
	}

	o.log.Info("call initialized",
		zap.String("sessionId", sessionID), zap.String("role", string(role)), zap.Bool("isHost", isHost))
	return true
}

// OnTrack registers a remote-stream observer; returns a handle for removal.
func (o *Orchestrator) OnTrack(fn TrackObserver) int64 { return o.onTrack.add(fn) }

// OffTrack removes a track observer.
func (o *Orchestrator) OffTrack(id int64) { o.onTrack.remove(id) }

// OnParticipantDisconnected registers a departure observer.
func (o *Orchestrator) OnParticipantDisconnected(fn DisconnectObserver) int64 {
	return o.onDisconnected.add(fn)
}

// OffParticipantDisconnected removes a departure observer.
func (o *Orchestrator) OffParticipantDisconnected(id int64) { o.onDisconnected.remove(id) }

// OnLocalStream registers a local-stream observer. If a stream already
// exists the observer fires immediately, then again on every future
// acquisition (device switch).
func (o *Orchestrator) OnLocalStream(fn LocalStreamObserver) int64 {
	if stream := o.media.LocalStream(); stream != nil {
		fn(stream)
	}
	return o.onLocalStream.add(fn)
}

// OffLocalStream removes a local-stream observer.
func (o *Orchestrator) OffLocalStream(id int64) { o.onLocalStream.remove(id) }

// PeerCount returns the number of live peer connections.
func (o *Orchestrator) PeerCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.peers)
}

// StartLocalStream acquires (or re-acquires) the camera+mic stream. The
// previous stream's device handles are released first. If peer
// connections already exist, their outgoing camera/mic tracks are
// replaced with the new stream's — the device-switch-mid-call path.
// Acquisition errors propagate so the UI can show the permission prompt.
func (o *Orchestrator) StartLocalStream(c media.Constraints) (mediadevices.MediaStream, error) {
	stream, err := o.media.StartCapture(c)
	if err != nil {
		return nil, err
	}

	for _, fn := range o.onLocalStream.snapshot() {
		fn(stream)
	}

	for _, p := range o.peerSnapshot() {
		for _, ot := range p.takeOutbound(func(ot *outboundTrack) bool { return !ot.screen }) {
			if err := p.pc.RemoveTrack(ot.sender); err != nil {
				o.log.Debug("remove stale sender", zap.String("peer", p.id), zap.Error(err))
			}
		}
		o.attachStream(p, stream, false)
	}
	return stream, nil
}

// ToggleAudio gates the outgoing mic track on every peer connection.
// Track count never changes, so no renegotiation is required.
func (o *Orchestrator) ToggleAudio(enabled bool) {
	o.toggleKind(webrtc.RTPCodecTypeAudio, enabled)
	o.mu.Lock()
	o.audioOn = enabled
	o.mu.Unlock()
}

// ToggleVideo gates the outgoing camera track on every peer connection.
func (o *Orchestrator) ToggleVideo(enabled bool) {
	o.toggleKind(webrtc.RTPCodecTypeVideo, enabled)
	o.mu.Lock()
	o.videoOn = enabled
	o.mu.Unlock()
}

func (o *Orchestrator) toggleKind(kind webrtc.RTPCodecType, enabled bool) {
	for _, p := range o.peerSnapshot() {
		for _, ot := range p.outboundSnapshot() {
			if ot.kind != kind || ot.screen {
				continue
			}
			var next webrtc.TrackLocal
			if enabled {
				next = ot.track
			}
			if err := ot.sender.ReplaceTrack(next); err != nil {
				o.log.Warn("toggle track failed",
					zap.String("peer", p.id), zap.String("kind", kind.String()), zap.Error(err))
			}
		}
	}
}

// StartScreenSharing acquires a display stream and fans its tracks out to
// every existing peer connection. No renegotiation signal beyond the
// track add: connections created with the initial offer accept tracks
// added after connect.
func (o *Orchestrator) StartScreenSharing() (mediadevices.MediaStream, error) {
	stream, err := o.media.StartScreenCapture()
	if err != nil {
		return nil, err
	}

	for _, p := range o.peerSnapshot() {
		o.attachStream(p, stream, true)
	}

	if sig := o.signalingClient(); sig != nil {
		if err := sig.NotifyScreenShare(true); err != nil {
			o.log.Debug("screen share advisory not sent", zap.Error(err))
		}
	}
	return stream, nil
}

// StopScreenSharing removes screen senders from every peer, releases the
// capture tracks and sends the advisory stop. Safe when not sharing.
func (o *Orchestrator) StopScreenSharing() {
	if !o.media.IsScreenSharing() {
		return
	}

	for _, p := range o.peerSnapshot() {
		for _, ot := range p.takeOutbound(func(ot *outboundTrack) bool { return ot.screen }) {
			if err := p.pc.RemoveTrack(ot.sender); err != nil {
				o.log.Debug("remove screen sender", zap.String("peer", p.id), zap.Error(err))
			}
		}
	}

	o.media.StopScreenCapture()

	if sig := o.signalingClient(); sig != nil {
		if err := sig.NotifyScreenShare(false); err != nil {
			o.log.Debug("screen share advisory not sent", zap.Error(err))
		}
	}
}

// IsScreenSharing reports whether the local screen is being shared.
func (o *Orchestrator) IsScreenSharing() bool { return o.media.IsScreenSharing() }

// handleRoster rebuilds the mesh from a room roster: every existing
// connection is closed unconditionally, then one new initiator connection
// is created per listed participant. Tracking join/leave deltas is traded
// away for correctness simplicity — membership changes renegotiate every
// peer.
func (o *Orchestrator) handleRoster(info signaling.SessionInfo) {
	o.mu.Lock()
	old := o.peers
	o.peers = make(map[string]*peer)
	localID := o.localID
	o.mu.Unlock()

	for _, p := range old {
		p.close()
	}

	o.log.Info("roster received, rebuilding mesh",
		zap.Int("participants", len(info.Participants)))

	for _, part := range info.Participants {
		if part.ID == localID {
			continue
		}
		p, err := o.createPeer(part.ID, true)
		if err != nil {
			o.log.Error("peer create failed", zap.String("peer", part.ID), zap.Error(err))
			continue
		}
		if err := o.sendOffer(p, false); err != nil {
			o.log.Error("offer failed", zap.String("peer", part.ID), zap.Error(err))
		}
	}
}

// handleOffer answers an inbound offer, creating a responder connection
// for the sender when none exists. Glare policy: an offer arriving while
// a local offer is outstanding, or for a connection whose negotiation
// already completed, is dropped — first applied offer wins.
func (o *Orchestrator) handleOffer(offer signaling.Offer) {
	o.mu.Lock()
	p, exists := o.peers[offer.From]
	o.mu.Unlock()

	if !exists {
		var err error
		p, err = o.createPeer(offer.From, false)
		if err != nil {
			o.log.Error("responder peer create failed", zap.String("peer", offer.From), zap.Error(err))
			return
		}
	} else {
		state := p.pc.SignalingState()
		if state == webrtc.SignalingStateHaveLocalOffer ||
			(state == webrtc.SignalingStateStable && p.pc.RemoteDescription() != nil) {
			o.log.Debug("glare, inbound offer dropped",
				zap.String("peer", offer.From), zap.String("state", state.String()))
			return
		}
	}

	if err := p.pc.SetRemoteDescription(offer.SDP); err != nil {
		o.log.Error("set remote offer failed", zap.String("peer", offer.From), zap.Error(err))
		return
	}
	o.drainPending(p)

	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		o.log.Error("create answer failed", zap.String("peer", offer.From), zap.Error(err))
		return
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		o.log.Error("set local answer failed", zap.String("peer", offer.From), zap.Error(err))
		return
	}

	if sig := o.signalingClient(); sig != nil {
		if err := sig.SendAnswer(offer.From, *p.pc.LocalDescription()); err != nil {
			o.log.Error("send answer failed", zap.String("peer", offer.From), zap.Error(err))
		}
	}
}

// handleAnswer applies an inbound answer unless the connection is already
// stable (duplicate or late answer).
func (o *Orchestrator) handleAnswer(answer signaling.Answer) {
	o.mu.Lock()
	p := o.peers[answer.From]
	o.mu.Unlock()
	if p == nil {
		o.log.Debug("answer for unknown peer dropped", zap.String("peer", answer.From))
		return
	}
	if p.pc.SignalingState() == webrtc.SignalingStateStable {
		o.log.Debug("late answer dropped", zap.String("peer", answer.From))
		return
	}

	if err := p.pc.SetRemoteDescription(answer.SDP); err != nil {
		o.log.Error("set remote answer failed", zap.String("peer", answer.From), zap.Error(err))
		return
	}
	o.drainPending(p)
}

// handleCandidate queues the candidate while the peer's remote
// description is unset; candidates must never be applied before
// SetRemoteDescription succeeds. Candidates for unknown peers are
// expected churn and dropped silently.
func (o *Orchestrator) handleCandidate(cand signaling.ICECandidate) {
	o.mu.Lock()
	p := o.peers[cand.From]
	o.mu.Unlock()
	if p == nil {
		o.log.Debug("candidate for unknown peer dropped", zap.String("peer", cand.From))
		return
	}
	if err := p.queueOrApply(cand.Candidate); err != nil {
		o.log.Warn("apply candidate failed", zap.String("peer", cand.From), zap.Error(err))
	}
}

func (o *Orchestrator) drainPending(p *peer) {
	for _, err := range p.flushCandidates() {
		o.log.Warn("queued candidate failed", zap.String("peer", p.id), zap.Error(err))
	}
}

// handleUserDisconnected closes and removes the departing peer and
// notifies observers.
func (o *Orchestrator) handleUserDisconnected(dep signaling.UserDisconnected) {
	o.mu.Lock()
	p := o.peers[dep.UserID]
	delete(o.peers, dep.UserID)
	o.mu.Unlock()
	if p != nil {
		p.close()
	}

	o.log.Info("participant disconnected", zap.String("peer", dep.UserID))
	for _, fn := range o.onDisconnected.snapshot() {
		fn(dep.UserID)
	}
}

// createPeer builds one mesh entry. Attempts to key a connection by the
// local participant's own id are rejected, never constructed.
func (o *Orchestrator) createPeer(id string, initiator bool) (*peer, error) {
	o.mu.Lock()
	localID := o.localID
	o.mu.Unlock()
	if id == localID || id == "" {
		return nil, fmt.Errorf("refusing self peer connection for %q", id)
	}

	pc, err := o.api.NewPeerConnection(o.pcCfg)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	p := newPeer(id, pc, initiator)

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		if sig := o.signalingClient(); sig != nil {
			init := c.ToJSON()
			if err := sig.SendCandidate(id, &init); err != nil {
				o.log.Warn("send candidate failed", zap.String("peer", id), zap.Error(err))
			}
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		o.handleRemoteTrack(p, track)
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		o.handlePeerState(p, state)
	})

	if stream := o.media.LocalStream(); stream != nil {
		o.attachStream(p, stream, false)
	}
	if screen := o.media.ScreenStream(); screen != nil {
		o.attachStream(p, screen, true)
	}

	o.mu.Lock()
	if old, ok := o.peers[id]; ok {
		// Never two live entries for one participant.
		old.close()
	}
	o.peers[id] = p
	o.mu.Unlock()

	o.log.Info("peer connection created",
		zap.String("peer", id), zap.Bool("initiator", initiator))
	return p, nil
}

// sendOffer creates and sends the initiator offer; iceRestart reuses the
// existing connection with fresh credentials.
func (o *Orchestrator) sendOffer(p *peer, iceRestart bool) error {
	var opts *webrtc.OfferOptions
	if iceRestart {
		opts = &webrtc.OfferOptions{ICERestart: true}
	}
	offer, err := p.pc.CreateOffer(opts)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local offer: %w", err)
	}

	sig := o.signalingClient()
	if sig == nil {
		return errors.New("no signaling client")
	}
	return sig.SendOffer(p.id, *p.pc.LocalDescription())
}

// handlePeerState drives recovery. A disconnected transition gets an ICE
// restart on the existing connection; failed discards the entry and
// builds a brand-new initiator connection for the same peer id — a full
// re-offer, not just a restart retry.
func (o *Orchestrator) handlePeerState(p *peer, state webrtc.PeerConnectionState) {
	o.log.Info("peer state", zap.String("peer", p.id), zap.String("state", state.String()))

	switch state {
	case webrtc.PeerConnectionStateDisconnected:
		if err := p.pc.RestartICE(); err != nil {
			o.log.Warn("ICE restart failed", zap.String("peer", p.id), zap.Error(err))
			return
		}
		if p.initiator {
			if err := o.sendOffer(p, true); err != nil {
				o.log.Warn("restart offer failed", zap.String("peer", p.id), zap.Error(err))
			}
		}

	case webrtc.PeerConnectionStateFailed:
		o.recreatePeer(p.id)

	case webrtc.PeerConnectionStateClosed:
		o.mu.Lock()
		if o.peers[p.id] == p {
			delete(o.peers, p.id)
		}
		o.mu.Unlock()
	}
}

// recreatePeer discards the existing connection for id and dials a fresh
// initiator connection to the same participant.
func (o *Orchestrator) recreatePeer(id string) {
	o.mu.Lock()
	old := o.peers[id]
	delete(o.peers, id)
	o.mu.Unlock()
	if old != nil {
		old.close()
	}

	o.log.Warn("peer failed, recreating", zap.String("peer", id))

	p, err := o.createPeer(id, true)
	if err != nil {
		o.log.Error("peer recreate failed", zap.String("peer", id), zap.Error(err))
		return
	}
	if err := o.sendOffer(p, false); err != nil {
		o.log.Error("recreate offer failed", zap.String("peer", id), zap.Error(err))
	}
}

// attachStream adds every track of a local stream to the peer connection
// and records the senders. Mute state is applied to freshly added
// camera/mic tracks so a muted user stays muted across device switches.
func (o *Orchestrator) attachStream(p *peer, stream mediadevices.MediaStream, screen bool) {
	o.mu.Lock()
	audioOn, videoOn := o.audioOn, o.videoOn
	o.mu.Unlock()

	for _, track := range stream.GetTracks() {
		sender, err := p.pc.AddTrack(track)
		if err != nil {
			o.log.Error("add track failed",
				zap.String("peer", p.id), zap.String("track", track.ID()), zap.Error(err))
			continue
		}
		ot := &outboundTrack{sender: sender, track: track, kind: track.Kind(), screen: screen}
		p.addOutbound(ot)

		go drainRTCP(sender)

		if !screen {
			muted := (ot.kind == webrtc.RTPCodecTypeAudio && !audioOn) ||
				(ot.kind == webrtc.RTPCodecTypeVideo && !videoOn)
			if muted {
				if err := sender.ReplaceTrack(nil); err != nil {
					o.log.Debug("apply mute state", zap.String("peer", p.id), zap.Error(err))
				}
			}
		}
	}
}

// drainRTCP keeps the sender's RTCP path flowing; interceptors depend on
// the reads happening.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

// handleRemoteTrack republishes an inbound track on a local relay track
// and surfaces the owning stream to observers exactly once per peer.
func (o *Orchestrator) handleRemoteTrack(p *peer, track *webrtc.TrackRemote) {
	o.log.Info("remote track",
		zap.String("peer", p.id), zap.String("kind", track.Kind().String()),
		zap.String("stream", track.StreamID()))

	relay, err := webrtc.NewTrackLocalStaticRTP(track.Codec().RTPCodecCapability, track.ID(), track.StreamID())
	if err != nil {
		o.log.Error("relay track create failed", zap.String("peer", p.id), zap.Error(err))
		return
	}

	stream, first := p.stream(track.StreamID())
	stream.addTrack(relay)

	o.mu.Lock()
	ctx := o.ctx
	o.mu.Unlock()
	go o.relayPackets(ctx, track, relay)

	if first {
		for _, fn := range o.onTrack.snapshot() {
			fn(stream)
		}
	}
}

// relayPackets forwards RTP from the remote track to the relay until the
// track ends or the session is torn down.
func (o *Orchestrator) relayPackets(ctx context.Context, src *webrtc.TrackRemote, dst *webrtc.TrackLocalStaticRTP) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		pkt, _, err := src.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				o.log.Debug("remote track read ended", zap.Error(err))
			}
			return
		}
		o.noteRTP(pkt)

		if err := dst.WriteRTP(pkt); err != nil {
			if errors.Is(err, io.ErrClosedPipe) {
				return
			}
			o.log.Debug("relay write failed", zap.Error(err))
		}
	}
}

func (o *Orchestrator) noteRTP(pkt *rtp.Packet) {
	o.relayedPackets.Add(1)
	o.relayedBytes.Add(uint64(len(pkt.Payload)))
}

// RelayedPackets reports the total RTP packets forwarded this process.
func (o *Orchestrator) RelayedPackets() uint64 { return o.relayedPackets.Load() }

// LeaveRoom emits the leave announcement, then performs full cleanup.
func (o *Orchestrator) LeaveRoom() {
	if sig := o.signalingClient(); sig != nil {
		if err := sig.LeaveRoom(); err != nil {
			o.log.Debug("leave not sent", zap.Error(err))
		}
	}
	o.Cleanup()
}

// Cleanup stops all local media, closes every peer connection and resets
// session state. Idempotent: an explicit end-call and an unmount path may
// both land here.
func (o *Orchestrator) Cleanup() {
	o.mu.Lock()
	peers := o.peers
	o.peers = make(map[string]*peer)
	sig := o.sig
	o.sig = nil
	cancel := o.cancel
	o.cancel = nil
	o.sessionID = ""
	o.initialized = false
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if sig != nil {
		sig.Close()
	}
	for _, p := range peers {
		p.close()
	}
	o.media.ReleaseAll()

	o.log.Info("call cleaned up")
}

func (o *Orchestrator) peerSnapshot() []*peer {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]*peer, 0, len(o.peers))
	for _, p := range o.peers {
		out = append(out, p)
	}
	return out
}

func (o *Orchestrator) signalingClient() *signaling.Client {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sig
}

func (o *Orchestrator) notify(msg string) {
	if o.notifier != nil {
		o.notifier.Notify(msg)
	}
}
