package rtc

import (
	"sync"

	"github.com/pion/webrtc/v4"
)

// outboundTrack pairs a sender with the local track it carries, so mute
// toggles and device switches can address it after ReplaceTrack(nil) has
// detached the underlying track.
type outboundTrack struct {
	sender *webrtc.RTPSender
	track  webrtc.TrackLocal
	kind   webrtc.RTPCodecType
	screen bool
}

// peer is one entry of the mesh: the pion connection for a single remote
// participant plus the bookkeeping the orchestrator needs around it.
// Exactly one peer exists per remote participant id; none is ever created
// for the local participant.
type peer struct {
	id        string
	pc        *webrtc.PeerConnection
	initiator bool

	mu sync.Mutex

	// Candidates received before the remote description is set. Applied
	// FIFO once SetRemoteDescription succeeds; never before.
	pendingCandidates []webrtc.ICECandidateInit

	// Remote stream ids already surfaced to track observers.
	streams map[string]*RemoteStream

	outbound []*outboundTrack

	// applyCandidate defaults to pc.AddICECandidate; swappable in tests
	// to observe ordering.
	applyCandidate func(webrtc.ICECandidateInit) error
}

func newPeer(id string, pc *webrtc.PeerConnection, initiator bool) *peer {
	p := &peer{
		id:        id,
		pc:        pc,
		initiator: initiator,
		streams:   make(map[string]*RemoteStream),
	}
	p.applyCandidate = pc.AddICECandidate
	return p
}

// queueOrApply defers the candidate while the remote description is
// unset, otherwise applies it immediately. A nil candidate is the
// end-of-candidates marker and maps to the empty candidate string.
func (p *peer) queueOrApply(cand *webrtc.ICECandidateInit) error {
	init := webrtc.ICECandidateInit{}
	if cand != nil {
		init = *cand
	}

	p.mu.Lock()
	if p.pc.RemoteDescription() == nil {
		p.pendingCandidates = append(p.pendingCandidates, init)
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()
	return p.applyCandidate(init)
}

// flushCandidates applies every queued candidate in receipt order. Called
// only after the remote description has been set.
func (p *peer) flushCandidates() []error {
	p.mu.Lock()
	pending := p.pendingCandidates
	p.pendingCandidates = nil
	p.mu.Unlock()

	var errs []error
	for _, cand := range pending {
		if err := p.applyCandidate(cand); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// stream returns the RemoteStream for id, creating it when first seen.
// The second return is true on first observation.
func (p *peer) stream(streamID string) (*RemoteStream, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.streams[streamID]; ok {
		return s, false
	}
	s := &RemoteStream{PeerID: p.id, ID: streamID}
	p.streams[streamID] = s
	return s, true
}

func (p *peer) addOutbound(ot *outboundTrack) {
	p.mu.Lock()
	p.outbound = append(p.outbound, ot)
	p.mu.Unlock()
}

// takeOutbound removes and returns the outbound entries matching the
// filter, leaving the rest in place.
func (p *peer) takeOutbound(match func(*outboundTrack) bool) []*outboundTrack {
	p.mu.Lock()
	defer p.mu.Unlock()
	var taken []*outboundTrack
	kept := p.outbound[:0]
	for _, ot := range p.outbound {
		if match(ot) {
			taken = append(taken, ot)
		} else {
			kept = append(kept, ot)
		}
	}
	p.outbound = kept
	return taken
}

func (p *peer) outboundSnapshot() []*outboundTrack {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*outboundTrack, len(p.outbound))
	copy(out, p.outbound)
	return out
}

func (p *peer) close() {
	p.pc.Close()
}
