package rtc

import (
	"sync"

	"github.com/pion/mediadevices"
	"github.com/pion/webrtc/v4"
)

// RemoteStream aggregates the relayed tracks of one remote media stream.
// Track observers receive it once, when the stream is first observed for
// a peer; tracks arriving later for the same stream are appended.
type RemoteStream struct {
	PeerID string
	ID     string

	mu     sync.Mutex
	tracks []*webrtc.TrackLocalStaticRTP
}

// Tracks returns a snapshot of the relay tracks seen so far.
func (s *RemoteStream) Tracks() []*webrtc.TrackLocalStaticRTP {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*webrtc.TrackLocalStaticRTP, len(s.tracks))
	copy(out, s.tracks)
	return out
}

func (s *RemoteStream) addTrack(t *webrtc.TrackLocalStaticRTP) {
	s.mu.Lock()
	s.tracks = append(s.tracks, t)
	s.mu.Unlock()
}

// TrackObserver is notified once per newly observed remote stream per peer.
type TrackObserver func(stream *RemoteStream)

// DisconnectObserver is notified with the departing participant id.
type DisconnectObserver func(peerID string)

// LocalStreamObserver is notified on every local stream acquisition. At
// registration time it fires immediately if a stream already exists.
type LocalStreamObserver func(stream mediadevices.MediaStream)

// observerList is a typed observer registry with add/remove semantics and
// registration-order fan-out.
type observerList[T any] struct {
	mu      sync.Mutex
	nextID  int64
	entries []observerEntry[T]
}

type observerEntry[T any] struct {
	id int64
	fn T
}

func (l *observerList[T]) add(fn T) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextID++
	l.entries = append(l.entries, observerEntry[T]{id: l.nextID, fn: fn})
	return l.nextID
}

func (l *observerList[T]) remove(id int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, e := range l.entries {
		if e.id == id {
			l.entries = append(l.entries[:i], l.entries[i+1:]...)
			return
		}
	}
}

// snapshot returns the callbacks in registration order; fan-out happens
// outside the lock.
func (l *observerList[T]) snapshot() []T {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]T, len(l.entries))
	for i, e := range l.entries {
		out[i] = e.fn
	}
	return out
}
