package media

import (
	"fmt"
	"sync"
	"time"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"go.uber.org/zap"

	_ "github.com/pion/mediadevices/pkg/driver/camera"     // This is required to register camera adapter - DON'T REMOVE
	_ "github.com/pion/mediadevices/pkg/driver/microphone" // This is required to register microphone adapter  - DON'T REMOVE
	_ "github.com/pion/mediadevices/pkg/driver/screen"     // Registers the display-capture adapter

	"github.com/gokul-gkm/devconnect-rtc/internal/config"
)

type acquireFunc func(mediadevices.MediaStreamConstraints) (mediadevices.MediaStream, error)

// Manager owns the local media state: the camera+mic stream, the screen
// capture stream, and the device-release discipline. Device handles are
// an exclusive OS resource, so every replacement path stops the previous
// stream's tracks before acquiring new ones.
type Manager struct {
	cfg           config.MediaConfig
	log           *zap.Logger
	codecSelector *mediadevices.CodecSelector

	mu            sync.Mutex
	localStream   mediadevices.MediaStream
	screenStream  mediadevices.MediaStream
	screenSharing bool
	onScreenEnded func()

	getUserMedia    acquireFunc
	getDisplayMedia acquireFunc
}

// NewManager builds the media manager and its codec selector.
func NewManager(cfg config.MediaConfig) (*Manager, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, fmt.Errorf("create VP8 params: %w", err)
	}
	vpxParams.BitRate = 500_000
	vpxParams.KeyFrameInterval = 15
	vpxParams.RateControlEndUsage = vpx.RateControlVBR
	vpxParams.Deadline = time.Millisecond * 200

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("create Opus params: %w", err)
	}
	opusParams.BitRate = 32_000
	opusParams.Latency = opus.Latency20ms // 20 ms frame size for real-time communication

	selector := mediadevices.NewCodecSelector(
		mediadevices.WithVideoEncoders(&vpxParams),
		mediadevices.WithAudioEncoders(&opusParams),
	)

	return &Manager{
		cfg:             cfg,
		log:             zap.L().Named("media"),
		codecSelector:   selector,
		getUserMedia:    mediadevices.GetUserMedia,
		getDisplayMedia: mediadevices.GetDisplayMedia,
	}, nil
}

// CodecSelector exposes the selector so peer connections register the
// same codecs the capture pipeline encodes with.
func (m *Manager) CodecSelector() *mediadevices.CodecSelector {
	return m.codecSelector
}

// Constraints selects the capture devices for StartCapture. Empty ids
// let the driver pick the default device.
type Constraints struct {
	VideoDeviceID string
	AudioDeviceID string
}

// StartCapture acquires the camera+mic stream. Any previous local stream
// is stopped and released first, so a device switch never holds two
// camera handles at once. Acquisition failure is returned to the caller
// with the device error intact: permission problems need a user-visible
// remediation prompt.
func (m *Manager) StartCapture(c Constraints) (mediadevices.MediaStream, error) {
	m.mu.Lock()
	m.releaseLocked(&m.localStream)
	m.mu.Unlock()

	stream, err := m.getUserMedia(mediadevices.MediaStreamConstraints{
		Video: func(mc *mediadevices.MediaTrackConstraints) {
			if c.VideoDeviceID != "" {
				mc.DeviceID = prop.String(c.VideoDeviceID)
			}
			mc.Width = prop.Int(m.cfg.Width)
			mc.Height = prop.Int(m.cfg.Height)
			mc.FrameRate = prop.Float(float32(m.cfg.Framerate))
			mc.FrameFormat = prop.FrameFormat(frame.FormatYUY2)
		},
		Audio: func(mc *mediadevices.MediaTrackConstraints) {
			if c.AudioDeviceID != "" {
				mc.DeviceID = prop.String(c.AudioDeviceID)
			}
			mc.SampleRate = prop.Int(m.cfg.SampleRate)
			mc.ChannelCount = prop.Int(m.cfg.ChannelCount)
			mc.SampleSize = prop.Int(16)
			mc.IsFloat = prop.BoolExact(false)
			mc.IsBigEndian = prop.BoolExact(false)
			mc.IsInterleaved = prop.BoolExact(true)
			mc.Latency = prop.Duration(20 * time.Millisecond)
		},
		Codec: m.codecSelector,
	})
	if err != nil {
		return nil, fmt.Errorf("get user media: %w", err)
	}

	m.mu.Lock()
	m.localStream = stream
	m.mu.Unlock()

	m.log.Info("local stream acquired",
		zap.Int("videoTracks", len(stream.GetVideoTracks())),
		zap.Int("audioTracks", len(stream.GetAudioTracks())))
	return stream, nil
}

// LocalStream returns the current camera+mic stream, or nil.
func (m *Manager) LocalStream() mediadevices.MediaStream {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.localStream
}

// StartScreenCapture acquires a display-capture stream and marks screen
// sharing active. When capture ends outside our control (the OS picker's
// stop button), the registered handler fires so the symmetric stop path
// runs. Returns the existing stream if sharing is already active.
func (m *Manager) StartScreenCapture() (mediadevices.MediaStream, error) {
	m.mu.Lock()
	if m.screenSharing && m.screenStream != nil {
		stream := m.screenStream
		m.mu.Unlock()
		return stream, nil
	}
	m.releaseLocked(&m.screenStream)
	m.mu.Unlock()

	stream, err := m.getDisplayMedia(mediadevices.MediaStreamConstraints{
		Video: func(mc *mediadevices.MediaTrackConstraints) {
			mc.FrameRate = prop.Float(15)
		},
		Codec: m.codecSelector,
	})
	if err != nil {
		return nil, fmt.Errorf("get display media: %w", err)
	}

	m.mu.Lock()
	m.screenStream = stream
	m.screenSharing = true
	onEnded := m.onScreenEnded
	m.mu.Unlock()

	for _, track := range stream.GetTracks() {
		track.OnEnded(func(error) {
			m.mu.Lock()
			active := m.screenSharing
			m.mu.Unlock()
			if active && onEnded != nil {
				onEnded()
			}
		})
	}

	m.log.Info("screen capture started")
	return stream, nil
}

// StopScreenCapture stops and releases every screen track and clears the
// sharing flag. Safe to call when not sharing.
func (m *Manager) StopScreenCapture() {
	m.mu.Lock()
	m.releaseLocked(&m.screenStream)
	wasSharing := m.screenSharing
	m.screenSharing = false
	m.mu.Unlock()

	if wasSharing {
		m.log.Info("screen capture stopped")
	}
}

// ScreenStream returns the current display-capture stream, or nil when
// not sharing.
func (m *Manager) ScreenStream() mediadevices.MediaStream {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.screenSharing {
		return nil
	}
	return m.screenStream
}

// IsScreenSharing reports whether a screen stream is live.
func (m *Manager) IsScreenSharing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.screenSharing
}

// SetScreenEndedHandler registers the callback for externally ended
// screen capture. Must be set before StartScreenCapture.
func (m *Manager) SetScreenEndedHandler(fn func()) {
	m.mu.Lock()
	m.onScreenEnded = fn
	m.mu.Unlock()
}

// ReleaseAll stops every track of both streams. Idempotent.
func (m *Manager) ReleaseAll() {
	m.mu.Lock()
	m.releaseLocked(&m.localStream)
	m.releaseLocked(&m.screenStream)
	m.screenSharing = false
	m.mu.Unlock()
}

// releaseLocked closes all tracks of *stream and nils it. Caller holds m.mu.
func (m *Manager) releaseLocked(stream *mediadevices.MediaStream) {
	if *stream == nil {
		return
	}
	for _, track := range (*stream).GetTracks() {
		if err := track.Close(); err != nil {
			m.log.Debug("track close", zap.String("track", track.ID()), zap.Error(err))
		}
	}
	*stream = nil
}
