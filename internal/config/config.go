package config

import "time"

// Config holds all application configuration
type Config struct {
	SignalingURL string
	APIBaseURL   string

	SocketConfig    SocketConfig
	ICEConfig       ICEConfig
	MediaConfig     MediaConfig
	CredentialsPath string
}

// SocketConfig controls the signaling-socket lifecycle timings.
type SocketConfig struct {
	// ConnectTimeout bounds a single connection attempt; an attempt that
	// does not settle within it is treated as failure.
	ConnectTimeout time.Duration

	// ConnectCooldown is the minimum gap between two connection attempts;
	// calls arriving inside it are deferred, not rejected.
	ConnectCooldown time.Duration

	// ReconnectInterval is the fixed delay between reconnect attempts
	// after a recoverable transport loss. Deliberately not exponential:
	// the signaling layer tolerates transient unavailability.
	ReconnectInterval time.Duration

	// WaitTimeout is the default bound for WaitForConnection.
	WaitTimeout time.Duration

	// RoomJoinCooldown coalesces video room joins for the same session
	// arriving in rapid succession (UI mount/unmount churn).
	RoomJoinCooldown time.Duration
}

// ICEConfig lists the STUN/TURN servers handed to every peer connection.
type ICEConfig struct {
	STUNURLs []string
	TURNURL  string
	TURNUser string
	TURNPass string

	// PreflightTimeout bounds the reachability probe run before a call.
	PreflightTimeout time.Duration
}

type MediaConfig struct {
	Width     int
	Height    int
	Framerate int

	SampleRate   int
	ChannelCount int
}

// NewDefaultConfig returns a Config with default values
func NewDefaultConfig() *Config {
	return &Config{
		SignalingURL:    "wss://localhost:7000/socket",
		APIBaseURL:      "https://localhost:7000/api",
		CredentialsPath: "devconnect.db",
		SocketConfig: SocketConfig{
			ConnectTimeout:    10 * time.Second,
			ConnectCooldown:   time.Second,
			ReconnectInterval: 3 * time.Second,
			WaitTimeout:       5 * time.Second,
			RoomJoinCooldown:  2 * time.Second,
		},
		ICEConfig: ICEConfig{
			STUNURLs: []string{
				"stun:stun.l.google.com:19302",
				"stun:stun1.l.google.com:19302",
			},
			PreflightTimeout: 5 * time.Second,
		},
		MediaConfig: MediaConfig{
			Width:        640,
			Height:       480,
			Framerate:    30,
			SampleRate:   48000,
			ChannelCount: 1,
		},
	}
}
