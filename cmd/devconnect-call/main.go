package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/gokul-gkm/devconnect-rtc/internal/auth"
	"github.com/gokul-gkm/devconnect-rtc/internal/config"
	"github.com/gokul-gkm/devconnect-rtc/internal/logging"
	"github.com/gokul-gkm/devconnect-rtc/internal/media"
	"github.com/gokul-gkm/devconnect-rtc/internal/preflight"
	"github.com/gokul-gkm/devconnect-rtc/internal/rtc"
	"github.com/gokul-gkm/devconnect-rtc/internal/session"
	"github.com/gokul-gkm/devconnect-rtc/internal/socket"
)

// Application holds all components
type Application struct {
	config       *config.Config
	store        *auth.Store
	conn         *socket.Manager
	mediaManager *media.Manager
	orchestrator *rtc.Orchestrator
	sessions     *session.Client
	log          *zap.Logger
}

// consoleNotifier surfaces user-visible messages on the terminal. A GUI
// front-end would replace this with its toast implementation.
type consoleNotifier struct{}

func (consoleNotifier) Notify(message string) {
	fmt.Fprintln(os.Stderr, message)
}

func main() {
	cfg := config.NewDefaultConfig()

	var (
		sessionID = flag.String("session", "", "session id of the booked call to join")
		roleFlag  = flag.String("role", "user", "participant role: user or developer")
		isHost    = flag.Bool("host", false, "join as the hosting side of the call")
		token     = flag.String("token", "", "access token (optional when credentials are persisted)")
		cameraID  = flag.String("camera", "", "camera device id (default device when empty)")
		micID     = flag.String("mic", "", "microphone device id (default device when empty)")
		probeOnly = flag.Bool("preflight", false, "run the ICE reachability probe and exit")
		debug     = flag.Bool("debug", false, "verbose logging")
	)
	flag.StringVar(&cfg.SignalingURL, "signaling", cfg.SignalingURL, "signaling socket URL")
	flag.StringVar(&cfg.APIBaseURL, "api", cfg.APIBaseURL, "marketplace API base URL")
	flag.StringVar(&cfg.CredentialsPath, "credentials", cfg.CredentialsPath, "credentials database path")
	flag.Parse()

	logger, err := logging.Init(*debug)
	if err != nil {
		log.Fatalf("failed to initialize logging: %v", err)
	}
	defer logger.Sync()

	if *probeOnly {
		result := preflight.NewChecker(cfg.ICEConfig).Run(context.Background())
		if !result.OK() {
			logger.Fatal("preflight failed: configured ICE servers unreachable")
		}
		logger.Info("preflight passed", zap.String("mappedAddress", result.MappedAddress))
		return
	}

	role := auth.Role(*roleFlag)
	if !role.Valid() {
		log.Fatalf("invalid role %q: must be user or developer", *roleFlag)
	}
	if *sessionID == "" {
		log.Fatal("-session is required")
	}

	app, err := NewApplication(cfg)
	if err != nil {
		log.Fatalf("failed to create application: %v", err)
	}
	defer app.Cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx, *sessionID, role, *isHost, *token, media.Constraints{
		VideoDeviceID: *cameraID,
		AudioDeviceID: *micID,
	}); err != nil {
		logger.Fatal("call failed", zap.Error(err))
	}
}

func NewApplication(cfg *config.Config) (*Application, error) {
	store, err := auth.NewStore(cfg.CredentialsPath)
	if err != nil {
		return nil, fmt.Errorf("open credential store: %w", err)
	}

	mediaManager, err := media.NewManager(cfg.MediaConfig)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("create media manager: %w", err)
	}

	conn := socket.NewManager(cfg.SignalingURL, cfg.SocketConfig, store)

	orchestrator, err := rtc.NewOrchestrator(cfg.ICEConfig, conn, store, mediaManager, consoleNotifier{})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("create orchestrator: %w", err)
	}

	return &Application{
		config:       cfg,
		store:        store,
		conn:         conn,
		mediaManager: mediaManager,
		orchestrator: orchestrator,
		sessions:     session.NewClient(cfg.APIBaseURL, store),
		log:          zap.L().Named("app"),
	}, nil
}

// Run joins the call and blocks until the context is cancelled (Ctrl-C)
// or the connection is force-logged-out.
func (app *Application) Run(ctx context.Context, sessionID string, role auth.Role, isHost bool, token string, constraints media.Constraints) error {
	loggedOut := make(chan struct{})
	app.conn.SetLogoutHandler(func() {
		close(loggedOut)
	})

	if !app.conn.Connect(ctx, token, role) {
		return fmt.Errorf("could not connect to %s", app.config.SignalingURL)
	}

	result := preflight.NewChecker(app.config.ICEConfig).Run(ctx)
	if !result.OK() {
		app.log.Warn("ICE preflight failed, the call may not connect")
	}

	details, err := app.sessions.Get(ctx, sessionID)
	if err != nil {
		app.log.Warn("session lookup failed, joining anyway", zap.Error(err))
	} else {
		app.log.Info("joining session",
			zap.String("title", details.Title), zap.String("status", details.Status))
	}

	if _, err := app.orchestrator.StartLocalStream(constraints); err != nil {
		return fmt.Errorf("start local media: %w", err)
	}

	app.orchestrator.OnTrack(func(stream *rtc.RemoteStream) {
		app.log.Info("remote participant media",
			zap.String("peer", stream.PeerID), zap.Int("tracks", len(stream.Tracks())))
	})
	app.orchestrator.OnParticipantDisconnected(func(peerID string) {
		app.log.Info("participant left", zap.String("peer", peerID))
	})

	if !app.orchestrator.Initialize(ctx, sessionID, role, isHost) {
		return fmt.Errorf("call initialization failed")
	}

	if err := app.sessions.Start(ctx, sessionID); err != nil {
		app.log.Warn("session start not recorded", zap.Error(err))
	}

	select {
	case <-ctx.Done():
	case <-loggedOut:
		app.log.Warn("logged out by the server")
	}

	app.orchestrator.LeaveRoom()
	endCtx, cancel := context.WithTimeout(context.Background(), app.config.SocketConfig.ConnectTimeout)
	defer cancel()
	if err := app.sessions.End(endCtx, sessionID); err != nil {
		app.log.Warn("session end not recorded", zap.Error(err))
	}
	return nil
}

func (app *Application) Cleanup() {
	app.orchestrator.Cleanup()
	app.conn.Disconnect()
	if err := app.store.Close(); err != nil {
		app.log.Warn("credential store close", zap.Error(err))
	}
}
