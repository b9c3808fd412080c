package socket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/gokul-gkm/devconnect-rtc/internal/auth"
	"github.com/gokul-gkm/devconnect-rtc/internal/config"
	"github.com/gokul-gkm/devconnect-rtc/internal/signaling"
)

// Handler consumes the raw payload of one inbound event.
type Handler = signaling.Handler

// ErrNotConnected is returned by Emit when no transport is live.
var ErrNotConnected = errors.New("socket: not connected")

// Manager owns the single persistent signaling socket: connect/disconnect
// lifecycle, fixed-interval reconnection, auth-token rotation, idempotent
// event-handler registration and room-membership replay. Exactly one
// Manager exists per process; it is constructed by the composition root
// and injected into consumers.
type Manager struct {
	cfg   config.SocketConfig
	wsURL string
	store *auth.Store
	log   *zap.Logger

	dialer *websocket.Dialer

	mu           sync.Mutex
	conn         *websocket.Conn
	connID       string
	connected    bool
	role         auth.Role
	isConnecting bool
	attemptRole  auth.Role
	closed       bool
	lastAttempt  time.Time
	attempts     int

	waiters     []chan bool
	connectedCh chan struct{}

	handlers map[signaling.Event]Handler

	joinedRooms    map[string]struct{}
	lastVideoJoin  map[string]time.Time
	pendingJoins   map[string]*time.Timer
	reconnectTimer *time.Timer
	retryInterval  backoff.BackOff

	onLogout func()

	writeMu sync.Mutex
}

// NewManager builds the socket manager. The credential store supplies the
// auth token and role whenever Connect is called without them, and
// receives rotated tokens pushed by the server.
func NewManager(wsURL string, cfg config.SocketConfig, store *auth.Store) *Manager {
	return &Manager{
		cfg:           cfg,
		wsURL:         wsURL,
		store:         store,
		log:           zap.L().Named("socket"),
		dialer:        websocket.DefaultDialer,
		connectedCh:   make(chan struct{}),
		handlers:      make(map[signaling.Event]Handler),
		joinedRooms:   make(map[string]struct{}),
		lastVideoJoin: make(map[string]time.Time),
		pendingJoins:  make(map[string]*time.Timer),
		retryInterval: backoff.NewConstantBackOff(cfg.ReconnectInterval),
	}
}

// Connected reports whether a transport is currently live.
func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// Role returns the role the live connection was established with.
func (m *Manager) Role() auth.Role {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.role
}

// SetLogoutHandler registers the sink invoked when the server signals the
// local participant has been blocked. Idempotent: the last handler wins.
func (m *Manager) SetLogoutHandler(fn func()) {
	m.mu.Lock()
	m.onLogout = fn
	m.mu.Unlock()
}

// Connect establishes the signaling socket. It is idempotent: if already
// connected with the same role it returns true immediately; a different
// role forces a full teardown first. Concurrent calls while an attempt is
// in flight are coalesced and all settle with the attempt's outcome; a
// mid-flight call requesting a different role waits for the attempt to
// settle, then tears down and redials with its own role.
// Calls inside the cooldown window of the previous attempt are deferred
// via a timer rather than rejected. Missing credentials resolve false
// without error: transient token gaps are an expected condition.
func (m *Manager) Connect(ctx context.Context, token string, role auth.Role) bool {
	for {
		m.mu.Lock()
		if m.connected {
			if role == "" || m.role == role {
				m.mu.Unlock()
				return true
			}
			m.log.Info("role switch requested, tearing down",
				zap.String("from", string(m.role)), zap.String("to", string(role)))
			m.teardownLocked()
		}

		if m.isConnecting {
			ch := make(chan bool, 1)
			m.waiters = append(m.waiters, ch)
			sameRole := role == "" || role == m.attemptRole
			m.mu.Unlock()
			select {
			case ok := <-ch:
				if sameRole {
					return ok
				}
				// The in-flight attempt was for a different role.
				// Re-enter the loop so the connected-with-wrong-role
				// check tears down and redials with ours.
				continue
			case <-ctx.Done():
				return false
			}
		}

		if wait := m.cfg.ConnectCooldown - time.Since(m.lastAttempt); wait > 0 {
			m.mu.Unlock()
			t := time.NewTimer(wait)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				return false
			}
			continue
		}

		m.isConnecting = true
		m.attemptRole = role
		m.lastAttempt = time.Now()
		m.closed = false
		m.mu.Unlock()
		break
	}

	ok := m.attempt(ctx, token, role)

	m.mu.Lock()
	m.isConnecting = false
	waiters := m.waiters
	m.waiters = nil
	m.mu.Unlock()

	for _, ch := range waiters {
		ch <- ok
	}
	return ok
}

// attempt performs one dial, bounded by the connect timeout. Any
// half-open transport left by a timed-out attempt is forcibly closed.
func (m *Manager) attempt(ctx context.Context, token string, role auth.Role) bool {
	token, role, ok := m.resolveCredentials(token, role)
	if !ok {
		m.log.Warn("no auth token available, connect resolves false")
		return false
	}

	dialCtx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	defer cancel()

	u, err := url.Parse(m.wsURL)
	if err != nil {
		m.log.Error("invalid signaling url", zap.Error(err))
		return false
	}
	q := u.Query()
	q.Set("role", string(role))
	u.RawQuery = q.Encode()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, resp, err := m.dialer.DialContext(dialCtx, u.String(), header)
	if err != nil {
		if conn != nil {
			conn.Close()
		}
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		m.mu.Lock()
		m.attempts++
		attempts := m.attempts
		m.mu.Unlock()
		m.log.Warn("connect attempt failed",
			zap.Error(err), zap.Int("status", status), zap.Int("attempts", attempts))
		return false
	}

	m.mu.Lock()
	if m.closed {
		// Disconnect raced the dial; drop the fresh transport.
		m.mu.Unlock()
		conn.Close()
		return false
	}
	m.conn = conn
	m.connID = uuid.NewString()
	m.connected = true
	m.role = role
	m.attempts = 0
	close(m.connectedCh)
	rooms := make([]string, 0, len(m.joinedRooms))
	for r := range m.joinedRooms {
		rooms = append(rooms, r)
	}
	connID := m.connID
	m.mu.Unlock()

	m.log.Info("signaling socket connected",
		zap.String("connId", connID), zap.String("role", string(role)))

	go m.readLoop(conn, connID)

	// Replay chat room membership accumulated before the reconnect.
	for _, room := range rooms {
		if err := m.Emit(signaling.EventJoinChat, map[string]string{"roomId": room}); err != nil {
			m.log.Warn("room replay failed", zap.String("roomId", room), zap.Error(err))
		}
	}
	return true
}

func (m *Manager) resolveCredentials(token string, role auth.Role) (string, auth.Role, bool) {
	if token != "" && role.Valid() {
		return token, role, true
	}
	creds, err := m.store.Load()
	if err != nil {
		return "", "", token != "" && role.Valid()
	}
	if token == "" {
		token = creds.Token
	}
	if !role.Valid() {
		role = creds.Role
	}
	return token, role, token != "" && role.Valid()
}

// Disconnect removes every registered handler before closing the
// transport, so no callback can fire against a half-closed connection.
// Safe to call when already disconnected.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.handlers = make(map[signaling.Event]Handler)
	m.closed = true
	m.cancelTimersLocked()
	m.teardownLocked()
	m.mu.Unlock()
}

// ForceReconnect tears the transport down and dials again with the
// currently persisted credentials. Used after a token rotation so the new
// token is the one on the wire.
func (m *Manager) ForceReconnect(ctx context.Context) bool {
	m.mu.Lock()
	m.teardownLocked()
	m.lastAttempt = time.Time{} // rotation reconnects skip the cooldown
	m.mu.Unlock()
	return m.Connect(ctx, "", "")
}

// teardownLocked closes the live transport and resets connection state.
// Caller holds m.mu.
func (m *Manager) teardownLocked() {
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	if m.connected {
		m.connected = false
		m.connectedCh = make(chan struct{})
	}
	m.connID = ""
}

func (m *Manager) cancelTimersLocked() {
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	for room, t := range m.pendingJoins {
		t.Stop()
		delete(m.pendingJoins, room)
	}
}

// WaitForConnection blocks until the socket is connected or the timeout
// elapses. On timeout it makes one explicit reconnect attempt from
// persisted credentials before giving up. Pass zero to use the default.
func (m *Manager) WaitForConnection(ctx context.Context, timeout time.Duration) bool {
	if timeout == 0 {
		timeout = m.cfg.WaitTimeout
	}

	m.mu.Lock()
	if m.connected {
		m.mu.Unlock()
		return true
	}
	ch := m.connectedCh
	m.mu.Unlock()

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-ch:
		return true
	case <-ctx.Done():
		return false
	case <-t.C:
		return m.Connect(ctx, "", "")
	}
}

// readLoop pumps inbound frames until the transport dies. connID guards
// against a stale loop from a previous transport mutating fresh state.
func (m *Manager) readLoop(conn *websocket.Conn, connID string) {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			m.handleTransportLoss(connID, err)
			return
		}
		m.dispatch(msg)
	}
}

func (m *Manager) handleTransportLoss(connID string, err error) {
	m.mu.Lock()
	if m.connID != connID {
		m.mu.Unlock()
		return
	}
	m.teardownLocked()
	explicit := m.closed
	m.mu.Unlock()

	if explicit {
		return
	}

	if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
		m.log.Warn("signaling socket lost", zap.Error(err))
	} else {
		m.log.Info("signaling socket closed", zap.Error(err))
	}
	m.scheduleReconnect()
}

// scheduleReconnect arms the single fixed-interval reconnect timer. A
// timer already pending is replaced, never stacked. The retry repeats
// indefinitely as long as a token remains persisted.
func (m *Manager) scheduleReconnect() {
	if _, err := m.store.Load(); err != nil {
		m.log.Info("no persisted credentials, reconnect abandoned")
		return
	}

	delay := m.retryInterval.NextBackOff()

	m.mu.Lock()
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
	}
	m.reconnectTimer = time.AfterFunc(delay, func() {
		m.mu.Lock()
		m.reconnectTimer = nil
		m.mu.Unlock()

		if m.Connect(context.Background(), "", "") {
			return
		}
		m.scheduleReconnect()
	})
	m.mu.Unlock()
}

// On registers the handler for an event, replacing any previous one.
// Registration is idempotent: subscribing the same event twice leaves
// exactly one live handler.
func (m *Manager) On(event signaling.Event, h Handler) {
	m.mu.Lock()
	m.handlers[event] = h
	m.mu.Unlock()
}

// Off removes the handler for an event.
func (m *Manager) Off(event signaling.Event) {
	m.mu.Lock()
	delete(m.handlers, event)
	m.mu.Unlock()
}

func (m *Manager) dispatch(msg []byte) {
	var env signaling.Envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		m.log.Debug("undecodable frame dropped", zap.Error(err))
		return
	}

	switch env.Event {
	case signaling.EventNewAccessToken:
		m.handleTokenRotation(env)
		return
	case signaling.EventUserBlocked:
		m.handleBlocked()
		return
	}

	m.mu.Lock()
	h := m.handlers[env.Event]
	m.mu.Unlock()
	if h != nil {
		h(env.Data)
	}
}

// handleTokenRotation persists the pushed token and transparently forces
// a reconnect so the new token is used on the wire. No error surfaces to
// callers; a failed reconnect falls into the normal retry path.
func (m *Manager) handleTokenRotation(env signaling.Envelope) {
	payload, err := signaling.Decode(env)
	if err != nil {
		m.log.Warn("bad access-token payload", zap.Error(err))
		return
	}
	tok, ok := payload.(signaling.AccessToken)
	if !ok || tok.Token == "" {
		return
	}

	if err := m.store.RotateToken(tok.Token); err != nil {
		if !errors.Is(err, auth.ErrNoCredentials) {
			m.log.Error("token rotation persist failed", zap.Error(err))
			return
		}
		// Cold store: the process connected with an explicit token that
		// was never persisted. Seed a row so the rotated token survives
		// the reconnect.
		m.mu.Lock()
		role := m.role
		m.mu.Unlock()
		if err := m.store.Save(auth.Credentials{Token: tok.Token, Role: role}); err != nil {
			m.log.Error("token rotation persist failed", zap.Error(err))
			return
		}
	}
	m.log.Info("access token rotated, reconnecting")

	go func() {
		if !m.ForceReconnect(context.Background()) {
			m.scheduleReconnect()
		}
	}()
}

// handleBlocked is the fatal, non-retryable path: the local participant
// was blocked server-side. Tear down, wipe credentials, hand off to the
// logout sink.
func (m *Manager) handleBlocked() {
	m.log.Warn("participant blocked by server, forcing logout")

	m.mu.Lock()
	onLogout := m.onLogout
	m.mu.Unlock()

	m.Disconnect()
	if err := m.store.Clear(); err != nil {
		m.log.Error("credential clear failed", zap.Error(err))
	}
	if onLogout != nil {
		onLogout()
	}
}

// Emit marshals the payload into the wire envelope and writes it.
func (m *Manager) Emit(event signaling.Event, payload any) error {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	frame, err := signaling.Marshal(event, payload)
	if err != nil {
		return err
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("socket write %s: %w", event, err)
	}
	return nil
}
