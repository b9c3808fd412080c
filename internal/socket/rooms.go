package socket

import (
	"time"

	"go.uber.org/zap"

	"github.com/gokul-gkm/devconnect-rtc/internal/signaling"
)

// JoinChatRoom joins a chat room. Idempotent: re-joining a room already
// joined is a no-op returning success. Membership is remembered so every
// room is re-joined automatically after a reconnect.
func (m *Manager) JoinChatRoom(roomID string) bool {
	m.mu.Lock()
	if _, ok := m.joinedRooms[roomID]; ok {
		m.mu.Unlock()
		return true
	}
	m.joinedRooms[roomID] = struct{}{}
	m.mu.Unlock()

	if err := m.Emit(signaling.EventJoinChat, map[string]string{"roomId": roomID}); err != nil {
		m.log.Warn("chat join deferred until reconnect",
			zap.String("roomId", roomID), zap.Error(err))
	}
	return true
}

// LeaveChatRoom leaves a chat room and forgets it for replay purposes.
func (m *Manager) LeaveChatRoom(roomID string) {
	m.mu.Lock()
	delete(m.joinedRooms, roomID)
	m.mu.Unlock()

	if err := m.Emit(signaling.EventLeaveChat, map[string]string{"roomId": roomID}); err != nil {
		m.log.Debug("chat leave not sent", zap.String("roomId", roomID), zap.Error(err))
	}
}

// JoinVideoRoom sends a call-room join. Joins for the same session
// arriving within the cooldown window of the previous one are deferred to
// fire once after the cooldown, avoiding server-side room churn when a UI
// mounts and unmounts rapidly. A pending deferred join for the room is
// replaced, never duplicated.
func (m *Manager) JoinVideoRoom(join signaling.JoinRoom) error {
	m.mu.Lock()
	last := m.lastVideoJoin[join.RoomID]
	if wait := m.cfg.RoomJoinCooldown - time.Since(last); wait > 0 {
		if t, ok := m.pendingJoins[join.RoomID]; ok {
			t.Stop()
		}
		m.pendingJoins[join.RoomID] = time.AfterFunc(wait, func() {
			m.mu.Lock()
			delete(m.pendingJoins, join.RoomID)
			m.lastVideoJoin[join.RoomID] = time.Now()
			m.mu.Unlock()

			if err := m.Emit(signaling.EventJoinRoom, join); err != nil {
				m.log.Warn("deferred room join failed",
					zap.String("roomId", join.RoomID), zap.Error(err))
			}
		})
		m.mu.Unlock()
		m.log.Debug("room join coalesced", zap.String("roomId", join.RoomID))
		return nil
	}
	m.lastVideoJoin[join.RoomID] = time.Now()
	m.mu.Unlock()

	return m.Emit(signaling.EventJoinRoom, join)
}

// LeaveVideoRoom cancels any pending deferred join for the room and sends
// the leave announcement.
func (m *Manager) LeaveVideoRoom(leave signaling.LeaveRoom) error {
	m.mu.Lock()
	if t, ok := m.pendingJoins[leave.RoomID]; ok {
		t.Stop()
		delete(m.pendingJoins, leave.RoomID)
	}
	m.mu.Unlock()

	return m.Emit(signaling.EventLeaveRoom, leave)
}

// SendTyping forwards a typing indicator. Pass-through: the payload is
// opaque to this core.
func (m *Manager) SendTyping(roomID, userID string) error {
	return m.Emit(signaling.EventTyping, map[string]string{"roomId": roomID, "userId": userID})
}

// SendReadReceipt forwards a read receipt. Pass-through only.
func (m *Manager) SendReadReceipt(roomID, messageID string) error {
	return m.Emit(signaling.EventMessageRead, map[string]string{"roomId": roomID, "messageId": messageID})
}
