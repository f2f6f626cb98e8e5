package server

import (
	"sync"

	"chipcall-server/internal/chipcall"
)

type SessionKind string

const (
	SessionPlayer    SessionKind = "player"
	SessionSpectator SessionKind = "spectator"
)

// SessionInfo binds a stable identity to a room. The identity outlives any
// particular websocket connection; reconnection presents the same id.
type SessionInfo struct {
	ID     string
	RoomID string
	Name   string
	Kind   SessionKind
}

type SessionManager struct {
	sessions map[string]SessionInfo // identity id -> SessionInfo
	mu       sync.RWMutex
}

func NewSessionManager() *SessionManager {
	return &SessionManager{
		sessions: make(map[string]SessionInfo),
	}
}

func (sm *SessionManager) StoreSession(info SessionInfo) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.sessions[info.ID] = info
}

func (sm *SessionManager) GetSession(id string) (SessionInfo, error) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	session, exists := sm.sessions[id]
	if !exists {
		return SessionInfo{}, chipcall.Errf(chipcall.CodeNotFound, "unknown session")
	}

	return session, nil
}

// RemoveSession forgets an identity; used when a player or spectator
// leaves for good (disconnects keep the session).
func (sm *SessionManager) RemoveSession(id string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	delete(sm.sessions, id)
}

// RemoveRoomSessions drops every identity bound to a destroyed room.
func (sm *SessionManager) RemoveRoomSessions(roomID string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	for id, session := range sm.sessions {
		if session.RoomID == roomID {
			delete(sm.sessions, id)
		}
	}
}

func (sm *SessionManager) GetAllSessions() []SessionInfo {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	sessions := make([]SessionInfo, 0, len(sm.sessions))
	for _, session := range sm.sessions {
		sessions = append(sessions, session)
	}

	return sessions
}
