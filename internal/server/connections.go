package server

import (
	"sync"

	"github.com/coder/websocket"
)

// ConnectionManager maps transient websocket connections to stable
// identities, and remembers the newest room-state version delivered to
// each connection so stale broadcasts can be dropped instead of confusing
// a freshly rejoined viewer.
type ConnectionManager struct {
	connections map[string]*websocket.Conn // connectionID -> socket
	identities  map[string]string          // connectionID -> identity id
	byIdentity  map[string]string          // identity id -> connectionID
	lastVersion map[string]uint64          // connectionID -> last delivered state version
	mu          sync.RWMutex
}

func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		connections: make(map[string]*websocket.Conn),
		identities:  make(map[string]string),
		byIdentity:  make(map[string]string),
		lastVersion: make(map[string]uint64),
	}
}

func (cm *ConnectionManager) AddConnection(id string, conn *websocket.Conn) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.connections[id] = conn
}

func (cm *ConnectionManager) RemoveConnection(id string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if identity, ok := cm.identities[id]; ok && cm.byIdentity[identity] == id {
		delete(cm.byIdentity, identity)
	}
	delete(cm.identities, id)
	delete(cm.connections, id)
	delete(cm.lastVersion, id)
}

// Bind attaches an identity to a connection and returns the id of any
// other connection that previously held the identity, so the caller can
// close it ("connected elsewhere").
func (cm *ConnectionManager) Bind(connectionID, identity string) (previousConnID string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	previous := cm.byIdentity[identity]
	if previous == connectionID {
		previous = ""
	}
	cm.identities[connectionID] = identity
	cm.byIdentity[identity] = connectionID
	return previous
}

// Unbind detaches the identity from a still-open connection, used when a
// player leaves a room but keeps the socket (e.g. to browse the lobby).
func (cm *ConnectionManager) Unbind(connectionID string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if identity, ok := cm.identities[connectionID]; ok && cm.byIdentity[identity] == connectionID {
		delete(cm.byIdentity, identity)
	}
	delete(cm.identities, connectionID)
}

func (cm *ConnectionManager) IdentityOf(connectionID string) string {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.identities[connectionID]
}

func (cm *ConnectionManager) ConnectionOf(identity string) (string, *websocket.Conn) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	connID, ok := cm.byIdentity[identity]
	if !ok {
		return "", nil
	}
	return connID, cm.connections[connID]
}

func (cm *ConnectionManager) GetConnection(connectionID string) *websocket.Conn {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.connections[connectionID]
}

// Connections returns a snapshot of every open connection, for
// server-wide notifications.
func (cm *ConnectionManager) Connections() map[string]*websocket.Conn {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	out := make(map[string]*websocket.Conn, len(cm.connections))
	for id, conn := range cm.connections {
		out[id] = conn
	}
	return out
}

// ShouldDeliver reports whether a state push carrying version is newer
// than anything this connection has seen, and records it if so. A rejoin
// response counts as a delivery, which is what closes the race where a
// queued broadcast lands after a fresher rejoin snapshot.
func (cm *ConnectionManager) ShouldDeliver(connectionID string, version uint64) bool {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if _, ok := cm.connections[connectionID]; !ok {
		return false
	}
	if version <= cm.lastVersion[connectionID] {
		return false
	}
	cm.lastVersion[connectionID] = version
	return true
}
