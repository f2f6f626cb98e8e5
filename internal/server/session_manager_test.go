package server

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

// Test 1: Basic session storage and retrieval
// Why: Foundation of reconnection - the identity must survive lookups
func TestSessionManager_StoreAndRetrieve(t *testing.T) {
	sm := NewSessionManager()

	session := SessionInfo{
		ID:     "player-123",
		RoomID: "ABCD",
		Name:   "Alice",
		Kind:   SessionPlayer,
	}
	sm.StoreSession(session)

	retrieved, err := sm.GetSession("player-123")
	assert.NoError(t, err)
	assert.Equal(t, session, retrieved)
}

// Test 2: Get non-existent session returns error
// Why: A forged or expired identity must be rejected cleanly
func TestSessionManager_GetNonExistentSession(t *testing.T) {
	sm := NewSessionManager()

	_, err := sm.GetSession("non-existent")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "NOT_FOUND")
}

// Test 3: Remove session
// Why: leave_game must forget the identity so a later rejoin fails
func TestSessionManager_RemoveSession(t *testing.T) {
	sm := NewSessionManager()

	sm.StoreSession(SessionInfo{ID: "temp", RoomID: "WXYZ", Name: "Bob", Kind: SessionPlayer})

	_, err := sm.GetSession("temp")
	assert.NoError(t, err)

	sm.RemoveSession("temp")

	_, err = sm.GetSession("temp")
	assert.Error(t, err)
}

// Test 4: Remove all sessions of one room
// Why: Room teardown must not leave dangling identities that could rejoin
func TestSessionManager_RemoveRoomSessions(t *testing.T) {
	sm := NewSessionManager()

	sm.StoreSession(SessionInfo{ID: "p1", RoomID: "AAAA", Name: "P1", Kind: SessionPlayer})
	sm.StoreSession(SessionInfo{ID: "p2", RoomID: "AAAA", Name: "P2", Kind: SessionPlayer})
	sm.StoreSession(SessionInfo{ID: "spec", RoomID: "AAAA", Name: "Watcher", Kind: SessionSpectator})
	sm.StoreSession(SessionInfo{ID: "other", RoomID: "BBBB", Name: "Other", Kind: SessionPlayer})

	sm.RemoveRoomSessions("AAAA")

	_, err := sm.GetSession("p1")
	assert.Error(t, err)
	_, err = sm.GetSession("spec")
	assert.Error(t, err)

	// Other rooms untouched
	retrieved, err := sm.GetSession("other")
	assert.NoError(t, err)
	assert.Equal(t, "BBBB", retrieved.RoomID)
}

// Test 5: Get all sessions
// Why: Startup restore and room broadcasts iterate the whole table
func TestSessionManager_GetAllSessions(t *testing.T) {
	sm := NewSessionManager()

	sessions := []SessionInfo{
		{ID: "id1", RoomID: "AAAA", Name: "Player1", Kind: SessionPlayer},
		{ID: "id2", RoomID: "BBBB", Name: "Player2", Kind: SessionPlayer},
		{ID: "id3", RoomID: "CCCC", Name: "Watcher", Kind: SessionSpectator},
	}
	for _, session := range sessions {
		sm.StoreSession(session)
	}

	all := sm.GetAllSessions()
	assert.Equal(t, 3, len(all))

	seen := make(map[string]bool)
	for _, s := range all {
		seen[s.ID] = true
	}
	for _, expected := range sessions {
		assert.True(t, seen[expected.ID], "Expected to find session %s", expected.ID)
	}
}

// Test 6: Concurrent session operations (thread safety)
// Why: Every websocket goroutine touches the SessionManager
func TestSessionManager_ConcurrentOperations(t *testing.T) {
	sm := NewSessionManager()

	var wg sync.WaitGroup
	numGoroutines := 100

	wg.Add(numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func(id int) {
			defer wg.Done()
			sm.StoreSession(SessionInfo{
				ID:     fmt.Sprintf("id-%d", id),
				RoomID: "CONC",
				Name:   fmt.Sprintf("User%d", id),
				Kind:   SessionPlayer,
			})
		}(i)
	}
	wg.Wait()

	assert.Equal(t, numGoroutines, len(sm.GetAllSessions()))

	wg.Add(numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func(id int) {
			defer wg.Done()
			sm.RemoveSession(fmt.Sprintf("id-%d", id))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 0, len(sm.GetAllSessions()))
}
