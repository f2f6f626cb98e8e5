package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// Test 1: Binding an identity and looking it up both ways
// Why: Broadcasts resolve identity -> connection, disconnects the reverse
func TestConnectionManager_BindAndLookup(t *testing.T) {
	cm := NewConnectionManager()

	cm.AddConnection("conn-1", nil)
	previous := cm.Bind("conn-1", "player-1")
	assert.Empty(t, previous)

	assert.Equal(t, "player-1", cm.IdentityOf("conn-1"))
	connID, _ := cm.ConnectionOf("player-1")
	assert.Equal(t, "conn-1", connID)
}

// Test 2: Rebinding an identity reports the displaced connection
// Why: The rejoin handler must know which old socket to close with
// disconnected_elsewhere
func TestConnectionManager_BindDisplacesPrevious(t *testing.T) {
	cm := NewConnectionManager()

	cm.AddConnection("conn-old", nil)
	cm.AddConnection("conn-new", nil)
	cm.Bind("conn-old", "player-1")

	previous := cm.Bind("conn-new", "player-1")
	assert.Equal(t, "conn-old", previous)

	connID, _ := cm.ConnectionOf("player-1")
	assert.Equal(t, "conn-new", connID)
}

// Test 3: Rebinding the same connection is not a displacement
// Why: A client re-sending rejoin on its live socket must not close itself
func TestConnectionManager_RebindSameConnection(t *testing.T) {
	cm := NewConnectionManager()

	cm.AddConnection("conn-1", nil)
	cm.Bind("conn-1", "player-1")

	previous := cm.Bind("conn-1", "player-1")
	assert.Empty(t, previous)
}

// Test 4: Removing a connection clears its identity mapping
// Why: A dead socket must not receive broadcasts nor block a rebind
func TestConnectionManager_RemoveConnection(t *testing.T) {
	cm := NewConnectionManager()

	cm.AddConnection("conn-1", nil)
	cm.Bind("conn-1", "player-1")

	cm.RemoveConnection("conn-1")

	assert.Empty(t, cm.IdentityOf("conn-1"))
	connID, conn := cm.ConnectionOf("player-1")
	assert.Empty(t, connID)
	assert.Nil(t, conn)
}

// Test 5: Removing a stale connection does not unbind a newer one
// Why: When a displaced socket's read loop exits after the rebind, its
// cleanup must not sever the fresh connection's identity
func TestConnectionManager_RemoveStaleConnectionKeepsNewBinding(t *testing.T) {
	cm := NewConnectionManager()

	cm.AddConnection("conn-old", nil)
	cm.AddConnection("conn-new", nil)
	cm.Bind("conn-old", "player-1")
	cm.Bind("conn-new", "player-1")

	cm.RemoveConnection("conn-old")

	connID, _ := cm.ConnectionOf("player-1")
	assert.Equal(t, "conn-new", connID)
}

// Test 6: Unbind keeps the socket but forgets the identity
// Why: leave_game keeps the connection alive for lobby browsing
func TestConnectionManager_Unbind(t *testing.T) {
	cm := NewConnectionManager()

	cm.AddConnection("conn-1", nil)
	cm.Bind("conn-1", "player-1")

	cm.Unbind("conn-1")

	assert.Empty(t, cm.IdentityOf("conn-1"))
	_, ok := cm.Connections()["conn-1"]
	assert.True(t, ok, "Connection should survive an unbind")
}

// Test 7: Stale state pushes are dropped
// Why: A broadcast built before a rejoin snapshot but sent after it would
// roll the client's view backwards; the version gate must stop it
func TestConnectionManager_ShouldDeliverDropsStaleVersions(t *testing.T) {
	cm := NewConnectionManager()
	cm.AddConnection("conn-1", nil)

	// Rejoin snapshot at version 7 counts as a delivery
	assert.True(t, cm.ShouldDeliver("conn-1", 7))

	// An older queued broadcast arrives late
	assert.False(t, cm.ShouldDeliver("conn-1", 5))

	// Same version again is also a duplicate
	assert.False(t, cm.ShouldDeliver("conn-1", 7))

	// Genuinely newer state goes through
	assert.True(t, cm.ShouldDeliver("conn-1", 8))
}

// Test 8: Unknown connections never receive deliveries
// Why: The room lock can outlive a socket; sends must not target ghosts
func TestConnectionManager_ShouldDeliverUnknownConnection(t *testing.T) {
	cm := NewConnectionManager()

	assert.False(t, cm.ShouldDeliver("ghost", 1))
}

// Test 9: Version tracking resets with the connection
// Why: A fresh socket for the same player starts from scratch and must
// accept the first snapshot it is offered
func TestConnectionManager_VersionResetsPerConnection(t *testing.T) {
	cm := NewConnectionManager()

	cm.AddConnection("conn-1", nil)
	assert.True(t, cm.ShouldDeliver("conn-1", 9))
	cm.RemoveConnection("conn-1")

	cm.AddConnection("conn-2", nil)
	assert.True(t, cm.ShouldDeliver("conn-2", 3))
}
