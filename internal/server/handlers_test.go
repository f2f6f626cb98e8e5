package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newWebsocketTestServer brings up the full HTTP/websocket stack on an
// ephemeral port, backed by the fake store.
func newWebsocketTestServer(t *testing.T) (*Server, *fakeStore, *httptest.Server) {
	t.Helper()
	store := newFakeStore()
	config := DefaultServerConfig()
	// Tests fire messages far faster than a human; don't trip the limiter.
	config.Server.MessageRate = 1000
	srv := NewServer(config, store, log.New(io.Discard), quartz.NewMock(t))
	ts := httptest.NewServer(srv.RegisterRoutes())
	t.Cleanup(ts.Close)
	return srv, store, ts
}

type testClient struct {
	t    *testing.T
	conn *websocket.Conn
}

func dialWS(t *testing.T, ts *httptest.Server) *testClient {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/websocket"
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "test done") })
	return &testClient{t: t, conn: conn}
}

func (c *testClient) send(msgType string, payload any) {
	c.t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(c.t, err)
	envelope, err := json.Marshal(ClientMessage{Type: msgType, Payload: data})
	require.NoError(c.t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(c.t, c.conn.Write(ctx, websocket.MessageText, envelope))
}

type serverEnvelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func (c *testClient) recv() serverEnvelope {
	c.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, data, err := c.conn.Read(ctx)
	require.NoError(c.t, err)

	var envelope serverEnvelope
	require.NoError(c.t, json.Unmarshal(data, &envelope))
	return envelope
}

// waitFor reads until a message of the wanted type arrives, skipping
// interleaved broadcasts (room_state, room_list_update, ...). An error
// message while waiting fails the test.
func (c *testClient) waitFor(msgType string) json.RawMessage {
	c.t.Helper()
	for i := 0; i < 100; i++ {
		envelope := c.recv()
		if envelope.Type == msgType {
			return envelope.Payload
		}
		if envelope.Type == "error" {
			c.t.Fatalf("got error while waiting for %s: %s", msgType, envelope.Payload)
		}
	}
	c.t.Fatalf("no %s message after 100 reads", msgType)
	return nil
}

// waitForError reads until an error message arrives, skipping interleaved
// broadcasts.
func (c *testClient) waitForError() ErrorMessage {
	c.t.Helper()
	for i := 0; i < 100; i++ {
		envelope := c.recv()
		if envelope.Type == "error" {
			return decodePayload[ErrorMessage](c.t, envelope.Payload)
		}
	}
	c.t.Fatal("no error message after 100 reads")
	return ErrorMessage{}
}

func decodePayload[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

// createTwoPlayerRoom runs the create/join handshake and returns both
// clients with Alice's view settled on the two-seat lobby.
func createTwoPlayerRoom(t *testing.T, ts *httptest.Server) (alice, bob *testClient, created CreateRoomResponse) {
	t.Helper()

	alice = dialWS(t, ts)
	alice.send("create_room", CreateRoomRequest{
		PlayerName: "Alice", MinPlayers: 2, MaxPlayers: 4, GameMode: "single",
	})
	created = decodePayload[CreateRoomResponse](t, alice.waitFor("room_created"))
	require.NotEmpty(t, created.RoomID)
	require.NotEmpty(t, created.PlayerID)

	bob = dialWS(t, ts)
	bob.send("join_room", JoinRoomRequest{RoomID: created.RoomID, PlayerName: "Bob"})
	joined := decodePayload[JoinRoomResponse](t, bob.waitFor("room_joined"))
	require.Equal(t, created.RoomID, joined.RoomID)

	// Alice sees the join land before anything else happens
	state := decodePayload[PlayerState](t, alice.waitFor("room_state"))
	require.Len(t, state.Seats, 2)
	return alice, bob, created
}

// Test 1: Create/join/start over the wire, with privatized hands
// Why: The transport must hand each seat its own hole cards and nobody
// else's; this is the seam where the per-viewer views actually ship
func TestWebsocket_CreateJoinStartFlow(t *testing.T) {
	_, _, ts := newWebsocketTestServer(t)
	alice, bob, created := createTwoPlayerRoom(t, ts)

	alice.send("start_game", struct{}{})
	alice.waitFor("game_started")

	aliceState := decodePayload[PlayerState](t, alice.waitFor("room_state"))
	assert.Equal(t, "BETTING_1", aliceState.Phase)
	assert.Equal(t, created.PlayerID, aliceState.YourID)
	assert.Len(t, aliceState.YourHole, 2)
	assert.Equal(t, []int{1, 2}, aliceState.TokenPool)

	bobState := decodePayload[PlayerState](t, bob.waitFor("room_state"))
	assert.Equal(t, "BETTING_1", bobState.Phase)
	assert.Len(t, bobState.YourHole, 2)
	assert.NotEqual(t, aliceState.YourHole, bobState.YourHole,
		"Each seat must see its own cards, not the other's")
}

// Test 2: Only the host may start
// Why: The host gate lives in the handler layer, not the engine
func TestWebsocket_StartGameRequiresHost(t *testing.T) {
	_, _, ts := newWebsocketTestServer(t)
	_, bob, _ := createTwoPlayerRoom(t, ts)

	bob.send("start_game", struct{}{})
	errMsg := bob.waitForError()
	assert.Equal(t, "VALIDATION", errMsg.Code)
	assert.Contains(t, errMsg.Message, "host")
}

// Test 3: Leaving mid-game tears the room down with a notice
// Why: The remaining viewer must learn why their room vanished, and both
// the registry and the store must drop it
func TestWebsocket_LeaveMidGameDeletesRoom(t *testing.T) {
	srv, store, ts := newWebsocketTestServer(t)
	alice, bob, created := createTwoPlayerRoom(t, ts)

	alice.send("start_game", struct{}{})
	alice.waitFor("game_started")

	bob.send("leave_game", struct{}{})
	bob.waitFor("left_game")

	deleted := decodePayload[RoomDeletedNotification](t, alice.waitFor("room_deleted"))
	assert.Equal(t, created.RoomID, deleted.RoomID)
	assert.Equal(t, "not enough players to continue", deleted.Reason)

	require.Eventually(t, func() bool {
		return !srv.registry.Has(created.RoomID) && store.wasDeleted(created.RoomID)
	}, 2*time.Second, 10*time.Millisecond, "Room must be gone from registry and store")
}

// playBettingRound has Alice claim token 1 and Bob token 2, then readies
// both; waiting for each ack serializes the turn order.
func playBettingRound(t *testing.T, alice, bob *testClient) {
	t.Helper()
	alice.send("claim_token", ClaimTokenRequest{TokenNumber: 1})
	alice.waitFor("token_claimed")
	bob.send("claim_token", ClaimTokenRequest{TokenNumber: 2})
	bob.waitFor("token_claimed")
	alice.send("set_ready", struct{}{})
	alice.waitFor("ready_set")
	bob.send("set_ready", struct{}{})
	bob.waitFor("ready_set")
}

// Test 4: Unanimous readiness on the last betting round pushes round_complete
// Why: The round_complete push exists only in this layer; the engine just
// returns the result to whoever called it
func TestWebsocket_SetReadyTriggersRoundComplete(t *testing.T) {
	_, _, ts := newWebsocketTestServer(t)
	alice, bob, created := createTwoPlayerRoom(t, ts)

	alice.send("start_game", struct{}{})
	alice.waitFor("game_started")

	for round := 0; round < 4; round++ {
		playBettingRound(t, alice, bob)
	}

	notification := decodePayload[RoundCompleteNotification](t, alice.waitFor("round_complete"))
	assert.Equal(t, created.RoomID, notification.RoomID)
	require.Len(t, notification.Result.Seats, 2)
	for _, seat := range notification.Result.Seats {
		assert.Contains(t, []int{1, 2}, seat.TrueRank)
		assert.NotEmpty(t, seat.Hand)
	}

	// Both viewers get it, not just the seat whose ready closed the round
	bobNotification := decodePayload[RoundCompleteNotification](t, bob.waitFor("round_complete"))
	assert.Equal(t, notification.Result.Success, bobNotification.Result.Success)
}

// Test 5: A rejoin from a second device displaces the first
// Why: One identity, one socket; the losing connection must be told why
// it is being closed
func TestWebsocket_RejoinDisplacesOldConnection(t *testing.T) {
	_, _, ts := newWebsocketTestServer(t)

	first := dialWS(t, ts)
	first.send("create_room", CreateRoomRequest{
		PlayerName: "Alice", MinPlayers: 2, MaxPlayers: 4, GameMode: "single",
	})
	created := decodePayload[CreateRoomResponse](t, first.waitFor("room_created"))

	second := dialWS(t, ts)
	second.send("rejoin", RejoinRequest{RoomID: created.RoomID, PlayerID: created.PlayerID})
	rejoined := decodePayload[RejoinResponse](t, second.waitFor("rejoined"))
	assert.Equal(t, created.PlayerID, rejoined.State.YourID)
	assert.Len(t, rejoined.State.Seats, 1)

	first.waitFor("disconnected_elsewhere")
}

// Test 6: Rejoining with an unknown identity fails
// Why: Sessions are removed on leave and sweep; a dead identity must not
// resurrect into a room
func TestWebsocket_RejoinUnknownSession(t *testing.T) {
	_, _, ts := newWebsocketTestServer(t)

	c := dialWS(t, ts)
	c.send("rejoin", RejoinRequest{RoomID: "ABCD", PlayerID: "ghost"})
	assert.Equal(t, "NOT_FOUND", c.waitForError().Code)
}

// Test 7: A dropped socket flags the seat, it does not vacate it
// Why: Disconnect is not leave; the table sees the flag and the seat,
// cards, and room all survive for a later rejoin
func TestWebsocket_DisconnectMarksSeatNotVacates(t *testing.T) {
	srv, _, ts := newWebsocketTestServer(t)
	alice, bob, created := createTwoPlayerRoom(t, ts)

	bob.conn.Close(websocket.StatusNormalClosure, "bye")

	status := decodePayload[PlayerStatusNotification](t, alice.waitFor("player_disconnected"))
	assert.Equal(t, "Bob", status.Name)
	assert.False(t, status.Connected)

	state := decodePayload[PlayerState](t, alice.waitFor("room_state"))
	require.Len(t, state.Seats, 2, "The seat must survive the disconnect")
	for _, seat := range state.Seats {
		if seat.Name == "Bob" {
			assert.False(t, seat.Connected)
		}
	}
	assert.True(t, srv.registry.Has(created.RoomID))
}

// Test 8: Spectators get the full-information view
// Why: The spectator state is assembled in this layer; every seat's
// cards must be present
func TestWebsocket_SpectatorSeesAllHoles(t *testing.T) {
	_, _, ts := newWebsocketTestServer(t)
	alice, _, created := createTwoPlayerRoom(t, ts)

	alice.send("start_game", struct{}{})
	alice.waitFor("game_started")

	spec := dialWS(t, ts)
	spec.send("join_spectator", JoinSpectatorRequest{RoomID: created.RoomID, SpectatorName: "Watcher"})
	joined := decodePayload[JoinSpectatorResponse](t, spec.waitFor("spectator_joined"))

	assert.Equal(t, "BETTING_1", joined.State.Phase)
	require.Len(t, joined.State.Holes, 2)
	for playerID, hole := range joined.State.Holes {
		assert.Len(t, hole, 2, "Spectator must see both cards of %s", playerID)
	}
}

// Test 9: Every failure comes back as a structured error message
// Why: Handlers are the error boundary; nothing a client sends may
// produce silence or a dropped connection
func TestWebsocket_ErrorReplies(t *testing.T) {
	_, _, ts := newWebsocketTestServer(t)
	c := dialWS(t, ts)

	// Malformed JSON
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.conn.Write(ctx, websocket.MessageText, []byte("{not json")))
	assert.Equal(t, "VALIDATION", c.waitForError().Code)

	// In-room action without a session
	c.send("claim_token", ClaimTokenRequest{TokenNumber: 1})
	errMsg := c.waitForError()
	assert.Equal(t, "NOT_FOUND", errMsg.Code)
	assert.Contains(t, errMsg.Message, "no active session")

	// Joining a room that does not exist
	c.send("join_room", JoinRoomRequest{RoomID: "ZZZZ", PlayerName: "Eve"})
	assert.Equal(t, "NOT_FOUND", c.waitForError().Code)

	// Unknown message type
	c.send("warp_cards", struct{}{})
	assert.Equal(t, "VALIDATION", c.waitForError().Code)

	// The connection survived all of it
	c.send("ping", struct{}{})
	c.waitFor("pong")
}

// Test 10: The room list reflects live rooms and the caller's own room
// Why: MyActiveRoomID is how a reconnecting client finds its way back
func TestWebsocket_GetRoomList(t *testing.T) {
	_, _, ts := newWebsocketTestServer(t)
	alice, _, created := createTwoPlayerRoom(t, ts)

	alice.send("get_room_list", struct{}{})
	list := decodePayload[RoomListResponse](t, alice.waitFor("room_list"))
	require.Len(t, list.Rooms, 1)
	assert.Equal(t, created.RoomID, list.Rooms[0].RoomID)
	assert.Equal(t, 2, list.Rooms[0].PlayerCount)
	assert.Equal(t, created.RoomID, list.MyActiveRoomID)

	// A fresh connection with no session sees the room but owns none
	outsider := dialWS(t, ts)
	outsider.send("get_room_list", struct{}{})
	outsiderList := decodePayload[RoomListResponse](t, outsider.waitFor("room_list"))
	require.Len(t, outsiderList.Rooms, 1)
	assert.Empty(t, outsiderList.MyActiveRoomID)
}
