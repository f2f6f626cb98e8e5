package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"chipcall-server/internal/chipcall"
)

func (s *Server) RegisterRoutes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/", s.rootHandler)
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/websocket", s.websocketHandler)

	return s.corsMiddleware(mux)
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*") // TODO: restrict to the deployed client origin
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) rootHandler(w http.ResponseWriter, r *http.Request) {
	resp := map[string]string{"service": "chipcall-server"}
	jsonResp, err := json.Marshal(resp)
	if err != nil {
		http.Error(w, "Failed to marshal response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(jsonResp); err != nil {
		s.logger.Error("failed to write response", "error", err)
	}
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"status": "ok",
		"rooms":  s.registry.Count(),
	}
	code := http.StatusOK
	if err := s.store.Ping(r.Context()); err != nil {
		status["status"] = "degraded"
		status["database"] = err.Error()
		code = http.StatusServiceUnavailable
	}

	resp, err := json.Marshal(status)
	if err != nil {
		http.Error(w, "Failed to marshal health check response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if _, err := w.Write(resp); err != nil {
		s.logger.Error("failed to write response", "error", err)
	}
}

func (s *Server) websocketHandler(w http.ResponseWriter, r *http.Request) {
	socket, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"}, // TODO: make environment-specific
	})
	if err != nil {
		http.Error(w, "Failed to open websocket", http.StatusInternalServerError)
		return
	}
	defer socket.Close(websocket.StatusGoingAway, "Server closing")

	ctx := r.Context()

	connectionID := uuid.New().String()
	s.logger.Debug("new connection", "connection", connectionID)
	s.connections.AddConnection(connectionID, socket)
	defer s.handleDisconnect(connectionID)

	for {
		msgType, data, err := socket.Read(ctx)
		if err != nil {
			s.logger.Debug("connection closed", "connection", connectionID, "error", err)
			return
		}

		if msgType != websocket.MessageText {
			s.logger.Debug("non-text input", "connection", connectionID)
			continue
		}

		if !s.rateLimiter.Allow(connectionID) {
			s.sendError(socket, ctx, chipcall.Errf(chipcall.CodeValidation, "too many messages, slow down"))
			continue
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.sendError(socket, ctx, chipcall.Errf(chipcall.CodeValidation, "invalid JSON"))
			continue
		}

		s.logger.Debug("message", "type", msg.Type, "connection", connectionID)

		switch msg.Type {
		case "ping":
			s.handlePing(socket, ctx, connectionID, msg.Payload)

		case "create_room":
			s.handleCreateRoom(socket, ctx, connectionID, msg.Payload)

		case "join_room":
			s.handleJoinRoom(socket, ctx, connectionID, msg.Payload)

		case "join_spectator":
			s.handleJoinSpectator(socket, ctx, connectionID, msg.Payload)

		case "rejoin":
			s.handleRejoin(socket, ctx, connectionID, msg.Payload)

		case "start_game":
			s.handleStartGame(socket, ctx, connectionID, msg.Payload)

		case "restart_game":
			s.handleRestartGame(socket, ctx, connectionID, msg.Payload)

		case "next_round":
			s.handleNextRound(socket, ctx, connectionID, msg.Payload)

		case "claim_token":
			s.handleClaimToken(socket, ctx, connectionID, msg.Payload)

		case "pass_turn":
			s.handlePassTurn(socket, ctx, connectionID, msg.Payload)

		case "set_ready":
			s.handleSetReady(socket, ctx, connectionID, msg.Payload)

		case "leave_game":
			s.handleLeaveGame(socket, ctx, connectionID, msg.Payload)

		case "leave_spectator":
			s.handleLeaveSpectator(socket, ctx, connectionID, msg.Payload)

		case "return_to_lobby":
			s.handleReturnToLobby(socket, ctx, connectionID, msg.Payload)

		case "get_room_list":
			s.handleGetRoomList(socket, ctx, connectionID, msg.Payload)

		default:
			s.sendError(socket, ctx, chipcall.Errf(chipcall.CodeValidation, "unknown message type: %s", msg.Type))
		}
	}
}

// handleDisconnect runs when a socket closes for any reason. A seated
// player keeps their seat, cards, and token; they are only flagged
// disconnected so the table can see it and a rejoin can restore them.
func (s *Server) handleDisconnect(connectionID string) {
	identity := s.connections.IdentityOf(connectionID)
	s.connections.RemoveConnection(connectionID)
	s.rateLimiter.RemoveConnection(connectionID)
	s.logger.Debug("connection removed", "connection", connectionID)

	if identity == "" {
		return
	}

	session, err := s.sessions.GetSession(identity)
	if err != nil {
		// Session already removed via leave_game; nothing to mark.
		return
	}

	if session.Kind != SessionPlayer {
		return
	}

	ctx := context.Background()
	marked := false
	err = s.registry.WithRoom(session.RoomID, func(room *chipcall.Room) error {
		marked = room.SetConnected(session.ID, false)
		if marked {
			s.persistRoom(ctx, room)
		}
		return nil
	})
	if err != nil || !marked {
		return
	}

	s.logger.Info("player disconnected", "player", session.Name, "room", session.RoomID)
	s.broadcastToRoom(session.RoomID, "player_disconnected", PlayerStatusNotification{
		PlayerID:  session.ID,
		Name:      session.Name,
		Connected: false,
	})
	s.broadcastRoomState(session.RoomID)
}

func (s *Server) sendMessage(socket *websocket.Conn, ctx context.Context, msg ServerMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}
	return socket.Write(ctx, websocket.MessageText, data)
}

// sendError reports a failure to one client, carrying the machine-readable
// code alongside the "CODE: message" string.
func (s *Server) sendError(socket *websocket.Conn, ctx context.Context, err error) {
	response := ServerMessage{
		Type: "error",
		Payload: ErrorMessage{
			Message: err.Error(),
			Code:    string(chipcall.CodeOf(err)),
		},
	}

	if sendErr := s.sendMessage(socket, ctx, response); sendErr != nil {
		s.logger.Error("failed to send error message", "error", sendErr)
	}
}

// broadcastRoomState pushes personalized snapshots to everyone watching a
// room: each seat sees only its own hole cards, spectators see all of
// them. Pushes older than what a connection already has are dropped, so a
// broadcast queued behind a rejoin cannot roll the client backwards.
func (s *Server) broadcastRoomState(roomID string) {
	type delivery struct {
		conn *websocket.Conn
		msg  ServerMessage
	}
	var deliveries []delivery

	err := s.registry.WithRoom(roomID, func(room *chipcall.Room) error {
		for _, p := range room.Seats {
			connID, conn := s.connections.ConnectionOf(p.ID)
			if conn == nil {
				continue
			}
			if !s.connections.ShouldDeliver(connID, room.Version) {
				continue
			}
			deliveries = append(deliveries, delivery{conn, ServerMessage{
				Type:    "room_state",
				Payload: buildPlayerState(room, p.ID),
			}})
		}
		for _, spec := range room.Spectators {
			connID, conn := s.connections.ConnectionOf(spec.ID)
			if conn == nil {
				continue
			}
			if !s.connections.ShouldDeliver(connID, room.Version) {
				continue
			}
			deliveries = append(deliveries, delivery{conn, ServerMessage{
				Type:    "room_state",
				Payload: buildSpectatorState(room),
			}})
		}
		return nil
	})
	if err != nil {
		return
	}

	for _, d := range deliveries {
		// Background context: one slow client must not wedge the room.
		if err := s.sendMessage(d.conn, context.Background(), d.msg); err != nil {
			s.logger.Debug("failed to push room state", "room", roomID, "error", err)
		}
	}
}

// broadcastToRoom sends the same message to every identity bound to the
// room, seats and spectators alike.
func (s *Server) broadcastToRoom(roomID string, messageType string, payload interface{}) {
	msg := ServerMessage{Type: messageType, Payload: payload}
	for _, session := range s.sessions.GetAllSessions() {
		if session.RoomID != roomID {
			continue
		}
		_, conn := s.connections.ConnectionOf(session.ID)
		if conn == nil {
			continue
		}
		if err := s.sendMessage(conn, context.Background(), msg); err != nil {
			s.logger.Debug("failed to broadcast", "room", roomID, "type", messageType, "error", err)
		}
	}
}

// notifyRoomDeleted warns a room's viewers before the room is torn down.
func (s *Server) notifyRoomDeleted(roomID, reason string) {
	s.broadcastToRoom(roomID, "room_deleted", RoomDeletedNotification{
		RoomID: roomID,
		Reason: reason,
	})
}

// broadcastRoomList pushes the public lobby listing to every open
// connection, bound to a room or not.
func (s *Server) broadcastRoomList() {
	msg := ServerMessage{
		Type:    "room_list_update",
		Payload: RoomListResponse{Rooms: s.buildRoomList()},
	}
	for _, conn := range s.connections.Connections() {
		if err := s.sendMessage(conn, context.Background(), msg); err != nil {
			s.logger.Debug("failed to broadcast room list", "error", err)
		}
	}
}

func (s *Server) buildRoomList() []RoomSummary {
	ids := s.registry.IDs()
	summaries := make([]RoomSummary, 0, len(ids))
	for _, id := range ids {
		var summary RoomSummary
		err := s.registry.WithRoom(id, func(room *chipcall.Room) error {
			summary = buildRoomSummary(room)
			return nil
		})
		if err != nil {
			continue
		}
		summaries = append(summaries, summary)
	}
	return summaries
}

// broadcastShutdown tells every client the process is going away, then
// closes the sockets so clients fail over promptly.
func (s *Server) broadcastShutdown() {
	msg := ServerMessage{
		Type: "server_shutdown",
		Payload: struct {
			Message string `json:"message"`
		}{Message: "Server is shutting down"},
	}
	for id, conn := range s.connections.Connections() {
		if err := s.sendMessage(conn, context.Background(), msg); err != nil {
			s.logger.Debug("failed to send shutdown notice", "connection", id, "error", err)
		}
		conn.Close(websocket.StatusGoingAway, "Server shutting down")
	}
}
