package server

import (
	"context"
	"encoding/json"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"chipcall-server/internal/chipcall"
)

func (s *Server) handlePing(socket *websocket.Conn, ctx context.Context, connectionID string, payload json.RawMessage) {
	response := ServerMessage{
		Type:    "pong",
		Payload: struct{}{},
	}
	if err := s.sendMessage(socket, ctx, response); err != nil {
		s.logger.Debug("failed to send pong", "connection", connectionID, "error", err)
	}
}

// sessionFor resolves the identity bound to a connection. Every in-room
// action goes through here, so an unbound socket gets one consistent error.
func (s *Server) sessionFor(connectionID string) (SessionInfo, error) {
	identity := s.connections.IdentityOf(connectionID)
	if identity == "" {
		return SessionInfo{}, chipcall.Errf(chipcall.CodeNotFound, "no active session on this connection")
	}
	return s.sessions.GetSession(identity)
}

func (s *Server) handleCreateRoom(socket *websocket.Conn, ctx context.Context, connectionID string, payload json.RawMessage) {
	var req CreateRoomRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		s.sendError(socket, ctx, chipcall.Errf(chipcall.CodeValidation, "invalid create_room payload"))
		return
	}

	mode := chipcall.GameMode(req.GameMode)
	if req.GameMode == "" {
		mode = chipcall.ModeSingle
	}

	roomID, err := s.registry.CreateRoom(req.MinPlayers, req.MaxPlayers, mode, req.SeriesLength)
	if err != nil {
		s.sendError(socket, ctx, err)
		return
	}

	playerID := uuid.New().String()
	var state PlayerState
	err = s.registry.WithRoom(roomID, func(room *chipcall.Room) error {
		if _, err := room.AddPlayer(playerID, req.PlayerName); err != nil {
			return err
		}
		s.persistRoom(ctx, room)
		state = buildPlayerState(room, playerID)
		return nil
	})
	if err != nil {
		// The empty shell is useless without its creator.
		s.registry.Delete(roomID)
		s.sendError(socket, ctx, err)
		return
	}

	s.sessions.StoreSession(SessionInfo{
		ID:     playerID,
		RoomID: roomID,
		Name:   req.PlayerName,
		Kind:   SessionPlayer,
	})
	s.connections.Bind(connectionID, playerID)
	s.connections.ShouldDeliver(connectionID, state.Version)

	response := ServerMessage{
		Type: "room_created",
		Payload: CreateRoomResponse{
			RoomID:   roomID,
			PlayerID: playerID,
			State:    state,
		},
	}
	if err := s.sendMessage(socket, ctx, response); err != nil {
		s.logger.Error("failed to send room_created", "error", err)
		return
	}

	s.logger.Info("room created", "room", roomID, "host", req.PlayerName)
	s.broadcastRoomList()
}

func (s *Server) handleJoinRoom(socket *websocket.Conn, ctx context.Context, connectionID string, payload json.RawMessage) {
	var req JoinRoomRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		s.sendError(socket, ctx, chipcall.Errf(chipcall.CodeValidation, "invalid join_room payload"))
		return
	}
	if err := ValidateRoomCode(req.RoomID); err != nil {
		s.sendError(socket, ctx, err)
		return
	}

	playerID := uuid.New().String()
	roomID := NormalizeRoomCode(req.RoomID)
	var state PlayerState
	err := s.registry.WithRoom(roomID, func(room *chipcall.Room) error {
		if _, err := room.AddPlayer(playerID, req.PlayerName); err != nil {
			return err
		}
		s.persistRoom(ctx, room)
		state = buildPlayerState(room, playerID)
		return nil
	})
	if err != nil {
		s.sendError(socket, ctx, err)
		return
	}

	s.sessions.StoreSession(SessionInfo{
		ID:     playerID,
		RoomID: roomID,
		Name:   req.PlayerName,
		Kind:   SessionPlayer,
	})
	s.connections.Bind(connectionID, playerID)
	s.connections.ShouldDeliver(connectionID, state.Version)

	response := ServerMessage{
		Type: "room_joined",
		Payload: JoinRoomResponse{
			RoomID:   roomID,
			PlayerID: playerID,
			State:    state,
		},
	}
	if err := s.sendMessage(socket, ctx, response); err != nil {
		s.logger.Error("failed to send room_joined", "error", err)
		return
	}

	s.broadcastRoomState(roomID)
	s.broadcastRoomList()
}

func (s *Server) handleJoinSpectator(socket *websocket.Conn, ctx context.Context, connectionID string, payload json.RawMessage) {
	var req JoinSpectatorRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		s.sendError(socket, ctx, chipcall.Errf(chipcall.CodeValidation, "invalid join_spectator payload"))
		return
	}
	if err := ValidateRoomCode(req.RoomID); err != nil {
		s.sendError(socket, ctx, err)
		return
	}

	spectatorID := uuid.New().String()
	roomID := NormalizeRoomCode(req.RoomID)
	var state SpectatorState
	err := s.registry.WithRoom(roomID, func(room *chipcall.Room) error {
		if _, err := room.AddSpectator(spectatorID, req.SpectatorName); err != nil {
			return err
		}
		s.persistRoom(ctx, room)
		state = buildSpectatorState(room)
		return nil
	})
	if err != nil {
		s.sendError(socket, ctx, err)
		return
	}

	s.sessions.StoreSession(SessionInfo{
		ID:     spectatorID,
		RoomID: roomID,
		Name:   req.SpectatorName,
		Kind:   SessionSpectator,
	})
	s.connections.Bind(connectionID, spectatorID)
	s.connections.ShouldDeliver(connectionID, state.Version)

	response := ServerMessage{
		Type: "spectator_joined",
		Payload: JoinSpectatorResponse{
			RoomID:      roomID,
			SpectatorID: spectatorID,
			State:       state,
		},
	}
	if err := s.sendMessage(socket, ctx, response); err != nil {
		s.logger.Error("failed to send spectator_joined", "error", err)
		return
	}

	s.broadcastRoomState(roomID)
	s.broadcastRoomList()
}

func (s *Server) handleRejoin(socket *websocket.Conn, ctx context.Context, connectionID string, payload json.RawMessage) {
	var req RejoinRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		s.sendError(socket, ctx, chipcall.Errf(chipcall.CodeValidation, "invalid rejoin payload"))
		return
	}

	session, err := s.sessions.GetSession(req.PlayerID)
	if err != nil {
		s.sendError(socket, ctx, err)
		return
	}
	if req.RoomID != "" && NormalizeRoomCode(req.RoomID) != session.RoomID {
		s.sendError(socket, ctx, chipcall.Errf(chipcall.CodeValidation, "session does not belong to room %s", req.RoomID))
		return
	}

	// The same identity on a second device displaces the first.
	previousConnID := s.connections.Bind(connectionID, session.ID)
	if previousConnID != "" {
		if oldConn := s.connections.GetConnection(previousConnID); oldConn != nil {
			s.sendMessage(oldConn, context.Background(), ServerMessage{
				Type: "disconnected_elsewhere",
				Payload: struct {
					Message string `json:"message"`
				}{Message: "You connected on another device"},
			})
			oldConn.Close(websocket.StatusNormalClosure, "Connected from another device")
		}
		s.connections.RemoveConnection(previousConnID)
	}

	var (
		playerState    PlayerState
		spectatorState SpectatorState
		version        uint64
	)
	err = s.registry.WithRoom(session.RoomID, func(room *chipcall.Room) error {
		if session.Kind == SessionPlayer {
			if !room.SetConnected(session.ID, true) {
				return chipcall.Errf(chipcall.CodeNotFound, "player not seated in this room")
			}
			s.persistRoom(ctx, room)
			playerState = buildPlayerState(room, session.ID)
		} else {
			spectatorState = buildSpectatorState(room)
		}
		version = room.Version
		return nil
	})
	if err != nil {
		s.sendError(socket, ctx, err)
		return
	}

	// Counting the rejoin snapshot as a delivery is what drops any older
	// broadcast still queued behind it.
	s.connections.ShouldDeliver(connectionID, version)

	var response ServerMessage
	if session.Kind == SessionPlayer {
		response = ServerMessage{Type: "rejoined", Payload: RejoinResponse{State: playerState}}
	} else {
		response = ServerMessage{Type: "rejoined", Payload: spectatorState}
	}
	if err := s.sendMessage(socket, ctx, response); err != nil {
		s.logger.Error("failed to send rejoined", "error", err)
		return
	}

	if session.Kind == SessionPlayer {
		s.logger.Info("player rejoined", "player", session.Name, "room", session.RoomID)
		s.broadcastToRoom(session.RoomID, "player_reconnected", PlayerStatusNotification{
			PlayerID:  session.ID,
			Name:      session.Name,
			Connected: true,
		})
		s.broadcastRoomState(session.RoomID)
	}
}

// hostAction runs a host-only room mutation and pushes the new state.
func (s *Server) hostAction(socket *websocket.Conn, ctx context.Context, connectionID, ackType string, action func(*chipcall.Room) error) {
	session, err := s.sessionFor(connectionID)
	if err != nil {
		s.sendError(socket, ctx, err)
		return
	}

	err = s.registry.WithRoom(session.RoomID, func(room *chipcall.Room) error {
		if room.HostID != session.ID {
			return chipcall.Errf(chipcall.CodeValidation, "only the host can do that")
		}
		if err := action(room); err != nil {
			return err
		}
		s.persistRoom(ctx, room)
		return nil
	})
	if err != nil {
		s.sendError(socket, ctx, err)
		return
	}

	if err := s.sendMessage(socket, ctx, ServerMessage{Type: ackType, Payload: struct{}{}}); err != nil {
		s.logger.Debug("failed to send ack", "type", ackType, "error", err)
	}
	s.broadcastRoomState(session.RoomID)
	s.broadcastRoomList()
}

func (s *Server) handleStartGame(socket *websocket.Conn, ctx context.Context, connectionID string, payload json.RawMessage) {
	s.hostAction(socket, ctx, connectionID, "game_started", func(room *chipcall.Room) error {
		return room.StartGame()
	})
}

func (s *Server) handleRestartGame(socket *websocket.Conn, ctx context.Context, connectionID string, payload json.RawMessage) {
	s.hostAction(socket, ctx, connectionID, "game_restarted", func(room *chipcall.Room) error {
		return room.RestartGame()
	})
}

func (s *Server) handleNextRound(socket *websocket.Conn, ctx context.Context, connectionID string, payload json.RawMessage) {
	s.hostAction(socket, ctx, connectionID, "round_started", func(room *chipcall.Room) error {
		return room.NextRound()
	})
}

func (s *Server) handleClaimToken(socket *websocket.Conn, ctx context.Context, connectionID string, payload json.RawMessage) {
	var req ClaimTokenRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		s.sendError(socket, ctx, chipcall.Errf(chipcall.CodeValidation, "invalid claim_token payload"))
		return
	}

	session, err := s.sessionFor(connectionID)
	if err != nil {
		s.sendError(socket, ctx, err)
		return
	}

	var resp ClaimTokenResponse
	err = s.registry.WithRoom(session.RoomID, func(room *chipcall.Room) error {
		if err := room.ClaimToken(session.ID, req.TokenNumber); err != nil {
			return err
		}
		s.persistRoom(ctx, room)
		assignments := make(map[string]int, len(room.Assignments))
		for playerID, token := range room.Assignments {
			assignments[playerID] = token
		}
		resp = ClaimTokenResponse{
			TokenAssignments: assignments,
			TokenPool:        sortedPool(room),
			CurrentTurn:      room.CurrentTurn,
		}
		return nil
	})
	if err != nil {
		s.sendError(socket, ctx, err)
		return
	}

	if err := s.sendMessage(socket, ctx, ServerMessage{Type: "token_claimed", Payload: resp}); err != nil {
		s.logger.Debug("failed to send token_claimed", "error", err)
	}
	s.broadcastRoomState(session.RoomID)
}

func (s *Server) handlePassTurn(socket *websocket.Conn, ctx context.Context, connectionID string, payload json.RawMessage) {
	session, err := s.sessionFor(connectionID)
	if err != nil {
		s.sendError(socket, ctx, err)
		return
	}

	var resp PassTurnResponse
	err = s.registry.WithRoom(session.RoomID, func(room *chipcall.Room) error {
		if err := room.PassTurn(session.ID); err != nil {
			return err
		}
		s.persistRoom(ctx, room)
		resp = PassTurnResponse{CurrentTurn: room.CurrentTurn}
		return nil
	})
	if err != nil {
		s.sendError(socket, ctx, err)
		return
	}

	if err := s.sendMessage(socket, ctx, ServerMessage{Type: "turn_passed", Payload: resp}); err != nil {
		s.logger.Debug("failed to send turn_passed", "error", err)
	}
	s.broadcastRoomState(session.RoomID)
}

func (s *Server) handleSetReady(socket *websocket.Conn, ctx context.Context, connectionID string, payload json.RawMessage) {
	session, err := s.sessionFor(connectionID)
	if err != nil {
		s.sendError(socket, ctx, err)
		return
	}

	var (
		result  *chipcall.RoundResult
		version uint64
	)
	err = s.registry.WithRoom(session.RoomID, func(room *chipcall.Room) error {
		allReady, err := room.SetPlayerReady(session.ID)
		if err != nil {
			return err
		}

		// Unanimous readiness advances the phase immediately; the last
		// toggle carries the round over the line.
		if allReady {
			result, err = room.AdvancePhase()
			if err != nil {
				return err
			}
		}
		s.persistRoom(ctx, room)
		version = room.Version
		return nil
	})
	if err != nil {
		s.sendError(socket, ctx, err)
		return
	}

	if err := s.sendMessage(socket, ctx, ServerMessage{Type: "ready_set", Payload: struct{}{}}); err != nil {
		s.logger.Debug("failed to send ready_set", "error", err)
	}
	s.broadcastRoomState(session.RoomID)

	if result != nil {
		s.broadcastToRoom(session.RoomID, "round_complete", RoundCompleteNotification{
			RoomID:  session.RoomID,
			Version: version,
			Result:  *result,
		})
		s.logger.Info("round complete", "room", session.RoomID,
			"success", result.Success, "wins", result.SeriesWins, "losses", result.SeriesLosses)
	}
}

func (s *Server) handleLeaveGame(socket *websocket.Conn, ctx context.Context, connectionID string, payload json.RawMessage) {
	session, err := s.sessionFor(connectionID)
	if err != nil {
		s.sendError(socket, ctx, err)
		return
	}
	if session.Kind != SessionPlayer {
		s.sendError(socket, ctx, chipcall.Errf(chipcall.CodeValidation, "spectators leave with leave_spectator"))
		return
	}

	var (
		shouldDelete bool
		reason       string
	)
	err = s.registry.WithRoom(session.RoomID, func(room *chipcall.Room) error {
		var err error
		shouldDelete, reason, err = room.RemovePlayer(session.ID)
		if err != nil {
			return err
		}
		if !shouldDelete {
			s.persistRoom(ctx, room)
		}
		return nil
	})
	if err != nil {
		s.sendError(socket, ctx, err)
		return
	}

	s.sessions.RemoveSession(session.ID)
	s.connections.Unbind(connectionID)

	if err := s.sendMessage(socket, ctx, ServerMessage{Type: "left_game", Payload: struct{}{}}); err != nil {
		s.logger.Debug("failed to send left_game", "error", err)
	}

	if shouldDelete {
		s.logger.Info("room deleted", "room", session.RoomID, "reason", reason)
		s.notifyRoomDeleted(session.RoomID, reason)
		s.deleteRoom(ctx, session.RoomID)
	} else {
		s.broadcastRoomState(session.RoomID)
	}
	s.broadcastRoomList()
}

func (s *Server) handleLeaveSpectator(socket *websocket.Conn, ctx context.Context, connectionID string, payload json.RawMessage) {
	session, err := s.sessionFor(connectionID)
	if err != nil {
		s.sendError(socket, ctx, err)
		return
	}
	if session.Kind != SessionSpectator {
		s.sendError(socket, ctx, chipcall.Errf(chipcall.CodeValidation, "players leave with leave_game"))
		return
	}

	err = s.registry.WithRoom(session.RoomID, func(room *chipcall.Room) error {
		if err := room.RemoveSpectator(session.ID); err != nil {
			return err
		}
		s.persistRoom(ctx, room)
		return nil
	})
	if err != nil {
		s.sendError(socket, ctx, err)
		return
	}

	s.sessions.RemoveSession(session.ID)
	s.connections.Unbind(connectionID)

	if err := s.sendMessage(socket, ctx, ServerMessage{Type: "left_spectator", Payload: struct{}{}}); err != nil {
		s.logger.Debug("failed to send left_spectator", "error", err)
	}
	s.broadcastRoomState(session.RoomID)
	s.broadcastRoomList()
}

func (s *Server) handleReturnToLobby(socket *websocket.Conn, ctx context.Context, connectionID string, payload json.RawMessage) {
	var req ReturnToLobbyRequest
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &req); err != nil {
			s.sendError(socket, ctx, chipcall.Errf(chipcall.CodeValidation, "invalid return_to_lobby payload"))
			return
		}
	}

	session, err := s.sessionFor(connectionID)
	if err != nil {
		s.sendError(socket, ctx, err)
		return
	}

	err = s.registry.WithRoom(session.RoomID, func(room *chipcall.Room) error {
		if err := room.SetAtTable(session.ID, req.AtTable); err != nil {
			return err
		}
		s.persistRoom(ctx, room)
		return nil
	})
	if err != nil {
		s.sendError(socket, ctx, err)
		return
	}

	if err := s.sendMessage(socket, ctx, ServerMessage{Type: "table_presence_updated", Payload: struct{}{}}); err != nil {
		s.logger.Debug("failed to send table_presence_updated", "error", err)
	}
	s.broadcastRoomState(session.RoomID)
}

func (s *Server) handleGetRoomList(socket *websocket.Conn, ctx context.Context, connectionID string, payload json.RawMessage) {
	resp := RoomListResponse{Rooms: s.buildRoomList()}

	// A client with a live session learns which room to offer a rejoin for.
	if identity := s.connections.IdentityOf(connectionID); identity != "" {
		if session, err := s.sessions.GetSession(identity); err == nil {
			resp.MyActiveRoomID = session.RoomID
		}
	}

	if err := s.sendMessage(socket, ctx, ServerMessage{Type: "room_list", Payload: resp}); err != nil {
		s.logger.Debug("failed to send room_list", "error", err)
	}
}
