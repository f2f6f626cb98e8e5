package server

import (
	"chipcall-server/internal/chipcall"
	"chipcall-server/internal/game"
)

// ============================================================================
// ERROR RESPONSES
// ============================================================================
type ErrorMessage struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// ============================================================================
// CREATE ROOM (create_room)
// ============================================================================
type CreateRoomRequest struct {
	PlayerName   string `json:"playerName"`
	MinPlayers   int    `json:"minPlayers"`
	MaxPlayers   int    `json:"maxPlayers"`
	GameMode     string `json:"gameMode"`
	SeriesLength int    `json:"seriesLength,omitempty"`
}

type CreateRoomResponse struct {
	RoomID   string      `json:"roomId"`
	PlayerID string      `json:"playerId"`
	State    PlayerState `json:"state"`
}

// ============================================================================
// JOIN ROOM (join_room) / SPECTATE (join_spectator)
// ============================================================================
type JoinRoomRequest struct {
	RoomID     string `json:"roomId"`
	PlayerName string `json:"playerName"`
}

type JoinRoomResponse struct {
	RoomID   string      `json:"roomId"`
	PlayerID string      `json:"playerId"`
	State    PlayerState `json:"state"`
}

type JoinSpectatorRequest struct {
	RoomID        string `json:"roomId"`
	SpectatorName string `json:"spectatorName"`
}

type JoinSpectatorResponse struct {
	RoomID      string         `json:"roomId"`
	SpectatorID string         `json:"spectatorId"`
	State       SpectatorState `json:"state"`
}

// ============================================================================
// REJOIN (rejoin)
// ============================================================================
type RejoinRequest struct {
	RoomID   string `json:"roomId"`
	PlayerID string `json:"playerId"`
}

type RejoinResponse struct {
	State PlayerState `json:"state"`
}

// ============================================================================
// IN-GAME ACTIONS
// ============================================================================
type ClaimTokenRequest struct {
	TokenNumber int `json:"tokenNumber"`
}

type ClaimTokenResponse struct {
	TokenAssignments map[string]int `json:"tokenAssignments"`
	TokenPool        []int          `json:"tokenPool"`
	CurrentTurn      string         `json:"currentTurn"`
}

type PassTurnResponse struct {
	CurrentTurn string `json:"currentTurn"`
}

// ReturnToLobbyRequest toggles the seat's table presence. Omitting the
// field (the common case) sends the player to the lobby; atTable=true
// brings them back. The seat itself is never vacated.
type ReturnToLobbyRequest struct {
	AtTable bool `json:"atTable"`
}

// ============================================================================
// ROOM LIST (get_room_list)
// ============================================================================
type RoomSummary struct {
	RoomID      string   `json:"roomId"`
	PlayerCount int      `json:"playerCount"`
	MaxPlayers  int      `json:"maxPlayers"`
	Players     []string `json:"players"`
	Spectators  []string `json:"spectators"`
	IsJoinable  bool     `json:"isJoinable"`
	IsStarted   bool     `json:"isStarted"`
	GameMode    string   `json:"gameMode"`
}

type RoomListResponse struct {
	Rooms          []RoomSummary `json:"rooms"`
	MyActiveRoomID string        `json:"myActiveRoomId,omitempty"`
}

// ============================================================================
// OUTBOUND VIEWS (room_state pushes and snapshots)
// ============================================================================
// Three explicit record shapes, all tagged with the room's state version:
// RoomState is what everyone may see, PlayerState adds the viewer's own
// hole cards, SpectatorState exposes every seat's cards.

type SeatView struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Ready     bool   `json:"ready"`
	AtTable   bool   `json:"atTable"`
	Connected bool   `json:"connected"`
}

type SpectatorView struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type RoomState struct {
	Version      uint64                 `json:"version"`
	RoomID       string                 `json:"roomId"`
	Phase        string                 `json:"phase"`
	Seats        []SeatView             `json:"seats"`
	Spectators   []SpectatorView        `json:"spectators"`
	Community    []game.Card            `json:"community"`
	TokenPool    []int                  `json:"tokenPool"`
	Assignments  map[string]int         `json:"tokenAssignments"`
	CurrentTurn  string                 `json:"currentTurn"`
	HostID       string                 `json:"hostId"`
	DealerIndex  int                    `json:"dealerIndex"`
	HandNumber   int                    `json:"handNumber"`
	GameMode     string                 `json:"gameMode"`
	SeriesLength int                    `json:"seriesLength"`
	SeriesWins   int                    `json:"seriesWins"`
	SeriesLosses int                    `json:"seriesLosses"`
	MinPlayers   int                    `json:"minPlayers"`
	MaxPlayers   int                    `json:"maxPlayers"`
	CanStart     bool                   `json:"canStart"`
	History      []chipcall.RoundRecord `json:"history"`
	LastResult   *chipcall.RoundResult  `json:"lastResult,omitempty"`
}

type PlayerState struct {
	RoomState
	YourID   string      `json:"yourId"`
	YourHole []game.Card `json:"yourHole"`
}

type SpectatorState struct {
	RoomState
	Holes map[string][]game.Card `json:"holes"`
}

// ============================================================================
// SERVER-INITIATED NOTIFICATIONS
// ============================================================================
type RoundCompleteNotification struct {
	RoomID  string               `json:"roomId"`
	Version uint64               `json:"version"`
	Result  chipcall.RoundResult `json:"result"`
}

type RoomDeletedNotification struct {
	RoomID string `json:"roomId"`
	Reason string `json:"reason"`
}

type PlayerStatusNotification struct {
	PlayerID  string `json:"playerId"`
	Name      string `json:"name"`
	Connected bool   `json:"connected"`
}
