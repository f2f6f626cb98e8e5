package server

import (
	"sort"

	"chipcall-server/internal/chipcall"
	"chipcall-server/internal/game"
)

// buildRoomState assembles the shared (public) view. Callers must hold the
// room via Registry.WithRoom.
func buildRoomState(room *chipcall.Room) RoomState {
	seats := make([]SeatView, len(room.Seats))
	for i, p := range room.Seats {
		seats[i] = SeatView{
			ID:        p.ID,
			Name:      p.Name,
			Ready:     p.Ready,
			AtTable:   p.AtTable,
			Connected: p.Connected,
		}
	}

	spectators := make([]SpectatorView, 0, len(room.Spectators))
	for _, s := range room.Spectators {
		spectators = append(spectators, SpectatorView{ID: s.ID, Name: s.Name})
	}
	sort.Slice(spectators, func(i, j int) bool { return spectators[i].ID < spectators[j].ID })

	assignments := make(map[string]int, len(room.Assignments))
	for playerID, token := range room.Assignments {
		assignments[playerID] = token
	}

	community := make([]game.Card, len(room.Community))
	copy(community, room.Community)

	return RoomState{
		Version:      room.Version,
		RoomID:       room.ID,
		Phase:        string(room.Phase),
		Seats:        seats,
		Spectators:   spectators,
		Community:    community,
		TokenPool:    sortedPool(room),
		Assignments:  assignments,
		CurrentTurn:  room.CurrentTurn,
		HostID:       room.HostID,
		DealerIndex:  room.DealerIndex,
		HandNumber:   room.HandNumber,
		GameMode:     string(room.Mode),
		SeriesLength: room.SeriesLength,
		SeriesWins:   room.SeriesWins,
		SeriesLosses: room.SeriesLosses,
		MinPlayers:   room.MinPlayers,
		MaxPlayers:   room.MaxPlayers,
		CanStart:     room.CanStart(),
		History:      room.History,
		LastResult:   room.LastResult,
	}
}

// buildPlayerState is the per-player-private view: the shared state plus
// the viewer's own hole cards, and nobody else's.
func buildPlayerState(room *chipcall.Room, playerID string) PlayerState {
	state := PlayerState{
		RoomState: buildRoomState(room),
		YourID:    playerID,
	}
	if p := room.Seat(playerID); p != nil {
		state.YourHole = append([]game.Card(nil), p.Hole...)
	}
	return state
}

// buildSpectatorState is the full-information view: every seat's cards.
func buildSpectatorState(room *chipcall.Room) SpectatorState {
	holes := make(map[string][]game.Card, len(room.Seats))
	for _, p := range room.Seats {
		holes[p.ID] = append([]game.Card(nil), p.Hole...)
	}
	return SpectatorState{
		RoomState: buildRoomState(room),
		Holes:     holes,
	}
}

func buildRoomSummary(room *chipcall.Room) RoomSummary {
	players := make([]string, len(room.Seats))
	for i, p := range room.Seats {
		players[i] = p.Name
	}
	spectators := make([]string, 0, len(room.Spectators))
	for _, s := range room.Spectators {
		spectators = append(spectators, s.Name)
	}
	sort.Strings(spectators)

	return RoomSummary{
		RoomID:      room.ID,
		PlayerCount: len(room.Seats),
		MaxPlayers:  room.MaxPlayers,
		Players:     players,
		Spectators:  spectators,
		IsJoinable:  room.Phase == chipcall.PhaseWaiting && len(room.Seats) < room.MaxPlayers,
		IsStarted:   room.Phase != chipcall.PhaseWaiting,
		GameMode:    string(room.Mode),
	}
}

func sortedPool(room *chipcall.Room) []int {
	pool := make([]int, 0, len(room.TokenPool))
	for token := range room.TokenPool {
		pool = append(pool, token)
	}
	sort.Ints(pool)
	return pool
}
