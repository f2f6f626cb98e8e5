package chipcall

import (
	"math/rand"
	"time"

	"github.com/coder/quartz"

	"chipcall-server/internal/game"
)

type Phase string

const (
	PhaseWaiting     Phase = "WAITING"
	PhaseInitialDeal Phase = "INITIAL_DEAL"
	PhaseBetting1    Phase = "BETTING_1"
	PhaseBetting2    Phase = "BETTING_2"
	PhaseBetting3    Phase = "BETTING_3"
	PhaseBetting4    Phase = "BETTING_4"
	PhaseReveal      Phase = "REVEAL"
	PhaseComplete    Phase = "COMPLETE"
)

func (p Phase) IsBetting() bool {
	switch p {
	case PhaseBetting1, PhaseBetting2, PhaseBetting3, PhaseBetting4:
		return true
	}
	return false
}

// InProgress reports whether a hand is being played. WAITING and COMPLETE
// are the two resting states.
func (p Phase) InProgress() bool {
	return p != PhaseWaiting && p != PhaseComplete
}

const (
	// Hard seat limits; per-room limits live inside these.
	AbsoluteMinSeats = 2
	AbsoluteMaxSeats = 8

	DefaultSeriesLength = 3
	MaxNameLength       = 20
)

// Room owns all state for one table. It is a plain single-goroutine state
// machine: callers serialize access per room (the registry wraps every
// room in its own lock). Every mutating operation bumps Version and
// LastActionAt, so viewers can discard stale pushes and the cleanup sweep
// can spot abandoned rooms.
type Room struct {
	ID          string                `json:"id"`
	Phase       Phase                 `json:"phase"`
	Seats       []*Player             `json:"seats"`
	Spectators  map[string]*Spectator `json:"spectators"`
	Deck        *game.Deck            `json:"deck,omitempty"`
	Community   []game.Card           `json:"community"`
	TokenPool   map[int]bool          `json:"tokenPool"`
	Assignments map[string]int        `json:"assignments"`
	CurrentTurn string                `json:"currentTurn"`
	History     []RoundRecord         `json:"history"`
	ActionLog   []TokenAction         `json:"actionLog"`
	HostID      string                `json:"hostId"`
	DealerIndex int                   `json:"dealerIndex"`
	HandNumber  int                   `json:"handNumber"`

	Mode         GameMode `json:"gameMode"`
	SeriesLength int      `json:"seriesLength"`
	SeriesWins   int      `json:"seriesWins"`
	SeriesLosses int      `json:"seriesLosses"`

	MinPlayers int `json:"minPlayers"`
	MaxPlayers int `json:"maxPlayers"`

	LastResult *RoundResult `json:"lastResult,omitempty"`

	CreatedAt    time.Time `json:"createdAt"`
	LastActionAt time.Time `json:"lastActionAt"`
	Version      uint64    `json:"stateVersion"`

	clock quartz.Clock
	rng   *rand.Rand
}

// NewRoom validates capacity limits and returns an empty WAITING room.
func NewRoom(id string, minPlayers, maxPlayers int, mode GameMode, seriesLength int, clock quartz.Clock, rng *rand.Rand) (*Room, error) {
	if minPlayers < AbsoluteMinSeats || maxPlayers > AbsoluteMaxSeats || minPlayers > maxPlayers {
		return nil, Errf(CodeValidation, "player limits %d-%d outside allowed range %d-%d",
			minPlayers, maxPlayers, AbsoluteMinSeats, AbsoluteMaxSeats)
	}
	if mode != ModeSingle && mode != ModeSeries {
		return nil, Errf(CodeValidation, "unknown game mode %q", mode)
	}
	if mode == ModeSeries {
		if seriesLength <= 0 {
			seriesLength = DefaultSeriesLength
		}
		if seriesLength%2 == 0 {
			return nil, Errf(CodeValidation, "series length must be odd, got %d", seriesLength)
		}
	} else {
		seriesLength = 0
	}

	now := clock.Now()
	return &Room{
		ID:           id,
		Phase:        PhaseWaiting,
		Spectators:   make(map[string]*Spectator),
		TokenPool:    make(map[int]bool),
		Assignments:  make(map[string]int),
		Mode:         mode,
		SeriesLength: seriesLength,
		MinPlayers:   minPlayers,
		MaxPlayers:   maxPlayers,
		CreatedAt:    now,
		LastActionAt: now,
		clock:        clock,
		rng:          rng,
	}, nil
}

// AttachRuntime re-injects the clock and randomness source after a room is
// reloaded from persistence (neither survives serialization).
func (r *Room) AttachRuntime(clock quartz.Clock, rng *rand.Rand) {
	r.clock = clock
	r.rng = rng
}

func (r *Room) touch() {
	r.Version++
	r.LastActionAt = r.clock.Now()
}

// Seat returns the seated player with the given id, or nil.
func (r *Room) Seat(id string) *Player {
	for _, p := range r.Seats {
		if p.ID == id {
			return p
		}
	}
	return nil
}

func (r *Room) seatIndex(id string) int {
	for i, p := range r.Seats {
		if p.ID == id {
			return i
		}
	}
	return -1
}

func validateName(name string) error {
	if name == "" {
		return Errf(CodeValidation, "name cannot be empty")
	}
	if len(name) > MaxNameLength {
		return Errf(CodeValidation, "name too long (max %d characters)", MaxNameLength)
	}
	return nil
}

// AddPlayer seats a new player at the end of the seat list, fixing their
// turn position for the match. The first joiner becomes host.
func (r *Room) AddPlayer(id, name string) (*Player, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	if r.Phase != PhaseWaiting {
		return nil, Errf(CodeInvalidState, "cannot join: game already in progress")
	}
	if len(r.Seats) >= r.MaxPlayers {
		return nil, Errf(CodeRoomFull, "room is full (%d/%d players)", len(r.Seats), r.MaxPlayers)
	}
	for _, p := range r.Seats {
		if p.Name == name {
			return nil, Errf(CodeValidation, "name %q already taken", name)
		}
	}

	player := &Player{
		ID:        id,
		Name:      name,
		AtTable:   true,
		Connected: true,
		JoinedAt:  r.clock.Now(),
	}
	r.Seats = append(r.Seats, player)
	if r.HostID == "" {
		r.HostID = id
	}
	r.touch()
	return player, nil
}

// RemovePlayer vacates a seat. It reports whether the room should be
// destroyed (empty, or degenerated to one seat mid-game) and why.
func (r *Room) RemovePlayer(id string) (shouldDelete bool, reason string, err error) {
	idx := r.seatIndex(id)
	if idx == -1 {
		return false, "", Errf(CodeNotFound, "player not seated in this room")
	}

	r.Seats = append(r.Seats[:idx], r.Seats[idx+1:]...)

	if len(r.Seats) == 0 {
		r.touch()
		return true, "room is empty", nil
	}
	if len(r.Seats) <= 1 && r.Phase != PhaseWaiting {
		r.touch()
		return true, "not enough players to continue", nil
	}

	// Host succession: earliest remaining seat.
	if r.HostID == id {
		r.HostID = r.Seats[0].ID
	}

	// If the departing seat owned the turn, it falls to the seat that now
	// occupies the same index (the next seat round-robin).
	if r.CurrentTurn == id {
		r.CurrentTurn = r.Seats[idx%len(r.Seats)].ID
	}

	if r.Phase.IsBetting() {
		r.retireTokensFor(id)
	} else {
		delete(r.Assignments, id)
	}

	r.touch()
	return false, "", nil
}

// retireTokensFor repairs the token partition after a mid-round departure:
// the departed seat's token returns to the pool, then tokens above the new
// seat count are retired from pool and assignments. Readiness clears
// because assignments changed.
func (r *Room) retireTokensFor(departed string) {
	if token, ok := r.Assignments[departed]; ok {
		delete(r.Assignments, departed)
		r.TokenPool[token] = true
	}

	n := len(r.Seats)
	for token := range r.TokenPool {
		if token > n {
			delete(r.TokenPool, token)
		}
	}
	for playerID, token := range r.Assignments {
		if token > n {
			delete(r.Assignments, playerID)
		}
	}
	r.clearReadiness()
}

func (r *Room) AddSpectator(id, name string) (*Spectator, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	spec := &Spectator{ID: id, Name: name, JoinedAt: r.clock.Now()}
	r.Spectators[id] = spec
	r.touch()
	return spec, nil
}

func (r *Room) RemoveSpectator(id string) error {
	if _, ok := r.Spectators[id]; !ok {
		return Errf(CodeNotFound, "spectator not in this room")
	}
	delete(r.Spectators, id)
	r.touch()
	return nil
}

// SetAtTable flips the "return to lobby" flag. The seat is retained and
// game state is untouched either way.
func (r *Room) SetAtTable(id string, atTable bool) error {
	p := r.Seat(id)
	if p == nil {
		return Errf(CodeNotFound, "player not seated in this room")
	}
	p.AtTable = atTable
	r.touch()
	return nil
}

func (r *Room) SetConnected(id string, connected bool) bool {
	p := r.Seat(id)
	if p == nil {
		return false
	}
	p.Connected = connected
	r.touch()
	return true
}

// CanStart reports whether a fresh game may begin from the lobby.
func (r *Room) CanStart() bool {
	return r.Phase == PhaseWaiting &&
		len(r.Seats) >= r.MinPlayers && len(r.Seats) <= r.MaxPlayers
}

// StartGame opens the first hand: fresh shuffled deck, two private cards
// per seat, token and readiness state cleared, first betting round open.
func (r *Room) StartGame() error {
	if r.Phase != PhaseWaiting {
		return Errf(CodeInvalidState, "game already started")
	}
	if len(r.Seats) < r.MinPlayers {
		return Errf(CodeNotEnoughPlayers, "need at least %d players, have %d", r.MinPlayers, len(r.Seats))
	}
	r.dealHand()
	return nil
}

// RestartGame abandons whatever is in progress, zeroes the series score,
// and deals a fresh hand. Allowed from any phase with enough seats.
func (r *Room) RestartGame() error {
	if len(r.Seats) < r.MinPlayers {
		return Errf(CodeNotEnoughPlayers, "need at least %d players, have %d", r.MinPlayers, len(r.Seats))
	}
	r.SeriesWins = 0
	r.SeriesLosses = 0
	r.dealHand()
	return nil
}

// NextRound deals the next hand of an undecided series, preserving the
// score and rotating the dealer marker one seat.
func (r *Room) NextRound() error {
	if r.Mode != ModeSeries {
		return Errf(CodeInvalidState, "next round is only available in series mode")
	}
	if r.Phase != PhaseComplete {
		return Errf(CodeInvalidState, "current round is not complete")
	}
	if r.SeriesDecided() {
		return Errf(CodeInvalidState, "series is already decided (%d-%d)", r.SeriesWins, r.SeriesLosses)
	}
	if len(r.Seats) < r.MinPlayers {
		return Errf(CodeNotEnoughPlayers, "need at least %d players, have %d", r.MinPlayers, len(r.Seats))
	}
	r.DealerIndex = (r.DealerIndex + 1) % len(r.Seats)
	r.dealHand()
	return nil
}

// SeriesDecided reports whether either side has a majority of the series.
func (r *Room) SeriesDecided() bool {
	if r.Mode != ModeSeries {
		return false
	}
	majority := r.SeriesLength/2 + 1
	return r.SeriesWins >= majority || r.SeriesLosses >= majority
}

func (r *Room) dealHand() {
	r.Phase = PhaseInitialDeal
	r.HandNumber++
	r.Deck = game.NewDeck(r.rng)
	r.Community = nil
	r.LastResult = nil
	for _, p := range r.Seats {
		p.Hole = r.Deck.Draw(2)
		p.Ready = false
	}
	r.startBettingRound(PhaseBetting1)
}

// startBettingRound resets the token pool to 1..seatedCount, clears
// assignments and readiness, and hands the turn to the first seat.
// Turn selection always restarts at seat 0 regardless of the dealer
// marker; whether it should instead start left of the dealer is an open
// product question.
func (r *Room) startBettingRound(phase Phase) {
	r.Phase = phase
	r.TokenPool = make(map[int]bool, len(r.Seats))
	for i := 1; i <= len(r.Seats); i++ {
		r.TokenPool[i] = true
	}
	r.Assignments = make(map[string]int)
	r.clearReadiness()
	r.CurrentTurn = r.Seats[0].ID
	r.touch()
}

func (r *Room) clearReadiness() {
	for _, p := range r.Seats {
		p.Ready = false
	}
}

func (r *Room) advanceTurn() {
	idx := r.seatIndex(r.CurrentTurn)
	r.CurrentTurn = r.Seats[(idx+1)%len(r.Seats)].ID
}

// holderOf returns the seat currently assigned the token, if any.
func (r *Room) holderOf(token int) (string, bool) {
	for playerID, t := range r.Assignments {
		if t == token {
			return playerID, true
		}
	}
	return "", false
}

// ClaimToken takes a token for the current-turn seat, from the pool or by
// stealing it from another seat. Any token the caller already held returns
// to the pool; re-claiming the token you hold is refused. A token change
// invalidates every seat's readiness.
func (r *Room) ClaimToken(playerID string, token int) error {
	if !r.Phase.IsBetting() {
		return Errf(CodeInvalidState, "no betting round in progress")
	}
	if playerID != r.CurrentTurn {
		return Errf(CodeInvalidTurn, "it is not your turn")
	}

	fromPool := r.TokenPool[token]
	holder, held := r.holderOf(token)
	if !fromPool && !held {
		return Errf(CodeTokenUnavailable, "token %d is not available", token)
	}
	// A claim sources from the pool or from another seat. Re-claiming your
	// own token would return it to the pool and then "steal" it from
	// yourself, leaving it in both places.
	if held && holder == playerID {
		return Errf(CodeTokenUnavailable, "you already hold token %d", token)
	}

	if prev, ok := r.Assignments[playerID]; ok {
		delete(r.Assignments, playerID)
		r.TokenPool[prev] = true
	}

	action := TokenAction{
		PlayerID: playerID,
		Token:    token,
		Phase:    r.Phase,
		At:       r.clock.Now(),
	}
	if fromPool {
		delete(r.TokenPool, token)
	} else {
		// Steal: the victim seat is left tokenless.
		delete(r.Assignments, holder)
		action.Stolen = true
		action.StolenFrom = holder
	}
	r.Assignments[playerID] = token
	r.ActionLog = append(r.ActionLog, action)

	r.clearReadiness()
	r.advanceTurn()
	r.touch()
	return nil
}

// PassTurn hands the turn on without touching tokens. A seat may only
// pass once it holds a token.
func (r *Room) PassTurn(playerID string) error {
	if !r.Phase.IsBetting() {
		return Errf(CodeInvalidState, "no betting round in progress")
	}
	if playerID != r.CurrentTurn {
		return Errf(CodeInvalidTurn, "it is not your turn")
	}
	if _, ok := r.Assignments[playerID]; !ok {
		return Errf(CodeNoTokenHeld, "claim a token before passing")
	}
	r.advanceTurn()
	r.touch()
	return nil
}

// SetPlayerReady toggles the caller's readiness and reports whether every
// seat is now ready. The caller decides whether to advance the phase; this
// operation never re-enters the state machine.
func (r *Room) SetPlayerReady(playerID string) (allReady bool, err error) {
	if !r.Phase.IsBetting() {
		return false, Errf(CodeInvalidState, "no betting round in progress")
	}
	p := r.Seat(playerID)
	if p == nil {
		return false, Errf(CodeNotFound, "player not seated in this room")
	}
	if _, ok := r.Assignments[playerID]; !ok {
		return false, Errf(CodeNoTokenHeld, "claim a token before readying up")
	}
	p.Ready = !p.Ready
	r.touch()
	return r.AllReady(), nil
}

func (r *Room) AllReady() bool {
	for _, p := range r.Seats {
		if !p.Ready {
			return false
		}
	}
	return len(r.Seats) > 0
}

// AdvancePhase archives the finished betting round and opens the next one,
// dealing the community tranche in between. After the fourth betting round
// it reveals and evaluates instead; the returned result is non-nil exactly
// in that case.
func (r *Room) AdvancePhase() (*RoundResult, error) {
	if !r.Phase.IsBetting() {
		return nil, Errf(CodeCannotAdvance, "no betting round to advance from")
	}
	if !r.AllReady() {
		return nil, Errf(CodeCannotAdvance, "not all players are ready")
	}

	archived := make(map[string]int, len(r.Assignments))
	for playerID, token := range r.Assignments {
		archived[playerID] = token
	}
	r.History = append(r.History, RoundRecord{
		HandNumber:  r.HandNumber,
		Phase:       r.Phase,
		Assignments: archived,
	})

	switch r.Phase {
	case PhaseBetting1:
		r.Community = append(r.Community, r.Deck.Draw(3)...)
		r.startBettingRound(PhaseBetting2)
	case PhaseBetting2:
		r.Community = append(r.Community, r.Deck.Draw(1)...)
		r.startBettingRound(PhaseBetting3)
	case PhaseBetting3:
		r.Community = append(r.Community, r.Deck.Draw(1)...)
		r.startBettingRound(PhaseBetting4)
	case PhaseBetting4:
		r.Phase = PhaseReveal
		result, err := r.evaluateHands()
		if err != nil {
			return nil, err
		}
		return result, nil
	}
	return nil, nil
}

// evaluateHands asks the ranking collaborator to order every seat weakest
// to strongest and grades each seat's token against its true rank. The
// round succeeds only if every guess was exact.
func (r *Room) evaluateHands() (*RoundResult, error) {
	hands := make([]game.SeatHand, len(r.Seats))
	for i, p := range r.Seats {
		hands[i] = game.SeatHand{PlayerID: p.ID, Hole: p.Hole}
	}

	ranks, err := game.RankSeats(hands, r.Community)
	if err != nil {
		return nil, Errf(CodeInvalidState, "hand evaluation failed: %v", err)
	}

	result := &RoundResult{
		Success:     true,
		CompletedAt: r.clock.Now(),
	}
	for _, sr := range ranks {
		seat := r.Seat(sr.PlayerID)
		token := r.Assignments[sr.PlayerID]
		correct := token == sr.Rank
		if !correct {
			result.Success = false
			result.Misranked = append(result.Misranked, sr.PlayerID)
		}
		result.Seats = append(result.Seats, SeatResult{
			PlayerID: sr.PlayerID,
			Name:     seat.Name,
			Token:    token,
			TrueRank: sr.Rank,
			Correct:  correct,
			Hand:     sr.Hand,
		})
	}

	if r.Mode == ModeSeries {
		if result.Success {
			r.SeriesWins++
		} else {
			r.SeriesLosses++
		}
	}
	result.SeriesWins = r.SeriesWins
	result.SeriesLosses = r.SeriesLosses
	result.SeriesOver = r.SeriesDecided()

	r.clearReadiness()
	r.LastResult = result
	r.Phase = PhaseComplete
	r.touch()
	return result, nil
}
