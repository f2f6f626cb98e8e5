package server

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"

	"chipcall-server/internal/chipcall"
)

// Store is the durable snapshot interface the server talks to.
// PersistenceManager is the real implementation; tests swap in a fake.
type Store interface {
	SaveRoom(ctx context.Context, room *chipcall.Room) error
	LoadAllRooms(ctx context.Context) ([]*chipcall.Room, error)
	DeleteRoom(ctx context.Context, id string) error
	Ping(ctx context.Context) error
}

// Server owns the room registry, the identity/session layer, the live
// websocket connections, and the background tasks that keep persistence
// and the registry tidy.
type Server struct {
	config      *ServerConfig
	logger      *log.Logger
	clock       quartz.Clock
	registry    *Registry
	sessions    *SessionManager
	connections *ConnectionManager
	store       Store
	rateLimiter *RateLimiter

	tasksCancel context.CancelFunc
}

func NewServer(config *ServerConfig, store Store, logger *log.Logger, clock quartz.Clock) *Server {
	return &Server{
		config:      config,
		logger:      logger,
		clock:       clock,
		registry:    NewRegistry(clock),
		sessions:    NewSessionManager(),
		connections: NewConnectionManager(),
		store:       store,
		rateLimiter: NewRateLimiter(config.Server.MessageRate, time.Second, clock),
	}
}

// LoadPersistedState rebuilds the registry and the session table from the
// database after a restart. Every restored player starts disconnected;
// their seats, cards, and tokens are intact and waiting for a rejoin.
func (s *Server) LoadPersistedState(ctx context.Context) error {
	rooms, err := s.store.LoadAllRooms(ctx)
	if err != nil {
		return err
	}

	for _, room := range rooms {
		for _, p := range room.Seats {
			p.Connected = false
			s.sessions.StoreSession(SessionInfo{
				ID:     p.ID,
				RoomID: room.ID,
				Name:   p.Name,
				Kind:   SessionPlayer,
			})
		}
		for _, spec := range room.Spectators {
			s.sessions.StoreSession(SessionInfo{
				ID:     spec.ID,
				RoomID: room.ID,
				Name:   spec.Name,
				Kind:   SessionSpectator,
			})
		}
		s.registry.Restore(room)
	}

	s.logger.Info("restored persisted state", "rooms", len(rooms))
	return nil
}

// StartBackgroundTasks launches the staleness sweep and the backstop save
// loop. They run until Shutdown.
func (s *Server) StartBackgroundTasks(ctx context.Context) {
	ctx, s.tasksCancel = context.WithCancel(ctx)

	sweepInterval := time.Duration(s.config.Cleanup.SweepIntervalSeconds) * time.Second
	saveInterval := time.Duration(s.config.Cleanup.SaveIntervalSeconds) * time.Second

	s.clock.TickerFunc(ctx, sweepInterval, func() error {
		removed := s.SweepStaleRooms(ctx)
		if len(removed) > 0 {
			s.logger.Info("swept stale rooms", "count", len(removed), "rooms", removed)
		}
		return nil
	}, "sweep")

	s.clock.TickerFunc(ctx, saveInterval, func() error {
		s.saveAllRooms(ctx)
		return nil
	}, "save")
}

// staleReason classifies a room against the cleanup policy. Empty string
// means the room stays.
func (s *Server) staleReason(room *chipcall.Room) string {
	idle := s.clock.Now().Sub(room.LastActionAt)

	if idle > time.Duration(s.config.Cleanup.AbandonedHours)*time.Hour {
		return "room abandoned"
	}
	if room.Phase == chipcall.PhaseWaiting {
		if len(room.Seats) <= 1 && idle > time.Duration(s.config.Cleanup.WaitingIdleMinutes)*time.Minute {
			return "lobby idle too long"
		}
		return ""
	}
	// Game started (in progress or between rounds).
	if len(room.Seats) <= 1 {
		return "not enough players to continue"
	}
	if room.Phase.InProgress() && idle > time.Duration(s.config.Cleanup.InProgressIdleMinutes)*time.Minute {
		return "game idle too long"
	}
	return ""
}

// SweepStaleRooms removes every room the cleanup policy condemns, both
// from the registry and from the database, notifying any remaining
// viewers first. It returns the removed room ids.
func (s *Server) SweepStaleRooms(ctx context.Context) []string {
	var removed []string

	for _, id := range s.registry.IDs() {
		var reason string
		err := s.registry.WithRoom(id, func(room *chipcall.Room) error {
			reason = s.staleReason(room)
			return nil
		})
		if err != nil || reason == "" {
			continue
		}

		s.notifyRoomDeleted(id, reason)
		s.registry.Delete(id)
		s.sessions.RemoveRoomSessions(id)
		if err := s.store.DeleteRoom(ctx, id); err != nil {
			s.logger.Error("failed to delete swept room from store", "room", id, "error", err)
		}
		removed = append(removed, id)
	}

	if len(removed) > 0 {
		s.broadcastRoomList()
	}
	return removed
}

// saveAllRooms is the backstop for the write-through saves: if one of
// those failed transiently, this loop heals the snapshot.
func (s *Server) saveAllRooms(ctx context.Context) {
	for _, id := range s.registry.IDs() {
		err := s.registry.WithRoom(id, func(room *chipcall.Room) error {
			return s.store.SaveRoom(ctx, room)
		})
		if err != nil {
			s.logger.Error("backstop save failed", "room", id, "error", err)
		}
	}
}

// persistRoom is the write-through path used inside room mutations. A
// failure is logged and swallowed: the in-memory room stays authoritative.
func (s *Server) persistRoom(ctx context.Context, room *chipcall.Room) {
	if err := s.store.SaveRoom(ctx, room); err != nil {
		s.logger.Error("write-through save failed", "room", room.ID, "error", err)
	}
}

// deleteRoom tears a room down everywhere: registry, sessions, database.
// Callers have already notified the viewers.
func (s *Server) deleteRoom(ctx context.Context, id string) {
	s.registry.Delete(id)
	s.sessions.RemoveRoomSessions(id)
	if err := s.store.DeleteRoom(ctx, id); err != nil {
		s.logger.Error("failed to delete room from store", "room", id, "error", err)
	}
}

// Shutdown persists every live room, tells connected clients the server
// is going away, and stops the background tasks.
func (s *Server) Shutdown(ctx context.Context) {
	s.logger.Info("shutting down", "rooms", s.registry.Count())

	if s.tasksCancel != nil {
		s.tasksCancel()
	}

	s.saveAllRooms(ctx)
	s.broadcastShutdown()
}
