package server

import (
	"sync"

	"github.com/coder/quartz"

	"chipcall-server/internal/chipcall"
)

// Registry is the process's index of live rooms. It is constructed once at
// startup and passed to everything that needs room lookup; there is no
// package-level room state. Each room carries its own lock, so operations
// on one room serialize while different rooms proceed independently.
type Registry struct {
	mu        sync.RWMutex
	rooms     map[string]*roomEntry
	usedCodes map[string]bool
	clock     quartz.Clock
}

type roomEntry struct {
	mu   sync.Mutex
	room *chipcall.Room
}

func NewRegistry(clock quartz.Clock) *Registry {
	return &Registry{
		rooms:     make(map[string]*roomEntry),
		usedCodes: make(map[string]bool),
		clock:     clock,
	}
}

// CreateRoom allocates a code and an empty WAITING room.
func (reg *Registry) CreateRoom(minPlayers, maxPlayers int, mode chipcall.GameMode, seriesLength int) (string, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	code := GenerateRoomCode(reg.usedCodes)
	room, err := chipcall.NewRoom(code, minPlayers, maxPlayers, mode, seriesLength, reg.clock, nil)
	if err != nil {
		return "", err
	}

	reg.usedCodes[code] = true
	reg.rooms[code] = &roomEntry{room: room}
	return code, nil
}

// Restore re-registers a room loaded from persistence.
func (reg *Registry) Restore(room *chipcall.Room) {
	room.AttachRuntime(reg.clock, nil)

	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.usedCodes[room.ID] = true
	reg.rooms[room.ID] = &roomEntry{room: room}
}

// WithRoom runs fn with exclusive ownership of the room. All reads and
// mutations of room state go through here; fn must not block on anything
// slower than the synchronous persistence write.
func (reg *Registry) WithRoom(id string, fn func(*chipcall.Room) error) error {
	reg.mu.RLock()
	entry, ok := reg.rooms[NormalizeRoomCode(id)]
	reg.mu.RUnlock()

	if !ok {
		return chipcall.Errf(chipcall.CodeNotFound, "room %s not found", id)
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	return fn(entry.room)
}

// Delete removes the room from the index and frees its code for reuse.
func (reg *Registry) Delete(id string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	delete(reg.rooms, id)
	delete(reg.usedCodes, id)
}

func (reg *Registry) Has(id string) bool {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	_, ok := reg.rooms[NormalizeRoomCode(id)]
	return ok
}

func (reg *Registry) Count() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.rooms)
}

// IDs returns a stable copy of the live room ids.
func (reg *Registry) IDs() []string {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	ids := make([]string, 0, len(reg.rooms))
	for id := range reg.rooms {
		ids = append(ids, id)
	}
	return ids
}
