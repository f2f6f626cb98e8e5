package server

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"chipcall-server/internal/chipcall"
)

// PersistenceManager is the durable side of the server: a write-through
// snapshot of every live room so a restarted process can pick up in-flight
// games. The rooms table carries the full serialized room plus the columns
// the cleanup sweep and operators query; the players table is the per-seat
// projection of the same snapshot.
type PersistenceManager struct {
	pool *pgxpool.Pool
}

func NewPersistenceManager(pool *pgxpool.Pool) *PersistenceManager {
	return &PersistenceManager{pool: pool}
}

const schema = `
CREATE TABLE IF NOT EXISTS rooms (
	id             TEXT PRIMARY KEY,
	phase          TEXT NOT NULL,
	host_id        TEXT NOT NULL DEFAULT '',
	min_players    INT NOT NULL,
	max_players    INT NOT NULL,
	game_mode      TEXT NOT NULL,
	state_version  BIGINT NOT NULL,
	room_data      JSONB NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL,
	last_action_at TIMESTAMPTZ NOT NULL,
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS players (
	id            TEXT PRIMARY KEY,
	room_id       TEXT NOT NULL REFERENCES rooms(id) ON DELETE CASCADE,
	name          TEXT NOT NULL,
	private_cards JSONB NOT NULL DEFAULT '[]',
	ready         BOOLEAN NOT NULL DEFAULT FALSE,
	connected     BOOLEAN NOT NULL DEFAULT TRUE,
	at_table      BOOLEAN NOT NULL DEFAULT TRUE,
	last_seen     TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS players_room_idx ON players (room_id);
`

// EnsureSchema creates the two tables on startup if they are missing.
func (pm *PersistenceManager) EnsureSchema(ctx context.Context) error {
	if _, err := pm.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// SaveRoom persists a room and its seats in one transaction. Called
// write-through after every mutation; callers treat a failure as
// non-fatal (the in-memory room is authoritative while the process lives).
func (pm *PersistenceManager) SaveRoom(ctx context.Context, room *chipcall.Room) error {
	roomData, err := json.Marshal(room)
	if err != nil {
		return fmt.Errorf("failed to serialize room %s: %w", room.ID, err)
	}

	tx, err := pm.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin save for room %s: %w", room.ID, err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO rooms (id, phase, host_id, min_players, max_players, game_mode,
			state_version, room_data, created_at, last_action_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())
		ON CONFLICT (id) DO UPDATE SET
			phase = EXCLUDED.phase,
			host_id = EXCLUDED.host_id,
			state_version = EXCLUDED.state_version,
			room_data = EXCLUDED.room_data,
			last_action_at = EXCLUDED.last_action_at,
			updated_at = now()
	`, room.ID, string(room.Phase), room.HostID, room.MinPlayers, room.MaxPlayers,
		string(room.Mode), int64(room.Version), roomData, room.CreatedAt, room.LastActionAt)
	if err != nil {
		return fmt.Errorf("failed to save room %s: %w", room.ID, err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM players WHERE room_id = $1`, room.ID); err != nil {
		return fmt.Errorf("failed to clear players for room %s: %w", room.ID, err)
	}

	for _, p := range room.Seats {
		cards, err := json.Marshal(p.Hole)
		if err != nil {
			return fmt.Errorf("failed to serialize cards for player %s: %w", p.ID, err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO players (id, room_id, name, private_cards, ready, connected, at_table, last_seen)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, p.ID, room.ID, p.Name, cards, p.Ready, p.Connected, p.AtTable, room.LastActionAt)
		if err != nil {
			return fmt.Errorf("failed to save player %s: %w", p.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit save for room %s: %w", room.ID, err)
	}
	return nil
}

// LoadRoom retrieves one room snapshot by id.
func (pm *PersistenceManager) LoadRoom(ctx context.Context, id string) (*chipcall.Room, error) {
	var roomData []byte
	err := pm.pool.QueryRow(ctx, `SELECT room_data FROM rooms WHERE id = $1`, id).Scan(&roomData)
	if err == pgx.ErrNoRows {
		return nil, chipcall.Errf(chipcall.CodeNotFound, "room %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load room %s: %w", id, err)
	}

	var room chipcall.Room
	if err := json.Unmarshal(roomData, &room); err != nil {
		return nil, fmt.Errorf("failed to deserialize room %s: %w", id, err)
	}
	return &room, nil
}

// LoadAllRooms retrieves every persisted room, newest activity first.
// Used once on startup to rebuild the registry.
func (pm *PersistenceManager) LoadAllRooms(ctx context.Context) ([]*chipcall.Room, error) {
	rows, err := pm.pool.Query(ctx, `SELECT room_data FROM rooms ORDER BY last_action_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query rooms: %w", err)
	}
	defer rows.Close()

	var rooms []*chipcall.Room
	for rows.Next() {
		var roomData []byte
		if err := rows.Scan(&roomData); err != nil {
			return nil, fmt.Errorf("failed to scan room row: %w", err)
		}

		var room chipcall.Room
		if err := json.Unmarshal(roomData, &room); err != nil {
			// A corrupt snapshot should not block recovery of the rest.
			continue
		}
		rooms = append(rooms, &room)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating room rows: %w", err)
	}
	return rooms, nil
}

// DeleteRoom removes a room durably. Player rows cascade.
func (pm *PersistenceManager) DeleteRoom(ctx context.Context, id string) error {
	if _, err := pm.pool.Exec(ctx, `DELETE FROM rooms WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete room %s: %w", id, err)
	}
	return nil
}

// Ping reports database reachability for the health endpoint.
func (pm *PersistenceManager) Ping(ctx context.Context) error {
	return pm.pool.Ping(ctx)
}
