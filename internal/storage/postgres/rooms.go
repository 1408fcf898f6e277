package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cory-johannsen/atrium/internal/game/rooms"
)

// ErrRoomNotFound is returned when a room lookup yields no results.
var ErrRoomNotFound = errors.New("room not found")

// RoomRepository provides room catalog persistence operations.
type RoomRepository struct {
	db *pgxpool.Pool
}

// NewRoomRepository creates a RoomRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewRoomRepository(db *pgxpool.Pool) *RoomRepository {
	return &RoomRepository{db: db}
}

// ListRooms returns every room in the catalog ordered by id.
//
// Postcondition: Returns a possibly-empty slice; an empty catalog is not
// an error.
func (r *RoomRepository) ListRooms(ctx context.Context) ([]rooms.Room, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, name, description, max_occupancy
		 FROM rooms
		 ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing rooms: %w", err)
	}
	defer rows.Close()

	var out []rooms.Room
	for rows.Next() {
		var room rooms.Room
		if err := rows.Scan(&room.ID, &room.Name, &room.Description, &room.MaxOccupancy); err != nil {
			return nil, fmt.Errorf("scanning room: %w", err)
		}
		out = append(out, room)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rooms: %w", err)
	}
	return out, nil
}

// GetRoom returns one room by id.
//
// Postcondition: Returns ErrRoomNotFound when no room has the given id.
func (r *RoomRepository) GetRoom(ctx context.Context, id string) (rooms.Room, error) {
	var room rooms.Room
	err := r.db.QueryRow(ctx,
		`SELECT id, name, description, max_occupancy
		 FROM rooms
		 WHERE id = $1`,
		id,
	).Scan(&room.ID, &room.Name, &room.Description, &room.MaxOccupancy)
	if errors.Is(err, pgx.ErrNoRows) {
		return rooms.Room{}, ErrRoomNotFound
	}
	if err != nil {
		return rooms.Room{}, fmt.Errorf("getting room %s: %w", id, err)
	}
	return room, nil
}

// LoadCatalog reads the full room table into an immutable catalog.
//
// Postcondition: Returns an error when the table is empty, since the server
// needs at least the default room to exist.
func (r *RoomRepository) LoadCatalog(ctx context.Context) (*rooms.Catalog, error) {
	list, err := r.ListRooms(ctx)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, errors.New("room catalog table is empty")
	}
	return rooms.NewCatalog(list)
}
