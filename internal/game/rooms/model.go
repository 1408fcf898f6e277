// Package rooms provides the room catalog: static metadata about known
// rooms. The catalog is advisory — session room ids stay opaque strings and
// are never validated against it; it only enriches admin output.
package rooms

import (
	"fmt"
	"sort"
	"strings"
)

// Room is one catalog entry.
type Room struct {
	// ID is the opaque room identifier used on the wire.
	ID string
	// Name is the human-readable display name.
	Name string
	// Description is optional flavour text.
	Description string
	// MaxOccupancy is the advertised capacity; zero means unlimited.
	MaxOccupancy int
}

// Catalog is an immutable set of rooms, built once at startup.
type Catalog struct {
	rooms map[string]Room
}

// NewCatalog builds a catalog from the given rooms.
//
// Precondition: Every room must have a non-empty, whitespace-free ID.
// Postcondition: Returns a Catalog, or an error on invalid or duplicate ids.
func NewCatalog(list []Room) (*Catalog, error) {
	c := &Catalog{rooms: make(map[string]Room, len(list))}
	for _, room := range list {
		if room.ID == "" {
			return nil, fmt.Errorf("room with empty id (name %q)", room.Name)
		}
		if strings.ContainsAny(room.ID, " \t") {
			return nil, fmt.Errorf("room id %q contains whitespace", room.ID)
		}
		if _, exists := c.rooms[room.ID]; exists {
			return nil, fmt.Errorf("duplicate room id: %q", room.ID)
		}
		if room.MaxOccupancy < 0 {
			return nil, fmt.Errorf("room %q: max_occupancy must be >= 0, got %d", room.ID, room.MaxOccupancy)
		}
		c.rooms[room.ID] = room
	}
	return c, nil
}

// Get returns the catalog entry for id.
func (c *Catalog) Get(id string) (Room, bool) {
	room, ok := c.rooms[id]
	return room, ok
}

// All returns every room ordered by id.
func (c *Catalog) All() []Room {
	result := make([]Room, 0, len(c.rooms))
	for _, room := range c.rooms {
		result = append(result, room)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// Len returns the number of catalog entries.
func (c *Catalog) Len() int {
	return len(c.rooms)
}
