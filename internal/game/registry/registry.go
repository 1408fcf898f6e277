// Package registry tracks every connected player session: identity, room,
// and position. It is the single shared mutable resource of the server;
// all methods are safe for concurrent use from any connection goroutine.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Key identifies a session by the remote address and port of its connection.
type Key struct {
	Addr string
	Port int
}

// String renders the key as "addr:port".
func (k Key) String() string {
	return fmt.Sprintf("%s:%d", k.Addr, k.Port)
}

// Sender delivers server-initiated lines to one client. The transport
// connection implements it; tests substitute recorders.
type Sender interface {
	SendLine(text string) error
	Close() error
}

// Session is one connected player's live state. Fields are owned by the
// Registry: read or mutate them only through Registry methods, which return
// value copies.
type Session struct {
	// Key is the connection identity (remote address, port).
	Key Key
	// Name is the player name from join. Not guaranteed unique; name
	// lookups resolve to the first match.
	Name string
	// Gender is a display attribute relayed to peers verbatim.
	Gender string
	// Room is the current room id. Membership of room R is derived: it is
	// exactly the sessions whose Room equals R. No per-room collection is
	// kept, so a session can never be counted in two rooms.
	Room string
	// X, Y are the tile position within the room.
	X, Y int
	// Dir is the facing direction.
	Dir int

	sender Sender
}

// Registry is the mutex-guarded session directory. Every mutation and every
// enumeration (listing, broadcast fan-out) is serialized so that an
// iterate-and-send never observes a half-applied room change.
type Registry struct {
	mu       sync.RWMutex
	sessions map[Key]*Session
	log      *zap.Logger
}

// New creates an empty Registry.
//
// Precondition: logger must be non-nil.
func New(logger *zap.Logger) *Registry {
	return &Registry{
		sessions: make(map[Key]*Session),
		log:      logger,
	}
}

// Add inserts the session for key, replacing any existing session with the
// same key. A repeated join from the same connection overwrites its state.
//
// Precondition: sender must be non-nil; key must carry a non-empty Addr.
func (r *Registry) Add(key Key, name, gender, room string, x, y, dir int, sender Sender) Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess := &Session{
		Key:    key,
		Name:   name,
		Gender: gender,
		Room:   room,
		X:      x,
		Y:      y,
		Dir:    dir,
		sender: sender,
	}
	r.sessions[key] = sess
	return *sess
}

// Remove deletes the session for key.
//
// Postcondition: Returns the removed session and true, or false when the
// key was not registered.
func (r *Registry) Remove(key Key) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[key]
	if !ok {
		return Session{}, false
	}
	delete(r.sessions, key)
	return *sess, true
}

// Disconnect removes the session for key and closes its connection. Used by
// the admin KICK path; the owning goroutine's pending read unblocks on the
// close and runs its normal cleanup, which finds the session already gone.
//
// Postcondition: Returns the removed session and true, or false when the
// key was not registered.
func (r *Registry) Disconnect(key Key) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[key]
	if !ok {
		return Session{}, false
	}
	delete(r.sessions, key)
	if err := sess.sender.Close(); err != nil {
		r.log.Debug("closing kicked connection", zap.String("key", key.String()), zap.Error(err))
	}
	return *sess, true
}

// Get returns a copy of the session for key.
func (r *Registry) Get(key Key) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[key]
	if !ok {
		return Session{}, false
	}
	return *sess, true
}

// GetByName returns the first session whose player name matches exactly.
// Duplicate names are not prevented; which duplicate wins is unspecified.
func (r *Registry) GetByName(name string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, sess := range r.sessions {
		if sess.Name == name {
			return *sess, true
		}
	}
	return Session{}, false
}

// ListAll returns copies of every session, ordered by key for deterministic
// admin output.
func (r *Registry) ListAll() []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		result = append(result, *sess)
	}
	sortSessions(result)
	return result
}

// ListInRoom returns copies of every session whose room id equals roomID,
// ordered by key. A nonexistent room yields an empty slice.
func (r *Registry) ListInRoom(roomID string) []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []Session
	for _, sess := range r.sessions {
		if sess.Room == roomID {
			result = append(result, *sess)
		}
	}
	sortSessions(result)
	return result
}

// RoomCounts returns the occupancy count per room id for every room with at
// least one session.
func (r *Registry) RoomCounts() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[string]int)
	for _, sess := range r.sessions {
		counts[sess.Room]++
	}
	return counts
}

// Count returns the number of connected sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// SetRoom updates the room id of the session for key.
//
// Postcondition: Returns the previous room id and true, or false when the
// key was not registered.
func (r *Registry) SetRoom(key Key, roomID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[key]
	if !ok {
		return "", false
	}
	old := sess.Room
	sess.Room = roomID
	return old, true
}

// SetPosition updates the position and facing of the session for key.
func (r *Registry) SetPosition(key Key, x, y, dir int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[key]
	if !ok {
		return false
	}
	sess.X, sess.Y, sess.Dir = x, y, dir
	return true
}

// SendTo delivers one line to the session for key.
//
// Postcondition: Returns false when the key was not registered. Send
// failures are logged, not returned; the owning connection's read loop
// notices the broken transport.
func (r *Registry) SendTo(key Key, line string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sess, ok := r.sessions[key]
	if !ok {
		return false
	}
	r.deliver(sess, line)
	return true
}

// SendToSharedRoom delivers one line to the session for `to` only if the
// sessions for `from` and `to` currently share a room. The room check runs
// at delivery time, under the same lock as the send, so a requester that
// has since changed rooms never receives state from its old room.
//
// Postcondition: Returns true only when both sessions exist, share a room,
// and the line was handed to the target's sender.
func (r *Registry) SendToSharedRoom(from, to Key, line string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	src, ok := r.sessions[from]
	if !ok {
		return false
	}
	dst, ok := r.sessions[to]
	if !ok {
		return false
	}
	if src.Room != dst.Room {
		return false
	}
	r.deliver(dst, line)
	return true
}

// BroadcastToRoom delivers line to every session whose room id equals
// roomID, excluding the session for exclude. Broadcasting to an empty or
// nonexistent room is a no-op, never an error.
//
// Postcondition: Returns the number of sessions the line was handed to.
func (r *Registry) BroadcastToRoom(roomID string, exclude Key, line string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for key, sess := range r.sessions {
		if sess.Room != roomID || key == exclude {
			continue
		}
		r.deliver(sess, line)
		n++
	}
	return n
}

// BroadcastToAll delivers line to every connected session regardless of room.
//
// Postcondition: Returns the number of sessions the line was handed to.
func (r *Registry) BroadcastToAll(line string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, sess := range r.sessions {
		r.deliver(sess, line)
		n++
	}
	return n
}

// deliver hands one line to a session's sender. Callers hold at least the
// read lock. Write deadlines on the connection bound how long a slow client
// can stall the fan-out.
func (r *Registry) deliver(sess *Session, line string) {
	if err := sess.sender.SendLine(line); err != nil {
		r.log.Debug("delivering line",
			zap.String("key", sess.Key.String()),
			zap.String("player", sess.Name),
			zap.Error(err),
		)
	}
}

func sortSessions(sessions []Session) {
	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].Key.Addr != sessions[j].Key.Addr {
			return sessions[i].Key.Addr < sessions[j].Key.Addr
		}
		return sessions[i].Key.Port < sessions[j].Key.Port
	})
}
