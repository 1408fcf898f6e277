// Package gameserver implements the per-connection game protocol: the
// join/changeRoom/move/chat lifecycle of a player session and the
// wantDetails/detailsFor peer discovery subprotocol.
package gameserver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/atrium/internal/dispatch"
	"github.com/cory-johannsen/atrium/internal/events"
	"github.com/cory-johannsen/atrium/internal/game/protocol"
	"github.com/cory-johannsen/atrium/internal/game/registry"
	"github.com/cory-johannsen/atrium/internal/transport"
)

// errQuit signals a clean client-initiated disconnect out of the command loop.
var errQuit = errors.New("client said bye")

// Handler runs the game protocol for every connection on the game port.
// One Handler is shared by all connections; per-connection state lives in
// the registry and the connContext.
type Handler struct {
	registry    *registry.Registry
	defaultRoom string
	events      events.Publisher
	logger      *zap.Logger
	table       *dispatch.Dispatcher[*connContext]
}

// connContext is the mutable context threaded through command handlers for
// one connection.
type connContext struct {
	key  registry.Key
	conn *transport.Conn
	log  *zap.Logger
}

// NewHandler creates the game protocol handler and builds its command table.
//
// Precondition: reg, publisher, and logger must be non-nil; defaultRoom must
// be non-empty.
func NewHandler(reg *registry.Registry, defaultRoom string, publisher events.Publisher, logger *zap.Logger) *Handler {
	h := &Handler{
		registry:    reg,
		defaultRoom: defaultRoom,
		events:      publisher,
		logger:      logger,
	}

	table := dispatch.New[*connContext](h.handleUnknown)
	table.MustRegister(protocol.CmdJoin, h.handleJoin)
	table.MustRegister(protocol.CmdChangeRoom, h.handleChangeRoom)
	table.MustRegister(protocol.CmdLeaveRoom, h.handleLeaveRoom)
	table.MustRegister(protocol.CmdMove, h.handleMove)
	table.MustRegister(protocol.CmdChat, h.handleChat)
	table.MustRegister(protocol.CmdBye, h.handleBye)
	table.MustRegister(protocol.CmdWantDetails, h.handleWantDetails)
	table.MustRegister(protocol.CmdDetailsFor, h.handleDetailsFor)
	h.table = table

	return h
}

// HandleSession runs the command loop for one game connection. The session
// moves CONNECTED → ACTIVE on join and is torn down on bye, transport
// failure, or context cancellation; all three paths run the same cleanup so
// no stale session outlives its connection.
//
// Postcondition: The connection's session, if any, is removed from the
// registry and its room notified.
func (h *Handler) HandleSession(ctx context.Context, conn *transport.Conn) error {
	addr, port, err := conn.RemoteHostPort()
	if err != nil {
		return err
	}

	cs := &connContext{
		key:  registry.Key{Addr: addr, Port: port},
		conn: conn,
		log:  h.logger.With(zap.String("key", fmt.Sprintf("%s:%d", addr, port))),
	}

	defer h.teardown(cs)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line, err := conn.ReadLine()
		if err != nil {
			// Transport failure takes the same cleanup path as bye.
			return err
		}

		if err := h.table.Dispatch(cs, line); err != nil {
			if errors.Is(err, errQuit) {
				return nil
			}
			return err
		}
	}
}

// teardown removes the session and notifies its room. It is a no-op when
// the session is already gone (explicit bye, or an admin kick raced the
// disconnect).
func (h *Handler) teardown(cs *connContext) {
	sess, ok := h.registry.Remove(cs.key)
	if !ok {
		return
	}
	h.registry.BroadcastToRoom(sess.Room, cs.key, protocol.PlayerLeft(sess))
	h.publish(events.Event{
		Type:   events.TypeLeave,
		Player: sess.Name,
		Addr:   cs.key.String(),
	})
	cs.log.Info("player disconnected",
		zap.String("player", sess.Name),
		zap.String("room", sess.Room),
	)
}

// handleJoin creates or overwrites the session, announces it to the target
// room, and probes the room so existing occupants introduce themselves.
// The server does not cache and forward peer positions at join time; the
// wantDetails round trip is the discovery mechanism.
func (h *Handler) handleJoin(cs *connContext, msg dispatch.Message) error {
	fields := msg.Fields()
	if len(fields) < 5 {
		return cs.conn.WriteLine(protocol.ErrorLine("usage: join <name> <gender> <x> <y> <dir> [roomId]"))
	}

	name, gender := fields[0], fields[1]
	x, y, dir, err := protocol.ParsePosition(fields[2], fields[3], fields[4])
	if err != nil {
		return cs.conn.WriteLine(protocol.ErrorLine("usage: join <name> <gender> <x> <y> <dir> [roomId]"))
	}

	room := h.defaultRoom
	if len(fields) >= 6 {
		room = fields[5]
	}

	sess := h.registry.Add(cs.key, name, gender, room, x, y, dir, cs.conn)

	h.registry.BroadcastToRoom(room, cs.key, protocol.PlayerJoined(sess))
	h.registry.BroadcastToRoom(room, cs.key, protocol.WantDetails(cs.key))

	h.publish(events.Event{
		Type:   events.TypeJoin,
		Player: name,
		Room:   room,
		Addr:   cs.key.String(),
	})
	cs.log.Info("player joined",
		zap.String("player", name),
		zap.String("room", room),
	)
	return nil
}

// handleChangeRoom moves the session between rooms.
func (h *Handler) handleChangeRoom(cs *connContext, msg dispatch.Message) error {
	sess, ok := h.registry.Get(cs.key)
	if !ok {
		return nil // not joined yet
	}

	fields := msg.Fields()
	if len(fields) < 1 {
		return cs.conn.WriteLine(protocol.ErrorLine("usage: changeRoom <roomId>"))
	}

	h.moveToRoom(cs, sess, fields[0])
	return nil
}

// handleLeaveRoom returns the session to the default room. The hotel view
// has no room of its own, so leaving a room is a move back to the lobby.
func (h *Handler) handleLeaveRoom(cs *connContext, _ dispatch.Message) error {
	sess, ok := h.registry.Get(cs.key)
	if !ok {
		return nil
	}
	h.moveToRoom(cs, sess, h.defaultRoom)
	return nil
}

// moveToRoom runs the four-step room transition:
//
//  1. announce the departure to the old room;
//  2. push each occupant of the new room directly to the mover, so the
//     mover does not wait on a wantDetails round trip;
//  3. update the session's room id;
//  4. announce the arrival to the new room, excluding the mover.
//
// Step 2 must precede step 3 so the mover is never pushed its own
// just-updated state as if it were a peer. The sequence as a whole is not
// atomic: each registry call is, but a concurrent kick or admin move of the
// same session mid-sequence can interleave.
func (h *Handler) moveToRoom(cs *connContext, sess registry.Session, newRoom string) {
	h.registry.BroadcastToRoom(sess.Room, cs.key, protocol.PlayerLeft(sess))

	for _, occupant := range h.registry.ListInRoom(newRoom) {
		if occupant.Key == cs.key {
			continue
		}
		h.registry.SendTo(cs.key, protocol.PlayerJoined(occupant))
	}

	if _, ok := h.registry.SetRoom(cs.key, newRoom); !ok {
		return // session vanished mid-sequence (kick race)
	}

	updated, ok := h.registry.Get(cs.key)
	if !ok {
		return
	}
	h.registry.BroadcastToRoom(newRoom, cs.key, protocol.PlayerJoined(updated))

	h.publish(events.Event{
		Type:   events.TypeRoomChange,
		Player: updated.Name,
		Room:   newRoom,
		Addr:   cs.key.String(),
	})
	cs.log.Debug("room change",
		zap.String("player", updated.Name),
		zap.String("from", sess.Room),
		zap.String("to", newRoom),
	)
}

// handleMove updates the session position and relays the movement to the
// room. Room membership is untouched.
func (h *Handler) handleMove(cs *connContext, msg dispatch.Message) error {
	sess, ok := h.registry.Get(cs.key)
	if !ok {
		return nil
	}

	fields := msg.Fields()
	if len(fields) < 3 {
		return cs.conn.WriteLine(protocol.ErrorLine("usage: move <x> <y> <dir>"))
	}
	x, y, dir, err := protocol.ParsePosition(fields[0], fields[1], fields[2])
	if err != nil {
		return cs.conn.WriteLine(protocol.ErrorLine("usage: move <x> <y> <dir>"))
	}

	h.registry.SetPosition(cs.key, x, y, dir)
	h.registry.BroadcastToRoom(sess.Room, cs.key, protocol.PlayerMoved(sess.Name, x, y, dir))
	return nil
}

// handleChat relays chat text to the room with the sender's name prefixed.
func (h *Handler) handleChat(cs *connContext, msg dispatch.Message) error {
	sess, ok := h.registry.Get(cs.key)
	if !ok {
		return nil
	}
	if msg.Payload == "" {
		return cs.conn.WriteLine(protocol.ErrorLine("usage: chat <text>"))
	}
	h.registry.BroadcastToRoom(sess.Room, cs.key, protocol.PlayerChat(sess.Name, msg.Payload))
	return nil
}

// handleWantDetails broadcasts a discovery probe carrying the requester's
// key to the current room; occupants answer with detailsFor.
func (h *Handler) handleWantDetails(cs *connContext, _ dispatch.Message) error {
	sess, ok := h.registry.Get(cs.key)
	if !ok {
		return nil
	}
	h.registry.BroadcastToRoom(sess.Room, cs.key, protocol.WantDetails(cs.key))
	return nil
}

// handleDetailsFor forwards a targeted discovery reply. The shared-room
// check runs at delivery time inside the registry, so a requester that
// changed rooms since probing never receives the reply.
func (h *Handler) handleDetailsFor(cs *connContext, msg dispatch.Message) error {
	if _, ok := h.registry.Get(cs.key); !ok {
		return nil
	}

	fields := msg.Fields()
	if len(fields) < 2 {
		return cs.conn.WriteLine(protocol.ErrorLine("usage: detailsFor <addr> <port> <name> <gender> <x> <y> <dir>"))
	}
	target, err := protocol.ParseKey(fields[0], fields[1])
	if err != nil {
		return cs.conn.WriteLine(protocol.ErrorLine("usage: detailsFor <addr> <port> <name> <gender> <x> <y> <dir>"))
	}

	h.registry.SendToSharedRoom(cs.key, target, msg.Raw)
	return nil
}

// handleBye tears the session down and ends the command loop.
func (h *Handler) handleBye(cs *connContext, _ dispatch.Message) error {
	h.teardown(cs)
	return errQuit
}

// handleUnknown answers unmatched keywords with an error instead of failing
// the connection.
func (h *Handler) handleUnknown(cs *connContext, msg dispatch.Message) error {
	return cs.conn.WriteLine(protocol.ErrorLine("unknown command " + msg.Keyword))
}

// publish hands an event to the publisher; failures are logged, never fatal.
func (h *Handler) publish(ev events.Event) {
	ev.Time = time.Now().UTC()
	if err := h.events.Publish(ev); err != nil {
		h.logger.Warn("publishing presence event",
			zap.String("type", ev.Type),
			zap.String("player", ev.Player),
			zap.Error(err),
		)
	}
}
