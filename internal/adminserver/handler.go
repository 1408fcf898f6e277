// Package adminserver implements the authenticated administrative channel:
// a second listener whose connections can inspect and mutate any live
// session in the registry.
package adminserver

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/atrium/internal/dispatch"
	"github.com/cory-johannsen/atrium/internal/events"
	"github.com/cory-johannsen/atrium/internal/game/protocol"
	"github.com/cory-johannsen/atrium/internal/game/registry"
	"github.com/cory-johannsen/atrium/internal/game/rooms"
	"github.com/cory-johannsen/atrium/internal/transport"
)

// Handler runs the admin protocol for every connection on the admin port.
type Handler struct {
	registry    *registry.Registry
	auth        *Authenticator
	catalog     *rooms.Catalog
	defaultRoom string
	events      events.Publisher
	logger      *zap.Logger
	table       *dispatch.Dispatcher[*adminContext]
}

type adminContext struct {
	conn *transport.Conn
	log  *zap.Logger
}

// NewHandler creates the admin protocol handler and builds its command table.
func NewHandler(reg *registry.Registry, auth *Authenticator, catalog *rooms.Catalog, defaultRoom string, publisher events.Publisher, logger *zap.Logger) *Handler {
	h := &Handler{
		registry:    reg,
		auth:        auth,
		catalog:     catalog,
		defaultRoom: defaultRoom,
		events:      publisher,
		logger:      logger,
	}

	table := dispatch.New[*adminContext](h.handleUnknown)
	table.MustRegister(protocol.AdminCmdListPlayers, h.handleListPlayers)
	table.MustRegister(protocol.AdminCmdListRooms, h.handleListRooms)
	table.MustRegister(protocol.AdminCmdRoomInfo, h.handleRoomInfo)
	table.MustRegister(protocol.AdminCmdClearRoom, h.handleClearRoom)
	table.MustRegister(protocol.AdminCmdMovePlayer, h.handleMovePlayer)
	table.MustRegister(protocol.AdminCmdKick, h.handleKick)
	table.MustRegister(protocol.AdminCmdBroadcast, h.handleBroadcast)
	table.MustRegister(protocol.AdminCmdPing, h.handlePing)
	table.MustRegister(protocol.AdminCmdHelp, h.handleHelp)
	h.table = table

	return h
}

// HandleSession runs the command loop for one admin connection. The
// connection starts unauthenticated; only AUTH is honored until the shared
// secret verifies, after which every command routes through the table.
func (h *Handler) HandleSession(ctx context.Context, conn *transport.Conn) error {
	ac := &adminContext{
		conn: conn,
		log:  h.logger.With(zap.String("remote", conn.RemoteAddr().String())),
	}

	if err := conn.WriteLine(protocol.AdminServerReady); err != nil {
		return err
	}
	if err := conn.WriteLine(protocol.AdminAuthRequired); err != nil {
		return err
	}

	authenticated := false
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line, err := conn.ReadLine()
		if err != nil {
			return err
		}

		msg := dispatch.Split(line)
		if msg.Keyword == "" {
			continue
		}

		if !authenticated {
			// The auth gate sits in front of the command table.
			if msg.Keyword != protocol.AdminCmdAuth {
				if err := conn.WriteLine(protocol.ErrorLine("not authenticated")); err != nil {
					return err
				}
				continue
			}
			if !h.auth.Verify(msg.Payload) {
				ac.log.Warn("admin authentication failed")
				if err := conn.WriteLine(protocol.AdminAuthFailed); err != nil {
					return err
				}
				continue
			}
			authenticated = true
			ac.log.Info("admin authenticated")
			if err := conn.WriteLine(protocol.AdminAuthSuccess); err != nil {
				return err
			}
			continue
		}

		if err := h.table.Dispatch(ac, line); err != nil {
			return err
		}
	}
}

func (h *Handler) handleListPlayers(ac *adminContext, _ dispatch.Message) error {
	lines := []string{protocol.PlayersStart}
	for _, sess := range h.registry.ListAll() {
		lines = append(lines, protocol.PlayerRow(sess))
	}
	lines = append(lines, protocol.PlayersEnd)
	return h.writeBlock(ac, lines)
}

func (h *Handler) handleListRooms(ac *adminContext, _ dispatch.Message) error {
	counts := h.registry.RoomCounts()
	ids := make([]string, 0, len(counts))
	for id := range counts {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	lines := []string{protocol.RoomsStart}
	for _, id := range ids {
		lines = append(lines, protocol.RoomRow(id, counts[id]))
	}
	lines = append(lines, protocol.RoomsEnd)
	return h.writeBlock(ac, lines)
}

// handleRoomInfo dumps one room: its occupancy row, the catalog display
// name when the room is known, and a detail row per occupant. An empty
// room still produces a valid block.
func (h *Handler) handleRoomInfo(ac *adminContext, msg dispatch.Message) error {
	fields := msg.Fields()
	if len(fields) < 1 {
		return ac.conn.WriteLine(protocol.ErrorLine("usage: ROOM_INFO <roomId>"))
	}
	roomID := fields[0]

	occupants := h.registry.ListInRoom(roomID)
	lines := []string{
		protocol.RoomInfoStart,
		protocol.RoomRow(roomID, len(occupants)),
	}
	if h.catalog != nil {
		if room, ok := h.catalog.Get(roomID); ok {
			lines = append(lines, fmt.Sprintf("NAME %s", room.Name))
		}
	}
	for _, sess := range occupants {
		lines = append(lines, protocol.PlayerRow(sess))
	}
	lines = append(lines, protocol.RoomInfoEnd)
	return h.writeBlock(ac, lines)
}

// handleClearRoom forces every occupant of a room into the default room.
// Targeting the default room itself or an empty room is refused without
// mutation.
func (h *Handler) handleClearRoom(ac *adminContext, msg dispatch.Message) error {
	fields := msg.Fields()
	if len(fields) < 1 {
		return ac.conn.WriteLine(protocol.ErrorLine("usage: CLEAR_ROOM <roomId>"))
	}
	roomID := fields[0]

	if roomID == h.defaultRoom {
		return ac.conn.WriteLine(protocol.ErrorLine("cannot clear the default room"))
	}
	occupants := h.registry.ListInRoom(roomID)
	if len(occupants) == 0 {
		return ac.conn.WriteLine(protocol.ErrorLine("room " + roomID + " is empty"))
	}

	for _, occupant := range occupants {
		if _, ok := h.registry.SetRoom(occupant.Key, h.defaultRoom); !ok {
			continue // disconnected since the listing
		}
		h.registry.SendTo(occupant.Key, protocol.ForceRoomChange(h.defaultRoom))
		if moved, ok := h.registry.Get(occupant.Key); ok {
			h.registry.BroadcastToRoom(h.defaultRoom, occupant.Key, protocol.PlayerJoined(moved))
			h.publish(events.Event{
				Type:   events.TypeRoomChange,
				Player: moved.Name,
				Room:   h.defaultRoom,
				Addr:   occupant.Key.String(),
			})
		}
	}

	ac.log.Info("room cleared",
		zap.String("room", roomID),
		zap.Int("moved", len(occupants)),
	)
	return ac.conn.WriteLine(fmt.Sprintf("%s moved %d players to %s", protocol.AdminSuccess, len(occupants), h.defaultRoom))
}

// handleMovePlayer force-moves one named player, mirroring the room change
// broadcast sequence a voluntary move runs, plus a forceRoomChange directive
// so the player's client follows.
func (h *Handler) handleMovePlayer(ac *adminContext, msg dispatch.Message) error {
	fields := msg.Fields()
	if len(fields) < 2 {
		return ac.conn.WriteLine(protocol.ErrorLine("usage: MOVE_PLAYER <name> <roomId>"))
	}
	name, roomID := fields[0], fields[1]

	sess, ok := h.registry.GetByName(name)
	if !ok {
		return ac.conn.WriteLine(protocol.ErrorLine("unknown player " + name))
	}

	h.registry.BroadcastToRoom(sess.Room, sess.Key, protocol.PlayerLeft(sess))
	h.registry.SendTo(sess.Key, protocol.ForceRoomChange(roomID))
	for _, occupant := range h.registry.ListInRoom(roomID) {
		if occupant.Key == sess.Key {
			continue
		}
		h.registry.SendTo(sess.Key, protocol.PlayerJoined(occupant))
	}
	if _, ok := h.registry.SetRoom(sess.Key, roomID); !ok {
		return ac.conn.WriteLine(protocol.ErrorLine("player " + name + " disconnected"))
	}
	if moved, ok := h.registry.Get(sess.Key); ok {
		h.registry.BroadcastToRoom(roomID, sess.Key, protocol.PlayerJoined(moved))
	}

	h.publish(events.Event{
		Type:   events.TypeRoomChange,
		Player: name,
		Room:   roomID,
		Addr:   sess.Key.String(),
	})
	ac.log.Info("player moved",
		zap.String("player", name),
		zap.String("room", roomID),
	)
	return ac.conn.WriteLine(fmt.Sprintf("%s moved %s to %s", protocol.AdminSuccess, name, roomID))
}

// handleKick force-disconnects one named player: the room is notified, the
// player is told why, and their socket closes. The admin connection stays up.
func (h *Handler) handleKick(ac *adminContext, msg dispatch.Message) error {
	fields := msg.Fields()
	if len(fields) < 1 {
		return ac.conn.WriteLine(protocol.ErrorLine("usage: KICK <name> [reason]"))
	}
	name := fields[0]
	reason := dispatch.Split(msg.Payload).Payload

	sess, ok := h.registry.GetByName(name)
	if !ok {
		return ac.conn.WriteLine(protocol.ErrorLine("unknown player " + name))
	}

	h.registry.BroadcastToRoom(sess.Room, sess.Key, protocol.PlayerLeft(sess))
	h.registry.SendTo(sess.Key, protocol.Kicked(reason))
	if _, ok := h.registry.Disconnect(sess.Key); !ok {
		return ac.conn.WriteLine(protocol.ErrorLine("player " + name + " disconnected"))
	}

	h.publish(events.Event{
		Type:   events.TypeKick,
		Player: name,
		Room:   sess.Room,
		Addr:   sess.Key.String(),
	})
	ac.log.Info("player kicked",
		zap.String("player", name),
		zap.String("reason", reason),
	)
	return ac.conn.WriteLine(fmt.Sprintf("%s kicked %s", protocol.AdminSuccess, name))
}

func (h *Handler) handleBroadcast(ac *adminContext, msg dispatch.Message) error {
	if msg.Payload == "" {
		return ac.conn.WriteLine(protocol.ErrorLine("usage: BROADCAST <text>"))
	}
	n := h.registry.BroadcastToAll(protocol.AdminMessage(msg.Payload))
	return ac.conn.WriteLine(fmt.Sprintf("%s delivered to %d players", protocol.AdminSuccess, n))
}

func (h *Handler) handlePing(ac *adminContext, _ dispatch.Message) error {
	return ac.conn.WriteLine(protocol.AdminPong)
}

func (h *Handler) handleHelp(ac *adminContext, _ dispatch.Message) error {
	return h.writeBlock(ac, []string{
		protocol.HelpStart,
		"LIST_PLAYERS                 list every connected session",
		"LIST_ROOMS                   list per-room occupancy counts",
		"ROOM_INFO <roomId>           dump one room's occupants",
		"CLEAR_ROOM <roomId>          force a room's occupants to " + h.defaultRoom,
		"MOVE_PLAYER <name> <roomId>  force-move one player",
		"KICK <name> [reason]         force-disconnect one player",
		"BROADCAST <text>             message every connected session",
		"PING                         liveness check",
		"HELP                         this listing",
		protocol.HelpEnd,
	})
}

func (h *Handler) handleUnknown(ac *adminContext, msg dispatch.Message) error {
	return ac.conn.WriteLine(protocol.ErrorLine("unknown command " + msg.Keyword))
}

func (h *Handler) writeBlock(ac *adminContext, lines []string) error {
	for _, line := range lines {
		if err := ac.conn.WriteLine(line); err != nil {
			return err
		}
	}
	return nil
}

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
