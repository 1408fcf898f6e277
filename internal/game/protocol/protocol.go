// Package protocol defines the newline-delimited text protocol spoken on
// the game and admin channels: command keywords, server message builders,
// and payload parsers. One command per line; the first whitespace-delimited
// token is the keyword.
package protocol

import (
	"fmt"
	"strconv"

	"github.com/cory-johannsen/atrium/internal/game/registry"
)

// Game protocol keywords, client→server.
const (
	CmdJoin        = "join"
	CmdChangeRoom  = "changeRoom"
	CmdLeaveRoom   = "leaveRoom"
	CmdMove        = "move"
	CmdChat        = "chat"
	CmdBye         = "bye"
	CmdWantDetails = "wantDetails"
	CmdDetailsFor  = "detailsFor"
)

// Game protocol keywords, server→client.
const (
	MsgPlayerJoined    = "playerJoined"
	MsgPlayerLeft      = "playerLeft"
	MsgPlayerMoved     = "playerMoved"
	MsgPlayerChat      = "playerChat"
	MsgWantDetails     = "wantDetails"
	MsgDetailsFor      = "detailsFor"
	MsgForceRoomChange = "forceRoomChange"
	MsgAdminMessage    = "adminMessage"
	MsgKicked          = "KICKED"
	MsgError           = "ERROR"
)

// Admin protocol keywords.
const (
	AdminCmdAuth        = "AUTH"
	AdminCmdListPlayers = "LIST_PLAYERS"
	AdminCmdListRooms   = "LIST_ROOMS"
	AdminCmdRoomInfo    = "ROOM_INFO"
	AdminCmdClearRoom   = "CLEAR_ROOM"
	AdminCmdMovePlayer  = "MOVE_PLAYER"
	AdminCmdKick        = "KICK"
	AdminCmdBroadcast   = "BROADCAST"
	AdminCmdPing        = "PING"
	AdminCmdHelp        = "HELP"
)

// Admin protocol framing lines.
const (
	AdminServerReady  = "ADMIN_SERVER_READY"
	AdminAuthRequired = "AUTH_REQUIRED"
	AdminAuthSuccess  = "AUTH_SUCCESS"
	AdminAuthFailed   = "AUTH_FAILED"
	AdminSuccess      = "SUCCESS"
	AdminError        = "ERROR"
	AdminPong         = "PONG"

	PlayersStart  = "PLAYERS_START"
	PlayersEnd    = "PLAYERS_END"
	RoomsStart    = "ROOMS_START"
	RoomsEnd      = "ROOMS_END"
	RoomInfoStart = "ROOM_INFO_START"
	RoomInfoEnd   = "ROOM_INFO_END"
	HelpStart     = "HELP_START"
	HelpEnd       = "HELP_END"
)

// PlayerJoined renders the broadcast announcing a session's presence in a
// room. The same shape is pushed directly to a mover for each occupant of
// its new room.
func PlayerJoined(s registry.Session) string {
	return fmt.Sprintf("%s %s %d %s %s %d %d %d",
		MsgPlayerJoined, s.Key.Addr, s.Key.Port, s.Name, s.Gender, s.X, s.Y, s.Dir)
}

// PlayerLeft renders the broadcast announcing a session left its room.
func PlayerLeft(s registry.Session) string {
	return fmt.Sprintf("%s %s %d %s", MsgPlayerLeft, s.Key.Addr, s.Key.Port, s.Name)
}

// PlayerMoved renders a movement relay: the sender's name followed by the
// parsed coordinates, so trailing junk in a move command never reaches the
// room.
func PlayerMoved(name string, x, y, dir int) string {
	return fmt.Sprintf("%s %s %d %d %d", MsgPlayerMoved, name, x, y, dir)
}

// PlayerChat renders a chat relay: the sender's name followed by the text.
func PlayerChat(name, text string) string {
	return fmt.Sprintf("%s %s %s", MsgPlayerChat, name, text)
}

// WantDetails renders the discovery probe carrying the requester's key, so
// occupants know where to target their detailsFor reply.
func WantDetails(key registry.Key) string {
	return fmt.Sprintf("%s %s %d", MsgWantDetails, key.Addr, key.Port)
}

// ForceRoomChange renders the administrative room-move directive.
func ForceRoomChange(roomID string) string {
	return fmt.Sprintf("%s %s", MsgForceRoomChange, roomID)
}

// AdminMessage renders a server-wide administrative message.
func AdminMessage(text string) string {
	return fmt.Sprintf("%s %s", MsgAdminMessage, text)
}

// Kicked renders the disconnect notice sent to a kicked player.
func Kicked(reason string) string {
	if reason == "" {
		return MsgKicked
	}
	return fmt.Sprintf("%s %s", MsgKicked, reason)
}

// ErrorLine renders an ERROR reply with a usage or diagnostic message.
func ErrorLine(msg string) string {
	return fmt.Sprintf("%s %s", MsgError, msg)
}

// PlayerRow renders one session as an admin listing row.
func PlayerRow(s registry.Session) string {
	return fmt.Sprintf("PLAYER %s %d %s %s %d %d %d",
		s.Key.Addr, s.Key.Port, s.Name, s.Room, s.X, s.Y, s.Dir)
}

// RoomRow renders one room occupancy row for LIST_ROOMS.
func RoomRow(roomID string, count int) string {
	return fmt.Sprintf("ROOM %s %d", roomID, count)
}

// ParseKey parses an "addr port" pair from two payload fields.
//
// Postcondition: Returns the key, or an error when the port is not numeric.
func ParseKey(addr, port string) (registry.Key, error) {
	p, err := strconv.Atoi(port)
	if err != nil {
		return registry.Key{}, fmt.Errorf("parsing port %q: %w", port, err)
	}
	return registry.Key{Addr: addr, Port: p}, nil
}

// ParsePosition parses "x y dir" payload fields.
//
// Postcondition: Returns the coordinates, or an error naming the bad field.
func ParsePosition(xs, ys, dirs string) (x, y, dir int, err error) {
	x, err = strconv.Atoi(xs)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("parsing x %q: %w", xs, err)
	}
	y, err = strconv.Atoi(ys)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("parsing y %q: %w", ys, err)
	}
	dir, err = strconv.Atoi(dirs)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("parsing dir %q: %w", dirs, err)
	}
	return x, y, dir, nil
}
