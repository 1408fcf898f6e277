package gameserver

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/atrium/internal/events"
	"github.com/cory-johannsen/atrium/internal/game/protocol"
	"github.com/cory-johannsen/atrium/internal/game/registry"
	"github.com/cory-johannsen/atrium/internal/transport"
)

// recordingSender captures lines delivered to a registry-resident peer.
type recordingSender struct {
	mu     sync.Mutex
	lines  []string
	closed bool
}

func (s *recordingSender) SendLine(line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, line)
	return nil
}

func (s *recordingSender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *recordingSender) recorded() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.lines))
	copy(out, s.lines)
	return out
}

func (s *recordingSender) contains(line string) bool {
	for _, l := range s.recorded() {
		if l == line {
			return true
		}
	}
	return false
}

// gameClient drives one live session over loopback TCP.
type gameClient struct {
	t      *testing.T
	conn   net.Conn
	reader *bufio.Reader
	key    registry.Key
	done   chan error
}

// startSession dials the handler over a loopback listener and runs
// HandleSession for the accepted side.
func startSession(t *testing.T, h *Handler) *gameClient {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	done := make(chan error, 1)
	go func() {
		raw, err := ln.Accept()
		if err != nil {
			done <- err
			return
		}
		done <- h.HandleSession(context.Background(), transport.NewConn(raw, 0, 0))
	}()

	client, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	host, portStr, err := net.SplitHostPort(client.LocalAddr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	return &gameClient{
		t:      t,
		conn:   client,
		reader: bufio.NewReader(client),
		key:    registry.Key{Addr: host, Port: port},
		done:   done,
	}
}

func (c *gameClient) send(line string) {
	c.t.Helper()
	_, err := fmt.Fprintf(c.conn, "%s\n", line)
	require.NoError(c.t, err)
}

func (c *gameClient) readLine() string {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	line, err := c.reader.ReadString('\n')
	require.NoError(c.t, err)
	return strings.TrimRight(line, "\r\n")
}

func newTestHandler(t *testing.T) (*Handler, *registry.Registry) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	reg := registry.New(logger)
	return NewHandler(reg, "lobby", events.Noop{}, logger), reg
}

func addPeer(reg *registry.Registry, name, room string, port int) (*recordingSender, registry.Session) {
	sender := &recordingSender{}
	sess := reg.Add(registry.Key{Addr: "10.0.0.9", Port: port}, name, "f", room, 1, 2, 3, sender)
	return sender, sess
}

func TestHandlerJoinAnnouncesAndProbes(t *testing.T) {
	h, reg := newTestHandler(t)
	peer, _ := addPeer(reg, "resident", "lobby", 7001)

	client := startSession(t, h)
	client.send("join alice f 3 4 1")

	require.Eventually(t, func() bool {
		_, ok := reg.Get(client.key)
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	sess, ok := reg.Get(client.key)
	require.True(t, ok)
	require.Equal(t, "alice", sess.Name)
	require.Equal(t, "lobby", sess.Room)
	require.Equal(t, 3, sess.X)
	require.Equal(t, 4, sess.Y)
	require.Equal(t, 1, sess.Dir)

	joined := protocol.PlayerJoined(sess)
	probe := protocol.WantDetails(client.key)
	require.Eventually(t, func() bool {
		return peer.contains(joined) && peer.contains(probe)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHandlerJoinExplicitRoom(t *testing.T) {
	h, reg := newTestHandler(t)

	client := startSession(t, h)
	client.send("join bob m 0 0 0 pool")

	require.Eventually(t, func() bool {
		sess, ok := reg.Get(client.key)
		return ok && sess.Room == "pool"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHandlerJoinBadArgs(t *testing.T) {
	h, reg := newTestHandler(t)

	client := startSession(t, h)
	client.send("join alice f")
	require.Contains(t, client.readLine(), "ERROR")

	client.send("join alice f x y z")
	require.Contains(t, client.readLine(), "ERROR")

	require.Equal(t, 0, reg.Count())
}

func TestHandlerByeRemovesAndNotifies(t *testing.T) {
	h, reg := newTestHandler(t)
	peer, _ := addPeer(reg, "resident", "lobby", 7001)

	client := startSession(t, h)
	client.send("join alice f 3 4 1")
	require.Eventually(t, func() bool {
		_, ok := reg.Get(client.key)
		return ok
	}, 2*time.Second, 10*time.Millisecond)
	sess, _ := reg.Get(client.key)

	client.send("bye")
	require.NoError(t, <-client.done)

	_, ok := reg.Get(client.key)
	require.False(t, ok)
	require.True(t, peer.contains(protocol.PlayerLeft(sess)))
}

func TestHandlerAbruptDisconnectCleansUp(t *testing.T) {
	h, reg := newTestHandler(t)
	peer, _ := addPeer(reg, "resident", "lobby", 7001)

	client := startSession(t, h)
	client.send("join alice f 3 4 1")
	require.Eventually(t, func() bool {
		_, ok := reg.Get(client.key)
		return ok
	}, 2*time.Second, 10*time.Millisecond)
	sess, _ := reg.Get(client.key)

	require.NoError(t, client.conn.Close())
	require.Error(t, <-client.done)

	_, ok := reg.Get(client.key)
	require.False(t, ok)
	require.True(t, peer.contains(protocol.PlayerLeft(sess)))
}

func TestHandlerChangeRoomSequence(t *testing.T) {
	h, reg := newTestHandler(t)
	oldPeer, _ := addPeer(reg, "lobbyist", "lobby", 7001)
	newPeer, occupant := addPeer(reg, "swimmer", "pool", 7002)

	client := startSession(t, h)
	client.send("join alice f 3 4 1")
	require.Eventually(t, func() bool {
		_, ok := reg.Get(client.key)
		return ok
	}, 2*time.Second, 10*time.Millisecond)
	before, _ := reg.Get(client.key)

	client.send("changeRoom pool")

	// The mover is pushed the existing occupant's state directly.
	require.Equal(t, protocol.PlayerJoined(occupant), client.readLine())

	require.Eventually(t, func() bool {
		sess, ok := reg.Get(client.key)
		return ok && sess.Room == "pool"
	}, 2*time.Second, 10*time.Millisecond)
	after, _ := reg.Get(client.key)

	require.True(t, oldPeer.contains(protocol.PlayerLeft(before)))
	require.True(t, newPeer.contains(protocol.PlayerJoined(after)))
	require.False(t, newPeer.contains(protocol.PlayerLeft(before)))
}

func TestHandlerLeaveRoomReturnsToDefault(t *testing.T) {
	h, reg := newTestHandler(t)

	client := startSession(t, h)
	client.send("join alice f 3 4 1 pool")
	require.Eventually(t, func() bool {
		sess, ok := reg.Get(client.key)
		return ok && sess.Room == "pool"
	}, 2*time.Second, 10*time.Millisecond)

	client.send("leaveRoom")
	require.Eventually(t, func() bool {
		sess, ok := reg.Get(client.key)
		return ok && sess.Room == "lobby"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHandlerMoveRelaysAndUpdates(t *testing.T) {
	h, reg := newTestHandler(t)
	peer, _ := addPeer(reg, "resident", "lobby", 7001)

	client := startSession(t, h)
	client.send("join alice f 3 4 1")
	require.Eventually(t, func() bool {
		_, ok := reg.Get(client.key)
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	client.send("move 8 9 2")
	require.Eventually(t, func() bool {
		return peer.contains("playerMoved alice 8 9 2")
	}, 2*time.Second, 10*time.Millisecond)

	sess, _ := reg.Get(client.key)
	require.Equal(t, 8, sess.X)
	require.Equal(t, 9, sess.Y)
	require.Equal(t, 2, sess.Dir)
}

func TestHandlerMoveDropsTrailingInput(t *testing.T) {
	h, reg := newTestHandler(t)
	peer, _ := addPeer(reg, "resident", "lobby", 7001)

	client := startSession(t, h)
	client.send("join alice f 3 4 1")
	require.Eventually(t, func() bool {
		_, ok := reg.Get(client.key)
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	client.send("move 8 9 2 trailing garbage")
	require.Eventually(t, func() bool {
		return peer.contains("playerMoved alice 8 9 2")
	}, 2*time.Second, 10*time.Millisecond)

	for _, line := range peer.recorded() {
		require.NotContains(t, line, "garbage")
	}
}

func TestHandlerChatRelaysToRoom(t *testing.T) {
	h, reg := newTestHandler(t)
	sameRoom, _ := addPeer(reg, "resident", "lobby", 7001)
	otherRoom, _ := addPeer(reg, "swimmer", "pool", 7002)

	client := startSession(t, h)
	client.send("join alice f 3 4 1")
	require.Eventually(t, func() bool {
		_, ok := reg.Get(client.key)
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	client.send("chat hello there")
	require.Eventually(t, func() bool {
		return sameRoom.contains("playerChat alice hello there")
	}, 2*time.Second, 10*time.Millisecond)
	require.Empty(t, otherRoom.recorded())

	client.send("chat")
	require.Contains(t, client.readLine(), "ERROR")
}

func TestHandlerDetailsForSharedRoomOnly(t *testing.T) {
	h, reg := newTestHandler(t)
	sameRoom, sameSess := addPeer(reg, "resident", "lobby", 7001)
	otherRoom, otherSess := addPeer(reg, "swimmer", "pool", 7002)

	client := startSession(t, h)
	client.send("join alice f 3 4 1")
	require.Eventually(t, func() bool {
		_, ok := reg.Get(client.key)
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	reply := fmt.Sprintf("detailsFor %s %d alice f 3 4 1", sameSess.Key.Addr, sameSess.Key.Port)
	client.send(reply)
	require.Eventually(t, func() bool {
		return sameRoom.contains(reply)
	}, 2*time.Second, 10*time.Millisecond)

	client.send(fmt.Sprintf("detailsFor %s %d alice f 3 4 1", otherSess.Key.Addr, otherSess.Key.Port))
	client.send("chat marker")
	require.Eventually(t, func() bool {
		return sameRoom.contains("playerChat alice marker")
	}, 2*time.Second, 10*time.Millisecond)
	for _, line := range otherRoom.recorded() {
		require.NotContains(t, line, "detailsFor")
	}
}

func TestHandlerUnknownCommand(t *testing.T) {
	h, _ := newTestHandler(t)

	client := startSession(t, h)
	client.send("teleport 1 2")
	require.Equal(t, "ERROR unknown command teleport", client.readLine())
}

func TestHandlerCommandsBeforeJoinIgnored(t *testing.T) {
	h, reg := newTestHandler(t)
	peer, _ := addPeer(reg, "resident", "lobby", 7001)

	client := startSession(t, h)
	client.send("move 1 2 3")
	client.send("chat hello")
	client.send("changeRoom pool")
	client.send("bye")
	require.NoError(t, <-client.done)

	require.Empty(t, peer.recorded())
	require.Equal(t, 1, reg.Count())
}
