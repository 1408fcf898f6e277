package transport

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/atrium/internal/config"
)

// echoHandler is a test SessionHandler that echoes lines back to the client.
type echoHandler struct {
	sessionCount atomic.Int32
}

func (h *echoHandler) HandleSession(_ context.Context, conn *Conn) error {
	h.sessionCount.Add(1)
	for {
		line, err := conn.ReadLine()
		if err != nil {
			return err
		}
		if line == "bye" {
			_ = conn.WriteLine("goodbye")
			return nil
		}
		_ = conn.WriteLine("echo: " + line)
	}
}

func startAcceptor(t *testing.T, handler SessionHandler) *Acceptor {
	t.Helper()
	logger := zaptest.NewLogger(t)
	cfg := config.ListenerConfig{
		Host:         "127.0.0.1",
		Port:         0, // random port
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	acc := NewAcceptor("test", cfg, handler, logger)
	go func() {
		_ = acc.ListenAndServe()
	}()
	t.Cleanup(acc.Stop)

	deadline := time.After(2 * time.Second)
	for {
		if acc.IsRunning() && acc.Addr() != "" {
			return acc
		}
		select {
		case <-deadline:
			t.Fatal("acceptor did not start in time")
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
}

func TestAcceptor_EchoSession(t *testing.T) {
	handler := &echoHandler{}
	acc := startAcceptor(t, handler)

	conn, err := net.DialTimeout("tcp", acc.Addr(), 2*time.Second)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("hello\n"))
	require.NoError(t, err)

	buf := make([]byte, 256)
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := conn.Read(buf)
	require.NoError(t, err)
	assert.Contains(t, string(buf[:n]), "echo: hello")

	_, err = conn.Write([]byte("bye\n"))
	require.NoError(t, err)
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err = conn.Read(buf)
	require.NoError(t, err)
	assert.Contains(t, string(buf[:n]), "goodbye")

	assert.Equal(t, int32(1), handler.sessionCount.Load())
}

func TestAcceptor_MultipleClients(t *testing.T) {
	handler := &echoHandler{}
	acc := startAcceptor(t, handler)

	const clients = 5
	for i := 0; i < clients; i++ {
		conn, err := net.DialTimeout("tcp", acc.Addr(), 2*time.Second)
		require.NoError(t, err)
		_, err = conn.Write([]byte("ping\n"))
		require.NoError(t, err)

		buf := make([]byte, 64)
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		n, err := conn.Read(buf)
		require.NoError(t, err)
		assert.Contains(t, string(buf[:n]), "echo: ping")
		conn.Close()
	}

	assert.Eventually(t, func() bool {
		return handler.sessionCount.Load() == clients
	}, 2*time.Second, 20*time.Millisecond)
}

func TestAcceptor_StopClosesListener(t *testing.T) {
	acc := startAcceptor(t, &echoHandler{})
	addr := acc.Addr()

	acc.Stop()
	assert.False(t, acc.IsRunning())

	_, err := net.DialTimeout("tcp", addr, 500*time.Millisecond)
	assert.Error(t, err)
}

func TestAcceptor_StopIdempotent(t *testing.T) {
	acc := startAcceptor(t, &echoHandler{})
	acc.Stop()
	acc.Stop()
	assert.False(t, acc.IsRunning())
}
