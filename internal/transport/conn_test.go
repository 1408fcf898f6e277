package transport

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pipeConns(t *testing.T) (*Conn, net.Conn) {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() {
		server.Close()
		client.Close()
	})
	return NewConn(server, 0, 0), client
}

func TestConn_ReadLine(t *testing.T) {
	conn, client := pipeConns(t)

	go func() {
		_, _ = client.Write([]byte("join Alice f 3 4 2\n"))
	}()

	line, err := conn.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "join Alice f 3 4 2", line)
}

func TestConn_ReadLine_CRLF(t *testing.T) {
	conn, client := pipeConns(t)

	go func() {
		_, _ = client.Write([]byte("chat hello there\r\n"))
	}()

	line, err := conn.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "chat hello there", line)
}

func TestConn_ReadLine_ClosedPeer(t *testing.T) {
	conn, client := pipeConns(t)
	client.Close()

	_, err := conn.ReadLine()
	assert.Error(t, err)
}

func TestConn_WriteLine(t *testing.T) {
	conn, client := pipeConns(t)

	done := make(chan string, 1)
	go func() {
		buf := make([]byte, 64)
		n, _ := client.Read(buf)
		done <- string(buf[:n])
	}()

	require.NoError(t, conn.WriteLine("playerChat Alice hello"))
	assert.Equal(t, "playerChat Alice hello\n", <-done)
}

func TestConn_ConcurrentWrites(t *testing.T) {
	conn, client := pipeConns(t)

	// Drain everything the writers produce.
	var received int
	done := make(chan struct{})
	go func() {
		defer close(done)
		buf := make([]byte, 4096)
		for {
			_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
			n, err := client.Read(buf)
			for _, b := range buf[:n] {
				if b == '\n' {
					received++
				}
			}
			if err != nil || received >= 50 {
				return
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = conn.WriteLine("broadcast line")
		}()
	}
	wg.Wait()

	<-done
	assert.Equal(t, 50, received)
}

func TestConn_RemoteHostPort(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		c, err := net.Dial("tcp", ln.Addr().String())
		if err == nil {
			defer c.Close()
			time.Sleep(100 * time.Millisecond)
		}
	}()

	raw, err := ln.Accept()
	require.NoError(t, err)
	defer raw.Close()

	conn := NewConn(raw, 0, 0)
	host, port, err := conn.RemoteHostPort()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", host)
	assert.Greater(t, port, 0)
}
