package testutil

import (
	"bufio"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"
)

// LineClient is a newline-delimited text protocol client for integration
// testing against the game and admin listeners.
type LineClient struct {
	conn   net.Conn
	reader *bufio.Reader
	t      *testing.T
}

// NewLineClient dials the given address and returns a test client.
//
// Precondition: addr must be a valid "host:port" string with a listening server.
// Postcondition: Returns a connected LineClient or fails the test.
func NewLineClient(t *testing.T, addr string) *LineClient {
	t.Helper()
	start := time.Now()

	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		t.Fatalf("connecting to %s: %v [%s]", addr, err, time.Since(start))
	}

	t.Cleanup(func() {
		conn.Close()
	})

	client := &LineClient{
		conn:   conn,
		reader: bufio.NewReader(conn),
		t:      t,
	}

	t.Logf("line client connected to %s [%s]", addr, time.Since(start))
	return client
}

// Send writes one protocol line to the server, appending \n.
//
// Precondition: text should not contain trailing newline characters.
// Postcondition: text + \n is written to the connection.
func (c *LineClient) Send(text string) {
	c.t.Helper()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	_, err := fmt.Fprintf(c.conn, "%s\n", text)
	if err != nil {
		c.t.Fatalf("sending %q: %v", text, err)
	}
}

// ReadLine reads one protocol line, stripping the trailing newline.
//
// Postcondition: Returns the line without line terminators, or fails on
// timeout.
func (c *LineClient) ReadLine(timeout time.Duration) string {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(timeout))

	line, err := c.reader.ReadString('\n')
	if err != nil {
		c.t.Fatalf("reading line: got %q, error: %v", line, err)
	}
	return strings.TrimRight(line, "\r\n")
}

// ReadUntil reads lines until one equals the expected line or timeout
// occurs. It returns every line read, including the match.
//
// Precondition: expected must be non-empty.
// Postcondition: Returns the accumulated lines ending with expected, or
// fails on timeout.
func (c *LineClient) ReadUntil(expected string, timeout time.Duration) []string {
	c.t.Helper()
	deadline := time.Now().Add(timeout)

	var lines []string
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			c.t.Fatalf("reading until %q: got %v, deadline exceeded", expected, lines)
		}
		lines = append(lines, c.ReadLine(remaining))
		if lines[len(lines)-1] == expected {
			return lines
		}
	}
}

// Close closes the underlying connection.
func (c *LineClient) Close() {
	c.conn.Close()
}
