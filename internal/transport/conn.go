// Package transport provides the line-oriented TCP layer shared by the game
// and admin listeners: a buffered connection wrapper and an acceptor that
// runs one handler goroutine per accepted connection.
package transport

import (
	"bufio"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Conn wraps a TCP connection with newline-delimited text framing.
// Reads happen only from the owning connection's goroutine; writes are
// serialized with a mutex because room broadcasts arrive from the
// goroutines of other connections.
type Conn struct {
	raw    net.Conn
	reader *bufio.Reader
	mu     sync.Mutex

	readTimeout  time.Duration
	writeTimeout time.Duration
}

// NewConn wraps a raw TCP connection with line framing.
//
// Precondition: raw must be a valid, open network connection.
// Postcondition: Returns a Conn ready for reading and writing.
func NewConn(raw net.Conn, readTimeout, writeTimeout time.Duration) *Conn {
	return &Conn{
		raw:          raw,
		reader:       bufio.NewReaderSize(raw, 4096),
		readTimeout:  readTimeout,
		writeTimeout: writeTimeout,
	}
}

// ReadLine reads a single command line. The returned line does not include
// the trailing newline; a trailing carriage return is stripped as well so
// both \n and \r\n clients are accepted.
//
// Postcondition: Returns the next line of text input, or an error (including io.EOF).
func (c *Conn) ReadLine() (string, error) {
	if c.readTimeout > 0 {
		_ = c.raw.SetReadDeadline(time.Now().Add(c.readTimeout))
	}

	line, err := c.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	line = strings.TrimRight(line, "\r\n")
	return line, nil
}

// WriteLine sends a line of text followed by a newline to the client.
// Safe for concurrent use.
//
// Precondition: text should not contain newline characters.
// Postcondition: text + \n is written to the connection.
func (c *Conn) WriteLine(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.writeTimeout > 0 {
		_ = c.raw.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	_, err := fmt.Fprintf(c.raw, "%s\n", text)
	return err
}

// SendLine delivers a server-initiated line to the client. It is the method
// the session registry uses for broadcast fan-out.
func (c *Conn) SendLine(text string) error {
	return c.WriteLine(text)
}

// Close closes the underlying TCP connection, unblocking any pending read.
//
// Postcondition: The connection is closed and no longer usable.
func (c *Conn) Close() error {
	return c.raw.Close()
}

// RemoteAddr returns the remote network address of the client.
func (c *Conn) RemoteAddr() net.Addr {
	return c.raw.RemoteAddr()
}

// RemoteHostPort splits the remote address into host and numeric port.
//
// Postcondition: Returns (host, port, nil), or an error when the remote
// address is not in host:port form.
func (c *Conn) RemoteHostPort() (string, int, error) {
	host, portStr, err := net.SplitHostPort(c.raw.RemoteAddr().String())
	if err != nil {
		return "", 0, fmt.Errorf("splitting remote address %q: %w", c.raw.RemoteAddr(), err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("parsing remote port %q: %w", portStr, err)
	}
	return host, port, nil
}
