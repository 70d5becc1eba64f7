// Package cstream provides a buffered byte-stream over TCP that can be
// cancelled from any goroutine without racing an in-progress read or
// write, matching the specification's "cancellable byte-stream" component.
//
// The teacher's async model (cancellable_streambuf in original_source) uses
// a private single-threaded event loop and a mutex to guard the interval
// "the loop is running" so a foreign-thread cancel() can never race a
// handler's own close. Go's net.Conn already provides that guarantee at the
// runtime netpoll layer: SetDeadline/SetReadDeadline/SetWriteDeadline are
// safe to call concurrently with an in-progress Read/Write on the same
// connection and reliably unblock it. Cancel() here is simply "set a
// deadline in the past, then close", wrapped in a sync.Once so repeated
// Cancel() calls are idempotent and the second call never touches an
// already-closed fd.
package cstream

import (
	"bufio"
	"net"
	"sync"
	"time"
)

const (
	bufSize     = 16 * 1024
	putbackSize = 8
)

// Conn wraps a net.Conn with buffered reads/writes and a reliable
// cross-goroutine Cancel. Once cancelled, the stream is permanently
// unusable, matching the spec's lifecycle.
type Conn struct {
	conn net.Conn
	r    *bufio.Reader
	w    *bufio.Writer

	once      sync.Once
	cancelled bool
	mu        sync.Mutex
}

// New wraps conn with put/get buffering sized close to the teacher's 16KiB
// rings, with a small putback reserve realized via bufio.Reader.Peek.
func New(conn net.Conn) *Conn {
	return &Conn{
		conn: conn,
		r:    bufio.NewReaderSize(conn, bufSize),
		w:    bufio.NewWriterSize(conn, bufSize),
	}
}

// Cancel aborts any in-progress or future Read/Write and closes the
// underlying socket. Safe to call from any goroutine, any number of times;
// only the first call has an effect.
func (c *Conn) Cancel() {
	c.once.Do(func() {
		c.mu.Lock()
		c.cancelled = true
		c.mu.Unlock()

		// Unblock anything currently parked in a Read/Write first...
		_ = c.conn.SetDeadline(time.Unix(0, 1))
		// ...then close so no further operation can even start.
		_ = c.conn.Close()
	})
}

// Cancelled reports whether Cancel has been called.
func (c *Conn) Cancelled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelled
}

// ReadLine reads a CRLF- or LF-terminated line, trimming the terminator,
// using the putback-capable buffered reader (ReadString retains any bytes
// read past the delimiter for the next call, matching the streambuf's
// putback reserve).
func (c *Conn) ReadLine() (string, error) {
	line, err := c.r.ReadString('\n')
	if err != nil {
		return "", err
	}
	for len(line) > 0 && (line[len(line)-1] == '\n' || line[len(line)-1] == '\r') {
		line = line[:len(line)-1]
	}
	return line, nil
}

// Read satisfies io.Reader by delegating to the buffered reader.
func (c *Conn) Read(p []byte) (int, error) { return c.r.Read(p) }

// Write satisfies io.Writer by delegating to the buffered writer; call
// Flush to push buffered bytes to the wire.
func (c *Conn) Write(p []byte) (int, error) { return c.w.Write(p) }

// Flush pushes any buffered output to the underlying connection.
func (c *Conn) Flush() error { return c.w.Flush() }

// Peek exposes the putback-style lookahead the original streambuf offered
// via showmanyc/putback.
func (c *Conn) Peek(n int) ([]byte, error) { return c.r.Peek(n) }

// SetDeadline forwards to the underlying connection for keep-alive style
// read timeouts unrelated to cancellation.
func (c *Conn) SetDeadline(t time.Time) error { return c.conn.SetDeadline(t) }

// RemoteAddr exposes the peer address for logging.
func (c *Conn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// Raw exposes the underlying net.Conn for code that must hand the socket
// off to another path (e.g. the sync transfer fan-out).
func (c *Conn) Raw() net.Conn { return c.conn }
