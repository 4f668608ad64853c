package network

import (
	"bufio"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// connectionIDCounter generates unique connection IDs
var connectionIDCounter int64

// Connection is one accepted client connection.
type Connection struct {
	id           string
	conn         net.Conn
	reader       *bufio.Scanner
	readTimeout  time.Duration
	writeTimeout time.Duration

	state        int32 // ConnectionState
	lastActivity int64 // UnixNano
	createdAt    time.Time

	// writes come from the serving goroutine and Close
	writeMu sync.Mutex

	requests int64
}

func newConnection(conn net.Conn, cfg Config) *Connection {
	scanner := bufio.NewScanner(conn)
	size := cfg.MaxLineSize
	if size <= 0 {
		size = bufio.MaxScanTokenSize
	}
	scanner.Buffer(make([]byte, 0, min(size, 4096)), size)

	return &Connection{
		id:           fmt.Sprintf("tcp-%d", atomic.AddInt64(&connectionIDCounter, 1)),
		conn:         conn,
		reader:       scanner,
		readTimeout:  cfg.ReadTimeout,
		writeTimeout: cfg.WriteTimeout,
		lastActivity: time.Now().UnixNano(),
		createdAt:    time.Now(),
	}
}

// ID returns the connection ID
func (c *Connection) ID() string {
	return c.id
}

// RemoteAddr returns the remote address
func (c *Connection) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// State returns the current connection state
func (c *Connection) State() ConnectionState {
	return ConnectionState(atomic.LoadInt32(&c.state))
}

// LastActivity returns when the last request arrived.
func (c *Connection) LastActivity() time.Time {
	return time.Unix(0, atomic.LoadInt64(&c.lastActivity))
}

// Requests returns the number of request lines read.
func (c *Connection) Requests() int64 {
	return atomic.LoadInt64(&c.requests)
}

// Close closes the connection. Closing twice is a no-op.
func (c *Connection) Close() error {
	if !atomic.CompareAndSwapInt32(&c.state, int32(ConnectionStateConnected), int32(ConnectionStateClosed)) {
		return nil
	}
	return c.conn.Close()
}

// readLine blocks for the next request line. Carriage returns are stripped.
func (c *Connection) readLine() (string, error) {
	if c.readTimeout > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.readTimeout))
	}
	if !c.reader.Scan() {
		if err := c.reader.Err(); err != nil {
			return "", err
		}
		return "", net.ErrClosed
	}

	atomic.AddInt64(&c.requests, 1)
	atomic.StoreInt64(&c.lastActivity, time.Now().UnixNano())
	return strings.TrimSuffix(c.reader.Text(), "\r"), nil
}

// reply writes one "<prefix> <text>" line. Embedded newlines are escaped so
// every reply stays a single line.
func (c *Connection) reply(prefix, text string) error {
	text = strings.NewReplacer("\r", `\r`, "\n", `\n`).Replace(text)

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	_, err := fmt.Fprintf(c.conn, "%s %s\n", prefix, text)
	return err
}
