// Package network provides the line-oriented TCP ingress: each request line
// read from a connection is handed to a Handler and its result written back
// as one reply line.
package network

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrServerRunning = errors.New("server is already running")
	ErrServerStopped = errors.New("server is not running")
	ErrNilHandler    = errors.New("handler is nil")
)

// ConnectionState represents the state of a network connection
type ConnectionState int32

const (
	ConnectionStateConnected ConnectionState = iota
	ConnectionStateClosed
)

// String returns the string representation of ConnectionState
func (cs ConnectionState) String() string {
	switch cs {
	case ConnectionStateConnected:
		return "connected"
	case ConnectionStateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Handler processes one request line. The returned value is written back
// to the client; an error is reported to the client and the connection
// stays open.
type Handler interface {
	Handle(ctx context.Context, conn *Connection, line string) (any, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, conn *Connection, line string) (any, error)

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, conn *Connection, line string) (any, error) {
	return f(ctx, conn, line)
}

// Reply prefixes.
const (
	ReplyOK    = "OK"
	ReplyError = "ERR"
)

// Config holds the server settings.
type Config struct {
	Address string
	Port    int

	// MaxConnections limits concurrent connections, 0 for no limit
	MaxConnections int

	// MaxLineSize bounds a request line in bytes
	MaxLineSize int

	// Idle read deadline and per-reply write deadline, 0 for none
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns the default server settings.
func DefaultConfig() Config {
	return Config{
		Address:        "127.0.0.1",
		Port:           7070,
		MaxConnections: 64,
		MaxLineSize:    64 * 1024,
		ReadTimeout:    5 * time.Minute,
		WriteTimeout:   10 * time.Second,
	}
}

// ServerStatistics holds statistics for a server
type ServerStatistics struct {
	Address             string        `json:"address"`
	Running             bool          `json:"running"`
	StartTime           time.Time     `json:"start_time"`
	Uptime              time.Duration `json:"uptime"`
	TotalConnections    int64         `json:"total_connections"`
	CurrentConnections  int64         `json:"current_connections"`
	RejectedConnections int64         `json:"rejected_connections"`
	TotalRequests       int64         `json:"total_requests"`
	FailedRequests      int64         `json:"failed_requests"`
}

// String returns the string representation of server statistics
func (ss ServerStatistics) String() string {
	return fmt.Sprintf("Server[%s] Running=%t Uptime=%s Connections=%d/%d Requests=%d Failed=%d",
		ss.Address, ss.Running, ss.Uptime.Truncate(time.Second),
		ss.CurrentConnections, ss.TotalConnections, ss.TotalRequests, ss.FailedRequests)
}
