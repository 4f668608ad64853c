package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Server accepts TCP connections and serves request lines on them, one
// goroutine per connection. Requests on one connection are handled in order.
type Server struct {
	config  Config
	handler Handler
	logger  *zap.Logger

	listener net.Listener
	running  int32 // atomic flag

	// Connection management
	connections   map[string]*Connection
	connectionsMu sync.RWMutex
	stopping      bool

	// Synchronization
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Statistics
	totalConnections    int64
	currentConnections  int64
	rejectedConnections int64
	totalRequests       int64
	failedRequests      int64
	startTime           time.Time
}

// NewServer creates a server that passes every request line to handler.
func NewServer(config Config, handler Handler, logger *zap.Logger) (*Server, error) {
	if handler == nil {
		return nil, ErrNilHandler
	}
	if config.Port < 0 || config.Port > 65535 {
		return nil, fmt.Errorf("invalid port number: %d", config.Port)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Server{
		config:      config,
		handler:     handler,
		logger:      logger.Named("ingress"),
		connections: make(map[string]*Connection),
	}, nil
}

// Start listens and begins accepting connections.
func (s *Server) Start() error {
	if !atomic.CompareAndSwapInt32(&s.running, 0, 1) {
		return ErrServerRunning
	}

	address := net.JoinHostPort(s.config.Address, strconv.Itoa(s.config.Port))
	listener, err := net.Listen("tcp", address)
	if err != nil {
		atomic.StoreInt32(&s.running, 0)
		return fmt.Errorf("failed to listen on %s: %w", address, err)
	}

	s.listener = listener
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.connectionsMu.Lock()
	s.stopping = false
	s.connectionsMu.Unlock()
	s.startTime = time.Now()

	s.wg.Add(1)
	go s.acceptLoop()

	s.logger.Info("TCP server started", zap.Stringer("addr", listener.Addr()))
	return nil
}

// Stop closes the listener and every connection, cancelling in-flight
// requests, then waits for the serving goroutines or ctx.
func (s *Server) Stop(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.running, 1, 0) {
		return nil
	}

	// connections close before handlers are cancelled so no reply follows
	s.connectionsMu.Lock()
	s.stopping = true
	for _, conn := range s.connections {
		_ = conn.Close()
	}
	s.connectionsMu.Unlock()

	s.cancel()
	_ = s.listener.Close()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("TCP server stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for connections: %w", ctx.Err())
	}
}

// Addr returns the listening address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// IsRunning reports whether the server is accepting connections.
func (s *Server) IsRunning() bool {
	return atomic.LoadInt32(&s.running) == 1
}

// ConnectionCount returns the number of active connections
func (s *Server) ConnectionCount() int {
	return int(atomic.LoadInt64(&s.currentConnections))
}

// Statistics returns server statistics
func (s *Server) Statistics() ServerStatistics {
	stats := ServerStatistics{
		Running:             s.IsRunning(),
		StartTime:           s.startTime,
		TotalConnections:    atomic.LoadInt64(&s.totalConnections),
		CurrentConnections:  atomic.LoadInt64(&s.currentConnections),
		RejectedConnections: atomic.LoadInt64(&s.rejectedConnections),
		TotalRequests:       atomic.LoadInt64(&s.totalRequests),
		FailedRequests:      atomic.LoadInt64(&s.failedRequests),
	}
	if addr := s.Addr(); addr != nil {
		stats.Address = addr.String()
	}
	if !s.startTime.IsZero() {
		stats.Uptime = time.Since(s.startTime)
	}
	return stats
}

// acceptLoop accepts incoming connections
func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("failed to accept connection", zap.Error(err))
			continue
		}

		if s.config.MaxConnections > 0 &&
			atomic.LoadInt64(&s.currentConnections) >= int64(s.config.MaxConnections) {
			atomic.AddInt64(&s.rejectedConnections, 1)
			s.logger.Warn("connection limit reached, rejecting connection",
				zap.Int("limit", s.config.MaxConnections),
				zap.Stringer("remote", conn.RemoteAddr()))
			_ = conn.Close()
			continue
		}

		connection := newConnection(conn, s.config)
		if !s.addConnection(connection) {
			_ = connection.Close()
			return
		}
		atomic.AddInt64(&s.totalConnections, 1)

		s.wg.Add(1)
		go s.handleConnection(connection)
	}
}

// handleConnection serves request lines until the client disconnects or
// the server stops.
func (s *Server) handleConnection(conn *Connection) {
	defer s.wg.Done()
	defer s.removeConnection(conn)

	logger := s.logger.With(zap.String("conn", conn.ID()), zap.Stringer("remote", conn.RemoteAddr()))
	logger.Debug("connection opened")
	defer logger.Debug("connection closed", zap.Int64("requests", conn.Requests()))

	for {
		line, err := conn.readLine()
		if err != nil {
			if s.ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
				logger.Debug("read failed", zap.Error(err))
			}
			return
		}
		atomic.AddInt64(&s.totalRequests, 1)

		result, err := s.handler.Handle(s.ctx, conn, line)
		if s.ctx.Err() != nil {
			return
		}
		if err != nil {
			atomic.AddInt64(&s.failedRequests, 1)
			err = conn.reply(ReplyError, err.Error())
		} else {
			err = conn.reply(ReplyOK, fmt.Sprint(result))
		}
		if err != nil {
			logger.Debug("write failed", zap.Error(err))
			return
		}
	}
}

// addConnection tracks conn, or reports false once the server is stopping.
func (s *Server) addConnection(conn *Connection) bool {
	s.connectionsMu.Lock()
	defer s.connectionsMu.Unlock()

	if s.stopping {
		return false
	}
	s.connections[conn.ID()] = conn
	atomic.AddInt64(&s.currentConnections, 1)
	return true
}

// removeConnection removes a connection from the server
func (s *Server) removeConnection(conn *Connection) {
	_ = conn.Close()

	s.connectionsMu.Lock()
	defer s.connectionsMu.Unlock()

	if _, exists := s.connections[conn.ID()]; exists {
		delete(s.connections, conn.ID())
		atomic.AddInt64(&s.currentConnections, -1)
	}
}
