package network

import (
	"bufio"
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Port = 0
	return cfg
}

func startServer(t *testing.T, cfg Config, h Handler) *Server {
	t.Helper()
	s, err := NewServer(cfg, h, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, s.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Stop(ctx)
	})
	return s
}

type client struct {
	conn   net.Conn
	reader *bufio.Reader
}

func dial(t *testing.T, s *Server) *client {
	t.Helper()
	conn, err := net.DialTimeout("tcp", s.Addr().String(), time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return &client{conn: conn, reader: bufio.NewReader(conn)}
}

func (c *client) request(t *testing.T, line string) string {
	t.Helper()
	_, err := c.conn.Write([]byte(line + "\n"))
	require.NoError(t, err)
	require.NoError(t, c.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	reply, err := c.reader.ReadString('\n')
	require.NoError(t, err)
	return strings.TrimSuffix(reply, "\n")
}

var upper = HandlerFunc(func(_ context.Context, _ *Connection, line string) (any, error) {
	if line == "boom" {
		return nil, errors.New("processor failed\nbadly")
	}
	return strings.ToUpper(line), nil
})

func TestServerRequestReply(t *testing.T) {
	s := startServer(t, testConfig(), upper)
	c := dial(t, s)

	assert.Equal(t, "OK HELLO", c.request(t, "hello"))
	assert.Equal(t, "OK CRLF", c.request(t, "crlf\r"))
	assert.Equal(t, `ERR processor failed\nbadly`, c.request(t, "boom"))
	// the connection survives a failed request
	assert.Equal(t, "OK AGAIN", c.request(t, "again"))

	stats := s.Statistics()
	assert.True(t, stats.Running)
	assert.Equal(t, int64(4), stats.TotalRequests)
	assert.Equal(t, int64(1), stats.FailedRequests)
	assert.Equal(t, int64(1), stats.TotalConnections)
}

func TestServerConcurrentConnections(t *testing.T) {
	s := startServer(t, testConfig(), upper)

	clients := make([]*client, 5)
	for i := range clients {
		clients[i] = dial(t, s)
	}
	for i, c := range clients {
		msg := strings.Repeat("x", i+1)
		assert.Equal(t, "OK "+strings.ToUpper(msg), c.request(t, msg))
	}
	assert.Equal(t, 5, s.ConnectionCount())
}

func TestServerConnectionLimit(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConnections = 1
	s := startServer(t, cfg, upper)

	first := dial(t, s)
	assert.Equal(t, "OK A", first.request(t, "a"))

	second := dial(t, s)
	require.NoError(t, second.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err := second.reader.ReadString('\n')
	assert.Error(t, err, "connection over the limit should be closed")

	require.Eventually(t, func() bool {
		return s.Statistics().RejectedConnections == 1
	}, time.Second, 10*time.Millisecond)
}

func TestServerStopClosesConnections(t *testing.T) {
	release := make(chan struct{})
	blocking := HandlerFunc(func(ctx context.Context, _ *Connection, line string) (any, error) {
		select {
		case <-release:
			return line, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	defer close(release)

	s, err := NewServer(testConfig(), blocking, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, s.Start())

	c := dial(t, s)
	_, err = c.conn.Write([]byte("wait\n"))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return s.Statistics().TotalRequests == 1
	}, time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	assert.False(t, s.IsRunning())
	assert.Equal(t, 0, s.ConnectionCount())

	// the cancelled request gets no reply, only the closed connection
	require.NoError(t, c.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	reply, err := c.reader.ReadString('\n')
	require.Error(t, err)
	assert.Empty(t, reply)
	var netErr net.Error
	if errors.As(err, &netErr) {
		assert.False(t, netErr.Timeout(), "connection was left open")
	}

	// stopping twice is a no-op
	assert.NoError(t, s.Stop(ctx))
}

func TestServerStopSendsNoRepliesToBlockedRequests(t *testing.T) {
	blocking := HandlerFunc(func(ctx context.Context, _ *Connection, _ string) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	for i := 0; i < 20; i++ {
		s, err := NewServer(testConfig(), blocking, zaptest.NewLogger(t))
		require.NoError(t, err)
		require.NoError(t, s.Start())

		clients := make([]*client, 3)
		for j := range clients {
			clients[j] = dial(t, s)
			_, err := clients[j].conn.Write([]byte("wait\n"))
			require.NoError(t, err)
		}
		require.Eventually(t, func() bool {
			return s.Statistics().TotalRequests == int64(len(clients))
		}, time.Second, 5*time.Millisecond)

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		require.NoError(t, s.Stop(ctx))
		cancel()

		for _, c := range clients {
			require.NoError(t, c.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
			reply, err := c.reader.ReadString('\n')
			assert.Error(t, err)
			assert.Empty(t, reply)
		}
	}
}

func TestServerStartTwice(t *testing.T) {
	s := startServer(t, testConfig(), upper)
	assert.ErrorIs(t, s.Start(), ErrServerRunning)
}

func TestNewServerValidation(t *testing.T) {
	_, err := NewServer(testConfig(), nil, nil)
	assert.ErrorIs(t, err, ErrNilHandler)

	cfg := testConfig()
	cfg.Port = 70000
	_, err = NewServer(cfg, upper, nil)
	assert.Error(t, err)
}

func TestServerLineTooLong(t *testing.T) {
	cfg := testConfig()
	cfg.MaxLineSize = 16
	s := startServer(t, cfg, upper)
	c := dial(t, s)

	_, err := c.conn.Write([]byte(strings.Repeat("y", 64) + "\n"))
	require.NoError(t, err)
	require.NoError(t, c.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err = c.reader.ReadString('\n')
	assert.Error(t, err, "an oversized line closes the connection")
}
