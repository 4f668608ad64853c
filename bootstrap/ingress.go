package bootstrap

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/najoast/conductor/config"
	"github.com/najoast/conductor/network"
)

// Submitter runs one input through a workflow.
type Submitter interface {
	Submit(ctx context.Context, input any) (Result, error)
}

// IngressService accepts workflow requests over TCP, one request per line.
// Replies are "OK <output>" or "ERR <reason>".
type IngressService struct {
	server *network.Server
}

// NewIngressService creates the TCP ingress. Each request line runs through
// submitter with cfg.RequestTimeout as its deadline.
func NewIngressService(cfg config.IngressConfig, submitter Submitter, logger *zap.Logger) (*IngressService, error) {
	timeout := cfg.RequestTimeout
	handler := network.HandlerFunc(func(ctx context.Context, conn *network.Connection, line string) (any, error) {
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		result, err := submitter.Submit(ctx, line)
		if err != nil {
			return nil, err
		}
		return result.Output, nil
	})

	server, err := network.NewServer(network.Config{
		Address:        cfg.Address,
		Port:           cfg.Port,
		MaxConnections: cfg.MaxConnections,
		MaxLineSize:    cfg.MaxLineSize,
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
	}, handler, logger)
	if err != nil {
		return nil, err
	}
	return &IngressService{server: server}, nil
}

func (s *IngressService) Name() string {
	return "ingress"
}

func (s *IngressService) Start(ctx context.Context) error {
	return s.server.Start()
}

func (s *IngressService) Stop(ctx context.Context) error {
	return s.server.Stop(ctx)
}

func (s *IngressService) Health(ctx context.Context) (HealthStatus, error) {
	stats := s.server.Statistics()
	if !stats.Running {
		return HealthStatus{State: HealthStopped, Message: "ingress stopped"}, nil
	}
	return HealthStatus{
		State:   HealthHealthy,
		Message: "serving",
		Data: map[string]any{
			"addr":        stats.Address,
			"connections": stats.CurrentConnections,
			"requests":    stats.TotalRequests,
			"failed":      stats.FailedRequests,
			"uptime":      stats.Uptime.Truncate(time.Second).String(),
		},
	}, nil
}

// Addr returns the listening address, or "" before Start.
func (s *IngressService) Addr() string {
	if addr := s.server.Addr(); addr != nil {
		return addr.String()
	}
	return ""
}
