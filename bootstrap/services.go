package bootstrap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/najoast/conductor/config"
	"github.com/najoast/conductor/core"
)

// RuntimeService owns the actor system. Actors run from the moment they are
// spawned; stopping the service shuts the system down.
type RuntimeService struct {
	system *core.System

	mu      sync.RWMutex
	running bool
}

// NewRuntimeService wraps system as a managed service
func NewRuntimeService(system *core.System) *RuntimeService {
	return &RuntimeService{system: system}
}

func (s *RuntimeService) Name() string {
	return "runtime"
}

func (s *RuntimeService) Start(ctx context.Context) error {
	s.mu.Lock()
	s.running = true
	s.mu.Unlock()
	return nil
}

func (s *RuntimeService) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	return s.system.Shutdown(ctx)
}

func (s *RuntimeService) Health(ctx context.Context) (HealthStatus, error) {
	s.mu.RLock()
	running := s.running
	s.mu.RUnlock()

	if !running {
		return HealthStatus{State: HealthStopped, Message: "actor system stopped"}, nil
	}

	stats := s.system.Stats()
	var queued int
	for _, st := range stats {
		queued += st.MailboxSize
	}
	return HealthStatus{
		State:   HealthHealthy,
		Message: "actor system running",
		Data:    map[string]any{"actors": len(stats), "queued_messages": queued},
	}, nil
}

// MetricsService serves Prometheus metrics and service health over HTTP
type MetricsService struct {
	cfg      config.HTTPMonitorConfig
	gatherer prometheus.Gatherer
	health   func(ctx context.Context) (map[string]HealthStatus, error)
	logger   *zap.Logger

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	serveErr chan error
}

// NewMetricsService creates the monitoring server. health may be nil.
func NewMetricsService(cfg config.HTTPMonitorConfig, gatherer prometheus.Gatherer,
	health func(ctx context.Context) (map[string]HealthStatus, error), logger *zap.Logger) *MetricsService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MetricsService{
		cfg:      cfg,
		gatherer: gatherer,
		health:   health,
		logger:   logger.Named("metrics"),
	}
}

func (s *MetricsService) Name() string {
	return "metrics"
}

func (s *MetricsService) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Address, strconv.Itoa(s.cfg.Port))

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle(s.cfg.MetricsPath, promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	if s.health != nil && s.cfg.HealthPath != "" {
		mux.HandleFunc(s.cfg.HealthPath, s.serveHealth)
	}

	server := &http.Server{Handler: mux}
	serveErr := make(chan error, 1)
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server failed", zap.Error(err))
			serveErr <- err
		}
		close(serveErr)
	}()

	s.mu.Lock()
	s.server = server
	s.listener = ln
	s.serveErr = serveErr
	s.mu.Unlock()

	s.logger.Info("metrics server listening", zap.String("addr", ln.Addr().String()))
	return nil
}

func (s *MetricsService) Stop(ctx context.Context) error {
	s.mu.Lock()
	server := s.server
	s.server = nil
	s.mu.Unlock()

	if server == nil {
		return nil
	}
	return server.Shutdown(ctx)
}

func (s *MetricsService) Health(ctx context.Context) (HealthStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server == nil {
		return HealthStatus{State: HealthStopped, Message: "metrics server stopped"}, nil
	}
	select {
	case err, ok := <-s.serveErr:
		if ok {
			return HealthStatus{State: HealthUnhealthy, Message: err.Error()}, nil
		}
		return HealthStatus{State: HealthUnhealthy, Message: "metrics server exited"}, nil
	default:
	}
	return HealthStatus{
		State:   HealthHealthy,
		Message: "serving",
		Data:    map[string]any{"addr": s.listener.Addr().String()},
	}, nil
}

// Addr returns the address the server listens on, or "" before Start.
func (s *MetricsService) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *MetricsService) serveHealth(w http.ResponseWriter, r *http.Request) {
	health, err := s.health(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	code := http.StatusOK
	for _, status := range health {
		if status.State == HealthUnhealthy {
			code = http.StatusServiceUnavailable
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(health); err != nil {
		s.logger.Debug("write health response", zap.Error(err))
	}
}

// ConfigWatcherService follows configuration changes from a provider
type ConfigWatcherService struct {
	provider config.Provider
	onChange config.ConfigChangeCallback
	logger   *zap.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	reloads int
}

// NewConfigWatcherService calls onChange for every reloaded configuration
func NewConfigWatcherService(provider config.Provider, onChange config.ConfigChangeCallback, logger *zap.Logger) *ConfigWatcherService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConfigWatcherService{
		provider: provider,
		onChange: onChange,
		logger:   logger.Named("config-watcher"),
	}
}

func (s *ConfigWatcherService) Name() string {
	return "config-watcher"
}

func (s *ConfigWatcherService) Start(ctx context.Context) error {
	// the watch outlives the start timeout
	watchCtx, cancel := context.WithCancel(context.Background())

	err := s.provider.Watch(watchCtx, func(oldConfig, newConfig *config.Config) {
		s.mu.Lock()
		s.reloads++
		s.mu.Unlock()
		s.onChange(oldConfig, newConfig)
	})
	if err != nil {
		cancel()
		return err
	}

	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
	return nil
}

func (s *ConfigWatcherService) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return s.provider.Close()
}

func (s *ConfigWatcherService) Health(ctx context.Context) (HealthStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return HealthStatus{State: HealthStopped}, nil
	}
	return HealthStatus{
		State: HealthHealthy,
		Data:  map[string]any{"reloads": s.reloads},
	}, nil
}
