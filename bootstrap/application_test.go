package bootstrap

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sync/errgroup"

	"github.com/najoast/conductor/agent"
	"github.com/najoast/conductor/config"
	"github.com/najoast/conductor/core"
	"github.com/najoast/conductor/logging"
)

func newTestApp(t *testing.T, cfg *config.Config, opts ...Option) *Application {
	t.Helper()
	opts = append([]Option{WithLogger(zaptest.NewLogger(t))}, opts...)
	app, err := New(cfg, opts...)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, app.Start(ctx))

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = app.Shutdown(ctx)
	})
	return app
}

func submit(t *testing.T, app *Application, input any) (Result, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return app.Submit(ctx, input)
}

func workflowConfig(steps []string, agents ...config.AgentConfig) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Workflow.Steps = steps
	cfg.Workflow.Agents = agents
	return cfg
}

func TestSubmitDefaultWorkflow(t *testing.T) {
	app := newTestApp(t, nil)

	result, err := submit(t, app, "  hello world \n")
	require.NoError(t, err)

	assert.Equal(t, "HELLO WORLD", result.Output)
	assert.NotEmpty(t, result.RunID)
	require.Len(t, result.Steps, 2)
	assert.Equal(t, Step{Index: 0, Agent: "trim", Input: "  hello world \n"}, result.Steps[0])
	assert.Equal(t, Step{Index: 1, Agent: "upper", Input: "hello world"}, result.Steps[1])

	// the run's orchestrator and agents are gone
	require.Eventually(t, func() bool { return len(app.System().Stats()) == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestSubmitThreeStepWorkflow(t *testing.T) {
	app := newTestApp(t, workflowConfig([]string{"A", "B", "C"},
		config.AgentConfig{Name: "A", Processor: "trim"},
		config.AgentConfig{Name: "B", Processor: "reverse"},
		config.AgentConfig{Name: "C", Processor: "upper"},
	))

	result, err := submit(t, app, " abc ")
	require.NoError(t, err)
	assert.Equal(t, "CBA", result.Output)

	agents := make([]string, len(result.Steps))
	for i, s := range result.Steps {
		agents[i] = s.Agent
	}
	assert.Equal(t, []string{"A", "B", "C"}, agents)
}

func TestSubmitAgentFailure(t *testing.T) {
	cfg := workflowConfig([]string{"first", "broken"},
		config.AgentConfig{Name: "first", Processor: "echo"},
		config.AgentConfig{Name: "broken", Processor: "fail"},
	)
	app := newTestApp(t, cfg)

	result, err := submit(t, app, "x")
	require.Error(t, err)
	assert.ErrorIs(t, err, agent.ErrProcessorFailed)

	var runErr *RunError
	require.True(t, errors.As(err, &runErr))
	assert.Equal(t, "broken", runErr.Agent)
	assert.Equal(t, result.RunID, runErr.RunID)

	var failure *core.ActorFailure
	assert.True(t, errors.As(err, &failure))
	assert.Len(t, result.Steps, 2)

	// later runs are independent
	cfg2 := workflowConfig([]string{"first"}, config.AgentConfig{Name: "first", Processor: "echo"})
	ok := newTestApp(t, cfg2)
	result, err = submit(t, ok, "y")
	require.NoError(t, err)
	assert.Equal(t, "y", result.Output)
}

func TestSubmitConcurrentRuns(t *testing.T) {
	app := newTestApp(t, workflowConfig([]string{"rev"}, config.AgentConfig{Name: "rev", Processor: "reverse"}))

	var g errgroup.Group
	for i := 0; i < 20; i++ {
		i := i
		g.Go(func() error {
			in := fmt.Sprintf("run-%02d", i)
			result, err := submit(t, app, in)
			if err != nil {
				return err
			}
			want := []rune(in)
			for l, r := 0, len(want)-1; l < r; l, r = l+1, r-1 {
				want[l], want[r] = want[r], want[l]
			}
			if result.Output != string(want) {
				return fmt.Errorf("run %d: got %v, want %s", i, result.Output, string(want))
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
}

func TestSubmitHonorsContext(t *testing.T) {
	catalog := agent.NewCatalog()
	catalog.Add("slow", agent.ProcessorFunc(func(ctx context.Context, msg *core.Message) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}))
	cfg := workflowConfig([]string{"slow"}, config.AgentConfig{Name: "slow", Processor: "slow"})
	cfg.Actor.ProcessTimeout = 200 * time.Millisecond
	app := newTestApp(t, cfg, WithCatalog(catalog))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := app.Submit(ctx, "x")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewRejectsBadConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Workflow.Steps = nil
	_, err := New(cfg)
	assert.ErrorIs(t, err, config.ErrEmptyWorkflow)

	_, err = New(workflowConfig([]string{"x"}, config.AgentConfig{Name: "x", Processor: "teleport"}))
	assert.ErrorIs(t, err, agent.ErrUnknownProcessor)
	var appErr *ApplicationError
	assert.True(t, errors.As(err, &appErr))
}

func TestMetricsAndTracing(t *testing.T) {
	reg := prometheus.NewRegistry()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	app := newTestApp(t, nil, WithPrometheusRegistry(reg), WithTracerProvider(tp))
	_, err := submit(t, app, "trace me")
	require.NoError(t, err)

	count, err := testutil.GatherAndCount(reg, "conductor_workflow_steps_routed_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	count, err = testutil.GatherAndCount(reg, "conductor_actor_spawned_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	var names []string
	for _, span := range recorder.Ended() {
		names = append(names, span.Name())
	}
	assert.Contains(t, names, "workflow.run")
	assert.Contains(t, names, "actor.receive")
}

func TestMetricsServer(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Monitor.Enabled = true
	cfg.Monitor.HTTP.Port = 0

	app := newTestApp(t, cfg)
	assert.Equal(t, []string{"metrics", "runtime"}, app.Lifecycle().Services())
	addr := app.MetricsAddr()
	require.NotEmpty(t, addr)

	_, err := submit(t, app, "scrape")
	require.NoError(t, err)

	resp, err := http.Get("http://" + addr + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "conductor_workflow_completed_total 1")

	resp, err = http.Get("http://" + addr + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var health map[string]HealthStatus
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, HealthHealthy, health["runtime"].State)
	assert.Equal(t, HealthHealthy, health["metrics"].State)
}

func TestIngressServer(t *testing.T) {
	cfg := workflowConfig([]string{"shout", "mirror"},
		config.AgentConfig{Name: "shout", Processor: "upper"},
		config.AgentConfig{Name: "mirror", Processor: "reverse"},
	)
	cfg.Ingress.Enabled = true
	cfg.Ingress.Port = 0

	app := newTestApp(t, cfg)
	assert.Equal(t, []string{"ingress", "runtime"}, app.Lifecycle().Services())
	addr := app.IngressAddr()
	require.NotEmpty(t, addr)

	conn, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))
	reader := bufio.NewReader(conn)

	request := func(line string) string {
		_, err := fmt.Fprintln(conn, line)
		require.NoError(t, err)
		reply, err := reader.ReadString('\n')
		require.NoError(t, err)
		return strings.TrimSpace(reply)
	}

	assert.Equal(t, "OK CBA", request("abc"))
	assert.Equal(t, "OK DLROW", request("world"))

	health, err := app.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, HealthHealthy, health["ingress"].State)
	assert.EqualValues(t, 2, health["ingress"].Data["requests"])
}

func TestIngressReportsRunErrors(t *testing.T) {
	cfg := workflowConfig([]string{"broken"}, config.AgentConfig{Name: "broken", Processor: "fail"})
	cfg.Workflow.Supervisor.Strategy = "escalate"
	cfg.Ingress.Enabled = true
	cfg.Ingress.Port = 0

	app := newTestApp(t, cfg)

	conn, err := net.DialTimeout("tcp", app.IngressAddr(), time.Second)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))

	_, err = fmt.Fprintln(conn, "x")
	require.NoError(t, err)
	reply, err := bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(reply, "ERR "), reply)
}

func TestConfigReloadAppliesToNewRuns(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "conductor.yaml")
	writeConfig := func(level, processor string) {
		content := fmt.Sprintf(`log:
  level: %s
workflow:
  steps: [step]
  agents:
    - name: step
      processor: %s
`, level, processor)
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	writeConfig("info", "upper")

	provider, err := config.NewFileProvider(path, zaptest.NewLogger(t))
	require.NoError(t, err)
	cfg, err := provider.Load()
	require.NoError(t, err)

	logger, atom, err := logging.New(config.LogConfig{Level: cfg.Log.Level, Output: "stderr"})
	require.NoError(t, err)
	app := newTestApp(t, cfg, WithLogger(logger), WithAtomicLevel(atom), WithConfigProvider(provider))

	result, err := submit(t, app, "abc")
	require.NoError(t, err)
	assert.Equal(t, "ABC", result.Output)

	writeConfig("debug", "reverse")
	require.Eventually(t, func() bool {
		return app.Config().Workflow.Agents[0].Processor == "reverse"
	}, 3*time.Second, 20*time.Millisecond)
	assert.Equal(t, zap.DebugLevel, atom.Level())

	result, err = submit(t, app, "abc")
	require.NoError(t, err)
	assert.Equal(t, "cba", result.Output)

	health, err := app.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, HealthHealthy, health["config-watcher"].State)
	assert.GreaterOrEqual(t, health["config-watcher"].Data["reloads"], 1)
}

func TestShutdownStopsRuntime(t *testing.T) {
	app, err := New(nil, WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	require.NoError(t, app.Start(context.Background()))
	require.NoError(t, app.Shutdown(context.Background()))

	_, err = app.Submit(context.Background(), "late")
	assert.ErrorIs(t, err, core.ErrSystemStopping)
	assert.True(t, strings.Contains(err.Error(), "spawn orchestrator"))
}
