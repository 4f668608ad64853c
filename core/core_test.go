package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap/zaptest"
)

const waitFor = 2 * time.Second

// recorder forwards user payloads and Terminated notices to ch.
func recorder(ch chan<- any) BehaviorFunc {
	return func(c *Context, msg *Message) (Behavior, error) {
		switch p := msg.Payload.(type) {
		case Terminated:
			ch <- p
		case Started, Rejected:
		default:
			ch <- p
		}
		return nil, nil
	}
}

func newTestSystem(t *testing.T, opts ...Option) *System {
	t.Helper()
	opts = append([]Option{WithLogger(zaptest.NewLogger(t))}, opts...)
	s := NewSystem(opts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		_ = s.Shutdown(ctx)
	})
	return s
}

func receive(t *testing.T, ch <-chan any) any {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func waitDone(t *testing.T, a Actor) {
	t.Helper()
	select {
	case <-a.Done():
	case <-time.After(waitFor):
		t.Fatalf("actor %s did not terminate", a.Name())
	}
}

func TestSpawnDefaults(t *testing.T) {
	s := newTestSystem(t)

	a, err := s.Spawn(recorder(make(chan any, 1)), ActorOptions{})
	require.NoError(t, err)

	assert.Equal(t, "actor-1", a.Name())
	found, ok := s.Lookup(a.ID())
	require.True(t, ok)
	assert.Equal(t, a.ID(), found.ID())

	_, err = s.Spawn(nil, ActorOptions{})
	assert.ErrorIs(t, err, ErrNilBehavior)
}

func TestActorProcessesInSendOrder(t *testing.T) {
	s := newTestSystem(t)
	ch := make(chan any, 1000)

	a, err := s.Spawn(recorder(ch), ActorOptions{Name: "fifo"})
	require.NoError(t, err)

	for i := 0; i < 1000; i++ {
		require.NoError(t, a.Send(NewMessage(i)))
	}
	for i := 0; i < 1000; i++ {
		assert.Equal(t, i, receive(t, ch))
	}

	require.Eventually(t, func() bool {
		return a.Stats().MessagesProcessed == 1001 // Started + 1000
	}, waitFor, 5*time.Millisecond)
}

func TestActorConcurrentSendersExactlyOnce(t *testing.T) {
	const senders = 20
	const perSender = 200

	s := newTestSystem(t)
	ch := make(chan any, senders*perSender)

	a, err := s.Spawn(recorder(ch), ActorOptions{Name: "sink"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < senders; i++ {
		wg.Add(1)
		go func(sender int) {
			defer wg.Done()
			for j := 0; j < perSender; j++ {
				_ = a.Send(NewMessage([2]int{sender, j}))
			}
		}(i)
	}
	wg.Wait()

	seen := make(map[[2]int]bool)
	next := make(map[int]int)
	for n := 0; n < senders*perSender; n++ {
		key := receive(t, ch).([2]int)
		require.False(t, seen[key], "duplicate delivery of %v", key)
		seen[key] = true
		require.Equal(t, next[key[0]], key[1], "sender %d out of order", key[0])
		next[key[0]]++
	}
	assert.Len(t, seen, senders*perSender)
}

func TestBehaviorBecome(t *testing.T) {
	s := newTestSystem(t)
	ch := make(chan any, 10)

	// counter threads its state through the returned behavior
	var counter func(n int) BehaviorFunc
	counter = func(n int) BehaviorFunc {
		return func(c *Context, msg *Message) (Behavior, error) {
			if msg.IsSystem() {
				return nil, nil
			}
			ch <- n + 1
			return counter(n + 1), nil
		}
	}

	a, err := s.Spawn(counter(0), ActorOptions{})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, a.Send(NewMessage("tick")))
	}
	assert.Equal(t, 1, receive(t, ch))
	assert.Equal(t, 2, receive(t, ch))
	assert.Equal(t, 3, receive(t, ch))
}

func TestActorCrashOnError(t *testing.T) {
	s := newTestSystem(t)
	boom := errors.New("boom")

	a, err := s.Spawn(BehaviorFunc(func(c *Context, msg *Message) (Behavior, error) {
		if msg.Payload == "crash" {
			return nil, boom
		}
		return nil, nil
	}), ActorOptions{Name: "fragile"})
	require.NoError(t, err)

	require.NoError(t, a.Send(NewMessage("crash")))
	require.NoError(t, a.Send(NewMessage("never processed")))
	waitDone(t, a)

	var failure *ActorFailure
	require.ErrorAs(t, a.Err(), &failure)
	assert.Equal(t, a.ID(), failure.ID)
	assert.Equal(t, "fragile", failure.Name)
	assert.ErrorIs(t, a.Err(), boom)
	assert.Equal(t, ActorStateFailed, a.Stats().State)

	assert.ErrorIs(t, a.Send(NewMessage("late")), ErrActorStopped)
	_, ok := s.Lookup(a.ID())
	assert.False(t, ok)
}

func TestActorCrashOnPanic(t *testing.T) {
	s := newTestSystem(t)

	a, err := s.Spawn(BehaviorFunc(func(c *Context, msg *Message) (Behavior, error) {
		if !msg.IsSystem() {
			panic("bad state")
		}
		return nil, nil
	}), ActorOptions{Name: "panicky"})
	require.NoError(t, err)

	require.NoError(t, a.Send(NewMessage("x")))
	waitDone(t, a)

	var failure *ActorFailure
	require.ErrorAs(t, a.Err(), &failure)
	assert.Equal(t, "bad state", failure.Panic)
	assert.NotEmpty(t, failure.Stack)
}

func TestMonitorReceivesTerminated(t *testing.T) {
	s := newTestSystem(t)
	watched := make(chan any, 10)

	watcher, err := s.Spawn(recorder(watched), ActorOptions{Name: "watcher"})
	require.NoError(t, err)

	target, err := s.Spawn(BehaviorFunc(func(c *Context, msg *Message) (Behavior, error) {
		if msg.Payload == "die" {
			return nil, errors.New("died")
		}
		return nil, nil
	}), ActorOptions{Name: "target"})
	require.NoError(t, err)

	require.NoError(t, s.Monitor(watcher, target))
	require.NoError(t, target.Send(NewMessage("die")))

	term, ok := receive(t, watched).(Terminated)
	require.True(t, ok)
	assert.Equal(t, target.ID(), term.ID)
	assert.Equal(t, "target", term.Name)
	var failure *ActorFailure
	assert.ErrorAs(t, term.Reason, &failure)

	// the watcher is unaffected by the crash
	require.NoError(t, watcher.Send(NewMessage("still here")))
	assert.Equal(t, "still here", receive(t, watched))
}

func TestMonitorAfterTermination(t *testing.T) {
	s := newTestSystem(t)
	watched := make(chan any, 10)

	watcher, err := s.Spawn(recorder(watched), ActorOptions{})
	require.NoError(t, err)
	target, err := s.Spawn(recorder(make(chan any, 1)), ActorOptions{})
	require.NoError(t, err)

	require.NoError(t, target.Stop())
	waitDone(t, target)

	require.NoError(t, s.Monitor(watcher, target))
	term := receive(t, watched).(Terminated)
	assert.NoError(t, term.Reason)
}

type foreignActor struct{ Actor }

func TestMonitorForeignActor(t *testing.T) {
	s := newTestSystem(t)
	a, err := s.Spawn(recorder(make(chan any, 1)), ActorOptions{})
	require.NoError(t, err)

	assert.ErrorIs(t, s.Monitor(a, foreignActor{}), ErrUnknownActor)
	assert.ErrorIs(t, s.Monitor(foreignActor{}, a), ErrUnknownActor)
}

func TestStopDrainsQueuedMessages(t *testing.T) {
	s := newTestSystem(t)
	ch := make(chan any, 10)
	release := make(chan struct{})

	a, err := s.Spawn(BehaviorFunc(func(c *Context, msg *Message) (Behavior, error) {
		if msg.IsSystem() {
			return nil, nil
		}
		<-release
		ch <- msg.Payload
		return nil, nil
	}), ActorOptions{})
	require.NoError(t, err)

	require.NoError(t, a.Send(NewMessage(1)))
	require.NoError(t, a.Send(NewMessage(2)))
	require.NoError(t, a.Stop())
	assert.Equal(t, ActorStateStopping, a.Stats().State)
	close(release)

	waitDone(t, a)
	assert.NoError(t, a.Err())
	assert.Equal(t, 1, receive(t, ch))
	assert.Equal(t, 2, receive(t, ch))
	assert.Equal(t, ActorStateStopped, a.Stats().State)
	assert.ErrorIs(t, a.Stop(), ErrActorStopped)
}

func TestChildrenStopWithParent(t *testing.T) {
	s := newTestSystem(t)
	children := make(chan Actor, 1)

	parent, err := s.Spawn(BehaviorFunc(func(c *Context, msg *Message) (Behavior, error) {
		switch msg.Payload.(type) {
		case Started:
			child, err := c.Spawn(recorder(make(chan any, 1)), ActorOptions{Name: "child"})
			if err != nil {
				return nil, err
			}
			children <- child
		case string:
			return nil, errors.New("parent failed")
		}
		return nil, nil
	}), ActorOptions{Name: "parent"})
	require.NoError(t, err)

	var child Actor
	select {
	case child = <-children:
	case <-time.After(waitFor):
		t.Fatal("child not spawned")
	}

	require.NoError(t, parent.Send(NewMessage("fail")))
	waitDone(t, parent)
	waitDone(t, child)
	assert.NoError(t, child.Err())
}

func TestContextSendPropagatesCorrelation(t *testing.T) {
	s := newTestSystem(t)
	out := make(chan *Message, 1)

	sink, err := s.Spawn(BehaviorFunc(func(c *Context, msg *Message) (Behavior, error) {
		if !msg.IsSystem() {
			out <- msg
		}
		return nil, nil
	}), ActorOptions{Name: "sink"})
	require.NoError(t, err)

	relay, err := s.Spawn(BehaviorFunc(func(c *Context, msg *Message) (Behavior, error) {
		if msg.IsSystem() {
			return nil, nil
		}
		return nil, c.Send(sink, "relayed")
	}), ActorOptions{Name: "relay"})
	require.NoError(t, err)

	msg := NewMessage("original")
	msg.CorrelationID = "run-1"
	require.NoError(t, relay.Send(msg))

	select {
	case got := <-out:
		assert.Equal(t, "relayed", got.Payload)
		assert.Equal(t, "run-1", got.CorrelationID)
		require.NotNil(t, got.Sender)
		assert.Equal(t, relay.ID(), got.Sender.ID())
	case <-time.After(waitFor):
		t.Fatal("relayed message not delivered")
	}
}

func TestReplyWithoutSender(t *testing.T) {
	s := newTestSystem(t)
	errs := make(chan error, 1)

	a, err := s.Spawn(BehaviorFunc(func(c *Context, msg *Message) (Behavior, error) {
		if !msg.IsSystem() {
			errs <- c.Reply("pong")
		}
		return nil, nil
	}), ActorOptions{})
	require.NoError(t, err)

	require.NoError(t, a.Send(NewMessage("ping")))
	select {
	case err := <-errs:
		assert.ErrorIs(t, err, ErrNoSender)
	case <-time.After(waitFor):
		t.Fatal("no reply attempt")
	}
}

func TestProcessTimeout(t *testing.T) {
	s := newTestSystem(t, WithDefaultActorOptions(ActorOptions{ProcessTimeout: 20 * time.Millisecond}))

	a, err := s.Spawn(BehaviorFunc(func(c *Context, msg *Message) (Behavior, error) {
		if msg.IsSystem() {
			return nil, nil
		}
		<-c.Context().Done()
		return nil, c.Context().Err()
	}), ActorOptions{})
	require.NoError(t, err)

	require.NoError(t, a.Send(NewMessage("slow")))
	waitDone(t, a)
	assert.ErrorIs(t, a.Err(), context.DeadlineExceeded)
}

func TestBoundedActorMailbox(t *testing.T) {
	s := newTestSystem(t)
	block := make(chan struct{})
	defer close(block)

	a, err := s.Spawn(BehaviorFunc(func(c *Context, msg *Message) (Behavior, error) {
		if !msg.IsSystem() {
			<-block
		}
		return nil, nil
	}), ActorOptions{MailboxLimit: 1})
	require.NoError(t, err)

	require.NoError(t, a.Send(NewMessage(1)))
	require.Eventually(t, func() bool {
		return a.Stats().State == ActorStateRunning
	}, waitFor, time.Millisecond)

	require.NoError(t, a.Send(NewMessage(2)))
	assert.ErrorIs(t, a.Send(NewMessage(3)), ErrMailboxFull)
}

func TestSystemShutdown(t *testing.T) {
	s := NewSystem(WithLogger(zaptest.NewLogger(t)))

	var actors []Actor
	for i := 0; i < 5; i++ {
		a, err := s.Spawn(recorder(make(chan any, 10)), ActorOptions{})
		require.NoError(t, err)
		actors = append(actors, a)
	}
	assert.Len(t, s.Stats(), 5)

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))

	for _, a := range actors {
		waitDone(t, a)
	}
	assert.Empty(t, s.Stats())

	_, err := s.Spawn(recorder(make(chan any, 1)), ActorOptions{})
	assert.ErrorIs(t, err, ErrSystemStopping)
}

func TestSystemShutdownForcesStuckActors(t *testing.T) {
	s := NewSystem(WithLogger(zaptest.NewLogger(t)))
	entered := make(chan struct{})

	a, err := s.Spawn(BehaviorFunc(func(c *Context, msg *Message) (Behavior, error) {
		if msg.IsSystem() {
			return nil, nil
		}
		close(entered)
		<-c.Context().Done()
		return nil, nil
	}), ActorOptions{})
	require.NoError(t, err)
	require.NoError(t, a.Send(NewMessage("hold")))
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Shutdown(ctx), context.DeadlineExceeded)
	waitDone(t, a)
}

func TestMetricsAndTracing(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	recorderSpans := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorderSpans))

	s := newTestSystem(t, WithMetrics(metrics), WithTracer(provider.Tracer("test")))
	ch := make(chan any, 10)

	a, err := s.Spawn(recorder(ch), ActorOptions{Name: "traced"})
	require.NoError(t, err)

	msg := NewMessage("hello")
	msg.CorrelationID = "run-42"
	require.NoError(t, a.Send(msg))
	assert.Equal(t, "hello", receive(t, ch))

	require.NoError(t, a.Stop())
	waitDone(t, a)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ActorsSpawned))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ActorsTerminated.WithLabelValues("stopped")))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.ActorsLive))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.MessagesProcessed.WithLabelValues("ok")))

	require.Eventually(t, func() bool {
		return len(recorderSpans.Ended()) == 2
	}, waitFor, 5*time.Millisecond)

	var found bool
	for _, span := range recorderSpans.Ended() {
		assert.Equal(t, "actor.receive", span.Name())
		for _, kv := range span.Attributes() {
			if kv.Key == "message.correlation_id" && kv.Value.AsString() == "run-42" {
				found = true
			}
		}
	}
	assert.True(t, found, "span for the user message carries the correlation id")
}
